package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"recruitment-hitos/pkg/circuitbreaker"
	"recruitment-hitos/pkg/metrics"

	"go.uber.org/zap"
)

// HTTPSource fetches holidays from GET {baseURL}/{year}, which answers with a
// JSON array of {"date": "YYYY-MM-DD", "name": "..."}.
type HTTPSource struct {
	baseURL string
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewHTTPSource(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPSource {
	cbConfig := circuitbreaker.DefaultConfig()
	cbConfig.OnStateChange = func(from, to circuitbreaker.State) {
		logger.Warn("Calendar circuit breaker state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}

	return &HTTPSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		breaker: circuitbreaker.NewCircuitBreaker(cbConfig),
		logger:  logger,
	}
}

// Fetch returns the holidays of year. Every failure, including an open
// breaker, is reported as ErrUnavailable.
func (s *HTTPSource) Fetch(ctx context.Context, year int) ([]Holiday, error) {
	start := time.Now()
	var holidays []Holiday

	err := s.breaker.Execute(func() error {
		var err error
		holidays, err = s.fetch(ctx, year)
		return err
	})

	status := "ok"
	if err != nil {
		status = "error"
		if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) {
			status = "breaker_open"
		}
	}
	metrics.RecordCalendarFetch(status, time.Since(start))

	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return holidays, nil
}

func (s *HTTPSource) fetch(ctx context.Context, year int) ([]Holiday, error) {
	url := fmt.Sprintf("%s/%d", s.baseURL, year)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var holidays []Holiday
	if err := json.NewDecoder(resp.Body).Decode(&holidays); err != nil {
		return nil, fmt.Errorf("decode holidays for %d: %w", year, err)
	}
	return holidays, nil
}
