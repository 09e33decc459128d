package scheduler

import (
	"context"
	"fmt"
	"time"

	"recruitment-hitos/pkg/logger"
	"recruitment-hitos/pkg/trace"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is a periodic task. Each run gets its own trace id and timeout.
type Job struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

type Scheduler struct {
	cronEngine *cron.Cron
	jobs       []Job
	logger     *zap.Logger
}

func New(loc *time.Location, logger *zap.Logger) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{
		cronEngine: cron.New(cron.WithLocation(loc)),
		logger:     logger,
	}
}

// Add registers a job; jobs with an empty spec are skipped.
func (s *Scheduler) Add(job Job) {
	if job.Spec == "" {
		s.logger.Info("Cron job disabled", zap.String("job", job.Name))
		return
	}
	s.jobs = append(s.jobs, job)
}

// Start validates every spec and starts the cron engine.
func (s *Scheduler) Start() error {
	for _, job := range s.jobs {
		if _, err := s.cronEngine.AddFunc(job.Spec, func() { s.runJob(job) }); err != nil {
			return fmt.Errorf("add cron job %s (%q): %w", job.Name, job.Spec, err)
		}
		s.logger.Info("Cron job scheduled", zap.String("job", job.Name), zap.String("spec", job.Spec))
	}
	s.cronEngine.Start()
	s.logger.Info("Scheduler started", zap.Int("jobs", len(s.jobs)))
	return nil
}

// Stop waits for running jobs to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cronEngine.Stop().Done()
	select {
	case <-done:
		s.logger.Info("Scheduler stopped")
	case <-ctx.Done():
		s.logger.Warn("Scheduler stop timed out")
	}
}

func (s *Scheduler) runJob(job Job) {
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	ctx, _ = trace.Ensure(ctx)
	log := logger.WithTrace(ctx, s.logger).With(zap.String("job", job.Name))

	defer func() {
		if r := recover(); r != nil {
			log.Error("Cron job panicked", zap.Any("panic", r))
		}
	}()

	start := time.Now()
	if err := job.Run(ctx); err != nil {
		log.Error("Cron job failed", zap.Duration("took", time.Since(start)), zap.Error(err))
		return
	}
	log.Info("Cron job finished", zap.Duration("took", time.Since(start)))
}
