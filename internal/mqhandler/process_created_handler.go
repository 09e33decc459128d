package mqhandler

import (
	"context"
	"encoding/json"
	"errors"

	"recruitment-hitos/contracts/mq"
	"recruitment-hitos/internal/milestone"
	"recruitment-hitos/pkg/logger"

	"go.uber.org/zap"
)

const processCreatedHandlerName = "process_created_milestones"

var errMissingProcess = errors.New("process created payload requires process_id and service_type_code")

type ProcessCreatedHandler struct {
	engine    MilestoneEngine
	registrar ProcessRegistrar
	deduper   Deduper
	logger    *zap.Logger
}

// NewProcessCreatedHandler builds the handler; registrar may be nil when the
// store reads processes from the recruitment database.
func NewProcessCreatedHandler(engine MilestoneEngine, registrar ProcessRegistrar, deduper Deduper, logger *zap.Logger) *ProcessCreatedHandler {
	return &ProcessCreatedHandler{
		engine:    engine,
		registrar: registrar,
		deduper:   deduper,
		logger:    logger,
	}
}

// Handle -- 为新流程生成里程碑并以创建时间激活首个里程碑
func (h *ProcessCreatedHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	log := logger.WithTrace(ctx, h.logger)

	var p mq.ProcessCreatedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Error("Failed to unmarshal process created payload", zap.Error(err))
		return err
	}
	if p.ProcessID == 0 || p.ServiceTypeCode == "" {
		log.Error("Process created payload missing process or service type",
			zap.Int64("process_id", p.ProcessID),
			zap.String("service_type", p.ServiceTypeCode),
		)
		return errMissingProcess
	}

	if h.deduper.Seen(ctx, processCreatedHandlerName, p.EventID) {
		log.Info("Skipping duplicate process created event", zap.String("event_id", p.EventID))
		return nil
	}

	if h.registrar != nil {
		h.registrar.AddProcess(milestone.Process{
			ID:              p.ProcessID,
			Name:            p.Name,
			ServiceTypeCode: p.ServiceTypeCode,
			ClientID:        p.ClientID,
			ClientName:      p.ClientName,
			ConsultantID:    p.ConsultantID,
			ConsultantName:  p.ConsultantName,
		})
	}

	res, err := h.engine.StartProcess(ctx, p.ProcessID, p.ServiceTypeCode, p.CreatedAt)
	if err != nil {
		log.Error("Failed to start process milestones",
			zap.Int64("process_id", p.ProcessID),
			zap.String("service_type", p.ServiceTypeCode),
			zap.String("kind", milestone.KindOf(err).String()),
			zap.Error(err),
		)
		return err
	}
	h.deduper.MarkDone(ctx, processCreatedHandlerName, p.EventID)

	log.Info("Process milestones ready",
		zap.Int64("process_id", p.ProcessID),
		zap.Int("created", len(res.Created)),
		zap.Int("activated", len(res.Activated)),
	)
	return nil
}
