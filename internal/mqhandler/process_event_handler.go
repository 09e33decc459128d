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

const processEventHandlerName = "process_event_activation"

type ProcessEventHandler struct {
	engine  MilestoneEngine
	deduper Deduper
	logger  *zap.Logger
}

func NewProcessEventHandler(engine MilestoneEngine, deduper Deduper, logger *zap.Logger) *ProcessEventHandler {
	return &ProcessEventHandler{
		engine:  engine,
		deduper: deduper,
		logger:  logger,
	}
}

// Handle -- 根据流程管理事件激活对应里程碑
func (h *ProcessEventHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	log := logger.WithTrace(ctx, h.logger)

	var p mq.ProcessEventPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Error("Failed to unmarshal process event payload", zap.Error(err))
		return err
	}

	kind, err := milestone.ParseTriggerKind(p.Kind)
	if err != nil {
		log.Error("Unsupported process event kind",
			zap.Int64("process_id", p.ProcessID),
			zap.String("kind", p.Kind),
		)
		return err
	}

	if h.deduper.Seen(ctx, processEventHandlerName, p.EventID) {
		log.Info("Skipping duplicate process event", zap.String("event_id", p.EventID))
		return nil
	}

	activated, err := h.engine.ActivateByEvent(ctx, p.ProcessID, milestone.Event{
		Kind: kind,
		Name: p.Name,
		At:   p.OccurredAt,
	})
	if errors.Is(err, milestone.ErrNoMatchingTrigger) {
		log.Warn("Process event matched no inert milestone",
			zap.Int64("process_id", p.ProcessID),
			zap.String("kind", p.Kind),
			zap.String("name", p.Name),
		)
		h.deduper.MarkDone(ctx, processEventHandlerName, p.EventID)
		return nil
	}
	if err != nil {
		log.Error("Failed to activate milestones for process event",
			zap.Int64("process_id", p.ProcessID),
			zap.String("kind", p.Kind),
			zap.Error(err),
		)
		return err
	}
	h.deduper.MarkDone(ctx, processEventHandlerName, p.EventID)

	log.Info("Milestones activated by process event",
		zap.Int64("process_id", p.ProcessID),
		zap.String("kind", p.Kind),
		zap.String("name", p.Name),
		zap.Int("activated", len(activated)),
	)
	return nil
}
