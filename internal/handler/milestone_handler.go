package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"recruitment-hitos/internal/milestone"
	"recruitment-hitos/pkg/rbac"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// MilestoneService is implemented by *milestone.Engine.
type MilestoneService interface {
	Instantiate(ctx context.Context, processID int64, serviceType string) ([]milestone.Milestone, error)
	ActivateByEvent(ctx context.Context, processID int64, ev milestone.Event) ([]milestone.Milestone, error)
	CompleteMilestone(ctx context.Context, id int64, at time.Time) (*milestone.Completion, error)
	ReopenMilestone(ctx context.Context, id int64) (*milestone.Milestone, error)
	ListProcessMilestones(ctx context.Context, processID, consultantID int64) ([]milestone.Milestone, error)
	Classify(m *milestone.Milestone) milestone.State
}

type MilestoneHandler struct {
	svc    MilestoneService
	logger *zap.Logger
}

func NewMilestoneHandler(svc MilestoneService, logger *zap.Logger) *MilestoneHandler {
	return &MilestoneHandler{svc: svc, logger: logger}
}

type classifiedMilestone struct {
	milestone.Milestone
	State milestone.State `json:"state"`
}

func (h *MilestoneHandler) withStates(ms []milestone.Milestone) []classifiedMilestone {
	out := make([]classifiedMilestone, 0, len(ms))
	for i := range ms {
		out = append(out, classifiedMilestone{Milestone: ms[i], State: h.svc.Classify(&ms[i])})
	}
	return out
}

type instantiateRequest struct {
	ServiceType string `json:"service_type" binding:"required"`
}

func (h *MilestoneHandler) Instantiate(c *gin.Context) {
	processID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req instantiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "service_type required"})
		return
	}

	ms, err := h.svc.Instantiate(c.Request.Context(), processID, req.ServiceType)
	if err != nil {
		writeError(c, h.logger, "Instantiate", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"milestones": h.withStates(ms)})
}

type activateRequest struct {
	Kind       string     `json:"kind" binding:"required"`
	Name       string     `json:"name"`
	OccurredAt *time.Time `json:"occurred_at"`
}

func (h *MilestoneHandler) Activate(c *gin.Context) {
	processID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req activateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind required"})
		return
	}

	ev := milestone.Event{Kind: milestone.TriggerKind(req.Kind), Name: req.Name}
	if req.OccurredAt != nil {
		ev.At = *req.OccurredAt
	}
	ms, err := h.svc.ActivateByEvent(c.Request.Context(), processID, ev)
	if err != nil {
		writeError(c, h.logger, "Activate", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"activated": h.withStates(ms)})
}

func (h *MilestoneHandler) List(c *gin.Context) {
	processID, ok := parseID(c, "id")
	if !ok {
		return
	}
	p, ok := PrincipalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}
	consultantID, err := rbac.ResolveConsultantFilter(p, 0)
	if err != nil {
		writeError(c, h.logger, "ListMilestones", err)
		return
	}

	ms, err := h.svc.ListProcessMilestones(c.Request.Context(), processID, consultantID)
	if err != nil {
		writeError(c, h.logger, "ListMilestones", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"milestones": h.withStates(ms)})
}

type completeRequest struct {
	CompletedAt *time.Time `json:"completed_at"`
}

func (h *MilestoneHandler) Complete(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req completeRequest
	if hasBody(c.Request) {
		// 分块传输时 ContentLength 为 -1，空 body 视为未指定完成时间
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid completed_at"})
			return
		}
	}
	var at time.Time
	if req.CompletedAt != nil {
		at = *req.CompletedAt
	}

	res, err := h.svc.CompleteMilestone(c.Request.Context(), id, at)
	if err != nil {
		writeError(c, h.logger, "CompleteMilestone", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"completed": classifiedMilestone{Milestone: res.Completed, State: h.svc.Classify(&res.Completed)},
		"activated": h.withStates(res.Activated),
	})
}

func (h *MilestoneHandler) Reopen(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	m, err := h.svc.ReopenMilestone(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.logger, "ReopenMilestone", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"milestone": classifiedMilestone{Milestone: *m, State: h.svc.Classify(m)}})
}

func hasBody(r *http.Request) bool {
	return r.Body != nil && r.Body != http.NoBody
}
