package handler

import (
	"context"
	"net/http"
	"strconv"

	"recruitment-hitos/internal/milestone"
	"recruitment-hitos/pkg/rbac"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// DashboardService is implemented by *milestone.Dashboard.
type DashboardService interface {
	Overdue(ctx context.Context, f milestone.ViewFilter) ([]milestone.Item, error)
	DueSoon(ctx context.Context, f milestone.ViewFilter) ([]milestone.Item, error)
	Pending(ctx context.Context, f milestone.ViewFilter) ([]milestone.Item, error)
	Completed(ctx context.Context, f milestone.ViewFilter) ([]milestone.Item, error)
	Board(ctx context.Context, f milestone.ViewFilter) (*milestone.Board, error)
}

type DashboardHandler struct {
	svc    DashboardService
	logger *zap.Logger
}

func NewDashboardHandler(svc DashboardService, logger *zap.Logger) *DashboardHandler {
	return &DashboardHandler{svc: svc, logger: logger}
}

// filter applies the consultant filter rule: admins see everyone unless they
// ask for a consultant, everyone else sees only their own processes.
func (h *DashboardHandler) filter(c *gin.Context) (milestone.ViewFilter, bool) {
	p, ok := PrincipalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return milestone.ViewFilter{}, false
	}

	var requested int64
	if raw := c.Query("consultant_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid consultant_id"})
			return milestone.ViewFilter{}, false
		}
		requested = id
	}

	consultantID, err := rbac.ResolveConsultantFilter(p, requested)
	if err != nil {
		writeError(c, h.logger, "DashboardFilter", err)
		return milestone.ViewFilter{}, false
	}
	return milestone.ViewFilter{ConsultantID: consultantID}, true
}

func (h *DashboardHandler) list(c *gin.Context, op string, fn func(context.Context, milestone.ViewFilter) ([]milestone.Item, error)) {
	f, ok := h.filter(c)
	if !ok {
		return
	}
	items, err := fn(c.Request.Context(), f)
	if err != nil {
		writeError(c, h.logger, op, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

func (h *DashboardHandler) Overdue(c *gin.Context) { h.list(c, "Overdue", h.svc.Overdue) }
func (h *DashboardHandler) DueSoon(c *gin.Context) { h.list(c, "DueSoon", h.svc.DueSoon) }
func (h *DashboardHandler) Pending(c *gin.Context) { h.list(c, "Pending", h.svc.Pending) }
func (h *DashboardHandler) Completed(c *gin.Context) { h.list(c, "Completed", h.svc.Completed) }

func (h *DashboardHandler) Board(c *gin.Context) {
	f, ok := h.filter(c)
	if !ok {
		return
	}
	b, err := h.svc.Board(c.Request.Context(), f)
	if err != nil {
		writeError(c, h.logger, "Dashboard", err)
		return
	}
	c.JSON(http.StatusOK, b)
}
