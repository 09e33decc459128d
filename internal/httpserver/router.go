package httpserver

import (
	"context"
	"net/http"
	"time"

	"recruitment-hitos/internal/handler"
	"recruitment-hitos/pkg/rbac"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ConnectionChecker is satisfied by *mq.Consumer.
type ConnectionChecker interface {
	IsConnected() bool
}

type Deps struct {
	Milestones *handler.MilestoneHandler
	Dashboard  *handler.DashboardHandler
	Admin      *handler.AdminHandler // nil without a postgres outbox
	JWTSecret  string
	DB         Pinger
	Consumers  []ConnectionChecker
	Logger     *zap.Logger
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(TraceMiddleware())
	r.Use(RequestLogger(d.Logger))

	// Health endpoints (放在最前面)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 1*time.Second)
		defer cancel()

		if d.DB != nil {
			if err := d.DB.Ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_not_ready", "error": err.Error()})
				return
			}
		}
		for _, consumer := range d.Consumers {
			if consumer != nil && !consumer.IsConnected() {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "mq_not_ready"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Protected
	auth := r.Group("/")
	auth.Use(AuthMiddleware(d.JWTSecret))
	{
		auth.POST("/processes/:id/milestones", RequirePermission(rbac.PermissionInstantiate), d.Milestones.Instantiate)
		auth.POST("/processes/:id/events", RequirePermission(rbac.PermissionActivateMilestone), d.Milestones.Activate)
		auth.GET("/processes/:id/milestones", RequirePermission(rbac.PermissionReadOwnMilestones), d.Milestones.List)
		auth.POST("/milestones/:id/complete", RequirePermission(rbac.PermissionCompleteMilestone), d.Milestones.Complete)
		auth.POST("/milestones/:id/reopen", RequirePermission(rbac.PermissionReopenMilestone), d.Milestones.Reopen)

		auth.GET("/alerts/overdue", d.Dashboard.Overdue)
		auth.GET("/alerts/due-soon", d.Dashboard.DueSoon)
		auth.GET("/alerts/pending", d.Dashboard.Pending)
		auth.GET("/alerts/completed", d.Dashboard.Completed)
		auth.GET("/dashboard", d.Dashboard.Board)
	}

	if d.Admin != nil {
		admin := auth.Group("/admin", RequirePermission(rbac.PermissionReplayOutbox))
		admin.POST("/outbox/replay", d.Admin.ReplayOutboxEvent)
		admin.POST("/outbox/replay-failed", d.Admin.ReplayFailedEvents)
	}

	return r
}
