package handler

import (
	"errors"
	"net/http"
	"strconv"

	"recruitment-hitos/internal/milestone"
	"recruitment-hitos/pkg/logger"
	"recruitment-hitos/pkg/rbac"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PrincipalKey is the gin context key holding the authenticated rbac.Principal.
const PrincipalKey = "principal"

// PrincipalFrom returns the caller set by the auth middleware.
func PrincipalFrom(c *gin.Context) (rbac.Principal, bool) {
	v, ok := c.Get(PrincipalKey)
	if !ok {
		return rbac.Principal{}, false
	}
	p, ok := v.(rbac.Principal)
	return p, ok
}

func parseID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

// writeError maps engine error kinds onto HTTP statuses.
func writeError(c *gin.Context, log *zap.Logger, op string, err error) {
	log = logger.WithTrace(c.Request.Context(), log)

	var denied *rbac.PermissionDeniedError
	if errors.As(err, &denied) {
		log.Warn(op+": permission denied", zap.Error(err))
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}

	kind := milestone.KindOf(err)
	switch kind {
	case milestone.KindNotFound:
		log.Warn(op+": not found", zap.Error(err))
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "kind": kind.String()})
	case milestone.KindInvalidState:
		log.Warn(op+": invalid state", zap.Error(err))
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "kind": kind.String()})
	case milestone.KindConfiguration:
		log.Error(op+": configuration error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "kind": kind.String()})
	default:
		log.Error(op+": failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "kind": kind.String()})
	}
}
