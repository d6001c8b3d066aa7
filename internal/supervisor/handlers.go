package supervisor

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/gitwarden/gitwarden/internal/common/errors"
	"github.com/gitwarden/gitwarden/internal/common/logger"
)

// Handler provides HTTP handlers for supervisor operations.
type Handler struct {
	supervisor *Supervisor
	logger     *logger.Logger
}

// NewHandler creates a new supervisor handler.
func NewHandler(sup *Supervisor, log *logger.Logger) *Handler {
	return &Handler{supervisor: sup, logger: log}
}

// RegisterRoutes registers the supervisor API routes.
func RegisterRoutes(router *gin.Engine, sup *Supervisor, log *logger.Logger) {
	h := NewHandler(sup, log)
	api := router.Group("/api/v1/agent")
	api.GET("/status", h.status)
	api.POST("/start", h.start)
	api.POST("/stop", h.stop)
	api.POST("/restart", h.restart)
	api.POST("/reload", h.reload)
	api.GET("/health", h.health)
	api.GET("/version", h.version)
	api.DELETE("/startup-error", h.clearStartupError)
}

func (h *Handler) status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"state":            h.supervisor.State(),
		"lastStartupError": h.supervisor.LastStartupError(),
	})
}

func (h *Handler) start(c *gin.Context) {
	if err := h.supervisor.Start(c.Request.Context()); err != nil {
		h.logger.Error("failed to start agent server", zap.Error(err))
		c.JSON(apperrors.HTTPStatus(err), gin.H{"error": err.Error(), "output": h.supervisor.OutputTail()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": h.supervisor.State()})
}

func (h *Handler) stop(c *gin.Context) {
	if err := h.supervisor.Stop(c.Request.Context()); err != nil {
		c.JSON(apperrors.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": h.supervisor.State()})
}

func (h *Handler) restart(c *gin.Context) {
	if err := h.supervisor.Restart(c.Request.Context()); err != nil {
		h.logger.Error("failed to restart agent server", zap.Error(err))
		c.JSON(apperrors.HTTPStatus(err), gin.H{"error": err.Error(), "output": h.supervisor.OutputTail()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": h.supervisor.State()})
}

func (h *Handler) reload(c *gin.Context) {
	if err := h.supervisor.ReloadOrRestart(c.Request.Context()); err != nil {
		h.logger.Error("config reload degrade chain failed", zap.Error(err))
		c.JSON(apperrors.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": h.supervisor.State()})
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"healthy": h.supervisor.CheckHealth(c.Request.Context())})
}

func (h *Handler) version(c *gin.Context) {
	supported, version, err := h.supervisor.IsVersionSupported(c.Request.Context())
	if err != nil {
		c.JSON(apperrors.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"version": version, "supported": supported})
}

func (h *Handler) clearStartupError(c *gin.Context) {
	h.supervisor.ClearStartupError()
	c.Status(http.StatusNoContent)
}
