package hosttrust

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/gitwarden/gitwarden/internal/common/errors"
	"github.com/gitwarden/gitwarden/internal/common/logger"
)

// Handler provides HTTP handlers for trust decisions.
type Handler struct {
	gateway *Gateway
	logger  *logger.Logger
}

// NewHandler creates a new trust handler.
func NewHandler(gateway *Gateway, log *logger.Logger) *Handler {
	return &Handler{gateway: gateway, logger: log}
}

// RegisterRoutes registers the trust API routes.
func RegisterRoutes(router *gin.Engine, gateway *Gateway, log *logger.Logger) {
	h := NewHandler(gateway, log)
	api := router.Group("/api/v1/trust")
	api.POST("/verify", h.verify)
	api.POST("/respond", h.respond)
	api.GET("/pending", h.pending)
	api.GET("/hosts", h.listHosts)
	api.DELETE("/hosts/:hostKey", h.removeHost)
}

// verify blocks until the host is trusted, denied, or the decision times
// out. The supervised server calls this before any SSH git operation.
func (h *Handler) verify(c *gin.Context) {
	var req struct {
		Remote string `json:"remote"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Remote == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	allowed := h.gateway.VerifyHostKeyBeforeOperation(c.Request.Context(), req.Remote)
	c.JSON(http.StatusOK, gin.H{"allowed": allowed})
}

func (h *Handler) respond(c *gin.Context) {
	var req struct {
		RequestID string `json:"requestId"`
		Accept    bool   `json:"accept"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RequestID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	c.JSON(http.StatusOK, h.gateway.Respond(req.RequestID, req.Accept))
}

func (h *Handler) pending(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"count":   h.gateway.PendingCount(),
		"pending": h.gateway.ListPending(),
	})
}

func (h *Handler) listHosts(c *gin.Context) {
	hosts, err := h.gateway.TrustedHosts(c.Request.Context())
	if err != nil {
		c.JSON(apperrors.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, hosts)
}

func (h *Handler) removeHost(c *gin.Context) {
	if err := h.gateway.RemoveTrust(c.Request.Context(), c.Param("hostKey")); err != nil {
		c.JSON(apperrors.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
