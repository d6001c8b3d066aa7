package settings

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/gitwarden/gitwarden/internal/common/errors"
	"github.com/gitwarden/gitwarden/internal/common/logger"
)

// Handler provides HTTP handlers for credential and identity management.
type Handler struct {
	service *Service
	logger  *logger.Logger
}

// NewHandler creates a new settings handler.
func NewHandler(svc *Service, log *logger.Logger) *Handler {
	return &Handler{service: svc, logger: log}
}

// RegisterRoutes registers the settings API routes.
func RegisterRoutes(router *gin.Engine, svc *Service, log *logger.Logger) {
	h := NewHandler(svc, log)
	api := router.Group("/api/v1/settings")
	api.POST("/credentials", h.createCredential)
	api.GET("/credentials", h.listCredentials)
	api.GET("/credentials/:id", h.getCredential)
	api.PUT("/credentials/:id", h.updateCredential)
	api.DELETE("/credentials/:id", h.deleteCredential)
	api.GET("/identity", h.getIdentity)
	api.PUT("/identity", h.setIdentity)
}

func (h *Handler) createCredential(c *gin.Context) {
	var req CreateCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	item, err := h.service.CreateCredential(c.Request.Context(), &req)
	if err != nil {
		h.logger.Error("failed to create credential", zap.Error(err))
		c.JSON(apperrors.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (h *Handler) listCredentials(c *gin.Context) {
	items, err := h.service.ListCredentials(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list credentials", zap.Error(err))
		c.JSON(apperrors.HTTPStatus(err), gin.H{"error": "failed to list credentials"})
		return
	}
	c.JSON(http.StatusOK, items)
}

func (h *Handler) getCredential(c *gin.Context) {
	item, err := h.service.GetCredential(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(apperrors.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handler) updateCredential(c *gin.Context) {
	var req UpdateCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	item, err := h.service.UpdateCredential(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		h.logger.Error("failed to update credential", zap.Error(err))
		c.JSON(apperrors.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handler) deleteCredential(c *gin.Context) {
	if err := h.service.DeleteCredential(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(apperrors.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) getIdentity(c *gin.Context) {
	identity, err := h.service.GetIdentity(c.Request.Context())
	if err != nil {
		c.JSON(apperrors.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, identity)
}

func (h *Handler) setIdentity(c *gin.Context) {
	var identity GitIdentity
	if err := c.ShouldBindJSON(&identity); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if err := h.service.SetIdentity(c.Request.Context(), &identity); err != nil {
		c.JSON(apperrors.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, identity)
}
