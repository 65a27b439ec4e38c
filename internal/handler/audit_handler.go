package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sopworks/sop-api/internal/dto"
	"github.com/sopworks/sop-api/internal/models"
	appErrors "github.com/sopworks/sop-api/pkg/errors"
	"github.com/sopworks/sop-api/pkg/response"
)

type auditExporter interface {
	Export(ctx context.Context, q dto.AuditExportQuery, actorID string) ([]models.AuditEntry, *models.Pagination, error)
	History(ctx context.Context, resourceID string) ([]models.AuditEntry, error)
	MarkReviewed(ctx context.Context, entryID, reviewer, outcome string) error
}

// AuditHandler exposes the audit trail endpoints.
type AuditHandler struct {
	audit auditExporter
}

// NewAuditHandler constructs handler.
func NewAuditHandler(audit auditExporter) *AuditHandler {
	return &AuditHandler{audit: audit}
}

// Export godoc
// @Summary Export the audit trail
// @Tags Audit
// @Produce json
// @Param job_id query string false "Job ID filter"
// @Param actor_id query string false "Actor filter"
// @Param from query string false "RFC3339 lower bound"
// @Param to query string false "RFC3339 upper bound"
// @Success 200 {object} response.Envelope
// @Router /audit [get]
func (h *AuditHandler) Export(c *gin.Context) {
	var query dto.AuditExportQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInvalidRequest, err.Error()))
		return
	}
	entries, pagination, err := h.audit.Export(c.Request.Context(), query, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, pagination)
}

// History godoc
// @Summary Audit history for one job
// @Tags Audit
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Router /sops/{id}/audit [get]
func (h *AuditHandler) History(c *gin.Context) {
	entries, err := h.audit.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}

// MarkReviewed godoc
// @Summary Resolve a flagged audit entry
// @Tags Audit
// @Accept json
// @Produce json
// @Param id path string true "Audit entry ID"
// @Success 200 {object} response.Envelope
// @Router /audit/{id}/review [post]
func (h *AuditHandler) MarkReviewed(c *gin.Context) {
	var req struct {
		Outcome string `json:"outcome" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInvalidRequest, err.Error()))
		return
	}
	if err := h.audit.MarkReviewed(c.Request.Context(), c.Param("id"), actorFromContext(c), req.Outcome); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"status": "reviewed"}, nil)
}
