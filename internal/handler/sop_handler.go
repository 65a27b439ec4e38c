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

type sopOrchestrator interface {
	Submit(ctx context.Context, req dto.SubmitSOPRequest, actorID string) (*dto.SubmitSOPResponse, error)
	Query(ctx context.Context, jobID string) (*dto.SOPResponse, error)
	Search(ctx context.Context, q dto.SOPSearchQuery) ([]dto.SOPResponse, *models.Pagination, error)
	BeginReview(ctx context.Context, jobID, reviewer string) (*dto.SOPResponse, error)
	Review(ctx context.Context, jobID, outcome, reviewer string) (*dto.SOPResponse, error)
	Cancel(ctx context.Context, jobID, actorID string) (*dto.SOPResponse, error)
	Archive(ctx context.Context, jobID, actorID string) (*dto.SOPResponse, error)
}

type pdfRenderer interface {
	RenderPDF(ctx context.Context, jobID, actorID string) (string, error)
}

// SOPHandler exposes the SOP generation job endpoints.
type SOPHandler struct {
	sops   sopOrchestrator
	export pdfRenderer
}

// NewSOPHandler constructs handler.
func NewSOPHandler(sops sopOrchestrator, export pdfRenderer) *SOPHandler {
	return &SOPHandler{sops: sops, export: export}
}

// Submit godoc
// @Summary Submit a SOP generation job
// @Tags SOPs
// @Accept json
// @Produce json
// @Param request body dto.SubmitSOPRequest true "Job definition"
// @Success 202 {object} response.Envelope
// @Router /sops [post]
func (h *SOPHandler) Submit(c *gin.Context) {
	var req dto.SubmitSOPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInvalidRequest, err.Error()))
		return
	}
	resp, err := h.sops.Submit(c.Request.Context(), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, resp)
}

// Get godoc
// @Summary Fetch one SOP job
// @Tags SOPs
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Router /sops/{id} [get]
func (h *SOPHandler) Get(c *gin.Context) {
	resp, err := h.sops.Query(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, resp, nil)
}

// List godoc
// @Summary Search SOP jobs
// @Tags SOPs
// @Produce json
// @Param status query []string false "Status filter"
// @Param department query []string false "Department filter"
// @Param title query string false "Title substring"
// @Success 200 {object} response.Envelope
// @Router /sops [get]
func (h *SOPHandler) List(c *gin.Context) {
	var query dto.SOPSearchQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInvalidRequest, err.Error()))
		return
	}
	sops, pagination, err := h.sops.Search(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sops, pagination)
}

// BeginReview godoc
// @Summary Move a completed job under review
// @Tags SOPs
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Router /sops/{id}/review/start [post]
func (h *SOPHandler) BeginReview(c *gin.Context) {
	resp, err := h.sops.BeginReview(c.Request.Context(), c.Param("id"), actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, resp, nil)
}

// Review godoc
// @Summary Record a review outcome
// @Tags SOPs
// @Accept json
// @Produce json
// @Param id path string true "Job ID"
// @Param request body dto.ReviewRequest true "Review outcome"
// @Success 200 {object} response.Envelope
// @Router /sops/{id}/review [post]
func (h *SOPHandler) Review(c *gin.Context) {
	var req dto.ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInvalidRequest, err.Error()))
		return
	}
	resp, err := h.sops.Review(c.Request.Context(), c.Param("id"), req.Outcome, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, resp, nil)
}

// Cancel godoc
// @Summary Cancel a pending or processing job
// @Tags SOPs
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Router /sops/{id}/cancel [post]
func (h *SOPHandler) Cancel(c *gin.Context) {
	resp, err := h.sops.Cancel(c.Request.Context(), c.Param("id"), actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, resp, nil)
}

// Archive godoc
// @Summary Archive a terminal job
// @Tags SOPs
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Router /sops/{id}/archive [post]
func (h *SOPHandler) Archive(c *gin.Context) {
	resp, err := h.sops.Archive(c.Request.Context(), c.Param("id"), actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, resp, nil)
}

// DownloadPDF godoc
// @Summary Download the rendered SOP document
// @Tags SOPs
// @Produce application/pdf
// @Param id path string true "Job ID"
// @Success 200 {file} binary
// @Router /sops/{id}/pdf [get]
func (h *SOPHandler) DownloadPDF(c *gin.Context) {
	path, err := h.export.RenderPDF(c.Request.Context(), c.Param("id"), actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Type", "application/pdf")
	c.FileAttachment(path, "sop-"+c.Param("id")+".pdf")
}
