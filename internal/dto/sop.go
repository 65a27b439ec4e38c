package dto

import (
	"time"

	"github.com/sopworks/sop-api/internal/models"
)

// SubmitSOPRequest captures POST /sops payload.
type SubmitSOPRequest struct {
	Title              string                       `json:"title" binding:"required" validate:"required"`
	Description        string                       `json:"description" binding:"required" validate:"required"`
	Department         models.Department            `json:"department" binding:"required" validate:"required,department"`
	Priority           models.SOPPriority           `json:"priority" validate:"omitempty,priority"`
	Sections           []models.SectionRequest      `json:"sections" binding:"required" validate:"required,min=1"`
	Frameworks         []models.RegulatoryFramework `json:"frameworks" binding:"required" validate:"required,min=1,dive,framework"`
	Equipment          []string                     `json:"equipment,omitempty"`
	Materials          []string                     `json:"materials,omitempty"`
	SafetyNotes        string                       `json:"safetyNotes,omitempty"`
	QualityCheckpoints []string                     `json:"qualityCheckpoints,omitempty"`
	Requirements       string                       `json:"requirements,omitempty"`
}

// SubmitSOPResponse is returned after a job is accepted.
type SubmitSOPResponse struct {
	JobID               string           `json:"job_id"`
	Status              models.SOPStatus `json:"status"`
	EstimatedCompletion time.Time        `json:"estimated_completion"`
}

// SOPResponse is the full job projection exposed by the query API.
type SOPResponse struct {
	ID          string                   `json:"id"`
	Title       string                   `json:"title"`
	Description string                   `json:"description"`
	Department  models.Department        `json:"department"`
	Priority    models.SOPPriority       `json:"priority"`
	Spec        models.SOPSpec           `json:"spec"`
	Status      models.SOPStatus         `json:"status"`
	Content     *models.ContentSnapshot  `json:"content,omitempty"`
	Validation  *models.ValidationResult `json:"validation,omitempty"`
	Error       *JobError                `json:"error,omitempty"`
	Attempts    int                      `json:"attempts"`
	ReviewedBy  *string                  `json:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time               `json:"reviewed_at,omitempty"`
	Archived    bool                     `json:"archived"`
	CreatedBy   string                   `json:"created_by"`
	CreatedAt   time.Time                `json:"created_at"`
	UpdatedAt   time.Time                `json:"updated_at"`
	CompletedAt *time.Time               `json:"completed_at,omitempty"`
}

// JobError pairs the machine-readable kind with the human-readable detail of
// a failed job.
type JobError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// FromSOP maps a job row to its API projection.
func FromSOP(sop *models.SOP) *SOPResponse {
	resp := &SOPResponse{
		ID:          sop.ID,
		Title:       sop.Title,
		Description: sop.Description,
		Department:  sop.Department,
		Priority:    sop.Priority,
		Spec:        sop.Spec,
		Status:      sop.Status,
		Attempts:    sop.Attempts,
		ReviewedBy:  sop.ReviewedBy,
		ReviewedAt:  sop.ReviewedAt,
		Archived:    sop.Archived,
		CreatedBy:   sop.CreatedBy,
		CreatedAt:   sop.CreatedAt,
		UpdatedAt:   sop.UpdatedAt,
		CompletedAt: sop.CompletedAt,
	}
	if sop.Content != nil {
		snapshot := sop.Content.ContentSnapshot
		resp.Content = &snapshot
	}
	if sop.Validation != nil {
		result := sop.Validation.ValidationResult
		resp.Validation = &result
	}
	if sop.ErrorKind != nil || sop.ErrorMessage != nil {
		jobErr := &JobError{}
		if sop.ErrorKind != nil {
			jobErr.Kind = *sop.ErrorKind
		}
		if sop.ErrorMessage != nil {
			jobErr.Message = *sop.ErrorMessage
		}
		resp.Error = jobErr
	}
	return resp
}

// ReviewRequest captures POST /sops/:id/review payload.
type ReviewRequest struct {
	Outcome string `json:"outcome" binding:"required,oneof=approve reject"`
}

// SOPSearchQuery captures GET /sops query parameters.
type SOPSearchQuery struct {
	Status     []string `form:"status"`
	Department []string `form:"department"`
	Priority   []string `form:"priority"`
	Title      string   `form:"title"`
	CreatedBy  string   `form:"created_by"`
	From       string   `form:"from"`
	To         string   `form:"to"`
	MinScore   *int     `form:"min_score"`
	Archived   *bool    `form:"archived"`
	Page       int      `form:"page"`
	Limit      int      `form:"limit"`
	Sort       string   `form:"sort"`
	Order      string   `form:"order"`
}
