package dto

// AuditExportQuery captures GET /audit query parameters for compliance
// reporting.
type AuditExportQuery struct {
	JobID          string `form:"job_id"`
	ActorID        string `form:"actor_id"`
	Action         string `form:"action"`
	Severity       string `form:"severity"`
	RequiresReview *bool  `form:"requires_review"`
	From           string `form:"from"`
	To             string `form:"to"`
	Page           int    `form:"page"`
	Limit          int    `form:"limit"`
}
