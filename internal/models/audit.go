package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// AuditAction names the kind of action recorded on the trail.
type AuditAction string

const (
	AuditActionCreate   AuditAction = "CREATE"
	AuditActionAdvance  AuditAction = "ADVANCE"
	AuditActionValidate AuditAction = "VALIDATE"
	AuditActionReview   AuditAction = "REVIEW"
	AuditActionCancel   AuditAction = "CANCEL"
	AuditActionArchive  AuditAction = "ARCHIVE"
	AuditActionExport   AuditAction = "EXPORT"
)

// AuditSeverity classifies entries for compliance reporting.
type AuditSeverity string

const (
	SeverityInfo     AuditSeverity = "info"
	SeverityWarning  AuditSeverity = "warning"
	SeverityError    AuditSeverity = "error"
	SeverityCritical AuditSeverity = "critical"
)

// AuditValues holds before/after field pairs persisted as JSONB.
type AuditValues map[string]interface{}

// Value marshals the values to JSON for persistence.
func (v AuditValues) Value() (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal audit values: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the value map.
func (v *AuditValues) Scan(value interface{}) error {
	if value == nil {
		*v = nil
		return nil
	}
	return scanJSON(value, v, "AuditValues")
}

// AuditEntry is an immutable record of one state-affecting action.
// Entries are append-only; corrections are new entries referencing the
// original, never edits.
type AuditEntry struct {
	ID           string        `db:"id" json:"id"`
	ActorID      string        `db:"actor_id" json:"actor_id"`
	Action       AuditAction   `db:"action" json:"action"`
	ResourceType string        `db:"resource_type" json:"resource_type"`
	ResourceID   string        `db:"resource_id" json:"resource_id"`
	Severity     AuditSeverity `db:"severity" json:"severity"`
	Description  string        `db:"description" json:"description"`
	OldValues    AuditValues   `db:"old_values" json:"old_values,omitempty"`
	NewValues    AuditValues   `db:"new_values" json:"new_values,omitempty"`

	RequiresReview bool       `db:"requires_review" json:"requires_review"`
	ReviewedBy     *string    `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt     *time.Time `db:"reviewed_at" json:"reviewed_at,omitempty"`
	ReviewOutcome  *string    `db:"review_outcome" json:"review_outcome,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
