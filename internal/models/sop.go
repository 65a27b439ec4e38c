package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// SOPStatus captures the generation job lifecycle states.
type SOPStatus string

const (
	SOPStatusPending     SOPStatus = "PENDING"
	SOPStatusProcessing  SOPStatus = "PROCESSING"
	SOPStatusCompleted   SOPStatus = "COMPLETED"
	SOPStatusFailed      SOPStatus = "FAILED"
	SOPStatusUnderReview SOPStatus = "UNDER_REVIEW"
	SOPStatusApproved    SOPStatus = "APPROVED"
	SOPStatusRejected    SOPStatus = "REJECTED"
)

// Terminal reports whether no further orchestrator-driven work applies.
// Reviewer actions may still move COMPLETED forward.
func (s SOPStatus) Terminal() bool {
	switch s {
	case SOPStatusCompleted, SOPStatusFailed, SOPStatusApproved, SOPStatusRejected:
		return true
	default:
		return false
	}
}

// Reviewable reports whether a human review outcome may be applied.
func (s SOPStatus) Reviewable() bool {
	return s == SOPStatusCompleted || s == SOPStatusUnderReview
}

// SOPPriority enumerates request urgency levels.
type SOPPriority string

const (
	PriorityLow      SOPPriority = "low"
	PriorityMedium   SOPPriority = "medium"
	PriorityHigh     SOPPriority = "high"
	PriorityCritical SOPPriority = "critical"
)

// Department enumerates pharmaceutical departments.
type Department string

const (
	DepartmentProduction        Department = "production"
	DepartmentQualityControl    Department = "quality_control"
	DepartmentQualityAssurance  Department = "quality_assurance"
	DepartmentRegulatoryAffairs Department = "regulatory_affairs"
	DepartmentManufacturing     Department = "manufacturing"
	DepartmentPackaging         Department = "packaging"
	DepartmentWarehouse         Department = "warehouse"
	DepartmentMaintenance       Department = "maintenance"
)

// RegulatoryFramework enumerates supported compliance standards.
type RegulatoryFramework string

const (
	FrameworkFDA21CFR211 RegulatoryFramework = "fda_21_cfr_211"
	FrameworkICHQ7       RegulatoryFramework = "ich_q7"
	FrameworkICHQ10      RegulatoryFramework = "ich_q10"
	FrameworkWHOGMP      RegulatoryFramework = "who_gmp"
	FrameworkEMAGMP      RegulatoryFramework = "ema_gmp"
	FrameworkISO9001     RegulatoryFramework = "iso_9001"
	FrameworkISO14001    RegulatoryFramework = "iso_14001"
)

// BaselineFramework is the framework every SOP is expected to include.
const BaselineFramework = FrameworkFDA21CFR211

// ValidPriority reports whether p is a known priority.
func ValidPriority(p SOPPriority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	default:
		return false
	}
}

// ValidDepartment reports whether d is a known department.
func ValidDepartment(d Department) bool {
	switch d {
	case DepartmentProduction, DepartmentQualityControl, DepartmentQualityAssurance,
		DepartmentRegulatoryAffairs, DepartmentManufacturing, DepartmentPackaging,
		DepartmentWarehouse, DepartmentMaintenance:
		return true
	default:
		return false
	}
}

// ValidFramework reports whether f is a known regulatory framework.
func ValidFramework(f RegulatoryFramework) bool {
	switch f {
	case FrameworkFDA21CFR211, FrameworkICHQ7, FrameworkICHQ10, FrameworkWHOGMP,
		FrameworkEMAGMP, FrameworkISO9001, FrameworkISO14001:
		return true
	default:
		return false
	}
}

// SectionRequest describes one requested content section.
type SectionRequest struct {
	Title        string `json:"title"`
	Instructions string `json:"instructions,omitempty"`
}

// SOPSpec stores the immutable request payload persisted as JSONB.
type SOPSpec struct {
	Sections           []SectionRequest      `json:"sections"`
	Frameworks         []RegulatoryFramework `json:"frameworks"`
	Equipment          []string              `json:"equipment,omitempty"`
	Materials          []string              `json:"materials,omitempty"`
	SafetyNotes        string                `json:"safetyNotes,omitempty"`
	QualityCheckpoints []string              `json:"qualityCheckpoints,omitempty"`
	Requirements       string                `json:"requirements,omitempty"`
}

// ContentSection is one generated body within a snapshot.
type ContentSection struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	// Placeholder marks sections the engine did not return and that were
	// synthesized so section counts stay consistent with the request.
	Placeholder bool `json:"placeholder,omitempty"`
}

// ContentSnapshot is the generated document body for a job. Replaced
// wholesale on regeneration, never patched in place.
type ContentSnapshot struct {
	Sections     []ContentSection `json:"sections"`
	WordCount    int              `json:"wordCount"`
	SectionCount int              `json:"sectionCount"`
	GeneratedAt  time.Time        `json:"generatedAt"`
	Engine       string           `json:"engine"`
}

// CheckOutcome is the result level of one compliance check.
type CheckOutcome string

const (
	CheckPass    CheckOutcome = "pass"
	CheckWarning CheckOutcome = "warning"
	CheckFail    CheckOutcome = "fail"
)

// ComplianceCheck is one named validation check result.
type ComplianceCheck struct {
	Name    string       `json:"name"`
	Outcome CheckOutcome `json:"outcome"`
	Message string       `json:"message,omitempty"`
}

// ValidationResult is the compliance score and issue list for one snapshot.
type ValidationResult struct {
	Score       int               `json:"score"`
	Checks      []ComplianceCheck `json:"checks"`
	Indicators  map[string]bool   `json:"indicators"`
	ValidatedAt time.Time         `json:"validatedAt"`
}

// HasFailure reports whether any check failed outright.
func (r *ValidationResult) HasFailure() bool {
	if r == nil {
		return false
	}
	for _, c := range r.Checks {
		if c.Outcome == CheckFail {
			return true
		}
	}
	return false
}

// SOP is one generation job and its lifecycle state. Rows are retained
// indefinitely; archival is logical only.
type SOP struct {
	ID          string      `db:"id" json:"id"`
	Title       string      `db:"title" json:"title"`
	Description string      `db:"description" json:"description"`
	Department  Department  `db:"department" json:"department"`
	Priority    SOPPriority `db:"priority" json:"priority"`
	Spec        SOPSpec     `db:"spec" json:"spec"`

	Status       SOPStatus    `db:"status" json:"status"`
	Content      *SnapshotDoc `db:"content" json:"content,omitempty"`
	Validation   *ResultDoc   `db:"validation" json:"validation,omitempty"`
	ErrorKind    *string      `db:"error_kind" json:"error_kind,omitempty"`
	ErrorMessage *string      `db:"error_message" json:"error_message,omitempty"`
	Attempts     int          `db:"attempts" json:"attempts"`

	ReviewedBy *string    `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt *time.Time `db:"reviewed_at" json:"reviewed_at,omitempty"`

	PDFPath  *string `db:"pdf_path" json:"pdf_path,omitempty"`
	Archived bool    `db:"archived" json:"archived"`

	CreatedBy   string     `db:"created_by" json:"created_by"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// SnapshotDoc wraps ContentSnapshot for JSONB persistence.
type SnapshotDoc struct {
	ContentSnapshot
}

// Value marshals the snapshot to JSON for persistence.
func (d SnapshotDoc) Value() (driver.Value, error) {
	data, err := json.Marshal(d.ContentSnapshot)
	if err != nil {
		return nil, fmt.Errorf("marshal content snapshot: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the snapshot.
func (d *SnapshotDoc) Scan(value interface{}) error {
	return scanJSON(value, &d.ContentSnapshot, "ContentSnapshot")
}

// ResultDoc wraps ValidationResult for JSONB persistence.
type ResultDoc struct {
	ValidationResult
}

// Value marshals the validation result to JSON for persistence.
func (d ResultDoc) Value() (driver.Value, error) {
	data, err := json.Marshal(d.ValidationResult)
	if err != nil {
		return nil, fmt.Errorf("marshal validation result: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the validation result.
func (d *ResultDoc) Scan(value interface{}) error {
	return scanJSON(value, &d.ValidationResult, "ValidationResult")
}

// Value marshals the spec to JSON for persistence.
func (s SOPSpec) Value() (driver.Value, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal sop spec: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the spec.
func (s *SOPSpec) Scan(value interface{}) error {
	return scanJSON(value, s, "SOPSpec")
}

func scanJSON(value interface{}, dst interface{}, name string) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for %s", value, name)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("unmarshal %s: %w", name, err)
	}
	return nil
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalItems int `json:"total_items"`
	TotalPages int `json:"total_pages"`
}
