package validation

import (
	"fmt"
	"strings"
	"time"

	"github.com/sopworks/sop-api/internal/models"
)

// Penalty weights applied per check outcome.
const (
	failPenalty    = 25
	warningPenalty = 5
)

// minSectionCount is the smallest section count that avoids a warning.
const minSectionCount = 3

// Check names, also used as compliance indicator keys.
const (
	CheckRequiredFields    = "required_fields_present"
	CheckFrameworkSelected = "framework_selected"
	CheckSectionCount      = "section_completeness"
	CheckSafetyNotes       = "safety_considerations"
	CheckQualityCheckpoint = "quality_checkpoints"
	CheckEquipment         = "equipment_defined"
	CheckBaselineFramework = "mandatory_framework_present"
)

// Validator scores a content snapshot against its job's declared metadata.
// Validation is deterministic and side-effect free: the same inputs always
// yield the same score and issue list, and a malformed snapshot produces a
// low score with explanatory issues rather than an error.
type Validator struct {
	now func() time.Time
}

// New constructs a Validator using wall-clock validation timestamps.
func New() *Validator {
	return &Validator{now: func() time.Time { return time.Now().UTC() }}
}

// NewWithClock constructs a Validator with an injected clock, used in tests.
func NewWithClock(now func() time.Time) *Validator {
	if now == nil {
		return New()
	}
	return &Validator{now: now}
}

// Validate runs every compliance check and returns the aggregate result.
func (v *Validator) Validate(sop *models.SOP, snapshot *models.ContentSnapshot) models.ValidationResult {
	result := models.ValidationResult{
		Indicators:  make(map[string]bool),
		ValidatedAt: v.now(),
	}

	if sop == nil {
		sop = &models.SOP{}
	}

	checks := []models.ComplianceCheck{
		checkRequiredFields(sop),
		checkFrameworks(sop),
		checkSections(snapshot),
		checkSafetyNotes(sop),
		checkQualityCheckpoints(sop),
		checkEquipment(sop),
		checkBaselineFramework(sop),
	}

	score := 100
	for _, c := range checks {
		switch c.Outcome {
		case models.CheckFail:
			score -= failPenalty
		case models.CheckWarning:
			score -= warningPenalty
		}
		result.Indicators[c.Name] = c.Outcome == models.CheckPass
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	result.Score = score
	result.Checks = checks
	return result
}

func checkRequiredFields(sop *models.SOP) models.ComplianceCheck {
	missing := make([]string, 0, 4)
	if strings.TrimSpace(sop.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(sop.Description) == "" {
		missing = append(missing, "description")
	}
	if sop.Department == "" {
		missing = append(missing, "department")
	}
	if sop.Priority == "" {
		missing = append(missing, "priority")
	}
	if len(missing) > 0 {
		return models.ComplianceCheck{
			Name:    CheckRequiredFields,
			Outcome: models.CheckFail,
			Message: fmt.Sprintf("missing required fields: %s", strings.Join(missing, ", ")),
		}
	}
	return pass(CheckRequiredFields)
}

func checkFrameworks(sop *models.SOP) models.ComplianceCheck {
	if len(sop.Spec.Frameworks) == 0 {
		return models.ComplianceCheck{
			Name:    CheckFrameworkSelected,
			Outcome: models.CheckFail,
			Message: "no regulatory framework selected",
		}
	}
	return pass(CheckFrameworkSelected)
}

func checkSections(snapshot *models.ContentSnapshot) models.ComplianceCheck {
	count := 0
	if snapshot != nil {
		count = len(snapshot.Sections)
	}
	if count < minSectionCount {
		return models.ComplianceCheck{
			Name:    CheckSectionCount,
			Outcome: models.CheckWarning,
			Message: fmt.Sprintf("document has %d sections, %d or more recommended", count, minSectionCount),
		}
	}
	return pass(CheckSectionCount)
}

func checkSafetyNotes(sop *models.SOP) models.ComplianceCheck {
	if strings.TrimSpace(sop.Spec.SafetyNotes) == "" {
		return models.ComplianceCheck{
			Name:    CheckSafetyNotes,
			Outcome: models.CheckWarning,
			Message: "no safety considerations documented",
		}
	}
	return pass(CheckSafetyNotes)
}

func checkQualityCheckpoints(sop *models.SOP) models.ComplianceCheck {
	if len(sop.Spec.QualityCheckpoints) == 0 {
		return models.ComplianceCheck{
			Name:    CheckQualityCheckpoint,
			Outcome: models.CheckWarning,
			Message: "no quality checkpoints defined",
		}
	}
	return pass(CheckQualityCheckpoint)
}

func checkEquipment(sop *models.SOP) models.ComplianceCheck {
	if len(sop.Spec.Equipment) == 0 {
		return models.ComplianceCheck{
			Name:    CheckEquipment,
			Outcome: models.CheckWarning,
			Message: "no equipment items defined",
		}
	}
	return pass(CheckEquipment)
}

func checkBaselineFramework(sop *models.SOP) models.ComplianceCheck {
	for _, f := range sop.Spec.Frameworks {
		if f == models.BaselineFramework {
			return pass(CheckBaselineFramework)
		}
	}
	return models.ComplianceCheck{
		Name:    CheckBaselineFramework,
		Outcome: models.CheckWarning,
		Message: fmt.Sprintf("baseline framework %s not included", models.BaselineFramework),
	}
}

func pass(name string) models.ComplianceCheck {
	return models.ComplianceCheck{Name: name, Outcome: models.CheckPass}
}
