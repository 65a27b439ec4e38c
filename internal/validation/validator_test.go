package validation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sopworks/sop-api/internal/models"
)

func fixedClock() func() time.Time {
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return ts }
}

func completeSOP() *models.SOP {
	return &models.SOP{
		ID:          "sop-1",
		Title:       "Equipment Cleaning SOP",
		Description: "Cleaning procedure for granulation equipment",
		Department:  models.DepartmentProduction,
		Priority:    models.PriorityHigh,
		Spec: models.SOPSpec{
			Sections: []models.SectionRequest{
				{Title: "Purpose"}, {Title: "Scope"}, {Title: "Procedure"},
			},
			Frameworks:         []models.RegulatoryFramework{models.FrameworkFDA21CFR211},
			Equipment:          []string{"granulator"},
			SafetyNotes:        "Wear PPE at all times",
			QualityCheckpoints: []string{"visual inspection"},
		},
	}
}

func snapshotWithSections(n int) *models.ContentSnapshot {
	sections := make([]models.ContentSection, 0, n)
	for i := 0; i < n; i++ {
		sections = append(sections, models.ContentSection{Title: "Section", Body: "Body text"})
	}
	return &models.ContentSnapshot{Sections: sections, SectionCount: n}
}

func TestValidatePerfectScore(t *testing.T) {
	v := NewWithClock(fixedClock())
	result := v.Validate(completeSOP(), snapshotWithSections(5))

	assert.Equal(t, 100, result.Score)
	require.Len(t, result.Checks, 7)
	for _, c := range result.Checks {
		assert.Equal(t, models.CheckPass, c.Outcome, c.Name)
		assert.True(t, result.Indicators[c.Name])
	}
	assert.False(t, result.HasFailure())
}

func TestValidateMissingSafetyAndCheckpoints(t *testing.T) {
	sop := completeSOP()
	sop.Spec.SafetyNotes = ""
	sop.Spec.QualityCheckpoints = nil

	v := NewWithClock(fixedClock())
	result := v.Validate(sop, snapshotWithSections(5))

	assert.Equal(t, 90, result.Score)
	assert.False(t, result.HasFailure())
	assert.False(t, result.Indicators[CheckSafetyNotes])
	assert.False(t, result.Indicators[CheckQualityCheckpoint])
}

func TestValidateFailLevelChecks(t *testing.T) {
	sop := completeSOP()
	sop.Title = ""
	sop.Spec.Frameworks = nil

	v := NewWithClock(fixedClock())
	result := v.Validate(sop, snapshotWithSections(5))

	// two fails (25 each) plus the baseline framework warning
	assert.Equal(t, 45, result.Score)
	assert.True(t, result.HasFailure())
}

func TestValidateEmptyJobScoresWorstCase(t *testing.T) {
	v := NewWithClock(fixedClock())
	result := v.Validate(&models.SOP{}, nil)

	// every check trips: two fails and five warnings
	assert.Equal(t, 25, result.Score)
	assert.True(t, result.HasFailure())
	require.Len(t, result.Checks, 7)
}

func TestValidateDeterministic(t *testing.T) {
	v := NewWithClock(fixedClock())
	sop := completeSOP()
	sop.Spec.SafetyNotes = ""
	snapshot := snapshotWithSections(2)

	first := v.Validate(sop, snapshot)
	second := v.Validate(sop, snapshot)
	assert.Equal(t, first, second)
}

func TestValidateNilInputsDoNotPanic(t *testing.T) {
	v := New()
	result := v.Validate(nil, nil)
	assert.GreaterOrEqual(t, result.Score, 0)
	require.Len(t, result.Checks, 7)
}

func TestValidateSectionWarningBoundary(t *testing.T) {
	v := NewWithClock(fixedClock())
	sop := completeSOP()

	result := v.Validate(sop, snapshotWithSections(2))
	assert.Equal(t, 95, result.Score)

	result = v.Validate(sop, snapshotWithSections(3))
	assert.Equal(t, 100, result.Score)
}
