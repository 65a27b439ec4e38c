package generation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sopworks/sop-api/internal/models"
)

// FailureKind classifies adapter failures for retry decisions and for the
// machine-readable error kind stored on a failed job.
type FailureKind string

const (
	KindEngineUnavailable FailureKind = "EngineUnavailable"
	KindEngineTimeout     FailureKind = "EngineTimeout"
	KindEngineRejected    FailureKind = "EngineRejected"
	KindCancelled         FailureKind = "Cancelled"
)

// EngineError is a typed failure from the generation engine.
type EngineError struct {
	Kind    FailureKind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped error.
func (e *EngineError) Unwrap() error { return e.Err }

// Retryable reports whether the orchestrator should retry the attempt.
func (e *EngineError) Retryable() bool {
	return e.Kind == KindEngineUnavailable || e.Kind == KindEngineTimeout
}

// Input describes one generation request. The deadline is carried on the
// context passed to Generate.
type Input struct {
	Title        string
	Description  string
	Department   models.Department
	Sections     []models.SectionRequest
	Frameworks   []models.RegulatoryFramework
	Requirements string
}

// Engine produces a content snapshot for an input descriptor. Implementations
// are stateless per call and must not touch the job store or audit trail;
// persistence is the orchestrator's responsibility.
type Engine interface {
	Generate(ctx context.Context, input Input) (*models.ContentSnapshot, error)
}

// PlaceholderBody is the marker body used for sections the engine dropped.
const PlaceholderBody = "[PLACEHOLDER] Content for this section was not produced by the generation engine and requires manual authoring."

// fillMissingSections synthesizes placeholder bodies for requested sections
// absent from the engine output, preserving request order, so downstream
// section counts stay consistent.
func fillMissingSections(requested []models.SectionRequest, produced map[string]string, engine string, at time.Time) *models.ContentSnapshot {
	sections := make([]models.ContentSection, 0, len(requested))
	words := 0
	for _, req := range requested {
		body, ok := produced[normalizeTitle(req.Title)]
		if !ok || strings.TrimSpace(body) == "" {
			sections = append(sections, models.ContentSection{
				Title:       req.Title,
				Body:        PlaceholderBody,
				Placeholder: true,
			})
			continue
		}
		sections = append(sections, models.ContentSection{Title: req.Title, Body: body})
		words += len(strings.Fields(body))
	}
	return &models.ContentSnapshot{
		Sections:     sections,
		WordCount:    words,
		SectionCount: len(sections),
		GeneratedAt:  at,
		Engine:       engine,
	}
}

func normalizeTitle(title string) string {
	return strings.ToLower(strings.TrimSpace(title))
}
