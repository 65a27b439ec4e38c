package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sopworks/sop-api/internal/models"
	"github.com/sopworks/sop-api/internal/repository"
	appErrors "github.com/sopworks/sop-api/pkg/errors"
	"github.com/sopworks/sop-api/pkg/export"
)

type documentRenderer interface {
	Render(doc export.Document) ([]byte, error)
}

type artifactStorage interface {
	Save(filename string, data []byte) (string, error)
	Path(filename string) string
}

// ExportService renders finished SOP documents to PDF and stores the
// artifact on disk.
type ExportService struct {
	store    sopStore
	renderer documentRenderer
	storage  artifactStorage
	logger   *zap.Logger
}

// NewExportService constructs the export service.
func NewExportService(store sopStore, renderer documentRenderer, storage artifactStorage, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{store: store, renderer: renderer, storage: storage, logger: logger}
}

// RenderPDF produces (or reuses) the PDF artifact for a job whose content
// exists, returning the on-disk path for streaming.
func (s *ExportService) RenderPDF(ctx context.Context, jobID, actorID string) (string, error) {
	sop, err := s.store.GetByID(ctx, jobID)
	if err != nil {
		return "", appErrors.ErrNotFound
	}

	switch sop.Status {
	case models.SOPStatusCompleted, models.SOPStatusUnderReview, models.SOPStatusApproved:
	default:
		return "", appErrors.Clone(appErrors.ErrNotReady, fmt.Sprintf("job in state %s has no exportable document", sop.Status))
	}
	if sop.Content == nil || len(sop.Content.Sections) == 0 {
		return "", appErrors.Clone(appErrors.ErrNotReady, "job has no generated content")
	}

	if sop.PDFPath != nil && *sop.PDFPath != "" {
		return s.storage.Path(*sop.PDFPath), nil
	}

	doc := export.Document{
		Title:       sop.Title,
		Description: sop.Description,
		Department:  string(sop.Department),
		GeneratedAt: sop.Content.GeneratedAt,
		JobID:       sop.ID,
	}
	for _, f := range sop.Spec.Frameworks {
		doc.Frameworks = append(doc.Frameworks, string(f))
	}
	for _, section := range sop.Content.Sections {
		doc.Sections = append(doc.Sections, export.Section{
			Title:       section.Title,
			Body:        section.Body,
			Placeholder: section.Placeholder,
		})
	}
	if sop.Validation != nil {
		score := sop.Validation.Score
		doc.Score = &score
	}

	data, err := s.renderer.Render(doc)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
	}

	filename := fmt.Sprintf("sop-%s-%d.pdf", sop.ID, time.Now().UTC().Unix())
	path, err := s.storage.Save(filename, data)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to store pdf")
	}

	if err := s.store.Transition(ctx, sop.ID, repository.UpdateSOPParams{PDFPath: &filename}, &models.AuditEntry{
		ActorID:      actorID,
		Action:       models.AuditActionExport,
		ResourceType: "sop",
		ResourceID:   sop.ID,
		Severity:     models.SeverityInfo,
		Description:  "pdf artifact rendered",
		NewValues:    models.AuditValues{"pdf_path": filename},
	}); err != nil {
		s.logger.Sugar().Warnw("failed to persist pdf path", "job_id", sop.ID, "error", err)
	}

	return path, nil
}
