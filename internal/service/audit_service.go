package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sopworks/sop-api/internal/dto"
	"github.com/sopworks/sop-api/internal/models"
	"github.com/sopworks/sop-api/internal/repository"
	appErrors "github.com/sopworks/sop-api/pkg/errors"
)

type auditStore interface {
	Append(ctx context.Context, entry *models.AuditEntry) error
	MarkReviewed(ctx context.Context, originalID, reviewer, outcome string) error
	GetByID(ctx context.Context, id string) (*models.AuditEntry, error)
	List(ctx context.Context, filter repository.AuditFilter) ([]models.AuditEntry, int, error)
}

// AuditServiceConfig carries export defaults and review queue settings.
type AuditServiceConfig struct {
	ReviewQueueKey     string
	NotifyReviewQueue  bool
	ExportDefaultLimit int
}

// AuditService exposes the audit trail: export, per-job history, and
// review-queue notifications for flagged entries.
type AuditService struct {
	store  auditStore
	redis  redis.Cmdable
	logger *zap.Logger
	cfg    AuditServiceConfig
}

// NewAuditService constructs the audit service. The redis client may be nil;
// review notifications are then skipped.
func NewAuditService(store auditStore, redisClient redis.Cmdable, logger *zap.Logger, cfg AuditServiceConfig) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReviewQueueKey == "" {
		cfg.ReviewQueueKey = "sop:review-queue"
	}
	if cfg.ExportDefaultLimit <= 0 {
		cfg.ExportDefaultLimit = 100
	}
	return &AuditService{store: store, redis: redisClient, logger: logger, cfg: cfg}
}

// Export returns a filtered, chronologically ordered slice of the audit
// trail, and records the export itself as an audit entry.
func (s *AuditService) Export(ctx context.Context, q dto.AuditExportQuery, actorID string) ([]models.AuditEntry, *models.Pagination, error) {
	filter := repository.AuditFilter{
		ResourceID:     q.JobID,
		ActorID:        q.ActorID,
		Action:         q.Action,
		Severity:       models.AuditSeverity(q.Severity),
		RequiresReview: q.RequiresReview,
		Page:           q.Page,
		Limit:          q.Limit,
	}
	if filter.Limit <= 0 {
		filter.Limit = s.cfg.ExportDefaultLimit
	}
	if t, err := parseTimeParam(q.From); err != nil {
		return nil, nil, appErrors.Clone(appErrors.ErrInvalidRequest, "invalid from timestamp")
	} else if t != nil {
		filter.From = t
	}
	if t, err := parseTimeParam(q.To); err != nil {
		return nil, nil, appErrors.Clone(appErrors.ErrInvalidRequest, "invalid to timestamp")
	} else if t != nil {
		filter.To = t
	}

	entries, total, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to export audit trail")
	}

	exportEntry := &models.AuditEntry{
		ActorID:      actorID,
		Action:       models.AuditActionExport,
		ResourceType: "audit_trail",
		ResourceID:   q.JobID,
		Severity:     models.SeverityInfo,
		Description:  "audit trail exported",
		NewValues:    models.AuditValues{"entries": len(entries), "total": total},
	}
	if err := s.store.Append(ctx, exportEntry); err != nil {
		s.logger.Sugar().Warnw("failed to record audit export", "error", err)
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pagination := &models.Pagination{
		Page:       page,
		Limit:      filter.Limit,
		TotalItems: total,
		TotalPages: (total + filter.Limit - 1) / filter.Limit,
	}
	return entries, pagination, nil
}

// History returns the chronological audit trail for a single job.
func (s *AuditService) History(ctx context.Context, resourceID string) ([]models.AuditEntry, error) {
	entries, _, err := s.store.List(ctx, repository.AuditFilter{ResourceID: resourceID, Limit: 500})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to load audit history")
	}
	return entries, nil
}

// MarkReviewed resolves a flagged audit entry by appending a review record.
func (s *AuditService) MarkReviewed(ctx context.Context, entryID, reviewer, outcome string) error {
	return s.store.MarkReviewed(ctx, entryID, reviewer, outcome)
}

type reviewNotification struct {
	EntryID    string    `json:"entry_id"`
	ResourceID string    `json:"resource_id"`
	Severity   string    `json:"severity"`
	CreatedAt  time.Time `json:"created_at"`
}

// NotifyReviewNeeded pushes a flagged entry onto the human review queue.
// Best effort; delivery failures are logged, never surfaced.
func (s *AuditService) NotifyReviewNeeded(ctx context.Context, entry *models.AuditEntry) {
	if !s.cfg.NotifyReviewQueue || s.redis == nil || entry == nil {
		return
	}
	payload, err := json.Marshal(reviewNotification{
		EntryID:    entry.ID,
		ResourceID: entry.ResourceID,
		Severity:   string(entry.Severity),
		CreatedAt:  entry.CreatedAt,
	})
	if err != nil {
		return
	}
	if err := s.redis.LPush(ctx, s.cfg.ReviewQueueKey, payload).Err(); err != nil {
		s.logger.Sugar().Warnw("failed to notify review queue", "entry_id", entry.ID, "error", err)
	}
}
