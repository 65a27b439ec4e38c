package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/sopworks/sop-api/internal/models"
)

const auditColumns = `id, actor_id, action, resource_type, resource_id, severity, description,
old_values, new_values, requires_review, reviewed_by, reviewed_at, review_outcome, created_at`

// AuditRepository persists the append-only audit trail. There is no update
// or delete path: corrections are new entries.
type AuditRepository struct {
	db      *sqlx.DB
	observe QueryObserver
}

// NewAuditRepository constructs the repository. A nil observer disables query
// timing.
func NewAuditRepository(db *sqlx.DB, observe QueryObserver) *AuditRepository {
	return &AuditRepository{db: db, observe: observe}
}

func (r *AuditRepository) observeQuery(label string, start time.Time) {
	if r.observe != nil {
		r.observe(label, time.Since(start))
	}
}

// insertAuditEntry appends one entry using the given executor, so callers can
// run it inside the transaction of the triggering operation.
func insertAuditEntry(ctx context.Context, ext sqlx.ExtContext, entry *models.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Severity == "" {
		entry.Severity = models.SeverityInfo
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO audit_entries (id, actor_id, action, resource_type, resource_id, severity, description,
old_values, new_values, requires_review, reviewed_by, reviewed_at, review_outcome, created_at)
VALUES (:id, :actor_id, :action, :resource_type, :resource_id, :severity, :description,
:old_values, :new_values, :requires_review, :reviewed_by, :reviewed_at, :review_outcome, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, ext, query, entry); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// Append writes one standalone entry (entries tied to a job transition go
// through SOPRepository.Transition instead).
func (r *AuditRepository) Append(ctx context.Context, entry *models.AuditEntry) error {
	defer r.observeQuery("audit_append", time.Now())
	return insertAuditEntry(ctx, r.db, entry)
}

// MarkReviewed records review metadata as a new entry referencing the
// original, preserving append-only semantics.
func (r *AuditRepository) MarkReviewed(ctx context.Context, originalID, reviewer, outcome string) error {
	defer r.observeQuery("audit_mark_reviewed", time.Now())
	original, err := r.GetByID(ctx, originalID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	entry := &models.AuditEntry{
		ActorID:      reviewer,
		Action:       models.AuditActionReview,
		ResourceType: "audit_entry",
		ResourceID:   original.ID,
		Severity:     models.SeverityInfo,
		Description:  fmt.Sprintf("audit entry %s reviewed: %s", original.ID, outcome),
		ReviewedBy:   &reviewer,
		ReviewedAt:   &now,
		ReviewOutcome: func() *string {
			o := outcome
			return &o
		}(),
	}
	return insertAuditEntry(ctx, r.db, entry)
}

// GetByID returns one entry.
func (r *AuditRepository) GetByID(ctx context.Context, id string) (*models.AuditEntry, error) {
	defer r.observeQuery("audit_get", time.Now())
	query := `SELECT ` + auditColumns + ` FROM audit_entries WHERE id = $1`
	var entry models.AuditEntry
	if err := r.db.GetContext(ctx, &entry, query, id); err != nil {
		return nil, fmt.Errorf("get audit entry: %w", err)
	}
	return &entry, nil
}

// AuditFilter narrows List results for compliance reporting.
type AuditFilter struct {
	ResourceID     string
	ActorID        string
	Action         string
	Severity       models.AuditSeverity
	RequiresReview *bool
	From           *time.Time
	To             *time.Time

	Page  int
	Limit int
}

// List returns matching entries ordered by creation time plus the total
// count for pagination.
func (r *AuditRepository) List(ctx context.Context, filter AuditFilter) ([]models.AuditEntry, int, error) {
	defer r.observeQuery("audit_list", time.Now())
	where := make([]string, 0, 6)
	args := make([]interface{}, 0, 6)
	argPos := 1

	add := func(clause string, value interface{}) {
		where = append(where, fmt.Sprintf(clause, argPos))
		args = append(args, value)
		argPos++
	}

	if filter.ResourceID != "" {
		add("resource_id = $%d", filter.ResourceID)
	}
	if filter.ActorID != "" {
		add("actor_id = $%d", filter.ActorID)
	}
	if filter.Action != "" {
		add("action = $%d", filter.Action)
	}
	if filter.Severity != "" {
		add("severity = $%d", filter.Severity)
	}
	if filter.RequiresReview != nil {
		add("requires_review = $%d", *filter.RequiresReview)
	}
	if filter.From != nil {
		add("created_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("created_at <= $%d", *filter.To)
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM audit_entries"+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("count audit entries: %w", err)
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := fmt.Sprintf("SELECT %s FROM audit_entries%s ORDER BY created_at ASC LIMIT $%d OFFSET $%d",
		auditColumns, clause, argPos, argPos+1)
	args = append(args, limit, (page-1)*limit)

	var entries []models.AuditEntry
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list audit entries: %w", err)
	}
	return entries, total, nil
}
