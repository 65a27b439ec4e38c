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

const sopColumns = `id, title, description, department, priority, spec, status, content, validation,
error_kind, error_message, attempts, reviewed_by, reviewed_at, pdf_path, archived,
created_by, created_at, updated_at, completed_at`

// QueryObserver receives the label and wall time of each repository query,
// letting the metrics layer record database timings without the repositories
// importing it.
type QueryObserver func(label string, duration time.Duration)

// SOPRepository persists generation jobs. It is the only writer to the sops
// table; all mutation flows through the orchestrator.
type SOPRepository struct {
	db      *sqlx.DB
	observe QueryObserver
}

// NewSOPRepository constructs the repository. A nil observer disables query
// timing.
func NewSOPRepository(db *sqlx.DB, observe QueryObserver) *SOPRepository {
	return &SOPRepository{db: db, observe: observe}
}

func (r *SOPRepository) observeQuery(label string, start time.Time) {
	if r.observe != nil {
		r.observe(label, time.Since(start))
	}
}

// Create inserts a new job row with generated defaults.
func (r *SOPRepository) Create(ctx context.Context, sop *models.SOP) error {
	defer r.observeQuery("sop_create", time.Now())
	if sop.ID == "" {
		sop.ID = uuid.NewString()
	}
	if sop.Status == "" {
		sop.Status = models.SOPStatusPending
	}
	now := time.Now().UTC()
	if sop.CreatedAt.IsZero() {
		sop.CreatedAt = now
	}
	sop.UpdatedAt = now

	const query = `INSERT INTO sops (id, title, description, department, priority, spec, status, content, validation,
error_kind, error_message, attempts, reviewed_by, reviewed_at, pdf_path, archived,
created_by, created_at, updated_at, completed_at)
VALUES (:id, :title, :description, :department, :priority, :spec, :status, :content, :validation,
:error_kind, :error_message, :attempts, :reviewed_by, :reviewed_at, :pdf_path, :archived,
:created_by, :created_at, :updated_at, :completed_at)`
	if _, err := r.db.NamedExecContext(ctx, query, sop); err != nil {
		return fmt.Errorf("create sop: %w", err)
	}
	return nil
}

// GetByID returns a job row by its identifier.
func (r *SOPRepository) GetByID(ctx context.Context, id string) (*models.SOP, error) {
	defer r.observeQuery("sop_get", time.Now())
	query := `SELECT ` + sopColumns + ` FROM sops WHERE id = $1`
	var sop models.SOP
	if err := r.db.GetContext(ctx, &sop, query, id); err != nil {
		return nil, fmt.Errorf("get sop: %w", err)
	}
	return &sop, nil
}

// UpdateSOPParams defines the mutable fields of a job row.
type UpdateSOPParams struct {
	Status       *models.SOPStatus
	Content      *models.SnapshotDoc
	Validation   *models.ResultDoc
	ErrorKind    *string
	ErrorMessage *string
	Attempts     *int
	ReviewedBy   *string
	ReviewedAt   *time.Time
	PDFPath      *string
	Archived     *bool
	CompletedAt  *time.Time
}

func (p UpdateSOPParams) build(argPos int) ([]string, []interface{}, int) {
	set := make([]string, 0, 12)
	args := make([]interface{}, 0, 12)

	add := func(column string, value interface{}) {
		set = append(set, fmt.Sprintf("%s = $%d", column, argPos))
		args = append(args, value)
		argPos++
	}

	if p.Status != nil {
		add("status", *p.Status)
	}
	if p.Content != nil {
		add("content", *p.Content)
	}
	if p.Validation != nil {
		add("validation", *p.Validation)
	}
	if p.ErrorKind != nil {
		add("error_kind", *p.ErrorKind)
	}
	if p.ErrorMessage != nil {
		add("error_message", *p.ErrorMessage)
	}
	if p.Attempts != nil {
		add("attempts", *p.Attempts)
	}
	if p.ReviewedBy != nil {
		add("reviewed_by", *p.ReviewedBy)
	}
	if p.ReviewedAt != nil {
		add("reviewed_at", *p.ReviewedAt)
	}
	if p.PDFPath != nil {
		add("pdf_path", *p.PDFPath)
	}
	if p.Archived != nil {
		add("archived", *p.Archived)
	}
	if p.CompletedAt != nil {
		add("completed_at", *p.CompletedAt)
	}
	add("updated_at", time.Now().UTC())

	return set, args, argPos
}

// Update persists the provided changes for a job row outside a transition.
func (r *SOPRepository) Update(ctx context.Context, id string, params UpdateSOPParams) error {
	defer r.observeQuery("sop_update", time.Now())
	set, args, argPos := params.build(1)
	query := fmt.Sprintf("UPDATE sops SET %s WHERE id = $%d", strings.Join(set, ", "), argPos)
	args = append(args, id)

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update sop: %w", err)
	}
	return nil
}

// Transition applies a job update and appends its audit entries in a single
// transaction: either all land or none do, so the audit trail can never be
// missing an entry for a state the job row shows as reached.
func (r *SOPRepository) Transition(ctx context.Context, id string, params UpdateSOPParams, entries ...*models.AuditEntry) error {
	defer r.observeQuery("sop_transition", time.Now())
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	set, args, argPos := params.build(1)
	query := fmt.Sprintf("UPDATE sops SET %s WHERE id = $%d", strings.Join(set, ", "), argPos)
	args = append(args, id)

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("transition sop: %w", err)
	}
	for _, entry := range entries {
		if entry == nil {
			continue
		}
		if err := insertAuditEntry(ctx, tx, entry); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transition: %w", err)
	}
	return nil
}

// CreateWithAudit inserts a new job row and its creation audit entry
// atomically.
func (r *SOPRepository) CreateWithAudit(ctx context.Context, sop *models.SOP, entry *models.AuditEntry) error {
	defer r.observeQuery("sop_create", time.Now())
	if sop.ID == "" {
		sop.ID = uuid.NewString()
	}
	if sop.Status == "" {
		sop.Status = models.SOPStatusPending
	}
	now := time.Now().UTC()
	if sop.CreatedAt.IsZero() {
		sop.CreatedAt = now
	}
	sop.UpdatedAt = now
	if entry != nil && entry.ResourceID == "" {
		entry.ResourceID = sop.ID
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const query = `INSERT INTO sops (id, title, description, department, priority, spec, status, content, validation,
error_kind, error_message, attempts, reviewed_by, reviewed_at, pdf_path, archived,
created_by, created_at, updated_at, completed_at)
VALUES (:id, :title, :description, :department, :priority, :spec, :status, :content, :validation,
:error_kind, :error_message, :attempts, :reviewed_by, :reviewed_at, :pdf_path, :archived,
:created_by, :created_at, :updated_at, :completed_at)`
	if _, err := tx.NamedExecContext(ctx, query, sop); err != nil {
		return fmt.Errorf("create sop: %w", err)
	}
	if entry != nil {
		if err := insertAuditEntry(ctx, tx, entry); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create: %w", err)
	}
	return nil
}

// SOPFilter narrows List results.
type SOPFilter struct {
	Status     []models.SOPStatus
	Department []models.Department
	Priority   []models.SOPPriority
	CreatedBy  string
	Title      string
	From       *time.Time
	To         *time.Time
	MinScore   *int
	Archived   *bool

	Page  int
	Limit int
	Sort  string
	Order string
}

var sopSortColumns = map[string]string{
	"created_at": "created_at",
	"updated_at": "updated_at",
	"title":      "title",
	"status":     "status",
	"priority":   "priority",
}

// List returns matching jobs and the total count for pagination.
func (r *SOPRepository) List(ctx context.Context, filter SOPFilter) ([]models.SOP, int, error) {
	defer r.observeQuery("sop_list", time.Now())
	where := make([]string, 0, 8)
	args := make([]interface{}, 0, 8)
	argPos := 1

	addIn := func(column string, values []string) {
		placeholders := make([]string, 0, len(values))
		for _, v := range values {
			placeholders = append(placeholders, fmt.Sprintf("$%d", argPos))
			args = append(args, v)
			argPos++
		}
		where = append(where, fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ", ")))
	}

	if len(filter.Status) > 0 {
		values := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			values[i] = string(s)
		}
		addIn("status", values)
	}
	if len(filter.Department) > 0 {
		values := make([]string, len(filter.Department))
		for i, d := range filter.Department {
			values[i] = string(d)
		}
		addIn("department", values)
	}
	if len(filter.Priority) > 0 {
		values := make([]string, len(filter.Priority))
		for i, p := range filter.Priority {
			values[i] = string(p)
		}
		addIn("priority", values)
	}
	if filter.CreatedBy != "" {
		where = append(where, fmt.Sprintf("created_by = $%d", argPos))
		args = append(args, filter.CreatedBy)
		argPos++
	}
	if filter.Title != "" {
		where = append(where, fmt.Sprintf("title ILIKE $%d", argPos))
		args = append(args, "%"+filter.Title+"%")
		argPos++
	}
	if filter.From != nil {
		where = append(where, fmt.Sprintf("created_at >= $%d", argPos))
		args = append(args, *filter.From)
		argPos++
	}
	if filter.To != nil {
		where = append(where, fmt.Sprintf("created_at <= $%d", argPos))
		args = append(args, *filter.To)
		argPos++
	}
	if filter.MinScore != nil {
		where = append(where, fmt.Sprintf("(validation->>'score')::int >= $%d", argPos))
		args = append(args, *filter.MinScore)
		argPos++
	}
	if filter.Archived != nil {
		where = append(where, fmt.Sprintf("archived = $%d", argPos))
		args = append(args, *filter.Archived)
		argPos++
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM sops" + clause
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count sops: %w", err)
	}

	sort, ok := sopSortColumns[filter.Sort]
	if !ok {
		sort = "created_at"
	}
	order := "DESC"
	if strings.EqualFold(filter.Order, "asc") {
		order = "ASC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	query := fmt.Sprintf("SELECT %s FROM sops%s ORDER BY %s %s LIMIT $%d OFFSET $%d",
		sopColumns, clause, sort, order, argPos, argPos+1)
	args = append(args, limit, (page-1)*limit)

	var sops []models.SOP
	if err := r.db.SelectContext(ctx, &sops, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list sops: %w", err)
	}
	return sops, total, nil
}

// ListByStatus fetches jobs in a given state, oldest first (used for cold
// start recovery of pending work).
func (r *SOPRepository) ListByStatus(ctx context.Context, status models.SOPStatus, limit int) ([]models.SOP, error) {
	defer r.observeQuery("sop_list_by_status", time.Now())
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + sopColumns + ` FROM sops WHERE status = $1 ORDER BY created_at ASC LIMIT $2`
	var sops []models.SOP
	if err := r.db.SelectContext(ctx, &sops, query, status, limit); err != nil {
		return nil, fmt.Errorf("list sops by status: %w", err)
	}
	return sops, nil
}
