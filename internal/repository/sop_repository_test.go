package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/sopworks/sop-api/internal/models"
)

func newSOPRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func sopRows(id string, status models.SOPStatus) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "title", "description", "department", "priority", "spec", "status", "content", "validation",
		"error_kind", "error_message", "attempts", "reviewed_by", "reviewed_at", "pdf_path", "archived",
		"created_by", "created_at", "updated_at", "completed_at",
	}).AddRow(
		id, "Line Clearance", "Clearance before batch start", "manufacturing", "high",
		`{"sections":[{"title":"Purpose"}],"frameworks":["fda_21_cfr_211"]}`, string(status), nil, nil,
		nil, nil, 0, nil, nil, nil, false,
		"user-1", now, now, nil,
	)
}

func TestSOPRepositoryCreateWithAudit(t *testing.T) {
	db, mock, cleanup := newSOPRepoMock(t)
	defer cleanup()
	repo := NewSOPRepository(db, nil)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sops")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_entries")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	sop := &models.SOP{
		Title:       "Line Clearance",
		Description: "Clearance before batch start",
		Department:  models.DepartmentManufacturing,
		Priority:    models.PriorityHigh,
		Spec: models.SOPSpec{
			Sections:   []models.SectionRequest{{Title: "Purpose"}},
			Frameworks: []models.RegulatoryFramework{models.FrameworkFDA21CFR211},
		},
		CreatedBy: "user-1",
	}
	entry := &models.AuditEntry{ActorID: "user-1", Action: models.AuditActionCreate, ResourceType: "sop"}

	require.NoError(t, repo.CreateWithAudit(context.Background(), sop, entry))
	require.NotEmpty(t, sop.ID)
	require.Equal(t, models.SOPStatusPending, sop.Status)
	require.Equal(t, sop.ID, entry.ResourceID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSOPRepositoryCreateWithAuditRollsBackOnAuditFailure(t *testing.T) {
	db, mock, cleanup := newSOPRepoMock(t)
	defer cleanup()
	repo := NewSOPRepository(db, nil)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sops")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_entries")).
		WillReturnError(context.DeadlineExceeded)
	mock.ExpectRollback()

	sop := &models.SOP{Title: "Line Clearance", Description: "desc", Department: models.DepartmentManufacturing}
	err := repo.CreateWithAudit(context.Background(), sop, &models.AuditEntry{ActorID: "user-1", Action: models.AuditActionCreate})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSOPRepositoryGetByID(t *testing.T) {
	db, mock, cleanup := newSOPRepoMock(t)
	defer cleanup()
	repo := NewSOPRepository(db, nil)

	mock.ExpectQuery(regexp.QuoteMeta("FROM sops WHERE id = $1")).
		WithArgs("job-1").
		WillReturnRows(sopRows("job-1", models.SOPStatusPending))

	sop, err := repo.GetByID(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, "job-1", sop.ID)
	require.Equal(t, models.SOPStatusPending, sop.Status)
	require.Len(t, sop.Spec.Sections, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSOPRepositoryTransitionAppliesUpdateAndAudit(t *testing.T) {
	db, mock, cleanup := newSOPRepoMock(t)
	defer cleanup()
	repo := NewSOPRepository(db, nil)

	status := models.SOPStatusProcessing
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE sops SET status = $1, updated_at = $2 WHERE id = $3")).
		WithArgs(status, sqlmock.AnyArg(), "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_entries")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.Transition(context.Background(), "job-1", UpdateSOPParams{Status: &status}, &models.AuditEntry{
		ActorID:      "system",
		Action:       models.AuditActionAdvance,
		ResourceType: "sop",
		ResourceID:   "job-1",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSOPRepositoryTransitionMultipleEntries(t *testing.T) {
	db, mock, cleanup := newSOPRepoMock(t)
	defer cleanup()
	repo := NewSOPRepository(db, nil)

	status := models.SOPStatusCompleted
	attempts := 1
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE sops SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_entries")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_entries")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.Transition(context.Background(), "job-1", UpdateSOPParams{Status: &status, Attempts: &attempts},
		&models.AuditEntry{ActorID: "system", Action: models.AuditActionAdvance},
		&models.AuditEntry{ActorID: "system", Action: models.AuditActionValidate},
	)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSOPRepositoryTransitionRollsBackOnUpdateFailure(t *testing.T) {
	db, mock, cleanup := newSOPRepoMock(t)
	defer cleanup()
	repo := NewSOPRepository(db, nil)

	status := models.SOPStatusFailed
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE sops SET")).
		WillReturnError(context.DeadlineExceeded)
	mock.ExpectRollback()

	err := repo.Transition(context.Background(), "job-1", UpdateSOPParams{Status: &status},
		&models.AuditEntry{ActorID: "system", Action: models.AuditActionAdvance})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSOPRepositoryUpdateBuildsPositionalSet(t *testing.T) {
	db, mock, cleanup := newSOPRepoMock(t)
	defer cleanup()
	repo := NewSOPRepository(db, nil)

	status := models.SOPStatusFailed
	kind := "EngineUnavailable"
	message := "engine down"
	attempts := 3
	mock.ExpectExec(regexp.QuoteMeta("UPDATE sops SET status = $1, error_kind = $2, error_message = $3, attempts = $4, updated_at = $5 WHERE id = $6")).
		WithArgs(status, kind, message, attempts, sqlmock.AnyArg(), "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Update(context.Background(), "job-1", UpdateSOPParams{
		Status:       &status,
		ErrorKind:    &kind,
		ErrorMessage: &message,
		Attempts:     &attempts,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSOPRepositoryListWithFilters(t *testing.T) {
	db, mock, cleanup := newSOPRepoMock(t)
	defer cleanup()
	repo := NewSOPRepository(db, nil)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM sops WHERE status IN ($1) AND department IN ($2) AND title ILIKE $3")).
		WithArgs("COMPLETED", "manufacturing", "%clearance%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM sops WHERE status IN ($1) AND department IN ($2) AND title ILIKE $3 ORDER BY created_at DESC LIMIT $4 OFFSET $5")).
		WithArgs("COMPLETED", "manufacturing", "%clearance%", 20, 0).
		WillReturnRows(sopRows("job-1", models.SOPStatusCompleted))

	sops, total, err := repo.List(context.Background(), SOPFilter{
		Status:     []models.SOPStatus{models.SOPStatusCompleted},
		Department: []models.Department{models.DepartmentManufacturing},
		Title:      "clearance",
	})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, sops, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSOPRepositoryListByStatus(t *testing.T) {
	db, mock, cleanup := newSOPRepoMock(t)
	defer cleanup()
	repo := NewSOPRepository(db, nil)

	mock.ExpectQuery(regexp.QuoteMeta("FROM sops WHERE status = $1 ORDER BY created_at ASC LIMIT $2")).
		WithArgs(models.SOPStatusPending, 50).
		WillReturnRows(sopRows("job-1", models.SOPStatusPending))

	sops, err := repo.ListByStatus(context.Background(), models.SOPStatusPending, 50)
	require.NoError(t, err)
	require.Len(t, sops, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSOPRepositoryReportsQueryTimings(t *testing.T) {
	db, mock, cleanup := newSOPRepoMock(t)
	defer cleanup()

	var labels []string
	repo := NewSOPRepository(db, func(label string, duration time.Duration) {
		labels = append(labels, label)
		require.GreaterOrEqual(t, duration, time.Duration(0))
	})

	mock.ExpectQuery(regexp.QuoteMeta("FROM sops WHERE id = $1")).
		WithArgs("job-1").
		WillReturnRows(sopRows("job-1", models.SOPStatusPending))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE sops SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err := repo.GetByID(context.Background(), "job-1")
	require.NoError(t, err)

	status := models.SOPStatusProcessing
	require.NoError(t, repo.Transition(context.Background(), "job-1", UpdateSOPParams{Status: &status}))

	require.Equal(t, []string{"sop_get", "sop_transition"}, labels)
	require.NoError(t, mock.ExpectationsWereMet())
}
