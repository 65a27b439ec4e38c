package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sopworks/sop-api/internal/dto"
	"github.com/sopworks/sop-api/internal/generation"
	"github.com/sopworks/sop-api/internal/models"
	"github.com/sopworks/sop-api/internal/repository"
	"github.com/sopworks/sop-api/internal/validation"
	appErrors "github.com/sopworks/sop-api/pkg/errors"
	"github.com/sopworks/sop-api/pkg/jobs"
)

type sopStoreStub struct {
	mu      sync.Mutex
	sops    map[string]*models.SOP
	entries []*models.AuditEntry
}

func newSOPStoreStub() *sopStoreStub {
	return &sopStoreStub{sops: make(map[string]*models.SOP)}
}

func (s *sopStoreStub) CreateWithAudit(ctx context.Context, sop *models.SOP, entry *models.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sop.ID == "" {
		sop.ID = fmt.Sprintf("job-%d", len(s.sops)+1)
	}
	if sop.CreatedAt.IsZero() {
		sop.CreatedAt = time.Now().UTC()
	}
	copy := *sop
	s.sops[sop.ID] = &copy
	if entry != nil {
		entry.ResourceID = sop.ID
		s.entries = append(s.entries, entry)
	}
	return nil
}

func (s *sopStoreStub) GetByID(ctx context.Context, id string) (*models.SOP, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sop, ok := s.sops[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *sop
	return &copy, nil
}

func (s *sopStoreStub) Transition(ctx context.Context, id string, params repository.UpdateSOPParams, entries ...*models.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sop, ok := s.sops[id]
	if !ok {
		return sql.ErrNoRows
	}
	if params.Status != nil {
		sop.Status = *params.Status
	}
	if params.Content != nil {
		sop.Content = params.Content
	}
	if params.Validation != nil {
		sop.Validation = params.Validation
	}
	if params.ErrorKind != nil {
		sop.ErrorKind = params.ErrorKind
	}
	if params.ErrorMessage != nil {
		sop.ErrorMessage = params.ErrorMessage
	}
	if params.Attempts != nil {
		sop.Attempts = *params.Attempts
	}
	if params.ReviewedBy != nil {
		sop.ReviewedBy = params.ReviewedBy
	}
	if params.ReviewedAt != nil {
		sop.ReviewedAt = params.ReviewedAt
	}
	if params.PDFPath != nil {
		sop.PDFPath = params.PDFPath
	}
	if params.Archived != nil {
		sop.Archived = *params.Archived
	}
	if params.CompletedAt != nil {
		sop.CompletedAt = params.CompletedAt
	}
	sop.UpdatedAt = time.Now().UTC()
	for _, entry := range entries {
		if entry != nil {
			s.entries = append(s.entries, entry)
		}
	}
	return nil
}

func (s *sopStoreStub) List(ctx context.Context, filter repository.SOPFilter) ([]models.SOP, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]models.SOP, 0, len(s.sops))
	for _, sop := range s.sops {
		result = append(result, *sop)
	}
	return result, len(result), nil
}

func (s *sopStoreStub) ListByStatus(ctx context.Context, status models.SOPStatus, limit int) ([]models.SOP, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]models.SOP, 0)
	for _, sop := range s.sops {
		if sop.Status == status {
			result = append(result, *sop)
		}
	}
	return result, nil
}

func (s *sopStoreStub) auditActions() []models.AuditAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	actions := make([]models.AuditAction, 0, len(s.entries))
	for _, entry := range s.entries {
		actions = append(actions, entry.Action)
	}
	return actions
}

type queueStub struct {
	mu   sync.Mutex
	jobs []jobs.Job
	fail bool
}

func (q *queueStub) Enqueue(job jobs.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fail {
		return fmt.Errorf("queue full")
	}
	q.jobs = append(q.jobs, job)
	return nil
}

type engineStub struct {
	mu       sync.Mutex
	calls    int
	failures []error
	snapshot *models.ContentSnapshot
}

func (e *engineStub) Generate(ctx context.Context, input generation.Input) (*models.ContentSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if len(e.failures) > 0 {
		err := e.failures[0]
		e.failures = e.failures[1:]
		return nil, err
	}
	if e.snapshot != nil {
		return e.snapshot, nil
	}
	sections := make([]models.ContentSection, 0, len(input.Sections))
	for _, s := range input.Sections {
		sections = append(sections, models.ContentSection{Title: s.Title, Body: "Step one. Step two."})
	}
	return &models.ContentSnapshot{
		Sections:     sections,
		SectionCount: len(sections),
		WordCount:    4 * len(sections),
		GeneratedAt:  time.Now().UTC(),
		Engine:       "stub",
	}, nil
}

type notifierStub struct {
	mu      sync.Mutex
	entries []*models.AuditEntry
}

func (n *notifierStub) NotifyReviewNeeded(ctx context.Context, entry *models.AuditEntry) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.entries = append(n.entries, entry)
}

func newTestService(store *sopStoreStub, engine *engineStub, queue *queueStub, notifier *notifierStub) *SOPService {
	svc := NewSOPService(store, engine, validation.New(), queue, notifier, nil, nil, SOPServiceConfig{
		MaxAttempts:    3,
		AttemptTimeout: time.Second,
		RetryBackoff:   time.Millisecond,
	})
	svc.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return svc
}

func submitRequest() dto.SubmitSOPRequest {
	return dto.SubmitSOPRequest{
		Title:       "Tablet Compression Line Changeover",
		Description: "Cleaning and changeover of the compression line between batches",
		Department:  models.DepartmentManufacturing,
		Priority:    models.PriorityHigh,
		Sections: []models.SectionRequest{
			{Title: "Purpose"},
			{Title: "Scope"},
			{Title: "Procedure"},
		},
		Frameworks:         []models.RegulatoryFramework{models.FrameworkFDA21CFR211},
		SafetyNotes:        "Wear gloves and eye protection",
		QualityCheckpoints: []string{"Verify line clearance"},
		Equipment:          []string{"Compression press"},
	}
}

func TestSubmitCreatesPendingJob(t *testing.T) {
	store := newSOPStoreStub()
	queue := &queueStub{}
	svc := newTestService(store, &engineStub{}, queue, nil)

	resp, err := svc.Submit(context.Background(), submitRequest(), "user-1")
	require.NoError(t, err)
	require.NotEmpty(t, resp.JobID)
	require.Equal(t, models.SOPStatusPending, resp.Status)
	require.False(t, resp.EstimatedCompletion.IsZero())

	sop, err := store.GetByID(context.Background(), resp.JobID)
	require.NoError(t, err)
	require.Equal(t, models.SOPStatusPending, sop.Status)
	require.Equal(t, "user-1", sop.CreatedBy)

	require.Len(t, queue.jobs, 1)
	require.Equal(t, resp.JobID, queue.jobs[0].ID)
	require.Equal(t, []models.AuditAction{models.AuditActionCreate}, store.auditActions())
}

func TestSubmitRejectsInvalidShape(t *testing.T) {
	store := newSOPStoreStub()
	svc := newTestService(store, &engineStub{}, &queueStub{}, nil)

	cases := map[string]func(*dto.SubmitSOPRequest){
		"empty title":        func(r *dto.SubmitSOPRequest) { r.Title = "   " },
		"empty description":  func(r *dto.SubmitSOPRequest) { r.Description = "" },
		"no sections":        func(r *dto.SubmitSOPRequest) { r.Sections = nil },
		"no frameworks":      func(r *dto.SubmitSOPRequest) { r.Frameworks = nil },
		"unknown department": func(r *dto.SubmitSOPRequest) { r.Department = "finance" },
		"unknown framework": func(r *dto.SubmitSOPRequest) {
			r.Frameworks = []models.RegulatoryFramework{"iso_0"}
		},
		"duplicate sections": func(r *dto.SubmitSOPRequest) {
			r.Sections = []models.SectionRequest{{Title: "Purpose"}, {Title: " purpose "}}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := submitRequest()
			mutate(&req)
			_, err := svc.Submit(context.Background(), req, "user-1")
			require.Error(t, err)
			appErr := appErrors.FromError(err)
			require.Equal(t, appErrors.ErrInvalidRequest.Code, appErr.Code)
		})
	}
	require.Empty(t, store.sops)
}

func TestAdvanceCompletesJob(t *testing.T) {
	store := newSOPStoreStub()
	engine := &engineStub{}
	svc := newTestService(store, engine, &queueStub{}, nil)

	resp, err := svc.Submit(context.Background(), submitRequest(), "user-1")
	require.NoError(t, err)

	require.NoError(t, svc.Advance(context.Background(), resp.JobID))

	sop, err := store.GetByID(context.Background(), resp.JobID)
	require.NoError(t, err)
	require.Equal(t, models.SOPStatusCompleted, sop.Status)
	require.Equal(t, 1, sop.Attempts)
	require.NotNil(t, sop.Content)
	require.Len(t, sop.Content.Sections, 3)
	require.NotNil(t, sop.Validation)
	require.Equal(t, 100, sop.Validation.Score)
	require.NotNil(t, sop.CompletedAt)
	require.Nil(t, sop.ErrorKind)

	actions := store.auditActions()
	require.Equal(t, []models.AuditAction{
		models.AuditActionCreate,
		models.AuditActionAdvance,
		models.AuditActionAdvance,
		models.AuditActionValidate,
	}, actions)
}

func TestAdvanceCompletesDespiteWarnings(t *testing.T) {
	store := newSOPStoreStub()
	svc := newTestService(store, &engineStub{}, &queueStub{}, nil)

	req := submitRequest()
	req.SafetyNotes = ""
	req.QualityCheckpoints = nil
	resp, err := svc.Submit(context.Background(), req, "user-1")
	require.NoError(t, err)

	require.NoError(t, svc.Advance(context.Background(), resp.JobID))

	sop, err := store.GetByID(context.Background(), resp.JobID)
	require.NoError(t, err)
	require.Equal(t, models.SOPStatusCompleted, sop.Status)
	require.Equal(t, 90, sop.Validation.Score)
}

func TestAdvanceRetriesThenFails(t *testing.T) {
	store := newSOPStoreStub()
	unavailable := &generation.EngineError{Kind: generation.KindEngineUnavailable, Message: "engine down"}
	engine := &engineStub{failures: []error{unavailable, unavailable, unavailable, unavailable}}
	svc := newTestService(store, engine, &queueStub{}, nil)

	resp, err := svc.Submit(context.Background(), submitRequest(), "user-1")
	require.NoError(t, err)

	require.NoError(t, svc.Advance(context.Background(), resp.JobID))

	require.Equal(t, 3, engine.calls)
	sop, err := store.GetByID(context.Background(), resp.JobID)
	require.NoError(t, err)
	require.Equal(t, models.SOPStatusFailed, sop.Status)
	require.Equal(t, 3, sop.Attempts)
	require.NotNil(t, sop.ErrorKind)
	require.Equal(t, string(generation.KindEngineUnavailable), *sop.ErrorKind)
	require.NotNil(t, sop.ErrorMessage)
	require.NotEmpty(t, *sop.ErrorMessage)
}

func TestAdvanceRetriesThenSucceeds(t *testing.T) {
	store := newSOPStoreStub()
	timeout := &generation.EngineError{Kind: generation.KindEngineTimeout, Message: "deadline exceeded"}
	engine := &engineStub{failures: []error{timeout}}
	svc := newTestService(store, engine, &queueStub{}, nil)

	resp, err := svc.Submit(context.Background(), submitRequest(), "user-1")
	require.NoError(t, err)

	require.NoError(t, svc.Advance(context.Background(), resp.JobID))

	require.Equal(t, 2, engine.calls)
	sop, err := store.GetByID(context.Background(), resp.JobID)
	require.NoError(t, err)
	require.Equal(t, models.SOPStatusCompleted, sop.Status)
	require.Equal(t, 2, sop.Attempts)
}

func TestAdvanceRejectionFailsImmediately(t *testing.T) {
	store := newSOPStoreStub()
	rejected := &generation.EngineError{Kind: generation.KindEngineRejected, Message: "content policy"}
	engine := &engineStub{failures: []error{rejected, rejected, rejected}}
	svc := newTestService(store, engine, &queueStub{}, nil)

	resp, err := svc.Submit(context.Background(), submitRequest(), "user-1")
	require.NoError(t, err)

	require.NoError(t, svc.Advance(context.Background(), resp.JobID))

	require.Equal(t, 1, engine.calls)
	sop, err := store.GetByID(context.Background(), resp.JobID)
	require.NoError(t, err)
	require.Equal(t, models.SOPStatusFailed, sop.Status)
	require.Equal(t, string(generation.KindEngineRejected), *sop.ErrorKind)
}

func TestAdvanceSkipsNonPendingJob(t *testing.T) {
	store := newSOPStoreStub()
	engine := &engineStub{}
	svc := newTestService(store, engine, &queueStub{}, nil)

	resp, err := svc.Submit(context.Background(), submitRequest(), "user-1")
	require.NoError(t, err)
	require.NoError(t, svc.Advance(context.Background(), resp.JobID))
	require.Equal(t, 1, engine.calls)

	// second dispatch of the same job must be a no-op
	require.NoError(t, svc.Advance(context.Background(), resp.JobID))
	require.Equal(t, 1, engine.calls)

	sop, err := store.GetByID(context.Background(), resp.JobID)
	require.NoError(t, err)
	require.Equal(t, models.SOPStatusCompleted, sop.Status)
}

func TestAdvanceNotifiesReviewQueueOnFailedChecks(t *testing.T) {
	store := newSOPStoreStub()
	notifier := &notifierStub{}
	engine := &engineStub{}
	svc := newTestService(store, engine, &queueStub{}, notifier)

	req := submitRequest()
	resp, err := svc.Submit(context.Background(), req, "user-1")
	require.NoError(t, err)
	// blank the stored description so the fail-level required fields check
	// trips during validation
	store.mu.Lock()
	store.sops[resp.JobID].Description = ""
	store.mu.Unlock()

	require.NoError(t, svc.Advance(context.Background(), resp.JobID))

	sop, err := store.GetByID(context.Background(), resp.JobID)
	require.NoError(t, err)
	require.Equal(t, models.SOPStatusCompleted, sop.Status)
	require.True(t, sop.Validation.HasFailure())
	require.Len(t, notifier.entries, 1)
	require.True(t, notifier.entries[0].RequiresReview)
}

func TestQueryReturnsProjection(t *testing.T) {
	store := newSOPStoreStub()
	svc := newTestService(store, &engineStub{}, &queueStub{}, nil)

	resp, err := svc.Submit(context.Background(), submitRequest(), "user-1")
	require.NoError(t, err)

	first, err := svc.Query(context.Background(), resp.JobID)
	require.NoError(t, err)
	second, err := svc.Query(context.Background(), resp.JobID)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, models.SOPStatusPending, first.Status)
	require.Nil(t, first.Content)
}

func TestQueryUnknownJob(t *testing.T) {
	svc := newTestService(newSOPStoreStub(), &engineStub{}, &queueStub{}, nil)
	_, err := svc.Query(context.Background(), "missing")
	require.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestReviewLifecycle(t *testing.T) {
	store := newSOPStoreStub()
	svc := newTestService(store, &engineStub{}, &queueStub{}, nil)

	resp, err := svc.Submit(context.Background(), submitRequest(), "user-1")
	require.NoError(t, err)
	require.NoError(t, svc.Advance(context.Background(), resp.JobID))

	underReview, err := svc.BeginReview(context.Background(), resp.JobID, "qa-lead")
	require.NoError(t, err)
	require.Equal(t, models.SOPStatusUnderReview, underReview.Status)

	approved, err := svc.Review(context.Background(), resp.JobID, "approve", "qa-lead")
	require.NoError(t, err)
	require.Equal(t, models.SOPStatusApproved, approved.Status)
	require.Equal(t, "qa-lead", *approved.ReviewedBy)

	// terminal review state admits no further review
	_, err = svc.Review(context.Background(), resp.JobID, "reject", "qa-lead")
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	require.Equal(t, appErrors.ErrInvalidTransition.Code, appErr.Code)

	sop, err := store.GetByID(context.Background(), resp.JobID)
	require.NoError(t, err)
	require.Equal(t, models.SOPStatusApproved, sop.Status)
}

func TestReviewDirectlyFromCompleted(t *testing.T) {
	store := newSOPStoreStub()
	svc := newTestService(store, &engineStub{}, &queueStub{}, nil)

	resp, err := svc.Submit(context.Background(), submitRequest(), "user-1")
	require.NoError(t, err)
	require.NoError(t, svc.Advance(context.Background(), resp.JobID))

	rejectedResp, err := svc.Review(context.Background(), resp.JobID, "reject", "qa-lead")
	require.NoError(t, err)
	require.Equal(t, models.SOPStatusRejected, rejectedResp.Status)
}

func TestReviewRequiresReviewableState(t *testing.T) {
	store := newSOPStoreStub()
	svc := newTestService(store, &engineStub{}, &queueStub{}, nil)

	resp, err := svc.Submit(context.Background(), submitRequest(), "user-1")
	require.NoError(t, err)

	_, err = svc.Review(context.Background(), resp.JobID, "approve", "qa-lead")
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	require.Equal(t, appErrors.ErrInvalidTransition.Code, appErr.Code)

	sop, err := store.GetByID(context.Background(), resp.JobID)
	require.NoError(t, err)
	require.Equal(t, models.SOPStatusPending, sop.Status)
}

func TestReviewInvalidOutcome(t *testing.T) {
	svc := newTestService(newSOPStoreStub(), &engineStub{}, &queueStub{}, nil)
	_, err := svc.Review(context.Background(), "job-1", "maybe", "qa-lead")
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	require.Equal(t, appErrors.ErrInvalidRequest.Code, appErr.Code)
}

func TestCancelPendingJob(t *testing.T) {
	store := newSOPStoreStub()
	svc := newTestService(store, &engineStub{}, &queueStub{}, nil)

	resp, err := svc.Submit(context.Background(), submitRequest(), "user-1")
	require.NoError(t, err)

	cancelled, err := svc.Cancel(context.Background(), resp.JobID, "user-1")
	require.NoError(t, err)
	require.Equal(t, models.SOPStatusFailed, cancelled.Status)
	require.Equal(t, string(generation.KindCancelled), cancelled.Error.Kind)

	// worker dispatch arriving after cancellation is ignored
	require.NoError(t, svc.Advance(context.Background(), resp.JobID))
	sop, err := store.GetByID(context.Background(), resp.JobID)
	require.NoError(t, err)
	require.Equal(t, models.SOPStatusFailed, sop.Status)
}

func TestCancelTerminalJobRejected(t *testing.T) {
	store := newSOPStoreStub()
	svc := newTestService(store, &engineStub{}, &queueStub{}, nil)

	resp, err := svc.Submit(context.Background(), submitRequest(), "user-1")
	require.NoError(t, err)
	require.NoError(t, svc.Advance(context.Background(), resp.JobID))

	_, err = svc.Cancel(context.Background(), resp.JobID, "user-1")
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	require.Equal(t, appErrors.ErrInvalidTransition.Code, appErr.Code)
}

func TestArchiveTerminalJob(t *testing.T) {
	store := newSOPStoreStub()
	svc := newTestService(store, &engineStub{}, &queueStub{}, nil)

	resp, err := svc.Submit(context.Background(), submitRequest(), "user-1")
	require.NoError(t, err)
	require.NoError(t, svc.Advance(context.Background(), resp.JobID))
	_, err = svc.Review(context.Background(), resp.JobID, "approve", "qa-lead")
	require.NoError(t, err)

	archived, err := svc.Archive(context.Background(), resp.JobID, "user-1")
	require.NoError(t, err)
	require.True(t, archived.Archived)

	// archiving twice is idempotent
	again, err := svc.Archive(context.Background(), resp.JobID, "user-1")
	require.NoError(t, err)
	require.True(t, again.Archived)

	// nothing can mutate an archived job, so its serialization entry is gone
	require.Zero(t, syncMapLen(&svc.locks))
}

func syncMapLen(m *sync.Map) int {
	n := 0
	m.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// resolvingStore reports a job as PROCESSING on the first read and as
// COMPLETED afterwards, mimicking a run that finishes while a cancellation
// request is in flight.
type resolvingStore struct {
	*sopStoreStub
	reads int
}

func (s *resolvingStore) GetByID(ctx context.Context, id string) (*models.SOP, error) {
	sop, err := s.sopStoreStub.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.reads++
	if s.reads > 1 {
		sop.Status = models.SOPStatusCompleted
	}
	return sop, nil
}

func TestCancelAfterRunResolvedClearsFlag(t *testing.T) {
	base := newSOPStoreStub()
	base.sops["job-1"] = &models.SOP{ID: "job-1", Status: models.SOPStatusProcessing}
	store := &resolvingStore{sopStoreStub: base}
	svc := NewSOPService(store, &engineStub{}, validation.New(), &queueStub{}, nil, nil, nil, SOPServiceConfig{})

	resp, err := svc.Cancel(context.Background(), "job-1", "user-1")
	require.NoError(t, err)
	require.Equal(t, models.SOPStatusCompleted, resp.Status)

	// no run is left to consume the cancel flag, so it must not linger
	require.Zero(t, syncMapLen(&svc.cancelled))
	require.Zero(t, syncMapLen(&svc.cancels))
}

func TestArchiveActiveJobRejected(t *testing.T) {
	store := newSOPStoreStub()
	svc := newTestService(store, &engineStub{}, &queueStub{}, nil)

	resp, err := svc.Submit(context.Background(), submitRequest(), "user-1")
	require.NoError(t, err)

	_, err = svc.Archive(context.Background(), resp.JobID, "user-1")
	require.Error(t, err)
}

func TestRecoverJobsRequeuesPending(t *testing.T) {
	store := newSOPStoreStub()
	queue := &queueStub{}
	svc := newTestService(store, &engineStub{}, queue, nil)

	_, err := svc.Submit(context.Background(), submitRequest(), "user-1")
	require.NoError(t, err)
	queue.jobs = nil

	svc.RecoverJobs(context.Background())
	require.Len(t, queue.jobs, 1)
}

func TestRecoverJobsFailsStaleProcessing(t *testing.T) {
	store := newSOPStoreStub()
	store.sops["job-stale"] = &models.SOP{ID: "job-stale", Status: models.SOPStatusProcessing}
	queue := &queueStub{}
	svc := newTestService(store, &engineStub{}, queue, nil)

	svc.RecoverJobs(context.Background())

	sop, err := store.GetByID(context.Background(), "job-stale")
	require.NoError(t, err)
	require.Equal(t, models.SOPStatusFailed, sop.Status)
	require.NotNil(t, sop.ErrorKind)
	require.Equal(t, "Internal", *sop.ErrorKind)
	require.Empty(t, queue.jobs)
}

func TestSubmitEnqueueFailureFailsJob(t *testing.T) {
	store := newSOPStoreStub()
	queue := &queueStub{fail: true}
	svc := newTestService(store, &engineStub{}, queue, nil)

	_, err := svc.Submit(context.Background(), submitRequest(), "user-1")
	require.Error(t, err)

	// the persisted job is resolved to FAILED rather than left dangling
	require.Len(t, store.sops, 1)
	for _, sop := range store.sops {
		require.Equal(t, models.SOPStatusFailed, sop.Status)
	}
}
