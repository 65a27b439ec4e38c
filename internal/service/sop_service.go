package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sopworks/sop-api/internal/dto"
	"github.com/sopworks/sop-api/internal/generation"
	"github.com/sopworks/sop-api/internal/models"
	"github.com/sopworks/sop-api/internal/repository"
	appErrors "github.com/sopworks/sop-api/pkg/errors"
	"github.com/sopworks/sop-api/pkg/jobs"
)

type sopStore interface {
	CreateWithAudit(ctx context.Context, sop *models.SOP, entry *models.AuditEntry) error
	GetByID(ctx context.Context, id string) (*models.SOP, error)
	Transition(ctx context.Context, id string, params repository.UpdateSOPParams, entries ...*models.AuditEntry) error
	List(ctx context.Context, filter repository.SOPFilter) ([]models.SOP, int, error)
	ListByStatus(ctx context.Context, status models.SOPStatus, limit int) ([]models.SOP, error)
}

type contentEngine interface {
	Generate(ctx context.Context, input generation.Input) (*models.ContentSnapshot, error)
}

type complianceValidator interface {
	Validate(sop *models.SOP, snapshot *models.ContentSnapshot) models.ValidationResult
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

type reviewNotifier interface {
	NotifyReviewNeeded(ctx context.Context, entry *models.AuditEntry)
}

// SOPServiceConfig tunes generation retry behaviour and recovery.
type SOPServiceConfig struct {
	MaxAttempts    int
	AttemptTimeout time.Duration
	RetryBackoff   time.Duration
	RecoveryBatch  int
	EstimatedTime  time.Duration
}

// jobQueueType labels generation jobs on the dispatch queue.
const jobQueueType = "sop_generation"

// errKindInternal marks failures originating inside the service rather than
// the generation engine.
const errKindInternal = "Internal"

// SOPService is the job orchestrator: it owns every lifecycle transition,
// serializes all work per job identifier, and pairs each transition with its
// audit entry.
type SOPService struct {
	store     sopStore
	engine    contentEngine
	validator complianceValidator
	queue     jobDispatcher
	notifier  reviewNotifier
	metrics   *MetricsService
	validate  *validator.Validate
	logger    *zap.Logger
	cfg       SOPServiceConfig

	// locks serializes Advance/Review/Cancel/Archive per job id so work for
	// one job never interleaves.
	locks sync.Map
	// cancels holds the in-flight attempt cancel func per job id, letting
	// Cancel interrupt a PROCESSING job without taking its lock.
	cancels sync.Map
	// cancelled flags jobs whose current processing run must resolve to
	// FAILED with a Cancelled error detail.
	cancelled sync.Map

	sleep func(ctx context.Context, d time.Duration) error
}

// NewSOPService constructs the orchestrator.
func NewSOPService(store sopStore, engine contentEngine, compliance complianceValidator, queue jobDispatcher, notifier reviewNotifier, metrics *MetricsService, logger *zap.Logger, cfg SOPServiceConfig) *SOPService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 90 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 2 * time.Second
	}
	if cfg.RecoveryBatch <= 0 {
		cfg.RecoveryBatch = 50
	}
	if cfg.EstimatedTime <= 0 {
		cfg.EstimatedTime = 2 * time.Minute
	}
	validate := validator.New()
	validate.RegisterValidation("department", func(fl validator.FieldLevel) bool { //nolint:errcheck
		return models.ValidDepartment(models.Department(fl.Field().String()))
	})
	validate.RegisterValidation("priority", func(fl validator.FieldLevel) bool { //nolint:errcheck
		return models.ValidPriority(models.SOPPriority(fl.Field().String()))
	})
	validate.RegisterValidation("framework", func(fl validator.FieldLevel) bool { //nolint:errcheck
		return models.ValidFramework(models.RegulatoryFramework(fl.Field().String()))
	})
	return &SOPService{
		store:     store,
		engine:    engine,
		validator: compliance,
		queue:     queue,
		notifier:  notifier,
		metrics:   metrics,
		validate:  validate,
		logger:    logger,
		cfg:       cfg,
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *SOPService) lock(jobID string) func() {
	muAny, _ := s.locks.LoadOrStore(jobID, &sync.Mutex{})
	mu := muAny.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Submit validates the request shape, persists a PENDING job together with
// its creation audit entry, enqueues processing, and returns immediately.
func (s *SOPService) Submit(ctx context.Context, req dto.SubmitSOPRequest, actorID string) (*dto.SubmitSOPResponse, error) {
	if err := s.validateSubmit(&req); err != nil {
		return nil, err
	}

	sop := &models.SOP{
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
		Department:  req.Department,
		Priority:    req.Priority,
		Spec: models.SOPSpec{
			Sections:           req.Sections,
			Frameworks:         req.Frameworks,
			Equipment:          req.Equipment,
			Materials:          req.Materials,
			SafetyNotes:        req.SafetyNotes,
			QualityCheckpoints: req.QualityCheckpoints,
			Requirements:       req.Requirements,
		},
		Status:    models.SOPStatusPending,
		CreatedBy: actorID,
	}

	entry := &models.AuditEntry{
		ActorID:      actorID,
		Action:       models.AuditActionCreate,
		ResourceType: "sop",
		Severity:     models.SeverityInfo,
		Description:  fmt.Sprintf("created SOP generation job: %s", sop.Title),
		NewValues:    models.AuditValues{"status": models.SOPStatusPending, "title": sop.Title},
	}

	if err := s.store.CreateWithAudit(ctx, sop, entry); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to persist job")
	}
	s.observeTransition("", models.SOPStatusPending)

	if err := s.queue.Enqueue(jobs.Job{ID: sop.ID, Type: jobQueueType}); err != nil {
		s.failJob(ctx, sop.ID, actorID, models.SOPStatusPending, errKindInternal, "failed to dispatch generation job")
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue job")
	}

	return &dto.SubmitSOPResponse{
		JobID:               sop.ID,
		Status:              sop.Status,
		EstimatedCompletion: time.Now().UTC().Add(s.cfg.EstimatedTime),
	}, nil
}

func (s *SOPService) validateSubmit(req *dto.SubmitSOPRequest) error {
	invalid := func(msg string) error {
		return appErrors.Clone(appErrors.ErrInvalidRequest, msg)
	}
	if req.Priority == "" {
		req.Priority = models.PriorityMedium
	}
	if err := s.validate.Struct(req); err != nil {
		return invalid(err.Error())
	}
	if strings.TrimSpace(req.Title) == "" {
		return invalid("title is required")
	}
	if strings.TrimSpace(req.Description) == "" {
		return invalid("description is required")
	}
	if len(req.Sections) == 0 {
		return invalid("at least one section is required")
	}
	seen := make(map[string]struct{}, len(req.Sections))
	for _, section := range req.Sections {
		title := strings.ToLower(strings.TrimSpace(section.Title))
		if title == "" {
			return invalid("section titles must not be empty")
		}
		if _, dup := seen[title]; dup {
			return invalid(fmt.Sprintf("duplicate section title: %s", section.Title))
		}
		seen[title] = struct{}{}
	}
	if len(req.Frameworks) == 0 {
		return invalid("at least one regulatory framework is required")
	}
	for _, f := range req.Frameworks {
		if !models.ValidFramework(f) {
			return invalid(fmt.Sprintf("unknown regulatory framework: %s", f))
		}
	}
	return nil
}

// Advance drives one PENDING job through generation and validation. It is
// invoked by the worker pool; at most one execution is active per job id.
func (s *SOPService) Advance(ctx context.Context, jobID string) error {
	unlock := s.lock(jobID)
	defer unlock()
	defer s.cancels.Delete(jobID)
	defer s.cancelled.Delete(jobID)

	sop, err := s.store.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Sugar().Warnw("advance for unknown job", "job_id", jobID)
			return nil
		}
		return err
	}
	if sop.Status != models.SOPStatusPending {
		// Duplicate dispatch or cancelled before processing; the state
		// machine never re-enters earlier states.
		s.logger.Sugar().Debugw("skipping advance", "job_id", jobID, "status", sop.Status)
		return nil
	}

	processing := models.SOPStatusProcessing
	if err := s.store.Transition(ctx, jobID, repository.UpdateSOPParams{Status: &processing}, &models.AuditEntry{
		ActorID:      "system",
		Action:       models.AuditActionAdvance,
		ResourceType: "sop",
		ResourceID:   jobID,
		Severity:     models.SeverityInfo,
		Description:  "generation started",
		OldValues:    models.AuditValues{"status": models.SOPStatusPending},
		NewValues:    models.AuditValues{"status": models.SOPStatusProcessing},
	}); err != nil {
		return err
	}
	sop.Status = processing
	s.observeTransition(models.SOPStatusPending, processing)

	snapshot, attempts, genErr := s.generate(ctx, sop)
	if genErr != nil {
		s.failJobWithAttempts(ctx, sop, attempts, genErr)
		return nil
	}
	if s.isCancelled(jobID) {
		s.failJobWithAttempts(ctx, sop, attempts, &generation.EngineError{
			Kind:    generation.KindCancelled,
			Message: "job cancelled while processing",
		})
		return nil
	}

	result := s.validator.Validate(sop, snapshot)
	s.completeJob(ctx, sop, snapshot, result, attempts)
	return nil
}

// generate runs bounded engine attempts with exponential backoff. It returns
// the snapshot, the number of attempts consumed, and the terminal error when
// all attempts are spent or a permanent failure occurs.
func (s *SOPService) generate(ctx context.Context, sop *models.SOP) (*models.ContentSnapshot, int, *generation.EngineError) {
	input := generation.Input{
		Title:        sop.Title,
		Description:  sop.Description,
		Department:   sop.Department,
		Sections:     sop.Spec.Sections,
		Frameworks:   sop.Spec.Frameworks,
		Requirements: sop.Spec.Requirements,
	}

	var lastErr *generation.EngineError
	attempts := 0
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		if s.isCancelled(sop.ID) {
			return nil, attempts, &generation.EngineError{Kind: generation.KindCancelled, Message: "job cancelled while processing"}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.AttemptTimeout)
		s.cancels.Store(sop.ID, cancel)

		attempts++
		start := time.Now()
		snapshot, err := s.engine.Generate(attemptCtx, input)
		cancel()
		s.cancels.Delete(sop.ID)
		s.observeGeneration(err, time.Since(start))

		if err == nil {
			return snapshot, attempts, nil
		}

		var engineErr *generation.EngineError
		if !errors.As(err, &engineErr) {
			engineErr = &generation.EngineError{Kind: generation.KindEngineUnavailable, Message: "engine call failed", Err: err}
		}
		lastErr = engineErr

		if engineErr.Kind == generation.KindCancelled || !engineErr.Retryable() {
			return nil, attempts, engineErr
		}
		s.logger.Sugar().Warnw("generation attempt failed",
			"job_id", sop.ID, "attempt", attempts, "kind", engineErr.Kind, "error", engineErr)

		if attempt < s.cfg.MaxAttempts {
			backoff := s.cfg.RetryBackoff << uint(attempt-1)
			if err := s.sleep(ctx, backoff); err != nil {
				return nil, attempts, &generation.EngineError{Kind: generation.KindCancelled, Message: "job cancelled while processing", Err: err}
			}
		}
	}
	return nil, attempts, lastErr
}

func (s *SOPService) completeJob(ctx context.Context, sop *models.SOP, snapshot *models.ContentSnapshot, result models.ValidationResult, attempts int) {
	completed := models.SOPStatusCompleted
	now := time.Now().UTC()
	content := models.SnapshotDoc{ContentSnapshot: *snapshot}
	validation := models.ResultDoc{ValidationResult: result}

	validationSeverity := models.SeverityInfo
	if result.HasFailure() {
		validationSeverity = models.SeverityWarning
	}
	validationEntry := &models.AuditEntry{
		ActorID:        "system",
		Action:         models.AuditActionValidate,
		ResourceType:   "sop",
		ResourceID:     sop.ID,
		Severity:       validationSeverity,
		Description:    fmt.Sprintf("compliance validation completed with score %d", result.Score),
		NewValues:      models.AuditValues{"score": result.Score},
		RequiresReview: result.HasFailure(),
	}
	transitionEntry := &models.AuditEntry{
		ActorID:      "system",
		Action:       models.AuditActionAdvance,
		ResourceType: "sop",
		ResourceID:   sop.ID,
		Severity:     models.SeverityInfo,
		Description:  fmt.Sprintf("generation completed after %d attempt(s)", attempts),
		OldValues:    models.AuditValues{"status": models.SOPStatusProcessing},
		NewValues:    models.AuditValues{"status": models.SOPStatusCompleted},
	}

	if err := s.store.Transition(ctx, sop.ID, repository.UpdateSOPParams{
		Status:      &completed,
		Content:     &content,
		Validation:  &validation,
		Attempts:    &attempts,
		CompletedAt: &now,
	}, transitionEntry, validationEntry); err != nil {
		s.logger.Sugar().Errorw("failed to persist completion", "job_id", sop.ID, "error", err)
		return
	}
	s.observeTransition(models.SOPStatusProcessing, completed)

	if result.HasFailure() && s.notifier != nil {
		s.notifier.NotifyReviewNeeded(ctx, validationEntry)
	}
}

func (s *SOPService) failJobWithAttempts(ctx context.Context, sop *models.SOP, attempts int, engineErr *generation.EngineError) {
	failed := models.SOPStatusFailed
	kind := string(engineErr.Kind)
	message := engineErr.Message
	if message == "" {
		message = "generation failed"
	}
	if err := s.store.Transition(ctx, sop.ID, repository.UpdateSOPParams{
		Status:       &failed,
		ErrorKind:    &kind,
		ErrorMessage: &message,
		Attempts:     &attempts,
	}, &models.AuditEntry{
		ActorID:      "system",
		Action:       models.AuditActionAdvance,
		ResourceType: "sop",
		ResourceID:   sop.ID,
		Severity:     models.SeverityError,
		Description:  fmt.Sprintf("generation failed after %d attempt(s): %s", attempts, message),
		OldValues:    models.AuditValues{"status": models.SOPStatusProcessing},
		NewValues:    models.AuditValues{"status": models.SOPStatusFailed, "error_kind": kind},
	}); err != nil {
		s.logger.Sugar().Errorw("failed to persist failure", "job_id", sop.ID, "error", err)
		return
	}
	s.observeTransition(models.SOPStatusProcessing, failed)
}

// failJob marks a job FAILED outside the processing path (e.g. dispatch
// failures right after submission, or cancellation of a PENDING job).
func (s *SOPService) failJob(ctx context.Context, jobID, actorID string, from models.SOPStatus, kind, message string) {
	failed := models.SOPStatusFailed
	if err := s.store.Transition(ctx, jobID, repository.UpdateSOPParams{
		Status:       &failed,
		ErrorKind:    &kind,
		ErrorMessage: &message,
	}, &models.AuditEntry{
		ActorID:      actorID,
		Action:       models.AuditActionCancel,
		ResourceType: "sop",
		ResourceID:   jobID,
		Severity:     models.SeverityWarning,
		Description:  message,
		OldValues:    models.AuditValues{"status": from},
		NewValues:    models.AuditValues{"status": models.SOPStatusFailed, "error_kind": kind},
	}); err != nil {
		s.logger.Sugar().Errorw("failed to persist job failure", "job_id", jobID, "error", err)
		return
	}
	s.observeTransition(from, failed)
}

// Query returns the current job projection. Read-only; safe to call
// concurrently with an in-flight Advance.
func (s *SOPService) Query(ctx context.Context, jobID string) (*dto.SOPResponse, error) {
	sop, err := s.store.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to load job")
	}
	return dto.FromSOP(sop), nil
}

// Search returns a filtered job listing for the query surface.
func (s *SOPService) Search(ctx context.Context, q dto.SOPSearchQuery) ([]dto.SOPResponse, *models.Pagination, error) {
	filter := repository.SOPFilter{
		CreatedBy: q.CreatedBy,
		Title:     q.Title,
		MinScore:  q.MinScore,
		Archived:  q.Archived,
		Page:      q.Page,
		Limit:     q.Limit,
		Sort:      q.Sort,
		Order:     q.Order,
	}
	for _, raw := range q.Status {
		filter.Status = append(filter.Status, models.SOPStatus(strings.ToUpper(raw)))
	}
	for _, raw := range q.Department {
		filter.Department = append(filter.Department, models.Department(raw))
	}
	for _, raw := range q.Priority {
		filter.Priority = append(filter.Priority, models.SOPPriority(raw))
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

	sops, total, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to list jobs")
	}

	responses := make([]dto.SOPResponse, 0, len(sops))
	for i := range sops {
		responses = append(responses, *dto.FromSOP(&sops[i]))
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	pagination := &models.Pagination{
		Page:       page,
		Limit:      limit,
		TotalItems: total,
		TotalPages: (total + limit - 1) / limit,
	}
	return responses, pagination, nil
}

func parseTimeParam(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// BeginReview moves a COMPLETED job under human review.
func (s *SOPService) BeginReview(ctx context.Context, jobID, reviewer string) (*dto.SOPResponse, error) {
	unlock := s.lock(jobID)
	defer unlock()

	sop, err := s.loadForUpdate(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if sop.Status != models.SOPStatusCompleted {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("job in state %s cannot enter review", sop.Status))
	}

	underReview := models.SOPStatusUnderReview
	if err := s.store.Transition(ctx, jobID, repository.UpdateSOPParams{Status: &underReview}, &models.AuditEntry{
		ActorID:      reviewer,
		Action:       models.AuditActionReview,
		ResourceType: "sop",
		ResourceID:   jobID,
		Severity:     models.SeverityInfo,
		Description:  "review started",
		OldValues:    models.AuditValues{"status": models.SOPStatusCompleted},
		NewValues:    models.AuditValues{"status": models.SOPStatusUnderReview},
	}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to persist review start")
	}
	s.observeTransition(models.SOPStatusCompleted, underReview)

	sop.Status = underReview
	return dto.FromSOP(sop), nil
}

// Review applies a human review outcome to a reviewable job.
func (s *SOPService) Review(ctx context.Context, jobID, outcome, reviewer string) (*dto.SOPResponse, error) {
	var target models.SOPStatus
	switch strings.ToLower(outcome) {
	case "approve":
		target = models.SOPStatusApproved
	case "reject":
		target = models.SOPStatusRejected
	default:
		return nil, appErrors.Clone(appErrors.ErrInvalidRequest, "outcome must be approve or reject")
	}

	unlock := s.lock(jobID)
	defer unlock()

	sop, err := s.loadForUpdate(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !sop.Status.Reviewable() {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("job in state %s is not reviewable", sop.Status))
	}

	now := time.Now().UTC()
	from := sop.Status
	if err := s.store.Transition(ctx, jobID, repository.UpdateSOPParams{
		Status:     &target,
		ReviewedBy: &reviewer,
		ReviewedAt: &now,
	}, &models.AuditEntry{
		ActorID:      reviewer,
		Action:       models.AuditActionReview,
		ResourceType: "sop",
		ResourceID:   jobID,
		Severity:     models.SeverityInfo,
		Description:  fmt.Sprintf("review outcome: %s", strings.ToLower(outcome)),
		OldValues:    models.AuditValues{"status": from},
		NewValues:    models.AuditValues{"status": target, "reviewed_by": reviewer},
	}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to persist review")
	}
	s.observeTransition(from, target)

	sop.Status = target
	sop.ReviewedBy = &reviewer
	sop.ReviewedAt = &now
	return dto.FromSOP(sop), nil
}

// Cancel stops a job. PENDING jobs resolve immediately; PROCESSING jobs
// finish their in-flight attempt (the outbound call is interrupted best
// effort) and then resolve to FAILED with a Cancelled detail.
func (s *SOPService) Cancel(ctx context.Context, jobID, actorID string) (*dto.SOPResponse, error) {
	sop, err := s.loadForUpdate(ctx, jobID)
	if err != nil {
		return nil, err
	}

	switch sop.Status {
	case models.SOPStatusPending:
		unlock := s.lock(jobID)
		defer unlock()
		sop, err = s.loadForUpdate(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if sop.Status != models.SOPStatusPending {
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("job in state %s cannot be cancelled", sop.Status))
		}
		s.failJob(ctx, jobID, actorID, models.SOPStatusPending, string(generation.KindCancelled), "job cancelled before processing")
		return s.Query(ctx, jobID)
	case models.SOPStatusProcessing:
		// Do not take the job lock here: Advance holds it for the whole
		// processing run. Flag the job and interrupt the attempt instead.
		s.cancelled.Store(jobID, struct{}{})
		if cancelAny, ok := s.cancels.Load(jobID); ok {
			cancelAny.(context.CancelFunc)()
		}
		// The run may have resolved between the load above and the flag
		// store; a flag with no run left to consume it would linger for the
		// process lifetime.
		if current, err := s.store.GetByID(ctx, jobID); err == nil && current.Status != models.SOPStatusProcessing {
			s.cancelled.Delete(jobID)
			s.cancels.Delete(jobID)
			return dto.FromSOP(current), nil
		}
		return dto.FromSOP(sop), nil
	default:
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("job in state %s cannot be cancelled", sop.Status))
	}
}

// Archive logically archives a terminal job; the record itself is retained.
func (s *SOPService) Archive(ctx context.Context, jobID, actorID string) (*dto.SOPResponse, error) {
	unlock := s.lock(jobID)
	defer unlock()

	sop, err := s.loadForUpdate(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !sop.Status.Terminal() {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("job in state %s cannot be archived", sop.Status))
	}
	if sop.Archived {
		s.locks.Delete(jobID)
		return dto.FromSOP(sop), nil
	}

	archived := true
	if err := s.store.Transition(ctx, jobID, repository.UpdateSOPParams{Archived: &archived}, &models.AuditEntry{
		ActorID:      actorID,
		Action:       models.AuditActionArchive,
		ResourceType: "sop",
		ResourceID:   jobID,
		Severity:     models.SeverityInfo,
		Description:  "job archived",
		OldValues:    models.AuditValues{"archived": false},
		NewValues:    models.AuditValues{"archived": true},
	}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to archive job")
	}
	sop.Archived = true
	// An archived job accepts no further mutation, so its serialization
	// entry can be dropped instead of accumulating for the process lifetime.
	s.locks.Delete(jobID)
	return dto.FromSOP(sop), nil
}

func (s *SOPService) loadForUpdate(ctx context.Context, jobID string) (*models.SOP, error) {
	sop, err := s.store.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to load job")
	}
	return sop, nil
}

func (s *SOPService) isCancelled(jobID string) bool {
	_, ok := s.cancelled.Load(jobID)
	return ok
}

// RecoverJobs resolves work stranded by a process restart: jobs still marked
// PROCESSING have no run left to finish them and are failed, then PENDING
// jobs are replayed onto the queue.
func (s *SOPService) RecoverJobs(ctx context.Context) {
	stale, err := s.store.ListByStatus(ctx, models.SOPStatusProcessing, s.cfg.RecoveryBatch)
	if err != nil {
		s.logger.Sugar().Warnw("failed to list stale processing jobs", "error", err)
	}
	for _, sop := range stale {
		s.logger.Sugar().Warnw("failing job stranded in processing", "job_id", sop.ID)
		s.failJob(ctx, sop.ID, "system", models.SOPStatusProcessing, errKindInternal, "processing interrupted by restart")
	}

	pending, err := s.store.ListByStatus(ctx, models.SOPStatusPending, s.cfg.RecoveryBatch)
	if err != nil {
		s.logger.Sugar().Warnw("failed to recover pending jobs", "error", err)
		return
	}
	for _, sop := range pending {
		if err := s.queue.Enqueue(jobs.Job{ID: sop.ID, Type: jobQueueType}); err != nil {
			s.logger.Sugar().Warnw("failed to requeue pending job", "job_id", sop.ID, "error", err)
		}
	}
}

// HandleJob bridges the dispatch queue to Advance.
func (s *SOPService) HandleJob(ctx context.Context, job jobs.Job) error {
	return s.Advance(ctx, job.ID)
}

func (s *SOPService) observeTransition(from, to models.SOPStatus) {
	if s.metrics != nil {
		s.metrics.ObserveJobTransition(string(from), string(to))
	}
}

func (s *SOPService) observeGeneration(err error, duration time.Duration) {
	if s.metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		var engineErr *generation.EngineError
		if errors.As(err, &engineErr) {
			outcome = string(engineErr.Kind)
		} else {
			outcome = "error"
		}
	}
	s.metrics.ObserveGenerationAttempt(outcome, duration)
}
