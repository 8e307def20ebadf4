package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/timmy/bloodcell/internal/classifier"
	"github.com/timmy/bloodcell/internal/domain"
	"github.com/timmy/bloodcell/internal/explain"
	"github.com/timmy/bloodcell/internal/inference"
	"github.com/timmy/bloodcell/internal/jobstore"
	"github.com/timmy/bloodcell/internal/logger"
	"github.com/timmy/bloodcell/internal/preprocess"
	"github.com/timmy/bloodcell/internal/storage"
)

// ResultArchive persists completed analyses beyond the in-memory job lifetime.
type ResultArchive interface {
	Save(ctx context.Context, rec *domain.AnalysisRecord) error
	GetByID(ctx context.Context, id string) (*domain.AnalysisRecord, error)
	ListRecent(ctx context.Context, limit, offset int) ([]domain.AnalysisRecord, error)
	SetExplanation(ctx context.Context, id, text string) error
	Delete(ctx context.Context, id string) error
	Stats(ctx context.Context, days int, now time.Time) (*domain.ArchiveStats, error)
}

// FollowUpStore persists follow-up exchanges.
type FollowUpStore interface {
	Create(ctx context.Context, rec *domain.FollowUpRecord) error
	ListByAnalysis(ctx context.Context, analysisID string) ([]domain.FollowUpRecord, error)
}

// CaseIndex finds prior analyses with a similar cell-count profile.
type CaseIndex interface {
	Upsert(ctx context.Context, result domain.AnalysisResult) error
	Search(ctx context.Context, counts domain.CellCounts, limit int, excludeID string) ([]domain.SimilarCase, error)
	Delete(ctx context.Context, analysisID string) error
}

// AnalysisConfig holds the pipeline policy.
type AnalysisConfig struct {
	Workers        int
	StageTimeout   time.Duration
	Retention      time.Duration
	SweepInterval  time.Duration
	MaxUploadBytes int64
	ImagePrefix    string
}

// Dependencies are the collaborators of AnalysisService.
// Archive, FollowUps, Cases and Images are optional.
type Dependencies struct {
	Store        jobstore.Store
	Preprocessor *preprocess.Preprocessor
	Classifier   classifier.Classifier
	Engine       *inference.Engine
	Explainer    explain.Explainer
	Archive      ResultArchive
	FollowUps    FollowUpStore
	Cases        CaseIndex
	Images       storage.ObjectStorage
}

// AnalysisService drives uploaded images through the analysis pipeline and
// serves progress, results and explanations.
type AnalysisService struct {
	deps Dependencies
	cfg  AnalysisConfig
	sem  *semaphore.Weighted
	now  func() time.Time

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	once    sync.Once
}

// NewAnalysisService creates the orchestrator.
// Parameters:
//   - deps: pipeline collaborators; Store, Preprocessor, Classifier and Explainer are required.
//   - cfg: worker and timeout policy; zero values fall back to defaults.
//
// Returns:
//   - *AnalysisService: service ready to accept submissions.
func NewAnalysisService(deps Dependencies, cfg AnalysisConfig) *AnalysisService {
	if deps.Store == nil {
		deps.Store = jobstore.NewMemoryStore()
	}
	if deps.Engine == nil {
		deps.Engine = inference.Default
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = 2 * time.Minute
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	if cfg.ImagePrefix == "" {
		cfg.ImagePrefix = "uploads"
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &AnalysisService{
		deps:    deps,
		cfg:     cfg,
		sem:     semaphore.NewWeighted(int64(cfg.Workers)),
		now:     time.Now,
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Submit validates the upload, creates a queued job and starts processing it
// in the background. It returns without waiting for any stage to run.
// Parameters:
//   - ctx: request context; only its logger fields are carried into the job.
//   - data: raw image bytes.
//
// Returns:
//   - string: new analysis ID.
//   - error: domain.ErrInvalidInput if the payload is too large, undecodable or too small.
func (s *AnalysisService) Submit(ctx context.Context, data []byte) (string, error) {
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		return "", domain.InvalidInput(fmt.Sprintf("file too large: %d bytes, maximum is %d bytes", len(data), s.cfg.MaxUploadBytes), nil)
	}
	img, err := s.deps.Preprocessor.Validate(data)
	if err != nil {
		return "", err
	}
	if err := s.baseCtx.Err(); err != nil {
		return "", fmt.Errorf("analysis service is shutting down: %w", err)
	}

	id := uuid.New().String()
	job := domain.NewAnalysisJob(id, img.Format, s.now())
	if err := s.deps.Store.Create(job); err != nil {
		return "", err
	}

	jobCtx := logger.SetAnalysisID(logger.FromContext(ctx).WithContext(s.baseCtx), id)
	logger.With(logger.Fields{
		logger.FieldSize: int64(len(data)),
		"format":         img.Format,
		"width":          img.Width,
		"height":         img.Height,
	}).Info(jobCtx, "Analysis submitted")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.process(jobCtx, id, img)
	}()
	return id, nil
}

// process runs the stages of one job sequentially on a worker slot.
func (s *AnalysisService) process(ctx context.Context, id string, img *preprocess.Image) {
	start := time.Now()
	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.fail(ctx, id, fmt.Errorf("analysis service is shutting down: %w", err))
		return
	}
	defer s.sem.Release(1)

	s.archiveImage(ctx, id, img)

	tensor, err := runStage(s, ctx, id, domain.StagePreprocessing, func(ctx context.Context) (*preprocess.Tensor, error) {
		t, _, err := s.deps.Preprocessor.Process(ctx, img)
		return t, err
	})
	if err != nil {
		s.fail(ctx, id, err)
		return
	}

	cls, err := runStage(s, ctx, id, domain.StageClassifying, func(ctx context.Context) (*classifier.Classification, error) {
		return s.deps.Classifier.Classify(ctx, tensor)
	})
	if err != nil {
		s.fail(ctx, id, err)
		return
	}

	out, err := runStage(s, ctx, id, domain.StageInferring, func(ctx context.Context) (inference.Output, error) {
		return s.deps.Engine.Infer(cls.Counts), nil
	})
	if err != nil {
		s.fail(ctx, id, err)
		return
	}

	job, err := s.deps.Store.Update(id, func(j *domain.AnalysisJob) error {
		return j.Complete(domain.AnalysisResult{
			AnalysisID:    id,
			CellCounts:    cls.Counts,
			Diseases:      out.Findings,
			Abnormalities: out.Notes,
			Confidence:    cls.Confidence,
			CreatedAt:     j.CreatedAt,
		}, s.now())
	})
	if err != nil {
		logger.FromContext(ctx).WithError(err).Warn("Could not record completed analysis")
		return
	}

	logger.With(logger.Fields{
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
		logger.FieldCount:      len(out.Findings),
	}).WithProgress(job.Progress).Info(ctx, "Analysis completed")

	s.persist(ctx, job)
}

type stageOutcome[T any] struct {
	value T
	err   error
}

// runStage moves the job into stage and runs fn under the stage timeout.
// A panic in fn is reported as an error. When the timeout fires, fn's late
// result is dropped.
func runStage[T any](s *AnalysisService, ctx context.Context, id string, stage domain.Stage, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if _, err := s.deps.Store.Update(id, func(j *domain.AnalysisJob) error {
		return j.Advance(stage, s.now())
	}); err != nil {
		return zero, err
	}

	ctx = logger.SetStage(ctx, string(stage))
	stageCtx, cancel := context.WithTimeout(ctx, s.cfg.StageTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan stageOutcome[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.FromContext(ctx).WithField("stack", string(debug.Stack())).Errorf("Stage panicked: %v", r)
				done <- stageOutcome[T]{err: fmt.Errorf("%s stage panicked: %v", stage, r)}
			}
		}()
		v, err := fn(stageCtx)
		done <- stageOutcome[T]{value: v, err: err}
	}()

	var out stageOutcome[T]
	select {
	case out = <-done:
	case <-stageCtx.Done():
		out.err = stageCtx.Err()
	}

	entry := logger.With(logger.Fields{"timeout_ms": s.cfg.StageTimeout.Milliseconds()}).WithDuration(time.Since(start))
	if out.err == nil {
		entry.WithStatus("ok").Debug(ctx, "Stage finished")
		return out.value, nil
	}
	// fn may observe the deadline before the select does.
	if errors.Is(stageCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		entry.WithStatus("timeout").Warn(ctx, "Stage exceeded %s", s.cfg.StageTimeout)
		return zero, domain.StageTimeout(stage, s.cfg.StageTimeout)
	}
	if ctx.Err() != nil {
		return zero, fmt.Errorf("%s stage interrupted: %w", stage, ctx.Err())
	}
	entry.WithStatus("failed").Warn(ctx, "Stage failed: %v", out.err)
	return zero, out.err
}

// fail records err on the job. A job that was deleted or already finished is left alone.
func (s *AnalysisService) fail(ctx context.Context, id string, err error) {
	reason := domain.ReasonFrom(err)
	job, uerr := s.deps.Store.Update(id, func(j *domain.AnalysisJob) error {
		return j.Fail(reason, s.now())
	})
	if uerr != nil {
		logger.FromContext(ctx).WithError(uerr).Warn("Could not record analysis failure")
		return
	}
	logger.With(logger.Fields{logger.FieldProgress: job.Progress}).
		WithCode(reason.Code).
		Error(ctx, "Analysis failed: %s", reason.Message)
}

// archiveImage uploads the original bytes when an image store is configured.
// Failures are logged and never affect the job.
func (s *AnalysisService) archiveImage(ctx context.Context, id string, img *preprocess.Image) {
	if s.deps.Images == nil {
		return
	}
	key := storage.ImageKey(s.cfg.ImagePrefix, id, img.Format)
	if err := s.deps.Images.Upload(ctx, key, bytes.NewReader(img.Data), int64(len(img.Data)), storage.ContentType(img.Format)); err != nil {
		logger.FromContext(ctx).WithError(err).WithField("storage_key", key).Warn("Failed to archive uploaded image")
		return
	}
	if _, err := s.deps.Store.Update(id, func(j *domain.AnalysisJob) error {
		j.ImageKey = key
		return nil
	}); err != nil {
		// Deleted during the upload: the delete could not see this key.
		logger.FromContext(ctx).WithError(err).Debug("Job gone before image key was recorded, removing upload")
		if derr := s.deps.Images.Delete(ctx, key); derr != nil {
			logger.FromContext(ctx).WithError(derr).WithField("storage_key", key).Warn("Failed to remove orphaned image")
		}
	}
}

// persist writes a completed job to the archive and the case index.
// A job deleted before or during the writes is not brought back.
func (s *AnalysisService) persist(ctx context.Context, job domain.AnalysisJob) {
	latest, ok := s.deps.Store.Get(job.ID)
	if !ok {
		logger.CtxDebug(ctx, "Analysis deleted before it was archived")
		return
	}
	job = latest

	if s.deps.Archive != nil {
		if err := s.deps.Archive.Save(ctx, domain.NewAnalysisRecord(job)); err != nil {
			logger.FromContext(ctx).WithError(err).Error("Failed to archive analysis result")
		}
	}
	if s.deps.Cases != nil && job.Result != nil {
		if err := s.deps.Cases.Upsert(ctx, *job.Result); err != nil {
			logger.FromContext(ctx).WithError(err).Warn("Failed to index analysis for similar-case search")
		}
	}

	if _, ok := s.deps.Store.Get(job.ID); !ok {
		s.unpersist(ctx, job.ID)
	}
}

// unpersist removes the archive and index entries written for a job that was
// deleted while persist was running.
func (s *AnalysisService) unpersist(ctx context.Context, id string) {
	log := logger.FromContext(ctx)
	log.Debug("Analysis deleted while being archived, removing archived copy")
	if s.deps.Archive != nil {
		if err := s.deps.Archive.Delete(ctx, id); err != nil && !errors.Is(err, domain.ErrNotFound) {
			log.WithError(err).Warn("Failed to remove archived copy of deleted analysis")
		}
	}
	if s.deps.Cases != nil {
		if err := s.deps.Cases.Delete(ctx, id); err != nil {
			log.WithError(err).Warn("Failed to remove deleted analysis from case index")
		}
	}
}

// GetProgress returns the latest stage and progress of a job. Archived
// analyses whose in-memory job was evicted report as completed.
// Returns domain.ErrNotFound for unknown IDs.
func (s *AnalysisService) GetProgress(ctx context.Context, id string) (domain.JobProgress, error) {
	if job, ok := s.deps.Store.Get(id); ok {
		return job.ProgressView(), nil
	}
	if _, err := s.archived(ctx, id); err != nil {
		return domain.JobProgress{}, err
	}
	return domain.JobProgress{
		AnalysisID: id,
		Stage:      domain.StageCompleted,
		Progress:   domain.ProgressCompleted,
		Message:    domain.StageCompleted.Message(),
	}, nil
}

// GetResult returns the result of a completed analysis.
// Returns domain.ErrNotReady while the job is still running or failed, and
// domain.ErrNotFound for unknown IDs.
func (s *AnalysisService) GetResult(ctx context.Context, id string) (domain.AnalysisResult, error) {
	if job, ok := s.deps.Store.Get(id); ok {
		if job.Stage != domain.StageCompleted || job.Result == nil {
			return domain.AnalysisResult{}, domain.NotReady(id, job.Stage, job.ErrorReason)
		}
		return *job.Result, nil
	}
	rec, err := s.archived(ctx, id)
	if err != nil {
		return domain.AnalysisResult{}, err
	}
	return rec.Result(), nil
}

// archived looks id up in the archive, mapping a missing archive to not found.
func (s *AnalysisService) archived(ctx context.Context, id string) (*domain.AnalysisRecord, error) {
	if s.deps.Archive == nil {
		return nil, domain.NotFound(id)
	}
	return s.deps.Archive.GetByID(ctx, id)
}

// Start launches the retention janitor. It stops when ctx is done or Close is called.
func (s *AnalysisService) Start(ctx context.Context) {
	if s.cfg.Retention <= 0 || s.cfg.SweepInterval <= 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.baseCtx.Done():
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()
}

// Sweep evicts terminal jobs older than the retention window.
func (s *AnalysisService) Sweep(ctx context.Context) int {
	n := s.deps.Store.Sweep(s.now().Add(-s.cfg.Retention))
	if n > 0 {
		logger.With(logger.Fields{logger.FieldCount: n}).Info(ctx, "Evicted finished jobs from memory")
	}
	return n
}

// Close stops accepting work, interrupts running jobs and waits for
// background goroutines until ctx is done.
func (s *AnalysisService) Close(ctx context.Context) error {
	s.once.Do(s.cancel)
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
