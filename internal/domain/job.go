package domain

import (
	"errors"
	"fmt"
	"time"
)

// Stage represents a step in the analysis job state machine.
// Values follow the pipeline order StageQueued, StagePreprocessing, StageClassifying,
// StageInferring and end in one of the terminal stages StageCompleted or StageError.
type Stage string

const (
	StageQueued        Stage = "queued"
	StagePreprocessing Stage = "preprocessing"
	StageClassifying   Stage = "classifying"
	StageInferring     Stage = "inferring"
	StageCompleted     Stage = "completed"
	StageError         Stage = "error"
)

// Progress checkpoints assigned when a job enters a stage.
const (
	ProgressQueued        = 0
	ProgressPreprocessing = 10
	ProgressClassifying   = 30
	ProgressInferring     = 80
	ProgressCompleted     = 100
)

// ErrInvalidTransition is returned when a job is asked to move along an edge
// the state machine does not have.
var ErrInvalidTransition = errors.New("invalid stage transition")

// pipeline lists the non-terminal stages in execution order.
var pipeline = []Stage{StageQueued, StagePreprocessing, StageClassifying, StageInferring}

var stageMessages = map[Stage]string{
	StageQueued:        "Image uploaded, waiting for a worker",
	StagePreprocessing: "Preprocessing image...",
	StageClassifying:   "Classifying blood cells...",
	StageInferring:     "Detecting disease patterns...",
	StageCompleted:     "Analysis completed successfully",
}

// IsTerminal reports whether the stage has no outgoing transitions.
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageError
}

// Checkpoint returns the progress value a job reports on entering the stage.
// StageError has no checkpoint of its own; a failed job keeps the progress it had.
func (s Stage) Checkpoint() int {
	switch s {
	case StagePreprocessing:
		return ProgressPreprocessing
	case StageClassifying:
		return ProgressClassifying
	case StageInferring:
		return ProgressInferring
	case StageCompleted:
		return ProgressCompleted
	default:
		return ProgressQueued
	}
}

// Next returns the stage that follows s in the pipeline. The successor of
// StageInferring is StageCompleted. Terminal stages have no successor.
func (s Stage) Next() (Stage, bool) {
	for i, st := range pipeline {
		if st != s {
			continue
		}
		if i == len(pipeline)-1 {
			return StageCompleted, true
		}
		return pipeline[i+1], true
	}
	return "", false
}

// Message returns the status text shown to pollers on entering the stage.
func (s Stage) Message() string { return stageMessages[s] }

// Valid reports whether s is one of the known stages.
func (s Stage) Valid() bool {
	switch s {
	case StageQueued, StagePreprocessing, StageClassifying, StageInferring, StageCompleted, StageError:
		return true
	}
	return false
}

// AnalysisJob is the in-memory state of one uploaded image moving through the pipeline.
// Exactly one of Result, ErrorReason or a non-terminal Stage holds at any time.
type AnalysisJob struct {
	ID           string              `json:"analysis_id"`
	Stage        Stage               `json:"status"`
	Progress     int                 `json:"progress"`
	Message      string              `json:"stage"`
	ImageFormat  string              `json:"image_format,omitempty"`
	ImageKey     string              `json:"image_key,omitempty"`
	Result       *AnalysisResult     `json:"result,omitempty"`
	ErrorReason  *ErrorReason        `json:"error,omitempty"`
	Conversation ConversationContext `json:"conversation,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// NewAnalysisJob creates a job in the queued stage.
// Parameters:
//   - id: opaque unique job identifier.
//   - format: decoded image format (png, jpeg, ...).
//   - now: creation timestamp.
//
// Returns:
//   - *AnalysisJob: queued job with zero progress.
func NewAnalysisJob(id, format string, now time.Time) *AnalysisJob {
	return &AnalysisJob{
		ID:          id,
		Stage:       StageQueued,
		Progress:    ProgressQueued,
		Message:     stageMessages[StageQueued],
		ImageFormat: format,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Advance moves the job to the next non-terminal stage.
// Parameters:
//   - next: stage to enter; must be the direct successor of the current stage.
//   - now: transition timestamp.
//
// Returns:
//   - error: ErrInvalidTransition if the edge does not exist.
func (j *AnalysisJob) Advance(next Stage, now time.Time) error {
	if next.IsTerminal() {
		return fmt.Errorf("%w: use Complete or Fail to enter %s", ErrInvalidTransition, next)
	}
	successor, ok := j.Stage.Next()
	if !ok || successor != next {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Stage, next)
	}
	j.enter(next, now)
	return nil
}

// Complete records the final result and moves the job to StageCompleted.
// Only a job in StageInferring can complete.
func (j *AnalysisJob) Complete(result AnalysisResult, now time.Time) error {
	if j.Stage != StageInferring {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Stage, StageCompleted)
	}
	j.enter(StageCompleted, now)
	j.Result = &result
	return nil
}

// Fail records reason and moves the job to StageError. Progress is left unchanged.
func (j *AnalysisJob) Fail(reason ErrorReason, now time.Time) error {
	if j.Stage.IsTerminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Stage, StageError)
	}
	j.Stage = StageError
	j.Message = "Analysis failed: " + reason.Message
	j.ErrorReason = &reason
	j.UpdatedAt = now
	return nil
}

func (j *AnalysisJob) enter(stage Stage, now time.Time) {
	j.Stage = stage
	if cp := stage.Checkpoint(); cp > j.Progress {
		j.Progress = cp
	}
	j.Message = stageMessages[stage]
	j.UpdatedAt = now
}

// AppendExchange adds a question/answer pair to the job's conversation context.
func (j *AnalysisJob) AppendExchange(ex Exchange) {
	j.Conversation = append(j.Conversation, ex)
	if ex.At.After(j.UpdatedAt) {
		j.UpdatedAt = ex.At
	}
}

// Snapshot returns a deep copy of the job safe to hand to readers.
func (j *AnalysisJob) Snapshot() AnalysisJob {
	cp := *j
	if j.Result != nil {
		r := j.Result.Clone()
		cp.Result = &r
	}
	if j.ErrorReason != nil {
		reason := *j.ErrorReason
		cp.ErrorReason = &reason
	}
	if j.Conversation != nil {
		cp.Conversation = append(ConversationContext(nil), j.Conversation...)
	}
	return cp
}

// ProgressView returns the pollable part of the job.
func (j *AnalysisJob) ProgressView() JobProgress {
	p := JobProgress{
		AnalysisID: j.ID,
		Stage:      j.Stage,
		Progress:   j.Progress,
		Message:    j.Message,
	}
	if j.ErrorReason != nil {
		reason := *j.ErrorReason
		p.Error = &reason
	}
	return p
}

// JobProgress is the stage-and-progress pair observed by pollers.
type JobProgress struct {
	AnalysisID string       `json:"analysis_id"`
	Stage      Stage        `json:"status"`
	Progress   int          `json:"progress"`
	Message    string       `json:"stage"`
	Error      *ErrorReason `json:"error,omitempty"`
}
