package domain

import (
	"errors"
	"fmt"
	"time"
)

// Error kinds. Every error returned across a package boundary wraps one of these.
var (
	ErrInvalidInput           = errors.New("invalid input")
	ErrNotFound               = errors.New("analysis not found")
	ErrNotReady               = errors.New("analysis not ready")
	ErrModelInference         = errors.New("model inference failed")
	ErrExplanationUnavailable = errors.New("explanation unavailable")
	ErrStageTimeout           = errors.New("stage timed out")
	ErrPreprocessing          = errors.New("preprocessing failed")
)

// Reason codes stored on failed jobs and returned to clients.
const (
	CodeInvalidInput           = "invalid_input"
	CodeNotFound               = "not_found"
	CodeNotReady               = "not_ready"
	CodeModelInference         = "model_inference_error"
	CodeExplanationUnavailable = "explanation_unavailable"
	CodeStageTimeout           = "stage_timeout"
	CodePreprocessing          = "preprocessing_error"
	CodeInternal               = "internal_error"
)

// AnalysisError carries an error kind, a stable code and a client-facing message.
// Stage and Failure are set only on not-ready errors.
type AnalysisError struct {
	Kind    error
	Code    string
	Message string
	Cause   error
	Stage   Stage
	Failure *ErrorReason
}

func (e *AnalysisError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *AnalysisError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// Is matches another *AnalysisError with the same code.
func (e *AnalysisError) Is(target error) bool {
	t, ok := target.(*AnalysisError)
	return ok && t.Code == e.Code
}

// InvalidInput reports a malformed or undersized upload.
func InvalidInput(message string, cause error) error {
	return &AnalysisError{Kind: ErrInvalidInput, Code: CodeInvalidInput, Message: message, Cause: cause}
}

// NotFound reports an unknown analysis id.
func NotFound(id string) error {
	return &AnalysisError{Kind: ErrNotFound, Code: CodeNotFound, Message: fmt.Sprintf("analysis %s not found", id)}
}

// NotReady reports a result requested before the job completed. It records
// the stage observed at that moment and, for failed jobs, the failure reason.
func NotReady(id string, stage Stage, failure *ErrorReason) error {
	return &AnalysisError{
		Kind:    ErrNotReady,
		Code:    CodeNotReady,
		Message: fmt.Sprintf("analysis %s is not completed (status: %s)", id, stage),
		Stage:   stage,
		Failure: failure,
	}
}

// NotReadyDetail extracts the stage and failure reason carried by a not-ready error.
func NotReadyDetail(err error) (Stage, *ErrorReason, bool) {
	var ae *AnalysisError
	if !errors.As(err, &ae) || ae.Code != CodeNotReady {
		return "", nil, false
	}
	return ae.Stage, ae.Failure, true
}

// ModelInference reports a classifier failure.
func ModelInference(message string, cause error) error {
	return &AnalysisError{Kind: ErrModelInference, Code: CodeModelInference, Message: message, Cause: cause}
}

// ExplanationUnavailable reports an explanation model failure.
func ExplanationUnavailable(message string, cause error) error {
	return &AnalysisError{Kind: ErrExplanationUnavailable, Code: CodeExplanationUnavailable, Message: message, Cause: cause}
}

// StageTimeout reports a stage that exceeded its time budget.
func StageTimeout(stage Stage, limit time.Duration) error {
	return &AnalysisError{
		Kind:    ErrStageTimeout,
		Code:    CodeStageTimeout,
		Message: fmt.Sprintf("%s stage exceeded %s", stage, limit),
	}
}

// Preprocessing reports an image that decoded at submission but failed normalization.
func Preprocessing(message string, cause error) error {
	return &AnalysisError{Kind: ErrPreprocessing, Code: CodePreprocessing, Message: message, Cause: cause}
}

// ErrorReason is the short machine-usable code plus human message stored on a failed job.
type ErrorReason struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ReasonFrom converts any error into an ErrorReason.
// Errors that are not an *AnalysisError are reported as internal errors.
func ReasonFrom(err error) ErrorReason {
	if err == nil {
		return ErrorReason{Code: CodeInternal, Message: "unknown error"}
	}
	var ae *AnalysisError
	if errors.As(err, &ae) {
		return ErrorReason{Code: ae.Code, Message: ae.Message}
	}
	return ErrorReason{Code: CodeInternal, Message: err.Error()}
}
