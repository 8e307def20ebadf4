package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalysisJob_HappyPath(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	job := NewAnalysisJob("a1", "png", now)

	assert.Equal(t, StageQueued, job.Stage)
	assert.Equal(t, 0, job.Progress)

	last := job.Progress
	for _, st := range []Stage{StagePreprocessing, StageClassifying, StageInferring} {
		require.NoError(t, job.Advance(st, now))
		assert.Equal(t, st, job.Stage)
		assert.Greater(t, job.Progress, last, "progress must strictly increase at %s", st)
		assert.Less(t, job.Progress, 100)
		last = job.Progress
	}

	require.NoError(t, job.Complete(AnalysisResult{AnalysisID: "a1"}, now))
	assert.Equal(t, StageCompleted, job.Stage)
	assert.Equal(t, 100, job.Progress)
	require.NotNil(t, job.Result)
	assert.Nil(t, job.ErrorReason)
}

func TestAnalysisJob_InvalidTransitions(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name  string
		setup func(j *AnalysisJob)
		apply func(j *AnalysisJob) error
	}{
		{
			name:  "skip a stage",
			setup: func(j *AnalysisJob) {},
			apply: func(j *AnalysisJob) error { return j.Advance(StageClassifying, now) },
		},
		{
			name:  "advance into terminal stage",
			setup: func(j *AnalysisJob) {},
			apply: func(j *AnalysisJob) error { return j.Advance(StageCompleted, now) },
		},
		{
			name:  "complete before inferring",
			setup: func(j *AnalysisJob) { _ = j.Advance(StagePreprocessing, now) },
			apply: func(j *AnalysisJob) error { return j.Complete(AnalysisResult{}, now) },
		},
		{
			name: "fail after completed",
			setup: func(j *AnalysisJob) {
				_ = j.Advance(StagePreprocessing, now)
				_ = j.Advance(StageClassifying, now)
				_ = j.Advance(StageInferring, now)
				_ = j.Complete(AnalysisResult{}, now)
			},
			apply: func(j *AnalysisJob) error { return j.Fail(ErrorReason{Code: CodeInternal}, now) },
		},
		{
			name:  "advance after error",
			setup: func(j *AnalysisJob) { _ = j.Fail(ErrorReason{Code: CodeInternal}, now) },
			apply: func(j *AnalysisJob) error { return j.Advance(StagePreprocessing, now) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := NewAnalysisJob("x", "png", now)
			tt.setup(job)
			before := job.Snapshot()

			err := tt.apply(job)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidTransition))
			assert.Equal(t, before.Stage, job.Stage)
			assert.Equal(t, before.Progress, job.Progress)
		})
	}
}

func TestAnalysisJob_FailKeepsProgress(t *testing.T) {
	now := time.Now()
	job := NewAnalysisJob("x", "png", now)
	require.NoError(t, job.Advance(StagePreprocessing, now))
	require.NoError(t, job.Advance(StageClassifying, now))

	reason := ReasonFrom(ModelInference("classifier returned 500", nil))
	require.NoError(t, job.Fail(reason, now))

	assert.Equal(t, StageError, job.Stage)
	assert.Equal(t, ProgressClassifying, job.Progress)
	require.NotNil(t, job.ErrorReason)
	assert.Equal(t, CodeModelInference, job.ErrorReason.Code)
	assert.Nil(t, job.Result)
}

func TestAnalysisJob_SnapshotIsIndependent(t *testing.T) {
	now := time.Now()
	job := NewAnalysisJob("x", "png", now)
	_ = job.Advance(StagePreprocessing, now)
	_ = job.Advance(StageClassifying, now)
	_ = job.Advance(StageInferring, now)
	_ = job.Complete(AnalysisResult{Abnormalities: []string{"a"}}, now)
	job.AppendExchange(Exchange{Answer: "first", At: now})

	snap := job.Snapshot()
	snap.Result.Abnormalities[0] = "changed"
	snap.Conversation[0].Answer = "changed"

	assert.Equal(t, "a", job.Result.Abnormalities[0])
	assert.Equal(t, "first", job.Conversation[0].Answer)
}

func TestReasonFrom(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"analysis error", StageTimeout(StageClassifying, time.Second), CodeStageTimeout},
		{"wrapped analysis error", fmt.Errorf("stage: %w", InvalidInput("too small", nil)), CodeInvalidInput},
		{"plain error", errors.New("boom"), CodeInternal},
		{"nil", nil, CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, ReasonFrom(tt.err).Code)
		})
	}
}

func TestNotReadyDetail(t *testing.T) {
	stage, failure, ok := NotReadyDetail(fmt.Errorf("lookup: %w", NotReady("a1", StageClassifying, nil)))
	require.True(t, ok)
	assert.Equal(t, StageClassifying, stage)
	assert.Nil(t, failure)

	reason := &ErrorReason{Code: CodeStageTimeout, Message: "classifying stage exceeded 2m0s"}
	stage, failure, ok = NotReadyDetail(NotReady("a1", StageError, reason))
	require.True(t, ok)
	assert.Equal(t, StageError, stage)
	assert.Equal(t, reason, failure)

	_, _, ok = NotReadyDetail(NotFound("a1"))
	assert.False(t, ok)
	_, _, ok = NotReadyDetail(errors.New("boom"))
	assert.False(t, ok)
}

func TestAnalysisError_Is(t *testing.T) {
	cause := errors.New("connection refused")
	err := ModelInference("classifier unreachable", cause)

	assert.ErrorIs(t, err, ErrModelInference)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrExplanationUnavailable)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestCellCounts_Validate(t *testing.T) {
	normal := CellCounts{Neutrophils: 62, Lymphocytes: 28, Monocytes: 6, Eosinophils: 3, Basophils: 1, Platelets: 350000, RBCs: 4800000}

	tests := []struct {
		name    string
		mutate  func(c *CellCounts)
		wantErr bool
	}{
		{"normal", func(c *CellCounts) {}, false},
		{"within tolerance", func(c *CellCounts) { c.Neutrophils = 66 }, false},
		{"sum too high", func(c *CellCounts) { c.Neutrophils = 80 }, true},
		{"percentage above 100", func(c *CellCounts) { c.Lymphocytes = 120 }, true},
		{"negative percentage", func(c *CellCounts) { c.Basophils = -1 }, true},
		{"negative count", func(c *CellCounts) { c.Platelets = -5 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := normal
			tt.mutate(&c)
			err := c.Validate(5)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCellCounts_ScanRoundTrip(t *testing.T) {
	in := CellCounts{Neutrophils: 80, Platelets: 100000, RBCs: 4600000}
	v, err := in.Value()
	require.NoError(t, err)

	var out CellCounts
	require.NoError(t, out.Scan(v))
	assert.Equal(t, in, out)

	require.Error(t, out.Scan(42))
}
