package jobstore

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/bloodcell/internal/domain"
)

func TestMemoryStore_CreateGet(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()

	require.NoError(t, s.Create(domain.NewAnalysisJob("a", "png", now)))
	require.Error(t, s.Create(domain.NewAnalysisJob("a", "png", now)))

	job, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, domain.StageQueued, job.Stage)
	assert.Equal(t, 1, s.Len())

	_, ok = s.Get("missing")
	assert.False(t, ok)
}

func TestMemoryStore_UpdateDiscardsOnError(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Create(domain.NewAnalysisJob("a", "png", time.Now())))

	boom := errors.New("boom")
	_, err := s.Update("a", func(j *domain.AnalysisJob) error {
		j.Progress = 55
		j.Stage = domain.StageClassifying
		return boom
	})
	require.ErrorIs(t, err, boom)

	job, _ := s.Get("a")
	assert.Equal(t, 0, job.Progress)
	assert.Equal(t, domain.StageQueued, job.Stage)

	_, err = s.Update("missing", func(*domain.AnalysisJob) error { return nil })
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryStore_SnapshotsAreCopies(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Create(domain.NewAnalysisJob("a", "png", time.Now())))

	_, err := s.Update("a", func(j *domain.AnalysisJob) error {
		j.AppendExchange(domain.Exchange{Answer: "x"})
		return nil
	})
	require.NoError(t, err)

	snap, _ := s.Get("a")
	snap.Conversation[0].Answer = "mutated"

	again, _ := s.Get("a")
	assert.Equal(t, "x", again.Conversation[0].Answer)
}

func TestMemoryStore_Sweep(t *testing.T) {
	s := NewMemoryStore()
	old := time.Now().Add(-2 * time.Hour)

	finished := domain.NewAnalysisJob("done", "png", old)
	require.NoError(t, finished.Fail(domain.ErrorReason{Code: domain.CodeInternal}, old))
	require.NoError(t, s.Create(finished))
	require.NoError(t, s.Create(domain.NewAnalysisJob("running", "png", old)))
	require.NoError(t, s.Create(domain.NewAnalysisJob("fresh", "png", time.Now())))

	removed := s.Sweep(time.Now().Add(-time.Hour))
	assert.Equal(t, 1, removed)
	assert.Equal(t, 2, s.Len())

	_, ok := s.Get("done")
	assert.False(t, ok)
	_, ok = s.Get("running")
	assert.True(t, ok, "in-flight jobs are never evicted")
}

func TestMemoryStore_ConcurrentJobs(t *testing.T) {
	s := NewMemoryStore()
	const n = 32

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("job-%d", i)
		require.NoError(t, s.Create(domain.NewAnalysisJob(id, "png", time.Now())))
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, st := range []domain.Stage{domain.StagePreprocessing, domain.StageClassifying, domain.StageInferring} {
				_, err := s.Update(id, func(j *domain.AnalysisJob) error { return j.Advance(st, time.Now()) })
				assert.NoError(t, err)
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			last := -1
			for k := 0; k < 50; k++ {
				job, ok := s.Get(id)
				if !assert.True(t, ok) {
					return
				}
				assert.GreaterOrEqual(t, job.Progress, last)
				assert.Equal(t, job.Stage.Checkpoint(), job.Progress)
				last = job.Progress
			}
		}()
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		job, _ := s.Get(fmt.Sprintf("job-%d", i))
		assert.Equal(t, domain.StageInferring, job.Stage)
	}

	assert.True(t, s.Delete("job-0"))
	assert.False(t, s.Delete("job-0"))
	assert.Equal(t, n-1, s.Len())
}
