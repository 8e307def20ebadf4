package service

import (
	"context"
	"errors"
	"io"

	"github.com/timmy/bloodcell/internal/domain"
	"github.com/timmy/bloodcell/internal/logger"
	"github.com/timmy/bloodcell/internal/storage"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	statsDays        = 7
)

// Stats is the archive summary plus the number of jobs held in memory.
type Stats struct {
	domain.ArchiveStats
	JobsInMemory int `json:"jobs_in_memory"`
}

// Recent lists archived analyses, newest first.
func (s *AnalysisService) Recent(ctx context.Context, limit int) ([]domain.AnalysisResult, error) {
	limit = clampLimit(limit, defaultListLimit, maxListLimit)
	if s.deps.Archive == nil {
		return []domain.AnalysisResult{}, nil
	}
	recs, err := s.deps.Archive.ListRecent(ctx, limit, 0)
	if err != nil {
		return nil, err
	}
	out := make([]domain.AnalysisResult, 0, len(recs))
	for i := range recs {
		out = append(out, recs[i].Result())
	}
	return out, nil
}

// Delete removes an analysis everywhere it is held: the job store, the
// archive with its follow-ups, the stored image and the case index.
// Returns domain.ErrNotFound if no trace of id exists.
func (s *AnalysisService) Delete(ctx context.Context, id string) error {
	ctx = logger.SetAnalysisID(ctx, id)

	imageKey := ""
	job, inMemory := s.deps.Store.Get(id)
	if inMemory {
		imageKey = job.ImageKey
		s.deps.Store.Delete(id)
	}

	archived := false
	if s.deps.Archive != nil {
		if rec, err := s.deps.Archive.GetByID(ctx, id); err == nil {
			archived = true
			if imageKey == "" {
				imageKey = rec.ImageKey
			}
			if err := s.deps.Archive.Delete(ctx, id); err != nil && !errors.Is(err, domain.ErrNotFound) {
				return err
			}
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
	}
	if !inMemory && !archived {
		return domain.NotFound(id)
	}

	if s.deps.Images != nil {
		if imageKey == "" && inMemory {
			imageKey = storage.ImageKey(s.cfg.ImagePrefix, id, job.ImageFormat)
		}
		if imageKey != "" {
			if err := s.deps.Images.Delete(ctx, imageKey); err != nil {
				logger.FromContext(ctx).WithError(err).WithField("storage_key", imageKey).Warn("Failed to delete stored image")
			}
		}
	}
	if s.deps.Cases != nil {
		if err := s.deps.Cases.Delete(ctx, id); err != nil {
			logger.FromContext(ctx).WithError(err).Warn("Failed to remove analysis from case index")
		}
	}

	logger.CtxInfo(ctx, "Analysis deleted")
	return nil
}

// Stats summarizes the archive over the last week.
func (s *AnalysisService) Stats(ctx context.Context) (*Stats, error) {
	out := &Stats{
		ArchiveStats: domain.ArchiveStats{ByDay: []domain.DailyCount{}},
		JobsInMemory: s.deps.Store.Len(),
	}
	if s.deps.Archive == nil {
		return out, nil
	}
	archive, err := s.deps.Archive.Stats(ctx, statsDays, s.now())
	if err != nil {
		return nil, err
	}
	out.ArchiveStats = *archive
	return out, nil
}

// Image opens the original upload of an analysis and returns its MIME type.
// Returns domain.ErrNotFound when image storage is disabled or holds nothing for id.
// The caller closes the reader.
func (s *AnalysisService) Image(ctx context.Context, id string) (io.ReadCloser, string, error) {
	if s.deps.Images == nil {
		return nil, "", domain.NotFound(id)
	}

	var key, format string
	if job, ok := s.deps.Store.Get(id); ok {
		key, format = job.ImageKey, job.ImageFormat
	} else {
		rec, err := s.archived(ctx, id)
		if err != nil {
			return nil, "", err
		}
		key, format = rec.ImageKey, rec.ImageFormat
	}
	if key == "" {
		return nil, "", domain.NotFound(id)
	}

	body, err := s.deps.Images.Download(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, "", domain.NotFound(id)
		}
		return nil, "", err
	}
	return body, storage.ContentType(format), nil
}

// SimilarEnabled reports whether a case index is configured.
func (s *AnalysisService) SimilarEnabled() bool {
	return s.deps.Cases != nil
}

// Similar returns prior analyses whose cell-count profile is closest to id's.
// The analysis must be completed. Without a case index the list is empty.
func (s *AnalysisService) Similar(ctx context.Context, id string, limit int) ([]domain.SimilarCase, error) {
	result, err := s.GetResult(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.deps.Cases == nil {
		return []domain.SimilarCase{}, nil
	}
	cases, err := s.deps.Cases.Search(ctx, result.CellCounts, clampLimit(limit, 5, 50), id)
	if err != nil {
		return nil, err
	}
	return cases, nil
}

func clampLimit(v, def, hi int) int {
	if v <= 0 {
		return def
	}
	if v > hi {
		return hi
	}
	return v
}
