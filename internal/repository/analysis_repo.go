package repository

import (
	"context"
	"errors"
	"sort"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/timmy/bloodcell/internal/domain"
)

// AnalysisRepository persists completed analyses.
type AnalysisRepository struct {
	db *gorm.DB
}

// NewAnalysisRepository creates a new AnalysisRepository.
// Parameters:
//   - db: GORM database handle used for queries.
//
// Returns:
//   - *AnalysisRepository: repository instance bound to db.
func NewAnalysisRepository(db *gorm.DB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

// Save creates or replaces the archived record for an analysis.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - rec: record to persist, keyed by ID.
//
// Returns:
//   - error: non-nil if the upsert fails.
func (r *AnalysisRepository) Save(ctx context.Context, rec *domain.AnalysisRecord) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(rec).Error
}

// GetByID retrieves an archived analysis.
// Returns a domain not_found error when no record exists.
func (r *AnalysisRepository) GetByID(ctx context.Context, id string) (*domain.AnalysisRecord, error) {
	var rec domain.AnalysisRecord
	if err := r.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NotFound(id)
		}
		return nil, err
	}
	return &rec, nil
}

// ListRecent returns the newest analyses first.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - limit: maximum number of records to return.
//   - offset: number of records to skip.
//
// Returns:
//   - []domain.AnalysisRecord: matching records.
//   - error: non-nil if the query fails.
func (r *AnalysisRepository) ListRecent(ctx context.Context, limit, offset int) ([]domain.AnalysisRecord, error) {
	var recs []domain.AnalysisRecord
	if err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

// SetExplanation stores the generated explanation text for an archived analysis.
func (r *AnalysisRepository) SetExplanation(ctx context.Context, id, text string) error {
	res := r.db.WithContext(ctx).
		Model(&domain.AnalysisRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"explanation": text, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.NotFound(id)
	}
	return nil
}

// Delete removes an analysis and its follow-up history in one transaction.
// Returns a domain not_found error if the analysis was not archived.
func (r *AnalysisRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("analysis_id = ?", id).Delete(&domain.FollowUpRecord{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&domain.AnalysisRecord{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.NotFound(id)
		}
		return nil
	})
}

// Count returns the total number of archived analyses.
func (r *AnalysisRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.AnalysisRecord{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Stats summarizes the archive with per-day counts for the last days.
// Days are bucketed in UTC and returned oldest first; days without analyses are omitted.
func (r *AnalysisRepository) Stats(ctx context.Context, days int, now time.Time) (*domain.ArchiveStats, error) {
	stats := &domain.ArchiveStats{ByDay: []domain.DailyCount{}}

	total, err := r.Count(ctx)
	if err != nil {
		return nil, err
	}
	stats.TotalAnalyses = total

	if err := r.db.WithContext(ctx).Model(&domain.FollowUpRecord{}).Count(&stats.TotalFollowUp).Error; err != nil {
		return nil, err
	}

	if days <= 0 {
		return stats, nil
	}
	since := now.UTC().Truncate(24*time.Hour).AddDate(0, 0, -(days - 1))

	var created []time.Time
	if err := r.db.WithContext(ctx).
		Model(&domain.AnalysisRecord{}).
		Where("created_at >= ?", since).
		Pluck("created_at", &created).Error; err != nil {
		return nil, err
	}

	buckets := make(map[string]int64)
	for _, t := range created {
		buckets[t.UTC().Format("2006-01-02")]++
	}
	for day, n := range buckets {
		stats.ByDay = append(stats.ByDay, domain.DailyCount{Day: day, Count: n})
	}
	sort.Slice(stats.ByDay, func(i, j int) bool { return stats.ByDay[i].Day < stats.ByDay[j].Day })

	return stats, nil
}
