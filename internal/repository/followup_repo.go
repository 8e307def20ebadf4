package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/timmy/bloodcell/internal/domain"
)

// FollowUpRepository persists follow-up questions and answers.
type FollowUpRepository struct {
	db *gorm.DB
}

// NewFollowUpRepository creates a new FollowUpRepository.
func NewFollowUpRepository(db *gorm.DB) *FollowUpRepository {
	return &FollowUpRepository{db: db}
}

// Create inserts one question/answer pair.
func (r *FollowUpRepository) Create(ctx context.Context, rec *domain.FollowUpRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

// ListByAnalysis returns the follow-ups for an analysis, oldest first.
func (r *FollowUpRepository) ListByAnalysis(ctx context.Context, analysisID string) ([]domain.FollowUpRecord, error) {
	var recs []domain.FollowUpRecord
	if err := r.db.WithContext(ctx).
		Where("analysis_id = ?", analysisID).
		Order("created_at ASC, id ASC").
		Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

// DeleteByAnalysis removes every follow-up for an analysis.
func (r *FollowUpRepository) DeleteByAnalysis(ctx context.Context, analysisID string) error {
	return r.db.WithContext(ctx).Where("analysis_id = ?", analysisID).Delete(&domain.FollowUpRecord{}).Error
}

// CountByAnalysis returns the number of follow-ups stored for an analysis.
func (r *FollowUpRepository) CountByAnalysis(ctx context.Context, analysisID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.FollowUpRecord{}).Where("analysis_id = ?", analysisID).Count(&count).Error
	return count, err
}
