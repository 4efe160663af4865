package repository

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-assess-api/internal/models"
)

// AIJobRepository exposes persistence helpers for AI jobs and their attempt history.
type AIJobRepository interface {
	InsertIfAbsent(ctx context.Context, job *models.AIJob) (bool, error)
	GetByID(ctx context.Context, id string) (models.AIJob, error)
	GetWithAttempts(ctx context.Context, id string) (models.AIJob, error)
	GetByDedupeKey(ctx context.Context, dedupeKey string) (models.AIJob, error)
	MarkProcessing(ctx context.Context, id string) (int64, error)
	MarkCompleted(ctx context.Context, id string, result datatypes.JSONMap) (int64, error)
	MarkFailed(ctx context.Context, id string, message string) (int64, error)
	ResetFailed(ctx context.Context, id string) (int64, error)
	AppendAttempt(ctx context.Context, attempt *models.AIJobAttempt) error
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.AIJob, error)
	WithTx(tx *gorm.DB) AIJobRepository
}

// NewAIJobRepository constructs an AI job repository.
func NewAIJobRepository(db *gorm.DB) AIJobRepository {
	return &aiJobRepository{db: db}
}

type aiJobRepository struct {
	db *gorm.DB
}

func (r *aiJobRepository) WithTx(tx *gorm.DB) AIJobRepository {
	return &aiJobRepository{db: tx}
}

// InsertIfAbsent writes the job unless its dedupe key is already taken and reports whether it did.
// ON CONFLICT DO NOTHING keeps an enclosing PostgreSQL transaction usable after a collision.
func (r *aiJobRepository) InsertIfAbsent(ctx context.Context, job *models.AIJob) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "dedupe_key"}}, DoNothing: true}).
		Create(job)
	if result.Error != nil {
		if IsUniqueViolation(result.Error) {
			return false, nil
		}
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *aiJobRepository) GetByID(ctx context.Context, id string) (models.AIJob, error) {
	var job models.AIJob
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		return models.AIJob{}, err
	}
	return job, nil
}

func (r *aiJobRepository) GetWithAttempts(ctx context.Context, id string) (models.AIJob, error) {
	var job models.AIJob
	err := r.db.WithContext(ctx).
		Preload("AttemptLog", func(db *gorm.DB) *gorm.DB {
			return db.Order("attempt ASC").Order("created_at ASC")
		}).
		First(&job, "id = ?", id).Error
	if err != nil {
		return models.AIJob{}, err
	}
	return job, nil
}

func (r *aiJobRepository) GetByDedupeKey(ctx context.Context, dedupeKey string) (models.AIJob, error) {
	var job models.AIJob
	if err := r.db.WithContext(ctx).First(&job, "dedupe_key = ?", dedupeKey).Error; err != nil {
		return models.AIJob{}, err
	}
	return job, nil
}

func (r *aiJobRepository) MarkProcessing(ctx context.Context, id string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.AIJob{}).
		Where("id = ? AND status <> ?", id, models.JobStatusCompleted).
		Updates(map[string]interface{}{
			"status":   models.JobStatusProcessing,
			"attempts": gorm.Expr("attempts + 1"),
		})
	return result.RowsAffected, result.Error
}

func (r *aiJobRepository) MarkCompleted(ctx context.Context, id string, result datatypes.JSONMap) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.AIJob{}).
		Where("id = ? AND status = ?", id, models.JobStatusProcessing).
		Updates(map[string]interface{}{
			"status":        models.JobStatusCompleted,
			"result":        result,
			"error_message": "",
		})
	return res.RowsAffected, res.Error
}

func (r *aiJobRepository) MarkFailed(ctx context.Context, id string, message string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.AIJob{}).
		Where("id = ? AND status <> ?", id, models.JobStatusCompleted).
		Updates(map[string]interface{}{
			"status":        models.JobStatusFailed,
			"error_message": message,
		})
	return result.RowsAffected, result.Error
}

func (r *aiJobRepository) ResetFailed(ctx context.Context, id string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.AIJob{}).
		Where("id = ? AND status = ?", id, models.JobStatusFailed).
		Update("status", models.JobStatusPending)
	return result.RowsAffected, result.Error
}

func (r *aiJobRepository) AppendAttempt(ctx context.Context, attempt *models.AIJobAttempt) error {
	return r.db.WithContext(ctx).Create(attempt).Error
}

func (r *aiJobRepository) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.AIJob, error) {
	if limit <= 0 {
		limit = 100
	}
	var jobs []models.AIJob
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", models.JobStatusPending, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}
