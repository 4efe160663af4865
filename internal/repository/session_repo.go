package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-assess-api/internal/models"
)

// SessionRepository exposes persistence helpers for sessions and their submissions.
// Every status transition is a conditional update returning the number of rows it changed.
type SessionRepository interface {
	Create(ctx context.Context, session *models.Session) error
	GetByID(ctx context.Context, id string) (models.Session, error)
	GetWithSubmissions(ctx context.Context, id string) (models.Session, error)
	GetForEvaluation(ctx context.Context, id string) (models.Session, error)
	ListByUser(ctx context.Context, userID string) ([]models.Session, error)
	ExpireStale(ctx context.Context, userID string, cutoff time.Time) (int64, error)
	CountActive(ctx context.Context, userID string) (int64, error)
	Activate(ctx context.Context, id, userID string, now time.Time) (int64, error)
	MarkExpired(ctx context.Context, id string) (int64, error)
	AdvanceSection(ctx context.Context, id string, expectedIndex int, now time.Time) (int64, error)
	Complete(ctx context.Context, id string, totalSections int, now time.Time) (int64, error)
	CreateSubmission(ctx context.Context, submission *models.SectionSubmission) error
	WithTx(tx *gorm.DB) SessionRepository
}

// NewSessionRepository constructs a session repository.
func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &sessionRepository{db: db}
}

type sessionRepository struct {
	db *gorm.DB
}

func (r *sessionRepository) WithTx(tx *gorm.DB) SessionRepository {
	return &sessionRepository{db: tx}
}

func (r *sessionRepository) Create(ctx context.Context, session *models.Session) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *sessionRepository) GetByID(ctx context.Context, id string) (models.Session, error) {
	var session models.Session
	if err := r.db.WithContext(ctx).First(&session, "id = ?", id).Error; err != nil {
		return models.Session{}, err
	}
	return session, nil
}

func (r *sessionRepository) GetWithSubmissions(ctx context.Context, id string) (models.Session, error) {
	var session models.Session
	err := r.db.WithContext(ctx).
		Preload("Submissions", func(db *gorm.DB) *gorm.DB {
			return db.Order("section_index ASC")
		}).
		First(&session, "id = ?", id).Error
	if err != nil {
		return models.Session{}, err
	}
	return session, nil
}

func (r *sessionRepository) GetForEvaluation(ctx context.Context, id string) (models.Session, error) {
	var session models.Session
	err := r.db.WithContext(ctx).
		Preload("Assessment").
		Preload("Submissions", func(db *gorm.DB) *gorm.DB {
			return db.Order("section_index ASC")
		}).
		First(&session, "id = ?", id).Error
	if err != nil {
		return models.Session{}, err
	}
	return session, nil
}

func (r *sessionRepository) ListByUser(ctx context.Context, userID string) ([]models.Session, error) {
	var sessions []models.Session
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&sessions).Error
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *sessionRepository) ExpireStale(ctx context.Context, userID string, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("user_id = ? AND status = ? AND last_activity_at < ?", userID, models.SessionStatusActive, cutoff).
		Update("status", models.SessionStatusExpired)
	return result.RowsAffected, result.Error
}

func (r *sessionRepository) CountActive(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("user_id = ? AND status = ?", userID, models.SessionStatusActive).
		Count(&count).Error
	return count, err
}

func (r *sessionRepository) Activate(ctx context.Context, id, userID string, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("id = ? AND user_id = ? AND status = ?", id, userID, models.SessionStatusOptedIn).
		Updates(map[string]interface{}{
			"status":           models.SessionStatusActive,
			"started_at":       now,
			"last_activity_at": now,
		})
	return result.RowsAffected, result.Error
}

func (r *sessionRepository) MarkExpired(ctx context.Context, id string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("id = ? AND status = ?", id, models.SessionStatusActive).
		Update("status", models.SessionStatusExpired)
	return result.RowsAffected, result.Error
}

func (r *sessionRepository) AdvanceSection(ctx context.Context, id string, expectedIndex int, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("id = ? AND status = ? AND current_section_index = ?", id, models.SessionStatusActive, expectedIndex).
		Updates(map[string]interface{}{
			"current_section_index": gorm.Expr("current_section_index + 1"),
			"last_activity_at":      now,
		})
	return result.RowsAffected, result.Error
}

func (r *sessionRepository) Complete(ctx context.Context, id string, totalSections int, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("id = ? AND status = ? AND current_section_index = ?", id, models.SessionStatusActive, totalSections).
		Updates(map[string]interface{}{
			"status":           models.SessionStatusCompleted,
			"completed_at":     now,
			"last_activity_at": now,
		})
	return result.RowsAffected, result.Error
}

func (r *sessionRepository) CreateSubmission(ctx context.Context, submission *models.SectionSubmission) error {
	return r.db.WithContext(ctx).Create(submission).Error
}
