package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-assess-api/internal/models"
)

// AssessmentRepository exposes persistence helpers for generated assessments.
type AssessmentRepository interface {
	GetByID(ctx context.Context, id string) (models.Assessment, error)
	GetByHash(ctx context.Context, syllabusHash string) (models.Assessment, error)
	CreateIfAbsent(ctx context.Context, assessment *models.Assessment) (bool, error)
	WithTx(tx *gorm.DB) AssessmentRepository
}

// NewAssessmentRepository constructs an assessment repository.
func NewAssessmentRepository(db *gorm.DB) AssessmentRepository {
	return &assessmentRepository{db: db}
}

type assessmentRepository struct {
	db *gorm.DB
}

func (r *assessmentRepository) WithTx(tx *gorm.DB) AssessmentRepository {
	return &assessmentRepository{db: tx}
}

func (r *assessmentRepository) GetByID(ctx context.Context, id string) (models.Assessment, error) {
	var assessment models.Assessment
	if err := r.db.WithContext(ctx).First(&assessment, "id = ?", id).Error; err != nil {
		return models.Assessment{}, err
	}
	return assessment, nil
}

func (r *assessmentRepository) GetByHash(ctx context.Context, syllabusHash string) (models.Assessment, error) {
	var assessment models.Assessment
	if err := r.db.WithContext(ctx).First(&assessment, "syllabus_hash = ?", syllabusHash).Error; err != nil {
		return models.Assessment{}, err
	}
	return assessment, nil
}

// CreateIfAbsent inserts the assessment unless one already exists for its syllabus hash.
// It reports whether a row was written.
func (r *assessmentRepository) CreateIfAbsent(ctx context.Context, assessment *models.Assessment) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "syllabus_hash"}}, DoNothing: true}).
		Create(assessment)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
