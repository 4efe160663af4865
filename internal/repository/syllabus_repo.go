package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-assess-api/internal/models"
)

// SyllabusRepository exposes persistence helpers for uploaded syllabi.
type SyllabusRepository interface {
	CreateBatch(ctx context.Context, items []models.Syllabus) error
	List(ctx context.Context) ([]models.Syllabus, error)
}

// NewSyllabusRepository constructs a syllabus repository.
func NewSyllabusRepository(db *gorm.DB) SyllabusRepository {
	return &syllabusRepository{db: db}
}

type syllabusRepository struct {
	db *gorm.DB
}

func (r *syllabusRepository) CreateBatch(ctx context.Context, items []models.Syllabus) error {
	if len(items) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&items).Error
}

func (r *syllabusRepository) List(ctx context.Context) ([]models.Syllabus, error) {
	var items []models.Syllabus
	err := r.db.WithContext(ctx).
		Order("created_at ASC").
		Order("id ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
