package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/funmusicplace/mirlo-sub003/model"
)

// ImageRepository defines data operations on uploaded image assets.
type ImageRepository interface {
	Create(ctx context.Context, image *model.Image) error
	GetByID(ctx context.Context, id string) (*model.Image, error)
	// SetURLs persists the complete variant URL list in a single update.
	// Workers call it only after every variant succeeded.
	SetURLs(ctx context.Context, id string, urls []string) error
	MarkSuccess(ctx context.Context, id string) error
	MarkError(ctx context.Context, id string) error
	ResetForReupload(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

type gormImageRepository struct {
	db *gorm.DB
}

// NewImageRepository creates a GORM-backed ImageRepository.
func NewImageRepository(db *gorm.DB) ImageRepository {
	return &gormImageRepository{db: db}
}

func (r *gormImageRepository) Create(ctx context.Context, image *model.Image) error {
	if image.UploadState == "" {
		image.UploadState = model.UploadStateStarted
	}
	if err := r.db.WithContext(ctx).Create(image).Error; err != nil {
		return fmt.Errorf("failed to create image %s: %w", image.ID, err)
	}
	return nil
}

func (r *gormImageRepository) GetByID(ctx context.Context, id string) (*model.Image, error) {
	var image model.Image
	err := r.db.WithContext(ctx).First(&image, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load image %s: %w", id, err)
	}
	return &image, nil
}

func (r *gormImageRepository) SetURLs(ctx context.Context, id string, urls []string) error {
	return r.update(ctx, id, map[string]interface{}{"urls": urls})
}

func (r *gormImageRepository) MarkSuccess(ctx context.Context, id string) error {
	return r.update(ctx, id, map[string]interface{}{"upload_state": model.UploadStateSuccess})
}

func (r *gormImageRepository) MarkError(ctx context.Context, id string) error {
	return r.update(ctx, id, map[string]interface{}{"upload_state": model.UploadStateError})
}

func (r *gormImageRepository) ResetForReupload(ctx context.Context, id string) error {
	return r.update(ctx, id, map[string]interface{}{
		"upload_state": model.UploadStateStarted,
		"urls":         nil,
	})
}

func (r *gormImageRepository) update(ctx context.Context, id string, updates map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&model.Image{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to update image %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormImageRepository) Delete(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Delete(&model.Image{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("failed to delete image %s: %w", id, err)
	}
	return nil
}
