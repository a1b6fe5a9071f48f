package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/funmusicplace/mirlo-sub003/model"
)

// ErrNotFound is returned when a requested asset row does not exist.
var ErrNotFound = errors.New("repository: not found")

// TrackAudioRepository defines data operations on uploaded audio assets.
type TrackAudioRepository interface {
	Create(ctx context.Context, audio *model.TrackAudio) error
	GetByID(ctx context.Context, id string) (*model.TrackAudio, error)
	// MarkSuccess flips the asset to SUCCESS and records the measured
	// duration. A nil duration leaves the column untouched.
	MarkSuccess(ctx context.Context, id string, duration *float64) error
	MarkError(ctx context.Context, id string) error
	// ResetForReupload puts a replaced asset back into STARTED.
	ResetForReupload(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

type gormTrackAudioRepository struct {
	db *gorm.DB
}

// NewTrackAudioRepository creates a GORM-backed TrackAudioRepository.
func NewTrackAudioRepository(db *gorm.DB) TrackAudioRepository {
	return &gormTrackAudioRepository{db: db}
}

func (r *gormTrackAudioRepository) Create(ctx context.Context, audio *model.TrackAudio) error {
	if audio.UploadState == "" {
		audio.UploadState = model.UploadStateStarted
	}
	if err := r.db.WithContext(ctx).Create(audio).Error; err != nil {
		return fmt.Errorf("failed to create track audio %s: %w", audio.ID, err)
	}
	return nil
}

func (r *gormTrackAudioRepository) GetByID(ctx context.Context, id string) (*model.TrackAudio, error) {
	var audio model.TrackAudio
	err := r.db.WithContext(ctx).First(&audio, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load track audio %s: %w", id, err)
	}
	return &audio, nil
}

func (r *gormTrackAudioRepository) MarkSuccess(ctx context.Context, id string, duration *float64) error {
	updates := map[string]interface{}{"upload_state": model.UploadStateSuccess}
	if duration != nil {
		updates["duration"] = *duration
	}
	return r.update(ctx, id, updates)
}

func (r *gormTrackAudioRepository) MarkError(ctx context.Context, id string) error {
	return r.update(ctx, id, map[string]interface{}{"upload_state": model.UploadStateError})
}

func (r *gormTrackAudioRepository) ResetForReupload(ctx context.Context, id string) error {
	return r.update(ctx, id, map[string]interface{}{
		"upload_state": model.UploadStateStarted,
		"duration":     nil,
	})
}

func (r *gormTrackAudioRepository) update(ctx context.Context, id string, updates map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&model.TrackAudio{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to update track audio %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormTrackAudioRepository) Delete(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Delete(&model.TrackAudio{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("failed to delete track audio %s: %w", id, err)
	}
	return nil
}
