package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"marketnotify/internal/model"
)

// PreferenceRepository preference repository interface
type PreferenceRepository interface {
	// Get returns ErrNotFound for users that never saved preferences
	Get(ctx context.Context, userID string) (*model.NotificationPreferences, error)

	// Upsert replaces the whole row
	Upsert(ctx context.Context, prefs *model.NotificationPreferences) error

	// Delete forgets a user's preferences; defaults apply afterwards
	Delete(ctx context.Context, userID string) error
}

type preferenceRepository struct {
	db *gorm.DB
}

// NewPreferenceRepository creates a new preference repository
func NewPreferenceRepository(db *gorm.DB) PreferenceRepository {
	return &preferenceRepository{db: db}
}

func (r *preferenceRepository) Get(ctx context.Context, userID string) (*model.NotificationPreferences, error) {
	var prefs model.NotificationPreferences
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&prefs).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &prefs, nil
}

func (r *preferenceRepository) Upsert(ctx context.Context, prefs *model.NotificationPreferences) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		UpdateAll: true,
	}).Create(prefs).Error
}

func (r *preferenceRepository) Delete(ctx context.Context, userID string) error {
	return r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&model.NotificationPreferences{}).Error
}
