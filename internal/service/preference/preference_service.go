package preference

import (
	"context"
	"errors"
	"strings"

	"gorm.io/datatypes"

	"marketnotify/internal/model"
	"marketnotify/internal/repository"
	"marketnotify/pkg/log"
	"marketnotify/pkg/utils"
)

// PreferenceService preference service interface
type PreferenceService interface {
	// Get returns stored preferences, or defaults for users that never saved any
	Get(ctx context.Context, userID string) (*model.NotificationPreferences, error)

	// Update validates and replaces the user's preferences. Invalid input changes nothing.
	Update(ctx context.Context, userID string, prefs *model.NotificationPreferences) (*model.NotificationPreferences, error)

	// Reset drops stored preferences and returns the defaults
	Reset(ctx context.Context, userID string) (*model.NotificationPreferences, error)
}

type preferenceService struct {
	repo repository.PreferenceRepository
}

// NewPreferenceService creates a preference service
func NewPreferenceService(repo repository.PreferenceRepository) PreferenceService {
	return &preferenceService{repo: repo}
}

func (s *preferenceService) Get(ctx context.Context, userID string) (*model.NotificationPreferences, error) {
	prefs, err := s.repo.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.DefaultPreferences(userID), nil
		}
		return nil, utils.WrapError(err, utils.CodeDatabaseError, "failed to load preferences")
	}
	return prefs, nil
}

func (s *preferenceService) Update(ctx context.Context, userID string, prefs *model.NotificationPreferences) (*model.NotificationPreferences, error) {
	if prefs == nil {
		return nil, utils.ErrInvalidParam
	}

	candidate := normalize(userID, prefs)
	if err := utils.ValidateStruct(candidate); err != nil {
		return nil, err
	}

	if err := s.repo.Upsert(ctx, candidate); err != nil {
		log.Component("preference").WithFields(map[string]interface{}{
			"user_id": userID,
			"error":   err.Error(),
		}).Error("Failed to save preferences")
		return nil, utils.WrapError(err, utils.CodeDatabaseError, "failed to save preferences")
	}

	log.Component("preference").WithField("user_id", userID).Info("Preferences updated")
	return candidate, nil
}

func (s *preferenceService) Reset(ctx context.Context, userID string) (*model.NotificationPreferences, error) {
	if err := s.repo.Delete(ctx, userID); err != nil {
		return nil, utils.WrapError(err, utils.CodeDatabaseError, "failed to reset preferences")
	}
	return model.DefaultPreferences(userID), nil
}

// normalize copies prefs with the owner fixed to userID, markets trimmed and
// nil lists made empty. The caller's value is left untouched.
func normalize(userID string, prefs *model.NotificationPreferences) *model.NotificationPreferences {
	out := *prefs
	out.UserID = userID

	out.Channels = append(datatypes.JSONSlice[model.Channel]{}, prefs.Channels...)
	out.EnabledCategories = append(datatypes.JSONSlice[model.Category]{}, prefs.EnabledCategories...)

	focus := make(datatypes.JSONSlice[string], 0, len(prefs.MarketFocus))
	for _, m := range prefs.MarketFocus {
		focus = append(focus, strings.TrimSpace(m))
	}
	out.MarketFocus = focus

	if strings.TrimSpace(out.Timezone) == "" {
		out.Timezone = "UTC"
	}
	out.QuietHours.Start = strings.TrimSpace(out.QuietHours.Start)
	out.QuietHours.End = strings.TrimSpace(out.QuietHours.End)
	if !out.QuietHours.Enabled && out.QuietHours.Start == "" && out.QuietHours.End == "" {
		out.QuietHours = model.DefaultPreferences(userID).QuietHours
	}
	return &out
}
