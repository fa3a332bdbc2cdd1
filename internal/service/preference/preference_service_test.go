package preference

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"marketnotify/internal/model"
	"marketnotify/internal/repository"
	"marketnotify/pkg/utils"
)

type MockPreferenceRepository struct {
	mock.Mock
}

func (m *MockPreferenceRepository) Get(ctx context.Context, userID string) (*model.NotificationPreferences, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.NotificationPreferences), args.Error(1)
}

func (m *MockPreferenceRepository) Upsert(ctx context.Context, prefs *model.NotificationPreferences) error {
	args := m.Called(ctx, prefs)
	return args.Error(0)
}

func (m *MockPreferenceRepository) Delete(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func TestPreferenceService_GetDefaults(t *testing.T) {
	repo := new(MockPreferenceRepository)
	repo.On("Get", mock.Anything, "u1").Return(nil, repository.ErrNotFound)

	prefs, err := NewPreferenceService(repo).Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, model.DefaultPreferences("u1"), prefs)
	repo.AssertExpectations(t)
}

func TestPreferenceService_GetStored(t *testing.T) {
	stored := model.DefaultPreferences("u1")
	stored.PriorityThreshold = model.PriorityCritical

	repo := new(MockPreferenceRepository)
	repo.On("Get", mock.Anything, "u1").Return(stored, nil)

	prefs, err := NewPreferenceService(repo).Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, model.PriorityCritical, prefs.PriorityThreshold)
}

func TestPreferenceService_GetDatabaseError(t *testing.T) {
	repo := new(MockPreferenceRepository)
	repo.On("Get", mock.Anything, "u1").Return(nil, errors.New("connection refused"))

	_, err := NewPreferenceService(repo).Get(context.Background(), "u1")
	assert.Equal(t, utils.CodeDatabaseError, utils.GetErrorCode(err))
}

func TestPreferenceService_Update(t *testing.T) {
	repo := new(MockPreferenceRepository)
	repo.On("Upsert", mock.Anything, mock.MatchedBy(func(p *model.NotificationPreferences) bool {
		return p.UserID == "u1" && p.Timezone == "UTC" && len(p.MarketFocus) == 1 && p.MarketFocus[0] == "toys"
	})).Return(nil)

	input := model.DefaultPreferences("someone-else")
	input.Timezone = ""
	input.MarketFocus = []string{"  toys "}
	input.QuietHours = model.QuietHours{}

	saved, err := NewPreferenceService(repo).Update(context.Background(), "u1", input)
	require.NoError(t, err)
	assert.Equal(t, "u1", saved.UserID)
	assert.Equal(t, "22:00", saved.QuietHours.Start)
	assert.Equal(t, "someone-else", input.UserID)
	repo.AssertExpectations(t)
}

func TestPreferenceService_UpdateRejectsInvalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *model.NotificationPreferences)
		field  string
	}{
		{"bad clock", func(p *model.NotificationPreferences) {
			p.QuietHours = model.QuietHours{Enabled: true, Start: "24:00", End: "07:00"}
		}, "start"},
		{"zero hourly limit", func(p *model.NotificationPreferences) { p.FrequencyLimits.PerHour = 0 }, "per_hour"},
		{"day below hour", func(p *model.NotificationPreferences) {
			p.FrequencyLimits = model.FrequencyLimits{PerHour: 10, PerDay: 5}
		}, "per_day"},
		{"unknown category", func(p *model.NotificationPreferences) {
			p.EnabledCategories = []model.Category{"gossip"}
		}, "enabled_categories"},
		{"unknown channel", func(p *model.NotificationPreferences) { p.Channels = []model.Channel{"fax"} }, "channels"},
		{"duplicate channel", func(p *model.NotificationPreferences) {
			p.Channels = []model.Channel{model.ChannelEmail, model.ChannelEmail}
		}, "channels"},
		{"unknown threshold", func(p *model.NotificationPreferences) { p.PriorityThreshold = "urgent" }, "priority_threshold"},
		{"bad timezone", func(p *model.NotificationPreferences) { p.Timezone = "Mars/Olympus" }, "timezone"},
		{"blank market", func(p *model.NotificationPreferences) { p.MarketFocus = []string{" "} }, "market_focus"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockPreferenceRepository)
			input := model.DefaultPreferences("u1")
			tt.mutate(input)

			_, err := NewPreferenceService(repo).Update(context.Background(), "u1", input)
			require.Error(t, err)

			appErr, ok := utils.IsAppError(err)
			require.True(t, ok)
			assert.Equal(t, utils.CodeValidationFailed, appErr.Code)
			require.NotEmpty(t, appErr.Fields)
			assert.Contains(t, appErr.Fields[0], tt.field)

			repo.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
		})
	}
}

func TestPreferenceService_UpdateNil(t *testing.T) {
	_, err := NewPreferenceService(new(MockPreferenceRepository)).Update(context.Background(), "u1", nil)
	assert.ErrorIs(t, err, utils.ErrInvalidParam)
}

func TestPreferenceService_UpdateStoreError(t *testing.T) {
	repo := new(MockPreferenceRepository)
	repo.On("Upsert", mock.Anything, mock.Anything).Return(errors.New("deadlock"))

	_, err := NewPreferenceService(repo).Update(context.Background(), "u1", model.DefaultPreferences("u1"))
	assert.Equal(t, utils.CodeDatabaseError, utils.GetErrorCode(err))
}

func TestPreferenceService_Reset(t *testing.T) {
	repo := new(MockPreferenceRepository)
	repo.On("Delete", mock.Anything, "u1").Return(nil)

	prefs, err := NewPreferenceService(repo).Reset(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, model.DefaultPreferences("u1"), prefs)
	repo.AssertExpectations(t)
}
