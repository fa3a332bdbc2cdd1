package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateID(t *testing.T) {
	tests := []struct {
		input     string
		expected  int64
		wantError bool
	}{
		{"123", 123, false},
		{"0", 0, true},
		{"-1", 0, true},
		{"", 0, true},
		{"abc", 0, true},
		{"123.45", 0, true},
	}

	for _, tt := range tests {
		result, err := ValidateID(tt.input)
		if tt.wantError {
			assert.Error(t, err, tt.input)
		} else {
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		}
	}
}

type windowForm struct {
	Start    string `json:"start" validate:"hhmm"`
	Timezone string `json:"timezone" validate:"iana_tz"`
	PerHour  int    `json:"per_hour" validate:"positive"`
	PerDay   int    `json:"per_day" validate:"positive,gtefield=PerHour"`
}

func TestValidateStruct(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		err := ValidateStruct(windowForm{Start: "22:00", Timezone: "Europe/Berlin", PerHour: 3, PerDay: 10})
		assert.NoError(t, err)
	})

	t.Run("AllFieldsReported", func(t *testing.T) {
		err := ValidateStruct(windowForm{Start: "25:00", Timezone: "Mars/Olympus", PerHour: 0, PerDay: -1})
		require.Error(t, err)

		appErr, ok := IsAppError(err)
		require.True(t, ok)
		assert.Equal(t, CodeValidationFailed, appErr.Code)
		assert.Contains(t, appErr.Fields, "start must be a time of day in HH:MM format")
		assert.Contains(t, appErr.Fields, "timezone must be an IANA time zone name")
		assert.Contains(t, appErr.Fields, "per_hour must be a positive integer")
	})

	t.Run("DayBelowHour", func(t *testing.T) {
		err := ValidateStruct(windowForm{Start: "07:00", PerHour: 5, PerDay: 2})
		appErr, ok := IsAppError(err)
		require.True(t, ok)
		assert.Equal(t, []string{"per_day must be greater than or equal to per_hour"}, appErr.Fields)
	})
}

func TestCamelToSnake(t *testing.T) {
	assert.Equal(t, "per_hour", camelToSnake("PerHour"))
	assert.Equal(t, "priority_threshold", camelToSnake("priorityThreshold"))
	assert.Equal(t, "user_id", camelToSnake("userID"))
	assert.Equal(t, "per_day", camelToSnake("per_day"))
}
