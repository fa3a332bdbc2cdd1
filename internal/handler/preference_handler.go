package handler

import (
	"github.com/gin-gonic/gin"

	"marketnotify/internal/middleware"
	"marketnotify/internal/model"
	"marketnotify/internal/service/preference"
	"marketnotify/pkg/utils"
)

// PreferenceHandler preference handler
type PreferenceHandler struct {
	prefService preference.PreferenceService
}

// NewPreferenceHandler creates a preference handler
func NewPreferenceHandler(prefService preference.PreferenceService) *PreferenceHandler {
	return &PreferenceHandler{
		prefService: prefService,
	}
}

// GetPreferences returns the caller's preferences, or the defaults if never saved.
func (h *PreferenceHandler) GetPreferences(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	prefs, err := h.prefService.Get(c.Request.Context(), userID)
	if err != nil {
		utils.Error(c, err)
		return
	}
	utils.SuccessResponse(c, prefs)
}

// UpdatePreferences replaces the caller's preferences. Invalid input changes nothing.
func (h *PreferenceHandler) UpdatePreferences(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	var req model.NotificationPreferences
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, utils.NewErrorWithErr(utils.CodeInvalidParam, "invalid request body", err))
		return
	}

	saved, err := h.prefService.Update(c.Request.Context(), userID, &req)
	if err != nil {
		utils.Error(c, err)
		return
	}
	utils.SuccessResponse(c, saved)
}

// ResetPreferences drops stored preferences so the defaults apply again.
func (h *PreferenceHandler) ResetPreferences(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	prefs, err := h.prefService.Reset(c.Request.Context(), userID)
	if err != nil {
		utils.Error(c, err)
		return
	}
	utils.SuccessResponse(c, prefs)
}
