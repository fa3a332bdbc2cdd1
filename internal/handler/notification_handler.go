package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"marketnotify/internal/middleware"
	"marketnotify/internal/service/notification"
	"marketnotify/pkg/utils"
)

const defaultPageSize = 20

// StreamServer upgrades a request into a live feed for one user
type StreamServer interface {
	Serve(userID string, w http.ResponseWriter, r *http.Request)
}

// NotificationHandler notification handler
type NotificationHandler struct {
	stateManager notification.StateManager
	stream       StreamServer
}

// NewNotificationHandler stream may be nil when realtime delivery is off.
func NewNotificationHandler(stateManager notification.StateManager, stream StreamServer) *NotificationHandler {
	return &NotificationHandler{
		stateManager: stateManager,
		stream:       stream,
	}
}

// ListNotifications newest first, one page per call
func (h *NotificationHandler) ListNotifications(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	var opts notification.ListOptions
	if err := c.ShouldBindQuery(&opts); err != nil {
		utils.Error(c, utils.NewErrorWithErr(utils.CodeInvalidParam, "invalid query", err))
		return
	}
	if err := utils.ValidateStruct(&opts); err != nil {
		utils.Error(c, err)
		return
	}
	if opts.Limit == 0 {
		opts.Limit = defaultPageSize
	}

	page, err := h.stateManager.List(c.Request.Context(), userID, opts)
	if err != nil {
		utils.Error(c, err)
		return
	}
	utils.SuccessCursorResponse(c, page.Items, page.NextCursor)
}

// UnreadCount counts notifications neither read nor dismissed
func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	count, err := h.stateManager.UnreadCount(c.Request.Context(), userID)
	if err != nil {
		utils.Error(c, err)
		return
	}
	utils.SuccessResponse(c, gin.H{"unread": count})
}

// MarkRead marks one notification read
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	id, err := utils.ValidateID(c.Param("id"))
	if err != nil {
		utils.Error(c, err)
		return
	}

	if err := h.stateManager.MarkRead(c.Request.Context(), userID, id); err != nil {
		utils.Error(c, err)
		return
	}
	utils.SuccessResponse(c, gin.H{"id": c.Param("id")})
}

// MarkAllRead marks every unread notification of the caller read
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	updated, err := h.stateManager.MarkAllRead(c.Request.Context(), userID)
	if err != nil {
		utils.Error(c, err)
		return
	}
	utils.SuccessResponse(c, gin.H{"updated": updated})
}

// Dismiss hides one notification
func (h *NotificationHandler) Dismiss(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	id, err := utils.ValidateID(c.Param("id"))
	if err != nil {
		utils.Error(c, err)
		return
	}

	if err := h.stateManager.Dismiss(c.Request.Context(), userID, id); err != nil {
		utils.Error(c, err)
		return
	}
	utils.SuccessResponse(c, gin.H{"id": c.Param("id")})
}

// Stream upgrades to a websocket carrying in-app deliveries for the caller.
func (h *NotificationHandler) Stream(c *gin.Context) {
	if h.stream == nil {
		utils.Error(c, utils.NewError(utils.CodeServiceDegraded, "realtime stream disabled"))
		return
	}
	userID := middleware.MustGetUserID(c)
	h.stream.Serve(userID, c.Writer, c.Request)
}
