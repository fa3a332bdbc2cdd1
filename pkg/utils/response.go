package utils

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Response standard response structure
type Response struct {
	Code      int         `json:"code"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// SuccessResponse returns success response
func SuccessResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:      int(CodeSuccess),
		Message:   "success",
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
}

// ErrorResponse returns error response
func ErrorResponse(c *gin.Context, httpCode int, message string) {
	c.JSON(httpCode, Response{
		Code:      httpCode,
		Message:   message,
		Timestamp: time.Now().Unix(),
	})
}

// Error renders err using its business code; unknown errors become 500 without leaking detail.
func Error(c *gin.Context, err error) {
	appErr, ok := IsAppError(err)
	if !ok {
		appErr = ErrInternalError
	}

	var data interface{}
	if len(appErr.Fields) > 0 {
		data = gin.H{"fields": appErr.Fields}
	}
	c.JSON(appErr.Code.HTTPStatus(), Response{
		Code:      int(appErr.Code),
		Message:   appErr.Message,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
}

// AbortWithError renders err and stops the handler chain.
func AbortWithError(c *gin.Context, err error) {
	Error(c, err)
	c.Abort()
}

// CursorPage cursor-paginated list payload
type CursorPage struct {
	Items      interface{} `json:"items"`
	NextCursor string      `json:"next_cursor,omitempty"`
}

// SuccessCursorResponse returns one page and the cursor for the next one.
func SuccessCursorResponse(c *gin.Context, items interface{}, nextCursor string) {
	SuccessResponse(c, CursorPage{Items: items, NextCursor: nextCursor})
}
