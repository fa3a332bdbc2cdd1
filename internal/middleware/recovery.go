package middleware

import (
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"marketnotify/pkg/log"
	"marketnotify/pkg/utils"
)

// Recovery panic recovery middleware
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		log.WithFields(map[string]interface{}{
			"error":      recovered,
			"path":       c.Request.URL.Path,
			"method":     c.Request.Method,
			"ip":         c.ClientIP(),
			"request_id": c.GetString(RequestIDKey),
			"stack":      string(debug.Stack()),
		}).Error("Panic recovered")

		utils.AbortWithError(c, utils.ErrInternalError)
	})
}
