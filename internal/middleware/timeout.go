package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"

	"marketnotify/pkg/utils"
)

// TimeoutConfig timeout configuration
type TimeoutConfig struct {
	Timeout time.Duration
	// SkipFunc function to skip timeout check
	SkipFunc func(*gin.Context) bool
}

// Timeout bounds the request context. Handlers run on the request goroutine
// and observe the deadline through ctx; if one returns without writing after
// the deadline passed, a timeout error is rendered.
func Timeout(timeout time.Duration) gin.HandlerFunc {
	return TimeoutWithConfig(TimeoutConfig{Timeout: timeout})
}

// TimeoutWithConfig timeout middleware with configuration
func TimeoutWithConfig(config TimeoutConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if config.Timeout <= 0 || (config.SkipFunc != nil && config.SkipFunc(c)) {
			c.Next()
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), config.Timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		if !c.Writer.Written() && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			utils.AbortWithError(c, utils.NewError(utils.CodeTimeout, "request timeout"))
		}
	}
}

// SkipWebsocket exempts upgrade requests; the stream outlives any request timeout.
func SkipWebsocket(c *gin.Context) bool {
	return c.IsWebsocket()
}
