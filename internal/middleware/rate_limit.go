package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"marketnotify/pkg/limiter"
	"marketnotify/pkg/log"
	"marketnotify/pkg/utils"
)

// RateLimitConfig rate limiting middleware configuration
type RateLimitConfig struct {
	Limiter limiter.RateLimiter
	// KeyFunc function to generate rate limit key
	KeyFunc func(c *gin.Context) string
	// FailOpen lets requests through when the limiter itself errors.
	FailOpen bool
	// RetryAfter seconds advertised to rejected callers
	RetryAfter int
}

// RateLimit limits per user when authenticated, per client IP otherwise.
func RateLimit(l limiter.RateLimiter) gin.HandlerFunc {
	return RateLimitWithConfig(RateLimitConfig{
		Limiter:    l,
		KeyFunc:    UserOrIPKey,
		FailOpen:   true,
		RetryAfter: 1,
	})
}

// RateLimitWithConfig rate limiting middleware with configuration
func RateLimitWithConfig(config RateLimitConfig) gin.HandlerFunc {
	if config.KeyFunc == nil {
		config.KeyFunc = UserOrIPKey
	}
	if config.RetryAfter <= 0 {
		config.RetryAfter = 1
	}

	return func(c *gin.Context) {
		key := config.KeyFunc(c)

		allowed, err := config.Limiter.Allow(c.Request.Context(), key)
		if err != nil {
			log.WithFields(map[string]interface{}{
				"key":   key,
				"path":  c.Request.URL.Path,
				"error": err.Error(),
			}).Warn("Rate limiter unavailable")
			if !config.FailOpen {
				utils.AbortWithError(c, utils.ErrServiceDegraded)
				return
			}
			c.Next()
			return
		}

		if !allowed {
			log.WithFields(map[string]interface{}{
				"key":    key,
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
				"ip":     c.ClientIP(),
			}).Warn("Rate limit exceeded")

			c.Header("Retry-After", strconv.Itoa(config.RetryAfter))
			utils.AbortWithError(c, utils.ErrRateLimit)
			return
		}

		c.Next()
	}
}

// UserOrIPKey keys on the authenticated user, falling back to the client IP.
func UserOrIPKey(c *gin.Context) string {
	if userID, ok := GetUserID(c); ok {
		return "user:" + userID
	}
	return "ip:" + c.ClientIP()
}
