package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORS Cross-Origin Resource Sharing middleware. No origins, or "*", allows all.
func CORS(allowOrigins []string) gin.HandlerFunc {
	config := cors.DefaultConfig()

	allowAll := len(allowOrigins) == 0
	for _, o := range allowOrigins {
		if o == "*" {
			allowAll = true
		}
	}
	if allowAll {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = allowOrigins
		// credentials are only meaningful for an explicit origin list
		config.AllowCredentials = true
	}

	config.AllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Authorization",
		"Accept",
		RequestIDHeader,
		IngestKeyHeader,
	}
	config.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	config.ExposeHeaders = []string{RequestIDHeader}
	config.MaxAge = 12 * time.Hour

	return cors.New(config)
}
