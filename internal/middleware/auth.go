package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"

	"marketnotify/pkg/log"
	"marketnotify/pkg/utils"
)

const (
	// AuthorizationHeader 认证头部名称
	AuthorizationHeader = "Authorization"
	// BearerPrefix Bearer前缀
	BearerPrefix = "Bearer "
	// IngestKeyHeader shared key presented by the monitoring scheduler
	IngestKeyHeader = "X-Ingest-Key"
	// UserIDKey 用户ID在上下文中的键
	UserIDKey = "user_id"
)

// TokenValidator resolves a bearer token to the user id it was issued for.
type TokenValidator func(token string) (string, error)

// AuthConfig 认证配置
type AuthConfig struct {
	TokenValidator TokenValidator
	// SkipPaths 跳过认证的路径
	SkipPaths []string
	// QueryParam also accepts the token from this query parameter. Browsers
	// cannot set headers on a websocket upgrade.
	QueryParam string
}

// Auth 认证中间件
func Auth(validator TokenValidator) gin.HandlerFunc {
	return AuthWithConfig(AuthConfig{
		TokenValidator: validator,
	})
}

// AuthWithConfig 带配置的认证中间件
func AuthWithConfig(config AuthConfig) gin.HandlerFunc {
	skipPaths := make(map[string]bool)
	for _, path := range config.SkipPaths {
		skipPaths[path] = true
	}

	return func(c *gin.Context) {
		if skipPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		token, err := extractToken(c, config.QueryParam)
		if err != nil {
			utils.AbortWithError(c, err)
			return
		}

		userID, err := config.TokenValidator(token)
		if err != nil {
			log.WithFields(map[string]interface{}{
				"path":  c.Request.URL.Path,
				"ip":    c.ClientIP(),
				"error": err.Error(),
			}).Debug("Token rejected")
			utils.AbortWithError(c, utils.NewError(utils.CodeUnauthorized, "invalid token"))
			return
		}

		c.Set(UserIDKey, userID)
		c.Next()
	}
}

func extractToken(c *gin.Context, queryParam string) (string, error) {
	authHeader := c.GetHeader(AuthorizationHeader)
	if authHeader == "" && queryParam != "" {
		if token := c.Query(queryParam); token != "" {
			return token, nil
		}
	}
	if authHeader == "" {
		return "", utils.NewError(utils.CodeUnauthorized, "missing authorization header")
	}
	if !strings.HasPrefix(authHeader, BearerPrefix) {
		return "", utils.NewError(utils.CodeUnauthorized, "invalid authorization header format")
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, BearerPrefix))
	if token == "" {
		return "", utils.NewError(utils.CodeUnauthorized, "missing token")
	}
	return token, nil
}

// IngestKey guards the ingest endpoint with a shared key. An empty key
// disables the endpoint entirely.
func IngestKey(key string) gin.HandlerFunc {
	expected := []byte(key)
	return func(c *gin.Context) {
		if len(expected) == 0 {
			utils.AbortWithError(c, utils.NewError(utils.CodeForbidden, "ingest endpoint disabled"))
			return
		}
		got := []byte(c.GetHeader(IngestKeyHeader))
		if subtle.ConstantTimeCompare(got, expected) != 1 {
			utils.AbortWithError(c, utils.NewError(utils.CodeUnauthorized, "invalid ingest key"))
			return
		}
		c.Next()
	}
}

// GetUserID 从上下文获取用户ID
func GetUserID(c *gin.Context) (string, bool) {
	userID := c.GetString(UserIDKey)
	return userID, userID != ""
}

// MustGetUserID 从上下文获取用户ID（必须存在）
func MustGetUserID(c *gin.Context) string {
	userID, exists := GetUserID(c)
	if !exists {
		panic("user ID not found in context")
	}
	return userID
}
