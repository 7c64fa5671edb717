package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"taxoai/internal/apperror"
	"taxoai/internal/config"
	"taxoai/internal/server/handlers"
)

// RequestIDHeader 请求 ID 头
const RequestIDHeader = "X-Request-ID"

// gin 上下文键
const (
	ctxRequestID = "request_id"
	ctxClaims    = "claims"
)

// requestID 沿用调用方的请求 ID，没有时生成
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// ginLogger 自定义 gin 日志中间件
func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		// 处理请求
		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}

		logger.Info("HTTP request",
			zap.String("request_id", c.GetString(ctxRequestID)),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.String("ip", c.ClientIP()),
			zap.Duration("latency", time.Since(start)),
			zap.String("error", c.Errors.ByType(gin.ErrorTypePrivate).String()),
		)
	}
}

// authenticate 校验 Bearer 令牌，未配置密钥时不鉴权
func authenticate(auth config.AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if auth.JWTSecret == "" {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			handlers.JSONAbort(c, http.StatusUnauthorized, "Missing bearer token.", apperror.CodeUnauthorized)
			return
		}

		claims, err := ParseToken(auth.JWTSecret, auth.Issuer, strings.TrimSpace(token))
		if err != nil {
			handlers.JSONAbort(c, http.StatusUnauthorized, "Invalid or expired token.", apperror.CodeUnauthorized)
			return
		}

		c.Set(ctxClaims, claims)
		c.Next()
	}
}

// requireCapability 要求令牌带有指定权限
func requireCapability(auth config.AuthConfig, capability string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if auth.JWTSecret == "" {
			c.Next()
			return
		}

		claims, _ := c.Get(ctxClaims)
		if cl, ok := claims.(*Claims); !ok || !cl.Can(capability) {
			handlers.JSONAbort(c, http.StatusForbidden,
				"You do not have permission to perform this action.", apperror.CodeForbidden)
			return
		}
		c.Next()
	}
}
