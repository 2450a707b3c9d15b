/**
 * 中间件
 * @date: 2026.10.17
 * @description: 请求ID、访问日志与 panic 恢复
 */
package master

import (
	"fmt"
	"net/http"
	"time"

	"neotask/internal/model/system"
	"neotask/internal/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDHeader 请求ID头
const RequestIDHeader = "X-Request-ID"

// RequestIDMiddleware 透传或生成请求ID，存入 gin 上下文的 request_id
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header(RequestIDHeader, requestID)
		c.Next()
	}
}

// LoggingMiddleware 记录访问日志
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.LogAccessRequest(c, start, c.GetString("request_id"))
	}
}

// RecoveryMiddleware 恢复处理器中的 panic 并返回统一错误响应
func RecoveryMiddleware() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		err := fmt.Errorf("panic: %v", recovered)
		logger.LogError(err, "app.master.Recovery", "INTERNAL", map[string]interface{}{
			"path":       c.Request.URL.Path,
			"request_id": c.GetString("request_id"),
		})
		c.AbortWithStatusJSON(http.StatusInternalServerError, system.Fail(http.StatusInternalServerError, "Internal server error", nil))
	})
}
