package middleware

import (
	"time"

	"ChatRelay/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AccessLog 用 zap 记录每个 HTTP 请求
func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("[http] request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client", c.ClientIP()))
	}
}
