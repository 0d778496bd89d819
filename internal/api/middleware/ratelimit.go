package middleware

import (
	"log/slog"
	"net/http"

	"cartsentry/internal/pkg/ratelimit"

	"github.com/gin-gonic/gin"
)

// RateLimit 对路由做非阻塞限流，令牌不足时直接返回 429。
//
// 限流器本身故障（如 Redis 不可用）时放行请求，运维接口不因限流器失联而瘫痪。
func RateLimit(limiter *ratelimit.Limiter, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, err := limiter.Allow(c.Request.Context())
		if err != nil {
			logger.Warn("rate limiter probe failed, allowing request",
				slog.String("path", c.Request.URL.Path),
				slog.String("error", err.Error()))
			c.Next()
			return
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
