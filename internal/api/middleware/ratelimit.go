package middleware

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/qs3c/novel_go_server/internal/pkg/logger"
	"github.com/qs3c/novel_go_server/internal/pkg/response"
)

const rateLimitWindow = time.Minute

// RateLimit 按客户端 IP 的固定窗口限流，redis 不可用时放行
func RateLimit(client *redis.Client, perMinute int, log *zap.Logger) gin.HandlerFunc {
	log = logger.OrNop(log)
	return func(c *gin.Context) {
		if client == nil || perMinute <= 0 {
			c.Next()
			return
		}

		window := time.Now().Unix() / int64(rateLimitWindow/time.Second)
		key := fmt.Sprintf("ratelimit:%s:%d", c.ClientIP(), window)

		ctx := c.Request.Context()
		pipe := client.TxPipeline()
		incr := pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, rateLimitWindow)
		if _, err := pipe.Exec(ctx); err != nil {
			log.Warn("rate limit check failed", zap.String("ip", c.ClientIP()), zap.Error(err))
			c.Next()
			return
		}

		count := int(incr.Val())
		c.Header("X-RateLimit-Limit", strconv.Itoa(perMinute))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(max(perMinute-count, 0)))
		if count > perMinute {
			response.Abort(c, response.CodeRateLimited, "")
			return
		}

		c.Next()
	}
}
