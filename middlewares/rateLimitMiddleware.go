package middlewares

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"bitbucket.org/mmdatafocus/gst_billing_backend/config"
	"bitbucket.org/mmdatafocus/gst_billing_backend/utils"
)

// RateLimitMiddleware counts requests per client IP in fixed windows.
// Without redis, or when redis errors, requests pass.
func RateLimitMiddleware(limit int64, window time.Duration) gin.HandlerFunc {
	if window < time.Second {
		window = time.Minute
	}
	return func(c *gin.Context) {
		if limit <= 0 {
			c.Next()
			return
		}
		bucket := time.Now().Unix() / int64(window.Seconds())
		key := fmt.Sprintf("RateLimit:%s:%d", c.ClientIP(), bucket)

		count, err := config.IncrWithExpiry(c.Request.Context(), key, window)
		if err != nil {
			config.LogError(config.GetLogger(), "RateLimit", "RateLimitMiddleware", "incr counter", key, err)
			c.Next()
			return
		}
		if count > limit {
			utils.RespondError(c, http.StatusTooManyRequests, "Rate limit exceeded",
				fmt.Sprintf("try again in %d seconds", int(window.Seconds())))
			return
		}
		c.Next()
	}
}
