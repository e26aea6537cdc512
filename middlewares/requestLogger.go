package middlewares

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/gst_billing_backend/config"
	"bitbucket.org/mmdatafocus/gst_billing_backend/utils"
)

// RequestLogger logs server errors and anything attached with c.Error.
func RequestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		if len(c.Errors) == 0 && status < http.StatusInternalServerError {
			return
		}
		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		entry := logger.WithFields(logrus.Fields{
			"method":         c.Request.Method,
			"path":           c.FullPath(),
			"status":         status,
			"latency_ms":     time.Since(start).Milliseconds(),
			"correlation_id": cid,
		})
		if len(c.Errors) > 0 {
			entry.Error(c.Errors.String())
			return
		}
		entry.Error("request failed")
	}
}

// ReadinessMiddleware answers 503 until the database is connected.
func ReadinessMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if config.GetDB() == nil {
			utils.RespondError(c, http.StatusServiceUnavailable, "Service starting", "")
			return
		}
		c.Next()
	}
}
