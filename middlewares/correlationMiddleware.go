package middlewares

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"bitbucket.org/mmdatafocus/gst_billing_backend/utils"
)

const correlationHeader = "x-correlation-id"

// CorrelationMiddleware attaches the caller's correlation id, or a new one,
// to the request context and echoes it back.
func CorrelationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := c.GetHeader(correlationHeader)
		if cid == "" || len(cid) > 64 {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Header(correlationHeader, cid)
		c.Next()
	}
}
