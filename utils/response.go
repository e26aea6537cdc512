package utils

import (
	"time"

	"github.com/gin-gonic/gin"
)

type ErrorResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
	Timestamp string `json:"timestamp"`
}

type SuccessResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Data      any    `json:"data,omitempty"`
	Timestamp string `json:"timestamp"`
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// RespondError aborts the request with the error envelope.
func RespondError(c *gin.Context, status int, message string, details string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Success:   false,
		Message:   message,
		Details:   details,
		Timestamp: timestamp(),
	})
}

// RespondSuccess writes the success envelope. A nil data is omitted.
func RespondSuccess(c *gin.Context, status int, message string, data any) {
	if message == "" {
		message = "Success"
	}
	c.JSON(status, SuccessResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: timestamp(),
	})
}
