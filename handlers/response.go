package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"bitbucket.org/mmdatafocus/gst_billing_backend/config"
	"bitbucket.org/mmdatafocus/gst_billing_backend/models"
	"bitbucket.org/mmdatafocus/gst_billing_backend/utils"
)

// statusFor maps the error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	var (
		ve *models.ValidationError
		ne *models.NotFoundError
		ce *models.ConflictError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &ne):
		return http.StatusNotFound
	case errors.As(err, &ce):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the error envelope. Internal causes are logged, never returned.
func respondError(c *gin.Context, funcName string, err error) {
	status := statusFor(err)
	switch status {
	case http.StatusBadRequest:
		var ve *models.ValidationError
		errors.As(err, &ve)
		utils.RespondError(c, status, ve.Message, ve.Details())
	case http.StatusInternalServerError:
		cause := err
		var ie *models.InternalError
		if errors.As(err, &ie) && ie.Err != nil {
			cause = ie.Err
		}
		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		config.LogError(config.GetLogger(), "Handler", funcName, c.FullPath(), map[string]any{
			"correlation_id": cid,
			"op":             opOf(ie),
		}, cause)
		utils.RespondError(c, status, "Internal server error", "")
	default:
		utils.RespondError(c, status, err.Error(), "")
	}
}

func opOf(ie *models.InternalError) string {
	if ie == nil {
		return ""
	}
	return ie.Op
}

// badRequest reports a body that could not be bound. Tag failures become
// field errors like any other validation error.
func badRequest(c *gin.Context, message string, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		respondError(c, "bind", &models.ValidationError{
			Message: "validation failed",
			Fields:  utils.ProcessValidationErrors(err),
		})
		return
	}
	details := ""
	if err != nil {
		details = err.Error()
	}
	utils.RespondError(c, http.StatusBadRequest, message, details)
}

// pathId reads a positive integer path parameter.
func pathId(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		utils.RespondError(c, http.StatusBadRequest, "Invalid "+name, name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		utils.RespondError(c, http.StatusBadRequest, "Invalid "+name, name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func queryDate(c *gin.Context, name string) (*models.Date, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	d, err := models.ParseDate(raw)
	if err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid "+name, name+" must be YYYY-MM-DD")
		return nil, false
	}
	return &d, true
}
