package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"bitbucket.org/mmdatafocus/gst_billing_backend/models"
	"bitbucket.org/mmdatafocus/gst_billing_backend/utils"
)

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	info, err := models.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, models.ErrInvalidCredentials) {
			utils.RespondError(c, http.StatusUnauthorized, err.Error(), "")
			return
		}
		respondError(c, "login", err)
		return
	}
	utils.RespondSuccess(c, http.StatusOK, "Login successful", info)
}
