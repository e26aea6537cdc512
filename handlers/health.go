package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"bitbucket.org/mmdatafocus/gst_billing_backend/config"
	"bitbucket.org/mmdatafocus/gst_billing_backend/utils"
)

func healthCheck(c *gin.Context) {
	sqlDB, err := config.GetDB().DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		config.LogError(config.GetLogger(), "Handler", "healthCheck", "ping database", nil, err)
		utils.RespondError(c, http.StatusInternalServerError, "Database connection failed", "")
		return
	}
	utils.RespondSuccess(c, http.StatusOK, "", gin.H{"status": "healthy"})
}
