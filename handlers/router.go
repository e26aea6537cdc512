package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/gst_billing_backend/config"
	"bitbucket.org/mmdatafocus/gst_billing_backend/middlewares"
	"bitbucket.org/mmdatafocus/gst_billing_backend/utils"
)

var registerOnce sync.Once

// registerValidations installs the custom tags on gin's validator.
func registerValidations() {
	registerOnce.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			if err := utils.RegisterValidations(v); err != nil {
				panic(err)
			}
		}
	})
}

// RegisterRoutes mounts the /api surface on r.
func RegisterRoutes(r *gin.Engine) {
	registerValidations()

	api := r.Group("/api")
	api.Use(middlewares.ReadinessMiddleware())
	api.GET("/health", healthCheck)
	api.POST("/auth/login", login)

	secured := api.Group("")
	secured.Use(middlewares.AuthMiddleware())
	secured.Use(middlewares.RateLimitMiddleware(int64(config.RateLimitPerMinute()), time.Minute))

	secured.GET("/company", getCompany)
	secured.PUT("/company", updateCompany)

	secured.POST("/clients", createClient)
	secured.GET("/clients", listClients)
	secured.GET("/clients/:id", getClient)
	secured.PUT("/clients/:id", updateClient)
	secured.DELETE("/clients/:id", deleteClient)

	secured.POST("/items", createItem)
	secured.GET("/items", listItems)
	secured.GET("/items/:id", getItem)
	secured.PUT("/items/:id", updateItem)
	secured.DELETE("/items/:id", deleteItem)

	secured.POST("/invoices", createInvoice)
	secured.GET("/invoices", listInvoices)
	secured.GET("/invoices/export", exportInvoices)
	secured.GET("/invoices/:id", getInvoice)
	secured.POST("/invoices/:id/cancel", cancelInvoice)
	secured.GET("/invoices/:id/pdf", invoicePdf)

	secured.GET("/dashboard", getDashboard)
	secured.GET("/audit-logs", listAuditLogs)

	r.NoRoute(func(c *gin.Context) {
		utils.RespondError(c, http.StatusNotFound, "Resource not found", "")
	})
}

// NewRouter builds the engine with the shared middleware chain. extra runs
// after correlation and before any route.
func NewRouter(logger *logrus.Logger, extra ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.Use(middlewares.RequestLogger(logger))
	r.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.WithFields(logrus.Fields{"path": c.FullPath(), "panic": recovered}).Error("handler panicked")
		utils.RespondError(c, http.StatusInternalServerError, "Internal server error", "")
	}))
	r.Use(extra...)
	RegisterRoutes(r)
	return r
}
