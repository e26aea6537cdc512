package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"bitbucket.org/mmdatafocus/gst_billing_backend/config"
	"bitbucket.org/mmdatafocus/gst_billing_backend/utils"
)

// AuthMiddleware requires a valid bearer token and puts the user on the
// request context. AUTH_DISABLED=true skips the check.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if config.AuthDisabled() {
			c.Next()
			return
		}

		auth := c.Request.Header.Get("Authorization")
		token, found := strings.CutPrefix(auth, "Bearer ")
		token = strings.TrimSpace(token)
		if !found || token == "" {
			utils.RespondError(c, http.StatusUnauthorized, "Unauthorized", "missing bearer token")
			return
		}

		claims, err := utils.JwtValidate(token)
		if err != nil {
			utils.RespondError(c, http.StatusUnauthorized, "Unauthorized", "invalid or expired token")
			return
		}

		ctx := utils.SetTokenInContext(c.Request.Context(), token)
		ctx = utils.SetUserIdInContext(ctx, claims.ID)
		ctx = utils.SetUsernameInContext(ctx, claims.Username)
		ctx = utils.SetRoleInContext(ctx, claims.Role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
