package middleware

import (
	"net/http"

	"dentalclinic/internal/pkg/apperr"
	"dentalclinic/internal/pkg/jwt"
	"dentalclinic/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

// RequireRole lets the request through when the caller holds one of roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(ContextRole)
		if role == "" {
			response.Abort(c, http.StatusUnauthorized, apperr.CodeUnauthorized, "Role not found in token")
			return
		}
		for _, r := range roles {
			if r == role {
				c.Next()
				return
			}
		}
		response.Abort(c, http.StatusForbidden, apperr.CodeForbidden, "Access denied: insufficient permissions")
	}
}

// AdminOnly middleware requires admin role
func AdminOnly() gin.HandlerFunc {
	return RequireRole(jwt.RoleAdmin)
}
