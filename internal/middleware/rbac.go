package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/classmark-api/internal/models"
	appErrors "github.com/noah-isme/classmark-api/pkg/errors"
	"github.com/noah-isme/classmark-api/pkg/response"
)

// RequireRoles gates routes by coarse role. Per-class authorization (teacher
// ownership, beadle delegation) is decided in the reconcile service, not here:
// a STUDENT may pass this check and still be denied per item.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}

	return func(c *gin.Context) {
		claimsValue, exists := c.Get(ContextUserKey)
		if !exists {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		claims := claimsValue.(*models.JWTClaims)

		if _, ok := allowed[claims.Role]; !ok {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}
