package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	ContextAdminIDKey    = "admin_id"
	ContextAdminEmailKey = "admin_email"
)

func Middleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ExtractBearer(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "message": "missing token"})
			return
		}

		claims, err := ParseJWT(token, secret)
		if err != nil || claims.Subject == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "message": "invalid token"})
			return
		}

		c.Set(ContextAdminIDKey, claims.Subject)
		c.Set(ContextAdminEmailKey, claims.Email)
		c.Next()
	}
}

// AdminFromContext returns the acting admin identity placed by Middleware.
func AdminFromContext(c *gin.Context) (id string, email string, ok bool) {
	idVal, exists := c.Get(ContextAdminIDKey)
	if !exists {
		return "", "", false
	}
	id, ok = idVal.(string)
	if !ok || id == "" {
		return "", "", false
	}
	if emailVal, exists := c.Get(ContextAdminEmailKey); exists {
		email, _ = emailVal.(string)
	}
	return id, email, true
}
