package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// RequireDevice gates a route group on a bearer JWT issued to a registered
// device. The parsed claims are stored under "claims" for downstream
// handlers.
func RequireDevice(signingKey, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := Parse(token, signingKey, issuer)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		if claims.Role != "device" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "device token required"})
			return
		}
		c.Set("claims", claims)
		c.Next()
	}
}

func bearerToken(authz string) (string, bool) {
	if authz == "" {
		return "", false
	}
	scheme, token, found := strings.Cut(authz, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
