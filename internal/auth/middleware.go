package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// MemberAuth enforces bearer JWT tokens signed with HS256 and stores the
// claims on the request context.
func MemberAuth(signingKey, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		claims, err := Parse(tokenStr, signingKey, issuer)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("claims", claims)
		c.Next()
	}
}

// RequireExco rejects requests whose token does not carry the exco role.
// It must run after MemberAuth.
func RequireExco() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := FromContext(c)
		if !ok || claims.Role != RoleExco {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "exco role required"})
			return
		}
		c.Next()
	}
}

// FromContext returns the parsed claims stored by MemberAuth.
func FromContext(c *gin.Context) (Claims, bool) {
	val, ok := c.Get("claims")
	if !ok {
		return Claims{}, false
	}
	claims, ok := val.(Claims)
	return claims, ok
}
