package middleware

import (
	"net/http"
	"strings"

	"voicemesh/internal/core/domain"
	"voicemesh/internal/core/ports"

	"github.com/gin-gonic/gin"
)

const identityKey = "identity"

// AuthMiddleware verifies the bearer token and stores the resulting identity
// in the gin context. WebSocket upgrades cannot set headers from browsers, so
// a "token" query parameter is accepted as a fallback.
func AuthMiddleware(tokens ports.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}

		identity, err := tokens.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(identityKey, identity)
		c.Next()
	}
}

// IdentityFrom extracts the verified identity stored by AuthMiddleware.
func IdentityFrom(c *gin.Context) (domain.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return domain.Identity{}, false
	}
	identity, ok := v.(domain.Identity)
	return identity, ok
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
		return ""
	}
	return c.Query("token")
}
