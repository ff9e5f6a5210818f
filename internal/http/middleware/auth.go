// README: Bearer token auth middleware; sets caller uid and role for handlers.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"rideflow/internal/infra"
	"rideflow/internal/types"
)

const (
	callerUIDKey  = "caller_uid"
	callerRoleKey = "caller_role"
)

// Auth rejects requests without a verifiable bearer token. A missing role claim means customer.
// Websocket upgrades may pass the token as ?access_token= since browsers cannot set headers there.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" && c.IsWebsocket() && c.Query("access_token") != "" {
			header = "Bearer " + c.Query("access_token")
		}
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated", "message": "missing bearer token"})
			return
		}
		token, err := verifier.VerifyIDToken(c.Request.Context(), strings.TrimSpace(raw))
		if err != nil || token == nil || token.UID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated", "message": "invalid token"})
			return
		}
		role := types.RoleCustomer
		if v, ok := token.Claims["role"].(string); ok && types.Role(v).Valid() {
			role = types.Role(v)
		}
		c.Set(callerUIDKey, types.ID(token.UID))
		c.Set(callerRoleKey, role)
		c.Next()
	}
}

func CallerUID(c *gin.Context) types.ID {
	v, _ := c.Get(callerUIDKey)
	id, _ := v.(types.ID)
	return id
}

func CallerRole(c *gin.Context) types.Role {
	v, _ := c.Get(callerRoleKey)
	r, _ := v.(types.Role)
	return r
}

func Caller(c *gin.Context) types.Actor {
	return types.Actor{UserID: CallerUID(c), Role: CallerRole(c)}
}

// RequireRole must run after Auth.
func RequireRole(roles ...types.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := CallerRole(c)
		for _, r := range roles {
			if r == role {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "unauthorized", "message": "role " + string(role) + " may not do this"})
	}
}
