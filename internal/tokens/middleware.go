package tokens

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const ctxSessionClaims = "scm_session_claims"

// bearerToken pulls the session token from the Authorization header, falling
// back to the session cookie set by the browser login flow.
func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if cookie, err := c.Cookie("scm_session"); err == nil {
		return cookie
	}
	return ""
}

// Authenticate returns a middleware that enforces a valid, unrevoked session
// token. On success the claims are injected into the gin context.
func Authenticate(issuer *Issuer, revoker Revoker) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := bearerToken(c)
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "session token required",
			})
			return
		}

		claims, err := issuer.Verify(tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid session token",
			})
			return
		}

		revoked, err := revoker.IsRevoked(c.Request.Context(), claims.ID)
		if err != nil {
			// The denylist backend is down. Fail closed.
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "session verification unavailable",
			})
			return
		}
		if revoked {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "session has been revoked",
			})
			return
		}

		c.Set(ctxSessionClaims, claims)
		c.Next()
	}
}

// Optional tries to parse a session token but never aborts. Routes behind it
// see claims when a valid token is present and nil otherwise.
func Optional(issuer *Issuer, revoker Revoker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokenStr := bearerToken(c); tokenStr != "" {
			if claims, err := issuer.Verify(tokenStr); err == nil {
				if revoked, err := revoker.IsRevoked(c.Request.Context(), claims.ID); err == nil && !revoked {
					c.Set(ctxSessionClaims, claims)
				}
			}
		}
		c.Next()
	}
}

// ClaimsFromCtx retrieves the session claims injected by Authenticate or
// Optional. Returns nil when the request is anonymous.
func ClaimsFromCtx(c *gin.Context) *SessionClaims {
	v, _ := c.Get(ctxSessionClaims)
	claims, _ := v.(*SessionClaims)
	return claims
}

// RemainingTTL returns how long the token is still valid, for sizing the
// revocation entry on logout.
func RemainingTTL(claims *SessionClaims) time.Duration {
	if claims.ExpiresAt == nil {
		return 0
	}
	return time.Until(claims.ExpiresAt.Time)
}
