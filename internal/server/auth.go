package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// AuthRealm is the Basic realm presented on auth failures.
const AuthRealm = "NomadFlow"

// secretEqual compares in constant time. Length mismatches return false
// without leaking position information.
func secretEqual(candidate, secret string) bool {
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(secret)) == 1
}

// httpAuthorized reports whether the request presents the shared secret as
// `Authorization: Bearer <secret>` or as Basic credentials whose password
// equals the secret. An empty configured secret disables auth.
func httpAuthorized(c *gin.Context, secret string) bool {
	if secret == "" {
		return true
	}

	header := c.GetHeader("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return secretEqual(token, secret)
	}
	if _, password, ok := c.Request.BasicAuth(); ok {
		return secretEqual(password, secret)
	}
	return false
}

// rejectUnauthorized writes the uniform 401 with the Basic challenge.
func rejectUnauthorized(c *gin.Context) {
	c.Header("WWW-Authenticate", `Basic realm="`+AuthRealm+`"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Detail: "Authentication required"})
}

// AuthMiddleware enforces the shared secret on HTTP routes.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !httpAuthorized(c, secret) {
			rejectUnauthorized(c)
			return
		}
		c.Next()
	}
}

// wsAuthorized checks the `token` query parameter used by WebSocket
// upgrades, which cannot carry an Authorization header from browsers.
func wsAuthorized(c *gin.Context, secret string) bool {
	if secret == "" {
		return true
	}
	return secretEqual(c.Query("token"), secret)
}
