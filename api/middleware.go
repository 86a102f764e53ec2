package api

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/mir-akbar/codecollab/auth"
	"github.com/mir-akbar/codecollab/sessions"
)

const principalKey = "principal"

// AuthMiddleware verifies the request's token and injects the
// principal into the gin context. Requests without a verifiable
// principal are rejected with 401.
func AuthMiddleware(gate *auth.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := gate.Authenticate(c.Request)
		if err != nil {
			message := "authentication required"
			if errors.Is(err, auth.ErrTokenExpired) {
				message = "token expired"
			} else if errors.Is(err, auth.ErrTokenInvalid) {
				message = "token invalid"
			}
			respondKind(c, sessions.KindUnauthenticated, message)
			c.Abort()
			return
		}
		c.Set(principalKey, p)
		c.Next()
	}
}

// principalFrom returns the authenticated principal set by the
// middleware. Handlers behind AuthMiddleware may rely on it.
func principalFrom(c *gin.Context) *auth.Principal {
	v, _ := c.Get(principalKey)
	p, _ := v.(*auth.Principal)
	return p
}
