package middleware

import (
	"github.com/forbearing/tol/authn/jwt"
	"github.com/forbearing/tol/authz/rbac"
	. "github.com/forbearing/tol/response"
	"github.com/forbearing/tol/txctx"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const identityKey = "identity"

// JwtAuth validates the bearer token and stores the resolved identity in
// the gin context for downstream handlers and Authz to read.
func JwtAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := jwt.FromRequest(c.Request)
		if err != nil {
			ResponseJSON(c, CodeInvalidToken.WithErr(err))
			c.Abort()
			return
		}
		c.Set(identityKey, identity)
		c.Next()
	}
}

// Identity returns the identity JwtAuth resolved for this request, if any.
func Identity(c *gin.Context) (txctx.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return txctx.Identity{}, false
	}
	identity, ok := v.(txctx.Identity)
	return identity, ok
}

// Authz authorizes the request against the casbin enforcer using the
// identity JwtAuth resolved, falling back to the "blocked" subject when
// none is present.
func Authz() gin.HandlerFunc {
	return func(c *gin.Context) {
		sub := "blocked"
		if identity, ok := Identity(c); ok {
			if identity.Superuser {
				c.Next()
				return
			}
			sub = identity.UserID
		}

		obj := c.Request.URL.Path
		act := c.Request.Method

		if rbac.Enforcer == nil {
			c.Next()
			return
		}
		allow, err := rbac.Enforcer.Enforce(sub, obj, act)
		if err != nil {
			zap.S().Error(err)
			ResponseJSON(c, CodeFailure)
			c.Abort()
			return
		}
		if !allow {
			ResponseJSON(c, CodeForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}
