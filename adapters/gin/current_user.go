package authgin

import (
	"github.com/PaulFidika/authstudio/adapters/ginutil"
	"github.com/PaulFidika/authstudio/core"
	jwtkit "github.com/PaulFidika/authstudio/jwt"
	"github.com/gin-gonic/gin"
)

const claimsKey = "authstudio.claims"

// RequireStudioAccess verifies the studio token and applies the events_query
// rate limit, for routes that do not go through core.Router.Handle.
func RequireStudioAccess(r *core.Router) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := ginutil.Request(c, c.FullPath())
		claims, denied := r.Authorize(c.Request.Context(), req)
		if denied != nil {
			ginutil.AbortWith(c, *denied)
			return
		}
		if resp := r.Limit(c.Request.Context(), claims, req); resp != nil {
			ginutil.AbortWith(c, *resp)
			return
		}
		if claims != nil {
			c.Set(claimsKey, claims)
			c.Request = c.Request.WithContext(core.WithClaims(c.Request.Context(), claims))
		}
		c.Next()
	}
}

// ClaimsFromGin returns the claims set by RequireStudioAccess.
func ClaimsFromGin(c *gin.Context) (*jwtkit.Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	cl, ok := v.(*jwtkit.Claims)
	return cl, ok && cl != nil
}

// UserView is the studio caller as seen by handlers.
type UserView struct {
	UserID string   `json:"user_id"`
	Email  string   `json:"email"`
	Roles  []string `json:"roles,omitempty"`
	// Source is "claims" when a token was verified, "none" otherwise.
	Source string `json:"source"`
}

// CurrentUser returns the verified caller. Without a verifier configured
// every caller is anonymous.
func CurrentUser(c *gin.Context) (UserView, bool) {
	if cl, ok := ClaimsFromGin(c); ok && cl.Subject != "" {
		return UserView{UserID: cl.Subject, Email: cl.Email, Roles: cl.Roles, Source: "claims"}, true
	}
	return UserView{Source: "none"}, false
}
