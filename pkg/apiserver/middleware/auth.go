package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/bookflow/bookflow/pkg/apperr"
	"github.com/bookflow/bookflow/pkg/auth"
	"github.com/bookflow/bookflow/pkg/model"
)

const userKey = "bookflow.user"

// SessionToken reads the session from the cookie, falling back to a bearer
// Authorization header.
func SessionToken(c *gin.Context, cookieName string) string {
	if cookie, err := c.Cookie(cookieName); err == nil && cookie != "" {
		return cookie
	}
	authorization := c.GetHeader("Authorization")
	parts := strings.SplitN(authorization, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// Auth rejects requests without a valid session and stores the user on the context.
func Auth(resolver *auth.Resolver, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := resolver.Resolve(c.Request.Context(), SessionToken(c, cookieName))
		if err != nil {
			status := apperr.Status(err)
			if status == http.StatusInternalServerError {
				c.AbortWithStatusJSON(status, gin.H{"error": "internal error", "kind": "internal"})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "kind": "unauthorized"})
			return
		}
		c.Set(userKey, user)
		c.Next()
	}
}

// CurrentUser returns the user stored by Auth.
func CurrentUser(c *gin.Context) *model.User {
	if v, ok := c.Get(userKey); ok {
		if user, ok := v.(*model.User); ok {
			return user
		}
	}
	return nil
}

func CurrentActor(c *gin.Context) model.Actor {
	user := CurrentUser(c)
	if user == nil {
		return model.Actor{}
	}
	return model.Actor{ID: user.ID, Role: user.Role}
}
