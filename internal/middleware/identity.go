package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/atelier-studio/atelier/pkg/errors"
	"github.com/atelier-studio/atelier/pkg/response"
)

// Context keys set by the identity middleware.
const (
	ContextUserID = "auth.user_id"
	ContextOrgID  = "auth.org_id"
)

// Identity trusts the user and organization headers injected by the
// authenticating edge proxy. Requests without a user identity are rejected;
// this service never sees credentials.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader("X-User-ID"))
		if userID == "" {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		c.Set(ContextUserID, userID)
		if orgID := strings.TrimSpace(c.GetHeader("X-Org-ID")); orgID != "" {
			c.Set(ContextOrgID, orgID)
		}
		c.Next()
	}
}

// UserID returns the authenticated user id from the request context.
func UserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}

// OrgID returns the caller's organization id, if the edge supplied one.
func OrgID(c *gin.Context) string {
	return c.GetString(ContextOrgID)
}
