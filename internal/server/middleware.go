package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/dealcadence/internal/orgcontext"
)

const (
	HeaderOrg  = "X-Org-Id"
	HeaderUser = "X-User-Id"
)

// OrgScope binds the caller's organization and user to the request context.
// Requests without an org header run unscoped.
func OrgScope() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		if raw := strings.TrimSpace(c.GetHeader(HeaderOrg)); raw != "" {
			orgID, err := snowflake.ParseString(raw)
			if err != nil || orgID == 0 {
				AbortWithError(c, newValidationError("organization", "invalid_organization", "invalid organization header"))
				return
			}
			ctx = orgcontext.WithOrgID(ctx, orgID)
		}
		if userID := strings.TrimSpace(c.GetHeader(HeaderUser)); userID != "" {
			ctx = orgcontext.WithUserID(ctx, userID)
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
