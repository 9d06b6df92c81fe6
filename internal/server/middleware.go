package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/fakturo/internal/orgcontext"
)

const (
	HeaderOrg  = "X-Org-ID"
	HeaderUser = "X-User-ID"
)

// OrgContext resolves the tenant from the X-Org-ID header and injects it
// into the request context. Every /api route requires it.
func OrgContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderOrg))
		if raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		orgID, err := snowflake.ParseString(raw)
		if err != nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := orgcontext.WithOrgID(c.Request.Context(), orgID)
		if rawUser := strings.TrimSpace(c.GetHeader(HeaderUser)); rawUser != "" {
			if userID, err := snowflake.ParseString(rawUser); err == nil {
				ctx = orgcontext.WithUserID(ctx, userID)
			}
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
