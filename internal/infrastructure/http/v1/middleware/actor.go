package middleware

import (
	"github.com/gin-gonic/gin"

	appctx "siphon/internal/core/context"
)

const HeaderActor = "X-Actor"

// Actor middleware records who is making the request. Movements written
// during the request carry this value in their actor column.
func Actor() gin.HandlerFunc {
	return func(c *gin.Context) {
		if actor := c.GetHeader(HeaderActor); actor != "" {
			ctx := appctx.WithActor(c.Request.Context(), actor)
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}
}
