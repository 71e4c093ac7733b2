// README: Request-id middleware; tags every request for log correlation.
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const ctxKeyReqID = "req.id"

// RequestID honors an incoming X-Request-ID and mints one when absent.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxKeyReqID, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// ReqID returns the request id tagged by RequestID, or "".
func ReqID(c *gin.Context) string {
	return c.GetString(ctxKeyReqID)
}
