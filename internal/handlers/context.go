package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
)

// requestContext pulls the context off the incoming request. Handlers built
// without a request (unit tests) get a background context instead of a panic.
func requestContext(c *gin.Context) context.Context {
	if c == nil || c.Request == nil {
		return context.Background()
	}
	return c.Request.Context()
}
