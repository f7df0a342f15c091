// Package ginauthz adapts authz middleware to gin.
package ginauthz

import (
	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/policyguard/internal/authz"
	"github.com/vyrodovalexey/policyguard/internal/oracle"
)

// Middleware returns a gin handler running m's decision for every request.
// Rejected requests are answered by m's rejection writer and aborted.
func Middleware(m *authz.Middleware) gin.HandlerFunc {
	return func(c *gin.Context) {
		next, err := m.Decide(c.Request)
		if err != nil {
			m.WriteRejection(c.Writer, c.Request, err)
			c.Abort()
			return
		}
		c.Request = next
		c.Next()
	}
}

// Attach is authz.Attach for gin pipelines.
func Attach(src oracle.Source) gin.HandlerFunc {
	return func(c *gin.Context) {
		if src == nil {
			c.Next()
			return
		}
		if h, ok := src.Current(); ok {
			c.Request = c.Request.WithContext(authz.ContextWithPipelineOracle(c.Request.Context(), h))
		}
		c.Next()
	}
}

// Oracle returns the oracle published for the request.
func Oracle(c *gin.Context) (*oracle.Handle, error) {
	return authz.ExtractFromRequest(c.Request)
}
