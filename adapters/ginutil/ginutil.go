// Package ginutil holds the small helpers shared by the gin handlers.
package ginutil

import (
	"net/http"

	"github.com/PaulFidika/authstudio/core"
	"github.com/gin-gonic/gin"
)

// Request converts c into a core.Request for path. Gin has already routed
// the request, so the path is fixed by the caller rather than parsed.
func Request(c *gin.Context, path string) core.Request {
	return core.Request{
		URL:        c.Request.URL.String(),
		Path:       path,
		Method:     c.Request.Method,
		Headers:    c.Request.Header,
		Query:      c.Request.URL.Query(),
		RemoteAddr: c.Request.RemoteAddr,
	}
}

// Respond writes a core.Response through gin.
func Respond(c *gin.Context, resp core.Response) {
	for k, vs := range resp.Headers {
		for _, v := range vs {
			c.Writer.Header().Add(k, v)
		}
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	switch b := resp.Body.(type) {
	case nil:
		c.Status(status)
	case string:
		c.String(status, "%s", b)
	case []byte:
		c.Data(status, c.Writer.Header().Get("Content-Type"), b)
	default:
		c.JSON(status, b)
	}
}

// AbortWith stops the chain with resp.
func AbortWith(c *gin.Context, resp core.Response) {
	Respond(c, resp)
	c.Abort()
}

func NotFound(c *gin.Context, code string) {
	c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": code})
}
