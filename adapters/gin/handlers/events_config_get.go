package handlers

import (
	"github.com/PaulFidika/authstudio/adapters/ginutil"
	"github.com/PaulFidika/authstudio/core"
	"github.com/gin-gonic/gin"
)

// HandleEventsConfigGET serves the live marquee settings.
func HandleEventsConfigGET(r *core.Router) gin.HandlerFunc {
	return func(c *gin.Context) {
		ginutil.Respond(c, r.Handle(c.Request.Context(), ginutil.Request(c, core.PathConfig)))
	}
}
