package handlers

import (
	"github.com/PaulFidika/authstudio/adapters/ginutil"
	"github.com/PaulFidika/authstudio/core"
	"github.com/gin-gonic/gin"
)

// HandleEventsGET serves GET /api/events?limit&after&sort&type&userId.
func HandleEventsGET(r *core.Router) gin.HandlerFunc {
	return func(c *gin.Context) {
		ginutil.Respond(c, r.Handle(c.Request.Context(), ginutil.Request(c, core.PathEvents)))
	}
}
