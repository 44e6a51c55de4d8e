// Package authgin mounts the studio read API on a gin router.
package authgin

import (
	"net/http"

	"github.com/PaulFidika/authstudio/adapters/gin/handlers"
	"github.com/PaulFidika/authstudio/core"
	"github.com/gin-gonic/gin"
)

// Register mounts the read routes on rg, typically a group at the studio
// base path. The stream route is only served when the live marquee is on.
func Register(rg gin.IRoutes, r *core.Router, stream handlers.StreamOptions) {
	health := handlers.HandleEventsHealthGET(r)
	rg.GET(core.PathEvents, handlers.HandleEventsGET(r))
	rg.GET(core.PathConfig, handlers.HandleEventsConfigGET(r))
	rg.GET(core.PathHealth, health)
	rg.Handle(http.MethodHead, core.PathHealth, health)
	rg.GET(core.PathStream, RequireStudioAccess(r), handlers.HandleEventsStreamGET(r, stream))
	rg.GET("/api/me", RequireStudioAccess(r), func(c *gin.Context) {
		u, _ := CurrentUser(c)
		c.JSON(http.StatusOK, u)
	})
}
