// Package httpapi exposes the HTTP surface: the websocket entrypoint,
// monitoring endpoints and the direct-upload flow.
package httpapi

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/chorus/internal/config"
	"github.com/dkeye/chorus/internal/room"
	"github.com/dkeye/chorus/internal/storage"
	"github.com/dkeye/chorus/internal/ws"
)

// Deps is everything the handlers reach into.
type Deps struct {
	Cfg   *config.Config
	Rooms *room.Registry
	Store storage.ObjectStore
	WS    *ws.Controller
}

func SetupRouter(ctx context.Context, deps Deps) *gin.Engine {
	if deps.Cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if deps.Cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/ws", func(c *gin.Context) {
		deps.WS.HandleJoin(ctx, c)
	})

	r.GET("/stats", deps.handleStats)
	r.GET("/active-rooms", deps.handleActiveRooms)

	upload := r.Group("/upload")
	upload.POST("/presign", deps.handlePresign)
	upload.POST("/complete", deps.handleUploadComplete)

	log.Info().Str("module", "httpapi").Msg("router setup")
	return r
}
