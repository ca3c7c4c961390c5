package http

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceMesh/internal/adapters/signal"
	"github.com/dkeye/VoiceMesh/internal/app"
	"github.com/dkeye/VoiceMesh/internal/config"
)

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// SetupRouter mounts the relay surface. gatherer backs /metrics; nil skips it.
func SetupRouter(ctx context.Context, cfg *config.Config, relay *app.Relay, gatherer prometheus.Gatherer) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("VoiceSessions", store))
	r.Use(ClientTokenMiddleware())

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	ctrl := signal.NewSignalWSController(relay)
	if cfg.ReadLimit > 0 {
		ctrl.ReadLimit = cfg.ReadLimit
	}
	ctrl.PingPeriod = cfg.PingPeriod
	if cfg.SendBuffer > 0 {
		ctrl.SendBuffer = cfg.SendBuffer
	}

	api := r.Group("/api")

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("client_token", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	api.GET("/roster", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"participants": relay.Roster.Snapshot()})
	})

	return r
}
