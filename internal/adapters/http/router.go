// Package http wires the gin front door: the websocket signal endpoint,
// the login token endpoint, and a small stats API.
package http

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/wandao/meeting-signal/internal/adapters/signal"
	"github.com/wandao/meeting-signal/internal/auth"
	"github.com/wandao/meeting-signal/internal/config"
	"github.com/wandao/meeting-signal/internal/core"
)

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware tags every browser with a stable opaque token so
// logs can correlate reconnects from the same client.
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

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func SetupRouter(ctx context.Context, cfg *config.Config, relay *core.Relay, ctl *signal.Controller) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("MeetingSessions", store))
	r.Use(ClientTokenMiddleware())

	r.GET("/webrtc/p2p", func(c *gin.Context) {
		ctl.HandleSignal(ctx, c)
	})

	api := r.Group("/api")

	api.POST("/login", func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing credentials"})
			return
		}
		valid := false
		presenter := false
		for _, u := range cfg.Users {
			if u.Username == req.Username && u.Password == req.Password {
				valid = true
				break
			}
		}
		if !valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		for _, name := range cfg.Presenters {
			if name == req.Username {
				presenter = true
				break
			}
		}
		token, err := auth.Generate(cfg.JWTKey, req.Username, req.Password, presenter, cfg.JWTExp)
		if err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Msg("token generation")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token generation failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token})
	})

	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, relay.Store().ActiveRooms())
	})

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}
