package main

import (
	"context"
	"net/http"

	"callsignal/internal/auth"
	"callsignal/internal/httpapi"
	"callsignal/internal/signaling"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	auth   *auth.Manager
	api    httpapi.Handlers
	ws     *signaling.Handler
	health func(ctx context.Context) error
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if d.health != nil {
			if err := d.health(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Browsers cannot set headers on the websocket handshake, so the token may come as ?token=.
	r.GET("/ws", auth.RequireAccessTokenOrQuery(d.auth), d.ws.ServeWS)

	calls := r.Group("/calls")
	calls.Use(auth.RequireAccessToken(d.auth))
	d.api.Register(calls)
}
