// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package server wires the gin HTTP surface: the /proxy and /call upgrade
// handlers, the admin status/cleanup routes, the healthcheck, and (when
// enabled) the Prometheus /metrics route (SPEC_FULL.md §11, §12).
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MetaPowerMatrix/streamproxy/internal/commons"
	"github.com/MetaPowerMatrix/streamproxy/internal/proxy"
)

// upgrader mirrors the teacher's webrtc.go Upgrader: generous buffers, no
// origin restriction (the proxy has no authorization layer, spec.md §9).
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server owns the gin engine and the two endpoint handlers it mounts.
type Server struct {
	Engine      *gin.Engine
	Interactive *proxy.Interactive
	Telephony   *proxy.Telephony
	Logger      commons.Logger
}

// New builds the engine and mounts every route. metricsHandler is nil when
// metrics are disabled by configuration.
func New(interactiveEP *proxy.Interactive, telephonyEP *proxy.Telephony, logger commons.Logger, metricsHandler http.Handler) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AllowMethods = []string{"GET", "POST"}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type"}
	engine.Use(cors.New(corsCfg))

	s := &Server{Engine: engine, Interactive: interactiveEP, Telephony: telephonyEP, Logger: logger}

	engine.GET("/proxy", s.handleProxyUpgrade)
	engine.GET("/call", s.handleCallUpgrade)

	admin := engine.Group("/admin")
	admin.GET("/proxy/status", s.handleProxyStatus)
	admin.POST("/proxy/cleanup", s.handleProxyCleanup)
	admin.GET("/call/status", s.handleCallStatus)
	admin.POST("/call/cleanup", s.handleCallCleanup)

	engine.GET("/healthz", s.handleHealthz)

	if metricsHandler != nil {
		engine.GET("/metrics", gin.WrapH(metricsHandler))
	}

	return s
}

func (s *Server) handleProxyUpgrade(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Logger.Warnf("proxy: websocket upgrade failed: %v", err)
		return
	}
	s.Interactive.HandleConnection(conn)
}

func (s *Server) handleCallUpgrade(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Logger.Warnf("call: websocket upgrade failed: %v", err)
		return
	}
	s.Telephony.HandleConnection(conn)
}

func (s *Server) handleProxyStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Interactive.Registry.Status())
}

func (s *Server) handleProxyCleanup(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"removed": s.Interactive.Registry.Cleanup()})
}

func (s *Server) handleCallStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Telephony.Registry.Status())
}

func (s *Server) handleCallCleanup(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"removed": s.Telephony.Registry.Cleanup()})
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":                   "ok",
		"proxy_backend_registered": s.Interactive.Backend.Get() != nil,
		"call_backend_registered":  s.Telephony.Backend.Get() != nil,
	})
}

// RunCleanupLoop sweeps both registries' dead connections every interval
// until ctx is cancelled. Each tick runs the two endpoint sweeps
// concurrently via errgroup, matching the teacher's concurrent-bring-up
// idiom in websocket_executor.go.
func (s *Server) RunCleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g, _ := errgroup.WithContext(ctx)
			var proxyRemoved, callRemoved int
			g.Go(func() error {
				proxyRemoved = s.Interactive.Registry.Cleanup()
				return nil
			})
			g.Go(func() error {
				callRemoved = s.Telephony.Registry.Cleanup()
				return nil
			})
			_ = g.Wait()
			if proxyRemoved > 0 || callRemoved > 0 {
				s.Logger.Infow("cleanup sweep removed dead connections", "proxy_removed", proxyRemoved, "call_removed", callRemoved)
			}
		}
	}
}
