package server

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	// Observability endpoints
	s.echo.GET("/healthz", s.handleHealthz)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// WebSocket endpoint feeding the relay
	s.echo.GET("/ws", s.handleWebSocket)

	// Static client bundle
	s.echo.Static("/", s.config.StaticDir)
}
