package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/doodletogether/doodled/internal/config"
	"github.com/doodletogether/doodled/internal/relay"
)

// DatabaseStatus reports persistence availability for the liveness endpoint.
type DatabaseStatus interface {
	Available() bool
}

type Server struct {
	echo       *echo.Echo
	config     *config.Config
	dispatcher *relay.Dispatcher
	dbStatus   DatabaseStatus
}

func NewServer(cfg *config.Config, dispatcher *relay.Dispatcher, dbStatus DatabaseStatus) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	srv := &Server{
		echo:       e,
		config:     cfg,
		dispatcher: dispatcher,
		dbStatus:   dbStatus,
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	return s.echo.Start(fmt.Sprintf(":%s", s.config.Port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
