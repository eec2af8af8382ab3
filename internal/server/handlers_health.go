package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// handleHealthz is the liveness endpoint. The server is alive whenever it can
// answer; dbConnected reports whether account and drawing persistence is
// currently available.
func (s *Server) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"ok":          true,
		"dbConnected": s.dbStatus.Available(),
	})
}
