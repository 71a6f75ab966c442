package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/lennartpollvogt/mochi-server/internal/apierr"
)

func (s *Server) listTools(c *echo.Context) error {
	names := s.toolReg.List()
	schemas, err := s.toolReg.AllSchemas(nil)
	if err != nil {
		return apierr.From(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"tools": names, "schemas": schemas})
}

func (s *Server) reloadTools(c *echo.Context) error {
	if err := s.toolReg.Reload(c.Request().Context()); err != nil {
		return apierr.From(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"tools": s.toolReg.List()})
}
