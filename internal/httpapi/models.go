package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/lennartpollvogt/mochi-server/internal/apierr"
)

// listModels returns every completion-capable model the upstream daemon
// reports, spec §6.1's "List completion-capable models" — the Upstream
// Client's ListModels already excludes non-completion models, so this is
// a thin passthrough.
func (s *Server) listModels(c *echo.Context) error {
	models, err := s.upstream.ListModels(c.Request().Context())
	if err != nil {
		return apierr.From(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"models": models})
}

func (s *Server) getModel(c *echo.Context) error {
	name := c.Param("name")
	info, err := s.upstream.GetModel(c.Request().Context(), name)
	if err != nil {
		return apierr.From(err)
	}
	if info == nil {
		return apierr.NewCode(apierr.CodeModelNotFound, "model "+name+" not found")
	}
	return c.JSON(http.StatusOK, info)
}
