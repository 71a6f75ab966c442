package httpapi

import "github.com/labstack/echo/v5"

// health reports liveness plus whether the upstream daemon is currently
// reachable, spec §6.1.
func (s *Server) health(c *echo.Context) error {
	_, err := s.upstream.ListModels(c.Request().Context())
	body := map[string]interface{}{
		"status":             "ok",
		"upstream_reachable": err == nil,
	}
	if err != nil {
		body["status"] = "degraded"
	}
	return c.JSON(200, body)
}
