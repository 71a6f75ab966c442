package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/lennartpollvogt/mochi-server/internal/apierr"
)

func (s *Server) listAgents(c *echo.Context) error {
	names := s.agentReg.Names()
	agentsOut := make([]map[string]interface{}, 0, len(names))
	for _, name := range names {
		a, ok := s.agentReg.Get(name)
		if !ok {
			continue
		}
		agentsOut = append(agentsOut, map[string]interface{}{
			"name":        a.Name,
			"description": a.Description,
			"model":       a.Model,
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"agents":  agentsOut,
		"version": s.agentReg.Version(),
		"schema":  s.agentReg.Schema(),
	})
}

func (s *Server) reloadAgents(c *echo.Context) error {
	if err := s.agentReg.Reload(c.Request().Context()); err != nil {
		return apierr.From(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"agents": s.agentReg.Names(), "version": s.agentReg.Version()})
}

// listAgentSessions inspects one agent's private session namespace, spec
// §6.1's "agent-session inspection".
func (s *Server) listAgentSessions(c *echo.Context) error {
	a, ok := s.agentReg.Get(c.Param("name"))
	if !ok {
		return apierr.NewCode(apierr.CodeAgentNotFound, "agent "+c.Param("name")+" not found")
	}
	if a.Sessions == nil {
		return c.JSON(http.StatusOK, map[string]interface{}{"sessions": []interface{}{}})
	}

	summaries, err := a.Sessions.List()
	if err != nil {
		return apierr.From(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"sessions": summaries})
}
