package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/lennartpollvogt/mochi-server/internal/apierr"
	"github.com/lennartpollvogt/mochi-server/internal/orchestrator"
)

// chat runs one non-streaming turn, spec §4.8: the orchestrator's
// DiscardingSink drops every event and the returned TurnResult is the
// entire response body.
func (s *Server) chat(c *echo.Context) error {
	req := bindChatRequest(c)

	result, err := s.orch.RunTurn(c.Request().Context(), orchestrator.TurnRequest{
		SessionID: c.Param("id"),
		Message:   req.Message,
		Think:     req.Think,
	}, orchestrator.DiscardingSink{})
	if err != nil {
		return apierr.From(err)
	}
	return c.JSON(http.StatusOK, result)
}

// chatStream runs one turn with an events.Sink writing Server-Sent Events
// directly to the response, spec §4.7/§6.3.
func (s *Server) chatStream(c *echo.Context) error {
	req := bindChatRequest(c)

	sink := newSSESink(c)
	_, runErr := s.orch.RunTurn(c.Request().Context(), orchestrator.TurnRequest{
		SessionID: c.Param("id"),
		Message:   req.Message,
		Think:     req.Think,
	}, sink)
	if runErr != nil && !sink.Started() {
		// Nothing has been written yet: render the normal JSON error
		// envelope instead of a half-open event stream.
		return apierr.From(runErr)
	}
	// Once streaming has started, RunTurn has already emitted its own
	// `error`/`done` events (spec §7's "Upstream" and "Invariant" rows);
	// there is nothing left for this handler to write.
	return nil
}

func (s *Server) confirmTool(c *echo.Context) error {
	var req confirmToolRequest
	if err := c.Bind(&req); err != nil {
		return apierr.NewCode(apierr.CodeValidationError, "malformed request body")
	}
	if req.ConfirmationID == "" {
		return apierr.NewCode(apierr.CodeValidationError, "confirmation_id is required")
	}

	if err := s.confirms.Resolve(req.ConfirmationID, req.Approved); err != nil {
		return apierr.From(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"confirmation_id": req.ConfirmationID, "approved": req.Approved})
}

// bindChatRequest decodes the optional chat body. An empty body is valid —
// it means "regenerate from history" — so a bind failure just falls back
// to the zero value rather than failing the request.
func bindChatRequest(c *echo.Context) chatRequestBody {
	var req chatRequestBody
	_ = c.Bind(&req)
	return req
}
