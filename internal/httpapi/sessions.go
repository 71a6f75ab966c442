package httpapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v5"

	"github.com/lennartpollvogt/mochi-server/internal/apierr"
	"github.com/lennartpollvogt/mochi-server/internal/session"
)

func (s *Server) createSession(c *echo.Context) error {
	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return apierr.NewCode(apierr.CodeValidationError, "malformed request body")
	}
	if req.Model == "" {
		return apierr.NewCode(apierr.CodeValidationError, "model is required")
	}

	validate := func(model string) error {
		info, err := s.upstream.GetModel(c.Request().Context(), model)
		if err != nil {
			return err
		}
		if info == nil {
			return apierr.NewCode(apierr.CodeModelNotFound, "model "+model+" not found")
		}
		return nil
	}

	sess, err := s.sessions.Create(req.Model, req.SystemPrompt, req.SystemPromptSourceFile, validate, s.dynamicContextEnabled)
	if err != nil {
		return apierr.From(err)
	}

	mutate := func(m *session.Metadata) {
		if req.ToolSettings != nil {
			m.ToolSettings = req.ToolSettings.toSession()
		}
		if req.AgentSettings != nil {
			m.AgentSettings = req.AgentSettings.toSession()
		}
	}
	if req.ToolSettings != nil || req.AgentSettings != nil {
		sess, err = s.sessions.PatchMetadata(sess.Metadata.SessionID, mutate)
		if err != nil {
			return apierr.From(err)
		}
	}

	return c.JSON(http.StatusCreated, sess)
}

func (s *Server) listSessions(c *echo.Context) error {
	summaries, err := s.sessions.List()
	if err != nil {
		return apierr.From(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"sessions": summaries})
}

func (s *Server) getSession(c *echo.Context) error {
	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		return apierr.From(err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (s *Server) patchSession(c *echo.Context) error {
	id := c.Param("id")
	var req updateSessionRequest
	if err := c.Bind(&req); err != nil {
		return apierr.NewCode(apierr.CodeValidationError, "malformed request body")
	}

	sess, err := s.sessions.PatchMetadata(id, func(m *session.Metadata) {
		if req.Model != nil {
			m.Model = *req.Model
		}
		if req.ToolSettings != nil {
			m.ToolSettings = req.ToolSettings.toSession()
		}
		if req.AgentSettings != nil {
			m.AgentSettings = req.AgentSettings.toSession()
		}
		if req.ContextWindow != nil {
			req.ContextWindow.applyTo(&m.ContextWindow)
		}
	})
	if err != nil {
		return apierr.From(err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (s *Server) deleteSession(c *echo.Context) error {
	if err := s.sessions.Delete(c.Param("id")); err != nil {
		return apierr.From(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) getMessages(c *echo.Context) error {
	messages, err := s.sessions.GetMessages(c.Param("id"))
	if err != nil {
		return apierr.From(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"messages": messages})
}

func (s *Server) editMessage(c *echo.Context) error {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		return apierr.NewCode(apierr.CodeInvalidMessageIndex, "message index must be an integer")
	}

	var req editMessageRequest
	if err := c.Bind(&req); err != nil {
		return apierr.NewCode(apierr.CodeValidationError, "malformed request body")
	}
	if req.Content == "" {
		return apierr.NewCode(apierr.CodeValidationError, "content is required")
	}

	sess, err := s.sessions.EditMessage(c.Param("id"), index, req.Content)
	if err != nil {
		return classifyMessageIndexError(err)
	}
	return c.JSON(http.StatusOK, sess)
}

// classifyMessageIndexError maps the store's plain "out of range"/"not a
// user message" errors onto INVALID_MESSAGE_INDEX rather than letting them
// fall through apierr.From's default INTERNAL_ERROR branch.
func classifyMessageIndexError(err error) error {
	mapped := apierr.From(err)
	if mapped.Code == apierr.CodeInternalError {
		return apierr.NewCode(apierr.CodeInvalidMessageIndex, mapped.Message)
	}
	return mapped
}

func (s *Server) setSystemPrompt(c *echo.Context) error {
	var req setSystemPromptRequest
	if err := c.Bind(&req); err != nil {
		return apierr.NewCode(apierr.CodeValidationError, "malformed request body")
	}
	if req.Content == "" {
		return apierr.NewCode(apierr.CodeValidationError, "content is required")
	}

	sess, err := s.sessions.SetSystemMessage(c.Param("id"), req.Content, req.SourceFile)
	if err != nil {
		return apierr.From(err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (s *Server) removeSystemPrompt(c *echo.Context) error {
	sess, err := s.sessions.RemoveSystemMessage(c.Param("id"))
	if err != nil {
		return apierr.From(err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (s *Server) sessionStatus(c *echo.Context) error {
	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		return apierr.From(err)
	}

	var systemPromptFile string
	if msg, _, ok := sess.SystemMessage(); ok {
		systemPromptFile = msg.SourceFile
	}

	var summary *session.Summary
	if sess.Metadata.Summary != nil {
		summary = sess.Metadata.Summary
	}

	resp := sessionStatusResponse{
		SessionID: sess.Metadata.SessionID,
		Model:     sess.Metadata.Model,
		MessageCount: sess.Metadata.MessageCount,
		ContextWindow: contextWindowStatus{
			DynamicEnabled:       sess.Metadata.ContextWindow.DynamicEnabled,
			CurrentWindow:        sess.Metadata.ContextWindow.CurrentWindow,
			LastAdjustmentReason: sess.Metadata.ContextWindow.LastReason,
			ManualOverride:       sess.Metadata.ContextWindow.ManualOverride,
		},
		ToolsEnabled:     len(sess.Metadata.ToolSettings.Enabled) > 0 || sess.Metadata.ToolSettings.Group != "",
		ActiveTools:      sess.Metadata.ToolSettings.Enabled,
		ExecutionPolicy:  string(sess.Metadata.ToolSettings.Policy),
		AgentsEnabled:    len(sess.Metadata.AgentSettings.Enabled) > 0,
		EnabledAgents:    sess.Metadata.AgentSettings.Enabled,
		SystemPromptFile: systemPromptFile,
		Summary:          summary,
		SummaryModel:     sess.Metadata.SummaryModel,
	}

	if info, err := s.upstream.GetModel(c.Request().Context(), sess.Metadata.Model); err == nil && info != nil {
		resp.ContextWindow.ModelMaxContext = &info.ContextLength
	}

	return c.JSON(http.StatusOK, resp)
}

func (s *Server) summarizeSession(c *echo.Context) error {
	if s.summary == nil {
		return apierr.NewCode(apierr.CodeValidationError, "summarization is disabled")
	}
	id := c.Param("id")

	var req summarizeRequest
	_ = c.Bind(&req) // empty body means "use the selection chain"

	var err error
	if req.Model != "" {
		err = s.summary.RunWithModel(c.Request().Context(), id, req.Model)
	} else {
		err = s.summary.Run(c.Request().Context(), id)
	}
	if err != nil {
		return apierr.From(err)
	}

	sess, err := s.sessions.Get(id)
	if err != nil {
		return apierr.From(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"summary": sess.Metadata.Summary, "summary_model": sess.Metadata.SummaryModel})
}

func (s *Server) getSummary(c *echo.Context) error {
	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		return apierr.From(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"summary": sess.Metadata.Summary, "summary_model": sess.Metadata.SummaryModel})
}
