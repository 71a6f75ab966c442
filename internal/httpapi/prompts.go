package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/lennartpollvogt/mochi-server/internal/apierr"
	"github.com/lennartpollvogt/mochi-server/internal/prompts"
)

func (s *Server) listPrompts(c *echo.Context) error {
	items, err := s.prompts.List()
	if err != nil {
		return apierr.From(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"prompts": items})
}

func (s *Server) getPrompt(c *echo.Context) error {
	content, err := s.prompts.Get(c.Param("filename"))
	if err != nil {
		return mapPromptError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"filename": c.Param("filename"), "content": content})
}

func (s *Server) createPrompt(c *echo.Context) error {
	var req createPromptRequest
	if err := c.Bind(&req); err != nil {
		return apierr.NewCode(apierr.CodeValidationError, "malformed request body")
	}
	if err := s.prompts.Create(req.Filename, req.Content); err != nil {
		return mapPromptError(err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{"filename": req.Filename, "content": req.Content})
}

func (s *Server) updatePrompt(c *echo.Context) error {
	filename := c.Param("filename")
	var req updatePromptRequest
	if err := c.Bind(&req); err != nil {
		return apierr.NewCode(apierr.CodeValidationError, "malformed request body")
	}
	if err := s.prompts.Update(filename, req.Content); err != nil {
		return mapPromptError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"filename": filename, "content": req.Content})
}

func (s *Server) deletePrompt(c *echo.Context) error {
	if err := s.prompts.Delete(c.Param("filename")); err != nil {
		return mapPromptError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// mapPromptError translates the prompts package's own sentinels, since
// apierr.From's default branch would otherwise flatten them all to
// INTERNAL_ERROR.
func mapPromptError(err error) error {
	switch {
	case errors.Is(err, prompts.ErrNotFound):
		return apierr.NewCode(apierr.CodePromptNotFound, err.Error())
	case errors.Is(err, prompts.ErrExists):
		return apierr.New(http.StatusConflict, "PROMPT_ALREADY_EXISTS", err.Error())
	case errors.Is(err, prompts.ErrInvalid):
		return apierr.NewCode(apierr.CodeValidationError, err.Error())
	default:
		return apierr.From(err)
	}
}
