// Package apierr implements the HTTP error envelope and status-code
// taxonomy spec §6.2/§7 define: `{"error":{"code","message","details"}}`,
// with every recognized code mapped to one HTTP status.
package apierr

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/lennartpollvogt/mochi-server/internal/confirm"
	"github.com/lennartpollvogt/mochi-server/internal/orchestrator"
	"github.com/lennartpollvogt/mochi-server/internal/store"
	"github.com/lennartpollvogt/mochi-server/internal/tools"
	"github.com/lennartpollvogt/mochi-server/internal/upstream"
)

// Recognized codes, spec §6.2.
const (
	CodeSessionNotFound             = "SESSION_NOT_FOUND"
	CodeModelNotFound               = "MODEL_NOT_FOUND"
	CodeToolNotFound                = "TOOL_NOT_FOUND"
	CodeAgentNotFound               = "AGENT_NOT_FOUND"
	CodeAgentInvalid                = "AGENT_INVALID"
	CodePromptNotFound              = "PROMPT_NOT_FOUND"
	CodeUpstreamUnreachable         = "UPSTREAM_UNREACHABLE"
	CodeUpstreamError               = "UPSTREAM_ERROR"
	CodeToolExecutionFailed         = "TOOL_EXECUTION_FAILED"
	CodeToolExecutionDenied         = "TOOL_EXECUTION_DENIED"
	CodeToolConfirmationTimeout     = "TOOL_CONFIRMATION_TIMEOUT"
	CodeInvalidMessageIndex         = "INVALID_MESSAGE_INDEX"
	CodeConfirmationAlreadyResolved = "CONFIRMATION_ALREADY_RESOLVED"
	CodeValidationError             = "VALIDATION_ERROR"
	CodeInternalError               = "INTERNAL_ERROR"
)

// Error is the envelope body, and itself satisfies the error interface so
// handlers can both build and return it in one step.
type Error struct {
	Status  int                    `json:"-"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

// New builds an Error with no details.
func New(status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

// WithDetail attaches one detail field and returns the same Error for
// chaining at the call site.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// envelope is the wire shape: {"error": {...}}.
type envelope struct {
	Error *Error `json:"error"`
}

// statusByCode is the taxonomy's code -> HTTP status mapping, spec §6.1's
// "status codes" line and §7's taxonomy combined into one table.
var statusByCode = map[string]int{
	CodeSessionNotFound:             http.StatusNotFound,
	CodeModelNotFound:               http.StatusNotFound,
	CodeToolNotFound:                http.StatusNotFound,
	CodeAgentNotFound:               http.StatusNotFound,
	CodePromptNotFound:              http.StatusNotFound,
	CodeAgentInvalid:                http.StatusUnprocessableEntity,
	CodeInvalidMessageIndex:         http.StatusBadRequest,
	CodeConfirmationAlreadyResolved: http.StatusConflict,
	CodeValidationError:             http.StatusBadRequest,
	CodeToolExecutionDenied:         http.StatusForbidden,
	CodeToolConfirmationTimeout:     http.StatusRequestTimeout,
	CodeUpstreamUnreachable:         http.StatusBadGateway,
	CodeUpstreamError:               http.StatusBadGateway,
	CodeToolExecutionFailed:         http.StatusInternalServerError,
	CodeInternalError:               http.StatusInternalServerError,
}

// NewCode builds an Error from a recognized code, looking up its status
// from the taxonomy table.
func NewCode(code, message string) *Error {
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	return &Error{Status: status, Code: code, Message: message}
}

// From classifies any error the Turn Orchestrator, Session Store, Upstream
// Client, Tool Registry, or Confirmation Broker can return into an Error,
// falling back to INTERNAL_ERROR for anything unrecognized. Call sites that
// already know the right code (e.g. a handler's own request validation)
// should build an Error directly with NewCode instead.
func From(err error) *Error {
	if err == nil {
		return nil
	}

	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}

	switch {
	case errors.Is(err, orchestrator.ErrSessionNotFound), errors.Is(err, store.ErrNotFound):
		return NewCode(CodeSessionNotFound, err.Error())
	case errors.Is(err, orchestrator.ErrValidation):
		return NewCode(CodeValidationError, err.Error())
	case errors.Is(err, orchestrator.ErrModelNotFound):
		return NewCode(CodeModelNotFound, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return NewCode(CodeToolConfirmationTimeout, err.Error())
	case errors.Is(err, confirm.ErrNotFound):
		return NewCode(CodeToolNotFound, err.Error())
	case errors.Is(err, confirm.ErrAlreadyResolved):
		return NewCode(CodeConfirmationAlreadyResolved, err.Error())
	}

	var upstreamErr *upstream.Error
	if errors.As(err, &upstreamErr) {
		switch upstreamErr.Kind {
		case upstream.KindNotFound:
			return NewCode(CodeModelNotFound, upstreamErr.Message)
		case upstream.KindUnreachable:
			return NewCode(CodeUpstreamUnreachable, upstreamErr.Message)
		default:
			return NewCode(CodeUpstreamError, upstreamErr.Message)
		}
	}

	var toolErr *tools.Error
	if errors.As(err, &toolErr) {
		if toolErr.Code == "not_found" {
			return NewCode(CodeToolNotFound, toolErr.Message)
		}
		return NewCode(CodeToolExecutionFailed, toolErr.Message)
	}

	return NewCode(CodeInternalError, err.Error())
}

// FromConfirmDecision turns a denied or timed-out confirm.Decision into the
// matching pre-stream error, per spec §7's "Policy" taxonomy row — this
// branch only applies before the SSE stream has started; once streaming,
// the same decision becomes a `tool_result{success:false}` event instead.
func FromConfirmDecision(d confirm.Decision) *Error {
	if d.TimedOut {
		return NewCode(CodeToolConfirmationTimeout, "confirmation timed out")
	}
	return NewCode(CodeToolExecutionDenied, "denied by user")
}

// Handler is an echo.HTTPErrorHandler that renders any error — ours or
// echo's own (e.g. routing 404s, bind failures) — as the envelope shape.
// Handlers in internal/httpapi otherwise return *Error directly and let
// this run at the edge, so a route only needs to construct NewCode(...)
// and return it.
func Handler(c *echo.Context, err error) {
	apiErr := From(err)

	var echoErr *echo.HTTPError
	if errors.As(err, &echoErr) {
		apiErr = &Error{Status: echoErr.Code, Code: codeForStatus(echoErr.Code), Message: message(echoErr.Message)}
	}

	if resp, ok := c.Response().(*echo.Response); ok && resp.Committed {
		return
	}
	if writeErr := c.JSON(apiErr.Status, envelope{Error: apiErr}); writeErr != nil {
		c.Logger().Error("failed to write error response", "error", writeErr)
	}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusNotFound:
		return CodeSessionNotFound
	case http.StatusBadRequest:
		return CodeValidationError
	default:
		return CodeInternalError
	}
}

func message(m interface{}) string {
	if s, ok := m.(string); ok {
		return s
	}
	return http.StatusText(http.StatusInternalServerError)
}
