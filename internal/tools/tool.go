// Package tools implements the Tool Registry: discovery of tool
// directories, a native in-process provider kind and three
// MCP-transport-backed provider kinds (stdio, http, websocket) unified
// behind one Tool interface, and execution dispatched onto a bounded
// worker pool.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// Tool is the provider-agnostic shape every tool, regardless of kind, is
// adapted into.
type Tool interface {
	Name() string
	Description() string
	Schema() (map[string]interface{}, error)
	Destructive() bool
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

// Error is a structured tool-execution failure, surfaced to the model as
// the tool result's error field rather than as a Go error string.
type Error struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError constructs an Error with an empty details map.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message, Details: map[string]interface{}{}}
}

// WithDetail attaches one detail key/value and returns the same Error for
// chaining at the call site.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	e.Details[key] = value
	return e
}
