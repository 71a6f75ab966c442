package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/lennartpollvogt/mochi-server/internal/events"
)

// sseSink implements events.Sink over one HTTP response, grounded on
// idunrlylikeu-memos's handleAIChat: the event-stream headers are written
// lazily, on the first Emit call, so an error the Turn Orchestrator
// returns before producing any event can still be rendered as a normal
// JSON error response rather than a half-open stream.
type sseSink struct {
	c       *echo.Context
	started bool
}

func newSSESink(c *echo.Context) *sseSink {
	return &sseSink{c: c}
}

// Started reports whether any bytes have been written to the client yet.
func (s *sseSink) Started() bool {
	return s.started
}

func (s *sseSink) Emit(ev events.Event) error {
	rw := s.c.Response()
	if !s.started {
		rw.Header().Set("Content-Type", "text/event-stream")
		rw.Header().Set("Cache-Control", "no-cache")
		rw.Header().Set("Connection", "keep-alive")
		rw.Header().Set("X-Accel-Buffering", "no")
		rw.WriteHeader(http.StatusOK)
		s.started = true
	}

	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("httpapi: marshaling event %s: %w", ev.Name, err)
	}
	if _, err := fmt.Fprintf(rw, "event: %s\ndata: %s\n\n", ev.Name, data); err != nil {
		return err
	}
	if f, ok := rw.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}
