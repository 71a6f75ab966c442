// Package httpapi implements mochi-server's HTTP surface on top of
// echo/v5, translating the REST+SSE contract onto the Turn Orchestrator
// and its collaborators.
package httpapi

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/lennartpollvogt/mochi-server/internal/agents"
	"github.com/lennartpollvogt/mochi-server/internal/apierr"
	"github.com/lennartpollvogt/mochi-server/internal/confirm"
	"github.com/lennartpollvogt/mochi-server/internal/orchestrator"
	"github.com/lennartpollvogt/mochi-server/internal/prompts"
	"github.com/lennartpollvogt/mochi-server/internal/store"
	"github.com/lennartpollvogt/mochi-server/internal/summarize"
	"github.com/lennartpollvogt/mochi-server/internal/tools"
	"github.com/lennartpollvogt/mochi-server/internal/upstream"
)

// Server holds every collaborator a route handler needs. It has no mutable
// state of its own beyond what those collaborators already own.
type Server struct {
	sessions *store.Store
	upstream upstream.Client
	toolReg  *tools.Registry
	agentReg *agents.Registry
	confirms *confirm.Broker
	orch     *orchestrator.Orchestrator
	summary  *summarize.Task
	prompts  *prompts.Store
	logger   *slog.Logger

	confirmTimeout        time.Duration
	dynamicContextEnabled bool
}

// New builds a Server. summaryTask may be nil, in which case the summarize
// endpoint answers with a VALIDATION_ERROR saying summarization is disabled;
// the summary endpoint still returns whatever summary the session holds.
// dynamicContextEnabled seeds ContextWindowConfig.DynamicEnabled on every
// session createSession mints, per spec's `dynamic_enabled: bool = True`
// default.
func New(
	sessions *store.Store,
	upstreamClient upstream.Client,
	toolReg *tools.Registry,
	agentReg *agents.Registry,
	confirms *confirm.Broker,
	orch *orchestrator.Orchestrator,
	summaryTask *summarize.Task,
	promptStore *prompts.Store,
	confirmTimeout time.Duration,
	dynamicContextEnabled bool,
	logger *slog.Logger,
) *Server {
	return &Server{
		sessions:              sessions,
		upstream:              upstreamClient,
		toolReg:               toolReg,
		agentReg:              agentReg,
		confirms:              confirms,
		orch:                  orch,
		summary:               summaryTask,
		prompts:               promptStore,
		confirmTimeout:        confirmTimeout,
		dynamicContextEnabled: dynamicContextEnabled,
		logger:                logger,
	}
}

// Echo builds a fresh *echo.Echo wired with every route and middleware.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = apierr.Handler
	e.Use(s.requestLogger(), middleware.Recover())

	s.registerRoutes(e)
	return e
}

// Start builds the echo instance and blocks serving HTTP on addr.
func (s *Server) Start(addr string) error {
	return s.Echo().Start(addr)
}

func (s *Server) registerRoutes(e *echo.Echo) {
	g := e.Group("/api/v1")

	g.GET("/health", s.health)

	g.GET("/models", s.listModels)
	g.GET("/models/:name", s.getModel)

	g.POST("/sessions", s.createSession)
	g.GET("/sessions", s.listSessions)
	g.GET("/sessions/:id", s.getSession)
	g.PATCH("/sessions/:id", s.patchSession)
	g.DELETE("/sessions/:id", s.deleteSession)
	g.GET("/sessions/:id/messages", s.getMessages)
	g.PUT("/sessions/:id/messages/:index", s.editMessage)
	g.PUT("/sessions/:id/system-prompt", s.setSystemPrompt)
	g.DELETE("/sessions/:id/system-prompt", s.removeSystemPrompt)
	g.GET("/sessions/:id/status", s.sessionStatus)
	g.POST("/sessions/:id/summarize", s.summarizeSession)
	g.GET("/sessions/:id/summary", s.getSummary)

	g.POST("/chat/:id", s.chat)
	g.POST("/chat/:id/stream", s.chatStream)
	g.POST("/chat/:id/confirm-tool", s.confirmTool)

	g.GET("/system-prompts", s.listPrompts)
	g.GET("/system-prompts/:filename", s.getPrompt)
	g.POST("/system-prompts", s.createPrompt)
	g.PUT("/system-prompts/:filename", s.updatePrompt)
	g.DELETE("/system-prompts/:filename", s.deletePrompt)

	g.GET("/tools", s.listTools)
	g.POST("/tools/reload", s.reloadTools)

	g.GET("/agents", s.listAgents)
	g.POST("/agents/reload", s.reloadAgents)
	g.GET("/agents/:name/sessions", s.listAgentSessions)
}

// requestLogger is an echo.MiddlewareFunc adapted from echo's own request
// logger middleware to write through the server's slog logger instead of
// echo's default output.
func (s *Server) requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			start := time.Now()
			err := next(c)
			s.logger.Info("http_request",
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"status", c.Response().(*echo.Response).Status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
			return err
		}
	}
}
