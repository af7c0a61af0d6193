package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/anima-runtime/anima/pkg/budget"
	"github.com/anima-runtime/anima/pkg/config"
	"github.com/anima-runtime/anima/pkg/episodic"
	"github.com/anima-runtime/anima/pkg/fallback"
	"github.com/anima-runtime/anima/pkg/gateway"
	"github.com/anima-runtime/anima/pkg/health"
	"github.com/anima-runtime/anima/pkg/metrics"
	"github.com/anima-runtime/anima/pkg/mind"
	"github.com/anima-runtime/anima/pkg/selfmod"
	"github.com/anima-runtime/anima/pkg/shell"
	"github.com/anima-runtime/anima/pkg/vector"
	"github.com/anima-runtime/anima/pkg/world"
)

// LLMInfo is the slice of the gateway the introspection surface reads:
// cumulative stats for /status and embeddings for /search.
type LLMInfo interface {
	Stats() gateway.Stats
	Embed(ctx context.Context, pri budget.Priority, text string) []float32
}

// Ticker reports the current heavy-tick counter.
type Ticker interface {
	Tick() int64
}

// Deps carries every collaborator the HTTP surface exposes.
type Deps struct {
	Cfg      *config.Config
	Mind     *mind.Mind
	Episodes *episodic.Store
	Vectors  *vector.Store
	LLM      LLMInfo
	Shell    *shell.Executor
	SelfMod  *selfmod.Manager
	Health   *health.Monitor
	Metrics  *metrics.Metrics
	Fallback *fallback.Cache
	World    *world.Model
	Hub      *Hub
	Ticker   Ticker
	// InboxPath receives /chat/send messages; OutboxPath backs
	// /chat/outbox; MemDir holds reflection_log.json.
	InboxPath  string
	OutboxPath string
	MemDir     string
}

// Server is the read-mostly introspection HTTP surface. Wide-open CORS, no
// authentication; it is meant for a local operator.
type Server struct {
	deps   Deps
	echo   *echo.Echo
	http   *http.Server
	logger *slog.Logger
}

// NewServer builds the echo application and registers all routes.
func NewServer(deps Deps) *Server {
	s := &Server{
		deps:   deps,
		echo:   echo.New(),
		logger: slog.Default().With("component", "api"),
	}
	s.echo.Use(corsMiddleware(), securityHeaders())
	s.echo.HTTPErrorHandler = s.errorHandler
	s.routes()
	return s
}

// errorHandler renders every error as {"error": "..."}.
func (s *Server) errorHandler(c *echo.Context, err error) {
	code := http.StatusInternalServerError
	msg := "internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		msg = fmt.Sprintf("%v", he.Message)
	}
	if writeErr := c.JSON(code, map[string]string{"error": msg}); writeErr != nil {
		s.logger.Error("Failed to write error response", "error", writeErr)
	}
}

func (s *Server) routes() {
	e := s.echo

	e.GET("/status", s.statusHandler)
	e.GET("/health", s.healthHandler)
	e.GET("/memory", s.memoryHandler)

	e.GET("/values", s.valuesHandler)
	e.GET("/strategy", s.strategyHandler)
	e.GET("/emotions", s.emotionsHandler)
	e.GET("/beliefs", s.beliefsHandler)
	e.GET("/contradictions", s.contradictionsHandler)
	e.GET("/milestones", s.milestonesHandler)
	e.GET("/time", s.timeHandler)
	e.GET("/meta-cognition", s.metaCognitionHandler)
	e.GET("/skills", s.skillsHandler)
	e.GET("/curiosity", s.curiosityHandler)
	e.GET("/diary", s.diaryHandler)
	e.GET("/reflection", s.reflectionHandler)
	e.GET("/evolution", s.evolutionHandler)

	e.GET("/episodes", s.episodesHandler)
	e.GET("/search", s.searchHandler)

	e.GET("/shell/stats", s.shellStatsHandler)
	e.POST("/shell/execute", s.shellExecuteHandler)

	e.GET("/modifications", s.modificationsHandler)
	e.POST("/modifications/:id/approve", s.approveModificationHandler)
	e.POST("/modifications/:id/reject", s.rejectModificationHandler)

	e.GET("/chat/outbox", s.chatOutboxHandler)
	e.POST("/chat/send", s.chatSendHandler)

	e.GET("/metrics", func(c *echo.Context) error {
		s.deps.Metrics.Handler().ServeHTTP(c.Response(), c.Request())
		return nil
	})
	e.GET("/ws", s.wsHandler)
}

// Handler exposes the underlying echo application, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start blocks serving on addr until Shutdown or failure.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{Addr: addr, Handler: s.echo}
	s.logger.Info("Introspection server listening", "addr", addr)
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
