package api

import (
	"errors"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/anima-runtime/anima/pkg/selfmod"
)

// baselineWindow is how many recent actions feed the pre-change error rate
// a monitored modification is judged against.
const baselineWindow = 10

// modificationsHandler handles GET /modifications.
func (s *Server) modificationsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"proposals":  s.deps.SelfMod.List(),
		"monitoring": s.deps.SelfMod.Monitoring(),
	})
}

// approveModificationHandler handles POST /modifications/:id/approve. The
// change is applied immediately and watched for the monitoring window.
func (s *Server) approveModificationHandler(c *echo.Context) error {
	id := c.Param("id")
	if err := s.deps.SelfMod.Approve(id, s.baselineErrorRate(), s.ollamaHealthy()); err != nil {
		return mapSelfModError(err)
	}
	p, _ := s.deps.SelfMod.Get(id)
	return c.JSON(http.StatusOK, p)
}

// rejectModificationHandler handles POST /modifications/:id/reject.
func (s *Server) rejectModificationHandler(c *echo.Context) error {
	id := c.Param("id")
	if err := s.deps.SelfMod.Reject(id); err != nil {
		return mapSelfModError(err)
	}
	p, _ := s.deps.SelfMod.Get(id)
	return c.JSON(http.StatusOK, p)
}

// baselineErrorRate measures the failure share of the most recent actions.
func (s *Server) baselineErrorRate() float64 {
	episodes := s.deps.Episodes.GetByType("post_action", baselineWindow, "")
	if len(episodes) == 0 {
		return 0
	}
	failures := 0
	for _, ep := range episodes {
		if ep.Outcome != "success" {
			failures++
		}
	}
	return float64(failures) / float64(len(episodes))
}

func (s *Server) ollamaHealthy() bool {
	if s.deps.Health == nil {
		return true
	}
	return s.deps.Health.IsHealthy("ollama")
}

func mapSelfModError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, selfmod.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "proposal not found")
	case errors.Is(err, selfmod.ErrAlreadyDecided):
		return echo.NewHTTPError(http.StatusConflict, "proposal already decided")
	case errors.Is(err, selfmod.ErrWindowOpen):
		return echo.NewHTTPError(http.StatusConflict, "another modification is being monitored")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
}
