package api

import (
	"net/http"
	"path/filepath"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/anima-runtime/anima/pkg/statefile"
)

// diaryMaxBytes bounds how much of the diary tail GET /diary returns.
const diaryMaxBytes = 16 * 1024

func (s *Server) valuesHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Mind.Values.Snapshot())
}

func (s *Server) strategyHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Mind.Strategy.Snapshot())
}

func (s *Server) emotionsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Mind.Emotions.Snapshot())
}

func (s *Server) beliefsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"beliefs": s.deps.Mind.Beliefs.Snapshot(),
	})
}

func (s *Server) contradictionsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"contradictions": s.deps.Mind.Beliefs.Contradictions(),
	})
}

func (s *Server) milestonesHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"milestones": s.deps.Mind.Milestones.Snapshot(),
	})
}

func (s *Server) timeHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Mind.TimePerception.Snapshot())
}

func (s *Server) metaCognitionHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Mind.MetaCognition.Snapshot())
}

func (s *Server) skillsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"skills": s.deps.Mind.SelfModel.Snapshot().Skills,
	})
}

func (s *Server) curiosityHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Mind.Curiosity.Snapshot())
}

// diaryHandler handles GET /diary: the raw diary tail plus the structured
// entries.
func (s *Server) diaryHandler(c *echo.Context) error {
	limit := 10
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"tail":    s.deps.Mind.Narrative.Diary(diaryMaxBytes),
		"entries": s.deps.Mind.Narrative.Entries(limit),
	})
}

// reflectionHandler handles GET /reflection from the persisted reflection
// log.
func (s *Server) reflectionHandler(c *echo.Context) error {
	var entries []map[string]any
	path := filepath.Join(s.deps.MemDir, "reflection_log.json")
	if err := statefile.LoadJSON(path, &entries); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to read reflection log")
	}
	if entries == nil {
		entries = []map[string]any{}
	}
	return c.JSON(http.StatusOK, map[string]any{"reflections": entries})
}
