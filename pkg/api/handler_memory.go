package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/anima-runtime/anima/pkg/budget"
	"github.com/anima-runtime/anima/pkg/episodic"
	"github.com/anima-runtime/anima/pkg/vector"
)

// episodesHandler handles GET /episodes?limit=&event_type=.
func (s *Server) episodesHandler(c *echo.Context) error {
	limit := 20
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be between 1 and 500")
		}
		limit = n
	}

	var episodes []episodic.Episode
	if eventType := c.QueryParam("event_type"); eventType != "" {
		episodes = s.deps.Episodes.GetByType(eventType, limit, "")
	} else {
		episodes = s.deps.Episodes.GetRecent(limit)
	}
	if episodes == nil {
		episodes = []episodic.Episode{}
	}
	return c.JSON(http.StatusOK, map[string]any{"episodes": episodes})
}

// searchHandler handles GET /search?q=&top_k=: embeds the query and runs a
// similarity search over vector memory.
func (s *Server) searchHandler(c *echo.Context) error {
	query := c.QueryParam("q")
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q is required")
	}
	topK := 5
	if v := c.QueryParam("top_k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 50 {
			return echo.NewHTTPError(http.StatusBadRequest, "top_k must be between 1 and 50")
		}
		topK = n
	}

	emb := s.deps.LLM.Embed(c.Request().Context(), budget.Important, query)
	if emb == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "embedding backend unavailable")
	}

	matches := s.deps.Vectors.Search(emb, topK)
	if matches == nil {
		matches = []vector.Match{}
	}
	return c.JSON(http.StatusOK, map[string]any{"matches": matches})
}
