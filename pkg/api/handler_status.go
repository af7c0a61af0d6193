package api

import (
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/anima-runtime/anima/pkg/gateway"
	"github.com/anima-runtime/anima/pkg/version"
)

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Version     string        `json:"version"`
	Tick        int64         `json:"tick"`
	Mood        string        `json:"mood"`
	Valence     float64       `json:"valence"`
	WorldFiles  int           `json:"world_files"`
	Connections int           `json:"ws_connections"`
	Gateway     gateway.Stats `json:"gateway"`
	Healthy     bool          `json:"healthy"`
}

// statusHandler handles GET /status.
func (s *Server) statusHandler(c *echo.Context) error {
	emotions := s.deps.Mind.Emotions.Snapshot()
	resp := StatusResponse{
		Version: version.Full(),
		Mood:    emotions.Mood,
		Valence: emotions.Valence,
		Gateway: s.deps.LLM.Stats(),
		Healthy: true,
	}
	if s.deps.Ticker != nil {
		resp.Tick = s.deps.Ticker.Tick()
	}
	if s.deps.World != nil {
		resp.WorldFiles = s.deps.World.FileCount()
	}
	if s.deps.Hub != nil {
		resp.Connections = s.deps.Hub.ActiveConnections()
	}
	if s.deps.Health != nil {
		for _, st := range s.deps.Health.Statuses() {
			if !st.Healthy {
				resp.Healthy = false
			}
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// HealthServiceItem is one service entry in GET /health.
type HealthServiceItem struct {
	Healthy             bool    `json:"healthy"`
	LatencyMs           float64 `json:"latency_ms"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
	LastCheck           string  `json:"last_check"`
	LastError           string  `json:"last_error,omitempty"`
}

// healthHandler handles GET /health. 503 when any monitored service is
// unhealthy.
func (s *Server) healthHandler(c *echo.Context) error {
	services := map[string]HealthServiceItem{}
	healthy := true
	if s.deps.Health != nil {
		for name, st := range s.deps.Health.Statuses() {
			services[name] = HealthServiceItem{
				Healthy:             st.Healthy,
				LatencyMs:           float64(st.LastLatency) / float64(time.Millisecond),
				ConsecutiveFailures: st.ConsecutiveFailures,
				LastCheck:           st.LastCheck.Format(time.RFC3339),
				LastError:           st.LastError,
			}
			if !st.Healthy {
				healthy = false
			}
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, map[string]any{
		"healthy":  healthy,
		"services": services,
	})
}

// memoryHandler handles GET /memory: store sizes and fallback-cache entry
// metadata.
func (s *Server) memoryHandler(c *echo.Context) error {
	resp := map[string]any{
		"episodes": s.deps.Episodes.Count(),
		"vectors":  s.deps.Vectors.Count(),
	}
	if s.deps.Fallback != nil {
		resp["fallback"] = s.deps.Fallback.Snapshot()
	}
	return c.JSON(http.StatusOK, resp)
}

// evolutionHandler handles GET /evolution: the long-run growth view across
// identity, values and milestones.
func (s *Server) evolutionHandler(c *echo.Context) error {
	m := s.deps.Mind
	sm := m.SelfModel.Snapshot()
	return c.JSON(http.StatusOK, map[string]any{
		"identity_version": sm.Version,
		"principles":       sm.Principles,
		"skills":           sm.Skills,
		"values":           m.Values.Snapshot(),
		"goals_completed":  m.Strategy.Snapshot().GoalsCompleted,
		"milestones":       m.Milestones.Snapshot(),
	})
}
