package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// ShellExecuteRequest is the body of POST /shell/execute.
type ShellExecuteRequest struct {
	Command string `json:"command"`
}

// shellStatsHandler handles GET /shell/stats.
func (s *Server) shellStatsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Shell.Stats())
}

// shellExecuteHandler handles POST /shell/execute. Rejections are not HTTP
// errors: the structured result carries the verdict.
func (s *Server) shellExecuteHandler(c *echo.Context) error {
	var req ShellExecuteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	if req.Command == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "command is required")
	}

	result := s.deps.Shell.Execute(c.Request().Context(), req.Command)
	return c.JSON(http.StatusOK, result)
}
