package api

import (
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/anima-runtime/anima/pkg/social"
	"github.com/anima-runtime/anima/pkg/statefile"
)

// ChatSendRequest is the body of POST /chat/send. The message lands in the
// inbox file and is picked up by the next light tick.
type ChatSendRequest struct {
	Message string `json:"message"`
	Urgent  bool   `json:"urgent,omitempty"`
}

// chatSendHandler handles POST /chat/send.
func (s *Server) chatSendHandler(c *echo.Context) error {
	var req ChatSendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	text := strings.TrimSpace(req.Message)
	if text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message is required")
	}
	if req.Urgent {
		text = "!URGENT " + text
	}

	if err := statefile.AppendLine(s.deps.InboxPath, text); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to write inbox")
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "queued"})
}

// chatOutboxHandler handles GET /chat/outbox.
func (s *Server) chatOutboxHandler(c *echo.Context) error {
	entries, err := social.ParseOutbox(s.deps.OutboxPath)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to read outbox")
	}
	if entries == nil {
		entries = []social.OutboxEntry{}
	}
	return c.JSON(http.StatusOK, map[string]any{"messages": entries})
}
