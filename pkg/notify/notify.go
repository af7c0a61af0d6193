// Package notify delivers optional Slack notifications for the handful of
// events a remote operator cares about: milestones, health degradation and
// self-modification rollbacks. Everything is fail-open; a Slack outage never
// touches the cognitive loop.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	goslack "github.com/slack-go/slack"

	"github.com/anima-runtime/anima/pkg/bus"
	"github.com/anima-runtime/anima/pkg/config"
	"github.com/anima-runtime/anima/pkg/selfmod"
)

const postTimeout = 10 * time.Second

// Service posts to a single Slack channel.
// Nil-safe: all methods are no-ops when service is nil.
type Service struct {
	api     *goslack.Client
	channel string
	logger  *slog.Logger
}

// New builds a Service from config, resolving the bot token from the
// environment variable the config names. Returns nil when notifications are
// disabled or the token or channel is missing.
func New(cfg *config.NotifyConfig) *Service {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	token := os.Getenv(cfg.TokenEnv)
	if token == "" || cfg.Channel == "" {
		slog.Default().Warn("Notifications enabled but token or channel missing",
			"token_env", cfg.TokenEnv, "channel", cfg.Channel)
		return nil
	}
	return &Service{
		api:     goslack.New(token),
		channel: cfg.Channel,
		logger:  slog.Default().With("component", "notify"),
	}
}

// NewWithAPIURL builds a Service that targets a custom Slack API URL.
// Useful for testing with a mock server.
func NewWithAPIURL(token, channel, apiURL string) *Service {
	return &Service{
		api:     goslack.New(token, goslack.OptionAPIURL(apiURL)),
		channel: channel,
		logger:  slog.Default().With("component", "notify"),
	}
}

// Register subscribes the service to the bus topics it reports on.
func (s *Service) Register(b *bus.Bus) {
	if s == nil {
		return
	}
	b.Subscribe(bus.TopicMilestoneAchieved, func(ctx context.Context, ev bus.Event) {
		name, _ := ev.Payload["name"].(string)
		desc, _ := ev.Payload["desc"].(string)
		s.post(ctx, fmt.Sprintf(":tada: Milestone achieved: *%s* (%s)", name, desc))
	})
	b.Subscribe(bus.TopicHealthChanged, func(ctx context.Context, ev bus.Event) {
		healthy, _ := ev.Payload["healthy"].(bool)
		if healthy {
			return
		}
		service, _ := ev.Payload["service"].(string)
		s.post(ctx, fmt.Sprintf(":warning: Service degraded: *%s* is unhealthy", service))
	})
}

// ModificationResolved reports the outcome of a closed monitoring window.
// Only rollbacks are worth waking an operator for.
func (s *Service) ModificationResolved(p selfmod.Proposal) {
	if s == nil || p.Status != selfmod.StatusRolledBack {
		return
	}
	s.post(context.Background(), fmt.Sprintf(
		":rewind: Modification rolled back: `%s` restored to %.2f (%s)",
		p.Key, p.OldValue, p.Verification))
}

// post sends one plain-text message. Errors are logged, never returned.
func (s *Service) post(ctx context.Context, text string) {
	ctx, cancel := context.WithTimeout(ctx, postTimeout)
	defer cancel()

	_, _, err := s.api.PostMessageContext(ctx, s.channel,
		goslack.MsgOptionText(text, false))
	if err != nil {
		s.logger.Error("Slack post failed", "error", err)
		return
	}
	s.logger.Debug("Slack notification sent", "text", text)
}
