// Package gateway is the single logical LLM call surface. Every call passes
// through budget admission, a per-operation token bucket, the response
// cache, the circuit breaker and the transient-failure retry loop before
// reaching the model backend.
//
// The gateway never surfaces errors to callers: a chat call that fails at
// any stage returns the empty string, an embed call returns nil. Step logic
// upstream treats empty as "LLM unavailable" and falls through to the
// fallback cache.
package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/anima-runtime/anima/pkg/budget"
	"github.com/anima-runtime/anima/pkg/config"
	"github.com/anima-runtime/anima/pkg/metrics"
	"github.com/anima-runtime/anima/pkg/version"
)

// Operation names for the per-operation rate limiters.
const (
	OpChat  = "chat"
	OpEmbed = "embed"
)

// transientMarkers classify a failure as retryable when its message
// contains any of these substrings.
var transientMarkers = []string{"connection", "timeout", "network"}

// Gateway is the composite LLM call path. Construct with New; all fields
// are process-wide singletons mutated only through their own methods.
type Gateway struct {
	backend backend

	cache        *expirable.LRU[string, string]
	chatLimiter  *rate.Limiter
	embedLimiter *rate.Limiter
	breaker      *gobreaker.CircuitBreaker
	budget       *budget.Tracker
	retry        *config.RetryConfig
	metrics      *metrics.Metrics
	logger       *slog.Logger

	callsThisTick atomic.Int64

	statsMu sync.Mutex
	stats   Stats
}

// backend abstracts the HTTP model client for testing.
type backend interface {
	chat(ctx context.Context, system, user string) (string, error)
	embed(ctx context.Context, text string) ([]float32, error)
}

// Stats is the gateway's cumulative counter snapshot for /status.
type Stats struct {
	ChatCalls     int    `json:"chat_calls"`
	EmbedCalls    int    `json:"embed_calls"`
	CacheHits     int    `json:"cache_hits"`
	CacheMisses   int    `json:"cache_misses"`
	Failures      int    `json:"failures"`
	CircuitOpen   int    `json:"circuit_open_rejections"`
	BreakerState  string `json:"breaker_state"`
	CallsThisTick int64  `json:"calls_this_tick"`
}

// New wires the gateway against the Ollama backend.
func New(
	ollama *config.OllamaConfig,
	cacheCfg *config.CacheConfig,
	rl *config.RateLimitConfig,
	br *config.BreakerConfig,
	retry *config.RetryConfig,
	tracker *budget.Tracker,
	m *metrics.Metrics,
) *Gateway {
	g := &Gateway{
		backend: newOllamaClient(ollama, &http.Client{
			Timeout: ollama.Timeout(),
			Transport: &http.Transport{
				MaxIdleConns:        8,
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
			},
		}),
		cache:        expirable.NewLRU[string, string](cacheCfg.MaxSize, nil, cacheCfg.TTL()),
		chatLimiter:  rate.NewLimiter(rate.Limit(rl.ChatRate), rl.ChatBurst),
		embedLimiter: rate.NewLimiter(rate.Limit(rl.EmbedRate), rl.EmbedBurst),
		budget:       tracker,
		retry:        retry,
		metrics:      m,
		logger:       slog.Default().With("component", "gateway"),
	}

	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ollama",
		MaxRequests: uint32(br.SuccessThreshold),
		Timeout:     br.RecoveryTimeout(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(br.FailureThreshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.logger.Warn("Circuit breaker state change",
				"backend", name, "from", from.String(), "to", to.String())
			if g.metrics != nil {
				g.metrics.BreakerState.Set(breakerStateValue(to))
			}
		},
	})

	return g
}

// Chat sends a system+user prompt pair through the full call path and
// returns the model's reply, or the empty string on any failure.
func (g *Gateway) Chat(ctx context.Context, pri budget.Priority, system, user string) string {
	if !g.budget.CanExecute(pri, 1, 0) {
		g.logger.Warn("LLM call refused by budget", "priority", pri.String(), "operation", OpChat)
		g.budget.RecordSkip(pri, "llm budget exhausted")
		return ""
	}

	if err := g.chatLimiter.Wait(ctx); err != nil {
		g.logger.Warn("Rate limiter wait aborted", "operation", OpChat, "error", err)
		return ""
	}

	key := cacheKey(system, user)
	if cached, ok := g.cache.Get(key); ok {
		g.countCacheHit()
		// A cached reply is a success that consumed no backend budget,
		// but it still counts as an LLM call for the per-tick ledger.
		g.callsThisTick.Add(1)
		return cached
	}
	g.countCacheMiss()

	start := time.Now()
	g.callsThisTick.Add(1)

	reply, err := g.execute(ctx, OpChat, func(ctx context.Context) (any, error) {
		return g.backend.chat(ctx, system, user)
	})
	dur := time.Since(start)
	g.budget.RecordUsage(pri, 1, dur)
	g.countCall(OpChat)

	if err != nil {
		return ""
	}
	text, _ := reply.(string)
	if text != "" {
		g.cache.Add(key, text)
	}
	return text
}

// Embed produces an embedding for text, or nil on any failure.
func (g *Gateway) Embed(ctx context.Context, pri budget.Priority, text string) []float32 {
	if !g.budget.CanExecute(pri, 1, 0) {
		g.logger.Warn("LLM call refused by budget", "priority", pri.String(), "operation", OpEmbed)
		g.budget.RecordSkip(pri, "llm budget exhausted")
		return nil
	}

	if err := g.embedLimiter.Wait(ctx); err != nil {
		g.logger.Warn("Rate limiter wait aborted", "operation", OpEmbed, "error", err)
		return nil
	}

	start := time.Now()
	g.callsThisTick.Add(1)

	result, err := g.execute(ctx, OpEmbed, func(ctx context.Context) (any, error) {
		return g.backend.embed(ctx, text)
	})
	g.budget.RecordUsage(pri, 1, time.Since(start))
	g.countCall(OpEmbed)

	if err != nil {
		return nil
	}
	emb, _ := result.([]float32)
	return emb
}

// TryAcquire is the non-blocking rate-limiter probe for callers that would
// rather skip work than wait for a token.
func (g *Gateway) TryAcquire(operation string) bool {
	switch operation {
	case OpChat:
		return g.chatLimiter.Allow()
	case OpEmbed:
		return g.embedLimiter.Allow()
	default:
		return false
	}
}

// execute runs call through the circuit breaker and, inside it, the
// transient-failure retry loop.
func (g *Gateway) execute(ctx context.Context, operation string, call func(ctx context.Context) (any, error)) (any, error) {
	result, err := g.breaker.Execute(func() (any, error) {
		return g.callWithRetry(ctx, operation, call)
	})
	if err == nil {
		if g.metrics != nil {
			g.metrics.LLMCalls.WithLabelValues(operation, "success").Inc()
		}
		return result, nil
	}

	g.countFailure()
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		g.countCircuitOpen()
		g.logger.Warn("LLM call rejected, circuit open", "operation", operation)
		if g.metrics != nil {
			g.metrics.LLMFailures.WithLabelValues(operation, "circuit_open").Inc()
		}
		return nil, err
	}

	g.logger.Error("LLM call failed", "operation", operation, "error", err)
	if g.metrics != nil {
		g.metrics.LLMCalls.WithLabelValues(operation, "failure").Inc()
		g.metrics.LLMFailures.WithLabelValues(operation, failureKind(err)).Inc()
	}
	return nil, err
}

// callWithRetry retries transient failures with exponential backoff,
// sleeping base * 2^attempt between attempts. Non-transient failures
// surface immediately.
func (g *Gateway) callWithRetry(ctx context.Context, operation string, call func(ctx context.Context) (any, error)) (any, error) {
	var lastErr error
	for attempt := 0; attempt < g.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := g.retry.BaseDelay() * (1 << attempt)
			g.logger.Warn("Retrying LLM call after transient failure",
				"operation", operation, "attempt", attempt, "delay", delay.String(), "error", lastErr)
			if g.metrics != nil {
				g.metrics.LLMRetries.Inc()
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, err := call(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !isTransient(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

// ResetTickCounter zeroes the per-tick call counter. Called by the
// orchestrator at the start of every heavy tick (Phase A).
func (g *Gateway) ResetTickCounter() {
	g.callsThisTick.Store(0)
}

// CallsThisTick returns the number of LLM calls issued since the last reset.
func (g *Gateway) CallsThisTick() int64 {
	return g.callsThisTick.Load()
}

// BreakerState returns the current circuit breaker state name.
func (g *Gateway) BreakerState() string {
	return g.breaker.State().String()
}

// Stats returns the cumulative counter snapshot.
func (g *Gateway) Stats() Stats {
	g.statsMu.Lock()
	s := g.stats
	g.statsMu.Unlock()
	s.BreakerState = g.breaker.State().String()
	s.CallsThisTick = g.callsThisTick.Load()
	return s
}

func (g *Gateway) countCall(operation string) {
	g.statsMu.Lock()
	defer g.statsMu.Unlock()
	switch operation {
	case OpChat:
		g.stats.ChatCalls++
	case OpEmbed:
		g.stats.EmbedCalls++
	}
}

func (g *Gateway) countCacheHit() {
	g.statsMu.Lock()
	g.stats.CacheHits++
	g.stats.ChatCalls++
	g.statsMu.Unlock()
	if g.metrics != nil {
		g.metrics.CacheHits.Inc()
		g.metrics.LLMCalls.WithLabelValues(OpChat, "cached").Inc()
	}
}

func (g *Gateway) countCacheMiss() {
	g.statsMu.Lock()
	g.stats.CacheMisses++
	g.statsMu.Unlock()
	if g.metrics != nil {
		g.metrics.CacheMisses.Inc()
	}
}

func (g *Gateway) countFailure() {
	g.statsMu.Lock()
	g.stats.Failures++
	g.statsMu.Unlock()
}

func (g *Gateway) countCircuitOpen() {
	g.statsMu.Lock()
	g.stats.CircuitOpen++
	g.statsMu.Unlock()
}

func cacheKey(system, user string) string {
	h := sha256.New()
	h.Write([]byte(system))
	h.Write([]byte{0})
	h.Write([]byte(user))
	return hex.EncodeToString(h.Sum(nil))
}

func isTransient(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func failureKind(err error) string {
	if isTransient(err) {
		return "transient"
	}
	return "persistent"
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// UserAgent is sent on every backend request.
var UserAgent = version.Full()
