// Anima runtime: the two-frequency cognitive loop, the introspection
// HTTP surface and the supporting memory stores.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/anima-runtime/anima/pkg/api"
	"github.com/anima-runtime/anima/pkg/budget"
	"github.com/anima-runtime/anima/pkg/bus"
	"github.com/anima-runtime/anima/pkg/config"
	"github.com/anima-runtime/anima/pkg/episodic"
	"github.com/anima-runtime/anima/pkg/fallback"
	"github.com/anima-runtime/anima/pkg/gateway"
	"github.com/anima-runtime/anima/pkg/health"
	"github.com/anima-runtime/anima/pkg/metrics"
	"github.com/anima-runtime/anima/pkg/mind"
	"github.com/anima-runtime/anima/pkg/notify"
	"github.com/anima-runtime/anima/pkg/selfmod"
	"github.com/anima-runtime/anima/pkg/shell"
	"github.com/anima-runtime/anima/pkg/social"
	"github.com/anima-runtime/anima/pkg/tick"
	"github.com/anima-runtime/anima/pkg/vector"
	"github.com/anima-runtime/anima/pkg/version"
	"github.com/anima-runtime/anima/pkg/world"
)

const shutdownTimeout = 15 * time.Second

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config",
		getEnv("ANIMA_CONFIG_DIR", "./config"),
		"Path to configuration directory")
	dataDir := flag.String("data",
		getEnv("ANIMA_DATA_DIR", "."),
		"Working directory for memory, logs and the sandbox")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Debug("No .env file, continuing with existing environment", "path", envPath)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(os.Getenv("LOG_LEVEL")),
	})))

	slog.Info("Starting anima",
		"version", version.Full(),
		"config_dir", *configDir,
		"data_dir", *dataDir)

	ctx := context.Background()

	// 1. Configuration. A missing file means full defaults; a broken file
	// is the only fatal startup error.
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}
	if cfg.Shell.AllowedDir == "." {
		cfg.Shell.AllowedDir = cfg.Paths.SandboxDir
	}
	if !filepath.IsAbs(cfg.Shell.AllowedDir) {
		cfg.Shell.AllowedDir = filepath.Join(*dataDir, cfg.Shell.AllowedDir)
	}
	if err := os.MkdirAll(cfg.Shell.AllowedDir, 0o755); err != nil {
		slog.Error("Failed to create sandbox directory", "error", err)
		os.Exit(1)
	}
	memDir := filepath.Join(*dataDir, cfg.Memory.Dir)

	// 2. Episodic memory.
	episodes, err := episodic.Open(filepath.Join(memDir, "episodic.db"))
	if err != nil {
		slog.Error("Failed to open episodic store", "error", err)
		os.Exit(1)
	}
	defer closeQuietly("episodic", episodes.Close)

	// 3. Vector memory.
	vectors, err := vector.Open(filepath.Join(memDir, "vector.db"), cfg.Memory.EmbeddingDim)
	if err != nil {
		slog.Error("Failed to open vector store", "error", err)
		os.Exit(1)
	}
	defer closeQuietly("vector", vectors.Close)

	// 4. Event bus, metrics, gateway, budget.
	b := bus.New()
	m := metrics.New()
	episodes.SetOnEpisode(m.Episodes.Inc)
	tracker := budget.New(cfg.Budget)
	llm := gateway.New(cfg.Ollama, cfg.Cache, cfg.RateLimit, cfg.Breaker, cfg.Retry, tracker, m)
	fb := fallback.New()

	// 5. Runtime-tunable config view and cognitive components. The mind
	// reads the mutable attention/curiosity keys through the runtime view.
	runtime := config.NewRuntime(cfg)
	runtime.SetOnModified(func(key string, oldValue, newValue float64) {
		b.Publish(ctx, bus.TopicConfigModified, map[string]any{
			"key":       key,
			"old_value": oldValue,
			"new_value": newValue,
		})
	})

	mnd, err := mind.New(memDir, cfg, runtime, b, llm)
	if err != nil {
		slog.Error("Failed to initialize mind", "error", err)
		os.Exit(1)
	}

	// 6. World model and optional filesystem watcher.
	model := world.NewModel(b)
	var watcher *world.Watcher
	if cfg.Watcher.Enabled {
		root := cfg.Watcher.Dir
		if !filepath.IsAbs(root) {
			root = filepath.Join(*dataDir, root)
		}
		watcher = world.NewWatcher(root, b, model,
			cfg.Memory.Dir, cfg.Paths.LogsDir)
		if err := watcher.Start(ctx); err != nil {
			slog.Warn("Filesystem watcher failed to start, continuing without it", "error", err)
			watcher = nil
		}
	}

	// 7. Health monitor: ollama and episodic probes. Transitions go out on
	// the bus for the WebSocket hub and the notifier.
	monitor := health.New(cfg.Health.CheckInterval(), cfg.Health.FailureThreshold)
	monitor.Register("ollama", ollamaProbe(cfg.Ollama.BaseURL), 2*time.Second)
	monitor.Register("episodic", episodes.Healthy, 500*time.Millisecond)
	monitor.AddListener(func(service string, healthy bool, latency time.Duration) {
		b.Publish(ctx, bus.TopicHealthChanged, map[string]any{
			"service":    service,
			"healthy":    healthy,
			"latency_ms": latency.Milliseconds(),
		})
	})
	monitor.Start(ctx)
	defer monitor.Stop()

	// 8. Shell executor.
	executor, err := shell.New(cfg.Shell, episodes, m)
	if err != nil {
		slog.Error("Failed to initialize shell executor", "error", err)
		os.Exit(1)
	}

	// 9. Self-modification proposals over the runtime view.
	mods := selfmod.New(filepath.Join(memDir, "modifications.json"), runtime)
	if err := mods.Load(); err != nil {
		slog.Warn("Could not load modification history, starting empty", "error", err)
	}

	// 10. Social responder and Slack notifier.
	outboxPath := filepath.Join(*dataDir, cfg.Paths.Outbox)
	soc := social.New(outboxPath, cfg.Social, llm, episodes)
	soc.Register(b)

	notifier := notify.New(cfg.Notify)
	notifier.Register(b)
	mods.SetOnResolved(notifier.ModificationResolved)

	// 11. Introspection server, non-blocking.
	inboxPath := filepath.Join(*dataDir, cfg.Paths.Inbox)
	orch, err := tick.New(tick.Deps{
		Cfg:      cfg,
		Runtime:  runtime,
		Bus:      b,
		Gateway:  llm,
		Fallback: fb,
		Budget:   tracker,
		Episodes: episodes,
		Vectors:  vectors,
		Mind:     mnd,
		World:    model,
		Shell:    executor,
		SelfMod:  mods,
		Social:   soc,
		Health:   monitor,
		Metrics:  m,
		DataDir:  *dataDir,
	})
	if err != nil {
		slog.Error("Failed to initialize orchestrator", "error", err)
		os.Exit(1)
	}

	server := api.NewServer(api.Deps{
		Cfg:        cfg,
		Mind:       mnd,
		Episodes:   episodes,
		Vectors:    vectors,
		LLM:        llm,
		Shell:      executor,
		SelfMod:    mods,
		Health:     monitor,
		Metrics:    m,
		Fallback:   fb,
		World:      model,
		Hub:        api.NewHub(b),
		Ticker:     orch,
		InboxPath:  inboxPath,
		OutboxPath: outboxPath,
		MemDir:     memDir,
	})
	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.Server.Addr); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// 12. Tickers, light first so urgent messages queue before the first
	// heavy cycle.
	light := tick.NewLightTicker(
		cfg.Ticks.LightInterval(),
		inboxPath,
		filepath.Join(memDir, "state.json"),
		filepath.Join(memDir, "snapshots"),
		filepath.Join(*dataDir, cfg.Paths.LogsDir, "actions.log"),
		cfg.Memory.SnapshotKeep,
		b,
	)
	light.Start(ctx)
	orch.Start(ctx)

	slog.Info("Anima is awake", "addr", cfg.Server.Addr,
		"light_tick", cfg.Ticks.LightInterval(), "heavy_tick", cfg.Ticks.HeavyInterval())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGTERM, syscall.SIGINT)
	select {
	case s := <-sig:
		slog.Info("Received signal, shutting down", "signal", s.String())
	case err := <-serverErr:
		slog.Error("Introspection server failed, shutting down", "error", err)
	}

	// Reverse-order stop: loops first, transport next, stores via defers.
	orch.Stop()
	light.Stop()
	if watcher != nil {
		watcher.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown error", "error", err)
	}

	slog.Info("Anima is asleep")
}

// parseLogLevel maps the LOG_LEVEL environment value to a slog level.
// Unknown or empty values select info.
func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ollamaProbe checks the Ollama root endpoint, which answers any GET while
// the daemon is up.
func ollamaProbe(baseURL string) health.Probe {
	client := &http.Client{Timeout: 5 * time.Second}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/", nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		return nil
	}
}

func closeQuietly(name string, fn func() error) {
	if err := fn(); err != nil {
		slog.Error("Close failed", "store", name, "error", err)
	}
}
