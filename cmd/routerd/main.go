package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/h1v3-io/agentrouter/internal/agent"
	"github.com/h1v3-io/agentrouter/internal/api"
	"github.com/h1v3-io/agentrouter/internal/config"
	"github.com/h1v3-io/agentrouter/internal/kb"
	"github.com/h1v3-io/agentrouter/internal/logbuf"
	"github.com/h1v3-io/agentrouter/internal/provider"
	"github.com/h1v3-io/agentrouter/internal/scheduler"
	"github.com/h1v3-io/agentrouter/internal/store"
	"github.com/h1v3-io/agentrouter/internal/tool"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (YAML or JSON); environment is used when empty")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	// Load config (file or env)
	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}

	logLevel := slog.LevelInfo
	if cfg != nil && cfg.Log.Level != "" {
		logLevel = logbuf.ParseLevel(cfg.Log.Level)
	}
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logBuf := logbuf.New(2000)
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(logbuf.NewHandler(jsonHandler, logBuf))
	slog.SetDefault(logger)

	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	gin.SetMode(gin.ReleaseMode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := newApp(ctx, cfg, logger, logBuf)
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer app.close()

	logger.Info("routerd starting",
		"model", cfg.OpenAI.Model,
		"storage", cfg.Storage.Type,
		"kb", cfg.KB.Path,
		"runner", app.runner != nil,
	)

	if cfg.Scheduler.FollowupSweep != "" {
		go safeGo(logger, "scheduler", func() { app.sched.Start(ctx) })
	}
	serverDone := make(chan struct{})
	go safeGo(logger, "api-server", func() {
		defer close(serverDone)
		if err := app.server.Start(ctx); err != nil {
			logger.Error("api server failed", "error", err)
			cancel()
		}
	})

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig)
	case <-ctx.Done():
	}
	cancel()
	select {
	case <-serverDone:
	case <-time.After(10 * time.Second):
		logger.Warn("api server did not stop in time")
	}
	logger.Info("routerd stopped")
}

// app holds the wired components of a running daemon.
type app struct {
	engine *kb.Engine
	store  store.Store
	runner *agent.Orchestrator // nil without an API key
	sched  *scheduler.Scheduler
	server *api.Server
}

// newApp opens the knowledge engine and store and wires the orchestrator,
// sweep and HTTP server. It does not start anything.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, logs api.LogQuerier) (*app, error) {
	engine := kb.NewEngine(cfg.KB.Path)
	if _, err := engine.Entries(); err != nil {
		// The source is re-read on every search, so it may appear later.
		logger.Warn("knowledge source not loadable yet", "path", cfg.KB.Path, "error", err)
	}

	st, err := store.Open(ctx, store.Options{
		Kind:   store.Kind(cfg.Storage.Type),
		File:   cfg.Storage.File,
		Driver: cfg.Storage.Driver,
		DSN:    cfg.Storage.DSN(),
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	a := &app{engine: engine, store: st}

	if cfg.HasAPIKey() {
		opts := []provider.OpenAIOption{
			provider.WithModel(cfg.OpenAI.Model),
			provider.WithTimeout(time.Duration(cfg.OpenAI.TimeoutSeconds) * time.Second),
		}
		if cfg.OpenAI.BaseURL != "" {
			opts = append(opts, provider.WithBaseURL(cfg.OpenAI.BaseURL))
		}
		prov := provider.NewOpenAI(cfg.OpenAI.APIKey, opts...)

		orch := agent.New(prov, tool.NewDefaultRegistry(engine, st))
		orch.Logger = logger.With("component", "agent")
		orch.MaxIterations = cfg.Agent.MaxIterations
		a.runner = orch
	} else {
		logger.Error("OpenAI client not initialized, agent runs will be refused. Check OPENAI_API_KEY environment variable.")
	}

	a.sched = scheduler.New(st, logger)
	if cfg.Scheduler.FollowupSweep != "" {
		if err := a.sched.Schedule(cfg.Scheduler.FollowupSweep); err != nil {
			st.Close()
			return nil, err
		}
	}

	// A typed nil would make the server believe a runner exists.
	var runner api.Runner
	if a.runner != nil {
		runner = a.runner
	}
	a.server = api.NewServer(runner, st, api.Config{Host: cfg.API.Host, Port: cfg.API.Port}, logger, logs)
	return a, nil
}

func (a *app) close() {
	a.store.Close()
}

// safeGo runs fn with panic recovery.
func safeGo(logger *slog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("goroutine panicked", "name", name, "panic", fmt.Sprintf("%v", r))
		}
	}()
	fn()
}
