// Command voicebridge runs the live phone-call bridge between the telephony
// media stream and the ElevenLabs conversational agent.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/rentline/voicebridge/internal/agent"
	"github.com/rentline/voicebridge/internal/bridge"
	"github.com/rentline/voicebridge/internal/config"
	"github.com/rentline/voicebridge/internal/directory"
	"github.com/rentline/voicebridge/internal/greeting"
	"github.com/rentline/voicebridge/internal/health"
	"github.com/rentline/voicebridge/internal/observe"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	migrate := flag.Bool("migrate", false, "run directory schema migration on startup")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voicebridge: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voicebridge: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voicebridge starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "voicebridge",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Caller directory ──────────────────────────────────────────────────────
	var pool *pgxpool.Pool
	var store directory.Store
	if cfg.Directory.PostgresDSN != "" {
		pool, err = pgxpool.New(ctx, cfg.Directory.PostgresDSN)
		if err != nil {
			slog.Error("failed to create directory pool", "err", err)
			return 1
		}
		defer pool.Close()

		pg := directory.NewPostgresStore(pool)
		if *migrate {
			if err := pg.Migrate(ctx); err != nil {
				slog.Error("directory migration failed", "err", err)
				return 1
			}
			slog.Info("directory schema migrated")
		}
		store = pg
	} else {
		slog.Warn("no directory configured, all callers resolve as new")
	}
	resolver := directory.NewResolver(store, cfg.Directory.DefaultRegion)

	// ── Agent provider ────────────────────────────────────────────────────────
	var agentOpts []agent.Option
	if cfg.Agent.APIBaseURL != "" {
		agentOpts = append(agentOpts, agent.WithAPIBaseURL(cfg.Agent.APIBaseURL))
	}
	provider := agent.New(cfg.Agent.APIKey, cfg.Agent.AgentID, agentOpts...)

	// ── Post-call hook ────────────────────────────────────────────────────────
	notifier := bridge.NewNotifier(cfg.PostCall.URL, cfg.PostCall.Timeout, metrics, logger)

	// ── HTTP routes ───────────────────────────────────────────────────────────
	streamHandler := bridge.NewHandler(bridge.SessionParams{
		Resolver: resolver,
		Dial: func(ctx context.Context, gc greeting.SessionConfig, info agent.CallInfo) (bridge.AgentSession, error) {
			return provider.Connect(ctx, gc, info)
		},
		PostCall:           notifier.Notify,
		Metrics:            metrics,
		Logger:             logger,
		ConnectTimeout:     cfg.Agent.ConnectTimeout,
		DownlinkQueueDepth: cfg.Audio.DownlinkQueueDepth,
		UplinkHoldDepth:    cfg.Audio.UplinkHoldDepth,
	})

	streamPath := cfg.Server.StreamPath
	if streamPath == "" {
		streamPath = "/media-stream"
	}

	var dirPinger health.Pinger
	if pool != nil {
		dirPinger = pool
	}

	mux := http.NewServeMux()
	mux.Handle("GET "+streamPath, streamHandler)
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(health.Directory(dirPinger)).Register(mux)

	srv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: mux,
	}

	slog.Info("server ready",
		"stream_path", streamPath,
		"tls", cfg.Server.TLS != nil)

	// ── Serve until signalled ─────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if cfg.Server.TLS != nil {
			err = srv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping…")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
