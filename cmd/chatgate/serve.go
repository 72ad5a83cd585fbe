package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/szaher/chatgate/internal/cache"
	"github.com/szaher/chatgate/internal/config"
	"github.com/szaher/chatgate/internal/gateway"
	"github.com/szaher/chatgate/internal/llm"
	"github.com/szaher/chatgate/internal/ratelimit"
	"github.com/szaher/chatgate/internal/session"
	"github.com/szaher/chatgate/internal/store"
	"github.com/szaher/chatgate/internal/telegram"
	"github.com/szaher/chatgate/internal/telemetry"
)

const quotaMirrorTTL = 24 * time.Hour

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot daemon",
		Long: `Serve starts the update poller, the completion gateway, the admin
listener, and the background maintenance jobs, then runs until
interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Telegram.Token == "" {
		return errors.New("telegram bot token is required (set TELEGRAM_BOT_TOKEN)")
	}

	level := parseLogLevel(cfg.LogLevel)
	if verbose {
		level = slog.LevelDebug
	}
	logger := telemetry.NewLogger(os.Stderr, level)

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	client, model := llm.NewClientForModel(cfg.Model.Name, cfg.Model.BaseURL, cfg.Model.APIKey)
	logger.Info("remote service configured", "model", model, "base_url", cfg.Model.BaseURL)

	limits := config.NewLimits(cfg.Limits)
	responses := cache.NewResponseCache(cfg.Limits.ResponseCacheSize)
	quota := cache.NewQuotaMirror(quotaMirrorTTL)
	limiter := ratelimit.New(ratelimit.Config{
		Capacity: cfg.Limits.RateCapacity,
		Window:   time.Duration(cfg.Limits.RateWindowSeconds) * time.Second,
	})

	gw, err := gateway.New(st, client, responses, quota, limits, gateway.Options{
		Model:            model,
		Temperature:      cfg.Model.Temperature,
		HistoryTurns:     cfg.Limits.HistoryTurns,
		ShortPromptChars: cfg.Limits.ShortPromptChars,
		Timeout:          time.Duration(cfg.Limits.RequestTimeoutSeconds) * time.Second,
		SystemPrompt:     cfg.Limits.SystemPrompt,
		Logger:           logger,
	})
	if err != nil {
		return fmt.Errorf("building gateway: %w", err)
	}

	tg := telegram.NewClient(cfg.Telegram.Token)
	orch, err := session.NewOrchestrator(gw, st, limiter, tg, logger)
	if err != nil {
		return fmt.Errorf("building orchestrator: %w", err)
	}
	poller := telegram.NewPoller(tg, orch, logger)

	maintenance := cron.New()
	if _, err := maintenance.AddFunc("@every 5m", func() {
		limiter.Sweep(time.Now())
		quota.Sweep()
	}); err != nil {
		return fmt.Errorf("scheduling maintenance: %w", err)
	}
	maintenance.Start()
	defer maintenance.Stop()

	admin := &http.Server{Addr: cfg.Admin.Addr, Handler: telemetry.AdminHandler()}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("poller starting")
		err := poller.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		logger.Info("admin listener starting", "addr", cfg.Admin.Addr)
		if err := admin.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return admin.Shutdown(shutdownCtx)
	})
	if configFile != "" {
		g.Go(func() error {
			if err := config.Watch(ctx, configFile, limits, logger); err != nil && !errors.Is(err, context.Canceled) {
				// Hot reload is a convenience; its failure is not fatal.
				logger.Warn("config watcher stopped", "error", err)
			}
			return nil
		})
	}

	logger.Info("chatgate serving", "version", version)
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// openStore picks Postgres when a DSN is configured, otherwise the
// in-memory store. The in-memory store loses history on restart; it is
// meant for development.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Store, error) {
	if cfg.Database.DSN == "" {
		logger.Warn("no database DSN configured, using in-memory store")
		return store.NewMemory(), nil
	}
	pg, err := store.NewPostgres(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	logger.Info("database connected")
	return pg, nil
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
