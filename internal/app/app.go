// Package app aggregates configuration into the wired dependency graph the
// CLI commands run.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"stock-count-alerts/internal/alerting"
	"stock-count-alerts/internal/bot"
	"stock-count-alerts/internal/config"
	"stock-count-alerts/internal/extractor"
	"stock-count-alerts/internal/httpapi"
	"stock-count-alerts/internal/monitor"
	"stock-count-alerts/internal/scheduler"
	"stock-count-alerts/internal/scraper"
	"stock-count-alerts/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, errors.New("database.dsn 必须配置")
	}

	pool, err := storage.NewPool(ctx, a.Config.Database.DSN, a.Config.Database.MaxOpenConns, a.Config.Database.MaxIdleConns)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	return store, func() { pool.Close() }, nil
}

func (a *App) newFetcher() (scraper.CountFetcher, error) {
	rules := a.Config.Scraper.Rules
	if len(rules) == 0 {
		rules = extractor.DefaultRules()
	}
	ext, err := extractor.New(rules)
	if err != nil {
		return nil, fmt.Errorf("compile extraction rules: %w", err)
	}

	return scraper.NewClient(scraper.Options{
		BaseURL:    a.Config.Scraper.BaseURL,
		RenderWait: a.Config.Scraper.RenderWait,
		Timeout:    a.Config.Scraper.Timeout,
		UserAgent:  a.Config.Scraper.UserAgent,
	}, ext, a.Logger), nil
}

func (a *App) newNotifier() *alerting.TelegramNotifier {
	cfg := a.Config.Telegram
	return alerting.NewTelegramNotifier(cfg.BotToken, cfg.APIBase, cfg.Timeout, a.Logger)
}

func (a *App) newBroadcaster(store *storage.Store) *alerting.Broadcaster {
	return alerting.NewBroadcaster(a.newNotifier(), store, a.Config.Telegram.SendRate, a.Logger)
}

func (a *App) newEngine(store *storage.Store) (*monitor.Engine, error) {
	fetcher, err := a.newFetcher()
	if err != nil {
		return nil, err
	}

	return monitor.NewEngine(
		store, store, store, store,
		fetcher,
		a.newBroadcaster(store),
		monitor.Options{
			MainURL:       a.Config.Scraper.TargetURL,
			LinkURL:       a.Config.Scraper.LinkURL,
			AlertCooldown: a.Config.Monitor.AlertCooldown,
		},
		a.Logger,
	), nil
}

func (a *App) newBot(store *storage.Store) *bot.Handler {
	cfg := a.Config.Telegram
	return bot.NewHandler(store, a.newNotifier(), cfg.AdminChatID, cfg.QRPhotoURL, a.Logger)
}

// Run executes the long-running polling service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	engine, err := a.newEngine(store)
	if err != nil {
		return err
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunOnStart:   a.Config.Scheduler.RunOnStart,
	}, a.Logger)

	a.Logger.Info().Str("target", a.Config.Scraper.TargetURL).Msg("starting monitoring service")
	err = sched.Run(ctx, func(ctx context.Context) error {
		outcome := engine.RunCycle(ctx, monitor.RunOptions{})
		if outcome.Status == monitor.StatusFailed {
			return errors.New(outcome.Reason)
		}
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// Serve runs the HTTP trigger surface alongside the webhook bot.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	engine, err := a.newEngine(store)
	if err != nil {
		return err
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Engine:      engine,
		Broadcaster: a.newBroadcaster(store),
		Bot:         a.newBot(store),
		AdminToken:  a.Config.Server.AdminToken,
		Logger:      a.Logger,
	})

	server := &http.Server{
		Addr:              a.Config.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().Str("addr", server.Addr).Msg("http server listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		a.Logger.Info().Msg("http server stopped")
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// CycleOptions carry per-invocation overrides for a one-shot run.
type CycleOptions struct {
	ManualCount       *int
	OverrideThreshold *int
}

// Cycle executes exactly one monitoring cycle and prints the outcome.
func (a *App) Cycle(ctx context.Context, opts CycleOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	engine, err := a.newEngine(store)
	if err != nil {
		return err
	}

	outcome := engine.RunCycle(ctx, monitor.RunOptions{
		ManualCount:       opts.ManualCount,
		OverrideThreshold: opts.OverrideThreshold,
	})

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(outcome); err != nil {
		return err
	}

	if outcome.Status == monitor.StatusFailed {
		return errors.New(outcome.Reason)
	}
	return nil
}

// Migrate applies pending database migrations.
func (a *App) Migrate(_ context.Context) error {
	if a.Config.Database.DSN == "" {
		return errors.New("database.dsn 必须配置")
	}
	if err := storage.RunMigrations(a.Config.Database.DSN); err != nil {
		return err
	}
	a.Logger.Info().Msg("migrations applied")
	return nil
}

// ExportOptions hold parameters for exporting cycle history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}
