package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/MimeLyc/live-caption-translator/internal/config"
	"github.com/MimeLyc/live-caption-translator/internal/httpapi"
	"github.com/MimeLyc/live-caption-translator/internal/overlay"
	"github.com/MimeLyc/live-caption-translator/internal/persistence"
	"github.com/MimeLyc/live-caption-translator/pkg/log"
)

const shutdownTimeout = 10 * time.Second

type scheduler interface {
	Schedule(ctx context.Context) error
}

type cronEngine interface {
	Start()
	Stop() context.Context
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

// reportScheduler binds the manager's report job to a cron engine.
type reportScheduler struct {
	manager *overlay.Manager
	cron    *cron.Cron
}

func (s reportScheduler) Schedule(ctx context.Context) error {
	return s.manager.Schedule(ctx, s.cron)
}

func main() {
	// Load .env file if present
	_ = godotenv.Load()

	initLogging()

	settingsPath := config.RuntimeSettingsFilePath()
	var opts []config.Option
	if saved, err := config.LoadRuntimeSettingsFile(settingsPath); err == nil {
		opts = append(opts, config.WithRuntimeSettings(saved))
	} else if !os.IsNotExist(err) {
		log.Warn("Ignoring settings file %s: %v", settingsPath, err)
	}

	cfg, err := config.NewFromEnv(opts...)
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}

	store, err := persistence.NewSQLiteStore(cfg.DBPath())
	if err != nil {
		log.Fatal("Failed to open history store at %s: %v", cfg.DBPath(), err)
	}

	settings, err := config.NewRuntimeSettingsStore(settingsPath, cfg.RuntimeSettings())
	if err != nil {
		log.Fatal("Failed to initialize runtime settings: %v", err)
	}

	manager := overlay.NewManager(cfg, settings, store)

	server := httpapi.NewServer(manager,
		httpapi.WithHistoryStore(store),
		httpapi.WithRuntimeSettingsStore(settings),
		httpapi.WithRuntimeSettingsApplier(manager.ApplySettings),
		httpapi.WithUI(cfg.HTTP.UIStaticDir, cfg.HTTP.UIEnabled),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine := cron.New()
	runErr := runWithComponents(ctx, cfg, reportScheduler{manager: manager, cron: engine}, engine, server)

	manager.Shutdown()
	if err := store.Close(); err != nil {
		log.Warn("Failed to close history store: %v", err)
	}
	if runErr != nil {
		log.Fatal("%v", runErr)
	}
	log.Info("Shutdown complete")
}

// initLogging configures the global logger from LOG_LEVEL, writing to LOG_FILE
// when set.
func initLogging() {
	level := log.ParseLevel(os.Getenv("LOG_LEVEL"))
	if logFile := os.Getenv("LOG_FILE"); logFile != "" {
		fl, err := log.NewFileLogger(logFile, level)
		if err == nil {
			log.UseLogger(fl.Logger)
			return
		}
		log.InitLogger(level)
		log.Warn("Falling back to stdout logging: %v", err)
		return
	}
	log.InitLogger(level)
}

// runWithComponents runs the report schedule, the cron engine and the HTTP API
// until ctx is cancelled or the server fails on its own. Cron teardown is not
// awaited: Stop's context only resolves once running jobs finish, and a hung
// report job must not hold up process exit.
func runWithComponents(ctx context.Context, cfg *config.Config, sched scheduler, engine cronEngine, httpSrv httpServer) error {
	if err := sched.Schedule(ctx); err != nil {
		return err
	}

	engine.Start()
	defer engine.Stop()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpSrv.ListenAndServe(cfg.HTTP.Addr)
	}()
	log.Info("HTTP API listening on %s", cfg.HTTP.Addr)

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
