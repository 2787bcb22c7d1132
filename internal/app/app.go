package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cineolabs/cineo-backend/internal/credits"
	"github.com/cineolabs/cineo-backend/internal/db"
	"github.com/cineolabs/cineo-backend/internal/generate"
	"github.com/cineolabs/cineo-backend/internal/http/handlers"
	"github.com/cineolabs/cineo-backend/internal/http/middleware"
	"github.com/cineolabs/cineo-backend/internal/notify"
	"github.com/cineolabs/cineo-backend/internal/observability"
	"github.com/cineolabs/cineo-backend/internal/pipeline"
	"github.com/cineolabs/cineo-backend/internal/platform/logger"
	"github.com/cineolabs/cineo-backend/internal/repos"
	"github.com/cineolabs/cineo-backend/internal/server"
)

type App struct {
	Log    *logger.Logger
	DB     *gorm.DB
	Router *gin.Engine
	Cfg    Config

	Orchestrator *pipeline.Orchestrator
	Pool         *pipeline.Pool

	cancel       context.CancelFunc
	otelShutdown func(context.Context) error
}

func New() (*App, error) {
	cfg := LoadConfig()
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	otelShutdown := observability.InitOTel(context.Background(), log, observability.OtelConfig{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		Version:     cfg.Version,
	})

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	theDB := pg.DB()
	if err := db.AutoMigrateAll(theDB); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}

	policy, err := pipeline.LoadPolicy(cfg.PolicyPath)
	if err != nil {
		log.Warn("pipeline policy load failed, using defaults", "path", cfg.PolicyPath, "error", err)
	}

	jobRepo := repos.NewMovieJobRepo(theDB, log)
	stageRepo := repos.NewMovieStageRepo(theDB, log)
	ledger := credits.NewLedger(theDB, log)

	adapters, err := buildAdapters(cfg, log)
	if err != nil {
		log.Sync()
		return nil, err
	}

	var notifier notify.Notifier = notify.Nop{}
	if cfg.RedisAddr != "" {
		n, err := notify.NewRedisNotifier(log)
		if err != nil {
			log.Warn("redis notifier init failed, events disabled", "error", err)
		} else {
			notifier = n
		}
	}

	orc := pipeline.NewOrchestrator(theDB, jobRepo, stageRepo, ledger, notifier, policy, log)
	exec := pipeline.NewExecutor(theDB, jobRepo, stageRepo, adapters, policy, orc.OnStageDone, log)
	pool := pipeline.NewPool(policy, exec.Execute, log)
	orc.SetPool(pool)

	authMW := middleware.NewAuthMiddleware(log, cfg.JWTSecretKey)
	router := server.NewRouter(server.RouterConfig{
		Log:            log,
		AuthMiddleware: authMW,
		MovieHandler:   handlers.NewMovieHandler(orc),
		CreditsHandler: handlers.NewCreditsHandler(ledger),
		CORSOrigins:    cfg.CORSOrigins,
		ServiceName:    cfg.ServiceName,
	})

	return &App{
		Log:          log,
		DB:           theDB,
		Router:       router,
		Cfg:          cfg,
		Orchestrator: orc,
		Pool:         pool,
		otelShutdown: otelShutdown,
	}, nil
}

// Start launches the worker pool and the resume scanner.
func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	go func() {
		if err := a.Pool.Run(ctx); err != nil {
			a.Log.Error("worker pool stopped", "error", err)
		}
	}()
	go func() {
		if err := a.Orchestrator.Resume(ctx); err != nil && ctx.Err() == nil {
			a.Log.Error("resume scanner stopped", "error", err)
		}
	}()
}

func (a *App) Run() error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Router.Run(":" + a.Cfg.Port)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.otelShutdown != nil {
		_ = a.otelShutdown(context.Background())
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}

// buildAdapters wires one adapter per stage kind. Any upstream without an
// API key falls back to the fake, so a bare dev environment still runs the
// whole pipeline end to end.
func buildAdapters(cfg Config, log *logger.Logger) (generate.Set, error) {
	set := generate.NewFakeSet()

	if cfg.ScriptAPIKey != "" {
		c, err := generate.NewClient(generate.ClientOptions{
			APIKey:        cfg.ScriptAPIKey,
			BaseURL:       cfg.ScriptBaseURL,
			RatePerSecond: cfg.GenRatePerSec,
			Logger:        log,
		})
		if err != nil {
			return nil, fmt.Errorf("script client: %w", err)
		}
		a := generate.NewScriptAdapter(c)
		set[a.Kind()] = a
	}
	if cfg.ImageAPIKey != "" {
		c, err := generate.NewClient(generate.ClientOptions{
			APIKey:        cfg.ImageAPIKey,
			BaseURL:       cfg.ImageBaseURL,
			RatePerSecond: cfg.GenRatePerSec,
			Logger:        log,
		})
		if err != nil {
			return nil, fmt.Errorf("image client: %w", err)
		}
		for _, a := range []generate.Adapter{
			generate.NewStoryboardAdapter(c),
			generate.NewPosterAdapter(c),
		} {
			set[a.Kind()] = a
		}
	}
	if cfg.VideoAPIKey != "" {
		c, err := generate.NewClient(generate.ClientOptions{
			APIKey:        cfg.VideoAPIKey,
			BaseURL:       cfg.VideoBaseURL,
			RatePerSecond: cfg.GenRatePerSec,
			Logger:        log,
		})
		if err != nil {
			return nil, fmt.Errorf("video client: %w", err)
		}
		for _, a := range []generate.Adapter{
			generate.NewVideoAdapter(c),
			generate.NewTrailerAdapter(c),
		} {
			set[a.Kind()] = a
		}
	}
	return set, nil
}
