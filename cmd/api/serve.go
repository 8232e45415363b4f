package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"callsignal/internal/auth"
	"callsignal/internal/callcontrol"
	"callsignal/internal/calls"
	"callsignal/internal/config"
	"callsignal/internal/directory"
	"callsignal/internal/history"
	"callsignal/internal/httpapi"
	"callsignal/internal/notify"
	"callsignal/internal/presence"
	"callsignal/internal/signaling"
	"callsignal/pkg/logger"
	"callsignal/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return fmt.Errorf("auth init: %w", err)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		return fmt.Errorf("postgres init: %w", err)
	}
	defer db.Close()

	var (
		rdb    *redis.Client
		mirror presence.Mirror
		// nil publisher: notifications are only pushed to live connections.
		pub notify.Publisher
	)
	if cfg.RedisEnabled() {
		rdb, err = utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			return fmt.Errorf("redis init: %w", err)
		}
		defer rdb.Close()
		mirror = presence.NewRedisMirror(rdb, cfg.Calls.PresenceTTL)
		pub = notify.NewRedisPublisher(rdb, cfg.Calls.NotifyChannel)
	} else {
		log.Warn("redis disabled; presence is process-local and notifications are not published")
	}

	records := history.NewPostgresStore(db)
	registry := presence.NewRegistry(mirror, log)
	store := calls.NewStore(records, nil, log)
	defer store.Close()

	router := signaling.NewRouter(registry, store, cfg.Calls.GraceWindow, log)
	controller := callcontrol.New(
		registry,
		store,
		directory.NewPostgresDirectory(db),
		notify.NewService(pub, router, log),
		router,
		callcontrol.Options{
			GraceWindow:   cfg.Calls.GraceWindow,
			NotifyTimeout: cfg.Calls.NotifyTimeout,
			Logger:        log,
		},
	)

	deps := routeDeps{
		auth: authManager,
		api: httpapi.Handlers{
			Calls:   controller,
			History: history.NewService(records),
		},
		ws: signaling.NewHandler(router, registry, cfg.WS, cfg.AllowAnyOrigin(), cfg.AllowedOrigins()),
		health: func(ctx context.Context) error {
			return utils.HealthCheck(ctx, db, 2*time.Second)
		},
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	registerRoutes(r, deps)

	// No WriteTimeout: websocket connections are long-lived.
	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}
