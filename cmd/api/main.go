package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"backend-formcoach/internal/config"
	"backend-formcoach/internal/db"
	"backend-formcoach/internal/logging"
	"backend-formcoach/internal/pose"
	"backend-formcoach/internal/server"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var mainDepsProvider = defaultDeps
var mainRunner = realMain

func main() {
	mainRunner(mainDepsProvider())
}

type mainDeps struct {
	loadConfig      func() config.Config
	connectPostgres func(config.Config) (*pgxpool.Pool, error)
	connectRedis    func(config.Config) *redis.Client
	startDetector   func(context.Context, config.Config, zerolog.Logger) (pose.Detector, func(), error)
	notify          func(chan<- os.Signal, ...os.Signal)
	run             func(context.Context, config.Config, *pgxpool.Pool, *redis.Client, pose.Detector, zerolog.Logger, <-chan os.Signal, ListenFunc) error
}

func defaultDeps() mainDeps {
	return mainDeps{
		loadConfig:      config.Load,
		connectPostgres: db.ConnectPostgres,
		connectRedis:    db.ConnectRedis,
		startDetector:   startDetector,
		notify:          signal.Notify,
		run:             Run,
	}
}

func realMain(deps mainDeps) {
	cfg := deps.loadConfig()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return
	}

	pg, err := deps.connectPostgres(cfg)
	if err != nil {
		logger.Warn().Err(err).Msg("postgres connection failed, session archive disabled")
	}

	rdb := deps.connectRedis(cfg)

	ctx := context.Background()
	detector, stop, err := deps.startDetector(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("pose worker failed to start")
		return
	}
	defer stop()

	signals := make(chan os.Signal, 1)
	deps.notify(signals, syscall.SIGINT, syscall.SIGTERM)

	if err := deps.run(ctx, cfg, pg, rdb, detector, logger, signals, nil); err != nil {
		logger.Error().Err(err).Msg("server exited with error")
	}
}

// startDetector launches the pose worker pool, or falls back to a detector that never finds a
// subject when no worker command is configured.
func startDetector(ctx context.Context, cfg config.Config, logger zerolog.Logger) (pose.Detector, func(), error) {
	if cfg.PoseWorkerCmd == "" {
		logger.Warn().Msg("POSE_WORKER_CMD not set, image frames will report no subject")
		return pose.NopDetector{}, func() {}, nil
	}
	pool, err := pose.StartWorkerPool(ctx, pose.WorkerConfig{
		Command: strings.Fields(cfg.PoseWorkerCmd),
		Timeout: cfg.PoseWorkerTimeout,
		Workers: cfg.PoseWorkers,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	return pool, func() { _ = pool.Close() }, nil
}

type ListenFunc func(app *fiber.App, addr string) error

var defaultListen ListenFunc = func(app *fiber.App, addr string) error {
	return app.Listen(addr)
}

var shutdownFn = func(app *fiber.App, ctx context.Context) error {
	return app.ShutdownWithContext(ctx)
}

// Run starts the HTTP server and waits for termination signals.
func Run(ctx context.Context, cfg config.Config, pg *pgxpool.Pool, rdb *redis.Client, detector pose.Detector, logger zerolog.Logger, signals <-chan os.Signal, listen ListenFunc) error {
	srv, err := server.NewServer(cfg, pg, rdb, detector, logger)
	if err != nil {
		return err
	}

	if srv.Archive != nil {
		schemaCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := srv.Archive.EnsureSchema(schemaCtx); err != nil {
			logger.Warn().Err(err).Msg("ensuring archive schema failed")
		}
		cancel()
	}

	if listen == nil {
		listen = defaultListen
	}

	srv.Start()

	errCh := make(chan error, 1)
	go func() {
		errCh <- listen(srv.App, cfg.ServerPort)
	}()

	select {
	case <-signals:
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			srv.Stop()
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = shutdownFn(srv.App, shutdownCtx)
	srv.Stop()
	if err != nil {
		return err
	}
	if pg != nil {
		pg.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	return nil
}
