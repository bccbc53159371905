package server

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"backend-formcoach/internal/auth"
	"backend-formcoach/internal/batch"
	"backend-formcoach/internal/config"
	"backend-formcoach/internal/metrics"
	"backend-formcoach/internal/pose"
	"backend-formcoach/internal/profile"
	"backend-formcoach/internal/session"
	"backend-formcoach/internal/storage"
	"backend-formcoach/internal/stream"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const maxUploadSize = 512 << 20

type Server struct {
	App      *fiber.App
	Cfg      config.Config
	DB       *pgxpool.Pool
	Redis    *redis.Client
	Stream   *stream.Hub
	Sessions *session.Manager
	Jobs     *batch.Runner
	Archive  *storage.Service
	Logger   zerolog.Logger

	startedAt time.Time
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func NewServer(cfg config.Config, db *pgxpool.Pool, redisClient *redis.Client, detector pose.Detector, log zerolog.Logger) (*Server, error) {
	profiles := profile.DefaultRegistry()
	if cfg.ProfilesPath != "" {
		loaded, err := profile.Load(cfg.ProfilesPath)
		if err != nil {
			return nil, err
		}
		profiles = loaded
	}

	app := fiber.New(fiber.Config{BodyLimit: maxUploadSize})
	app.Use(recover.New())
	app.Use(logger.New())

	s := &Server{
		App:       app,
		Cfg:       cfg,
		DB:        db,
		Redis:     redisClient,
		Stream:    stream.NewHub(redisClient, log),
		Logger:    log,
		startedAt: time.Now(),
	}

	sessionCfg := session.Config{
		Registry:      profiles,
		Detector:      detector,
		DefaultMode:   cfg.DefaultMode,
		MinVisibility: cfg.MinVisibility,
		Logger:        log,
	}
	if db != nil {
		s.Archive = storage.NewService(db)
		sessionCfg.Sink = s.Archive
	}
	s.Sessions = session.NewManager(sessionCfg)

	var store batch.Store = batch.NewMemoryStore(cfg.JobTTL)
	if redisClient != nil {
		store = batch.NewRedisStore(redisClient, cfg.JobTTL)
	}
	batchCfg := batch.Config{
		Workers:      cfg.BatchWorkers,
		QueueSize:    cfg.BatchQueue,
		FPS:          cfg.VideoFPS,
		ProcessedDir: cfg.ProcessedDir,
		ArtifactURL:  "/api/videos/",
		ThumbnailURL: "/api/thumbnails/",
	}
	if cfg.FFmpegPath != "" {
		ff := batch.NewFFmpeg(cfg.FFmpegPath, cfg.VideoFPS)
		batchCfg.Extractor = ff
		batchCfg.Transcoder = ff
		batchCfg.WorkDir = filepath.Join(cfg.UploadDir, "frames")
	}
	s.Jobs = batch.NewRunner(s.Sessions, store, batchCfg, log)

	registerRoutes(s)
	return s, nil
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	s.App.Get("/stats", s.stats)
	s.App.Get("/metrics", metrics.Handler())

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)

	session.RegisterRoutes(s.App.Group("/sessions"), s.Sessions, jwtMiddleware)
	batch.RegisterRoutes(s.App, s.Jobs, batch.HandlerConfig{
		UploadDir:    s.Cfg.UploadDir,
		ProcessedDir: s.Cfg.ProcessedDir,
	}, jwtMiddleware)
	if s.Archive != nil {
		storage.RegisterRoutes(s.App.Group("/storage"), s.Archive, jwtMiddleware)
	}

	s.App.Use("/ws", jwtMiddleware)
	stream.RegisterRoutes(s.App, stream.NewHandler(s.Sessions, s.Stream, stream.Config{
		IdleTimeout:   s.Cfg.IdleTimeout,
		FrameBuffer:   s.Cfg.FrameBuffer,
		StatsInterval: s.Cfg.StatsInterval,
	}, s.Logger))
}

// Start launches background workers.
func (s *Server) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Jobs.Run(ctx); err != nil {
			s.Logger.Error().Err(err).Msg("batch runner stopped")
		}
	}()
	if s.Cfg.IdleTimeout > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.Sessions.RunReaper(ctx, s.Cfg.IdleTimeout)
		}()
	}
}

// Stop halts background workers and the hub relay. Call it after the app has shut down.
func (s *Server) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.Stream.Close()
}

func (s *Server) stats(c *fiber.Ctx) error {
	totals := s.Sessions.Totals()
	completed, failed := s.Jobs.Stats()
	return c.JSON(fiber.Map{
		"server_stats": fiber.Map{
			"total_connections":      totals.SessionsTotal,
			"active_connections":     totals.ActiveSessions,
			"total_frames_received":  totals.FramesReceived,
			"total_frames_processed": totals.FramesProcessed,
			"total_frames_failed":    totals.FramesFailed,
			"videos_processed":       completed,
			"videos_failed":          failed,
			"startup_time":           s.startedAt,
		},
		"active_connections":    s.Sessions.List(),
		"server_uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
	})
}
