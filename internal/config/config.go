package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	ServerPort    string `mapstructure:"SERVER_PORT"`
	PostgresURL   string `mapstructure:"POSTGRES_URL"`
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	JWTSecret     string `mapstructure:"JWT_SECRET"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	ProfilesPath  string        `mapstructure:"PROFILES_PATH"`
	DefaultMode   string        `mapstructure:"DEFAULT_MODE"`
	MinVisibility float64       `mapstructure:"MIN_VISIBILITY"`
	IdleTimeout   time.Duration `mapstructure:"IDLE_TIMEOUT"`
	FrameBuffer   int           `mapstructure:"FRAME_BUFFER"`
	StatsInterval time.Duration `mapstructure:"STATS_INTERVAL"`

	BatchWorkers int           `mapstructure:"BATCH_WORKERS"`
	BatchQueue   int           `mapstructure:"BATCH_QUEUE"`
	JobTTL       time.Duration `mapstructure:"JOB_TTL"`
	UploadDir    string        `mapstructure:"UPLOAD_DIR"`
	ProcessedDir string        `mapstructure:"PROCESSED_DIR"`
	VideoFPS     int           `mapstructure:"VIDEO_FPS"`
	FFmpegPath   string        `mapstructure:"FFMPEG_PATH"`

	PoseWorkerCmd     string        `mapstructure:"POSE_WORKER_CMD"`
	PoseWorkerTimeout time.Duration `mapstructure:"POSE_WORKER_TIMEOUT"`
	PoseWorkers       int           `mapstructure:"POSE_WORKERS"`
}

func Load() Config {
	viper.AutomaticEnv()
	viper.SetDefault("SERVER_PORT", ":8000")
	viper.SetDefault("POSTGRES_URL", "")
	viper.SetDefault("REDIS_ADDR", "")
	viper.SetDefault("REDIS_PASSWORD", "")
	viper.SetDefault("JWT_SECRET", "")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "json")
	viper.SetDefault("PROFILES_PATH", "")
	viper.SetDefault("DEFAULT_MODE", "beginner")
	viper.SetDefault("MIN_VISIBILITY", 0.5)
	viper.SetDefault("IDLE_TIMEOUT", "30s")
	viper.SetDefault("FRAME_BUFFER", 8)
	viper.SetDefault("STATS_INTERVAL", "10s")
	viper.SetDefault("BATCH_WORKERS", 2)
	viper.SetDefault("BATCH_QUEUE", 16)
	viper.SetDefault("JOB_TTL", "24h")
	viper.SetDefault("UPLOAD_DIR", "uploads")
	viper.SetDefault("PROCESSED_DIR", "processed")
	viper.SetDefault("VIDEO_FPS", 30)
	viper.SetDefault("FFMPEG_PATH", "")
	viper.SetDefault("POSE_WORKER_CMD", "")
	viper.SetDefault("POSE_WORKER_TIMEOUT", "2s")
	viper.SetDefault("POSE_WORKERS", 4)

	var cfg Config
	_ = viper.Unmarshal(&cfg)
	return cfg
}

// Validate rejects settings the server cannot run with.
func (c Config) Validate() error {
	switch {
	case c.FrameBuffer < 1:
		return fmt.Errorf("FRAME_BUFFER must be at least 1, got %d", c.FrameBuffer)
	case c.BatchWorkers < 1:
		return fmt.Errorf("BATCH_WORKERS must be at least 1, got %d", c.BatchWorkers)
	case c.BatchQueue < 1:
		return fmt.Errorf("BATCH_QUEUE must be at least 1, got %d", c.BatchQueue)
	case c.VideoFPS < 1:
		return fmt.Errorf("VIDEO_FPS must be at least 1, got %d", c.VideoFPS)
	case c.MinVisibility < 0 || c.MinVisibility > 1:
		return fmt.Errorf("MIN_VISIBILITY must be within [0,1], got %v", c.MinVisibility)
	case c.IdleTimeout < 0:
		return fmt.Errorf("IDLE_TIMEOUT must not be negative")
	case c.PoseWorkerCmd != "" && c.PoseWorkers < 1:
		return fmt.Errorf("POSE_WORKERS must be at least 1, got %d", c.PoseWorkers)
	}
	return nil
}
