package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.ServerPort != ":8000" {
		t.Fatalf("expected default server port, got %q", cfg.ServerPort)
	}
	if cfg.DefaultMode != "beginner" {
		t.Fatalf("expected beginner default mode")
	}
	if cfg.IdleTimeout != 30*time.Second || cfg.StatsInterval != 10*time.Second {
		t.Fatalf("unexpected durations: %v %v", cfg.IdleTimeout, cfg.StatsInterval)
	}
	if cfg.FrameBuffer != 8 || cfg.BatchWorkers != 2 || cfg.BatchQueue != 16 || cfg.PoseWorkers != 4 {
		t.Fatalf("unexpected sizes: %+v", cfg)
	}
	if cfg.PostgresURL != "" || cfg.RedisAddr != "" || cfg.JWTSecret != "" {
		t.Fatalf("optional backends should default to disabled")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", ":9000")
	t.Setenv("POSTGRES_URL", "postgres://example")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("IDLE_TIMEOUT", "5s")
	t.Setenv("FRAME_BUFFER", "32")
	t.Setenv("POSE_WORKER_CMD", "python3 worker.py")
	t.Setenv("POSE_WORKERS", "3")

	cfg := Load()
	if cfg.ServerPort != ":9000" {
		t.Fatalf("expected override port")
	}
	if cfg.PostgresURL != "postgres://example" {
		t.Fatalf("expected override postgres")
	}
	if cfg.RedisAddr != "redis:6379" {
		t.Fatalf("expected override redis")
	}
	if cfg.JWTSecret != "secret" {
		t.Fatalf("expected override secret")
	}
	if cfg.IdleTimeout != 5*time.Second || cfg.FrameBuffer != 32 {
		t.Fatalf("expected stream overrides, got %v %d", cfg.IdleTimeout, cfg.FrameBuffer)
	}
	if cfg.PoseWorkerCmd != "python3 worker.py" || cfg.PoseWorkers != 3 {
		t.Fatalf("expected worker command and pool size, got %q %d", cfg.PoseWorkerCmd, cfg.PoseWorkers)
	}
}

func TestValidate(t *testing.T) {
	base := Load()
	cases := map[string]func(*Config){
		"buffer":     func(c *Config) { c.FrameBuffer = 0 },
		"workers":    func(c *Config) { c.BatchWorkers = 0 },
		"queue":      func(c *Config) { c.BatchQueue = 0 },
		"fps":        func(c *Config) { c.VideoFPS = 0 },
		"visibility": func(c *Config) { c.MinVisibility = 1.5 },
		"idle":       func(c *Config) { c.IdleTimeout = -time.Second },
		"pose pool":  func(c *Config) { c.PoseWorkerCmd = "worker"; c.PoseWorkers = 0 },
	}
	for name, mutate := range cases {
		cfg := base
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}
