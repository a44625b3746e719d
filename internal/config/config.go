package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the dataprobe server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Storage   StorageConfig
	Catalog   CatalogConfig
	Pipeline  PipelineConfig
	Retention RetentionConfig
	Queue     QueueConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// StorageConfig configures the S3-compatible object store holding task artifacts.
type StorageConfig struct {
	Endpoint    string
	AccessKey   string
	SecretKey   string
	Bucket      string
	Region      string
	UseSSL      bool
	UploadTTL   time.Duration
	DownloadTTL time.Duration
}

type CatalogConfig struct {
	Dir string
}

// PipelineConfig selects how a process trigger dispatches the orchestrator:
// inline runs it synchronously within the request; queue publishes the task
// to NATS for a worker to claim.
type PipelineConfig struct {
	Mode string
}

type RetentionConfig struct {
	Window        time.Duration
	SweepInterval time.Duration
}

type QueueConfig struct {
	URL string
}

const (
	ProcessModeInline = "inline"
	ProcessModeQueue  = "queue"
)

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("DATAPROBE_PORT", 8080),
			Env:  envString("DATAPROBE_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Storage: StorageConfig{
			Endpoint:    os.Getenv("S3_ENDPOINT"),
			AccessKey:   os.Getenv("S3_ACCESS_KEY"),
			SecretKey:   os.Getenv("S3_SECRET_KEY"),
			Bucket:      envString("S3_BUCKET", "dataprobe"),
			Region:      envString("S3_REGION", "us-east-1"),
			UseSSL:      envBool("S3_USE_SSL", false),
			UploadTTL:   envDuration("UPLOAD_URL_TTL", 15*time.Minute),
			DownloadTTL: envDuration("DOWNLOAD_URL_TTL", time.Hour),
		},
		Catalog: CatalogConfig{
			Dir: envString("CATALOG_DIR", "catalog"),
		},
		Pipeline: PipelineConfig{
			Mode: envString("PROCESS_MODE", ProcessModeInline),
		},
		Retention: RetentionConfig{
			Window:        envDuration("RETENTION_WINDOW", 24*time.Hour),
			SweepInterval: envDuration("SWEEP_INTERVAL", 10*time.Minute),
		},
		Queue: QueueConfig{
			URL: os.Getenv("NATS_URL"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Storage.Endpoint == "" {
		return fmt.Errorf("S3_ENDPOINT is required")
	}
	if c.Storage.AccessKey == "" {
		return fmt.Errorf("S3_ACCESS_KEY is required")
	}
	if c.Storage.SecretKey == "" {
		return fmt.Errorf("S3_SECRET_KEY is required")
	}

	if c.Storage.UploadTTL <= 0 {
		return fmt.Errorf("UPLOAD_URL_TTL must be positive, got %s", c.Storage.UploadTTL)
	}
	if c.Storage.DownloadTTL <= 0 {
		return fmt.Errorf("DOWNLOAD_URL_TTL must be positive, got %s", c.Storage.DownloadTTL)
	}

	switch c.Pipeline.Mode {
	case ProcessModeInline, ProcessModeQueue:
	default:
		return fmt.Errorf("PROCESS_MODE must be one of inline, queue; got %q", c.Pipeline.Mode)
	}
	if c.Pipeline.Mode == ProcessModeQueue && c.Queue.URL == "" {
		return fmt.Errorf("NATS_URL is required when PROCESS_MODE is queue")
	}

	if c.Retention.Window <= 0 {
		return fmt.Errorf("RETENTION_WINDOW must be positive, got %s", c.Retention.Window)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
