package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/xxxsen/common/logger"
)

type Config struct {
	Database      DatabaseConfig   `json:"database"`
	Port          int              `json:"port" env:"BKIMPORT_PORT"`
	JWTSecret     string           `json:"jwt_secret" env:"BKIMPORT_JWT_SECRET"`
	JWTTTLHours   int              `json:"jwt_ttl_hours"`
	MaxUploadSize int64            `json:"max_upload_size" env:"BKIMPORT_MAX_UPLOAD_SIZE"`
	LogConfig     logger.LogConfig `json:"log_config"`
	FileStore     FileStoreConfig  `json:"file_store"`
	Worker        WorkerConfig     `json:"worker"`
	DedupCache    DedupCacheConfig `json:"dedup_cache"`
	Cleanup       CleanupConfig    `json:"cleanup"`
}

type DatabaseConfig struct {
	Driver   string `json:"driver" env:"BKIMPORT_DB_DRIVER"`
	DSN      string `json:"dsn" env:"BKIMPORT_DB_DSN"`
	Path     string `json:"path" env:"BKIMPORT_DB_PATH"`
	Host     string `json:"host" env:"BKIMPORT_DB_HOST"`
	Port     int    `json:"port" env:"BKIMPORT_DB_PORT"`
	User     string `json:"user" env:"BKIMPORT_DB_USER"`
	Password string `json:"password" env:"BKIMPORT_DB_PASSWORD"`
	DBName   string `json:"dbname" env:"BKIMPORT_DB_NAME"`
	SSLMode  string `json:"sslmode"`
	MaxConns int    `json:"max_conns"`
}

type FileStoreConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type WorkerConfig struct {
	Enabled               *bool `json:"enabled"`
	BatchSize             int   `json:"batch_size" env:"BKIMPORT_WORKER_BATCH_SIZE"`
	Concurrency           int   `json:"concurrency" env:"BKIMPORT_WORKER_CONCURRENCY"`
	MaxSessions           int   `json:"max_sessions"`
	LeaseTimeoutMs        int64 `json:"lease_timeout_ms" env:"BKIMPORT_WORKER_LEASE_TIMEOUT_MS"`
	PollIntervalMs        int64 `json:"poll_interval_ms"`
	BackoffMs             int64 `json:"backoff_ms"`
	MaxAttempts           int   `json:"max_attempts" env:"BKIMPORT_WORKER_MAX_ATTEMPTS"`
	CollaboratorTimeoutMs int64 `json:"collaborator_timeout_ms"`
}

func (w WorkerConfig) IsEnabled() bool {
	return w.Enabled == nil || *w.Enabled
}

func (w WorkerConfig) LeaseTimeout() time.Duration {
	return time.Duration(w.LeaseTimeoutMs) * time.Millisecond
}

func (w WorkerConfig) PollInterval() time.Duration {
	return time.Duration(w.PollIntervalMs) * time.Millisecond
}

func (w WorkerConfig) Backoff() time.Duration {
	return time.Duration(w.BackoffMs) * time.Millisecond
}

func (w WorkerConfig) CollaboratorTimeout() time.Duration {
	return time.Duration(w.CollaboratorTimeoutMs) * time.Millisecond
}

type DedupCacheConfig struct {
	Size       int   `json:"size"`
	TTLSeconds int64 `json:"ttl_seconds"`
}

type CleanupConfig struct {
	Spec             string `json:"spec"`
	RetentionHours   int    `json:"retention_hours"`
	WatchdogSpec     string `json:"watchdog_spec"`
	StaleAfterMinute int    `json:"stale_after_minute"`
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) normalize() error {
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	switch cfg.Database.Driver {
	case "sqlite":
		if cfg.Database.Path == "" && cfg.Database.DSN == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	case "postgres":
		if cfg.Database.DSN == "" && (cfg.Database.Host == "" || cfg.Database.DBName == "") {
			return fmt.Errorf("database.dsn or database.host/dbname are required for postgres")
		}
		if cfg.Database.Port == 0 {
			cfg.Database.Port = 5432
		}
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres")
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.JWTTTLHours == 0 {
		cfg.JWTTTLHours = 72
	}
	if cfg.MaxUploadSize == 0 {
		cfg.MaxUploadSize = 32 << 20
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.FileStore.Type == "" {
		cfg.FileStore.Type = "local"
	}
	if cfg.FileStore.Type != "local" && cfg.FileStore.Type != "s3" {
		return fmt.Errorf("file_store.type must be local or s3")
	}
	w := &cfg.Worker
	if w.BatchSize <= 0 {
		w.BatchSize = 20
	}
	if w.Concurrency <= 0 {
		w.Concurrency = 4
	}
	if w.MaxSessions <= 0 {
		w.MaxSessions = 2
	}
	if w.LeaseTimeoutMs <= 0 {
		w.LeaseTimeoutMs = 5 * 60 * 1000
	}
	if w.PollIntervalMs <= 0 {
		w.PollIntervalMs = 2000
	}
	if w.BackoffMs <= 0 {
		w.BackoffMs = 1000
	}
	if w.MaxAttempts <= 0 {
		w.MaxAttempts = 3
	}
	if w.CollaboratorTimeoutMs <= 0 {
		w.CollaboratorTimeoutMs = 60 * 1000
	}
	if w.CollaboratorTimeoutMs >= w.LeaseTimeoutMs {
		return fmt.Errorf("worker.collaborator_timeout_ms must be shorter than worker.lease_timeout_ms")
	}
	if cfg.DedupCache.Size == 0 {
		cfg.DedupCache.Size = 4096
	}
	if cfg.DedupCache.TTLSeconds == 0 {
		cfg.DedupCache.TTLSeconds = 300
	}
	if cfg.Cleanup.Spec == "" {
		cfg.Cleanup.Spec = "17 3 * * *"
	}
	if cfg.Cleanup.RetentionHours == 0 {
		cfg.Cleanup.RetentionHours = 24 * 30
	}
	if cfg.Cleanup.WatchdogSpec == "" {
		cfg.Cleanup.WatchdogSpec = "*/5 * * * *"
	}
	if cfg.Cleanup.StaleAfterMinute == 0 {
		cfg.Cleanup.StaleAfterMinute = 15
	}
	return nil
}
