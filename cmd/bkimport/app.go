package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/bkimport/internal/config"
	"github.com/xxxsen/bkimport/internal/db"
	"github.com/xxxsen/bkimport/internal/dedup"
	"github.com/xxxsen/bkimport/internal/filestore"
	"github.com/xxxsen/bkimport/internal/job"
	"github.com/xxxsen/bkimport/internal/pkg/dbutil"
	"github.com/xxxsen/bkimport/internal/repo"
	"github.com/xxxsen/bkimport/internal/schedule"
	"github.com/xxxsen/bkimport/internal/service"
	"github.com/xxxsen/bkimport/internal/worker"
)

type app struct {
	cfg      *config.Config
	db       *sql.DB
	dialect  dbutil.Dialect
	files    filestore.Store
	sessions *repo.ImportSessionRepo
	entries  *repo.StagingEntryRepo
	lists    *repo.BookmarkListRepo
	imports  *service.SessionService
}

func loadConfig(configPath string) (*config.Config, error) {
	if configPath == "" {
		return nil, fmt.Errorf("--config is required")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger.Init(
		cfg.LogConfig.File,
		cfg.LogConfig.Level,
		int(cfg.LogConfig.FileCount),
		int(cfg.LogConfig.FileSize),
		int(cfg.LogConfig.KeepDays),
		cfg.LogConfig.Console,
	)
	logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", configPath))
	return cfg, nil
}

func openApp(configPath string) (*app, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	conn, dialect, err := db.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.ApplyMigrations(conn, dialect); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	store, err := filestore.New(cfg.FileStore)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("init file store: %w", err)
	}
	a := &app{
		cfg:      cfg,
		db:       conn,
		dialect:  dialect,
		files:    store,
		sessions: repo.NewImportSessionRepo(conn, dialect),
		entries:  repo.NewStagingEntryRepo(conn, dialect),
		lists:    repo.NewBookmarkListRepo(conn, dialect),
	}
	a.imports = service.NewSessionService(a.sessions, a.entries, a.lists, a.files)
	return a, nil
}

func (a *app) Close() {
	_ = a.db.Close()
}

func (a *app) newManager() *worker.Manager {
	bookmarks := repo.NewBookmarkRepo(a.db, a.dialect)
	tags := repo.NewBookmarkTagRepo(a.db, a.dialect)
	creator := service.NewBookmarkService(bookmarks, tags, a.lists)

	lookup := dedup.WrapLruLookup(bookmarks, a.cfg.DedupCache.Size, time.Duration(a.cfg.DedupCache.TTLSeconds)*time.Second)
	opts := []service.ProcessorOption{service.WithCollaboratorTimeout(a.cfg.Worker.CollaboratorTimeout())}
	if cached, ok := lookup.(*dedup.CachedLookup); ok {
		opts = append(opts, service.WithLinkRecorder(cached))
	}
	processor := service.NewProcessor(dedup.NewResolver(lookup), creator, creator, opts...)

	w := a.cfg.Worker
	runner := worker.NewRunner(a.sessions, a.entries, processor, worker.Config{
		BatchSize:    w.BatchSize,
		Concurrency:  w.Concurrency,
		LeaseTimeout: w.LeaseTimeout(),
		Backoff:      w.Backoff(),
		MaxAttempts:  w.MaxAttempts,
	})
	return worker.NewManager(a.sessions, runner, w.PollInterval(), w.MaxSessions)
}

func (a *app) newScheduler() (*schedule.CronScheduler, error) {
	c := a.cfg.Cleanup
	scheduler := schedule.NewCronScheduler()
	cleanup := job.NewImportCleanupJob(a.sessions, a.files, time.Duration(c.RetentionHours)*time.Hour)
	if err := scheduler.AddJob(cleanup, c.Spec); err != nil {
		return nil, fmt.Errorf("schedule %s: %w", cleanup.Name(), err)
	}
	watchdog := job.NewStaleSessionWatchdogJob(a.sessions, time.Duration(c.StaleAfterMinute)*time.Minute)
	if err := scheduler.AddJob(watchdog, c.WatchdogSpec); err != nil {
		return nil, fmt.Errorf("schedule %s: %w", watchdog.Name(), err)
	}
	return scheduler, nil
}
