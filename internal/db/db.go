package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/xxxsen/bkimport/internal/config"
	"github.com/xxxsen/bkimport/internal/pkg/dbutil"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

func Open(cfg config.DatabaseConfig) (*sql.DB, dbutil.Dialect, error) {
	dialect, ok := dbutil.ParseDialect(cfg.Driver)
	if !ok {
		return nil, "", fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
	var (
		db  *sql.DB
		err error
	)
	switch dialect {
	case dbutil.DialectPostgres:
		db, err = sql.Open("postgres", postgresDSN(cfg))
	default:
		db, err = openSQLite(cfg)
	}
	if err != nil {
		return nil, "", err
	}
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, "", err
	}
	return db, dialect, nil
}

func postgresDSN(cfg config.DatabaseConfig) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}
	sslmode := cfg.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslmode)
}

// Pragmas go through the DSN so every pooled connection gets them; foreign
// keys are per connection in SQLite and cascade deletes depend on them.
func openSQLite(cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.DSN != "" {
		return sql.Open("sqlite", cfg.DSN)
	}
	if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	params := url.Values{}
	params.Add("_pragma", "foreign_keys(1)")
	params.Add("_pragma", "busy_timeout(5000)")
	params.Add("_pragma", "journal_mode(WAL)")
	params.Set("_txlock", "immediate")
	return sql.Open("sqlite", cfg.Path+"?"+params.Encode())
}

func ApplyMigrations(db *sql.DB, dialect dbutil.Dialect) error {
	dir := "migrations/sqlite"
	gooseDialect := goose.DialectSQLite3
	if dialect == dbutil.DialectPostgres {
		dir = "migrations/postgres"
		gooseDialect = goose.DialectPostgres
	}
	fsys, err := fs.Sub(migrationsFS, dir)
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(gooseDialect, db, fsys)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	results, err := provider.Up(context.Background())
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	for _, r := range results {
		if r.Error != nil {
			return fmt.Errorf("migration %s: %w", r.Source.Path, r.Error)
		}
	}
	return nil
}

// ResetForTest drops all rows, keeping the schema.
func ResetForTest(db *sql.DB) error {
	tables := []string{
		"tags_on_bookmarks", "bookmarks_in_lists", "bookmark_links", "import_session_bookmarks",
		"import_staging_bookmarks", "import_sessions", "bookmarks", "bookmark_tags", "bookmark_lists",
	}
	for _, table := range tables {
		if _, err := db.Exec("DELETE FROM " + table); err != nil && !strings.Contains(err.Error(), "no such table") {
			return err
		}
	}
	return nil
}
