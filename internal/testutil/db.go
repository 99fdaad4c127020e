package testutil

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/xxxsen/bkimport/internal/config"
	"github.com/xxxsen/bkimport/internal/db"
	"github.com/xxxsen/bkimport/internal/pkg/dbutil"
)

// OpenTestDB returns a migrated database. It uses a SQLite file under
// t.TempDir() unless TEST_DB_HOST points at a Postgres server.
func OpenTestDB(t *testing.T) (*sql.DB, dbutil.Dialect, func()) {
	t.Helper()
	cfg := config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "bkimport.db"),
	}
	if host := os.Getenv("TEST_DB_HOST"); host != "" {
		cfg = config.DatabaseConfig{
			Driver:   "postgres",
			Host:     host,
			Port:     5432,
			User:     "bkimport",
			Password: "bkimport_pass",
			DBName:   "bkimport_test",
			SSLMode:  "disable",
		}
	}
	conn, dialect, err := db.Open(cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.ApplyMigrations(conn, dialect); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	if dialect == dbutil.DialectPostgres {
		if err := db.ResetForTest(conn); err != nil {
			t.Fatalf("reset: %v", err)
		}
	}
	return conn, dialect, func() {
		_ = conn.Close()
	}
}
