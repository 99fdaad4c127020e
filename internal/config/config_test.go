package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{"database":{"driver":"sqlite","path":"/tmp/bk.db"},"jwt_secret":"s"}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, "info", cfg.LogConfig.Level)
	require.Equal(t, "local", cfg.FileStore.Type)
	require.Equal(t, 20, cfg.Worker.BatchSize)
	require.Equal(t, 3, cfg.Worker.MaxAttempts)
	require.Equal(t, 5*time.Minute, cfg.Worker.LeaseTimeout())
	require.True(t, cfg.Worker.IsEnabled())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("BKIMPORT_PORT", "9191")
	t.Setenv("BKIMPORT_WORKER_MAX_ATTEMPTS", "7")
	path := writeConfig(t, `{"database":{"driver":"sqlite","path":"/tmp/bk.db"},"port":8000}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9191, cfg.Port)
	require.Equal(t, 7, cfg.Worker.MaxAttempts)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown driver", `{"database":{"driver":"mysql"}}`},
		{"sqlite without path", `{"database":{"driver":"sqlite"}}`},
		{"postgres without host", `{"database":{"driver":"postgres"}}`},
		{"bad file store", `{"database":{"path":"/tmp/x.db"},"file_store":{"type":"ftp"}}`},
		{"timeout not below lease", `{"database":{"path":"/tmp/x.db"},"worker":{"lease_timeout_ms":1000,"collaborator_timeout_ms":1000}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
		})
	}
}
