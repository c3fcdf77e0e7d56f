package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{"PORT", "COLLAB_ADDR", "COLLAB_DB_PATH", "COLLAB_STORAGE_ENABLED", "COLLAB_LOG_LEVEL", "COLLAB_LOG_FORMAT"} {
		t.Setenv(k, "")
	}
}

func write(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1000, cfg.Rooms.HistoryCap)
	assert.Equal(t, 100, cfg.Rooms.SnapshotSize)
	assert.Equal(t, int64(1<<20), cfg.Limits.MaxMessageSize)
	assert.Equal(t, time.Hour, cfg.TokenTTL())
}

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadFormats(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name string
		body string
	}{
		{"c.toml", "[server]\naddr = \":9000\"\n[rooms]\nhistory_cap = 50\nsnapshot_size = 10\n"},
		{"c.json", `{"server":{"addr":":9000"},"rooms":{"history_cap":50,"snapshot_size":10}}`},
		{"c.yaml", "server:\n  addr: \":9000\"\nrooms:\n  history_cap: 50\n  snapshot_size: 10\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(write(t, tt.name, tt.body))
			require.NoError(t, err)
			assert.Equal(t, ":9000", cfg.Server.Addr)
			assert.Equal(t, 50, cfg.Rooms.HistoryCap)
			assert.Equal(t, 10, cfg.Rooms.SnapshotSize)
			// Untouched sections keep defaults.
			assert.Equal(t, 100, cfg.Limits.MessagesPerSecond)
		})
	}
}

func TestLoadRejectsUnknownExtension(t *testing.T) {
	clearEnv(t)
	_, err := Load(write(t, "c.ini", "x=1"))
	assert.Error(t, err)
}

func TestLoadValidates(t *testing.T) {
	clearEnv(t)
	_, err := Load(write(t, "c.toml", "[rooms]\nhistory_cap = 10\nsnapshot_size = 20\n"))
	require.Error(t, err)

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Equal(t, "rooms.snapshot_size", verrs[0].Field)
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "3000")
	t.Setenv("COLLAB_DB_PATH", "/tmp/x.db")
	t.Setenv("COLLAB_LOG_LEVEL", "debug")
	t.Setenv("COLLAB_LOG_FORMAT", "json")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()
	assert.Equal(t, ":3000", cfg.Server.Addr)
	assert.Equal(t, "/tmp/x.db", cfg.Storage.Path)
	assert.True(t, cfg.Storage.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	t.Setenv("COLLAB_ADDR", "127.0.0.1:4000")
	t.Setenv("COLLAB_STORAGE_ENABLED", "false")
	cfg.ApplyEnvOverrides()
	assert.Equal(t, "127.0.0.1:4000", cfg.Server.Addr)
	assert.False(t, cfg.Storage.Enabled)
}

func TestValidateCollectsAll(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "loud"
	cfg.Logging.Format = "xml"
	cfg.Storage.Enabled = true
	cfg.Storage.Path = ""

	err := cfg.Validate()
	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Len(t, verrs, 3)
}

func TestWatchReloads(t *testing.T) {
	clearEnv(t)
	path := write(t, "c.toml", "[logging]\nlevel = \"info\"\n")

	l := NewLoader(path)
	_, err := l.Load()
	require.NoError(t, err)

	changed := make(chan *Config, 4)
	l.OnChange(func(c *Config) { changed <- c })
	require.NoError(t, l.Watch())
	defer l.Close()

	require.NoError(t, os.WriteFile(path, []byte("[logging]\nlevel = \"debug\"\n"), 0o644))

	select {
	case cfg := <-changed:
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "debug", l.Config().Logging.Level)
	case <-time.After(3 * time.Second):
		t.Fatal("no reload")
	}
}

func TestWatchReportsBadReload(t *testing.T) {
	clearEnv(t)
	path := write(t, "c.toml", "")

	l := NewLoader(path)
	_, err := l.Load()
	require.NoError(t, err)
	require.NoError(t, l.Watch())
	defer l.Close()

	require.NoError(t, os.WriteFile(path, []byte("[logging]\nlevel = \"loud\"\n"), 0o644))

	select {
	case err := <-l.Errors():
		assert.Error(t, err)
		assert.Equal(t, "info", l.Config().Logging.Level)
	case <-time.After(3 * time.Second):
		t.Fatal("no error reported")
	}
}

func TestValidateRejectsZeroSendBuffer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Limits.SendBuffer = 0

	err := cfg.Validate()
	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	require.Len(t, verrs, 1)
	assert.Equal(t, "limits.send_buffer", verrs[0].Field)
}
