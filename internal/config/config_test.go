package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"prizedraw/internal/draw"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.AllowOrigins)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 5*time.Second, cfg.Redis.LockTTL)
	assert.Equal(t, time.Hour, cfg.Session.IdleTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Session.SweepInterval)

	policy, err := cfg.Draw.Policy()
	require.NoError(t, err)
	assert.Equal(t, draw.RepeatNone, policy)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "lottery.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9000"
store:
  driver: postgres
  dsn: postgres://file
draw:
  repeat_wins: per_prize
session:
  idle_timeout: 30m
`), 0o600))

	t.Setenv("LOTTERY_STORE_DSN", "postgres://env")
	t.Setenv("LOTTERY_REDIS_ADDR", "localhost:6379")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://env", cfg.Store.DSN, "environment wins over the file")
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 30*time.Minute, cfg.Session.IdleTimeout)

	policy, err := cfg.Draw.Policy()
	require.NoError(t, err)
	assert.Equal(t, draw.RepeatPerPrize, policy)
}

func TestLoadRejectsBadSettings(t *testing.T) {
	t.Chdir(t.TempDir())

	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown driver", map[string]string{"LOTTERY_STORE_DRIVER": "sqlite"}},
		{"postgres without dsn", map[string]string{"LOTTERY_STORE_DRIVER": "postgres"}},
		{"unknown repeat policy", map[string]string{"LOTTERY_DRAW_REPEAT_WINS": "always"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingNamedFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}
