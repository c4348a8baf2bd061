package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("SOZURI_API_URL", "https://api.example.test")
	t.Setenv("SOZURI_RECONNECT_BASE_DELAY", "250ms")
	t.Setenv("SOZURI_MAX_RECONNECT_ATTEMPTS", "7")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test, http://b.test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.test", cfg.APIBaseURL)
	assert.Equal(t, 250*time.Millisecond, cfg.ReconnectBaseDelay)
	assert.Equal(t, 7, cfg.MaxReconnectAttempts)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.AllowedOrigins)
	assert.Equal(t, 30*time.Second, cfg.PingInterval)
}

func TestApplyFileOverlaysValues(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "console.yaml")
	require.NoError(t, os.WriteFile(path, []byte("websocket_url: wss://rt.example.test/ws\ntyping_ttl: 3s\n"), 0o600))

	require.NoError(t, cfg.ApplyFile(path))
	assert.Equal(t, "wss://rt.example.test/ws", cfg.WebSocketURL)
	assert.Equal(t, 3*time.Second, cfg.TypingTTL)
	assert.Equal(t, "http://localhost:8080", cfg.APIBaseURL)
}

func TestApplyFileMissing(t *testing.T) {
	cfg := &Config{}
	err := cfg.ApplyFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "config file not found")
}

func TestValidate(t *testing.T) {
	cfg := &Config{APIBaseURL: "http://x", WebSocketURL: "ws://x"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, time.Second, cfg.ReconnectBaseDelay)
	assert.Equal(t, 30*time.Second, cfg.ReconnectMaxDelay)
	assert.Equal(t, 20, cfg.RequestBurst)

	cfg.ReconnectBaseDelay = time.Minute
	assert.Error(t, cfg.Validate())

	bad := &Config{WebSocketURL: "ws://x"}
	assert.Error(t, bad.Validate())
}

func TestDatabasePathHelpers(t *testing.T) {
	cfg := &Config{DatabaseURL: "sqlite:///tmp/chatd.db"}
	assert.Equal(t, "/tmp/chatd.db", cfg.CleanDatabasePath())

	cfg.UpdateDatabasePath("/tmp/loadtest.db")
	assert.Equal(t, "sqlite:///tmp/loadtest.db", cfg.DatabaseURL)
}

func TestLoadDotEnvMissingFile(t *testing.T) {
	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), ".env")))
}
