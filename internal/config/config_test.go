package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makeasinger/deckflow/internal/model"
)

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, 5, cfg.Stream.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Stream.BaseDelay)
	assert.Equal(t, 10*time.Second, cfg.Stream.MaxDelay)
	assert.Equal(t, "memory", cfg.Store.Backend)
}

func TestLoad_EnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("DECKFLOW_BASE_URL", "https://api.example.com")
	t.Setenv("DECKFLOW_TOKEN", "tok")
	t.Setenv("STREAM_MAX_ATTEMPTS", "2")
	t.Setenv("STREAM_CLOSE_GRACE", "250ms")

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com", cfg.Client.BaseURL)
	assert.Equal(t, "tok", cfg.Client.AuthToken)
	assert.Equal(t, 2, cfg.Stream.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Stream.CloseGrace)
}

func TestLoad_TokenFromSecretFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	secret := filepath.Join(dir, "token")
	require.NoError(t, os.WriteFile(secret, []byte("from-file\n"), 0o600))
	t.Setenv("DECKFLOW_TOKEN", "")
	t.Setenv("DECKFLOW_TOKEN_FILE", secret)

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Client.AuthToken)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	yaml := "client:\n  base_url: http://localhost:9000\nstream:\n  max_delay: 3s\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000", cfg.Client.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.Stream.MaxDelay)
}

func TestClientConfig_Validate(t *testing.T) {
	err := ClientConfig{}.Validate()
	require.ErrorIs(t, err, model.ErrConfiguration)
	assert.Contains(t, err.Error(), "base URL and auth token")

	err = ClientConfig{BaseURL: "http://x"}.Validate()
	require.ErrorIs(t, err, model.ErrConfiguration)
	assert.Contains(t, err.Error(), "auth token")

	assert.NoError(t, ClientConfig{BaseURL: "http://x", AuthToken: "t"}.Validate())
}

func TestClientConfig_StreamBaseURL(t *testing.T) {
	assert.Equal(t, "wss://api.example.com", ClientConfig{BaseURL: "https://api.example.com/"}.StreamBaseURL())
	assert.Equal(t, "ws://localhost:8000", ClientConfig{BaseURL: "http://localhost:8000"}.StreamBaseURL())
	assert.Equal(t, "ws://stream:9", ClientConfig{BaseURL: "http://x", WSURL: "ws://stream:9/"}.StreamBaseURL())
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, added in Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
