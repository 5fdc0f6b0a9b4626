package agent

import (
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) *log.Logger {
	t.Helper()
	return log.New(os.Stderr, t.Name()+": ", log.LstdFlags)
}

func writeConfigFile(t *testing.T, cfg string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.conf")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfigFile(t, `{"api":"https://warden.example.com","verify_key":"abc"}`)

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":8090", cfg.Listen)
	assert.Equal(t, defaultStateDir, cfg.StateDir)
}

func TestLoadConfigRequiresAPI(t *testing.T) {
	path := writeConfigFile(t, `{"verify_key":"abc"}`)

	_, err := loadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api")
}

func TestLoadConfigRequiresVerifyKey(t *testing.T) {
	path := writeConfigFile(t, `{"api":"https://warden.example.com"}`)

	_, err := loadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "verify_key")
}

func TestLoadConfigRejectsPlainHTTP(t *testing.T) {
	path := writeConfigFile(t, `{"api":"http://warden.example.com","verify_key":"abc"}`)

	_, err := loadConfig(path)
	require.Error(t, err)
}

func TestEnsureHTTPS(t *testing.T) {
	require.NoError(t, ensureHTTPS("https://warden.example.com", false))
	require.Error(t, ensureHTTPS("http://warden.example.com", false))
	require.NoError(t, ensureHTTPS("http://localhost:8080", true))
	require.Error(t, ensureHTTPS("warden.example.com", false))
}
