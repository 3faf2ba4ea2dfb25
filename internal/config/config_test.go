package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_DefaultsAndEnvFile(t *testing.T) {
	viper.Reset()
	t.Chdir(t.TempDir())

	envFile := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("LLM_API_KEY=sk-test\nWORKFLOW_SPAWN_DELAY=5s\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("LLM_API_KEY")
		os.Unsetenv("WORKFLOW_SPAWN_DELAY")
	})

	cfg, err := LoadConfig(envFile)
	require.NoError(t, err)

	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, 5*time.Second, cfg.Workflow.SpawnDelay)
	assert.Equal(t, "en", cfg.Workflow.DefaultLanguage)
	assert.Equal(t, []string{"de", "fr", "es", "it", "ja", "ko"}, cfg.Workflow.Locales)
	assert.Equal(t, "postgres", cfg.DB.Driver)
	assert.Equal(t, 120*time.Second, cfg.LLM.Timeout)
}

func TestLoadConfig_MissingEnvFile(t *testing.T) {
	viper.Reset()
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.env"))
	assert.Error(t, err)
}

func TestNormalizeLocales(t *testing.T) {
	got := normalizeLocales([]string{" DE", "fr", "de", "", "en", "ja"}, "en")
	assert.Equal(t, []string{"de", "fr", "ja"}, got)
}

func TestNormalizeOktaIssuer(t *testing.T) {
	assert.Equal(t, "https://acme.okta.com/oauth2/default", normalizeOktaIssuer(" https://acme.okta.com/oauth2/default/ "))
}
