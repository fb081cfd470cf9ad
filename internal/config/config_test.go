package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesEnvOverride(t *testing.T) {
	viper.Reset()
	t.Setenv("ENGINE_MAX_CONCURRENT", "16")
	t.Setenv("ENGINE_SANDBOX_BACKEND", "container")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.MaxConcurrent)
	assert.Equal(t, "container", cfg.SandboxBackend)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	viper.Reset()
	t.Setenv("ENGINE_SANDBOX_BACKEND", "bogus")
	_, err := Load()
	require.Error(t, err)
}

func TestGetIntEnvFallback(t *testing.T) {
	os.Unsetenv("ENGINE_TEST_INT")
	assert.Equal(t, 42, GetIntEnv("ENGINE_TEST_INT", 42))
}
