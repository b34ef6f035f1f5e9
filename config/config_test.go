package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var engineEnvVars = []string{
	"UPLOADENGINE_REGION",
	"UPLOADENGINE_MAX_POOL_CONNECTIONS",
	"UPLOADENGINE_REFRESH_MARGIN_SECONDS",
	"UPLOADENGINE_MAX_CACHE_SIZE",
	"UPLOADENGINE_MAX_UPLOAD_LIMIT",
	"UPLOADENGINE_MAX_UPLOAD_RETRIES",
	"ENVIRONMENT",
}

func withCleanEnv(t *testing.T) {
	t.Helper()
	original := make(map[string]string, len(engineEnvVars))
	for _, key := range engineEnvVars {
		original[key] = os.Getenv(key)
		os.Unsetenv(key)
	}
	t.Cleanup(func() {
		for key, val := range original {
			if val != "" {
				os.Setenv(key, val)
			} else {
				os.Unsetenv(key)
			}
		}
	})
}

func TestNewDefaults(t *testing.T) {
	withCleanEnv(t)

	cfg := New()

	assert.Equal(t, "us-east-1", cfg.Region)
	assert.Equal(t, 4, cfg.MaxPoolConnections)
	assert.Equal(t, 600*time.Second, cfg.RefreshMargin)
	assert.Equal(t, 1000, cfg.MaxCacheSize)
	assert.Equal(t, 100, cfg.MaxUploadLimit)
	assert.Equal(t, 3, cfg.MaxUploadRetries)
	assert.Equal(t, 2*time.Second, cfg.RetryBackoffUnit)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
}

func TestNewWithEnvironmentOverrides(t *testing.T) {
	withCleanEnv(t)

	os.Setenv("UPLOADENGINE_REGION", "eu-west-1")
	os.Setenv("UPLOADENGINE_MAX_CACHE_SIZE", "50")
	os.Setenv("UPLOADENGINE_MAX_UPLOAD_LIMIT", "10")

	cfg := New()

	assert.Equal(t, "eu-west-1", cfg.Region)
	assert.Equal(t, 50, cfg.MaxCacheSize)
	assert.Equal(t, 10, cfg.MaxUploadLimit)
}
