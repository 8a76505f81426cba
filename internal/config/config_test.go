package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SERVICE_ID", "svc-1")
	t.Setenv("API_URL", "https://api.usion.gg/")
	t.Setenv("SIGNING_KEY_ID", "key-1")
	t.Setenv("SIGNING_SECRET", "secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "3000", cfg.Port)
	assert.Equal(t, "https://api.usion.gg", cfg.APIURL)
	assert.Equal(t, "https://api.usion.gg/.well-known/jwks.json", cfg.JWKSURL)
	assert.Equal(t, 60, cfg.SimTickHz)
	assert.Equal(t, 60, cfg.NetworkHz)
	assert.Equal(t, 60, cfg.FullSnapshotEvery)
	assert.Equal(t, "local", cfg.DeployRegion)
	assert.Empty(t, cfg.AllowedOrigins)
}

func TestLoadMissingRequired(t *testing.T) {
	t.Setenv("SERVICE_ID", "")
	t.Setenv("API_URL", "")
	t.Setenv("SIGNING_KEY_ID", "k")
	t.Setenv("SIGNING_SECRET", "s")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SERVICE_ID")
	assert.Contains(t, err.Error(), "API_URL")
}

func TestLoadExplicitJWKSAndOrigins(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("JWKS_URL", "https://keys.usion.gg/jwks.json")
	t.Setenv("ALLOWED_ORIGINS", "https://game.usion.gg, https://staging.usion.gg ,")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://keys.usion.gg/jwks.json", cfg.JWKSURL)
	assert.Equal(t, []string{"https://game.usion.gg", "https://staging.usion.gg"}, cfg.AllowedOrigins)
}

func TestLoadRejectsInvalidCadence(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SIM_TICK_HZ", "30")
	t.Setenv("NETWORK_HZ", "60")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsMalformedInt(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SIM_TICK_HZ", "sixty")

	_, err := Load()
	assert.Error(t, err)
}

func TestDeployProfileOverrides(t *testing.T) {
	setRequiredEnv(t)

	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"region: eu-west\nsim_tick_hz: 60\nnetwork_hz: 30\nfull_snapshot_every: 15\n",
	), 0o600))
	t.Setenv("DEPLOY_PROFILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "eu-west", cfg.DeployRegion)
	assert.Equal(t, 30, cfg.NetworkHz)
	assert.Equal(t, 15, cfg.FullSnapshotEvery)
}

func TestDeployProfileMissingFile(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DEPLOY_PROFILE", filepath.Join(t.TempDir(), "nope.yaml"))

	_, err := Load()
	assert.Error(t, err)
}
