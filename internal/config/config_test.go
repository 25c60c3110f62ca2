package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8081", cfg.HTTPPort)
	assert.Equal(t, 30*time.Second, cfg.QRRotation)
	assert.Equal(t, 3*time.Hour, cfg.TotalSessionLimit)
	assert.Equal(t, 70, cfg.ConfidenceThreshold)
	assert.True(t, cfg.CredentialSkip)
	assert.Equal(t, 20, cfg.RedisPoolSize)
	assert.Equal(t, 500*time.Millisecond, cfg.RedisTimeout)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("QR_ROTATION", "10s")
	t.Setenv("CONFIDENCE_THRESHOLD", "80")
	t.Setenv("TRUSTED_CIDRS", "10.0.0.0/8, 192.168.1.0/24 ,")
	t.Setenv("GEOFENCE_RADIUS_M", "250")
	t.Setenv("REDIS_POOL_SIZE", "64")
	t.Setenv("REDIS_TIMEOUT", "2s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.QRRotation)
	assert.Equal(t, 64, cfg.RedisPoolSize)
	assert.Equal(t, 2*time.Second, cfg.RedisTimeout)

	p := cfg.Policy()
	require.NotNil(t, p.ConfidenceThreshold)
	assert.Equal(t, 80, *p.ConfidenceThreshold)
	assert.Equal(t, 250.0, p.GeofenceRadiusM)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.0/24"}, p.TrustedCIDRs)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("CONFIDENCE_THRESHOLD", "150")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsDevKeyInProduction(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	_, err := Load()
	assert.Error(t, err)
}
