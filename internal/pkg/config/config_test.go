package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTuningFromEnvDefaults(t *testing.T) {
	tuning, err := TuningFromEnv()
	require.NoError(t, err)

	assert.Equal(t, 500*time.Millisecond, tuning.PollInterval)
	assert.Equal(t, time.Minute, tuning.SweepInterval)
	assert.Equal(t, 5*time.Minute, tuning.OfflineTimeout)
	assert.Equal(t, 10*time.Second, tuning.SlaveDeadline)
	assert.Equal(t, 720*time.Hour, tuning.NotificationRetention)
}

func TestTuningFromEnvOverrides(t *testing.T) {
	t.Setenv("CORRELATOR_POLL_INTERVAL", "50ms")
	t.Setenv("DEVICE_OFFLINE_TIMEOUT", "30s")

	tuning, err := TuningFromEnv()
	require.NoError(t, err)

	assert.Equal(t, 50*time.Millisecond, tuning.PollInterval)
	assert.Equal(t, 30*time.Second, tuning.OfflineTimeout)
}

func TestTuningFromEnvRejectsGarbage(t *testing.T) {
	t.Setenv("LIVENESS_SWEEP_INTERVAL", "often")

	_, err := TuningFromEnv()
	require.Error(t, err)
}
