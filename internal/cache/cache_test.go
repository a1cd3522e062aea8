package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dronefleet/fleetctl/internal/domain"
	"github.com/dronefleet/fleetctl/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logger.Logger {
	return logger.NewLogger(logger.Config{Level: "error", Format: "text", Output: "stdout"})
}

func newTestMirror(t *testing.T) (*Mirror, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	cfg := DefaultConfig()
	cfg.Addr = mr.Addr()
	m, err := New(cfg, testLogger())
	require.NoError(t, err)
	return m, mr
}

func TestNewFailsWhenRedisUnreachable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:1"
	cfg.DialTimeout = 50 * time.Millisecond
	_, err := New(cfg, testLogger())
	assert.Error(t, err)
}

func TestMirrorDetectedThenGetRoundTrips(t *testing.T) {
	m, mr := newTestMirror(t)
	defer mr.Close()
	defer m.Close()

	drones := map[string]domain.DetectedDrone{
		"10.0.0.1": {IP: "10.0.0.1", Battery: intPtr(80)},
	}
	m.MirrorDetected(context.Background(), drones, time.Minute)

	got, ok := m.Get(context.Background(), "10.0.0.1")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1", got.IP)
	require.NotNil(t, got.Battery)
	assert.Equal(t, 80, *got.Battery)
}

func TestGetMissingKeyReturnsFalse(t *testing.T) {
	m, mr := newTestMirror(t)
	defer mr.Close()
	defer m.Close()

	_, ok := m.Get(context.Background(), "10.0.0.99")
	assert.False(t, ok)
}

func TestMirrorDetectedRespectsTTL(t *testing.T) {
	m, mr := newTestMirror(t)
	defer mr.Close()
	defer m.Close()

	drones := map[string]domain.DetectedDrone{
		"10.0.0.2": {IP: "10.0.0.2"},
	}
	m.MirrorDetected(context.Background(), drones, time.Second)
	mr.FastForward(2 * time.Second)

	_, ok := m.Get(context.Background(), "10.0.0.2")
	assert.False(t, ok)
}

func intPtr(v int) *int { return &v }
