package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/dronefleet/fleetctl/internal/testsupport"
	"github.com/dronefleet/fleetctl/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logger.Logger {
	return logger.NewLogger(logger.Config{Level: "error", Format: "text", Output: "stdout"})
}

func TestScanFindsOnlyReachableHints(t *testing.T) {
	prober := testsupport.NewFakeProber()
	prober.Results["10.0.0.1"] = testsupport.ProbeResult{Battery: 80, Signal: -40}

	cfg := DefaultConfig()
	cfg.HintIPs = []string{"10.0.0.1", "10.0.0.2"}
	d := New(cfg, prober, testLogger(), nil)

	snap, err := d.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, snap, 1)
	drone := snap["10.0.0.1"]
	require.NotNil(t, drone.Battery)
	assert.Equal(t, 80, *drone.Battery)
}

func TestScanMirrorsDetectedDrones(t *testing.T) {
	prober := testsupport.NewFakeProber()
	prober.Results["10.0.0.1"] = testsupport.ProbeResult{Battery: 50, Signal: -50}
	mirror := &testsupport.FakeMirror{}

	cfg := DefaultConfig()
	cfg.HintIPs = []string{"10.0.0.1"}
	d := New(cfg, prober, testLogger(), mirror)

	_, err := d.Scan(context.Background())
	require.NoError(t, err)
	assert.Len(t, mirror.Mirrored, 1)
}

func TestScanWithinTTLReturnsCachedResultWithoutReprobing(t *testing.T) {
	prober := testsupport.NewFakeProber()
	prober.Results["10.0.0.1"] = testsupport.ProbeResult{Battery: 80, Signal: -40}

	cfg := DefaultConfig()
	cfg.HintIPs = []string{"10.0.0.1"}
	cfg.ScanTTL = time.Hour
	d := New(cfg, prober, testLogger(), nil)

	_, err := d.Scan(context.Background())
	require.NoError(t, err)
	_, err = d.Scan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, len(prober.Calls))
}

func TestSnapshotMarksStaleEntries(t *testing.T) {
	prober := testsupport.NewFakeProber()
	prober.Results["10.0.0.1"] = testsupport.ProbeResult{Battery: 80}

	cfg := DefaultConfig()
	cfg.HintIPs = []string{"10.0.0.1"}
	cfg.ScanTTL = time.Nanosecond
	d := New(cfg, prober, testLogger(), nil)

	_, err := d.Scan(context.Background())
	require.NoError(t, err)

	time.Sleep(time.Millisecond)
	snap := d.Snapshot()
	assert.Equal(t, "stale", string(snap["10.0.0.1"].Availability))
}

func TestStartStopAutoScan(t *testing.T) {
	prober := testsupport.NewFakeProber()
	cfg := DefaultConfig()
	d := New(cfg, prober, testLogger(), nil)

	require.NoError(t, d.StartAutoScan(context.Background(), 3600))
	assert.True(t, d.AutoScanRunning())
	d.StopAutoScan()
	assert.False(t, d.AutoScanRunning())
}
