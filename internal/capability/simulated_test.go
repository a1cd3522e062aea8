package capability

import (
	"context"
	"testing"
	"time"

	"github.com/dronefleet/fleetctl/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdapter() *SimulatedDroneAdapter {
	cfg := DefaultSimConfig()
	cfg.TickRate = time.Millisecond
	return NewSimulatedDroneAdapter(cfg, nil)
}

func TestSimulatedConnectDisconnect(t *testing.T) {
	s := newTestAdapter()
	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, s.Connect(context.Background())) // idempotent
	require.NoError(t, s.Disconnect(context.Background()))
}

func TestSimulatedMoveRequiresFlying(t *testing.T) {
	s := newTestAdapter()
	require.NoError(t, s.Connect(context.Background()))
	err := s.Move(context.Background(), DirForward, 50, 50)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestSimulatedTakeoffThenMoveIntegratesPoseTowardTarget(t *testing.T) {
	s := newTestAdapter()
	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, s.Takeoff(context.Background()))
	require.NoError(t, s.Move(context.Background(), DirForward, 50, 50))

	assert.Eventually(t, func() bool {
		tele, err := s.GetTelemetry(context.Background())
		return err == nil && tele.Pose.Y >= 49.9
	}, 3*time.Second, time.Millisecond) // 50 cm at 50 cm/s needs a full second of ticks
}

func TestSimulatedMoveRejectsOutOfBounds(t *testing.T) {
	cfg := DefaultSimConfig()
	cfg.Bounds = domain.FlightBounds{MinX: -10, MaxX: 10, MinY: -10, MaxY: 10, MinZ: 0, MaxZ: 10}
	s := NewSimulatedDroneAdapter(cfg, nil)
	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, s.Takeoff(context.Background()))

	err := s.Move(context.Background(), DirForward, 100, 50)
	require.Error(t, err)
	fe, ok := domain.AsFleetError(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeBoundsViolation, fe.Code)
}

func TestSimulatedEmergencyStopResetsTargetToCurrentPose(t *testing.T) {
	s := newTestAdapter()
	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, s.Takeoff(context.Background()))
	require.NoError(t, s.Move(context.Background(), DirForward, 50, 50))

	require.NoError(t, s.EmergencyStop(context.Background()))
	tele, err := s.GetTelemetry(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tele.Pose.Y, s.target.Y)
}

func TestSimulatedCaptureFrameRequiresStreaming(t *testing.T) {
	s := newTestAdapter()
	_, err := s.CaptureFrame(context.Background())
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	require.NoError(t, s.StartStream(context.Background()))
	frame, err := s.CaptureFrame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 640, frame.Width)
	assert.Equal(t, 480, frame.Height)
}

func TestSimulatedBatteryDrainsWhileMotorsOn(t *testing.T) {
	cfg := DefaultSimConfig()
	cfg.TickRate = time.Millisecond
	cfg.BatteryDrainPerSecActive = 50 // fast drain for the test
	s := NewSimulatedDroneAdapter(cfg, nil)
	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, s.Takeoff(context.Background()))

	assert.Eventually(t, func() bool {
		tele, _ := s.GetTelemetry(context.Background())
		return tele.Battery < 100
	}, time.Second, time.Millisecond)
}
