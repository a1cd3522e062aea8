package router

import (
	"context"
	"testing"
	"time"

	"github.com/dronefleet/fleetctl/internal/capability"
	"github.com/dronefleet/fleetctl/internal/domain"
	"github.com/dronefleet/fleetctl/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logger.Logger {
	return logger.NewLogger(logger.Config{Level: "error", Format: "text", Output: "stdout"})
}

type fakeSupervisor struct {
	failTakeoffTimes int
	takeoffCalls     int
	record           domain.DroneRecord
}

func (f *fakeSupervisor) Connect(ctx context.Context) error    { return nil }
func (f *fakeSupervisor) Disconnect(ctx context.Context) error { return nil }
func (f *fakeSupervisor) Takeoff(ctx context.Context) error {
	f.takeoffCalls++
	if f.takeoffCalls <= f.failTakeoffTimes {
		return domain.NewTransportError(domain.CodeUnreachable, "unreachable", "no response")
	}
	return nil
}
func (f *fakeSupervisor) Land(ctx context.Context) error          { return nil }
func (f *fakeSupervisor) EmergencyStop(ctx context.Context) error { return nil }
func (f *fakeSupervisor) Move(ctx context.Context, dir capability.Direction, distanceCm, speedCmS float64) error {
	return nil
}
func (f *fakeSupervisor) Rotate(ctx context.Context, dir capability.Direction, angleDeg float64) error {
	return nil
}
func (f *fakeSupervisor) SetAltitude(ctx context.Context, targetCm float64, mode capability.AltitudeMode) error {
	return nil
}
func (f *fakeSupervisor) GoXYZ(ctx context.Context, x, y, z, speedCmS float64) error { return nil }
func (f *fakeSupervisor) RCControl(ctx context.Context, leftRight, forwardBack, upDown, yaw float64) error {
	return nil
}
func (f *fakeSupervisor) GetRecord() domain.DroneRecord { return f.record }

type fakeRegistry struct {
	drones map[domain.DroneID]*fakeSupervisor
	sole   domain.DroneID
	hasSole bool
}

func (r *fakeRegistry) Get(id domain.DroneID) (SupervisorHandle, bool) {
	s, ok := r.drones[id]
	return s, ok
}

func (r *fakeRegistry) SoleConnected() (domain.DroneID, bool) {
	return r.sole, r.hasSole
}

type allowAll struct{}

func (allowAll) Authorize(Principal, domain.Action) bool { return true }

type denyAll struct{}

func (denyAll) Authorize(Principal, domain.Action) bool { return false }

func TestExecuteTakeoffSucceeds(t *testing.T) {
	sup := &fakeSupervisor{}
	reg := &fakeRegistry{drones: map[domain.DroneID]*fakeSupervisor{"drone-1": sup}}
	r := New(DefaultConfig(), reg, allowAll{}, testLogger())

	res := r.Execute(context.Background(), domain.Intent{Action: domain.ActionTakeoff, TargetDrone: "drone-1"}, Principal{ID: "op"})
	assert.True(t, res.Success)
	assert.NoError(t, res.Err)
}

func TestExecuteDeniesUnauthorized(t *testing.T) {
	sup := &fakeSupervisor{}
	reg := &fakeRegistry{drones: map[domain.DroneID]*fakeSupervisor{"drone-1": sup}}
	r := New(DefaultConfig(), reg, denyAll{}, testLogger())

	res := r.Execute(context.Background(), domain.Intent{Action: domain.ActionTakeoff, TargetDrone: "drone-1"}, Principal{ID: "op"})
	require.Error(t, res.Err)
	fe, ok := domain.AsFleetError(res.Err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeUnauthorized, fe.Code)
}

func TestExecuteUnknownDrone(t *testing.T) {
	reg := &fakeRegistry{drones: map[domain.DroneID]*fakeSupervisor{}}
	r := New(DefaultConfig(), reg, allowAll{}, testLogger())

	res := r.Execute(context.Background(), domain.Intent{Action: domain.ActionTakeoff, TargetDrone: "ghost"}, Principal{ID: "op"})
	require.Error(t, res.Err)
	fe, ok := domain.AsFleetError(res.Err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeMalformedID, fe.Code)
}

func TestExecuteResolvesSoleConnectedWhenTargetOmitted(t *testing.T) {
	sup := &fakeSupervisor{}
	reg := &fakeRegistry{drones: map[domain.DroneID]*fakeSupervisor{"drone-1": sup}, sole: "drone-1", hasSole: true}
	r := New(DefaultConfig(), reg, allowAll{}, testLogger())

	res := r.Execute(context.Background(), domain.Intent{Action: domain.ActionLand}, Principal{ID: "op"})
	assert.True(t, res.Success)
}

func TestExecuteRejectsAmbiguousTarget(t *testing.T) {
	reg := &fakeRegistry{drones: map[domain.DroneID]*fakeSupervisor{}, hasSole: false}
	r := New(DefaultConfig(), reg, allowAll{}, testLogger())

	res := r.Execute(context.Background(), domain.Intent{Action: domain.ActionLand}, Principal{ID: "op"})
	require.Error(t, res.Err)
	fe, ok := domain.AsFleetError(res.Err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeInvalidParameter, fe.Code)
}

func TestExecuteRetriesTransportErrorsThenSucceeds(t *testing.T) {
	sup := &fakeSupervisor{failTakeoffTimes: 1}
	reg := &fakeRegistry{drones: map[domain.DroneID]*fakeSupervisor{"drone-1": sup}}
	cfg := DefaultConfig()
	cfg.RetryBaseDelay = 1 * time.Millisecond
	r := New(cfg, reg, allowAll{}, testLogger())

	res := r.Execute(context.Background(), domain.Intent{Action: domain.ActionTakeoff, TargetDrone: "drone-1"}, Principal{ID: "op"})
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Attempts)
}

func TestExecuteGivesUpAfterMaxRetries(t *testing.T) {
	sup := &fakeSupervisor{failTakeoffTimes: 99}
	reg := &fakeRegistry{drones: map[domain.DroneID]*fakeSupervisor{"drone-1": sup}}
	cfg := DefaultConfig()
	cfg.MaxRetries = 1
	cfg.RetryBaseDelay = 1 * time.Millisecond
	r := New(cfg, reg, allowAll{}, testLogger())

	res := r.Execute(context.Background(), domain.Intent{Action: domain.ActionTakeoff, TargetDrone: "drone-1"}, Principal{ID: "op"})
	require.Error(t, res.Err)
	assert.Equal(t, 2, res.Attempts) // initial try + 1 retry
}

func TestExecuteFallsBackToAlternativeOnLowConfidenceValidationError(t *testing.T) {
	reg := &fakeRegistry{drones: map[domain.DroneID]*fakeSupervisor{"drone-1": {}}}
	r := New(DefaultConfig(), reg, allowAll{}, testLogger())

	intent := domain.Intent{
		Action: "not_a_real_action", // forces dispatch's default branch -> ValidationError
		Confidence: 0.1,
		TargetDrone: "drone-1",
		Alternatives: []domain.Alternative{{Action: domain.ActionLand, Confidence: 0.5}},
	}
	res := r.Execute(context.Background(), intent, Principal{ID: "op"})
	assert.True(t, res.Success)
	assert.True(t, res.UsedAlternative)
}

func TestAnalyticsAccumulates(t *testing.T) {
	sup := &fakeSupervisor{}
	reg := &fakeRegistry{drones: map[domain.DroneID]*fakeSupervisor{"drone-1": sup}}
	r := New(DefaultConfig(), reg, allowAll{}, testLogger())

	r.Execute(context.Background(), domain.Intent{Action: domain.ActionTakeoff, TargetDrone: "drone-1"}, Principal{ID: "op"})
	r.Execute(context.Background(), domain.Intent{Action: domain.ActionLand, TargetDrone: "drone-1"}, Principal{ID: "op"})

	summary := r.Analytics()
	assert.Equal(t, 2, summary.Count)
	assert.Equal(t, 1.0, summary.SuccessRatio)
}

func TestDirectionFromParamsRoundTrips(t *testing.T) {
	assert.Equal(t, capability.DirForward, directionFromParams(map[string]float64{"direction": 0}))
	assert.Equal(t, capability.DirUp, directionFromParams(map[string]float64{"direction": 4}))
}

func TestRotationFromParams(t *testing.T) {
	assert.Equal(t, capability.DirClockwise, rotationFromParams(map[string]float64{"direction": 0}))
	assert.Equal(t, capability.DirCounterclockwise, rotationFromParams(map[string]float64{"direction": 1}))
}
