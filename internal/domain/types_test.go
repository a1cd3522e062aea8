package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDroneIDValid(t *testing.T) {
	assert.True(t, DroneID("drone-1").Valid())
	assert.True(t, DroneID("a").Valid())
	assert.False(t, DroneID("").Valid())
	assert.False(t, DroneID("has a space").Valid())
	assert.False(t, DroneID("bad/char").Valid())
}

func TestFlightBoundsContains(t *testing.T) {
	b := FlightBounds{MinX: -10, MaxX: 10, MinY: -10, MaxY: 10, MinZ: 0, MaxZ: 50}
	assert.True(t, b.Contains(Pose{X: 0, Y: 0, Z: 0}))
	assert.True(t, b.Contains(Pose{X: 10, Y: -10, Z: 50})) // inclusive boundary
	assert.False(t, b.Contains(Pose{X: 10.1, Y: 0, Z: 0}))
	assert.False(t, b.Contains(Pose{X: 0, Y: 0, Z: -1}))
}

func TestDefaultSafetyConfig(t *testing.T) {
	cfg := DefaultSafetyConfig()
	assert.Equal(t, 30, cfg.MinBattery)
	assert.Equal(t, 10, cfg.EmergencyBattery)
	assert.Equal(t, 15*time.Minute, cfg.MaxFlightTime)
	assert.Equal(t, 100.0, cfg.MaxVelocityCmS)
}

func TestDroneRecordRecordViolationTrims(t *testing.T) {
	var r DroneRecord
	for i := 0; i < maxSafetyViolations+10; i++ {
		r.RecordViolation(SafetyViolation{Kind: "test", Severity: SeverityLow})
	}
	assert.Len(t, r.SafetyViolations, maxSafetyViolations)
}

func TestDroneRecordCloneIsIndependent(t *testing.T) {
	r := DroneRecord{ID: "d1"}
	r.RecordViolation(SafetyViolation{Kind: "a"})
	clone := r.Clone()
	clone.SafetyViolations[0].Kind = "mutated"
	assert.Equal(t, "a", r.SafetyViolations[0].Kind)
}
