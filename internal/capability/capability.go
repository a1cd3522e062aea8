// Package capability defines the uniform operation set satisfied by real and
// simulated drone backends and provides the two concrete variants.
package capability

import (
	"context"
	"time"

	"github.com/dronefleet/fleetctl/internal/domain"
)

// Direction is a relative movement/rotation direction.
type Direction string

const (
	DirForward Direction = "forward"
	DirBack    Direction = "back"
	DirLeft    Direction = "left"
	DirRight   Direction = "right"
	DirUp      Direction = "up"
	DirDown    Direction = "down"

	DirClockwise        Direction = "clockwise"
	DirCounterclockwise Direction = "counterclockwise"
)

// AltitudeMode selects how SetAltitude interprets its target.
type AltitudeMode string

const (
	AltitudeAbsolute AltitudeMode = "absolute"
	AltitudeRelative AltitudeMode = "relative"
)

// Frame is one decoded camera frame, real or synthetic.
type Frame struct {
	ID        uint64
	CapturedAt time.Time
	Width      int
	Height     int
	Pixels     []byte // raw RGB/YUV buffer, format is backend-specific
}

// Telemetry is the live state a backend can report on demand, independent of
// the supervisor's own cached DroneRecord.
type Telemetry struct {
	Pose     domain.Pose
	Velocity domain.Velocity
	Battery  int
	At       time.Time
}

// DroneCapability is the polymorphic contract every backend — real hardware
// or simulation — satisfies. Every method is idempotent on terminal states
// where that's meaningful: Connect on an already-connected backend is a
// no-op success, Land on a landed backend is a no-op success.
type DroneCapability interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Takeoff(ctx context.Context) error
	Land(ctx context.Context) error
	EmergencyStop(ctx context.Context) error

	Move(ctx context.Context, dir Direction, distanceCm float64, speedCmS float64) error
	Rotate(ctx context.Context, dir Direction, angleDeg float64) error
	SetAltitude(ctx context.Context, targetCm float64, mode AltitudeMode) error

	// GoToOffset flies a straight line to a point x,y,z centimeters from the
	// current position at speedCmS (Tello SDK "go x y z speed").
	GoToOffset(ctx context.Context, x, y, z, speedCmS float64) error
	// RCControl sets the four joystick-style velocity axes directly, for
	// continuous manual flight (Tello SDK "rc a b c d"). Unlike Move/Rotate
	// this does not block for completion — it just sets the current stick
	// position until the next call changes it.
	RCControl(ctx context.Context, leftRight, forwardBack, upDown, yaw float64) error

	GetTelemetry(ctx context.Context) (Telemetry, error)
	CaptureFrame(ctx context.Context) (Frame, error)
	StartStream(ctx context.Context) error
	StopStream(ctx context.Context) error

	// Kind identifies the backend for logging/status payloads.
	Kind() string
}

// FrameSource lets a SimulatedDroneAdapter be given a pluggable synthetic
// frame generator instead of the built-in solid-color one — a vision
// pipeline would plug in here.
type FrameSource interface {
	NextFrame(pose domain.Pose) ([]byte, int, int)
}
