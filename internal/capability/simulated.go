package capability

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/dronefleet/fleetctl/internal/domain"
)

// SimConfig parameterizes the kinematic model and battery drain constants of
// a SimulatedDroneAdapter.
type SimConfig struct {
	TickRate        time.Duration // default 10ms (100Hz)
	MaxVelocityCmS  float64
	MaxAccelCmS2    float64
	BatteryDrainPerSecActive float64 // percent/sec while motors active
	InitialPose     domain.Pose
	Bounds          domain.FlightBounds
}

func DefaultSimConfig() SimConfig {
	return SimConfig{
		TickRate:                 10 * time.Millisecond,
		MaxVelocityCmS:           100,
		MaxAccelCmS2:             200,
		BatteryDrainPerSecActive: 0.05,
		Bounds:                   domain.FlightBounds{MinX: -500, MaxX: 500, MinY: -500, MaxY: 500, MinZ: 0, MaxZ: 500},
	}
}

// SimulatedDroneAdapter maintains a 6-DOF kinematic model: each operation
// sets a new target pose, and a physics tick integrates the current pose
// toward it at bounded velocity. No network is involved. Flight operations
// fail with InvalidState when the drone is not flying and with a Safety
// bounds-violation error for an out-of-bounds target; CaptureFrame fails
// with InvalidState when the stream is off.
type SimulatedDroneAdapter struct {
	cfg         SimConfig
	frameSource FrameSource

	mu        sync.Mutex
	connected bool
	flying    bool
	streaming bool
	motorsOn  bool

	pose     domain.Pose
	velocity domain.Velocity
	target   domain.Pose
	battery  float64

	stopTick chan struct{}
	frameSeq uint64
}

func NewSimulatedDroneAdapter(cfg SimConfig, frameSource FrameSource) *SimulatedDroneAdapter {
	return &SimulatedDroneAdapter{
		cfg:         cfg,
		frameSource: frameSource,
		pose:        cfg.InitialPose,
		target:      cfg.InitialPose,
		battery:     100,
	}
}

func (s *SimulatedDroneAdapter) Kind() string { return "simulation" }

func (s *SimulatedDroneAdapter) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return nil
	}
	s.connected = true
	s.stopTick = make(chan struct{})
	go s.tickLoop(s.stopTick)
	return nil
}

func (s *SimulatedDroneAdapter) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil
	}
	close(s.stopTick)
	s.connected = false
	s.flying = false
	s.motorsOn = false
	return nil
}

func (s *SimulatedDroneAdapter) Takeoff(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flying {
		return nil
	}
	s.flying = true
	s.motorsOn = true
	s.target.Z = 100
	return nil
}

func (s *SimulatedDroneAdapter) Land(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.flying {
		return nil
	}
	s.target.Z = 0
	// Marked landed once the tick loop settles z near 0; for simplicity the
	// capability layer flips flying off immediately and the supervisor's own
	// task polling confirms settle via GetTelemetry.
	s.flying = false
	s.motorsOn = false
	return nil
}

func (s *SimulatedDroneAdapter) EmergencyStop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flying = false
	s.motorsOn = false
	s.velocity = domain.Velocity{}
	s.target = s.pose
	return nil
}

func applyDirection(p domain.Pose, dir Direction, distanceCm float64) domain.Pose {
	switch dir {
	case DirForward:
		p.Y += distanceCm
	case DirBack:
		p.Y -= distanceCm
	case DirRight:
		p.X += distanceCm
	case DirLeft:
		p.X -= distanceCm
	case DirUp:
		p.Z += distanceCm
	case DirDown:
		p.Z -= distanceCm
	}
	return p
}

func (s *SimulatedDroneAdapter) Move(ctx context.Context, dir Direction, distanceCm float64, speedCmS float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.flying {
		return domain.ErrInvalidState
	}
	candidate := applyDirection(s.target, dir, distanceCm)
	if !s.cfg.Bounds.Contains(candidate) {
		return domain.NewSafetyError(domain.CodeBoundsViolation, "movement would leave configured flight bounds", "target pose outside FlightBounds")
	}
	s.target = candidate
	if speedCmS > 0 && speedCmS <= s.cfg.MaxVelocityCmS {
		s.cfg.MaxVelocityCmS = speedCmS
	}
	return nil
}

func (s *SimulatedDroneAdapter) GoToOffset(ctx context.Context, x, y, z, speedCmS float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.flying {
		return domain.ErrInvalidState
	}
	candidate := s.target
	candidate.X += x
	candidate.Y += y
	candidate.Z += z
	if !s.cfg.Bounds.Contains(candidate) {
		return domain.NewSafetyError(domain.CodeBoundsViolation, "go_xyz target outside configured flight bounds", "target pose outside FlightBounds")
	}
	s.target = candidate
	if speedCmS > 0 && speedCmS <= s.cfg.MaxVelocityCmS {
		s.cfg.MaxVelocityCmS = speedCmS
	}
	return nil
}

// rcNudgeSeconds is how far ahead one RCControl call projects the stick's
// velocity — real hardware holds the stick until the next packet, but the
// simulator has no continuous input channel, so each call nudges the target
// by velocity*rcNudgeSeconds and the integrate loop carries it there.
const rcNudgeSeconds = 0.3

func (s *SimulatedDroneAdapter) RCControl(ctx context.Context, leftRight, forwardBack, upDown, yaw float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.flying {
		return domain.ErrInvalidState
	}
	candidate := s.target
	candidate.X += leftRight * rcNudgeSeconds
	candidate.Y += forwardBack * rcNudgeSeconds
	candidate.Z += upDown * rcNudgeSeconds
	candidate.Yaw = math.Mod(candidate.Yaw+yaw*rcNudgeSeconds, 360)
	if !s.cfg.Bounds.Contains(candidate) {
		return domain.NewSafetyError(domain.CodeBoundsViolation, "rc_control would leave configured flight bounds", "projected pose outside FlightBounds")
	}
	s.target = candidate
	return nil
}

func (s *SimulatedDroneAdapter) Rotate(ctx context.Context, dir Direction, angleDeg float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.flying {
		return domain.ErrInvalidState
	}
	switch dir {
	case DirClockwise:
		s.target.Yaw = math.Mod(s.target.Yaw+angleDeg, 360)
	case DirCounterclockwise:
		s.target.Yaw = math.Mod(s.target.Yaw-angleDeg, 360)
	default:
		return domain.NewValidationError(domain.CodeInvalidParameter, "unknown rotation direction", string(dir))
	}
	return nil
}

func (s *SimulatedDroneAdapter) SetAltitude(ctx context.Context, targetCm float64, mode AltitudeMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.flying {
		return domain.ErrInvalidState
	}
	newZ := targetCm
	if mode == AltitudeRelative {
		newZ = s.target.Z + targetCm
	}
	candidate := s.target
	candidate.Z = newZ
	if !s.cfg.Bounds.Contains(candidate) {
		return domain.NewSafetyError(domain.CodeBoundsViolation, "altitude target outside flight bounds", "z outside configured bounds")
	}
	s.target = candidate
	return nil
}

func (s *SimulatedDroneAdapter) GetTelemetry(ctx context.Context) (Telemetry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Telemetry{
		Pose:     s.pose,
		Velocity: s.velocity,
		Battery:  int(math.Round(s.battery)),
		At:       time.Now(),
	}, nil
}

func (s *SimulatedDroneAdapter) CaptureFrame(ctx context.Context) (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.streaming {
		return Frame{}, domain.ErrInvalidState
	}
	s.frameSeq++
	width, height := 640, 480
	var pixels []byte
	if s.frameSource != nil {
		pixels, width, height = s.frameSource.NextFrame(s.pose)
	} else {
		pixels = make([]byte, width*height*3) // solid black frame
	}
	return Frame{ID: s.frameSeq, CapturedAt: time.Now(), Width: width, Height: height, Pixels: pixels}, nil
}

func (s *SimulatedDroneAdapter) StartStream(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streaming = true
	return nil
}

func (s *SimulatedDroneAdapter) StopStream(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streaming = false
	return nil
}

// tickLoop integrates pose toward target at bounded velocity/acceleration and
// drains battery proportionally to motor activity.
func (s *SimulatedDroneAdapter) tickLoop(stop chan struct{}) {
	ticker := time.NewTicker(s.cfg.TickRate)
	defer ticker.Stop()
	dt := s.cfg.TickRate.Seconds()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			s.integrate(dt)
			s.mu.Unlock()
		}
	}
}

func (s *SimulatedDroneAdapter) integrate(dt float64) {
	step := func(cur, target *float64, vel *float64) {
		delta := *target - *cur
		maxStep := s.cfg.MaxVelocityCmS * dt
		if math.Abs(delta) <= maxStep {
			*vel = delta / dt
			*cur = *target
			return
		}
		dir := 1.0
		if delta < 0 {
			dir = -1.0
		}
		*vel = dir * s.cfg.MaxVelocityCmS
		*cur += dir * maxStep
	}
	step(&s.pose.X, &s.target.X, &s.velocity.VX)
	step(&s.pose.Y, &s.target.Y, &s.velocity.VY)
	step(&s.pose.Z, &s.target.Z, &s.velocity.VZ)
	s.pose.Yaw = s.target.Yaw

	if s.motorsOn && s.battery > 0 {
		s.battery -= s.cfg.BatteryDrainPerSecActive * dt
		if s.battery < 0 {
			s.battery = 0
		}
	}
}
