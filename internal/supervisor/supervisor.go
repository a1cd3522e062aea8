// Package supervisor implements the per-drone state machine and safety
// supervisor: one DroneSupervisor per drone, owning its DroneCapability
// backend, its DroneRecord, and a serial command queue so every operation
// observes a consistent, ordered view of state.
package supervisor

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/dronefleet/fleetctl/internal/capability"
	"github.com/dronefleet/fleetctl/internal/domain"
	"github.com/dronefleet/fleetctl/pkg/logger"
)

// EventKind enumerates the events a Supervisor emits for the
// TelemetryBroadcaster to fan out immediately.
type EventKind string

const (
	EventStateChanged     EventKind = "state_changed"
	EventSafetyViolation  EventKind = "safety_violation"
	EventTaskCompleted    EventKind = "task_completed"
)

// Event is one significant occurrence a Supervisor publishes.
type Event struct {
	DroneID domain.DroneID
	Kind    EventKind
	At      time.Time
	Detail  string
}

// EventSink receives Supervisor events; the broadcaster implements this.
type EventSink interface {
	Publish(Event)
}

// per-operation timeouts.
var opTimeouts = map[string]time.Duration{
	"connect":    10 * time.Second,
	"disconnect": 10 * time.Second,
	"takeoff":    15 * time.Second,
	"land":       15 * time.Second,
	"move":       30 * time.Second,
	"rotate":     10 * time.Second,
	"altitude":   30 * time.Second,
}

func timeoutFor(op string) time.Duration {
	if d, ok := opTimeouts[op]; ok {
		return d
	}
	return 10 * time.Second
}

// command is one unit of work on the supervisor's serial queue.
type command struct {
	run    func(ctx context.Context) (interface{}, error)
	ctx    context.Context
	result chan<- outcome
}

type outcome struct {
	value interface{}
	err   error
}

// DroneSupervisor owns one drone's backend, record and safety config, and
// serializes every capability call through a single goroutine so operations
// complete strictly in submission order.
type DroneSupervisor struct {
	id      domain.DroneID
	backend capability.DroneCapability
	safety  domain.SafetyConfig
	logger  *logger.Logger
	sink    EventSink

	mu     sync.RWMutex
	record domain.DroneRecord

	queue      chan command
	emergency  chan struct{}
	stopOnce   sync.Once
	done       chan struct{}

	taskMu      sync.Mutex
	activeTask  *runningTask
}

type runningTask struct {
	record domain.TaskRecord
	cancel context.CancelFunc
}

// New constructs a supervisor bound to backend, and starts its serial
// command-processing goroutine.
func New(id domain.DroneID, mode domain.Mode, backend capability.DroneCapability, safety domain.SafetyConfig, log *logger.Logger, sink EventSink) *DroneSupervisor {
	s := &DroneSupervisor{
		id:      id,
		backend: backend,
		safety:  safety,
		logger:  log,
		sink:    sink,
		record: domain.DroneRecord{
			ID:              id,
			Mode:            mode,
			ModeEffective:   mode,
			ConnectionState: domain.ConnDisconnected,
			FlightState:     domain.FlightLanded,
			Battery:         100,
		},
		queue:     make(chan command, 64),
		emergency: make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *DroneSupervisor) loop() {
	for {
		select {
		case cmd, ok := <-s.queue:
			if !ok {
				return
			}
			val, err := cmd.run(cmd.ctx)
			cmd.result <- outcome{value: val, err: err}
		case <-s.done:
			return
		}
	}
}

// submit enqueues fn and blocks for its result, honoring ctx cancellation
// while still waiting (the queued command itself still runs to keep
// ordering — cancellation only stops the *caller* from waiting further).
func (s *DroneSupervisor) submit(ctx context.Context, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	result := make(chan outcome, 1)
	select {
	case s.queue <- command{run: fn, ctx: ctx, result: result}:
	case <-s.done:
		return nil, domain.NewSystemError(domain.CodeInternal, "supervisor is shutting down", "queue closed")
	}
	select {
	case out := <-result:
		return out.value, out.err
	case <-ctx.Done():
		return nil, fmt.Errorf("cancelled: %w", ctx.Err())
	}
}

// Snapshot returns a copy of the current DroneRecord; callers can't
// observe or mutate supervisor-internal state through it.
func (s *DroneSupervisor) Snapshot() domain.DroneRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.record.Clone()
}

func (s *DroneSupervisor) setState(mutate func(*domain.DroneRecord)) domain.DroneRecord {
	s.mu.Lock()
	mutate(&s.record)
	s.record.LastSeen = time.Now()
	snap := s.record.Clone()
	s.mu.Unlock()
	s.emit(Event{DroneID: s.id, Kind: EventStateChanged, At: snap.LastSeen})
	return snap
}

func (s *DroneSupervisor) emit(e Event) {
	if s.sink != nil {
		s.sink.Publish(e)
	}
}

func (s *DroneSupervisor) recordViolation(kind string, severity domain.Severity, detail string) {
	s.mu.Lock()
	s.record.RecordViolation(domain.SafetyViolation{Kind: kind, At: time.Now(), Severity: severity, Detail: detail})
	s.mu.Unlock()
	s.emit(Event{DroneID: s.id, Kind: EventSafetyViolation, At: time.Now(), Detail: detail})
}

// --- Connection lifecycle ---

func (s *DroneSupervisor) Connect(ctx context.Context) error {
	_, err := s.submit(ctx, func(ctx context.Context) (interface{}, error) {
		s.mu.RLock()
		already := s.record.ConnectionState == domain.ConnConnected
		s.mu.RUnlock()
		if already {
			return nil, nil
		}
		s.setState(func(r *domain.DroneRecord) { r.ConnectionState = domain.ConnConnecting })

		opCtx, cancel := context.WithTimeout(ctx, timeoutFor("connect"))
		defer cancel()
		if err := s.backend.Connect(opCtx); err != nil {
			s.setState(func(r *domain.DroneRecord) { r.ConnectionState = domain.ConnError })
			return nil, err
		}
		s.setState(func(r *domain.DroneRecord) { r.ConnectionState = domain.ConnConnected })
		return nil, nil
	})
	return err
}

func (s *DroneSupervisor) Disconnect(ctx context.Context) error {
	_, err := s.submit(ctx, func(ctx context.Context) (interface{}, error) {
		s.mu.RLock()
		flying := s.record.FlightState != domain.FlightLanded
		s.mu.RUnlock()
		if flying {
			return nil, domain.NewStateError(domain.CodeInvalidState, "cannot disconnect while flying", "land or emergency-stop first")
		}
		s.setState(func(r *domain.DroneRecord) { r.ConnectionState = domain.ConnDisconnecting })
		opCtx, cancel := context.WithTimeout(ctx, timeoutFor("disconnect"))
		defer cancel()
		if err := s.backend.Disconnect(opCtx); err != nil {
			return nil, err
		}
		s.setState(func(r *domain.DroneRecord) { r.ConnectionState = domain.ConnDisconnected })
		return nil, nil
	})
	return err
}

// requireConnected returns InvalidState if the drone is not connected;
// requireFlyable additionally rejects flightState ∈ {landed, emergency}.
func (s *DroneSupervisor) requireConnected() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.record.ConnectionState != domain.ConnConnected {
		return domain.NewStateError(domain.CodeNotConnected, "drone is not connected", string(s.record.ConnectionState))
	}
	return nil
}

func (s *DroneSupervisor) requireFlyable() error {
	if err := s.requireConnected(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.record.FlightState == domain.FlightLanded || s.record.FlightState == domain.FlightEmergency {
		return domain.NewStateError(domain.CodeNotFlying, "drone is not flying", string(s.record.FlightState))
	}
	return nil
}

// Takeoff checks the battery against the takeoff floor then dispatches; it
// makes no bounds check.
func (s *DroneSupervisor) Takeoff(ctx context.Context) error {
	_, err := s.submit(ctx, func(ctx context.Context) (interface{}, error) {
		if err := s.requireConnected(); err != nil {
			return nil, err
		}
		s.mu.RLock()
		alreadyFlying := s.record.FlightState == domain.FlightFlying
		battery := s.record.Battery
		s.mu.RUnlock()
		if alreadyFlying {
			return nil, nil
		}
		if battery < s.safety.MinBattery {
			s.recordViolation("battery_low", domain.SeverityHigh, fmt.Sprintf("battery %d%% below takeoff floor %d%%", battery, s.safety.MinBattery))
			return nil, domain.NewSafetyError(domain.CodeBatteryLow, "battery too low to take off",
				fmt.Sprintf("battery %d%% < minBattery %d%%", battery, s.safety.MinBattery), domain.RecoveryChargeBattery)
		}

		s.setState(func(r *domain.DroneRecord) { r.FlightState = domain.FlightTakingOff })
		opCtx, cancel := context.WithTimeout(ctx, timeoutFor("takeoff"))
		defer cancel()
		if err := s.backend.Takeoff(opCtx); err != nil {
			s.setState(func(r *domain.DroneRecord) { r.FlightState = domain.FlightLanded })
			return nil, err
		}
		s.refreshTelemetry(ctx)
		s.setState(func(r *domain.DroneRecord) { r.FlightState = domain.FlightFlying })
		return nil, nil
	})
	return err
}

func (s *DroneSupervisor) Land(ctx context.Context) error {
	_, err := s.submit(ctx, func(ctx context.Context) (interface{}, error) {
		s.mu.RLock()
		landed := s.record.FlightState == domain.FlightLanded
		s.mu.RUnlock()
		if landed {
			return nil, nil
		}
		s.setState(func(r *domain.DroneRecord) { r.FlightState = domain.FlightLanding })
		opCtx, cancel := context.WithTimeout(ctx, timeoutFor("land"))
		defer cancel()
		if err := s.backend.Land(opCtx); err != nil {
			return nil, err
		}
		s.refreshTelemetry(ctx)
		s.setState(func(r *domain.DroneRecord) { r.FlightState = domain.FlightLanded })
		return nil, nil
	})
	return err
}

// EmergencyStop bypasses the serial queue entirely, delivering to the
// backend synchronously, then drains queued operations as cancelled.
func (s *DroneSupervisor) EmergencyStop(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	err := s.backend.EmergencyStop(opCtx)

	s.setState(func(r *domain.DroneRecord) { r.FlightState = domain.FlightEmergency })
	s.recordViolation("emergency_stop", domain.SeverityCritical, "emergency stop invoked")
	s.drainQueue()
	return err
}

// drainQueue fails every command currently queued with Cancelled, without
// running them, after an emergency stop.
func (s *DroneSupervisor) drainQueue() {
	for {
		select {
		case cmd := <-s.queue:
			cmd.result <- outcome{err: fmt.Errorf("cancelled: emergency stop")}
		default:
			return
		}
	}
}

// ClearEmergency manually returns an emergency-stopped drone to landed.
func (s *DroneSupervisor) ClearEmergency(ctx context.Context) error {
	_, err := s.submit(ctx, func(ctx context.Context) (interface{}, error) {
		s.mu.RLock()
		inEmergency := s.record.FlightState == domain.FlightEmergency
		s.mu.RUnlock()
		if !inEmergency {
			return nil, domain.NewStateError(domain.CodeInvalidState, "drone is not in emergency state", "")
		}
		s.setState(func(r *domain.DroneRecord) { r.FlightState = domain.FlightLanded })
		return nil, nil
	})
	return err
}

// --- Movement ---

func moveOpTimeout() time.Duration { return timeoutFor("move") }

func (s *DroneSupervisor) Move(ctx context.Context, dir capability.Direction, distanceCm float64, speedCmS float64) error {
	_, err := s.submit(ctx, func(ctx context.Context) (interface{}, error) {
		if err := s.requireFlyable(); err != nil {
			return nil, err
		}
		if distanceCm < 20 || distanceCm > 500 {
			return nil, domain.NewValidationError(domain.CodeOutOfRange, "move distance out of range", fmt.Sprintf("distance %.1fcm not in [20,500]", distanceCm))
		}
		if speedCmS != 0 && (speedCmS < 10 || speedCmS > 100) {
			return nil, domain.NewValidationError(domain.CodeOutOfRange, "speed out of range", fmt.Sprintf("speed %.1fcm/s not in [10,100]", speedCmS))
		}

		s.mu.RLock()
		candidate := applyDirection(s.record.Pose, dir, distanceCm)
		s.mu.RUnlock()
		if !s.safety.Bounds.Contains(candidate) {
			s.recordViolation("bounds_violation", domain.SeverityHigh, "projected pose outside flight bounds")
			return nil, domain.NewSafetyError(domain.CodeBoundsViolation, "movement would leave flight bounds", "projected pose outside FlightBounds")
		}

		opCtx, cancel := context.WithTimeout(ctx, moveOpTimeout())
		defer cancel()
		if err := s.backend.Move(opCtx, dir, distanceCm, speedCmS); err != nil {
			return nil, err
		}
		s.refreshTelemetry(ctx)
		return nil, nil
	})
	return err
}

func applyDirection(p domain.Pose, dir capability.Direction, distanceCm float64) domain.Pose {
	switch dir {
	case capability.DirForward:
		p.Y += distanceCm
	case capability.DirBack:
		p.Y -= distanceCm
	case capability.DirRight:
		p.X += distanceCm
	case capability.DirLeft:
		p.X -= distanceCm
	case capability.DirUp:
		p.Z += distanceCm
	case capability.DirDown:
		p.Z -= distanceCm
	}
	return p
}

// GoXYZ flies a straight line to a point (x,y,z) centimeters from the
// current position (Tello SDK "go_xyz_speed"). Each axis is bounded to
// [-500,500] and the combined vector must cover at least 20cm, the same
// envelope Move enforces for a single-axis distance.
func (s *DroneSupervisor) GoXYZ(ctx context.Context, x, y, z, speedCmS float64) error {
	_, err := s.submit(ctx, func(ctx context.Context) (interface{}, error) {
		if err := s.requireFlyable(); err != nil {
			return nil, err
		}
		for axis, v := range map[string]float64{"x": x, "y": y, "z": z} {
			if v < -500 || v > 500 {
				return nil, domain.NewValidationError(domain.CodeOutOfRange, "go_xyz axis out of range", fmt.Sprintf("%s=%.1fcm not in [-500,500]", axis, v))
			}
		}
		magnitude := math.Sqrt(x*x + y*y + z*z)
		if magnitude < 20 {
			return nil, domain.NewValidationError(domain.CodeOutOfRange, "go_xyz distance too small", fmt.Sprintf("vector magnitude %.1fcm below 20cm minimum", magnitude))
		}
		if speedCmS < 10 || speedCmS > 100 {
			return nil, domain.NewValidationError(domain.CodeOutOfRange, "speed out of range", fmt.Sprintf("speed %.1fcm/s not in [10,100]", speedCmS))
		}

		s.mu.RLock()
		candidate := s.record.Pose
		s.mu.RUnlock()
		candidate.X += x
		candidate.Y += y
		candidate.Z += z
		if !s.safety.Bounds.Contains(candidate) {
			s.recordViolation("bounds_violation", domain.SeverityHigh, "projected pose outside flight bounds")
			return nil, domain.NewSafetyError(domain.CodeBoundsViolation, "go_xyz target would leave flight bounds", "projected pose outside FlightBounds")
		}

		opCtx, cancel := context.WithTimeout(ctx, moveOpTimeout())
		defer cancel()
		if err := s.backend.GoToOffset(opCtx, x, y, z, speedCmS); err != nil {
			return nil, err
		}
		s.refreshTelemetry(ctx)
		return nil, nil
	})
	return err
}

// RCControl sets the four joystick-style velocity axes (±100, Tello SDK
// "rc"). It is not queued behind a completion wait like Move/Rotate/GoXYZ —
// a stick command supersedes whatever came before it — but it still goes
// through the serial queue and requireFlyable so it can never race a
// landing/emergency transition.
func (s *DroneSupervisor) RCControl(ctx context.Context, leftRight, forwardBack, upDown, yaw float64) error {
	_, err := s.submit(ctx, func(ctx context.Context) (interface{}, error) {
		if err := s.requireFlyable(); err != nil {
			return nil, err
		}
		for axis, v := range map[string]float64{"left_right_velocity": leftRight, "forward_backward_velocity": forwardBack, "up_down_velocity": upDown, "yaw_velocity": yaw} {
			if v < -100 || v > 100 {
				return nil, domain.NewValidationError(domain.CodeOutOfRange, "rc_control velocity out of range", fmt.Sprintf("%s=%.1f not in [-100,100]", axis, v))
			}
		}
		opCtx, cancel := context.WithTimeout(ctx, timeoutFor("rc_control"))
		defer cancel()
		if err := s.backend.RCControl(opCtx, leftRight, forwardBack, upDown, yaw); err != nil {
			return nil, err
		}
		s.refreshTelemetry(ctx)
		return nil, nil
	})
	return err
}

func (s *DroneSupervisor) Rotate(ctx context.Context, dir capability.Direction, angleDeg float64) error {
	_, err := s.submit(ctx, func(ctx context.Context) (interface{}, error) {
		if err := s.requireFlyable(); err != nil {
			return nil, err
		}
		if angleDeg <= 0 || angleDeg > 360 {
			return nil, domain.NewValidationError(domain.CodeOutOfRange, "rotation angle out of range", fmt.Sprintf("angle %.1f not in (0,360]", angleDeg))
		}
		opCtx, cancel := context.WithTimeout(ctx, timeoutFor("rotate"))
		defer cancel()
		if err := s.backend.Rotate(opCtx, dir, angleDeg); err != nil {
			return nil, err
		}
		s.refreshTelemetry(ctx)
		return nil, nil
	})
	return err
}

func (s *DroneSupervisor) SetAltitude(ctx context.Context, targetCm float64, mode capability.AltitudeMode) error {
	_, err := s.submit(ctx, func(ctx context.Context) (interface{}, error) {
		if err := s.requireFlyable(); err != nil {
			return nil, err
		}
		if targetCm < 20 || targetCm > 500 {
			return nil, domain.NewValidationError(domain.CodeOutOfRange, "altitude out of range", fmt.Sprintf("target %.1fcm not in [20,500]", targetCm))
		}
		opCtx, cancel := context.WithTimeout(ctx, timeoutFor("altitude"))
		defer cancel()
		if err := s.backend.SetAltitude(opCtx, targetCm, mode); err != nil {
			return nil, err
		}
		s.refreshTelemetry(ctx)
		return nil, nil
	})
	return err
}

// refreshTelemetry pulls fresh pose/battery from the backend into the
// record after an operation completes. Must be called with no supervisor
// lock held and from inside the serial queue goroutine.
func (s *DroneSupervisor) refreshTelemetry(ctx context.Context) {
	tele, err := s.backend.GetTelemetry(ctx)
	if err != nil {
		s.logger.WithError(err).WithField("drone_id", s.id).Warn("telemetry refresh failed")
		return
	}
	s.mu.Lock()
	s.record.Pose = tele.Pose
	s.record.Velocity = tele.Velocity
	s.record.Battery = tele.Battery
	s.record.LastSeen = time.Now()
	s.mu.Unlock()

	if tele.Battery <= s.safety.EmergencyBattery && s.record.FlightState == domain.FlightFlying {
		s.logger.WithField("drone_id", s.id).WithField("battery", tele.Battery).Error("battery at emergency floor, forcing emergency stop")
		go func() {
			emergCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = s.EmergencyStop(emergCtx)
		}()
	}
}

// CaptureFrame, StartStream, StopStream pass straight through to the backend
// — they don't mutate flight state so they bypass the serial queue.
func (s *DroneSupervisor) CaptureFrame(ctx context.Context) (capability.Frame, error) {
	return s.backend.CaptureFrame(ctx)
}

func (s *DroneSupervisor) StartStream(ctx context.Context) error {
	return s.backend.StartStream(ctx)
}

func (s *DroneSupervisor) StopStream(ctx context.Context) error {
	return s.backend.StopStream(ctx)
}

func (s *DroneSupervisor) GetRecord() domain.DroneRecord {
	return s.Snapshot()
}

func (s *DroneSupervisor) SetSafetyConfig(cfg domain.SafetyConfig) {
	s.mu.Lock()
	s.safety = cfg
	s.mu.Unlock()
}

// Shutdown lands a flying drone best-effort within budget, then stops the
// command loop.
func (s *DroneSupervisor) Shutdown(ctx context.Context) {
	s.mu.RLock()
	flying := s.record.FlightState != domain.FlightLanded
	s.mu.RUnlock()
	if flying {
		landCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := s.Land(landCtx); err != nil {
			s.logger.WithError(err).WithField("drone_id", s.id).Warn("best-effort shutdown land failed")
		}
		cancel()
	}
	s.stopOnce.Do(func() { close(s.done) })
}
