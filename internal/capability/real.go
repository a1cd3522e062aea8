package capability

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dronefleet/fleetctl/internal/domain"
	"github.com/dronefleet/fleetctl/pkg/logger"
)

// RealConfig parameterizes a RealDroneAdapter's UDP endpoints and timeouts.
type RealConfig struct {
	IP              string
	ControlPort     int // default 8889, Tello SDK control channel
	LocalPort       int // default 8800
	TelemetryPort   int // default 8890
	CommandTimeout  time.Duration // default 7s, configurable 1-30s
	KeepAlivePeriod time.Duration // default 10s
	MissedPingLimit int           // default 3
}

func DefaultRealConfig(ip string) RealConfig {
	return RealConfig{
		IP:              ip,
		ControlPort:     8889,
		LocalPort:       8800,
		TelemetryPort:   8890,
		CommandTimeout:  7 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
		MissedPingLimit: 3,
	}
}

// UnreachableNotifier is called when the keepalive loop gives up on a drone —
// the supervisor subscribes to this to drive its own state machine.
type UnreachableNotifier func(id domain.DroneID)

// RealDroneAdapter speaks the Tello-class text command/response protocol over
// UDP: a command string goes out, a response ("ok"/"error ...") comes back
// within CommandTimeout. One retry with a fresh socket on timeout, then the
// caller sees Timeout. CaptureFrame returns frames with monotonic IDs and
// 960x720 dimensions but no pixel data: the video stream is not decoded.
type RealDroneAdapter struct {
	id     domain.DroneID
	cfg    RealConfig
	logger *logger.Logger
	notify UnreachableNotifier

	mu        sync.Mutex
	conn      *net.UDPConn
	connected bool
	streaming bool

	missedPings int
	stopKeepAlive chan struct{}
	frameSeq    uint64
}

func NewRealDroneAdapter(id domain.DroneID, cfg RealConfig, log *logger.Logger, notify UnreachableNotifier) *RealDroneAdapter {
	return &RealDroneAdapter{id: id, cfg: cfg, logger: log, notify: notify}
}

func (r *RealDroneAdapter) Kind() string { return "real" }

func (r *RealDroneAdapter) Connect(ctx context.Context) error {
	r.mu.Lock()
	if r.connected {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	conn, err := r.dial()
	if err != nil {
		return domain.ErrUnreachable.WithCause(err)
	}

	r.mu.Lock()
	r.conn = conn
	r.connected = true
	r.missedPings = 0
	r.stopKeepAlive = make(chan struct{})
	r.mu.Unlock()

	if _, err := r.sendCommand(ctx, "command"); err != nil {
		r.mu.Lock()
		r.connected = false
		r.conn.Close()
		r.conn = nil
		r.mu.Unlock()
		return err
	}

	go r.keepAliveLoop()
	return nil
}

func (r *RealDroneAdapter) dial() (*net.UDPConn, error) {
	remote, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", r.cfg.IP, r.cfg.ControlPort))
	if err != nil {
		return nil, err
	}
	local, err := net.ResolveUDPAddr("udp", fmt.Sprintf(":%d", r.cfg.LocalPort))
	if err != nil {
		return nil, err
	}
	return net.DialUDP("udp", local, remote)
}

func (r *RealDroneAdapter) Disconnect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.connected {
		return nil
	}
	if r.stopKeepAlive != nil {
		close(r.stopKeepAlive)
		r.stopKeepAlive = nil
	}
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
	r.connected = false
	r.streaming = false
	return nil
}

func (r *RealDroneAdapter) Takeoff(ctx context.Context) error {
	_, err := r.sendCommand(ctx, "takeoff")
	return err
}

func (r *RealDroneAdapter) Land(ctx context.Context) error {
	_, err := r.sendCommand(ctx, "land")
	return err
}

func (r *RealDroneAdapter) EmergencyStop(ctx context.Context) error {
	// Sent with its own short deadline, bypassing retry: emergency must be
	// fast-failing, not fast-retrying.
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := r.sendRaw(ctx, "emergency")
	return err
}

func directionCmd(d Direction) (string, bool) {
	switch d {
	case DirForward:
		return "forward", true
	case DirBack:
		return "back", true
	case DirLeft:
		return "left", true
	case DirRight:
		return "right", true
	case DirUp:
		return "up", true
	case DirDown:
		return "down", true
	}
	return "", false
}

func (r *RealDroneAdapter) Move(ctx context.Context, dir Direction, distanceCm float64, speedCmS float64) error {
	cmdWord, ok := directionCmd(dir)
	if !ok {
		return domain.NewValidationError(domain.CodeInvalidParameter, "unknown move direction", string(dir))
	}
	if speedCmS > 0 {
		if _, err := r.sendCommand(ctx, fmt.Sprintf("speed %d", int(speedCmS))); err != nil {
			return err
		}
	}
	_, err := r.sendCommand(ctx, fmt.Sprintf("%s %d", cmdWord, int(distanceCm)))
	return err
}

func (r *RealDroneAdapter) GoToOffset(ctx context.Context, x, y, z, speedCmS float64) error {
	_, err := r.sendCommand(ctx, fmt.Sprintf("go %d %d %d %d", int(x), int(y), int(z), int(speedCmS)))
	return err
}

// RCControl sends the raw stick command with its own short deadline and no
// retry: it is fire-and-forget, sent continuously by a human/joystick
// client, and a single dropped frame of it is harmless.
func (r *RealDroneAdapter) RCControl(ctx context.Context, leftRight, forwardBack, upDown, yaw float64) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := r.sendRaw(ctx, fmt.Sprintf("rc %d %d %d %d", int(leftRight), int(forwardBack), int(upDown), int(yaw)))
	return err
}

func (r *RealDroneAdapter) Rotate(ctx context.Context, dir Direction, angleDeg float64) error {
	var cmdWord string
	switch dir {
	case DirClockwise:
		cmdWord = "cw"
	case DirCounterclockwise:
		cmdWord = "ccw"
	default:
		return domain.NewValidationError(domain.CodeInvalidParameter, "unknown rotation direction", string(dir))
	}
	_, err := r.sendCommand(ctx, fmt.Sprintf("%s %d", cmdWord, int(angleDeg)))
	return err
}

func (r *RealDroneAdapter) SetAltitude(ctx context.Context, targetCm float64, mode AltitudeMode) error {
	// Tello SDK only has relative up/down; absolute mode is approximated by
	// reading current height first.
	if mode == AltitudeRelative {
		if targetCm >= 0 {
			_, err := r.sendCommand(ctx, fmt.Sprintf("up %d", int(targetCm)))
			return err
		}
		_, err := r.sendCommand(ctx, fmt.Sprintf("down %d", int(-targetCm)))
		return err
	}
	cur, err := r.currentHeight(ctx)
	if err != nil {
		return err
	}
	delta := targetCm - cur
	if delta == 0 {
		return nil
	}
	if delta > 0 {
		_, err = r.sendCommand(ctx, fmt.Sprintf("up %d", int(delta)))
	} else {
		_, err = r.sendCommand(ctx, fmt.Sprintf("down %d", int(-delta)))
	}
	return err
}

func (r *RealDroneAdapter) currentHeight(ctx context.Context) (float64, error) {
	resp, err := r.sendCommand(ctx, "height?")
	if err != nil {
		return 0, err
	}
	v, perr := parseLeadingFloat(resp)
	if perr != nil {
		return 0, domain.NewHardwareError(domain.CodeSensorFault, "could not read altitude", perr.Error())
	}
	return v, nil
}

func (r *RealDroneAdapter) GetTelemetry(ctx context.Context) (Telemetry, error) {
	battResp, err := r.sendCommand(ctx, "battery?")
	if err != nil {
		return Telemetry{}, err
	}
	batt, _ := strconv.Atoi(strings.TrimSpace(battResp))

	height, err := r.currentHeight(ctx)
	if err != nil {
		return Telemetry{}, err
	}

	return Telemetry{
		Pose:    domain.Pose{Z: height},
		Battery: batt,
		At:      time.Now(),
	}, nil
}

func (r *RealDroneAdapter) CaptureFrame(ctx context.Context) (Frame, error) {
	r.mu.Lock()
	streaming := r.streaming
	r.mu.Unlock()
	if !streaming {
		return Frame{}, domain.ErrInvalidState.WithCause(fmt.Errorf("video stream not started"))
	}
	r.mu.Lock()
	r.frameSeq++
	id := r.frameSeq
	r.mu.Unlock()
	// This adapter has no video UDP reader, so Pixels is always nil.
	return Frame{ID: id, CapturedAt: time.Now(), Width: 960, Height: 720, Pixels: nil}, nil
}

func (r *RealDroneAdapter) StartStream(ctx context.Context) error {
	_, err := r.sendCommand(ctx, "streamon")
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.streaming = true
	r.mu.Unlock()
	return nil
}

func (r *RealDroneAdapter) StopStream(ctx context.Context) error {
	_, err := r.sendCommand(ctx, "streamoff")
	r.mu.Lock()
	r.streaming = false
	r.mu.Unlock()
	return err
}

// sendCommand sends cmd and retries once with a fresh socket on timeout.
func (r *RealDroneAdapter) sendCommand(ctx context.Context, cmd string) (string, error) {
	resp, err := r.sendRaw(ctx, cmd)
	if err == nil {
		return resp, nil
	}
	fe, ok := domain.AsFleetError(err)
	if !ok || fe.Kind != domain.KindTransport || fe.Code != domain.CodeTimeout {
		return "", err
	}

	r.logger.WithField("drone_id", r.id).WithField("command", cmd).Warn("command timed out, retrying with fresh socket")

	r.mu.Lock()
	if r.conn != nil {
		r.conn.Close()
	}
	newConn, dialErr := r.dial()
	if dialErr != nil {
		r.mu.Unlock()
		return "", domain.ErrUnreachable.WithCause(dialErr)
	}
	r.conn = newConn
	r.mu.Unlock()

	return r.sendRaw(ctx, cmd)
}

func (r *RealDroneAdapter) sendRaw(ctx context.Context, cmd string) (string, error) {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return "", domain.ErrUnreachable.WithCause(fmt.Errorf("no control socket"))
	}

	deadline := time.Now().Add(r.cfg.CommandTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetDeadline(deadline)

	if _, err := conn.Write([]byte(cmd)); err != nil {
		return "", domain.ErrUnreachable.WithCause(err)
	}

	buf := make([]byte, 512)
	n, err := conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return "", domain.ErrTimeout.WithCause(err)
		}
		return "", domain.ErrUnreachable.WithCause(err)
	}
	resp := strings.TrimSpace(string(buf[:n]))
	if strings.HasPrefix(strings.ToLower(resp), "error") {
		return "", domain.NewHardwareError(domain.CodeMotorFault, "drone reported an error", resp)
	}
	return resp, nil
}

// keepAliveLoop pings every KeepAlivePeriod; MissedPingLimit consecutive
// failures marks the drone unreachable.
func (r *RealDroneAdapter) keepAliveLoop() {
	ticker := time.NewTicker(r.cfg.KeepAlivePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopKeepAlive:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.cfg.CommandTimeout)
			_, err := r.sendRaw(ctx, "battery?")
			cancel()
			if err != nil {
				r.mu.Lock()
				r.missedPings++
				missed := r.missedPings
				r.mu.Unlock()
				if missed >= r.cfg.MissedPingLimit {
					r.logger.WithField("drone_id", r.id).Error("drone unreachable after missed keepalive pings")
					if r.notify != nil {
						r.notify(r.id)
					}
					return
				}
				continue
			}
			r.mu.Lock()
			r.missedPings = 0
			r.mu.Unlock()
		}
	}
}

func parseLeadingFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "cm")
	return strconv.ParseFloat(s, 64)
}
