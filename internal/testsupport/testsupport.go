// Package testsupport provides in-process fakes for every external
// collaborator so supervisor/router/discovery/telemetry tests can run
// deterministically without a real drone, network, or broker. It favors
// hand-rolled stub implementations over a mocking framework, collected in
// one shared location every package's tests import.
package testsupport

import (
	"context"
	"sync"
	"time"

	"github.com/dronefleet/fleetctl/internal/capability"
	"github.com/dronefleet/fleetctl/internal/domain"
	"github.com/dronefleet/fleetctl/internal/router"
	"github.com/dronefleet/fleetctl/internal/supervisor"
)

// FakeCapability is a scriptable capability.DroneCapability: every method
// records its call and returns whatever error the test preloaded for it,
// so supervisor tests can exercise retry/timeout/state-machine paths
// without a simulated physics model in the way.
type FakeCapability struct {
	mu sync.Mutex

	Errs  map[string]error // method name -> error to return once
	Calls []string          // ordered list of method names invoked

	Telemetry capability.Telemetry
	TelemetryErr error

	Frame    capability.Frame
	FrameErr error

	KindName string
}

// NewFakeCapability returns a FakeCapability with sane zero-value
// telemetry (landed, full battery) and no scripted errors.
func NewFakeCapability() *FakeCapability {
	return &FakeCapability{
		Errs:     make(map[string]error),
		Telemetry: capability.Telemetry{Battery: 100, At: time.Now()},
		KindName:  "fake",
	}
}

func (f *FakeCapability) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, name)
	if err, ok := f.Errs[name]; ok {
		delete(f.Errs, name)
		return err
	}
	return nil
}

// FailNext arranges for the next call to method to return err.
func (f *FakeCapability) FailNext(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errs[method] = err
}

// CallCount reports how many times method has been invoked.
func (f *FakeCapability) CallCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if c == method {
			n++
		}
	}
	return n
}

func (f *FakeCapability) Connect(ctx context.Context) error       { return f.record("Connect") }
func (f *FakeCapability) Disconnect(ctx context.Context) error    { return f.record("Disconnect") }
func (f *FakeCapability) Takeoff(ctx context.Context) error       { return f.record("Takeoff") }
func (f *FakeCapability) Land(ctx context.Context) error          { return f.record("Land") }
func (f *FakeCapability) EmergencyStop(ctx context.Context) error { return f.record("EmergencyStop") }

func (f *FakeCapability) Move(ctx context.Context, dir capability.Direction, distanceCm, speedCmS float64) error {
	return f.record("Move")
}

func (f *FakeCapability) Rotate(ctx context.Context, dir capability.Direction, angleDeg float64) error {
	return f.record("Rotate")
}

func (f *FakeCapability) SetAltitude(ctx context.Context, targetCm float64, mode capability.AltitudeMode) error {
	return f.record("SetAltitude")
}

func (f *FakeCapability) GoToOffset(ctx context.Context, x, y, z, speedCmS float64) error {
	return f.record("GoToOffset")
}

func (f *FakeCapability) RCControl(ctx context.Context, leftRight, forwardBack, upDown, yaw float64) error {
	return f.record("RCControl")
}

func (f *FakeCapability) GetTelemetry(ctx context.Context) (capability.Telemetry, error) {
	if err := f.record("GetTelemetry"); err != nil {
		return capability.Telemetry{}, err
	}
	if f.TelemetryErr != nil {
		return capability.Telemetry{}, f.TelemetryErr
	}
	return f.Telemetry, nil
}

func (f *FakeCapability) CaptureFrame(ctx context.Context) (capability.Frame, error) {
	if err := f.record("CaptureFrame"); err != nil {
		return capability.Frame{}, err
	}
	if f.FrameErr != nil {
		return capability.Frame{}, f.FrameErr
	}
	return f.Frame, nil
}

func (f *FakeCapability) StartStream(ctx context.Context) error { return f.record("StartStream") }
func (f *FakeCapability) StopStream(ctx context.Context) error  { return f.record("StopStream") }

func (f *FakeCapability) Kind() string { return f.KindName }

// FakeProber is a scriptable discovery.Prober: each configured IP returns
// its preset battery/signal/error; unconfigured IPs fail with an
// unreachable-shaped error.
type FakeProber struct {
	mu      sync.Mutex
	Results map[string]ProbeResult
	Calls   []string
}

// ProbeResult is one scripted outcome for a FakeProber IP.
type ProbeResult struct {
	Battery int
	Signal  int
	Err     error
}

func NewFakeProber() *FakeProber {
	return &FakeProber{Results: make(map[string]ProbeResult)}
}

func (p *FakeProber) Probe(ctx context.Context, ip string, timeout time.Duration) (int, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, ip)
	res, ok := p.Results[ip]
	if !ok {
		return 0, 0, domain.NewTransportError(domain.CodeUnreachable, "probe failed", "no fake result configured for "+ip)
	}
	return res.Battery, res.Signal, res.Err
}

// FakeMirror records every MirrorDetected call instead of writing to Redis.
type FakeMirror struct {
	mu      sync.Mutex
	Mirrored []map[string]domain.DetectedDrone
}

func (m *FakeMirror) MirrorDetected(ctx context.Context, drones map[string]domain.DetectedDrone, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Mirrored = append(m.Mirrored, drones)
}

// FakeEventSink records every supervisor.Event published to it, standing
// in for the TelemetryBroadcaster in supervisor unit tests.
type FakeEventSink struct {
	mu     sync.Mutex
	Events []supervisor.Event
}

func (s *FakeEventSink) Publish(e supervisor.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Events = append(s.Events, e)
}

func (s *FakeEventSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Events)
}

// FakeAuthorizer is a scriptable router.Authorizer — Allow defaults to
// true so tests opt into denial rather than every router test needing to
// wire a real auth.Service.
type FakeAuthorizer struct {
	Allow bool
}

func NewFakeAuthorizer() *FakeAuthorizer { return &FakeAuthorizer{Allow: true} }

func (a *FakeAuthorizer) Authorize(principal router.Principal, action domain.Action) bool {
	return a.Allow
}
