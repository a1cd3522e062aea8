// Package httpapi is the REST+WebSocket HTTP surface: it translates gin
// requests into domain.Intent values for the CommandRouter, and serves
// status/camera/discovery reads directly off the fleet registry, the
// NetworkDiscovery cache and the TelemetryBroadcaster.
package httpapi

import (
	"context"

	"github.com/pion/webrtc/v3"

	"github.com/dronefleet/fleetctl/internal/capability"
	"github.com/dronefleet/fleetctl/internal/domain"
	"github.com/dronefleet/fleetctl/internal/router"
	"github.com/dronefleet/fleetctl/internal/telemetry"
)

// Router is the subset of CommandRouter this package calls, declared here
// (not imported as the concrete type) the same way internal/mcpserver
// declares its own Router — letting tests fake the whole command path
// without constructing a real fleet.
type Router interface {
	Execute(ctx context.Context, intent domain.Intent, principal router.Principal) router.Result
	Analytics() router.AnalyticsSummary
}

// SupervisorView is the subset of DroneSupervisor the read-only
// status/telemetry endpoints need, beyond what Router.Execute already
// covers for commands.
type SupervisorView interface {
	GetRecord() domain.DroneRecord
}

// Registry resolves drone records directly, for the read-only
// status/telemetry/camera endpoints that don't go through the
// CommandRouter.
type Registry interface {
	Get(id domain.DroneID) (SupervisorView, bool)
	IDs() []domain.DroneID
	All() map[domain.DroneID]domain.DroneRecord
	Count() int
}

// Discovery is the subset of NetworkDiscovery this package calls.
type Discovery interface {
	Scan(ctx context.Context) (map[string]domain.DetectedDrone, error)
	Snapshot() map[string]domain.DetectedDrone
	StartAutoScan(ctx context.Context, intervalSeconds int) error
	StopAutoScan()
	AutoScanRunning() bool
}

// Broadcaster is the subset of telemetry.Broadcaster the WebSocket surface
// needs.
type Broadcaster interface {
	Subscribe(id string, filter domain.DroneID) <-chan telemetry.Frame
	Unsubscribe(id string)
	SubscriberCount() int
}

// StreamServer is the subset of streaming.Server the camera routes need.
type StreamServer interface {
	HandleOffer(ctx context.Context, droneID domain.DroneID, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	Close(droneID domain.DroneID) error
	ActiveStreams() []domain.DroneID
}

// FrameProvider mirrors streaming.FrameProvider — declared separately here
// because the camera handlers call it directly rather than through
// Router.Execute: CaptureFrame/StartStream/StopStream already bypass the
// supervisor's serial command queue (they don't touch flight state), so
// there is no safety/bounds check for an httpapi-layer translation to
// preserve the way there was for go_xyz/rc_control.
type FrameProvider interface {
	CaptureFrame(ctx context.Context) (capability.Frame, error)
	StartStream(ctx context.Context) error
	StopStream(ctx context.Context) error
}

// FrameRegistry resolves a drone's FrameProvider for the camera routes.
type FrameRegistry interface {
	Get(id domain.DroneID) (FrameProvider, bool)
}
