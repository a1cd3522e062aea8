// Package fleet owns the live fleet of per-drone supervisors — the
// connective registry every other package consults by DroneID, one
// DroneSupervisor per drone. It is an in-process map of live
// *supervisor.DroneSupervisor instances guarded by a mutex: there is no
// persistent store here, the registry itself is the only system of record
// for which drones exist.
package fleet

import (
	"sync"

	"github.com/dronefleet/fleetctl/internal/domain"
	"github.com/dronefleet/fleetctl/internal/httpapi"
	"github.com/dronefleet/fleetctl/internal/router"
	"github.com/dronefleet/fleetctl/internal/streaming"
	"github.com/dronefleet/fleetctl/internal/supervisor"
)

// Registry holds every drone's supervisor, keyed by DroneID.
type Registry struct {
	mu   sync.RWMutex
	sups map[domain.DroneID]*supervisor.DroneSupervisor
}

func New() *Registry {
	return &Registry{sups: make(map[domain.DroneID]*supervisor.DroneSupervisor)}
}

// Add registers a drone's supervisor, e.g. right after cmd/fleetctl builds
// it from config. Replaces any existing entry for the same ID.
func (r *Registry) Add(id domain.DroneID, sup *supervisor.DroneSupervisor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sups[id] = sup
}

// Remove drops a drone from the registry — it no longer appears in status
// listings or telemetry snapshots. Does not shut the supervisor down; the
// caller is responsible for that.
func (r *Registry) Remove(id domain.DroneID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sups, id)
}

// Get returns one drone's supervisor.
func (r *Registry) Get(id domain.DroneID) (*supervisor.DroneSupervisor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sups[id]
	return s, ok
}

// IDs lists every registered drone ID.
func (r *Registry) IDs() []domain.DroneID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]domain.DroneID, 0, len(r.sups))
	for id := range r.sups {
		ids = append(ids, id)
	}
	return ids
}

// All snapshots every drone's current record, satisfying
// internal/telemetry.Registry directly.
func (r *Registry) All() map[domain.DroneID]domain.DroneRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[domain.DroneID]domain.DroneRecord, len(r.sups))
	for id, s := range r.sups {
		out[id] = s.Snapshot()
	}
	return out
}

// SoleConnected reports the one connected drone when exactly one is
// connected, for the router's target-resolution fallback.
func (r *Registry) SoleConnected() (domain.DroneID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var found domain.DroneID
	count := 0
	for id, s := range r.sups {
		if s.Snapshot().ConnectionState == domain.ConnConnected {
			found = id
			count++
		}
	}
	if count == 1 {
		return found, true
	}
	return "", false
}

// Count reports how many drones are registered.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sups)
}

// RouterView adapts Registry to internal/router.SupervisorRegistry — its
// Get must return the package-local router.SupervisorHandle interface
// rather than the concrete *supervisor.DroneSupervisor type Registry.Get
// returns, matching the build-graph-decoupling pattern router/streaming
// already use for their own collaborators.
type RouterView struct{ *Registry }

func (v RouterView) Get(id domain.DroneID) (router.SupervisorHandle, bool) {
	s, ok := v.Registry.Get(id)
	if !ok {
		return nil, false
	}
	return s, true
}

// StreamingView adapts Registry to internal/streaming.Registry.
type StreamingView struct{ *Registry }

func (v StreamingView) Get(id domain.DroneID) (streaming.FrameProvider, bool) {
	s, ok := v.Registry.Get(id)
	if !ok {
		return nil, false
	}
	return s, true
}

// HTTPView adapts Registry to internal/httpapi.Registry — Get must return
// httpapi's own SupervisorView shape, same reason RouterView/StreamingView
// exist above.
type HTTPView struct{ *Registry }

func (v HTTPView) Get(id domain.DroneID) (httpapi.SupervisorView, bool) {
	s, ok := v.Registry.Get(id)
	if !ok {
		return nil, false
	}
	return s, true
}

// FrameView adapts Registry to internal/httpapi.FrameRegistry, for the
// camera routes that call CaptureFrame/StartStream/StopStream directly.
type FrameView struct{ *Registry }

func (v FrameView) Get(id domain.DroneID) (httpapi.FrameProvider, bool) {
	s, ok := v.Registry.Get(id)
	if !ok {
		return nil, false
	}
	return s, true
}
