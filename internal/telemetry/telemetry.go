// Package telemetry implements the fleet telemetry broadcaster: periodic
// fleet-wide snapshots plus immediate push on significant supervisor events,
// fanned out to filtered subscribers with bounded, drop-oldest queues.
package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/dronefleet/fleetctl/internal/domain"
	"github.com/dronefleet/fleetctl/internal/supervisor"
	"github.com/dronefleet/fleetctl/pkg/logger"
)

// Registry lets the broadcaster enumerate the live supervisors to snapshot
// on its periodic tick, independent of internal/supervisor's concrete
// registry type (the same decoupling internal/router and internal/mcpserver
// use for their collaborators).
type Registry interface {
	All() map[domain.DroneID]domain.DroneRecord
}

// Frame is one telemetry update delivered to a subscriber.
type Frame struct {
	DroneID domain.DroneID    `json:"drone_id"`
	Record  domain.DroneRecord `json:"record"`
	Reason  string            `json:"reason"` // "tick" or the triggering supervisor.EventKind
	At      time.Time         `json:"at"`
}

// Config controls broadcast cadence and backpressure.
type Config struct {
	SnapshotInterval  time.Duration // 0.1s-5s, default 1s
	SubscriberQueueLen int           // default 32
}

func DefaultConfig() Config {
	return Config{SnapshotInterval: time.Second, SubscriberQueueLen: 32}
}

type subscriber struct {
	id     string
	filter domain.DroneID // "" or "*" means all drones
	ch     chan Frame
	mu     sync.Mutex
	buf    []Frame
}

// Broadcaster is the Telemetry Broadcaster. It implements supervisor.EventSink
// so a DroneSupervisor can push state changes, safety violations, and task
// completions immediately instead of waiting for the next periodic tick.
type Broadcaster struct {
	cfg      Config
	registry Registry
	logger   *logger.Logger

	mu          sync.RWMutex
	subscribers map[string]*subscriber

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func New(cfg Config, registry Registry, log *logger.Logger) *Broadcaster {
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = time.Second
	}
	if cfg.SubscriberQueueLen <= 0 {
		cfg.SubscriberQueueLen = 32
	}
	return &Broadcaster{
		cfg:         cfg,
		registry:    registry,
		logger:      log,
		subscribers: make(map[string]*subscriber),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Run drives the periodic snapshot loop until ctx is cancelled or Stop is
// called.
func (b *Broadcaster) Run(ctx context.Context) {
	defer close(b.done)
	ticker := time.NewTicker(b.cfg.SnapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stop:
			return
		case <-ticker.C:
			b.snapshotAll()
		}
	}
}

func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() { close(b.stop) })
	<-b.done
}

func (b *Broadcaster) snapshotAll() {
	now := time.Now()
	for id, rec := range b.registry.All() {
		b.publish(Frame{DroneID: id, Record: rec, Reason: "tick", At: now})
	}
}

// Publish implements supervisor.EventSink. A supervisor event carries just
// enough to look up the fresh record via the registry; we snapshot once more
// here so subscribers always see the post-event state, not a stale one
// racing with the periodic tick.
func (b *Broadcaster) Publish(e supervisor.Event) {
	all := b.registry.All()
	rec, ok := all[e.DroneID]
	if !ok {
		return
	}
	b.publish(Frame{DroneID: e.DroneID, Record: rec, Reason: string(e.Kind), At: e.At})
}

func (b *Broadcaster) publish(f Frame) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subscribers {
		if sub.filter != "" && sub.filter != "*" && sub.filter != f.DroneID {
			continue
		}
		sub.send(f)
	}
}

// send applies drop-oldest backpressure: if the subscriber's channel is
// full, the oldest queued frame is discarded to make room for the newest one
// rather than blocking the broadcast loop or dropping the newest update.
func (s *subscriber) send(f Frame) {
	select {
	case s.ch <- f:
		return
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- f:
	default:
	}
}

// Subscribe registers a new subscriber filtered to a single drone ID, or to
// "*"/"" for all drones. The returned channel is closed on Unsubscribe.
func (b *Broadcaster) Subscribe(id string, filter domain.DroneID) <-chan Frame {
	sub := &subscriber{id: id, filter: filter, ch: make(chan Frame, b.cfg.SubscriberQueueLen)}
	b.mu.Lock()
	b.subscribers[id] = sub
	b.mu.Unlock()
	return sub.ch
}

func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(sub.ch)
	}
}

func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
