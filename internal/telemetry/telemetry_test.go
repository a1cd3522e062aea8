package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/dronefleet/fleetctl/internal/domain"
	"github.com/dronefleet/fleetctl/internal/supervisor"
	"github.com/dronefleet/fleetctl/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegistry struct {
	records map[domain.DroneID]domain.DroneRecord
}

func (f *fakeRegistry) All() map[domain.DroneID]domain.DroneRecord { return f.records }

func testLogger() *logger.Logger {
	return logger.NewLogger(logger.Config{Level: "error", Format: "text", Output: "stdout"})
}

func TestSubscribeReceivesPeriodicTick(t *testing.T) {
	reg := &fakeRegistry{records: map[domain.DroneID]domain.DroneRecord{"drone-1": {ID: "drone-1"}}}
	cfg := Config{SnapshotInterval: 5 * time.Millisecond, SubscriberQueueLen: 4}
	b := New(cfg, reg, testLogger())

	ch := b.Subscribe("sub-1", "*")
	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)
	defer func() {
		cancel()
		b.Stop()
	}()

	select {
	case f := <-ch:
		assert.Equal(t, domain.DroneID("drone-1"), f.DroneID)
		assert.Equal(t, "tick", f.Reason)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for telemetry tick")
	}
}

func TestSubscribeFilterExcludesOtherDrones(t *testing.T) {
	reg := &fakeRegistry{records: map[domain.DroneID]domain.DroneRecord{
		"drone-1": {ID: "drone-1"}, "drone-2": {ID: "drone-2"},
	}}
	b := New(Config{SnapshotInterval: time.Hour, SubscriberQueueLen: 4}, reg, testLogger())
	ch := b.Subscribe("sub-1", "drone-2")

	b.Publish(supervisor.Event{DroneID: "drone-1", Kind: supervisor.EventStateChanged, At: time.Now()})
	b.Publish(supervisor.Event{DroneID: "drone-2", Kind: supervisor.EventStateChanged, At: time.Now()})

	select {
	case f := <-ch:
		assert.Equal(t, domain.DroneID("drone-2"), f.DroneID)
	default:
		t.Fatal("expected a frame for drone-2")
	}
	select {
	case f := <-ch:
		t.Fatalf("unexpected second frame for %s", f.DroneID)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	reg := &fakeRegistry{records: map[domain.DroneID]domain.DroneRecord{}}
	b := New(DefaultConfig(), reg, testLogger())
	ch := b.Subscribe("sub-1", "*")
	require.Equal(t, 1, b.SubscriberCount())

	b.Unsubscribe("sub-1")
	assert.Equal(t, 0, b.SubscriberCount())
	_, ok := <-ch
	assert.False(t, ok)
}

func TestSendDropsOldestWhenFull(t *testing.T) {
	reg := &fakeRegistry{records: map[domain.DroneID]domain.DroneRecord{}}
	b := New(Config{SnapshotInterval: time.Hour, SubscriberQueueLen: 1}, reg, testLogger())
	ch := b.Subscribe("sub-1", "*")

	reg.records["drone-1"] = domain.DroneRecord{ID: "drone-1"}
	b.Publish(supervisor.Event{DroneID: "drone-1", Kind: supervisor.EventStateChanged, At: time.Now()})
	b.Publish(supervisor.Event{DroneID: "drone-1", Kind: supervisor.EventTaskCompleted, At: time.Now()})

	f := <-ch
	assert.Equal(t, "task_completed", f.Reason)
}
