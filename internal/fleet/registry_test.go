package fleet

import (
	"context"
	"testing"

	"github.com/dronefleet/fleetctl/internal/domain"
	"github.com/dronefleet/fleetctl/internal/supervisor"
	"github.com/dronefleet/fleetctl/internal/testsupport"
	"github.com/dronefleet/fleetctl/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSup(id domain.DroneID) *supervisor.DroneSupervisor {
	log := logger.NewLogger(logger.Config{Level: "error", Format: "text", Output: "stdout"})
	return supervisor.New(id, domain.ModeSimulation, testsupport.NewFakeCapability(), domain.DefaultSafetyConfig(), log, nil)
}

func TestRegistryAddGetRemove(t *testing.T) {
	r := New()
	sup := newSup("drone-1")
	r.Add("drone-1", sup)

	got, ok := r.Get("drone-1")
	require.True(t, ok)
	assert.Same(t, sup, got)

	r.Remove("drone-1")
	_, ok = r.Get("drone-1")
	assert.False(t, ok)
}

func TestRegistryIDsAndCount(t *testing.T) {
	r := New()
	r.Add("drone-1", newSup("drone-1"))
	r.Add("drone-2", newSup("drone-2"))

	assert.Equal(t, 2, r.Count())
	assert.ElementsMatch(t, []domain.DroneID{"drone-1", "drone-2"}, r.IDs())
}

func TestRegistrySoleConnected(t *testing.T) {
	r := New()
	s1 := newSup("drone-1")
	s2 := newSup("drone-2")
	r.Add("drone-1", s1)
	r.Add("drone-2", s2)

	_, ok := r.SoleConnected()
	assert.False(t, ok)

	require.NoError(t, s1.Connect(context.Background()))
	id, ok := r.SoleConnected()
	assert.True(t, ok)
	assert.Equal(t, domain.DroneID("drone-1"), id)

	require.NoError(t, s2.Connect(context.Background()))
	_, ok = r.SoleConnected()
	assert.False(t, ok)
}

func TestRegistryAllSnapshots(t *testing.T) {
	r := New()
	r.Add("drone-1", newSup("drone-1"))
	all := r.All()
	assert.Len(t, all, 1)
	assert.Equal(t, domain.DroneID("drone-1"), all["drone-1"].ID)
}

func TestRouterViewAdapts(t *testing.T) {
	r := New()
	r.Add("drone-1", newSup("drone-1"))
	view := RouterView{Registry: r}
	handle, ok := view.Get("drone-1")
	require.True(t, ok)
	require.NoError(t, handle.Connect(context.Background()))
}
