package router

import (
	"context"
	"testing"

	"github.com/dronefleet/fleetctl/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInferDependenciesChainsConnectTakeoffMove(t *testing.T) {
	items := []BatchItem{
		{ID: "a", Intent: domain.Intent{Action: domain.ActionConnect, TargetDrone: "drone-1"}},
		{ID: "b", Intent: domain.Intent{Action: domain.ActionTakeoff, TargetDrone: "drone-1"}},
		{ID: "c", Intent: domain.Intent{Action: domain.ActionMove, TargetDrone: "drone-1"}},
	}
	out := inferDependencies(items)
	assert.Contains(t, out[1].DependsOn, "a")
	assert.Contains(t, out[2].DependsOn, "b")
}

func TestInferDependenciesBarriersOnEmergency(t *testing.T) {
	items := []BatchItem{
		{ID: "a", Intent: domain.Intent{Action: domain.ActionEmergency, TargetDrone: "drone-1"}},
		{ID: "b", Intent: domain.Intent{Action: domain.ActionLand, TargetDrone: "drone-2"}},
	}
	out := inferDependencies(items)
	assert.Contains(t, out[1].DependsOn, "a")
}

func TestExecuteBatchSequentialSkipsDependentsOfFailure(t *testing.T) {
	failing := &fakeSupervisor{failTakeoffTimes: 99}
	reg := &fakeRegistry{drones: map[domain.DroneID]*fakeSupervisor{"drone-1": failing}}
	r := New(DefaultConfig(), reg, allowAll{}, testLogger())
	r.cfg.MaxRetries = 0

	items := []BatchItem{
		{ID: "a", Intent: domain.Intent{Action: domain.ActionTakeoff, TargetDrone: "drone-1"}},
		{ID: "b", Intent: domain.Intent{Action: domain.ActionMove, TargetDrone: "drone-1"}, DependsOn: []string{"a"}},
	}
	results := r.ExecuteBatch(context.Background(), items, Principal{ID: "op"}, ModeSequential, StrategyContinue)
	require.Len(t, results, 2)
	assert.False(t, results[0].Result.Success)
	assert.True(t, results[1].Skipped)
}

func TestExecuteBatchFailFastStopsRemaining(t *testing.T) {
	failing := &fakeSupervisor{failTakeoffTimes: 99}
	reg := &fakeRegistry{drones: map[domain.DroneID]*fakeSupervisor{"drone-1": failing}}
	r := New(DefaultConfig(), reg, allowAll{}, testLogger())
	r.cfg.MaxRetries = 0

	items := []BatchItem{
		{ID: "a", Intent: domain.Intent{Action: domain.ActionTakeoff, TargetDrone: "drone-1"}},
		{ID: "b", Intent: domain.Intent{Action: domain.ActionLand, TargetDrone: "drone-1"}},
	}
	results := r.ExecuteBatch(context.Background(), items, Principal{ID: "op"}, ModeSequential, StrategyFailFast)
	require.Len(t, results, 2)
	assert.True(t, results[1].Skipped)
}

func TestExecuteBatchParallelRunsDisjointDrones(t *testing.T) {
	s1 := &fakeSupervisor{}
	s2 := &fakeSupervisor{}
	reg := &fakeRegistry{drones: map[domain.DroneID]*fakeSupervisor{"drone-1": s1, "drone-2": s2}}
	r := New(DefaultConfig(), reg, allowAll{}, testLogger())

	items := []BatchItem{
		{ID: "a", Intent: domain.Intent{Action: domain.ActionTakeoff, TargetDrone: "drone-1"}},
		{ID: "b", Intent: domain.Intent{Action: domain.ActionTakeoff, TargetDrone: "drone-2"}},
	}
	results := r.ExecuteBatch(context.Background(), items, Principal{ID: "op"}, ModeParallel, StrategyContinue)
	require.Len(t, results, 2)
	for _, res := range results {
		assert.True(t, res.Result.Success)
	}
}

func TestExecuteBatchPriorityOrdersEmergencyFirst(t *testing.T) {
	s1 := &fakeSupervisor{}
	reg := &fakeRegistry{drones: map[domain.DroneID]*fakeSupervisor{"drone-1": s1}}
	r := New(DefaultConfig(), reg, allowAll{}, testLogger())

	items := []BatchItem{
		{ID: "low", Intent: domain.Intent{Action: domain.ActionPhoto, TargetDrone: "drone-1"}},
		{ID: "high", Intent: domain.Intent{Action: domain.ActionEmergency, TargetDrone: "drone-1"}},
	}
	results := r.ExecuteBatch(context.Background(), items, Principal{ID: "op"}, ModePriority, StrategyContinue)
	require.Len(t, results, 2)
	assert.Equal(t, "high", results[0].ID)
	assert.Equal(t, "low", results[1].ID)
}

func TestExecuteBatchOptimizedGroupsByDrone(t *testing.T) {
	s1 := &fakeSupervisor{}
	s2 := &fakeSupervisor{}
	reg := &fakeRegistry{drones: map[domain.DroneID]*fakeSupervisor{"drone-1": s1, "drone-2": s2}}
	r := New(DefaultConfig(), reg, allowAll{}, testLogger())

	items := []BatchItem{
		{ID: "a1", Intent: domain.Intent{Action: domain.ActionConnect, TargetDrone: "drone-1"}},
		{ID: "a2", Intent: domain.Intent{Action: domain.ActionTakeoff, TargetDrone: "drone-1"}},
		{ID: "b1", Intent: domain.Intent{Action: domain.ActionConnect, TargetDrone: "drone-2"}},
	}
	results := r.ExecuteBatch(context.Background(), items, Principal{ID: "op"}, ModeOptimized, StrategyContinue)
	byID := map[string]BatchResult{}
	for _, res := range results {
		byID[res.ID] = res
	}
	assert.True(t, byID["a1"].Result.Success)
	assert.True(t, byID["a2"].Result.Success)
	assert.True(t, byID["b1"].Result.Success)
}

func TestDropDependentsOfFailedPropagates(t *testing.T) {
	items := []BatchItem{
		{ID: "x", DependsOn: []string{"a"}},
		{ID: "y", DependsOn: []string{"x"}},
	}
	failed := map[string]bool{"a": true}
	dropDependentsOfFailed(items, failed)
	assert.True(t, failed["x"])
}
