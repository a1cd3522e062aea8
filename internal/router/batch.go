package router

import (
	"context"
	"sync"

	"github.com/dronefleet/fleetctl/internal/domain"
)

// ExecutionMode selects how a batch's dependency graph is walked.
type ExecutionMode string

const (
	ModeSequential ExecutionMode = "sequential"
	ModeParallel   ExecutionMode = "parallel"
	ModeOptimized  ExecutionMode = "optimized"
	ModePriority   ExecutionMode = "priority"
)

// RecoveryStrategy selects how a batch reacts to a step failure.
type RecoveryStrategy string

const (
	StrategyFailFast      RecoveryStrategy = "fail_fast"
	StrategyContinue      RecoveryStrategy = "continue"
	StrategySmartRecovery RecoveryStrategy = "smart_recovery"
)

// BatchItem is one intent within a batch request.
type BatchItem struct {
	ID     string
	Intent domain.Intent
	// DependsOn names other items (by ID) in the same batch that must
	// succeed first. connect/takeoff dependency chaining is the router's
	// job to infer; callers can also set this explicitly.
	DependsOn []string
}

// BatchResult pairs an item with its outcome.
type BatchResult struct {
	ID      string
	Result  Result
	Skipped bool
}

// ActionPriority is the default ordering for Priority mode: lower first.
var ActionPriority = map[domain.Action]int{
	domain.ActionEmergency:  0,
	domain.ActionConnect:    1,
	domain.ActionTakeoff:    2,
	domain.ActionLand:       3,
	domain.ActionMove:       4,
	domain.ActionRotate:     4,
	domain.ActionAltitude:   4,
	domain.ActionPhoto:      5,
	domain.ActionStreaming:  5,
	domain.ActionDisconnect: 6,
}

// inferDependencies adds the implicit connect-before-takeoff-before-flight
// edges, scoped per target drone, and makes every item after an emergency
// depend on it. A disconnect gets no implicit edges.
func inferDependencies(items []BatchItem) []BatchItem {
	out := make([]BatchItem, len(items))
	copy(out, items)

	lastConnectByDrone := map[domain.DroneID]string{}
	lastTakeoffByDrone := map[domain.DroneID]string{}
	var lastEmergencyID string

	for i := range out {
		target := out[i].Intent.TargetDrone
		deps := append([]string(nil), out[i].DependsOn...)
		if lastEmergencyID != "" {
			deps = append(deps, lastEmergencyID)
		}
		switch out[i].Intent.Action {
		case domain.ActionConnect:
			lastConnectByDrone[target] = out[i].ID
		case domain.ActionTakeoff:
			if id, ok := lastConnectByDrone[target]; ok {
				deps = append(deps, id)
			}
			lastTakeoffByDrone[target] = out[i].ID
		case domain.ActionMove, domain.ActionRotate, domain.ActionAltitude:
			if id, ok := lastTakeoffByDrone[target]; ok {
				deps = append(deps, id)
			}
		case domain.ActionEmergency:
			lastEmergencyID = out[i].ID
		}
		out[i].DependsOn = deps
	}
	return out
}

// ExecuteBatch runs items according to mode and recovers from step failures
// according to strategy.
func (r *CommandRouter) ExecuteBatch(ctx context.Context, items []BatchItem, principal Principal, mode ExecutionMode, strategy RecoveryStrategy) []BatchResult {
	items = inferDependencies(items)

	switch mode {
	case ModeParallel:
		return r.runParallel(ctx, items, principal, strategy)
	case ModePriority:
		ordered := sortActionsByPriority(items, ActionPriority)
		return r.runSequential(ctx, ordered, principal, strategy)
	case ModeOptimized:
		return r.runOptimized(ctx, items, principal, strategy)
	default: // ModeSequential
		return r.runSequential(ctx, items, principal, strategy)
	}
}

func (r *CommandRouter) runSequential(ctx context.Context, items []BatchItem, principal Principal, strategy RecoveryStrategy) []BatchResult {
	results := make(map[string]BatchResult, len(items))
	order := make([]string, 0, len(items))
	failed := map[string]bool{}

	for _, item := range items {
		order = append(order, item.ID)
		if depFailed(item.DependsOn, failed) {
			results[item.ID] = BatchResult{ID: item.ID, Skipped: true}
			failed[item.ID] = true
			continue
		}
		res := r.Execute(ctx, item.Intent, principal)
		results[item.ID] = BatchResult{ID: item.ID, Result: res}
		if res.Err != nil {
			failed[item.ID] = true
			if strategy == StrategyFailFast {
				for _, rest := range items[len(order):] {
					order = append(order, rest.ID)
				}
				return fillRemaining(order, results, item.ID)
			}
		}
	}
	return orderedResults(order, results)
}

// runParallel ignores dependencies entirely — safe only for disjoint
// drones, a constraint the caller is responsible for.
func (r *CommandRouter) runParallel(ctx context.Context, items []BatchItem, principal Principal, strategy RecoveryStrategy) []BatchResult {
	results := make([]BatchResult, len(items))
	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		go func(i int, item BatchItem) {
			defer wg.Done()
			results[i] = BatchResult{ID: item.ID, Result: r.Execute(ctx, item.Intent, principal)}
		}(i, item)
	}
	wg.Wait()
	return results
}

// runOptimized topologically groups items into parallel waves across
// distinct drones, serial within a drone.
func (r *CommandRouter) runOptimized(ctx context.Context, items []BatchItem, principal Principal, strategy RecoveryStrategy) []BatchResult {
	byID := make(map[string]BatchItem, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}
	results := make(map[string]BatchResult, len(items))
	failed := map[string]bool{}
	done := map[string]bool{}
	order := make([]string, 0, len(items))

	remaining := append([]BatchItem(nil), items...)
	for len(remaining) > 0 {
		var wave []BatchItem
		var next []BatchItem
		busyDrone := map[domain.DroneID]bool{}

		for _, item := range remaining {
			ready := true
			for _, dep := range item.DependsOn {
				if !done[dep] {
					ready = false
					break
				}
			}
			if !ready || busyDrone[item.Intent.TargetDrone] {
				next = append(next, item)
				continue
			}
			wave = append(wave, item)
			busyDrone[item.Intent.TargetDrone] = true
		}
		if len(wave) == 0 {
			// Circular or unresolved dependency: drain the rest as skipped
			// rather than spin forever.
			for _, item := range next {
				results[item.ID] = BatchResult{ID: item.ID, Skipped: true}
				order = append(order, item.ID)
			}
			break
		}

		waveResults := r.runParallel(ctx, wave, principal, strategy)
		for i, item := range wave {
			res := waveResults[i]
			results[item.ID] = res
			order = append(order, item.ID)
			done[item.ID] = true
			if res.Result.Err != nil {
				failed[item.ID] = true
			}
		}
		if strategy == StrategyFailFast && len(failed) > 0 {
			for _, item := range next {
				results[item.ID] = BatchResult{ID: item.ID, Skipped: true}
				order = append(order, item.ID)
			}
			break
		}
		if strategy == StrategySmartRecovery {
			next = dropDependentsOfFailed(next, failed)
			kept := make([]BatchItem, 0, len(next))
			for _, item := range next {
				if failed[item.ID] {
					results[item.ID] = BatchResult{ID: item.ID, Skipped: true}
					order = append(order, item.ID)
					continue
				}
				kept = append(kept, item)
			}
			next = kept
		}
		remaining = next
	}
	return orderedResults(order, results)
}

// dropDependentsOfFailed marks items whose dependency chain includes a
// failed step as failed, so runOptimized records them as skipped; items
// independent of the failure are left unmarked.
func dropDependentsOfFailed(items []BatchItem, failed map[string]bool) []BatchItem {
	out := make([]BatchItem, 0, len(items))
	for _, item := range items {
		blocked := false
		for _, dep := range item.DependsOn {
			if failed[dep] {
				blocked = true
				break
			}
		}
		if blocked {
			failed[item.ID] = true // propagate so downstream waves also skip
		}
		out = append(out, item)
	}
	return out
}

func depFailed(deps []string, failed map[string]bool) bool {
	for _, d := range deps {
		if failed[d] {
			return true
		}
	}
	return false
}

func fillRemaining(order []string, results map[string]BatchResult, stopAfter string) []BatchResult {
	stopped := false
	out := make([]BatchResult, 0, len(order))
	for _, id := range order {
		if stopped {
			results[id] = BatchResult{ID: id, Skipped: true}
		}
		out = append(out, results[id])
		if id == stopAfter {
			stopped = true
		}
	}
	return out
}

func orderedResults(order []string, results map[string]BatchResult) []BatchResult {
	out := make([]BatchResult, 0, len(order))
	for _, id := range order {
		out = append(out, results[id])
	}
	return out
}
