// Package router implements the CommandRouter: turns an Intent into
// supervisor calls, with authorization, retry/backoff, alternative-intent
// fallback, and both single and batch (dependency-graph) execution.
package router

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/dronefleet/fleetctl/internal/capability"
	"github.com/dronefleet/fleetctl/internal/domain"
	"github.com/dronefleet/fleetctl/pkg/logger"
)

// Principal is the authenticated caller identity, as returned by the
// pluggable auth collaborator.
type Principal struct {
	ID    string
	Roles []string
}

// Authorizer is the external auth collaborator's contract this package
// depends on.
type Authorizer interface {
	Authorize(principal Principal, action domain.Action) bool
}

// SupervisorHandle is the subset of DroneSupervisor the router calls.
// Defined here (not imported from internal/supervisor) to decouple the two
// packages' build graphs and let tests fake it directly.
type SupervisorHandle interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Takeoff(ctx context.Context) error
	Land(ctx context.Context) error
	EmergencyStop(ctx context.Context) error
	Move(ctx context.Context, dir capability.Direction, distanceCm float64, speedCmS float64) error
	Rotate(ctx context.Context, dir capability.Direction, angleDeg float64) error
	SetAltitude(ctx context.Context, targetCm float64, mode capability.AltitudeMode) error
	GoXYZ(ctx context.Context, x, y, z, speedCmS float64) error
	RCControl(ctx context.Context, leftRight, forwardBack, upDown, yaw float64) error
	GetRecord() domain.DroneRecord
}

// SupervisorRegistry resolves a DroneID to its supervisor, and reports the
// single connected drone when a target is omitted.
type SupervisorRegistry interface {
	Get(id domain.DroneID) (SupervisorHandle, bool)
	SoleConnected() (domain.DroneID, bool)
}

// Config holds the router's tunables.
type Config struct {
	MaxRetries       int
	RetryBaseDelay   time.Duration
	AltThreshold     float64
	OverloadCooldown time.Duration
	AnalyticsWindow  int
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:       2,
		RetryBaseDelay:   250 * time.Millisecond,
		AltThreshold:     0.7,
		OverloadCooldown: 5 * time.Second,
		AnalyticsWindow:  256,
	}
}

// Result is what a single-intent execution yields.
type Result struct {
	Success bool
	Message string
	Err     error
	UsedAlternative bool
	Attempts int
}

// CommandRouter sequences Intents into supervisor calls.
type CommandRouter struct {
	cfg        Config
	registry   SupervisorRegistry
	authorizer Authorizer
	logger     *logger.Logger

	mu            sync.Mutex
	analytics     []analyticsEntry
	overloadUntil time.Time
}

type analyticsEntry struct {
	Action   domain.Action
	Duration time.Duration
	Attempts int
	Success  bool
	At       time.Time
}

func New(cfg Config, registry SupervisorRegistry, authorizer Authorizer, log *logger.Logger) *CommandRouter {
	return &CommandRouter{cfg: cfg, registry: registry, authorizer: authorizer, logger: log}
}

// Execute runs a single Intent end to end: authorization, target
// resolution, dispatch with retry, and alternative-intent fallback on a
// low-confidence validation failure.
func (r *CommandRouter) Execute(ctx context.Context, intent domain.Intent, principal Principal) Result {
	start := time.Now()

	if r.overloaded() {
		return Result{Err: domain.NewSystemError(domain.CodeOverload, "system is shedding load", "in overload cooldown window")}
	}

	if !r.authorizer.Authorize(principal, intent.Action) {
		r.logger.SecurityLogger(principal.ID, string(intent.Action), "drone").Warn("authorization denied")
		return Result{Err: domain.NewSecurityError(domain.CodeUnauthorized, "not authorized for this action", "Authorize returned false")}
	}

	targetID, err := r.resolveTarget(intent)
	if err != nil {
		return Result{Err: err}
	}
	sup, ok := r.registry.Get(targetID)
	if !ok {
		return Result{Err: domain.NewValidationError(domain.CodeMalformedID, "unknown drone", string(targetID))}
	}

	res := r.dispatchWithRetry(ctx, sup, intent)
	res.Message = fmt.Sprintf("%s completed", intent.Action)

	if res.Err != nil && isInvalidCommand(res.Err) && intent.Confidence < r.cfg.AltThreshold && len(intent.Alternatives) > 0 {
		alt := intent.Alternatives[0]
		r.logger.RouterLogger("alternative_fallback", string(targetID), res.Attempts).Info("primary intent failed, trying top alternative")
		altIntent := domain.Intent{Action: alt.Action, Parameters: alt.Parameters, Confidence: alt.Confidence, TargetDrone: targetID}
		altRes := r.dispatchWithRetry(ctx, sup, altIntent)
		altRes.UsedAlternative = true
		res = altRes
	}

	r.recordAnalytics(intent.Action, time.Since(start), res.Attempts, res.Err == nil)
	if res.Err != nil {
		if fe, ok := domain.AsFleetError(res.Err); ok && fe.Kind == domain.KindSystem && fe.Code == domain.CodeOverload {
			r.enterOverload()
		}
	}
	return res
}

func isInvalidCommand(err error) bool {
	fe, ok := domain.AsFleetError(err)
	return ok && fe.Kind == domain.KindValidation
}

func (r *CommandRouter) resolveTarget(intent domain.Intent) (domain.DroneID, error) {
	if intent.TargetDrone != "" {
		return intent.TargetDrone, nil
	}
	if id, ok := r.registry.SoleConnected(); ok {
		return id, nil
	}
	return "", domain.NewValidationError(domain.CodeInvalidParameter, "no target drone specified and more than one drone is connected", "ambiguous target")
}

// dispatchWithRetry retries Unreachable/Timeout up to MaxRetries with
// exponential backoff 250ms*2^n.
func (r *CommandRouter) dispatchWithRetry(ctx context.Context, sup SupervisorHandle, intent domain.Intent) Result {
	var lastErr error
	attempts := 0
	for n := 0; n <= r.cfg.MaxRetries; n++ {
		attempts++
		lastErr = dispatch(ctx, sup, intent)
		if lastErr == nil {
			return Result{Success: true, Attempts: attempts}
		}
		if !isRetryable(lastErr) {
			break
		}
		if n == r.cfg.MaxRetries {
			break
		}
		backoff := time.Duration(float64(r.cfg.RetryBaseDelay) * math.Pow(2, float64(n)))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return Result{Err: ctx.Err(), Attempts: attempts}
		}
	}
	return Result{Err: lastErr, Attempts: attempts}
}

func isRetryable(err error) bool {
	fe, ok := domain.AsFleetError(err)
	if !ok {
		return false
	}
	return fe.Kind == domain.KindTransport && (fe.Code == domain.CodeUnreachable || fe.Code == domain.CodeTimeout)
}

// dispatch routes one Intent's action to the matching supervisor call.
func dispatch(ctx context.Context, sup SupervisorHandle, intent domain.Intent) error {
	p := intent.Parameters
	switch intent.Action {
	case domain.ActionConnect:
		return sup.Connect(ctx)
	case domain.ActionDisconnect:
		return sup.Disconnect(ctx)
	case domain.ActionTakeoff:
		return sup.Takeoff(ctx)
	case domain.ActionLand:
		return sup.Land(ctx)
	case domain.ActionEmergency:
		return sup.EmergencyStop(ctx)
	case domain.ActionMove:
		return sup.Move(ctx, directionFromParams(p), p["distance"], p["speed"])
	case domain.ActionRotate:
		return sup.Rotate(ctx, rotationFromParams(p), p["angle"])
	case domain.ActionAltitude:
		mode := capability.AltitudeAbsolute
		if p["relative"] != 0 {
			mode = capability.AltitudeRelative
		}
		return sup.SetAltitude(ctx, p["target"], mode)
	case domain.ActionGoXYZ:
		return sup.GoXYZ(ctx, p["x"], p["y"], p["z"], p["speed"])
	case domain.ActionRCControl:
		return sup.RCControl(ctx, p["left_right_velocity"], p["forward_backward_velocity"], p["up_down_velocity"], p["yaw_velocity"])
	case domain.ActionStatus:
		sup.GetRecord()
		return nil
	default:
		return domain.NewValidationError(domain.CodeInvalidParameter, "action not supported by router dispatch", string(intent.Action))
	}
}

// directionFromParams/rotationFromParams read a numeric direction code out
// of Parameters — the NLParser and REST/MCP adapters agree on this encoding
// so Intent stays a flat map[string]float64.
func directionFromParams(p map[string]float64) capability.Direction {
	return capability.Direction(directionNames[int(p["direction"])])
}

func rotationFromParams(p map[string]float64) capability.Direction {
	if p["direction"] == 1 {
		return capability.DirCounterclockwise
	}
	return capability.DirClockwise
}

var directionNames = map[int]string{
	0: string(capability.DirForward),
	1: string(capability.DirBack),
	2: string(capability.DirLeft),
	3: string(capability.DirRight),
	4: string(capability.DirUp),
	5: string(capability.DirDown),
}

func (r *CommandRouter) recordAnalytics(action domain.Action, dur time.Duration, attempts int, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.analytics = append(r.analytics, analyticsEntry{Action: action, Duration: dur, Attempts: attempts, Success: success, At: time.Now()})
	if over := len(r.analytics) - r.cfg.AnalyticsWindow; over > 0 {
		r.analytics = r.analytics[over:]
	}
}

func (r *CommandRouter) enterOverload() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overloadUntil = time.Now().Add(r.cfg.OverloadCooldown)
}

func (r *CommandRouter) overloaded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Now().Before(r.overloadUntil)
}

// AnalyticsSummary is a rolling view over recent executions, bounded to
// Config.AnalyticsWindow entries.
type AnalyticsSummary struct {
	Count        int
	SuccessRatio float64
	AvgDuration  time.Duration
	AvgAttempts  float64
	ByAction     map[domain.Action]int
}

func (r *CommandRouter) Analytics() AnalyticsSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	summary := AnalyticsSummary{ByAction: make(map[domain.Action]int)}
	if len(r.analytics) == 0 {
		return summary
	}
	var successes int
	var totalDur time.Duration
	var totalAttempts int
	for _, e := range r.analytics {
		if e.Success {
			successes++
		}
		totalDur += e.Duration
		totalAttempts += e.Attempts
		summary.ByAction[e.Action]++
	}
	summary.Count = len(r.analytics)
	summary.SuccessRatio = float64(successes) / float64(summary.Count)
	summary.AvgDuration = totalDur / time.Duration(summary.Count)
	summary.AvgAttempts = float64(totalAttempts) / float64(summary.Count)
	return summary
}

// sortActionsByPriority orders a batch by configured action priority for
// Priority execution mode.
func sortActionsByPriority(items []BatchItem, priority map[domain.Action]int) []BatchItem {
	out := append([]BatchItem(nil), items...)
	sort.SliceStable(out, func(i, j int) bool {
		return priority[out[i].Intent.Action] < priority[out[j].Intent.Action]
	})
	return out
}
