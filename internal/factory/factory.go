// Package factory resolves a requested Mode to a concrete DroneCapability
// backend, applying the real-to-simulation fallback policy, and owns
// backend construction so the rest of the system only ever sees the
// interface.
package factory

import (
	"context"
	"fmt"
	"sync"

	"github.com/dronefleet/fleetctl/internal/capability"
	"github.com/dronefleet/fleetctl/internal/domain"
	"github.com/dronefleet/fleetctl/pkg/logger"
)

// Discovery is the subset of NetworkDiscovery the factory needs for
// auto-mode resolution; kept as an interface so tests can fake it.
type Discovery interface {
	FirstAvailable() (domain.DetectedDrone, bool)
}

// Config bounds what real hardware a factory is willing to dial and what
// simulated defaults it constructs with.
type Config struct {
	RealCommandPort int
	RealDialTimeout int // seconds
	Sim             capability.SimConfig
	AllowFallback   bool // real requested but unreachable -> simulation
}

func DefaultConfig() Config {
	return Config{
		RealCommandPort: 8889,
		RealDialTimeout: 5,
		Sim:             capability.DefaultSimConfig(),
		AllowFallback:   true,
	}
}

// Resolution is what the factory hands back: the concrete capability plus
// bookkeeping the supervisor attaches to the DroneRecord (FallbackApplied,
// ModeEffective).
type Resolution struct {
	Backend         capability.DroneCapability
	ModeEffective   domain.Mode
	FallbackApplied bool
}

// Factory builds and resolves DroneCapability backends for the modes a
// caller requests.
type Factory struct {
	cfg       Config
	discovery Discovery
	logger    *logger.Logger

	mu       sync.Mutex
	realByIP map[string]capability.DroneCapability
}

func New(cfg Config, discovery Discovery, log *logger.Logger) *Factory {
	return &Factory{
		cfg:       cfg,
		discovery: discovery,
		logger:    log,
		realByIP:  make(map[string]capability.DroneCapability),
	}
}

// Resolve builds a backend for the requested mode and optional IP hint.
// ModeAuto consults discovery first and falls back to a fresh simulated
// backend when nothing is available; ModeReal falls back to simulation
// only when AllowFallback is set, and otherwise returns a transport error
// so the caller can surface it rather than silently
// flying a simulation.
func (f *Factory) Resolve(ctx context.Context, requested domain.Mode, ipHint string) (Resolution, error) {
	switch requested {
	case domain.ModeSimulation:
		return Resolution{
			Backend:       f.newSimulated(),
			ModeEffective: domain.ModeSimulation,
		}, nil

	case domain.ModeReal:
		backend, err := f.newReal(ctx, ipHint)
		if err == nil {
			return Resolution{Backend: backend, ModeEffective: domain.ModeReal}, nil
		}
		if !f.cfg.AllowFallback {
			return Resolution{}, err
		}
		f.logger.WithError(err).Warn("real mode requested but unreachable, falling back to simulation")
		return Resolution{
			Backend:         f.newSimulated(),
			ModeEffective:   domain.ModeSimulation,
			FallbackApplied: true,
		}, nil

	case domain.ModeAuto:
		if ipHint == "" {
			if dd, ok := f.discovery.FirstAvailable(); ok {
				ipHint = dd.IP
			}
		}
		if ipHint != "" {
			backend, err := f.newReal(ctx, ipHint)
			if err == nil {
				return Resolution{Backend: backend, ModeEffective: domain.ModeReal}, nil
			}
			f.logger.WithError(err).Info("auto mode: no reachable real drone, using simulation")
		}
		return Resolution{
			Backend:         f.newSimulated(),
			ModeEffective:   domain.ModeSimulation,
			FallbackApplied: true,
		}, nil

	default:
		return Resolution{}, domain.NewValidationError(domain.CodeInvalidParameter,
			"unknown drone mode requested", fmt.Sprintf("mode %q is not one of real/simulation/auto", requested))
	}
}

func (f *Factory) newSimulated() capability.DroneCapability {
	return capability.NewSimulatedDroneAdapter(f.cfg.Sim, nil)
}

func (f *Factory) newReal(ctx context.Context, ip string) (capability.DroneCapability, error) {
	if ip == "" {
		return nil, domain.NewValidationError(domain.CodeInvalidParameter,
			"real mode requires a drone IP", "no IP hint and no discovery hit")
	}

	f.mu.Lock()
	if existing, ok := f.realByIP[ip]; ok {
		f.mu.Unlock()
		return existing, nil
	}
	f.mu.Unlock()

	cfg := capability.DefaultRealConfig(ip)
	if f.cfg.RealCommandPort > 0 {
		cfg.ControlPort = f.cfg.RealCommandPort
	}
	id := domain.DroneID(ip)
	backend := capability.NewRealDroneAdapter(id, cfg, f.logger, nil)
	if err := backend.Connect(ctx); err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.realByIP[ip] = backend
	f.mu.Unlock()
	return backend, nil
}

// Release drops a cached real backend, e.g. after a disconnect, so a later
// Resolve dials fresh rather than reusing a dead connection.
func (f *Factory) Release(ip string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.realByIP, ip)
}
