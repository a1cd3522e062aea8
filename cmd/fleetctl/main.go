// Command fleetctl is the fleet control process: it loads configuration,
// builds one supervisor per configured drone, and serves the REST/WebSocket
// surface, the MCP stdio surface, or both, shutting down in a fixed order
// (stop accepting new work, drain in-flight commands, close drone
// connections, flush telemetry).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dronefleet/fleetctl/internal/auth"
	"github.com/dronefleet/fleetctl/internal/cache"
	"github.com/dronefleet/fleetctl/internal/capability"
	"github.com/dronefleet/fleetctl/internal/config"
	"github.com/dronefleet/fleetctl/internal/discovery"
	"github.com/dronefleet/fleetctl/internal/domain"
	"github.com/dronefleet/fleetctl/internal/eventbus"
	"github.com/dronefleet/fleetctl/internal/fleet"
	"github.com/dronefleet/fleetctl/internal/httpapi"
	"github.com/dronefleet/fleetctl/internal/mcpserver"
	"github.com/dronefleet/fleetctl/internal/metrics"
	"github.com/dronefleet/fleetctl/internal/nlparser"
	"github.com/dronefleet/fleetctl/internal/router"
	"github.com/dronefleet/fleetctl/internal/streaming"
	"github.com/dronefleet/fleetctl/internal/supervisor"
	"github.com/dronefleet/fleetctl/internal/telemetry"
	"github.com/dronefleet/fleetctl/pkg/logger"
)

// Exit codes distinguish "config is broken" from "process couldn't come up
// healthy" for orchestrators probing via --health-check.
const (
	exitOK             = 0
	exitConfigInvalid  = 2
	exitHealthCheckBad = 3
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	var mode string
	var validateOnly bool
	var healthCheck bool

	cmd := &cobra.Command{
		Use:   "fleetctl",
		Short: "Drone fleet control service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, mode, validateOnly, healthCheck)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "directory containing config.yaml")
	cmd.Flags().StringVar(&mode, "mode", "http", "surface to serve: http, mcp, or hybrid")
	cmd.Flags().BoolVar(&validateOnly, "validate-config", false, "validate configuration and exit")
	cmd.Flags().BoolVar(&healthCheck, "health-check", false, "probe a running instance's /health and exit")

	return cmd
}

func run(configPath, mode string, validateOnly, healthCheck bool) error {
	if healthCheck {
		os.Exit(runHealthCheck())
	}

	cfgSvc := config.New(configPath)
	cfg, err := cfgSvc.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fleetctl: config error: %v\n", err)
		os.Exit(exitConfigInvalid)
	}
	if validateOnly {
		fmt.Println("fleetctl: configuration is valid")
		os.Exit(exitOK)
	}

	switch mode {
	case "http", "mcp", "hybrid":
	default:
		return fmt.Errorf("fleetctl: unknown --mode %q (want http, mcp, or hybrid)", mode)
	}

	log := logger.NewLogger(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: cfg.Logging.Output})

	app, err := buildApp(cfg, log)
	if err != nil {
		return fmt.Errorf("fleetctl: build: %w", err)
	}

	cfgSvc.WatchAndReload(func(newCfg *config.Config, reloadErr error) {
		if reloadErr != nil {
			log.WithError(reloadErr).Warn("fleetctl: config reload failed, keeping previous configuration")
			return
		}
		app.applySafetyReload(newCfg)
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	if mode == "http" || mode == "hybrid" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.runHTTP(ctx, log)
		}()
	}
	if mode == "mcp" || mode == "hybrid" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.runMCP(ctx, log)
		}()
	}

	<-ctx.Done()
	log.Info("fleetctl: shutdown signal received, draining")
	app.shutdown()
	wg.Wait()
	log.Info("fleetctl: exited")
	return nil
}

// runHealthCheck hits a local instance's /health endpoint, exiting 0 if it
// reports ok and exitHealthCheckBad otherwise — for container orchestrators
// and smoke tests to use without a full client.
func runHealthCheck() int {
	resp, err := http.Get("http://127.0.0.1:8080/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "fleetctl: health check failed: %v\n", err)
		return exitHealthCheckBad
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "fleetctl: health check returned status %d\n", resp.StatusCode)
		return exitHealthCheckBad
	}
	return exitOK
}

// app bundles every constructed collaborator so run can wire the requested
// surfaces and shut them down together.
type app struct {
	registry    *fleet.Registry
	discovery   *discovery.NetworkDiscovery
	broadcaster *telemetry.Broadcaster
	cmdRouter   *router.CommandRouter
	authSvc     *auth.Service
	authMW      *auth.Middleware
	streamSrv   *streaming.Server
	metricsReg  *metrics.Registry
	kafkaPub    *eventbus.Publisher
	redisMirror *cache.Mirror
	parser      *nlparser.Parser
	httpSrv     *http.Server

	adminUsername string
	adminPassword string

	broadcastCtx    context.Context
	cancelBroadcast context.CancelFunc
}

func buildApp(cfg *config.Config, log *logger.Logger) (*app, error) {
	metricsReg := metrics.New()
	registry := fleet.New()

	var kafkaPub *eventbus.Publisher
	var redisMirror *cache.Mirror
	var mirror discovery.Mirror
	if cfg.Network.Discovery.ConnectionTimeout > 0 {
		// Redis mirror and Kafka export are both best-effort external
		// visibility, never required for the fleet to operate; a dial
		// failure just logs and leaves the process running without them.
		m, err := cache.New(cache.DefaultConfig(), log)
		if err != nil {
			log.WithError(err).Warn("fleetctl: redis discovery mirror unavailable, continuing without it")
		} else {
			redisMirror = m
			mirror = m
		}
	}

	discCfg := discovery.DefaultConfig()
	discCfg.HintIPs = cfg.Network.Discovery.DefaultIPs
	discCfg.CIDRBlocks = cfg.Network.Discovery.ScanRanges
	discCfg.ProbeTimeout = cfg.Network.Discovery.ConnectionTimeout
	discCfg.ScanIntervalSec = int(cfg.Global.AutoDetection.ScanInterval.Seconds())
	discCfg.ScanTTL = cfg.Performance.Cache.TTL
	netDiscovery := discovery.New(discCfg, discovery.NewUDPProber(0, false), log, mirror)

	telCfg := telemetry.DefaultConfig()
	broadcastCtx, cancelBroadcast := context.WithCancel(context.Background())
	broadcaster := telemetry.New(telCfg, registry, log)

	kafkaCfg := eventbus.DefaultConfig()
	kafkaPub = eventbus.NewPublisher(kafkaCfg, registry, log)

	for _, d := range cfg.Drones {
		backend, err := buildBackend(d, cfg, log, netDiscovery)
		if err != nil {
			return nil, fmt.Errorf("drone %s: %w", d.ID, err)
		}
		safety := droneSafetyConfig(d, cfg)
		sup := supervisor.New(domain.DroneID(d.ID), d.Mode, backend, safety, log, multiSink{broadcaster, kafkaPub})
		registry.Add(domain.DroneID(d.ID), sup)
	}

	routerCfg := router.DefaultConfig()

	var authorizer router.Authorizer
	var authSvc *auth.Service
	var authMW *auth.Middleware
	if len(cfg.Auth.JWTSecret) >= 32 {
		svc, err := auth.New(auth.DefaultConfig(cfg.Auth.JWTSecret))
		if err != nil {
			return nil, err
		}
		authSvc = svc
		authMW = auth.NewMiddleware(svc, log)
		authorizer = svc
	} else {
		log.Warn("fleetctl: JWT_SECRET not set or too short, running with an always-allow authorizer (unsafe for production)")
		authorizer = allowAllAuthorizer{}
	}

	cmdRouter := router.New(routerCfg, fleet.RouterView{Registry: registry}, authorizer, log)

	var fallback nlparser.Fallback
	if cfg.LLM.APIKey != "" {
		fallback = nlparser.NewLLMFallback(nlparser.LLMConfig{
			APIKey: cfg.LLM.APIKey, BaseURL: cfg.LLM.BaseURL, Model: cfg.LLM.Model,
			MaxTokens: cfg.LLM.MaxTokens, Temperature: float32(cfg.LLM.Temperature),
		})
	}
	parser := nlparser.New(fallback)

	streamSrv, err := streaming.New(fleet.StreamingView{Registry: registry}, log)
	if err != nil {
		return nil, fmt.Errorf("streaming: %w", err)
	}

	return &app{
		registry:        registry,
		discovery:       netDiscovery,
		broadcaster:     broadcaster,
		cmdRouter:       cmdRouter,
		authSvc:         authSvc,
		authMW:          authMW,
		streamSrv:       streamSrv,
		metricsReg:      metricsReg,
		kafkaPub:        kafkaPub,
		redisMirror:     redisMirror,
		parser:          parser,
		adminUsername:   cfg.Auth.AdminUsername,
		adminPassword:   cfg.Auth.AdminPassword,
		broadcastCtx:    broadcastCtx,
		cancelBroadcast: cancelBroadcast,
	}, nil
}

// buildBackend resolves one drone's capability.DroneCapability according to
// its configured mode: "simulation" always uses the kinematic model; "real"
// and "auto" build a real adapter for the configured (or, with autoDetect,
// any discovered) IP. Only "auto" falls back to simulation, and only when no
// IP resolves and global.fallback.simulationOnFailure is set. No connection
// is attempted here, so a drone that later fails to connect does not fall
// back.
func buildBackend(d config.Drone, cfg *config.Config, log *logger.Logger, disc *discovery.NetworkDiscovery) (capability.DroneCapability, error) {
	mode := d.Mode
	if mode == "" {
		mode = cfg.Global.DefaultMode
	}

	simBackend := func() capability.DroneCapability {
		simCfg := capability.DefaultSimConfig()
		simCfg.InitialPose = d.InitialPosition
		simCfg.Bounds = cfg.Global.Bounds
		return capability.NewSimulatedDroneAdapter(simCfg, nil)
	}

	switch mode {
	case domain.ModeSimulation:
		return simBackend(), nil
	case domain.ModeReal, domain.ModeAuto:
		ip := d.IP
		if ip == "" && d.AutoDetect {
			if detected := disc.Snapshot(); len(detected) > 0 {
				for candidateIP := range detected {
					ip = candidateIP
					break
				}
			}
		}
		if ip == "" {
			if mode == domain.ModeAuto && cfg.Global.Fallback.SimulationOnFailure {
				log.WithField("drone_id", d.ID).Warn("fleetctl: no IP resolved for auto-mode drone, falling back to simulation")
				return simBackend(), nil
			}
			return nil, fmt.Errorf("no IP configured or discovered")
		}
		notify := func(id domain.DroneID) {
			log.WithField("drone_id", id).Warn("fleetctl: drone became unreachable")
		}
		return capability.NewRealDroneAdapter(domain.DroneID(d.ID), capability.DefaultRealConfig(ip), log, notify), nil
	default:
		return nil, fmt.Errorf("unknown mode %q", mode)
	}
}

// multiSink fans a supervisor.Event out to both the in-process broadcaster
// and the Kafka mirror, since both implement supervisor.EventSink and a
// DroneSupervisor only holds one sink reference.
type multiSink struct {
	broadcaster *telemetry.Broadcaster
	kafka       *eventbus.Publisher
}

func (m multiSink) Publish(e supervisor.Event) {
	m.broadcaster.Publish(e)
	if m.kafka != nil {
		m.kafka.Publish(e)
	}
}

// allowAllAuthorizer stands in when no JWT secret is configured, so a dev
// instance still boots — never appropriate for a deployment with real
// drones, which is why it only activates below auth.New's 32-char minimum.
type allowAllAuthorizer struct{}

func (allowAllAuthorizer) Authorize(router.Principal, domain.Action) bool { return true }

// mcpStatusSource adapts the registry and discovery service to
// mcpserver.StatusSource — it's the one collaborator that spans two
// packages, so it lives here at the wiring root rather than in either
// package's own adapter set.
type mcpStatusSource struct {
	registry  *fleet.Registry
	discovery *discovery.NetworkDiscovery
}

func (s mcpStatusSource) AvailableDrones() []domain.DetectedDrone {
	snap := s.discovery.Snapshot()
	out := make([]domain.DetectedDrone, 0, len(snap))
	for _, d := range snap {
		out = append(out, d)
	}
	return out
}

func (s mcpStatusSource) DroneStatus(id domain.DroneID) (domain.DroneRecord, bool) {
	sup, ok := s.registry.Get(id)
	if !ok {
		return domain.DroneRecord{}, false
	}
	return sup.GetRecord(), true
}

func (s mcpStatusSource) SystemStatus() map[string]interface{} {
	return map[string]interface{}{
		"drones_registered": s.registry.Count(),
		"auto_scan_running": s.discovery.AutoScanRunning(),
	}
}

func (a *app) runHTTP(ctx context.Context, log *logger.Logger) {
	cfg := httpapi.Config{
		Router:    a.cmdRouter,
		Registry:  fleet.HTTPView{Registry: a.registry},
		Frames:    fleet.FrameView{Registry: a.registry},
		Discovery: a.discovery,
		Telemetry: a.broadcaster,
		Streams:   a.streamSrv,
		Auth:      a.authMW,
		Metrics:   a.metricsReg,
		Logger:    log,

		AdminUsername: a.adminUsername,
		AdminPassword: a.adminPassword,
	}
	if a.authSvc != nil {
		svc := a.authSvc
		cfg.IssueToken = func(name, role string) (string, error) { return svc.Issue(name, auth.Role(role)) }
	}
	srv := httpapi.NewServer(cfg)

	a.httpSrv = &http.Server{
		Addr:         ":8080",
		Handler:      srv.Engine(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go a.broadcaster.Run(a.broadcastCtx)
	if a.discovery != nil {
		_ = a.discovery.StartAutoScan(ctx, 60)
	}

	log.WithField("addr", a.httpSrv.Addr).Info("fleetctl: http surface listening")
	if err := a.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Error("fleetctl: http server stopped unexpectedly")
	}
}

func (a *app) runMCP(ctx context.Context, log *logger.Logger) {
	status := mcpStatusSource{registry: a.registry, discovery: a.discovery}
	srv := mcpserver.New(os.Stdin, os.Stdout, a.cmdRouter, a.parser, status, log)
	log.Info("fleetctl: mcp surface reading stdio")
	if err := srv.Serve(ctx); err != nil {
		log.WithError(err).Error("fleetctl: mcp server stopped unexpectedly")
	}
}

// applySafetyReload applies the subset of a reloaded Config that is safe to
// change without a restart: per-drone safety bounds. Static topology (which
// drones exist, their mode/IP) requires a restart.
func (a *app) applySafetyReload(cfg *config.Config) {
	for _, d := range cfg.Drones {
		sup, ok := a.registry.Get(domain.DroneID(d.ID))
		if !ok {
			continue
		}
		sup.SetSafetyConfig(droneSafetyConfig(d, cfg))
	}
}

// droneSafetyConfig maps a drone's config.DroneSettings onto
// domain.SafetyConfig: MaxAltitude narrows the global Z bound rather than
// replacing it, SpeedLimit maps directly to the velocity cap, and
// BatteryWarning becomes the takeoff floor (MinBattery) since that's the
// threshold the supervisor actually acts on — EmergencyBattery stays at its
// conservative default regardless of the per-drone warning level.
func droneSafetyConfig(d config.Drone, cfg *config.Config) domain.SafetyConfig {
	safety := domain.DefaultSafetyConfig()
	safety.Bounds = cfg.Global.Bounds
	if d.Settings.MaxAltitude > 0 && d.Settings.MaxAltitude < safety.Bounds.MaxZ {
		safety.Bounds.MaxZ = d.Settings.MaxAltitude
	}
	if d.Settings.SpeedLimit > 0 {
		safety.MaxVelocityCmS = d.Settings.SpeedLimit
	}
	if d.Settings.BatteryWarning > 0 {
		safety.MinBattery = d.Settings.BatteryWarning
	}
	return safety
}

// shutdown drains in a fixed order: stop accepting new HTTP work, let
// in-flight supervisor commands finish (each supervisor's own serial queue
// already guarantees that), close every drone connection, then stop
// telemetry fan-out.
func (a *app) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if a.httpSrv != nil {
		_ = a.httpSrv.Shutdown(ctx)
	}
	if a.discovery != nil {
		a.discovery.StopAutoScan()
	}
	for _, id := range a.registry.IDs() {
		if sup, ok := a.registry.Get(id); ok {
			sup.Shutdown(ctx)
		}
	}
	a.cancelBroadcast()
	a.broadcaster.Stop()
	if a.kafkaPub != nil {
		_ = a.kafkaPub.Close()
	}
	if a.redisMirror != nil {
		_ = a.redisMirror.Close()
	}
}
