// Package config implements configuration loading: YAML load with env
// overrides, schema validation, and fsnotify-driven hot-reload for the
// fields that are safe to change without a restart.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/dronefleet/fleetctl/internal/domain"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// AutoDetection controls the discovery auto-scan loop.
type AutoDetection struct {
	Enabled      bool
	Timeout      time.Duration
	ScanInterval time.Duration
}

// Fallback controls whether a drone that fails to connect for real resolves
// to a simulated backend instead.
type Fallback struct {
	Enabled             bool
	SimulationOnFailure bool
}

// Global holds the fleet-wide defaults.
type Global struct {
	DefaultMode   domain.Mode
	Bounds        domain.FlightBounds
	AutoDetection AutoDetection
	Fallback      Fallback
}

// DroneSettings is the per-drone tuning block.
type DroneSettings struct {
	MaxAltitude    float64
	SpeedLimit     float64
	BatteryWarning int
}

// Drone is one statically configured drone.
type Drone struct {
	ID                   string
	Name                 string
	Mode                 domain.Mode
	IP                   string
	AutoDetect           bool
	InitialPosition      domain.Pose
	FallbackToSimulation bool
	Settings             DroneSettings
}

// Discovery is the network scan configuration.
type Discovery struct {
	DefaultIPs        []string
	ScanRanges        []string
	ConnectionTimeout time.Duration
	RetryAttempts     int
	RetryDelay        time.Duration
}

// Network wraps the discovery block, leaving room for future network-level
// settings without reshaping Config.
type Network struct {
	Discovery Discovery
}

// Monitoring holds telemetry cadence and alert thresholds.
type Monitoring struct {
	UpdateIntervals map[string]time.Duration
	Alerts          map[string]interface{}
}

// Threading bounds the discovery worker pool.
type Threading struct {
	MaxWorkerThreads int
}

// Cache controls discovery cache TTL.
type Cache struct {
	TTL time.Duration
}

// Performance is the threading/cache/limits block.
type Performance struct {
	Threading Threading
	Cache     Cache
	Limits    map[string]interface{}
}

// Auth carries the JWT/admin-credential env overrides.
type Auth struct {
	JWTSecret     string
	AdminUsername string
	AdminPassword string
}

// Logging mirrors pkg/logger.Config, loaded from the same file.
type Logging struct {
	Level  string
	Format string
	Output string
}

// LLM carries the optional natural-language fallback credentials.
// nlparser.LLMFallback is only constructed when APIKey is set; with it
// empty, unmatched commands just report "no match" instead of consulting
// a model.
type LLM struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Config is the fully parsed, validated configuration tree.
type Config struct {
	Global     Global
	Drones     []Drone
	Network    Network
	Monitoring Monitoring
	Performance Performance
	Auth       Auth
	Logging    Logging
	LLM        LLM
}

// ValidationError aggregates every schema failure found during Validate, so
// a misconfigured deployment sees every problem in one pass instead of
// fixing them one at a time.
type ValidationError struct {
	Failures []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: %s", strings.Join(e.Failures, "; "))
}

func (e *ValidationError) add(format string, args ...interface{}) {
	e.Failures = append(e.Failures, fmt.Sprintf(format, args...))
}

// Service loads, validates and watches the YAML configuration.
type Service struct {
	v *viper.Viper
}

// New constructs a Service. path is a directory or file path the caller
// expects a `config.yaml` in, searched first when non-empty; "./configs" and
// "." are always searched after it.
func New(path string) *Service {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvOverrides(v)

	return &Service{v: v}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("global.defaultMode", string(domain.ModeAuto))
	v.SetDefault("global.bounds.minX", -500.0)
	v.SetDefault("global.bounds.maxX", 500.0)
	v.SetDefault("global.bounds.minY", -500.0)
	v.SetDefault("global.bounds.maxY", 500.0)
	v.SetDefault("global.bounds.minZ", 0.0)
	v.SetDefault("global.bounds.maxZ", 500.0)
	v.SetDefault("global.autoDetection.enabled", true)
	v.SetDefault("global.autoDetection.timeout", "5s")
	v.SetDefault("global.autoDetection.scanInterval", "60s")
	v.SetDefault("global.fallback.enabled", true)
	v.SetDefault("global.fallback.simulationOnFailure", true)

	v.SetDefault("network.discovery.connectionTimeout", "5s")
	v.SetDefault("network.discovery.retryAttempts", 2)
	v.SetDefault("network.discovery.retryDelay", "1s")

	v.SetDefault("performance.threading.maxWorkerThreads", 32)
	v.SetDefault("performance.cache.ttl", "2m")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("llm.model", "deepseek-chat")
	v.SetDefault("llm.maxTokens", 256)
	v.SetDefault("llm.temperature", 0.2)
}

// bindEnvOverrides maps a handful of legacy env var names onto their YAML
// keys; these are the only overrides that bypass the `.`-to-`_`
// AutomaticEnv convention (they don't share their env name with their
// config path).
func bindEnvOverrides(v *viper.Viper) {
	_ = v.BindEnv("global.defaultMode", "DRONE_MODE")
	_ = v.BindEnv("global.autoDetection.enabled", "TELLO_AUTO_DETECT")
	_ = v.BindEnv("network.discovery.connectionTimeout", "TELLO_CONNECTION_TIMEOUT")
	_ = v.BindEnv("global.autoDetection.scanInterval", "NETWORK_SCAN_INTERVAL")
	_ = v.BindEnv("performance.threading.maxWorkerThreads", "MAX_WORKER_THREADS")
	_ = v.BindEnv("performance.cache.ttl", "CACHE_TTL")
	_ = v.BindEnv("auth.jwtSecret", "JWT_SECRET")
	_ = v.BindEnv("auth.adminUsername", "ADMIN_USERNAME")
	_ = v.BindEnv("auth.adminPassword", "ADMIN_PASSWORD")
	_ = v.BindEnv("logging.level", "LOG_LEVEL")
	_ = v.BindEnv("llm.apiKey", "DEEPSEEK_API_KEY")
	_ = v.BindEnv("llm.baseUrl", "DEEPSEEK_BASE_URL")
}

// Load reads the config file (absence is tolerated — defaults and env
// overrides still apply), unmarshals it, and validates it.
func (s *Service) Load() (*Config, error) {
	if err := s.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	cfg, err := s.unmarshal()
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (s *Service) unmarshal() (*Config, error) {
	cfg := &Config{
		Global: Global{
			DefaultMode: domain.Mode(s.v.GetString("global.defaultMode")),
			Bounds: domain.FlightBounds{
				MinX: s.v.GetFloat64("global.bounds.minX"), MaxX: s.v.GetFloat64("global.bounds.maxX"),
				MinY: s.v.GetFloat64("global.bounds.minY"), MaxY: s.v.GetFloat64("global.bounds.maxY"),
				MinZ: s.v.GetFloat64("global.bounds.minZ"), MaxZ: s.v.GetFloat64("global.bounds.maxZ"),
			},
			AutoDetection: AutoDetection{
				Enabled:      s.v.GetBool("global.autoDetection.enabled"),
				Timeout:      s.v.GetDuration("global.autoDetection.timeout"),
				ScanInterval: s.v.GetDuration("global.autoDetection.scanInterval"),
			},
			Fallback: Fallback{
				Enabled:             s.v.GetBool("global.fallback.enabled"),
				SimulationOnFailure: s.v.GetBool("global.fallback.simulationOnFailure"),
			},
		},
		Network: Network{Discovery: Discovery{
			DefaultIPs:        s.v.GetStringSlice("network.discovery.defaultIPs"),
			ScanRanges:        s.v.GetStringSlice("network.discovery.scanRanges"),
			ConnectionTimeout: s.v.GetDuration("network.discovery.connectionTimeout"),
			RetryAttempts:     s.v.GetInt("network.discovery.retryAttempts"),
			RetryDelay:        s.v.GetDuration("network.discovery.retryDelay"),
		}},
		Performance: Performance{
			Threading: Threading{MaxWorkerThreads: s.v.GetInt("performance.threading.maxWorkerThreads")},
			Cache:     Cache{TTL: s.v.GetDuration("performance.cache.ttl")},
			Limits:    s.v.GetStringMap("performance.limits"),
		},
		Monitoring: Monitoring{
			Alerts: s.v.GetStringMap("monitoring.alerts"),
		},
		Auth: Auth{
			JWTSecret:     s.v.GetString("auth.jwtSecret"),
			AdminUsername: s.v.GetString("auth.adminUsername"),
			AdminPassword: s.v.GetString("auth.adminPassword"),
		},
		Logging: Logging{
			Level:  s.v.GetString("logging.level"),
			Format: s.v.GetString("logging.format"),
			Output: s.v.GetString("logging.output"),
		},
		LLM: LLM{
			APIKey:      s.v.GetString("llm.apiKey"),
			BaseURL:     s.v.GetString("llm.baseUrl"),
			Model:       s.v.GetString("llm.model"),
			MaxTokens:   s.v.GetInt("llm.maxTokens"),
			Temperature: s.v.GetFloat64("llm.temperature"),
		},
	}

	intervals := s.v.GetStringMap("monitoring.updateIntervals")
	if len(intervals) > 0 {
		cfg.Monitoring.UpdateIntervals = make(map[string]time.Duration, len(intervals))
		for k := range intervals {
			cfg.Monitoring.UpdateIntervals[k] = s.v.GetDuration("monitoring.updateIntervals." + k)
		}
	}

	var raw []map[string]interface{}
	if err := s.v.UnmarshalKey("drones", &raw); err != nil {
		return nil, fmt.Errorf("parse drones: %w", err)
	}
	for i := range raw {
		d, err := parseDrone(s.v, i)
		if err != nil {
			return nil, err
		}
		cfg.Drones = append(cfg.Drones, d)
	}

	return cfg, nil
}

func parseDrone(v *viper.Viper, idx int) (Drone, error) {
	prefix := fmt.Sprintf("drones.%d.", idx)
	return Drone{
		ID:         v.GetString(prefix + "id"),
		Name:       v.GetString(prefix + "name"),
		Mode:       domain.Mode(v.GetString(prefix + "mode")),
		IP:         v.GetString(prefix + "ip"),
		AutoDetect: v.GetBool(prefix + "autoDetect"),
		InitialPosition: domain.Pose{
			X: v.GetFloat64(prefix + "initialPosition.x"),
			Y: v.GetFloat64(prefix + "initialPosition.y"),
			Z: v.GetFloat64(prefix + "initialPosition.z"),
		},
		FallbackToSimulation: v.GetBool(prefix + "fallbackToSimulation"),
		Settings: DroneSettings{
			MaxAltitude:    v.GetFloat64(prefix + "settings.maxAltitude"),
			SpeedLimit:     v.GetFloat64(prefix + "settings.speedLimit"),
			BatteryWarning: v.GetInt(prefix + "settings.batteryWarning"),
		},
	}, nil
}

// Validate checks the bounds/ID/duration invariants, collecting every
// failure rather than stopping at the first.
func Validate(cfg *Config) error {
	ve := &ValidationError{}

	b := cfg.Global.Bounds
	if b.MinX >= b.MaxX {
		ve.add("global.bounds: minX (%v) >= maxX (%v)", b.MinX, b.MaxX)
	}
	if b.MinY >= b.MaxY {
		ve.add("global.bounds: minY (%v) >= maxY (%v)", b.MinY, b.MaxY)
	}
	if b.MinZ >= b.MaxZ {
		ve.add("global.bounds: minZ (%v) >= maxZ (%v)", b.MinZ, b.MaxZ)
	}

	switch cfg.Global.DefaultMode {
	case domain.ModeReal, domain.ModeSimulation, domain.ModeAuto:
	default:
		ve.add("global.defaultMode: invalid value %q", cfg.Global.DefaultMode)
	}

	if cfg.Global.AutoDetection.Timeout <= 0 {
		ve.add("global.autoDetection.timeout must be > 0, got %v", cfg.Global.AutoDetection.Timeout)
	}
	if cfg.Global.AutoDetection.ScanInterval <= 0 {
		ve.add("global.autoDetection.scanInterval must be > 0, got %v", cfg.Global.AutoDetection.ScanInterval)
	}

	seen := make(map[string]bool, len(cfg.Drones))
	for _, d := range cfg.Drones {
		if !domain.DroneID(d.ID).Valid() {
			ve.add("drones: id %q does not match ^[A-Za-z0-9_-]{1,50}$", d.ID)
		}
		if seen[d.ID] {
			ve.add("drones: duplicate id %q", d.ID)
		}
		seen[d.ID] = true
		switch d.Mode {
		case domain.ModeReal, domain.ModeSimulation, domain.ModeAuto:
		default:
			ve.add("drones[%s].mode: invalid value %q", d.ID, d.Mode)
		}
	}

	if cfg.Network.Discovery.ConnectionTimeout <= 0 {
		ve.add("network.discovery.connectionTimeout must be > 0, got %v", cfg.Network.Discovery.ConnectionTimeout)
	}
	if cfg.Network.Discovery.RetryDelay < 0 {
		ve.add("network.discovery.retryDelay must be >= 0, got %v", cfg.Network.Discovery.RetryDelay)
	}
	if cfg.Performance.Cache.TTL <= 0 {
		ve.add("performance.cache.ttl must be > 0, got %v", cfg.Performance.Cache.TTL)
	}
	if cfg.Performance.Threading.MaxWorkerThreads <= 0 {
		ve.add("performance.threading.maxWorkerThreads must be > 0, got %v", cfg.Performance.Threading.MaxWorkerThreads)
	}

	if cfg.Auth.JWTSecret != "" && len(cfg.Auth.JWTSecret) < 32 {
		ve.add("auth.jwtSecret must be at least 32 characters when set, got %d", len(cfg.Auth.JWTSecret))
	}

	if len(ve.Failures) > 0 {
		return ve
	}
	return nil
}

// WatchAndReload enables fsnotify-backed hot-reload. onChange is invoked
// with the freshly reloaded and revalidated Config; a reload that fails
// validation is logged by the caller and the previous Config keeps
// serving.
func (s *Service) WatchAndReload(onChange func(*Config, error)) {
	s.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := s.unmarshal()
		if err == nil {
			err = Validate(cfg)
		}
		if err != nil {
			onChange(nil, err)
			return
		}
		onChange(cfg, nil)
	})
	s.v.WatchConfig()
}
