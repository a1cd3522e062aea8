package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dronefleet/fleetctl/internal/auth"
	"github.com/dronefleet/fleetctl/internal/metrics"
	"github.com/dronefleet/fleetctl/pkg/logger"
)

// Server bundles the gin engine with every collaborator the route handlers
// need, wired in through a single constructor-injected Config.
type Server struct {
	engine *gin.Engine
	logger *logger.Logger

	router      Router
	registry    Registry
	frames      FrameRegistry
	discovery   Discovery
	telemetry   Broadcaster
	streams     StreamServer
	authMW      *auth.Middleware
	metrics     *metrics.Registry

	adminUsername string
	adminPassword string
	issueToken    func(name, role string) (string, error)
}

// Config parameterizes server construction beyond its collaborators.
type Config struct {
	Router    Router
	Registry  Registry
	Frames    FrameRegistry
	Discovery Discovery
	Telemetry Broadcaster
	Streams   StreamServer
	Auth      *auth.Middleware
	Metrics   *metrics.Registry
	Logger    *logger.Logger

	// AdminUsername/AdminPassword/IssueToken back the login route; IssueToken
	// is left nil when no JWT secret is configured, in which case the route
	// is not mounted at all.
	AdminUsername string
	AdminPassword string
	IssueToken    func(name, role string) (string, error)
}

// NewServer builds the engine and wires every route group through a single
// constructor.
func NewServer(cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	s := &Server{
		engine:    engine,
		logger:    cfg.Logger,
		router:    cfg.Router,
		registry:  cfg.Registry,
		frames:    cfg.Frames,
		discovery: cfg.Discovery,
		telemetry: cfg.Telemetry,
		streams:   cfg.Streams,
		authMW:    cfg.Auth,
		metrics:   cfg.Metrics,

		adminUsername: cfg.AdminUsername,
		adminPassword: cfg.AdminPassword,
		issueToken:    cfg.IssueToken,
	}
	s.setupRoutes()
	return s
}

// Engine exposes the underlying gin.Engine for cmd/fleetctl to hand to
// http.Server.
func (s *Server) Engine() http.Handler { return s.engine }

func (s *Server) setupRoutes() {
	s.engine.Use(loggerMiddleware(s.logger))
	s.engine.Use(corsMiddleware())
	s.engine.Use(recoveryMiddleware(s.logger))
	s.engine.Use(requestIDMiddleware())
	s.engine.Use(securityHeadersMiddleware())

	base := handler{logger: s.logger}

	sys := &systemHandlers{handler: base, discovery: s.discovery, registry: s.registry, router: s.router, startedAt: time.Now()}
	s.engine.GET("/health", sys.health)
	s.engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	ws := newWSHandlers(base, s.telemetry)
	s.engine.GET("/ws", ws.serve)

	drone := &droneHandlers{handler: base, router: s.router, registry: s.registry}
	camera := &cameraHandlers{handler: base, frames: s.frames, streams: s.streams}

	api := s.engine.Group("/api")
	{
		if s.issueToken != nil {
			authH := newAuthHandlers(base, s.adminUsername, s.adminPassword, s.issueToken)
			api.POST("/auth/login", authH.login)
		}
		api.GET("/drones/detect", sys.detect)
		api.GET("/drones/discovered", sys.snapshot)
		api.POST("/system/auto-scan/start", sys.autoScanStart)
		api.POST("/system/auto-scan/stop", sys.autoScanStop)
		api.GET("/system/analytics", sys.analytics)
	}

	protected := s.engine.Group("/")
	protected.Use(s.authMW.RequireAuth())
	{
		d := protected.Group("/drone")
		{
			d.POST("/connect", drone.connect)
			d.POST("/disconnect", drone.disconnect)
			d.POST("/takeoff", drone.takeoff)
			d.POST("/land", drone.land)
			d.POST("/emergency", drone.emergency)
			d.POST("/stop", drone.stop)
			d.POST("/move", drone.move)
			d.POST("/rotate", drone.rotate)
			d.POST("/go_xyz", drone.goXYZ)
			d.POST("/rc_control", drone.rcControl)

			d.GET("/status", drone.status)
			d.GET("/battery", drone.battery)
			d.GET("/height", drone.height)
			d.GET("/temperature", drone.temperature)
			d.GET("/flight_time", drone.flightTime)
			d.GET("/barometer", drone.barometer)
			d.GET("/distance_tof", drone.distanceTOF)
			d.GET("/acceleration", drone.acceleration)
			d.GET("/velocity", drone.velocity)
			d.GET("/attitude", drone.attitude)
		}

		cam := protected.Group("/camera")
		{
			cam.POST("/stream/start", camera.streamStart)
			cam.POST("/stream/stop", camera.streamStop)
			cam.POST("/photo", camera.photo)
			cam.POST("/video/start", camera.videoStart)
			cam.POST("/video/stop", camera.videoStop)
			cam.PUT("/settings", camera.settings)
			cam.GET("/stream", camera.stream)
			cam.POST("/webrtc/offer", camera.webrtcOffer)
		}
	}
}

// Shutdown is a placeholder hook for cmd/fleetctl's graceful-shutdown
// sequence — the gin engine itself holds no background goroutines that
// need stopping; the http.Server wrapping it owns Shutdown(ctx).
func (s *Server) Shutdown(ctx context.Context) error {
	return nil
}
