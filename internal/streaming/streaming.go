// Package streaming offers a WebRTC live-preview path alongside the
// baseline MJPEG stream. It runs a single HTTP SDP offer/answer exchange
// per session rather than a persistent signalling channel — there is no
// renegotiation or trickle ICE, and CaptureFrame yields whole frames
// (simulated pixels, or pixel-less frames from the real adapter), not RTP
// packets, so there is no real RTP-encoded frame producer to forward either.
package streaming

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"

	"github.com/dronefleet/fleetctl/internal/capability"
	"github.com/dronefleet/fleetctl/internal/domain"
	"github.com/dronefleet/fleetctl/pkg/logger"
)

// FrameProvider is the subset of DroneSupervisor this package calls.
// Defined here, not imported from internal/supervisor, for the same
// build-graph-decoupling reason internal/router declares its own
// SupervisorHandle.
type FrameProvider interface {
	CaptureFrame(ctx context.Context) (capability.Frame, error)
	StartStream(ctx context.Context) error
	StopStream(ctx context.Context) error
}

// Registry resolves a DroneID to its FrameProvider.
type Registry interface {
	Get(id domain.DroneID) (FrameProvider, bool)
}

// frameInterval is the fixed tick on which pumpFrames calls CaptureFrame
// and writes whatever frame it returns.
const frameInterval = 200 * time.Millisecond // ~5fps, plenty for a preview track

// connection tracks one drone's active WebRTC peer connection.
type connection struct {
	droneID domain.DroneID
	peer    *webrtc.PeerConnection
	track   *webrtc.TrackLocalStaticSample
	cancel  context.CancelFunc
}

// Server manages WebRTC peer connections, one per drone, each carrying a
// synthetic/real preview video track fed from FrameProvider.CaptureFrame.
type Server struct {
	logger   *logger.Logger
	registry Registry
	api      *webrtc.API

	mu    sync.Mutex
	conns map[domain.DroneID]*connection
}

// New builds the WebRTC API: register VP8 for video, skip audio since a
// drone has no microphone capability to source it from.
func New(registry Registry, log *logger.Logger) (*Server, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		PayloadType:        96,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, fmt.Errorf("streaming: register VP8 codec: %w", err)
	}

	return &Server{
		logger:   log,
		registry: registry,
		api:      webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine)),
		conns:    make(map[domain.DroneID]*connection),
	}, nil
}

// HandleOffer performs the whole SDP offer/answer exchange for
// POST /camera/webrtc/offer?drone_id=... in one request/response — there
// is exactly one offer per session here, no renegotiation or trickle ICE.
func (s *Server) HandleOffer(ctx context.Context, droneID domain.DroneID, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	provider, ok := s.registry.Get(droneID)
	if !ok {
		return webrtc.SessionDescription{}, fmt.Errorf("streaming: unknown drone %q", droneID)
	}

	peer, err := s.api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
	})
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("streaming: new peer connection: %w", err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video", fmt.Sprintf("drone-%s", droneID),
	)
	if err != nil {
		peer.Close()
		return webrtc.SessionDescription{}, fmt.Errorf("streaming: new video track: %w", err)
	}
	if _, err := peer.AddTrack(track); err != nil {
		peer.Close()
		return webrtc.SessionDescription{}, fmt.Errorf("streaming: add video track: %w", err)
	}

	if err := peer.SetRemoteDescription(offer); err != nil {
		peer.Close()
		return webrtc.SessionDescription{}, fmt.Errorf("streaming: set remote description: %w", err)
	}
	answer, err := peer.CreateAnswer(nil)
	if err != nil {
		peer.Close()
		return webrtc.SessionDescription{}, fmt.Errorf("streaming: create answer: %w", err)
	}
	if err := peer.SetLocalDescription(answer); err != nil {
		peer.Close()
		return webrtc.SessionDescription{}, fmt.Errorf("streaming: set local description: %w", err)
	}

	if err := provider.StartStream(ctx); err != nil {
		s.logger.WithError(err).WithField("drone_id", droneID).Warn("streaming: backend StartStream failed, continuing with best-effort frames")
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	conn := &connection{droneID: droneID, peer: peer, track: track, cancel: cancel}

	s.mu.Lock()
	if old, exists := s.conns[droneID]; exists {
		old.cancel()
		old.peer.Close()
	}
	s.conns[droneID] = conn
	s.mu.Unlock()

	peer.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		s.logger.WithField("drone_id", droneID).WithField("state", state.String()).Info("streaming: ICE connection state changed")
		if state == webrtc.ICEConnectionStateDisconnected || state == webrtc.ICEConnectionStateFailed || state == webrtc.ICEConnectionStateClosed {
			s.closeConn(droneID)
		}
	})

	go s.pumpFrames(pumpCtx, droneID, provider, track)

	return *peer.LocalDescription(), nil
}

// pumpFrames polls CaptureFrame on a fixed tick and writes each frame's
// Pixels to the VP8 track as the sample payload; the pixels are not
// VP8-encoded first. A capture error just skips that tick — the
// connection stays up, it only drops a frame.
func (s *Server) pumpFrames(ctx context.Context, droneID domain.DroneID, provider FrameProvider, track *webrtc.TrackLocalStaticSample) {
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame, err := provider.CaptureFrame(ctx)
			if err != nil {
				s.logger.WithError(err).WithField("drone_id", droneID).Debug("streaming: capture frame failed")
				continue
			}
			sample := media.Sample{Data: frame.Pixels, Duration: frameInterval}
			if err := track.WriteSample(sample); err != nil {
				s.logger.WithError(err).WithField("drone_id", droneID).Debug("streaming: write sample failed")
			}
		}
	}
}

// Close tears down one drone's active WebRTC connection, if any.
func (s *Server) Close(droneID domain.DroneID) error {
	if !s.closeConn(droneID) {
		return fmt.Errorf("streaming: no active connection for drone %q", droneID)
	}
	return nil
}

func (s *Server) closeConn(droneID domain.DroneID) bool {
	s.mu.Lock()
	conn, ok := s.conns[droneID]
	if ok {
		delete(s.conns, droneID)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	conn.cancel()
	conn.peer.Close()
	return true
}

// ActiveStreams reports drones with a live WebRTC connection.
func (s *Server) ActiveStreams() []domain.DroneID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]domain.DroneID, 0, len(s.conns))
	for id := range s.conns {
		ids = append(ids, id)
	}
	return ids
}
