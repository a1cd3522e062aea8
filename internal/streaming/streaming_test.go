package streaming

import (
	"context"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dronefleet/fleetctl/internal/capability"
	"github.com/dronefleet/fleetctl/internal/domain"
	"github.com/dronefleet/fleetctl/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.NewLogger(logger.Config{Level: "error", Format: "text", Output: "stdout"})
}

type fakeRegistry struct {
	providers map[domain.DroneID]FrameProvider
}

func (f *fakeRegistry) Get(id domain.DroneID) (FrameProvider, bool) {
	p, ok := f.providers[id]
	return p, ok
}

type fakeProvider struct{}

func (fakeProvider) CaptureFrame(ctx context.Context) (capability.Frame, error) {
	return capability.Frame{Pixels: []byte{1, 2, 3}}, nil
}
func (fakeProvider) StartStream(ctx context.Context) error { return nil }
func (fakeProvider) StopStream(ctx context.Context) error  { return nil }

func TestNewRegistersVP8Codec(t *testing.T) {
	reg := &fakeRegistry{providers: map[domain.DroneID]FrameProvider{}}
	s, err := New(reg, testLogger())
	require.NoError(t, err)
	assert.NotNil(t, s)
}

func TestHandleOfferUnknownDrone(t *testing.T) {
	reg := &fakeRegistry{providers: map[domain.DroneID]FrameProvider{}}
	s, err := New(reg, testLogger())
	require.NoError(t, err)

	_, err = s.HandleOffer(context.Background(), "ghost", webrtc.SessionDescription{})
	assert.Error(t, err)
}

// buildLocalOffer spins up a throwaway peer connection to produce a valid
// SDP offer the server can answer, without depending on any STUN/TURN
// reachability.
func buildLocalOffer(t *testing.T) webrtc.SessionDescription {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	defer pc.Close()

	_, err = pc.CreateDataChannel("dummy", nil)
	require.NoError(t, err)

	offer, err := pc.CreateOffer(nil)
	require.NoError(t, err)
	require.NoError(t, pc.SetLocalDescription(offer))
	return offer
}

func TestHandleOfferAddsActiveStream(t *testing.T) {
	reg := &fakeRegistry{providers: map[domain.DroneID]FrameProvider{"drone-1": fakeProvider{}}}
	s, err := New(reg, testLogger())
	require.NoError(t, err)

	offer := buildLocalOffer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	answer, err := s.HandleOffer(ctx, "drone-1", offer)
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeAnswer, answer.Type)

	assert.Contains(t, s.ActiveStreams(), domain.DroneID("drone-1"))

	require.NoError(t, s.Close("drone-1"))
	assert.NotContains(t, s.ActiveStreams(), domain.DroneID("drone-1"))
}

func TestCloseUnknownDroneErrors(t *testing.T) {
	reg := &fakeRegistry{providers: map[domain.DroneID]FrameProvider{}}
	s, err := New(reg, testLogger())
	require.NoError(t, err)

	err = s.Close("ghost")
	assert.Error(t, err)
}
