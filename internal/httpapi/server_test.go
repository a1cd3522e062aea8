package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dronefleet/fleetctl/internal/auth"
	"github.com/dronefleet/fleetctl/internal/capability"
	"github.com/dronefleet/fleetctl/internal/domain"
	"github.com/dronefleet/fleetctl/internal/metrics"
	"github.com/dronefleet/fleetctl/internal/router"
	"github.com/dronefleet/fleetctl/internal/telemetry"
	"github.com/dronefleet/fleetctl/pkg/logger"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func testLogger() *logger.Logger {
	return logger.NewLogger(logger.Config{Level: "error", Format: "text", Output: "stdout"})
}

type fakeRouter struct {
	result    router.Result
	lastIntent domain.Intent
}

func (f *fakeRouter) Execute(ctx context.Context, intent domain.Intent, principal router.Principal) router.Result {
	f.lastIntent = intent
	return f.result
}
func (f *fakeRouter) Analytics() router.AnalyticsSummary { return router.AnalyticsSummary{Count: 3} }

type fakeSupervisorView struct{ record domain.DroneRecord }

func (f fakeSupervisorView) GetRecord() domain.DroneRecord { return f.record }

type fakeRegistry struct {
	drones map[domain.DroneID]SupervisorView
}

func (f *fakeRegistry) Get(id domain.DroneID) (SupervisorView, bool) {
	s, ok := f.drones[id]
	return s, ok
}
func (f *fakeRegistry) IDs() []domain.DroneID {
	ids := make([]domain.DroneID, 0, len(f.drones))
	for id := range f.drones {
		ids = append(ids, id)
	}
	return ids
}
func (f *fakeRegistry) All() map[domain.DroneID]domain.DroneRecord {
	out := make(map[domain.DroneID]domain.DroneRecord, len(f.drones))
	for id, s := range f.drones {
		out[id] = s.GetRecord()
	}
	return out
}
func (f *fakeRegistry) Count() int { return len(f.drones) }

type fakeDiscovery struct {
	scanResult map[string]domain.DetectedDrone
	scanErr    error
	autoRunning bool
}

func (f *fakeDiscovery) Scan(ctx context.Context) (map[string]domain.DetectedDrone, error) {
	return f.scanResult, f.scanErr
}
func (f *fakeDiscovery) Snapshot() map[string]domain.DetectedDrone { return f.scanResult }
func (f *fakeDiscovery) StartAutoScan(ctx context.Context, intervalSeconds int) error {
	f.autoRunning = true
	return nil
}
func (f *fakeDiscovery) StopAutoScan()          { f.autoRunning = false }
func (f *fakeDiscovery) AutoScanRunning() bool { return f.autoRunning }

type fakeBroadcaster struct{}

func (fakeBroadcaster) Subscribe(id string, filter domain.DroneID) <-chan telemetry.Frame {
	ch := make(chan telemetry.Frame)
	close(ch)
	return ch
}
func (fakeBroadcaster) Unsubscribe(id string)  {}
func (fakeBroadcaster) SubscriberCount() int   { return 0 }

type fakeStreamServer struct{}

func (fakeStreamServer) HandleOffer(ctx context.Context, droneID domain.DroneID, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-sdp"}, nil
}
func (fakeStreamServer) Close(droneID domain.DroneID) error { return nil }
func (fakeStreamServer) ActiveStreams() []domain.DroneID     { return nil }

type fakeFrameProvider struct{}

func (fakeFrameProvider) CaptureFrame(ctx context.Context) (capability.Frame, error) {
	return capability.Frame{Width: 1, Height: 1, Pixels: []byte{0, 0, 0}}, nil
}
func (fakeFrameProvider) StartStream(ctx context.Context) error { return nil }
func (fakeFrameProvider) StopStream(ctx context.Context) error  { return nil }

type fakeFrameRegistry struct {
	providers map[domain.DroneID]FrameProvider
}

func (f *fakeFrameRegistry) Get(id domain.DroneID) (FrameProvider, bool) {
	p, ok := f.providers[id]
	return p, ok
}

func newTestServer(t *testing.T, rtr *fakeRouter, reg *fakeRegistry) (*Server, string) {
	svc, err := auth.New(auth.DefaultConfig(testSecret))
	require.NoError(t, err)
	mw := auth.NewMiddleware(svc, testLogger())

	token, err := svc.Issue("tester", auth.RoleOperator)
	require.NoError(t, err)

	s := NewServer(Config{
		Router:    rtr,
		Registry:  reg,
		Frames:    &fakeFrameRegistry{providers: map[domain.DroneID]FrameProvider{"drone-1": fakeFrameProvider{}}},
		Discovery: &fakeDiscovery{scanResult: map[string]domain.DetectedDrone{}},
		Telemetry: fakeBroadcaster{},
		Streams:   fakeStreamServer{},
		Auth:      mw,
		Metrics:   metrics.New(),
		Logger:    testLogger(),

		AdminUsername: "admin",
		AdminPassword: "secret",
		IssueToken: func(name, role string) (string, error) {
			return svc.Issue(name, auth.Role(role))
		},
	})
	return s, token
}

func doRequest(s *Server, method, path, body, token string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	rtr := &fakeRouter{}
	reg := &fakeRegistry{drones: map[domain.DroneID]SupervisorView{}}
	s, _ := newTestServer(t, rtr, reg)

	rec := doRequest(s, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProtectedRouteRejectsMissingToken(t *testing.T) {
	rtr := &fakeRouter{result: router.Result{Success: true, Message: "ok"}}
	reg := &fakeRegistry{drones: map[domain.DroneID]SupervisorView{}}
	s, _ := newTestServer(t, rtr, reg)

	rec := doRequest(s, http.MethodPost, "/drone/takeoff", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTakeoffWithValidTokenSucceeds(t *testing.T) {
	rtr := &fakeRouter{result: router.Result{Success: true, Message: "takeoff completed"}}
	reg := &fakeRegistry{drones: map[domain.DroneID]SupervisorView{}}
	s, token := newTestServer(t, rtr, reg)

	rec := doRequest(s, http.MethodPost, "/drone/takeoff", "", token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.ActionTakeoff, rtr.lastIntent.Action)
}

func TestMoveRejectsInvalidDirection(t *testing.T) {
	rtr := &fakeRouter{result: router.Result{Success: true}}
	reg := &fakeRegistry{drones: map[domain.DroneID]SupervisorView{}}
	s, token := newTestServer(t, rtr, reg)

	body := `{"direction":"sideways","distance":50}`
	rec := doRequest(s, http.MethodPost, "/drone/move", body, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMoveValidRequestDispatches(t *testing.T) {
	rtr := &fakeRouter{result: router.Result{Success: true, Message: "move completed"}}
	reg := &fakeRegistry{drones: map[domain.DroneID]SupervisorView{}}
	s, token := newTestServer(t, rtr, reg)

	body := `{"direction":"forward","distance":50,"speed":30}`
	rec := doRequest(s, http.MethodPost, "/drone/move", body, token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.ActionMove, rtr.lastIntent.Action)
	assert.Equal(t, 50.0, rtr.lastIntent.Parameters["distance"])
}

func TestRouterErrorMapsToHTTPStatus(t *testing.T) {
	rtr := &fakeRouter{result: router.Result{Err: domain.NewSafetyError(domain.CodeBatteryLow, "battery low", "below floor")}}
	reg := &fakeRegistry{drones: map[domain.DroneID]SupervisorView{}}
	s, token := newTestServer(t, rtr, reg)

	rec := doRequest(s, http.MethodPost, "/drone/takeoff", "", token)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestStatusResolvesSoleRegisteredDrone(t *testing.T) {
	rtr := &fakeRouter{}
	reg := &fakeRegistry{drones: map[domain.DroneID]SupervisorView{
		"drone-1": fakeSupervisorView{record: domain.DroneRecord{ID: "drone-1", Battery: 90}},
	}}
	s, token := newTestServer(t, rtr, reg)

	rec := doRequest(s, http.MethodGet, "/drone/status", "", token)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
}

func TestStatusNoDronesRegisteredReturnsConflict(t *testing.T) {
	rtr := &fakeRouter{}
	reg := &fakeRegistry{drones: map[domain.DroneID]SupervisorView{}}
	s, token := newTestServer(t, rtr, reg)

	rec := doRequest(s, http.MethodGet, "/drone/status", "", token)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAnalyticsEndpoint(t *testing.T) {
	rtr := &fakeRouter{}
	reg := &fakeRegistry{drones: map[domain.DroneID]SupervisorView{}}
	s, _ := newTestServer(t, rtr, reg)

	rec := doRequest(s, http.MethodGet, "/api/system/analytics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `"Count":3`))
}

func TestLoginSucceedsWithValidCredentials(t *testing.T) {
	rtr := &fakeRouter{}
	reg := &fakeRegistry{drones: map[domain.DroneID]SupervisorView{}}
	s, _ := newTestServer(t, rtr, reg)

	body := `{"username":"admin","password":"secret"}`
	rec := doRequest(s, http.MethodPost, "/api/auth/login", body, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "token")
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	rtr := &fakeRouter{}
	reg := &fakeRegistry{drones: map[domain.DroneID]SupervisorView{}}
	s, _ := newTestServer(t, rtr, reg)

	body := `{"username":"admin","password":"wrong"}`
	rec := doRequest(s, http.MethodPost, "/api/auth/login", body, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCameraPhotoCapturesFrame(t *testing.T) {
	rtr := &fakeRouter{}
	reg := &fakeRegistry{drones: map[domain.DroneID]SupervisorView{}}
	s, token := newTestServer(t, rtr, reg)

	rec := doRequest(s, http.MethodPost, "/camera/photo?drone_id=drone-1", "", token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
}

func TestCameraPhotoUnknownDroneReturnsNotFound(t *testing.T) {
	rtr := &fakeRouter{}
	reg := &fakeRegistry{drones: map[domain.DroneID]SupervisorView{}}
	s, token := newTestServer(t, rtr, reg)

	rec := doRequest(s, http.MethodPost, "/camera/photo?drone_id=drone-9", "", token)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebRTCOfferReturnsAnswer(t *testing.T) {
	rtr := &fakeRouter{}
	reg := &fakeRegistry{drones: map[domain.DroneID]SupervisorView{}}
	s, token := newTestServer(t, rtr, reg)

	body := `{"sdp":"v=0...","type":"offer"}`
	rec := doRequest(s, http.MethodPost, "/camera/webrtc/offer?drone_id=drone-1", body, token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "answer-sdp")
}

func TestWebSocketUpgradeAndClose(t *testing.T) {
	rtr := &fakeRouter{}
	reg := &fakeRegistry{drones: map[domain.DroneID]SupervisorView{}}
	s, _ := newTestServer(t, rtr, reg)

	srv := httptest.NewServer(s.Engine())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
}
