package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/dronefleet/fleetctl/internal/domain"
	"github.com/dronefleet/fleetctl/internal/nlparser"
	"github.com/dronefleet/fleetctl/internal/router"
	"github.com/dronefleet/fleetctl/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logger.Logger {
	return logger.NewLogger(logger.Config{Level: "error", Format: "text", Output: "stdout"})
}

type fakeRouter struct {
	result router.Result
}

func (f *fakeRouter) Execute(ctx context.Context, intent domain.Intent, principal router.Principal) router.Result {
	return f.result
}

type fakeParser struct {
	intent domain.Intent
	err    error
}

func (f *fakeParser) Parse(ctx context.Context, command string, session *nlparser.SessionContext) (domain.Intent, error) {
	return f.intent, f.err
}

type fakeStatus struct {
	available []domain.DetectedDrone
	records   map[domain.DroneID]domain.DroneRecord
	system    map[string]interface{}
}

func (f *fakeStatus) AvailableDrones() []domain.DetectedDrone { return f.available }
func (f *fakeStatus) DroneStatus(id domain.DroneID) (domain.DroneRecord, bool) {
	r, ok := f.records[id]
	return r, ok
}
func (f *fakeStatus) SystemStatus() map[string]interface{} { return f.system }

func newTestServer(rtr Router, parser NLParser, status StatusSource) (*Server, *bytes.Buffer) {
	var out bytes.Buffer
	s := New(strings.NewReader(""), &out, rtr, parser, status, testLogger())
	return s, &out
}

func decodeResponses(t *testing.T, out *bytes.Buffer) []Response {
	dec := json.NewDecoder(out)
	var resps []Response
	for {
		var r Response
		if err := dec.Decode(&r); err != nil {
			break
		}
		resps = append(resps, r)
	}
	require.NotEmpty(t, resps)
	return resps
}

func TestHandleLineInitialize(t *testing.T) {
	s, out := newTestServer(&fakeRouter{}, &fakeParser{}, &fakeStatus{})
	s.handleLine(context.Background(), `{"jsonrpc":"2.0","id":1,"method":"initialize"}`)
	resps := decodeResponses(t, out)
	require.Nil(t, resps[0].Error)
}

func TestHandleLineToolsList(t *testing.T) {
	s, out := newTestServer(&fakeRouter{}, &fakeParser{}, &fakeStatus{})
	s.handleLine(context.Background(), `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	resps := decodeResponses(t, out)
	require.Nil(t, resps[0].Error)
}

func TestHandleLineUnknownMethod(t *testing.T) {
	s, out := newTestServer(&fakeRouter{}, &fakeParser{}, &fakeStatus{})
	s.handleLine(context.Background(), `{"jsonrpc":"2.0","id":1,"method":"bogus"}`)
	resps := decodeResponses(t, out)
	require.NotNil(t, resps[0].Error)
	assert.Equal(t, ErrCodeMethodNotFound, resps[0].Error.Code)
}

func TestHandleLineParseError(t *testing.T) {
	s, out := newTestServer(&fakeRouter{}, &fakeParser{}, &fakeStatus{})
	s.handleLine(context.Background(), `not json`)
	resps := decodeResponses(t, out)
	require.NotNil(t, resps[0].Error)
	assert.Equal(t, ErrCodeParse, resps[0].Error.Code)
}

func TestToolCallTakeoffSuccess(t *testing.T) {
	rtr := &fakeRouter{result: router.Result{Success: true, Message: "takeoff completed"}}
	s, out := newTestServer(rtr, &fakeParser{}, &fakeStatus{})

	req := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"takeoff_drone","arguments":{"drone_id":"drone-1"}}}`
	s.handleLine(context.Background(), req)
	resps := decodeResponses(t, out)
	require.Nil(t, resps[0].Error)
}

func TestToolCallMoveValidatesDistanceRange(t *testing.T) {
	rtr := &fakeRouter{result: router.Result{Success: true}}
	s, out := newTestServer(rtr, &fakeParser{}, &fakeStatus{})

	req := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"move_drone","arguments":{"drone_id":"drone-1","direction":"forward","distance":9999}}}`
	s.handleLine(context.Background(), req)
	resps := decodeResponses(t, out)
	require.NotNil(t, resps[0].Error)
	assert.Equal(t, ErrCodeValidation, resps[0].Error.Code)
}

func TestToolCallUnknownTool(t *testing.T) {
	s, out := newTestServer(&fakeRouter{}, &fakeParser{}, &fakeStatus{})
	req := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"not_a_tool","arguments":{}}}`
	s.handleLine(context.Background(), req)
	resps := decodeResponses(t, out)
	require.NotNil(t, resps[0].Error)
	assert.Equal(t, ErrCodeValidation, resps[0].Error.Code)
}

func TestToolCallRouterErrorIsMappedToResultNotRPCError(t *testing.T) {
	rtr := &fakeRouter{result: router.Result{Err: domain.NewSafetyError(domain.CodeBatteryLow, "low battery", "below floor")}}
	s, out := newTestServer(rtr, &fakeParser{}, &fakeStatus{})

	req := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"takeoff_drone","arguments":{"drone_id":"drone-1"}}}`
	s.handleLine(context.Background(), req)
	resps := decodeResponses(t, out)
	require.Nil(t, resps[0].Error)
}

func TestToolCallNaturalLanguageDelegatesToParser(t *testing.T) {
	rtr := &fakeRouter{result: router.Result{Success: true}}
	parser := &fakeParser{intent: domain.Intent{Action: domain.ActionLand}}
	s, out := newTestServer(rtr, parser, &fakeStatus{})

	req := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"execute_natural_language_command","arguments":{"command":"land now"}}}`
	s.handleLine(context.Background(), req)
	resps := decodeResponses(t, out)
	require.Nil(t, resps[0].Error)
}

func TestResourceReadAvailableDrones(t *testing.T) {
	status := &fakeStatus{available: []domain.DetectedDrone{{IP: "10.0.0.1"}}}
	s, out := newTestServer(&fakeRouter{}, &fakeParser{}, status)

	req := `{"jsonrpc":"2.0","id":1,"method":"resources/read","params":{"uri":"drone://available"}}`
	s.handleLine(context.Background(), req)
	resps := decodeResponses(t, out)
	require.Nil(t, resps[0].Error)
}

func TestResourceReadUnknownDroneStatus(t *testing.T) {
	status := &fakeStatus{records: map[domain.DroneID]domain.DroneRecord{}}
	s, out := newTestServer(&fakeRouter{}, &fakeParser{}, status)

	req := `{"jsonrpc":"2.0","id":1,"method":"resources/read","params":{"uri":"drone://status/ghost"}}`
	s.handleLine(context.Background(), req)
	resps := decodeResponses(t, out)
	require.NotNil(t, resps[0].Error)
}

func TestResourceReadUnknownURI(t *testing.T) {
	s, out := newTestServer(&fakeRouter{}, &fakeParser{}, &fakeStatus{})
	req := `{"jsonrpc":"2.0","id":1,"method":"resources/read","params":{"uri":"bogus://nope"}}`
	s.handleLine(context.Background(), req)
	resps := decodeResponses(t, out)
	require.NotNil(t, resps[0].Error)
}

func TestValidDroneIDRejectsMalformed(t *testing.T) {
	err := validDroneID("has a space")
	assert.Error(t, err)
}

func TestMoveDirectionCodeKnownDirections(t *testing.T) {
	code, ok := moveDirectionCode("forward")
	assert.True(t, ok)
	assert.Equal(t, 0, code)
}
