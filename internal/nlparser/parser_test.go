package nlparser

import (
	"context"
	"testing"

	"github.com/dronefleet/fleetctl/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTakeoffEnglish(t *testing.T) {
	p := New(nil)
	intent, err := p.Parse(context.Background(), "take off now", NewSessionContext())
	require.NoError(t, err)
	assert.Equal(t, domain.ActionTakeoff, intent.Action)
	assert.Equal(t, domain.SourceNLPattern, intent.Source)
}

func TestParseTakeoffJapanese(t *testing.T) {
	p := New(nil)
	intent, err := p.Parse(context.Background(), "離陸して", NewSessionContext())
	require.NoError(t, err)
	assert.Equal(t, domain.ActionTakeoff, intent.Action)
}

func TestParseMoveExtractsSlots(t *testing.T) {
	p := New(nil)
	intent, err := p.Parse(context.Background(), "move forward 50 cm", NewSessionContext())
	require.NoError(t, err)
	assert.Equal(t, domain.ActionMove, intent.Action)
	assert.Equal(t, 0.0, intent.Parameters["direction"])
	assert.Equal(t, 50.0, intent.Parameters["distance"])
	assert.Empty(t, intent.MissingSlots)
}

func TestParseMoveMetersNormalizedToCentimeters(t *testing.T) {
	p := New(nil)
	intent, err := p.Parse(context.Background(), "forward 2 m", NewSessionContext())
	require.NoError(t, err)
	assert.Equal(t, 200.0, intent.Parameters["distance"])
}

func TestParseMoveMissingSlotHalvesConfidence(t *testing.T) {
	p := New(nil)
	full, err := p.Parse(context.Background(), "move forward 50 cm", NewSessionContext())
	require.NoError(t, err)

	partial, err := p.Parse(context.Background(), "move forward", NewSessionContext())
	require.NoError(t, err)

	assert.NotEmpty(t, partial.MissingSlots)
	assert.Less(t, partial.Confidence, full.Confidence)
}

func TestParseEmergencyTakesPriorityOverOtherCategories(t *testing.T) {
	p := New(nil)
	intent, err := p.Parse(context.Background(), "emergency stop", NewSessionContext())
	require.NoError(t, err)
	assert.Equal(t, domain.ActionEmergency, intent.Action)
}

func TestParseRejectsBannedPattern(t *testing.T) {
	p := New(nil)
	_, err := p.Parse(context.Background(), "<script>alert(1)</script>", NewSessionContext())
	require.Error(t, err)
	fe, ok := domain.AsFleetError(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeForbiddenPattern, fe.Code)
}

func TestParseRejectsOverlongCommand(t *testing.T) {
	p := New(nil)
	long := make([]byte, maxCommandLength+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err := p.Parse(context.Background(), string(long), NewSessionContext())
	require.Error(t, err)
	fe, ok := domain.AsFleetError(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeOutOfRange, fe.Code)
}

func TestParseNoMatchWithoutFallbackReturnsValidationError(t *testing.T) {
	p := New(nil)
	_, err := p.Parse(context.Background(), "xyzzy plugh nonsense", NewSessionContext())
	require.Error(t, err)
	fe, ok := domain.AsFleetError(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeInvalidParameter, fe.Code)
}

type stubFallback struct {
	intent domain.Intent
	err    error
}

func (f stubFallback) Interpret(ctx context.Context, command string) (domain.Intent, error) {
	return f.intent, f.err
}

func TestParseConsultsFallbackOnNoMatch(t *testing.T) {
	p := New(stubFallback{intent: domain.Intent{Action: domain.ActionLand}})
	intent, err := p.Parse(context.Background(), "xyzzy plugh nonsense", NewSessionContext())
	require.NoError(t, err)
	assert.Equal(t, domain.ActionLand, intent.Action)
	assert.Equal(t, domain.SourceNLFallback, intent.Source)
}

func TestParseInheritsTargetDroneFromSession(t *testing.T) {
	p := New(nil)
	session := NewSessionContext()

	first, err := p.Parse(context.Background(), "take off now", session)
	require.NoError(t, err)
	first.TargetDrone = "drone-1"
	session.remember(first)

	second, err := p.Parse(context.Background(), "land", session)
	require.NoError(t, err)
	assert.Equal(t, domain.DroneID("drone-1"), second.TargetDrone)
}

func TestSessionContextBoundedHistory(t *testing.T) {
	session := NewSessionContext()
	for i := 0; i < contextMemorySize+5; i++ {
		session.remember(domain.Intent{Action: domain.ActionStatus})
	}
	assert.Len(t, session.Snapshot(), contextMemorySize)
}
