package auth

import (
	"testing"
	"time"

	"github.com/dronefleet/fleetctl/internal/domain"
	"github.com/dronefleet/fleetctl/internal/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestNewRejectsShortSecret(t *testing.T) {
	_, err := New(Config{Secret: "too-short"})
	require.Error(t, err)
}

func TestIssueThenAuthenticateRoundTrips(t *testing.T) {
	svc, err := New(DefaultConfig(testSecret))
	require.NoError(t, err)

	token, err := svc.Issue("alice", RoleOperator)
	require.NoError(t, err)

	principal, err := svc.Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", principal.ID)
	assert.Equal(t, []string{"operator"}, principal.Roles)
}

func TestAuthenticateAcceptsBearerPrefix(t *testing.T) {
	svc, err := New(DefaultConfig(testSecret))
	require.NoError(t, err)
	token, err := svc.Issue("alice", RoleViewer)
	require.NoError(t, err)

	_, err = svc.Authenticate("Bearer " + token)
	require.NoError(t, err)
}

func TestAuthenticateRejectsEmptyToken(t *testing.T) {
	svc, err := New(DefaultConfig(testSecret))
	require.NoError(t, err)
	_, err = svc.Authenticate("")
	assert.Error(t, err)
}

func TestAuthenticateRejectsTamperedToken(t *testing.T) {
	svc, err := New(DefaultConfig(testSecret))
	require.NoError(t, err)
	token, err := svc.Issue("alice", RoleAdmin)
	require.NoError(t, err)

	otherSvc, err := New(DefaultConfig("zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz"))
	require.NoError(t, err)
	_, err = otherSvc.Authenticate(token)
	assert.Error(t, err)
}

func TestAuthenticateRejectsExpiredToken(t *testing.T) {
	// Built directly: New replaces a non-positive TTL with the 24h default.
	svc := &Service{cfg: Config{Secret: testSecret, TTL: -1 * time.Hour}}
	token, err := svc.Issue("alice", RoleOperator)
	require.NoError(t, err)
	_, err = svc.Authenticate(token)
	assert.Error(t, err)
}

func TestAuthorizeViewerCannotTakeoff(t *testing.T) {
	svc, err := New(DefaultConfig(testSecret))
	require.NoError(t, err)
	p := router.Principal{ID: "v", Roles: []string{"viewer"}}
	assert.False(t, svc.Authorize(p, domain.ActionTakeoff))
}

func TestAuthorizeOperatorCanTakeoff(t *testing.T) {
	svc, err := New(DefaultConfig(testSecret))
	require.NoError(t, err)
	p := router.Principal{ID: "o", Roles: []string{"operator"}}
	assert.True(t, svc.Authorize(p, domain.ActionTakeoff))
}

func TestAuthorizeViewerCanEmergencyStop(t *testing.T) {
	svc, err := New(DefaultConfig(testSecret))
	require.NoError(t, err)
	p := router.Principal{ID: "v", Roles: []string{"viewer"}}
	assert.True(t, svc.Authorize(p, domain.ActionEmergency))
}

func TestAuthorizeViewerCanReadStatus(t *testing.T) {
	svc, err := New(DefaultConfig(testSecret))
	require.NoError(t, err)
	p := router.Principal{ID: "v", Roles: []string{"viewer"}}
	assert.True(t, svc.Authorize(p, domain.ActionStatus))
}

func TestAuthorizeUnauthenticatedPrincipalDenied(t *testing.T) {
	svc, err := New(DefaultConfig(testSecret))
	require.NoError(t, err)
	assert.False(t, svc.Authorize(router.Principal{}, domain.ActionStatus))
}
