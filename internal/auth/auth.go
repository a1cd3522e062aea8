// Package auth provides JWT-backed authentication and role-based
// authorization for the HTTP/WS and MCP surfaces: Authenticate(token) ->
// Principal and Authorize(principal, action) -> bool.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/dronefleet/fleetctl/internal/domain"
	"github.com/dronefleet/fleetctl/internal/router"
)

// Role is a coarse permission level, ordered low to high.
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

var roleLevel = map[Role]int{RoleViewer: 1, RoleOperator: 2, RoleAdmin: 3}

// writeActions require at least RoleOperator; everything else (status
// reads) only requires RoleViewer.
var writeActions = map[domain.Action]bool{
	domain.ActionConnect:      true,
	domain.ActionDisconnect:   true,
	domain.ActionTakeoff:      true,
	domain.ActionLand:         true,
	domain.ActionMove:         true,
	domain.ActionRotate:       true,
	domain.ActionAltitude:     true,
	domain.ActionGoXYZ:        true,
	domain.ActionRCControl:    true,
	domain.ActionPhoto:        true,
	domain.ActionStreaming:    true,
	domain.ActionDetection:    true,
	domain.ActionTracking:     true,
	domain.ActionLearningData: true,
	domain.ActionEmergency:    false, // emergency stop is allowed at viewer level too; see Authorize
}

// claims is the JWT payload: a principal name plus its role.
type claims struct {
	Name string `json:"name"`
	Role Role   `json:"role"`
	jwt.RegisteredClaims
}

// Config carries the signing secret (must be at least 32 characters, no
// default) and the issued-token lifetime.
type Config struct {
	Secret string
	TTL    time.Duration
}

func DefaultConfig(secret string) Config {
	return Config{Secret: secret, TTL: 24 * time.Hour}
}

// Service issues and validates JWTs and authorizes Intents against roles.
type Service struct {
	cfg Config
}

func New(cfg Config) (*Service, error) {
	if len(cfg.Secret) < 32 {
		return nil, errors.New("auth: JWT secret must be at least 32 characters")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	return &Service{cfg: cfg}, nil
}

// Issue mints a signed token for name/role, used by the login endpoint after
// authenticating against the configured admin credentials.
func (s *Service) Issue(name string, role Role) (string, error) {
	now := time.Now()
	c := claims{
		Name: name,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TTL)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString([]byte(s.cfg.Secret))
}

// Authenticate validates a bearer token string and returns the caller's
// Principal.
func (s *Service) Authenticate(token string) (router.Principal, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return router.Principal{}, errors.New("auth: empty token")
	}

	tok, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("auth: unexpected signing method %s", t.Method.Alg())
		}
		return []byte(s.cfg.Secret), nil
	})
	if err != nil || !tok.Valid {
		if err == nil {
			err = errors.New("auth: invalid token")
		}
		return router.Principal{}, err
	}
	c, ok := tok.Claims.(*claims)
	if !ok || c.Name == "" || c.Role == "" {
		return router.Principal{}, errors.New("auth: invalid claims")
	}
	return router.Principal{ID: c.Name, Roles: []string{string(c.Role)}}, nil
}

// Authorize implements router.Authorizer. Emergency stop is always permitted
// at viewer level and above, since withholding it would work against the
// safety invariants it exists to enforce; every other mutating action
// requires at least RoleOperator.
func (s *Service) Authorize(principal router.Principal, action domain.Action) bool {
	level := s.highestRole(principal)
	if action == domain.ActionEmergency {
		return level >= roleLevel[RoleViewer]
	}
	if writeActions[action] {
		return level >= roleLevel[RoleOperator]
	}
	return level >= roleLevel[RoleViewer]
}

func (s *Service) highestRole(principal router.Principal) int {
	best := 0
	for _, r := range principal.Roles {
		if lvl, ok := roleLevel[Role(r)]; ok && lvl > best {
			best = lvl
		}
	}
	return best
}
