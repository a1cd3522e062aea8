package nlparser

import (
	"sync"

	"github.com/dronefleet/fleetctl/internal/domain"
)

// contextMemorySize is the bounded FIFO size kept per session.
const contextMemorySize = 8

// SessionContext is one caller's bounded intent history. Sessions are not
// shared between concurrent callers.
type SessionContext struct {
	mu      sync.Mutex
	history []domain.Intent
}

func NewSessionContext() *SessionContext {
	return &SessionContext{}
}

// remember appends intent, trimming to contextMemorySize.
func (c *SessionContext) remember(intent domain.Intent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, intent)
	if over := len(c.history) - contextMemorySize; over > 0 {
		c.history = c.history[over:]
	}
}

// lastTargetDrone returns the most recent non-empty TargetDrone, for
// inheriting a missing target.
func (c *SessionContext) lastTargetDrone() (domain.DroneID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.history) - 1; i >= 0; i-- {
		if c.history[i].TargetDrone != "" {
			return c.history[i].TargetDrone, true
		}
	}
	return "", false
}

// lastAltitude returns the most recent altitude intent's target, for
// inheriting an ambient altitude on relative moves.
func (c *SessionContext) lastAltitude() (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.history) - 1; i >= 0; i-- {
		if c.history[i].Action == domain.ActionAltitude {
			if v, ok := c.history[i].Parameters["target"]; ok {
				return v, true
			}
		}
	}
	return 0, false
}

// Snapshot returns a copy of the recorded history, newest last.
func (c *SessionContext) Snapshot() []domain.Intent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Intent(nil), c.history...)
}
