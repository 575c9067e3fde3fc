// Package auth contains the HTTP Basic authentication gate (spec L2).
package auth

import (
	"fmt"
	"sync"
	"time"

	"github.com/ocamdaemon/onvifd/internal/conf"
)

// PauseAfterError is the pause to apply after an authentication failure,
// to slow down brute-force attempts against the Basic-auth credentials.
const PauseAfterError = 2 * time.Second

// Realm is the value advertised in the WWW-Authenticate header of a 401.
const Realm = "ONVIF"

// Gate is the HTTP Basic Auth Gate. It validates credentials against the
// Config Facade's onvif.username/password pair and the user_1..8 table.
type Gate struct {
	mutex   sync.RWMutex
	enabled bool
	primary conf.Credential
	primaryUser string
	users   [8]conf.User
}

// NewGate builds a Gate from the current configuration snapshot.
func NewGate(c *conf.Conf) *Gate {
	g := &Gate{}
	g.Reload(c)
	return g
}

// Reload replaces the credentials the gate validates against; it is called
// whenever the Config Facade's generation counter advances.
func (g *Gate) Reload(c *conf.Conf) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	g.enabled = c.AuthEnabled
	g.primary = c.OnvifPassword
	g.primaryUser = c.OnvifUsername.GetValue()
	g.users = c.Users
}

// Authenticate validates a request's credentials. It returns nil when
// auth_enabled is false or the configured onvif username/password pair is
// empty (matching the Config Facade's documented "empty credential always
// matches" semantics used elsewhere for plain and hashed Credentials).
func (g *Gate) Authenticate(req *Request) error {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	if !g.enabled {
		return nil
	}

	if req.User == g.primaryUser && g.primary.Check(req.Pass) {
		return nil
	}

	for _, u := range g.users {
		if u.Name == "" {
			continue
		}
		if u.Name == req.User && u.Pass.Check(req.Pass) {
			return nil
		}
	}

	if req.User == "" && req.Pass == "" {
		return &Error{Wrapped: fmt.Errorf("no credentials supplied"), AskCredentials: true}
	}
	return &Error{Wrapped: fmt.Errorf("invalid credentials"), AskCredentials: false}
}
