package auth

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ocamdaemon/onvifd/internal/conf"
)

func testConf(t *testing.T, enabled bool, user, pass string) *conf.Conf {
	t.Helper()

	c := &conf.Conf{}
	c.AuthEnabled = enabled

	u, err := conf.NewCredential(user)
	require.NoError(t, err)
	p, err := conf.NewCredential(pass)
	require.NoError(t, err)

	c.OnvifUsername = u
	c.OnvifPassword = p
	return c
}

func TestGateDisabled(t *testing.T) {
	c := testConf(t, false, "admin", "secret")
	g := NewGate(c)

	err := g.Authenticate(&Request{})
	require.NoError(t, err)
}

func TestGateNoCredentials(t *testing.T) {
	c := testConf(t, true, "admin", "secret")
	g := NewGate(c)

	err := g.Authenticate(&Request{})
	require.Error(t, err)

	var authErr *Error
	require.ErrorAs(t, err, &authErr)
	require.True(t, authErr.AskCredentials)
}

func TestGatePrimaryUser(t *testing.T) {
	c := testConf(t, true, "admin", "secret")
	g := NewGate(c)

	require.NoError(t, g.Authenticate(&Request{User: "admin", Pass: "secret"}))

	err := g.Authenticate(&Request{User: "admin", Pass: "wrong"})
	require.Error(t, err)

	var authErr *Error
	require.ErrorAs(t, err, &authErr)
	require.False(t, authErr.AskCredentials)
}

func TestGateUserTable(t *testing.T) {
	c := testConf(t, true, "admin", "secret")

	pass, err := conf.NewCredential("viewerpass")
	require.NoError(t, err)
	c.Users[0] = conf.User{Name: "viewer", Pass: pass}

	g := NewGate(c)

	require.NoError(t, g.Authenticate(&Request{User: "viewer", Pass: "viewerpass"}))
	require.Error(t, g.Authenticate(&Request{User: "viewer", Pass: "wrong"}))
}

func TestGateAnonymousAccessWhenCredentialsUnset(t *testing.T) {
	c := testConf(t, true, "", "")
	g := NewGate(c)

	require.NoError(t, g.Authenticate(&Request{}))
}

func TestGateReload(t *testing.T) {
	c := testConf(t, true, "admin", "secret")
	g := NewGate(c)

	require.NoError(t, g.Authenticate(&Request{User: "admin", Pass: "secret"}))

	c2 := testConf(t, true, "admin", "newsecret")
	g.Reload(c2)

	require.Error(t, g.Authenticate(&Request{User: "admin", Pass: "secret"}))
	require.NoError(t, g.Authenticate(&Request{User: "admin", Pass: "newsecret"}))
}
