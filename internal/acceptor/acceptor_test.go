package acceptor

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ocamdaemon/onvifd/internal/auth"
	"github.com/ocamdaemon/onvifd/internal/bufferpool"
	"github.com/ocamdaemon/onvifd/internal/conf"
	"github.com/ocamdaemon/onvifd/internal/dispatcher"
	"github.com/ocamdaemon/onvifd/internal/logger"
	"github.com/ocamdaemon/onvifd/internal/onviferr"
	"github.com/ocamdaemon/onvifd/internal/responsebuilder"
	"github.com/ocamdaemon/onvifd/internal/soapcontext"
	"github.com/ocamdaemon/onvifd/internal/stats"
)

type echoHandler struct{}

func (echoHandler) Handle(ctx *soapcontext.Context, operation string) error {
	if operation == "Boom" {
		return onviferr.NotFound("no such thing: %s", operation)
	}
	ctx.GenerateResponse([]byte(`<tns:PingResponse/>`))
	return nil
}

func testAcceptor(t *testing.T, authEnabled bool) (*Acceptor, string) {
	t.Helper()

	registry := dispatcher.New()
	require.NoError(t, registry.RegisterService(dispatcher.Registration{
		ServiceName:      "device",
		OperationHandler: echoHandler{},
	}))

	c, _, err := conf.Load("", nil)
	require.NoError(t, err)
	c.AuthEnabled = authEnabled

	builder := responsebuilder.New(bufferpool.New(4, bufferpool.DefaultBufferSize))
	log := testLogger{}

	var gate *auth.Gate
	if authEnabled {
		// configure non-empty credentials so this exercises "auth required
		// and rejects anyone but the configured user", not the separate
		// zero-config anonymous-access path covered in auth's own tests.
		user, err := conf.NewCredential("admin")
		require.NoError(t, err)
		pass, err := conf.NewCredential("adminpass")
		require.NoError(t, err)
		c.OnvifUsername = user
		c.OnvifPassword = pass
		gate = auth.NewGate(c)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	a := New(addr, registry, gate, builder, stats.New(), log)
	return a, addr
}

type testLogger struct{}

func (testLogger) Log(level logger.Level, format string, args ...interface{}) {}

func startAcceptor(t *testing.T, a *Acceptor) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	go func() {
		close(started)
		_ = a.Run(ctx)
	}()
	<-started
	time.Sleep(50 * time.Millisecond)
	return cancel
}

func postRaw(t *testing.T, addr, path, auth string) string {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	body := `<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope" xmlns:tns="x"><soap:Body><tns:Ping/></soap:Body></soap:Envelope>`
	req := fmt.Sprintf("POST %s HTTP/1.1\r\nHost: x\r\nContent-Length: %d\r\n%s\r\n\r\n%s", path, len(body), auth, body)
	_, err = conn.Write([]byte(req))
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	statusLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	return statusLine
}

func TestAcceptorServesRegisteredService(t *testing.T) {
	a, addr := testAcceptor(t, false)
	cancel := startAcceptor(t, a)
	defer cancel()

	status := postRaw(t, addr, "/onvif/device_service", "")
	require.Contains(t, status, "200")
}

func TestAcceptorUnknownPathIs404(t *testing.T) {
	a, addr := testAcceptor(t, false)
	cancel := startAcceptor(t, a)
	defer cancel()

	status := postRaw(t, addr, "/bogus", "")
	require.Contains(t, status, "404")
}

func TestAcceptorRequiresAuthWhenEnabled(t *testing.T) {
	a, addr := testAcceptor(t, true)
	cancel := startAcceptor(t, a)
	defer cancel()

	status := postRaw(t, addr, "/onvif/device_service", "")
	require.Contains(t, status, "401")
}

func TestAcceptorRejectsUnknownBasicAuthUser(t *testing.T) {
	a, addr := testAcceptor(t, true)
	cancel := startAcceptor(t, a)
	defer cancel()

	creds := base64.StdEncoding.EncodeToString([]byte("intruder:guess"))
	status := postRaw(t, addr, "/onvif/device_service", "Authorization: Basic "+creds+"\r\n")
	require.Contains(t, status, "401")
}

func TestAcceptorAllowsAnonymousWhenCredentialsUnset(t *testing.T) {
	registry := dispatcher.New()
	require.NoError(t, registry.RegisterService(dispatcher.Registration{
		ServiceName:      "device",
		OperationHandler: echoHandler{},
	}))

	c, _, err := conf.Load("", nil)
	require.NoError(t, err)
	c.AuthEnabled = true

	builder := responsebuilder.New(bufferpool.New(4, bufferpool.DefaultBufferSize))
	gate := auth.NewGate(c)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	a := New(addr, registry, gate, builder, stats.New(), testLogger{})
	cancel := startAcceptor(t, a)
	defer cancel()

	status := postRaw(t, addr, "/onvif/device_service", "")
	require.Contains(t, status, "200")
}

func TestAcceptorAcceptsConfiguredBasicAuth(t *testing.T) {
	a, addr := testAcceptor(t, true)
	cancel := startAcceptor(t, a)
	defer cancel()

	creds := base64.StdEncoding.EncodeToString([]byte("admin:adminpass"))
	status := postRaw(t, addr, "/onvif/device_service", "Authorization: Basic "+creds+"\r\n")
	require.Contains(t, status, "200")
}
