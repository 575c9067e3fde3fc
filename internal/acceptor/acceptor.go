// Package acceptor implements the Connection Acceptor (L4): it listens on
// the configured HTTP port and hands each accepted connection to a worker
// drawn from a bounded pool, so a slow request never blocks another.
package acceptor

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ocamdaemon/onvifd/internal/auth"
	"github.com/ocamdaemon/onvifd/internal/dispatcher"
	"github.com/ocamdaemon/onvifd/internal/httpparser"
	"github.com/ocamdaemon/onvifd/internal/logger"
	"github.com/ocamdaemon/onvifd/internal/onviferr"
	"github.com/ocamdaemon/onvifd/internal/responsebuilder"
	"github.com/ocamdaemon/onvifd/internal/soapcontext"
	"github.com/ocamdaemon/onvifd/internal/stats"
)

// DefaultWorkerPoolSize bounds how many connections are served concurrently.
const DefaultWorkerPoolSize = 16

// DefaultReceiveTimeout bounds how long a connection may sit idle before
// the worker gives up on it.
const DefaultReceiveTimeout = 30 * time.Second

// pathPrefix maps a URL path to the service name the dispatcher registered
// it under.
var pathPrefix = map[string]string{
	"/onvif/device_service":  "device",
	"/onvif/media_service":   "media",
	"/onvif/imaging_service": "imaging",
	"/onvif/ptz_service":     "ptz",
}

// Acceptor owns the HTTP listener and the bounded worker pool serving it.
type Acceptor struct {
	addr     string
	registry *dispatcher.Registry
	gate     *auth.Gate
	builder  *responsebuilder.Builder
	stats    *stats.Stats
	log      logger.Writer

	workerPoolSize int
	receiveTimeout time.Duration

	listener net.Listener
	sem      chan struct{}
}

// New returns an Acceptor bound to addr (host:port).
func New(addr string, registry *dispatcher.Registry, gate *auth.Gate, builder *responsebuilder.Builder, st *stats.Stats, log logger.Writer) *Acceptor {
	return &Acceptor{
		addr:           addr,
		registry:       registry,
		gate:           gate,
		builder:        builder,
		stats:          st,
		log:            log,
		workerPoolSize: DefaultWorkerPoolSize,
		receiveTimeout: DefaultReceiveTimeout,
	}
}

// Run listens on a.addr and serves connections until ctx is cancelled. It
// returns once the listener is closed and all accepted connections have
// either finished or been abandoned.
func (a *Acceptor) Run(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", a.addr)
	if err != nil {
		return err
	}
	a.listener = ln
	a.sem = make(chan struct{}, a.workerPoolSize)

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			a.log.Log(logger.Warn, "acceptor: accept error: %s", err)
			continue
		}

		if a.stats != nil {
			atomic.AddInt64(a.stats.CountConnectionsAccepted, 1)
		}

		// blocks once the pool is saturated, bounding concurrency to
		// workerPoolSize without dropping the connection.
		a.sem <- struct{}{}
		go a.serve(conn)
	}
}

func (a *Acceptor) serve(conn net.Conn) {
	defer func() {
		<-a.sem
		_ = conn.Close()
	}()

	_ = conn.SetDeadline(time.Now().Add(a.receiveTimeout))

	parser := httpparser.New()
	buf := make([]byte, 4096)

	var req *httpparser.Request
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		r, done, perr := parser.Feed(buf[:n])
		if perr != nil {
			a.writeErrorStatus(conn, perr)
			return
		}
		if done {
			req = r
			break
		}
	}

	a.handle(conn, req)
}

func (a *Acceptor) handle(conn net.Conn, req *httpparser.Request) {
	if req.Method != "POST" {
		a.writeStatus(conn, 405)
		return
	}

	serviceName, ok := pathPrefix[req.Path]
	if !ok {
		a.writeStatus(conn, 404)
		return
	}

	authReq := &auth.Request{Path: req.Path}
	if ip, _, err := net.SplitHostPort(conn.RemoteAddr().String()); err == nil {
		authReq.IP = net.ParseIP(ip)
	}
	if h, present := req.Get("Authorization"); present {
		user, pass := parseBasicAuth(h)
		authReq.FillFromHeader(user, pass)
	}

	if a.gate != nil {
		if err := a.gate.Authenticate(authReq); err != nil {
			var authErr *auth.Error
			if errors.As(err, &authErr) && authErr.AskCredentials {
				a.writeUnauthorized(conn, true)
				return
			}
			a.writeUnauthorized(conn, false)
			return
		}
	}

	ctx := soapcontext.New()
	defer ctx.Cleanup()

	if err := ctx.ParseRequest(req.Body); err != nil {
		a.writeErrorStatus(conn, err)
		return
	}

	operation := ctx.Operation()
	if err := a.registry.Dispatch(serviceName, operation, ctx); err != nil {
		if oerr, ok := err.(*onviferr.Error); ok {
			ctx.GenerateFaultFromError(oerr)
		} else {
			ctx.GenerateFaultFromError(onviferr.Wrap(onviferr.KindInternal, err))
		}
		if a.stats != nil {
			atomic.AddInt64(a.stats.CountRequestsFaulted, 1)
		}
	}

	if a.stats != nil {
		atomic.AddInt64(a.stats.CountRequestsDispatched, 1)
	}

	resp := a.builder.Build(200, ctx.ResponseData())
	defer a.builder.Release(resp)

	a.writeResponse(conn, resp)
}

func (a *Acceptor) writeResponse(conn net.Conn, resp *responsebuilder.Response) {
	header := fmt.Sprintf("HTTP/1.1 %d %s\r\nContent-Type: %s\r\nContent-Length: %d\r\nConnection: close\r\n\r\n",
		resp.StatusCode, statusText(resp.StatusCode), resp.ContentType, len(resp.Body))
	_, _ = conn.Write([]byte(header))
	_, _ = conn.Write(resp.Body)
}

func (a *Acceptor) writeStatus(conn net.Conn, status int) {
	body := statusText(status)
	header := fmt.Sprintf("HTTP/1.1 %d %s\r\nContent-Length: %d\r\nConnection: close\r\n\r\n", status, body, len(body))
	_, _ = conn.Write([]byte(header))
	_, _ = conn.Write([]byte(body))
}

func (a *Acceptor) writeUnauthorized(conn net.Conn, challenge bool) {
	body := "Unauthorized"
	header := fmt.Sprintf("HTTP/1.1 401 Unauthorized\r\nContent-Length: %d\r\nConnection: close\r\n", len(body))
	if challenge {
		header += fmt.Sprintf("WWW-Authenticate: Basic realm=\"%s\"\r\n", auth.Realm)
	}
	header += "\r\n"
	_, _ = conn.Write([]byte(header))
	_, _ = conn.Write([]byte(body))
}

func (a *Acceptor) writeErrorStatus(conn net.Conn, err error) {
	status := 500
	if oerr, ok := err.(*onviferr.Error); ok {
		status = oerr.Kind.HTTPStatus()
	}
	a.writeStatus(conn, status)
}

func statusText(code int) string {
	switch code {
	case 200:
		return "OK"
	case 401:
		return "Unauthorized"
	case 404:
		return "Not Found"
	case 405:
		return "Method Not Allowed"
	case 400:
		return "Bad Request"
	default:
		return "Internal Server Error"
	}
}

func parseBasicAuth(header string) (string, string) {
	const prefix = "Basic "
	if !strings.HasPrefix(header, prefix) {
		return "", ""
	}
	decoded, err := base64.StdEncoding.DecodeString(header[len(prefix):])
	if err != nil {
		return "", ""
	}
	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 {
		return "", ""
	}
	return parts[0], parts[1]
}
