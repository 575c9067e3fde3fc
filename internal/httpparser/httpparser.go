// Package httpparser implements the stateful HTTP/1.1 request parser (L1)
// that turns bytes read off a connection into an HttpRequest, enforcing the
// size limits the daemon is willing to accept before any SOAP work begins.
package httpparser

import (
	"bytes"
	"fmt"

	"github.com/ocamdaemon/onvifd/internal/onviferr"
)

const (
	// MaxMethodLen bounds the request-line method token.
	MaxMethodLen = 15
	// MaxPathLen bounds the request-line path.
	MaxPathLen = 255
	// MaxVersionLen bounds the request-line HTTP version token.
	MaxVersionLen = 15
	// MaxHeaderLineLen bounds any single header line, name and value included.
	MaxHeaderLineLen = 8192
	// MaxContentLength bounds the request body (Content-Length).
	MaxContentLength = 262144
)

// state is the parser's position in the three-state machine.
type state int

const (
	stateRequestLine state = iota
	stateHeaders
	stateBody
	stateDone
)

// Header is one (name, value) pair preserving request order. Name lookup is
// case-insensitive via Header.Get on the owning Request.
type Header struct {
	Name  string
	Value string
}

// Request is a fully parsed HTTP request. Path/Method/Version/Headers/Body
// are views into the connection buffer handed to Parser.Feed; they must not
// be retained past the buffer's lifetime.
type Request struct {
	Method  string
	Path    string
	Version string
	Headers []Header
	Body    []byte

	contentLength int
}

// Get returns the first header value matching name, case-insensitively, and
// whether it was present.
func (r *Request) Get(name string) (string, bool) {
	for _, h := range r.Headers {
		if equalFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// Parser drives the REQUEST_LINE -> HEADERS -> BODY state machine across
// repeated Feed calls as more bytes arrive from the socket.
type Parser struct {
	state state
	buf   bytes.Buffer

	req Request
}

// New returns a parser ready to consume a fresh request.
func New() *Parser {
	return &Parser{}
}

// Reset prepares the parser to consume a new request, for connections that
// do not close between requests (not used in steady state, since the
// daemon always responds Connection: close, but kept for test harnesses).
func (p *Parser) Reset() {
	p.state = stateRequestLine
	p.buf.Reset()
	p.req = Request{}
}

// Feed appends chunk to the parser's internal buffer and attempts to make
// progress through the state machine. It returns (request, true, nil) once
// a complete request has been parsed, (nil, false, nil) when more data is
// needed, or a non-nil *onviferr.Error on malformed input.
func (p *Parser) Feed(chunk []byte) (*Request, bool, error) {
	p.buf.Write(chunk)

	for {
		switch p.state {
		case stateRequestLine:
			line, ok := p.takeLine()
			if !ok {
				return nil, false, nil
			}
			if err := p.parseRequestLine(line); err != nil {
				return nil, false, err
			}
			p.state = stateHeaders

		case stateHeaders:
			line, ok := p.takeLine()
			if !ok {
				return nil, false, nil
			}
			if len(line) == 0 {
				if err := p.finishHeaders(); err != nil {
					return nil, false, err
				}
				if p.req.contentLength == 0 {
					p.req.Body = nil
					p.state = stateDone
					return &p.req, true, nil
				}
				p.state = stateBody
				continue
			}
			if len(line) > MaxHeaderLineLen {
				return nil, false, onviferr.New(onviferr.KindInvalid, "header line too long")
			}
			h, err := parseHeaderLine(line)
			if err != nil {
				return nil, false, err
			}
			p.req.Headers = append(p.req.Headers, h)

		case stateBody:
			if p.buf.Len() < p.req.contentLength {
				return nil, false, nil
			}
			p.req.Body = append([]byte(nil), p.buf.Next(p.req.contentLength)...)
			p.state = stateDone
			return &p.req, true, nil

		case stateDone:
			return nil, false, fmt.Errorf("parser already produced a request; call Reset")
		}
	}
}

// takeLine removes and returns one CRLF-terminated line (without the CRLF)
// from the front of the buffer, or ok=false if no full line is present yet.
func (p *Parser) takeLine() (string, bool) {
	b := p.buf.Bytes()
	idx := bytes.Index(b, []byte("\r\n"))
	if idx < 0 {
		if len(b) > MaxHeaderLineLen {
			p.buf.Reset()
		}
		return "", false
	}
	line := string(b[:idx])
	p.buf.Next(idx + 2)
	return line, true
}

func (p *Parser) parseRequestLine(line string) error {
	parts := splitN(line, ' ', 3)
	if len(parts) != 3 {
		return onviferr.New(onviferr.KindInvalid, "malformed request line")
	}

	method, path, version := parts[0], parts[1], parts[2]

	if len(method) == 0 || len(method) > MaxMethodLen {
		return onviferr.New(onviferr.KindInvalid, "invalid method length")
	}
	if len(path) == 0 || len(path) > MaxPathLen {
		return onviferr.New(onviferr.KindInvalid, "invalid path length")
	}
	if len(version) == 0 || len(version) > MaxVersionLen {
		return onviferr.New(onviferr.KindInvalid, "invalid version length")
	}

	if method != "POST" && method != "GET" {
		return onviferr.New(onviferr.KindUnsupported, "unsupported method: %s", method)
	}

	p.req.Method = method
	p.req.Path = path
	p.req.Version = version
	return nil
}

func (p *Parser) finishHeaders() error {
	cl, ok := p.req.Get("Content-Length")
	if !ok {
		p.req.contentLength = 0
		return nil
	}

	n, err := parseContentLength(cl)
	if err != nil {
		return err
	}
	if n > MaxContentLength {
		return onviferr.New(onviferr.KindInvalid, "content-length exceeds maximum of %d bytes", MaxContentLength)
	}
	p.req.contentLength = n
	return nil
}

func parseContentLength(s string) (int, error) {
	n := 0
	if len(s) == 0 {
		return 0, onviferr.New(onviferr.KindInvalid, "empty content-length")
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, onviferr.New(onviferr.KindInvalid, "malformed content-length")
		}
		n = n*10 + int(c-'0')
		if n > MaxContentLength {
			return n, nil // caller compares against MaxContentLength and reports PayloadTooLarge
		}
	}
	return n, nil
}

func parseHeaderLine(line string) (Header, error) {
	idx := indexByte(line, ':')
	if idx <= 0 {
		return Header{}, onviferr.New(onviferr.KindInvalid, "malformed header line")
	}

	name := line[:idx]
	value := trimLeadingSpace(line[idx+1:])

	for _, c := range name {
		if !isHeaderNameByte(c) {
			return Header{}, onviferr.New(onviferr.KindInvalid, "invalid header name byte: %q", c)
		}
	}

	return Header{Name: name, Value: value}, nil
}

func isHeaderNameByte(c rune) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '_', c == '-':
		return true
	default:
		return false
	}
}

func trimLeadingSpace(s string) string {
	i := 0
	for i < len(s) && s[i] == ' ' {
		i++
	}
	return s[i:]
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func splitN(s string, sep byte, n int) []string {
	var out []string
	start := 0
	for i := 0; i < len(s) && len(out) < n-1; i++ {
		if s[i] == sep {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if ca >= 'A' && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if cb >= 'A' && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
