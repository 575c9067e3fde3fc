package httpparser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ocamdaemon/onvifd/internal/onviferr"
)

func TestParseSimplePostWithBody(t *testing.T) {
	p := New()
	raw := "POST /onvif/device_service HTTP/1.1\r\n" +
		"Host: 192.168.1.1\r\n" +
		"Content-Length: 5\r\n" +
		"Content-Type: application/soap+xml\r\n" +
		"\r\n" +
		"hello"

	req, done, err := p.Feed([]byte(raw))
	require.NoError(t, err)
	require.True(t, done)
	require.Equal(t, "POST", req.Method)
	require.Equal(t, "/onvif/device_service", req.Path)
	require.Equal(t, "HTTP/1.1", req.Version)
	require.Equal(t, []byte("hello"), req.Body)

	ct, ok := req.Get("content-type")
	require.True(t, ok)
	require.Equal(t, "application/soap+xml", ct)
}

func TestFeedIncrementally(t *testing.T) {
	p := New()

	req, done, err := p.Feed([]byte("POST /x HTTP/1.1\r\n"))
	require.NoError(t, err)
	require.False(t, done)
	require.Nil(t, req)

	req, done, err = p.Feed([]byte("Content-Length: 2\r\n\r\nhi"))
	require.NoError(t, err)
	require.True(t, done)
	require.Equal(t, []byte("hi"), req.Body)
}

func TestNoBodyWhenContentLengthAbsent(t *testing.T) {
	p := New()
	req, done, err := p.Feed([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))
	require.NoError(t, err)
	require.True(t, done)
	require.Nil(t, req.Body)
}

func TestRejectsUnsupportedMethod(t *testing.T) {
	p := New()
	_, _, err := p.Feed([]byte("DELETE /x HTTP/1.1\r\n"))
	require.Error(t, err)

	var oerr *onviferr.Error
	require.ErrorAs(t, err, &oerr)
	require.Equal(t, onviferr.KindUnsupported, oerr.Kind)
}

func TestRejectsOversizeContentLength(t *testing.T) {
	p := New()
	_, _, err := p.Feed([]byte("POST /x HTTP/1.1\r\nContent-Length: 999999\r\n\r\n"))
	require.Error(t, err)

	var oerr *onviferr.Error
	require.ErrorAs(t, err, &oerr)
	require.Equal(t, onviferr.KindInvalid, oerr.Kind)
}

func TestAcceptsExactlyMaxContentLength(t *testing.T) {
	p := New()
	body := strings.Repeat("a", MaxContentLength)
	raw := "POST /x HTTP/1.1\r\nContent-Length: " + itoa(MaxContentLength) + "\r\n\r\n" + body

	req, done, err := p.Feed([]byte(raw))
	require.NoError(t, err)
	require.True(t, done)
	require.Len(t, req.Body, MaxContentLength)
}

func TestRejectsInvalidHeaderNameByte(t *testing.T) {
	p := New()
	_, _, err := p.Feed([]byte("POST /x HTTP/1.1\r\nBad Name: v\r\n\r\n"))
	require.Error(t, err)
}

func TestRejectsOversizeMethod(t *testing.T) {
	p := New()
	_, _, err := p.Feed([]byte(strings.Repeat("A", 20) + " /x HTTP/1.1\r\n"))
	require.Error(t, err)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	return string(b)
}
