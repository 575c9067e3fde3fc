// Package streamfacade defines the Streaming Facade (spec §6.3): the
// boundary between the Media service and the RTSP/RTP streaming engine.
// The core never manages RTP sessions directly; it only asks the Facade
// for a URI.
package streamfacade

import (
	"fmt"
	"sync"
)

// Protocol is a transport the Media service can request a stream URI for.
type Protocol string

// Protocols GetStreamUri supports.
const (
	ProtocolRTSP Protocol = "RTSP"
)

// Facade is every operation the Media service requires of the streaming
// engine.
type Facade interface {
	// BuildStreamURI returns the RTSP URI for profileToken over protocol.
	BuildStreamURI(profileToken string, protocol Protocol) (string, error)
	// BuildSnapshotURI returns the HTTP snapshot URI for profileToken.
	BuildSnapshotURI(profileToken string) (string, error)
	// InvalidateCache drops any cached URI for profileToken, called on
	// profile mutation (rename, encoder reconfiguration, deletion).
	InvalidateCache(profileToken string)
}

// cacheKey is (profile_token, protocol) per the caching rule in spec §4.4.
type cacheKey struct {
	token    string
	protocol Protocol
}

// URIBuilder is the in-process Facade implementation: it derives
// deterministic RTSP/HTTP URIs from the device's advertised IP and port,
// caching per (profile_token, protocol) until InvalidateCache is called.
type URIBuilder struct {
	deviceIP string
	rtspPort int
	httpPort int

	mutex sync.Mutex
	cache map[cacheKey]string

	Hits   int
	Misses int
}

// NewURIBuilder returns a Facade that builds URIs against deviceIP.
func NewURIBuilder(deviceIP string, rtspPort, httpPort int) *URIBuilder {
	return &URIBuilder{
		deviceIP: deviceIP,
		rtspPort: rtspPort,
		httpPort: httpPort,
		cache:    make(map[cacheKey]string),
	}
}

// BuildStreamURI returns the cached URI for (profileToken, protocol) if
// present, else builds, caches, and returns one.
func (b *URIBuilder) BuildStreamURI(profileToken string, protocol Protocol) (string, error) {
	key := cacheKey{token: profileToken, protocol: protocol}

	b.mutex.Lock()
	defer b.mutex.Unlock()

	if uri, ok := b.cache[key]; ok {
		b.Hits++
		return uri, nil
	}

	b.Misses++
	uri := fmt.Sprintf("rtsp://%s:%d/%s", b.deviceIP, b.rtspPort, profileToken)
	b.cache[key] = uri
	return uri, nil
}

// BuildSnapshotURI returns the HTTP snapshot URI for profileToken. Snapshots
// are not cached; each call reflects the current frame.
func (b *URIBuilder) BuildSnapshotURI(profileToken string) (string, error) {
	return fmt.Sprintf("http://%s:%d/onvif/snapshot/%s", b.deviceIP, b.httpPort, profileToken), nil
}

// InvalidateCache drops every cached URI for profileToken, across all
// protocols.
func (b *URIBuilder) InvalidateCache(profileToken string) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	for k := range b.cache {
		if k.token == profileToken {
			delete(b.cache, k)
		}
	}
}
