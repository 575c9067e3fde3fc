// Package wsdiscovery implements the WS-Discovery responder (L4): a single
// long-lived task bound to UDP 3702, joined to the multicast group
// 239.255.255.250, that answers Probe messages and periodically
// rebroadcasts Hello.
package wsdiscovery

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/ipv4"

	"github.com/ocamdaemon/onvifd/internal/logger"
)

const (
	multicastAddr = "239.255.255.250:3702"
	// HelloInterval is how often the responder rebroadcasts Hello while
	// running.
	HelloInterval = 300 * time.Second
	// retryDelay is how long the responder waits before retrying after a
	// socket error; it never crashes the daemon on a transient failure.
	retryDelay = 5 * time.Second
)

// EndpointIdentity is the stable identity the responder advertises. The
// UUID is derived once at construction and never changes for the
// daemon's lifetime, even if DeviceIP/HTTPPort are updated later.
type EndpointIdentity struct {
	UUID     string
	DeviceIP string
	HTTPPort int
	Name     string
	Location string
}

// XAddr is the transport address clients should use to reach the Device
// service.
func (e EndpointIdentity) XAddr() string {
	return fmt.Sprintf("http://%s:%d/onvif/device_service", e.DeviceIP, e.HTTPPort)
}

// NewEndpointIdentity derives a stable urn:uuid: from a hostname seed.
func NewEndpointIdentity(deviceIP string, httpPort int, name, location string) EndpointIdentity {
	seed := uuid.NewSHA1(uuid.NameSpaceDNS, []byte(hostnameSeed()))
	return EndpointIdentity{
		UUID:     seed.String(),
		DeviceIP: deviceIP,
		HTTPPort: httpPort,
		Name:     name,
		Location: location,
	}
}

func hostnameSeed() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "onvifd-endpoint"
	}
	return h
}

// Responder is the WS-Discovery UDP task.
type Responder struct {
	log      logger.Writer
	identity func() EndpointIdentity
}

// New returns a Responder that looks up the current identity via identityFn
// on every message it sends — the UUID is fixed, but XAddr and scopes can
// reflect live config.
func New(log logger.Writer, identityFn func() EndpointIdentity) *Responder {
	return &Responder{log: log, identity: identityFn}
}

// Run joins the multicast group and serves until ctx is cancelled. It sends
// Hello on entry and Bye on exit, and replies to Probe with ProbeMatch. A
// socket error is logged and retried after retryDelay; Run only returns
// when ctx is done.
func (r *Responder) Run(ctx context.Context) error {
	for {
		err := r.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			r.log.Log(logger.Warn, "wsdiscovery: %s, retrying in %s", err, retryDelay)
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (r *Responder) runOnce(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp4", multicastAddr)
	if err != nil {
		return err
	}

	conn, err := net.ListenPacket("udp4", ":3702")
	if err != nil {
		return err
	}
	defer conn.Close()

	pconn := ipv4.NewPacketConn(conn)
	joined := r.joinAllInterfaces(pconn, addr)
	if !joined {
		r.log.Log(logger.Warn, "wsdiscovery: multicast join failed on every interface, unicast Probe replies only")
	}

	r.sendHello(conn, addr)
	defer r.sendBye(conn, addr)

	helloTicker := time.NewTicker(HelloInterval)
	defer helloTicker.Stop()

	buf := make([]byte, 8192)
	errCh := make(chan error, 1)
	msgCh := make(chan probeMsg, 8)

	go r.readLoop(conn, buf, msgCh, errCh)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			return err
		case <-helloTicker.C:
			r.sendHello(conn, addr)
		case m := <-msgCh:
			if m.isProbe {
				r.sendProbeMatch(conn, m.from)
			}
		}
	}
}

type probeMsg struct {
	from    net.Addr
	isProbe bool
}

func (r *Responder) readLoop(conn net.PacketConn, buf []byte, msgCh chan<- probeMsg, errCh chan<- error) {
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			errCh <- err
			return
		}
		msgCh <- probeMsg{from: from, isProbe: looksLikeProbe(buf[:n])}
	}
}

func looksLikeProbe(b []byte) bool {
	return bytes.Contains(b, []byte("Probe"))
}

func (r *Responder) joinAllInterfaces(pconn *ipv4.PacketConn, addr *net.UDPAddr) bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}

	joined := false
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		if err := pconn.JoinGroup(&iface, addr); err == nil {
			joined = true
		}
	}
	return joined
}

func (r *Responder) sendHello(conn net.PacketConn, addr *net.UDPAddr) {
	id := r.identity()
	msg := helloTemplate(id, uuid.NewString())
	r.send(conn, addr, msg)
}

func (r *Responder) sendBye(conn net.PacketConn, addr *net.UDPAddr) {
	id := r.identity()
	msg := byeTemplate(id, uuid.NewString())
	r.send(conn, addr, msg)
}

func (r *Responder) sendProbeMatch(conn net.PacketConn, to net.Addr) {
	id := r.identity()
	msg := probeMatchTemplate(id, uuid.NewString())
	if _, err := conn.WriteTo([]byte(msg), to); err != nil {
		r.log.Log(logger.Warn, "wsdiscovery: probe match write failed: %s", err)
	}
}

func (r *Responder) send(conn net.PacketConn, addr *net.UDPAddr, msg string) {
	if _, err := conn.WriteTo([]byte(msg), addr); err != nil {
		r.log.Log(logger.Warn, "wsdiscovery: multicast write failed: %s", err)
	}
}

func scopeList(id EndpointIdentity) string {
	return strings.Join([]string{
		"onvif://www.onvif.org/type/video_encoder",
		"onvif://www.onvif.org/name/" + id.Name,
		"onvif://www.onvif.org/location/" + id.Location,
	}, " ")
}

const helloTmpl = `<?xml version="1.0" encoding="UTF-8"?>
<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope"
    xmlns:wsa="http://schemas.xmlsoap.org/ws/2004/08/addressing"
    xmlns:wsd="http://schemas.xmlsoap.org/ws/2005/04/discovery">
<soap:Header>
<wsa:MessageID>urn:uuid:%s</wsa:MessageID>
<wsa:To>urn:schemas-xmlsoap-org:ws:2005:04:discovery</wsa:To>
<wsa:Action>http://schemas.xmlsoap.org/ws/2005/04/discovery/Hello</wsa:Action>
</soap:Header>
<soap:Body>
<wsd:Hello>
<wsa:EndpointReference><wsa:Address>urn:uuid:%s</wsa:Address></wsa:EndpointReference>
<wsd:Scopes>%s</wsd:Scopes>
<wsd:XAddrs>%s</wsd:XAddrs>
</wsd:Hello>
</soap:Body>
</soap:Envelope>`

const byeTmpl = `<?xml version="1.0" encoding="UTF-8"?>
<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope"
    xmlns:wsa="http://schemas.xmlsoap.org/ws/2004/08/addressing"
    xmlns:wsd="http://schemas.xmlsoap.org/ws/2005/04/discovery">
<soap:Header>
<wsa:MessageID>urn:uuid:%s</wsa:MessageID>
<wsa:To>urn:schemas-xmlsoap-org:ws:2005:04:discovery</wsa:To>
<wsa:Action>http://schemas.xmlsoap.org/ws/2005/04/discovery/Bye</wsa:Action>
</soap:Header>
<soap:Body>
<wsd:Bye>
<wsa:EndpointReference><wsa:Address>urn:uuid:%s</wsa:Address></wsa:EndpointReference>
</wsd:Bye>
</soap:Body>
</soap:Envelope>`

const probeMatchTmpl = `<?xml version="1.0" encoding="UTF-8"?>
<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope"
    xmlns:wsa="http://schemas.xmlsoap.org/ws/2004/08/addressing"
    xmlns:wsd="http://schemas.xmlsoap.org/ws/2005/04/discovery">
<soap:Header>
<wsa:MessageID>urn:uuid:%s</wsa:MessageID>
<wsa:To>http://schemas.xmlsoap.org/ws/2004/08/addressing/role/anonymous</wsa:To>
<wsa:Action>http://schemas.xmlsoap.org/ws/2005/04/discovery/ProbeMatches</wsa:Action>
</soap:Header>
<soap:Body>
<wsd:ProbeMatches>
<wsd:ProbeMatch>
<wsa:EndpointReference><wsa:Address>urn:uuid:%s</wsa:Address></wsa:EndpointReference>
<wsd:Scopes>%s</wsd:Scopes>
<wsd:XAddrs>%s</wsd:XAddrs>
</wsd:ProbeMatch>
</wsd:ProbeMatches>
</soap:Body>
</soap:Envelope>`

func helloTemplate(id EndpointIdentity, messageID string) string {
	return fmt.Sprintf(helloTmpl, messageID, id.UUID, scopeList(id), id.XAddr())
}

func byeTemplate(id EndpointIdentity, messageID string) string {
	return fmt.Sprintf(byeTmpl, messageID, id.UUID)
}

func probeMatchTemplate(id EndpointIdentity, messageID string) string {
	return fmt.Sprintf(probeMatchTmpl, messageID, id.UUID, scopeList(id), id.XAddr())
}
