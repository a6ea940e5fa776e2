// Package transport implements the dispatch.TransportProvider collaborator:
// local-address selection and connectionless send for UDP, TCP, and TLS via
// the standard library, and WS/WSS via nhooyr.io/websocket. It also exposes
// OpenStatefulChannel, used by internal/ctrans to open the long-lived
// connection a stateful transaction writes retransmissions over.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"nhooyr.io/websocket"

	"github.com/jroosing/sipdispatch/internal/config"
	"github.com/jroosing/sipdispatch/internal/dispatch"
	"github.com/jroosing/sipdispatch/internal/helpers"
)

// entry describes one transport's capability and DNS identity, mirroring
// config.TransportConfig but keyed by the dispatch.Transport enum.
type entry struct {
	enabled     bool
	defaultPort uint16
	srvid       string
	ipv4, ipv6  bool
}

// Provider implements dispatch.TransportProvider over real sockets.
type Provider struct {
	table      map[dispatch.Transport]entry
	dialTimeout time.Duration
	tlsConfig  *tls.Config
}

// New builds a Provider from the configured transport table. Transports
// absent from cfg are left disabled (Supported returns false, false).
func New(cfg []config.TransportConfig, dialTimeout time.Duration, tlsConfig *tls.Config) *Provider {
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	table := map[dispatch.Transport]entry{}
	for _, tc := range cfg {
		tp := decodeConfigName(tc.Name)
		if tp == dispatch.TransportNone {
			continue
		}
		srvid := tc.SRVID
		if srvid == "???" {
			srvid = ""
		}
		table[tp] = entry{
			enabled:     tc.Enabled,
			defaultPort: helpers.ClampIntToUint16(tc.DefaultPort),
			srvid:       srvid,
			ipv4:        tc.IPv4,
			ipv6:        tc.IPv6,
		}
	}
	return &Provider{table: table, dialTimeout: dialTimeout, tlsConfig: tlsConfig}
}

func decodeConfigName(name string) dispatch.Transport {
	switch name {
	case "udp":
		return dispatch.TransportUDP
	case "tcp":
		return dispatch.TransportTCP
	case "tls":
		return dispatch.TransportTLS
	case "ws":
		return dispatch.TransportWS
	case "wss":
		return dispatch.TransportWSS
	default:
		return dispatch.TransportNone
	}
}

// Supported implements dispatch.TransportProvider.
func (p *Provider) Supported(tp dispatch.Transport) (ipv4, ipv6 bool) {
	e, ok := p.table[tp]
	if !ok || !e.enabled {
		return false, false
	}
	return e.ipv4, e.ipv6
}

// DefaultPort implements dispatch.TransportProvider.
func (p *Provider) DefaultPort(tp dispatch.Transport) uint16 {
	if e, ok := p.table[tp]; ok && e.defaultPort != 0 {
		return e.defaultPort
	}
	switch tp {
	case dispatch.TransportUDP, dispatch.TransportTCP:
		return 5060
	case dispatch.TransportTLS:
		return 5061
	case dispatch.TransportWS:
		return 80
	case dispatch.TransportWSS:
		return 443
	default:
		return 5060
	}
}

// SRVID implements dispatch.TransportProvider.
func (p *Provider) SRVID(tp dispatch.Transport) string {
	return p.table[tp].srvid
}

// LocalAddressFor implements dispatch.TransportProvider. It determines the
// local address the kernel would route a packet to dst from, without
// sending anything: dialing UDP never issues a wire write, so this is safe
// to call from the dispatcher's event loop.
func (p *Provider) LocalAddressFor(tp dispatch.Transport, dst net.Addr) (net.Addr, error) {
	conn, err := net.Dial("udp", dst.String())
	if err != nil {
		return nil, fmt.Errorf("transport: local address for %s: %w", dst, err)
	}
	defer conn.Close()
	return conn.LocalAddr(), nil
}

// SendConnectionless implements dispatch.TransportProvider: a fire-and-
// forget send of msg to dst over tp, used for non-stateful Requests.
func (p *Provider) SendConnectionless(tp dispatch.Transport, laddr, dst net.Addr, msg []byte) error {
	switch tp {
	case dispatch.TransportUDP:
		return p.sendUDP(dst, msg)
	case dispatch.TransportTCP:
		return p.sendStream("tcp", dst, msg, nil)
	case dispatch.TransportTLS:
		return p.sendStream("tcp", dst, msg, p.tlsConfig)
	case dispatch.TransportWS:
		return p.sendWS(dst, msg, false)
	case dispatch.TransportWSS:
		return p.sendWS(dst, msg, true)
	default:
		return fmt.Errorf("transport: %w: %s", dispatch.ErrUnsupportedProtocol, tp)
	}
}

func (p *Provider) sendUDP(dst net.Addr, msg []byte) error {
	conn, err := net.DialTimeout("udp", dst.String(), p.dialTimeout)
	if err != nil {
		return fmt.Errorf("transport: udp send to %s: %w", dst, err)
	}
	defer conn.Close()
	_ = conn.SetWriteDeadline(time.Now().Add(p.dialTimeout))
	_, err = conn.Write(msg)
	return err
}

func (p *Provider) sendStream(network string, dst net.Addr, msg []byte, tlsCfg *tls.Config) error {
	d := net.Dialer{Timeout: p.dialTimeout}
	var conn net.Conn
	var err error
	if tlsCfg != nil {
		conn, err = tls.DialWithDialer(&d, network, dst.String(), tlsCfg)
	} else {
		conn, err = d.Dial(network, dst.String())
	}
	if err != nil {
		return fmt.Errorf("transport: %s send to %s: %w", network, dst, err)
	}
	defer conn.Close()
	_ = conn.SetWriteDeadline(time.Now().Add(p.dialTimeout))
	_, err = conn.Write(msg)
	return err
}

func (p *Provider) sendWS(dst net.Addr, msg []byte, secure bool) error {
	scheme := "ws"
	if secure {
		scheme = "wss"
	}
	url := fmt.Sprintf("%s://%s/", scheme, dst.String())

	ctx, cancel := context.WithTimeout(context.Background(), p.dialTimeout)
	defer cancel()

	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("transport: ws dial %s: %w", url, err)
	}
	defer c.CloseNow()

	if err := c.Write(ctx, websocket.MessageText, msg); err != nil {
		return fmt.Errorf("transport: ws write to %s: %w", url, err)
	}
	return c.Close(websocket.StatusNormalClosure, "")
}

// OpenStatefulChannel dials a long-lived connection for tp, used by
// internal/ctrans to write a request and its retransmissions over TCP or
// TLS. UDP has no connection to open and returns an error here; ctrans uses
// OpenUDPChannel for stateful UDP transactions.
func (p *Provider) OpenStatefulChannel(tp dispatch.Transport, dst net.Addr) (net.Conn, error) {
	switch tp {
	case dispatch.TransportTCP:
		return net.DialTimeout("tcp", dst.String(), p.dialTimeout)
	case dispatch.TransportTLS:
		d := net.Dialer{Timeout: p.dialTimeout}
		return tls.DialWithDialer(&d, "tcp", dst.String(), p.tlsConfig)
	default:
		return nil, fmt.Errorf("transport: %w: no stateful channel for %s", dispatch.ErrUnsupportedProtocol, tp)
	}
}

// OpenUDPChannel opens an ephemeral local UDP socket for a stateful
// transaction. RFC 3261 requires retransmissions and the response they
// solicit to share a local port, so internal/ctrans keeps this socket open
// for a transaction's lifetime rather than using SendConnectionless (which
// dials a fresh, unlistened socket per call).
func (p *Provider) OpenUDPChannel() (net.PacketConn, error) {
	return net.ListenPacket("udp", ":0")
}
