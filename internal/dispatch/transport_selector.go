package dispatch

import "strings"

// transportOrder is the fixed ascending preference order used by
// firstSupported and nextSupported.
var transportOrder = []Transport{TransportUDP, TransportTCP, TransportTLS, TransportWS, TransportWSS}

// naptrServiceTransport maps an RFC 3263 NAPTR "services" field to the
// transport it selects.
var naptrServiceTransport = map[string]Transport{
	"SIP+D2U":  TransportUDP,
	"SIP+D2T":  TransportTCP,
	"SIPS+D2T": TransportTLS,
	"SIP+D2W":  TransportWS,
	"SIPS+D2W": TransportWSS,
}

// firstSupported returns the stack's default transport if supported,
// otherwise the lowest-indexed supported transport in the fixed
// UDP < TCP < TLS < WS < WSS order.
func firstSupported(tr TransportProvider, preferred Transport) (Transport, bool) {
	if preferred != TransportNone && isSupported(tr, preferred) {
		return preferred, true
	}
	for _, tp := range transportOrder {
		if isSupported(tr, tp) {
			return tp, true
		}
	}
	return TransportNone, false
}

// nextSupported returns the next strictly-higher-index supported transport,
// in any address family.
func nextSupported(tr TransportProvider, current Transport) (Transport, bool) {
	for _, tp := range transportOrder {
		if tp <= current {
			continue
		}
		if isSupported(tr, tp) {
			return tp, true
		}
	}
	return TransportNone, false
}

// nextSRVCandidate returns the next strictly-lower-index transport that has
// a registered SRV service identifier, walking downward from current
// (TransportWSS+1 as sentinel TOP to start the walk from the top).
func nextSRVCandidate(tr TransportProvider, current Transport) (Transport, bool) {
	for i := len(transportOrder) - 1; i >= 0; i-- {
		tp := transportOrder[i]
		if tp >= current {
			continue
		}
		if tr.SRVID(tp) == "" {
			continue
		}
		if !isSupported(tr, tp) {
			continue
		}
		return tp, true
	}
	return TransportNone, false
}

func isSupported(tr TransportProvider, tp Transport) bool {
	ipv4, ipv6 := tr.Supported(tp)
	return ipv4 || ipv6
}

// decodeTransportParam maps a URI transport= parameter value to a Transport.
// Matching is case-insensitive; an unrecognized value yields TransportNone.
func decodeTransportParam(param string) Transport {
	switch strings.ToLower(param) {
	case "udp":
		return TransportUDP
	case "tcp":
		return TransportTCP
	case "tls":
		return TransportTLS
	case "ws":
		return TransportWS
	case "wss":
		return TransportWSS
	default:
		return TransportNone
	}
}
