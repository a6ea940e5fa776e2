package dispatch

import (
	"fmt"
	"strconv"
	"strings"
)

// sipURI is the minimal decomposition of a SIP URI the dispatcher needs:
// enough to drive resolution. Full SIP URI parsing (escaping, user
// parameters, headers) is an out-of-scope collaborator; this only covers
// the host/port/params the resolution path reads.
type sipURI struct {
	Scheme string
	Host   string
	Port   uint16 // 0 if absent
	Params map[string]string
}

// parseSIPURI parses "sip:" and "sips:" URIs of the form
// sip:[user@]host[:port][;param=value]*[?headers]. SIP URIs are opaque
// (no "//" authority marker), so net/url cannot be used directly.
func parseSIPURI(raw string) (*sipURI, error) {
	scheme, rest, ok := strings.Cut(raw, ":")
	if !ok {
		return nil, fmt.Errorf("missing scheme in uri %q", raw)
	}
	scheme = strings.ToLower(scheme)
	if scheme != "sip" && scheme != "sips" {
		return nil, fmt.Errorf("unsupported uri scheme %q", scheme)
	}

	if hdr := strings.IndexByte(rest, '?'); hdr >= 0 {
		rest = rest[:hdr]
	}

	parts := strings.Split(rest, ";")
	hostport := parts[0]
	if at := strings.LastIndexByte(hostport, '@'); at >= 0 {
		hostport = hostport[at+1:]
	}

	host := hostport
	var port uint16
	if strings.HasPrefix(hostport, "[") {
		// IPv6 reference: [::1]:5060
		end := strings.IndexByte(hostport, ']')
		if end < 0 {
			return nil, fmt.Errorf("unterminated ipv6 reference in uri %q", raw)
		}
		host = hostport[1:end]
		if rem := hostport[end+1:]; strings.HasPrefix(rem, ":") {
			n, err := strconv.Atoi(rem[1:])
			if err != nil || n <= 0 || n > 65535 {
				return nil, fmt.Errorf("invalid port in uri %q", raw)
			}
			port = uint16(n)
		}
	} else if colon := strings.LastIndexByte(hostport, ':'); colon >= 0 {
		host = hostport[:colon]
		n, err := strconv.Atoi(hostport[colon+1:])
		if err != nil || n <= 0 || n > 65535 {
			return nil, fmt.Errorf("invalid port in uri %q", raw)
		}
		port = uint16(n)
	}
	if host == "" {
		return nil, fmt.Errorf("missing host in uri %q", raw)
	}

	params := make(map[string]string, len(parts)-1)
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		if k, v, ok := strings.Cut(p, "="); ok {
			params[strings.ToLower(k)] = v
		} else {
			params[strings.ToLower(p)] = ""
		}
	}

	return &sipURI{Scheme: scheme, Host: host, Port: port, Params: params}, nil
}
