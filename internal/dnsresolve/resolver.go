// Package dnsresolve implements the dispatch.DNSResolver collaborator over
// github.com/miekg/dns: asynchronous NAPTR/SRV/A/AAAA queries with
// additional-section glue harvesting, failover across configured
// nameservers, and a small TTL cache keyed per query type and name.
//
// Queries run on their own goroutine and never touch dispatcher state
// directly — every callback is handed raw to the caller, which (per
// dispatch.DNSResolver's contract) marshals it back onto the Stack's event
// loop before acting on it.
package dnsresolve

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/jroosing/sipdispatch/internal/config"
	"github.com/jroosing/sipdispatch/internal/dispatch"
	"github.com/jroosing/sipdispatch/internal/helpers"
)

// Config configures a Resolver.
type Config struct {
	Nameservers     []string // "ip:port" or bare ip (port 53 assumed); empty means read /etc/resolv.conf
	QueryTimeout    time.Duration
	UDPSize         uint16
	CacheMaxEntries int
}

// FromConfig builds a dnsresolve.Config from the dispatcher's resolver
// configuration section, applying the same defaults loadFromSource does.
func FromConfig(rc config.ResolverConfig) Config {
	timeout := 5 * time.Second
	if rc.QueryTimeout != "" {
		if d, err := time.ParseDuration(rc.QueryTimeout); err == nil && d > 0 {
			timeout = d
		}
	}
	udpSize := uint16(dns.DefaultMsgSize)
	if rc.UDPSize > 0 {
		udpSize = helpers.ClampIntToUint16(rc.UDPSize)
	}
	return Config{
		Nameservers:     rc.Nameservers,
		QueryTimeout:    timeout,
		UDPSize:         udpSize,
		CacheMaxEntries: 4096,
	}
}

// Resolver implements dispatch.DNSResolver.
type Resolver struct {
	servers   []string
	udpClient *dns.Client
	tcpClient *dns.Client
	cache     *ttlCache[string, answer]
}

type answer struct {
	rrs   []dns.RR
	extra []dns.RR
}

// New constructs a Resolver. If cfg.Nameservers is empty, the system
// resolver configuration (/etc/resolv.conf) is used, mirroring
// levenlabs-go-srvclient's fallback behavior.
func New(cfg Config) (*Resolver, error) {
	servers := cfg.Nameservers
	if len(servers) == 0 {
		sys, err := systemNameservers()
		if err != nil {
			return nil, fmt.Errorf("dnsresolve: %w", err)
		}
		servers = sys
	}
	servers = withPort(servers)

	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	udpSize := cfg.UDPSize
	if udpSize == 0 {
		udpSize = dns.DefaultMsgSize
	}
	maxEntries := cfg.CacheMaxEntries
	if maxEntries <= 0 {
		maxEntries = 4096
	}

	return &Resolver{
		servers:   servers,
		udpClient: &dns.Client{Net: "udp", Timeout: timeout, UDPSize: udpSize},
		tcpClient: &dns.Client{Net: "tcp", Timeout: timeout},
		cache:     newTTLCache[string, answer](maxEntries),
	}, nil
}

func systemNameservers() ([]string, error) {
	cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil {
		return nil, err
	}
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no nameservers found in /etc/resolv.conf")
	}
	return cfg.Servers, nil
}

func withPort(servers []string) []string {
	out := make([]string, len(servers))
	for i, s := range servers {
		if strings.Contains(s, ":") {
			out[i] = s
		} else {
			out[i] = s + ":53"
		}
	}
	return out
}

// lookup issues qtype for name, trying each configured nameserver in order
// and falling back to TCP on a truncated UDP reply, the way
// levenlabs-go-srvclient's innerLookupSRV does.
func (r *Resolver) lookup(name string, qtype uint16) ([]dns.RR, []dns.RR, error) {
	fqdn := dns.Fqdn(name)
	key := fmt.Sprintf("%d:%s", qtype, fqdn)

	if a, ok := r.cache.get(key); ok {
		return a.rrs, a.extra, nil
	}

	m := new(dns.Msg)
	m.SetQuestion(fqdn, qtype)
	m.SetEdns0(r.udpClient.UDPSize, false)

	var lastErr error
	for _, server := range r.servers {
		res, _, err := r.udpClient.Exchange(m, server)
		if err != nil || res == nil {
			lastErr = err
			continue
		}
		if res.Truncated {
			res, _, err = r.tcpClient.Exchange(m, server)
			if err != nil || res == nil {
				lastErr = err
				continue
			}
		}
		if res.Rcode != dns.RcodeSuccess {
			lastErr = fmt.Errorf("dnsresolve: %s %s: %s", fqdn, dns.TypeToString[qtype], dns.RcodeToString[res.Rcode])
			continue
		}

		r.cache.set(key, answer{rrs: res.Answer, extra: res.Extra}, minTTL(res.Answer))
		return res.Answer, res.Extra, nil
	}
	if lastErr == nil {
		lastErr = errors.New("dnsresolve: no nameservers configured")
	}
	return nil, nil, lastErr
}

func minTTL(rrs []dns.RR) time.Duration {
	if len(rrs) == 0 {
		return 30 * time.Second
	}
	min := rrs[0].Header().Ttl
	for _, rr := range rrs[1:] {
		if rr.Header().Ttl < min {
			min = rr.Header().Ttl
		}
	}
	if min == 0 {
		min = 1
	}
	return time.Duration(min) * time.Second
}

// harvestGlue extracts A/AAAA/SRV records from a response's additional
// section into CacheRecords, the way replaceSRVTarget in
// levenlabs-go-srvclient/srvclient.go pulls glue out of m.Extra instead of
// issuing a second round-trip. A NAPTR reply's additional section commonly
// carries the SRV record its replacement points at, keyed by owner name, so
// QueryNAPTR's caller can skip the extra SRV round-trip entirely.
func harvestGlue(extra []dns.RR) []dispatch.CacheRecord {
	var out []dispatch.CacheRecord
	for _, rr := range extra {
		switch v := rr.(type) {
		case *dns.A:
			out = append(out, dispatch.CacheRecord{
				Kind: dispatch.KindA,
				Name: strings.TrimSuffix(v.Hdr.Name, "."),
				IP:   v.A,
			})
		case *dns.AAAA:
			out = append(out, dispatch.CacheRecord{
				Kind: dispatch.KindAAAA,
				Name: strings.TrimSuffix(v.Hdr.Name, "."),
				IP:   v.AAAA,
			})
		case *dns.SRV:
			out = append(out, dispatch.CacheRecord{
				Kind:      dispatch.KindSRV,
				Name:      strings.TrimSuffix(v.Hdr.Name, "."),
				SRVTarget: strings.TrimSuffix(v.Target, "."),
				Port:      v.Port,
				Priority:  v.Priority,
				Weight:    v.Weight,
			})
		}
	}
	return out
}

// QueryNAPTR implements dispatch.DNSResolver.
func (r *Resolver) QueryNAPTR(name string, cb func([]dispatch.NAPTRRecord, []dispatch.CacheRecord, error)) {
	go func() {
		rrs, extra, err := r.lookup(name, dns.TypeNAPTR)
		if err != nil {
			cb(nil, nil, err)
			return
		}
		recs := make([]dispatch.NAPTRRecord, 0, len(rrs))
		for _, rr := range rrs {
			n, ok := rr.(*dns.NAPTR)
			if !ok {
				continue
			}
			recs = append(recs, dispatch.NAPTRRecord{
				Order:       n.Order,
				Preference:  n.Preference,
				Services:    n.Service,
				Replacement: strings.TrimSuffix(n.Replacement, "."),
			})
		}
		cb(recs, harvestGlue(extra), nil)
	}()
}

// QuerySRV implements dispatch.DNSResolver.
func (r *Resolver) QuerySRV(name string, cb func([]dispatch.SRVRecord, []dispatch.CacheRecord, error)) {
	go func() {
		rrs, extra, err := r.lookup(name, dns.TypeSRV)
		if err != nil {
			cb(nil, nil, err)
			return
		}
		recs := make([]dispatch.SRVRecord, 0, len(rrs))
		for _, rr := range rrs {
			s, ok := rr.(*dns.SRV)
			if !ok {
				continue
			}
			recs = append(recs, dispatch.SRVRecord{
				Target:   strings.TrimSuffix(s.Target, "."),
				Port:     s.Port,
				Priority: s.Priority,
				Weight:   s.Weight,
			})
		}
		cb(recs, harvestGlue(extra), nil)
	}()
}

// QueryA implements dispatch.DNSResolver.
func (r *Resolver) QueryA(name string, cb func([]dispatch.AddrRecord, error)) {
	go func() {
		rrs, _, err := r.lookup(name, dns.TypeA)
		if err != nil {
			cb(nil, err)
			return
		}
		recs := make([]dispatch.AddrRecord, 0, len(rrs))
		for _, rr := range rrs {
			a, ok := rr.(*dns.A)
			if !ok {
				continue
			}
			recs = append(recs, dispatch.AddrRecord{Kind: dispatch.KindA, IP: a.A, Owner: name})
		}
		cb(recs, nil)
	}()
}

// QueryAAAA implements dispatch.DNSResolver.
func (r *Resolver) QueryAAAA(name string, cb func([]dispatch.AddrRecord, error)) {
	go func() {
		rrs, _, err := r.lookup(name, dns.TypeAAAA)
		if err != nil {
			cb(nil, err)
			return
		}
		recs := make([]dispatch.AddrRecord, 0, len(rrs))
		for _, rr := range rrs {
			a, ok := rr.(*dns.AAAA)
			if !ok {
				continue
			}
			recs = append(recs, dispatch.AddrRecord{Kind: dispatch.KindAAAA, IP: a.AAAA, Owner: name})
		}
		cb(recs, nil)
	}()
}
