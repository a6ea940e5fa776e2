package dispatch

import (
	"fmt"
	"net"
)

// transportTop is the sentinel "above WSS" starting point for walking
// nextSRVCandidate downward from the most-secure transport.
const transportTop = TransportWSS + 1

// resolve selects exactly one of the four entry conditions in §4.B and
// begins the corresponding query chain, or jumps straight to the Attempt
// Driver for a literal-IP host.
func (s *Stack) resolve(r *Request, explicitPort uint16) {
	if ip := net.ParseIP(r.Host); ip != nil {
		port := explicitPort
		if port == 0 {
			port = s.transport.DefaultPort(r.Transport)
		}
		r.Port = port
		kind := KindA
		if ip.To4() == nil {
			kind = KindAAAA
		}
		s.doAttempt(r, AddrRecord{Kind: kind, IP: ip, Owner: r.Host})
		return
	}

	if explicitPort != 0 {
		r.Port = explicitPort
		s.issueAddressQueries(r, r.Host)
		return
	}

	if r.TransportPinned {
		s.issueSRVQuery(r, r.stack.srvName(r.Transport, r.Host))
		return
	}

	s.issueNAPTRQuery(r, r.Host)
}

func (s *Stack) srvName(tp Transport, host string) string {
	return s.transport.SRVID(tp) + "." + host
}

func (s *Stack) issueNAPTRQuery(r *Request, name string) {
	r.InFlightDNS++
	s.resolver.QueryNAPTR(name, func(answers []NAPTRRecord, additional []CacheRecord, err error) {
		s.enqueue(func() {
			r.InFlightDNS--
			s.onNAPTR(r, answers, additional, err)
		})
	})
}

func (s *Stack) onNAPTR(r *Request, answers []NAPTRRecord, additional []CacheRecord, err error) {
	if r.Canceled {
		return
	}
	if err == nil && len(answers) > 0 {
		sortNAPTR(answers, r.SortKey)
		for _, rec := range answers {
			tp, ok := naptrServiceTransport[rec.Services]
			if !ok || !isSupported(s.transport, tp) {
				continue
			}
			r.Transport = tp
			r.TransportPinned = true
			s.harvestCache(r, additional)

			harvested := s.harvestSRVFromCache(r, rec.Replacement)
			if len(harvested) > 0 {
				r.SRVQueue = append(r.SRVQueue, harvested...)
				sortSRV(r.SRVQueue, r.SortKey)
				s.nextAttempt(r)
				return
			}
			s.issueSRVQuery(r, rec.Replacement)
			return
		}
	}

	// No NAPTR match: step backward through SRV-capable transports.
	tp, ok := nextSRVCandidate(s.transport, transportTop)
	if !ok {
		s.terminate(r, fmt.Errorf("%w: no SRV-capable transport", ErrUnsupportedProtocol), 0, nil)
		return
	}
	r.Transport = tp
	s.issueSRVQuery(r, r.Host)
}

func (s *Stack) issueSRVQuery(r *Request, name string) {
	r.InFlightDNS++
	s.resolver.QuerySRV(name, func(answers []SRVRecord, additional []CacheRecord, err error) {
		s.enqueue(func() {
			r.InFlightDNS--
			s.onSRV(r, answers, additional, err)
		})
	})
}

func (s *Stack) onSRV(r *Request, answers []SRVRecord, additional []CacheRecord, err error) {
	if r.Canceled {
		return
	}

	if err == nil {
		r.SRVQueue = append(r.SRVQueue, answers...)
	}

	if len(r.SRVQueue) == 0 {
		if !r.TransportPinned {
			if tp, ok := nextSRVCandidate(s.transport, r.Transport); ok {
				r.Transport = tp
				s.issueSRVQuery(r, s.srvName(tp, r.Host))
				return
			}
		}
		if tp, ok := firstSupported(s.transport, s.defaultTransport); ok {
			r.Transport = tp
		} else {
			s.terminate(r, fmt.Errorf("%w", ErrUnsupportedProtocol), 0, nil)
			return
		}
		r.Port = s.transport.DefaultPort(r.Transport)
		s.issueAddressQueries(r, r.Host)
		return
	}

	sortSRV(r.SRVQueue, r.SortKey)
	s.harvestCache(r, additional)
	s.nextAttempt(r)
}

// issueAddressQueries launches A and/or AAAA queries in parallel for name,
// subject to the current transport's supported address families, and
// records them in InFlightDNS so onAddr can join on the barrier.
func (s *Stack) issueAddressQueries(r *Request, name string) {
	ipv4, ipv6 := s.transport.Supported(r.Transport)

	if ipv4 {
		r.InFlightDNS++
		s.resolver.QueryA(name, func(answers []AddrRecord, err error) {
			s.enqueue(func() {
				r.InFlightDNS--
				s.onAddr(r, answers, err)
			})
		})
	}
	if ipv6 {
		r.InFlightDNS++
		s.resolver.QueryAAAA(name, func(answers []AddrRecord, err error) {
			s.enqueue(func() {
				r.InFlightDNS--
				s.onAddr(r, answers, err)
			})
		})
	}
	if !ipv4 && !ipv6 {
		s.terminate(r, fmt.Errorf("%w", ErrUnsupportedProtocol), 0, nil)
	}
}

func (s *Stack) onAddr(r *Request, answers []AddrRecord, err error) {
	if r.Canceled {
		if r.InFlightDNS == 0 {
			s.terminate(r, fmt.Errorf("%w", ErrConnectionAborted), 0, nil)
		}
		return
	}

	ipv4, ipv6 := s.transport.Supported(r.Transport)
	for _, rec := range answers {
		if rec.Kind == KindA && !ipv4 {
			continue
		}
		if rec.Kind == KindAAAA && !ipv6 {
			continue
		}
		if addrAlreadyQueued(r.AddrQueue, rec) {
			continue
		}
		r.AddrQueue = append(r.AddrQueue, rec)
	}

	// Joint barrier: wait for every in-flight A/AAAA query before
	// proceeding.
	if r.InFlightDNS > 0 {
		return
	}

	if len(r.AddrQueue) == 0 && len(r.SRVQueue) == 0 {
		if s.affinity != nil {
			if cached, cerr := s.affinity.LoadAffinity(r.Host, r.Transport.String()); cerr == nil && len(cached) > 0 {
				r.AddrQueue = cached
				sortAddr(r.AddrQueue, r.SortKey)
				s.nextAttempt(r)
				return
			}
		}
		if err != nil {
			s.terminate(r, fmt.Errorf("%w: %v", ErrNoDestination, err), 0, nil)
		} else {
			s.terminate(r, fmt.Errorf("%w", ErrNoDestination), 0, nil)
		}
		return
	}

	sortAddr(r.AddrQueue, r.SortKey)
	if s.affinity != nil && len(r.AddrQueue) > 0 {
		s.affinity.SaveAffinity(r.Host, r.Transport.String(), r.Port, r.AddrQueue)
	}
	s.nextAttempt(r)
}

// harvestCache appends additional-section records into the Request's
// per-request dns_cache, deduplicating against what is already present.
// CNAMEs are always kept; A/AAAA entries are kept regardless of the
// current transport's family support since a later SRV target may need
// either family — family filtering happens when records are harvested out
// of the cache into addr_queue.
func (s *Stack) harvestCache(r *Request, additional []CacheRecord) {
	for _, rec := range additional {
		if cacheAlreadyHeld(r.DNSCache, rec) {
			continue
		}
		r.DNSCache = append(r.DNSCache, rec)
	}
}

// harvestSRVFromCache pulls SRV glue matching target (a NAPTR replacement,
// i.e. the SRV query name) out of dns_cache, letting the caller skip the
// round-trip QuerySRV would otherwise need.
func (s *Stack) harvestSRVFromCache(r *Request, target string) []SRVRecord {
	var out []SRVRecord
	for _, rec := range r.DNSCache {
		if rec.Kind != KindSRV || rec.Name != target {
			continue
		}
		out = append(out, SRVRecord{
			Target:   rec.SRVTarget,
			Port:     rec.Port,
			Priority: rec.Priority,
			Weight:   rec.Weight,
		})
	}
	return out
}

// harvestAddrForTarget pulls any cached A/AAAA records matching target out
// of dns_cache into freshly-built AddrRecords, honoring current transport
// family support.
func (s *Stack) harvestAddrForTarget(r *Request, target string) []AddrRecord {
	ipv4, ipv6 := s.transport.Supported(r.Transport)
	var out []AddrRecord
	for _, rec := range r.DNSCache {
		if rec.Name != target {
			continue
		}
		switch rec.Kind {
		case KindA:
			if ipv4 {
				out = append(out, AddrRecord{Kind: KindA, IP: rec.IP, Owner: target})
			}
		case KindAAAA:
			if ipv6 {
				out = append(out, AddrRecord{Kind: KindAAAA, IP: rec.IP, Owner: target})
			}
		}
	}
	return out
}

func addrAlreadyQueued(queue []AddrRecord, rec AddrRecord) bool {
	for _, q := range queue {
		if q.IP.Equal(rec.IP) && q.Owner == rec.Owner {
			return true
		}
	}
	return false
}

func cacheAlreadyHeld(cache []CacheRecord, rec CacheRecord) bool {
	for _, c := range cache {
		if c.Kind != rec.Kind || c.Name != rec.Name {
			continue
		}
		switch c.Kind {
		case KindSRV:
			if c.SRVTarget == rec.SRVTarget && c.Port == rec.Port {
				return true
			}
		default:
			if c.Alias == rec.Alias && c.IP.Equal(rec.IP) {
				return true
			}
		}
	}
	return false
}
