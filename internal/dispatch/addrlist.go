package dispatch

import (
	"fmt"
	"net"
)

// dstFor builds the net.Addr an AddrRecord would be attempted at, for
// cooldown lookups and the Attempt Driver alike.
func dstFor(rec AddrRecord, port uint16) net.Addr {
	return &net.UDPAddr{IP: rec.IP, Port: int(port)}
}

// nextAttempt is the Address List Manager's core algorithm (§4.C). Popping
// is destructive: once attempted, a record is never retried within the
// same Request, which rules out livelock on a flapping candidate.
//
// A candidate currently in cooldown is deprioritized, not discarded: it is
// moved to the back of addr_queue instead of being attempted immediately.
// If every remaining candidate is in cooldown, the cycle is bounded by the
// queue's length, so the front candidate is attempted anyway once a full
// rotation finds nothing better — a Request never drains its whole queue
// without attempting at least one address (invariant 3: no candidate is
// skipped forever).
func (s *Stack) nextAttempt(r *Request) {
	for {
		if len(r.AddrQueue) > 0 {
			for cycled, n := 0, len(r.AddrQueue); cycled < n-1; cycled++ {
				rec := r.AddrQueue[0]
				if !s.cooldown.inCooldown(cooldownKey(r.Transport, dstFor(rec, r.Port))) {
					break
				}
				r.AddrQueue = append(r.AddrQueue[1:], rec)
			}

			rec := r.AddrQueue[0]
			r.AddrQueue = r.AddrQueue[1:]
			switch rec.Kind {
			case KindA, KindAAAA:
				s.doAttempt(r, rec)
			default:
				s.terminate(r, fmt.Errorf("%w: unexpected record kind in addr_queue", ErrInvalidArgument), 0, nil)
			}
			return
		}

		if len(r.SRVQueue) > 0 {
			srv := r.SRVQueue[0]
			r.SRVQueue = r.SRVQueue[1:]
			r.Port = srv.Port

			harvested := s.harvestAddrForTarget(r, srv.Target)
			if len(harvested) > 0 {
				r.AddrQueue = append(r.AddrQueue, harvested...)
				sortAddr(r.AddrQueue, r.SortKey)
				continue
			}
			s.issueAddressQueries(r, srv.Target)
			return
		}

		s.terminate(r, fmt.Errorf("%w", ErrNoDestination), 0, nil)
		return
	}
}
