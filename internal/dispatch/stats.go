package dispatch

import (
	"fmt"
	"time"
)

// RequestSnapshot is a point-in-time, read-only view of one in-flight
// Request, exposed to the admin API. It never aliases the Request — this
// is always a safe-to-hold-onto copy, not a live pointer into the loop.
type RequestSnapshot struct {
	ID                  string
	Method              string
	URI                 string
	Host                string
	Transport           Transport
	Stateful            bool
	ProvisionalReceived bool
	Canceled            bool
	Age                 time.Duration
}

// Stats summarizes the Stack's current load.
type Stats struct {
	InFlight int
}

// requestID derives a stable external identifier for r from its address.
// It is opaque and only meaningful for the lifetime of the process.
func requestID(r *Request) string {
	return fmt.Sprintf("%p", r)
}

// Stats returns a snapshot of the Stack's current load. Safe to call from
// any goroutine.
func (s *Stack) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{InFlight: len(s.requests)}
}

// Snapshot lists every in-flight Request. Safe to call from any goroutine;
// the returned slice is a copy and shares no state with the loop.
func (s *Stack) Snapshot() []RequestSnapshot {
	s.mu.Lock()
	reqs := make([]*Request, 0, len(s.requests))
	for r := range s.requests {
		reqs = append(reqs, r)
	}
	s.mu.Unlock()

	out := make([]RequestSnapshot, 0, len(reqs))
	done := make(chan struct{})
	s.enqueue(func() {
		for _, r := range reqs {
			out = append(out, RequestSnapshot{
				ID:                  requestID(r),
				Method:              r.Method,
				URI:                 r.URI,
				Host:                r.Host,
				Transport:           r.Transport,
				Stateful:            r.Stateful,
				ProvisionalReceived: r.ProvisionalReceived,
				Canceled:            r.Canceled,
				Age:                 time.Since(r.createdAt),
			})
		}
		close(done)
	})
	<-done
	return out
}

// CooldownSnapshot exports the Stack's per-destination failure cooldown
// table, for internal/cluster to ship to other nodes in a dispatcher farm.
func (s *Stack) CooldownSnapshot() map[string]time.Time {
	return s.cooldown.snapshot()
}

// ImportCooldown merges a remote node's cooldown table into this Stack's
// own, the way internal/cluster applies a fetched export on a secondary
// node.
func (s *Stack) ImportCooldown(remote map[string]time.Time) {
	s.cooldown.merge(remote)
}

// CancelByID cancels the in-flight Request identified by id (as returned by
// Snapshot), the way Cancel would if the caller still held the *Request.
// Reports whether a matching, still-tracked Request was found.
func (s *Stack) CancelByID(id string) bool {
	s.mu.Lock()
	var match *Request
	for r := range s.requests {
		if requestID(r) == id {
			match = r
			break
		}
	}
	s.mu.Unlock()
	if match == nil {
		return false
	}
	s.Cancel(match)
	return true
}
