package dispatch

import (
	"log/slog"
	"net"
	"testing"
	"time"
)

func newTestStackWithCooldown(t *testing.T, resolver *fakeResolver, transport *fakeTransport, ctrans *fakeCtrans, period time.Duration) *Stack {
	t.Helper()
	s := NewStack(StackOptions{
		Logger:           slog.Default(),
		Resolver:         resolver,
		Transport:        transport,
		Ctrans:           ctrans,
		DefaultTransport: TransportUDP,
		CooldownPeriod:   period,
	})
	go s.Start()
	t.Cleanup(s.Shutdown)
	return s
}

// A candidate in cooldown is deprioritized, not discarded: with one
// cooled-down candidate ahead of a healthy one, the healthy one is
// attempted first and the cooled-down one remains queued for later.
func TestNextAttempt_CooldownCandidateMovesToBack(t *testing.T) {
	resolver := newFakeResolver()
	transport := newFakeTransport()
	ctrans := newFakeCtrans()

	dstA := &net.UDPAddr{IP: net.ParseIP("192.0.2.1"), Port: 5060}
	dstB := &net.UDPAddr{IP: net.ParseIP("192.0.2.2"), Port: 5060}
	ctrans.script200(TransportUDP, dstB)

	s := newTestStackWithCooldown(t, resolver, transport, ctrans, time.Minute)
	s.cooldown.mark(cooldownKey(TransportUDP, dstA))

	ch := make(chan response, 4)
	req, err := s.Allocate(AllocateOptions{
		Stateful:         true,
		Method:           "REGISTER",
		URI:              "sip:reg.example.com;transport=udp",
		Route:            "sip:reg.example.com;transport=udp",
		ResponseCallback: recordingCallback(ch),
	})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	done := make(chan struct{})
	s.enqueue(func() {
		req.Host = "reg.example.com"
		req.Transport = TransportUDP
		req.TransportPinned = true
		req.Port = 5060
		req.AddrQueue = []AddrRecord{
			{Kind: KindA, IP: dstA.IP, Owner: "reg.example.com"},
			{Kind: KindA, IP: dstB.IP, Owner: "reg.example.com"},
		}
		s.nextAttempt(req)
		close(done)
	})
	<-done

	got := waitResponse(t, ch, time.Second)
	if got.status != 200 {
		t.Fatalf("expected 200 from the healthy candidate, got status=%d err=%v", got.status, got.err)
	}

	ctrans.mu.Lock()
	defer ctrans.mu.Unlock()
	if len(ctrans.attempts) != 1 || ctrans.attempts[0] != TransportUDP.String()+"|"+dstB.String() {
		t.Fatalf("expected the cooled-down candidate to be skipped first, got attempts=%v", ctrans.attempts)
	}
}

// When every remaining candidate is in cooldown, the Request still attempts
// one rather than draining the queue and terminating with no attempt at
// all (invariant 3: no candidate is skipped forever).
func TestNextAttempt_AllCooledDownStillAttempts(t *testing.T) {
	resolver := newFakeResolver()
	transport := newFakeTransport()
	ctrans := newFakeCtrans()

	dstA := &net.UDPAddr{IP: net.ParseIP("192.0.2.1"), Port: 5060}
	dstB := &net.UDPAddr{IP: net.ParseIP("192.0.2.2"), Port: 5060}
	ctrans.script200(TransportUDP, dstA)
	ctrans.script200(TransportUDP, dstB)

	s := newTestStackWithCooldown(t, resolver, transport, ctrans, time.Minute)
	s.cooldown.mark(cooldownKey(TransportUDP, dstA))
	s.cooldown.mark(cooldownKey(TransportUDP, dstB))

	ch := make(chan response, 4)
	req, err := s.Allocate(AllocateOptions{
		Stateful:         true,
		Method:           "REGISTER",
		URI:              "sip:reg.example.com;transport=udp",
		Route:            "sip:reg.example.com;transport=udp",
		ResponseCallback: recordingCallback(ch),
	})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	done := make(chan struct{})
	s.enqueue(func() {
		req.Host = "reg.example.com"
		req.Transport = TransportUDP
		req.TransportPinned = true
		req.Port = 5060
		req.AddrQueue = []AddrRecord{
			{Kind: KindA, IP: dstA.IP, Owner: "reg.example.com"},
			{Kind: KindA, IP: dstB.IP, Owner: "reg.example.com"},
		}
		s.nextAttempt(req)
		close(done)
	})
	<-done

	got := waitResponse(t, ch, time.Second)
	if got.status != 200 {
		t.Fatalf("expected a 200 from whichever cooled-down candidate was attempted, got status=%d err=%v", got.status, got.err)
	}

	ctrans.mu.Lock()
	defer ctrans.mu.Unlock()
	if len(ctrans.attempts) != 1 {
		t.Fatalf("expected exactly one attempt despite both candidates being in cooldown, got %v", ctrans.attempts)
	}
}
