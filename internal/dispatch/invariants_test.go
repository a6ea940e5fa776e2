package dispatch

import (
	"errors"
	"net"
	"testing"
	"time"
)

// TestInvariant_FreshBranchPerAttempt exercises the same NAPTR->SRV->A
// failover fixture as scenario 2 and checks invariant 2: each attempt uses
// a freshly generated branch and no two attempts share one.
func TestInvariant_FreshBranchPerAttempt(t *testing.T) {
	resolver := newFakeResolver()
	resolver.naptr["example.com"] = []NAPTRRecord{
		{Order: 10, Preference: 0, Services: "SIP+D2T", Replacement: "_sip._tcp.example.com"},
	}
	resolver.srv["_sip._tcp.example.com"] = []SRVRecord{
		{Target: "a.example.com", Port: 5060, Priority: 10},
		{Target: "b.example.com", Port: 5060, Priority: 20},
	}
	resolver.a["a.example.com"] = []AddrRecord{{Kind: KindA, IP: net.ParseIP("203.0.113.1"), Owner: "a.example.com"}}
	resolver.a["b.example.com"] = []AddrRecord{{Kind: KindA, IP: net.ParseIP("203.0.113.2"), Owner: "b.example.com"}}

	transport := newFakeTransport()
	ctrans := newFakeCtrans()
	dstA := &net.UDPAddr{IP: net.ParseIP("203.0.113.1"), Port: 5060}
	dstB := &net.UDPAddr{IP: net.ParseIP("203.0.113.2"), Port: 5060}
	ctrans.scriptNetworkError(TransportTCP, dstA, errors.New("refused"))
	ctrans.script200(TransportTCP, dstB)

	s := newTestStack(t, resolver, transport, ctrans)

	ch := make(chan response, 4)
	req, err := s.Allocate(AllocateOptions{
		Stateful:         true,
		Method:           "INVITE",
		URI:              "sip:example.com",
		Route:            "sip:example.com",
		ResponseCallback: recordingCallback(ch),
	})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := s.Send(req); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitResponse(t, ch, 2*time.Second)

	ctrans.mu.Lock()
	defer ctrans.mu.Unlock()
	if len(ctrans.branches) != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d: %v", len(ctrans.branches), ctrans.branches)
	}
	if ctrans.branches[0] == ctrans.branches[1] {
		t.Fatalf("both attempts used the same branch: %q", ctrans.branches[0])
	}
	for _, b := range ctrans.branches {
		if len(b) != len("z9hG4bK")+16 {
			t.Fatalf("branch %q has unexpected length", b)
		}
	}
}

// TestInvariant_AddrQueuePopIsDestructive checks invariant 3: an address is
// never attempted twice within the same Request, even if it fails and
// other candidates remain — it must be gone from the queue once popped.
func TestInvariant_AddrQueuePopIsDestructive(t *testing.T) {
	resolver := newFakeResolver()
	resolver.naptr["example.com"] = []NAPTRRecord{
		{Order: 10, Preference: 0, Services: "SIP+D2T", Replacement: "_sip._tcp.example.com"},
	}
	resolver.srv["_sip._tcp.example.com"] = []SRVRecord{
		{Target: "a.example.com", Port: 5060, Priority: 10},
	}
	resolver.a["a.example.com"] = []AddrRecord{
		{Kind: KindA, IP: net.ParseIP("203.0.113.1"), Owner: "a.example.com"},
		{Kind: KindA, IP: net.ParseIP("203.0.113.2"), Owner: "a.example.com"},
	}

	transport := newFakeTransport()
	ctrans := newFakeCtrans()
	dst1 := &net.UDPAddr{IP: net.ParseIP("203.0.113.1"), Port: 5060}
	dst2 := &net.UDPAddr{IP: net.ParseIP("203.0.113.2"), Port: 5060}
	ctrans.scriptNetworkError(TransportTCP, dst1, errors.New("refused"))
	ctrans.scriptNetworkError(TransportTCP, dst2, errors.New("refused"))

	s := newTestStack(t, resolver, transport, ctrans)

	ch := make(chan response, 4)
	req, err := s.Allocate(AllocateOptions{
		Stateful:         true,
		Method:           "INVITE",
		URI:              "sip:example.com",
		Route:            "sip:example.com",
		ResponseCallback: recordingCallback(ch),
	})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := s.Send(req); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got := waitResponse(t, ch, 2*time.Second)
	if got.err == nil {
		t.Fatalf("expected exhaustion error, got status=%d", got.status)
	}

	ctrans.mu.Lock()
	defer ctrans.mu.Unlock()
	if len(ctrans.attempts) != 2 {
		t.Fatalf("expected exactly 2 attempts (one per address, no repeats), got %d: %v", len(ctrans.attempts), ctrans.attempts)
	}
	if ctrans.attempts[0] == ctrans.attempts[1] {
		t.Fatalf("same address was attempted twice: %v", ctrans.attempts)
	}
}
