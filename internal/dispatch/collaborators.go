package dispatch

import "net"

// DNSResolver is the asynchronous NAPTR/SRV/A/AAAA collaborator consumed by
// the DNS Resolution Engine. Implementations (see internal/dnsresolve) must
// deliver exactly one callback per query and may deliver it from any
// goroutine; the Stack marshals callbacks back onto its event loop.
type DNSResolver interface {
	QueryNAPTR(name string, cb func(answers []NAPTRRecord, additional []CacheRecord, err error))
	QuerySRV(name string, cb func(answers []SRVRecord, additional []CacheRecord, err error))
	QueryA(name string, cb func(answers []AddrRecord, err error))
	QueryAAAA(name string, cb func(answers []AddrRecord, err error))
}

// TransportProvider is the out-of-scope transport layer collaborator: it
// supplies local-address selection, connectionless send, and per-transport
// capability and DNS-identity tables.
type TransportProvider interface {
	// Supported reports whether tp is usable at all, and for which address
	// families.
	Supported(tp Transport) (ipv4, ipv6 bool)

	// DefaultPort returns the transport's default port (e.g. 5060 for UDP).
	DefaultPort(tp Transport) uint16

	// SRVID returns the SRV service/proto prefix for tp (e.g. "_sip._tcp"),
	// or "" if tp has no registered SRV service (sentinel "no SRV").
	SRVID(tp Transport) string

	// LocalAddressFor resolves the local address to bind/use for a
	// connectionless send or stateful open to dst over tp.
	LocalAddressFor(tp Transport, dst net.Addr) (net.Addr, error)

	// SendConnectionless performs a fire-and-forget send of msg to dst over
	// tp. Used for non-stateful Requests.
	SendConnectionless(tp Transport, laddr, dst net.Addr, msg []byte) error
}

// AffinityStore is the optional persistence collaborator consulted when DNS
// resolution for (host, transport) comes up empty, and fed the harvested
// result whenever it succeeds. A nil AffinityStore on StackOptions disables
// both: every request then resolves purely from live DNS, as before.
type AffinityStore interface {
	// LoadAffinity returns previously harvested addresses for (host,
	// transport) in last-known preference order, or (nil, nil) if none.
	LoadAffinity(host, transport string) ([]AddrRecord, error)

	// SaveAffinity persists the final sorted address queue resolved for
	// (host, transport), along with the port every address in the queue
	// should be dialed on.
	SaveAffinity(host, transport string, port uint16, addrs []AddrRecord)
}

// Transaction is the handle ctrans returns from BeginTransaction. Cancel is
// idempotent from the dispatcher's point of view; the transaction layer
// guarantees a final callback even after Cancel, bounded by Timer B/F.
type Transaction interface {
	Cancel()
}

// ClientTransactions is the RFC 3261 §17.1 collaborator: it owns
// retransmission timing (Timer A/B/E/F) and response matching, exposed via
// BeginTransaction and the returned Transaction's Cancel.
type ClientTransactions interface {
	// BeginTransaction starts a stateful transaction for msg over
	// (tp, dst), identified by branch and method. onResponse is invoked for
	// every provisional and exactly once more for the final outcome
	// (err != nil, status == 0) or (err == nil, status, message).
	BeginTransaction(tp Transport, dst net.Addr, method, branch string, msg []byte,
		onResponse func(err error, status int, message []byte)) (Transaction, error)
}
