package dispatch

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// fakeTransport implements TransportProvider with a fixed capability table
// and a scriptable per-destination send outcome, mirroring how the teacher's
// test doubles stub a single collaborator interface at a time.
type fakeTransport struct {
	mu sync.Mutex

	sendErr map[string]error // keyed by "tp|dst"
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{sendErr: map[string]error{}}
}

func (f *fakeTransport) Supported(tp Transport) (ipv4, ipv6 bool) {
	switch tp {
	case TransportNone:
		return false, false
	default:
		return true, true
	}
}

func (f *fakeTransport) DefaultPort(tp Transport) uint16 {
	switch tp {
	case TransportUDP, TransportTCP:
		return 5060
	case TransportTLS:
		return 5061
	case TransportWS:
		return 80
	case TransportWSS:
		return 443
	default:
		return 5060
	}
}

func (f *fakeTransport) SRVID(tp Transport) string {
	switch tp {
	case TransportUDP:
		return "_sip._udp"
	case TransportTCP:
		return "_sip._tcp"
	case TransportTLS:
		return "_sips._tcp"
	case TransportWS:
		return "_sip._ws"
	case TransportWSS:
		return "_sips._wss"
	default:
		return ""
	}
}

func (f *fakeTransport) LocalAddressFor(tp Transport, dst net.Addr) (net.Addr, error) {
	return &net.UDPAddr{IP: net.ParseIP("198.51.100.1"), Port: 12345}, nil
}

func (f *fakeTransport) SendConnectionless(tp Transport, laddr, dst net.Addr, msg []byte) error {
	f.mu.Lock()
	err := f.sendErr[tp.String()+"|"+dst.String()]
	f.mu.Unlock()
	return err
}

func (f *fakeTransport) failSendTo(tp Transport, dst net.Addr, err error) {
	f.mu.Lock()
	f.sendErr[tp.String()+"|"+dst.String()] = err
	f.mu.Unlock()
}

// fakeResolver implements DNSResolver by returning scripted answers. Each
// callback is invoked on a fresh goroutine, as with a real asynchronous
// resolver; Stack.enqueue marshals it onto the loop.
type fakeResolver struct {
	naptr           map[string][]NAPTRRecord
	naptrAdditional map[string][]CacheRecord
	srv             map[string][]SRVRecord
	a               map[string][]AddrRecord
	aaaa            map[string][]AddrRecord
	errs            map[string]error
	hang            map[string]bool // NAPTR query names whose callback is never invoked

	srvQueries int // counts QuerySRV invocations, for asserting a glue hit skips the round-trip
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		naptr:           map[string][]NAPTRRecord{},
		naptrAdditional: map[string][]CacheRecord{},
		srv:             map[string][]SRVRecord{},
		a:               map[string][]AddrRecord{},
		aaaa:            map[string][]AddrRecord{},
		errs:            map[string]error{},
		hang:            map[string]bool{},
	}
}

func (f *fakeResolver) QueryNAPTR(name string, cb func([]NAPTRRecord, []CacheRecord, error)) {
	if f.hang[name] {
		return
	}
	go cb(f.naptr[name], f.naptrAdditional[name], f.errs["naptr:"+name])
}

func (f *fakeResolver) QuerySRV(name string, cb func([]SRVRecord, []CacheRecord, error)) {
	f.srvQueries++
	go cb(f.srv[name], nil, f.errs["srv:"+name])
}

func (f *fakeResolver) QueryA(name string, cb func([]AddrRecord, error)) {
	go cb(f.a[name], f.errs["a:"+name])
}

func (f *fakeResolver) QueryAAAA(name string, cb func([]AddrRecord, error)) {
	go cb(f.aaaa[name], f.errs["aaaa:"+name])
}

// fakeCtrans implements ClientTransactions; each BeginTransaction call is
// recorded and its outcome scripted per destination so tests can simulate
// transport error, 503, or a final 200 OK.
type fakeCtrans struct {
	mu               sync.Mutex
	attempts         []string // "tp|dst" in call order
	branches         []string // branch used for each attempt, same order as attempts
	messages         map[string][]byte // wire bytes built for each "tp|dst", last attempt wins
	scriptErr        map[string]error
	scriptRsp        map[string]*Message // final response to deliver when no error scripted
	manualKeys       map[string]bool
	manualResponders map[string]*manualResponder
}

func newFakeCtrans() *fakeCtrans {
	return &fakeCtrans{scriptErr: map[string]error{}, scriptRsp: map[string]*Message{}}
}

func (f *fakeCtrans) script200(tp Transport, dst net.Addr) {
	f.mu.Lock()
	f.scriptRsp[tp.String()+"|"+dst.String()] = &Message{Status: 200}
	f.mu.Unlock()
}

func (f *fakeCtrans) script503(tp Transport, dst net.Addr) {
	f.mu.Lock()
	f.scriptRsp[tp.String()+"|"+dst.String()] = &Message{Status: 503}
	f.mu.Unlock()
}

func (f *fakeCtrans) scriptNetworkError(tp Transport, dst net.Addr, err error) {
	f.mu.Lock()
	f.scriptErr[tp.String()+"|"+dst.String()] = err
	f.mu.Unlock()
}

// manualResponders holds onResponse callbacks for destinations marked via
// manual(), letting a test drive provisional/final responses itself rather
// than having BeginTransaction auto-resolve them.
type manualResponder struct {
	onResponse func(err error, status int, message []byte)
	txn        *fakeTxn
}

func (f *fakeCtrans) manual(tp Transport, dst net.Addr) {
	f.mu.Lock()
	if f.manualKeys == nil {
		f.manualKeys = map[string]bool{}
	}
	f.manualKeys[tp.String()+"|"+dst.String()] = true
	f.mu.Unlock()
}

// invoke delivers a response on a destination previously marked manual,
// blocking until a BeginTransaction call has registered its callback.
func (f *fakeCtrans) invoke(tp Transport, dst net.Addr, err error, status int, message []byte) {
	key := tp.String() + "|" + dst.String()
	for {
		f.mu.Lock()
		r, ok := f.manualResponders[key]
		f.mu.Unlock()
		if ok {
			r.onResponse(err, status, message)
			return
		}
		time.Sleep(time.Millisecond)
	}
}

func (f *fakeCtrans) manualTxn(tp Transport, dst net.Addr) *fakeTxn {
	key := tp.String() + "|" + dst.String()
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.manualResponders[key]; ok {
		return r.txn
	}
	return nil
}

type fakeTxn struct {
	mu          sync.Mutex
	canceled    bool
	cancelCount int
}

func (t *fakeTxn) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.canceled = true
	t.cancelCount++
}

func (t *fakeTxn) cancels() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelCount
}

func (f *fakeCtrans) BeginTransaction(tp Transport, dst net.Addr, method, branch string, msg []byte,
	onResponse func(err error, status int, message []byte)) (Transaction, error) {
	key := tp.String() + "|" + dst.String()
	f.mu.Lock()
	f.attempts = append(f.attempts, key)
	f.branches = append(f.branches, branch)
	if f.messages == nil {
		f.messages = map[string][]byte{}
	}
	f.messages[key] = msg
	err := f.scriptErr[key]
	rsp := f.scriptRsp[key]
	manual := f.manualKeys[key]
	txn := &fakeTxn{}
	if manual {
		if f.manualResponders == nil {
			f.manualResponders = map[string]*manualResponder{}
		}
		f.manualResponders[key] = &manualResponder{onResponse: onResponse, txn: txn}
	}
	f.mu.Unlock()

	if manual {
		return txn, nil
	}

	go func() {
		if err != nil {
			onResponse(err, 0, nil)
			return
		}
		if rsp != nil {
			onResponse(nil, rsp.Status, rsp.Raw)
			return
		}
		onResponse(fmt.Errorf("%w: no script for %s", ErrNetwork, key), 0, nil)
	}()
	return txn, nil
}
