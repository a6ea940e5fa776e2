// Package ctrans implements the dispatch.ClientTransactions collaborator: a
// minimal RFC 3261 §17.1.3 client transaction state machine covering Timer
// A/B (INVITE) and Timer E/F (non-INVITE). It owns retransmission timing and
// response matching so internal/dispatch never has to.
//
// A transaction over an unreliable transport (UDP) retransmits the request
// at a doubling interval capped at T2 until a provisional response arrives
// or the overall Timer B/F deadline expires. Over a reliable transport
// (TCP/TLS) it sends once, per §17.1.1.2/§17.1.2.2, and only Timer B/F
// bounds its lifetime.
package ctrans

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/jroosing/sipdispatch/internal/dispatch"
	"github.com/jroosing/sipdispatch/internal/pool"
)

// ErrTransactionTimeout is the error handed to onResponse when a
// transaction's Timer B/F expires without a final response.
var ErrTransactionTimeout = errors.New("ctrans: transaction timed out")

// TransportOpener is the subset of transport.Provider ctrans depends on:
// the local socket a transaction's retransmissions and responses travel
// over. internal/transport.Provider satisfies this directly.
type TransportOpener interface {
	OpenUDPChannel() (net.PacketConn, error)
	OpenStatefulChannel(tp dispatch.Transport, dst net.Addr) (net.Conn, error)
}

// Transactions implements dispatch.ClientTransactions.
type Transactions struct {
	transport TransportOpener
	timers    Timers
}

// New builds a Transactions collaborator.
func New(transport TransportOpener, timers Timers) *Transactions {
	return &Transactions{transport: transport, timers: timers}
}

// Transaction implements dispatch.Transaction.
type Transaction struct {
	mu         sync.Mutex
	canceled   bool
	done       bool
	timerA     *time.Timer
	timerFinal *time.Timer
	closer     func()
}

// Cancel stops further retransmission but does not itself synthesize a
// final response: per dispatch.Transaction's contract the caller still
// receives exactly one final callback, bounded by Timer B/F, whether that
// is a late response or the eventual timeout.
func (t *Transaction) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.canceled || t.done {
		return
	}
	t.canceled = true
	if t.timerA != nil {
		t.timerA.Stop()
	}
}

func (t *Transaction) isCanceled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.canceled
}

// deliverFinal fires onResponse exactly once, stopping both timers and
// running the transaction's closer first. Safe to call from any goroutine,
// any number of times.
func (t *Transaction) deliverFinal(onResponse func(error, int, []byte), err error, status int, data []byte) {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return
	}
	t.done = true
	if t.timerA != nil {
		t.timerA.Stop()
	}
	if t.timerFinal != nil {
		t.timerFinal.Stop()
	}
	closer := t.closer
	t.mu.Unlock()

	if closer != nil {
		closer()
	}
	onResponse(err, status, data)
}

func (t *Transaction) deliverProvisional(onResponse func(error, int, []byte), status int, data []byte) {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()
	if !done {
		onResponse(nil, status, data)
	}
}

// BeginTransaction implements dispatch.ClientTransactions.
func (m *Transactions) BeginTransaction(tp dispatch.Transport, dst net.Addr, method, branch string, msg []byte,
	onResponse func(err error, status int, message []byte)) (dispatch.Transaction, error) {

	switch tp {
	case dispatch.TransportUDP:
		return m.beginUDP(dst, method, msg, onResponse)
	case dispatch.TransportTCP, dispatch.TransportTLS:
		return m.beginStream(tp, dst, method, msg, onResponse)
	default:
		return nil, fmt.Errorf("ctrans: %w: %s has no stateful transaction support", dispatch.ErrUnsupportedProtocol, tp)
	}
}

func (m *Transactions) finalTimeout(method string) time.Duration {
	if strings.EqualFold(method, "INVITE") {
		return m.timers.B
	}
	return m.timers.F
}

func (m *Transactions) beginUDP(dst net.Addr, method string, msg []byte,
	onResponse func(error, int, []byte)) (dispatch.Transaction, error) {

	pc, err := m.transport.OpenUDPChannel()
	if err != nil {
		return nil, fmt.Errorf("ctrans: open udp channel: %w", err)
	}

	txn := &Transaction{closer: func() { _ = pc.Close() }}

	if _, err := pc.WriteTo(msg, dst); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("ctrans: udp send: %w", err)
	}

	txn.timerFinal = time.AfterFunc(m.finalTimeout(method), func() {
		txn.deliverFinal(onResponse, ErrTransactionTimeout, 0, nil)
	})

	interval := m.timers.T1
	var scheduleRetransmit func()
	scheduleRetransmit = func() {
		txn.mu.Lock()
		if txn.done {
			txn.mu.Unlock()
			return
		}
		txn.timerA = time.AfterFunc(interval, func() {
			if txn.isCanceled() {
				return
			}
			if _, err := pc.WriteTo(msg, dst); err != nil {
				return
			}
			if interval < t2 {
				interval *= 2
				if interval > t2 {
					interval = t2
				}
			}
			scheduleRetransmit()
		})
		txn.mu.Unlock()
	}
	scheduleRetransmit()

	go m.readUDPResponses(pc, txn, onResponse)

	return txn, nil
}

// udpReadBufferPool recycles the 65535-byte read buffers readUDPResponses
// needs for the lifetime of one transaction, so a dispatcher handling many
// transactions isn't paying for a fresh max-UDP-datagram allocation each time.
var udpReadBufferPool = pool.New(func() []byte { return make([]byte, 65535) })

func (m *Transactions) readUDPResponses(pc net.PacketConn, txn *Transaction, onResponse func(error, int, []byte)) {
	buf := udpReadBufferPool.Get()
	defer udpReadBufferPool.Put(buf)
	for {
		n, _, err := pc.ReadFrom(buf)
		if err != nil {
			return
		}
		data := append([]byte(nil), buf[:n]...)
		status, perr := parseStatusCode(data)
		if perr != nil {
			continue
		}
		if status < 200 {
			// A provisional response stops retransmission (RFC 3261
			// §17.1.1.2) but the transaction stays open for the final one.
			txn.mu.Lock()
			if txn.timerA != nil {
				txn.timerA.Stop()
			}
			txn.mu.Unlock()
			txn.deliverProvisional(onResponse, status, data)
			continue
		}
		txn.deliverFinal(onResponse, nil, status, data)
		return
	}
}

func (m *Transactions) beginStream(tp dispatch.Transport, dst net.Addr, method string, msg []byte,
	onResponse func(error, int, []byte)) (dispatch.Transaction, error) {

	conn, err := m.transport.OpenStatefulChannel(tp, dst)
	if err != nil {
		return nil, fmt.Errorf("ctrans: open stateful channel: %w", err)
	}

	if _, err := conn.Write(msg); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ctrans: stream send: %w", err)
	}

	txn := &Transaction{closer: func() { _ = conn.Close() }}
	txn.timerFinal = time.AfterFunc(m.finalTimeout(method), func() {
		txn.deliverFinal(onResponse, ErrTransactionTimeout, 0, nil)
	})

	go m.readStreamResponses(conn, txn, onResponse)

	return txn, nil
}

func (m *Transactions) readStreamResponses(conn net.Conn, txn *Transaction, onResponse func(error, int, []byte)) {
	r := bufio.NewReader(conn)
	for {
		data, err := readStreamMessage(r)
		if err != nil {
			return
		}
		status, perr := parseStatusCode(data)
		if perr != nil {
			continue
		}
		if status < 200 {
			txn.deliverProvisional(onResponse, status, data)
			continue
		}
		txn.deliverFinal(onResponse, nil, status, data)
		return
	}
}
