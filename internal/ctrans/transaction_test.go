package ctrans

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jroosing/sipdispatch/internal/config"
	"github.com/jroosing/sipdispatch/internal/dispatch"
	"github.com/jroosing/sipdispatch/internal/transport"
)

func testTimers() Timers {
	return Timers{T1: 20 * time.Millisecond, B: 300 * time.Millisecond, F: 300 * time.Millisecond}
}

func newTestManager() *Transactions {
	p := transport.New(nil, time.Second, nil)
	return New(p, testTimers())
}

type callbackRecorder struct {
	mu    chan struct{}
	calls []struct {
		err    error
		status int
		msg    []byte
	}
}

func newRecorder() *callbackRecorder {
	return &callbackRecorder{mu: make(chan struct{}, 16)}
}

func (r *callbackRecorder) onResponse(err error, status int, msg []byte) {
	r.calls = append(r.calls, struct {
		err    error
		status int
		msg    []byte
	}{err, status, msg})
	r.mu <- struct{}{}
}

func (r *callbackRecorder) wait(t *testing.T, n int, timeout time.Duration) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.mu:
		case <-time.After(timeout):
			t.Fatalf("timed out waiting for callback %d/%d", i+1, n)
		}
	}
}

func TestBeginTransactionUDPFinalResponse(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	go func() {
		buf := make([]byte, 2048)
		n, addr, err := pc.ReadFrom(buf)
		if err != nil {
			return
		}
		if string(buf[:n])[:8] != "REGISTER" {
			return
		}
		_, _ = pc.WriteTo([]byte("SIP/2.0 200 OK\r\n\r\n"), addr)
	}()

	m := newTestManager()
	rec := newRecorder()
	txn, err := m.BeginTransaction(dispatch.TransportUDP, pc.LocalAddr(), "REGISTER", "z9hG4bK1",
		[]byte("REGISTER sip:example.com SIP/2.0\r\n\r\n"), rec.onResponse)
	require.NoError(t, err)
	require.NotNil(t, txn)

	rec.wait(t, 1, 2*time.Second)
	assert.Equal(t, 200, rec.calls[0].status)
	assert.NoError(t, rec.calls[0].err)
}

func TestBeginTransactionUDPProvisionalThenFinal(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	go func() {
		buf := make([]byte, 2048)
		n, addr, err := pc.ReadFrom(buf)
		if err != nil {
			return
		}
		_ = n
		_, _ = pc.WriteTo([]byte("SIP/2.0 100 Trying\r\n\r\n"), addr)
		time.Sleep(20 * time.Millisecond)
		_, _ = pc.WriteTo([]byte("SIP/2.0 200 OK\r\n\r\n"), addr)
	}()

	m := newTestManager()
	rec := newRecorder()
	_, err = m.BeginTransaction(dispatch.TransportUDP, pc.LocalAddr(), "INVITE", "z9hG4bK2",
		[]byte("INVITE sip:example.com SIP/2.0\r\n\r\n"), rec.onResponse)
	require.NoError(t, err)

	rec.wait(t, 2, 2*time.Second)
	assert.Equal(t, 100, rec.calls[0].status)
	assert.Equal(t, 200, rec.calls[1].status)
}

func TestBeginTransactionUDPRetransmitsUntilTimerF(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	received := make(chan struct{}, 16)
	go func() {
		buf := make([]byte, 2048)
		for {
			_, _, err := pc.ReadFrom(buf)
			if err != nil {
				return
			}
			received <- struct{}{}
		}
	}()

	m := newTestManager()
	rec := newRecorder()
	_, err = m.BeginTransaction(dispatch.TransportUDP, pc.LocalAddr(), "OPTIONS", "z9hG4bK3",
		[]byte("OPTIONS sip:example.com SIP/2.0\r\n\r\n"), rec.onResponse)
	require.NoError(t, err)

	count := 0
	timeout := time.After(250 * time.Millisecond)
loop:
	for {
		select {
		case <-received:
			count++
		case <-timeout:
			break loop
		}
	}
	assert.GreaterOrEqual(t, count, 2, "a dead destination must see more than one retransmission")

	rec.wait(t, 1, time.Second)
	assert.ErrorIs(t, rec.calls[0].err, ErrTransactionTimeout)
	assert.Equal(t, 0, rec.calls[0].status)
}

func TestCancelStopsRetransmissionButStillDeliversFinal(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	received := make(chan struct{}, 16)
	go func() {
		buf := make([]byte, 2048)
		for {
			_, _, err := pc.ReadFrom(buf)
			if err != nil {
				return
			}
			received <- struct{}{}
		}
	}()

	m := newTestManager()
	rec := newRecorder()
	txn, err := m.BeginTransaction(dispatch.TransportUDP, pc.LocalAddr(), "OPTIONS", "z9hG4bK4",
		[]byte("OPTIONS sip:example.com SIP/2.0\r\n\r\n"), rec.onResponse)
	require.NoError(t, err)

	<-received // wait for the initial send
	txn.Cancel()

	countAfterCancel := 0
	timeout := time.After(150 * time.Millisecond)
drain:
	for {
		select {
		case <-received:
			countAfterCancel++
		case <-timeout:
			break drain
		}
	}
	assert.Equal(t, 0, countAfterCancel, "Cancel must stop further retransmission")

	rec.wait(t, 1, time.Second)
	assert.ErrorIs(t, rec.calls[0].err, ErrTransactionTimeout, "final callback still arrives after Cancel")
}

func TestBeginTransactionTCPFinalResponse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 2048)
		if _, err := conn.Read(buf); err != nil {
			return
		}
		_, _ = conn.Write([]byte("SIP/2.0 200 OK\r\nContent-Length: 0\r\n\r\n"))
	}()

	m := newTestManager()
	rec := newRecorder()
	_, err = m.BeginTransaction(dispatch.TransportTCP, ln.Addr(), "REGISTER", "z9hG4bK5",
		[]byte("REGISTER sip:example.com SIP/2.0\r\nContent-Length: 0\r\n\r\n"), rec.onResponse)
	require.NoError(t, err)

	rec.wait(t, 1, 2*time.Second)
	assert.Equal(t, 200, rec.calls[0].status)
}

func TestBeginTransactionUnsupportedTransport(t *testing.T) {
	m := newTestManager()
	_, err := m.BeginTransaction(dispatch.TransportWS, &net.TCPAddr{}, "REGISTER", "z9hG4bK6", nil, func(error, int, []byte) {})
	require.Error(t, err)
}

func TestFromConfigDefaultsWhenBlank(t *testing.T) {
	timers := FromConfig(config.TimerConfig{})
	assert.Equal(t, 500*time.Millisecond, timers.T1)
	assert.Equal(t, 32*time.Second, timers.B)
	assert.Equal(t, 32*time.Second, timers.F)
}

func TestFromConfigParsesExplicitValues(t *testing.T) {
	timers := FromConfig(config.TimerConfig{T1: "100ms", B: "2s", F: "4s"})
	assert.Equal(t, 100*time.Millisecond, timers.T1)
	assert.Equal(t, 2*time.Second, timers.B)
	assert.Equal(t, 4*time.Second, timers.F)
}
