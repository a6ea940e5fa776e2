package dispatch

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
)

// newBranch regenerates the Via branch for a fresh attempt: the
// z9hG4bK magic cookie (RFC 3261 §8.1.1.7) followed by 16 random hex
// digits. Each attempt is a distinct client transaction, so the branch
// must never repeat across attempts of the same Request.
func newBranch() (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return "z9hG4bK" + hex.EncodeToString(buf[:]), nil
}

// doAttempt is the Attempt Driver (§4.D): regenerate branch, resolve the
// local address, build the wire message, and hand off to ctrans or a
// connectionless send.
func (s *Stack) doAttempt(r *Request, rec AddrRecord) {
	var dst net.Addr
	switch rec.Kind {
	case KindA, KindAAAA:
		dst = dstFor(rec, r.Port)
	default:
		s.terminate(r, fmt.Errorf("%w", ErrInvalidArgument), 0, nil)
		return
	}

	// nextAttempt already rotated past every cooled-down candidate it could;
	// rec reaching here in cooldown means the whole remaining queue was in
	// cooldown, and it is attempted anyway rather than dropped.

	branch, err := newBranch()
	if err != nil {
		s.terminate(r, fmt.Errorf("%w: %v", ErrNetwork, err), 0, nil)
		return
	}
	r.Branch = branch

	laddr, err := s.transport.LocalAddressFor(r.Transport, dst)
	if err != nil {
		s.onAttemptFailed(r, dst, fmt.Errorf("%w: %v", ErrNetwork, err))
		return
	}

	msg, err := s.buildMessage(r, laddr, dst)
	if err != nil {
		s.terminate(r, fmt.Errorf("%w: %v", ErrInvalidArgument, err), 0, nil)
		return
	}

	if r.Stateful {
		txn, err := s.ctrans.BeginTransaction(r.Transport, dst, r.Method, branch, msg, func(err error, status int, message []byte) {
			s.enqueue(func() { s.onTransactionResponse(r, dst, err, status, message) })
		})
		if err != nil {
			s.onAttemptFailed(r, dst, fmt.Errorf("%w: %v", ErrNetwork, err))
			return
		}
		r.txn = txn
		return
	}

	if err := s.transport.SendConnectionless(r.Transport, laddr, dst, msg); err != nil {
		s.cooldown.mark(cooldownKey(r.Transport, dst))
	}
	// Non-stateful: the request is done the moment connectionless send
	// returns, whether it succeeded or failed. The response callback never
	// fires for a non-stateful Request.
	s.terminate(r, nil, 0, nil)
}

// buildMessage assembles the wire bytes: request line, Via header, then
// whatever the send callback and caller-supplied body contribute.
func (s *Stack) buildMessage(r *Request, laddr, dst net.Addr) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %s SIP/2.0\r\n", r.Method, r.URI)
	fmt.Fprintf(&buf, "Via: SIP/2.0/%s %s;branch=%s;rport\r\n", transportWireName(r.Transport), laddr.String(), r.Branch)

	var continuation []byte
	if r.SendCallback != nil {
		prepend := bytes.NewBuffer(make([]byte, 0, 256))
		cont, err := r.SendCallback(r.Transport, laddr, dst, prepend)
		if err != nil {
			return nil, err
		}
		buf.Write(prepend.Bytes())
		continuation = cont
	}

	buf.Write(r.BodyBuffer)
	if continuation != nil {
		buf.Write(continuation)
	}
	return buf.Bytes(), nil
}

func transportWireName(tp Transport) string {
	switch tp {
	case TransportUDP:
		return "UDP"
	case TransportTCP:
		return "TCP"
	case TransportTLS:
		return "TLS"
	case TransportWS:
		return "WS"
	case TransportWSS:
		return "WSS"
	default:
		return "UDP"
	}
}

// onAttemptFailed handles a send-initiation error (local address or
// connect-time failure, distinct from a response-layer failure): it marks
// the destination's cooldown and re-enters the Address List Manager
// directly, per the failover rule in §4.C. With no candidates left it
// terminates the Request with err.
func (s *Stack) onAttemptFailed(r *Request, dst net.Addr, err error) {
	s.cooldown.mark(cooldownKey(r.Transport, dst))
	if r.Canceled || (len(r.AddrQueue) == 0 && len(r.SRVQueue) == 0) {
		s.terminate(r, err, 0, nil)
		return
	}
	s.nextAttempt(r)
}

func cooldownKey(tp Transport, dst net.Addr) string {
	return tp.String() + "|" + dst.String()
}
