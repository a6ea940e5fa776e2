package dispatch

import (
	"fmt"
	"net"
)

// onTransactionResponse is the Response Router (§4.E): ctrans calls it with
// (error, status, message) for every provisional and exactly once more for
// the transaction's final outcome.
func (s *Stack) onTransactionResponse(r *Request, dst net.Addr, err error, status int, message []byte) {
	if status > 0 && status < 200 {
		wasFirstProvisional := !r.ProvisionalReceived
		r.ProvisionalReceived = true
		if wasFirstProvisional && r.Canceled && r.txn != nil {
			r.txn.Cancel()
		}
		s.deliverProvisional(r, status, message)
		return
	}

	// Final or error: release the transaction handle.
	r.txn = nil

	retriable := err != nil || status == 503
	if !r.Canceled && retriable {
		s.cooldown.mark(cooldownKey(r.Transport, dst))
	}
	if !r.Canceled && retriable && (len(r.AddrQueue) > 0 || len(r.SRVQueue) > 0) {
		s.nextAttempt(r)
		return
	}

	if err != nil {
		s.terminate(r, fmt.Errorf("%w: %v", ErrNetwork, err), 0, message)
		return
	}
	s.terminate(r, nil, status, message)
}

func (s *Stack) deliverProvisional(r *Request, status int, message []byte) {
	if r.ResponseCallback != nil {
		r.ResponseCallback(nil, status, message)
	}
}
