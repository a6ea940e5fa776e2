package dispatch

import (
	"fmt"
	"time"
)

// AllocateOptions carries the fields needed to construct a Request.
type AllocateOptions struct {
	Stateful         bool
	Method           string
	URI              string
	Route            string
	InitialTransport Transport
	Body             []byte
	SortKey          uint64
	SendCallback     SendFunc
	ResponseCallback ResponseFunc
	CallbackArg      any
	OutHandle        *RequestHandle
}

// Allocate validates the required fields and the route scheme, then returns
// a Request pre-registered on the Stack's request list. It does not begin
// resolution; call Send for that.
func (s *Stack) Allocate(opts AllocateOptions) (*Request, error) {
	if opts.Method == "" || opts.URI == "" || opts.Route == "" {
		return nil, fmt.Errorf("%w: method, uri, and route are required", ErrInvalidArgument)
	}

	route, err := parseSIPURI(opts.Route)
	if err != nil || route.Scheme != "sip" {
		return nil, fmt.Errorf("%w: route scheme must be sip", ErrInvalidArgument)
	}

	r := &Request{
		stack:            s,
		Method:           opts.Method,
		URI:              opts.URI,
		Route:            opts.Route,
		Transport:        opts.InitialTransport,
		BodyBuffer:       opts.Body,
		Stateful:         opts.Stateful,
		SortKey:          opts.SortKey,
		SendCallback:     opts.SendCallback,
		ResponseCallback: opts.ResponseCallback,
		CallbackArg:      opts.CallbackArg,
		OutHandle:        opts.OutHandle,
		createdAt:        time.Now(),
	}
	if r.OutHandle != nil {
		r.OutHandle.Req = r
	}

	s.register(r)
	return r, nil
}

// Send resolves the route URI into host/port/transport-pin fields and
// kicks off the resolution path selected in §4.B. It waits until the event
// loop has run that first step; DNS answers and transaction responses are
// delivered later through the callbacks.
func (s *Stack) Send(r *Request) error {
	route, err := parseSIPURI(r.Route)
	if err != nil || route.Scheme != "sip" {
		return fmt.Errorf("%w: route scheme must be sip", ErrInvalidArgument)
	}

	host := route.Host
	explicitPort := route.Port

	if maddr := route.Params["maddr"]; maddr != "" {
		host = maddr
	}

	pinned := TransportNone
	if tparam := route.Params["transport"]; tparam != "" {
		pinned = decodeTransportParam(tparam)
		if pinned == TransportNone {
			return fmt.Errorf("%w: unrecognized transport parameter %q", ErrInvalidArgument, tparam)
		}
	}

	done := make(chan error, 1)
	s.enqueue(func() {
		r.Host = host
		if pinned != TransportNone {
			r.Transport = pinned
			r.TransportPinned = true
		} else if r.Transport != TransportNone {
			r.TransportPinned = true
		}
		s.resolve(r, explicitPort)
		done <- nil
	})
	return <-done
}

// Cancel is idempotent. If no provisional has arrived yet, cancellation is
// latent: it is recorded but no ctrans-cancel is issued, since there is no
// transaction in the SIP sense to cancel before a provisional accepts it.
// Once a provisional has arrived, the active transaction is canceled
// immediately.
func (s *Stack) Cancel(r *Request) {
	s.enqueue(func() {
		if r.Canceled {
			return
		}
		r.Canceled = true
		if r.ProvisionalReceived && r.txn != nil {
			r.txn.Cancel()
		}
	})
}

// Drop implements the external-drop lifecycle rule: if r is still stateful
// and in flight, detach the user callbacks, null the out-handle, and
// cancel. The Request self-retains (it is still linked on the Stack's
// request list) until the transaction layer's callback resolves the
// cancellation.
func (s *Stack) Drop(r *Request) {
	s.enqueue(func() {
		if !r.listed || !r.Stateful {
			return
		}
		r.dropped = true
		r.SendCallback = nil
		r.ResponseCallback = nil
		if r.OutHandle != nil {
			r.OutHandle.Req = nil
			r.OutHandle = nil
		}
		if r.Canceled {
			return
		}
		r.Canceled = true
		if r.ProvisionalReceived && r.txn != nil {
			r.txn.Cancel()
		}
	})
}

// terminate unlinks r from the Stack's request list and fires the user
// callback exactly once, per invariant 6 and 2. For a non-stateful Request
// the response callback never fires regardless of err/status.
func (s *Stack) terminate(r *Request, err error, status int, message []byte) {
	s.unregister(r)

	if r.dropped {
		s.log.Debug("terminating dropped request", "method", r.Method, "uri", r.URI, "err", err)
	}

	if r.OutHandle != nil {
		r.OutHandle.Req = nil
		r.OutHandle = nil
	}

	if r.Stateful && r.ResponseCallback != nil {
		r.ResponseCallback(err, status, message)
	}
	r.ResponseCallback = nil
	r.SendCallback = nil
}
