package dispatch

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Stack is the single-threaded cooperative engine that owns every Request
// it tracks. Exactly one goroutine — run by Start — executes all Request
// mutation and all collaborator callbacks; every other goroutine (DNS
// resolver, transport, ctrans) communicates with it only by enqueueing a
// closure on cmds. This mirrors the teacher's recvLoop/workerLoop channel
// hand-off, narrowed to exactly one consumer so a Request never needs
// internal locking.
type Stack struct {
	log *slog.Logger

	resolver  DNSResolver
	transport TransportProvider
	ctrans    ClientTransactions

	defaultTransport Transport
	cooldown         *cooldownMap
	affinity         AffinityStore

	cmds   chan func()
	done   chan struct{}
	closed bool

	mu       sync.Mutex // guards requests map membership from Allocate/external reads only
	requests map[*Request]struct{}
}

// StackOptions configures a new Stack.
type StackOptions struct {
	Logger           *slog.Logger
	Resolver         DNSResolver
	Transport        TransportProvider
	Ctrans           ClientTransactions
	DefaultTransport Transport
	CooldownPeriod   time.Duration
	QueueDepth       int

	// Affinity, when non-nil, is consulted when live DNS resolution comes
	// up empty and fed every successfully resolved address queue. Leave
	// nil to resolve purely from DNS, as before.
	Affinity AffinityStore
}

// NewStack constructs a Stack. Call Start to begin its event loop.
func NewStack(opts StackOptions) *Stack {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	depth := opts.QueueDepth
	if depth <= 0 {
		depth = 256
	}
	return &Stack{
		log:              opts.Logger,
		resolver:         opts.Resolver,
		transport:        opts.Transport,
		ctrans:           opts.Ctrans,
		defaultTransport: opts.DefaultTransport,
		cooldown:         newCooldownMap(opts.CooldownPeriod),
		affinity:         opts.Affinity,
		cmds:             make(chan func(), depth),
		done:             make(chan struct{}),
		requests:         make(map[*Request]struct{}),
	}
}

// Start launches the event loop on its own goroutine and returns at once.
// The loop stops when Shutdown is called, after running the commands still
// queued.
func (s *Stack) Start() {
	go s.run()
}

func (s *Stack) run() {
	for {
		select {
		case fn, ok := <-s.cmds:
			if !ok {
				return
			}
			fn()
		case <-s.done:
			s.drainAndClose()
			return
		}
	}
}

func (s *Stack) drainAndClose() {
	for {
		select {
		case fn := <-s.cmds:
			fn()
		default:
			return
		}
	}
}

// enqueue schedules fn to run on the event-loop goroutine. Safe to call
// from any goroutine, including from within the loop itself.
func (s *Stack) enqueue(fn func()) {
	select {
	case s.cmds <- fn:
	case <-s.done:
	}
}

// register links r into the stack's request list (invariant 6 requires it
// be unlinked again before the terminal callback fires).
func (s *Stack) register(r *Request) {
	s.mu.Lock()
	s.requests[r] = struct{}{}
	s.mu.Unlock()
	r.listed = true
}

func (s *Stack) unregister(r *Request) {
	if !r.listed {
		return
	}
	s.mu.Lock()
	delete(s.requests, r)
	s.mu.Unlock()
	r.listed = false
}

// CloseAll aborts every outstanding Request with ErrConnectionAborted. It
// may be called from any goroutine; the actual teardown runs on the loop.
func (s *Stack) CloseAll() {
	done := make(chan struct{})
	s.enqueue(func() {
		s.mu.Lock()
		reqs := make([]*Request, 0, len(s.requests))
		for r := range s.requests {
			reqs = append(reqs, r)
		}
		s.mu.Unlock()
		for _, r := range reqs {
			s.abort(r, fmt.Errorf("%w", ErrConnectionAborted))
		}
		close(done)
	})
	<-done
}

// Shutdown stops the event loop after CloseAll has run. Safe to call once.
func (s *Stack) Shutdown() {
	s.CloseAll()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
}

func (s *Stack) abort(r *Request, err error) {
	// Mark canceled first so any DNS callback still in flight for this
	// Request is a no-op when it eventually lands on the loop.
	r.Canceled = true
	if r.txn != nil {
		r.txn.Cancel()
		r.txn = nil
	}
	s.terminate(r, err, 0, nil)
}
