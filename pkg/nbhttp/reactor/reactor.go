// Package reactor implements the non-blocking, single-dispatch-thread
// scheduler (C1 in the design) that every other component in this module
// is built on. Real non-blocking socket readiness isn't exposed cleanly
// to user code in Go (unlike the epoll/kqueue reactors the original
// Python implementation wraps directly), so this reactor reconstructs
// the same cooperative-dispatch guarantee out of goroutines: exactly one
// goroutine (the loop goroutine) ever runs application callbacks or
// mutates connection/request state. Socket I/O happens on auxiliary
// goroutines that hand completed reads, accepted sockets, and connect
// results back to the loop goroutine through Post — never by touching
// shared state directly. That is what gives §5's "no locks" invariant
// its teeth: everything downstream of Post is single-threaded.
package reactor

import (
	"container/heap"
	"sync"
	"time"

	"github.com/yourusername/nbhttp/pkg/nbhttp/logctx"
)

// Options configures a Reactor.
type Options struct {
	// Logger receives structured diagnostics. Defaults to a discarding
	// logger if nil.
	Logger logctx.Logger

	// QueueSize bounds the number of pending Post()ed actions. The
	// default (4096) comfortably covers bursty accept/read traffic
	// without unbounded growth.
	QueueSize int
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = logctx.Discard()
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 4096
	}
	return o
}

// action is a unit of work destined for the loop goroutine.
type action func()

// Reactor is the single-threaded cooperative scheduler. All of its
// exported methods are safe to call from any goroutine; the bodies of
// callbacks it invokes (via Post, timers, listeners, or dialers) always
// run on the one loop goroutine.
type Reactor struct {
	opts Options

	actions chan action

	timersMu sync.Mutex // guards only the heap; never held during callback dispatch
	timers   timerHeap
	timerSeq uint64

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}

	wg sync.WaitGroup // auxiliary goroutines (listeners, dialers, readers)
}

// New creates a Reactor. Call Run to start dispatching.
func New(opts Options) *Reactor {
	opts = opts.withDefaults()
	return &Reactor{
		opts:    opts,
		actions: make(chan action, opts.QueueSize),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Post schedules fn to run on the loop goroutine, FIFO with respect to
// other Post calls and due timers. Safe to call from any goroutine,
// including from within a callback already running on the loop.
func (r *Reactor) Post(fn func()) {
	select {
	case r.actions <- action(fn):
	case <-r.stopCh:
	}
}

// TimerHandle is a cancellable handle returned by Schedule.
type TimerHandle struct {
	id uint64
	r  *Reactor
}

// Cancel prevents a pending timer from firing. Canceling an already-fired
// or already-canceled timer is a no-op.
func (h TimerHandle) Cancel() {
	if h.r == nil {
		return
	}
	h.r.timersMu.Lock()
	defer h.r.timersMu.Unlock()
	for i, t := range h.r.timers {
		if t.id() == h.id {
			heap.Remove(&h.r.timers, i)
			return
		}
	}
}

// Schedule arranges for cb to run on the loop goroutine after delta has
// elapsed. Timers with the same deadline fire in the order they were
// scheduled (stable FIFO), matching §4.1's requirement.
func (r *Reactor) Schedule(delta time.Duration, cb func()) TimerHandle {
	r.timersMu.Lock()
	r.timerSeq++
	t := &timerEntry{
		deadline: time.Now().Add(delta),
		seq:      r.timerSeq,
		cb:       cb,
	}
	heap.Push(&r.timers, t)
	r.timersMu.Unlock()
	return TimerHandle{id: t.id(), r: r}
}

func (e *timerEntry) id() uint64 { return e.seq }

// popDueTimer pops and returns the earliest timer if it is due, and the
// duration to wait for the next one otherwise (or false if none are
// scheduled).
func (r *Reactor) popDueTimer(now time.Time) (cb func(), wait time.Duration, hasWait bool) {
	r.timersMu.Lock()
	defer r.timersMu.Unlock()
	if len(r.timers) == 0 {
		return nil, 0, false
	}
	top := r.timers[0]
	if !top.deadline.After(now) {
		heap.Pop(&r.timers)
		return top.cb, 0, false
	}
	return nil, top.deadline.Sub(now), true
}

// Run dispatches Post()ed actions and due timers until Stop is called.
// It must be invoked from the goroutine that should become the single
// dispatch thread; all callback bodies execute here.
func (r *Reactor) Run() {
	defer close(r.doneCh)
	for {
		cb, wait, hasWait := r.popDueTimer(time.Now())
		if cb != nil {
			r.safeCall(cb)
			continue
		}

		var timerC <-chan time.Time
		if hasWait {
			timer := time.NewTimer(wait)
			timerC = timer.C
			defer timer.Stop()
		}

		select {
		case act := <-r.actions:
			r.safeCall(func() { act() })
		case <-timerC:
			// loop again; popDueTimer will pick it up
		case <-r.stopCh:
			r.drainBeforeExit()
			return
		}
	}
}

// drainBeforeExit runs any actions already queued at the moment Stop was
// called, so in-flight close_cb/read_cb sequences aren't dropped mid-turn.
func (r *Reactor) drainBeforeExit() {
	for {
		select {
		case act := <-r.actions:
			r.safeCall(func() { act() })
		default:
			return
		}
	}
}

func (r *Reactor) safeCall(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.opts.Logger.Error("reactor: callback panic", logctx.F("recover", rec))
		}
	}()
	fn()
}

// Stop signals Run to return after draining queued work. It does not
// wait for auxiliary goroutines (listeners/dialers/readers) spawned by
// CreateListener/CreateClient; callers that need a fully quiesced
// reactor should close those separately, then call Wait.
func (r *Reactor) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// Done returns a channel closed once Run has returned.
func (r *Reactor) Done() <-chan struct{} { return r.doneCh }

// Wait blocks until all auxiliary goroutines spawned by this reactor
// (accept loops, dial attempts, connection readers) have exited.
func (r *Reactor) Wait() { r.wg.Wait() }

// track registers a background goroutine with the reactor's WaitGroup so
// Wait can observe full shutdown.
func (r *Reactor) track(fn func()) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		fn()
	}()
}
