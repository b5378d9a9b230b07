// Package tcpconn implements C2: a push-style TCP connection wrapper
// with buffered writes, bidirectional pause/resume, and close-after-drain
// semantics, on top of a reactor.Reactor dispatch thread.
package tcpconn

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/valyala/bytebufferpool"

	"github.com/yourusername/nbhttp/pkg/nbhttp/logctx"
	"github.com/yourusername/nbhttp/pkg/nbhttp/reactor"
)

const (
	// DefaultReadBufSize is §4.2's 16 KiB read buffer default.
	DefaultReadBufSize = 16 * 1024
	// DefaultWriteBufChunks is §4.2's write_bufsize default: 16 chunks.
	DefaultWriteBufChunks = 16
)

// Callbacks is the owner-supplied callback set described in §4.2.
type Callbacks struct {
	// OnRead delivers a slice of newly received bytes. The slice is
	// only valid for the duration of the call.
	OnRead func(data []byte)
	// OnClose fires exactly once, however the connection ended
	// (peer close, local close, or fatal error).
	OnClose func()
	// OnPause fires when the outbound write buffer crosses
	// WriteBufChunks (true) and again once it drains back below the
	// threshold (false).
	OnPause func(paused bool)
}

// Options configures a Conn.
type Options struct {
	ReadBufSize     int
	WriteBufChunks  int
	Logger          logctx.Logger
	DisableTuning   bool // skip platform socket tuning (useful in tests)
}

// DefaultOptions returns §4.2/§6's defaults.
func DefaultOptions() Options {
	return Options{
		ReadBufSize:    DefaultReadBufSize,
		WriteBufChunks: DefaultWriteBufChunks,
	}
}

func (o Options) withDefaults() Options {
	if o.ReadBufSize <= 0 {
		o.ReadBufSize = DefaultReadBufSize
	}
	if o.WriteBufChunks <= 0 {
		o.WriteBufChunks = DefaultWriteBufChunks
	}
	if o.Logger == nil {
		o.Logger = logctx.Discard()
	}
	return o
}

// Conn is a push-style TCP connection. All of its callbacks are invoked
// on the reactor's loop goroutine; Write, Pause, and Close are safe to
// call from that same goroutine (re-entrantly) or from elsewhere.
type Conn struct {
	opts Options
	r    *reactor.Reactor
	nc   net.Conn
	cb   Callbacks

	// inbound pause, requested by the owner via Pause(true)
	readPaused   boolFlag
	resumeSignal chan struct{}

	// outbound write queue, drained by a dedicated writer goroutine so
	// a full TCP send buffer never blocks the reactor's dispatch thread
	writeMu      sync.Mutex
	writeQueue   []*bytebufferpool.ByteBuffer
	pausedOnSend bool
	closing      bool
	writerWake   chan struct{}

	closed   boolFlag
	closedCh chan struct{}
}

// boolFlag is a tiny CAS-based latch used for cross-goroutine flags
// (closed, read-paused) that don't carry enough state to warrant a
// full mutex.
type boolFlag struct{ v atomic.Int32 }

// set performs a CAS from !to to to, reporting whether it changed the
// value (used by finalize to make Close/peer-close idempotent).
func (f *boolFlag) set(to bool) (changed bool) {
	var want int32
	if to {
		want = 1
	}
	var from int32
	if !to {
		from = 1
	}
	return f.v.CompareAndSwap(from, want)
}
func (f *boolFlag) store(v int32) { f.v.Store(v) }
func (f *boolFlag) get() bool     { return f.v.Load() != 0 }

// New wraps an established net.Conn and starts its reader goroutine.
// Callbacks fire on r's loop goroutine from this point on.
func New(r *reactor.Reactor, nc net.Conn, cb Callbacks, opts Options) *Conn {
	opts = opts.withDefaults()
	c := &Conn{
		opts:         opts,
		r:            r,
		nc:           nc,
		cb:           cb,
		resumeSignal: make(chan struct{}, 1),
		writerWake:   make(chan struct{}, 1),
		closedCh:     make(chan struct{}),
	}
	if !opts.DisableTuning {
		tune(nc)
	}
	go c.readLoop()
	go c.writeLoop()
	return c
}

// Write appends data to the outbound queue. Crossing WriteBufChunks
// fires OnPause(true); chunks queue independently rather than sharing
// one contiguous buffer so backpressure can be observed between chunk
// boundaries.
func (c *Conn) Write(data []byte) {
	if len(data) == 0 {
		return
	}
	buf := bytebufferpool.Get()
	buf.Write(data)

	c.writeMu.Lock()
	c.writeQueue = append(c.writeQueue, buf)
	qlen := len(c.writeQueue)
	crossed := qlen >= c.opts.WriteBufChunks && !c.pausedOnSend
	if crossed {
		c.pausedOnSend = true
	}
	c.writeMu.Unlock()

	if crossed {
		// Deferred to the end of the current turn (Design Notes,
		// "Pause as capability vs. ambient") to avoid re-entrant
		// mutation while a handler is still running inside Write, and
		// to keep every read of c.cb on the loop goroutine (Rebind
		// also only ever runs there).
		c.r.Post(func() {
			if c.cb.OnPause != nil {
				c.cb.OnPause(true)
			}
		})
	}
	nonBlockingSend(c.writerWake)
}

// Pause toggles inbound read delivery. While paused, the reader
// goroutine stops issuing new reads after the one already in flight
// completes, so at most one buffer is ever held back — the practical
// analogue, in a goroutine-based connection, of "bytes accumulate in
// kernel buffers" (I3): we can't un-read from the kernel once a Read
// call has returned, so we hold the one outstanding buffer instead of
// delivering it.
func (c *Conn) Pause(paused bool) {
	c.readPaused.store(b2i(paused))
	if !paused {
		nonBlockingSend(c.resumeSignal)
	}
}

// Close implements §4.2: pause reads immediately; close now if the
// write buffer is empty, otherwise drain first.
func (c *Conn) Close() {
	c.readPaused.store(1)

	c.writeMu.Lock()
	empty := len(c.writeQueue) == 0
	if !empty {
		c.closing = true
	}
	c.writeMu.Unlock()

	if empty {
		c.finalize()
		return
	}
	nonBlockingSend(c.writerWake)
}

// RemoteAddr/LocalAddr mirror net.Conn for diagnostics.
func (c *Conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }
func (c *Conn) LocalAddr() net.Addr  { return c.nc.LocalAddr() }

// Connected reports whether the connection is still open. The pool
// (C3) uses this to decide between handing a connection back to a new
// owner and discarding it.
func (c *Conn) Connected() bool { return !c.closed.get() }

// Rebind installs a new callback set, used by the connection pool when
// an idle connection is handed to a new owner (§4.3's "install new
// callbacks"). Must be called from the reactor's loop goroutine, same
// as every other callback-reading path on Conn.
func (c *Conn) Rebind(cb Callbacks) {
	c.cb = cb
}

func (c *Conn) finalize() {
	if !c.closed.set(true) {
		return
	}
	close(c.closedCh)
	_ = c.nc.Close()
	if c.cb.OnClose != nil {
		c.r.Post(c.cb.OnClose)
	}
}

func (c *Conn) readLoop() {
	buf := make([]byte, c.opts.ReadBufSize)
	for {
		if c.closed.get() {
			return
		}
		if c.readPaused.get() {
			select {
			case <-c.resumeSignal:
				continue
			case <-c.closedCh:
				return
			}
		}

		n, err := c.nc.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			// A read already in flight when Pause(true) arrived is held
			// here until the owner resumes.
			for c.readPaused.get() {
				select {
				case <-c.resumeSignal:
				case <-c.closedCh:
					return
				}
			}
			c.r.Post(func() { c.deliverRead(chunk) })
		}
		if err != nil {
			c.handleReadErr(err, n)
			return
		}
		if n == 0 {
			// Defensive: a zero-length, nil-error read is the
			// "empty recv" peer-close path in §4.2.
			c.r.Post(c.finalize)
			return
		}
	}
}

func (c *Conn) deliverRead(data []byte) {
	if c.closed.get() {
		return
	}
	if c.cb.OnRead != nil {
		c.cb.OnRead(data)
	}
}

func (c *Conn) handleReadErr(err error, n int) {
	switch classify(err) {
	case errPeerClosed:
		c.r.Post(c.finalize)
	case errResourceExhausted:
		c.r.Post(func() {
			c.opts.Logger.Error("tcpconn: resource exhausted on read", logctx.F("err", err.Error()))
			c.finalize()
		})
	default:
		c.r.Post(func() {
			c.opts.Logger.Warn("tcpconn: read error", logctx.F("err", err.Error()))
			c.finalize()
		})
	}
}

func (c *Conn) writeLoop() {
	for {
		c.writeMu.Lock()
		if len(c.writeQueue) == 0 {
			closing := c.closing
			c.writeMu.Unlock()
			if closing {
				c.r.Post(c.finalize)
				return
			}
			select {
			case <-c.writerWake:
				continue
			case <-c.closedCh:
				return
			}
		}
		// The chunk stays at the head of the queue until it has been
		// written, so Close sees a non-empty buffer and waits for it.
		buf := c.writeQueue[0]
		c.writeMu.Unlock()

		_, err := c.nc.Write(buf.B)
		if err != nil {
			c.handleWriteErr(err)
			return
		}

		c.writeMu.Lock()
		c.writeQueue = c.writeQueue[1:]
		remaining := len(c.writeQueue)
		c.writeMu.Unlock()
		bytebufferpool.Put(buf)

		if remaining < c.opts.WriteBufChunks {
			c.writeMu.Lock()
			wasPaused := c.pausedOnSend
			if wasPaused {
				c.pausedOnSend = false
			}
			c.writeMu.Unlock()
			if wasPaused {
				c.r.Post(func() {
					if c.cb.OnPause != nil {
						c.cb.OnPause(false)
					}
				})
			}
		}
	}
}

func (c *Conn) handleWriteErr(err error) {
	switch classify(err) {
	case errPeerClosed:
		c.r.Post(c.finalize)
	default:
		c.r.Post(func() {
			c.opts.Logger.Warn("tcpconn: write error", logctx.F("err", err.Error()))
			c.finalize()
		})
	}
}

func nonBlockingSend(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func b2i(b bool) int32 {
	if b {
		return 1
	}
	return 0
}
