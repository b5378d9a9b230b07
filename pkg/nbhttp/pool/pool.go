// Package pool implements C3: a process-wide (or, here, reactor-scoped —
// see Design Notes "Global connection pool") idle-connection pool keyed
// by (host, port), used by the HTTP client connection (C6) to enable
// bounded retry on a pre-response peer close and to reuse warm
// sockets.
package pool

import (
	"fmt"
	"net"
	"time"

	"github.com/yourusername/nbhttp/pkg/nbhttp/logctx"
	"github.com/yourusername/nbhttp/pkg/nbhttp/reactor"
	"github.com/yourusername/nbhttp/pkg/nbhttp/tcpconn"
)

// DefaultConnectTimeout is §4.3's connect timeout for a fresh pool
// connection (tighter than the client's own default connect timeout).
const DefaultConnectTimeout = 3 * time.Second

// Options configures a Pool.
type Options struct {
	ConnectTimeout time.Duration
	ConnOptions    tcpconn.Options
	Logger         logctx.Logger
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.Logger == nil {
		o.Logger = logctx.Discard()
	}
	return o
}

// Pool owns a non-owning reference to a reactor and the bucket map.
// Per Design Notes "Global connection pool", this replaces the
// reference implementation's process-wide mutable map: a Pool is an
// explicit value a ClientContext owns, scoped to one reactor, and is
// only ever touched from that reactor's loop goroutine (so no locks are
// needed here either).
type Pool struct {
	r       *reactor.Reactor
	opts    Options
	buckets map[string][]*tcpconn.Conn
}

// New creates a Pool bound to r. All of Pool's methods must be called
// from r's loop goroutine.
func New(r *reactor.Reactor, opts Options) *Pool {
	return &Pool{
		r:       r,
		opts:    opts.withDefaults(),
		buckets: make(map[string][]*tcpconn.Conn),
	}
}

func key(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}

// Attach implements §4.3's attach: pop an idle connection for
// (host, port) if one is still live, rebind its callbacks, and hand it
// back via onConn; otherwise dial fresh with the pool's connect
// timeout. onErr receives any connect failure.
func (p *Pool) Attach(host string, port int, cb tcpconn.Callbacks, onConn func(*tcpconn.Conn, bool), onErr func(error)) {
	k := key(host, port)
	for {
		bucket := p.buckets[k]
		if len(bucket) == 0 {
			break
		}
		// LIFO: warm sockets tend to be the most recently used ones.
		last := len(bucket) - 1
		conn := bucket[last]
		p.buckets[k] = bucket[:last]

		if !conn.Connected() {
			continue // discard and retry, per §4.3
		}
		conn.Rebind(cb)
		onConn(conn, true)
		return
	}

	p.r.CreateClient(host, port, func(nc net.Conn) {
		conn := tcpconn.New(p.r, nc, cb, p.opts.ConnOptions)
		onConn(conn, false)
	}, onErr, p.opts.ConnectTimeout)
}

// Release implements §4.3's release: if the connection is still open,
// install a close callback that silently removes it from its bucket
// and append it to the idle list; a connection that is already closed
// is simply dropped.
func (p *Pool) Release(host string, port int, conn *tcpconn.Conn) {
	if !conn.Connected() {
		return
	}
	k := key(host, port)
	conn.Rebind(tcpconn.Callbacks{
		OnClose: func() { p.evict(k, conn) },
	})
	p.buckets[k] = append(p.buckets[k], conn)
}

// evict removes conn from its bucket; races with a peer closing a
// pooled connection are handled by Attach's Connected() check, so a
// double-removal here is harmless (I4).
func (p *Pool) evict(k string, conn *tcpconn.Conn) {
	bucket := p.buckets[k]
	for i, c := range bucket {
		if c == conn {
			p.buckets[k] = append(bucket[:i], bucket[i+1:]...)
			return
		}
	}
}

// Idle returns the number of idle connections currently pooled for
// (host, port); primarily useful for tests and diagnostics.
func (p *Pool) Idle(host string, port int) int {
	return len(p.buckets[key(host, port)])
}
