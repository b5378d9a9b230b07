package reactor

import (
	"errors"
	"net"

	"github.com/yourusername/nbhttp/pkg/nbhttp/logctx"
)

// Listener is the handle returned by CreateListener; Close stops the
// accept loop and closes the underlying socket.
type Listener struct {
	ln net.Listener
}

// Close stops accepting new connections.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Addr returns the address the listener is bound to.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// CreateListener binds host:port and invokes onAccept (on the loop
// goroutine) for every accepted connection. onAcceptErr is invoked (also
// on the loop goroutine) for every accept error other than the listener
// being closed; the accept loop keeps running after reporting it. A
// successful accept never calls it.
func (r *Reactor) CreateListener(network, addr string, onAccept func(net.Conn), onAcceptErr func(error)) (*Listener, error) {
	if network == "" {
		network = "tcp"
	}
	ln, err := net.Listen(network, addr)
	if err != nil {
		return nil, err
	}
	l := &Listener{ln: ln}

	r.track(func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				r.Post(func() {
					r.opts.Logger.Warn("reactor: accept error", logctx.F("err", err.Error()))
					if onAcceptErr != nil {
						onAcceptErr(err)
					}
				})
				continue
			}
			c := conn
			r.Post(func() { onAccept(c) })
		}
	})

	return l, nil
}
