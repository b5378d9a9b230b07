package httpclient

import (
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/yourusername/nbhttp/pkg/nbhttp/message"
	"github.com/yourusername/nbhttp/pkg/nbhttp/pool"
	"github.com/yourusername/nbhttp/pkg/nbhttp/reactor"
	"github.com/yourusername/nbhttp/pkg/nbhttp/tcpconn"
)

// acceptSequence serves conn behaviors in order, one per accepted
// connection, looping the last behavior for any further accepts.
func acceptSequence(t *testing.T, behaviors ...func(net.Conn)) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		i := 0
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			b := behaviors[i]
			if i < len(behaviors)-1 {
				i++
			}
			go b(c)
		}
	}()
	return ln
}

func splitHostPort(t *testing.T, addr net.Addr) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	return host, port
}

func newTestClient(t *testing.T) (*Client, *reactor.Reactor) {
	t.Helper()
	r := reactor.New(reactor.Options{})
	go r.Run()
	t.Cleanup(r.Stop)

	connOpts := tcpconn.DefaultOptions()
	connOpts.DisableTuning = true
	p := pool.New(r, pool.Options{ConnOptions: connOpts})
	return New(p, Options{}), r
}

func TestSimpleGetReceivesResponse(t *testing.T) {
	ln := acceptSequence(t, func(c net.Conn) {
		buf := make([]byte, 4096)
		c.Read(buf)
		c.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello"))
	})
	defer ln.Close()
	host, port := splitHostPort(t, ln.Addr())

	client, r := newTestClient(t)

	type result struct {
		status int
		body   string
		err    error
	}
	resCh := make(chan result, 1)

	r.Post(func() {
		var body []byte
		var status int
		hdr := &message.Header{}
		reqBody, reqDone := client.ReqStart("GET", "http://"+net.JoinHostPort(host, strconv.Itoa(port))+"/x", hdr, nil, ResponseCallbacks{
			OnStart: func(s int, reason string, h *message.Header) { status = s },
			OnBody:  func(chunk []byte) { body = append(body, chunk...) },
			OnDone: func(err error) {
				resCh <- result{status: status, body: string(body), err: err}
			},
		})
		_ = reqBody
		reqDone(nil)
	})

	select {
	case res := <-resCh:
		if res.err != nil {
			t.Fatalf("unexpected error: %v", res.err)
		}
		if res.status != 200 || res.body != "hello" {
			t.Fatalf("got status=%d body=%q", res.status, res.body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("response never arrived")
	}
}

func TestInvalidURLYieldsURLError(t *testing.T) {
	client, r := newTestClient(t)

	errCh := make(chan error, 1)
	r.Post(func() {
		_, reqDone := client.ReqStart("GET", "ftp://example.com/", &message.Header{}, nil, ResponseCallbacks{
			OnDone: func(err error) { errCh <- err },
		})
		reqDone(nil)
	})

	select {
	case err := <-errCh:
		if err == nil || !isURLError(err) {
			t.Fatalf("expected URL error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("never completed")
	}
}

func isURLError(err error) bool {
	e, ok := err.(*message.Error)
	return ok && e.Kind == message.KindURL
}

func TestPeerCloseBeforeResponseRetriesIdempotentGet(t *testing.T) {
	var mu sync.Mutex
	accepts := 0
	ln := acceptSequence(t,
		func(c net.Conn) {
			mu.Lock()
			accepts++
			mu.Unlock()
			c.Close() // no bytes at all: pre-response peer close
		},
		func(c net.Conn) {
			mu.Lock()
			accepts++
			mu.Unlock()
			buf := make([]byte, 4096)
			c.Read(buf)
			c.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"))
		},
	)
	defer ln.Close()
	host, port := splitHostPort(t, ln.Addr())

	client, r := newTestClient(t)

	resCh := make(chan string, 1)
	r.Post(func() {
		var body []byte
		_, reqDone := client.ReqStart("GET", "http://"+net.JoinHostPort(host, strconv.Itoa(port))+"/r", &message.Header{}, nil, ResponseCallbacks{
			OnBody: func(chunk []byte) { body = append(body, chunk...) },
			OnDone: func(err error) {
				if err != nil {
					resCh <- "ERR:" + err.Error()
					return
				}
				resCh <- string(body)
			},
		})
		reqDone(nil)
	})

	select {
	case got := <-resCh:
		if got != "ok" {
			t.Fatalf("expected retried request to succeed with body %q, got %q", "ok", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("retry never completed")
	}

	mu.Lock()
	defer mu.Unlock()
	if accepts != 2 {
		t.Fatalf("expected exactly 2 accepted connections (original + 1 retry), got %d", accepts)
	}
}
