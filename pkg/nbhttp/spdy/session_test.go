package spdy

import (
	"net"
	"testing"
	"time"

	"github.com/yourusername/nbhttp/pkg/nbhttp/message"
	"github.com/yourusername/nbhttp/pkg/nbhttp/reactor"
	"github.com/yourusername/nbhttp/pkg/nbhttp/tcpconn"
)

func pipePair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	acceptCh := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		acceptCh <- c
	}()
	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return client, <-acceptCh
}

func bindSession(t *testing.T, r *reactor.Reactor, nc net.Conn, opts Options) *Session {
	t.Helper()
	s := New(opts)
	connOpts := tcpconn.DefaultOptions()
	connOpts.DisableTuning = true
	done := make(chan struct{})
	r.Post(func() {
		conn := tcpconn.New(r, nc, s.Callbacks(), connOpts)
		s.Bind(conn)
		close(done)
	})
	<-done
	return s
}

func TestClientServerStreamRoundTrip(t *testing.T) {
	clientConn, serverConn := pipePair(t)

	r := reactor.New(reactor.Options{})
	go r.Run()
	t.Cleanup(r.Stop)

	var gotMethod, gotURL string
	serverHandler := func(method, url, version string, hdr *message.Header, reply ReplyStartFunc, pause func(bool)) (StreamBodyFunc, StreamDoneFunc) {
		gotMethod, gotURL = method, url
		respHdr := &message.Header{}
		respHdr.Add("Content-Type", "text/plain")
		respBody, respDone := reply(200, respHdr)
		respBody([]byte("pong"))
		respDone(nil)
		return nil, nil
	}
	bindSession(t, r, serverConn, Options{Role: RoleServer, Handler: serverHandler})
	clientSession := bindSession(t, r, clientConn, Options{Role: RoleClient})

	type result struct {
		status int
		body   string
	}
	resCh := make(chan result, 1)

	r.Post(func() {
		var body []byte
		var status int
		_, reqDone, err := clientSession.OpenStream("GET", "/ping", "HTTP/1.1", &message.Header{}, ReplyCallbacks{
			OnReply: func(s int, version string, hdr *message.Header) { status = s },
			OnBody:  func(chunk []byte) { body = append(body, chunk...) },
			OnDone:  func(error) { resCh <- result{status: status, body: string(body)} },
		})
		if err != nil {
			t.Errorf("OpenStream: %v", err)
			return
		}
		reqDone(nil)
	})

	select {
	case res := <-resCh:
		if res.status != 200 || res.body != "pong" {
			t.Fatalf("got status=%d body=%q", res.status, res.body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream never completed")
	}

	if gotMethod != "GET" || gotURL != "/ping" {
		t.Fatalf("server saw method=%q url=%q", gotMethod, gotURL)
	}
}

func TestEvenStreamIDFromClientClosesSession(t *testing.T) {
	rawConn, serverConn := pipePair(t)

	r := reactor.New(reactor.Options{})
	go r.Run()
	t.Cleanup(r.Stop)

	bindSession(t, r, serverConn, Options{Role: RoleServer})

	// A server-role session expects client-initiated (odd) stream ids;
	// stream id 2 here is a parity violation and should close the
	// connection rather than be accepted.
	badPayload := []byte{0x00, 0x00, 0x00, 0x02, 0x00, 0x00}
	wire := PackControlFrame(SynStream, FlagNone, badPayload)
	rawConn.Write(wire)

	rawConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 16)
	n, err := rawConn.Read(buf)
	if n != 0 || err == nil {
		t.Fatalf("expected session to close the connection on a parity violation, got n=%d err=%v", n, err)
	}
}
