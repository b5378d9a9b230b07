package httpserver

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

	type result struct {
		c net.Conn
	}
	acceptCh := make(chan result, 1)
	go func() {
		c, _ := ln.Accept()
		acceptCh <- result{c}
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	res := <-acceptCh
	return client, res.c
}

func newServerConn(t *testing.T, handler Handler) (*Connection, net.Conn) {
	t.Helper()
	client, server := pipePair(t)

	r := reactor.New(reactor.Options{})
	go r.Run()
	t.Cleanup(r.Stop)

	sc := New(handler, Options{})
	connOpts := tcpconn.DefaultOptions()
	connOpts.DisableTuning = true

	done := make(chan struct{})
	r.Post(func() {
		conn := tcpconn.New(r, server, sc.Callbacks(), connOpts)
		sc.Bind(conn)
		close(done)
	})
	<-done
	return sc, client
}

func readAll(t *testing.T, c net.Conn, timeout time.Duration) []byte {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, 4096)
	n, err := c.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return buf[:n]
}

func TestSimpleRequestResponse(t *testing.T) {
	_, client := newServerConn(t, func(method, target string, hdr *message.Header, resStart ResStartFunc, pause func(bool)) (ReqBodyFunc, ReqDoneFunc) {
		h := &message.Header{}
		h.Add("Content-Type", "text/plain")
		resBody, resDone := resStart(200, "OK", h, nil)
		resBody([]byte("hi"))
		resDone(nil)
		return nil, nil
	})
	defer client.Close()

	client.Write([]byte("GET /a HTTP/1.1\r\nHost: x\r\n\r\n"))

	got := readAll(t, client, 2*time.Second)
	want := "HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nTransfer-Encoding: chunked\r\n\r\n2\r\nhi\r\n0\r\n\r\n"
	if string(got) != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestPipelinedRequestsServedInOrder(t *testing.T) {
	var order []string
	_, client := newServerConn(t, func(method, target string, hdr *message.Header, resStart ResStartFunc, pause func(bool)) (ReqBodyFunc, ReqDoneFunc) {
		order = append(order, target)
		_, resDone := resStart(200, "OK", &message.Header{}, nil)
		resDone(nil)
		return nil, nil
	})
	defer client.Close()

	client.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\nGET / HTTP/1.1\r\nHost: x\r\n\r\n"))
	time.Sleep(200 * time.Millisecond)

	if len(order) != 2 {
		t.Fatalf("expected 2 requests handled, got %d: %v", len(order), order)
	}
}

func TestChunkedRequestBody(t *testing.T) {
	bodyCh := make(chan string, 1)
	_, client := newServerConn(t, func(method, target string, hdr *message.Header, resStart ResStartFunc, pause func(bool)) (ReqBodyFunc, ReqDoneFunc) {
		var body []byte
		return func(chunk []byte) {
				body = append(body, chunk...)
			}, func(err error) {
				bodyCh <- string(body)
				_, resDone := resStart(200, "OK", &message.Header{}, nil)
				resDone(nil)
			}
	})
	defer client.Close()

	client.Write([]byte("POST /p HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n0\r\n\r\n"))

	select {
	case body := <-bodyCh:
		if body != "hello" {
			t.Fatalf("got body %q", body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("req_done never fired")
	}
}

func TestMissingHostYieldsSynthetic400(t *testing.T) {
	_, client := newServerConn(t, func(method, target string, hdr *message.Header, resStart ResStartFunc, pause func(bool)) (ReqBodyFunc, ReqDoneFunc) {
		t.Fatal("handler should not be invoked for a buffered pre-start error")
		return nil, nil
	})
	defer client.Close()

	client.Write([]byte("GET / HTTP/1.1\r\n\r\n"))
	got := readAll(t, client, 2*time.Second)
	if len(got) < len("HTTP/1.1 400") || string(got[:12]) != "HTTP/1.1 400" {
		t.Fatalf("expected synthetic 400, got %q", got)
	}
	if !containsSubstring(string(got), "X-Error-Kind: HOST_REQ") {
		t.Fatalf("expected X-Error-Kind debugging header, got %q", got)
	}
}

func containsSubstring(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
