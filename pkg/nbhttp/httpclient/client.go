// Package httpclient implements C6: a push-style HTTP/1.1 client
// connection built on the connection pool (C3) and the shared parser
// (C4), offering the req_start/req_body/req_done contract of §4.6.
package httpclient

import (
	"net/url"
	"strconv"

	"github.com/valyala/bytebufferpool"

	"github.com/yourusername/nbhttp/pkg/nbhttp/logctx"
	"github.com/yourusername/nbhttp/pkg/nbhttp/message"
	"github.com/yourusername/nbhttp/pkg/nbhttp/pool"
	"github.com/yourusername/nbhttp/pkg/nbhttp/tcpconn"
)

// DefaultRetryLimit is §4.6's retry bound: a request may
// be resent at most this many times after a pre-response peer close.
const DefaultRetryLimit = 2

// RoundTripper is the req_start 2-tuple contract shared by every
// upstream protocol a forward proxy might dial: Client (HTTP/1.1) and
// spdy.ClientSession (SPDY/1) both implement it, so proxy composition
// can be written against one interface regardless of which protocol
// was negotiated with the upstream.
type RoundTripper interface {
	ReqStart(method, uri string, hdr *message.Header, reqBodyPause func(bool), cbs ResponseCallbacks) (reqBody func([]byte), reqDone func(error))
}

// ResponseCallbacks is the application's view of one request's
// response, per §4.6's res_start/res_body/res_done triple pushed back
// to the caller of ReqStart.
type ResponseCallbacks struct {
	OnStart func(status int, reason string, hdr *message.Header)
	OnBody  func(chunk []byte)
	OnDone  func(err error)
}

// Options configures a Client.
type Options struct {
	RetryLimit int
	Logger     logctx.Logger
}

func (o Options) withDefaults() Options {
	if o.RetryLimit <= 0 {
		o.RetryLimit = DefaultRetryLimit
	}
	if o.Logger == nil {
		o.Logger = logctx.Discard()
	}
	return o
}

// Client issues requests over a shared connection pool.
type Client struct {
	pool *pool.Pool
	opts Options
}

// New creates a Client drawing connections from p.
func New(p *pool.Pool, opts Options) *Client {
	return &Client{pool: p, opts: opts.withDefaults()}
}

// ReqStart begins a request per §4.6: rawURL must be an absolute
// http:// URI. hdr is the caller's outbound header set; Host and
// hop-by-hop fields are stripped and replaced with the derived
// authority and "Connection: keep-alive". reqBodyPause, if non-nil, is
// invoked with the connection's own write-backpressure state so the
// caller can slow production of further reqBody chunks; pass nil to
// ignore it. The returned reqBody/reqDone pair streams the request
// body; writing more than a declared Content-Length is a caller-
// contract violation and panics.
func (c *Client) ReqStart(method, rawURL string, hdr *message.Header, reqBodyPause func(bool), cbs ResponseCallbacks) (reqBody func([]byte), reqDone func(error)) {
	host, port, path, uerr := parseAbsoluteHTTPURL(rawURL)
	if uerr != nil {
		if cbs.OnDone != nil {
			cbs.OnDone(uerr)
		}
		return func([]byte) {}, func(error) {}
	}

	rs := &requestState{
		c:            c,
		host:         host,
		port:         port,
		method:       method,
		path:         path,
		cbs:          cbs,
		reqBodyPause: reqBodyPause,
		idempotent:   message.IsIdempotent(method),
	}
	rs.buildOutboundHeader(hdr, host, port)

	cb := tcpconn.Callbacks{OnRead: rs.onRead, OnClose: rs.onClose, OnPause: rs.onPause}
	c.pool.Attach(host, port, cb, rs.onConn, rs.onConnErr)

	return rs.reqBody, rs.reqDone
}

// requestState tracks one in-flight request/response cycle.
type requestState struct {
	c      *Client
	host   string
	port   int
	method string
	path   string
	hdrOut *message.Header

	hasCL       bool
	clRemaining int64
	pending     [][]byte

	conn   *tcpconn.Conn
	parser *message.Parser
	cbs    ResponseCallbacks

	reqBodyPause func(bool)

	idempotent  bool
	retryCount  int
	sawAnyBytes bool
	reusable    bool
	finished    bool
}

func (rs *requestState) buildOutboundHeader(hdr *message.Header, host string, port int) {
	out := hdr.Clone().StripHopByHop()
	out.Del("Host")
	if port == 80 {
		out.Set("Host", host)
	} else {
		out.Set("Host", host+":"+strconv.Itoa(port))
	}
	out.Set("Connection", "keep-alive")

	if v, ok := out.Get("Content-Length"); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			rs.hasCL = true
			rs.clRemaining = n
		}
	}
	rs.hdrOut = out
}

// reqBody streams one request body chunk, buffering it if the
// connection hasn't been obtained from the pool yet.
func (rs *requestState) reqBody(chunk []byte) {
	if rs.finished || len(chunk) == 0 {
		return
	}
	if rs.hasCL {
		if int64(len(chunk)) > rs.clRemaining {
			panic("httpclient: request body write exceeds declared Content-Length")
		}
		rs.clRemaining -= int64(len(chunk))
	}
	if rs.conn == nil {
		cp := make([]byte, len(chunk))
		copy(cp, chunk)
		rs.pending = append(rs.pending, cp)
		return
	}
	rs.conn.Write(chunk)
}

// reqDone marks the request body complete; err aborts the connection
// (no response will be awaited).
func (rs *requestState) reqDone(err error) {
	if err != nil && rs.conn != nil && !rs.finished {
		rs.finished = true
		rs.conn.Close()
	}
}

// onConn fires once a pooled or freshly dialed connection is ready:
// it writes the request line, headers, and any buffered body, then
// arms the response parser.
func (rs *requestState) onConn(conn *tcpconn.Conn, reused bool) {
	rs.conn = conn
	rs.sawAnyBytes = false
	rs.parser = message.NewParser(message.ModeResponse, message.Callbacks{
		OnStartLine: rs.onStartLine,
		OnBody:      rs.onBody,
		OnComplete:  rs.onComplete,
	})
	rs.parser.DisablePipelining() // one response per request, §8 scenario 6

	buf := bytebufferpool.Get()
	message.WriteRequestLine(buf, rs.method, rs.path)
	message.WriteHeaders(buf, rs.hdrOut)
	conn.Write(buf.B)
	bytebufferpool.Put(buf)

	for _, chunk := range rs.pending {
		conn.Write(chunk)
	}
	rs.pending = nil
}

// onPause forwards the connection's write-backpressure state to the
// caller-supplied reqBodyPause, per §4.6/§9's body-producer pause
// capability.
func (rs *requestState) onPause(paused bool) {
	if rs.reqBodyPause != nil {
		rs.reqBodyPause(paused)
	}
}

func (rs *requestState) onConnErr(err error) {
	if rs.finished {
		return
	}
	rs.finished = true
	if rs.cbs.OnDone != nil {
		rs.cbs.OnDone(&message.Error{Kind: message.KindConnect, Detail: err.Error()})
	}
}

func (rs *requestState) onRead(data []byte) {
	rs.sawAnyBytes = true
	if rs.finished {
		return
	}
	if ferr := rs.parser.Feed(data); ferr != nil {
		rs.finished = true
		rs.conn.Close()
		if rs.cbs.OnDone != nil {
			rs.cbs.OnDone(ferr)
		}
	}
}

// onClose implements §4.6's retry policy: a peer close observed before
// any response byte arrived, on an idempotent method, below the retry
// limit, re-attaches and resends; otherwise it surfaces a connect
// error.
func (rs *requestState) onClose() {
	if rs.finished {
		return
	}
	if !rs.sawAnyBytes && rs.idempotent && rs.retryCount < rs.c.opts.RetryLimit {
		rs.retryCount++
		rs.conn = nil
		cb := tcpconn.Callbacks{OnRead: rs.onRead, OnClose: rs.onClose, OnPause: rs.onPause}
		rs.c.pool.Attach(rs.host, rs.port, cb, rs.onConn, rs.onConnErr)
		return
	}
	rs.finished = true
	if rs.cbs.OnDone != nil {
		rs.cbs.OnDone(&message.Error{Kind: message.KindConnect, Detail: "Server closed the connection."})
	}
}

// onStartLine decides response reusability per §4.6: HTTP/1.1+ without
// a "close" token, or HTTP/1.0 with an explicit "keep-alive" token.
func (rs *requestState) onStartLine(sl *message.StartLine, hdr *message.Header, startErr *message.Error) (bool, *message.Error) {
	connVal, _ := hdr.Get("Connection")
	hasClose := containsToken(connVal, "close")
	hasKeepAlive := containsToken(connVal, "keep-alive")

	if sl.AtLeast11() {
		rs.reusable = !hasClose
	} else {
		rs.reusable = hasKeepAlive
	}

	if rs.cbs.OnStart != nil {
		rs.cbs.OnStart(sl.StatusCode, sl.Reason, hdr)
	}
	return message.AllowsResponseBody(rs.method, sl.StatusCode), nil
}

func (rs *requestState) onBody(chunk []byte) {
	if rs.cbs.OnBody != nil {
		rs.cbs.OnBody(chunk)
	}
}

func (rs *requestState) onComplete() {
	rs.finished = true
	if rs.reusable {
		rs.c.pool.Release(rs.host, rs.port, rs.conn)
	} else {
		rs.conn.Close()
	}
	if rs.cbs.OnDone != nil {
		rs.cbs.OnDone(nil)
	}
}

// parseAbsoluteHTTPURL derives (host, port, path) from rawURL per
// §4.6: scheme must be "http", port defaults to 80, path defaults to
// "/".
func parseAbsoluteHTTPURL(rawURL string) (host string, port int, path string, ferr *message.Error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "http" || u.Hostname() == "" {
		return "", 0, "", &message.Error{Kind: message.KindURL, Detail: "not an absolute http URL"}
	}
	host = u.Hostname()
	port = 80
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 || n > 65535 {
			return "", 0, "", &message.Error{Kind: message.KindURL, Detail: "invalid port"}
		}
		port = n
	}
	path = u.RequestURI()
	if path == "" {
		path = "/"
	}
	return host, port, path, nil
}

func containsToken(headerValue, token string) bool {
	start := 0
	for i := 0; i <= len(headerValue); i++ {
		if i == len(headerValue) || headerValue[i] == ',' {
			if lowerEqTrim(headerValue[start:i], token) {
				return true
			}
			start = i + 1
		}
	}
	return false
}

func lowerEqTrim(s, want string) bool {
	for len(s) > 0 && (s[0] == ' ' || s[0] == '\t') {
		s = s[1:]
	}
	for len(s) > 0 && (s[len(s)-1] == ' ' || s[len(s)-1] == '\t') {
		s = s[:len(s)-1]
	}
	if len(s) != len(want) {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 32
		}
		if c != want[i] {
			return false
		}
	}
	return true
}
