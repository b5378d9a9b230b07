// Package httpserver implements C5: an HTTP/1.1 server connection
// wrapping a tcpconn.Conn with a message.Parser, maintaining the
// FIFO pipelining queue and the res_start/res_body/res_done contract
// pushed to application handlers.
package httpserver

import (
	"github.com/valyala/bytebufferpool"

	"github.com/yourusername/nbhttp/pkg/nbhttp/logctx"
	"github.com/yourusername/nbhttp/pkg/nbhttp/message"
	"github.com/yourusername/nbhttp/pkg/nbhttp/tcpconn"
)

// ResBodyFunc writes one response body chunk.
type ResBodyFunc func(chunk []byte)

// ResDoneFunc completes the response; err, if non-nil, forces the
// connection closed after this response per §4.5.
type ResDoneFunc func(err error)

// ResStartFunc begins the response per §4.5's res_start contract.
// resBodyPause is supplied by the caller (the application); the
// connection invokes it with true when its outbound write buffer
// crosses the pause threshold and false once it drains, so the
// application can throttle response body production.
type ResStartFunc func(status int, phrase string, hdr *message.Header, resBodyPause func(bool)) (ResBodyFunc, ResDoneFunc)

// ReqBodyFunc receives a request body chunk.
type ReqBodyFunc func(chunk []byte)

// ReqDoneFunc fires once the request is fully received, err set only
// on a framing fault.
type ReqDoneFunc func(err error)

// Handler is the application entry point pushed for every request.
type Handler func(method, target string, hdr *message.Header, resStart ResStartFunc, reqBodyPause func(bool)) (ReqBodyFunc, ReqDoneFunc)

// Options configures a Connection.
type Options struct {
	Logger logctx.Logger
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = logctx.Discard()
	}
	return o
}

// request is one FIFO queue entry tracking a single request/response
// cycle, per §3's "Connection state (HTTP server per request)".
type request struct {
	method  string
	target  string
	version message.StartLine
	hdr     *message.Header

	startErr *message.Error // buffered per-message fault, §4.5

	reqBody ReqBodyFunc
	reqDone ReqDoneFunc
	reqDoneFired bool

	started      bool
	respBDM      message.BDM
	respStatus   int
	resDone      ResDoneFunc
	resBodyPause func(bool)
}

// Connection is a push-style HTTP/1.1 server connection.
type Connection struct {
	opts    Options
	conn    *tcpconn.Conn
	parser  *message.Parser
	handler Handler

	queue []*request

	closedByUs bool
}

// New creates a Connection that serves requests to handler; the
// accepted tcpconn.Conn is attached afterwards with Bind. Caller is
// responsible for creating that conn with this Connection's Callbacks
// (see Callbacks()).
func New(handler Handler, opts Options) *Connection {
	c := &Connection{opts: opts.withDefaults(), handler: handler}
	c.parser = message.NewParser(message.ModeRequest, message.Callbacks{
		OnStartLine: c.onStartLine,
		OnBody:      c.onBody,
		OnComplete:  c.onComplete,
	})
	return c
}

// Bind attaches conn to this Connection; call before any data is fed.
func (c *Connection) Bind(conn *tcpconn.Conn) {
	c.conn = conn
}

// Callbacks returns the tcpconn.Callbacks a caller should supply when
// constructing the underlying tcpconn.Conn, wired back to this
// Connection's parsing and cleanup logic.
func (c *Connection) Callbacks() tcpconn.Callbacks {
	return tcpconn.Callbacks{
		OnRead:  c.onRead,
		OnClose: c.onClose,
		OnPause: c.onPause,
	}
}

// onPause forwards the connection's own outbound write-backpressure
// state to whichever response is currently being produced. Whole-
// connection pause is a simplification: pipelining shares one byte
// stream per connection, so there's no way to attribute write
// backpressure to one queued response rather than another.
func (c *Connection) onPause(paused bool) {
	if len(c.queue) == 0 {
		return
	}
	head := c.queue[0]
	if head.resBodyPause != nil {
		head.resBodyPause(paused)
	}
}

func (c *Connection) onRead(data []byte) {
	if err := c.parser.Feed(data); err != nil {
		c.opts.Logger.Warn("httpserver: parse error", logctx.F("err", err.Error()))
		if len(c.queue) > 0 {
			head := c.queue[0]
			if head.reqDone != nil && !head.reqDoneFired {
				head.reqDoneFired = true
				head.reqDone(err)
			}
		}
		c.conn.Close()
	}
}

func (c *Connection) onClose() {
	c.closedByUs = true
}

func (c *Connection) onStartLine(sl *message.StartLine, hdr *message.Header, startErr *message.Error) (bool, *message.Error) {
	req := &request{
		method:   sl.Method,
		target:   sl.Target,
		version:  *sl,
		hdr:      hdr,
		startErr: startErr,
	}
	c.queue = append(c.queue, req)
	if len(c.queue) == 1 {
		c.startHead()
	}
	return true, nil // request bodies are always framed from headers alone
}

func (c *Connection) onBody(chunk []byte) {
	if len(c.queue) == 0 {
		return
	}
	head := c.queue[0]
	if head.reqBody != nil {
		head.reqBody(chunk)
	}
}

func (c *Connection) onComplete() {
	if len(c.queue) == 0 {
		return
	}
	head := c.queue[0]
	if head.reqDone != nil && !head.reqDoneFired {
		head.reqDoneFired = true
		head.reqDone(nil)
	}
}

// startHead invokes the handler for the queue's head request, or
// synthesizes an error response if a pre-start fault was buffered.
func (c *Connection) startHead() {
	head := c.queue[0]
	head.started = true

	if head.startErr != nil {
		code, phrase := head.startErr.Kind.StatusPair()
		c.serveSynthetic(head, code, phrase, head.startErr.Kind.String(), head.startErr.Error())
		return
	}

	reqBody, reqDone := c.handler(head.method, head.target, head.hdr, c.makeResStart(head), c.conn.Pause)
	head.reqBody = reqBody
	head.reqDone = reqDone
}

// serveSynthetic responds to a pre-start framing fault with a plain-text
// body carrying the error detail, plus an X-Error-Kind debugging header
// naming the fault's Kind.
func (c *Connection) serveSynthetic(head *request, code int, phrase, kind, detail string) {
	hdr := &message.Header{}
	hdr.Set("X-Error-Kind", kind)
	resBody, resDone := c.makeResStart(head)(code, phrase, hdr, nil)
	resBody([]byte(detail))
	resDone(nil)
}

// makeResStart builds the res_start closure for head, implementing
// §4.5's response-BDM selection.
func (c *Connection) makeResStart(head *request) ResStartFunc {
	return func(status int, phrase string, hdr *message.Header, resBodyPause func(bool)) (ResBodyFunc, ResDoneFunc) {
		if head.resDone != nil {
			panic("httpserver: res_start called twice for one request")
		}
		head.resBodyPause = resBodyPause
		hdrOut := hdr.Clone()

		reqClose := false
		if conn, ok := head.hdr.Get("Connection"); ok {
			reqClose = containsCloseToken(conn)
		}

		var bdm message.BDM
		switch {
		case reqClose:
			bdm = message.BDMClose
			hdrOut.Set("Connection", "close")
		case hdrOut.Has("Content-Length"):
			bdm = message.BDMCounted
			hdrOut.Set("Connection", "keep-alive")
		case head.version.AtLeast11():
			bdm = message.BDMChunked
			hdrOut.Set("Transfer-Encoding", "chunked")
		default:
			bdm = message.BDMClose
		}
		head.respBDM = bdm
		head.respStatus = status

		buf := bytebufferpool.Get()
		message.WriteStatusLine(buf, status, phrase)
		message.WriteHeaders(buf, hdrOut)
		c.conn.Write(buf.B)
		bytebufferpool.Put(buf)

		resBody := func(chunk []byte) {
			if len(chunk) == 0 {
				return
			}
			if bdm == message.BDMChunked {
				wbuf := bytebufferpool.Get()
				message.WriteChunk(wbuf, chunk)
				c.conn.Write(wbuf.B)
				bytebufferpool.Put(wbuf)
				return
			}
			c.conn.Write(chunk)
		}

		resDone := func(err error) {
			if bdm == message.BDMChunked && err == nil {
				wbuf := bytebufferpool.Get()
				message.WriteLastChunk(wbuf)
				c.conn.Write(wbuf.B)
				bytebufferpool.Put(wbuf)
			}
			closeAfter := err != nil || bdm == message.BDMClose
			c.popHead(head)
			if closeAfter {
				c.conn.Close()
				return
			}
			if len(c.queue) > 0 {
				c.startHead()
			}
		}
		head.resDone = resDone
		return resBody, resDone
	}
}

// popHead asserts identity with the completing request and pops it,
// per §4.5's "assert identity with the completing request".
func (c *Connection) popHead(done *request) {
	if len(c.queue) == 0 || c.queue[0] != done {
		c.opts.Logger.Error("httpserver: res_done for non-head request")
		return
	}
	c.queue = c.queue[1:]
}

func containsCloseToken(v string) bool {
	for _, tok := range splitTrim(v) {
		if lowerEq(tok, "close") {
			return true
		}
	}
	return false
}

func splitTrim(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			out = append(out, trim(s[start:i]))
			start = i + 1
		}
	}
	return out
}

func trim(s string) string {
	for len(s) > 0 && (s[0] == ' ' || s[0] == '\t') {
		s = s[1:]
	}
	for len(s) > 0 && (s[len(s)-1] == ' ' || s[len(s)-1] == '\t') {
		s = s[:len(s)-1]
	}
	return s
}

func lowerEq(s, want string) bool {
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
