package spdy

import (
	"encoding/binary"
	"errors"
	"strconv"
	"strings"

	"github.com/yourusername/nbhttp/pkg/nbhttp/logctx"
	"github.com/yourusername/nbhttp/pkg/nbhttp/message"
	"github.com/yourusername/nbhttp/pkg/nbhttp/tcpconn"
	"github.com/yourusername/nbhttp/pkg/nbhttp/zdict"
)

// ErrStreamID reports a SYN_STREAM whose stream id violates the
// session's parity/monotonicity contract (§4.9).
var ErrStreamID = errors.New("spdy: stream id parity/monotonicity violation")

// ErrStreamReset reports a stream torn down by a FIN_STREAM frame —
// treated as a reset rather than a graceful half-close (Open Question
// decision, see DESIGN.md).
var ErrStreamReset = errors.New("spdy: stream reset (FIN_STREAM)")

// ErrGoAway reports a session shut down by a GOAWAY frame.
var ErrGoAway = errors.New("spdy: session shut down (GOAWAY)")

// Role distinguishes which side of the session this process plays,
// which determines inbound/outbound stream-id parity (§4.9: client-
// initiated odd, server-initiated even).
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

// StreamBodyFunc delivers one body chunk for a stream.
type StreamBodyFunc func(chunk []byte)

// StreamDoneFunc completes a stream's body. When the session calls it,
// err is nil for a peer FIN, ErrStreamReset for FIN_STREAM and
// ErrGoAway for GOAWAY; a framing fault closes the connection without
// calling it.
type StreamDoneFunc func(err error)

// ReplyStartFunc begins a SYN_REPLY for an inbound SYN_STREAM, mirroring
// httpserver.ResStartFunc.
type ReplyStartFunc func(status int, hdr *message.Header) (StreamBodyFunc, StreamDoneFunc)

// Handler is invoked for each inbound SYN_STREAM, mirroring
// httpserver.Handler; method/url/version are the session's pseudo-
// headers pulled out of the SYN_STREAM header block.
type Handler func(method, url, version string, hdr *message.Header, reply ReplyStartFunc, pause func(bool)) (StreamBodyFunc, StreamDoneFunc)

// ReplyCallbacks is the view of a locally-opened stream's response,
// mirroring httpclient.ResponseCallbacks.
type ReplyCallbacks struct {
	OnReply func(status int, version string, hdr *message.Header)
	OnBody  func(chunk []byte)
	OnDone  func(err error)
}

// Options configures a Session.
type Options struct {
	Role    Role
	Handler Handler // required for RoleServer; ignored for RoleClient
	Logger  logctx.Logger
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = logctx.Discard()
	}
	return o
}

type stream struct {
	id uint32

	// inbound SYN_STREAM (server role): sinks returned by Handler
	reqBody      StreamBodyFunc
	reqDone      StreamDoneFunc
	reqDoneFired bool

	// locally-opened stream (client role): caller-supplied sinks
	reply      ReplyCallbacks
	replyFired bool

	localClosed  bool
	remoteClosed bool
}

// Session owns one TCP connection carrying multiplexed SPDY/1 streams
// and the shared per-direction zlib header-compression context (I7).
type Session struct {
	opts   Options
	conn   *tcpconn.Conn
	framer *FrameParser
	comp   *zdict.Compressor
	decomp *zdict.Decompressor

	streams        map[uint32]*stream
	nextOutboundID uint32
	lastInboundID  uint32
	closed         bool
}

// New creates a Session for the given role.
func New(opts Options) *Session {
	s := &Session{
		opts:    opts.withDefaults(),
		comp:    zdict.NewCompressor(),
		decomp:  zdict.NewDecompressor(),
		streams: make(map[uint32]*stream),
	}
	if opts.Role == RoleClient {
		s.nextOutboundID = 1
	} else {
		s.nextOutboundID = 2
	}
	s.framer = NewFrameParser(s.onFrame)
	return s
}

// Bind attaches conn; call before any data is fed.
func (s *Session) Bind(conn *tcpconn.Conn) {
	s.conn = conn
}

// Callbacks returns the tcpconn.Callbacks to wire to conn.
func (s *Session) Callbacks() tcpconn.Callbacks {
	return tcpconn.Callbacks{OnRead: s.onRead, OnClose: s.onClose}
}

func (s *Session) onRead(data []byte) {
	if err := s.framer.Feed(data); err != nil {
		s.opts.Logger.Warn("spdy: frame error", logctx.F("err", err.Error()))
		s.conn.Close()
	}
}

func (s *Session) onClose() {
	s.closed = true
}

func (s *Session) onFrame(f Frame) {
	if !f.IsControl {
		s.handleData(f)
		return
	}
	switch f.Type {
	case SynStream:
		s.handleSynStream(f)
	case SynReply:
		s.handleSynReply(f)
	case FinStreamType:
		s.handleFinStream(f)
	case Hello, Noop, Ping:
		// accepted silently, per §4.8
	case GoAway:
		s.handleGoAway()
	}
}

// OpenStream sends a SYN_STREAM (client role) and returns the sinks
// for this stream's request body.
func (s *Session) OpenStream(method, url, version string, hdr *message.Header, cbs ReplyCallbacks) (StreamBodyFunc, StreamDoneFunc, error) {
	if s.closed {
		return nil, nil, ErrGoAway
	}
	id := s.nextOutboundID
	s.nextOutboundID += 2

	hdrOut := hdr.Clone()
	hdrOut.Set("method", method)
	hdrOut.Set("url", url)
	hdrOut.Set("version", version)

	payload, err := buildSynPayload(id, hdrOut, s.comp)
	if err != nil {
		return nil, nil, err
	}
	s.conn.Write(PackControlFrame(SynStream, FlagNone, payload))

	st := &stream{id: id, reply: cbs}
	s.streams[id] = st

	reqBody := func(chunk []byte) {
		if len(chunk) == 0 {
			return
		}
		s.conn.Write(PackDataFrame(id, FlagNone, chunk))
	}
	reqDone := func(error) {
		s.conn.Write(PackDataFrame(id, FlagFin, nil))
		st.localClosed = true
		s.maybeCleanup(st)
	}
	return reqBody, reqDone, nil
}

func (s *Session) handleSynStream(f Frame) {
	streamID, compressed, perr := parseSynPayload(f.Payload)
	if perr != nil {
		s.sessionError()
		return
	}

	expectedParity := uint32(1) // client-initiated ids are odd
	if s.opts.Role == RoleClient {
		expectedParity = 0 // server push ids are even
	}
	if streamID%2 != expectedParity || streamID <= s.lastInboundID {
		s.opts.Logger.Error("spdy: "+ErrStreamID.Error(), logctx.F("stream_id", streamID))
		s.sessionError()
		return
	}
	s.lastInboundID = streamID

	hdr, derr := DecodeHeaderBlock(compressed, s.decomp)
	if derr != nil {
		s.sessionError()
		return
	}
	method, _ := hdr.Get("method")
	url, _ := hdr.Get("url")
	version, _ := hdr.Get("version")
	hdr.Del("method")
	hdr.Del("url")
	hdr.Del("version")

	st := &stream{id: streamID}
	s.streams[streamID] = st

	if s.opts.Handler == nil {
		return
	}
	reqBody, reqDone := s.opts.Handler(method, url, version, hdr, s.makeReplyStart(st), s.conn.Pause)
	st.reqBody = reqBody
	st.reqDone = reqDone

	if f.Flags&FlagFin != 0 {
		s.onRemoteFin(st)
	}
}

func (s *Session) makeReplyStart(st *stream) ReplyStartFunc {
	started := false
	return func(status int, hdr *message.Header) (StreamBodyFunc, StreamDoneFunc) {
		if started {
			panic("spdy: reply start called twice for one stream")
		}
		started = true
		hdrOut := hdr.Clone()
		hdrOut.Set("status", strconv.Itoa(status))
		hdrOut.Set("version", "HTTP/1.1")

		payload, err := buildSynPayload(st.id, hdrOut, s.comp)
		if err != nil {
			s.opts.Logger.Error("spdy: encode SYN_REPLY", logctx.F("err", err.Error()))
			return func([]byte) {}, func(error) {}
		}
		s.conn.Write(PackControlFrame(SynReply, FlagNone, payload))

		respBody := func(chunk []byte) {
			if len(chunk) == 0 {
				return
			}
			s.conn.Write(PackDataFrame(st.id, FlagNone, chunk))
		}
		respDone := func(error) {
			s.conn.Write(PackDataFrame(st.id, FlagFin, nil))
			st.localClosed = true
			s.maybeCleanup(st)
		}
		return respBody, respDone
	}
}

func (s *Session) handleSynReply(f Frame) {
	streamID, compressed, perr := parseSynPayload(f.Payload)
	if perr != nil {
		s.sessionError()
		return
	}
	st := s.streams[streamID]
	if st == nil {
		return // unknown or already-closed stream
	}
	hdr, derr := DecodeHeaderBlock(compressed, s.decomp)
	if derr != nil {
		s.sessionError()
		return
	}
	statusStr, _ := hdr.Get("status")
	version, _ := hdr.Get("version")
	hdr.Del("status")
	hdr.Del("version")

	if st.reply.OnReply != nil {
		st.reply.OnReply(parseStatusCode(statusStr), version, hdr)
	}
	if f.Flags&FlagFin != 0 {
		s.onRemoteFin(st)
	}
}

func (s *Session) handleData(f Frame) {
	st := s.streams[f.StreamID]
	if st == nil {
		return
	}
	if len(f.Payload) > 0 {
		if st.reqBody != nil {
			st.reqBody(f.Payload)
		}
		if st.reply.OnBody != nil {
			st.reply.OnBody(f.Payload)
		}
	}
	if f.Flags&FlagFin != 0 {
		s.onRemoteFin(st)
	}
}

// handleFinStream treats FIN_STREAM as an immediate reset per the
// Open Question decision in DESIGN.md, rather than a graceful
// half-close: whichever sink is active for this stream is notified
// with ErrStreamReset and the stream is torn down.
func (s *Session) handleFinStream(f Frame) {
	if len(f.Payload) < 4 {
		return
	}
	streamID := binary.BigEndian.Uint32(f.Payload[:4]) & StreamMask
	st := s.streams[streamID]
	if st == nil {
		return
	}
	if st.reqDone != nil && !st.reqDoneFired {
		st.reqDoneFired = true
		st.reqDone(ErrStreamReset)
	}
	if st.reply.OnDone != nil && !st.replyFired {
		st.replyFired = true
		st.reply.OnDone(ErrStreamReset)
	}
	delete(s.streams, streamID)
}

func (s *Session) handleGoAway() {
	s.closed = true
	for _, st := range s.streams {
		if st.reqDone != nil && !st.reqDoneFired {
			st.reqDoneFired = true
			st.reqDone(ErrGoAway)
		}
		if st.reply.OnDone != nil && !st.replyFired {
			st.replyFired = true
			st.reply.OnDone(ErrGoAway)
		}
	}
	s.streams = make(map[uint32]*stream)
	if s.conn != nil {
		s.conn.Close()
	}
}

func (s *Session) onRemoteFin(st *stream) {
	st.remoteClosed = true
	if st.reqDone != nil && !st.reqDoneFired {
		st.reqDoneFired = true
		st.reqDone(nil)
	}
	if st.reply.OnDone != nil && !st.replyFired {
		st.replyFired = true
		st.reply.OnDone(nil)
	}
	s.maybeCleanup(st)
}

func (s *Session) maybeCleanup(st *stream) {
	if st.localClosed && st.remoteClosed {
		delete(s.streams, st.id)
	}
}

func (s *Session) sessionError() {
	if s.conn != nil {
		s.conn.Close()
	}
}

// buildSynPayload serializes the common SYN_STREAM/SYN_REPLY payload
// shape (§4.8): 4-byte masked stream id, 2 bytes unused
// (priority/associated-stream, not used by this implementation), then
// the compressed header block.
func buildSynPayload(streamID uint32, hdr *message.Header, comp *zdict.Compressor) ([]byte, error) {
	compressed, err := EncodeHeaderBlock(hdr, comp)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 6+len(compressed))
	binary.BigEndian.PutUint32(out[0:4], streamID&StreamMask)
	copy(out[6:], compressed)
	return out, nil
}

func parseSynPayload(payload []byte) (streamID uint32, compressed []byte, err error) {
	if len(payload) < 6 {
		return 0, nil, ErrHeaderBlock
	}
	streamID = binary.BigEndian.Uint32(payload[:4]) & StreamMask
	return streamID, payload[6:], nil
}

func parseStatusCode(s string) int {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0
	}
	return n
}
