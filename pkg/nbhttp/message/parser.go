package message

import (
	"bytes"
	"strconv"
)

// Mode selects whether Parser reads request or response start lines.
type Mode int

const (
	ModeRequest Mode = iota
	ModeResponse
)

// Callbacks drives a Parser's owner. OnStartLine is invoked once
// headers are fully buffered. startErr carries a recoverable §7
// per-message fault discovered while parsing this message's headers
// — missing Host on 1.1 (HOST_REQ), leading whitespace on the first
// header (WHITESPACE_HDR), or an unknown transfer-coding
// (TRANSFER_CODE) — without aborting the stream: body framing still
// proceeds normally so the byte stream stays in sync, and the owner
// (C5) substitutes a synthetic response for this message instead of
// invoking the application handler. OnStartLine returns whether this
// message allows a body (§4.4 step 1) and, separately, a fatal ferr
// that does abort the stream (reserved for owner-detected faults,
// e.g. a client declining to retry). OnBody delivers body bytes in
// order as they arrive; OnComplete fires exactly once per message
// (I1/P3), after which the Parser is ready for the next message on
// the same connection (pipelining).
type Callbacks struct {
	OnStartLine func(sl *StartLine, hdr *Header, startErr *Error) (allowsBody bool, ferr *Error)
	OnBody      func(chunk []byte)
	OnComplete  func()
}

type chunkState int

const (
	chunkNeedSize chunkState = iota
	chunkNeedData
	chunkNeedDataCRLF
	chunkNeedTrailers
)

// Parser is a byte-stream HTTP/1.1 parser driven by a single Feed
// entry point, per §4.4. It owns its pending input buffer and is
// reused across an unbounded sequence of messages on one connection.
type Parser struct {
	mode Mode
	cb   Callbacks

	buf   []byte
	state State

	bdm      BDM
	bodyLeft int64

	chunk chunkState
	cSize int64

	closeSeen bool // for BDM=Close: peer closed, deliver remaining buf then finish

	// noPipelining, set by a client connection (C6) for each response
	// parse, rejects any leftover bytes after a COUNTED/NONE body
	// completes as EXTRA_DATA (§8 scenario 6) instead of trying to
	// parse them as a further message. A server connection (C5) never
	// sets this — pipelined requests are expected.
	noPipelining bool
}

// NewParser creates a Parser for the given mode.
func NewParser(mode Mode, cb Callbacks) *Parser {
	return &Parser{mode: mode, cb: cb}
}

// DisablePipelining rejects any bytes left over after the current
// message completes as EXTRA_DATA rather than treating them as the
// start of a further message.
func (p *Parser) DisablePipelining() {
	p.noPipelining = true
}

// Feed appends data to the pending buffer and drives parsing as far
// as possible, invoking callbacks synchronously. Feeding the same
// bytes in any fragmentation yields the same callback sequence (P1).
func (p *Parser) Feed(data []byte) *Error {
	p.buf = append(p.buf, data...)
	return p.run()
}

// CloseNotify tells a Parser in BDM=Close mode that the peer has
// closed the connection, which is itself the end-of-body signal for
// that mode. It is a no-op in any other state.
func (p *Parser) CloseNotify() *Error {
	if p.state != StateHeadersDone || p.bdm != BDMClose {
		return nil
	}
	p.closeSeen = true
	return p.run()
}

func (p *Parser) run() *Error {
	for {
		switch p.state {
		case StateWaiting:
			advanced, ferr := p.tryParseHeaders()
			if ferr != nil {
				return ferr
			}
			if !advanced {
				return nil
			}
		case StateHeadersDone:
			done, advanced, ferr := p.consumeBody()
			if ferr != nil {
				return ferr
			}
			if done {
				if p.noPipelining && len(p.buf) > 0 {
					extra := p.buf
					p.buf = nil
					p.resetMessageState()
					return newErr(KindExtraData, strconv.Itoa(len(extra))+" bytes")
				}
				p.finishMessage()
				if len(p.buf) == 0 {
					return nil
				}
				continue
			}
			if !advanced {
				return nil
			}
		}
	}
}

// resetMessageState returns the parser to StateWaiting without firing
// OnComplete, for the fatal EXTRA_DATA path where no completion
// callback should ever fire for this message (§7: the error surfaces
// once via the connection's own error handling instead).
func (p *Parser) resetMessageState() {
	p.state = StateWaiting
	p.bdm = BDMNone
	p.bodyLeft = 0
	p.chunk = chunkNeedSize
	p.cSize = 0
	p.closeSeen = false
}

func (p *Parser) finishMessage() {
	p.resetMessageState()
	if p.cb.OnComplete != nil {
		p.cb.OnComplete()
	}
}

// tryParseHeaders scans for the end of the header block (CRLFCRLF,
// accepting bare LFLF per §6), unfolds continuation lines, parses the
// start line and headers, decides the BDM, and transitions to
// StateHeadersDone. Returns advanced=false when more data is needed.
func (p *Parser) tryParseHeaders() (advanced bool, ferr *Error) {
	end, sepLen := findHeaderBlockEnd(p.buf)
	if end < 0 {
		if len(p.buf) > MaxHeaderBlockSize {
			return false, newErr(KindHTTPVersion, "header block too large")
		}
		return false, nil
	}

	block := unfoldContinuations(p.buf[:end])
	rest := p.buf[end+sepLen:]

	// The header-block scan above consumed the final line's own
	// terminator as part of the CRLFCRLF/LFLF separator, so a message
	// with zero headers leaves block holding only the start line with
	// no trailing terminator at all — handle that explicitly rather
	// than treating it as a parse failure.
	var startLineBytes []byte
	var headerLines [][]byte
	if lineEnd := bytes.IndexAny(block, "\r\n"); lineEnd < 0 {
		startLineBytes = block
	} else {
		startLineBytes = block[:lineEnd]
		headerLines = splitLines(block[lineEnd:])
	}

	sl, ferr := p.parseStartLine(startLineBytes)
	if ferr != nil {
		return false, ferr
	}

	hdr, hasHost, hasCL, hasTE, clValue, teIsChunked, startErr, ferr := parseHeaderLines(headerLines)
	if ferr != nil {
		return false, ferr
	}

	if !sl.IsResponse && sl.AtLeast11() && !hasHost && startErr == nil {
		startErr = newErr(KindHostRequired, "missing Host header")
	}

	allowsBody := true
	if p.cb.OnStartLine != nil {
		ab, err := p.cb.OnStartLine(sl, hdr, startErr)
		if err != nil {
			return false, err
		}
		allowsBody = ab
	}

	p.bdm, p.bodyLeft, ferr = decideBDM(allowsBody, hasCL, hasTE, clValue, teIsChunked, hdr)
	if ferr != nil {
		return false, ferr
	}

	p.buf = rest
	p.state = StateHeadersDone
	p.chunk = chunkNeedSize
	return true, nil
}

// decideBDM implements §4.4's ordered decision.
func decideBDM(allowsBody, hasCL, hasTE bool, clValue int64, teIsChunked bool, hdr *Header) (BDM, int64, *Error) {
	if !allowsBody {
		return BDMNone, 0, nil
	}
	if hasTE {
		if teIsChunked {
			return BDMChunked, 0, nil
		}
		return BDMClose, 0, nil
	}
	if hasCL {
		return BDMCounted, clValue, nil
	}
	if conn, ok := hdr.Get("Connection"); ok && containsToken(conn, "close") {
		return BDMClose, 0, nil
	}
	return BDMNone, 0, nil
}

func (p *Parser) consumeBody() (done, advanced bool, ferr *Error) {
	switch p.bdm {
	case BDMNone:
		return true, false, nil
	case BDMCounted:
		return p.consumeCounted()
	case BDMChunked:
		return p.consumeChunked()
	case BDMClose:
		return p.consumeClose()
	default:
		return true, false, nil
	}
}

func (p *Parser) consumeCounted() (done, advanced bool, ferr *Error) {
	if p.bodyLeft == 0 {
		return true, false, nil
	}
	if len(p.buf) == 0 {
		return false, false, nil
	}
	n := int64(len(p.buf))
	if n > p.bodyLeft {
		n = p.bodyLeft
	}
	chunk := p.buf[:n]
	p.buf = p.buf[n:]
	p.bodyLeft -= n
	if p.cb.OnBody != nil {
		p.cb.OnBody(chunk)
	}
	return p.bodyLeft == 0, true, nil
}

func (p *Parser) consumeClose() (done, advanced bool, ferr *Error) {
	if len(p.buf) > 0 {
		chunk := p.buf
		p.buf = nil
		if p.cb.OnBody != nil {
			p.cb.OnBody(chunk)
		}
		return false, true, nil
	}
	if p.closeSeen {
		return true, false, nil
	}
	return false, false, nil
}

// consumeChunked implements §4.4/§4.8's chunked framing: hex size
// line (ext ignored), payload, trailing CRLF; a zero-size line ends
// the body and any following field lines up to the blank line are
// discarded trailers.
func (p *Parser) consumeChunked() (done, advanced bool, ferr *Error) {
	switch p.chunk {
	case chunkNeedSize:
		idx := bytes.IndexAny(p.buf, "\r\n")
		if idx < 0 {
			if len(p.buf) > 64 {
				return false, false, newErr(KindChunk, "chunk size line too long")
			}
			return false, false, nil
		}
		line, rest, ok := consumeLine(p.buf, idx)
		if !ok {
			return false, false, nil
		}
		if semi := bytes.IndexByte(line, ';'); semi >= 0 {
			line = line[:semi]
		}
		line = bytes.TrimSpace(line)
		size, err := parseHexSize(line)
		if err != nil {
			return false, false, newErr(KindChunk, "malformed chunk size")
		}
		if size > MaxChunkSize {
			return false, false, newErr(KindChunk, "chunk exceeds maximum size")
		}
		p.buf = rest
		p.cSize = size
		if size == 0 {
			p.chunk = chunkNeedTrailers
		} else {
			p.chunk = chunkNeedData
		}
		return false, true, nil

	case chunkNeedData:
		if p.cSize == 0 {
			p.chunk = chunkNeedDataCRLF
			return false, true, nil
		}
		if len(p.buf) == 0 {
			return false, false, nil
		}
		n := int64(len(p.buf))
		if n > p.cSize {
			n = p.cSize
		}
		chunk := p.buf[:n]
		p.buf = p.buf[n:]
		p.cSize -= n
		if p.cb.OnBody != nil {
			p.cb.OnBody(chunk)
		}
		if p.cSize == 0 {
			p.chunk = chunkNeedDataCRLF
		}
		return false, true, nil

	case chunkNeedDataCRLF:
		line, rest, ok := consumeLine(p.buf, indexLineEnd(p.buf))
		if !ok {
			return false, false, nil
		}
		if len(bytes.TrimRight(line, "\r")) != 0 {
			return false, false, newErr(KindChunk, "malformed chunk trailing CRLF")
		}
		p.buf = rest
		p.chunk = chunkNeedSize
		return false, true, nil

	case chunkNeedTrailers:
		idx := indexLineEnd(p.buf)
		if idx < 0 {
			return false, false, nil
		}
		line, rest, ok := consumeLine(p.buf, idx)
		if !ok {
			return false, false, nil
		}
		p.buf = rest
		if len(bytes.TrimRight(line, "\r")) == 0 {
			return true, true, nil
		}
		// trailer field line: discarded per §4.4
		return false, true, nil
	}
	return true, false, nil
}

func indexLineEnd(buf []byte) int {
	return bytes.IndexAny(buf, "\r\n")
}

// consumeLine returns the line up to (not including) the terminator
// at idx, plus the remainder of buf after the terminator (handling
// both CRLF and bare LF, per §6's "LF-only terminators accepted on
// input"). ok is false if the terminator hasn't fully arrived yet
// (a lone trailing CR with no following LF).
func consumeLine(buf []byte, idx int) (line, rest []byte, ok bool) {
	if idx < 0 {
		return nil, nil, false
	}
	if buf[idx] == '\n' {
		return buf[:idx], buf[idx+1:], true
	}
	// buf[idx] == '\r'; need the following '\n'.
	if idx+1 >= len(buf) {
		return nil, nil, false
	}
	if buf[idx+1] != '\n' {
		return buf[:idx], buf[idx+1:], true
	}
	return buf[:idx], buf[idx+2:], true
}

func parseHexSize(line []byte) (int64, error) {
	if len(line) == 0 {
		return 0, strconv.ErrSyntax
	}
	return strconv.ParseInt(string(line), 16, 64)
}

// findHeaderBlockEnd locates CRLFCRLF or LFLF in buf, returning the
// offset of the block's start and the separator's length.
func findHeaderBlockEnd(buf []byte) (offset, sepLen int) {
	if i := bytes.Index(buf, []byte("\r\n\r\n")); i >= 0 {
		return i, 4
	}
	if i := bytes.Index(buf, []byte("\n\n")); i >= 0 {
		return i, 2
	}
	return -1, 0
}

// unfoldContinuations replaces a line-folding CRLF/LF followed by a
// space or tab with a single space, per §4.4/§6.
func unfoldContinuations(block []byte) []byte {
	out := make([]byte, 0, len(block))
	for i := 0; i < len(block); i++ {
		c := block[i]
		if (c == '\r' || c == '\n') {
			j := i
			if c == '\r' && j+1 < len(block) && block[j+1] == '\n' {
				j++
			}
			if j+1 < len(block) && (block[j+1] == ' ' || block[j+1] == '\t') {
				out = append(out, ' ')
				i = j + 1
				continue
			}
		}
		out = append(out, c)
	}
	return out
}

// splitLines splits a (post-unfold) header block beginning with its
// own line terminator into individual header lines, discarding empty
// ones produced by the terminator scheme.
func splitLines(block []byte) [][]byte {
	var lines [][]byte
	for len(block) > 0 {
		c := block[0]
		if c == '\r' || c == '\n' {
			block = block[1:]
			continue
		}
		idx := indexLineEnd(block)
		if idx < 0 {
			lines = append(lines, block)
			break
		}
		line, rest, ok := consumeLine(block, idx)
		if !ok {
			lines = append(lines, block)
			break
		}
		if len(line) > 0 {
			lines = append(lines, line)
		}
		block = rest
	}
	return lines
}

func containsToken(headerValue, token string) bool {
	for _, part := range splitComma(headerValue) {
		if lowerASCII(trimSpace(part)) == token {
			return true
		}
	}
	return false
}

func splitComma(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func trimSpace(s string) string {
	for len(s) > 0 && (s[0] == ' ' || s[0] == '\t') {
		s = s[1:]
	}
	for len(s) > 0 && (s[len(s)-1] == ' ' || s[len(s)-1] == '\t') {
		s = s[:len(s)-1]
	}
	return s
}
