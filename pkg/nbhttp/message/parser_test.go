package message

import (
	"bytes"
	"errors"
	"testing"
)

type recorder struct {
	starts      int
	bodies      [][]byte
	completes   int
	allows      bool
	startErrs   []*Error
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnStartLine: func(sl *StartLine, hdr *Header, startErr *Error) (bool, *Error) {
			r.starts++
			if startErr != nil {
				r.startErrs = append(r.startErrs, startErr)
			}
			return r.allows, nil
		},
		OnBody: func(chunk []byte) {
			cp := make([]byte, len(chunk))
			copy(cp, chunk)
			r.bodies = append(r.bodies, cp)
		},
		OnComplete: func() {
			r.completes++
		},
	}
}

func feedAllAtOnce(t *testing.T, mode Mode, allows bool, data []byte) *recorder {
	t.Helper()
	r := &recorder{allows: allows}
	p := NewParser(mode, r.callbacks())
	if err := p.Feed(data); err != nil {
		t.Fatalf("feed: %v", err)
	}
	return r
}

func feedByteByByte(t *testing.T, mode Mode, allows bool, data []byte) *recorder {
	t.Helper()
	r := &recorder{allows: allows}
	p := NewParser(mode, r.callbacks())
	for i := range data {
		if err := p.Feed(data[i : i+1]); err != nil {
			t.Fatalf("feed byte %d: %v", i, err)
		}
	}
	return r
}

func bodyConcat(r *recorder) []byte {
	var out []byte
	for _, b := range r.bodies {
		out = append(out, b...)
	}
	return out
}

func TestFeedFragmentationInvariant(t *testing.T) {
	msg := []byte("POST /upload HTTP/1.1\r\nHost: example.com\r\nContent-Length: 11\r\n\r\nhello world")

	whole := feedAllAtOnce(t, ModeRequest, true, msg)
	bytewise := feedByteByByte(t, ModeRequest, true, msg)

	if whole.starts != bytewise.starts || whole.completes != bytewise.completes {
		t.Fatalf("callback counts differ: whole=%+v bytewise=%+v", whole, bytewise)
	}
	if !bytes.Equal(bodyConcat(whole), bodyConcat(bytewise)) {
		t.Fatalf("body bytes differ: %q vs %q", bodyConcat(whole), bodyConcat(bytewise))
	}
	if !bytes.Equal(bodyConcat(whole), []byte("hello world")) {
		t.Fatalf("unexpected body: %q", bodyConcat(whole))
	}
}

func TestCountedBodyExactLength(t *testing.T) {
	msg := []byte("PUT / HTTP/1.1\r\nHost: h\r\nContent-Length: 5\r\n\r\nabcde")
	r := feedAllAtOnce(t, ModeRequest, true, msg)
	if r.completes != 1 {
		t.Fatalf("expected 1 complete, got %d", r.completes)
	}
	if !bytes.Equal(bodyConcat(r), []byte("abcde")) {
		t.Fatalf("got body %q", bodyConcat(r))
	}
}

func TestChunkedBodyAndTrailers(t *testing.T) {
	msg := []byte("POST / HTTP/1.1\r\nHost: h\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"4\r\nWiki\r\n5\r\npedia\r\n0\r\nX-Trailer: ignored\r\n\r\n")
	r := feedAllAtOnce(t, ModeRequest, true, msg)
	if r.completes != 1 {
		t.Fatalf("expected 1 complete, got %d", r.completes)
	}
	if !bytes.Equal(bodyConcat(r), []byte("Wikipedia")) {
		t.Fatalf("got body %q", bodyConcat(r))
	}
}

func TestChunkedFragmentedAcrossBoundaries(t *testing.T) {
	msg := []byte("POST / HTTP/1.1\r\nHost: h\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"4\r\nWiki\r\n5\r\npedia\r\n0\r\n\r\n")
	whole := feedAllAtOnce(t, ModeRequest, true, msg)
	bytewise := feedByteByByte(t, ModeRequest, true, msg)
	if !bytes.Equal(bodyConcat(whole), bodyConcat(bytewise)) {
		t.Fatalf("mismatch: %q vs %q", bodyConcat(whole), bodyConcat(bytewise))
	}
}

func TestMalformedChunkSizeIsChunkError(t *testing.T) {
	msg := []byte("POST / HTTP/1.1\r\nHost: h\r\nTransfer-Encoding: chunked\r\n\r\nZZZ\r\n")
	r := &recorder{allows: true}
	p := NewParser(ModeRequest, r.callbacks())
	err := p.Feed(msg)
	if err == nil || !errors.Is(err, ErrChunk) {
		t.Fatalf("expected ErrChunk, got %v", err)
	}
}

func TestContentLengthIgnoredWhenTransferEncodingPresent(t *testing.T) {
	msg := []byte("POST / HTTP/1.1\r\nHost: h\r\nContent-Length: 5\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"4\r\nWiki\r\n0\r\n\r\n")
	r := &recorder{allows: true}
	p := NewParser(ModeRequest, r.callbacks())
	if err := p.Feed(msg); err != nil {
		t.Fatalf("Transfer-Encoding should win over Content-Length, got %v", err)
	}
	if r.completes != 1 {
		t.Fatalf("expected 1 complete, got %d", r.completes)
	}
	if !bytes.Equal(bodyConcat(r), []byte("Wiki")) {
		t.Fatalf("got body %q", bodyConcat(r))
	}
}

func TestDuplicateContentLengthMismatchRejected(t *testing.T) {
	msg := []byte("POST / HTTP/1.1\r\nHost: h\r\nContent-Length: 5\r\nContent-Length: 6\r\n\r\nhello")
	r := &recorder{allows: true}
	p := NewParser(ModeRequest, r.callbacks())
	err := p.Feed(msg)
	if err == nil {
		t.Fatal("expected duplicate Content-Length error")
	}
}

func TestExtraDataDoesNotFireCompleteBeforeError(t *testing.T) {
	msg := []byte("HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhelloEXTRA")
	r := &recorder{allows: true}
	p := NewParser(ModeResponse, r.callbacks())
	p.DisablePipelining()
	err := p.Feed(msg)
	if err == nil || !errors.Is(err, ErrExtraData) {
		t.Fatalf("expected ErrExtraData, got %v", err)
	}
	if r.completes != 0 {
		t.Fatalf("OnComplete must not fire on the EXTRA_DATA path, got %d calls", r.completes)
	}
}

func TestMissingHostOn11ReportedAsSoftError(t *testing.T) {
	msg := []byte("GET / HTTP/1.1\r\n\r\n")
	r := &recorder{allows: true}
	p := NewParser(ModeRequest, r.callbacks())
	if err := p.Feed(msg); err != nil {
		t.Fatalf("feed should not abort the stream: %v", err)
	}
	if len(r.startErrs) != 1 || !errors.Is(r.startErrs[0], ErrHostRequired) {
		t.Fatalf("expected one ErrHostRequired startErr, got %v", r.startErrs)
	}
	if r.completes != 1 {
		t.Fatalf("expected message to still complete, got %d", r.completes)
	}
}

func TestLeadingWhitespaceFirstHeaderReportedAsSoftError(t *testing.T) {
	msg := []byte("GET / HTTP/1.1\r\n Host: h\r\n\r\n")
	r := &recorder{allows: true}
	p := NewParser(ModeRequest, r.callbacks())
	if err := p.Feed(msg); err != nil {
		t.Fatalf("feed should not abort the stream: %v", err)
	}
	if len(r.startErrs) != 1 || !errors.Is(r.startErrs[0], ErrWhitespaceHeader) {
		t.Fatalf("expected one ErrWhitespaceHeader startErr, got %v", r.startErrs)
	}
}

func TestNoBodyOnAllowsBodyFalse(t *testing.T) {
	msg := []byte("HTTP/1.1 204 No Content\r\n\r\nHTTP/1.1 200 OK\r\nHost: h\r\n\r\n")
	r := feedAllAtOnce(t, ModeResponse, false, msg)
	if r.completes != 2 {
		t.Fatalf("expected 2 completes (204 then next message), got %d", r.completes)
	}
}

func TestPipeliningBackToBackMessages(t *testing.T) {
	msg := []byte("GET /a HTTP/1.1\r\nHost: h\r\n\r\nGET /b HTTP/1.1\r\nHost: h\r\n\r\n")
	r := feedAllAtOnce(t, ModeRequest, true, msg)
	if r.starts != 2 || r.completes != 2 {
		t.Fatalf("expected 2 starts/completes, got starts=%d completes=%d", r.starts, r.completes)
	}
}

func TestCloseModeDeliversUntilCloseNotify(t *testing.T) {
	r := &recorder{allows: true}
	p := NewParser(ModeResponse, r.callbacks())
	if err := p.Feed([]byte("HTTP/1.0 200 OK\r\nConnection: close\r\n\r\nfirst")); err != nil {
		t.Fatalf("feed: %v", err)
	}
	if r.completes != 0 {
		t.Fatalf("should not complete before close, got %d", r.completes)
	}
	if err := p.Feed([]byte("second")); err != nil {
		t.Fatalf("feed: %v", err)
	}
	if err := p.CloseNotify(); err != nil {
		t.Fatalf("closenotify: %v", err)
	}
	if r.completes != 1 {
		t.Fatalf("expected 1 complete after close, got %d", r.completes)
	}
	if !bytes.Equal(bodyConcat(r), []byte("firstsecond")) {
		t.Fatalf("got body %q", bodyConcat(r))
	}
}
