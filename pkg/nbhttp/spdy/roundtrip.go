package spdy

import (
	"github.com/yourusername/nbhttp/pkg/nbhttp/httpclient"
	"github.com/yourusername/nbhttp/pkg/nbhttp/message"
)

// ClientSession adapts a client-role Session's OpenStream to
// httpclient.RoundTripper's (method, uri, hdr, reqBodyPause, cbs) -> (reqBody,
// reqDone) contract, so a forward proxy can hold a single
// httpclient.RoundTripper field and dial either an HTTP/1.1
// httpclient.Client or a SPDY/1 session without knowing which was
// negotiated — the "one HttpClient/SpdyClient interface" shape the
// reference client keeps per reactor.
type ClientSession struct {
	Session *Session
}

// ReqStart implements httpclient.RoundTripper. uri is passed through
// as the stream's url pseudo-header; version is fixed at "HTTP/1.1"
// since SPDY/1 carries no other value in practice. reqBodyPause is
// accepted for interface compatibility but not wired: a session
// multiplexes many streams over one connection, and its own write
// backpressure already maps to a whole-connection pause (see Session's
// Handler-side pause argument) rather than a single stream's producer
// — broadcasting that to every open stream's caller would need a
// fan-out mechanism no component here currently needs.
func (cs ClientSession) ReqStart(method, uri string, hdr *message.Header, reqBodyPause func(bool), cbs httpclient.ResponseCallbacks) (reqBody func([]byte), reqDone func(error)) {
	streamBody, streamDone, err := cs.Session.OpenStream(method, uri, "HTTP/1.1", hdr, ReplyCallbacks{
		OnReply: func(status int, version string, respHdr *message.Header) {
			if cbs.OnStart != nil {
				cbs.OnStart(status, "", respHdr)
			}
		},
		OnBody: cbs.OnBody,
		OnDone: cbs.OnDone,
	})
	if err != nil {
		if cbs.OnDone != nil {
			cbs.OnDone(err)
		}
		return func([]byte) {}, func(error) {}
	}
	return streamBody, streamDone
}

var _ httpclient.RoundTripper = ClientSession{}
