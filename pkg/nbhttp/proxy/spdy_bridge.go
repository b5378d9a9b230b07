package proxy

import (
	"github.com/yourusername/nbhttp/pkg/nbhttp/httpclient"
	"github.com/yourusername/nbhttp/pkg/nbhttp/httpserver"
	"github.com/yourusername/nbhttp/pkg/nbhttp/message"
	"github.com/yourusername/nbhttp/pkg/nbhttp/spdy"
)

// spdyHopByHop lists the response headers the reference proxy scripts
// strip by hand when bridging a SPDY reply back onto an HTTP
// connection, since SPDY has no wire-level notion of them.
var spdyHopByHop = []string{"connection", "content-length", "transfer-encoding", "keep-alive"}

func stripSpdyHopByHop(hdr *message.Header) *message.Header {
	out := hdr.Clone()
	for _, name := range spdyHopByHop {
		out.Del(name)
	}
	return out
}

// HTTPToSPDY returns an httpserver.Handler that relays each inbound
// HTTP request onto backend as a SPDY stream, optionally rewriting
// the request target first via director (pass nil for a pure forward
// relay), and bridges the SPDY reply back onto the HTTP connection —
// grounded on the reference http_spdy_proxy.py bridge.
func HTTPToSPDY(backend *spdy.Session, director Director) httpserver.Handler {
	return func(method, target string, hdr *message.Header, resStart httpserver.ResStartFunc, reqBodyPause func(bool)) (httpserver.ReqBodyFunc, httpserver.ReqDoneFunc) {
		if director != nil {
			target = director(method, target, hdr)
		}
		outHdr := hdr.Clone()
		stripConnectionTokens(outHdr)
		outHdr = outHdr.StripHopByHop()

		var resBody httpserver.ResBodyFunc
		var resDone httpserver.ResDoneFunc

		streamBody, streamDone, err := backend.OpenStream(method, target, "HTTP/1.1", outHdr, spdy.ReplyCallbacks{
			OnReply: func(status int, version string, respHdr *message.Header) {
				resBody, resDone = resStart(status, "", stripSpdyHopByHop(respHdr), nil)
			},
			OnBody: func(chunk []byte) {
				if resBody != nil {
					resBody(chunk)
				}
			},
			OnDone: func(err error) {
				if resDone != nil {
					resDone(err)
				}
			},
		})
		if err != nil {
			resStart(502, "Bad Gateway", &message.Header{}, nil)
			return func([]byte) {}, func(error) {}
		}

		reqBody := func(chunk []byte) {
			if streamBody != nil {
				streamBody(chunk)
			}
		}
		reqDone := func(err error) {
			if streamDone != nil {
				streamDone(err)
			}
		}
		return reqBody, reqDone
	}
}

// SPDYToHTTP returns a spdy.Handler that relays each inbound SPDY
// stream onto client as an HTTP request, optionally rewriting the
// stream's url first via director, and bridges the HTTP response
// back onto the SPDY stream — the reverse direction of the reference
// spdy_http_proxy.py bridge.
func SPDYToHTTP(client *httpclient.Client, director Director) spdy.Handler {
	return func(method, url, version string, hdr *message.Header, reply spdy.ReplyStartFunc, pause func(bool)) (spdy.StreamBodyFunc, spdy.StreamDoneFunc) {
		if director != nil {
			url = director(method, url, hdr)
		}
		outHdr := hdr.Clone()
		stripConnectionTokens(outHdr)
		outHdr = outHdr.StripHopByHop()

		var streamBody spdy.StreamBodyFunc
		var streamDone spdy.StreamDoneFunc

		backendReqBody, backendReqDone := client.ReqStart(method, url, outHdr, pause, httpclient.ResponseCallbacks{
			OnStart: func(status int, reason string, respHdr *message.Header) {
				streamBody, streamDone = reply(status, stripSpdyHopByHop(respHdr))
			},
			OnBody: func(chunk []byte) {
				if streamBody != nil {
					streamBody(chunk)
				}
			},
			OnDone: func(err error) {
				if streamDone != nil {
					streamDone(err)
				}
			},
		})

		reqBody := func(chunk []byte) {
			if backendReqBody != nil {
				backendReqBody(chunk)
			}
		}
		reqDone := func(err error) {
			if backendReqDone != nil {
				backendReqDone(err)
			}
		}
		return reqBody, reqDone
	}
}
