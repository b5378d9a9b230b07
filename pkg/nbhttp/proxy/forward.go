// Package proxy composes the server (C5), client (C6), and SPDY
// session (C8/C9) connections into forward and reverse HTTP proxies,
// stripping hop-by-hop headers at the boundary per §3.
package proxy

import (
	"github.com/yourusername/nbhttp/pkg/nbhttp/httpclient"
	"github.com/yourusername/nbhttp/pkg/nbhttp/httpserver"
	"github.com/yourusername/nbhttp/pkg/nbhttp/message"
)

// Forward returns an httpserver.Handler that relays each request
// verbatim to the absolute-URI target carried in the request line,
// using client to reach the backend — a classic forward proxy, per
// the reference implementation's proxy_handler: the request's own
// target IS the backend URL, no rewriting.
func Forward(client httpclient.RoundTripper) httpserver.Handler {
	return func(method, target string, hdr *message.Header, resStart httpserver.ResStartFunc, reqBodyPause func(bool)) (httpserver.ReqBodyFunc, httpserver.ReqDoneFunc) {
		return bridgeToBackend(client, method, target, hdr, resStart, reqBodyPause)
	}
}

// bridgeToBackend issues method/target/hdr against client and wires
// the backend response straight into resStart, streaming both
// directions as bytes arrive rather than buffering the request or
// response. reqBodyPause is the capability the front-end connection
// handed us to pause its own inbound reads — passed straight through
// as the backend request's own pause callback, so backpressure on the
// backend leg (a slow client.ReqStart write) throttles reading more
// request body off the front-end connection too.
func bridgeToBackend(client httpclient.RoundTripper, method, target string, hdr *message.Header, resStart httpserver.ResStartFunc, reqBodyPause func(bool)) (httpserver.ReqBodyFunc, httpserver.ReqDoneFunc) {
	outHdr := hdr.Clone()
	stripConnectionTokens(outHdr)
	outHdr = outHdr.StripHopByHop()

	var backendReqBody func([]byte)
	var backendReqDone func(error)
	var resBody httpserver.ResBodyFunc
	var resDone httpserver.ResDoneFunc

	backendReqBody, backendReqDone = client.ReqStart(method, target, outHdr, reqBodyPause, httpclient.ResponseCallbacks{
		OnStart: func(status int, reason string, respHdr *message.Header) {
			front := respHdr.StripHopByHop()
			// nil: the backend leg has no pause capability of its own to
			// wire a front-end write-backpressure signal into (see
			// httpclient.RoundTripper's ResponseCallbacks).
			resBody, resDone = resStart(status, reason, front, nil)
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

// stripConnectionTokens removes every header named by a token in the
// request's own Connection header value, per RFC 7230 §6.1 — the
// token list itself is request-specific and isn't covered by the
// static hop-by-hop set in message.IsHopByHop.
func stripConnectionTokens(hdr *message.Header) {
	conn, ok := hdr.Get("Connection")
	if !ok {
		return
	}
	for _, tok := range splitComma(conn) {
		name := trimSpace(tok)
		if name != "" {
			hdr.Del(name)
		}
	}
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
	return append(out, s[start:])
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
