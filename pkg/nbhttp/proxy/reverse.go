package proxy

import (
	"net/url"

	"github.com/yourusername/nbhttp/pkg/nbhttp/httpclient"
	"github.com/yourusername/nbhttp/pkg/nbhttp/httpserver"
	"github.com/yourusername/nbhttp/pkg/nbhttp/message"
)

// Director rewrites an inbound request's method/target/header before
// it is forwarded to a backend. It may mutate hdr in place.
type Director func(method, target string, hdr *message.Header) (newTarget string)

// BackendAuthority returns a Director that replaces the scheme and
// host:port of every request's target with backendAuthority while
// keeping its path, query, and fragment — the reverse-proxy rewrite
// named "backend_authority" in the reference proxy scripts.
func BackendAuthority(scheme, backendAuthority string) Director {
	return func(_, target string, _ *message.Header) string {
		u, err := url.Parse(target)
		if err != nil {
			return target
		}
		u.Scheme = scheme
		u.Host = backendAuthority
		return u.String()
	}
}

// Reverse returns an httpserver.Handler that rewrites each request's
// target via director before relaying it to client, unlike Forward
// where the request's own absolute-URI target is used unmodified.
func Reverse(client httpclient.RoundTripper, director Director) httpserver.Handler {
	return func(method, target string, hdr *message.Header, resStart httpserver.ResStartFunc, reqBodyPause func(bool)) (httpserver.ReqBodyFunc, httpserver.ReqDoneFunc) {
		backendTarget := director(method, target, hdr)
		return bridgeToBackend(client, method, backendTarget, hdr, resStart, reqBodyPause)
	}
}
