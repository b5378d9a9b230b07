// Package message implements C4: the HTTP/1.1 byte-stream parser and
// serializer, the ordered header set, and the body-delimitation-mode
// state machine shared by the server (C5) and client (C6) connections.
package message

import "time"

const (
	// MaxStartLineSize bounds the request/status line, mirroring the
	// 8 KiB RFC 7230 recommendation.
	MaxStartLineSize = 8 * 1024
	// MaxHeaderBlockSize bounds the cumulative header block.
	MaxHeaderBlockSize = 64 * 1024
	// MaxChunkSize bounds a single chunk's declared size, guarding
	// against a hostile hex size line before any body bytes arrive.
	MaxChunkSize = 16 * 1024 * 1024
)

// DefaultReadTimeout is §6's 10s inactivity timeout.
const DefaultReadTimeout = 10 * time.Second

// BDM is the body delimitation mode chosen per §3/§4.4.
type BDM int

const (
	BDMNone BDM = iota
	BDMCounted
	BDMChunked
	BDMClose
)

func (b BDM) String() string {
	switch b {
	case BDMNone:
		return "none"
	case BDMCounted:
		return "counted"
	case BDMChunked:
		return "chunked"
	case BDMClose:
		return "close"
	default:
		return "unknown"
	}
}

// State is the parser's coarse state per §3.
type State int

const (
	StateWaiting State = iota
	StateHeadersDone
)

var crlf = []byte("\r\n")

// hopByHop is §3's stripped-on-proxy-boundary header set.
var hopByHop = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailers":            true,
	"transfer-encoding":   true,
	"upgrade":             true,
}

// IsHopByHop reports whether name (any case) is a hop-by-hop header.
func IsHopByHop(name string) bool {
	return hopByHop[lowerASCII(name)]
}

func lowerASCII(s string) string {
	b := []byte(s)
	changed := false
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 32
			changed = true
		}
	}
	if !changed {
		return s
	}
	return string(b)
}
