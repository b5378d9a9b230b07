//go:build linux

package tcpconn

import (
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// tune applies Linux-specific socket options, grounded on
// shockwave/pkg/shockwave/socket/tuning_linux.go: quick ACKs and a
// user-timeout so dead peers are detected without waiting on the
// application-level read_timeout, plus keepalive tuning matching §6's
// idle-connection story.
func tune(nc net.Conn) {
	tc, ok := nc.(*net.TCPConn)
	if !ok {
		return
	}
	_ = tc.SetNoDelay(true)
	_ = tc.SetKeepAlive(true)
	_ = tc.SetKeepAlivePeriod(60 * time.Second) // matches tuning_linux.go's TCP_KEEPIDLE

	raw, err := tc.SyscallConn()
	if err != nil {
		return
	}
	_ = raw.Control(func(fd uintptr) {
		_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_QUICKACK, 1)
		_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_USER_TIMEOUT, 10000)
	})
}
