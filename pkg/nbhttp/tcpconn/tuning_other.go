//go:build !linux

package tcpconn

import "net"

// tune falls back to the portable net.TCPConn options on platforms
// without the Linux-specific socket options used by tuning_linux.go.
func tune(nc net.Conn) {
	if tc, ok := nc.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
		_ = tc.SetKeepAlive(true)
	}
}
