//go:build !linux

package admin

import (
	"net"
	"time"
)

// tuneKeepalive falls back to the portable stdlib knob on non-Linux
// platforms, where TCP_KEEPIDLE/TCP_KEEPINTVL/TCP_KEEPCNT aren't
// uniformly available through golang.org/x/sys/unix.
func tuneKeepalive(nc net.Conn, idle, _ time.Duration, _ int) {
	tc, ok := nc.(*net.TCPConn)
	if !ok {
		return
	}
	tc.SetKeepAlive(true)
	tc.SetKeepAlivePeriod(idle)
}
