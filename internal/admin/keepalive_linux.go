//go:build linux

package admin

import (
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// tuneKeepalive sets TCP_KEEPIDLE/TCP_KEEPINTVL/TCP_KEEPCNT on nc's raw
// fd, the Go equivalent of admin.c's anetKeepAlive(NULL, fd, interval)
// — the C original tunes all three via setsockopt directly since libc
// doesn't expose per-field keepalive knobs either; net.TCPConn's
// SetKeepAlivePeriod only controls the idle time on some platforms, so
// this reaches through SyscallConn for the full three-knob tuning.
func tuneKeepalive(nc net.Conn, idle, interval time.Duration, count int) {
	tc, ok := nc.(*net.TCPConn)
	if !ok {
		return
	}
	tc.SetKeepAlive(true)

	raw, err := tc.SyscallConn()
	if err != nil {
		return
	}
	raw.Control(func(fd uintptr) {
		unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, int(idle.Seconds()))
		unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, int(interval.Seconds()))
		unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPCNT, count)
	})
}
