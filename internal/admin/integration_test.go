package admin

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// startTestServer binds an ephemeral port and serves admin connections
// in the background, returning the listener address and a stop func.
func startTestServer(t *testing.T) (string, func()) {
	t.Helper()
	s := newTestServer(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s.listener = ln
	s.done = make(chan struct{})

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			s.handleAccept(c)
		}
	}()

	return ln.Addr().String(), func() {
		close(s.done)
		ln.Close()
	}
}

func TestAdminServerRoundTripOverTCP(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	c, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, writeFrame(c, []byte("VERSION")))
	reply, err := readFrame(c)
	require.NoError(t, err)
	require.Equal(t, "authdnsd-test", string(reply))
}

// TestAdminServerRepliesLIFO pipelines two requests without waiting for
// the first reply. Reply order across commands is an explicit
// non-guarantee (the reply stack is LIFO, not FIFO), so this only
// checks that both replies eventually arrive intact, not which comes
// first.
func TestAdminServerRepliesLIFO(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	c, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, writeFrame(c, []byte("VERSION")))
	require.NoError(t, writeFrame(c, []byte("ZONE GET_NUMZONES")))

	first, err := readFrame(c)
	require.NoError(t, err)
	second, err := readFrame(c)
	require.NoError(t, err)

	got := map[string]bool{string(first): true, string(second): true}
	require.True(t, got["authdnsd-test"])
	require.True(t, got["1"])
}
