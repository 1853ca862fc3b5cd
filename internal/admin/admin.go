// Package admin implements a framed TCP control channel:
// VERSION/INFO/DEBUG/ZONE/CONFIG commands over 4-byte length-prefixed
// request/response frames. Ported from admin.c's aeEventLoop-driven
// connection state machine into a goroutine-per-direction model —
// net.Conn gives blocking reads for free, so the CONN_READ_LEN/
// CONN_READ_N dispatch collapses into a sequential read loop per
// connection, with a second goroutine per connection draining the
// reply stack, while framing, idle-eviction, and command semantics are
// carried over unchanged.
package admin

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/dnsscience/authdnsd/internal/metrics"
	"github.com/dnsscience/authdnsd/internal/zone"
)

const (
	lenBytes = 4

	// maxFrameSize bounds a single request frame. admin.c has no such
	// check because its argv[10] token table and fixed data buffer
	// already cap what dispatchCommand can see; a length-prefixed Go
	// reader has no equivalent implicit cap, so this is the boundary
	// check for untrusted network input the C buffer sizing gave it
	// for free.
	maxFrameSize = 64 * 1024

	// idleExpire is ADMIN_CONN_EXPIRE from admin.c: a connection idle
	// longer than this is closed by the cron sweep.
	idleExpire = 3600 * time.Second

	// cronInterval is how often the idle sweep runs (admin.c's
	// TIME_INTERVAL time event).
	cronInterval = 1 * time.Second

	// maxAcceptsPerCall is the default for Config.MaxAcceptsPerCall,
	// carried over from admin.c's MAX_ACCEPTS_PER_CALL. ListenAndServe
	// does not read it: its accept loop takes connections one at a
	// time with no per-burst cap.
	maxAcceptsPerCall = 1000
)

// ZoneLoader reads a zone file from disk and parses it into a
// *zone.Zone, the dependency the ZONE RELOAD and CONFIG ZONEFILE SET
// commands need. The admin package only orchestrates the reload
// protocol; the concrete format (YAML fixture, AXFR, etc.) is supplied
// by the caller, exactly as admin.c's asyncReloadZoneRaw delegated to
// the configured data_store backend.
type ZoneLoader interface {
	LoadZone(origin, path string) (*zone.Zone, error)
}

// StatsProvider exposes the query pipeline's counters so INFO stats can
// report them alongside admin's own connection count — internal/server
// implements this. internal/metrics's Prometheus counters are a
// separate set that internal/server increments alongside these; they
// are not read through this interface.
type StatsProvider interface {
	Queries() uint64
	Answers() uint64
	Errors() uint64
	NXDomain() uint64
	Dropped() uint64
}

// QPSProvider is an optional extension of StatsProvider: a provider
// that also tracks query timing can report a rate since the previous
// call, the way admin.c's genInfoString recomputes qps/dropped_qps
// each time INFO stats runs rather than keeping a continuously
// updated counter.
type QPSProvider interface {
	QPS() (qps, droppedQPS float64)
}

// BucketsProvider is an optional extension of StatsProvider exposing
// the qhash-keyed query-identity distribution table (internal/qhash's
// SipHash digest of qname/qtype/qclass, bucketed) for INFO stats'
// query_buckets line: cumulative query counts per hash bucket.
type BucketsProvider interface {
	QueryBuckets() [16]uint64
}

// Config configures a Server.
type Config struct {
	ListenAddr        string
	Version           string
	IdleTimeout       time.Duration
	MaxAcceptsPerCall int
	RateLimit         RateLimiterConfig
	ZoneFilesRoot     string
	// AllowDebugHooks gates every DEBUG subcommand behind an explicit
	// opt-in: DEBUG INFO, which dumps process internals, and the
	// deliberate DEBUG SEGFAULT/OOM crash hooks (a panic and an
	// unbounded allocation) that admin.c offers for crash-testing.
	AllowDebugHooks bool
}

// DefaultConfig returns the admin.c defaults translated to this port.
func DefaultConfig() Config {
	return Config{
		ListenAddr:        "127.0.0.1:9911",
		Version:           "dev",
		IdleTimeout:       idleExpire,
		MaxAcceptsPerCall: maxAcceptsPerCall,
		RateLimit:         DefaultRateLimiterConfig(),
		AllowDebugHooks:   false,
	}
}

// Server is the admin control-channel listener.
type Server struct {
	cfg    Config
	tree   *zone.Tree
	loader ZoneLoader
	rl     *RateLimiter
	stats  StatsProvider

	startedAt time.Time

	zoneFilesMu sync.RWMutex
	zoneFiles   map[string]string // dotted origin -> absolute zone file path

	connsMu sync.Mutex
	conns   map[*conn]struct{}

	listener net.Listener
	done     chan struct{}
	wg       sync.WaitGroup
}

// New builds a Server bound to tree. Listen must be called to start
// accepting connections.
func New(cfg Config, tree *zone.Tree, loader ZoneLoader) *Server {
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = idleExpire
	}
	if cfg.MaxAcceptsPerCall == 0 {
		cfg.MaxAcceptsPerCall = maxAcceptsPerCall
	}
	return &Server{
		cfg:       cfg,
		tree:      tree,
		loader:    loader,
		rl:        NewRateLimiter(cfg.RateLimit),
		startedAt: time.Now(),
		zoneFiles: make(map[string]string),
		conns:     make(map[*conn]struct{}),
		done:      make(chan struct{}),
	}
}

// SetStats wires a query-pipeline stats source in, so INFO stats can
// report query/answer/error counts. Optional — a Server with no stats
// source set just omits those fields, the way admin.c's genInfoString
// skips a section it has nothing to report for.
func (s *Server) SetStats(sp StatsProvider) {
	s.stats = sp
}

// ListenAndServe binds cfg.ListenAddr and serves admin connections
// until Close is called. Go's net package resolves IPv4-vs-IPv6
// listening from the address form itself, the equivalent of admin.c's
// explicit anetTcpServer/anetTcp6Server family selection.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("admin: listen %s: %w", s.cfg.ListenAddr, err)
	}
	s.listener = ln

	s.wg.Add(1)
	go s.cronLoop()

	for {
		c, err := ln.Accept()
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
				return err
			}
		}
		s.handleAccept(c)
	}
}

// handleAccept enforces the per-IP rate limit and spins up a
// connection goroutine, mirroring adminAcceptHandler's per-accept
// bookkeeping (anetNonBlock/anetEnableTcpNoDelay/anetKeepAlive are the
// Go-idiomatic equivalents applied in newConn).
func (s *Server) handleAccept(nc net.Conn) {
	host, _, _ := net.SplitHostPort(nc.RemoteAddr().String())
	if !s.rl.AllowString(host) {
		nc.Close()
		return
	}

	c := newConn(nc, s)
	s.connsMu.Lock()
	s.conns[c] = struct{}{}
	s.connsMu.Unlock()
	metrics.AdminConnectionsActive.Inc()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		c.serve()
		s.removeConn(c)
	}()
}

func (s *Server) removeConn(c *conn) {
	s.connsMu.Lock()
	delete(s.conns, c)
	s.connsMu.Unlock()
	metrics.AdminConnectionsActive.Dec()
}

// cronLoop is adminCron: a periodic sweep closing connections idle
// longer than cfg.IdleTimeout.
func (s *Server) cronLoop() {
	defer s.wg.Done()
	t := time.NewTicker(cronInterval)
	defer t.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-t.C:
			s.evictIdle()
		}
	}
}

func (s *Server) evictIdle() {
	now := time.Now()
	s.connsMu.Lock()
	var stale []*conn
	for c := range s.conns {
		if now.Sub(c.lastActive()) > s.cfg.IdleTimeout {
			stale = append(stale, c)
		}
	}
	s.connsMu.Unlock()
	for _, c := range stale {
		c.nc.Close()
	}
}

// Close stops accepting new connections and closes every open one.
func (s *Server) Close() error {
	close(s.done)
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	s.connsMu.Lock()
	for c := range s.conns {
		c.nc.Close()
	}
	s.connsMu.Unlock()
	s.wg.Wait()
	return nil
}

// conn is one admin connection: framed request I/O on one goroutine, a
// LIFO reply stack drained by a second — admin.c's replyList is a
// linked list pushed-to-head and walked head-first by
// adminWriteHandler, an explicit non-guarantee on reply ordering kept
// here rather than redesigned away. A Go net.Conn gives blocking I/O,
// so a goroutine per direction reproduces the same decoupling
// admin.c's single-threaded event loop needed a state machine for.
type conn struct {
	nc net.Conn
	s  *Server

	mu   sync.Mutex
	last time.Time

	replyMu sync.Mutex
	replies [][]byte
	wake    chan struct{}
	closed  chan struct{}
}

func newConn(nc net.Conn, s *Server) *conn {
	if tc, ok := nc.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
		tuneKeepalive(tc, 60*time.Second, 10*time.Second, 3)
	}
	return &conn{
		nc:     nc,
		s:      s,
		last:   time.Now(),
		wake:   make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

func (c *conn) touch() {
	c.mu.Lock()
	c.last = time.Now()
	c.mu.Unlock()
}

func (c *conn) lastActive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// pushReply appends reply to the stack and wakes the writer —
// adminConnAppendW's equivalent.
func (c *conn) pushReply(reply []byte) {
	c.replyMu.Lock()
	c.replies = append(c.replies, reply)
	c.replyMu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// popReply pops the most recently pushed reply, LIFO.
func (c *conn) popReply() ([]byte, bool) {
	c.replyMu.Lock()
	defer c.replyMu.Unlock()
	n := len(c.replies)
	if n == 0 {
		return nil, false
	}
	rep := c.replies[n-1]
	c.replies = c.replies[:n-1]
	return rep, true
}

// serve runs the read loop until the peer closes the connection or a
// frame read fails, dispatching each command onto the reply stack, and
// waits for the writer goroutine to drain before returning.
func (c *conn) serve() {
	defer c.nc.Close()
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.writeLoop()
	}()

	for {
		req, err := readFrame(c.nc)
		if err != nil {
			break
		}
		c.touch()
		c.pushReply([]byte(dispatch(c.s, string(req))))
	}
	close(c.closed)
	<-done
}

// writeLoop is adminWriteHandler: drain the reply stack LIFO, blocking
// on wake between bursts, until the connection is torn down.
func (c *conn) writeLoop() {
	for {
		for {
			rep, ok := c.popReply()
			if !ok {
				break
			}
			if err := writeFrame(c.nc, rep); err != nil {
				return
			}
		}
		select {
		case <-c.wake:
		case <-c.closed:
			// Drain whatever arrived between the last pop and close.
			for {
				rep, ok := c.popReply()
				if !ok {
					return
				}
				if err := writeFrame(c.nc, rep); err != nil {
					return
				}
			}
		}
	}
}

func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [lenBytes]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("admin: frame too large: %d", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func writeFrame(w io.Writer, payload []byte) error {
	var lenBuf [lenBytes]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}
