// Package server wires the query decoder, zone lookup, and response
// encoder into a single per-packet pipeline: decode, look up the
// answering zone under a read-only snapshot, pack a response, hand the
// bytes back to whatever owns the socket. It owns no I/O itself — the
// packet-receive framework stays out of scope, so cmd/authdnsd brings
// its own UDP listener and calls HandleQuery per packet.
package server

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dnsscience/authdnsd/internal/metrics"
	"github.com/dnsscience/authdnsd/internal/qhash"
	"github.com/dnsscience/authdnsd/internal/query"
	"github.com/dnsscience/authdnsd/internal/respbuf"
	"github.com/dnsscience/authdnsd/internal/respenc"
	"github.com/dnsscience/authdnsd/internal/zone"
)

// numQueryBuckets sizes the qhash-keyed query-identity distribution
// table INFO stats reports — a coarse load-distribution aid, not a
// precise per-name counter.
const numQueryBuckets = 16

// stackBufSize is the initial on-stack-sized scratch buffer handed to
// respbuf.NewStack per query — big enough for a plain, non-EDNS
// response without promoting to the heap; anything larger reallocates
// through respbuf's own promotion rules.
const stackBufSize = 512

// Config controls the pipeline's decode and answer behavior.
type Config struct {
	Query query.Config

	// NumCores sizes the per-zone rotation tables: every concurrent
	// caller of HandleQuery must pass a stable core index in
	// [0, NumCores) so the round-robin counters rrsetCompressPack
	// advances stay lock-free on the query-handling hot path, with no
	// atomics.
	NumCores int

	// MinimizeResp suppresses the apex-NS authority and the additional
	// glue; a negative answer still carries its SOA in authority and an
	// EDNS query still gets its OPT echoed.
	MinimizeResp bool
}

// DefaultConfig returns single-core decode defaults.
func DefaultConfig() Config {
	return Config{Query: query.DefaultConfig(), NumCores: 1}
}

// rotationEntry pairs a cached *zone.Rotation with the *zone.Zone
// pointer it was built for. A reload always publishes a new *zone.Zone
// for the changed origin rather than mutating one in place (see
// internal/admin's reload.go), so comparing pointers is how a stale
// table gets noticed and replaced.
type rotationEntry struct {
	zone *zone.Zone
	rot  *zone.Rotation
}

// rotationCache keeps one *zone.Rotation alive per zone origin across
// queries. Recreating it per-query would reset the round-robin
// counters every time, defeating the fairness rotation exists for.
// ZRRIdx numbering restarts at 0 independently in every zone, so the
// cache key is the origin, not one shared table.
type rotationCache struct {
	numCores int

	mu      sync.RWMutex
	entries map[string]*rotationEntry
}

func newRotationCache(numCores int) *rotationCache {
	if numCores < 1 {
		numCores = 1
	}
	return &rotationCache{numCores: numCores, entries: make(map[string]*rotationEntry)}
}

func (rc *rotationCache) get(z *zone.Zone) *zone.Rotation {
	rc.mu.RLock()
	if e, ok := rc.entries[z.Origin]; ok && e.zone == z {
		rot := e.rot
		rc.mu.RUnlock()
		return rot
	}
	rc.mu.RUnlock()

	rc.mu.Lock()
	defer rc.mu.Unlock()
	if e, ok := rc.entries[z.Origin]; ok && e.zone == z {
		return e.rot
	}
	rot := zone.NewRotation(rc.numCores, z.MaxZRRIdx())
	rc.entries[z.Origin] = &rotationEntry{zone: z, rot: rot}
	return rot
}

// Stats is a point-in-time snapshot of Server's query counters, the
// set internal/admin's INFO stats section reads through StatsProvider.
// internal/metrics's Prometheus counters are incremented separately in
// HandleQuery and are not derived from these.
type Stats struct {
	Queries       uint64
	Answers       uint64
	Errors        uint64
	NXDomain      uint64
	Dropped       uint64
	DictOverflows uint64
}

// Server runs the decode/lookup/encode pipeline against a live
// zone.Tree. It is safe for concurrent use by any number of callers,
// each identified by a stable core index.
type Server struct {
	cfg       Config
	tree      *zone.Tree
	rotations *rotationCache

	queries       atomic.Uint64
	answers       atomic.Uint64
	errors        atomic.Uint64
	nxdomain      atomic.Uint64
	dropped       atomic.Uint64
	dictOverflows atomic.Uint64

	queryBuckets [numQueryBuckets]atomic.Uint64

	qpsMu          sync.Mutex
	qpsLastAt      time.Time
	qpsLastQueries uint64
	qpsLastDropped uint64
}

// New builds a Server answering out of tree.
func New(cfg Config, tree *zone.Tree) *Server {
	if cfg.NumCores < 1 {
		cfg.NumCores = 1
	}
	var zeroQueryConfig query.Config
	if cfg.Query == zeroQueryConfig {
		cfg.Query = query.DefaultConfig()
	}
	return &Server{
		cfg:       cfg,
		tree:      tree,
		rotations: newRotationCache(cfg.NumCores),
		qpsLastAt: time.Now(),
	}
}

// Queries, Answers, Errors, NXDomain, and Dropped satisfy
// internal/admin's StatsProvider interface; DictOverflows is an extra
// accessor outside it.
func (s *Server) Queries() uint64       { return s.queries.Load() }
func (s *Server) Answers() uint64       { return s.answers.Load() }
func (s *Server) Errors() uint64        { return s.errors.Load() }
func (s *Server) NXDomain() uint64      { return s.nxdomain.Load() }
func (s *Server) Dropped() uint64       { return s.dropped.Load() }
func (s *Server) DictOverflows() uint64 { return s.dictOverflows.Load() }

// StatsSnapshot returns every counter at once.
func (s *Server) StatsSnapshot() Stats {
	return Stats{
		Queries:       s.Queries(),
		Answers:       s.Answers(),
		Errors:        s.Errors(),
		NXDomain:      s.NXDomain(),
		Dropped:       s.Dropped(),
		DictOverflows: s.DictOverflows(),
	}
}

// QueryBuckets returns the current counts of the qhash-keyed query-
// identity distribution table, the Go equivalent of admin.c's
// per-type QPS bucketing in genInfoString's stats section — here
// bucketed by a SipHash digest of (qname, qtype, qclass) rather than
// bare qtype, so repeated lookups of the same name/type pair land in
// the same bucket regardless of case.
func (s *Server) QueryBuckets() [numQueryBuckets]uint64 {
	var out [numQueryBuckets]uint64
	for i := range s.queryBuckets {
		out[i] = s.queryBuckets[i].Load()
	}
	return out
}

// QPS computes the query and drop rate since the last call to QPS,
// mirroring admin.c's genInfoString recomputing qps/dropped_qps over
// the elapsed time since the previous INFO stats call rather than
// keeping a continuously-updated rate.
func (s *Server) QPS() (qps, droppedQPS float64) {
	s.qpsMu.Lock()
	defer s.qpsMu.Unlock()

	now := time.Now()
	elapsed := now.Sub(s.qpsLastAt).Seconds()
	curQueries := s.queries.Load()
	curDropped := s.dropped.Load()

	if elapsed > 0 {
		qps = float64(curQueries-s.qpsLastQueries) / elapsed
		droppedQPS = float64(curDropped-s.qpsLastDropped) / elapsed
	}

	s.qpsLastAt = now
	s.qpsLastQueries = curQueries
	s.qpsLastDropped = curDropped
	return qps, droppedQPS
}

// HandleQuery decodes buf, looks up an answer, and packs the response.
// core identifies the calling worker so its rrsetCompressPack
// round-robin draw only ever touches that worker's own window of a
// zone's rotation table, never another's (see DESIGN.md for why this
// takes a core argument). Passing the same core value from two
// goroutines concurrently reintroduces the race the rotation tables
// exist to avoid; callers own that discipline (one fixed core per
// listener goroutine).
func (s *Server) HandleQuery(buf []byte, core int) (resp []byte, drop bool) {
	began := time.Now()
	defer func() { metrics.QueryDuration.Observe(time.Since(began).Seconds()) }()

	s.queries.Add(1)

	ctx, rc := query.Decode(buf, s.cfg.Query)
	switch rc {
	case query.Ignore:
		s.dropped.Add(1)
		metrics.QueriesTotal.WithLabelValues("ignore").Inc()
		metrics.DroppedTotal.WithLabelValues("malformed").Inc()
		return nil, true

	case query.Ok:
		metrics.QueriesTotal.WithLabelValues("ok").Inc()
		return s.answerQuery(ctx, core)

	default:
		metrics.QueriesTotal.WithLabelValues(decodeOutcomeLabel(rc)).Inc()
		return s.answerError(ctx, rc)
	}
}

func (s *Server) answerQuery(ctx *query.Context, core int) (resp []byte, drop bool) {
	bucket := qhash.Query(ctx.QName, ctx.QType, ctx.QClass) % numQueryBuckets
	s.queryBuckets[bucket].Add(1)

	snap := s.tree.Snapshot()

	opts := respenc.Options{MinimizeResp: s.cfg.MinimizeResp, Core: core}
	if zn, ok := snap.Find(ctx.QName); ok {
		opts.Rotation = s.rotations.get(zn)
	}

	out := respbuf.NewStack(make([]byte, stackBufSize))
	if err := respenc.DumpResponse(ctx, snap, opts, out); err != nil {
		log.Printf("server: encode response for %q: %v", ctx.QName, err)
		s.dropped.Add(1)
		metrics.DroppedTotal.WithLabelValues("encode_error").Inc()
		return nil, true
	}

	bytes := out.Bytes()
	if out.Mode() == respbuf.ModeHeap {
		// The backing array is pool-owned once promoted; copy out the
		// finished message before handing the array back.
		bytes = append([]byte(nil), bytes...)
		out.Release()
	}
	rcode := bytes[3] & 0x0F
	if rcode == respenc.RcodeNXDomain {
		s.nxdomain.Add(1)
	} else {
		s.answers.Add(1)
	}
	metrics.AnswersTotal.WithLabelValues(rcodeName(rcode)).Inc()
	return bytes, false
}

func (s *Server) answerError(ctx *query.Context, rc query.Rcode) (resp []byte, drop bool) {
	headerRcode, extRcode := respenc.MapQueryRcode(rc)

	out := respbuf.NewStack(make([]byte, stackBufSize))
	if err := respenc.DumpError(ctx, headerRcode, extRcode, out); err != nil {
		log.Printf("server: encode error response: %v", err)
		s.dropped.Add(1)
		metrics.DroppedTotal.WithLabelValues("encode_error").Inc()
		return nil, true
	}

	s.errors.Add(1)
	metrics.AnswersTotal.WithLabelValues(rcodeName(headerRcode)).Inc()
	bytes := out.Bytes()
	if out.Mode() == respbuf.ModeHeap {
		bytes = append([]byte(nil), bytes...)
		out.Release()
	}
	return bytes, false
}

func decodeOutcomeLabel(rc query.Rcode) string {
	switch rc {
	case query.FormErr:
		return "formerr"
	case query.NotImp:
		return "notimp"
	case query.BadVers:
		return "badvers"
	default:
		return "unknown"
	}
}

func rcodeName(rcode uint8) string {
	switch rcode {
	case respenc.RcodeNoError:
		return "noerror"
	case respenc.RcodeFormErr:
		return "formerr"
	case respenc.RcodeServFail:
		return "servfail"
	case respenc.RcodeNXDomain:
		return "nxdomain"
	case respenc.RcodeNotImp:
		return "notimp"
	default:
		return "other"
	}
}
