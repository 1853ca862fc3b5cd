package admin

import (
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/dnsscience/authdnsd/internal/metrics"
	"github.com/dnsscience/authdnsd/internal/qhash"
	"github.com/dnsscience/authdnsd/internal/util"
)

// dispatch tokenizes line, resolves the command name, runs it, and
// returns the reply text to frame back to the client — the Go
// equivalent of admin.c's dispatchCommand, with util.Tokenize/Strip
// standing in for tokenize/strip and a map in place of dictCreate.
func dispatch(s *Server, line string) string {
	argv := util.Tokenize(line)
	for i := range argv {
		argv[i] = util.Strip(argv[i], `"`)
	}
	if len(argv) < 1 {
		return "need a command."
	}
	name := strings.ToUpper(argv[0])

	handler, ok := commandTable[name]
	if !ok {
		metrics.AdminCommandsTotal.WithLabelValues(name, "error").Inc()
		return fmt.Sprintf("invalid command %s.", argv[0])
	}
	reply := handler(s, argv)
	outcome := "ok"
	if strings.HasPrefix(reply, "invalid") || strings.Contains(reply, "needs") ||
		strings.HasPrefix(reply, "unknown") || strings.HasPrefix(reply, "Error") {
		outcome = "error"
	}
	metrics.AdminCommandsTotal.WithLabelValues(name, outcome).Inc()
	return reply
}

var commandTable = map[string]func(*Server, []string) string{
	"VERSION": versionCommand,
	"INFO":    infoCommand,
	"DEBUG":   debugCommand,
	"ZONE":    zoneCommand,
	"CONFIG":  configCommand,
}

// versionCommand mirrors admin.c's versionCommand: no arguments, replies
// with the build version string.
func versionCommand(s *Server, argv []string) string {
	if len(argv) > 1 {
		return fmt.Sprintf("VERSION command needs 0 arguments but gives %d.", len(argv)-1)
	}
	return s.cfg.Version
}

// infoCommand mirrors admin.c's infoCommand/genInfoString, reworked
// from DPDK lcore/NUMA/eth-port counters (not portable to a standard Go
// net-package server) to Go runtime and server stats: server, stats,
// cpu sections, default/all meaning the same as in admin.c.
func infoCommand(s *Server, argv []string) string {
	if len(argv) > 2 {
		return fmt.Sprintf("INFO command needs 0 or 1 argument but gives %d.", len(argv)-1)
	}
	section := "default"
	if len(argv) == 2 {
		section = argv[1]
	}
	return genInfoString(s, section)
}

func genInfoString(s *Server, section string) string {
	section = strings.ToLower(section)
	all := section == "all"
	def := section == "default"

	var sb strings.Builder
	wrote := false
	sep := func() {
		if wrote {
			sb.WriteString("\r\n")
		}
		wrote = true
	}

	uptime := time.Since(s.startedAt)

	if all || def || section == "server" {
		sep()
		fmt.Fprintf(&sb,
			"# Server\r\nversion:%s\r\nos:%s/%s\r\ngo_version:%s\r\nnum_cpu:%d\r\nnum_goroutine:%d\r\nuptime_in_seconds:%d\r\nuptime_in_days:%d\r\n",
			s.cfg.Version, runtime.GOOS, runtime.GOARCH, runtime.Version(),
			runtime.NumCPU(), runtime.NumGoroutine(),
			int64(uptime.Seconds()), int64(uptime.Hours()/24))
	}

	if all || def || section == "stats" {
		sep()
		s.connsMu.Lock()
		numConns := len(s.conns)
		s.connsMu.Unlock()
		fmt.Fprintf(&sb,
			"# Stats\r\nnum_zones:%d\r\nadmin_connections:%d\r\n",
			s.tree.NumZones(), numConns)
		if s.stats != nil {
			fmt.Fprintf(&sb,
				"queries:%d\r\nanswers:%d\r\nerrors:%d\r\nnxdomain:%d\r\ndropped:%d\r\n",
				s.stats.Queries(), s.stats.Answers(), s.stats.Errors(),
				s.stats.NXDomain(), s.stats.Dropped())
			// admin.c's genInfoString recomputes qps/dropped_qps over the
			// time elapsed since the previous INFO stats call rather than
			// keeping a running rate; QPSProvider is optional since a
			// StatsProvider that doesn't track timing has nothing to
			// divide by.
			if qp, ok := s.stats.(QPSProvider); ok {
				qps, droppedQPS := qp.QPS()
				fmt.Fprintf(&sb, "qps:%.2f\r\ndropped_qps:%.2f\r\n", qps, droppedQPS)
			}
			if bp, ok := s.stats.(BucketsProvider); ok {
				buckets := bp.QueryBuckets()
				sb.WriteString("query_buckets:")
				for i, c := range buckets {
					if i > 0 {
						sb.WriteString(",")
					}
					fmt.Fprintf(&sb, "%d", c)
				}
				sb.WriteString("\r\n")
			}
		}
	}

	if all || def || section == "memory" {
		sep()
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		fmt.Fprintf(&sb,
			"# Memory\r\nheap_alloc:%s\r\nheap_sys:%s\r\nnum_gc:%d\r\n",
			util.NumberToHuman(m.HeapAlloc), util.NumberToHuman(m.HeapSys), m.NumGC)
	}

	if all || section == "cpu" {
		sep()
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		fmt.Fprintf(&sb, "# CPU\r\ngomaxprocs:%d\r\n", runtime.GOMAXPROCS(0))
	}

	return sb.String()
}

// debugCommand mirrors admin.c's debugCommand: INFO dumps process
// internals, SEGFAULT/OOM are deliberate crash-recovery test hooks an
// operator can trigger on purpose. Every subcommand stays behind
// AllowDebugHooks (default false) so none of them can be hit by
// accident in production — admin.c has no such gate, the gate is the
// one behavioral change here.
func debugCommand(s *Server, argv []string) string {
	if len(argv) != 2 {
		return fmt.Sprintf("DEBUG command needs 1 argument, but gives %d.", len(argv)-1)
	}
	if !s.cfg.AllowDebugHooks {
		return "DEBUG is disabled on this server."
	}
	switch strings.ToLower(argv[1]) {
	case "info":
		return genDebugInfo()
	case "segfault":
		go debugCrash()
		return "OK"
	case "oom":
		go debugExhaustMemory()
		return "OK"
	default:
		return fmt.Sprintf("unknown debug subcommand %s.", argv[1])
	}
}

func genDebugInfo() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "gomaxprocs:      %d\r\n", runtime.GOMAXPROCS(0))
	fmt.Fprintf(&sb, "num_cpu:         %d\r\n", runtime.NumCPU())
	fmt.Fprintf(&sb, "num_goroutine:   %d\r\n", runtime.NumGoroutine())
	fmt.Fprintf(&sb, "go_version:      %s\r\n", runtime.Version())
	return sb.String()
}

// debugCrash deliberately panics the process, the crash-recovery test
// hook DEBUG SEGFAULT provides: an operator-triggered crash to exercise
// whatever supervises this process (systemd restart, k8s liveness
// probe), run on its own goroutine so the reply already went out.
func debugCrash() {
	time.Sleep(50 * time.Millisecond)
	panic("admin: DEBUG SEGFAULT triggered")
}

// debugExhaustMemory deliberately grows the heap without bound, the
// crash-recovery test hook DEBUG OOM provides: an operator-triggered
// out-of-memory condition to exercise the same supervision path as
// DEBUG SEGFAULT, from the opposite direction (OOM killer instead of a
// panic).
func debugExhaustMemory() {
	time.Sleep(50 * time.Millisecond)
	var chunks [][]byte
	for {
		chunks = append(chunks, make([]byte, 64<<20))
	}
}

// zoneCommand mirrors admin.c's zoneCommand: GET/GET_RRSET/GETALL/
// RELOAD/RELOADALL/GET_NUMZONES, same argument-count validation and
// error-string formats.
func zoneCommand(s *Server, argv []string) string {
	if len(argv) < 2 {
		return fmt.Sprintf("ZONE command needs at least 1 arguments, but gives %d.", len(argv)-1)
	}
	sub := strings.ToUpper(argv[1])
	switch sub {
	case "GET":
		if len(argv) != 3 {
			return fmt.Sprintf("ZONE GET needs 1 argument, but gives %d.", len(argv)-2)
		}
		origin := dns.Fqdn(argv[2])
		z, ok := s.tree.Snapshot().Zones[origin]
		if !ok {
			return fmt.Sprintf("zone %s not found", origin)
		}
		return z.String()

	case "GET_RRSET":
		if len(argv) != 4 {
			return fmt.Sprintf("ZONE GET_RRSET needs 2 argument, but gives %d.", len(argv)-2)
		}
		rrtype, ok := dns.StringToType[strings.ToUpper(argv[3])]
		if !ok {
			return fmt.Sprintf("unsupport dns type %s.", argv[3])
		}
		origin := dns.Fqdn(argv[2])
		z, ok := s.tree.Snapshot().Find(origin)
		if !ok {
			return fmt.Sprintf("zone %s not found.", argv[2])
		}
		rs, lookup := z.Lookup(origin, rrtype)
		if lookup != 0 || rs == nil {
			return fmt.Sprintf("RRSet <%s %s> not found.", argv[2], argv[3])
		}
		return rrsetToStr(rs.Type, rs)

	case "GETALL":
		if len(argv) != 2 {
			return fmt.Sprintf("ZONE GETALL needs no arguments, but gives %d.", len(argv)-2)
		}
		return zoneTreeToStr(s)

	case "RELOAD":
		if len(argv) < 3 {
			return fmt.Sprintf("ZONE RELOAD command needs at least 1 arguments but gives %d.", len(argv)-2)
		}
		for _, arg := range argv[2:] {
			origin := dns.Fqdn(arg)
			if err := s.reloadZone(origin); err != nil {
				return fmt.Sprintf("Error: %s", err)
			}
		}
		return "OK"

	case "RELOADALL":
		if len(argv) != 2 {
			return fmt.Sprintf("ZONE RELOADALL command needs 0 argument, but gives %d.", len(argv)-2)
		}
		if err := s.reloadAllZones(); err != nil {
			return fmt.Sprintf("Error: %s", err)
		}
		return "OK"

	case "GET_NUMZONES":
		return strconv.Itoa(s.tree.NumZones())

	default:
		return fmt.Sprintf("unknown subcommand %s for ZONE.", argv[1])
	}
}

// configCommand mirrors admin.c's configCommand: GETALL and the
// ZONEFILE SET/GET pair. GET/SET for arbitrary scalar config knobs
// aren't meaningful here (this port has no equivalent free-form
// config dict — see CONFIG GETALL below), so only the subcommands
// this server actually needs are wired.
func configCommand(s *Server, argv []string) string {
	if len(argv) < 2 {
		return fmt.Sprintf("CONFIG command needs at least 1 argument, but got %d.", len(argv)-1)
	}
	switch strings.ToUpper(argv[1]) {
	case "GETALL":
		return configToStr(s)

	case "ZONEFILE":
		if len(argv) < 3 {
			return "CONFIG ZONEFILE needs a subcommand."
		}
		switch strings.ToUpper(argv[2]) {
		case "SET":
			if len(argv)-3 != 2 {
				return "need 2 argument for CONFIG ZONEFILE SET."
			}
			if err := s.setZoneFile(argv[3], argv[4]); err != nil {
				return err.Error()
			}
			return "OK"
		case "GET":
			if len(argv)-3 != 1 {
				return "need 1 argument for CONFIG ZONEFILE GET."
			}
			path, ok := s.zoneFile(dns.Fqdn(argv[3]))
			if !ok {
				return ""
			}
			return path
		default:
			return fmt.Sprintf("unknown subcommand %s for CONFIG ZONEFILE.", argv[2])
		}

	default:
		return fmt.Sprintf("unknown subcommand(%s) for CONFIG command.", argv[1])
	}
}

// configToStr renders CONFIG GETALL: listener config, the configured
// zone files, and a per-zone fingerprint so a polling client can tell
// whether a zone changed between two calls without re-fetching ZONE
// GETALL's full text — internal/qhash.Zone keyed on origin+serial,
// cheap to recompute and stable across an unrelated reload of a
// different zone.
func configToStr(s *Server) string {
	s.zoneFilesMu.RLock()
	origins := make([]string, 0, len(s.zoneFiles))
	for o := range s.zoneFiles {
		origins = append(origins, o)
	}
	zoneFiles := s.zoneFiles
	s.zoneFilesMu.RUnlock()
	sort.Strings(origins)

	var sb strings.Builder
	fmt.Fprintf(&sb, "listen:%s\r\nzone_files_root:%s\r\n", s.cfg.ListenAddr, s.cfg.ZoneFilesRoot)
	for _, o := range origins {
		fmt.Fprintf(&sb, "zonefile[%s]:%s\r\n", o, zoneFiles[o])
	}

	snap := s.tree.Snapshot()
	fpOrigins := make([]string, 0, len(snap.Zones))
	for o := range snap.Zones {
		fpOrigins = append(fpOrigins, o)
	}
	sort.Strings(fpOrigins)
	for _, o := range fpOrigins {
		var serial uint32
		if soa := snap.Zones[o].SOA; soa != nil {
			serial = soa.Serial
		}
		fmt.Fprintf(&sb, "fingerprint[%s]:%x\r\n", o, qhash.Zone(o, serial))
	}
	return sb.String()
}

func zoneTreeToStr(s *Server) string {
	snap := s.tree.Snapshot()
	origins := make([]string, 0, len(snap.Zones))
	for o := range snap.Zones {
		origins = append(origins, o)
	}
	sort.Strings(origins)
	var sb strings.Builder
	for _, o := range origins {
		sb.WriteString(snap.Zones[o].String())
		sb.WriteString("\r\n")
	}
	return sb.String()
}

// rrsetToStr renders one RRSet for ZONE GET_RRSET, the admin-facing
// equivalent of zone.Zone.String()'s per-RRSet line.
func rrsetToStr(rrtype uint16, rs interface {
	Num() int
	Record(int) []byte
}) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "type:%s records:%d\r\n", dns.TypeToString[rrtype], rs.Num())
	for i := 0; i < rs.Num(); i++ {
		fmt.Fprintf(&sb, "  %x\r\n", rs.Record(i))
	}
	return sb.String()
}
