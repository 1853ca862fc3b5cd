package admin

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"

	"github.com/dnsscience/authdnsd/internal/zone"
)

func testTree(t *testing.T) *zone.Tree {
	t.Helper()
	z := zone.New("example.com.")
	z.AddRRSet("example.com.", &zone.RRSet{Type: dns.TypeNS})
	rs := &zone.RRSet{Type: dns.TypeA}
	rs.AppendRecord([]byte{192, 0, 2, 1}, "")
	z.AddRRSet("www.example.com.", rs)

	tree := zone.NewTree()
	tree.Publish(&zone.Snapshot{Zones: map[string]*zone.Zone{"example.com.": z}})
	return tree
}

type fakeLoader struct {
	zones map[string]*zone.Zone
	err   error
}

func (f *fakeLoader) LoadZone(origin, path string) (*zone.Zone, error) {
	if f.err != nil {
		return nil, f.err
	}
	if z, ok := f.zones[origin]; ok {
		return z, nil
	}
	return nil, fmt.Errorf("no fixture for %s", origin)
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Version = "authdnsd-test"
	return New(cfg, testTree(t), &fakeLoader{zones: map[string]*zone.Zone{}})
}

func TestDispatchVersion(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, "authdnsd-test", dispatch(s, "VERSION"))
}

func TestDispatchVersionRejectsArguments(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, "VERSION command needs 0 arguments but gives 1.", dispatch(s, "VERSION extra"))
}

func TestDispatchInvalidCommand(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, "invalid command BOGUS.", dispatch(s, "BOGUS"))
}

func TestDispatchInfoDefaultHasServerAndStatsSections(t *testing.T) {
	s := newTestServer(t)
	out := dispatch(s, "INFO")
	require.Contains(t, out, "# Server")
	require.Contains(t, out, "# Stats")
	require.Contains(t, out, "num_zones:1")
}

type fakeStats struct {
	queries, answers, errors, nxdomain, dropped uint64
	qps, droppedQPS                             float64
	buckets                                      [16]uint64
}

func (f *fakeStats) Queries() uint64           { return f.queries }
func (f *fakeStats) Answers() uint64           { return f.answers }
func (f *fakeStats) Errors() uint64            { return f.errors }
func (f *fakeStats) NXDomain() uint64          { return f.nxdomain }
func (f *fakeStats) Dropped() uint64           { return f.dropped }
func (f *fakeStats) QPS() (float64, float64)   { return f.qps, f.droppedQPS }
func (f *fakeStats) QueryBuckets() [16]uint64  { return f.buckets }

func TestDispatchInfoStatsIncludesWiredQueryStats(t *testing.T) {
	s := newTestServer(t)
	s.SetStats(&fakeStats{queries: 42, answers: 40, qps: 1.5, droppedQPS: 0.1})

	out := dispatch(s, "INFO stats")
	require.Contains(t, out, "queries:42")
	require.Contains(t, out, "answers:40")
	require.Contains(t, out, "qps:1.50")
	require.Contains(t, out, "dropped_qps:0.10")
	require.Contains(t, out, "query_buckets:")
}

func TestDispatchInfoRejectsTooManyArguments(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, "INFO command needs 0 or 1 argument but gives 2.", dispatch(s, "INFO a b"))
}

func TestDispatchDebugDisabledByDefault(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, "DEBUG is disabled on this server.", dispatch(s, "DEBUG info"))
}

func TestDispatchDebugInfoWhenAllowed(t *testing.T) {
	s := newTestServer(t)
	s.cfg.AllowDebugHooks = true
	out := dispatch(s, "DEBUG info")
	require.Contains(t, out, "gomaxprocs:")
}

func TestDispatchDebugRejectsWrongArgCount(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, "DEBUG command needs 1 argument, but gives 0.", dispatch(s, "DEBUG"))
}

func TestDispatchZoneNeedsSubcommand(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, "ZONE command needs at least 1 arguments, but gives 0.", dispatch(s, "ZONE"))
}

func TestDispatchZoneGetExisting(t *testing.T) {
	s := newTestServer(t)
	out := dispatch(s, "ZONE GET example.com.")
	require.Contains(t, out, "origin: example.com.")
}

func TestDispatchZoneGetMissing(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, "zone nope.com. not found", dispatch(s, "ZONE GET nope.com."))
}

func TestDispatchZoneGetWrongArgCount(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, "ZONE GET needs 1 argument, but gives 0.", dispatch(s, "ZONE GET"))
}

func TestDispatchZoneGetRRSet(t *testing.T) {
	s := newTestServer(t)
	out := dispatch(s, "ZONE GET_RRSET www.example.com. A")
	require.Contains(t, out, "type:A records:1")
}

func TestDispatchZoneGetRRSetUnsupportedType(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, "unsupport dns type BOGUS.", dispatch(s, "ZONE GET_RRSET www.example.com. BOGUS"))
}

func TestDispatchZoneGetNumZones(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, "1", dispatch(s, "ZONE GET_NUMZONES"))
}

func TestDispatchZoneUnknownSubcommand(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, "unknown subcommand BOGUS for ZONE.", dispatch(s, "ZONE BOGUS"))
}

func TestDispatchConfigZoneFileSetAndGet(t *testing.T) {
	s := newTestServer(t)
	dir := t.TempDir()
	zf := filepath.Join(dir, "example.com.zone")
	require.NoError(t, os.WriteFile(zf, []byte("; empty"), 0o644))

	out := dispatch(s, fmt.Sprintf(`CONFIG ZONEFILE SET "example.com." "%s"`, zf))
	require.Equal(t, "OK", out)

	got := dispatch(s, `CONFIG ZONEFILE GET "example.com."`)
	require.Equal(t, zf, got)
}

func TestDispatchConfigZoneFileSetRejectsMissingFile(t *testing.T) {
	s := newTestServer(t)
	out := dispatch(s, `CONFIG ZONEFILE SET "example.com." "/no/such/file"`)
	require.Contains(t, out, "doesn't exist")
}

func TestDispatchConfigZoneFileSetRejectsNonAbsoluteDomain(t *testing.T) {
	s := newTestServer(t)
	out := dispatch(s, `CONFIG ZONEFILE SET "example.com" "/etc/hosts"`)
	require.Contains(t, out, "is not absolute domain name")
}

func TestDispatchConfigGetAll(t *testing.T) {
	s := newTestServer(t)
	out := dispatch(s, "CONFIG GETALL")
	require.Contains(t, out, "listen:")
	require.Contains(t, out, "fingerprint[example.com.]:")
}

func TestDispatchConfigUnknownSubcommand(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, "unknown subcommand(BOGUS) for CONFIG command.", dispatch(s, "CONFIG BOGUS"))
}

func TestZoneReloadRequiresConfiguredFile(t *testing.T) {
	s := newTestServer(t)
	out := dispatch(s, "ZONE RELOAD example.com.")
	require.Contains(t, out, "Error:")
}

func TestZoneReloadPublishesNewSnapshot(t *testing.T) {
	s := newTestServer(t)
	dir := t.TempDir()
	zf := filepath.Join(dir, "example.com.zone")
	require.NoError(t, os.WriteFile(zf, []byte("; empty"), 0o644))
	require.Equal(t, "OK", dispatch(s, fmt.Sprintf(`CONFIG ZONEFILE SET "example.com." "%s"`, zf)))

	reloaded := zone.New("example.com.")
	reloaded.AddRRSet("example.com.", &zone.RRSet{Type: dns.TypeNS})
	s.loader.(*fakeLoader).zones["example.com."] = reloaded

	require.Equal(t, "OK", dispatch(s, "ZONE RELOAD example.com."))
	z, ok := s.tree.Snapshot().Zones["example.com."]
	require.True(t, ok)
	require.Same(t, reloaded, z)
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, []byte("VERSION")))
	got, err := readFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, "VERSION", string(got))
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, bytes.Repeat([]byte{'x'}, 10)))
	raw := buf.Bytes()
	raw[0] = 0xff // corrupt the length prefix to something huge (0xff00000a)
	_, err := readFrame(bytes.NewReader(raw))
	require.Error(t, err)
}

func TestGenInfoStringAllIncludesEverySection(t *testing.T) {
	s := newTestServer(t)
	out := genInfoString(s, "all")
	for _, want := range []string{"# Server", "# Stats", "# Memory", "# CPU"} {
		require.True(t, strings.Contains(out, want), "missing %s", want)
	}
}
