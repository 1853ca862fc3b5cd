// Package zone models the in-memory authoritative zone data the
// response encoder reads against: Zone/RRSet/DnsDictValue, plus a
// read-locked Tree holding an immutable Snapshot that data-plane cores
// acquire once per query — a snapshot-swap model in place of a raw,
// mutable pointer graph, so a reload never exposes a half-updated
// zone to a concurrent reader.
package zone

import (
	"fmt"
	"strings"
	"sync"

	"github.com/miekg/dns"
)

// LookupResult classifies the outcome of a Zone.Lookup call, mirroring
// the NXDOMAIN/NODATA distinction the response encoder needs to pick the
// right error path and AA bit.
type LookupResult int

const (
	// LookupOK means the owner exists and holds a record of the
	// requested type.
	LookupOK LookupResult = iota
	// LookupNoData means the owner exists but has no record of the
	// requested type.
	LookupNoData
	// LookupNXDomain means no owner (exact or wildcard) matches.
	LookupNXDomain
)

// RRSet is an ordered set of records of one type under one owner,
// sharing a TTL. Rdata for every record is packed back to back into
// Data; Offsets/Lengths slice it back out. EmbeddedName carries, for
// record types whose rdata contains a domain name (CNAME, NS, MX, SRV,
// PTR), that name as a string per record — the response encoder needs
// the name in decoded form to feed the compression engine rather than
// re-walking wire bytes.
type RRSet struct {
	Type    uint16
	TTL     uint32
	Data    []byte
	Offsets []int
	Lengths []int

	// EmbeddedName[i] is the target name of record i for
	// name-bearing rdata types, "" otherwise.
	EmbeddedName []string

	// ZRRIdx identifies this RRSet's slot in its zone's round-robin
	// rotation table. Assigned by Zone.AddRRSet; 0 for single-record
	// RRSets (round-robin is a no-op there).
	ZRRIdx int
}

// Num returns the number of records in the RRSet.
func (rs *RRSet) Num() int {
	if rs == nil {
		return 0
	}
	return len(rs.Offsets)
}

// Record returns record i's raw rdata bytes.
func (rs *RRSet) Record(i int) []byte {
	return rs.Data[rs.Offsets[i] : rs.Offsets[i]+rs.Lengths[i]]
}

// AppendRecord appends one record's rdata (and, for name-bearing types,
// its embedded target name) to the RRSet.
func (rs *RRSet) AppendRecord(rdata []byte, embeddedName string) {
	off := len(rs.Data)
	rs.Data = append(rs.Data, rdata...)
	rs.Offsets = append(rs.Offsets, off)
	rs.Lengths = append(rs.Lengths, len(rdata))
	rs.EmbeddedName = append(rs.EmbeddedName, embeddedName)
}

// DictValue is a fixed-slot container indexed by DNS record type,
// returning the RRSet for that type or reporting it absent.
type DictValue struct {
	slots map[uint16]*RRSet
}

// NewDictValue returns an empty DictValue.
func NewDictValue() *DictValue {
	return &DictValue{slots: make(map[uint16]*RRSet)}
}

// Get returns the RRSet of the given type, if any.
func (d *DictValue) Get(rrtype uint16) (*RRSet, bool) {
	rs, ok := d.slots[rrtype]
	return rs, ok
}

// Set installs rs under its own Type.
func (d *DictValue) Set(rs *RRSet) {
	d.slots[rs.Type] = rs
}

// Types returns every record type present, for admin serialization.
func (d *DictValue) Types() []uint16 {
	out := make([]uint16, 0, len(d.slots))
	for t := range d.slots {
		out = append(out, t)
	}
	return out
}

// SOA holds the zone's start-of-authority fields.
type SOA struct {
	Mname   string
	Rname   string
	Serial  uint32
	Refresh uint32
	Retry   uint32
	Expire  uint32
	Minttl  uint32
}

// Zone is one authoritative zone: an absolute origin, its owner ->
// DictValue map, a direct pointer to the apex NS RRSet, and the
// round-robin bookkeeping the response encoder needs.
type Zone struct {
	Origin       string
	SOA          *SOA
	NS           *RRSet
	Owners       map[string]*DictValue
	StartCoreIdx int

	nextZRRIdx int
}

// New creates an empty zone for origin (fully qualified on return).
func New(origin string) *Zone {
	if !strings.HasSuffix(origin, ".") {
		origin += "."
	}
	return &Zone{
		Origin: origin,
		Owners: make(map[string]*DictValue),
	}
}

// AddRRSet installs rs under owner, assigning a round-robin slot when
// the set has more than one record. If owner is the zone apex and rs is
// an NS set, it is also recorded as the zone's apex NS.
func (z *Zone) AddRRSet(owner string, rs *RRSet) {
	if !strings.HasSuffix(owner, ".") {
		owner += "."
	}
	if rs.Num() > 1 {
		rs.ZRRIdx = z.nextZRRIdx
		z.nextZRRIdx++
	}
	dv, ok := z.Owners[owner]
	if !ok {
		dv = NewDictValue()
		z.Owners[owner] = dv
	}
	dv.Set(rs)
	if owner == z.Origin && rs.Type == dns.TypeNS {
		z.NS = rs
	}
}

// MaxZRRIdx returns one past the largest ZRRIdx assigned in this zone —
// the size a per-core rotation table must have to index every
// multi-record RRSet.
func (z *Zone) MaxZRRIdx() int {
	return z.nextZRRIdx
}

// ownerDict resolves name to a DictValue, falling back to the nearest
// enclosing wildcard owner (checked at each label boundary from the
// most specific upward).
func (z *Zone) ownerDict(name string) (*DictValue, bool) {
	if !strings.HasSuffix(name, ".") {
		name += "."
	}
	if dv, ok := z.Owners[name]; ok {
		return dv, true
	}

	labels := dns.SplitDomainName(name)
	for i := 0; i < len(labels); i++ {
		suffix := joinLabels(labels[i+1:])
		wildcard := "*." + suffix
		if dv, ok := z.Owners[wildcard]; ok {
			return dv, true
		}
	}
	return nil, false
}

// Lookup returns the RRSet for (name, qtype), classifying the result as
// an exact hit, NODATA (owner exists, type doesn't), or NXDOMAIN (no
// owner, exact or wildcard).
func (z *Zone) Lookup(name string, qtype uint16) (*RRSet, LookupResult) {
	dv, ok := z.ownerDict(name)
	if !ok {
		return nil, LookupNXDomain
	}
	if rs, ok := dv.Get(qtype); ok {
		return rs, LookupOK
	}
	return nil, LookupNoData
}

// CNAME returns the owner's CNAME RRSet, if any — the response encoder
// checks this before falling back to a direct qtype lookup.
func (z *Zone) CNAME(name string) (*RRSet, bool) {
	dv, ok := z.ownerDict(name)
	if !ok {
		return nil, false
	}
	return dv.Get(dns.TypeCNAME)
}

func joinLabels(labels []string) string {
	if len(labels) == 0 {
		return "."
	}
	return dns.Fqdn(strings.Join(labels, "."))
}

// Rotation holds per-core, per-RRSet round-robin counters: a packed
// array of rotation counters, one byte per (core, z_rr_idx) pair, sized
// at zone-load time and touched only by its owning core thereafter —
// no atomics needed.
type Rotation struct {
	perCore [][]uint8
}

// NewRotation allocates a rotation table for numCores cores serving a
// zone whose largest ZRRIdx is maxZRRIdx (exclusive upper bound, i.e.
// Zone.MaxZRRIdx()).
func NewRotation(numCores, maxZRRIdx int) *Rotation {
	perCore := make([][]uint8, numCores)
	for i := range perCore {
		perCore[i] = make([]uint8, maxZRRIdx)
	}
	return &Rotation{perCore: perCore}
}

// Next advances the counter for (core, zRRIdx) and returns the starting
// index into an RRSet of num records: `start = (++arr[z_rr_idx]) % num`.
func (r *Rotation) Next(core, zRRIdx, num int) int {
	if num <= 1 {
		return 0
	}
	arr := r.perCore[core]
	arr[zRRIdx]++
	return int(arr[zRRIdx]) % num
}

// Snapshot is an immutable view of every loaded zone, keyed by absolute
// origin. Readers acquire the current Snapshot once per query (or once
// per admin command) and never need to re-check the Tree while using it.
type Snapshot struct {
	Zones map[string]*Zone
}

// Find resolves name to the most specific zone whose origin is a suffix
// of it (closest-enclosing-zone lookup).
func (s *Snapshot) Find(name string) (*Zone, bool) {
	if !strings.HasSuffix(name, ".") {
		name += "."
	}
	labels := dns.SplitDomainName(name)
	for i := 0; i <= len(labels); i++ {
		candidate := joinLabels(labels[i:])
		if z, ok := s.Zones[candidate]; ok {
			return z, true
		}
	}
	return nil, false
}

// Tree is the cross-core zone index (called `ltree` in admin.c): a
// sync.RWMutex-guarded pointer to the current Snapshot. Readers take a
// read lock only for the instant needed to copy the pointer out — the
// Snapshot itself is immutable, so RRSet/zone pointers obtained from it
// stay valid for as long as the caller holds a reference, with no need
// to hold the lock across response assembly.
type Tree struct {
	mu   sync.RWMutex
	snap *Snapshot
}

// NewTree returns a Tree with an empty Snapshot.
func NewTree() *Tree {
	return &Tree{snap: &Snapshot{Zones: make(map[string]*Zone)}}
}

// Snapshot returns the currently published Snapshot.
func (t *Tree) Snapshot() *Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap
}

// Publish atomically swaps in a new Snapshot (the reload path).
func (t *Tree) Publish(s *Snapshot) {
	t.mu.Lock()
	t.snap = s
	t.mu.Unlock()
}

// NumZones reports how many zones the current Snapshot holds — backs
// the admin `ZONE GET_NUMZONES` command.
func (t *Tree) NumZones() int {
	return len(t.Snapshot().Zones)
}

// String renders a zone for admin ZONE GET / GETALL output: one line
// per (owner, type) RRSet in a compact, human-readable form.
func (z *Zone) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "origin: %s\n", z.Origin)
	if z.SOA != nil {
		fmt.Fprintf(&sb, "soa: %s %s %d %d %d %d %d\n",
			z.SOA.Mname, z.SOA.Rname, z.SOA.Serial, z.SOA.Refresh, z.SOA.Retry, z.SOA.Expire, z.SOA.Minttl)
	}
	for owner, dv := range z.Owners {
		for _, t := range dv.Types() {
			rs, _ := dv.Get(t)
			fmt.Fprintf(&sb, "%s\tIN\t%s\tttl=%d\trecords=%d\n", owner, dns.TypeToString[t], rs.TTL, rs.Num())
		}
	}
	return sb.String()
}
