// Package compress implements the name-suffix compression engine:
// replacing any label-aligned suffix of a name that has already been
// emitted in the response with a 2-byte pointer 0xC000|offset, tracked
// through a small bounded dictionary of previously emitted owner
// names.
package compress

import "strings"

// DefaultDictSize is the default bound on how many names the
// compression dictionary remembers (called CPS_INFO_SIZE in
// dnspacket.c). Entries beyond this bound are simply not recorded —
// the response stays valid, just less compressed.
const DefaultDictSize = 64

// Pointer is the two high bits that mark a compression pointer in a
// name field, per RFC 1035 §4.1.4.
const Pointer = 0xC000

// entry is one remembered emission: the name, the absolute offset it
// was written at, and how many leading wire-bytes of it are reachable
// by a pointer into the already-emitted message (uncompress_len).
type entry struct {
	labels        []string
	offset        int
	uncompressLen int
}

// Dict is the bounded compression dictionary carried in a Context.
type Dict struct {
	entries []entry
	maxSize int
}

// NewDict creates an empty dictionary bounded at maxSize entries.
func NewDict(maxSize int) *Dict {
	return &Dict{maxSize: maxSize}
}

// Len reports how many names are currently recorded.
func (d *Dict) Len() int { return len(d.entries) }

// Full reports whether the dictionary has reached its bound.
func (d *Dict) Full() bool { return len(d.entries) >= d.maxSize }

// Seed installs the first dictionary entry directly: the question name
// at its fixed header offset (12), before any response bytes are
// assembled.
func (d *Dict) Seed(name string, offset, uncompressLen int) {
	d.entries = append(d.entries, entry{labels: splitLabels(name), offset: offset, uncompressLen: uncompressLen})
}

// add records name's emission at offset, with uncompressLen leading
// bytes reachable, if the dictionary has room.
func (d *Dict) add(name string, offset, uncompressLen int) {
	if d.Full() {
		return
	}
	d.entries = append(d.entries, entry{labels: splitLabels(name), offset: offset, uncompressLen: uncompressLen})
}

// splitLabels turns an absolute, dot-terminated name into its labels,
// most-significant (TLD) label last, matching dns.SplitDomainName's
// convention. The root name yields zero labels.
func splitLabels(name string) []string {
	name = strings.TrimSuffix(name, ".")
	if name == "" {
		return nil
	}
	return strings.Split(name, ".")
}

// wireLen returns the wire-encoded length of labels, including the
// terminating zero byte.
func wireLen(labels []string) int {
	n := 1
	for _, l := range labels {
		n += 1 + len(l)
	}
	return n
}

// prefixWireLen returns the wire-encoded length of labels[:n], excluding
// any terminator (it is a prefix that will be followed either by more
// labels or by a compression pointer, never directly by a zero byte
// unless n == len(labels), in which case the caller adds the
// terminator itself).
func prefixWireLen(labels []string, n int) int {
	total := 0
	for _, l := range labels[:n] {
		total += 1 + len(l)
	}
	return total
}

// commonSuffixLabels returns the number of trailing labels a and b share.
func commonSuffixLabels(a, b []string) int {
	k := 0
	for k < len(a) && k < len(b) && a[len(a)-1-k] == b[len(b)-1-k] {
		k++
	}
	return k
}

// Plan describes how to emit one name: Prefix is the raw label bytes to
// write inline (wire-encoded, no terminator), and, when HasPointer is
// true, Pointer is the 2-byte compression pointer value to append after
// Prefix. EmittedLen is the length to record for this name in the
// dictionary if it's added (the length of the reachable inline prefix:
// Prefix's length when compressed, or the whole wire-encoded name
// including terminator when not).
type Plan struct {
	Prefix     []byte
	HasPointer bool
	Pointer    uint16
	EmittedLen int
}

// Compute decides how to emit name given the current dictionary state:
// find, across every dictionary entry, the label-aligned common
// suffix; keep only candidates whose old-name match point is within
// that entry's reachable prefix; pick the candidate with the shortest
// inline prefix; compress only if that prefix is under 256 bytes and
// at least one label matched.
func (d *Dict) Compute(name string) Plan {
	labels := splitLabels(name)

	bestOffsetNew := -1
	var bestPointer uint16

	for _, e := range d.entries {
		k := commonSuffixLabels(e.labels, labels)
		if k == 0 {
			continue
		}
		offsetOld := prefixWireLen(e.labels, len(e.labels)-k)
		if offsetOld > e.uncompressLen {
			continue
		}
		offsetNew := prefixWireLen(labels, len(labels)-k)
		if bestOffsetNew == -1 || offsetNew < bestOffsetNew {
			bestOffsetNew = offsetNew
			bestPointer = uint16(Pointer | (e.offset + offsetOld))
		}
	}

	if bestOffsetNew >= 0 && bestOffsetNew < 256 {
		prefix := make([]byte, 0, bestOffsetNew)
		// Re-derive which leading labels make up bestOffsetNew bytes;
		// prefixWireLen is monotonic in label count so walk forward.
		prefixLabelCount := 0
		for prefixWireLen(labels, prefixLabelCount) < bestOffsetNew {
			prefixLabelCount++
		}
		for _, l := range labels[:prefixLabelCount] {
			prefix = append(prefix, byte(len(l)))
			prefix = append(prefix, l...)
		}
		return Plan{
			Prefix:     prefix,
			HasPointer: true,
			Pointer:    bestPointer,
			EmittedLen: bestOffsetNew,
		}
	}

	// No usable compression: emit the whole name inline.
	full := make([]byte, 0, wireLen(labels))
	for _, l := range labels {
		full = append(full, byte(len(l)))
		full = append(full, l...)
	}
	full = append(full, 0)
	return Plan{
		Prefix:     full,
		HasPointer: false,
		EmittedLen: wireLen(labels),
	}
}

// Record adds name's emission at offset (the absolute position the
// emitted bytes — prefix plus pointer or full inline form — started
// at) to the dictionary, using EmittedLen from the Plan that produced
// it, if the dictionary still has room.
func (d *Dict) Record(name string, offset int, p Plan) {
	d.add(name, offset, p.EmittedLen)
}
