// Package qhash computes a stable, keyed hash of a query's identity
// (name, type, class) for the admin layer's QPS bucketing and zone
// fingerprinting — SipHash-2-4, a fast, DoS-resistant keyed hash over
// short attacker-influenced strings.
package qhash

import (
	"encoding/binary"
	"strings"

	"github.com/dchest/siphash"
)

// key is the fixed 16-byte SipHash-2-4 key used across a process
// lifetime. A fixed key is fine here: the hash is a load-distribution
// and change-detection aid, not a security boundary (it never guards
// an untrusted equality check).
var key = [16]byte{
	0x9e, 0x37, 0x79, 0xb9, 0x7f, 0x4a, 0x7c, 0x15,
	0xbf, 0x58, 0x47, 0x6d, 0x1c, 0xe4, 0xe5, 0xb9,
}

// Query returns a 64-bit SipHash-2-4 digest of (qname, qtype, qclass),
// case-folding the name so "Example.com." and "example.com." land in
// the same bucket.
func Query(qname string, qtype, qclass uint16) uint64 {
	h := siphash.New(key[:])
	h.Write([]byte(strings.ToLower(qname)))
	var tail [4]byte
	binary.BigEndian.PutUint16(tail[0:2], qtype)
	binary.BigEndian.PutUint16(tail[2:4], qclass)
	h.Write(tail[:])
	return h.Sum64()
}

// Zone returns a fingerprint for a zone snapshot, keyed by its origin
// and serial — used by admin `CONFIG GETALL` to let a client cheaply
// detect whether a zone changed between two polls without re-fetching
// the whole serialized form.
func Zone(origin string, serial uint32) uint64 {
	h := siphash.New(key[:])
	h.Write([]byte(strings.ToLower(origin)))
	var tail [4]byte
	binary.BigEndian.PutUint32(tail[:], serial)
	h.Write(tail[:])
	return h.Sum64()
}
