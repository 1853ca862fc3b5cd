// Package respenc implements the response encoder: turning a decoded
// query.Context and a zone lookup into wire bytes, using
// internal/compress for name compression and internal/respbuf as the
// output sink.
package respenc

import (
	"github.com/dnsscience/authdnsd/internal/compress"
	"github.com/dnsscience/authdnsd/internal/query"
	"github.com/dnsscience/authdnsd/internal/respbuf"
	"github.com/dnsscience/authdnsd/internal/wire"
	"github.com/dnsscience/authdnsd/internal/zone"
)

const (
	classIN = 1

	typeA     = 1
	typeNS    = 2
	typeCNAME = 5
	typeSOA   = 6
	typePTR   = 12
	typeMX    = 15
	typeTXT   = 16
	typeAAAA  = 28
	typeSRV   = 33
)

// DNS RCODEs this encoder needs. ServFail is MapQueryRcode's fallback
// for an outcome it does not map; the rest of the standard space
// (Refused and others) is reachable through the same header path but
// not defined here.
const (
	RcodeNoError  uint8 = 0
	RcodeFormErr  uint8 = 1
	RcodeServFail uint8 = 2
	RcodeNXDomain uint8 = 3
	RcodeNotImp   uint8 = 4
)

// MapQueryRcode turns a query.Rcode into the header RCODE and the
// EDNS extended-RCODE byte to echo in the OPT record; BADVERS lives
// entirely in the extended byte per RFC 6891.
func MapQueryRcode(r query.Rcode) (headerRcode, extendedRcode uint8) {
	switch r {
	case query.FormErr:
		return RcodeFormErr, 0
	case query.NotImp:
		return RcodeNotImp, 0
	case query.BadVers:
		return RcodeNoError, 1
	default:
		return RcodeServFail, 0
	}
}

// additionalCandidate is one name captured while packing an answer or
// authority RRSet, recorded so the additional-section walk can look up
// its A/AAAA glue. It mirrors ctx.ari.
type additionalCandidate struct {
	name string
}

// packName emits name at the buffer's current position, compressed
// against dict if a usable suffix match exists, and records the
// emission for future matches.
func packName(buf *respbuf.Buffer, dict *compress.Dict, name string) error {
	plan := dict.Compute(name)
	start := buf.Len()
	if len(plan.Prefix) > 0 {
		if _, err := buf.Append(plan.Prefix); err != nil {
			return err
		}
	}
	if plan.HasPointer {
		var ptr [2]byte
		if err := wire.Dump16(ptr[:], 0, plan.Pointer); err != nil {
			return err
		}
		if _, err := buf.Append(ptr[:]); err != nil {
			return err
		}
	}
	dict.Record(name, start, plan)
	return nil
}

// packUncompressedName writes name's full wire form with no attempt at
// compression, but still records the emission so later names may
// compress against it — the rule SRV targets follow.
func packUncompressedName(buf *respbuf.Buffer, dict *compress.Dict, name string) error {
	enc, err := wire.EncodeName(name)
	if err != nil {
		return err
	}
	start, err := buf.Append(enc)
	if err != nil {
		return err
	}
	dict.Record(name, start, compress.Plan{Prefix: enc, EmittedLen: len(enc)})
	return nil
}

func packU16(buf *respbuf.Buffer, v uint16) error {
	var b [2]byte
	_ = wire.Dump16(b[:], 0, v)
	_, err := buf.Append(b[:])
	return err
}

func packU32(buf *respbuf.Buffer, v uint32) error {
	var b [4]byte
	_ = wire.Dump32(b[:], 0, v)
	_, err := buf.Append(b[:])
	return err
}

// rrsetCompressPack emits every record of rs under owner, following
// per-type rdata rules, appending to ari any embedded names that
// should be chased for additional-section glue. rot/core may be nil/0
// when no rotation table is available (e.g. a single-record RRSet).
func rrsetCompressPack(buf *respbuf.Buffer, dict *compress.Dict, owner string, rs *zone.RRSet, rot *zone.Rotation, core int, ari *[]additionalCandidate) error {
	num := rs.Num()
	if num == 0 {
		return nil
	}
	start := 0
	if rot != nil {
		start = rot.Next(core, rs.ZRRIdx, num)
	}

	for i := 0; i < num; i++ {
		idx := (start + i) % num

		if err := packName(buf, dict, owner); err != nil {
			return err
		}
		if err := packU16(buf, rs.Type); err != nil {
			return err
		}
		if err := packU16(buf, classIN); err != nil {
			return err
		}
		if err := packU32(buf, rs.TTL); err != nil {
			return err
		}

		rdlenOff, err := buf.Reserve(2)
		if err != nil {
			return err
		}
		rdataStart := buf.Len()

		record := rs.Record(idx)
		embedded := ""
		if idx < len(rs.EmbeddedName) {
			embedded = rs.EmbeddedName[idx]
		}

		switch rs.Type {
		case typeCNAME, typeNS:
			if err := packName(buf, dict, embedded); err != nil {
				return err
			}
			if ari != nil {
				*ari = append(*ari, additionalCandidate{name: embedded})
			}

		case typeMX:
			if len(record) < 2 {
				return wire.ErrMalformedName
			}
			if _, err := buf.Append(record[:2]); err != nil {
				return err
			}
			if err := packName(buf, dict, embedded); err != nil {
				return err
			}
			if ari != nil {
				*ari = append(*ari, additionalCandidate{name: embedded})
			}

		case typeSRV:
			if len(record) < 6 {
				return wire.ErrMalformedName
			}
			if _, err := buf.Append(record[:6]); err != nil {
				return err
			}
			if err := packUncompressedName(buf, dict, embedded); err != nil {
				return err
			}
			if ari != nil {
				*ari = append(*ari, additionalCandidate{name: embedded})
			}

		default: // A, AAAA, SOA, TXT, PTR
			if _, err := buf.Append(record); err != nil {
				return err
			}
		}

		rdataEnd := buf.Len()
		var rdlen [2]byte
		_ = wire.Dump16(rdlen[:], 0, uint16(rdataEnd-rdataStart))
		if err := buf.WriteAt(rdlenOff, rdlen[:]); err != nil {
			return err
		}
	}
	return nil
}

// Options bundles the behavior switches dumpDnsResp needs beyond the
// query and zone data themselves.
type Options struct {
	// MinimizeResp suppresses the authority-NS and additional-glue
	// passes, answering with only the requested data.
	MinimizeResp bool
	Rotation     *zone.Rotation
	Core         int
}

// DumpResponse builds a full success response for q against snap into
// buf, the Go equivalent of dnspacket.c's dumpDnsResp.
func DumpResponse(q *query.Context, snap *zone.Snapshot, opts Options, buf *respbuf.Buffer) error {
	dict := compress.NewDict(compress.DefaultDictSize)

	hdrOff, err := buf.Reserve(12)
	if err != nil {
		return err
	}

	qnameBytes, err := wire.EncodeName(q.QName)
	if err != nil {
		return err
	}
	qnameOff, err := buf.Append(qnameBytes)
	if err != nil {
		return err
	}
	dict.Seed(q.QName, qnameOff, len(qnameBytes))
	if err := packU16(buf, q.QType); err != nil {
		return err
	}
	if err := packU16(buf, q.QClass); err != nil {
		return err
	}

	zn, ok := snap.Find(q.QName)
	if !ok {
		return dumpErrorLocked(q, RcodeNXDomain, 0, buf, hdrOff, 1, 0, 0)
	}

	var ancount, nscount, arcount uint16
	aa := true
	headerRcode := RcodeNoError
	var ari []additionalCandidate

	name := q.QName
	cnameAnswered := false

	if cn, ok := zn.CNAME(name); ok {
		if err := rrsetCompressPack(buf, dict, name, cn, opts.Rotation, opts.Core, &ari); err != nil {
			return err
		}
		ancount += uint16(cn.Num())
		cnameAnswered = true
		if cn.Num() > 0 && len(cn.EmbeddedName) > 0 {
			name = cn.EmbeddedName[0]
		}
	}

	if cnameAnswered {
		if !opts.MinimizeResp {
			if targetZone, ok := snap.Find(name); ok && targetZone.NS != nil {
				if err := rrsetCompressPack(buf, dict, targetZone.Origin, targetZone.NS, opts.Rotation, opts.Core, nil); err != nil {
					return err
				}
				nscount += uint16(targetZone.NS.Num())
			}
		}
	} else {
		rs, result := zn.Lookup(name, q.QType)
		switch result {
		case zone.LookupOK:
			if err := rrsetCompressPack(buf, dict, name, rs, opts.Rotation, opts.Core, &ari); err != nil {
				return err
			}
			ancount += uint16(rs.Num())
		case zone.LookupNoData:
			if zn.SOA != nil {
				if err := packSOAAuthority(buf, dict, zn, opts.Rotation, opts.Core); err != nil {
					return err
				}
				nscount++
			}
		case zone.LookupNXDomain:
			headerRcode = RcodeNXDomain
			if zn.SOA != nil {
				if err := packSOAAuthority(buf, dict, zn, opts.Rotation, opts.Core); err != nil {
					return err
				}
				nscount++
			}
		}

		if !opts.MinimizeResp && ancount > 0 && !(q.QType == typeNS && name == zn.Origin) {
			if zn.NS != nil {
				if err := rrsetCompressPack(buf, dict, zn.Origin, zn.NS, opts.Rotation, opts.Core, nil); err != nil {
					return err
				}
				nscount += uint16(zn.NS.Num())
			}
		}
	}

	if !opts.MinimizeResp && ancount > 0 {
		for _, cand := range ari {
			glueZone, ok := snap.Find(cand.name)
			if !ok {
				continue
			}
			if aRec, result := glueZone.Lookup(cand.name, typeA); result == zone.LookupOK {
				if err := rrsetCompressPack(buf, dict, cand.name, aRec, opts.Rotation, opts.Core, nil); err != nil {
					return err
				}
				arcount += uint16(aRec.Num())
			}
			if aaaaRec, result := glueZone.Lookup(cand.name, typeAAAA); result == zone.LookupOK {
				if err := rrsetCompressPack(buf, dict, cand.name, aaaaRec, opts.Rotation, opts.Core, nil); err != nil {
					return err
				}
				arcount += uint16(aaaaRec.Num())
			}
		}
	}

	if q.HasEDNS {
		if _, err := buf.Append(q.OptRR); err != nil {
			return err
		}
		arcount++
	}

	return writeHeader(buf, hdrOff, q.ID, true, aa, q.RD, headerRcode, 0, 1, ancount, nscount, arcount)
}

func packSOAAuthority(buf *respbuf.Buffer, dict *compress.Dict, zn *zone.Zone, rot *zone.Rotation, core int) error {
	soaRS := &zone.RRSet{Type: typeSOA, TTL: zn.SOA.Minttl}
	soaData := encodeSOAData(zn.SOA)
	soaRS.AppendRecord(soaData, "")
	return rrsetCompressPack(buf, dict, zn.Origin, soaRS, rot, core, nil)
}

func encodeSOAData(soa *zone.SOA) []byte {
	mname, _ := wire.EncodeName(soa.Mname)
	rname, _ := wire.EncodeName(soa.Rname)
	buf := append([]byte{}, mname...)
	buf = append(buf, rname...)
	var tail [20]byte
	_ = wire.Dump32(tail[0:4], 0, soa.Serial)
	_ = wire.Dump32(tail[4:8], 0, soa.Refresh)
	_ = wire.Dump32(tail[8:12], 0, soa.Retry)
	_ = wire.Dump32(tail[12:16], 0, soa.Expire)
	_ = wire.Dump32(tail[16:20], 0, soa.Minttl)
	return append(buf, tail[:]...)
}

// DumpError builds a header-only error response, the Go equivalent of
// dnspacket.c's dumpDnsError: QR=1, RD mirrored, the given RCODE, AA
// set only for NXDOMAIN, and the OPT echoed (with its extended-RCODE
// byte rewritten) if the query carried EDNS.
func DumpError(q *query.Context, headerRcode, extendedRcode uint8, buf *respbuf.Buffer) error {
	hdrOff, err := buf.Reserve(12)
	if err != nil {
		return err
	}
	return dumpErrorLocked(q, headerRcode, extendedRcode, buf, hdrOff, 0, 0, 0)
}

func dumpErrorLocked(q *query.Context, headerRcode, extendedRcode uint8, buf *respbuf.Buffer, hdrOff int, qd, an, ns uint16) error {
	aa := headerRcode == RcodeNXDomain
	var arcount uint16
	if q.HasEDNS {
		opt := append([]byte{}, q.OptRR...)
		if len(opt) > 5 {
			opt[5] = extendedRcode
		}
		if _, err := buf.Append(opt); err != nil {
			return err
		}
		arcount++
	}
	return writeHeader(buf, hdrOff, q.ID, true, aa, q.RD, headerRcode, 0, qd, an, ns, arcount)
}

// writeHeader backfills the 12-byte DNS header at hdrOff without
// advancing the buffer's cursor — it uses WriteAt, which never moves
// it.
func writeHeader(buf *respbuf.Buffer, hdrOff int, id uint16, qr, aa, rd bool, rcode, _opcode uint8, qd, an, ns, ar uint16) error {
	var flags uint16
	if qr {
		flags |= 0x8000
	}
	if aa {
		flags |= 0x0400
	}
	if rd {
		flags |= 0x0100
	}
	flags |= uint16(rcode & 0x0F)

	var hdr [12]byte
	_ = wire.Dump16(hdr[0:2], 0, id)
	_ = wire.Dump16(hdr[2:4], 0, flags)
	_ = wire.Dump16(hdr[4:6], 0, qd)
	_ = wire.Dump16(hdr[6:8], 0, an)
	_ = wire.Dump16(hdr[8:10], 0, ns)
	_ = wire.Dump16(hdr[10:12], 0, ar)
	return buf.WriteAt(hdrOff, hdr[:])
}
