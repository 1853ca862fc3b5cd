// Package query implements the inbound DNS query decoder: header
// validation, single-question parsing, and optional EDNS Client-Subnet
// decoding, producing a Context the response encoder builds an answer
// against.
package query

import (
	"net"

	"github.com/dnsscience/authdnsd/internal/wire"
)

// Rcode classifies the outcome of Decode. Ignore means "drop the
// packet silently"; the others map to the DNS RCODE the error encoder
// should use.
type Rcode int

const (
	// Ok means the query decoded successfully; proceed to zone lookup.
	Ok Rcode = iota
	// Ignore means the packet is malformed in a way that must not be
	// answered at all (bad header shape, malformed question name).
	Ignore
	// FormErr means a malformed OPT/TLV was present.
	FormErr
	// NotImp means the question's qtype is not one this server answers.
	NotImp
	// BadVers means the query's EDNS version is unsupported.
	BadVers
)

const (
	headerSize    = 12
	minQuerySize  = headerSize + 5 // root name (1) + qtype (2) + qclass (2)
	optFixedSize  = 11             // name(1) + type(2) + class(2) + ttl(4) + rdlength(2)
	edsnOptCodeCS = 8              // Client-Subnet, RFC 7871
	typeOPT       = 41
	classIN       = 1
)

var supportedTypes = map[uint16]bool{
	1:  true, // A
	2:  true, // NS
	5:  true, // CNAME
	6:  true, // SOA
	12: true, // PTR
	15: true, // MX
	16: true, // TXT
	28: true, // AAAA
	33: true, // SRV
}

// IsSupportedType reports whether qtype is one of the record types this
// server can answer.
func IsSupportedType(qtype uint16) bool { return supportedTypes[qtype] }

// ClientSubnet holds a decoded EDNS Client-Subnet option (RFC 7871).
type ClientSubnet struct {
	Family       uint16
	SourcePrefix uint8
	ScopePrefix  uint8
	Addr         net.IP
}

// Config controls decoder behavior left as an open design choice
// rather than a fixed protocol rule.
type Config struct {
	// MaxRespSize caps the UDP payload size a client may advertise via
	// EDNS; the decoded value is clamped to [512, MaxRespSize].
	MaxRespSize uint16

	// ScanAdditionalForOPT, when true, scans every additional record
	// for an OPT RR instead of assuming it is the first one. Assuming
	// the first additional record is OPT is the default here too,
	// kept as a deliberate, documented limitation rather than silently
	// "fixed".
	ScanAdditionalForOPT bool
}

// DefaultConfig returns the decoder defaults: a 4096-byte response cap
// and the first-additional-is-OPT assumption.
func DefaultConfig() Config {
	return Config{MaxRespSize: 4096, ScanAdditionalForOPT: false}
}

// Context is the decoded, per-query state the response encoder
// consumes, restricted to the query-decoding fields — the output
// buffer and compression dictionary live in internal/respbuf and
// internal/compress.
type Context struct {
	ID     uint16
	RD     bool
	QName  string
	QType  uint16
	QClass uint16

	HasEDNS            bool
	MaxRespSize        uint16
	HasClientSubnetOpt bool
	ClientSubnet       ClientSubnet

	// OptRR is the fixed 11-byte OPT prefix, followed by the
	// Client-Subnet option bytes if present, ready to be echoed
	// verbatim into the additional section.
	OptRR []byte
}

// Decode parses a raw query buffer into a Context.
func Decode(buf []byte, cfg Config) (*Context, Rcode) {
	if len(buf) < minQuerySize {
		return nil, Ignore
	}

	flags, err := wire.Load16(buf, 2)
	if err != nil {
		return nil, Ignore
	}
	qr := flags&0x8000 != 0
	tc := flags&0x0200 != 0
	rd := flags&0x0100 != 0

	qd, _ := wire.Load16(buf, 4)
	an, _ := wire.Load16(buf, 6)
	ns, _ := wire.Load16(buf, 8)
	ar, _ := wire.Load16(buf, 10)

	if qd != 1 || an > 0 || ns > 0 || qr || tc {
		return nil, Ignore
	}

	id, _ := wire.Load16(buf, 0)

	// CheckLenLabel enforces the LDH character class on top of
	// DecodeName's length-only validation: a question name carrying an
	// illegal byte must never reach a NOTIMP/BADVERS/FORMERR reply, it
	// has to fall through to Ignore just like a truncated or overlong
	// name does.
	if _, err := wire.CheckLenLabel(buf[headerSize:], len(buf)-headerSize); err != nil {
		return nil, Ignore
	}

	name, off, err := wire.DecodeName(buf, headerSize)
	if err != nil {
		return nil, Ignore
	}

	qtype, err := wire.Load16(buf, off)
	if err != nil {
		return nil, Ignore
	}
	qclass, err := wire.Load16(buf, off+2)
	if err != nil {
		return nil, Ignore
	}
	off += 4

	ctx := &Context{
		ID:     id,
		RD:     rd,
		QName:  name,
		QType:  qtype,
		QClass: qclass,
	}

	if !IsSupportedType(qtype) {
		// Still a well-formed query — the error encoder needs ctx's
		// ID/RD to build a proper NOTIMP reply, not a silent drop.
		return ctx, NotImp
	}

	if ar == 0 {
		return ctx, Ok
	}

	optOff, isOPT, rrOK := peekFirstAdditionalIsOPT(buf, off, cfg)
	if !rrOK || !isOPT {
		return ctx, Ok
	}

	return decodeOptRR(ctx, buf, optOff, cfg)
}

// peekFirstAdditionalIsOPT looks at the additional record starting at
// off and reports whether it parsed cleanly and is an OPT RR. Under the
// default configuration only the first additional record is examined;
// when cfg.ScanAdditionalForOPT is set, a conformant scan walks every
// additional record looking for one.
func peekFirstAdditionalIsOPT(buf []byte, off int, cfg Config) (optOff int, isOPT bool, ok bool) {
	cur := off
	_, nameEnd, err := wire.DecodeName(buf, cur)
	if err != nil {
		return 0, false, false
	}
	if nameEnd+10 > len(buf) {
		return 0, false, false
	}
	typ, _ := wire.Load16(buf, nameEnd)
	if typ == typeOPT {
		return cur, true, true
	}
	if !cfg.ScanAdditionalForOPT {
		return 0, false, true
	}
	// Conformant scan: skip this RR's rdata and keep looking. rdlength
	// sits at nameEnd+8..nameEnd+10.
	rdlen, err := wire.Load16(buf, nameEnd+8)
	if err != nil {
		return 0, false, false
	}
	next := nameEnd + 10 + int(rdlen)
	if next > len(buf) {
		return 0, false, false
	}
	if next >= len(buf) {
		return 0, false, true
	}
	return peekFirstAdditionalIsOPT(buf, next, cfg)
}

// decodeOptRR parses the OPT RR at off: its UDP payload size, version,
// and any Client-Subnet option in its rdata.
func decodeOptRR(ctx *Context, buf []byte, off int, cfg Config) (*Context, Rcode) {
	_, nameEnd, err := wire.DecodeName(buf, off)
	if err != nil || nameEnd != off+1 || buf[off] != 0 {
		// OPT's owner name must be the root (a single zero byte).
		return ctx, Ok
	}
	if nameEnd+10 > len(buf) {
		return ctx, Ok
	}

	udpSize, _ := wire.Load16(buf, nameEnd+2)
	ttl, _ := wire.Load32(buf, nameEnd+4)
	rdlength, _ := wire.Load16(buf, nameEnd+8)
	rdataOff := nameEnd + 10

	if rdataOff+int(rdlength) > len(buf) {
		return ctx, FormErr
	}

	version := uint8(ttl >> 16)
	if version != 0 {
		return ctx, BadVers
	}

	clamped := udpSize
	if clamped < 512 {
		clamped = 512
	}
	if clamped > cfg.MaxRespSize {
		clamped = cfg.MaxRespSize
	}

	ctx.HasEDNS = true
	ctx.MaxRespSize = clamped

	optRR := make([]byte, optFixedSize, optFixedSize+int(rdlength))
	copy(optRR, buf[off:rdataOff])

	pos := rdataOff
	end := rdataOff + int(rdlength)
	foundECS := false

	for pos < end {
		if pos+4 > end {
			return ctx, FormErr
		}
		code, _ := wire.Load16(buf, pos)
		optLen, _ := wire.Load16(buf, pos+2)
		if pos+4+int(optLen) > end {
			return ctx, FormErr
		}
		optData := buf[pos+4 : pos+4+int(optLen)]

		if code == edsnOptCodeCS {
			cs, err := parseClientSubnet(optData)
			if err != nil {
				return ctx, FormErr
			}
			ctx.HasClientSubnetOpt = true
			ctx.ClientSubnet = cs
			optRR = append(optRR, buf[pos:pos+4+int(optLen)]...)
			foundECS = true
		}
		pos += 4 + int(optLen)
	}

	if !foundECS {
		// Rewrite the echoed rdlength to 0 — no options survive the echo.
		optRR[9] = 0
		optRR[10] = 0
	}

	ctx.OptRR = optRR
	return ctx, Ok
}

// parseClientSubnet decodes a Client-Subnet option payload (RFC 7871).
// The IPv6 branch must not commit any field to ctx before every
// validation has passed — building a local value and only assigning it
// to the caller on success (as Decode does here) guarantees a
// malformed option never leaves ctx partially updated.
func parseClientSubnet(data []byte) (ClientSubnet, error) {
	if len(data) < 4 {
		return ClientSubnet{}, wire.ErrMalformedName
	}
	family, _ := wire.Load16(data, 0)
	sourcePrefix := data[2]
	scopePrefix := data[3]
	if scopePrefix != 0 {
		return ClientSubnet{}, wire.ErrMalformedName
	}

	addrLen := (int(sourcePrefix) + 7) / 8
	if 4+addrLen > len(data) {
		return ClientSubnet{}, wire.ErrMalformedName
	}
	addrBytes := data[4 : 4+addrLen]

	switch family {
	case 1: // IPv4
		if sourcePrefix > 32 {
			return ClientSubnet{}, wire.ErrMalformedName
		}
		ip := make(net.IP, 4)
		copy(ip, addrBytes)
		return ClientSubnet{Family: family, SourcePrefix: sourcePrefix, ScopePrefix: scopePrefix, Addr: ip}, nil
	case 2: // IPv6
		if sourcePrefix > 128 {
			return ClientSubnet{}, wire.ErrMalformedName
		}
		ip := make(net.IP, 16)
		copy(ip, addrBytes)
		return ClientSubnet{Family: family, SourcePrefix: sourcePrefix, ScopePrefix: scopePrefix, Addr: ip}, nil
	default:
		return ClientSubnet{}, wire.ErrMalformedName
	}
}
