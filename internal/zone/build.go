package zone

import (
	"fmt"
	"net"

	"github.com/miekg/dns"

	"github.com/dnsscience/authdnsd/internal/wire"
)

// FromRRs builds a Zone for origin out of a flat list of miekg/dns
// records (the shape an in-repo YAML zone fixture decodes into — see
// cmd/authdnsd/config.go). Records are grouped by (owner, type) into
// RRSets with wire-encoded rdata, exactly what RRSetCompressPack expects
// to emit.
func FromRRs(origin string, rrs []dns.RR) (*Zone, error) {
	z := New(origin)

	type key struct {
		owner string
		typ   uint16
	}
	order := make([]key, 0)
	grouped := make(map[key]*RRSet)

	for _, rr := range rrs {
		h := rr.Header()
		k := key{owner: dns.Fqdn(h.Name), typ: h.Rrtype}
		rs, ok := grouped[k]
		if !ok {
			rs = &RRSet{Type: h.Rrtype, TTL: h.Ttl}
			grouped[k] = rs
			order = append(order, k)
		}
		rdata, embedded, err := encodeRData(rr)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", h.Name, dns.TypeToString[h.Rrtype], err)
		}
		rs.AppendRecord(rdata, embedded)

		if h.Rrtype == dns.TypeSOA {
			soa := rr.(*dns.SOA)
			z.SOA = &SOA{
				Mname:   dns.Fqdn(soa.Ns),
				Rname:   dns.Fqdn(soa.Mbox),
				Serial:  soa.Serial,
				Refresh: soa.Refresh,
				Retry:   soa.Retry,
				Expire:  soa.Expire,
				Minttl:  soa.Minttl,
			}
		}
	}

	for _, k := range order {
		z.AddRRSet(k.owner, grouped[k])
	}
	return z, nil
}

// encodeRData renders rr's rdata into wire bytes (uncompressed — the
// compression engine acts on embedded names at encode time, not on
// stored zone data) and extracts the embedded target name, if any.
func encodeRData(rr dns.RR) ([]byte, string, error) {
	switch v := rr.(type) {
	case *dns.A:
		ip4 := v.A.To4()
		if ip4 == nil {
			return nil, "", fmt.Errorf("not an IPv4 address: %s", v.A)
		}
		return append([]byte{}, ip4...), "", nil

	case *dns.AAAA:
		ip16 := v.AAAA.To16()
		if ip16 == nil {
			return nil, "", fmt.Errorf("not an IPv6 address: %s", v.AAAA)
		}
		return append([]byte{}, ip16...), "", nil

	case *dns.NS:
		name := dns.Fqdn(v.Ns)
		enc, err := wire.EncodeName(name)
		return enc, name, err

	case *dns.CNAME:
		name := dns.Fqdn(v.Target)
		enc, err := wire.EncodeName(name)
		return enc, name, err

	case *dns.PTR:
		name := dns.Fqdn(v.Ptr)
		enc, err := wire.EncodeName(name)
		return enc, name, err

	case *dns.MX:
		name := dns.Fqdn(v.Mx)
		nameBytes, err := wire.EncodeName(name)
		if err != nil {
			return nil, "", err
		}
		buf := make([]byte, 2)
		buf[0] = byte(v.Preference >> 8)
		buf[1] = byte(v.Preference)
		buf = append(buf, nameBytes...)
		return buf, name, nil

	case *dns.SRV:
		name := dns.Fqdn(v.Target)
		nameBytes, err := wire.EncodeName(name)
		if err != nil {
			return nil, "", err
		}
		buf := make([]byte, 6)
		buf[0], buf[1] = byte(v.Priority>>8), byte(v.Priority)
		buf[2], buf[3] = byte(v.Weight>>8), byte(v.Weight)
		buf[4], buf[5] = byte(v.Port>>8), byte(v.Port)
		buf = append(buf, nameBytes...)
		return buf, name, nil

	case *dns.TXT:
		var buf []byte
		for _, s := range v.Txt {
			if len(s) > 255 {
				return nil, "", fmt.Errorf("TXT segment too long: %d", len(s))
			}
			buf = append(buf, byte(len(s)))
			buf = append(buf, s...)
		}
		return buf, "", nil

	case *dns.SOA:
		mname, err := wire.EncodeName(dns.Fqdn(v.Ns))
		if err != nil {
			return nil, "", err
		}
		rname, err := wire.EncodeName(dns.Fqdn(v.Mbox))
		if err != nil {
			return nil, "", err
		}
		buf := append([]byte{}, mname...)
		buf = append(buf, rname...)
		var tail [20]byte
		putU32(tail[0:4], v.Serial)
		putU32(tail[4:8], v.Refresh)
		putU32(tail[8:12], v.Retry)
		putU32(tail[12:16], v.Expire)
		putU32(tail[16:20], v.Minttl)
		buf = append(buf, tail[:]...)
		return buf, "", nil

	default:
		return nil, "", fmt.Errorf("unsupported record type %T", rr)
	}
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

// ParseIP is a small helper that turns a config string into a net.IP,
// returning an error for an unparseable address. No fixture loader in
// this module calls it; cmd/authdnsd's loader hands record values to
// dns.NewRR as text.
func ParseIP(s string) (net.IP, error) {
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, fmt.Errorf("invalid IP address: %s", s)
	}
	return ip, nil
}
