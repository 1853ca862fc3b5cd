package wire

import "strings"

// EncodeName converts an absolute, dot-separated domain name (e.g.
// "www.example.com.") into length-label wire form, terminated by a zero
// byte. The root name "." encodes to a single zero byte.
func EncodeName(name string) ([]byte, error) {
	name = strings.TrimSuffix(name, ".")
	if name == "" {
		return []byte{0}, nil
	}

	labels := strings.Split(name, ".")
	out := make([]byte, 0, len(name)+2)
	for _, l := range labels {
		if len(l) == 0 || len(l) > MaxLabelLength {
			return nil, ErrMalformedName
		}
		for i := 0; i < len(l); i++ {
			if !validNameByte(l[i]) {
				return nil, ErrMalformedName
			}
		}
		out = append(out, byte(len(l)))
		out = append(out, l...)
	}
	out = append(out, 0)
	if len(out) > MaxNameLength {
		return nil, ErrMalformedName
	}
	return out, nil
}

// DecodeName parses a sequential (non-compressed) length-label name
// starting at buf[off], returning the dot-separated FQDN and the offset
// just past the terminating zero byte. It does not follow compression
// pointers — callers needing that (full-message decompression) use
// github.com/miekg/dns, which this module relies on for response
// round-trip verification.
func DecodeName(buf []byte, off int) (string, int, error) {
	var sb strings.Builder
	pos := off
	first := true
	for {
		if pos >= len(buf) {
			return "", 0, ErrMalformedName
		}
		l := int(buf[pos])
		if l&0xC0 == 0xC0 {
			return "", 0, ErrMalformedName
		}
		if l == 0 {
			pos++
			break
		}
		if l > MaxLabelLength || pos+1+l > len(buf) {
			return "", 0, ErrMalformedName
		}
		if !first {
			sb.WriteByte('.')
		}
		first = false
		sb.Write(buf[pos+1 : pos+1+l])
		pos += 1 + l
	}
	if sb.Len() == 0 {
		return ".", pos, nil
	}
	sb.WriteByte('.')
	if sb.Len() > MaxNameLength {
		return "", 0, ErrMalformedName
	}
	return sb.String(), pos, nil
}
