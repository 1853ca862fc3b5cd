package query

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dnsscience/authdnsd/internal/wire"
)

func header(qd, an, ns, ar uint16, flags uint16) []byte {
	b := make([]byte, 12)
	b[0], b[1] = 0x12, 0x34
	b[2], b[3] = byte(flags>>8), byte(flags)
	b[4], b[5] = byte(qd>>8), byte(qd)
	b[6], b[7] = byte(an>>8), byte(an)
	b[8], b[9] = byte(ns>>8), byte(ns)
	b[10], b[11] = byte(ar>>8), byte(ar)
	return b
}

func question(t *testing.T, name string, qtype, qclass uint16) []byte {
	t.Helper()
	enc, err := wire.EncodeName(name)
	require.NoError(t, err)
	q := append([]byte{}, enc...)
	q = append(q, byte(qtype>>8), byte(qtype))
	q = append(q, byte(qclass>>8), byte(qclass))
	return q
}

func optRR(t *testing.T, udpSize uint16, version uint8, options []byte) []byte {
	t.Helper()
	b := []byte{0} // root name
	b = append(b, byte(typeOPT>>8), byte(typeOPT))
	b = append(b, byte(udpSize>>8), byte(udpSize))
	b = append(b, 0, version, 0, 0) // extended-rcode=0, version, flags=0
	b = append(b, byte(len(options)>>8), byte(len(options)))
	b = append(b, options...)
	return b
}

func clientSubnetOption(family uint16, sourcePrefix, scopePrefix uint8, addr []byte) []byte {
	data := []byte{byte(family >> 8), byte(family), sourcePrefix, scopePrefix}
	data = append(data, addr...)
	opt := []byte{0, edsnOptCodeCS, byte(len(data) >> 8), byte(len(data))}
	return append(opt, data...)
}

func TestDecodeSimpleQuery(t *testing.T) {
	buf := header(1, 0, 0, 0, 0x0100)
	buf = append(buf, question(t, "example.com.", 1, classIN)...)

	ctx, rcode := Decode(buf, DefaultConfig())
	require.Equal(t, Ok, rcode)
	require.Equal(t, "example.com.", ctx.QName)
	require.Equal(t, uint16(1), ctx.QType)
	require.True(t, ctx.RD)
	require.False(t, ctx.HasEDNS)
}

func TestDecodeRejectsShortBuffer(t *testing.T) {
	_, rcode := Decode([]byte{1, 2, 3}, DefaultConfig())
	require.Equal(t, Ignore, rcode)
}

func TestDecodeRejectsQRSet(t *testing.T) {
	buf := header(1, 0, 0, 0, 0x8000)
	buf = append(buf, question(t, "example.com.", 1, classIN)...)
	_, rcode := Decode(buf, DefaultConfig())
	require.Equal(t, Ignore, rcode)
}

func TestDecodeRejectsAnswerPresent(t *testing.T) {
	buf := header(1, 1, 0, 0, 0)
	buf = append(buf, question(t, "example.com.", 1, classIN)...)
	_, rcode := Decode(buf, DefaultConfig())
	require.Equal(t, Ignore, rcode)
}

func TestDecodeRejectsTruncated(t *testing.T) {
	buf := header(1, 0, 0, 0, 0x0200)
	buf = append(buf, question(t, "example.com.", 1, classIN)...)
	_, rcode := Decode(buf, DefaultConfig())
	require.Equal(t, Ignore, rcode)
}

func TestDecodeNotImpForUnsupportedType(t *testing.T) {
	buf := header(1, 0, 0, 0, 0)
	buf = append(buf, question(t, "example.com.", 255, classIN)...) // ANY
	ctx, rcode := Decode(buf, DefaultConfig())
	require.Equal(t, NotImp, rcode)
	require.NotNil(t, ctx, "NOTIMP must still carry ID/RD so the error encoder can reply")
	require.Equal(t, uint16(0x1234), ctx.ID)
}

func TestDecodeEDNSNoOptions(t *testing.T) {
	buf := header(1, 0, 0, 1, 0)
	buf = append(buf, question(t, "example.com.", 1, classIN)...)
	buf = append(buf, optRR(t, 4096, 0, nil)...)

	ctx, rcode := Decode(buf, DefaultConfig())
	require.Equal(t, Ok, rcode)
	require.True(t, ctx.HasEDNS)
	require.Equal(t, uint16(4096), ctx.MaxRespSize)
	require.False(t, ctx.HasClientSubnetOpt)
	require.Len(t, ctx.OptRR, optFixedSize)
}

func TestDecodeEDNSClampsUDPSizeToFloor(t *testing.T) {
	buf := header(1, 0, 0, 1, 0)
	buf = append(buf, question(t, "example.com.", 1, classIN)...)
	buf = append(buf, optRR(t, 128, 0, nil)...)

	ctx, rcode := Decode(buf, DefaultConfig())
	require.Equal(t, Ok, rcode)
	require.Equal(t, uint16(512), ctx.MaxRespSize)
}

func TestDecodeEDNSClampsUDPSizeToCeiling(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRespSize = 1232
	buf := header(1, 0, 0, 1, 0)
	buf = append(buf, question(t, "example.com.", 1, classIN)...)
	buf = append(buf, optRR(t, 4096, 0, nil)...)

	ctx, rcode := Decode(buf, cfg)
	require.Equal(t, Ok, rcode)
	require.Equal(t, uint16(1232), ctx.MaxRespSize)
}

func TestDecodeBadVersion(t *testing.T) {
	buf := header(1, 0, 0, 1, 0)
	buf = append(buf, question(t, "example.com.", 1, classIN)...)
	buf = append(buf, optRR(t, 4096, 1, nil)...)

	ctx, rcode := Decode(buf, DefaultConfig())
	require.Equal(t, BadVers, rcode)
	require.NotNil(t, ctx, "BADVERS must still carry ID/RD so the error encoder can reply")
}

func TestDecodeClientSubnetIPv4(t *testing.T) {
	opt := clientSubnetOption(1, 24, 0, []byte{203, 0, 113, 0})
	buf := header(1, 0, 0, 1, 0)
	buf = append(buf, question(t, "example.com.", 1, classIN)...)
	buf = append(buf, optRR(t, 4096, 0, opt)...)

	ctx, rcode := Decode(buf, DefaultConfig())
	require.Equal(t, Ok, rcode)
	require.True(t, ctx.HasClientSubnetOpt)
	require.Equal(t, uint16(1), ctx.ClientSubnet.Family)
	require.Equal(t, uint8(24), ctx.ClientSubnet.SourcePrefix)
	require.Equal(t, "203.0.113.0", ctx.ClientSubnet.Addr.To4().String())
}

func TestDecodeClientSubnetIPv6(t *testing.T) {
	addr := make([]byte, 16)
	addr[0] = 0x20
	addr[1] = 0x01
	opt := clientSubnetOption(2, 32, 0, addr[:4])
	buf := header(1, 0, 0, 1, 0)
	buf = append(buf, question(t, "example.com.", 28, classIN)...)
	buf = append(buf, optRR(t, 4096, 0, opt)...)

	ctx, rcode := Decode(buf, DefaultConfig())
	require.Equal(t, Ok, rcode)
	require.True(t, ctx.HasClientSubnetOpt)
	require.Equal(t, uint16(2), ctx.ClientSubnet.Family)
}

func TestDecodeClientSubnetIPv6MalformedDoesNotCommitPartialState(t *testing.T) {
	// scope prefix nonzero is invalid on ingress per RFC 7871.
	opt := clientSubnetOption(2, 32, 5, []byte{0x20, 0x01, 0x0d, 0xb8})
	buf := header(1, 0, 0, 1, 0)
	buf = append(buf, question(t, "example.com.", 28, classIN)...)
	buf = append(buf, optRR(t, 4096, 0, opt)...)

	ctx, rcode := Decode(buf, DefaultConfig())
	require.Equal(t, FormErr, rcode)
	require.NotNil(t, ctx, "a FormErr ctx must still carry ID/RD so the error encoder can reply")
	require.False(t, ctx.HasClientSubnetOpt, "malformed option data must never be committed to ctx")
}

func TestDecodeFirstAdditionalNotOPTIsIgnoredByDefault(t *testing.T) {
	buf := header(1, 0, 0, 1, 0)
	buf = append(buf, question(t, "example.com.", 1, classIN)...)
	// An A record in the additional section instead of OPT.
	buf = append(buf, question(t, "glue.example.com.", 1, classIN)...)
	buf = append(buf, 0, 0, 0, 60, 0, 4, 1, 2, 3, 4) // ttl + rdlength + rdata

	ctx, rcode := Decode(buf, DefaultConfig())
	require.Equal(t, Ok, rcode)
	require.False(t, ctx.HasEDNS)
}
