package compress

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSeedAndExactSuffixCompresses(t *testing.T) {
	d := NewDict(DefaultDictSize)
	d.Seed("example.com.", 12, 13) // "example.com." wire length is 13

	p := d.Compute("example.com.")
	require.True(t, p.HasPointer)
	require.Equal(t, 0, len(p.Prefix))
	require.Equal(t, uint16(Pointer|12), p.Pointer)
}

func TestPartialSuffixCompressesRemainder(t *testing.T) {
	d := NewDict(DefaultDictSize)
	d.Seed("example.com.", 12, 13)

	p := d.Compute("www.example.com.")
	require.True(t, p.HasPointer)
	// "www" label: 1 length byte + 3 chars = 4 bytes inline.
	require.Equal(t, []byte{3, 'w', 'w', 'w'}, p.Prefix)
	require.Equal(t, uint16(Pointer|12), p.Pointer)
}

func TestNoMatchEmitsFullName(t *testing.T) {
	d := NewDict(DefaultDictSize)
	d.Seed("example.com.", 12, 13)

	p := d.Compute("other.org.")
	require.False(t, p.HasPointer)
	require.Equal(t, []byte{5, 'o', 't', 'h', 'e', 'r', 3, 'o', 'r', 'g', 0}, p.Prefix)
}

func TestUncompressLenBoundsValidity(t *testing.T) {
	d := NewDict(DefaultDictSize)
	// uncompressLen smaller than the full reachable suffix: a
	// candidate whose offset_in_old exceeds it must be rejected.
	d.Seed("sub.example.com.", 20, 4) // only the first 4 bytes (the "sub" label) are reachable

	p := d.Compute("example.com.")
	// offset_in_old for matching "example.com." suffix would be 4
	// (past "sub"), which is <= uncompressLen(4), so this is valid.
	require.True(t, p.HasPointer)
}

func TestUncompressLenRejectsUnreachablePrefix(t *testing.T) {
	d := NewDict(DefaultDictSize)
	d.Seed("sub.example.com.", 20, 0) // nothing beyond the entry's own start is reachable

	p := d.Compute("example.com.")
	require.False(t, p.HasPointer)
}

func TestDictBoundNeverExceeded(t *testing.T) {
	d := NewDict(2)
	d.Seed("a.com.", 12, 6)
	p1 := d.Compute("b.com.")
	d.Record("b.com.", 20, p1)
	require.Equal(t, 2, d.Len())

	p2 := d.Compute("c.com.")
	d.Record("c.com.", 30, p2)
	require.Equal(t, 2, d.Len(), "dictionary must not grow past its bound")
	require.True(t, d.Full())
}

func TestExactly256BytePrefixFallsThroughToInline(t *testing.T) {
	d := NewDict(DefaultDictSize)
	// "x.com." wire length: 2 ("x") + 4 ("com") + 1 (terminator) = 7.
	d.Seed("x.com.", 12, 7)

	label63 := func(b byte) string {
		s := make([]byte, 63)
		for i := range s {
			s[i] = b
		}
		return string(s)
	}
	// Four 63-byte labels ahead of the shared "x.com." suffix: each
	// wire-encodes to 64 bytes (1 length byte + 63 chars), so the
	// inline prefix needed to reach the dictionary match is exactly
	// 4*64 = 256 bytes — the boundary Compute's "< 256" check falls
	// through on.
	name := label63('a') + "." + label63('b') + "." + label63('c') + "." + label63('d') + ".x.com."

	p := d.Compute(name)
	require.False(t, p.HasPointer, "a 256-byte match point must fall through to full inline emission, not compress")

	labels := splitLabels(name)
	require.Equal(t, wireLen(labels), len(p.Prefix), "fallthrough must still emit the whole name, including its terminator")
	require.Equal(t, byte(63), p.Prefix[0], "first label's length octet")
}

func TestShortestPrefixCandidateWins(t *testing.T) {
	d := NewDict(DefaultDictSize)
	d.Seed("host.com.", 12, 10)
	d.Seed("example.com.", 30, 13)

	// Both entries share a suffix with "www.example.com.": matching
	// "host.com." reaches only the shared "com." label and leaves
	// "www.example" (12 bytes) inline, while the exact "example.com."
	// entry leaves only "www" (4 bytes) inline — it must be preferred.
	p := d.Compute("www.example.com.")
	require.True(t, p.HasPointer)
	require.Equal(t, []byte{3, 'w', 'w', 'w'}, p.Prefix)
	require.Equal(t, uint16(Pointer|30), p.Pointer)
}
