package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckLenLabelValid(t *testing.T) {
	// "www.example.com." in len-label form
	buf := []byte{3, 'w', 'w', 'w', 7, 'e', 'x', 'a', 'm', 'p', 'l', 'e', 3, 'c', 'o', 'm', 0}
	n, err := CheckLenLabel(buf, MaxNameLength)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
}

func TestCheckLenLabelRootName(t *testing.T) {
	n, err := CheckLenLabel([]byte{0}, MaxNameLength)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestCheckLenLabelRejectsOverlongLabel(t *testing.T) {
	buf := append([]byte{64}, make([]byte, 64)...)
	buf = append(buf, 0)
	_, err := CheckLenLabel(buf, MaxNameLength)
	require.ErrorIs(t, err, ErrMalformedName)
}

func TestCheckLenLabelRejectsBadChar(t *testing.T) {
	buf := []byte{3, 'a', ' ', 'b', 0}
	_, err := CheckLenLabel(buf, MaxNameLength)
	require.ErrorIs(t, err, ErrMalformedName)
}

func TestCheckLenLabelRejectsTruncated(t *testing.T) {
	buf := []byte{5, 'a', 'b'}
	_, err := CheckLenLabel(buf, MaxNameLength)
	require.ErrorIs(t, err, ErrMalformedName)
}

func TestCheckLenLabelRejectsOverMax(t *testing.T) {
	buf := []byte{3, 'w', 'w', 'w', 0}
	_, err := CheckLenLabel(buf, 3)
	require.ErrorIs(t, err, ErrMalformedName)
}

func TestLoadDump16(t *testing.T) {
	buf := make([]byte, 4)
	require.NoError(t, Dump16(buf, 0, 0xC00C))
	v, err := Load16(buf, 0)
	require.NoError(t, err)
	require.Equal(t, uint16(0xC00C), v)
}

func TestLoadDump32(t *testing.T) {
	buf := make([]byte, 4)
	require.NoError(t, Dump32(buf, 0, 0xDEADBEEF))
	v, err := Load32(buf, 0)
	require.NoError(t, err)
	require.Equal(t, uint32(0xDEADBEEF), v)
}

func TestLoad16TooSmall(t *testing.T) {
	_, err := Load16([]byte{1}, 0)
	require.ErrorIs(t, err, ErrBufferTooSmall)
}

func TestPackHeaderShape(t *testing.T) {
	buf := make([]byte, 12)
	off, err := Pack(buf, 0, H(0x1234), H(0x8180), H(1), H(1), H(0), H(0))
	require.NoError(t, err)
	require.Equal(t, 12, off)

	id, err := Load16(buf, 0)
	require.NoError(t, err)
	require.Equal(t, uint16(0x1234), id)
}

func TestPackBufferTooSmall(t *testing.T) {
	buf := make([]byte, 1)
	_, err := Pack(buf, 0, H(1))
	require.ErrorIs(t, err, ErrBufferTooSmall)
}

func TestPackMemAndBackfill(t *testing.T) {
	buf := make([]byte, 16)
	// reserve 2 bytes for rdlength, write payload, backfill.
	off, err := Pack(buf, 0, H(0))
	require.NoError(t, err)
	payload := []byte{1, 2, 3, 4}
	off, err = Pack(buf, off, M(payload))
	require.NoError(t, err)
	require.NoError(t, Dump16(buf, 0, uint16(len(payload))))
	require.Equal(t, 6, off)
	rdlen, _ := Load16(buf, 0)
	require.Equal(t, uint16(4), rdlen)
}
