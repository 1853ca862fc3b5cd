package respbuf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStackWritesWithoutPromotion(t *testing.T) {
	b := NewStack(make([]byte, 64))
	off, err := b.Append([]byte{1, 2, 3, 4})
	require.NoError(t, err)
	require.Equal(t, 0, off)
	require.Equal(t, ModeStack, b.Mode())
	require.Equal(t, []byte{1, 2, 3, 4}, b.Bytes())
}

func TestStackPromotesToHeapOnOverflow(t *testing.T) {
	b := NewStack(make([]byte, 4))
	_, err := b.Append([]byte{1, 2, 3, 4})
	require.NoError(t, err)
	require.Equal(t, ModeStack, b.Mode())

	// This write doesn't fit in the remaining 0 bytes of capacity.
	off, err := b.Append([]byte{5, 6, 7, 8})
	require.NoError(t, err)
	require.Equal(t, ModeHeap, b.Mode())
	require.Equal(t, 4, off)
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, b.Bytes())
}

func TestHeapReallocatesAgainOnFurtherOverflow(t *testing.T) {
	b := NewStack(make([]byte, 2))
	_, _ = b.Append([]byte{1, 2})
	_, _ = b.Append([]byte{3, 4}) // promotes to heap: asks for (2+2)*2=8 bytes, served by the 1024-byte pool class
	require.Equal(t, ModeHeap, b.Mode())
	more := make([]byte, poolSmall) // needs 4+1024 total, past the 1024-byte array
	for i := range more {
		more[i] = byte(i)
	}
	_, err := b.Append(more)
	require.NoError(t, err)
	require.Equal(t, append([]byte{1, 2, 3, 4}, more...), b.Bytes())
}

func TestWriteAtBackfillsRdlength(t *testing.T) {
	b := NewStack(make([]byte, 64))
	lenOff, err := b.Reserve(2)
	require.NoError(t, err)
	payloadOff, err := b.Append([]byte{9, 9, 9})
	require.NoError(t, err)
	require.Equal(t, 2, payloadOff)

	require.NoError(t, b.WriteAt(lenOff, []byte{0, 3}))
	require.Equal(t, []byte{0, 3, 9, 9, 9}, b.Bytes())
}

func TestWriteAtSurvivesPromotion(t *testing.T) {
	b := NewStack(make([]byte, 4))
	lenOff, err := b.Reserve(2)
	require.NoError(t, err)
	// Overflow to heap with this append.
	_, err = b.Append([]byte{0xAA, 0xBB, 0xCC, 0xDD})
	require.NoError(t, err)
	require.Equal(t, ModeHeap, b.Mode())

	require.NoError(t, b.WriteAt(lenOff, []byte{0x00, 0x04}))
	require.Equal(t, []byte{0x00, 0x04, 0xAA, 0xBB, 0xCC, 0xDD}, b.Bytes())
}

func TestSegmentedSealsAndChains(t *testing.T) {
	b := NewSegmented(4)
	off1, err := b.Append([]byte{1, 2, 3})
	require.NoError(t, err)
	require.Equal(t, 0, off1)

	// This overflows the 4-byte segment (1 byte left, 4 requested).
	off2, err := b.Append([]byte{4, 5, 6, 7})
	require.NoError(t, err)
	require.Equal(t, 3, off2)
	require.Equal(t, ModeSegmented, b.Mode())
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7}, b.Bytes())
	require.Len(t, b.Segments(), 2)
}

func TestSegmentedWriteAtAcrossSealedBoundary(t *testing.T) {
	b := NewSegmented(4)
	lenOff, err := b.Reserve(2)
	require.NoError(t, err)
	_, err = b.Append([]byte{1, 2, 3})
	require.NoError(t, err)
	// The append above already forced a seal (2+3=5 > 4); this one
	// fits in the fresh segment.
	_, err = b.Append([]byte{4})
	require.NoError(t, err)

	require.NoError(t, b.WriteAt(lenOff, []byte{0xAB, 0xCD}))
	require.Equal(t, []byte{0xAB, 0xCD, 1, 2, 3, 4}, b.Bytes())
}

func TestSegmentedExhaustedWhenReservationExceedsSegment(t *testing.T) {
	b := NewSegmented(4)
	_, err := b.Append([]byte{1, 2, 3, 4})
	require.NoError(t, err)
	_, err = b.Append([]byte{1, 2, 3, 4, 5})
	require.ErrorIs(t, err, ErrMbufExhausted)
}

func TestLenTracksAbsoluteOffset(t *testing.T) {
	b := NewStack(make([]byte, 64))
	require.Equal(t, 0, b.Len())
	_, _ = b.Append([]byte{1, 2, 3})
	require.Equal(t, 3, b.Len())
}
