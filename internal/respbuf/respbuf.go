// Package respbuf implements the tri-modal growable output buffer that the
// response encoder writes against: an initial caller-owned stack region,
// promoted to a heap allocation on overflow, or a chain of fixed-size
// segments for callers emitting into a packet-buffer (mbuf-style) sink.
//
// Every absolute offset handed back by Append/Reserve stays valid for the
// lifetime of the Buffer — the encoder is written against that capability,
// not against the underlying storage variant, so promotions (and, in
// Segmented mode, new segments) never invalidate an offset a caller
// recorded earlier.
package respbuf

import (
	"errors"
	"sync"
)

// ErrMbufExhausted is returned when a segmented buffer cannot make room
// for a reservation even after sealing the current segment and starting
// a fresh one (the reservation is larger than a whole segment).
var ErrMbufExhausted = errors.New("respbuf: mbuf exhausted")

// Heap-mode backing arrays are drawn from one of three fixed-size
// pools — small/medium/large, the same three-class split a caller
// keeps around for UDP, EDNS, and TCP-sized responses — instead of a
// fresh make() on every promotion. A request bigger than the largest
// class falls back to an unpooled allocation.
const (
	poolSmall  = 1024
	poolMedium = 4096
	poolLarge  = 65535
)

var heapPools = [...]struct {
	size int
	pool *sync.Pool
}{
	{poolSmall, &sync.Pool{New: func() any { return make([]byte, poolSmall) }}},
	{poolMedium, &sync.Pool{New: func() any { return make([]byte, poolMedium) }}},
	{poolLarge, &sync.Pool{New: func() any { return make([]byte, poolLarge) }}},
}

// getHeapBuf returns a backing array of at least n bytes, plus the
// pool class it came from (0 meaning "not pooled, just make()'d").
func getHeapBuf(n int) (buf []byte, class int) {
	for _, c := range heapPools {
		if n <= c.size {
			return c.pool.Get().([]byte), c.size
		}
	}
	return make([]byte, n), 0
}

// putHeapBuf returns buf to the pool it was drawn from, if any.
func putHeapBuf(buf []byte, class int) {
	if class == 0 {
		return
	}
	for _, c := range heapPools {
		if c.size == class {
			c.pool.Put(buf[:class])
			return
		}
	}
}

// Mode identifies which of the three backing regimes a Buffer currently
// uses.
type Mode int

const (
	// ModeStack is the initial state: writes land directly in a
	// caller-supplied region (typically an on-stack array sized for one
	// UDP MTU plus the DNS header).
	ModeStack Mode = iota
	// ModeHeap is entered once a stack buffer overflows; writes land in
	// a grown heap allocation.
	ModeHeap
	// ModeSegmented emits into a chain of fixed-capacity segments, the
	// model for a DMA-able packet-buffer chain. Absolute offsets span
	// the whole chain: sealed-segment bytes plus the active segment's
	// cursor.
	ModeSegmented
)

// Buffer is the response-encoding output sink: a tri-modal byte writer
// that starts on a caller-provided stack buffer, promotes to a heap
// allocation if it outgrows that, and can instead grow as a list of
// fixed-size segments when callers ask for ModeSegmented up front.
type Buffer struct {
	mode Mode

	// Stack/Heap: data is the single backing array; cur is the write
	// cursor, len(data) the capacity. Reslicing on promotion never
	// moves bytes already written below cur.
	data      []byte
	cur       int
	heapClass int // pool class b.data was drawn from in ModeHeap, 0 if unpooled

	// Segmented: sealed holds each previously-filled segment (still
	// live, still mutable — sealing only means "stop appending to it",
	// not "copy it away"), sealedLen is the cached sum of their
	// lengths, active is the current segment being written into, and
	// segCap is the capacity of each newly allocated segment.
	sealed    [][]byte
	sealedLen int
	active    []byte
	segCap    int
}

// NewStack creates a Buffer in ModeStack backed directly by buf. buf's
// length is treated as the initial capacity; the buffer starts empty
// (cursor 0).
func NewStack(buf []byte) *Buffer {
	return &Buffer{mode: ModeStack, data: buf}
}

// NewSegmented creates a Buffer in ModeSegmented whose segments are each
// segCap bytes.
func NewSegmented(segCap int) *Buffer {
	return &Buffer{mode: ModeSegmented, segCap: segCap, active: make([]byte, 0, segCap)}
}

// Mode reports the buffer's current backing regime.
func (b *Buffer) Mode() Mode { return b.mode }

// Len returns the total number of bytes written so far, as an absolute
// offset from the start of the message.
func (b *Buffer) Len() int {
	if b.mode == ModeSegmented {
		return b.sealedLen + len(b.active)
	}
	return b.cur
}

// ensureRoom grows the buffer so that at least add more bytes can be
// written, applying the mode-promotion rules above.
func (b *Buffer) ensureRoom(add int) error {
	switch b.mode {
	case ModeStack:
		if b.cur+add <= len(b.data) {
			return nil
		}
		newCap := (b.cur + add) * 2
		newData, class := getHeapBuf(newCap)
		copy(newData, b.data[:b.cur])
		b.data = newData
		b.heapClass = class
		b.mode = ModeHeap
		return nil
	case ModeHeap:
		if b.cur+add <= len(b.data) {
			return nil
		}
		newCap := (b.cur + add) * 2
		newData, class := getHeapBuf(newCap)
		copy(newData, b.data[:b.cur])
		putHeapBuf(b.data, b.heapClass)
		b.data = newData
		b.heapClass = class
		return nil
	case ModeSegmented:
		if len(b.active)+add <= cap(b.active) {
			return nil
		}
		// Seal the current segment and start a fresh one.
		if add > b.segCap {
			return ErrMbufExhausted
		}
		sealedSeg := b.active
		b.sealed = append(b.sealed, sealedSeg)
		b.sealedLen += len(sealedSeg)
		b.active = make([]byte, 0, b.segCap)
		return nil
	default:
		return errors.New("respbuf: unknown mode")
	}
}

// Append ensures room for len(p), copies p at the current cursor, and
// advances it. It returns the absolute offset p was written at.
func (b *Buffer) Append(p []byte) (int, error) {
	off, err := b.Reserve(len(p))
	if err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return off, nil
	}
	if err := b.WriteAt(off, p); err != nil {
		return 0, err
	}
	return off, nil
}

// Reserve ensures room for n bytes and advances the cursor by n without
// defining their contents (useful for placeholders such as an rdlength
// field that gets backfilled once the real length is known). It returns
// the absolute offset the reservation starts at.
func (b *Buffer) Reserve(n int) (int, error) {
	if err := b.ensureRoom(n); err != nil {
		return 0, err
	}
	off := b.Len()
	switch b.mode {
	case ModeStack, ModeHeap:
		b.cur += n
	case ModeSegmented:
		b.active = b.active[:len(b.active)+n]
	}
	return off, nil
}

// WriteAt overwrites already-reserved bytes at an absolute offset. It is
// the only way to mutate bytes below the cursor, used to backfill
// rdlength placeholders and to rewrite the header once final counts are
// known; it never advances the cursor.
func (b *Buffer) WriteAt(offset int, p []byte) error {
	switch b.mode {
	case ModeStack, ModeHeap:
		if offset+len(p) > b.cur {
			return errors.New("respbuf: WriteAt out of written range")
		}
		copy(b.data[offset:], p)
		return nil
	case ModeSegmented:
		if offset+len(p) > b.sealedLen+len(b.active) {
			return errors.New("respbuf: WriteAt out of written range")
		}
		remaining := p
		pos := offset
		// Walk sealed segments first.
		segStart := 0
		for _, seg := range b.sealed {
			segEnd := segStart + len(seg)
			if pos < segEnd && len(remaining) > 0 {
				local := pos - segStart
				n := copy(seg[local:], remaining)
				remaining = remaining[n:]
				pos += n
			}
			segStart = segEnd
			if len(remaining) == 0 {
				return nil
			}
		}
		if len(remaining) > 0 {
			local := pos - b.sealedLen
			copy(b.active[local:], remaining)
		}
		return nil
	default:
		return errors.New("respbuf: unknown mode")
	}
}

// Bytes returns the full message written so far as one contiguous slice.
// For ModeSegmented this flattens every sealed segment plus the active
// one; real packet-buffer transmission would instead iterate Segments()
// and send each chain link, but a flattened view is what tests and
// non-DMA callers want.
func (b *Buffer) Bytes() []byte {
	if b.mode != ModeSegmented {
		return b.data[:b.cur]
	}
	out := make([]byte, 0, b.sealedLen+len(b.active))
	for _, seg := range b.sealed {
		out = append(out, seg...)
	}
	out = append(out, b.active...)
	return out
}

// Release returns a ModeHeap buffer's backing array to the pool it was
// drawn from, if any. Callers must have already copied out whatever
// bytes they still need — the array may be handed to a concurrent
// query the instant this returns, so calling Release and then reading
// Bytes() again is a use-after-free. ModeStack (caller-owned) and
// ModeSegmented (independently GC'd segments) buffers ignore Release.
func (b *Buffer) Release() {
	if b.mode == ModeHeap && b.heapClass != 0 {
		putHeapBuf(b.data, b.heapClass)
		b.data = nil
		b.heapClass = 0
	}
}

// Segments returns the chain of segments backing a ModeSegmented buffer,
// sealed segments followed by the active one. It is nil outside
// ModeSegmented.
func (b *Buffer) Segments() [][]byte {
	if b.mode != ModeSegmented {
		return nil
	}
	return append(append([][]byte{}, b.sealed...), b.active)
}
