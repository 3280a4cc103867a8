// Package linebuf buffers data from an io.Reader for line oriented search.
// Every chunk it hands out ends on a line terminator except at end of input.
// The buffer grows to fit lines longer than it is. Binary data can be
// detected and either cut off or cleaned.
package linebuf

import (
	"bytes"
	"fmt"
	"io"
)

// maxConsecutiveEmptyReads matches bufio's limit on readers that keep
// returning 0, nil.
const maxConsecutiveEmptyReads = 100

// LineBuffer holds data read from a source such that everything it exposes
// ends on a line terminator, except at end of input.
//
// A LineBuffer is expensive to allocate and is meant to be reused across
// many sources. It is only used through a Reader, and only one Reader may be
// bound to it at a time. It is not safe for concurrent use.
//
// The zero value has no storage and can't be used. Create LineBuffers with
// Builder.Build.
type LineBuffer struct {
	cfg    config
	binary BinaryDetection
	buf    []byte

	// pos is the first unconsumed byte. pos <= lastLineterm.
	pos int
	// lastLineterm is just past the last line terminator in buf, or just past
	// the last byte read once the source is exhausted. lastLineterm <= end.
	lastLineterm int
	// end is just past the last byte read. Bytes in [lastLineterm, end) are
	// a partial line.
	end int

	// absOffset is the offset of pos from the start of the source.
	absOffset int64
	// binaryOffset is the source offset of the first binary byte, or -1.
	binaryOffset int64

	// pendingErr came back from a read along with data and is returned by the
	// next read attempt instead of calling the source.
	pendingErr error

	// gen changes on every reset so stale Readers can be detected.
	gen uint64
}

// Capacity returns the current size of the backing storage. It starts at the
// configured capacity and only grows.
func (b *LineBuffer) Capacity() int {
	return len(b.buf)
}

// LineTerminator returns the configured line terminator.
func (b *LineBuffer) LineTerminator() byte {
	return b.cfg.lineterm
}

func (b *LineBuffer) reset() {
	b.binary = b.cfg.binary
	b.pos = 0
	b.lastLineterm = 0
	b.end = 0
	b.absOffset = 0
	b.binaryOffset = -1
	b.pendingErr = nil
	b.gen++
}

func (b *LineBuffer) buffer() []byte {
	return b.buf[b.pos:b.lastLineterm]
}

func (b *LineBuffer) free() []byte {
	return b.buf[b.end:]
}

func (b *LineBuffer) consume(n int) {
	if n < 0 || n > b.lastLineterm-b.pos {
		panic(fmt.Sprintf("linebuf: consume(%d) with %d bytes buffered", n, b.lastLineterm-b.pos))
	}
	b.pos += n
	b.absOffset += int64(n)
}

func (b *LineBuffer) consumeAll() {
	b.consume(b.lastLineterm - b.pos)
}

func (b *LineBuffer) binaryByteOffset() (int64, bool) {
	return b.binaryOffset, b.binaryOffset >= 0
}

// fill discards consumed data and reads from r until at least one more
// complete line is buffered, r is exhausted, binary data stops the stream or
// the buffer can't grow. It returns false once there is nothing left to read.
func (b *LineBuffer) fill(r io.Reader) (bool, error) {
	// Once quit-on-binary has fired nothing more is read. The data before the
	// binary byte is all that's left.
	if b.binary.IsQuit() && b.binaryOffset >= 0 {
		return b.lastLineterm > b.pos, nil
	}

	b.roll()
	empty := 0
	for {
		err := b.ensureCapacity()
		if err != nil {
			return false, err
		}
		n, err := b.read(r)
		if err == io.EOF {
			b.lastLineterm = b.end
			return b.lastLineterm > b.pos, nil
		}
		if err != nil {
			return false, err
		}
		if n == 0 {
			empty++
			if empty >= maxConsecutiveEmptyReads {
				return false, io.ErrNoProgress
			}
			continue
		}
		empty = 0

		oldEnd := b.end
		b.end += n
		newBytes := b.buf[oldEnd:b.end]

		switch b.binary.mode {
		case binaryQuit:
			i := bytes.IndexByte(newBytes, b.binary.b)
			if i >= 0 {
				b.end = oldEnd + i
				b.lastLineterm = b.end
				if b.binaryOffset < 0 {
					b.binaryOffset = b.absOffset + int64(b.end)
				}
				return true, nil
			}
		case binaryConvert:
			i := replaceBytes(newBytes, b.binary.b, b.cfg.lineterm)
			if i >= 0 && b.binaryOffset < 0 {
				b.binaryOffset = b.absOffset + int64(oldEnd+i)
			}
		}

		// Only the new bytes need searching. Anything before oldEnd is
		// either behind lastLineterm already or a partial line.
		i := bytes.LastIndexByte(newBytes, b.cfg.lineterm)
		if i >= 0 {
			b.lastLineterm = oldEnd + i + 1
			return true, nil
		}
	}
}

// read reads into the free space. Data returned with an error is kept and
// the error held for the next call, so at most one of n and err is non-zero.
func (b *LineBuffer) read(r io.Reader) (int, error) {
	if b.pendingErr != nil {
		err := b.pendingErr
		b.pendingErr = nil
		return 0, err
	}
	p := b.free()
	n, err := r.Read(p)
	if n < 0 || n > len(p) {
		return 0, ErrInvalidRead
	}
	if n > 0 && err != nil {
		b.pendingErr = err
		err = nil
	}
	return n, err
}

// roll moves the unconsumed bytes to the front of buf. The carried over
// bytes are marked as terminated so they aren't searched again. Afterwards
// pos == 0 and lastLineterm == end.
func (b *LineBuffer) roll() {
	if b.pos == b.end {
		b.pos = 0
		b.lastLineterm = 0
		b.end = 0
		return
	}
	n := copy(b.buf, b.buf[b.pos:b.end])
	b.pos = 0
	b.lastLineterm = n
	b.end = n
}

// ensureCapacity makes sure there is free space past end, growing buf if
// needed.
func (b *LineBuffer) ensureCapacity() error {
	if b.end < len(b.buf) {
		return nil
	}
	additional := len(b.buf)
	if limit, ok := b.cfg.alloc.Limit(); ok {
		// Growth is measured from the capacity the buffer was built with.
		grown := len(b.buf) - b.cfg.capacity
		if room := limit - grown; room < additional {
			additional = room
		}
		if additional <= 0 {
			return &AllocLimitError{Limit: limit}
		}
	}
	buf := make([]byte, len(b.buf)+additional)
	copy(buf, b.buf[:b.end])
	b.buf = buf
	return nil
}
