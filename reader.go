package linebuf

import "io"

// Reader reads lines from one source through a LineBuffer.
//
// A typical loop:
//
//	rdr := linebuf.NewReader(src, lb)
//	for {
//		more, err := rdr.Fill()
//		if err != nil {
//			return err
//		}
//		if !more {
//			break
//		}
//		search(rdr.Buffer())
//		rdr.ConsumeAll()
//	}
//
// Binding a new Reader to the same LineBuffer invalidates the old one. Using
// an invalidated Reader panics.
type Reader struct {
	rdr io.Reader
	lb  *LineBuffer
	gen uint64
}

// NewReader resets lb and binds it to rdr. lb keeps the binary detection
// policy it was built with.
func NewReader(rdr io.Reader, lb *LineBuffer) *Reader {
	if len(lb.buf) == 0 {
		panic("linebuf: LineBuffer has no storage, use Builder.Build to create one")
	}
	lb.reset()
	return &Reader{
		rdr: rdr,
		lb:  lb,
		gen: lb.gen,
	}
}

// NewReaderWithBinaryDetection is like NewReader but uses detection instead
// of lb's configured policy until lb is bound again.
func NewReaderWithBinaryDetection(rdr io.Reader, lb *LineBuffer, detection BinaryDetection) *Reader {
	r := NewReader(rdr, lb)
	lb.binary = detection
	return r
}

func (r *Reader) buffer() *LineBuffer {
	if r.lb.gen != r.gen {
		panic("linebuf: Reader used after its LineBuffer was bound to another Reader")
	}
	return r.lb
}

// Fill discards the consumed part of the buffer and reads more from the
// source. It returns false at end of input, or after binary data when the
// policy is QuitOn.
//
// Errors from the source are returned as is. If holding the next line takes
// more memory than the ErrorAbove policy allows, the error is an
// *AllocLimitError; whatever is in Buffer can still be consumed.
func (r *Reader) Fill() (bool, error) {
	return r.buffer().fill(r.rdr)
}

// Buffer returns the lines currently available. The slice is only valid until
// the next call to Fill.
func (r *Reader) Buffer() []byte {
	return r.buffer().buffer()
}

// Consume marks n bytes of Buffer as read. It panics if n > len(Buffer()).
func (r *Reader) Consume(n int) {
	r.buffer().consume(n)
}

// ConsumeAll consumes everything in Buffer.
func (r *Reader) ConsumeAll() {
	r.buffer().consumeAll()
}

// AbsoluteByteOffset returns the offset in the source of the first byte of
// Buffer.
func (r *Reader) AbsoluteByteOffset() int64 {
	return r.buffer().absOffset
}

// BinaryByteOffset returns the source offset where binary data was first
// found, if it has been.
func (r *Reader) BinaryByteOffset() (int64, bool) {
	return r.buffer().binaryByteOffset()
}

// Capacity returns the current size of the LineBuffer's storage.
func (r *Reader) Capacity() int {
	return r.buffer().Capacity()
}
