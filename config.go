package linebuf

import "fmt"

// DefaultCapacity is the capacity used when none is set on a Builder.
const DefaultCapacity = 8 * 1024

// BufferAllocation controls how much memory a LineBuffer may add beyond its
// capacity to hold lines that do not fit.
type BufferAllocation struct {
	bounded bool
	limit   int
}

// Eager grows the buffer, doubling each time, until the next line fits or
// memory runs out. It is the default.
func Eager() BufferAllocation {
	return BufferAllocation{}
}

// ErrorAbove limits additional memory to limit bytes beyond the configured
// capacity. A fill that needs more fails with an *AllocLimitError. A limit of
// 0 means the buffer never grows. Negative limits are treated as 0.
func ErrorAbove(limit int) BufferAllocation {
	if limit < 0 {
		limit = 0
	}
	return BufferAllocation{bounded: true, limit: limit}
}

// Limit returns the limit and true for ErrorAbove, or 0 and false for Eager.
func (a BufferAllocation) Limit() (int, bool) {
	return a.limit, a.bounded
}

func (a BufferAllocation) String() string {
	if a.bounded {
		return fmt.Sprintf("ErrorAbove(%d)", a.limit)
	}
	return "Eager"
}

type binaryMode uint8

const (
	binaryNone binaryMode = iota
	binaryQuit
	binaryConvert
)

// BinaryDetection controls what a LineBuffer does when it sees a byte that
// marks the input as binary. Detection is a heuristic and is off by default.
type BinaryDetection struct {
	mode binaryMode
	b    byte
}

// NoBinaryDetection passes every byte through untouched.
func NoBinaryDetection() BinaryDetection {
	return BinaryDetection{}
}

// QuitOn treats the first occurrence of b as end of input. Neither b nor
// anything after it is ever returned by Buffer.
func QuitOn(b byte) BinaryDetection {
	return BinaryDetection{mode: binaryQuit, b: b}
}

// ConvertOn replaces every occurrence of b with the line terminator and
// keeps reading.
func ConvertOn(b byte) BinaryDetection {
	return BinaryDetection{mode: binaryConvert, b: b}
}

// Byte returns the detection byte, or false when detection is disabled.
func (d BinaryDetection) Byte() (byte, bool) {
	return d.b, d.mode != binaryNone
}

// IsQuit reports whether d was built with QuitOn.
func (d BinaryDetection) IsQuit() bool {
	return d.mode == binaryQuit
}

// IsConvert reports whether d was built with ConvertOn.
func (d BinaryDetection) IsConvert() bool {
	return d.mode == binaryConvert
}

func (d BinaryDetection) String() string {
	switch d.mode {
	case binaryQuit:
		return fmt.Sprintf("QuitOn(%#02x)", d.b)
	case binaryConvert:
		return fmt.Sprintf("ConvertOn(%#02x)", d.b)
	default:
		return "None"
	}
}

type config struct {
	capacity int
	lineterm byte
	alloc    BufferAllocation
	binary   BinaryDetection
}

func defaultConfig() config {
	return config{
		capacity: DefaultCapacity,
		lineterm: '\n',
	}
}

// Builder builds LineBuffers. The zero value is not ready for use; call
// NewBuilder.
type Builder struct {
	cfg config
}

// NewBuilder returns a Builder with the default configuration.
func NewBuilder() *Builder {
	return &Builder{cfg: defaultConfig()}
}

// Capacity sets the initial size of the buffer and how much is asked of the
// source on the first read. Values below 1 are treated as 1.
func (b *Builder) Capacity(capacity int) *Builder {
	if capacity < 1 {
		capacity = 1
	}
	b.cfg.capacity = capacity
	return b
}

// LineTerminator sets the byte that ends a line. Default is '\n'.
func (b *Builder) LineTerminator(lineterm byte) *Builder {
	b.cfg.lineterm = lineterm
	return b
}

// BufferAlloc sets the growth policy for lines longer than the capacity.
func (b *Builder) BufferAlloc(alloc BufferAllocation) *Builder {
	b.cfg.alloc = alloc
	return b
}

// BinaryDetection sets the binary detection policy.
func (b *Builder) BinaryDetection(detection BinaryDetection) *Builder {
	b.cfg.binary = detection
	return b
}

// Build allocates a new LineBuffer. The buffer keeps its own copy of the
// configuration, so the Builder can be changed and reused afterwards.
func (b *Builder) Build() *LineBuffer {
	return &LineBuffer{
		cfg:          b.cfg,
		binary:       b.cfg.binary,
		buf:          make([]byte, b.cfg.capacity),
		binaryOffset: -1,
	}
}
