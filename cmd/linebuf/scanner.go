package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/killa-beez/gopkgs/pool"
	"github.com/willabides/linebuf"
	"go.uber.org/zap"
)

// scanOptions control which lines are written and how.
type scanOptions struct {
	Filters      []lineFilter
	ByteOffset   bool
	WithFilename bool
	JSON         bool
	Concurrency  int
}

// scanner streams lines from inputs through pooled LineBuffers.
type scanner struct {
	opts     *scanOptions
	srcOpts  *sourceOptions
	buffers  sync.Pool
	lineterm byte
	logger   *zap.Logger
	metrics  *collector
}

func newScanner(builder *linebuf.Builder, opts *scanOptions, srcOpts *sourceOptions, logger *zap.Logger, metrics *collector) *scanner {
	if opts == nil {
		opts = new(scanOptions)
	}
	if srcOpts == nil {
		srcOpts = new(sourceOptions)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = newCollector()
	}
	s := &scanner{
		opts:    opts,
		srcOpts: srcOpts,
		logger:  logger,
		metrics: metrics,
	}
	s.buffers.New = func() interface{} {
		return builder.Build()
	}
	lb := builder.Build()
	s.lineterm = lb.LineTerminator()
	s.buffers.Put(lb)
	return s
}

// scanAll scans every input and writes the results to w in input order. An
// error on one input doesn't stop the others. The first error is returned.
func (s *scanner) scanAll(ctx context.Context, inputs []string, w io.Writer) error {
	if s.opts.Concurrency <= 1 || len(inputs) < 2 {
		return s.scanSequential(ctx, inputs, w)
	}
	return s.scanConcurrent(ctx, inputs, w)
}

func (s *scanner) scanSequential(ctx context.Context, inputs []string, w io.Writer) error {
	src := new(sourceReader)
	defer func() {
		_ = src.release() //nolint:errcheck // every input was already closed
	}()
	var firstErr error
	for _, input := range inputs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := s.scanInput(ctx, input, src, w)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var outPool sync.Pool

func (s *scanner) scanConcurrent(ctx context.Context, inputs []string, w io.Writer) error {
	outputs := make([]*bytes.Buffer, len(inputs))
	errs := make([]error, len(inputs))
	p := pool.New(len(inputs), s.opts.Concurrency)
	for i := range inputs {
		i := i
		p.Add(pool.NewWorkUnit(func(ctx2 context.Context) {
			buf, ok := outPool.Get().(*bytes.Buffer)
			if !ok {
				buf = bytes.NewBuffer(make([]byte, 0, 8192))
			}
			buf.Reset()
			outputs[i] = buf
			src := new(sourceReader)
			errs[i] = s.scanInput(ctx2, inputs[i], src, buf)
			_ = src.release() //nolint:errcheck // the input was already closed
		}))
	}
	p.Start(ctx)
	p.Wait()

	var firstErr error
	for i := range inputs {
		buf := outputs[i]
		if buf == nil {
			// never started, most likely cancelled
			if firstErr == nil {
				firstErr = ctx.Err()
			}
			continue
		}
		_, err := w.Write(buf.Bytes())
		outPool.Put(buf)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if errs[i] != nil && firstErr == nil {
			firstErr = errs[i]
		}
	}
	return firstErr
}

// scanInput opens one input, streams it and logs the outcome.
func (s *scanner) scanInput(ctx context.Context, name string, src *sourceReader, w io.Writer) error {
	logger := s.logger.With(zap.String("source", name))
	out := newOutput(w, name, s.lineterm, s.opts)
	sum, err := s.scanSource(ctx, name, src, out)
	if err != nil {
		s.metrics.incSourceErrors()
		logger.Error("scan failed", zap.Error(err))
		sum.Error = err.Error()
	}
	if sum.BinaryOffset != nil {
		logger.Info("binary data detected", zap.Int64("offset", *sum.BinaryOffset))
	}
	logger.Debug("scan finished", zap.Int64("bytes", sum.Bytes), zap.Int64("lines", sum.Lines))
	writeErr := out.finish(sum)
	if err == nil {
		err = writeErr
	}
	return err
}

// scanSource runs the fill/consume loop for one input.
func (s *scanner) scanSource(ctx context.Context, name string, src *sourceReader, out *output) (*summary, error) {
	sum := &summary{Source: name}
	err := src.open(ctx, name, s.srcOpts)
	if err != nil {
		return sum, fmt.Errorf("opening %s: %w", name, err)
	}
	defer func() {
		_ = src.Close() //nolint:errcheck // read-only input
	}()

	lb, ok := s.buffers.Get().(*linebuf.LineBuffer)
	if !ok {
		return sum, errors.New("bad line buffer in pool")
	}
	defer s.buffers.Put(lb)
	rdr := linebuf.NewReader(src, lb)
	defer func() {
		sum.Bytes = rdr.AbsoluteByteOffset()
		if off, ok := rdr.BinaryByteOffset(); ok {
			sum.BinaryOffset = &off
			s.metrics.incBinarySources()
		}
		s.metrics.observeCapacity(rdr.Capacity())
	}()

	// cut is true while the last piece emitted was the start of a line cut
	// short by the allocation limit.
	var cut bool
	for {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		more, err := rdr.Fill()
		s.metrics.incFills()
		limited := false
		if err != nil {
			if !errors.Is(err, linebuf.ErrAllocLimit) {
				return sum, fmt.Errorf("reading %s at offset %d: %w", name, rdr.AbsoluteByteOffset(), err)
			}
			// The line is too long to hold. Write out the part we have and
			// keep going with the rest of it.
			limited = true
			s.metrics.incAllocLimitErrors()
			s.logger.Warn("line exceeds allocation limit",
				zap.String("source", name),
				zap.Int64("offset", rdr.AbsoluteByteOffset()),
				zap.Error(err),
			)
		} else if !more {
			if cut {
				// the cut line ran to the end of input
				sum.Lines++
				s.metrics.addConsumed(0, 1)
				return sum, out.endLine()
			}
			return sum, nil
		}
		cut, err = s.emit(rdr, out, sum, limited, cut)
		if err != nil {
			return sum, err
		}
	}
}

// keep applies the filters to a line. A line cut short by the allocation limit
// is filtered one piece at a time.
func (s *scanner) keep(line []byte) bool {
	for _, filter := range s.opts.Filters {
		if !filter(line) {
			return false
		}
	}
	return true
}

// emit writes the matching lines in rdr's buffer and consumes all of it.
// limited is true when the buffer ends partway through a line. cut is the
// value returned by the previous call. emit returns true when the last piece
// seen so far is an unfinished line.
func (s *scanner) emit(rdr *linebuf.Reader, out *output, sum *summary, limited, cut bool) (bool, error) {
	buf := rdr.Buffer()
	offset := rdr.AbsoluteByteOffset()
	var lines int
	unfinished := cut
	for len(buf) > 0 {
		line := buf
		ended := false
		if i := bytes.IndexByte(buf, s.lineterm); i >= 0 {
			line = buf[:i+1]
			ended = true
		}
		buf = buf[len(line):]
		// Without a terminator this is either the last line of the input or
		// a piece of a line cut by the allocation limit.
		unfinished = !ended && limited
		if !unfinished {
			lines++
		}
		if s.keep(line) {
			err := out.writeLine(offset, line)
			if err != nil {
				return false, err
			}
		} else if !unfinished {
			err := out.endLine()
			if err != nil {
				return false, err
			}
		}
		offset += int64(len(line))
	}
	n := len(rdr.Buffer())
	rdr.ConsumeAll()
	sum.Lines += int64(lines)
	s.metrics.addConsumed(n, lines)
	return unfinished, nil
}
