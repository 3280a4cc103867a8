package main

import (
	"io"
	"strconv"

	jsoniter "github.com/json-iterator/go"
)

// summary is reported for each input in JSON mode.
type summary struct {
	Source       string `json:"source"`
	Bytes        int64  `json:"bytes"`
	Lines        int64  `json:"lines"`
	BinaryOffset *int64 `json:"binary_offset,omitempty"`
	Error        string `json:"error,omitempty"`
}

// output writes the lines of one input.
type output struct {
	w        io.Writer
	name     string
	lineterm byte
	opts     *scanOptions
	stream   *jsoniter.Stream
	// open is true when the last line written had no terminator
	open     bool
	scratch  []byte
}

func newOutput(w io.Writer, name string, lineterm byte, opts *scanOptions) *output {
	o := &output{
		w:        w,
		name:     name,
		lineterm: lineterm,
		opts:     opts,
	}
	if opts.JSON {
		o.stream = jsoniter.ConfigFastest.BorrowStream(w)
	}
	return o
}

func (o *output) writeLine(offset int64, line []byte) error {
	if o.stream != nil {
		return o.writeJSONLine(offset, line)
	}
	prefix := o.scratch[:0]
	if o.opts.WithFilename {
		prefix = append(prefix, o.name...)
		prefix = append(prefix, ':')
	}
	if o.opts.ByteOffset {
		prefix = strconv.AppendInt(prefix, offset, 10)
		prefix = append(prefix, ':')
	}
	o.scratch = prefix
	if len(prefix) > 0 && !o.open {
		_, err := o.w.Write(prefix)
		if err != nil {
			return err
		}
	}
	_, err := o.w.Write(line)
	if err != nil {
		return err
	}
	o.open = len(line) > 0 && line[len(line)-1] != o.lineterm
	return nil
}

func (o *output) writeJSONLine(offset int64, line []byte) error {
	s := o.stream
	s.WriteObjectStart()
	s.WriteObjectField("source")
	s.WriteString(o.name)
	s.WriteMore()
	s.WriteObjectField("offset")
	s.WriteInt64(offset)
	s.WriteMore()
	s.WriteObjectField("line")
	s.WriteString(string(line))
	s.WriteObjectEnd()
	s.WriteRaw("\n")
	if s.Buffered() > 32*1024 {
		return s.Flush()
	}
	return s.Error
}

// endLine terminates a line whose start was written without a terminator.
// It does nothing in JSON mode or when no line is open.
func (o *output) endLine() error {
	if o.stream != nil || !o.open {
		return nil
	}
	o.open = false
	_, err := o.w.Write([]byte{o.lineterm})
	return err
}

// finish ends the last line in text mode, or writes the summary in JSON
// mode. The output can't be used afterwards.
func (o *output) finish(sum *summary) error {
	if o.stream == nil {
		return o.endLine()
	}
	s := o.stream
	o.stream = nil
	defer jsoniter.ConfigFastest.ReturnStream(s)
	s.WriteVal(sum)
	s.WriteRaw("\n")
	return s.Flush()
}
