package main

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"github.com/willabides/linebuf"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const simpsons = "homer\nlisa\nmaggie"

type testScanner struct {
	*scanner
	logs    *observer.ObservedLogs
	metrics *collector
}

func newTestScanner(t *testing.T, builder *linebuf.Builder, opts *scanOptions) *testScanner {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	metrics := newCollector()
	srcOpts := &sourceOptions{
		AutoCompression: true,
		Stdin:           strings.NewReader(""),
	}
	return &testScanner{
		scanner: newScanner(builder, opts, srcOpts, zap.New(core), metrics),
		logs:    logs,
		metrics: metrics,
	}
}

func (s *testScanner) scanString(t *testing.T, inputs ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := s.scanAll(context.Background(), inputs, &out)
	return out.String(), err
}

func Test_scanner_text(t *testing.T) {
	dir := t.TempDir()
	name := writeTestFile(t, dir, "simpsons.txt", []byte(simpsons))

	t.Run("plain", func(t *testing.T) {
		s := newTestScanner(t, linebuf.NewBuilder(), &scanOptions{})
		got, err := s.scanString(t, name)
		require.NoError(t, err)
		require.Equal(t, simpsons+"\n", got)
		require.Equal(t, float64(3), testutil.ToFloat64(s.metrics.lines))
		require.Equal(t, float64(len(simpsons)), testutil.ToFloat64(s.metrics.bytesConsumed))
	})

	t.Run("prefixes", func(t *testing.T) {
		s := newTestScanner(t, linebuf.NewBuilder(), &scanOptions{ByteOffset: true, WithFilename: true})
		got, err := s.scanString(t, name)
		require.NoError(t, err)
		want := fmt.Sprintf("%[1]s:0:homer\n%[1]s:6:lisa\n%[1]s:11:maggie\n", name)
		require.Equal(t, want, got)
	})

	t.Run("contains", func(t *testing.T) {
		s := newTestScanner(t, linebuf.NewBuilder(), &scanOptions{Filters: []lineFilter{containing([]byte("i"))}, ByteOffset: true})
		got, err := s.scanString(t, name)
		require.NoError(t, err)
		require.Equal(t, "6:lisa\n11:maggie\n", got)
	})

	t.Run("tiny buffer", func(t *testing.T) {
		s := newTestScanner(t, linebuf.NewBuilder().Capacity(1), &scanOptions{ByteOffset: true})
		got, err := s.scanString(t, name)
		require.NoError(t, err)
		require.Equal(t, "0:homer\n6:lisa\n11:maggie\n", got)
		require.Greater(t, testutil.ToFloat64(s.metrics.bufferCapacity), float64(1))
	})

	t.Run("custom terminator", func(t *testing.T) {
		nulName := writeTestFile(t, dir, "nul.txt", []byte("a\nb\x00c"))
		s := newTestScanner(t, linebuf.NewBuilder().LineTerminator(0), &scanOptions{ByteOffset: true})
		got, err := s.scanString(t, nulName)
		require.NoError(t, err)
		require.Equal(t, "0:a\nb\x004:c\x00", got)
	})

	t.Run("stdin", func(t *testing.T) {
		s := newTestScanner(t, linebuf.NewBuilder(), &scanOptions{})
		s.srcOpts.Stdin = strings.NewReader("x\ny\n")
		got, err := s.scanString(t, "-")
		require.NoError(t, err)
		require.Equal(t, "x\ny\n", got)
	})
}

func Test_scanner_allocLimit(t *testing.T) {
	dir := t.TempDir()
	name := writeTestFile(t, dir, "simpsons.txt", []byte(simpsons))
	builder := linebuf.NewBuilder().Capacity(1).BufferAlloc(linebuf.ErrorAbove(5))
	s := newTestScanner(t, builder, &scanOptions{ByteOffset: true})
	got, err := s.scanString(t, name)
	require.NoError(t, err)
	require.Equal(t, "0:homer\n6:lisa\n11:maggie\n", got)
	require.Equal(t, float64(1), testutil.ToFloat64(s.metrics.allocLimitErrors))
	require.Equal(t, float64(3), testutil.ToFloat64(s.metrics.lines))

	warnings := s.logs.FilterMessage("line exceeds allocation limit").All()
	require.Len(t, warnings, 1)
	require.Equal(t, zapcore.WarnLevel, warnings[0].Level)
	require.Equal(t, int64(11), warnings[0].ContextMap()["offset"])
}

func Test_scanner_allocLimitFiltered(t *testing.T) {
	dir := t.TempDir()
	name := writeTestFile(t, dir, "simpsons.txt", []byte("xmaggie\nbart\n"))
	builder := linebuf.NewBuilder().Capacity(2).BufferAlloc(linebuf.ErrorAbove(0))

	t.Run("text", func(t *testing.T) {
		opts := &scanOptions{Filters: []lineFilter{containing([]byte("a"))}, ByteOffset: true}
		s := newTestScanner(t, builder, opts)
		got, err := s.scanString(t, name)
		require.NoError(t, err)
		require.Equal(t, "2:ag\n8:ba\n", got)
		require.Equal(t, float64(2), testutil.ToFloat64(s.metrics.lines))
		require.Equal(t, float64(13), testutil.ToFloat64(s.metrics.bytesConsumed))
	})

	t.Run("json", func(t *testing.T) {
		s := newTestScanner(t, builder, &scanOptions{JSON: true})
		got, err := s.scanString(t, name)
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSuffix(got, "\n"), "\n")
		var sum map[string]interface{}
		require.NoError(t, jsoniter.ConfigFastest.Unmarshal([]byte(lines[len(lines)-1]), &sum))
		require.Equal(t, float64(2), sum["lines"])
		require.Equal(t, float64(13), sum["bytes"])
	})
}

func Test_scanner_allocLimitAtEOF(t *testing.T) {
	dir := t.TempDir()
	for _, td := range []struct {
		in    string
		want  string
		lines float64
	}{
		{in: "ab\ncdefgh", want: "0:ab\n3:cdefgh\n", lines: 2},
		{in: "abcd", want: "0:abcd\n", lines: 1},
		{in: "abcd\n", want: "0:abcd\n", lines: 1},
	} {
		name := writeTestFile(t, dir, "long.txt", []byte(td.in))
		builder := linebuf.NewBuilder().Capacity(2).BufferAlloc(linebuf.ErrorAbove(0))
		s := newTestScanner(t, builder, &scanOptions{ByteOffset: true})
		got, err := s.scanString(t, name)
		require.NoError(t, err, td.in)
		require.Equal(t, td.want, got, td.in)
		require.Equal(t, td.lines, testutil.ToFloat64(s.metrics.lines), td.in)
	}
}

func Test_scanner_binary(t *testing.T) {
	dir := t.TempDir()
	name := writeTestFile(t, dir, "bin.txt", []byte("abc\nd\x00ef\ngh\n"))

	t.Run("quit", func(t *testing.T) {
		s := newTestScanner(t, linebuf.NewBuilder().BinaryDetection(linebuf.QuitOn(0)), &scanOptions{})
		got, err := s.scanString(t, name)
		require.NoError(t, err)
		require.Equal(t, "abc\nd\n", got)
		require.Equal(t, float64(1), testutil.ToFloat64(s.metrics.binarySources))
		entries := s.logs.FilterMessage("binary data detected").All()
		require.Len(t, entries, 1)
		require.Equal(t, int64(5), entries[0].ContextMap()["offset"])
		require.Equal(t, name, entries[0].ContextMap()["source"])
	})

	t.Run("convert", func(t *testing.T) {
		s := newTestScanner(t, linebuf.NewBuilder().BinaryDetection(linebuf.ConvertOn(0)), &scanOptions{ByteOffset: true})
		got, err := s.scanString(t, name)
		require.NoError(t, err)
		require.Equal(t, "0:abc\n4:d\n6:ef\n9:gh\n", got)
		require.Equal(t, 1, s.logs.FilterMessage("binary data detected").Len())
	})

	t.Run("none", func(t *testing.T) {
		s := newTestScanner(t, linebuf.NewBuilder(), &scanOptions{})
		got, err := s.scanString(t, name)
		require.NoError(t, err)
		require.Equal(t, "abc\nd\x00ef\ngh\n", got)
		require.Equal(t, float64(0), testutil.ToFloat64(s.metrics.binarySources))
	})
}

func Test_scanner_json(t *testing.T) {
	dir := t.TempDir()
	name := writeTestFile(t, dir, "a.txt", []byte("a\nb\x00c\nd"))
	s := newTestScanner(t, linebuf.NewBuilder().BinaryDetection(linebuf.QuitOn(0)), &scanOptions{JSON: true})
	got, err := s.scanString(t, name)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(got, "\n"), "\n")
	require.Len(t, lines, 3)
	var records []map[string]interface{}
	for _, line := range lines {
		var record map[string]interface{}
		require.NoError(t, jsoniter.ConfigFastest.Unmarshal([]byte(line), &record))
		records = append(records, record)
	}
	require.Equal(t, map[string]interface{}{"source": name, "offset": float64(0), "line": "a\n"}, records[0])
	require.Equal(t, map[string]interface{}{"source": name, "offset": float64(2), "line": "b"}, records[1])
	require.Equal(t, map[string]interface{}{
		"source":        name,
		"bytes":         float64(3),
		"lines":         float64(2),
		"binary_offset": float64(3),
	}, records[2])
}

func Test_scanner_multipleInputs(t *testing.T) {
	dir := t.TempDir()
	var inputs []string
	var want strings.Builder
	for i := 0; i < 6; i++ {
		data := strings.Repeat(fmt.Sprintf("file %d line\n", i), 50+i)
		var name string
		switch i % 3 {
		case 0:
			name = writeTestFile(t, dir, fmt.Sprintf("%d.txt", i), []byte(data))
		case 1:
			name = writeTestFile(t, dir, fmt.Sprintf("%d.txt.gz", i), gzipBytes(t, data))
		case 2:
			name = writeTestFile(t, dir, fmt.Sprintf("%d.txt.zst", i), zstdBytes(t, data))
		}
		inputs = append(inputs, name)
		want.WriteString(data)
	}
	missing := filepath.Join(dir, "missing.txt")
	withMissing := append(append(append([]string{}, inputs[:3]...), missing), inputs[3:]...)

	for _, concurrency := range []int{1, 3} {
		t.Run(fmt.Sprint(concurrency), func(t *testing.T) {
			s := newTestScanner(t, linebuf.NewBuilder().Capacity(64), &scanOptions{Concurrency: concurrency})
			got, err := s.scanString(t, inputs...)
			require.NoError(t, err)
			require.Equal(t, want.String(), got)

			s = newTestScanner(t, linebuf.NewBuilder().Capacity(64), &scanOptions{Concurrency: concurrency})
			got, err = s.scanString(t, withMissing...)
			require.Error(t, err)
			require.Contains(t, err.Error(), "opening "+missing)
			require.Equal(t, want.String(), got)
			require.Equal(t, float64(1), testutil.ToFloat64(s.metrics.sourceErrors))
			require.Equal(t, 1, s.logs.FilterMessage("scan failed").Len())
		})
	}
}

func Test_scanner_filters(t *testing.T) {
	dir := t.TempDir()
	name := writeTestFile(t, dir, "events.json", []byte("{\"a\":1}\n\n  \nnot json\n[2]"))
	cli := &cliArgs{NoEmptyLines: true, OnlyValidJSON: true}
	s := newTestScanner(t, linebuf.NewBuilder(), cli.scanOptions())
	got, err := s.scanString(t, name)
	require.NoError(t, err)
	require.Equal(t, "{\"a\":1}\n[2]\n", got)
	require.Equal(t, float64(5), testutil.ToFloat64(s.metrics.lines))
}

func Test_scanner_cloudStorage(t *testing.T) {
	ctx := context.Background()
	client := setupTestServer(ctx, t, map[string][]byte{
		"2020-10-10-8.json.gz": gzipBytes(t, "{\"id\":1}\n{\"id\":2}\n"),
	})
	s := newTestScanner(t, linebuf.NewBuilder(), &scanOptions{WithFilename: true})
	s.srcOpts.StorageClient = client
	got, err := s.scanString(t, "gs://data.gharchive.org/2020-10-10-8.json.gz")
	require.NoError(t, err)
	require.Equal(t, "gs://data.gharchive.org/2020-10-10-8.json.gz:{\"id\":1}\ngs://data.gharchive.org/2020-10-10-8.json.gz:{\"id\":2}\n", got)
}

func Test_scanner_cancelled(t *testing.T) {
	dir := t.TempDir()
	name := writeTestFile(t, dir, "a.txt", []byte(simpsons))
	s := newTestScanner(t, linebuf.NewBuilder(), &scanOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.scanAll(ctx, []string{name}, new(bytes.Buffer))
	require.Equal(t, context.Canceled, err)
}
