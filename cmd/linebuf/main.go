package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/willabides/linebuf"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type cliArgs struct {
	Inputs         []string `kong:"arg,optional,name=input,help='files to read. gs://bucket/object reads from cloud storage. - or nothing reads stdin'"`
	Capacity       int      `kong:"default=8192,env=LINEBUF_CAPACITY,help='initial buffer size in bytes'"`
	MaxAlloc       int      `kong:"default=-1,env=LINEBUF_MAX_ALLOC,help='bytes the buffer may grow by to fit long lines. negative is unlimited'"`
	LineTerminator string   `kong:"default=lf,env=LINEBUF_LINE_TERMINATOR,help='line terminator: lf, cr, nul, a single character or a hex byte like 0x1e'"`
	Binary         string   `kong:"default=none,env=LINEBUF_BINARY,help='what to do with binary data: none, quit or convert'"`
	BinaryByte     string   `kong:"default=nul,env=LINEBUF_BINARY_BYTE,help='the byte that marks binary data'"`
	Contains       string   `kong:"help='only output lines containing this string'"`
	NoEmptyLines   bool     `kong:"help='skip lines that are empty or only whitespace'"`
	OnlyValidJSON  bool     `kong:"help='skip lines that are not valid json'"`
	ByteOffset     bool     `kong:"short=b,help='prefix lines with their byte offset'"`
	WithFilename   bool     `kong:"short=H,help='prefix lines with the input name'"`
	JSON           bool     `kong:"name=json,help='output json lines'"`
	Encoding       string   `kong:"env=LINEBUF_ENCODING,help='transcode inputs from this encoding to utf-8'"`
	Decompress     string   `kong:"default=auto,env=LINEBUF_DECOMPRESS,help='input compression: auto, none, gzip or zstd'"`
	Concurrency    int      `kong:"default=1,env=LINEBUF_CONCURRENCY,help='number of inputs to read at once'"`
	LogLevel       string   `kong:"default=info,env=LINEBUF_LOG_LEVEL,help='log level: debug, info, warn or error'"`
	MetricsFile    string   `kong:"env=LINEBUF_METRICS_FILE,help='write prometheus metrics to this file when done'"`
}

var byteNames = map[string]byte{
	"lf":  '\n',
	`\n`:  '\n',
	"cr":  '\r',
	`\r`:  '\r',
	"nul": 0,
	`\0`:  0,
	"tab": '\t',
	`\t`:  '\t',
}

func parseByteSpec(s string) (byte, error) {
	if b, ok := byteNames[strings.ToLower(s)]; ok {
		return b, nil
	}
	if len(s) == 1 {
		return s[0], nil
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseUint(s[2:], 16, 8)
		if err == nil {
			return byte(v), nil
		}
	}
	return 0, fmt.Errorf("invalid byte %q", s)
}

func (c *cliArgs) builder() (*linebuf.Builder, error) {
	lineterm, err := parseByteSpec(c.LineTerminator)
	if err != nil {
		return nil, fmt.Errorf("line terminator: %w", err)
	}
	binaryByte, err := parseByteSpec(c.BinaryByte)
	if err != nil {
		return nil, fmt.Errorf("binary byte: %w", err)
	}
	var detection linebuf.BinaryDetection
	switch strings.ToLower(c.Binary) {
	case "", "none":
		detection = linebuf.NoBinaryDetection()
	case "quit":
		detection = linebuf.QuitOn(binaryByte)
	case "convert":
		detection = linebuf.ConvertOn(binaryByte)
	default:
		return nil, fmt.Errorf("unknown binary mode %q", c.Binary)
	}
	alloc := linebuf.Eager()
	if c.MaxAlloc >= 0 {
		alloc = linebuf.ErrorAbove(c.MaxAlloc)
	}
	return linebuf.NewBuilder().
		Capacity(c.Capacity).
		LineTerminator(lineterm).
		BufferAlloc(alloc).
		BinaryDetection(detection), nil
}

func (c *cliArgs) scanOptions() *scanOptions {
	opts := &scanOptions{
		ByteOffset:   c.ByteOffset,
		WithFilename: c.WithFilename,
		JSON:         c.JSON,
		Concurrency:  c.Concurrency,
	}
	if c.NoEmptyLines {
		opts.Filters = append(opts.Filters, notEmpty())
	}
	if c.OnlyValidJSON {
		opts.Filters = append(opts.Filters, validJSON())
	}
	if c.Contains != "" {
		opts.Filters = append(opts.Filters, containing([]byte(c.Contains)))
	}
	return opts
}

func (c *cliArgs) sourceOptions(stdin io.Reader) (*sourceOptions, error) {
	comp, auto, err := parseCompression(c.Decompress)
	if err != nil {
		return nil, err
	}
	enc, err := lookupEncoding(c.Encoding)
	if err != nil {
		return nil, err
	}
	return &sourceOptions{
		Stdin:           stdin,
		Compression:     comp,
		AutoCompression: auto,
		Encoding:        enc,
	}, nil
}

func newLogger(w io.Writer, level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.Lock(zapcore.AddSync(w)),
		lvl,
	)
	return zap.New(core), nil
}

func run(ctx context.Context, args *cliArgs, stdin io.Reader, stdout, stderr io.Writer) (errOut error) {
	logger, err := newLogger(stderr, args.LogLevel)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	defer func() {
		_ = logger.Sync() //nolint:errcheck // stderr may not support sync
	}()
	builder, err := args.builder()
	if err != nil {
		return err
	}
	srcOpts, err := args.sourceOptions(stdin)
	if err != nil {
		return err
	}
	inputs := args.Inputs
	if len(inputs) == 0 {
		inputs = []string{"-"}
	}
	srcOpts, err = srcOpts.withDefaults(ctx, inputs)
	if err != nil {
		return fmt.Errorf("creating storage client: %w", err)
	}
	defer func() {
		closeErr := srcOpts.Close()
		if errOut == nil {
			errOut = closeErr
		}
	}()

	metrics := newCollector()
	s := newScanner(builder, args.scanOptions(), srcOpts, logger, metrics)
	err = s.scanAll(ctx, inputs, stdout)
	if args.MetricsFile != "" {
		metricsErr := writeMetricsFile(args.MetricsFile, metrics)
		if metricsErr != nil {
			logger.Error("writing metrics", zap.String("file", args.MetricsFile), zap.Error(metricsErr))
			if err == nil {
				err = metricsErr
			}
		}
	}
	return err
}

func writeMetricsFile(name string, metrics *collector) error {
	file, err := os.Create(name)
	if err != nil {
		return err
	}
	err = metrics.writeTo(file)
	closeErr := file.Close()
	if err == nil {
		err = closeErr
	}
	return err
}

// interrupted reports whether err comes from the run being cancelled, even
// when a source wrapped it.
func interrupted(err error) bool {
	return errors.Is(err, context.Canceled)
}

func main() {
	var cli cliArgs
	k := kong.Parse(&cli, kong.Description("linebuf streams the lines of its inputs"))
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	stdout := bufio.NewWriterSize(os.Stdout, 64*1024)
	err := run(ctx, &cli, os.Stdin, stdout, os.Stderr)
	flushErr := stdout.Flush()
	if interrupted(err) {
		return
	}
	k.FatalIfErrorf(err, "linebuf failed")
	k.FatalIfErrorf(flushErr, "writing output")
}
