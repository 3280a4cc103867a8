package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
	"google.golang.org/api/option"
)

type compression int

const (
	compressNone compression = iota
	compressGzip
	compressZstd
)

func parseCompression(s string) (compression, bool, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return compressNone, true, nil
	case "none":
		return compressNone, false, nil
	case "gzip", "gz":
		return compressGzip, false, nil
	case "zstd", "zst":
		return compressZstd, false, nil
	}
	return compressNone, false, fmt.Errorf("unknown compression %q", s)
}

func compressionForName(name string) compression {
	switch strings.ToLower(path.Ext(name)) {
	case ".gz", ".gzip":
		return compressGzip
	case ".zst", ".zstd":
		return compressZstd
	}
	return compressNone
}

// sourceOptions says where and how inputs are read.
type sourceOptions struct {
	StorageClient *storage.Client
	Stdin         io.Reader
	// Compression is used for every input unless AutoCompression is set.
	Compression     compression
	AutoCompression bool
	// Encoding, when set, transcodes every input to UTF-8.
	Encoding encoding.Encoding

	ownsClient bool
}

func lookupEncoding(name string) (encoding.Encoding, error) {
	if name == "" {
		return nil, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q: %w", name, err)
	}
	return enc, nil
}

// withDefaults creates a storage client when one of inputs needs it.
func (o *sourceOptions) withDefaults(ctx context.Context, inputs []string) (*sourceOptions, error) {
	if o == nil {
		o = new(sourceOptions)
	}
	out := *o
	if out.Stdin == nil {
		out.Stdin = os.Stdin
	}
	if out.StorageClient != nil {
		return &out, nil
	}
	for _, input := range inputs {
		if _, _, ok := parseGSURL(input); !ok {
			continue
		}
		var err error
		out.StorageClient, err = storage.NewClient(ctx, option.WithoutAuthentication())
		if err != nil {
			return nil, err
		}
		out.ownsClient = true
		break
	}
	return &out, nil
}

// Close closes the storage client if withDefaults created it.
func (o *sourceOptions) Close() error {
	if o.ownsClient && o.StorageClient != nil {
		return o.StorageClient.Close()
	}
	return nil
}

func (o *sourceOptions) compressionFor(name string) compression {
	if o.AutoCompression {
		return compressionForName(name)
	}
	return o.Compression
}

// parseGSURL splits gs://bucket/object.
func parseGSURL(name string) (bucket, object string, ok bool) {
	if !strings.HasPrefix(name, "gs://") {
		return "", "", false
	}
	rest := strings.TrimPrefix(name, "gs://")
	i := strings.IndexByte(rest, '/')
	if i <= 0 || i == len(rest)-1 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}

// sourceReader decompresses and transcodes one input at a time. The
// decoders are kept across Reset calls.
type sourceReader struct {
	rdr    io.Reader
	out    io.Reader
	active compression
	gzRdr  *gzip.Reader
	zstRdr *zstd.Decoder
}

func (z *sourceReader) Read(p []byte) (n int, err error) {
	return z.out.Read(p)
}

// Close closes the current input. The reader can be Reset afterwards.
func (z *sourceReader) Close() error {
	var err error
	if z.active == compressGzip && z.out != nil {
		err = z.gzRdr.Close()
	}
	z.out = nil
	z.active = compressNone
	if z.rdr == nil {
		return err
	}
	rdr := z.rdr
	z.rdr = nil
	if closer, ok := rdr.(io.Closer); ok {
		rdrErr := closer.Close()
		if rdrErr != nil {
			return rdrErr
		}
	}
	return err
}

// release closes the current input and frees the decoders.
func (z *sourceReader) release() error {
	err := z.Close()
	if z.zstRdr != nil {
		z.zstRdr.Close()
		z.zstRdr = nil
	}
	return err
}

// Reset closes the current input and starts reading r.
func (z *sourceReader) Reset(r io.Reader, c compression, enc encoding.Encoding) error {
	err := z.Close()
	if err != nil {
		return err
	}
	z.rdr = r
	var out io.Reader
	switch c {
	case compressGzip:
		if z.gzRdr == nil {
			z.gzRdr, err = gzip.NewReader(r)
		} else {
			err = z.gzRdr.Reset(r)
		}
		out = z.gzRdr
	case compressZstd:
		if z.zstRdr == nil {
			z.zstRdr, err = zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		} else {
			err = z.zstRdr.Reset(r)
		}
		out = z.zstRdr
	default:
		out = r
	}
	if err != nil {
		return err
	}
	if enc != nil {
		out = transform.NewReader(out, enc.NewDecoder())
	}
	z.out = out
	z.active = c
	return nil
}

// open points z at the named input: "-" for stdin, gs://bucket/object for
// cloud storage, anything else is a local file.
func (z *sourceReader) open(ctx context.Context, name string, opts *sourceOptions) error {
	var rdr io.Reader
	switch bucket, object, isGS := parseGSURL(name); {
	case name == "-":
		// hide any Close method so stdin is never closed
		rdr = struct{ io.Reader }{opts.Stdin}
	case isGS:
		if opts.StorageClient == nil {
			return fmt.Errorf("no storage client for %s", name)
		}
		objRdr, err := opts.StorageClient.Bucket(bucket).Object(object).NewReader(ctx)
		if err != nil {
			return err
		}
		rdr = objRdr
	default:
		file, err := os.Open(name)
		if err != nil {
			return err
		}
		rdr = file
	}
	err := z.Reset(rdr, opts.compressionFor(name), opts.Encoding)
	if err != nil {
		if closer, ok := rdr.(io.Closer); ok {
			_ = closer.Close() //nolint:errcheck // already failing
		}
		z.rdr = nil
		return err
	}
	return nil
}
