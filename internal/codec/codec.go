// Package codec provides the streaming compression codecs a chunk may be
// stored with. The manifest records the codec by name; the chunk filename
// carries the matching suffix.
package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec names as recorded in the manifest.
const (
	NameGzip     = "gzip"
	NameSnappy   = "snappy"
	NameZstd     = "zstd"
	NameLZ4      = "lz4"
	NameIdentity = "identity"
)

// Codec converts between raw and compressed byte streams.
type Codec interface {
	// Name is the manifest identifier of the codec.
	Name() string

	// Suffix is appended to the chunk filename, e.g. ".gz".
	Suffix() string

	NewReader(r io.Reader) (io.ReadCloser, error)
	NewWriter(w io.Writer) io.WriteCloser
}

// Gzip is the default chunk codec.
type Gzip struct {
	// Level is a compress/gzip level; zero means gzip.DefaultCompression.
	Level int
}

func (Gzip) Name() string   { return NameGzip }
func (Gzip) Suffix() string { return ".gz" }

func (Gzip) NewReader(r io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}

func (g Gzip) NewWriter(w io.Writer) io.WriteCloser {
	if g.Level == 0 {
		return gzip.NewWriter(w)
	}
	zw, err := gzip.NewWriterLevel(w, g.Level)
	if err != nil {
		return gzip.NewWriter(w)
	}
	return zw
}

// Snappy uses the framed snappy stream format.
type Snappy struct{}

func (Snappy) Name() string   { return NameSnappy }
func (Snappy) Suffix() string { return ".sz" }

func (Snappy) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(snappy.NewReader(r)), nil
}

func (Snappy) NewWriter(w io.Writer) io.WriteCloser {
	return snappy.NewBufferedWriter(w)
}

// Zstd trades encode time for the smallest chunks.
type Zstd struct {
	// Level is a zstd level (1-22); zero means the encoder default.
	Level int
}

func (Zstd) Name() string   { return NameZstd }
func (Zstd) Suffix() string { return ".zst" }

func (Zstd) NewReader(r io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return dec.IOReadCloser(), nil
}

func (z Zstd) NewWriter(w io.Writer) io.WriteCloser {
	var opts []zstd.EOption
	if z.Level != 0 {
		opts = append(opts, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(z.Level)))
	}
	enc, err := zstd.NewWriter(w, opts...)
	if err != nil {
		return errWriteCloser{err}
	}
	return enc
}

// LZ4 uses the lz4 frame format.
type LZ4 struct{}

func (LZ4) Name() string   { return NameLZ4 }
func (LZ4) Suffix() string { return ".lz4" }

func (LZ4) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(r)), nil
}

func (LZ4) NewWriter(w io.Writer) io.WriteCloser {
	return lz4.NewWriter(w)
}

// Identity stores chunks uncompressed.
type Identity struct{}

func (Identity) Name() string   { return NameIdentity }
func (Identity) Suffix() string { return "" }

func (Identity) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}

func (Identity) NewWriter(w io.Writer) io.WriteCloser {
	return nopWriteCloser{w}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

type errWriteCloser struct{ err error }

func (e errWriteCloser) Write([]byte) (int, error) { return 0, e.err }
func (e errWriteCloser) Close() error              { return e.err }

// Lookup returns the codec registered under name. An empty name selects gzip.
func Lookup(name string) (Codec, error) {
	switch name {
	case "", NameGzip:
		return Gzip{}, nil
	case NameSnappy:
		return Snappy{}, nil
	case NameZstd:
		return Zstd{}, nil
	case NameLZ4:
		return LZ4{}, nil
	case NameIdentity:
		return Identity{}, nil
	default:
		return nil, fmt.Errorf("codec: unknown codec %q", name)
	}
}

// Compress encodes data in one call.
func Compress(c Codec, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := c.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("codec: %s compress: %w", c.Name(), err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("codec: %s compress: %w", c.Name(), err)
	}
	return buf.Bytes(), nil
}

// Decompress decodes data in one call.
func Decompress(c Codec, data []byte) ([]byte, error) {
	r, err := c.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("codec: %s decompress: %w", c.Name(), err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("codec: %s decompress: %w", c.Name(), err)
	}
	return out, nil
}
