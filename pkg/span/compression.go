package span

import (
	"bytes"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"io"
	"strings"
)

// Compression selects the layer wrapped around the frame sequence.
type Compression string

const (
	CompressionAuto Compression = "auto"
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
	CompressionZstd Compression = "zstd"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// ParseCompression accepts the names of the Compression constants, case
// insensitively. The empty string means auto.
func ParseCompression(s string) (Compression, error) {
	switch c := Compression(strings.ToLower(strings.TrimSpace(s))); c {
	case "":
		return CompressionAuto, nil
	case CompressionAuto, CompressionNone, CompressionGzip, CompressionZstd:
		return c, nil
	default:
		return "", errors.Errorf("unknown compression %q (want one of auto, none, gzip, zstd)", s)
	}
}

func (c Compression) String() string { return string(c) }

// detectCompression guesses the layer from the leading bytes of a stream.
func detectCompression(head []byte) Compression {
	switch {
	case bytes.HasPrefix(head, zstdMagic):
		return CompressionZstd
	case bytes.HasPrefix(head, gzipMagic):
		return CompressionGzip
	default:
		return CompressionNone
	}
}

// newDecompressor returns a reader yielding the raw frame sequence of src and
// a function releasing its resources.
func newDecompressor(c Compression, src io.Reader) (io.Reader, func() error, error) {
	switch c {
	case CompressionNone:
		return src, func() error { return nil }, nil
	case CompressionGzip:
		zr, err := gzip.NewReader(src)
		if err != nil {
			return nil, nil, err
		}
		return zr, zr.Close, nil
	case CompressionZstd:
		zr, err := zstd.NewReader(src)
		if err != nil {
			return nil, nil, err
		}
		return zr, func() error { zr.Close(); return nil }, nil
	default:
		return nil, nil, errors.Errorf("unsupported compression %q", c)
	}
}

// newCompressor returns a writer compressing into dst, or nil for
// CompressionNone and CompressionAuto.
func newCompressor(c Compression, dst io.Writer) (io.WriteCloser, error) {
	switch c {
	case CompressionNone, CompressionAuto:
		return nil, nil
	case CompressionGzip:
		return gzip.NewWriter(dst), nil
	case CompressionZstd:
		return zstd.NewWriter(dst)
	default:
		return nil, errors.Errorf("unsupported compression %q", c)
	}
}
