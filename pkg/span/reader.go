package span

import (
	"bufio"
	"encoding/binary"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stleox/chrometrace/pkg/config"
	"io"
)

// Reader decodes span records from a length-framed stream. It implements
// Decoder.
//
// A Reader must not be used from multiple goroutines.
type Reader struct {
	in          io.Reader
	src         *bufio.Reader
	release     func() error
	compression Compression
	maxSize     uint64

	buf   []byte
	count int
	err   error
}

type ReaderOption func(*Reader)

// WithCompression forces the compression layer instead of detecting it.
func WithCompression(c Compression) ReaderOption {
	return func(d *Reader) {
		d.compression = c
	}
}

// WithMaxRecordSize bounds the size of a single frame.
func WithMaxRecordSize(n uint64) ReaderOption {
	return func(d *Reader) {
		d.maxSize = n
	}
}

// NewReader returns a Reader over r. No I/O happens until the first call to
// Next.
func NewReader(r io.Reader, opts ...ReaderOption) *Reader {
	d := &Reader{
		in:          r,
		compression: CompressionAuto,
		maxSize:     config.MaxRecordSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Count returns the number of records decoded so far.
func (d *Reader) Count() int {
	return d.count
}

// Next returns the next record. The record is only valid until the following
// call to Next. Once Next returns an error, every later call returns the same
// error.
func (d *Reader) Next() (Record, error) {
	if d.src == nil && d.err == nil {
		d.init()
	}
	if d.err != nil {
		return nil, d.err
	}

	size, err := binary.ReadUvarint(d.src)
	if err != nil {
		if err != io.EOF {
			err = errors.Wrapf(err, "reading length of record #%d", d.count)
		}
		d.err = err
		return nil, err
	}
	if size > d.maxSize {
		d.err = errors.Errorf("record #%d is %d bytes, limit is %d", d.count, size, d.maxSize)
		return nil, d.err
	}

	if uint64(cap(d.buf)) < size {
		d.buf = make([]byte, size)
	}
	d.buf = d.buf[:size]
	if _, err := io.ReadFull(d.src, d.buf); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		d.err = errors.Wrapf(err, "reading record #%d", d.count)
		return nil, d.err
	}

	rec, err := parseRecord(d.buf)
	if err != nil {
		d.err = errors.Wrapf(err, "decoding record #%d", d.count)
		return nil, d.err
	}
	d.count++
	return rec, nil
}

// Close releases the decompression layer. It does not close the underlying
// reader.
func (d *Reader) Close() error {
	if d.release == nil {
		return nil
	}
	release := d.release
	d.release = nil
	return release()
}

func (d *Reader) init() {
	head, ok := d.in.(*bufio.Reader)
	if !ok {
		head = bufio.NewReader(d.in)
	}

	c := d.compression
	if c == CompressionAuto {
		// a short or empty stream simply fails to match any magic
		magic, _ := head.Peek(len(zstdMagic))
		c = detectCompression(magic)
	}
	logrus.Debugf("span reader uses compression: %s", c)

	if c == CompressionNone {
		d.src, d.release = head, nil
		return
	}

	raw, release, err := newDecompressor(c, head)
	if err != nil {
		d.err = errors.Wrapf(err, "opening %s stream", c)
		return
	}
	d.src, d.release = bufio.NewReader(raw), release
}
