package span

import (
	"encoding/binary"
	"github.com/pkg/errors"
	"io"
)

// Writer encodes span records in the format read by Reader.
type Writer struct {
	out  io.Writer
	comp io.WriteCloser

	msg   []byte
	frame []byte
}

// NewWriter returns a Writer framing records into w. CompressionAuto writes
// an uncompressed stream.
func NewWriter(w io.Writer, c Compression) (*Writer, error) {
	comp, err := newCompressor(c, w)
	if err != nil {
		return nil, err
	}
	ret := &Writer{out: w}
	if comp != nil {
		ret.comp, ret.out = comp, comp
	}
	return ret, nil
}

func (w *Writer) Write(rec Record) error {
	msg, err := appendRecord(w.msg[:0], rec)
	if err != nil {
		return errors.Wrap(err, "encoding span record")
	}
	w.msg = msg

	w.frame = binary.AppendUvarint(w.frame[:0], uint64(len(msg)))
	w.frame = append(w.frame, msg...)
	if _, err := w.out.Write(w.frame); err != nil {
		return errors.Wrap(err, "writing span record")
	}
	return nil
}

// Close flushes the compression layer. The underlying writer stays open.
func (w *Writer) Close() error {
	if w.comp == nil {
		return nil
	}
	comp := w.comp
	w.comp = nil
	return comp.Close()
}
