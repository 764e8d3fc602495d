package span

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
	"unicode/utf8"
)

// Field numbers of the Span message.
const (
	fieldName        protowire.Number = 1
	fieldStart       protowire.Number = 2
	fieldEnd         protowire.Number = 3
	fieldAnnotations protowire.Number = 4
)

// Field numbers of the embedded Annotation message.
const (
	fieldAnnotName  protowire.Number = 1
	fieldAnnotValue protowire.Number = 2
)

var errInvalidText = errors.New("text is not valid UTF-8")

type rawAnnotation struct {
	name  []byte
	value []byte
}

// wireRecord is a structurally decoded Span message. Text stays raw until an
// accessor asks for it.
type wireRecord struct {
	name        []byte
	start       uint64
	end         uint64
	annotations []rawAnnotation
}

func (w *wireRecord) GetName() (string, error) {
	if !utf8.Valid(w.name) {
		return "", errors.Wrap(errInvalidText, "span name")
	}
	return string(w.name), nil
}

func (w *wireRecord) GetStart() uint64 { return w.start }

func (w *wireRecord) GetEnd() uint64 { return w.end }

func (w *wireRecord) GetAnnotations() ([]Annotation, error) {
	ret := make([]Annotation, 0, len(w.annotations))
	for i, a := range w.annotations {
		if !utf8.Valid(a.name) {
			return nil, errors.Wrapf(errInvalidText, "annotation #%d name", i)
		}
		if !utf8.Valid(a.value) {
			return nil, errors.Wrapf(errInvalidText, "annotation #%d value", i)
		}
		ret = append(ret, Annotation{Name: string(a.name), Value: string(a.value)})
	}
	return ret, nil
}

// appendRecord encodes rec as a Span message.
func appendRecord(b []byte, rec Record) ([]byte, error) {
	name, err := rec.GetName()
	if err != nil {
		return nil, err
	}
	annotations, err := rec.GetAnnotations()
	if err != nil {
		return nil, err
	}

	b = protowire.AppendTag(b, fieldName, protowire.BytesType)
	b = protowire.AppendString(b, name)
	b = protowire.AppendTag(b, fieldStart, protowire.VarintType)
	b = protowire.AppendVarint(b, rec.GetStart())
	b = protowire.AppendTag(b, fieldEnd, protowire.VarintType)
	b = protowire.AppendVarint(b, rec.GetEnd())

	var inner []byte
	for _, a := range annotations {
		inner = inner[:0]
		inner = protowire.AppendTag(inner, fieldAnnotName, protowire.BytesType)
		inner = protowire.AppendString(inner, a.Name)
		inner = protowire.AppendTag(inner, fieldAnnotValue, protowire.BytesType)
		inner = protowire.AppendString(inner, a.Value)

		b = protowire.AppendTag(b, fieldAnnotations, protowire.BytesType)
		b = protowire.AppendBytes(b, inner)
	}
	return b, nil
}

// parseRecord decodes a Span message. The returned record aliases b.
func parseRecord(b []byte) (*wireRecord, error) {
	rec := &wireRecord{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, errors.Wrap(protowire.ParseError(n), "span tag")
		}
		b = b[n:]

		switch {
		case num == fieldName && typ == protowire.BytesType:
			rec.name, n = protowire.ConsumeBytes(b)
		case num == fieldStart && typ == protowire.VarintType:
			rec.start, n = protowire.ConsumeVarint(b)
		case num == fieldEnd && typ == protowire.VarintType:
			rec.end, n = protowire.ConsumeVarint(b)
		case num == fieldAnnotations && typ == protowire.BytesType:
			var v []byte
			v, n = protowire.ConsumeBytes(b)
			if n >= 0 {
				a, err := parseAnnotation(v)
				if err != nil {
					return nil, err
				}
				rec.annotations = append(rec.annotations, a)
			}
		default:
			// unknown field
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return nil, errors.Wrapf(protowire.ParseError(n), "span field %d", num)
		}
		b = b[n:]
	}
	return rec, nil
}

func parseAnnotation(b []byte) (rawAnnotation, error) {
	var a rawAnnotation
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return a, errors.Wrap(protowire.ParseError(n), "annotation tag")
		}
		b = b[n:]

		switch {
		case num == fieldAnnotName && typ == protowire.BytesType:
			a.name, n = protowire.ConsumeBytes(b)
		case num == fieldAnnotValue && typ == protowire.BytesType:
			a.value, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return a, errors.Wrapf(protowire.ParseError(n), "annotation field %d", num)
		}
		b = b[n:]
	}
	return a, nil
}
