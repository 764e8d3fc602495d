package chrome

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stleox/chrometrace/pkg/span"
	"io"
	"sort"
)

var (
	arrayOpen = []byte("[\n")
	eventSep  = []byte(",\n")
)

// pendingEvent is a serialised event waiting for the global sort.
type pendingEvent struct {
	ns   uint64 // raw timestamp, finer than ts
	text []byte
}

// Converter turns a span record stream into Chrome Trace Event JSON.
//
// Every event is buffered before the sort, so memory grows with the number
// of records. A min-heap fed by lookahead would bound it if unbounded logs
// ever matter.
type Converter struct {
	numRecords int
	numEvents  int

	bufEvent []pendingEvent
}

func NewConverter() *Converter {
	return &Converter{}
}

// Records returns how many span records the last Convert consumed.
func (c *Converter) Records() int { return c.numRecords }

// Events returns how many events the last Convert wrote.
func (c *Converter) Events() int { return c.numEvents }

// Convert reads dec to the end and writes the trace to w.
//
// The opening line is written first. On a decode error the buffered events
// are dropped, so w only holds that line; the error is returned.
// The array is left unterminated and every event, the last included, is
// followed by a comma. Trace viewers accept this.
func (c *Converter) Convert(dec span.Decoder, w io.Writer) error {
	c.numRecords, c.numEvents = 0, 0
	c.bufEvent = c.bufEvent[:0]
	defer func() {
		c.bufEvent = nil
	}()

	if _, err := w.Write(arrayOpen); err != nil {
		return errors.Wrap(err, "writing trace header")
	}

	for {
		rec, err := dec.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrapf(err, "after %d records", c.numRecords)
		}
		if err := c.consume(rec); err != nil {
			return errors.Wrapf(err, "record #%d", c.numRecords)
		}
		c.numRecords++
	}
	logrus.Debugf("collected %d records, %d events", c.numRecords, len(c.bufEvent))

	// 稳定排序：同一时间戳保持输入顺序，同一记录 B 在 E 之前
	sort.SliceStable(c.bufEvent, func(i, j int) bool {
		return c.bufEvent[i].ns < c.bufEvent[j].ns
	})

	for _, e := range c.bufEvent {
		if _, err := w.Write(e.text); err != nil {
			return errors.Wrap(err, "writing trace event")
		}
		if _, err := w.Write(eventSep); err != nil {
			return errors.Wrap(err, "writing trace event")
		}
		c.numEvents++
	}
	return nil
}

func (c *Converter) consume(rec span.Record) error {
	name, err := rec.GetName()
	if err != nil {
		return errors.Wrap(err, "reading name")
	}
	annotations, err := rec.GetAnnotations()
	if err != nil {
		return errors.Wrap(err, "reading annotations")
	}

	start, end := rec.GetStart(), rec.GetEnd()
	begin, finish := Pair(name, start, end, annotations)

	beginText, err := json.Marshal(&begin)
	if err != nil {
		return errors.Wrap(err, "serializing begin event")
	}
	endText, err := json.Marshal(&finish)
	if err != nil {
		return errors.Wrap(err, "serializing end event")
	}

	c.bufEvent = append(c.bufEvent,
		pendingEvent{ns: start, text: beginText},
		pendingEvent{ns: end, text: endText})
	return nil
}

// Convert decodes the span log in r and writes the trace to w.
func Convert(r io.Reader, w io.Writer, opts ...span.ReaderOption) error {
	dec := span.NewReader(r, opts...)
	defer func() {
		if err := dec.Close(); err != nil {
			logrus.WithError(err).Warn("couldn't release span reader")
		}
	}()
	return NewConverter().Convert(dec, w)
}
