package chrome

import (
	"bytes"
	"errors"
	"github.com/stleox/chrometrace/pkg/span"
	r "github.com/stretchr/testify/require"
	"io"
	"strings"
	"testing"
)

func TestConverter_Convert_Load(t *testing.T) {
	dec := mockDecoder(mockSpan("load", 1_000_000, 3_000_000, "categories", "io", "tid", "4"))

	var out bytes.Buffer
	err := NewConverter().Convert(dec, &out)
	r.NoError(t, err)

	want := "[\n" +
		`{"name":"load","cat":"io","ph":"B","ts":1000,"pid":0,"tid":4,"args":{"categories":"io","tid":"4"}},` + "\n" +
		`{"name":"load","cat":"io","ph":"E","ts":3000,"pid":0,"tid":4,"args":{"categories":"io","tid":"4"}},` + "\n"
	r.Equal(t, want, out.String())
}

func TestConverter_Convert_Empty(t *testing.T) {
	c := NewConverter()
	var out bytes.Buffer
	r.NoError(t, c.Convert(mockDecoder(), &out))
	r.Equal(t, "[\n", out.String())
	r.Equal(t, 0, c.Records())
	r.Equal(t, 0, c.Events())
}

func TestConverter_Convert_Cardinality(t *testing.T) {
	spans := make([]*span.Span, 0)
	for i := uint64(0); i < 50; i++ {
		spans = append(spans, mockSpan("s", i*1000, i*1000+500))
	}

	c := NewConverter()
	var out bytes.Buffer
	r.NoError(t, c.Convert(mockDecoder(spans...), &out))

	events := parseOutput(t, out.String())
	r.Len(t, events, 100)
	r.Equal(t, 50, c.Records())
	r.Equal(t, 100, c.Events())
}

func TestConverter_Convert_Pairing(t *testing.T) {
	dec := mockDecoder(
		mockSpan("a", 0, 9_000, "categories", "cpu", "tid", "2", "k", "v"),
		mockSpan("b", 1_000, 2_000, "tid", "3"),
	)
	var out bytes.Buffer
	r.NoError(t, NewConverter().Convert(dec, &out))

	byName := make(map[string][]TraceEvent)
	for _, e := range parseOutput(t, out.String()) {
		byName[e.Name] = append(byName[e.Name], e)
	}
	for name, pair := range byName {
		r.Len(t, pair, 2, name)
		begin, end := pair[0], pair[1]
		r.Equal(t, PhaseBegin, begin.Ph)
		r.Equal(t, PhaseEnd, end.Ph)
		r.Equal(t, begin.Cat, end.Cat)
		r.Equal(t, begin.Tid, end.Tid)
		r.Equal(t, begin.Pid, end.Pid)
		r.Equal(t, begin.Args, end.Args)
	}
	r.Equal(t, "cpu", byName["a"][0].Cat)
	r.Equal(t, uint64(3), byName["b"][0].Tid)
}

func TestConverter_Convert_Truncation(t *testing.T) {
	dec := mockDecoder(mockSpan("t", 1_500_999, 1_999))
	var out bytes.Buffer
	r.NoError(t, NewConverter().Convert(dec, &out))

	events := parseOutput(t, out.String())
	r.Len(t, events, 2)
	// end < start is passed through untouched
	r.Equal(t, uint64(1), events[0].Ts)
	r.Equal(t, PhaseEnd, events[0].Ph)
	r.Equal(t, uint64(1500), events[1].Ts)
	r.Equal(t, PhaseBegin, events[1].Ph)
}

func TestConverter_Convert_Defaults(t *testing.T) {
	dec := mockDecoder(
		mockSpan("none", 0, 1),
		mockSpan("bad-tid", 2, 3, "tid", "main"),
		mockSpan("neg-tid", 4, 5, "tid", "-1"),
	)
	var out bytes.Buffer
	r.NoError(t, NewConverter().Convert(dec, &out))

	for _, e := range parseOutput(t, out.String()) {
		r.Equal(t, "all", e.Cat, e.Name)
		r.Equal(t, uint64(0), e.Tid, e.Name)
		r.Equal(t, uint64(0), e.Pid, e.Name)
	}
}

func TestConverter_Convert_SignedTid(t *testing.T) {
	dec := mockDecoder(
		mockSpan("plus", 0, 1, "tid", "+4"),
		mockSpan("lone-plus", 2, 3, "tid", "+"),
		mockSpan("double-plus", 4, 5, "tid", "++4"),
	)
	var out bytes.Buffer
	r.NoError(t, NewConverter().Convert(dec, &out))

	tids := make(map[string]uint64)
	for _, e := range parseOutput(t, out.String()) {
		tids[e.Name] = e.Tid
	}
	r.Equal(t, map[string]uint64{"plus": 4, "lone-plus": 0, "double-plus": 0}, tids)

	// Tid itself accepts the sign
	r.Equal(t, uint64(4), Tid(map[string]string{"tid": "+4"}))
}

func TestConverter_Convert_KeyCollision(t *testing.T) {
	dec := mockDecoder(mockSpan("dup", 0, 1000,
		"tid", "1", "categories", "x", "tid", "7", "categories", "y"))
	var out bytes.Buffer
	r.NoError(t, NewConverter().Convert(dec, &out))

	events := parseOutput(t, out.String())
	r.Len(t, events, 2)
	r.Equal(t, uint64(7), events[0].Tid)
	r.Equal(t, "y", events[0].Cat)
	r.Equal(t, map[string]string{"tid": "7", "categories": "y"}, events[0].Args)
}

func TestConverter_Convert_GlobalOrder(t *testing.T) {
	// outer [1000, 5000], inner [2000, 3000], twin [2000, 3000], tail [5000, 5000]
	dec := mockDecoder(
		mockSpan("outer", 1_000_000, 5_000_000),
		mockSpan("inner", 2_000_000, 3_000_000),
		mockSpan("twin", 2_000_000, 3_000_000),
		mockSpan("tail", 5_000_000, 5_000_000),
	)
	var out bytes.Buffer
	r.NoError(t, NewConverter().Convert(dec, &out))

	got := make([]string, 0)
	var last uint64
	for _, e := range parseOutput(t, out.String()) {
		r.GreaterOrEqual(t, e.Ts, last)
		last = e.Ts
		got = append(got, e.Name+"/"+e.Ph)
	}
	r.Equal(t, []string{
		"outer/B",
		"inner/B", "twin/B",
		"inner/E", "twin/E",
		"outer/E", "tail/B", "tail/E",
	}, got)
}

func TestConverter_Convert_SameMicroDifferentNanos(t *testing.T) {
	// ordering uses raw ns, so the later record may come first within one µs
	dec := mockDecoder(
		mockSpan("late", 1_900, 10_000),
		mockSpan("early", 1_100, 10_000),
	)
	var out bytes.Buffer
	r.NoError(t, NewConverter().Convert(dec, &out))

	events := parseOutput(t, out.String())
	r.Equal(t, "early", events[0].Name)
	r.Equal(t, "late", events[1].Name)
	r.Equal(t, events[0].Ts, events[1].Ts)
}

func TestConverter_Convert_AbortOnMalformed(t *testing.T) {
	bad := errors.New("malformed record")
	dec := mockDecoder(mockSpan("a", 0, 1000), mockSpan("b", 1000, 2000))
	dec.err = bad

	c := NewConverter()
	var out bytes.Buffer
	err := c.Convert(dec, &out)
	r.ErrorIs(t, err, bad)
	r.Contains(t, err.Error(), "after 2 records")

	// buffered events are dropped, only the opening line stays
	r.Equal(t, "[\n", out.String())
	r.Equal(t, 0, c.Events())
}

func TestConverter_Convert_AccessorFailure(t *testing.T) {
	bad := errors.New("bad text")
	dec := mockDecoder(mockSpan("a", 0, 1000))
	dec.records = append(dec.records, &brokenRecord{err: bad})

	var out bytes.Buffer
	err := NewConverter().Convert(dec, &out)
	r.ErrorIs(t, err, bad)
	r.Contains(t, err.Error(), "record #1")
	r.Equal(t, "[\n", out.String())
}

func TestConverter_Convert_WriteFailure(t *testing.T) {
	err := NewConverter().Convert(mockDecoder(mockSpan("a", 0, 1)), &failingWriter{after: 1})
	r.ErrorIs(t, err, errSink)
	r.Contains(t, err.Error(), "writing trace event")
}

func TestConvert_SpanLog(t *testing.T) {
	var log bytes.Buffer
	w, err := span.NewWriter(&log, span.CompressionZstd)
	r.NoError(t, err)
	r.NoError(t, w.Write(mockSpan("load", 1_000_000, 3_000_000, "categories", "io", "tid", "4")))
	r.NoError(t, w.Close())

	var out bytes.Buffer
	r.NoError(t, Convert(&log, &out))
	r.True(t, strings.HasPrefix(out.String(), "[\n{\"name\":\"load\",\"cat\":\"io\",\"ph\":\"B\",\"ts\":1000,"))
	r.Len(t, parseOutput(t, out.String()), 2)
}

func TestConvert_TruncatedLog(t *testing.T) {
	var log bytes.Buffer
	w, err := span.NewWriter(&log, span.CompressionNone)
	r.NoError(t, err)
	r.NoError(t, w.Write(mockSpan("a", 0, 1000)))
	r.NoError(t, w.Write(mockSpan("b", 0, 1000)))
	r.NoError(t, w.Close())
	data := log.Bytes()

	var out bytes.Buffer
	err = Convert(bytes.NewReader(data[:len(data)-1]), &out)
	r.ErrorIs(t, err, io.ErrUnexpectedEOF)
	r.Equal(t, "[\n", out.String())
}

func TestEvent_HTMLNotEscaped(t *testing.T) {
	begin, _ := Pair("<a&b>", 0, 0, nil)
	text, err := json.Marshal(&begin)
	r.NoError(t, err)
	r.Equal(t, `{"name":"<a&b>","cat":"all","ph":"B","ts":0,"pid":0,"tid":0,"args":{}}`, string(text))
}

//mockers

type fakeDecoder struct {
	records []span.Record
	err     error // returned once records run out, io.EOF when nil
}

func (d *fakeDecoder) Next() (span.Record, error) {
	if len(d.records) == 0 {
		if d.err != nil {
			return nil, d.err
		}
		return nil, io.EOF
	}
	rec := d.records[0]
	d.records = d.records[1:]
	return rec, nil
}

func mockDecoder(spans ...*span.Span) *fakeDecoder {
	d := &fakeDecoder{}
	for _, s := range spans {
		d.records = append(d.records, s)
	}
	return d
}

// mockSpan takes annotations as alternating key, value.
func mockSpan(name string, start, end uint64, kv ...string) *span.Span {
	s := &span.Span{Name: name, Start: start, End: end}
	for i := 0; i+1 < len(kv); i += 2 {
		s.Annotations = append(s.Annotations, span.Annotation{Name: kv[i], Value: kv[i+1]})
	}
	return s
}

type brokenRecord struct {
	err error
}

func (b *brokenRecord) GetName() (string, error)                   { return "", b.err }
func (b *brokenRecord) GetStart() uint64                           { return 0 }
func (b *brokenRecord) GetEnd() uint64                             { return 0 }
func (b *brokenRecord) GetAnnotations() ([]span.Annotation, error) { return nil, b.err }

var errSink = errors.New("sink closed")

type failingWriter struct {
	after int
}

func (f *failingWriter) Write(p []byte) (int, error) {
	if f.after == 0 {
		return 0, errSink
	}
	f.after--
	return len(p), nil
}

// parseOutput closes the array the way a tolerant viewer would.
func parseOutput(t *testing.T, out string) []TraceEvent {
	r.True(t, strings.HasPrefix(out, "[\n"))
	body := strings.TrimSuffix(strings.TrimPrefix(out, "[\n"), ",\n")
	events := make([]TraceEvent, 0)
	if body == "" {
		return events
	}
	r.NoError(t, json.Unmarshal([]byte("["+body+"]"), &events))
	return events
}
