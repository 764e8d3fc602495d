package exporter

import (
	"context"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stleox/chrometrace/pkg/span"
	attr "go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktr "go.opentelemetry.io/otel/sdk/trace"
	"io"
	"sync"
)

// SpanLogExporter records finished OpenTelemetry spans as span log records.
// It is safe for concurrent use.
type SpanLogExporter struct {
	mu      sync.Mutex
	w       *span.Writer
	numSpan uint64
	stopped bool
}

var _ sdktr.SpanExporter = (*SpanLogExporter)(nil)

func New(w *span.Writer) *SpanLogExporter {
	return &SpanLogExporter{w: w}
}

// ExportSpans writes spans in the order given. Spans exported after Shutdown
// are dropped.
func (e *SpanLogExporter) ExportSpans(ctx context.Context, spans []sdktr.ReadOnlySpan) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return nil
	}

	for _, s := range spans {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.w.Write(Record(s)); err != nil {
			return errors.Wrapf(err, "exporting span %q", s.Name())
		}
		e.numSpan++
	}
	return nil
}

// Shutdown flushes the record writer even when ctx is done. The sink itself
// is left open.
func (e *SpanLogExporter) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return nil
	}
	e.stopped = true
	logrus.Debugf("span log exporter recorded %d spans", e.numSpan)

	// the flush is local, a done ctx must not leave the stream unterminated
	if err := e.w.Close(); err != nil {
		return errors.Wrap(err, "closing span log")
	}
	return ctx.Err()
}

// Count returns the number of spans recorded so far.
func (e *SpanLogExporter) Count() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.numSpan
}

// Record converts a finished span. Attributes become annotations in order,
// rendered with Value.Emit.
func Record(s sdktr.ReadOnlySpan) *span.Span {
	attrs := s.Attributes()
	ret := &span.Span{
		Name:        s.Name(),
		Start:       unixNano(s.StartTime().UnixNano()),
		End:         unixNano(s.EndTime().UnixNano()),
		Annotations: make([]span.Annotation, 0, len(attrs)),
	}
	for _, kv := range attrs {
		ret.Annotations = append(ret.Annotations, span.Annotation{
			Name:  string(kv.Key),
			Value: kv.Value.Emit(),
		})
	}
	return ret
}

func unixNano(ns int64) uint64 {
	if ns < 0 {
		return 0
	}
	return uint64(ns)
}

// NewTracerProvider returns a provider recording every span synchronously
// into exp. When echo is not nil, spans are also pretty printed to it.
func NewTracerProvider(exp *SpanLogExporter, echo io.Writer) (*sdktr.TracerProvider, error) {
	opts := []sdktr.TracerProviderOption{
		sdktr.WithSyncer(exp),
		sdktr.WithResource(resource.NewSchemaless(attr.String("service.name", "chrometrace"))),
	}
	if echo != nil {
		stdout, err := stdouttrace.New(stdouttrace.WithWriter(echo), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, errors.Wrap(err, "creating stdout exporter")
		}
		opts = append(opts, sdktr.WithSyncer(stdout))
	}
	return sdktr.NewTracerProvider(opts...), nil
}
