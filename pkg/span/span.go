package span

// Annotation is a free-form key/value pair attached to a span.
type Annotation struct {
	Name  string
	Value string
}

// Record is one decoded span. Text accessors may fail when the embedded text
// is malformed; such failures are terminal for the stream.
type Record interface {
	GetName() (string, error)
	GetStart() uint64
	GetEnd() uint64
	GetAnnotations() ([]Annotation, error)
}

// Decoder yields records in the order they were written. Next returns io.EOF
// once the stream ends cleanly; any other error is terminal.
type Decoder interface {
	Next() (Record, error)
}

// Span is an in-memory Record.
type Span struct {
	Name        string
	Start       uint64 // ns
	End         uint64 // ns
	Annotations []Annotation
}

func (s *Span) GetName() (string, error) { return s.Name, nil }

func (s *Span) GetStart() uint64 { return s.Start }

func (s *Span) GetEnd() uint64 { return s.End }

func (s *Span) GetAnnotations() ([]Annotation, error) { return s.Annotations, nil }
