package chrome

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/stleox/chrometrace/pkg/config"
	"github.com/stleox/chrometrace/pkg/span"
	"strconv"
)

// Phase markers of the Chrome Trace Event format.
const (
	PhaseBegin = "B"
	PhaseEnd   = "E"
)

// Map keys are sorted so that args come out in a stable order; HTML
// characters are left as is.
var json = jsoniter.Config{
	SortMapKeys:            true,
	EscapeHTML:             false,
	ValidateJsonRawMessage: true,
}.Froze()

// TraceEvent is one Chrome Trace Event. Field order is the output order.
type TraceEvent struct {
	Name string            `json:"name"`
	Cat  string            `json:"cat"`
	Ph   string            `json:"ph"`
	Ts   uint64            `json:"ts"` // µs
	Pid  uint64            `json:"pid"`
	Tid  uint64            `json:"tid"`
	Args map[string]string `json:"args"`
}

// AnnotationMap folds an annotation list into a map; later keys win.
func AnnotationMap(annotations []span.Annotation) map[string]string {
	ret := make(map[string]string, len(annotations))
	for _, a := range annotations {
		ret[a.Name] = a.Value
	}
	return ret
}

// Category returns the "categories" annotation, or "all".
func Category(args map[string]string) string {
	if cat, ok := args[config.KeyCategories]; ok {
		return cat
	}
	return config.DefaultCategory
}

// Tid parses the "tid" annotation as an unsigned decimal with an optional
// leading '+'. Missing and unparseable values both give 0.
func Tid(args map[string]string) uint64 {
	raw := args[config.KeyTid]
	if len(raw) > 1 && raw[0] == '+' {
		raw = raw[1:]
	}
	tid, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return config.DefaultTid
	}
	return tid
}

// NanosToMicros truncates.
func NanosToMicros(ns uint64) uint64 {
	return ns / 1000
}

// Pair builds the begin and end events of one span record.
func Pair(name string, start, end uint64, annotations []span.Annotation) (begin, finish TraceEvent) {
	args := AnnotationMap(annotations)
	begin = TraceEvent{
		Name: name,
		Cat:  Category(args),
		Ph:   PhaseBegin,
		Ts:   NanosToMicros(start),
		Pid:  0,
		Tid:  Tid(args),
		Args: args,
	}
	finish = begin
	finish.Ph = PhaseEnd
	finish.Ts = NanosToMicros(end)
	return begin, finish
}
