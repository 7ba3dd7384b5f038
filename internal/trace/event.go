package trace

import "time"

// Kind is the type of a trace event.
type Kind uint8

const (
	KindSpanBegin Kind = iota + 1
	KindSpanEnd
	KindPoint
	KindHeartbeat
)

var kindNames = [...]string{
	KindSpanBegin: "begin",
	KindSpanEnd:   "end",
	KindPoint:     "point",
	KindHeartbeat: "heartbeat",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return "unknown"
}

// Scope is the granularity of an event. Smaller scopes are coarser.
type Scope uint8

const (
	// ScopeDriver covers whole-module work: decoding, scheduling, writing.
	ScopeDriver Scope = iota + 1
	// ScopePass covers one phase of lowering a function.
	ScopePass
	// ScopeFunc covers lowering one function.
	ScopeFunc
	// ScopeValue covers the storage decision for one value.
	ScopeValue
)

var scopeNames = [...]string{
	ScopeDriver: "driver",
	ScopePass:   "pass",
	ScopeFunc:   "func",
	ScopeValue:  "value",
}

func (s Scope) String() string {
	if int(s) < len(scopeNames) && scopeNames[s] != "" {
		return scopeNames[s]
	}
	return "unknown"
}

// Event is a single trace record.
type Event struct {
	Time     time.Time
	Seq      uint64 // assigned by the tracer that stores the event
	Kind     Kind
	Scope    Scope
	SpanID   uint64
	ParentID uint64 // zero for roots
	GID      uint64 // goroutine that emitted the event
	Name     string // e.g. "lower-module:samples", "lower:merge", "allocate"
	Detail   string
	Extra    map[string]string
}
