package trace

import (
	"bytes"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"
)

var (
	seqCounter  atomic.Uint64
	spanCounter atomic.Uint64
)

// NextSeq returns the next global event sequence number.
func NextSeq() uint64 { return seqCounter.Add(1) }

// NextSpanID returns a fresh span ID; zero is never returned.
func NextSpanID() uint64 { return spanCounter.Add(1) }

var goroutinePrefix = []byte("goroutine ")

// goroutineID parses the current goroutine's ID from its stack header,
// "goroutine N [running]:". It returns zero when the header is unexpected.
func goroutineID() uint64 {
	var buf [64]byte
	hdr := buf[:runtime.Stack(buf[:], false)]
	hdr, ok := bytes.CutPrefix(hdr, goroutinePrefix)
	if !ok {
		return 0
	}
	if end := bytes.IndexByte(hdr, ' '); end >= 0 {
		hdr = hdr[:end]
	}
	gid, err := strconv.ParseUint(string(hdr), 10, 64)
	if err != nil {
		return 0
	}
	return gid
}

// Span is an open begin event. The zero Span and spans created for
// disabled scopes are inert.
type Span struct {
	tracer  Tracer
	ev      Event
	started time.Time
}

// Begin emits a span-begin event under parent and returns the span.
func Begin(t Tracer, scope Scope, name string, parent uint64) *Span {
	if t == nil || !t.Enabled() || !t.Level().ShouldEmit(scope) {
		return &Span{}
	}
	now := time.Now()
	s := &Span{
		tracer:  t,
		started: now,
		ev: Event{
			Scope:    scope,
			SpanID:   NextSpanID(),
			ParentID: parent,
			GID:      goroutineID(),
			Name:     name,
		},
	}
	begin := s.ev
	begin.Time = now
	begin.Kind = KindSpanBegin
	t.Emit(&begin)
	return s
}

// End emits the matching end event and returns the span's duration.
func (s *Span) End(detail string) time.Duration {
	if s == nil || s.tracer == nil {
		return 0
	}
	dur := time.Since(s.started)
	end := s.ev
	end.Time = time.Now()
	end.Kind = KindSpanEnd
	end.Detail = detail
	s.tracer.Emit(&end)
	return dur
}

// WithExtra attaches a key-value pair to the end event.
func (s *Span) WithExtra(key, value string) *Span {
	if s == nil || s.tracer == nil {
		return s
	}
	if s.ev.Extra == nil {
		s.ev.Extra = make(map[string]string)
	}
	s.ev.Extra[key] = value
	return s
}

// ID returns the span ID, zero for inert spans.
func (s *Span) ID() uint64 {
	if s == nil {
		return 0
	}
	return s.ev.SpanID
}

// Point emits an instant event under parent.
func Point(t Tracer, scope Scope, name string, parent uint64, detail string) {
	if t == nil || !t.Enabled() || !t.Level().ShouldEmit(scope) {
		return
	}
	t.Emit(&Event{
		Time:     time.Now(),
		Kind:     KindPoint,
		Scope:    scope,
		ParentID: parent,
		GID:      goroutineID(),
		Name:     name,
		Detail:   detail,
	})
}
