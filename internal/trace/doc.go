// Package trace records what the address lowering tool does while it runs.
//
// Events are emitted at four scopes, from coarse to fine: driver (a whole
// module), pass (one phase such as allocate or rewrite), func (one
// function) and value (one storage decision). A Level selects how fine the
// recorded events get:
//
//	off     nothing
//	error   nothing streamed; ring buffers survive for crash dumps
//	phase   driver and pass spans
//	detail  adds function spans
//	debug   adds per-value decisions
//
// Events go to a StreamTracer (text or NDJSON, written immediately), a
// RingTracer (last N events in memory) or both through a MultiTracer. Nop
// discards everything and is what FromContext returns when no tracer was
// attached.
//
// The tracer and the enclosing span travel in a context.Context:
//
//	ctx = trace.WithTracer(ctx, tracer)
//	span := trace.Begin(trace.FromContext(ctx), trace.ScopeFunc, "lower:"+f.Name, trace.CurrentSpan(ctx).SpanID)
//	defer span.End("")
//
// From the command line:
//
//	addrlower lower --trace=- --trace-level=detail module.air
package trace
