// Package lower implements address lowering: every value of opaque type
// is given explicit stack or caller-provided storage, and each
// instruction defining or using such a value is rewritten to operate on
// addresses.
package lower

import (
	"context"
	"fmt"

	"addrlower/internal/ir"
	"addrlower/internal/trace"
	"addrlower/internal/types"
)

// Stats summarizes the storage decisions made for one function.
type Stats struct {
	Values            int // opaque values collected
	FreshAllocs       int
	DefProjections    int
	UseProjections    int
	PhiCoalesced      int
	EdgeMoves         int
	SwapTemps         int
	DeadAllocsRemoved int
	// Invalidated reports that dominance information and instruction
	// identities computed before lowering are stale.
	Invalidated bool
}

// Add accumulates o into st.
func (st *Stats) Add(o Stats) {
	st.Values += o.Values
	st.FreshAllocs += o.FreshAllocs
	st.DefProjections += o.DefProjections
	st.UseProjections += o.UseProjections
	st.PhiCoalesced += o.PhiCoalesced
	st.EdgeMoves += o.EdgeMoves
	st.SwapTemps += o.SwapTemps
	st.DeadAllocsRemoved += o.DeadAllocsRemoved
	st.Invalidated = st.Invalidated || o.Invalidated
}

func (st Stats) String() string {
	return fmt.Sprintf("values=%d allocs=%d def-proj=%d use-proj=%d coalesced=%d moves=%d swaps=%d dead=%d",
		st.Values, st.FreshAllocs, st.DefProjections, st.UseProjections,
		st.PhiCoalesced, st.EdgeMoves, st.SwapTemps, st.DeadAllocsRemoved)
}

// state is owned by a single Run invocation.
type state struct {
	f      *ir.Func
	ti     *types.Interner
	dom    *ir.DomTree
	tracer trace.Tracer
	span   uint64

	table *Table
	phis  map[ir.ValueID]bool

	// indirect call sites in collection order; pending drops a site
	// once its results are rewritten
	applies   []ir.InstrID
	pending   map[ir.InstrID]bool
	outParams []ir.ValueID
	phiMoves  map[ir.InstrID]bool

	// values placed in each out parameter, keyed by out ordinal and then
	// by the ordinal of the returned value that contains them
	outClaims map[int]map[int][]ir.ValueID

	stats Stats
}

// Run lowers f in place. dom may be nil, in which case dominators are
// computed here. Internal invariant violations are returned as
// *InvariantError; f is left partially rewritten in that case.
func Run(ctx context.Context, f *ir.Func, ti *types.Interner, dom *ir.DomTree) (stats Stats, err error) {
	if f.Lowered {
		return Stats{}, nil
	}
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}
	if n := f.RemoveUnreachable(); n > 0 || dom == nil {
		dom = ir.ComputeDominators(f)
	}
	s := newState(f, ti, dom, trace.FromContext(ctx))
	span := trace.Begin(s.tracer, trace.ScopeFunc, "lower:"+f.Name, trace.CurrentSpan(ctx).SpanID)
	s.span = span.ID()
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		ie, ok := r.(*InvariantError)
		if !ok {
			panic(r)
		}
		span.End("failed: " + ie.Kind.String())
		err = ie
	}()

	s.phase("prepare", s.prepare)
	s.phase("collect", s.collect)
	if s.table.Len() > 0 || len(s.applies) > 0 || len(s.outParams) > 0 {
		s.phase("allocate", s.allocate)
		s.phase("rewrite", s.rewrite)
		s.phase("cleanup", s.cleanup)
	}

	f.Lowered = true
	s.stats.Invalidated = true
	span.End(s.stats.String())
	return s.stats, nil
}

func newState(f *ir.Func, ti *types.Interner, dom *ir.DomTree, tracer trace.Tracer) *state {
	return &state{
		f:         f,
		ti:        ti,
		dom:       dom,
		tracer:    tracer,
		table:     NewTable(),
		phis:      make(map[ir.ValueID]bool),
		pending:   make(map[ir.InstrID]bool),
		phiMoves:  make(map[ir.InstrID]bool),
		outClaims: make(map[int]map[int][]ir.ValueID),
	}
}

func (s *state) phase(name string, fn func()) {
	span := trace.Begin(s.tracer, trace.ScopePass, name, s.span)
	fn()
	span.End("")
}

// note emits a per-value decision at debug level.
func (s *state) note(name string, v ir.ValueID, format string, args ...any) {
	if !s.tracer.Enabled() {
		return
	}
	trace.Point(s.tracer, trace.ScopeValue, name, s.span, fmt.Sprintf("%%%d: ", v)+fmt.Sprintf(format, args...))
}

func (s *state) typeOf(v ir.ValueID) types.TypeID {
	return s.f.Values[v].Type
}

// isOpaqueObject reports whether v is an opaque value that needs storage.
func (s *state) isOpaqueObject(v ir.ValueID) bool {
	ty := s.typeOf(v)
	return !s.ti.IsAddress(ty) && s.ti.IsOpaque(ty)
}

// storage returns the entry of v or aborts.
func (s *state) storage(v ir.ValueID) *Storage {
	st := s.table.Lookup(v)
	if st == nil {
		s.fatal(ErrUnresolvedAddress, v, nil, "value has no storage")
	}
	return st
}

func (s *state) ordinal(v ir.ValueID) int {
	ord, ok := s.table.Ordinal(v)
	if !ok {
		s.fatal(ErrUnresolvedAddress, v, nil, "value has no storage")
	}
	return ord
}

func (s *state) markRewritten(v, addr ir.ValueID) {
	st := s.storage(v)
	st.Addr = addr
	st.Rewritten = true
}

func (s *state) loadQual(ty types.TypeID) ir.LoadQual {
	if s.ti.IsTrivial(ty) {
		return ir.LoadTrivial
	}
	return ir.LoadTake
}

func (s *state) storeQual(ty types.TypeID, q ir.StoreQual) ir.StoreQual {
	if s.ti.IsTrivial(ty) {
		return ir.StoreTrivial
	}
	return q
}

func (s *state) before(inst ir.InstrID) *ir.Builder {
	return ir.BuilderBefore(s.f, s.ti, inst)
}

func (s *state) after(inst ir.InstrID) *ir.Builder {
	return ir.BuilderAfter(s.f, s.ti, inst)
}
