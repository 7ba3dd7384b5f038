package lower

import (
	"slices"

	"addrlower/internal/ir"
)

// prepare rewrites the function's own signature: indirect parameters
// become addresses read by a load at entry, and every indirect result
// gets an address parameter in front of the formal parameters.
func (s *state) prepare() {
	f := s.f
	entry := f.Entry
	anchor := ir.NoInstrID
	if instrs := f.Blocks[entry].Instrs; len(instrs) > 0 {
		anchor = instrs[0]
	}
	bd := ir.NewBuilder(f, s.ti, entry)
	if anchor != ir.NoInstrID {
		bd = ir.BuilderBefore(f, s.ti, anchor)
	}

	params := slices.Clone(f.Params())
	for i, p := range f.Sig.Params {
		if !p.Conv.Indirect() {
			continue
		}
		s.prepareIndirectParam(bd, params[i], p.Conv.Guaranteed())
	}

	for i, r := range f.Sig.Results {
		if !r.Indirect {
			continue
		}
		k := f.Sig.IndirectResultIndex(i)
		out := f.InsertBlockParam(entry, k, s.ti.AddressOf(r.Type), ir.OwnNone)
		f.Values[out].Name = "out"
		s.outParams = append(s.outParams, out)
		st := s.table.At(s.table.Insert(out))
		st.Addr = out
		st.Rewritten = true
	}
}

func (s *state) prepareIndirectParam(bd *ir.Builder, param ir.ValueID, guaranteed bool) {
	f := s.f
	val := f.Values[param]
	ty := val.Type
	uses := slices.Clone(val.Uses)
	val.Type = s.ti.AddressOf(ty)
	val.Own = ir.OwnNone

	var loaded ir.ValueID
	switch {
	case s.ti.IsTrivial(ty):
		loaded = bd.Load(param, ir.LoadTrivial)
	case guaranteed:
		loaded = bd.LoadBorrow(param)
		for _, b := range f.ExitBlocks() {
			ir.BuilderBefore(f, s.ti, f.Terminator(b).ID).EndBorrow(loaded)
		}
	default:
		loaded = bd.Load(param, ir.LoadTake)
	}
	for _, u := range uses {
		f.SetOperand(u.Instr, u.Index, loaded)
	}
	if s.ti.IsOpaque(ty) {
		st := s.table.At(s.table.Insert(loaded))
		st.Addr = param
		st.Rewritten = true
	}
}

// collect records every opaque value in reverse postorder together with
// the call sites that need rewriting even when they produce none.
func (s *state) collect() {
	f := s.f
	for _, b := range f.RPO() {
		blk := f.Blocks[b]
		if b != f.Entry {
			for _, p := range blk.Params {
				if !s.isOpaqueObject(p) {
					continue
				}
				s.table.Insert(p)
				if f.IsPhi(p) {
					s.phis[p] = true
				}
			}
		}
		for _, id := range blk.Instrs {
			in := f.Instrs[id]
			for _, r := range in.Results {
				if s.isOpaqueObject(r) {
					s.table.Insert(r)
				}
			}
			if in.Op == ir.OpApply && !in.AddrForm && in.Sig.HasIndirect() {
				s.applies = append(s.applies, id)
				s.pending[id] = true
			}
		}
	}
	s.stats.Values = s.table.Len()
}
