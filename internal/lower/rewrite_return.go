package lower

import (
	"addrlower/internal/ir"
)

// rewriteReturns writes indirect results into their out parameters and
// leaves only direct results on each return.
func (s *state) rewriteReturns() {
	f := s.f
	if f.Sig.NumIndirectResults() == 0 {
		return
	}
	for _, b := range f.ExitBlocks() {
		ret := f.Terminator(b)
		pos := ret.ID
		for prev := f.Prev(pos); prev != ir.NoInstrID && f.Instrs[prev].Op == ir.OpDeallocStack; prev = f.Prev(prev) {
			pos = prev
		}
		bd := s.before(pos)
		direct := make([]ir.ValueID, 0, len(ret.Args))
		for i, r := range f.Sig.Results {
			v := ret.Args[i]
			if !r.Indirect {
				direct = append(direct, v)
				continue
			}
			out := s.outParams[f.Sig.IndirectResultIndex(i)]
			switch {
			case f.Values[v].Kind == ir.ValueUndef:
			case s.isOpaqueObject(v):
				if addr := s.materialize(bd, v); addr != out {
					bd.CopyAddr(addr, out, true, true)
				}
			default:
				bd.Store(v, out, s.storeQual(s.typeOf(v), ir.StoreInit))
			}
		}
		f.SetArgs(ret.ID, direct)
	}
}
