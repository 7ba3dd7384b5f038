package lower

import (
	"slices"

	"addrlower/internal/ir"
)

// rewrite visits values in definition order. Each definition is
// rewritten before its uses so that every use finds its operand's
// address already in place.
func (s *state) rewrite() {
	s.table.SetStable()
	for ord := 0; ord < s.table.Len(); ord++ {
		st := s.table.At(ord)
		if !st.Rewritten {
			s.rewriteDef(st)
			st.Rewritten = true
		}
		v := st.Value
		if s.ti.IsAddress(s.typeOf(v)) {
			continue
		}
		for _, u := range slices.Clone(s.f.Values[v].Uses) {
			user := s.f.Instrs[u.Instr]
			if user.Deleted || u.Index >= len(user.Args) || user.Args[u.Index] != v {
				continue
			}
			s.rewriteUse(v, user, u.Index)
		}
	}

	for _, id := range s.applies {
		if s.pending[id] {
			s.rewriteIndirectApply(s.f.Instrs[id])
		}
	}
	s.rewriteReturns()
}

func (s *state) rewriteDef(st *Storage) {
	f := s.f
	v := st.Value
	if f.Values[v].Kind == ir.ValueParam {
		// a cast from a loadable source is rewritten when its result is
		// defined; opaque sources are handled as uses
		if term := f.TerminatorResult(v); term != nil && term.Op == ir.OpCheckedCastBr && !s.isOpaqueObject(term.Args[0]) {
			s.rewriteCheckedCastBr(term)
			return
		}
		s.materialize(ir.BuilderAtStart(f, s.ti, f.Values[v].Block), v)
		return
	}
	def := f.Def(v)
	if def == nil {
		s.fatal(ErrUnresolvedAddress, v, nil, "value has no definition")
	}
	bd := s.before(def.ID)
	switch def.Op {
	case ir.OpApply:
		s.rewriteCallArgs(def)
		s.rewriteApplyResults(def)
	case ir.OpEnum:
		if len(def.Args) > 0 {
			s.initializeComposingUse(bd, def, 0)
		}
		bd.InjectEnumAddr(s.materialize(bd, v), def.Field)
	case ir.OpInitExistential:
		s.initializeComposingUse(bd, def, 0)
		s.materialize(bd, v)
	case ir.OpStruct, ir.OpTuple:
		for i := range def.Args {
			s.initializeComposingUse(bd, def, i)
		}
		s.materialize(bd, v)
	case ir.OpLoad:
		addr := s.materialize(bd, v)
		if addr != def.Args[0] {
			bd.CopyAddr(def.Args[0], addr, def.Load == ir.LoadTake, true)
		}
	case ir.OpLoadBorrow:
		st.Addr = def.Args[0]
	case ir.OpUnconditionalCheckedCast:
		s.rewriteCastIntoOpaque(def)
	default:
		s.fatal(ErrUnsupported, v, def, "no address form for this definition")
	}
}
