package lower

import (
	"addrlower/internal/ir"
	"addrlower/internal/types"
)

// rewriteUse rewrites user, whose operand idx is the opaque value v, to
// operate on v's address.
func (s *state) rewriteUse(v ir.ValueID, user *ir.Instr, idx int) {
	f := s.f
	addr := s.storage(v).Addr
	if addr == ir.NoValueID {
		s.fatal(ErrUnresolvedAddress, v, user, "operand was not rewritten before its use")
	}
	bd := s.before(user.ID)
	switch user.Op {
	case ir.OpApply:
		if user.AddrForm || !user.Sig.Params[idx].Conv.Indirect() {
			s.fatal(ErrUnsupported, v, user, "opaque argument for a direct parameter")
		}
		s.rewriteIndirectArgument(user, idx)

	case ir.OpBeginBorrow:
		s.markRewritten(user.Results[0], addr)
		if user.Lexical {
			s.markLexical(v)
		}

	case ir.OpEndBorrow:
		f.Erase(user.ID)

	case ir.OpBr:
		s.rewritePhiOperand(user, idx)
		f.SetOperand(user.ID, idx, f.Undef(s.typeOf(v)))

	case ir.OpCopyValue:
		cp := user.Results[0]
		dest := s.materialize(bd, cp)
		if dest != addr {
			bd.CopyAddr(addr, dest, false, true)
		}
		s.markRewritten(cp, dest)

	case ir.OpDebugValue:
		bd.DebugValueAddr(addr, user.Name)
		f.Erase(user.ID)

	case ir.OpDestroyValue:
		bd.DestroyAddr(addr)
		f.Erase(user.ID)

	case ir.OpDestructureStruct, ir.OpDestructureTuple:
		s.rewriteDestructure(bd, user, addr)

	case ir.OpOpenExistential:
		opened := user.Results[0]
		s.markRewritten(opened, bd.OpenExistentialAddr(addr, user.Type))

	case ir.OpStore:
		take := true
		if def := f.Def(v); def != nil && def.Op == ir.OpCopyValue && s.storage(v).Kind == ProjDef {
			take = false
		}
		bd.CopyAddr(addr, user.Args[1], take, user.Store != ir.StoreAssign)
		f.Erase(user.ID)

	case ir.OpStructExtract, ir.OpTupleExtract:
		s.rewriteExtract(bd, user, addr)

	case ir.OpSwitchEnum:
		s.rewriteSwitchEnum(user, addr)

	case ir.OpCheckedCastBr:
		s.rewriteCheckedCastBr(user)

	case ir.OpUncheckedBitwiseCast:
		res := user.Results[0]
		resTy := s.typeOf(res)
		switch {
		case s.ti.IsOpaque(resTy):
			s.markRewritten(res, bd.UncheckedAddrCast(addr, resTy))
		case s.ti.IsTrivial(resTy):
			l := bd.Load(bd.UncheckedAddrCast(addr, resTy), ir.LoadTrivial)
			f.ReplaceAllUsesWith(res, l)
			f.Erase(user.ID)
		default:
			s.fatal(ErrUnsupported, res, user, "bitwise cast of opaque storage to a non-trivial loadable type")
		}

	case ir.OpUnconditionalCheckedCast:
		s.rewriteCastFromOpaque(bd, user, addr)

	case ir.OpUncheckedEnumData:
		res := user.Results[0]
		dataAddr := bd.UncheckedTakeEnumDataAddr(addr, user.Field)
		if s.isOpaqueObject(res) {
			s.markRewritten(res, dataAddr)
			return
		}
		l := bd.Load(dataAddr, s.loadQual(s.typeOf(res)))
		f.ReplaceAllUsesWith(res, l)
		f.Erase(user.ID)

	case ir.OpStruct, ir.OpTuple, ir.OpEnum, ir.OpInitExistential, ir.OpReturn:
		// initialized when the composing user or the return is rewritten

	default:
		s.fatal(ErrUnsupported, v, user, "no address form for this use")
	}
}

// markLexical flags the allocation backing v as a lexical variable.
func (s *state) markLexical(v ir.ValueID) {
	st := s.storage(v)
	st.Lexical = true
	if def := s.f.Def(s.f.AddressRoot(st.Addr)); def != nil && def.Op == ir.OpAllocStack {
		def.Lexical = true
	}
}

func (s *state) rewriteDestructure(bd *ir.Builder, user *ir.Instr, addr ir.ValueID) {
	f := s.f
	for i, r := range user.Results {
		if s.isOpaqueObject(r) {
			s.markRewritten(r, s.materialize(bd, r))
			continue
		}
		var elem ir.ValueID
		if user.Op == ir.OpDestructureStruct {
			elem = bd.StructElementAddr(addr, i)
		} else {
			elem = bd.TupleElementAddr(addr, i)
		}
		f.ReplaceAllUsesWith(r, bd.Load(elem, s.loadQual(s.typeOf(r))))
	}
}

// rewriteExtract replaces a borrowed field of opaque storage. Opaque
// fields keep their address; loadable ones are read out of memory.
func (s *state) rewriteExtract(bd *ir.Builder, user *ir.Instr, addr ir.ValueID) {
	f := s.f
	res := user.Results[0]
	if s.isOpaqueObject(res) {
		s.markRewritten(res, s.materialize(bd, res))
		return
	}
	var elem ir.ValueID
	if user.Op == ir.OpStructExtract {
		elem = bd.StructElementAddr(addr, user.Field)
	} else {
		elem = bd.TupleElementAddr(addr, user.Field)
	}
	resVal := f.Values[res]
	switch {
	case s.ti.IsTrivial(resVal.Type):
		f.ReplaceAllUsesWith(res, bd.Load(elem, ir.LoadTrivial))
		f.Erase(user.ID)
	case resVal.HasOneUse() && f.Instrs[resVal.Uses[0].Instr].Op == ir.OpCopyValue:
		cp := f.Instrs[resVal.Uses[0].Instr]
		f.ReplaceAllUsesWith(cp.Results[0], bd.Load(elem, ir.LoadCopy))
		f.Erase(cp.ID)
		f.Erase(user.ID)
	default:
		lb := bd.LoadBorrow(elem)
		f.ReplaceAllUsesWith(res, lb)
		f.Erase(user.ID)
		s.endBorrowScope(lb)
	}
}

// rewriteSwitchEnum dispatches on the enum in memory. Each payload is
// taken out of the enum's storage at the start of its case block.
func (s *state) rewriteSwitchEnum(sw *ir.Instr, addr ir.ValueID) {
	f := s.f
	enumTy := s.typeOf(sw.Args[0])
	for _, c := range sw.Cases {
		s.rewriteSwitchPayload(addr, c.Case, c.Target)
	}
	if sw.Default != ir.NoBlockID && len(f.Blocks[sw.Default].Params) > 0 {
		if c, ok := s.uncoveredCase(enumTy, sw.Cases); ok {
			s.rewriteSwitchPayload(addr, c, sw.Default)
		}
	}
	s.before(sw.ID).SwitchEnumAddr(addr, sw.Cases, sw.Default)
	f.Erase(sw.ID)
}

func (s *state) rewriteSwitchPayload(addr ir.ValueID, c int, target ir.BlockID) {
	f := s.f
	blk := f.Blocks[target]
	if len(blk.Params) == 0 {
		return
	}
	param := blk.Params[0]
	bd := ir.BuilderAtStart(f, s.ti, target)
	caseAddr := bd.UncheckedTakeEnumDataAddr(addr, c)
	l := bd.Load(caseAddr, s.loadQual(s.typeOf(param)))
	f.ReplaceAllUsesWith(param, l)
	if s.isOpaqueObject(param) {
		s.table.Replace(param, l)
		s.markRewritten(l, caseAddr)
	}
	f.RemoveBlockParam(target, 0)
}

// uncoveredCase returns the single enum case not listed in cases.
func (s *state) uncoveredCase(enumTy types.TypeID, cases []ir.SwitchCase) (int, bool) {
	info, ok := s.ti.EnumInfo(enumTy)
	if !ok {
		return 0, false
	}
	covered := make(map[int]bool, len(cases))
	for _, c := range cases {
		covered[c.Case] = true
	}
	found := -1
	for i := range info.Cases {
		if covered[i] {
			continue
		}
		if found >= 0 {
			return 0, false
		}
		found = i
	}
	return found, found >= 0
}
