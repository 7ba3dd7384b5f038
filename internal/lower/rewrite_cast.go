package lower

import (
	"addrlower/internal/ir"
	"addrlower/internal/types"
)

// rewriteCastIntoOpaque lowers an unconditional cast from a loadable
// value to an opaque type through a temporary holding the source.
func (s *state) rewriteCastIntoOpaque(cast *ir.Instr) {
	src := cast.Args[0]
	ty := s.typeOf(src)
	bd := s.before(cast.ID)
	tmp := bd.AllocStack(ty)
	bd.Store(src, tmp, s.storeQual(ty, ir.StoreInit))
	dest := s.materialize(bd, cast.Results[0])
	bd.UnconditionalCheckedCastAddr(tmp, dest)
	s.after(cast.ID).DeallocStack(tmp)
}

// rewriteCastFromOpaque lowers an unconditional cast whose source is in
// memory.
func (s *state) rewriteCastFromOpaque(bd *ir.Builder, cast *ir.Instr, srcAddr ir.ValueID) {
	f := s.f
	res := cast.Results[0]
	if s.isOpaqueObject(res) {
		dest := s.materialize(bd, res)
		s.markRewritten(res, dest)
		bd.UnconditionalCheckedCastAddr(srcAddr, dest)
		return
	}
	ty := s.typeOf(res)
	tmp := bd.AllocStack(ty)
	bd.UnconditionalCheckedCastAddr(srcAddr, tmp)
	after := s.after(cast.ID)
	l := after.Load(tmp, s.loadQual(ty))
	after.DeallocStack(tmp)
	f.ReplaceAllUsesWith(res, l)
	f.Erase(cast.ID)
}

// rewriteCheckedCastBr replaces a conditional cast by its address form.
// The source is taken on success; on failure it stays in place and
// becomes the failure block's value.
func (s *state) rewriteCheckedCastBr(ccb *ir.Instr) {
	f := s.f
	success, failure := ccb.Targets[0], ccb.Targets[1]
	succVal := soleParam(f, success)
	failVal := soleParam(f, failure)

	srcAddr := s.castOperandAddress(ccb, ccb.Args[0], s.typeOf(ccb.Args[0]), true)
	destAddr := s.castOperandAddress(ccb, succVal, ccb.Type, false)
	if failVal != ir.NoValueID && s.isOpaqueObject(failVal) {
		s.storage(failVal).Addr = srcAddr
	}

	s.before(ccb.ID).CheckedCastAddrBr(srcAddr, destAddr, true, success, failure)
	f.Erase(ccb.ID)
	s.replaceCastParam(succVal, destAddr)
	s.replaceCastParam(failVal, srcAddr)
}

func soleParam(f *ir.Func, b ir.BlockID) ir.ValueID {
	if params := f.Blocks[b].Params; len(params) == 1 {
		return params[0]
	}
	return ir.NoValueID
}

// castOperandAddress returns the address of an opaque cast operand, or a
// temporary released at the start of both successors. Each successor
// must be reached only from the cast.
func (s *state) castOperandAddress(ccb *ir.Instr, v ir.ValueID, ty types.TypeID, initialize bool) ir.ValueID {
	f := s.f
	bd := s.before(ccb.ID)
	if v != ir.NoValueID && s.isOpaqueObject(v) {
		return s.materialize(bd, v)
	}
	if ccb.Targets[0] == ccb.Targets[1] {
		s.fatal(ErrDominance, v, ccb, "cast successors coincide")
	}
	for _, b := range ccb.Targets {
		if n := len(f.Preds(b)); n != 1 {
			s.fatal(ErrDominance, v, ccb, "cast successor bb%d has %d predecessors", b, n)
		}
	}
	tmp := bd.AllocStack(ty)
	if initialize {
		bd.Store(v, tmp, s.storeQual(ty, ir.StoreInit))
	}
	for _, b := range ccb.Targets {
		ir.BuilderAtStart(f, s.ti, b).DeallocStack(tmp)
	}
	return tmp
}

// replaceCastParam turns a successor's parameter into a load of the
// memory the cast left it in.
func (s *state) replaceCastParam(param, addr ir.ValueID) {
	if param == ir.NoValueID {
		return
	}
	f := s.f
	val := f.Values[param]
	block := val.Block
	l := ir.BuilderAtStart(f, s.ti, block).Load(addr, s.loadQual(val.Type))
	f.ReplaceAllUsesWith(param, l)
	f.RemoveBlockParam(block, val.Index)
	if s.table.Contains(param) {
		s.table.Replace(param, l)
	}
}
