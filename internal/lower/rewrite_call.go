package lower

import (
	"addrlower/internal/ir"
)

// rewriteCallArgs passes loadable arguments of indirect parameters
// through temporaries.
func (s *state) rewriteCallArgs(call *ir.Instr) {
	for i, p := range call.Sig.Params {
		if !p.Conv.Indirect() || s.ti.IsAddress(s.typeOf(call.Args[i])) {
			continue
		}
		if s.isOpaqueObject(call.Args[i]) {
			// rewritten when the argument's uses are visited
			continue
		}
		s.rewriteIndirectArgument(call, i)
	}
}

// rewriteIndirectArgument replaces argument idx of call with an address.
func (s *state) rewriteIndirectArgument(call *ir.Instr, idx int) {
	f := s.f
	arg := call.Args[idx]
	if s.isOpaqueObject(arg) {
		f.SetOperand(call.ID, idx, s.storage(arg).Addr)
		return
	}
	ty := s.typeOf(arg)
	bd := s.before(call.ID)
	tmp := bd.AllocStack(ty)
	after := s.after(call.ID)
	if !call.Sig.Params[idx].Conv.Guaranteed() || s.ti.IsTrivial(ty) {
		bd.Store(arg, tmp, s.storeQual(ty, ir.StoreInit))
		after.DeallocStack(tmp)
		f.SetOperand(call.ID, idx, tmp)
		return
	}
	borrowed := bd.StoreBorrow(arg, tmp)
	after.EndBorrow(borrowed)
	after.DeallocStack(tmp)
	f.SetOperand(call.ID, idx, borrowed)
}

// rewriteApplyResults emits the address form of call in front of it.
// Opaque results are produced directly into their storage; loadable
// indirect results go through a temporary and are loaded back.
func (s *state) rewriteApplyResults(call *ir.Instr) {
	f := s.f
	delete(s.pending, call.ID)
	bd := s.before(call.ID)
	args := make([]ir.ValueID, 0, call.Sig.NumIndirectResults()+len(call.Args))
	for i, r := range call.Sig.Results {
		if r.Indirect {
			args = append(args, s.indirectResultAddress(bd, call, call.Results[i]))
		}
	}
	args = append(args, call.Args...)
	direct := bd.ApplyAddr(call.Name, call.Sig, args...)
	k := 0
	for i, r := range call.Sig.Results {
		if r.Indirect {
			continue
		}
		f.ReplaceAllUsesWith(call.Results[i], direct[k])
		k++
	}
}

func (s *state) indirectResultAddress(bd *ir.Builder, call *ir.Instr, res ir.ValueID) ir.ValueID {
	if s.isOpaqueObject(res) {
		addr := s.materialize(bd, res)
		s.markRewritten(res, addr)
		return addr
	}
	ty := s.typeOf(res)
	tmp := bd.AllocStack(ty)
	s.after(call.ID).DeallocStack(tmp)
	if len(s.f.Values[res].Uses) > 0 {
		s.f.ReplaceAllUsesWith(res, s.after(call.ID).Load(tmp, s.loadQual(ty)))
	}
	return tmp
}

// rewriteIndirectApply handles a call site that produces no opaque
// value, replacing it by its address form.
func (s *state) rewriteIndirectApply(call *ir.Instr) {
	s.rewriteCallArgs(call)
	s.rewriteApplyResults(call)
	s.f.Erase(call.ID)
}
