package lower

import (
	"addrlower/internal/ir"
)

// materialize returns the address of v, emitting projections at bd the
// first time a projected address is requested.
func (s *state) materialize(bd *ir.Builder, v ir.ValueID) ir.ValueID {
	st := s.storage(v)
	if st.Addr != ir.NoValueID {
		return st.Addr
	}
	switch st.Kind {
	case ProjUse:
		s.materializeStorage(bd, st, false)
	case ProjDef:
		st.Addr = s.materializeDefProjection(bd, v)
	}
	if st.Addr == ir.NoValueID {
		s.fatal(ErrUnresolvedAddress, v, nil, "no storage was assigned")
	}
	return st.Addr
}

// materializeStorage resolves a use projection chain. Addresses computed
// for a merge are not memoized: each incoming edge materializes its own
// projection in the predecessor.
func (s *state) materializeStorage(bd *ir.Builder, st *Storage, intoPhi bool) ir.ValueID {
	if !intoPhi && st.Addr != ir.NoValueID {
		return st.Addr
	}
	record := func(addr ir.ValueID) ir.ValueID {
		if !intoPhi {
			st.Addr = addr
		}
		return addr
	}
	switch {
	case st.IsComposingUse():
		user := s.table.Target(st)
		def := s.f.Def(user.Value)
		if def == nil {
			// indirect result parameter
			return record(user.Addr)
		}
		return record(s.materializeProjectionIntoUse(bd, def, st.Operand, intoPhi))
	case st.IsPhiProjection():
		return record(s.materializeStorage(bd, s.table.Target(st), true))
	case st.Kind == ProjDef:
		s.fatal(ErrProjectionConflict, st.Value, nil, "composing user reuses the storage of its operand")
	}
	if st.Addr == ir.NoValueID {
		s.fatal(ErrUnresolvedAddress, st.Value, nil, "root storage was never allocated")
	}
	return st.Addr
}

// materializeDefProjection derives the address of v from its operand.
func (s *state) materializeDefProjection(bd *ir.Builder, v ir.ValueID) ir.ValueID {
	st := s.storage(v)
	if st.Reused {
		s.fatal(ErrUnresolvedAddress, v, nil, "address requested before the producing instruction was rewritten")
	}
	def := s.f.Def(v)
	if def == nil {
		s.fatal(ErrUnresolvedAddress, v, nil, "projected value has no definition")
	}
	switch def.Op {
	case ir.OpCopyValue, ir.OpBeginBorrow:
		return s.materialize(bd, def.Args[0])
	case ir.OpStructExtract:
		return bd.StructElementAddr(s.materialize(bd, def.Args[0]), def.Field)
	case ir.OpTupleExtract:
		return bd.TupleElementAddr(s.materialize(bd, def.Args[0]), def.Field)
	case ir.OpDestructureStruct:
		return bd.StructElementAddr(s.materialize(bd, def.Args[0]), s.f.Values[v].Index)
	case ir.OpDestructureTuple:
		return bd.TupleElementAddr(s.materialize(bd, def.Args[0]), s.f.Values[v].Index)
	}
	s.fatal(ErrUnsupported, v, def, "no address projection for %s", def.Op)
	return ir.NoValueID
}

// materializeProjectionIntoUse returns the address inside the storage of
// user at which operand idx is initialized.
func (s *state) materializeProjectionIntoUse(bd *ir.Builder, user *ir.Instr, idx int, intoPhi bool) ir.ValueID {
	container := s.materializeStorage(bd, s.storage(user.Results[0]), intoPhi)
	switch user.Op {
	case ir.OpEnum:
		return bd.InitEnumDataAddr(container, user.Field)
	case ir.OpInitExistential:
		return bd.InitExistentialAddr(container, user.Type)
	case ir.OpStruct:
		return bd.StructElementAddr(container, idx)
	case ir.OpTuple:
		return bd.TupleElementAddr(container, idx)
	}
	s.fatal(ErrUnsupported, ir.NoValueID, user, "%s does not compose its operands", user.Op)
	return ir.NoValueID
}

// initializeComposingUse writes operand idx of user into its place inside
// the user's storage, unless it was already built there.
func (s *state) initializeComposingUse(bd *ir.Builder, user *ir.Instr, idx int) {
	arg := user.Args[idx]
	if s.isOpaqueObject(arg) {
		st := s.storage(arg)
		if st.Kind == ProjUse {
			return
		}
		src := s.materialize(bd, arg)
		dest := s.materializeProjectionIntoUse(bd, user, idx, false)
		bd.CopyAddr(src, dest, true, true)
		return
	}
	dest := s.materializeProjectionIntoUse(bd, user, idx, false)
	bd.Store(arg, dest, s.storeQual(s.typeOf(arg), ir.StoreInit))
}
