package lower

import (
	"maps"
	"slices"

	"addrlower/internal/ir"
	"addrlower/internal/types"
)

// allocate decides storage for every collected value. Values are visited
// in reverse so that composing users are decided before their operands.
// Merges are decided last, once the storage of every incoming value is
// known.
func (s *state) allocate() {
	for ord := s.table.Len() - 1; ord >= 0; ord-- {
		if s.phis[s.table.At(ord).Value] {
			continue
		}
		s.allocateValue(ord)
	}
	for ord := s.table.Len() - 1; ord >= 0; ord-- {
		if s.phis[s.table.At(ord).Value] {
			s.allocatePhi(ord)
		}
	}
}

func (s *state) allocateValue(ord int) {
	st := s.table.At(ord)
	if st.Rewritten {
		return
	}
	v := st.Value
	if target, ok := s.reusedStorageOperand(v); ok {
		st.Kind = ProjDef
		st.Target = target
		st.Reused = true
		s.stats.DefProjections++
		s.note("reuse", v, "storage of ordinal %d", target)
		return
	}
	if def := s.f.Def(v); def != nil && def.Op == ir.OpLoadBorrow {
		return
	}
	if target, ok := s.projectedDefOperand(v); ok {
		st.Kind = ProjDef
		st.Target = target
		s.stats.DefProjections++
		s.note("def-projection", v, "from ordinal %d", target)
		return
	}
	if s.f.Values[v].Own == ir.OwnGuaranteed {
		s.fatal(ErrOwnership, v, nil, "guaranteed value has no owned storage to borrow from")
	}
	if s.findProjectionIntoUse(v, []ir.ValueID{v}, false) {
		return
	}
	st.Addr = s.createStackAllocation(v)
}

// reusedStorageOperand returns the ordinal of the operand whose storage v
// takes over when the instruction producing v is rewritten in place.
func (s *state) reusedStorageOperand(v ir.ValueID) (int, bool) {
	var operand ir.ValueID
	if term := s.f.TerminatorResult(v); term != nil {
		switch term.Op {
		case ir.OpSwitchEnum:
			operand = term.Args[0]
		case ir.OpCheckedCastBr:
			// only the failure edge forwards the original value
			if s.f.Values[v].Block != term.Targets[1] {
				return 0, false
			}
			operand = term.Args[0]
		default:
			return 0, false
		}
	} else {
		def := s.f.Def(v)
		if def == nil {
			return 0, false
		}
		switch def.Op {
		case ir.OpUncheckedEnumData, ir.OpOpenExistential, ir.OpUncheckedBitwiseCast:
			operand = def.Args[0]
		default:
			return 0, false
		}
	}
	return s.table.Ordinal(operand)
}

// projectedDefOperand returns the ordinal of the operand whose storage v
// can share without a copy.
func (s *state) projectedDefOperand(v ir.ValueID) (int, bool) {
	def := s.f.Def(v)
	if def == nil {
		return 0, false
	}
	switch def.Op {
	case ir.OpBeginBorrow, ir.OpStructExtract, ir.OpTupleExtract,
		ir.OpDestructureStruct, ir.OpDestructureTuple:
		return s.table.Ordinal(def.Args[0])
	case ir.OpCopyValue:
		if s.isStoreCopy(v) {
			return s.table.Ordinal(def.Args[0])
		}
	}
	return 0, false
}

// isStoreCopy reports whether v is a copy whose only use stores it.
func (s *state) isStoreCopy(v ir.ValueID) bool {
	val := s.f.Values[v]
	if !val.HasOneUse() {
		return false
	}
	u := val.Uses[0]
	return u.Index == 0 && s.f.Instrs[u.Instr].Op == ir.OpStore
}

// projectedUseValue returns the value whose storage an operand of user
// can be placed into.
func (s *state) projectedUseValue(user *ir.Instr, idx int) (ir.ValueID, bool) {
	switch user.Op {
	case ir.OpStruct, ir.OpTuple, ir.OpEnum, ir.OpInitExistential:
		return user.Results[0], true
	case ir.OpReturn:
		k := s.f.Sig.IndirectResultIndex(idx)
		if k < 0 {
			return ir.NoValueID, false
		}
		return s.outParams[k], true
	}
	return ir.NoValueID, false
}

// findProjectionIntoUse tries to place v inside the storage of one of
// its composing users. incoming lists the definitions that will write
// that storage; the user's storage must be live before all of them.
func (s *state) findProjectionIntoUse(v ir.ValueID, incoming []ir.ValueID, intoPhi bool) bool {
	st := s.storage(v)
	for _, u := range s.f.Values[v].Uses {
		user := s.f.Instrs[u.Instr]
		userVal, ok := s.projectedUseValue(user, u.Index)
		if !ok {
			continue
		}
		userOrd, ok := s.table.Ordinal(userVal)
		if !ok {
			continue
		}
		userSt := s.table.At(userOrd)
		if userSt.Kind == ProjDef {
			s.fatal(ErrProjectionConflict, userVal, user, "composing user reuses the storage of its own operand")
		}
		base := s.table.Base(userSt, !intoPhi)
		if base == nil || base.Addr == ir.NoValueID {
			continue
		}
		if def := s.f.Def(base.Addr); def != nil && def.Op == ir.OpAllocStack {
			if !s.storageDominates(def, incoming) {
				continue
			}
		}
		if !s.claimReturnSlot(v, userOrd, incoming) {
			continue
		}
		st.Kind = ProjUse
		st.Target = userOrd
		st.Operand = u.Index
		if user.Op == ir.OpEnum {
			st.InitializesEnum = true
		}
		s.stats.UseProjections++
		s.note("use-projection", v, "into %%%d operand %d", userVal, u.Index)
		return true
	}
	return false
}

// claimReturnSlot records incoming as occupying an out parameter when
// the storage chain from userOrd ends in one. With several returns, the
// values placed in the slot by different returned values must not be
// live in a common block.
func (s *state) claimReturnSlot(v ir.ValueID, userOrd int, incoming []ir.ValueID) bool {
	root, outOrd := s.ordinal(v), userOrd
	for st := s.table.At(outOrd); st.Kind == ProjUse; st = s.table.At(outOrd) {
		root = outOrd
		outOrd = st.Target
	}
	if !slices.Contains(s.outParams, s.table.At(outOrd).Value) || len(s.f.ExitBlocks()) < 2 {
		return true
	}
	live := make(map[ir.BlockID]bool)
	for _, in := range incoming {
		maps.Copy(live, s.liveBlocks(in))
	}
	claims := s.outClaims[outOrd]
	for other, members := range claims {
		if other == root {
			continue
		}
		for _, m := range members {
			for b := range s.liveBlocks(m) {
				if live[b] {
					s.note("return-slot", v, "interferes with %%%d in bb%d", m, b)
					return false
				}
			}
		}
	}
	if claims == nil {
		claims = make(map[int][]ir.ValueID)
		s.outClaims[outOrd] = claims
	}
	claims[root] = append(claims[root], incoming...)
	return true
}

// storageDominates reports whether alloc is available before every
// definition in incoming.
func (s *state) storageDominates(alloc *ir.Instr, incoming []ir.ValueID) bool {
	for _, in := range incoming {
		val := s.f.Values[in]
		switch val.Kind {
		case ir.ValueResult:
			if val.Instr == alloc.ID || !s.f.InstrDominates(s.dom, alloc.ID, val.Instr) {
				return false
			}
		case ir.ValueParam:
			if !s.dom.ProperlyDominates(alloc.Block, val.Block) {
				return false
			}
		}
	}
	return true
}

// createStackAllocation allocates storage for v. The allocation is placed
// at function entry unless the type depends on opened existentials, in
// which case it follows the last opening instruction.
func (s *state) createStackAllocation(v ir.ValueID) ir.ValueID {
	f := s.f
	ty := s.typeOf(v)
	opener := s.latestOpener(ty)
	var addr ir.ValueID
	if opener == ir.NoInstrID {
		addr = ir.BuilderAtStart(f, s.ti, f.Entry).AllocStack(ty)
		for _, b := range f.ExitBlocks() {
			s.before(f.Terminator(b).ID).DeallocStack(addr)
		}
	} else {
		addr = s.after(opener).AllocStack(ty)
		s.deallocAtBoundary(addr, f.Instrs[opener].Block)
	}
	s.stats.FreshAllocs++
	s.note("alloc", v, "%%%d", addr)
	return addr
}

// latestOpener returns the opening instruction, among those ty depends
// on, that is dominated by all the others.
func (s *state) latestOpener(ty types.TypeID) ir.InstrID {
	latest := ir.NoInstrID
	for _, origin := range s.ti.OpenedOrigins(ty) {
		def := s.f.Def(ir.ValueID(origin))
		if def == nil || def.Deleted {
			continue
		}
		if def.Op != ir.OpOpenExistential && def.Op != ir.OpOpenExistentialAddr {
			continue
		}
		if latest == ir.NoInstrID || s.f.InstrDominates(s.dom, latest, def.ID) {
			latest = def.ID
		}
	}
	return latest
}

// deallocAtBoundary releases addr on every exit from the region
// dominated by root, splitting edges that leave the region from a block
// that also branches inside it.
func (s *state) deallocAtBoundary(addr ir.ValueID, root ir.BlockID) {
	f := s.f
	for _, b := range s.dom.DominatedBoundary(f, root) {
		term := f.Terminator(b)
		if term.Op == ir.OpReturn {
			s.before(term.ID).DeallocStack(addr)
			continue
		}
		var outside []ir.BlockID
		inside := false
		for _, succ := range f.Succs(b) {
			if s.dom.Dominates(root, succ) {
				inside = true
			} else {
				outside = append(outside, succ)
			}
		}
		if !inside {
			s.before(term.ID).DeallocStack(addr)
			continue
		}
		for _, succ := range outside {
			if len(f.Blocks[succ].Params) > 0 {
				s.fatal(ErrDominance, addr, term, "cannot release storage on an edge into bb%d carrying values", succ)
			}
			mid := f.SplitEdge(b, succ)
			s.dom.AddBlock(mid, b)
			s.before(f.Terminator(mid).ID).DeallocStack(addr)
		}
	}
}

// removeAllocation deletes the allocation of v and its deallocations.
func (s *state) removeAllocation(v ir.ValueID) {
	st := s.storage(v)
	def := s.f.Def(st.Addr)
	if def == nil || def.Op != ir.OpAllocStack {
		s.fatal(ErrProjectionConflict, v, nil, "coalesced value does not own an allocation")
	}
	addr := st.Addr
	for len(s.f.Values[addr].Uses) > 0 {
		u := s.f.Values[addr].Uses[0]
		if s.f.Instrs[u.Instr].Op != ir.OpDeallocStack {
			s.fatal(ErrProjectionConflict, v, s.f.Instrs[u.Instr], "coalesced allocation is already in use")
		}
		s.f.Erase(u.Instr)
	}
	s.f.Erase(def.ID)
	st.Addr = ir.NoValueID
	s.stats.FreshAllocs--
}
