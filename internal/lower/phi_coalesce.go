package lower

import (
	"slices"

	"addrlower/internal/ir"
)

// allocatePhi decides storage for a merge and coalesces as many incoming
// values into it as interference allows.
func (s *state) allocatePhi(ord int) {
	st := s.table.At(ord)
	phi := st.Value
	if s.f.Values[phi].Own == ir.OwnGuaranteed {
		s.fatal(ErrOwnership, phi, nil, "guaranteed merge has no owned storage")
	}
	coalesced := s.coalescePhi(phi)
	incoming := append([]ir.ValueID{phi}, coalesced...)
	if !s.findProjectionIntoUse(phi, incoming, true) {
		st.Addr = s.createStackAllocation(phi)
	}
	for _, v := range coalesced {
		s.removeAllocation(v)
		cst := s.storage(v)
		cst.Kind = ProjUse
		cst.Target = ord
		cst.Operand = PhiOperand
		s.stats.PhiCoalesced++
		s.note("coalesce", v, "into merge %%%d", phi)
	}
}

// coalescePhi selects incoming values of phi whose live ranges are
// disjoint from each other and from the merge.
func (s *state) coalescePhi(phi ir.ValueID) []ir.ValueID {
	f := s.f
	block := f.Values[phi].Block
	preds := f.Preds(block)
	if len(preds) == 1 {
		if v := f.IncomingValue(phi, preds[0]); s.coalescable(v) {
			return []ir.ValueID{v}
		}
		return nil
	}

	occupied := s.liveBlocks(phi)
	occupied[block] = true
	var out []ir.ValueID
	for _, p := range preds {
		v := f.IncomingValue(phi, p)
		if v == ir.NoValueID || slices.Contains(out, v) || !s.coalescable(v) {
			continue
		}
		live := s.liveBlocks(v)
		interferes := false
		for b := range live {
			if occupied[b] {
				interferes = true
				break
			}
		}
		if interferes {
			continue
		}
		for b := range live {
			occupied[b] = true
		}
		out = append(out, v)
	}
	return out
}

// coalescable reports whether v owns a fresh allocation that is only
// ever consumed by branches.
func (s *state) coalescable(v ir.ValueID) bool {
	val := s.f.Value(v)
	if val == nil || val.Kind != ir.ValueResult {
		return false
	}
	ord, ok := s.table.Ordinal(v)
	if !ok {
		return false
	}
	st := s.table.At(ord)
	if st.Kind != ProjNone || st.Addr == ir.NoValueID {
		return false
	}
	if def := s.f.Def(st.Addr); def == nil || def.Op != ir.OpAllocStack {
		return false
	}
	for _, a := range s.f.Def(v).Args {
		ast := s.table.Lookup(a)
		if ast != nil && ast.IsComposingUse() && ast.Target == ord {
			return false
		}
	}
	for _, u := range val.Uses {
		if s.f.Instrs[u.Instr].Op != ir.OpBr {
			return false
		}
	}
	return true
}

// liveBlocks returns the blocks in which v, or a value sharing its
// storage through a projection, is live.
func (s *state) liveBlocks(v ir.ValueID) map[ir.BlockID]bool {
	f := s.f
	defBlock := f.DefBlock(v)
	live := make(map[ir.BlockID]bool)
	var work []ir.BlockID
	for _, inst := range s.storageUsers(v) {
		work = append(work, f.Instrs[inst].Block)
	}
	live[defBlock] = true
	for len(work) > 0 {
		b := work[len(work)-1]
		work = work[:len(work)-1]
		if live[b] {
			continue
		}
		live[b] = true
		work = append(work, f.Preds(b)...)
	}
	return live
}

// storageUsers lists the instructions using v or a value projected from
// it.
func (s *state) storageUsers(v ir.ValueID) []ir.InstrID {
	var out []ir.InstrID
	work := []ir.ValueID{v}
	seen := map[ir.ValueID]bool{v: true}
	for len(work) > 0 {
		cur := work[len(work)-1]
		work = work[:len(work)-1]
		for _, u := range s.f.Values[cur].Uses {
			user := s.f.Instrs[u.Instr]
			out = append(out, user.ID)
			if !sharesOperandStorage(user.Op) {
				continue
			}
			for _, r := range user.Results {
				if !seen[r] && s.table.Contains(r) {
					seen[r] = true
					work = append(work, r)
				}
			}
		}
	}
	return out
}

func sharesOperandStorage(op ir.Op) bool {
	switch op {
	case ir.OpBeginBorrow, ir.OpStructExtract, ir.OpTupleExtract,
		ir.OpDestructureStruct, ir.OpDestructureTuple, ir.OpUncheckedEnumData,
		ir.OpOpenExistential, ir.OpUncheckedBitwiseCast:
		return true
	}
	return false
}
