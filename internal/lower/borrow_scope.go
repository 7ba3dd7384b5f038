package lower

import (
	"slices"

	"addrlower/internal/ir"
)

// endBorrowScope closes the borrow introduced by lb on the boundary of
// its liveness: after the last use in each block where it is live, or at
// the start of a successor where liveness stops on an edge.
func (s *state) endBorrowScope(lb ir.ValueID) {
	f := s.f
	def := f.Def(lb)
	uses := s.guaranteedUses(lb)
	if len(uses) == 0 {
		s.after(def.ID).EndBorrow(lb)
		return
	}

	lastUse := make(map[ir.BlockID]ir.InstrID)
	for _, id := range uses {
		in := f.Instrs[id]
		if in.Op.IsTerminator() {
			s.fatal(ErrUnsupported, lb, in, "borrowed field escapes through a terminator")
		}
		if prev, ok := lastUse[in.Block]; !ok || f.IndexInBlock(prev) < f.IndexInBlock(id) {
			lastUse[in.Block] = id
		}
	}

	liveIn := make(map[ir.BlockID]bool)
	var work []ir.BlockID
	for b := range lastUse {
		if b != def.Block {
			work = append(work, b)
		}
	}
	for len(work) > 0 {
		b := work[len(work)-1]
		work = work[:len(work)-1]
		if liveIn[b] {
			continue
		}
		liveIn[b] = true
		for _, p := range f.Preds(b) {
			if p != def.Block {
				work = append(work, p)
			}
		}
	}

	blocks := []ir.BlockID{def.Block}
	for b := range liveIn {
		blocks = append(blocks, b)
	}
	slices.Sort(blocks[1:])
	for _, b := range blocks {
		liveOut := false
		var exits []ir.BlockID
		for _, succ := range f.Succs(b) {
			if liveIn[succ] {
				liveOut = true
			} else {
				exits = append(exits, succ)
			}
		}
		if !liveOut {
			last, ok := lastUse[b]
			if !ok {
				last = def.ID
			}
			s.after(last).EndBorrow(lb)
			continue
		}
		for _, succ := range exits {
			target := succ
			if len(f.Preds(succ)) > 1 {
				target = f.SplitEdge(b, succ)
				s.dom.AddBlock(target, b)
			}
			ir.BuilderAtStart(f, s.ti, target).EndBorrow(lb)
		}
	}
}

// guaranteedUses lists the users of v, looking through instructions that
// forward the borrow.
func (s *state) guaranteedUses(v ir.ValueID) []ir.InstrID {
	f := s.f
	var out []ir.InstrID
	work := []ir.ValueID{v}
	for len(work) > 0 {
		cur := work[len(work)-1]
		work = work[:len(work)-1]
		for _, u := range f.Values[cur].Uses {
			user := f.Instrs[u.Instr]
			out = append(out, user.ID)
			if !forwardsBorrow(user.Op) {
				continue
			}
			for _, r := range user.Results {
				if f.Values[r].Own == ir.OwnGuaranteed {
					work = append(work, r)
				}
			}
		}
	}
	return out
}

func forwardsBorrow(op ir.Op) bool {
	switch op {
	case ir.OpBeginBorrow, ir.OpStructExtract, ir.OpTupleExtract,
		ir.OpUncheckedEnumData, ir.OpOpenExistential, ir.OpUncheckedBitwiseCast:
		return true
	}
	return false
}
