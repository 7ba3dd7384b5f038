package lower

import (
	"slices"

	"addrlower/internal/ir"
)

// cleanup deletes every original definition of an opaque value together
// with its remaining users, drops merges of opaque type and unused
// element addresses, then repairs the nesting of stack allocations.
func (s *state) cleanup() {
	f := s.f
	for ord := s.table.Len() - 1; ord >= 0; ord-- {
		st := s.table.At(ord)
		if !st.Rewritten {
			s.fatal(ErrUnresolvedAddress, st.Value, nil, "value was never rewritten")
		}
		if def := f.Def(st.Addr); def != nil && def.Op == ir.OpAllocStack && f.DeleteDeadAlloc(def.ID) {
			s.stats.DeadAllocsRemoved++
		}
		if def := f.Def(st.Value); def != nil {
			f.EraseWithUsers(def.ID)
		}
	}
	for _, b := range f.LiveBlocks() {
		s.removeOpaquePhis(b)
	}
	s.removeDeadProjections()
	if _, err := ir.FixStackNesting(f); err != nil {
		s.fatal(ErrDominance, ir.NoValueID, nil, "%v", err)
	}
}

// removeDeadProjections erases element addresses nobody reads. Erasing
// one can leave its base unused, so the walk repeats until stable.
func (s *state) removeDeadProjections() {
	f := s.f
	for changed := true; changed; {
		changed = false
		for _, b := range f.LiveBlocks() {
			instrs := f.Blocks[b].Instrs
			for i := len(instrs) - 1; i >= 0; i-- {
				in := f.Instrs[instrs[i]]
				if in.Deleted || (in.Op != ir.OpStructElementAddr && in.Op != ir.OpTupleElementAddr) {
					continue
				}
				if len(f.Values[in.Results[0]].Uses) == 0 {
					f.Erase(in.ID)
					changed = true
				}
			}
		}
	}
}

func (s *state) removeOpaquePhis(b ir.BlockID) {
	f := s.f
	if b == f.Entry {
		return
	}
	blk := f.Blocks[b]
	var dead []int
	for i, p := range blk.Params {
		if !s.isOpaqueObject(p) {
			continue
		}
		if len(f.Values[p].Uses) > 0 {
			s.fatal(ErrUnresolvedAddress, p, f.Instrs[f.Values[p].Uses[0].Instr], "merge is still used after rewriting")
		}
		dead = append(dead, i)
	}
	if len(dead) == 0 {
		return
	}
	for _, pred := range f.Preds(b) {
		br := f.Terminator(pred)
		if br.Op != ir.OpBr {
			continue
		}
		args := make([]ir.ValueID, 0, len(br.Args))
		for i, a := range br.Args {
			if !slices.Contains(dead, i) {
				args = append(args, a)
			}
		}
		f.SetArgs(br.ID, args)
	}
	for i := len(dead) - 1; i >= 0; i-- {
		f.RemoveBlockParam(b, dead[i])
	}
}
