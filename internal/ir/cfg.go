package ir

import "slices"

// Succs returns the successors of b.
func (f *Func) Succs(b BlockID) []BlockID {
	t := f.Terminator(b)
	if t == nil {
		return nil
	}
	return t.Successors()
}

// Predecessors computes the predecessor lists of all blocks, indexed by
// BlockID. Each predecessor appears once, in block order.
func (f *Func) Predecessors() [][]BlockID {
	preds := make([][]BlockID, len(f.Blocks))
	for _, b := range f.LiveBlocks() {
		for _, s := range f.Succs(b) {
			if !slices.Contains(preds[s], b) {
				preds[s] = append(preds[s], b)
			}
		}
	}
	return preds
}

// Preds returns the predecessors of a single block.
func (f *Func) Preds(b BlockID) []BlockID {
	return f.Predecessors()[b]
}

// Postorder lists the blocks reachable from the entry in DFS postorder.
func (f *Func) Postorder() []BlockID {
	visited := make([]bool, len(f.Blocks))
	out := make([]BlockID, 0, len(f.Blocks))
	var visit func(id BlockID)
	visit = func(id BlockID) {
		if id < 0 || int(id) >= len(f.Blocks) || visited[id] || f.Blocks[id].Deleted {
			return
		}
		visited[id] = true
		for _, s := range f.Succs(id) {
			visit(s)
		}
		out = append(out, id)
	}
	visit(f.Entry)
	return out
}

// RPO lists the blocks reachable from the entry in reverse postorder.
func (f *Func) RPO() []BlockID {
	out := f.Postorder()
	slices.Reverse(out)
	return out
}

// computeReachability marks every block reachable from the entry.
func (f *Func) computeReachability() []bool {
	reachable := make([]bool, len(f.Blocks))
	for _, b := range f.Postorder() {
		reachable[b] = true
	}
	return reachable
}

// RemoveUnreachable deletes blocks that cannot be reached from the entry
// and returns how many were removed.
func (f *Func) RemoveUnreachable() int {
	reachable := f.computeReachability()
	removed := 0
	for _, blk := range f.Blocks {
		if blk.Deleted || reachable[blk.ID] {
			continue
		}
		// drop operand uses first so that values defined in other dead
		// blocks can be erased in any order
		for _, id := range blk.Instrs {
			in := f.Instrs[id]
			for i, a := range in.Args {
				f.removeUse(a, Use{Instr: id, Index: i})
			}
			in.Deleted = true
		}
		blk.Instrs = nil
		blk.Params = nil
		blk.Deleted = true
		removed++
	}
	return removed
}

// IsPhi reports whether v is a block parameter that receives its value
// from branch arguments. Parameters of blocks reached through a
// switch_enum or checked_cast_br are terminator results instead.
func (f *Func) IsPhi(v ValueID) bool {
	val := f.Value(v)
	if val == nil || val.Kind != ValueParam || val.Block == f.Entry {
		return false
	}
	preds := f.Preds(val.Block)
	if len(preds) == 0 {
		return false
	}
	for _, p := range preds {
		if t := f.Terminator(p); t == nil || t.Op != OpBr {
			return false
		}
	}
	return true
}

// TerminatorResult returns the terminator that produces the block
// parameter v, or nil when v is not a terminator result.
func (f *Func) TerminatorResult(v ValueID) *Instr {
	val := f.Value(v)
	if val == nil || val.Kind != ValueParam || val.Block == f.Entry {
		return nil
	}
	preds := f.Preds(val.Block)
	if len(preds) != 1 {
		return nil
	}
	t := f.Terminator(preds[0])
	if t == nil || (t.Op != OpSwitchEnum && t.Op != OpCheckedCastBr) {
		return nil
	}
	return t
}

// IncomingValue returns the argument that pred passes to phi.
func (f *Func) IncomingValue(phi ValueID, pred BlockID) ValueID {
	t := f.Terminator(pred)
	idx := f.Values[phi].Index
	if t == nil || t.Op != OpBr || idx >= len(t.Args) {
		return NoValueID
	}
	return t.Args[idx]
}
