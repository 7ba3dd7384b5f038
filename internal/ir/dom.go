package ir

// DomTree is the dominator tree of a function's reachable blocks.
type DomTree struct {
	entry BlockID
	idom  []BlockID
	rpo   []int // reverse postorder number, -1 when unreachable
	depth []int
}

// ComputeDominators builds the dominator tree with the iterative
// Cooper-Harvey-Kennedy algorithm over reverse postorder.
func ComputeDominators(f *Func) *DomTree {
	order := f.RPO()
	n := len(f.Blocks)
	d := &DomTree{
		entry: f.Entry,
		idom:  make([]BlockID, n),
		rpo:   make([]int, n),
		depth: make([]int, n),
	}
	for i := range d.idom {
		d.idom[i] = NoBlockID
		d.rpo[i] = -1
	}
	for i, b := range order {
		d.rpo[b] = i
	}
	preds := f.Predecessors()
	d.idom[f.Entry] = f.Entry
	for changed := true; changed; {
		changed = false
		for _, b := range order[1:] {
			newIdom := NoBlockID
			for _, p := range preds[b] {
				if d.rpo[p] < 0 || d.idom[p] == NoBlockID {
					continue
				}
				if newIdom == NoBlockID {
					newIdom = p
					continue
				}
				newIdom = d.intersect(p, newIdom)
			}
			if newIdom != NoBlockID && d.idom[b] != newIdom {
				d.idom[b] = newIdom
				changed = true
			}
		}
	}
	for _, b := range order[1:] {
		d.depth[b] = d.depth[d.idom[b]] + 1
	}
	return d
}

func (d *DomTree) intersect(a, b BlockID) BlockID {
	for a != b {
		for d.rpo[a] > d.rpo[b] {
			a = d.idom[a]
		}
		for d.rpo[b] > d.rpo[a] {
			b = d.idom[b]
		}
	}
	return a
}

// Reachable reports whether b is reachable from the entry.
func (d *DomTree) Reachable(b BlockID) bool {
	return b >= 0 && int(b) < len(d.idom) && d.idom[b] != NoBlockID
}

// IDom returns the immediate dominator of b, or NoBlockID for the entry
// and for unreachable blocks.
func (d *DomTree) IDom(b BlockID) BlockID {
	if !d.Reachable(b) || b == d.entry {
		return NoBlockID
	}
	return d.idom[b]
}

// Dominates reports whether every path from the entry to b passes
// through a. A block dominates itself.
func (d *DomTree) Dominates(a, b BlockID) bool {
	if !d.Reachable(a) || !d.Reachable(b) {
		return false
	}
	for d.depth[b] > d.depth[a] {
		b = d.idom[b]
	}
	return a == b
}

// ProperlyDominates is Dominates excluding a == b.
func (d *DomTree) ProperlyDominates(a, b BlockID) bool {
	return a != b && d.Dominates(a, b)
}

// AddBlock registers a block created after the tree was computed, such
// as the result of SplitEdge.
func (d *DomTree) AddBlock(b, idom BlockID) {
	for int(b) >= len(d.idom) {
		d.idom = append(d.idom, NoBlockID)
		d.rpo = append(d.rpo, -1)
		d.depth = append(d.depth, 0)
	}
	d.idom[b] = idom
	d.depth[b] = d.depth[idom] + 1
	// a split block sits between idom and its old children
	d.rpo[b] = d.rpo[idom]
}

// DominatedBoundary lists the blocks dominated by root, in reverse
// postorder, where a value allocated in root must be released: exits
// ending in return and blocks with at least one successor outside root's
// dominance region.
func (d *DomTree) DominatedBoundary(f *Func, root BlockID) []BlockID {
	var out []BlockID
	for _, b := range f.RPO() {
		if !d.Dominates(root, b) {
			continue
		}
		t := f.Terminator(b)
		if t == nil {
			continue
		}
		if t.Op == OpReturn {
			out = append(out, b)
			continue
		}
		for _, s := range t.Successors() {
			if !d.Dominates(root, s) {
				out = append(out, b)
				break
			}
		}
	}
	return out
}

// InstrDominates reports whether a executes before b on every path
// reaching b. An instruction dominates itself.
func (f *Func) InstrDominates(d *DomTree, a, b InstrID) bool {
	ia, ib := f.Instrs[a], f.Instrs[b]
	if ia.Block != ib.Block {
		return d.ProperlyDominates(ia.Block, ib.Block)
	}
	return f.IndexInBlock(a) <= f.IndexInBlock(b)
}

// ValueDominatesInstr reports whether v is available at inst.
func (f *Func) ValueDominatesInstr(d *DomTree, v ValueID, inst InstrID) bool {
	val := f.Value(v)
	switch {
	case val == nil:
		return false
	case val.Kind == ValueUndef:
		return true
	case val.Kind == ValueParam:
		return d.Dominates(val.Block, f.Instrs[inst].Block)
	}
	return val.Instr != inst && f.InstrDominates(d, val.Instr, inst)
}
