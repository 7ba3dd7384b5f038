package ir

import (
	"fmt"
	"slices"

	"addrlower/internal/types"
)

func (f *Func) newValue(kind ValueKind, ty types.TypeID, own Ownership) *Value {
	id := ValueID(nextID(len(f.Values), "value"))
	v := &Value{ID: id, Kind: kind, Type: ty, Own: own, Instr: NoInstrID, Block: NoBlockID}
	f.Values = append(f.Values, v)
	return v
}

// Undef returns a fresh placeholder value of type ty.
func (f *Func) Undef(ty types.TypeID) ValueID {
	return f.newValue(ValueUndef, ty, OwnNone).ID
}

// AddBlockParam appends a parameter to b.
func (f *Func) AddBlockParam(b BlockID, ty types.TypeID, own Ownership) ValueID {
	return f.InsertBlockParam(b, len(f.Blocks[b].Params), ty, own)
}

// InsertBlockParam inserts a parameter at position idx of b.
func (f *Func) InsertBlockParam(b BlockID, idx int, ty types.TypeID, own Ownership) ValueID {
	blk := f.Blocks[b]
	v := f.newValue(ValueParam, ty, own)
	v.Block = b
	blk.Params = slices.Insert(blk.Params, idx, v.ID)
	f.renumberParams(blk)
	return v.ID
}

// RemoveBlockParam deletes parameter idx of b. The parameter must be unused.
func (f *Func) RemoveBlockParam(b BlockID, idx int) {
	blk := f.Blocks[b]
	v := f.Values[blk.Params[idx]]
	if len(v.Uses) != 0 {
		panic(fmt.Errorf("ir: removing bb%d param %%%d with %d uses", b, v.ID, len(v.Uses)))
	}
	blk.Params = slices.Delete(blk.Params, idx, idx+1)
	f.renumberParams(blk)
}

func (f *Func) renumberParams(blk *Block) {
	for i, p := range blk.Params {
		f.Values[p].Index = i
	}
}

func (f *Func) addUse(v ValueID, u Use) {
	if v == NoValueID {
		return
	}
	val := f.Values[v]
	val.Uses = append(val.Uses, u)
}

func (f *Func) removeUse(v ValueID, u Use) {
	if v == NoValueID {
		return
	}
	val := f.Values[v]
	if i := slices.Index(val.Uses, u); i >= 0 {
		val.Uses = slices.Delete(val.Uses, i, i+1)
	}
}

// SetOperand replaces operand idx of inst with v, keeping use lists current.
func (f *Func) SetOperand(inst InstrID, idx int, v ValueID) {
	in := f.Instrs[inst]
	u := Use{Instr: inst, Index: idx}
	f.removeUse(in.Args[idx], u)
	in.Args[idx] = v
	f.addUse(v, u)
}

// SetArgs replaces all operands of inst.
func (f *Func) SetArgs(inst InstrID, args []ValueID) {
	in := f.Instrs[inst]
	for i, a := range in.Args {
		f.removeUse(a, Use{Instr: inst, Index: i})
	}
	in.Args = slices.Clone(args)
	for i, a := range in.Args {
		f.addUse(a, Use{Instr: inst, Index: i})
	}
}

// ReplaceAllUsesWith redirects every use of old to repl.
func (f *Func) ReplaceAllUsesWith(old, repl ValueID) {
	if old == repl {
		return
	}
	uses := slices.Clone(f.Values[old].Uses)
	for _, u := range uses {
		f.SetOperand(u.Instr, u.Index, repl)
	}
}

// insertInstr places a new instruction into b before anchor, or at the
// end of b when anchor is NoInstrID.
func (f *Func) insertInstr(in *Instr, b BlockID, anchor InstrID) *Instr {
	in.ID = InstrID(nextID(len(f.Instrs), "instr"))
	in.Block = b
	f.Instrs = append(f.Instrs, in)
	blk := f.Blocks[b]
	if anchor == NoInstrID {
		blk.Instrs = append(blk.Instrs, in.ID)
	} else {
		i := slices.Index(blk.Instrs, anchor)
		if i < 0 {
			panic(fmt.Errorf("ir: anchor i%d not in bb%d", anchor, b))
		}
		blk.Instrs = slices.Insert(blk.Instrs, i, in.ID)
	}
	for i, a := range in.Args {
		f.addUse(a, Use{Instr: in.ID, Index: i})
	}
	return in
}

// MoveBefore relocates inst so that it executes immediately before anchor.
func (f *Func) MoveBefore(inst, anchor InstrID) {
	in := f.Instrs[inst]
	src := f.Blocks[in.Block]
	if i := slices.Index(src.Instrs, inst); i >= 0 {
		src.Instrs = slices.Delete(src.Instrs, i, i+1)
	}
	dst := f.Instrs[anchor].Block
	blk := f.Blocks[dst]
	j := slices.Index(blk.Instrs, anchor)
	blk.Instrs = slices.Insert(blk.Instrs, j, inst)
	in.Block = dst
}

// MoveAfter relocates inst so that it executes immediately after anchor.
func (f *Func) MoveAfter(inst, anchor InstrID) {
	in := f.Instrs[inst]
	src := f.Blocks[in.Block]
	if i := slices.Index(src.Instrs, inst); i >= 0 {
		src.Instrs = slices.Delete(src.Instrs, i, i+1)
	}
	dst := f.Instrs[anchor].Block
	blk := f.Blocks[dst]
	j := slices.Index(blk.Instrs, anchor)
	blk.Instrs = slices.Insert(blk.Instrs, j+1, inst)
	in.Block = dst
}

// Erase removes inst. Its results must be unused.
func (f *Func) Erase(inst InstrID) {
	in := f.Instrs[inst]
	if in.Deleted {
		return
	}
	for _, r := range in.Results {
		if n := len(f.Values[r].Uses); n != 0 {
			panic(fmt.Errorf("ir: erasing %s i%d whose result %%%d has %d uses", in.Op, inst, r, n))
		}
	}
	for i, a := range in.Args {
		f.removeUse(a, Use{Instr: inst, Index: i})
	}
	blk := f.Blocks[in.Block]
	if i := slices.Index(blk.Instrs, inst); i >= 0 {
		blk.Instrs = slices.Delete(blk.Instrs, i, i+1)
	}
	in.Deleted = true
}

// EraseWithUsers removes inst together with every instruction that
// transitively uses one of its results.
func (f *Func) EraseWithUsers(inst InstrID) {
	in := f.Instrs[inst]
	if in.Deleted {
		return
	}
	for _, r := range in.Results {
		for len(f.Values[r].Uses) > 0 {
			u := f.Values[r].Uses[0]
			if f.Instrs[u.Instr].Op.IsTerminator() {
				// terminators cannot be removed; detach the operand instead
				f.SetOperand(u.Instr, u.Index, f.Undef(f.Values[r].Type))
				continue
			}
			f.EraseWithUsers(u.Instr)
		}
	}
	f.Erase(inst)
}

// DeleteDeadAlloc removes an alloc_stack whose only users are its
// deallocations. It reports whether the allocation was removed.
func (f *Func) DeleteDeadAlloc(inst InstrID) bool {
	in := f.Instrs[inst]
	if in.Deleted || in.Op != OpAllocStack {
		return false
	}
	addr := in.Results[0]
	for _, u := range f.Values[addr].Uses {
		if f.Instrs[u.Instr].Op != OpDeallocStack {
			return false
		}
	}
	for len(f.Values[addr].Uses) > 0 {
		f.Erase(f.Values[addr].Uses[0].Instr)
	}
	f.Erase(inst)
	return true
}

// SplitEdge inserts an empty block on the edge from -> to and returns it.
// The edge must not carry branch arguments.
func (f *Func) SplitEdge(from, to BlockID) BlockID {
	term := f.Terminator(from)
	if term == nil {
		panic(fmt.Errorf("ir: bb%d has no terminator", from))
	}
	if term.Op == OpBr && len(term.Args) > 0 {
		panic(fmt.Errorf("ir: cannot split edge bb%d -> bb%d carrying arguments", from, to))
	}
	mid := f.NewBlock()
	f.insertInstr(&Instr{Op: OpBr, Targets: []BlockID{to}, Default: NoBlockID}, mid, NoInstrID)
	term.replaceSuccessor(to, mid)
	return mid
}

// RebuildUses recomputes every use list from instruction operands. It is
// needed after decoding a function from its serialized form.
func (f *Func) RebuildUses() {
	for _, v := range f.Values {
		v.Uses = nil
	}
	for _, b := range f.Blocks {
		if b.Deleted {
			continue
		}
		for _, id := range b.Instrs {
			for i, a := range f.Instrs[id].Args {
				f.addUse(a, Use{Instr: id, Index: i})
			}
		}
	}
}
