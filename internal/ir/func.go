package ir

import (
	"slices"

	"addrlower/internal/types"
)

// Block is a basic block. Its last instruction is the terminator.
type Block struct {
	ID      BlockID
	Params  []ValueID
	Instrs  []InstrID
	Deleted bool
}

// Func is a function body in arena form. IDs index directly into
// Values, Instrs and Blocks; deleted entries stay in place.
type Func struct {
	Name   string
	Sig    Signature
	Values []*Value
	Instrs []*Instr
	Blocks []*Block
	Entry  BlockID

	// Lowered is set once no opaque object values remain.
	Lowered bool
}

// Module groups functions that share one type interner.
type Module struct {
	Name  string
	Funcs []*Func
}

// NewFunc creates a function with an entry block whose parameters follow
// sig. Ownership of each parameter is derived from its convention.
func NewFunc(name string, sig Signature, ti *types.Interner) *Func {
	f := &Func{Name: name, Sig: sig}
	f.Entry = f.NewBlock()
	for _, p := range sig.Params {
		own := OwnOwned
		switch {
		case ti.IsTrivial(p.Type):
			own = OwnNone
		case p.Conv.Guaranteed():
			own = OwnGuaranteed
		case p.Conv == ConvDirectUnowned:
			own = OwnUnowned
		}
		f.AddBlockParam(f.Entry, p.Type, own)
	}
	return f
}

// NewBlock appends an empty block.
func (f *Func) NewBlock() BlockID {
	id := BlockID(nextID(len(f.Blocks), "block"))
	f.Blocks = append(f.Blocks, &Block{ID: id})
	return id
}

func (f *Func) Value(id ValueID) *Value {
	if id < 0 || int(id) >= len(f.Values) {
		return nil
	}
	return f.Values[id]
}

func (f *Func) Instr(id InstrID) *Instr {
	if id < 0 || int(id) >= len(f.Instrs) {
		return nil
	}
	return f.Instrs[id]
}

func (f *Func) Block(id BlockID) *Block {
	if id < 0 || int(id) >= len(f.Blocks) {
		return nil
	}
	return f.Blocks[id]
}

// Params returns the function's formal parameters.
func (f *Func) Params() []ValueID {
	return f.Blocks[f.Entry].Params
}

// Def returns the instruction defining v, or nil for parameters and undef.
func (f *Func) Def(v ValueID) *Instr {
	val := f.Value(v)
	if val == nil || val.Kind != ValueResult {
		return nil
	}
	return f.Instrs[val.Instr]
}

// DefBlock returns the block in which v becomes available.
func (f *Func) DefBlock(v ValueID) BlockID {
	val := f.Value(v)
	switch {
	case val == nil:
		return NoBlockID
	case val.Kind == ValueParam:
		return val.Block
	case val.Kind == ValueResult:
		return f.Instrs[val.Instr].Block
	default:
		return f.Entry
	}
}

// Terminator returns the last instruction of b when it is a terminator.
func (f *Func) Terminator(b BlockID) *Instr {
	blk := f.Block(b)
	if blk == nil || len(blk.Instrs) == 0 {
		return nil
	}
	last := f.Instrs[blk.Instrs[len(blk.Instrs)-1]]
	if !last.Op.IsTerminator() {
		return nil
	}
	return last
}

// IndexInBlock returns the position of inst inside its block.
func (f *Func) IndexInBlock(inst InstrID) int {
	in := f.Instrs[inst]
	return slices.Index(f.Blocks[in.Block].Instrs, inst)
}

// Next returns the instruction following inst, or NoInstrID.
func (f *Func) Next(inst InstrID) InstrID {
	in := f.Instrs[inst]
	list := f.Blocks[in.Block].Instrs
	i := slices.Index(list, inst)
	if i < 0 || i+1 >= len(list) {
		return NoInstrID
	}
	return list[i+1]
}

// Prev returns the instruction preceding inst, or NoInstrID.
func (f *Func) Prev(inst InstrID) InstrID {
	in := f.Instrs[inst]
	list := f.Blocks[in.Block].Instrs
	i := slices.Index(list, inst)
	if i <= 0 {
		return NoInstrID
	}
	return list[i-1]
}

// LiveBlocks lists blocks that have not been deleted, in ID order.
func (f *Func) LiveBlocks() []BlockID {
	out := make([]BlockID, 0, len(f.Blocks))
	for _, b := range f.Blocks {
		if !b.Deleted {
			out = append(out, b.ID)
		}
	}
	return out
}

// ExitBlocks lists blocks that end in a return.
func (f *Func) ExitBlocks() []BlockID {
	var out []BlockID
	for _, b := range f.LiveBlocks() {
		if t := f.Terminator(b); t != nil && t.Op == OpReturn {
			out = append(out, b)
		}
	}
	return out
}

// AddressRoot follows address projections back to the address they were
// derived from.
func (f *Func) AddressRoot(addr ValueID) ValueID {
	for {
		def := f.Def(addr)
		if def == nil {
			return addr
		}
		switch {
		case def.Op.IsAddressProjection():
			addr = def.Args[0]
		case def.Op == OpStoreBorrow:
			addr = def.Args[1]
		default:
			return addr
		}
	}
}
