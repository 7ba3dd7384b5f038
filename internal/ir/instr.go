package ir

import "addrlower/internal/types"

// LoadQual selects the ownership effect of a load.
type LoadQual uint8

const (
	// LoadTake moves the value out of memory, leaving it uninitialized.
	LoadTake LoadQual = iota
	// LoadCopy copies the value, leaving memory initialized.
	LoadCopy
	// LoadTrivial loads a trivial value.
	LoadTrivial
)

func (q LoadQual) String() string {
	switch q {
	case LoadTake:
		return "take"
	case LoadCopy:
		return "copy"
	default:
		return "trivial"
	}
}

// StoreQual selects whether a store initializes or reassigns memory.
type StoreQual uint8

const (
	StoreInit StoreQual = iota
	StoreAssign
	StoreTrivial
)

func (q StoreQual) String() string {
	switch q {
	case StoreInit:
		return "init"
	case StoreAssign:
		return "assign"
	default:
		return "trivial"
	}
}

// SwitchCase maps an enum case index to a successor block.
type SwitchCase struct {
	Case   int
	Target BlockID
}

// Instr is a single instruction. Only the fields relevant to Op are set.
type Instr struct {
	ID      InstrID
	Op      Op
	Block   BlockID
	Args    []ValueID
	Results []ValueID

	Field   int          // field, element or enum case index
	Type    types.TypeID // allocated, target or concrete type
	Int     int64
	Load    LoadQual
	Store   StoreQual
	Take    bool // copy_addr source is consumed
	Init    bool // copy_addr destination is uninitialized
	Lexical bool
	Name    string // callee or debug variable name
	Sig     *Signature

	// AddrForm marks an apply whose arguments follow the lowered
	// convention: one address per indirect result, then one per parameter
	// with indirect parameters passed by address.
	AddrForm bool

	Targets []BlockID
	Cases   []SwitchCase
	Default BlockID

	Deleted bool
}

// Result returns the single result of inst.
func (inst *Instr) Result() ValueID {
	if len(inst.Results) == 0 {
		return NoValueID
	}
	return inst.Results[0]
}

// Successors lists the blocks a terminator may transfer control to.
func (inst *Instr) Successors() []BlockID {
	switch inst.Op {
	case OpBr, OpCondBr, OpCheckedCastBr, OpCheckedCastAddrBr:
		return inst.Targets
	case OpSwitchEnum, OpSwitchEnumAddr:
		out := make([]BlockID, 0, len(inst.Cases)+1)
		for _, c := range inst.Cases {
			out = append(out, c.Target)
		}
		if inst.Default != NoBlockID {
			out = append(out, inst.Default)
		}
		return out
	}
	return nil
}

// replaceSuccessor redirects every edge to from so that it targets to.
func (inst *Instr) replaceSuccessor(from, to BlockID) {
	for i, t := range inst.Targets {
		if t == from {
			inst.Targets[i] = to
		}
	}
	for i := range inst.Cases {
		if inst.Cases[i].Target == from {
			inst.Cases[i].Target = to
		}
	}
	if inst.Default == from {
		inst.Default = to
	}
}

// Convention describes how a parameter is passed.
type Convention uint8

const (
	ConvDirectOwned Convention = iota
	ConvDirectGuaranteed
	ConvDirectUnowned
	ConvIndirectOwned
	ConvIndirectGuaranteed
)

func (c Convention) String() string {
	switch c {
	case ConvDirectOwned:
		return "owned"
	case ConvDirectGuaranteed:
		return "guaranteed"
	case ConvDirectUnowned:
		return "unowned"
	case ConvIndirectOwned:
		return "in"
	case ConvIndirectGuaranteed:
		return "in_guaranteed"
	}
	return "?"
}

// Indirect reports whether the parameter is passed by address.
func (c Convention) Indirect() bool {
	return c == ConvIndirectOwned || c == ConvIndirectGuaranteed
}

// Guaranteed reports whether the callee borrows the argument.
func (c Convention) Guaranteed() bool {
	return c == ConvDirectGuaranteed || c == ConvIndirectGuaranteed
}

// Param is a formal parameter of a signature.
type Param struct {
	Type types.TypeID
	Conv Convention
}

// Result is a formal result of a signature.
type Result struct {
	Type     types.TypeID
	Indirect bool
}

// Signature lists the formal parameters and results of a function.
type Signature struct {
	Params  []Param
	Results []Result
}

// NumIndirectResults counts results returned through caller storage.
func (s *Signature) NumIndirectResults() int {
	n := 0
	for _, r := range s.Results {
		if r.Indirect {
			n++
		}
	}
	return n
}

// HasIndirect reports whether any parameter or result is passed by address.
func (s *Signature) HasIndirect() bool {
	if s.NumIndirectResults() > 0 {
		return true
	}
	for _, p := range s.Params {
		if p.Conv.Indirect() {
			return true
		}
	}
	return false
}

// IndirectResultIndex maps result i to its position among the indirect
// results, or -1 when result i is direct.
func (s *Signature) IndirectResultIndex(i int) int {
	if i < 0 || i >= len(s.Results) || !s.Results[i].Indirect {
		return -1
	}
	n := 0
	for _, r := range s.Results[:i] {
		if r.Indirect {
			n++
		}
	}
	return n
}
