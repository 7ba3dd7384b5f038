package lower

import (
	"fmt"

	"addrlower/internal/ir"
)

// ProjKind records how a storage entry obtains its memory.
type ProjKind uint8

const (
	// ProjNone: the entry owns its address (allocation or parameter).
	ProjNone ProjKind = iota
	// ProjDef: the entry reuses the storage of the operand it was
	// produced from.
	ProjDef
	// ProjUse: the entry lives inside the storage of the value it is
	// composed into, or of the merge it is coalesced with.
	ProjUse
)

func (k ProjKind) String() string {
	switch k {
	case ProjDef:
		return "def"
	case ProjUse:
		return "use"
	default:
		return "root"
	}
}

// PhiOperand is the operand position of a use projection into a merge.
const PhiOperand = -1

// Storage describes the memory backing one opaque value.
type Storage struct {
	Value ir.ValueID
	// Addr is the root address for ProjNone entries and the memoized
	// materialized address for projections.
	Addr ir.ValueID

	Kind    ProjKind
	Target  int // ordinal of the storage projected from or into
	Operand int // operand position in the target's definition

	// Reused marks def projections through destructive or reinterpreting
	// instructions; their address only exists once the instruction is
	// rewritten.
	Reused          bool
	InitializesEnum bool
	Rewritten       bool
	Lexical         bool
}

// IsAllocated reports whether the entry received a storage decision.
func (st *Storage) IsAllocated() bool {
	return st.Addr != ir.NoValueID || st.Kind != ProjNone
}

// IsPhiProjection reports whether the entry is coalesced with a merge.
func (st *Storage) IsPhiProjection() bool {
	return st.Kind == ProjUse && st.Operand == PhiOperand
}

// IsComposingUse reports whether the entry projects into an aggregate
// or an indirect result.
func (st *Storage) IsComposingUse() bool {
	return st.Kind == ProjUse && st.Operand != PhiOperand
}

// Table maps opaque values to storage. Ordinals follow collection order,
// which is reverse postorder of definitions.
type Table struct {
	entries []Storage
	index   map[ir.ValueID]int
	stable  bool
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{index: make(map[ir.ValueID]int)}
}

// Insert appends v and returns its ordinal.
func (t *Table) Insert(v ir.ValueID) int {
	if t.stable {
		panic(fmt.Errorf("lower: insert of %%%d into stable storage table", v))
	}
	if ord, ok := t.index[v]; ok {
		return ord
	}
	ord := len(t.entries)
	t.entries = append(t.entries, Storage{Value: v, Addr: ir.NoValueID, Target: -1})
	t.index[v] = ord
	return ord
}

// Ordinal returns the position of v.
func (t *Table) Ordinal(v ir.ValueID) (int, bool) {
	ord, ok := t.index[v]
	return ord, ok
}

// At returns the entry at ordinal ord.
func (t *Table) At(ord int) *Storage {
	return &t.entries[ord]
}

// Lookup returns the entry of v, or nil.
func (t *Table) Lookup(v ir.ValueID) *Storage {
	ord, ok := t.index[v]
	if !ok {
		return nil
	}
	return &t.entries[ord]
}

// Contains reports whether v has an entry.
func (t *Table) Contains(v ir.ValueID) bool {
	_, ok := t.index[v]
	return ok
}

// Len returns the number of entries.
func (t *Table) Len() int {
	return len(t.entries)
}

// Replace moves the entry of old to repl, keeping its ordinal. It is
// used when a block parameter is replaced by a placeholder load.
func (t *Table) Replace(old, repl ir.ValueID) {
	ord, ok := t.index[old]
	if !ok {
		return
	}
	delete(t.index, old)
	t.index[repl] = ord
	t.entries[ord].Value = repl
}

// SetStable freezes the set of entries.
func (t *Table) SetStable() {
	t.stable = true
}

// Target returns the entry st projects from or into.
func (t *Table) Target(st *Storage) *Storage {
	if st.Kind == ProjNone || st.Target < 0 {
		return nil
	}
	return &t.entries[st.Target]
}

// Base follows use projections to the entry that owns the memory. With
// allowInitEnum false, chains passing through an enum payload fail.
func (t *Table) Base(st *Storage, allowInitEnum bool) *Storage {
	for st.Kind == ProjUse {
		if st.InitializesEnum && !allowInitEnum {
			return nil
		}
		st = &t.entries[st.Target]
	}
	return st
}
