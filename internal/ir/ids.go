package ir

import (
	"fmt"

	"fortio.org/safecast"

	"addrlower/internal/types"
)

type ValueID int32
type InstrID int32
type BlockID int32

const (
	NoValueID ValueID = -1
	NoInstrID InstrID = -1
	NoBlockID BlockID = -1
)

// Ownership classifies how a value's lifetime is managed.
type Ownership uint8

const (
	// OwnNone marks trivial values and addresses.
	OwnNone Ownership = iota
	// OwnOwned values must be consumed exactly once.
	OwnOwned
	// OwnGuaranteed values are borrowed for the duration of a scope.
	OwnGuaranteed
	// OwnUnowned values carry no lifetime obligations.
	OwnUnowned
)

func (o Ownership) String() string {
	switch o {
	case OwnNone:
		return "none"
	case OwnOwned:
		return "owned"
	case OwnGuaranteed:
		return "guaranteed"
	case OwnUnowned:
		return "unowned"
	default:
		return fmt.Sprintf("Ownership(%d)", o)
	}
}

// ValueKind distinguishes the definition sites of values.
type ValueKind uint8

const (
	// ValueResult is a result of an instruction.
	ValueResult ValueKind = iota
	// ValueParam is a block parameter. Entry block parameters are the
	// function's formal parameters.
	ValueParam
	// ValueUndef is a placeholder with no definition.
	ValueUndef
)

// Use is a single operand slot of an instruction.
type Use struct {
	Instr InstrID
	Index int
}

// Value is an SSA value.
type Value struct {
	ID    ValueID
	Kind  ValueKind
	Type  types.TypeID
	Own   Ownership
	Instr InstrID // defining instruction for results
	Block BlockID // owning block for parameters
	Index int     // result or parameter index
	Name  string
	Uses  []Use `msgpack:"-"`
}

// HasOneUse reports whether v has exactly one use.
func (v *Value) HasOneUse() bool {
	return len(v.Uses) == 1
}

func nextID(n int, what string) int32 {
	id, err := safecast.Conv[int32](n)
	if err != nil {
		panic(fmt.Errorf("ir: %s id overflow: %w", what, err))
	}
	return id
}
