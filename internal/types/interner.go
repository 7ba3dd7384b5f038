package types

import (
	"fmt"
	"sync"

	"fortio.org/safecast"
)

// Builtins stores TypeIDs for common primitive types.
type Builtins struct {
	Invalid TypeID
	Unit    TypeID
	Bool    TypeID
	Int     TypeID
}

// Interner provides stable TypeIDs by hashing structural descriptors.
// It is safe for concurrent use; lowering interns address types while other
// functions are being lowered.
type Interner struct {
	mu       sync.RWMutex
	types    []Type
	index    map[typeKey]TypeID
	builtins Builtins

	structs     []StructInfo
	tuples      []TupleInfo
	enums       []EnumInfo
	named       []NamedInfo
	opened      []OpenedInfo
	opaqueMemo  map[TypeID]bool
	trivialMemo map[TypeID]bool
}

// NewInterner constructs an interner seeded with built-in primitives.
func NewInterner() *Interner {
	in := &Interner{
		index:       make(map[typeKey]TypeID, 64),
		opaqueMemo:  make(map[TypeID]bool, 64),
		trivialMemo: make(map[TypeID]bool, 64),
	}
	// reserve slot 0 of every side table as invalid sentinel
	in.structs = append(in.structs, StructInfo{})
	in.tuples = append(in.tuples, TupleInfo{})
	in.enums = append(in.enums, EnumInfo{})
	in.named = append(in.named, NamedInfo{})
	in.opened = append(in.opened, OpenedInfo{})
	in.builtins.Invalid = in.internRaw(Type{Kind: KindInvalid})
	in.builtins.Unit = in.Intern(Type{Kind: KindUnit})
	in.builtins.Bool = in.Intern(Type{Kind: KindBool})
	in.builtins.Int = in.Intern(MakeInt(WidthAny))
	return in
}

// Builtins returns TypeIDs for primitive types.
func (in *Interner) Builtins() Builtins {
	return in.builtins
}

// Intern ensures the provided descriptor has a stable TypeID.
func (in *Interner) Intern(t Type) TypeID {
	if t.Kind == KindInvalid {
		return NoTypeID
	}
	key := typeKey(t)
	in.mu.RLock()
	id, ok := in.index[key]
	in.mu.RUnlock()
	if ok {
		return id
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if id, ok := in.index[key]; ok {
		return id
	}
	return in.internLocked(t)
}

// internRaw adds the descriptor to the storage without consulting the map.
func (in *Interner) internRaw(t Type) TypeID {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.internLocked(t)
}

func (in *Interner) internLocked(t Type) TypeID {
	lenTypes, err := safecast.Conv[uint32](len(in.types))
	if err != nil {
		panic(fmt.Errorf("len(types) overflow: %w", err))
	}
	id := TypeID(lenTypes)
	in.types = append(in.types, t)
	in.index[typeKey(t)] = id
	return id
}

// Lookup returns the descriptor for a TypeID.
func (in *Interner) Lookup(id TypeID) (Type, bool) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	if id == NoTypeID || int(id) >= len(in.types) {
		return Type{}, false
	}
	return in.types[id], true
}

// MustLookup panics when id is invalid.
func (in *Interner) MustLookup(id TypeID) Type {
	tt, ok := in.Lookup(id)
	if !ok {
		panic("types: invalid TypeID")
	}
	return tt
}

// Len reports how many descriptors are interned, including the invalid one.
func (in *Interner) Len() int {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return len(in.types)
}

// AddressOf returns the address type whose element is elem.
func (in *Interner) AddressOf(elem TypeID) TypeID {
	if tt, ok := in.Lookup(elem); ok && tt.Kind == KindAddress {
		return elem
	}
	return in.Intern(MakeAddress(elem))
}

// IsAddress reports whether id describes an address.
func (in *Interner) IsAddress(id TypeID) bool {
	tt, ok := in.Lookup(id)
	return ok && tt.Kind == KindAddress
}

// ObjectType strips one address level, returning id unchanged for objects.
func (in *Interner) ObjectType(id TypeID) TypeID {
	tt, ok := in.Lookup(id)
	if ok && tt.Kind == KindAddress {
		return tt.Elem
	}
	return id
}

type typeKey struct {
	Kind    Kind
	Elem    TypeID
	Width   Width
	Payload uint32
}

func cloneTypeArgs(args []TypeID) []TypeID {
	if len(args) == 0 {
		return nil
	}
	out := make([]TypeID, len(args))
	copy(out, args)
	return out
}

func slotOf(n int, what string) uint32 {
	slot, err := safecast.Conv[uint32](n - 1)
	if err != nil {
		panic(fmt.Errorf("%s info overflow: %w", what, err))
	}
	return slot
}
