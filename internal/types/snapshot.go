package types

import (
	"errors"
	"fmt"
	"slices"
)

// Snapshot is the serializable state of an Interner. Slot 0 of every table
// is the invalid sentinel.
type Snapshot struct {
	Types   []Type       `msgpack:"types"`
	Structs []StructInfo `msgpack:"structs"`
	Tuples  []TupleInfo  `msgpack:"tuples"`
	Enums   []EnumInfo   `msgpack:"enums"`
	Named   []NamedInfo  `msgpack:"named"`
	Opened  []OpenedInfo `msgpack:"opened"`
}

var errSnapshotPrefix = errors.New("types: snapshot does not start with the builtin descriptors")

// Snapshot copies the interner's tables.
func (in *Interner) Snapshot() Snapshot {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return Snapshot{
		Types:   slices.Clone(in.types),
		Structs: slices.Clone(in.structs),
		Tuples:  slices.Clone(in.tuples),
		Enums:   slices.Clone(in.enums),
		Named:   slices.Clone(in.named),
		Opened:  slices.Clone(in.opened),
	}
}

// Restore rebuilds an interner from a snapshot. TypeIDs are preserved.
func Restore(s Snapshot) (*Interner, error) {
	fresh := NewInterner()
	if len(s.Types) < len(fresh.types) {
		return nil, errSnapshotPrefix
	}
	for i, t := range fresh.types {
		if s.Types[i] != t {
			return nil, errSnapshotPrefix
		}
	}
	side := []struct {
		name string
		n    int
		kind Kind
	}{
		{"struct", len(s.Structs), KindStruct},
		{"tuple", len(s.Tuples), KindTuple},
		{"enum", len(s.Enums), KindEnum},
		{"opened", len(s.Opened), KindOpened},
	}
	for i, t := range s.Types {
		for _, sd := range side {
			if t.Kind == sd.kind && int(t.Payload) >= sd.n {
				return nil, fmt.Errorf("types: descriptor %d references missing %s slot %d", i, sd.name, t.Payload)
			}
		}
		switch t.Kind {
		case KindParam, KindExistential, KindResilient, KindRef:
			if int(t.Payload) >= len(s.Named) {
				return nil, fmt.Errorf("types: descriptor %d references missing named slot %d", i, t.Payload)
			}
		case KindAddress:
			if int(t.Elem) >= len(s.Types) {
				return nil, fmt.Errorf("types: address descriptor %d has unknown element %d", i, t.Elem)
			}
		}
	}

	in := &Interner{
		types:       slices.Clone(s.Types),
		index:       make(map[typeKey]TypeID, len(s.Types)),
		builtins:    fresh.builtins,
		structs:     nonEmpty(s.Structs),
		tuples:      nonEmpty(s.Tuples),
		enums:       nonEmpty(s.Enums),
		named:       nonEmpty(s.Named),
		opened:      nonEmpty(s.Opened),
		opaqueMemo:  make(map[TypeID]bool, len(s.Types)),
		trivialMemo: make(map[TypeID]bool, len(s.Types)),
	}
	for i, t := range in.types {
		in.index[typeKey(t)] = TypeID(i) //nolint:gosec // bounded by the snapshot length
	}
	return in, nil
}

func nonEmpty[T any](s []T) []T {
	if len(s) == 0 {
		var zero T
		return []T{zero}
	}
	return slices.Clone(s)
}
