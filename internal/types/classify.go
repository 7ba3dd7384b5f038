package types

import (
	"fmt"
	"strings"
)

// IsOpaque reports whether values of type id have a layout that is unknown
// at compile time and therefore must live in memory after lowering.
// Addresses are never opaque.
func (in *Interner) IsOpaque(id TypeID) bool {
	in.mu.RLock()
	v, ok := in.opaqueMemo[id]
	in.mu.RUnlock()
	if ok {
		return v
	}
	v = in.computeOpaque(id)
	in.mu.Lock()
	in.opaqueMemo[id] = v
	in.mu.Unlock()
	return v
}

func (in *Interner) computeOpaque(id TypeID) bool {
	tt, ok := in.Lookup(id)
	if !ok {
		return false
	}
	switch tt.Kind {
	case KindParam, KindOpened, KindResilient, KindExistential:
		return true
	case KindStruct, KindTuple, KindEnum:
		for _, elem := range in.elementTypes(id) {
			if in.IsOpaque(elem) {
				return true
			}
		}
	}
	return false
}

// IsTrivial reports whether values of type id can be copied bitwise and
// need no destruction.
func (in *Interner) IsTrivial(id TypeID) bool {
	in.mu.RLock()
	v, ok := in.trivialMemo[id]
	in.mu.RUnlock()
	if ok {
		return v
	}
	v = in.computeTrivial(id)
	in.mu.Lock()
	in.trivialMemo[id] = v
	in.mu.Unlock()
	return v
}

func (in *Interner) computeTrivial(id TypeID) bool {
	tt, ok := in.Lookup(id)
	if !ok {
		return false
	}
	switch tt.Kind {
	case KindUnit, KindBool, KindInt, KindAddress:
		return true
	case KindStruct, KindTuple, KindEnum:
		for _, elem := range in.elementTypes(id) {
			if !in.IsTrivial(elem) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// IsLoadable is the complement of IsOpaque for object types.
func (in *Interner) IsLoadable(id TypeID) bool {
	return !in.IsOpaque(id)
}

// elementTypes lists the directly contained types of an aggregate.
func (in *Interner) elementTypes(id TypeID) []TypeID {
	if info, ok := in.StructInfo(id); ok {
		out := make([]TypeID, 0, len(info.Fields))
		for _, f := range info.Fields {
			out = append(out, f.Type)
		}
		return out
	}
	if info, ok := in.TupleInfo(id); ok {
		return info.Elems
	}
	if info, ok := in.EnumInfo(id); ok {
		out := make([]TypeID, 0, len(info.Cases))
		for _, c := range info.Cases {
			if c.Payload != NoTypeID {
				out = append(out, c.Payload)
			}
		}
		return out
	}
	return nil
}

// OpenedOrigins returns the origins of all opened types that id mentions.
// Storage for a value of such a type can only be allocated after every
// origin is defined.
func (in *Interner) OpenedOrigins(id TypeID) []int32 {
	var out []int32
	seen := make(map[TypeID]struct{})
	var walk func(TypeID)
	walk = func(t TypeID) {
		if _, dup := seen[t]; dup {
			return
		}
		seen[t] = struct{}{}
		tt, ok := in.Lookup(t)
		if !ok {
			return
		}
		switch tt.Kind {
		case KindOpened:
			if info, ok := in.OpenedInfo(t); ok && info.Origin >= 0 {
				out = append(out, info.Origin)
			}
		case KindAddress:
			walk(tt.Elem)
		default:
			for _, elem := range in.elementTypes(t) {
				walk(elem)
			}
		}
	}
	walk(id)
	return out
}

// Name renders a human-readable name for id.
func (in *Interner) Name(id TypeID) string {
	tt, ok := in.Lookup(id)
	if !ok {
		return "<invalid>"
	}
	switch tt.Kind {
	case KindUnit:
		return "()"
	case KindBool:
		return "bool"
	case KindInt:
		if tt.Width == WidthAny {
			return "int"
		}
		return fmt.Sprintf("int%d", tt.Width)
	case KindStruct:
		if info, ok := in.StructInfo(id); ok {
			return info.Name
		}
	case KindEnum:
		if info, ok := in.EnumInfo(id); ok {
			return info.Name
		}
	case KindTuple:
		if info, ok := in.TupleInfo(id); ok {
			parts := make([]string, len(info.Elems))
			for i, e := range info.Elems {
				parts[i] = in.Name(e)
			}
			return "(" + strings.Join(parts, ", ") + ")"
		}
	case KindParam, KindResilient, KindRef:
		return in.namedInfo(tt)
	case KindExistential:
		return "any " + in.namedInfo(tt)
	case KindOpened:
		if info, ok := in.OpenedInfo(id); ok {
			return "@opened(" + info.Name + ")"
		}
	case KindAddress:
		return "*" + in.Name(tt.Elem)
	}
	return tt.Kind.String()
}
