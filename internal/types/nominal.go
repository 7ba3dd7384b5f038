package types

import "slices"

// StructField describes a single stored property of a struct type.
type StructField struct {
	Name string
	Type TypeID
}

// StructInfo stores metadata for a struct type.
type StructInfo struct {
	Name   string
	Fields []StructField
}

// EnumCase describes one case of an enum. Payload is NoTypeID for cases
// without associated data.
type EnumCase struct {
	Name    string
	Payload TypeID
}

// EnumInfo stores metadata for an enum (tagged union) type.
type EnumInfo struct {
	Name  string
	Cases []EnumCase
}

// NamedInfo stores the name of a type parameter, existential or resilient
// nominal type.
type NamedInfo struct {
	Name string
}

// OpenedInfo stores the opened type of an existential. Origin is the ID of
// the IR value that opened it, or -1 when not yet bound.
type OpenedInfo struct {
	Name   string
	Origin int32
}

// RegisterStruct allocates a nominal struct type with the given fields.
func (in *Interner) RegisterStruct(name string, fields []StructField) TypeID {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.structs = append(in.structs, StructInfo{Name: name, Fields: slices.Clone(fields)})
	return in.internLocked(Type{Kind: KindStruct, Payload: slotOf(len(in.structs), "struct")})
}

// StructInfo returns metadata for the provided struct TypeID.
func (in *Interner) StructInfo(id TypeID) (*StructInfo, bool) {
	tt, ok := in.Lookup(id)
	if !ok || tt.Kind != KindStruct {
		return nil, false
	}
	in.mu.RLock()
	defer in.mu.RUnlock()
	return &in.structs[tt.Payload], true
}

// RegisterEnum allocates a nominal enum type with the given cases.
func (in *Interner) RegisterEnum(name string, cases []EnumCase) TypeID {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.enums = append(in.enums, EnumInfo{Name: name, Cases: slices.Clone(cases)})
	return in.internLocked(Type{Kind: KindEnum, Payload: slotOf(len(in.enums), "enum")})
}

// EnumInfo returns metadata for the provided enum TypeID.
func (in *Interner) EnumInfo(id TypeID) (*EnumInfo, bool) {
	tt, ok := in.Lookup(id)
	if !ok || tt.Kind != KindEnum {
		return nil, false
	}
	in.mu.RLock()
	defer in.mu.RUnlock()
	return &in.enums[tt.Payload], true
}

// RegisterParam allocates a generic type parameter.
func (in *Interner) RegisterParam(name string) TypeID {
	return in.registerNamed(KindParam, name)
}

// RegisterExistential allocates an existential container type.
func (in *Interner) RegisterExistential(name string) TypeID {
	return in.registerNamed(KindExistential, name)
}

// RegisterResilient allocates a nominal type with statically unknown layout.
func (in *Interner) RegisterResilient(name string) TypeID {
	return in.registerNamed(KindResilient, name)
}

// RegisterRef allocates a class reference type.
func (in *Interner) RegisterRef(name string) TypeID {
	return in.registerNamed(KindRef, name)
}

func (in *Interner) registerNamed(kind Kind, name string) TypeID {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.named = append(in.named, NamedInfo{Name: name})
	return in.internLocked(Type{Kind: kind, Payload: slotOf(len(in.named), "named")})
}

// RegisterOpened allocates the opened type of an existential. The origin is
// bound later with BindOpened once the opening value exists.
func (in *Interner) RegisterOpened(name string) TypeID {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.opened = append(in.opened, OpenedInfo{Name: name, Origin: -1})
	return in.internLocked(Type{Kind: KindOpened, Payload: slotOf(len(in.opened), "opened")})
}

// BindOpened records the IR value that opens the given opened type.
func (in *Interner) BindOpened(id TypeID, origin int32) {
	tt, ok := in.Lookup(id)
	if !ok || tt.Kind != KindOpened {
		return
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	in.opened[tt.Payload].Origin = origin
}

// OpenedInfo returns metadata for an opened type.
func (in *Interner) OpenedInfo(id TypeID) (*OpenedInfo, bool) {
	tt, ok := in.Lookup(id)
	if !ok || tt.Kind != KindOpened {
		return nil, false
	}
	in.mu.RLock()
	defer in.mu.RUnlock()
	return &in.opened[tt.Payload], true
}

func (in *Interner) namedInfo(tt Type) string {
	in.mu.RLock()
	defer in.mu.RUnlock()
	if int(tt.Payload) >= len(in.named) {
		return "?"
	}
	return in.named[tt.Payload].Name
}

// FieldType returns the type of field idx of a struct or tuple type.
func (in *Interner) FieldType(id TypeID, idx int) (TypeID, bool) {
	if info, ok := in.StructInfo(id); ok {
		if idx < 0 || idx >= len(info.Fields) {
			return NoTypeID, false
		}
		return info.Fields[idx].Type, true
	}
	if info, ok := in.TupleInfo(id); ok {
		if idx < 0 || idx >= len(info.Elems) {
			return NoTypeID, false
		}
		return info.Elems[idx], true
	}
	return NoTypeID, false
}

// FieldCount returns the number of fields of a struct or tuple type.
func (in *Interner) FieldCount(id TypeID) int {
	if info, ok := in.StructInfo(id); ok {
		return len(info.Fields)
	}
	if info, ok := in.TupleInfo(id); ok {
		return len(info.Elems)
	}
	return 0
}

// CasePayload returns the payload type of case idx of an enum type.
func (in *Interner) CasePayload(id TypeID, idx int) (TypeID, bool) {
	info, ok := in.EnumInfo(id)
	if !ok || idx < 0 || idx >= len(info.Cases) {
		return NoTypeID, false
	}
	return info.Cases[idx].Payload, true
}

// CaseName returns the name of case idx of an enum type.
func (in *Interner) CaseName(id TypeID, idx int) string {
	info, ok := in.EnumInfo(id)
	if !ok || idx < 0 || idx >= len(info.Cases) {
		return "?"
	}
	return info.Cases[idx].Name
}
