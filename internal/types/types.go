package types

import "fmt"

// TypeID uniquely identifies a type inside the interner.
type TypeID uint32

// NoTypeID marks the absence of a type.
const NoTypeID TypeID = 0

// Kind enumerates all supported kinds of types.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindUnit
	KindBool
	KindInt
	KindStruct
	KindTuple
	KindEnum
	// KindExistential is a boxed-in-place polymorphic container ("any P").
	KindExistential
	// KindParam is a generic type parameter with unknown layout.
	KindParam
	// KindOpened is the concrete type hidden inside an existential, made
	// visible by an open instruction. It depends on that instruction.
	KindOpened
	// KindResilient is a nominal type whose layout is not known statically.
	KindResilient
	KindAddress
	// KindRef is a reference-counted class reference: loadable, but
	// copies and destruction are not bitwise.
	KindRef
)

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindUnit:
		return "unit"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindStruct:
		return "struct"
	case KindTuple:
		return "tuple"
	case KindEnum:
		return "enum"
	case KindExistential:
		return "existential"
	case KindParam:
		return "param"
	case KindOpened:
		return "opened"
	case KindResilient:
		return "resilient"
	case KindAddress:
		return "address"
	case KindRef:
		return "ref"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Width captures the precision of integers.
type Width uint8

const (
	WidthAny Width = 0
	Width8   Width = 8
	Width16  Width = 16
	Width32  Width = 32
	Width64  Width = 64
)

// Type is a compact descriptor for any supported type.
type Type struct {
	Kind    Kind
	Elem    TypeID // for addresses
	Width   Width  // for integers
	Payload uint32 // slot in the per-kind side tables
}

// MakeInt describes a signed integer of the given width (WidthAny for "int").
func MakeInt(width Width) Type {
	return Type{Kind: KindInt, Width: width}
}

// MakeAddress describes the address of a value of type elem.
func MakeAddress(elem TypeID) Type {
	return Type{Kind: KindAddress, Elem: elem}
}
