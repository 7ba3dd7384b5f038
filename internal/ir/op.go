package ir

import "fmt"

// Op enumerates instruction opcodes.
type Op uint8

const (
	OpInvalid Op = iota

	// OpIntLit produces an integer constant.
	OpIntLit
	// OpStruct composes a struct from its fields.
	OpStruct
	// OpTuple composes a tuple from its elements.
	OpTuple
	// OpEnum composes an enum case with an optional payload.
	OpEnum
	// OpInitExistential wraps a concrete value in an existential container.
	OpInitExistential
	// OpStructExtract borrows a field out of a guaranteed struct.
	OpStructExtract
	// OpTupleExtract borrows an element out of a guaranteed tuple.
	OpTupleExtract
	// OpDestructureStruct consumes a struct into all of its fields.
	OpDestructureStruct
	// OpDestructureTuple consumes a tuple into all of its elements.
	OpDestructureTuple
	// OpUncheckedEnumData consumes an enum, producing the payload of a case
	// known to be active.
	OpUncheckedEnumData
	// OpOpenExistential exposes the concrete value inside an existential.
	OpOpenExistential
	// OpUncheckedBitwiseCast reinterprets a value as another type.
	OpUncheckedBitwiseCast
	// OpUnconditionalCheckedCast casts a value, trapping on failure.
	OpUnconditionalCheckedCast
	OpCopyValue
	OpDestroyValue
	OpBeginBorrow
	OpEndBorrow
	OpLoad
	OpLoadBorrow
	OpStore
	OpStoreBorrow
	OpApply
	OpDebugValue

	OpAllocStack
	OpDeallocStack
	OpCopyAddr
	OpStructElementAddr
	OpTupleElementAddr
	OpInitEnumDataAddr
	OpInjectEnumAddr
	OpUncheckedTakeEnumDataAddr
	OpInitExistentialAddr
	OpOpenExistentialAddr
	OpUncheckedAddrCast
	OpDestroyAddr
	OpDebugValueAddr
	OpUnconditionalCheckedCastAddr

	// OpBr jumps to a block passing arguments to its parameters.
	OpBr
	OpCondBr
	// OpSwitchEnum dispatches on an enum value; a case block with a
	// parameter receives the payload.
	OpSwitchEnum
	OpSwitchEnumAddr
	// OpCheckedCastBr casts a value; the success block receives the cast
	// value and the failure block receives the original value.
	OpCheckedCastBr
	OpCheckedCastAddrBr
	OpReturn
	OpUnreachable

	opCount
)

var opNames = [...]string{
	OpInvalid:                      "invalid",
	OpIntLit:                       "integer_literal",
	OpStruct:                       "struct",
	OpTuple:                        "tuple",
	OpEnum:                         "enum",
	OpInitExistential:              "init_existential",
	OpStructExtract:                "struct_extract",
	OpTupleExtract:                 "tuple_extract",
	OpDestructureStruct:            "destructure_struct",
	OpDestructureTuple:             "destructure_tuple",
	OpUncheckedEnumData:            "unchecked_enum_data",
	OpOpenExistential:              "open_existential",
	OpUncheckedBitwiseCast:         "unchecked_bitwise_cast",
	OpUnconditionalCheckedCast:     "unconditional_checked_cast",
	OpCopyValue:                    "copy_value",
	OpDestroyValue:                 "destroy_value",
	OpBeginBorrow:                  "begin_borrow",
	OpEndBorrow:                    "end_borrow",
	OpLoad:                         "load",
	OpLoadBorrow:                   "load_borrow",
	OpStore:                        "store",
	OpStoreBorrow:                  "store_borrow",
	OpApply:                        "apply",
	OpDebugValue:                   "debug_value",
	OpAllocStack:                   "alloc_stack",
	OpDeallocStack:                 "dealloc_stack",
	OpCopyAddr:                     "copy_addr",
	OpStructElementAddr:            "struct_element_addr",
	OpTupleElementAddr:             "tuple_element_addr",
	OpInitEnumDataAddr:             "init_enum_data_addr",
	OpInjectEnumAddr:               "inject_enum_addr",
	OpUncheckedTakeEnumDataAddr:    "unchecked_take_enum_data_addr",
	OpInitExistentialAddr:          "init_existential_addr",
	OpOpenExistentialAddr:          "open_existential_addr",
	OpUncheckedAddrCast:            "unchecked_addr_cast",
	OpDestroyAddr:                  "destroy_addr",
	OpDebugValueAddr:               "debug_value_addr",
	OpUnconditionalCheckedCastAddr: "unconditional_checked_cast_addr",
	OpBr:                           "br",
	OpCondBr:                       "cond_br",
	OpSwitchEnum:                   "switch_enum",
	OpSwitchEnumAddr:               "switch_enum_addr",
	OpCheckedCastBr:                "checked_cast_br",
	OpCheckedCastAddrBr:            "checked_cast_addr_br",
	OpReturn:                       "return",
	OpUnreachable:                  "unreachable",
}

func (op Op) String() string {
	if op < opCount {
		return opNames[op]
	}
	return fmt.Sprintf("Op(%d)", op)
}

// Valid reports whether op is a known instruction.
func (op Op) Valid() bool {
	return op > OpInvalid && op < opCount
}

// IsTerminator reports whether op ends a block.
func (op Op) IsTerminator() bool {
	return op >= OpBr && op < opCount
}

// IsAddressProjection reports whether op derives an address from the
// address in its first operand.
func (op Op) IsAddressProjection() bool {
	switch op {
	case OpStructElementAddr, OpTupleElementAddr, OpInitEnumDataAddr,
		OpUncheckedTakeEnumDataAddr, OpInitExistentialAddr,
		OpOpenExistentialAddr, OpUncheckedAddrCast:
		return true
	}
	return false
}
