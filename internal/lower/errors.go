package lower

import (
	"errors"
	"fmt"
	"strings"

	"addrlower/internal/ir"
	"addrlower/internal/types"
)

// ErrorKind classifies internal invariant violations.
type ErrorKind uint8

const (
	// ErrOwnership: a guaranteed opaque value has no storage to reuse.
	ErrOwnership ErrorKind = iota + 1
	// ErrProjectionConflict: storage would project in two directions.
	ErrProjectionConflict
	// ErrUnresolvedAddress: an address was requested for a value without
	// storage.
	ErrUnresolvedAddress
	// ErrDominance: chosen storage does not dominate a use it must cover.
	ErrDominance
	// ErrUnsupported: the instruction has no address form.
	ErrUnsupported
)

func (k ErrorKind) String() string {
	switch k {
	case ErrOwnership:
		return "ownership violation"
	case ErrProjectionConflict:
		return "projection conflict"
	case ErrUnresolvedAddress:
		return "unresolved address"
	case ErrDominance:
		return "dominance failure"
	case ErrUnsupported:
		return "unsupported instruction"
	default:
		return fmt.Sprintf("ErrorKind(%d)", k)
	}
}

// InvariantError reports a defect in the input or in the pass. Lowering
// cannot continue after one is raised.
type InvariantError struct {
	Kind  ErrorKind
	Func  string
	Value string // offending value, rendered
	Instr string // offending instruction, rendered
	Msg   string
}

func (e *InvariantError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "lower %s: %s: %s", e.Func, e.Kind, e.Msg)
	if e.Value != "" {
		sb.WriteString("\n  value: " + e.Value)
	}
	if e.Instr != "" {
		sb.WriteString("\n  instr: " + e.Instr)
	}
	return sb.String()
}

// IsKind reports whether err is an InvariantError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var ie *InvariantError
	return errors.As(err, &ie) && ie.Kind == kind
}

// fatal aborts lowering of the current function.
func (s *state) fatal(kind ErrorKind, v ir.ValueID, inst *ir.Instr, format string, args ...any) {
	err := &InvariantError{Kind: kind, Func: s.f.Name, Msg: fmt.Sprintf(format, args...)}
	if v != ir.NoValueID {
		err.Value = describeValue(s.f, s.ti, v)
	}
	if inst == nil && v != ir.NoValueID {
		inst = s.f.Def(v)
	}
	if inst != nil {
		err.Instr = describeInstr(s.f, s.ti, inst)
	}
	panic(err)
}

func describeValue(f *ir.Func, ti *types.Interner, v ir.ValueID) string {
	val := f.Value(v)
	if val == nil {
		return fmt.Sprintf("%%%d <missing>", v)
	}
	where := "undef"
	switch val.Kind {
	case ir.ValueParam:
		where = fmt.Sprintf("param %d of bb%d", val.Index, val.Block)
	case ir.ValueResult:
		where = fmt.Sprintf("result %d of i%d", val.Index, val.Instr)
	}
	return fmt.Sprintf("%%%d : @%s %s (%s)", v, val.Own, ti.Name(val.Type), where)
}

func describeInstr(f *ir.Func, ti *types.Interner, inst *ir.Instr) string {
	return ir.FormatInstr(f, ti, inst)
}
