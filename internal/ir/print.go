package ir

import (
	"fmt"
	"io"
	"strings"

	"addrlower/internal/types"
)

// DumpOptions configures function dumping.
type DumpOptions struct {
	// Uses lists the users of every value in a trailing comment.
	Uses bool
}

// DumpModule writes a human-readable representation of every function.
func DumpModule(w io.Writer, m *Module, typesIn *types.Interner, opts DumpOptions) error {
	if w == nil || m == nil {
		return nil
	}
	for i, f := range m.Funcs {
		if f == nil {
			continue
		}
		if i > 0 {
			if _, err := io.WriteString(w, "\n"); err != nil {
				return err
			}
		}
		if err := DumpFunc(w, f, typesIn, opts); err != nil {
			return err
		}
	}
	return nil
}

// DumpFunc writes f in textual form.
func DumpFunc(w io.Writer, f *Func, typesIn *types.Interner, opts DumpOptions) error {
	var sb strings.Builder
	p := printer{sb: &sb, f: f, ti: typesIn, opts: opts}
	p.fn()
	_, err := io.WriteString(w, sb.String())
	return err
}

// String renders f using DumpFunc with default options.
func (f *Func) String(typesIn *types.Interner) string {
	var sb strings.Builder
	_ = DumpFunc(&sb, f, typesIn, DumpOptions{})
	return sb.String()
}

type printer struct {
	sb   *strings.Builder
	f    *Func
	ti   *types.Interner
	opts DumpOptions
}

func (p *printer) typ(id types.TypeID) string {
	if p.ti == nil {
		return fmt.Sprintf("T%d", id)
	}
	if p.ti.IsAddress(id) {
		return "$*" + p.ti.Name(p.ti.ObjectType(id))
	}
	return "$" + p.ti.Name(id)
}

func (p *printer) val(v ValueID) string {
	if v == NoValueID {
		return "<none>"
	}
	val := p.f.Value(v)
	if val != nil && val.Kind == ValueUndef {
		return "undef"
	}
	return fmt.Sprintf("%%%d", v)
}

func (p *printer) vals(vs []ValueID) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = p.val(v)
	}
	return strings.Join(parts, ", ")
}

func (p *printer) fn() {
	fmt.Fprintf(p.sb, "func @%s(", p.f.Name)
	for i, prm := range p.f.Sig.Params {
		if i > 0 {
			p.sb.WriteString(", ")
		}
		fmt.Fprintf(p.sb, "@%s %s", prm.Conv, p.typ(prm.Type))
	}
	p.sb.WriteString(") -> (")
	for i, r := range p.f.Sig.Results {
		if i > 0 {
			p.sb.WriteString(", ")
		}
		if r.Indirect {
			p.sb.WriteString("@out ")
		}
		p.sb.WriteString(p.typ(r.Type))
	}
	p.sb.WriteString(") {\n")
	for _, b := range p.f.LiveBlocks() {
		p.block(b)
	}
	p.sb.WriteString("}\n")
}

func (p *printer) block(b BlockID) {
	blk := p.f.Blocks[b]
	fmt.Fprintf(p.sb, "bb%d", b)
	if len(blk.Params) > 0 {
		p.sb.WriteString("(")
		for i, prm := range blk.Params {
			if i > 0 {
				p.sb.WriteString(", ")
			}
			v := p.f.Values[prm]
			fmt.Fprintf(p.sb, "%%%d : ", prm)
			if v.Own != OwnNone {
				fmt.Fprintf(p.sb, "@%s ", v.Own)
			}
			p.sb.WriteString(p.typ(v.Type))
		}
		p.sb.WriteString(")")
	}
	p.sb.WriteString(":\n")
	for _, id := range blk.Instrs {
		p.sb.WriteString("  ")
		p.sb.WriteString(p.instr(p.f.Instrs[id]))
		p.sb.WriteString("\n")
	}
}

func (p *printer) instr(in *Instr) string {
	var sb strings.Builder
	if len(in.Results) > 0 {
		sb.WriteString("(" + p.vals(in.Results) + ") = ")
		if len(in.Results) == 1 {
			sb.Reset()
			sb.WriteString(p.val(in.Results[0]) + " = ")
		}
	}
	sb.WriteString(in.Op.String())
	args := p.vals(in.Args)
	switch in.Op {
	case OpIntLit:
		fmt.Fprintf(&sb, " %d", in.Int)
	case OpStruct, OpTuple:
		fmt.Fprintf(&sb, " %s (%s)", p.typ(p.f.Values[in.Results[0]].Type), args)
	case OpEnum:
		fmt.Fprintf(&sb, " %s, #%s", p.typ(in.Type), p.caseName(in.Type, in.Field))
		if len(in.Args) > 0 {
			sb.WriteString(", " + args)
		}
	case OpStructExtract, OpTupleExtract, OpStructElementAddr, OpTupleElementAddr:
		fmt.Fprintf(&sb, " %s, %d", args, in.Field)
	case OpUncheckedEnumData, OpInitEnumDataAddr, OpInjectEnumAddr, OpUncheckedTakeEnumDataAddr:
		obj := p.ti.ObjectType(p.f.Values[in.Args[0]].Type)
		fmt.Fprintf(&sb, " %s, #%s", args, p.caseName(obj, in.Field))
	case OpBeginBorrow:
		if in.Lexical {
			sb.WriteString(" [lexical]")
		}
		sb.WriteString(" " + args)
	case OpLoad:
		fmt.Fprintf(&sb, " [%s] %s", in.Load, args)
	case OpStore:
		fmt.Fprintf(&sb, " %s to [%s] %s", p.val(in.Args[0]), in.Store, p.val(in.Args[1]))
	case OpStoreBorrow:
		fmt.Fprintf(&sb, " %s to %s", p.val(in.Args[0]), p.val(in.Args[1]))
	case OpCopyAddr:
		sb.WriteString(" ")
		if in.Take {
			sb.WriteString("[take] ")
		}
		sb.WriteString(p.val(in.Args[0]) + " to ")
		if in.Init {
			sb.WriteString("[init] ")
		}
		sb.WriteString(p.val(in.Args[1]))
	case OpApply:
		fmt.Fprintf(&sb, " @%s(%s)", in.Name, args)
		if in.AddrForm {
			sb.WriteString(" [indirect]")
		}
	case OpDebugValue, OpDebugValueAddr:
		fmt.Fprintf(&sb, " %s, name %q", args, in.Name)
	case OpAllocStack:
		fmt.Fprintf(&sb, " %s", p.typ(in.Type))
	case OpInitExistential, OpInitExistentialAddr, OpOpenExistential, OpOpenExistentialAddr,
		OpUncheckedBitwiseCast, OpUncheckedAddrCast, OpUnconditionalCheckedCast:
		fmt.Fprintf(&sb, " %s to %s", args, p.typ(in.Type))
	case OpUnconditionalCheckedCastAddr:
		fmt.Fprintf(&sb, " %s to %s", p.val(in.Args[0]), p.val(in.Args[1]))
	case OpBr:
		fmt.Fprintf(&sb, " bb%d", in.Targets[0])
		if len(in.Args) > 0 {
			sb.WriteString("(" + args + ")")
		}
	case OpCondBr:
		fmt.Fprintf(&sb, " %s, bb%d, bb%d", args, in.Targets[0], in.Targets[1])
	case OpSwitchEnum, OpSwitchEnumAddr:
		sb.WriteString(" " + args)
		obj := p.ti.ObjectType(p.f.Values[in.Args[0]].Type)
		for _, c := range in.Cases {
			fmt.Fprintf(&sb, ", case #%s: bb%d", p.caseName(obj, c.Case), c.Target)
		}
		if in.Default != NoBlockID {
			fmt.Fprintf(&sb, ", default bb%d", in.Default)
		}
	case OpCheckedCastBr:
		fmt.Fprintf(&sb, " %s to %s, bb%d, bb%d", args, p.typ(in.Type), in.Targets[0], in.Targets[1])
	case OpCheckedCastAddrBr:
		if in.Take {
			sb.WriteString(" [take_on_success]")
		}
		fmt.Fprintf(&sb, " %s to %s, bb%d, bb%d", p.val(in.Args[0]), p.val(in.Args[1]), in.Targets[0], in.Targets[1])
	default:
		if len(in.Args) > 0 {
			sb.WriteString(" " + args)
		}
	}
	if len(in.Results) == 1 {
		sb.WriteString(" : " + p.typ(p.f.Values[in.Results[0]].Type))
	}
	if p.opts.Uses {
		for _, r := range in.Results {
			if n := len(p.f.Values[r].Uses); n > 0 {
				fmt.Fprintf(&sb, " // %s users: %d", p.val(r), n)
			}
		}
	}
	return sb.String()
}

func (p *printer) caseName(enum types.TypeID, c int) string {
	if p.ti == nil {
		return fmt.Sprint(c)
	}
	return p.ti.CaseName(enum, c)
}

// FormatInstr renders a single instruction the way DumpFunc prints it.
func FormatInstr(f *Func, typesIn *types.Interner, inst *Instr) string {
	var sb strings.Builder
	p := printer{sb: &sb, f: f, ti: typesIn}
	return fmt.Sprintf("bb%d: %s", inst.Block, p.instr(inst))
}
