package ir

import (
	"errors"
	"fmt"
	"slices"

	"addrlower/internal/types"
)

// Validate checks the structural invariants of every function in m.
func Validate(m *Module, typesIn *types.Interner) error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, f := range m.Funcs {
		if f == nil {
			continue
		}
		if err := ValidateFunc(f, typesIn); err != nil {
			errs = append(errs, fmt.Errorf("function %s: %w", f.Name, err))
		}
	}
	return errors.Join(errs...)
}

// ValidateFunc checks the invariants of a single function. Functions
// marked Lowered are additionally checked to hold no opaque objects.
func ValidateFunc(f *Func, typesIn *types.Interner) error {
	if f == nil {
		return nil
	}
	var errs []error

	// structure must hold before anything else can be inspected safely
	if err := validateBlocks(f); err != nil {
		return err
	}
	if err := validateOperands(f); err != nil {
		errs = append(errs, err)
	}
	if err := validateBranches(f, typesIn); err != nil {
		errs = append(errs, err)
	}
	if f.Lowered {
		if err := validateLowered(f, typesIn); err != nil {
			errs = append(errs, err)
		}
	} else if err := validateConventions(f, typesIn); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if err := validateDominance(f); err != nil {
		errs = append(errs, err)
	}
	if err := ValidateStackNesting(f); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// validateBlocks checks that every block ends with exactly one
// terminator and that successor edges point at live, non-entry blocks.
func validateBlocks(f *Func) error {
	var errs []error
	if f.Block(f.Entry) == nil || f.Blocks[f.Entry].Deleted {
		return fmt.Errorf("entry bb%d does not exist", f.Entry)
	}
	for _, b := range f.LiveBlocks() {
		blk := f.Blocks[b]
		if len(blk.Instrs) == 0 {
			errs = append(errs, fmt.Errorf("bb%d: empty block", b))
			continue
		}
		for i, id := range blk.Instrs {
			in := f.Instr(id)
			if in == nil || in.Deleted {
				errs = append(errs, fmt.Errorf("bb%d: references deleted instruction i%d", b, id))
				continue
			}
			if in.Block != b {
				errs = append(errs, fmt.Errorf("bb%d: i%d claims to live in bb%d", b, id, in.Block))
			}
			last := i == len(blk.Instrs)-1
			if in.Op.IsTerminator() != last {
				if last {
					errs = append(errs, fmt.Errorf("bb%d: unterminated block", b))
				} else {
					errs = append(errs, fmt.Errorf("bb%d: %s in the middle of the block", b, in.Op))
				}
			}
		}
		t := f.Terminator(b)
		if t == nil {
			continue
		}
		for _, s := range t.Successors() {
			sb := f.Block(s)
			switch {
			case sb == nil || sb.Deleted:
				errs = append(errs, fmt.Errorf("bb%d: %s target bb%d does not exist", b, t.Op, s))
			case s == f.Entry:
				errs = append(errs, fmt.Errorf("bb%d: %s branches to the entry block", b, t.Op))
			}
		}
	}
	return errors.Join(errs...)
}

// validateOperands checks that operands refer to existing values and
// that use lists mirror the operands exactly.
func validateOperands(f *Func) error {
	var errs []error
	live := make(map[InstrID]bool)
	for _, b := range f.LiveBlocks() {
		for _, id := range f.Blocks[b].Instrs {
			live[id] = true
			in := f.Instrs[id]
			for i, a := range in.Args {
				v := f.Value(a)
				if v == nil {
					errs = append(errs, fmt.Errorf("bb%d: %s operand %d refers to missing value %%%d", b, in.Op, i, a))
					continue
				}
				if !slices.Contains(v.Uses, Use{Instr: id, Index: i}) {
					errs = append(errs, fmt.Errorf("bb%d: %s operand %d is missing from the uses of %%%d", b, in.Op, i, a))
				}
			}
			for i, r := range in.Results {
				v := f.Value(r)
				if v == nil || v.Kind != ValueResult || v.Instr != id || v.Index != i {
					errs = append(errs, fmt.Errorf("bb%d: %s result %d is inconsistent", b, in.Op, i))
				}
			}
		}
		for i, p := range f.Blocks[b].Params {
			v := f.Value(p)
			if v == nil || v.Kind != ValueParam || v.Block != b || v.Index != i {
				errs = append(errs, fmt.Errorf("bb%d: parameter %d is inconsistent", b, i))
			}
		}
	}
	for _, v := range f.Values {
		for _, u := range v.Uses {
			in := f.Instr(u.Instr)
			if in == nil || !live[u.Instr] || u.Index >= len(in.Args) || in.Args[u.Index] != v.ID {
				errs = append(errs, fmt.Errorf("%%%d: stale use by i%d operand %d", v.ID, u.Instr, u.Index))
			}
		}
	}
	return errors.Join(errs...)
}

// validateBranches checks branch arity and types, and the shape of blocks
// that receive terminator results.
func validateBranches(f *Func, typesIn *types.Interner) error {
	var errs []error
	preds := f.Predecessors()
	for _, b := range f.LiveBlocks() {
		t := f.Terminator(b)
		if t == nil {
			continue
		}
		switch t.Op {
		case OpBr:
			params := f.Blocks[t.Targets[0]].Params
			if len(params) != len(t.Args) {
				errs = append(errs, fmt.Errorf("bb%d: br passes %d arguments to bb%d which takes %d", b, len(t.Args), t.Targets[0], len(params)))
				continue
			}
			for i, a := range t.Args {
				if at, pt := f.Values[a].Type, f.Values[params[i]].Type; at != pt {
					errs = append(errs, fmt.Errorf("bb%d: br argument %d has type %s, bb%d expects %s",
						b, i, typeName(typesIn, at), t.Targets[0], typeName(typesIn, pt)))
				}
			}
		case OpCondBr:
			for _, s := range t.Targets {
				if len(f.Blocks[s].Params) != 0 {
					errs = append(errs, fmt.Errorf("bb%d: cond_br target bb%d takes parameters", b, s))
				}
			}
		case OpSwitchEnum, OpCheckedCastBr, OpSwitchEnumAddr, OpCheckedCastAddrBr:
			addr := t.Op == OpSwitchEnumAddr || t.Op == OpCheckedCastAddrBr
			for _, s := range t.Successors() {
				if len(preds[s]) != 1 {
					errs = append(errs, fmt.Errorf("bb%d: %s target bb%d has %d predecessors", b, t.Op, s, len(preds[s])))
				}
				limit := 1
				if addr {
					limit = 0
				}
				if len(f.Blocks[s].Params) > limit {
					errs = append(errs, fmt.Errorf("bb%d: %s target bb%d takes %d parameters", b, t.Op, s, len(f.Blocks[s].Params)))
				}
			}
		}
	}
	return errors.Join(errs...)
}

// validateConventions checks that opaque parameters and results of the
// signature are passed indirectly.
func validateConventions(f *Func, typesIn *types.Interner) error {
	var errs []error
	params := f.Params()
	if len(params) != len(f.Sig.Params) {
		return fmt.Errorf("entry block takes %d parameters, signature has %d", len(params), len(f.Sig.Params))
	}
	for i, p := range f.Sig.Params {
		if typesIn.IsOpaque(p.Type) && !p.Conv.Indirect() {
			errs = append(errs, fmt.Errorf("parameter %d of opaque type %s is passed directly", i, typesIn.Name(p.Type)))
		}
	}
	for i, r := range f.Sig.Results {
		if typesIn.IsOpaque(r.Type) && !r.Indirect {
			errs = append(errs, fmt.Errorf("result %d of opaque type %s is returned directly", i, typesIn.Name(r.Type)))
		}
	}
	return errors.Join(errs...)
}

// validateLowered checks that no opaque object remains anywhere in f.
func validateLowered(f *Func, typesIn *types.Interner) error {
	var errs []error
	want := f.Sig.NumIndirectResults() + len(f.Sig.Params)
	if n := len(f.Params()); n != want {
		errs = append(errs, fmt.Errorf("lowered entry block takes %d parameters, want %d", n, want))
	}
	opaque := func(v ValueID) bool {
		ty := f.Values[v].Type
		return !typesIn.IsAddress(ty) && typesIn.IsOpaque(ty)
	}
	for _, b := range f.LiveBlocks() {
		for _, p := range f.Blocks[b].Params {
			if opaque(p) {
				errs = append(errs, fmt.Errorf("bb%d: parameter %%%d has opaque object type %s", b, p, typesIn.Name(f.Values[p].Type)))
			}
		}
		for _, id := range f.Blocks[b].Instrs {
			in := f.Instrs[id]
			for _, a := range in.Args {
				if opaque(a) {
					errs = append(errs, fmt.Errorf("bb%d: %s uses opaque object %%%d", b, in.Op, a))
				}
			}
			for _, r := range in.Results {
				if opaque(r) {
					errs = append(errs, fmt.Errorf("bb%d: %s defines opaque object %%%d", b, in.Op, r))
				}
			}
			if in.Op == OpApply && in.Sig != nil && in.Sig.HasIndirect() && !in.AddrForm {
				errs = append(errs, fmt.Errorf("bb%d: apply of @%s still uses object conventions", b, in.Name))
			}
		}
	}
	return errors.Join(errs...)
}

// validateDominance checks that every operand is available where used.
func validateDominance(f *Func) error {
	var errs []error
	dom := ComputeDominators(f)
	for _, b := range f.RPO() {
		for _, id := range f.Blocks[b].Instrs {
			in := f.Instrs[id]
			for i, a := range in.Args {
				if !f.ValueDominatesInstr(dom, a, id) {
					errs = append(errs, fmt.Errorf("bb%d: %s operand %d (%%%d) does not dominate its use", b, in.Op, i, a))
				}
			}
		}
	}
	return errors.Join(errs...)
}

func typeName(typesIn *types.Interner, id types.TypeID) string {
	if typesIn == nil {
		return fmt.Sprintf("T%d", id)
	}
	return typesIn.Name(id)
}
