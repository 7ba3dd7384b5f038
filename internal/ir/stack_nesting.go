package ir

import (
	"errors"
	"fmt"
	"slices"
)

// ErrStackNesting reports stack allocations that are not released in
// last-in first-out order on some path.
var ErrStackNesting = errors.New("stack nesting violated")

type stackState struct {
	in   [][]ValueID
	seen []bool
}

// ValidateStackNesting checks that alloc_stack and dealloc_stack pair up
// in LIFO order on every path, that every path reaching a return has
// released all allocations and that no address derived from an
// allocation is used after it was released.
func ValidateStackNesting(f *Func) error {
	return f.walkStack(nil)
}

// FixStackNesting repairs deallocations that release an allocation while
// later allocations in the same block are still live, by sinking them
// below the later deallocations. It reports whether anything moved.
func FixStackNesting(f *Func) (bool, error) {
	moved := false
	for range len(f.Instrs) + 1 {
		var fix stackFix
		err := f.walkStack(&fix)
		if fix.dealloc == NoInstrID {
			return moved, err
		}
		if fix.after == NoInstrID {
			return moved, fmt.Errorf("%w: cannot sink i%d in bb%d", ErrStackNesting, fix.dealloc, f.Instrs[fix.dealloc].Block)
		}
		f.MoveAfter(fix.dealloc, fix.after)
		moved = true
	}
	return moved, fmt.Errorf("%w: no fixed point", ErrStackNesting)
}

type stackFix struct {
	dealloc InstrID
	after   InstrID
}

// walkStack simulates the allocation stack over reverse postorder. When
// fix is non-nil the walk stops at the first misplaced deallocation and
// records where it could be sunk.
func (f *Func) walkStack(fix *stackFix) error {
	if fix != nil {
		fix.dealloc, fix.after = NoInstrID, NoInstrID
	}
	st := &stackState{in: make([][]ValueID, len(f.Blocks)), seen: make([]bool, len(f.Blocks))}
	st.seen[f.Entry] = true
	var errs []error
	for _, b := range f.RPO() {
		if !st.seen[b] {
			continue
		}
		stack := slices.Clone(st.in[b])
		blk := f.Blocks[b]
		for pos, id := range blk.Instrs {
			in := f.Instrs[id]
			for _, a := range in.Args {
				if err := f.checkLive(stack, a, in); err != nil {
					errs = append(errs, err)
				}
			}
			switch in.Op {
			case OpAllocStack:
				stack = append(stack, in.Results[0])
			case OpDeallocStack:
				addr := in.Args[0]
				if len(stack) > 0 && stack[len(stack)-1] == addr {
					stack = stack[:len(stack)-1]
					continue
				}
				at := slices.Index(stack, addr)
				if at < 0 {
					errs = append(errs, fmt.Errorf("%w: bb%d: dealloc_stack of %%%d which is not allocated", ErrStackNesting, b, addr))
					continue
				}
				if fix != nil {
					fix.dealloc = id
					fix.after = f.sinkPoint(blk.Instrs[pos+1:], stack[at+1:])
					return errors.Join(errs...)
				}
				errs = append(errs, fmt.Errorf("%w: bb%d: dealloc_stack of %%%d while %%%d is on top", ErrStackNesting, b, addr, stack[len(stack)-1]))
				stack = slices.Delete(stack, at, at+1)
			case OpReturn:
				if len(stack) != 0 {
					errs = append(errs, fmt.Errorf("%w: bb%d: return with %d live allocations", ErrStackNesting, b, len(stack)))
				}
			}
			if in.Op.IsTerminator() && in.Op != OpReturn && in.Op != OpUnreachable {
				for _, s := range in.Successors() {
					if !st.seen[s] {
						st.seen[s] = true
						st.in[s] = slices.Clone(stack)
						continue
					}
					if !slices.Equal(st.in[s], stack) {
						errs = append(errs, fmt.Errorf("%w: bb%d: allocation stack differs between predecessors", ErrStackNesting, s))
					}
				}
			}
		}
	}
	return errors.Join(errs...)
}

// checkLive reports a use of an address whose allocation was released.
func (f *Func) checkLive(stack []ValueID, a ValueID, user *Instr) error {
	if a == NoValueID || user.Op == OpDeallocStack {
		return nil
	}
	root := f.AddressRoot(a)
	def := f.Def(root)
	if def == nil || def.Op != OpAllocStack || slices.Contains(stack, root) {
		return nil
	}
	return fmt.Errorf("%w: bb%d: %s uses %%%d after its allocation was released", ErrStackNesting, user.Block, user.Op, a)
}

// sinkPoint returns the last deallocation in rest that releases one of
// above, provided every entry of above is released in rest.
func (f *Func) sinkPoint(rest []InstrID, above []ValueID) InstrID {
	last := NoInstrID
	pending := slices.Clone(above)
	for _, id := range rest {
		in := f.Instrs[id]
		if in.Op != OpDeallocStack {
			continue
		}
		if i := slices.Index(pending, in.Args[0]); i >= 0 {
			pending = slices.Delete(pending, i, i+1)
			last = id
		}
	}
	if len(pending) != 0 {
		return NoInstrID
	}
	return last
}
