package ir_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"addrlower/internal/ir"
	"addrlower/internal/types"
)

func ops(f *ir.Func, b ir.BlockID) []ir.Op {
	var out []ir.Op
	for _, id := range f.Blocks[b].Instrs {
		out = append(out, f.Instrs[id].Op)
	}
	return out
}

// diamond builds bb0 -> {bb1, bb2} -> bb3(%phi) -> return.
func diamond(t *testing.T) (*ir.Func, *types.Interner, ir.ValueID) {
	t.Helper()
	ti := types.NewInterner()
	b := ti.Builtins()
	f := ir.NewFunc("diamond", ir.Signature{
		Params:  []ir.Param{{Type: b.Bool, Conv: ir.ConvDirectOwned}},
		Results: []ir.Result{{Type: b.Int}},
	}, ti)
	bb1, bb2, bb3 := f.NewBlock(), f.NewBlock(), f.NewBlock()
	phi := f.AddBlockParam(bb3, b.Int, ir.OwnNone)
	ir.NewBuilder(f, ti, f.Entry).CondBr(f.Params()[0], bb1, bb2)
	bd1 := ir.NewBuilder(f, ti, bb1)
	bd1.Br(bb3, bd1.IntLit(1))
	bd2 := ir.NewBuilder(f, ti, bb2)
	bd2.Br(bb3, bd2.IntLit(2))
	ir.NewBuilder(f, ti, bb3).Return(phi)
	return f, ti, phi
}

func TestBuilderInsertsInOrder(t *testing.T) {
	ti := types.NewInterner()
	f := ir.NewFunc("f", ir.Signature{}, ti)
	bd := ir.NewBuilder(f, ti, f.Entry)
	ret := bd.Return()
	before := ir.BuilderBefore(f, ti, ret.ID)
	a := before.AllocStack(ti.Builtins().Int)
	before.DeallocStack(a)
	ir.BuilderAfter(f, ti, f.Def(a).ID).Store(before.IntLit(3), a, ir.StoreTrivial)

	want := []ir.Op{ir.OpAllocStack, ir.OpStore, ir.OpDeallocStack, ir.OpIntLit, ir.OpReturn}
	if diff := cmp.Diff(want, ops(f, f.Entry)); diff != "" {
		t.Fatalf("instruction order mismatch (-want +got):\n%s", diff)
	}
}

func TestBuilderResultOwnership(t *testing.T) {
	ti := types.NewInterner()
	param := ti.RegisterParam("T")
	pair := ti.RegisterStruct("Pair", []types.StructField{{Name: "a", Type: param}, {Name: "b", Type: ti.Builtins().Int}})
	f := ir.NewFunc("f", ir.Signature{
		Params: []ir.Param{{Type: pair, Conv: ir.ConvIndirectGuaranteed}},
	}, ti)
	arg := f.Params()[0]
	if f.Values[arg].Own != ir.OwnGuaranteed {
		t.Fatalf("guaranteed parameter has ownership %s", f.Values[arg].Own)
	}
	bd := ir.NewBuilder(f, ti, f.Entry)
	a := bd.StructExtract(arg, 0)
	n := bd.StructExtract(arg, 1)
	c := bd.CopyValue(a)
	if got := f.Values[a].Own; got != ir.OwnGuaranteed {
		t.Errorf("extract of guaranteed aggregate: got %s", got)
	}
	if got := f.Values[n].Own; got != ir.OwnNone {
		t.Errorf("trivial extract: got %s", got)
	}
	if got := f.Values[c].Own; got != ir.OwnOwned {
		t.Errorf("copy_value: got %s", got)
	}
	addr := bd.AllocStack(pair)
	if !ti.IsAddress(f.Values[addr].Type) || ti.ObjectType(f.Values[addr].Type) != pair {
		t.Errorf("alloc_stack result should be the address of Pair")
	}
}

func TestUsesTrackOperands(t *testing.T) {
	f, ti, phi := diamond(t)
	bb1 := ir.BlockID(1)
	lit := f.Terminator(bb1).Args[0]
	if !f.Values[lit].HasOneUse() {
		t.Fatalf("literal should have one use")
	}
	repl := ir.BuilderAtEnd(f, ti, bb1).IntLit(9)
	f.ReplaceAllUsesWith(lit, repl)
	if len(f.Values[lit].Uses) != 0 || f.Terminator(bb1).Args[0] != repl {
		t.Fatalf("RAUW did not redirect the branch argument")
	}
	f.Erase(f.Def(lit).ID)
	if err := ir.ValidateFunc(f, ti); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	if f.Values[phi].Uses[0].Instr != f.Terminator(3).ID {
		t.Fatalf("phi should be used by the return")
	}
}

func TestCFGQueries(t *testing.T) {
	f, _, phi := diamond(t)
	rpo := f.RPO()
	if rpo[0] != f.Entry || rpo[len(rpo)-1] != 3 {
		t.Fatalf("unexpected RPO %v", rpo)
	}
	if diff := cmp.Diff([]ir.BlockID{1, 2}, f.Preds(3)); diff != "" {
		t.Fatalf("preds mismatch (-want +got):\n%s", diff)
	}
	if !f.IsPhi(phi) {
		t.Fatalf("block parameter reached by br should be a phi")
	}
	if f.IsPhi(f.Params()[0]) {
		t.Fatalf("function parameters are not phis")
	}
	if got := f.IncomingValue(phi, 2); f.Def(got).Int != 2 {
		t.Fatalf("incoming value from bb2 should be literal 2")
	}
}

func TestTerminatorResult(t *testing.T) {
	ti := types.NewInterner()
	b := ti.Builtins()
	opt := ti.RegisterEnum("Optional", []types.EnumCase{{Name: "none"}, {Name: "some", Payload: b.Int}})
	f := ir.NewFunc("f", ir.Signature{Params: []ir.Param{{Type: opt}}}, ti)
	none, some := f.NewBlock(), f.NewBlock()
	payload := f.AddBlockParam(some, b.Int, ir.OwnNone)
	sw := ir.NewBuilder(f, ti, f.Entry).SwitchEnum(f.Params()[0], []ir.SwitchCase{{Case: 0, Target: none}, {Case: 1, Target: some}}, ir.NoBlockID)
	ir.NewBuilder(f, ti, none).Return()
	ir.NewBuilder(f, ti, some).Return()
	if got := f.TerminatorResult(payload); got != sw {
		t.Fatalf("switch payload should be a terminator result")
	}
	if f.IsPhi(payload) {
		t.Fatalf("switch payload is not a phi")
	}
	if err := ir.ValidateFunc(f, ti); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestDominators(t *testing.T) {
	f, _, _ := diamond(t)
	dom := ir.ComputeDominators(f)
	if got := dom.IDom(3); got != f.Entry {
		t.Fatalf("idom(bb3) = bb%d, want bb0", got)
	}
	if !dom.Dominates(f.Entry, 2) || dom.Dominates(1, 3) {
		t.Fatalf("unexpected dominance relation")
	}
	if dom.ProperlyDominates(3, 3) || !dom.Dominates(3, 3) {
		t.Fatalf("a block dominates itself only non-properly")
	}
	if diff := cmp.Diff([]ir.BlockID{1}, dom.DominatedBoundary(f, 1)); diff != "" {
		t.Fatalf("boundary of bb1 (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]ir.BlockID{3}, dom.DominatedBoundary(f, f.Entry)); diff != "" {
		t.Fatalf("boundary of entry (-want +got):\n%s", diff)
	}
}

func TestSplitEdge(t *testing.T) {
	ti := types.NewInterner()
	f := ir.NewFunc("f", ir.Signature{Params: []ir.Param{{Type: ti.Builtins().Bool}}}, ti)
	bb1, bb2 := f.NewBlock(), f.NewBlock()
	ir.NewBuilder(f, ti, f.Entry).CondBr(f.Params()[0], bb1, bb2)
	ir.NewBuilder(f, ti, bb1).Br(bb2)
	ir.NewBuilder(f, ti, bb2).Return()

	mid := f.SplitEdge(f.Entry, bb2)
	if got := f.Terminator(f.Entry).Targets[1]; got != mid {
		t.Fatalf("cond_br should now target bb%d, got bb%d", mid, got)
	}
	if diff := cmp.Diff([]ir.BlockID{bb1, mid}, f.Preds(bb2)); diff != "" {
		t.Fatalf("preds of bb2 (-want +got):\n%s", diff)
	}
	if err := ir.ValidateFunc(f, ti); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestRemoveUnreachable(t *testing.T) {
	ti := types.NewInterner()
	f := ir.NewFunc("f", ir.Signature{}, ti)
	dead := f.NewBlock()
	ir.NewBuilder(f, ti, f.Entry).Return()
	bd := ir.NewBuilder(f, ti, dead)
	bd.DestroyValue(bd.IntLit(1))
	bd.Unreachable()
	if n := f.RemoveUnreachable(); n != 1 {
		t.Fatalf("removed %d blocks, want 1", n)
	}
	if len(f.LiveBlocks()) != 1 {
		t.Fatalf("dead block still live")
	}
}

func TestDeleteDeadAlloc(t *testing.T) {
	ti := types.NewInterner()
	f := ir.NewFunc("f", ir.Signature{}, ti)
	bd := ir.NewBuilder(f, ti, f.Entry)
	used := bd.AllocStack(ti.Builtins().Int)
	dead := bd.AllocStack(ti.Builtins().Int)
	bd.Store(bd.IntLit(1), used, ir.StoreTrivial)
	bd.DeallocStack(dead)
	bd.DeallocStack(used)
	bd.Return()
	if f.DeleteDeadAlloc(f.Def(used).ID) {
		t.Fatalf("allocation with a store must stay")
	}
	if !f.DeleteDeadAlloc(f.Def(dead).ID) {
		t.Fatalf("allocation with only deallocs should be removed")
	}
	want := []ir.Op{ir.OpAllocStack, ir.OpIntLit, ir.OpStore, ir.OpDeallocStack, ir.OpReturn}
	if diff := cmp.Diff(want, ops(f, f.Entry)); diff != "" {
		t.Fatalf("ops mismatch (-want +got):\n%s", diff)
	}
}

func TestStackNesting(t *testing.T) {
	ti := types.NewInterner()
	f := ir.NewFunc("f", ir.Signature{}, ti)
	bd := ir.NewBuilder(f, ti, f.Entry)
	a := bd.AllocStack(ti.Builtins().Int)
	b := bd.AllocStack(ti.Builtins().Int)
	bd.DeallocStack(a)
	bd.DeallocStack(b)
	bd.Return()

	err := ir.ValidateStackNesting(f)
	if !errors.Is(err, ir.ErrStackNesting) {
		t.Fatalf("expected a stack nesting error, got %v", err)
	}
	moved, err := ir.FixStackNesting(f)
	if err != nil || !moved {
		t.Fatalf("FixStackNesting: moved=%v err=%v", moved, err)
	}
	if err := ir.ValidateStackNesting(f); err != nil {
		t.Fatalf("nesting still broken: %v", err)
	}
	instrs := f.Blocks[f.Entry].Instrs
	if got := f.Instrs[instrs[2]].Args[0]; got != b {
		t.Fatalf("inner allocation should be released first")
	}
}

func TestStackNestingRejectsLeakAndUseAfterDealloc(t *testing.T) {
	ti := types.NewInterner()
	f := ir.NewFunc("f", ir.Signature{}, ti)
	bd := ir.NewBuilder(f, ti, f.Entry)
	a := bd.AllocStack(ti.Builtins().Int)
	bd.DeallocStack(a)
	bd.Store(bd.IntLit(1), a, ir.StoreTrivial)
	bd.AllocStack(ti.Builtins().Int)
	bd.Return()

	err := ir.ValidateStackNesting(f)
	if err == nil {
		t.Fatalf("expected errors")
	}
	for _, want := range []string{"after its allocation was released", "return with 1 live allocations"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestValidateCatchesBadBranchAndConventions(t *testing.T) {
	ti := types.NewInterner()
	param := ti.RegisterParam("T")
	f := ir.NewFunc("f", ir.Signature{Params: []ir.Param{{Type: param, Conv: ir.ConvDirectOwned}}}, ti)
	next := f.NewBlock()
	f.AddBlockParam(next, ti.Builtins().Int, ir.OwnNone)
	ir.NewBuilder(f, ti, f.Entry).Br(next)
	ir.NewBuilder(f, ti, next).Return()

	err := ir.ValidateFunc(f, ti)
	if err == nil {
		t.Fatalf("expected validation errors")
	}
	for _, want := range []string{"br passes 0 arguments", "passed directly"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestValidateLoweredRejectsOpaqueObjects(t *testing.T) {
	ti := types.NewInterner()
	param := ti.RegisterParam("T")
	f := ir.NewFunc("f", ir.Signature{Params: []ir.Param{{Type: param, Conv: ir.ConvIndirectOwned}}}, ti)
	ir.NewBuilder(f, ti, f.Entry).DestroyValue(f.Params()[0])
	ir.NewBuilder(f, ti, f.Entry).Return()
	f.Lowered = true
	err := ir.ValidateFunc(f, ti)
	if err == nil || !strings.Contains(err.Error(), "opaque object") {
		t.Fatalf("expected opaque object error, got %v", err)
	}
}

func TestDumpFunc(t *testing.T) {
	ti := types.NewInterner()
	param := ti.RegisterParam("T")
	f := ir.NewFunc("id", ir.Signature{
		Params:  []ir.Param{{Type: param, Conv: ir.ConvIndirectOwned}},
		Results: []ir.Result{{Type: param, Indirect: true}},
	}, ti)
	bd := ir.NewBuilder(f, ti, f.Entry)
	tmp := bd.AllocStack(param)
	bd.DeallocStack(tmp)
	bd.Return(f.Params()[0])
	out := f.String(ti)
	for _, want := range []string{
		"func @id(@in $T) -> (@out $T) {",
		"bb0(%0 : @owned $T):",
		"%1 = alloc_stack $T : $*T",
		"dealloc_stack %1",
		"return %0",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("dump missing %q:\n%s", want, out)
		}
	}
}
