package lower_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"addrlower/internal/ir"
	"addrlower/internal/lower"
	"addrlower/internal/types"
)

func ops(f *ir.Func, b ir.BlockID) []ir.Op {
	var out []ir.Op
	for _, id := range f.Blocks[b].Instrs {
		out = append(out, f.Instrs[id].Op)
	}
	return out
}

func count(f *ir.Func, op ir.Op) int {
	n := 0
	for _, b := range f.LiveBlocks() {
		for _, id := range f.Blocks[b].Instrs {
			if f.Instrs[id].Op == op {
				n++
			}
		}
	}
	return n
}

// lowerOK runs the pass and checks that the result is a well-formed
// lowered function.
func lowerOK(t *testing.T, f *ir.Func, ti *types.Interner) lower.Stats {
	t.Helper()
	if err := ir.ValidateFunc(f, ti); err != nil {
		t.Fatalf("input is invalid: %v\n%s", err, f.String(ti))
	}
	stats, err := lower.Run(context.Background(), f, ti, nil)
	if err != nil {
		t.Fatalf("lowering failed: %v\n%s", err, f.String(ti))
	}
	if !f.Lowered {
		t.Fatalf("function not marked lowered")
	}
	if err := ir.ValidateFunc(f, ti); err != nil {
		t.Fatalf("lowered function is invalid: %v\n%s", err, f.String(ti))
	}
	return stats
}

func makeSig(ty types.TypeID) *ir.Signature {
	return &ir.Signature{Results: []ir.Result{{Type: ty, Indirect: true}}}
}

func useSig(ty types.TypeID) *ir.Signature {
	return &ir.Signature{Params: []ir.Param{{Type: ty, Conv: ir.ConvIndirectGuaranteed}}}
}

func TestTrivialFunctionIsUnchanged(t *testing.T) {
	ti := types.NewInterner()
	b := ti.Builtins()
	f := ir.NewFunc("pick", ir.Signature{
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

	before := f.String(ti)
	stats := lowerOK(t, f, ti)
	if diff := cmp.Diff(before, f.String(ti)); diff != "" {
		t.Fatalf("trivial function changed (-before +after):\n%s", diff)
	}
	if stats.Values != 0 || stats.FreshAllocs != 0 {
		t.Fatalf("unexpected storage decisions: %+v", stats)
	}
}

func TestRunSkipsLoweredFunction(t *testing.T) {
	ti := types.NewInterner()
	f := ir.NewFunc("done", ir.Signature{}, ti)
	ir.NewBuilder(f, ti, f.Entry).Return()
	f.Lowered = true
	stats, err := lower.Run(context.Background(), f, ti, nil)
	if err != nil || stats != (lower.Stats{}) {
		t.Fatalf("expected no-op, got %+v, %v", stats, err)
	}
}

func TestIdentityMovesParameterToResult(t *testing.T) {
	ti := types.NewInterner()
	T := ti.RegisterParam("T")
	f := ir.NewFunc("id", ir.Signature{
		Params:  []ir.Param{{Type: T, Conv: ir.ConvIndirectOwned}},
		Results: []ir.Result{{Type: T, Indirect: true}},
	}, ti)
	x := f.Params()[0]
	ir.NewBuilder(f, ti, f.Entry).Return(x)

	lowerOK(t, f, ti)

	if diff := cmp.Diff([]ir.Op{ir.OpCopyAddr, ir.OpReturn}, ops(f, f.Entry)); diff != "" {
		t.Fatalf("entry mismatch (-want +got):\n%s\n%s", diff, f.String(ti))
	}
	params := f.Params()
	if len(params) != 2 || params[1] != x {
		t.Fatalf("out parameter should precede the original parameter, got %v", params)
	}
	mv := f.Instrs[f.Blocks[f.Entry].Instrs[0]]
	if mv.Args[0] != x || mv.Args[1] != params[0] || !mv.Take || !mv.Init {
		t.Fatalf("expected copy_addr [take] %%x to [init] %%out, got %s", ir.FormatInstr(f, ti, mv))
	}
	if !ti.IsAddress(f.Values[x].Type) {
		t.Fatalf("indirect parameter should have become an address")
	}
}

// A call result that is returned is produced directly into the caller's
// out parameter.
func TestCallResultReturnedInPlace(t *testing.T) {
	ti := types.NewInterner()
	T := ti.RegisterParam("T")
	f := ir.NewFunc("forward", ir.Signature{Results: []ir.Result{{Type: T, Indirect: true}}}, ti)
	bd := ir.NewBuilder(f, ti, f.Entry)
	r := bd.Apply("make", makeSig(T))
	bd.Return(r[0])

	stats := lowerOK(t, f, ti)

	if n := count(f, ir.OpAllocStack); n != 0 {
		t.Fatalf("expected no stack allocation, got %d\n%s", n, f.String(ti))
	}
	call := f.Instrs[f.Blocks[f.Entry].Instrs[0]]
	if call.Op != ir.OpApply || !call.AddrForm || call.Args[0] != f.Params()[0] {
		t.Fatalf("call should write into the out parameter:\n%s", f.String(ti))
	}
	if stats.UseProjections != 1 {
		t.Fatalf("expected one use projection, got %+v", stats)
	}
}

func TestAggregateBuiltInPlace(t *testing.T) {
	ti := types.NewInterner()
	b := ti.Builtins()
	T := ti.RegisterParam("T")
	pair := ti.RegisterStruct("Pair", []types.StructField{{Name: "a", Type: T}, {Name: "b", Type: b.Int}})
	f := ir.NewFunc("build", ir.Signature{Results: []ir.Result{{Type: pair, Indirect: true}}}, ti)
	bd := ir.NewBuilder(f, ti, f.Entry)
	n := bd.IntLit(4)
	x := bd.Apply("make", makeSig(T))[0]
	p := bd.Struct(pair, x, n)
	bd.Return(p)

	stats := lowerOK(t, f, ti)

	want := []ir.Op{ir.OpIntLit, ir.OpStructElementAddr, ir.OpApply, ir.OpStructElementAddr, ir.OpStore, ir.OpReturn}
	if diff := cmp.Diff(want, ops(f, f.Entry)); diff != "" {
		t.Fatalf("entry mismatch (-want +got):\n%s\n%s", diff, f.String(ti))
	}
	if count(f, ir.OpCopyAddr) != 0 {
		t.Fatalf("aggregate should not need copies:\n%s", f.String(ti))
	}
	if stats.UseProjections != 2 {
		t.Fatalf("expected two use projections, got %+v", stats)
	}
}

func TestEnumPayloadBuiltInPlace(t *testing.T) {
	ti := types.NewInterner()
	T := ti.RegisterParam("T")
	opt := ti.RegisterEnum("Optional", []types.EnumCase{{Name: "none"}, {Name: "some", Payload: T}})
	f := ir.NewFunc("wrap", ir.Signature{Results: []ir.Result{{Type: opt, Indirect: true}}}, ti)
	bd := ir.NewBuilder(f, ti, f.Entry)
	x := bd.Apply("make", makeSig(T))[0]
	bd.Return(bd.Enum(opt, 1, x))

	lowerOK(t, f, ti)

	want := []ir.Op{ir.OpInitEnumDataAddr, ir.OpApply, ir.OpInjectEnumAddr, ir.OpReturn}
	if diff := cmp.Diff(want, ops(f, f.Entry)); diff != "" {
		t.Fatalf("entry mismatch (-want +got):\n%s\n%s", diff, f.String(ti))
	}
}

func TestCopyOfBorrowedParameter(t *testing.T) {
	ti := types.NewInterner()
	T := ti.RegisterParam("T")
	f := ir.NewFunc("dup", ir.Signature{
		Params:  []ir.Param{{Type: T, Conv: ir.ConvIndirectGuaranteed}},
		Results: []ir.Result{{Type: T, Indirect: true}},
	}, ti)
	bd := ir.NewBuilder(f, ti, f.Entry)
	bd.Return(bd.CopyValue(f.Params()[0]))

	lowerOK(t, f, ti)

	if diff := cmp.Diff([]ir.Op{ir.OpCopyAddr, ir.OpReturn}, ops(f, f.Entry)); diff != "" {
		t.Fatalf("entry mismatch (-want +got):\n%s\n%s", diff, f.String(ti))
	}
	cp := f.Instrs[f.Blocks[f.Entry].Instrs[0]]
	if cp.Take || !cp.Init {
		t.Fatalf("copy of a borrowed value must not take its source: %s", ir.FormatInstr(f, ti, cp))
	}
}

// One incoming value is read again before its branch and cannot share
// the merge's storage; the other is built directly in it.
func TestMergeCoalescesNonInterferingOperand(t *testing.T) {
	ti := types.NewInterner()
	b := ti.Builtins()
	T := ti.RegisterParam("T")
	f := ir.NewFunc("merge", ir.Signature{
		Params:  []ir.Param{{Type: b.Bool, Conv: ir.ConvDirectOwned}},
		Results: []ir.Result{{Type: T, Indirect: true}},
	}, ti)
	bb1, bb2, bb3 := f.NewBlock(), f.NewBlock(), f.NewBlock()
	m := f.AddBlockParam(bb3, T, ir.OwnOwned)
	ir.NewBuilder(f, ti, f.Entry).CondBr(f.Params()[0], bb1, bb2)
	bd1 := ir.NewBuilder(f, ti, bb1)
	x := bd1.Apply("make", makeSig(T))[0]
	bd1.Apply("use", useSig(T), x)
	bd1.Br(bb3, x)
	bd2 := ir.NewBuilder(f, ti, bb2)
	y := bd2.Apply("make", makeSig(T))[0]
	bd2.Br(bb3, y)
	ir.NewBuilder(f, ti, bb3).Return(m)

	stats := lowerOK(t, f, ti)

	if stats.PhiCoalesced != 1 {
		t.Fatalf("expected one coalesced operand, got %+v", stats)
	}
	copies := func(blk ir.BlockID) int {
		n := 0
		for _, op := range ops(f, blk) {
			if op == ir.OpCopyAddr {
				n++
			}
		}
		return n
	}
	if n := copies(bb1); n != 1 {
		t.Errorf("bb1 should move its operand once, got %d\n%s", n, f.String(ti))
	}
	if n := copies(bb2); n != 0 {
		t.Errorf("coalesced operand should not be copied, got %d\n%s", n, f.String(ti))
	}
	if n := count(f, ir.OpAllocStack); n != 1 {
		t.Errorf("only the interfering operand needs its own storage, got %d\n%s", n, f.String(ti))
	}
	if len(f.Blocks[bb3].Params) != 0 {
		t.Errorf("opaque merge should be removed")
	}
}

// Two merges receive the same pair of values in opposite orders; the
// second edge must swap their storage through a temporary.
func TestMergeSwapUsesTemporary(t *testing.T) {
	ti := types.NewInterner()
	b := ti.Builtins()
	T := ti.RegisterParam("T")
	f := ir.NewFunc("swap", ir.Signature{
		Params: []ir.Param{{Type: b.Bool, Conv: ir.ConvDirectOwned}},
	}, ti)
	bb1, bb2, bb3 := f.NewBlock(), f.NewBlock(), f.NewBlock()
	m0 := f.AddBlockParam(bb3, T, ir.OwnOwned)
	m1 := f.AddBlockParam(bb3, T, ir.OwnOwned)
	bd := ir.NewBuilder(f, ti, f.Entry)
	a := bd.Apply("make", makeSig(T))[0]
	bv := bd.Apply("make", makeSig(T))[0]
	bd.CondBr(f.Params()[0], bb1, bb2)
	ir.NewBuilder(f, ti, bb1).Br(bb3, a, bv)
	ir.NewBuilder(f, ti, bb2).Br(bb3, bv, a)
	bd3 := ir.NewBuilder(f, ti, bb3)
	bd3.DestroyValue(m0)
	bd3.DestroyValue(m1)
	bd3.Return()

	stats := lowerOK(t, f, ti)

	if stats.PhiCoalesced != 2 || stats.SwapTemps != 1 {
		t.Fatalf("unexpected stats %+v\n%s", stats, f.String(ti))
	}
	if diff := cmp.Diff([]ir.Op{ir.OpBr}, ops(f, bb1)); diff != "" {
		t.Errorf("coalesced edge should carry no moves (-want +got):\n%s", diff)
	}
	want := []ir.Op{ir.OpAllocStack, ir.OpCopyAddr, ir.OpCopyAddr, ir.OpCopyAddr, ir.OpDeallocStack, ir.OpBr}
	if diff := cmp.Diff(want, ops(f, bb2)); diff != "" {
		t.Fatalf("swap edge mismatch (-want +got):\n%s\n%s", diff, f.String(ti))
	}
	instrs := f.Blocks[bb2].Instrs
	tmp := f.Instrs[instrs[0]].Results[0]
	first, second, third := f.Instrs[instrs[1]], f.Instrs[instrs[2]], f.Instrs[instrs[3]]
	if first.Args[1] != tmp || third.Args[0] != tmp {
		t.Fatalf("temporary must be written first and read last:\n%s", f.String(ti))
	}
	if second.Args[0] != third.Args[1] || second.Args[1] != first.Args[0] {
		t.Fatalf("moves do not form a swap:\n%s", f.String(ti))
	}
}

func TestSwitchEnumTakesPayloadInPlace(t *testing.T) {
	ti := types.NewInterner()
	T := ti.RegisterParam("T")
	opt := ti.RegisterEnum("Optional", []types.EnumCase{{Name: "none"}, {Name: "some", Payload: T}})
	f := ir.NewFunc("unwrap", ir.Signature{
		Params:  []ir.Param{{Type: opt, Conv: ir.ConvIndirectOwned}},
		Results: []ir.Result{{Type: T, Indirect: true}},
	}, ti)
	none, some := f.NewBlock(), f.NewBlock()
	payload := f.AddBlockParam(some, T, ir.OwnOwned)
	ir.NewBuilder(f, ti, f.Entry).SwitchEnum(f.Params()[0], []ir.SwitchCase{{Case: 0, Target: none}, {Case: 1, Target: some}}, ir.NoBlockID)
	ir.NewBuilder(f, ti, none).Unreachable()
	ir.NewBuilder(f, ti, some).Return(payload)

	lowerOK(t, f, ti)

	if diff := cmp.Diff([]ir.Op{ir.OpSwitchEnumAddr}, ops(f, f.Entry)); diff != "" {
		t.Errorf("entry mismatch (-want +got):\n%s", diff)
	}
	want := []ir.Op{ir.OpUncheckedTakeEnumDataAddr, ir.OpCopyAddr, ir.OpReturn}
	if diff := cmp.Diff(want, ops(f, some)); diff != "" {
		t.Errorf("payload block mismatch (-want +got):\n%s\n%s", diff, f.String(ti))
	}
	if len(f.Blocks[some].Params) != 0 {
		t.Errorf("payload parameter should be removed")
	}
}

func TestLoadableIndirectArgumentsUseTemporaries(t *testing.T) {
	ti := types.NewInterner()
	b := ti.Builtins()
	f := ir.NewFunc("caller", ir.Signature{Results: []ir.Result{{Type: b.Int}, {Type: b.Int}}}, ti)
	sig := &ir.Signature{
		Params:  []ir.Param{{Type: b.Int, Conv: ir.ConvIndirectGuaranteed}},
		Results: []ir.Result{{Type: b.Int, Indirect: true}, {Type: b.Int}},
	}
	bd := ir.NewBuilder(f, ti, f.Entry)
	r := bd.Apply("callee", sig, bd.IntLit(1))
	bd.Return(r[0], r[1])

	lowerOK(t, f, ti)

	want := []ir.Op{
		ir.OpIntLit, ir.OpAllocStack, ir.OpStore, ir.OpAllocStack, ir.OpApply,
		ir.OpLoad, ir.OpDeallocStack, ir.OpDeallocStack, ir.OpReturn,
	}
	if diff := cmp.Diff(want, ops(f, f.Entry)); diff != "" {
		t.Fatalf("entry mismatch (-want +got):\n%s\n%s", diff, f.String(ti))
	}
	call := f.Instrs[f.Blocks[f.Entry].Instrs[4]]
	if !call.AddrForm || len(call.Args) != 2 || len(call.Results) != 1 {
		t.Fatalf("call should take result then argument addresses:\n%s", f.String(ti))
	}
}

func TestOpenedTypeStorageFollowsOpener(t *testing.T) {
	ti := types.NewInterner()
	P := ti.RegisterExistential("P")
	opened := ti.RegisterOpened("P")
	f := ir.NewFunc("open", ir.Signature{
		Params: []ir.Param{{Type: P, Conv: ir.ConvIndirectGuaranteed}},
	}, ti)
	bd := ir.NewBuilder(f, ti, f.Entry)
	o := bd.OpenExistential(f.Params()[0], opened)
	c := bd.CopyValue(o)
	bd.DestroyValue(c)
	bd.Return()

	lowerOK(t, f, ti)

	want := []ir.Op{ir.OpOpenExistentialAddr, ir.OpAllocStack, ir.OpCopyAddr, ir.OpDestroyAddr, ir.OpDeallocStack, ir.OpReturn}
	if diff := cmp.Diff(want, ops(f, f.Entry)); diff != "" {
		t.Fatalf("entry mismatch (-want +got):\n%s\n%s", diff, f.String(ti))
	}
}

func TestGuaranteedMergeIsFatal(t *testing.T) {
	ti := types.NewInterner()
	T := ti.RegisterParam("T")
	f := ir.NewFunc("reborrow", ir.Signature{
		Params: []ir.Param{{Type: T, Conv: ir.ConvIndirectOwned}},
	}, ti)
	bb1 := f.NewBlock()
	p := f.AddBlockParam(bb1, T, ir.OwnGuaranteed)
	x := f.Params()[0]
	bd := ir.NewBuilder(f, ti, f.Entry)
	bd.Br(bb1, bd.BeginBorrow(x, false))
	bd1 := ir.NewBuilder(f, ti, bb1)
	bd1.EndBorrow(p)
	bd1.DestroyValue(x)
	bd1.Return()

	_, err := lower.Run(context.Background(), f, ti, nil)
	if !lower.IsKind(err, lower.ErrOwnership) {
		t.Fatalf("expected ownership violation, got %v", err)
	}
}

func TestStatsAdd(t *testing.T) {
	var total lower.Stats
	total.Add(lower.Stats{Values: 2, FreshAllocs: 1, EdgeMoves: 3})
	total.Add(lower.Stats{Values: 1, PhiCoalesced: 2, Invalidated: true})
	want := lower.Stats{Values: 3, FreshAllocs: 1, EdgeMoves: 3, PhiCoalesced: 2, Invalidated: true}
	if diff := cmp.Diff(want, total); diff != "" {
		t.Fatalf("stats mismatch (-want +got):\n%s", diff)
	}
}
