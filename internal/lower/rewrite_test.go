package lower_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"addrlower/internal/ir"
	"addrlower/internal/lower"
	"addrlower/internal/types"
)

// fixture holds the types shared by the rewrite cases.
type fixture struct {
	ti   *types.Interner
	b    types.Builtins
	T, U types.TypeID
	C    types.TypeID // class reference
	pair types.TypeID // {T, T}
	half types.TypeID // {T, int}
	tup  types.TypeID // (T, int)
	box  types.TypeID // {T, C, int}
	P    types.TypeID
	open types.TypeID
}

func newFixture() *fixture {
	ti := types.NewInterner()
	x := &fixture{ti: ti, b: ti.Builtins()}
	x.T = ti.RegisterParam("T")
	x.U = ti.RegisterParam("U")
	x.C = ti.RegisterRef("C")
	x.pair = ti.RegisterStruct("Pair", []types.StructField{{Name: "a", Type: x.T}, {Name: "b", Type: x.T}})
	x.half = ti.RegisterStruct("Half", []types.StructField{{Name: "a", Type: x.T}, {Name: "n", Type: x.b.Int}})
	x.tup = ti.RegisterTuple([]types.TypeID{x.T, x.b.Int})
	x.box = ti.RegisterStruct("Box", []types.StructField{{Name: "v", Type: x.T}, {Name: "r", Type: x.C}, {Name: "n", Type: x.b.Int}})
	x.P = ti.RegisterExistential("P")
	x.open = ti.RegisterOpened("P")
	return x
}

func owned(ty types.TypeID) ir.Param      { return ir.Param{Type: ty, Conv: ir.ConvIndirectOwned} }
func borrowed(ty types.TypeID) ir.Param   { return ir.Param{Type: ty, Conv: ir.ConvIndirectGuaranteed} }
func indirect(ty types.TypeID) ir.Result  { return ir.Result{Type: ty, Indirect: true} }
func direct(ty types.TypeID) ir.Result    { return ir.Result{Type: ty} }
func directArg(ty types.TypeID) ir.Param  { return ir.Param{Type: ty, Conv: ir.ConvDirectOwned} }
func lentArg(ty types.TypeID) ir.Param    { return ir.Param{Type: ty, Conv: ir.ConvDirectGuaranteed} }
func sig(params ...ir.Param) ir.Signature { return ir.Signature{Params: params} }

func TestRewriteShapes(t *testing.T) {
	tests := []struct {
		name   string
		build  func(x *fixture) *ir.Func
		blocks map[ir.BlockID][]ir.Op
		stats  *lower.Stats
		check  func(t *testing.T, f *ir.Func)
	}{
		{
			name: "aggregate of two opaque fields",
			build: func(x *fixture) *ir.Func {
				f := ir.NewFunc("pair", ir.Signature{}, x.ti)
				bd := ir.NewBuilder(f, x.ti, f.Entry)
				a := bd.Apply("make", makeSig(x.T))[0]
				c := bd.Apply("make", makeSig(x.T))[0]
				p := bd.Struct(x.pair, a, c)
				bd.Apply("use", useSig(x.pair), p)
				bd.DestroyValue(p)
				bd.Return()
				return f
			},
			blocks: map[ir.BlockID][]ir.Op{
				0: {ir.OpAllocStack, ir.OpStructElementAddr, ir.OpApply, ir.OpStructElementAddr, ir.OpApply,
					ir.OpApply, ir.OpDestroyAddr, ir.OpDeallocStack, ir.OpReturn},
			},
			stats: &lower.Stats{Values: 3, FreshAllocs: 1, UseProjections: 2},
			check: func(t *testing.T, f *ir.Func) {
				m := newMachine(f)
				if err := m.run(f.Entry); err != nil {
					t.Fatal(err)
				}
				if len(m.slots) != 0 {
					t.Fatalf("values left behind: %v", m.slots)
				}
			},
		},
		{
			name: "conditional cast of an opaque source",
			build: func(x *fixture) *ir.Func {
				f := ir.NewFunc("narrow", sig(owned(x.T)), x.ti)
				success, failure := f.NewBlock(), f.NewBlock()
				f.AddBlockParam(success, x.b.Int, ir.OwnNone)
				rest := f.AddBlockParam(failure, x.T, ir.OwnOwned)
				ir.NewBuilder(f, x.ti, f.Entry).CheckedCastBr(f.Params()[0], x.b.Int, success, failure)
				ir.NewBuilder(f, x.ti, success).Return()
				bdf := ir.NewBuilder(f, x.ti, failure)
				bdf.DestroyValue(rest)
				bdf.Return()
				return f
			},
			blocks: map[ir.BlockID][]ir.Op{
				0: {ir.OpAllocStack, ir.OpCheckedCastAddrBr},
				1: {ir.OpLoad, ir.OpDeallocStack, ir.OpReturn},
				2: {ir.OpDeallocStack, ir.OpDestroyAddr, ir.OpReturn},
			},
			check: func(t *testing.T, f *ir.Func) {
				cast := f.Terminator(f.Entry)
				if !cast.Take || cast.Args[0] != f.Params()[0] {
					t.Fatalf("cast should take its source in place: %v", cast.Args)
				}
			},
		},
		{
			name: "unconditional cast to a loadable type",
			build: func(x *fixture) *ir.Func {
				f := ir.NewFunc("unwrap", ir.Signature{Params: []ir.Param{owned(x.T)}, Results: []ir.Result{direct(x.b.Int)}}, x.ti)
				bd := ir.NewBuilder(f, x.ti, f.Entry)
				bd.Return(bd.UnconditionalCheckedCast(f.Params()[0], x.b.Int))
				return f
			},
			blocks: map[ir.BlockID][]ir.Op{
				0: {ir.OpAllocStack, ir.OpUnconditionalCheckedCastAddr, ir.OpLoad, ir.OpDeallocStack, ir.OpReturn},
			},
		},
		{
			name: "unconditional cast from a loadable type",
			build: func(x *fixture) *ir.Func {
				f := ir.NewFunc("wrap", ir.Signature{Results: []ir.Result{indirect(x.T)}}, x.ti)
				bd := ir.NewBuilder(f, x.ti, f.Entry)
				bd.Return(bd.UnconditionalCheckedCast(bd.IntLit(1), x.T))
				return f
			},
			blocks: map[ir.BlockID][]ir.Op{
				0: {ir.OpIntLit, ir.OpAllocStack, ir.OpStore, ir.OpUnconditionalCheckedCastAddr, ir.OpDeallocStack, ir.OpReturn},
			},
			check: func(t *testing.T, f *ir.Func) {
				cast := f.Instrs[f.Blocks[f.Entry].Instrs[3]]
				if cast.Args[1] != f.Params()[0] {
					t.Fatalf("cast should write the out parameter directly")
				}
			},
		},
		{
			name: "bitwise cast between opaque types",
			build: func(x *fixture) *ir.Func {
				f := ir.NewFunc("rebind", ir.Signature{Params: []ir.Param{owned(x.T)}, Results: []ir.Result{indirect(x.U)}}, x.ti)
				bd := ir.NewBuilder(f, x.ti, f.Entry)
				bd.Return(bd.UncheckedBitwiseCast(f.Params()[0], x.U))
				return f
			},
			blocks: map[ir.BlockID][]ir.Op{
				0: {ir.OpUncheckedAddrCast, ir.OpCopyAddr, ir.OpReturn},
			},
		},
		{
			name: "bitwise cast to a trivial type",
			build: func(x *fixture) *ir.Func {
				f := ir.NewFunc("bits", ir.Signature{Params: []ir.Param{borrowed(x.T)}, Results: []ir.Result{direct(x.b.Int)}}, x.ti)
				bd := ir.NewBuilder(f, x.ti, f.Entry)
				bd.Return(bd.UncheckedBitwiseCast(f.Params()[0], x.b.Int))
				return f
			},
			blocks: map[ir.BlockID][]ir.Op{
				0: {ir.OpUncheckedAddrCast, ir.OpLoad, ir.OpReturn},
			},
		},
		{
			name: "open existential of an owned value",
			build: func(x *fixture) *ir.Func {
				f := ir.NewFunc("drop", sig(owned(x.P)), x.ti)
				bd := ir.NewBuilder(f, x.ti, f.Entry)
				bd.DestroyValue(bd.OpenExistential(f.Params()[0], x.open))
				bd.Return()
				return f
			},
			blocks: map[ir.BlockID][]ir.Op{
				0: {ir.OpOpenExistentialAddr, ir.OpDestroyAddr, ir.OpReturn},
			},
			stats: &lower.Stats{Values: 2, DefProjections: 1},
		},
		{
			name: "store takes an owned value",
			build: func(x *fixture) *ir.Func {
				f := ir.NewFunc("stash", sig(owned(x.T)), x.ti)
				bd := ir.NewBuilder(f, x.ti, f.Entry)
				slot := bd.AllocStack(x.T)
				bd.Store(f.Params()[0], slot, ir.StoreInit)
				bd.DestroyAddr(slot)
				bd.DeallocStack(slot)
				bd.Return()
				return f
			},
			blocks: map[ir.BlockID][]ir.Op{
				0: {ir.OpAllocStack, ir.OpCopyAddr, ir.OpDestroyAddr, ir.OpDeallocStack, ir.OpReturn},
			},
			check: func(t *testing.T, f *ir.Func) {
				mv := f.Instrs[f.Blocks[f.Entry].Instrs[1]]
				if !mv.Take || !mv.Init {
					t.Fatalf("store of an owned value should take it: %+v", mv)
				}
			},
		},
		{
			name: "store of a copy leaves the source",
			build: func(x *fixture) *ir.Func {
				f := ir.NewFunc("clone", sig(borrowed(x.T)), x.ti)
				bd := ir.NewBuilder(f, x.ti, f.Entry)
				slot := bd.AllocStack(x.T)
				bd.Store(bd.CopyValue(f.Params()[0]), slot, ir.StoreInit)
				bd.DestroyAddr(slot)
				bd.DeallocStack(slot)
				bd.Return()
				return f
			},
			blocks: map[ir.BlockID][]ir.Op{
				0: {ir.OpAllocStack, ir.OpCopyAddr, ir.OpDestroyAddr, ir.OpDeallocStack, ir.OpReturn},
			},
			check: func(t *testing.T, f *ir.Func) {
				mv := f.Instrs[f.Blocks[f.Entry].Instrs[1]]
				if mv.Take || !mv.Init || mv.Args[0] != f.Params()[0] {
					t.Fatalf("store of a copy should copy from the parameter: %+v", mv)
				}
			},
		},
		{
			name: "destructure struct",
			build: func(x *fixture) *ir.Func {
				f := ir.NewFunc("split", ir.Signature{Params: []ir.Param{owned(x.half)}, Results: []ir.Result{direct(x.b.Int)}}, x.ti)
				bd := ir.NewBuilder(f, x.ti, f.Entry)
				fields := bd.DestructureStruct(f.Params()[0])
				bd.DestroyValue(fields[0])
				bd.Return(fields[1])
				return f
			},
			blocks: map[ir.BlockID][]ir.Op{
				0: {ir.OpStructElementAddr, ir.OpStructElementAddr, ir.OpLoad, ir.OpDestroyAddr, ir.OpReturn},
			},
		},
		{
			name: "destructure tuple",
			build: func(x *fixture) *ir.Func {
				f := ir.NewFunc("split", ir.Signature{Params: []ir.Param{owned(x.tup)}, Results: []ir.Result{direct(x.b.Int)}}, x.ti)
				bd := ir.NewBuilder(f, x.ti, f.Entry)
				elems := bd.DestructureTuple(f.Params()[0])
				bd.DestroyValue(elems[0])
				bd.Return(elems[1])
				return f
			},
			blocks: map[ir.BlockID][]ir.Op{
				0: {ir.OpTupleElementAddr, ir.OpTupleElementAddr, ir.OpLoad, ir.OpDestroyAddr, ir.OpReturn},
			},
		},
		{
			name: "borrowed reference field",
			build: func(x *fixture) *ir.Func {
				f := ir.NewFunc("peek", sig(borrowed(x.box), directArg(x.b.Bool)), x.ti)
				bb1, bb2, bb3 := f.NewBlock(), f.NewBlock(), f.NewBlock()
				bd := ir.NewBuilder(f, x.ti, f.Entry)
				r := bd.StructExtract(f.Params()[0], 1)
				bd.CondBr(f.Params()[1], bb1, bb2)
				bd1 := ir.NewBuilder(f, x.ti, bb1)
				bd1.Apply("inspect", &ir.Signature{Params: []ir.Param{lentArg(x.C)}}, r)
				bd1.Br(bb3)
				ir.NewBuilder(f, x.ti, bb2).Br(bb3)
				ir.NewBuilder(f, x.ti, bb3).Return()
				return f
			},
			blocks: map[ir.BlockID][]ir.Op{
				0: {ir.OpStructElementAddr, ir.OpLoadBorrow, ir.OpCondBr},
				1: {ir.OpApply, ir.OpEndBorrow, ir.OpBr},
				2: {ir.OpEndBorrow, ir.OpBr},
				3: {ir.OpReturn},
			},
		},
		{
			name: "copied reference field",
			build: func(x *fixture) *ir.Func {
				f := ir.NewFunc("grab", sig(borrowed(x.box)), x.ti)
				bd := ir.NewBuilder(f, x.ti, f.Entry)
				r := bd.CopyValue(bd.StructExtract(f.Params()[0], 1))
				bd.Apply("keep", &ir.Signature{Params: []ir.Param{directArg(x.C)}}, r)
				bd.Return()
				return f
			},
			blocks: map[ir.BlockID][]ir.Op{
				0: {ir.OpStructElementAddr, ir.OpLoad, ir.OpApply, ir.OpReturn},
			},
			check: func(t *testing.T, f *ir.Func) {
				if l := f.Instrs[f.Blocks[f.Entry].Instrs[1]]; l.Load != ir.LoadCopy {
					t.Fatalf("field copy should load [copy], got %s", l.Load)
				}
			},
		},
		{
			name: "trivial field",
			build: func(x *fixture) *ir.Func {
				f := ir.NewFunc("count", ir.Signature{Params: []ir.Param{borrowed(x.box)}, Results: []ir.Result{direct(x.b.Int)}}, x.ti)
				bd := ir.NewBuilder(f, x.ti, f.Entry)
				bd.Return(bd.StructExtract(f.Params()[0], 2))
				return f
			},
			blocks: map[ir.BlockID][]ir.Op{
				0: {ir.OpStructElementAddr, ir.OpLoad, ir.OpReturn},
			},
		},
		{
			name: "debug value",
			build: func(x *fixture) *ir.Func {
				f := ir.NewFunc("trace", sig(owned(x.T)), x.ti)
				bd := ir.NewBuilder(f, x.ti, f.Entry)
				bd.DebugValue(f.Params()[0], "x")
				bd.DestroyValue(f.Params()[0])
				bd.Return()
				return f
			},
			blocks: map[ir.BlockID][]ir.Op{
				0: {ir.OpDebugValueAddr, ir.OpDestroyAddr, ir.OpReturn},
			},
		},
		{
			name: "loop back edge",
			build: func(x *fixture) *ir.Func {
				f := ir.NewFunc("loop", ir.Signature{Params: []ir.Param{directArg(x.b.Bool)}, Results: []ir.Result{indirect(x.T)}}, x.ti)
				header, body, exit := f.NewBlock(), f.NewBlock(), f.NewBlock()
				cur := f.AddBlockParam(header, x.T, ir.OwnOwned)
				bd := ir.NewBuilder(f, x.ti, f.Entry)
				bd.Br(header, bd.Apply("make", makeSig(x.T))[0])
				bdh := ir.NewBuilder(f, x.ti, header)
				bdh.Apply("use", useSig(x.T), cur)
				bdh.CondBr(f.Params()[0], body, exit)
				bdb := ir.NewBuilder(f, x.ti, body)
				next := bdb.Apply("make", makeSig(x.T))[0]
				bdb.DestroyValue(cur)
				bdb.Br(header, next)
				ir.NewBuilder(f, x.ti, exit).Return(cur)
				return f
			},
			blocks: map[ir.BlockID][]ir.Op{
				0: {ir.OpAllocStack, ir.OpApply, ir.OpBr},
				1: {ir.OpApply, ir.OpCondBr},
				2: {ir.OpApply, ir.OpDestroyAddr, ir.OpCopyAddr, ir.OpBr},
				3: {ir.OpDeallocStack, ir.OpReturn},
			},
			check: func(t *testing.T, f *ir.Func) {
				out := f.Params()[0]
				paths := []struct {
					blocks []ir.BlockID
					want   string
				}{
					{[]ir.BlockID{0, 1, 3}, "make#0"},
					{[]ir.BlockID{0, 1, 2, 1, 3}, "make#1"},
					{[]ir.BlockID{0, 1, 2, 1, 2, 1, 3}, "make#2"},
				}
				for _, p := range paths {
					m := newMachine(f)
					if err := m.run(p.blocks...); err != nil {
						t.Fatalf("path %v: %v", p.blocks, err)
					}
					want := map[string]string{m.loc(out): p.want}
					if diff := cmp.Diff(want, m.slots); diff != "" {
						t.Fatalf("path %v (-want +got):\n%s", p.blocks, diff)
					}
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x := newFixture()
			f := tt.build(x)
			stats := lowerOK(t, f, x.ti)
			for b, want := range tt.blocks {
				if diff := cmp.Diff(want, ops(f, b)); diff != "" {
					t.Fatalf("bb%d mismatch (-want +got):\n%s\n%s", b, diff, f.String(x.ti))
				}
			}
			if tt.stats != nil {
				want := *tt.stats
				want.Invalidated = true
				got := stats
				got.DeadAllocsRemoved = 0
				if diff := cmp.Diff(want, got); diff != "" {
					t.Fatalf("stats mismatch (-want +got):\n%s", diff)
				}
			}
			if tt.check != nil {
				tt.check(t, f)
			}
		})
	}
}
