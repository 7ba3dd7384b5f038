// Package scenario builds small sample modules in the unlowered form. They
// back the CLI's example command and end-to-end tests of the driver.
package scenario

import (
	"addrlower/internal/ir"
	"addrlower/internal/types"
)

// Names lists the sample functions in the order Module emits them.
var Names = []string{"forward", "merge", "swap"}

func makeSig(ty types.TypeID) *ir.Signature {
	return &ir.Signature{Results: []ir.Result{{Type: ty, Indirect: true}}}
}

func useSig(ty types.TypeID) *ir.Signature {
	return &ir.Signature{Params: []ir.Param{{Type: ty, Conv: ir.ConvIndirectGuaranteed}}}
}

// Forward returns the result of a call that produces an opaque value. After
// lowering the call writes straight into the caller's result storage.
func Forward(ti *types.Interner, T types.TypeID) *ir.Func {
	f := ir.NewFunc("forward", ir.Signature{Results: []ir.Result{{Type: T, Indirect: true}}}, ti)
	bd := ir.NewBuilder(f, ti, f.Entry)
	r := bd.Apply("make", makeSig(T))
	bd.Return(r[0])
	return f
}

// Merge joins two opaque values at a block parameter. The operand from the
// left edge is still used after it is produced, the right one is not.
func Merge(ti *types.Interner, T types.TypeID) *ir.Func {
	b := ti.Builtins()
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
	return f
}

// Swap passes two opaque values to a block in opposite orders on its two
// incoming edges.
func Swap(ti *types.Interner, T types.TypeID) *ir.Func {
	b := ti.Builtins()
	f := ir.NewFunc("swap", ir.Signature{
		Params: []ir.Param{{Type: b.Bool, Conv: ir.ConvDirectOwned}},
	}, ti)
	bb1, bb2, bb3 := f.NewBlock(), f.NewBlock(), f.NewBlock()
	m0 := f.AddBlockParam(bb3, T, ir.OwnOwned)
	m1 := f.AddBlockParam(bb3, T, ir.OwnOwned)
	bd := ir.NewBuilder(f, ti, f.Entry)
	a := bd.Apply("make", makeSig(T))[0]
	c := bd.Apply("make", makeSig(T))[0]
	bd.CondBr(f.Params()[0], bb1, bb2)
	ir.NewBuilder(f, ti, bb1).Br(bb3, a, c)
	ir.NewBuilder(f, ti, bb2).Br(bb3, c, a)
	bd3 := ir.NewBuilder(f, ti, bb3)
	bd3.DestroyValue(m0)
	bd3.DestroyValue(m1)
	bd3.Return()
	return f
}

// Module builds every sample over a fresh interner.
func Module(name string) (*ir.Module, *types.Interner) {
	ti := types.NewInterner()
	T := ti.RegisterParam("T")
	m := &ir.Module{
		Name:  name,
		Funcs: []*ir.Func{Forward(ti, T), Merge(ti, T), Swap(ti, T)},
	}
	return m, ti
}
