package ir

import (
	"fmt"
	"slices"

	"addrlower/internal/types"
)

// Builder creates instructions at a fixed insertion point. Every new
// instruction is placed immediately before the anchor, so a sequence of
// calls produces instructions in call order.
type Builder struct {
	f      *Func
	ti     *types.Interner
	block  BlockID
	anchor InstrID
}

// NewBuilder appends to the end of b.
func NewBuilder(f *Func, ti *types.Interner, b BlockID) *Builder {
	return &Builder{f: f, ti: ti, block: b, anchor: NoInstrID}
}

// BuilderBefore inserts immediately before inst.
func BuilderBefore(f *Func, ti *types.Interner, inst InstrID) *Builder {
	return &Builder{f: f, ti: ti, block: f.Instrs[inst].Block, anchor: inst}
}

// BuilderAfter inserts immediately after inst.
func BuilderAfter(f *Func, ti *types.Interner, inst InstrID) *Builder {
	return &Builder{f: f, ti: ti, block: f.Instrs[inst].Block, anchor: f.Next(inst)}
}

// BuilderAtStart inserts at the beginning of b.
func BuilderAtStart(f *Func, ti *types.Interner, b BlockID) *Builder {
	anchor := NoInstrID
	if instrs := f.Blocks[b].Instrs; len(instrs) > 0 {
		anchor = instrs[0]
	}
	return &Builder{f: f, ti: ti, block: b, anchor: anchor}
}

// BuilderAtEnd inserts before the terminator of b, or appends when b is
// not yet terminated.
func BuilderAtEnd(f *Func, ti *types.Interner, b BlockID) *Builder {
	anchor := NoInstrID
	if t := f.Terminator(b); t != nil {
		anchor = t.ID
	}
	return &Builder{f: f, ti: ti, block: b, anchor: anchor}
}

// Func returns the function being built.
func (bd *Builder) Func() *Func { return bd.f }

// Block returns the block receiving new instructions.
func (bd *Builder) Block() BlockID { return bd.block }

type resultSpec struct {
	ty  types.TypeID
	own Ownership
}

func (bd *Builder) emit(in *Instr, results ...resultSpec) *Instr {
	if in.Default == 0 && !in.Op.IsTerminator() {
		in.Default = NoBlockID
	}
	bd.f.insertInstr(in, bd.block, bd.anchor)
	for i, r := range results {
		v := bd.f.newValue(ValueResult, r.ty, r.own)
		v.Instr = in.ID
		v.Index = i
		in.Results = append(in.Results, v.ID)
	}
	return in
}

func (bd *Builder) typeOf(v ValueID) types.TypeID {
	return bd.f.Values[v].Type
}

// ownFor returns own unless ty carries no ownership.
func (bd *Builder) ownFor(ty types.TypeID, own Ownership) Ownership {
	if bd.ti.IsAddress(ty) || bd.ti.IsTrivial(ty) {
		return OwnNone
	}
	return own
}

// forwarded computes the ownership of a value forwarded from args.
func (bd *Builder) forwarded(ty types.TypeID, args ...ValueID) Ownership {
	own := OwnOwned
	for _, a := range args {
		if a == NoValueID {
			continue
		}
		switch bd.f.Values[a].Own {
		case OwnGuaranteed:
			own = OwnGuaranteed
		case OwnUnowned:
			if own == OwnOwned {
				own = OwnUnowned
			}
		}
	}
	return bd.ownFor(ty, own)
}

func (bd *Builder) mustField(ty types.TypeID, idx int) types.TypeID {
	ft, ok := bd.ti.FieldType(ty, idx)
	if !ok {
		panic(fmt.Errorf("ir: %s has no field %d", bd.ti.Name(ty), idx))
	}
	return ft
}

func (bd *Builder) mustPayload(ty types.TypeID, c int) types.TypeID {
	pt, ok := bd.ti.CasePayload(ty, c)
	if !ok || pt == types.NoTypeID {
		panic(fmt.Errorf("ir: %s case %d has no payload", bd.ti.Name(ty), c))
	}
	return pt
}

func (bd *Builder) IntLit(v int64) ValueID {
	ty := bd.ti.Builtins().Int
	return bd.emit(&Instr{Op: OpIntLit, Int: v, Type: ty}, resultSpec{ty, OwnNone}).Result()
}

// Struct composes a value of struct type ty from fields.
func (bd *Builder) Struct(ty types.TypeID, fields ...ValueID) ValueID {
	in := &Instr{Op: OpStruct, Type: ty, Args: slices.Clone(fields)}
	return bd.emit(in, resultSpec{ty, bd.forwarded(ty, fields...)}).Result()
}

// Tuple composes a tuple from elems, interning the tuple type.
func (bd *Builder) Tuple(elems ...ValueID) ValueID {
	tys := make([]types.TypeID, len(elems))
	for i, e := range elems {
		tys[i] = bd.typeOf(e)
	}
	ty := bd.ti.RegisterTuple(tys)
	in := &Instr{Op: OpTuple, Type: ty, Args: slices.Clone(elems)}
	return bd.emit(in, resultSpec{ty, bd.forwarded(ty, elems...)}).Result()
}

// Enum composes case c of enum type ty. payload is NoValueID for cases
// without data.
func (bd *Builder) Enum(ty types.TypeID, c int, payload ValueID) ValueID {
	in := &Instr{Op: OpEnum, Type: ty, Field: c}
	if payload != NoValueID {
		in.Args = []ValueID{payload}
	}
	return bd.emit(in, resultSpec{ty, bd.forwarded(ty, payload)}).Result()
}

// InitExistential wraps v into an existential of type ty.
func (bd *Builder) InitExistential(ty types.TypeID, v ValueID) ValueID {
	in := &Instr{Op: OpInitExistential, Type: bd.typeOf(v), Args: []ValueID{v}}
	return bd.emit(in, resultSpec{ty, bd.forwarded(ty, v)}).Result()
}

func (bd *Builder) StructExtract(v ValueID, field int) ValueID {
	ty := bd.mustField(bd.typeOf(v), field)
	in := &Instr{Op: OpStructExtract, Field: field, Args: []ValueID{v}}
	return bd.emit(in, resultSpec{ty, bd.forwarded(ty, v)}).Result()
}

func (bd *Builder) TupleExtract(v ValueID, idx int) ValueID {
	ty := bd.mustField(bd.typeOf(v), idx)
	in := &Instr{Op: OpTupleExtract, Field: idx, Args: []ValueID{v}}
	return bd.emit(in, resultSpec{ty, bd.forwarded(ty, v)}).Result()
}

func (bd *Builder) destructure(op Op, v ValueID) []ValueID {
	agg := bd.typeOf(v)
	n := bd.ti.FieldCount(agg)
	specs := make([]resultSpec, n)
	for i := range n {
		ty := bd.mustField(agg, i)
		specs[i] = resultSpec{ty, bd.forwarded(ty, v)}
	}
	return slices.Clone(bd.emit(&Instr{Op: op, Args: []ValueID{v}}, specs...).Results)
}

// DestructureStruct consumes v into its fields.
func (bd *Builder) DestructureStruct(v ValueID) []ValueID {
	return bd.destructure(OpDestructureStruct, v)
}

// DestructureTuple consumes v into its elements.
func (bd *Builder) DestructureTuple(v ValueID) []ValueID {
	return bd.destructure(OpDestructureTuple, v)
}

func (bd *Builder) UncheckedEnumData(v ValueID, c int) ValueID {
	ty := bd.mustPayload(bd.typeOf(v), c)
	in := &Instr{Op: OpUncheckedEnumData, Field: c, Args: []ValueID{v}}
	return bd.emit(in, resultSpec{ty, bd.forwarded(ty, v)}).Result()
}

// OpenExistential exposes the value inside existential v as opened type
// opened. The result becomes the origin of opened.
func (bd *Builder) OpenExistential(v ValueID, opened types.TypeID) ValueID {
	in := &Instr{Op: OpOpenExistential, Type: opened, Args: []ValueID{v}}
	res := bd.emit(in, resultSpec{opened, bd.forwarded(opened, v)}).Result()
	bd.ti.BindOpened(opened, int32(res))
	return res
}

func (bd *Builder) UncheckedBitwiseCast(v ValueID, ty types.TypeID) ValueID {
	in := &Instr{Op: OpUncheckedBitwiseCast, Type: ty, Args: []ValueID{v}}
	return bd.emit(in, resultSpec{ty, bd.forwarded(ty, v)}).Result()
}

func (bd *Builder) UnconditionalCheckedCast(v ValueID, ty types.TypeID) ValueID {
	in := &Instr{Op: OpUnconditionalCheckedCast, Type: ty, Args: []ValueID{v}}
	return bd.emit(in, resultSpec{ty, bd.forwarded(ty, v)}).Result()
}

func (bd *Builder) CopyValue(v ValueID) ValueID {
	ty := bd.typeOf(v)
	in := &Instr{Op: OpCopyValue, Args: []ValueID{v}}
	return bd.emit(in, resultSpec{ty, bd.ownFor(ty, OwnOwned)}).Result()
}

func (bd *Builder) DestroyValue(v ValueID) *Instr {
	return bd.emit(&Instr{Op: OpDestroyValue, Args: []ValueID{v}})
}

func (bd *Builder) BeginBorrow(v ValueID, lexical bool) ValueID {
	ty := bd.typeOf(v)
	in := &Instr{Op: OpBeginBorrow, Lexical: lexical, Args: []ValueID{v}}
	return bd.emit(in, resultSpec{ty, bd.ownFor(ty, OwnGuaranteed)}).Result()
}

func (bd *Builder) EndBorrow(v ValueID) *Instr {
	return bd.emit(&Instr{Op: OpEndBorrow, Args: []ValueID{v}})
}

// Load reads the object stored at addr.
func (bd *Builder) Load(addr ValueID, q LoadQual) ValueID {
	ty := bd.ti.ObjectType(bd.typeOf(addr))
	in := &Instr{Op: OpLoad, Load: q, Args: []ValueID{addr}}
	return bd.emit(in, resultSpec{ty, bd.ownFor(ty, OwnOwned)}).Result()
}

func (bd *Builder) LoadBorrow(addr ValueID) ValueID {
	ty := bd.ti.ObjectType(bd.typeOf(addr))
	in := &Instr{Op: OpLoadBorrow, Args: []ValueID{addr}}
	return bd.emit(in, resultSpec{ty, bd.ownFor(ty, OwnGuaranteed)}).Result()
}

// Store writes src into the memory at dest.
func (bd *Builder) Store(src, dest ValueID, q StoreQual) *Instr {
	return bd.emit(&Instr{Op: OpStore, Store: q, Args: []ValueID{src, dest}})
}

// StoreBorrow stores a borrowed src into dest for the duration of a
// borrow scope and returns the borrowed address.
func (bd *Builder) StoreBorrow(src, dest ValueID) ValueID {
	ty := bd.typeOf(dest)
	return bd.emit(&Instr{Op: OpStoreBorrow, Args: []ValueID{src, dest}}, resultSpec{ty, OwnNone}).Result()
}

// Apply calls callee with object arguments. Every formal result,
// including indirect ones, is returned as an object.
func (bd *Builder) Apply(callee string, sig *Signature, args ...ValueID) []ValueID {
	specs := make([]resultSpec, len(sig.Results))
	for i, r := range sig.Results {
		specs[i] = resultSpec{r.Type, bd.ownFor(r.Type, OwnOwned)}
	}
	in := &Instr{Op: OpApply, Name: callee, Sig: sig, Args: slices.Clone(args)}
	return slices.Clone(bd.emit(in, specs...).Results)
}

// ApplyAddr calls callee using the lowered convention. args starts with
// one address per indirect result; only direct results are returned.
func (bd *Builder) ApplyAddr(callee string, sig *Signature, args ...ValueID) []ValueID {
	var specs []resultSpec
	for _, r := range sig.Results {
		if !r.Indirect {
			specs = append(specs, resultSpec{r.Type, bd.ownFor(r.Type, OwnOwned)})
		}
	}
	in := &Instr{Op: OpApply, Name: callee, Sig: sig, AddrForm: true, Args: slices.Clone(args)}
	return slices.Clone(bd.emit(in, specs...).Results)
}

func (bd *Builder) DebugValue(v ValueID, name string) *Instr {
	return bd.emit(&Instr{Op: OpDebugValue, Name: name, Args: []ValueID{v}})
}

// AllocStack allocates uninitialized stack memory for a value of type ty.
func (bd *Builder) AllocStack(ty types.TypeID) ValueID {
	in := &Instr{Op: OpAllocStack, Type: ty}
	return bd.emit(in, resultSpec{bd.ti.AddressOf(ty), OwnNone}).Result()
}

func (bd *Builder) DeallocStack(addr ValueID) *Instr {
	return bd.emit(&Instr{Op: OpDeallocStack, Args: []ValueID{addr}})
}

// CopyAddr copies the value at src into dest. take consumes the source;
// init marks dest as uninitialized beforehand.
func (bd *Builder) CopyAddr(src, dest ValueID, take, init bool) *Instr {
	return bd.emit(&Instr{Op: OpCopyAddr, Take: take, Init: init, Args: []ValueID{src, dest}})
}

func (bd *Builder) addrProj(op Op, addr ValueID, idx int, elem types.TypeID) ValueID {
	in := &Instr{Op: op, Field: idx, Type: elem, Args: []ValueID{addr}}
	return bd.emit(in, resultSpec{bd.ti.AddressOf(elem), OwnNone}).Result()
}

func (bd *Builder) StructElementAddr(addr ValueID, field int) ValueID {
	elem := bd.mustField(bd.ti.ObjectType(bd.typeOf(addr)), field)
	return bd.addrProj(OpStructElementAddr, addr, field, elem)
}

func (bd *Builder) TupleElementAddr(addr ValueID, idx int) ValueID {
	elem := bd.mustField(bd.ti.ObjectType(bd.typeOf(addr)), idx)
	return bd.addrProj(OpTupleElementAddr, addr, idx, elem)
}

// InitEnumDataAddr returns the payload address of case c for
// initialization.
func (bd *Builder) InitEnumDataAddr(addr ValueID, c int) ValueID {
	elem := bd.mustPayload(bd.ti.ObjectType(bd.typeOf(addr)), c)
	return bd.addrProj(OpInitEnumDataAddr, addr, c, elem)
}

// InjectEnumAddr sets the tag of the enum at addr to case c.
func (bd *Builder) InjectEnumAddr(addr ValueID, c int) *Instr {
	return bd.emit(&Instr{Op: OpInjectEnumAddr, Field: c, Args: []ValueID{addr}})
}

// UncheckedTakeEnumDataAddr projects the payload of case c, which must be
// active.
func (bd *Builder) UncheckedTakeEnumDataAddr(addr ValueID, c int) ValueID {
	elem := bd.mustPayload(bd.ti.ObjectType(bd.typeOf(addr)), c)
	return bd.addrProj(OpUncheckedTakeEnumDataAddr, addr, c, elem)
}

// InitExistentialAddr prepares the existential at addr to hold a value of
// type concrete and returns the address of that value.
func (bd *Builder) InitExistentialAddr(addr ValueID, concrete types.TypeID) ValueID {
	return bd.addrProj(OpInitExistentialAddr, addr, 0, concrete)
}

// OpenExistentialAddr returns the address of the value inside the
// existential at addr. The result becomes the origin of opened.
func (bd *Builder) OpenExistentialAddr(addr ValueID, opened types.TypeID) ValueID {
	res := bd.addrProj(OpOpenExistentialAddr, addr, 0, opened)
	bd.ti.BindOpened(opened, int32(res))
	return res
}

func (bd *Builder) UncheckedAddrCast(addr ValueID, ty types.TypeID) ValueID {
	return bd.addrProj(OpUncheckedAddrCast, addr, 0, ty)
}

func (bd *Builder) DestroyAddr(addr ValueID) *Instr {
	return bd.emit(&Instr{Op: OpDestroyAddr, Args: []ValueID{addr}})
}

func (bd *Builder) DebugValueAddr(addr ValueID, name string) *Instr {
	return bd.emit(&Instr{Op: OpDebugValueAddr, Name: name, Args: []ValueID{addr}})
}

// UnconditionalCheckedCastAddr moves the value at src into dest, casting
// it to the type stored at dest.
func (bd *Builder) UnconditionalCheckedCastAddr(src, dest ValueID) *Instr {
	in := &Instr{Op: OpUnconditionalCheckedCastAddr, Type: bd.ti.ObjectType(bd.typeOf(dest)), Args: []ValueID{src, dest}}
	return bd.emit(in)
}

func (bd *Builder) Br(target BlockID, args ...ValueID) *Instr {
	return bd.emit(&Instr{Op: OpBr, Targets: []BlockID{target}, Default: NoBlockID, Args: slices.Clone(args)})
}

func (bd *Builder) CondBr(cond ValueID, then, els BlockID) *Instr {
	return bd.emit(&Instr{Op: OpCondBr, Targets: []BlockID{then, els}, Default: NoBlockID, Args: []ValueID{cond}})
}

// SwitchEnum dispatches on the case of v. def may be NoBlockID.
func (bd *Builder) SwitchEnum(v ValueID, cases []SwitchCase, def BlockID) *Instr {
	return bd.emit(&Instr{Op: OpSwitchEnum, Cases: slices.Clone(cases), Default: def, Args: []ValueID{v}})
}

func (bd *Builder) SwitchEnumAddr(addr ValueID, cases []SwitchCase, def BlockID) *Instr {
	return bd.emit(&Instr{Op: OpSwitchEnumAddr, Cases: slices.Clone(cases), Default: def, Args: []ValueID{addr}})
}

// CheckedCastBr casts v to ty. The success block receives the cast value
// and the failure block receives v.
func (bd *Builder) CheckedCastBr(v ValueID, ty types.TypeID, success, failure BlockID) *Instr {
	in := &Instr{Op: OpCheckedCastBr, Type: ty, Targets: []BlockID{success, failure}, Default: NoBlockID, Args: []ValueID{v}}
	return bd.emit(in)
}

// CheckedCastAddrBr casts the value at src into dest. With take the source
// is consumed on success.
func (bd *Builder) CheckedCastAddrBr(src, dest ValueID, take bool, success, failure BlockID) *Instr {
	in := &Instr{
		Op: OpCheckedCastAddrBr, Type: bd.ti.ObjectType(bd.typeOf(dest)), Take: take,
		Targets: []BlockID{success, failure}, Default: NoBlockID, Args: []ValueID{src, dest},
	}
	return bd.emit(in)
}

func (bd *Builder) Return(vals ...ValueID) *Instr {
	return bd.emit(&Instr{Op: OpReturn, Default: NoBlockID, Args: slices.Clone(vals)})
}

func (bd *Builder) Unreachable() *Instr {
	return bd.emit(&Instr{Op: OpUnreachable, Default: NoBlockID})
}
