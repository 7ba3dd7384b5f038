package types

// TupleInfo stores the element types for a tuple type.
type TupleInfo struct {
	Elems []TypeID
}

// RegisterTuple creates or finds an existing tuple type with the given elements.
func (in *Interner) RegisterTuple(elems []TypeID) TypeID {
	in.mu.Lock()
	for slot := 1; slot < len(in.tuples); slot++ {
		if sameTypes(in.tuples[slot].Elems, elems) {
			id, ok := in.index[typeKey(Type{Kind: KindTuple, Payload: uint32(slot)})] //nolint:gosec // bounded by tuples length
			if ok {
				in.mu.Unlock()
				return id
			}
		}
	}
	in.tuples = append(in.tuples, TupleInfo{Elems: cloneTypeArgs(elems)})
	slot := slotOf(len(in.tuples), "tuple")
	id := in.internLocked(Type{Kind: KindTuple, Payload: slot})
	in.mu.Unlock()
	return id
}

// TupleInfo returns the element types for a tuple TypeID.
func (in *Interner) TupleInfo(id TypeID) (*TupleInfo, bool) {
	tt, ok := in.Lookup(id)
	if !ok || tt.Kind != KindTuple {
		return nil, false
	}
	in.mu.RLock()
	defer in.mu.RUnlock()
	if int(tt.Payload) >= len(in.tuples) {
		return nil, false
	}
	return &in.tuples[tt.Payload], true
}

func sameTypes(a, b []TypeID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
