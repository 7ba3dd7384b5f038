package lower

import (
	"addrlower/internal/ir"
)

// rewritePhiOperand moves operand idx of br into the storage of the
// merge it feeds. Moves into the merges of one block are ordered so
// that no move overwrites storage another move still reads; a cycle is
// broken with a temporary.
func (s *state) rewritePhiOperand(br *ir.Instr, idx int) {
	f := s.f
	operand := br.Args[idx]
	phi := f.Blocks[br.Targets[0]].Params[idx]
	phiOrd := s.ordinal(phi)
	ost := s.storage(operand)
	if ost.IsPhiProjection() && ost.Target == phiOrd {
		return
	}
	pos, cycle := s.findPhiMovePosition(br, phi, operand)
	bd := s.before(pos)
	operAddr := s.materialize(bd, operand)
	phiAddr := s.materializeStorage(bd, s.table.At(phiOrd), true)
	s.stats.EdgeMoves++
	if !cycle {
		s.phiMove(bd, operAddr, phiAddr)
		return
	}
	tmp := bd.AllocStack(s.typeOf(phi))
	s.phiMove(bd, operAddr, tmp)
	end := s.before(br.ID)
	s.phiMove(end, tmp, phiAddr)
	end.DeallocStack(tmp)
	s.stats.SwapTemps++
	s.note("swap", operand, "through %%%d", tmp)
}

func (s *state) phiMove(bd *ir.Builder, src, dest ir.ValueID) {
	mv := bd.CopyAddr(src, dest, true, true)
	s.phiMoves[mv.ID] = true
}

// findPhiMovePosition scans the moves already placed before br. The new
// move must precede any move that overwrites the operand's storage; if
// such a move also follows one reading the merge's storage, the moves
// form a cycle. Address projections and swap temporaries emitted between
// the moves do not end the scan.
func (s *state) findPhiMovePosition(br *ir.Instr, phi, operand ir.ValueID) (ir.InstrID, bool) {
	f := s.f
	phiBase := s.baseAddress(phi)
	operBase := s.baseAddress(operand)
	pos := br.ID
	foundEarliest, cycle := false, false
	for cur := f.Prev(br.ID); cur != ir.NoInstrID; cur = f.Prev(cur) {
		if !s.phiMoves[cur] {
			if edgeMoveSupport(f.Instrs[cur].Op) {
				continue
			}
			break
		}
		mv := f.Instrs[cur]
		if !foundEarliest && f.AddressRoot(mv.Args[0]) == phiBase {
			foundEarliest = true
		}
		if f.AddressRoot(mv.Args[1]) == operBase {
			pos = cur
			if foundEarliest {
				cycle = true
			}
		}
	}
	return pos, cycle
}

// edgeMoveSupport reports whether op may sit between the moves of one
// edge without reading or writing the moved values.
func edgeMoveSupport(op ir.Op) bool {
	return op.IsAddressProjection() || op == ir.OpAllocStack || op == ir.OpDeallocStack
}

func (s *state) baseAddress(v ir.ValueID) ir.ValueID {
	base := s.table.Base(s.storage(v), true)
	if base.Addr == ir.NoValueID {
		return ir.NoValueID
	}
	return s.f.AddressRoot(base.Addr)
}
