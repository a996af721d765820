// Copyright 2024 The jwasm-branchmgr Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

package branch

import (
	"github.com/i-net-software/jwasm-branchmgr/instr"
	"github.com/i-net-software/jwasm-branchmgr/ops"
)

// Parsed-Operation Store (spec.md §4.1). These six operations are purely
// registration: no transformation happens here, that is the loop
// detector's (loop.go) and the region tree builder's (tree.go) job.

// AddGoto registers an unconditional forward or backward jump.
func (m *Manager) AddGoto(start, offset, next, line int) error {
	m.blocks = append(m.blocks, &parsedBlock{
		kind: pkGoto, start: start, end: start + offset, next: next, line: line,
		compareIdx: -1, placeholderIdx: -1,
	})
	return nil
}

// AddReturn registers a method return. It only matters to the loop
// detector as an alternative block terminator; the tree builder discards
// it (spec.md §4.3 "Return: ignored").
func (m *Manager) AddReturn(start, next, line int) error {
	m.blocks = append(m.blocks, &parsedBlock{
		kind: pkReturn, start: start, end: noEnd, next: next, line: line,
		compareIdx: -1, placeholderIdx: -1,
	})
	return nil
}

// AddIf registers a conditional jump and also inserts a placeholder jump
// entry in the shared instruction list at the if's own position, so later
// passes know which slot corresponds to this conditional (spec.md §4.1).
// compareIdx is the index, in the shared instruction list, of the
// comparison instruction whose operator may later be negated; pass -1 if
// none is tracked.
func (m *Manager) AddIf(start, offset, line, compareIdx int) error {
	const ifWidth = 3 // fixed-width conditional jump, matching S1/S6 in spec.md §8
	next := start + ifWidth
	end := start + offset

	phIdx := m.instrs.IndexOfPosition(start)
	if phIdx < 0 {
		phIdx = m.instrs.Append(instr.Entry{
			CodePosition: start, LineNumber: line, Kind: instr.KindPlaceholder, Op: "if",
		})
	} else {
		// An entry already sits at this position -- typically the fused
		// compare-and-branch instruction itself, when compareIdx names this
		// very slot. Mark it a placeholder (buildContinue/emitBreak will
		// rewrite it into a resolved branch if this If ends up as a
		// continue or a break) but leave its Op/compare payload alone:
		// buildIf restores it to a straight-line instruction instead of
		// dropping it when the If resolves into a genuine structural If
		// (tree.go's buildIf).
		m.instrs.At(phIdx).Kind = instr.KindPlaceholder
	}

	var cmp ops.Op
	if compareIdx >= 0 {
		ce := m.instrs.At(compareIdx)
		if !ce.HasCompare {
			return errNegateNonCompare(line, ce.Compare)
		}
		cmp = ce.Compare
	}

	m.blocks = append(m.blocks, &parsedBlock{
		kind: pkIf, start: start, end: end, next: next, line: line,
		compareIdx: compareIdx, compare: cmp, placeholderIdx: phIdx,
	})
	return nil
}

// AddSwitch registers a table or lookup switch. A nil keys slice means a
// dense table switch (case index == array index); a non-nil, sorted keys
// slice means a lookup switch.
func (m *Manager) AddSwitch(start, line int, keys []int, positions []int, defaultPos int) error {
	m.blocks = append(m.blocks, &parsedBlock{
		kind: pkSwitch, start: start, next: start, line: line,
		keys:       append([]int(nil), keys...),
		positions:  append([]int(nil), positions...),
		defaultPos: defaultPos,
		compareIdx: -1, placeholderIdx: -1,
	})
	pb := m.blocks[len(m.blocks)-1]
	pb.end = pb.switchBodyEnd()
	return nil
}

// AddTry registers one exception-table row; the region tree builder
// coalesces rows sharing (start, end) into a single try region with an
// ordered list of handlers (spec.md §4.3 calculateTry).
func (m *Manager) AddTry(tuple instr.ExceptionEntry, line int) error {
	m.blocks = append(m.blocks, &parsedBlock{
		kind: pkTryRegion, start: tuple.StartPC, end: tuple.EndPC, next: tuple.EndPC, line: line,
		handlers:   []tryHandler{{handlerPC: tuple.HandlerPC, catchType: tuple.CatchType}},
		compareIdx: -1, placeholderIdx: -1,
	})
	return nil
}
