// Copyright 2024 The jwasm-branchmgr Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

package branch

import "github.com/i-net-software/jwasm-branchmgr/instr"

// normalize runs the Loop Detector / Normalizer's three sub-phases, in
// order (spec.md §4.2).
func (m *Manager) normalize() error {
	m.phaseATryBounds()
	if err := m.phaseBLoopsAndIdioms(); err != nil {
		return err
	}
	m.phaseCFinalSort()
	return nil
}

// phaseATryBounds computes each registered handler's catchEnd: the end of
// the compensating goto at handlerPC-3 pointing past handlerPC, or -- if
// none exists -- the smallest end of any block still enclosing handlerPC
// (spec.md §4.2-A).
func (m *Manager) phaseATryBounds() {
	for _, pb := range m.blocks {
		if pb.kind != pkTryRegion {
			continue
		}
		for hi := range pb.handlers {
			pb.handlers[hi].catchEnd = m.findCatchEnd(pb.handlers[hi].handlerPC)
		}
	}
}

func (m *Manager) findCatchEnd(handlerPC int) int {
	for _, pb := range m.blocks {
		if pb.kind == pkGoto && pb.start == handlerPC-3 && pb.end > handlerPC {
			return pb.end
		}
	}
	best := -1
	for _, pb := range m.blocks {
		if pb.kind == pkTryRegion || pb.kind == pkReturn {
			continue
		}
		if pb.end == noEnd {
			continue
		}
		if pb.start < handlerPC && pb.end > handlerPC {
			if best == -1 || pb.end < best {
				best = pb.end
			}
		}
	}
	if best == -1 {
		return handlerPC
	}
	return best
}

// phaseBLoopsAndIdioms collapses the two goto idioms and then discovers
// and extends every loop implied by a backward jump (spec.md §4.2-B).
func (m *Manager) phaseBLoopsAndIdioms() error {
	if err := m.collapseEmptyThen(); err != nil {
		return err
	}
	if err := m.collapseTailWhile(); err != nil {
		return err
	}

	loopByTarget := map[int]*parsedBlock{}
	var order []int
	for _, pb := range m.blocks {
		if pb.dropped {
			continue
		}
		if (pb.kind == pkGoto || pb.kind == pkIf) && pb.start > pb.end {
			target := pb.end
			loop, ok := loopByTarget[target]
			if !ok {
				loop = &parsedBlock{kind: pkLoop, start: target, end: target, line: pb.line, compareIdx: -1, placeholderIdx: -1}
				loopByTarget[target] = loop
				order = append(order, target)
			}
			if pb.next > loop.end {
				loop.end = pb.next
			}
		}
	}

	for _, target := range order {
		if err := m.extendLoop(loopByTarget[target]); err != nil {
			return err
		}
	}
	for _, target := range order {
		m.blocks = append(m.blocks, loopByTarget[target])
	}
	return nil
}

// extendLoop absorbs any overlapping If, Switch or Try so the final region
// tree can be strictly nested (spec.md §4.2-B: "loops absorb overlaps").
// This is a single pass, matching the source behavior spec.md §9 calls out
// as a known limitation for deeply nested overlapping predecessors.
func (m *Manager) extendLoop(loop *parsedBlock) error {
	for _, pb := range m.blocks {
		if pb.dropped || pb == loop {
			continue
		}
		switch pb.kind {
		case pkIf:
			// Only an If that crosses the loop HEAD -- starting before it
			// and jumping past the loop's current tail -- forces an
			// extension. An If nested
			// inside the loop that merely jumps past its tail is an
			// ordinary outward break, resolved later by the break
			// resolver (spec.md §8 S6), not absorbed here.
			if pb.start < loop.start && pb.end > loop.start && pb.end > loop.end {
				loop.end = pb.end
			}
		case pkSwitch:
			bodyEnd := pb.switchBodyEnd()
			if pb.start >= loop.start && pb.start < loop.end && bodyEnd > loop.end {
				loop.end = bodyEnd
			}
		case pkTryRegion:
			for _, h := range pb.handlers {
				if pb.start >= loop.start && pb.start < loop.end && h.catchEnd > loop.end {
					loop.end = h.catchEnd
				}
			}
		}
	}
	if loop.end <= loop.start {
		return errIrreducibleBackJump(loop.line, loop.start)
	}
	return nil
}

// collapseEmptyThen folds `if(cond) goto L2; goto Lmerge; L2:` down to a
// single negated If when the then-arm is empty (spec.md §4.2-B "empty
// then" idiom).
func (m *Manager) collapseEmptyThen() error {
	for _, ifPb := range m.blocks {
		if ifPb.dropped || ifPb.kind != pkIf {
			continue
		}
		for _, gPb := range m.blocks {
			if gPb.dropped || gPb.kind != pkGoto {
				continue
			}
			if gPb.start == ifPb.next && gPb.next == ifPb.end {
				if err := m.negate(ifPb); err != nil {
					return err
				}
				ifPb.end = gPb.end
				gPb.dropped = true
				break
			}
		}
	}
	return nil
}

// collapseTailWhile rewrites the common "forward-goto-to-tail-condition"
// idiom -- `goto COND; BODY: ...; COND: if(cond) goto BODY` -- into a
// head-tested loop: the condition is relocated to the top and negated,
// becoming the loop's exit test, and a Loop parsed block is synthesized
// spanning the relocated head through the original body's end (spec.md
// §4.2-B).
func (m *Manager) collapseTailWhile() error {
	for _, gPb := range m.blocks {
		if gPb.dropped || gPb.kind != pkGoto || gPb.end <= gPb.start {
			continue // only forward gotos participate in this idiom
		}
		var ifPb *parsedBlock
		for _, cand := range m.blocks {
			if cand.dropped || cand.kind != pkIf {
				continue
			}
			// The If must itself sit at the goto's jump target (it is the
			// relocated condition check), and its own target must land back
			// on the goto's successor (the loop body) -- both are needed to
			// tell this idiom apart from an ordinary if/else merging at the
			// same offset.
			if cand.start == gPb.end && cand.end == gPb.next {
				ifPb = cand
				break
			}
		}
		if ifPb == nil {
			continue
		}

		conditionStart, conditionEnd := gPb.end, ifPb.next
		newHead, err := m.relocateRange(conditionStart, conditionEnd, gPb.start)
		if err != nil {
			return errLostLoopCondition(gPb.line)
		}
		if err := m.negate(ifPb); err != nil {
			return err
		}

		gPb.dropped = true
		ifPb.start = newHead + (conditionEnd - conditionStart) - 1
		ifPb.next = conditionStart // the body's end, also the loop's tail
		ifPb.end = conditionEnd    // negated: now an outward break past the whole construct

		loop := &parsedBlock{
			kind: pkLoop, start: newHead, end: conditionStart, line: gPb.line,
			compareIdx: -1, placeholderIdx: -1,
		}
		m.blocks = append(m.blocks, loop)
	}
	return nil
}

// relocateRange moves every shared-instruction-list entry whose
// CodePosition lies in [from,to) to sit immediately before the entry
// currently at position `before`, rewriting their positions to a
// contiguous synthetic range so list order keeps matching position order.
func (m *Manager) relocateRange(from, to, before int) (newBase int, err error) {
	var moved []instr.Entry
	var idxs []int
	for i := 0; i < m.instrs.Len(); i++ {
		e := m.instrs.At(i)
		if e.CodePosition >= from && e.CodePosition < to {
			moved = append(moved, *e)
			idxs = append(idxs, i)
		}
	}
	if len(moved) == 0 {
		return 0, errLostLoopCondition(0)
	}

	for i := len(idxs) - 1; i >= 0; i-- {
		m.instrs.Remove(idxs[i])
	}

	newBase = before - len(moved)
	insertAt := m.instrs.IndexOfPosition(before)
	if insertAt < 0 {
		insertAt = m.instrs.Len()
	}
	for i, e := range moved {
		e.CodePosition = newBase + i
		m.instrs.Insert(insertAt+i, e)
	}
	return newBase, nil
}

// phaseCFinalSort drops any blocks the idiom collapses consumed and
// re-sorts the (start asc, end desc) stream, including the newly
// synthesized Loop entries (spec.md §4.2-C).
func (m *Manager) phaseCFinalSort() {
	live := make([]*parsedBlock, 0, len(m.blocks))
	for _, pb := range m.blocks {
		if !pb.dropped {
			live = append(live, pb)
		}
	}
	m.blocks = live
	sortParsedBlocks(m.blocks)
}
