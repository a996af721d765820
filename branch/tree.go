// Copyright 2024 The jwasm-branchmgr Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

package branch

import (
	"sort"
	"strconv"

	"github.com/i-net-software/jwasm-branchmgr/instr"
	"github.com/i-net-software/jwasm-branchmgr/types"
)

// Calculate runs the Loop Detector, the Region Tree Builder and the Break
// Resolver in sequence (spec.md §6 "calculate()"). It must be called after
// all Add* registrations for the current method and before Handle.
func (m *Manager) Calculate() error {
	if err := m.normalize(); err != nil {
		return err
	}

	m.root = &Node{Kind: KindRoot, StartPos: 0, EndPos: m.codeSize}
	m.breaks = nil
	m.resolved = nil

	if _, err := m.consumeUntil(m.root, m.blocks, 0, m.codeSize); err != nil {
		return err
	}
	return m.resolveBreaks()
}

// consumeUntil is the Region Tree Builder's recursive descent (spec.md
// §4.3): it consumes parsed blocks from idx while their start position
// lies inside [parent.StartPos, limit), spawning BranchNodes and
// BreakBlocks as it goes, and returns the index of the first block left
// unconsumed.
func (m *Manager) consumeUntil(parent *Node, blocks []*parsedBlock, idx, limit int) (int, error) {
	for idx < len(blocks) {
		pb := blocks[idx]
		if pb.dropped {
			idx++
			continue
		}
		if pb.start >= limit {
			break
		}

		var err error
		switch pb.kind {
		case pkLoop:
			idx, err = m.buildLoop(parent, blocks, idx)
		case pkIf:
			if pb.start > pb.end {
				idx++
				err = m.buildContinue(parent, pb, true)
			} else {
				idx, err = m.buildIf(parent, blocks, idx, limit)
			}
		case pkSwitch:
			idx, err = m.buildSwitch(parent, blocks, idx)
		case pkTryRegion:
			idx, err = m.buildTry(parent, blocks, idx)
		case pkGoto:
			idx++
			if pb.start > pb.end {
				err = m.buildContinue(parent, pb, false)
			} else {
				err = m.buildGoto(parent, pb)
			}
		case pkReturn:
			idx++
		default:
			err = errUnimplementedKind(pb.line, pb.kind)
		}
		if err != nil {
			return idx, err
		}
	}
	return idx, nil
}

// buildLoop emits the Block-wrapping-Loop pair spec.md §3 requires (a
// forward break out of the loop targets the Block; a continue targets the
// Loop) and recurses into the loop body.
func (m *Manager) buildLoop(parent *Node, blocks []*parsedBlock, idx int) (int, error) {
	pb := blocks[idx]
	idx++

	wrap := &Node{Kind: KindBlock, StartPos: pb.start, EndPos: pb.end}
	if err := addChild(parent, wrap, pb.line); err != nil {
		return idx, err
	}
	loop := &Node{Kind: KindLoop, StartPos: pb.start, EndPos: pb.end, ContinuePos: pb.start}
	if err := addChild(wrap, loop, pb.line); err != nil {
		return idx, err
	}

	return m.consumeUntil(loop, blocks, idx, pb.end)
}

// buildContinue resolves a backward branch immediately, without going
// through the break resolver: the target is always an ancestor Loop's
// start, so the depth is known as soon as the ancestor chain is walked
// (spec.md §4.3 "Goto: a back-edge continue").
func (m *Manager) buildContinue(parent *Node, pb *parsedBlock, conditional bool) error {
	if conditional {
		if err := m.negate(pb); err != nil {
			return err
		}
	}

	depth := 0
	n := parent
	for n != nil && !(n.Kind == KindLoop && n.StartPos == pb.end) {
		n = n.Parent
		depth++
	}
	if n == nil {
		return errIrreducibleBackJump(pb.line, pb.end)
	}

	idx := pb.placeholderIdx
	if idx < 0 {
		idx = m.instrs.IndexOfPosition(pb.start)
	}
	if idx < 0 {
		idx = m.instrs.Append(instr.Entry{CodePosition: pb.start, LineNumber: pb.line})
	}
	e := m.instrs.At(idx)
	e.Kind = instr.KindBranch
	e.BranchDepth = depth
	if conditional {
		e.Op = "br_if"
	} else {
		e.Op = "br"
	}
	return nil
}

// buildGoto handles a forward Goto: a trivial fall-through is dropped
// silently, everything else is an unresolved outward break queued for the
// resolver (spec.md §4.3 "Goto").
func (m *Manager) buildGoto(parent *Node, pb *parsedBlock) error {
	if pb.next == pb.end {
		return nil
	}
	m.queueBreak(parent, pb.start, pb.line, pb.end, false)
	return nil
}

// queueBreak registers a pending BreakBlock, materializing a placeholder
// instruction entry at breakPos if the decoder hadn't already (spec.md
// §3 "BreakBlock").
func (m *Manager) queueBreak(parent *Node, breakPos, line, endPosition int, conditional bool) {
	idx := m.instrs.IndexOfPosition(breakPos)
	if idx < 0 {
		idx = m.instrs.Append(instr.Entry{CodePosition: breakPos, LineNumber: line, Kind: instr.KindPlaceholder})
	}
	op := brUnconditional
	if conditional {
		op = brConditional
	}
	m.breaks = append(m.breaks, &breakBlock{
		op: op, parent: parent, breakPos: breakPos, breakIdx: idx, endPosition: endPosition, line: line,
	})
}

// buildIf is calculateIf (spec.md §4.3): the else-boundary search (step 1),
// short-circuit accumulation (step 3), and region creation (step 4).
//
// Resolving step 3/5's prose ("each short-circuit conjunct and the primary
// if become BreakBlock records") against the requirement that an if/else
// split still needs exactly one structural If/Else pair to drive the
// target machine's own `if` opcode (spec.md §8 S2): every conjunct but the
// last already jumps on its own decoded condition when that conjunct
// fails, so it is queued as a BrIf break straight to the shared exit
// (spec.md §4.4's resolver already handles retargeting into a following
// Else, so this needs no special case). Only the final conjunct -- the one
// that actually gates entry to the then-arm -- is negated into the
// structural If test, exactly as the single-conjunct case already did.
func (m *Manager) buildIf(parent *Node, blocks []*parsedBlock, idx, limit int) (int, error) {
	ifPb := blocks[idx]
	idx++

	elsePos := ifPb.end
	chain := []*parsedBlock{ifPb}
	for idx < len(blocks) {
		cand := blocks[idx]
		if cand.dropped || cand.kind != pkIf {
			break
		}
		prev := chain[len(chain)-1]
		if cand.start != prev.next || cand.end != elsePos {
			break
		}
		chain = append(chain, cand)
		idx++
	}
	lastIf := chain[len(chain)-1]

	thenEnd := elsePos
	blockEnd := thenEnd
	elseEnd := -1
	var elseGoto *parsedBlock

	for _, cand := range blocks {
		if cand.dropped || cand.kind != pkGoto {
			continue
		}
		if cand.start >= lastIf.next && cand.start < thenEnd && cand.next == thenEnd {
			elseGoto = cand
			break
		}
	}
	if elseGoto != nil {
		blockEnd = elseGoto.end
		elseEnd = elseGoto.end
		// Drop it now, before the then-arm is consumed: the goto's own
		// position sits inside [lastIf.next, thenEnd) (it is the then-arm's
		// trailing merge jump), so the recursive descent below would
		// otherwise treat it as an unresolved break.
		elseGoto.dropped = true
	}

	if blockEnd > limit {
		// The then-range exceeds the parent's bounds: treat the whole
		// chain as outward breaks rather than a nested region.
		for _, pb := range chain {
			m.queueBreak(parent, pb.start, pb.line, pb.end, true)
		}
		return idx, nil
	}

	// The parsed If's condition is taken (jumps) to skip the then-arm; a
	// structured If executes its body when the condition holds, so the
	// comparison must be negated (spec.md §8 S2).
	if err := m.negate(lastIf); err != nil {
		return idx, err
	}
	// lastIf's own placeholder slot (AddIf's phIdx) may be the very entry
	// that carries the compare itself, when the source bytecode fuses
	// compare-and-branch into one instruction at lastIf.start. Unlike a
	// continue or a break, a genuine structural If has no separate branch
	// instruction to rewrite that slot into: the (now-negated) comparison
	// must survive as the straight-line instruction feeding the If marker,
	// so restore it instead of letting it fall through as a dropped
	// placeholder (spec.md §3: "removed when resolved" describes the
	// no-separate-compare case, not this one).
	if lastIf.placeholderIdx >= 0 && lastIf.placeholderIdx == lastIf.compareIdx {
		m.instrs.At(lastIf.placeholderIdx).Kind = instr.KindStraightLine
	}

	block := &Node{Kind: KindBlock, StartPos: ifPb.start, EndPos: blockEnd}
	if err := addChild(parent, block, ifPb.line); err != nil {
		return idx, err
	}

	for _, pb := range chain[:len(chain)-1] {
		m.queueBreak(block, pb.start, pb.line, elsePos, true)
	}

	ifNode := &Node{Kind: KindIf, StartPos: lastIf.next, EndPos: thenEnd}
	if err := addChild(block, ifNode, ifPb.line); err != nil {
		return idx, err
	}

	var err error
	idx, err = m.consumeUntil(ifNode, blocks, idx, thenEnd)
	if err != nil {
		return idx, err
	}

	if elseGoto != nil {
		elseNode := &Node{Kind: KindElse, StartPos: thenEnd, EndPos: elseEnd}
		if err := addChild(block, elseNode, ifPb.line); err != nil {
			return idx, err
		}
		idx, err = m.consumeUntil(elseNode, blocks, idx, elseEnd)
		if err != nil {
			return idx, err
		}
	}
	return idx, nil
}

// buildSwitch is calculateSwitch (spec.md §4.3): a staircase of Blocks,
// one per distinct case target including the default, with the dispatch
// sequence at the innermost level. Case bodies are consumed together
// under the innermost block rather than distributed per staircase level;
// the per-level distribution (needed when an If straddles a case
// boundary) is a known simplification, noted in DESIGN.md.
func (m *Manager) buildSwitch(parent *Node, blocks []*parsedBlock, idx int) (int, error) {
	pb := blocks[idx]
	idx++

	targets := append([]int(nil), pb.positions...)
	targets = append(targets, pb.defaultPos)
	sort.Ints(targets)
	uniq := targets[:0]
	for i, t := range targets {
		if i == 0 || t != uniq[len(uniq)-1] {
			uniq = append(uniq, t)
		}
	}

	cur := parent
	nodes := make(map[int]*Node, len(uniq))
	for i := len(uniq) - 1; i >= 0; i-- {
		n := &Node{Kind: KindBlock, StartPos: pb.start, EndPos: uniq[i]}
		if err := addChild(cur, n, pb.line); err != nil {
			return idx, err
		}
		nodes[uniq[i]] = n
		cur = n
	}
	innermost := cur

	depthOf := func(target int) int {
		for i, t := range uniq {
			if t == target {
				return i
			}
		}
		return 0
	}

	if pb.keys == nil {
		brTable := &Node{Kind: KindBrTable, StartPos: pb.start, EndPos: pb.start}
		if err := addChild(innermost, brTable, pb.line); err != nil {
			return idx, err
		}
		for _, p := range pb.positions {
			brTable.BrTableTargets = append(brTable.BrTableTargets, depthOf(p))
		}
		brTable.BrTableTargets = append(brTable.BrTableTargets, depthOf(pb.defaultPos))
		// The Node alone is not enough: emitRegion only ever copies entries
		// out of m.instrs, so the table switch needs its own instruction
		// there too, mirroring what the lookup-switch branch below does
		// with its br_if/br sequence.
		m.instrs.Insert(m.indexAfter(pb.start), instr.Entry{
			CodePosition: pb.start, LineNumber: pb.line, Kind: instr.KindBranch,
			Op: "br_table", BranchTargets: append([]int(nil), brTable.BrTableTargets...),
		})
	} else {
		// All entries below share pb.start as their CodePosition, so
		// indexAfter must be computed once and walked forward manually: a
		// second call to indexAfter after the first insert would relocate
		// to the first (not last) same-position entry and scramble the
		// key order.
		at := m.indexAfter(pb.start)
		for i := range pb.keys {
			m.instrs.Insert(at, instr.Entry{
				CodePosition: pb.start, LineNumber: pb.line, Kind: instr.KindBranch,
				Op: "br_if", BranchDepth: depthOf(pb.positions[i]),
			})
			at++
		}
		m.instrs.Insert(at, instr.Entry{
			CodePosition: pb.start, LineNumber: pb.line, Kind: instr.KindBranch,
			Op: "br", BranchDepth: depthOf(pb.defaultPos),
		})
	}

	return m.consumeUntil(innermost, blocks, idx, uniq[len(uniq)-1])
}

// buildTry is calculateTry (spec.md §4.3): coalesces handler rows sharing
// (start, end), emits Try+Catch, and either a type-dispatch sequence
// (useEH) or a single Unreachable per handler. Like every sibling builder,
// it recurses into both the try body and each catch body, so a nested
// Loop/If/Switch/Try inside either one attaches under the right node
// instead of escaping to the enclosing consumeUntil call (spec.md §7: a
// Node-overlap there would be a detector bug, not user input).
func (m *Manager) buildTry(parent *Node, blocks []*parsedBlock, idx int) (int, error) {
	pb := blocks[idx]
	idx++
	for idx < len(blocks) && !blocks[idx].dropped && blocks[idx].kind == pkTryRegion &&
		blocks[idx].start == pb.start && blocks[idx].end == pb.end {
		pb.handlers = append(pb.handlers, blocks[idx].handlers...)
		blocks[idx].dropped = true
		idx++
	}

	catchStart := pb.handlers[0].handlerPC
	tryNode := &Node{Kind: KindTry, StartPos: pb.start, EndPos: catchStart}
	if err := addChild(parent, tryNode, pb.line); err != nil {
		return idx, err
	}

	var err error
	idx, err = m.consumeUntil(tryNode, blocks, idx, catchStart)
	if err != nil {
		return idx, err
	}

	catchEnd := pb.handlers[0].catchEnd
	for _, h := range pb.handlers[1:] {
		if h.catchEnd > catchEnd {
			catchEnd = h.catchEnd
		}
	}

	wrapper := parent
	for hi, h := range pb.handlers {
		if hi > 0 {
			mid := &Node{Kind: KindBlock, StartPos: pb.handlers[0].handlerPC, EndPos: catchEnd}
			if err := addChild(wrapper, mid, pb.line); err != nil {
				return idx, err
			}
			wrapper = mid
		}
		catchNode := &Node{Kind: KindCatch, StartPos: h.handlerPC, EndPos: catchEnd}
		if err := addChild(wrapper, catchNode, pb.line); err != nil {
			return idx, err
		}

		if t, ok := m.resolveCatchType(h.catchType); ok {
			m.catchTypes[h.handlerPC] = t
		}
		// A finally clause (no declared catch type) always runs and never
		// unboxes the caught reference when its value is immediately
		// dropped, so it skips the type dispatch entirely (spec.md §4.3).
		switch {
		case h.catchType == "":
			// finally: falls straight into catchNode, no test.
		case m.opts != nil && m.opts.UseEH():
			m.emitCatchDispatch(catchNode, h, pb.line, hi == len(pb.handlers)-1)
		default:
			m.emitUnreachable(catchNode.StartPos, pb.line)
		}

		idx, err = m.consumeUntil(catchNode, blocks, idx, catchEnd)
		if err != nil {
			return idx, err
		}
	}
	return idx, nil
}

func (m *Manager) resolveCatchType(name string) (types.Type, bool) {
	if name == "" || m.opts == nil || m.opts.Types() == nil {
		return nil, false
	}
	return m.opts.Types().ValueOf(name), true
}

func (m *Manager) emitUnreachable(pos, line int) {
	m.instrs.Insert(m.indexAfter(pos), instr.Entry{
		CodePosition: pos, LineNumber: line, Kind: instr.KindStraightLine, Op: "unreachable",
	})
}

// emitCatchDispatch lowers one catch clause's type test to the full
// sequence spec.md §4.3 describes: load the caught exception reference
// from its slot, push the class index, call the host instanceof hook, and
// BrIf into the handler. isLast marks the final handler in the coalesced
// chain, whose failed test has nothing left to fall through to but a
// rethrow. All entries share node.StartPos, so (as in buildSwitch's
// lookup-switch lowering) the insertion index is computed once and walked
// forward by hand rather than re-resolved per insert.
func (m *Manager) emitCatchDispatch(node *Node, h tryHandler, line int, isLast bool) {
	pos := node.StartPos
	slot := m.locals.Temp(types.Ref)

	at := m.indexAfter(pos)
	m.instrs.Insert(at, instr.Entry{
		CodePosition: pos, LineNumber: line, Kind: instr.KindStraightLine,
		Op: "aload:" + strconv.Itoa(int(slot)), HasPush: true, PushType: types.Ref,
	})
	at++
	m.instrs.Insert(at, instr.Entry{
		CodePosition: pos, LineNumber: line, Kind: instr.KindStraightLine,
		Op: "ldc:class:" + h.catchType, HasPush: true, PushType: types.Ref,
	})
	at++
	m.instrs.Insert(at, instr.Entry{
		CodePosition: pos, LineNumber: line, Kind: instr.KindStraightLine,
		Op: "call:" + m.opts.InstanceOf(), PopCount: 2, HasPush: true, PushType: types.I32,
	})
	at++
	m.instrs.Insert(at, instr.Entry{
		CodePosition: pos, LineNumber: line, Kind: instr.KindBranch,
		Op: "br_if", BranchDepth: 0, PopCount: 1,
	})
	at++
	if isLast {
		m.instrs.Insert(at, instr.Entry{
			CodePosition: pos, LineNumber: line, Kind: instr.KindStraightLine, Op: "rethrow",
		})
	}

	m.locals.Release(types.Ref, slot)
}

// indexAfter returns the instruction-list index immediately following the
// entry at pos, or the list length if pos isn't present.
func (m *Manager) indexAfter(pos int) int {
	i := m.instrs.IndexOfPosition(pos)
	if i < 0 {
		return m.instrs.Len()
	}
	return i + 1
}
