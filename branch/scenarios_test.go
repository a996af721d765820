// Copyright 2024 The jwasm-branchmgr Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

package branch

import (
	"testing"

	"github.com/i-net-software/jwasm-branchmgr/instr"
	"github.com/i-net-software/jwasm-branchmgr/locals"
	"github.com/i-net-software/jwasm-branchmgr/ops"
	"github.com/i-net-software/jwasm-branchmgr/types"
)

// newScenarioManager returns a Manager wired over a fresh instruction list
// and a minimal, directly constructible Options/LocalVariables pair, the
// way cmd/branchdump's process() wires one up for a single method.
func newScenarioManager(useEH bool) (*Manager, *instr.List) {
	il := instr.NewList()
	opts := &BasicOptions{
		TypeManager:    types.NewManager(),
		InstanceOfFunc: "instanceof",
		ExceptionsOn:   useEH,
	}
	lv := locals.NewManager(0)
	return New(opts, il, lv), il
}

func mustCalculate(t *testing.T, m *Manager) {
	t.Helper()
	if err := m.Calculate(); err != nil {
		t.Fatalf("Calculate: %v", err)
	}
}

// TestS1DoWhile reproduces spec.md §8 S1: a single backward If compiles to
// a Loop wrapped in a Block, with a BrIf depth=0 negated back-edge at the
// original If's position.
func TestS1DoWhile(t *testing.T) {
	m, il := newScenarioManager(false)
	m.Reset(13, nil)
	cmp := il.Append(instr.Entry{CodePosition: 10, LineNumber: 2, HasCompare: true, Compare: ops.Eq})
	if err := m.AddIf(10, -7, 2, cmp); err != nil {
		t.Fatalf("AddIf: %v", err)
	}
	mustCalculate(t, m)

	root := m.Tree()
	block := requireChild(t, root, 0)
	assertNode(t, block, KindBlock, 3, 13)
	loop := requireChild(t, block, 0)
	assertNode(t, loop, KindLoop, 3, 13)
	if loop.ContinuePos != 3 {
		t.Fatalf("loop.ContinuePos = %d, want 3", loop.ContinuePos)
	}

	out := instr.NewList()
	if err := m.Handle(out); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	e := il.At(cmp)
	if e.Compare != ops.Ne || !e.Negated {
		t.Fatalf("compare = %v negated=%v, want ne negated=true", e.Compare, e.Negated)
	}

	found := false
	for i := 0; i < out.Len(); i++ {
		be := out.At(i)
		if be.CodePosition == 10 && be.Kind == instr.KindBranch {
			found = true
			if be.Op != "br_if" || be.BranchDepth != 0 {
				t.Fatalf("back-edge = %s depth=%d, want br_if depth=0", be.Op, be.BranchDepth)
			}
		}
	}
	if !found {
		t.Fatal("no branch instruction emitted at position 10")
	}
}

// TestS2IfElse reproduces spec.md §8 S2: If(0,+11,3) + Goto(8,+6,11)
// produces Block[0,14) containing If[3,11) and Else[11,14); the goto is
// consumed, not emitted, and the compare is negated.
func TestS2IfElse(t *testing.T) {
	m, il := newScenarioManager(false)
	m.Reset(14, nil)
	cmp := il.Append(instr.Entry{CodePosition: 0, LineNumber: 1, HasCompare: true, Compare: ops.Eq})
	if err := m.AddIf(0, 11, 1, cmp); err != nil {
		t.Fatalf("AddIf: %v", err)
	}
	if err := m.AddGoto(8, 6, 11, 2); err != nil {
		t.Fatalf("AddGoto: %v", err)
	}
	mustCalculate(t, m)

	root := m.Tree()
	block := requireChild(t, root, 0)
	assertNode(t, block, KindBlock, 0, 14)
	ifNode := requireChild(t, block, 0)
	assertNode(t, ifNode, KindIf, 3, 11)
	elseNode := requireChild(t, block, 1)
	assertNode(t, elseNode, KindElse, 11, 14)

	if il.At(cmp).Compare != ops.Ne || !il.At(cmp).Negated {
		t.Fatalf("compare = %v negated=%v, want ne negated=true", il.At(cmp).Compare, il.At(cmp).Negated)
	}

	out := instr.NewList()
	if err := m.Handle(out); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	for i := 0; i < out.Len(); i++ {
		if out.At(i).CodePosition == 8 && out.At(i).Kind == instr.KindBranch {
			t.Fatal("the goto at position 8 should have been consumed, not emitted")
		}
	}

	// The compare at position 0 shares its slot with the If's own
	// placeholder (a fused compare-and-branch source instruction). Since
	// this If resolves into a genuine structural If rather than a branch,
	// the (now-negated) comparison must survive as a real instruction
	// feeding the If marker -- not as a leftover placeholder, and not
	// dropped outright.
	var sawCompare bool
	for i := 0; i < out.Len(); i++ {
		e := out.At(i)
		if e.CodePosition == 0 {
			if e.Kind == instr.KindPlaceholder {
				t.Fatal("compare-and-branch entry at position 0 was left as an unresolved placeholder")
			}
			if e.HasCompare {
				sawCompare = true
				if e.Kind != instr.KindStraightLine {
					t.Fatalf("compare entry kind = %v, want KindStraightLine", e.Kind)
				}
			}
		}
	}
	if !sawCompare {
		t.Fatal("the negated comparison feeding the structural If was dropped from the emitted stream")
	}
}

// TestS3LookupSwitch reproduces spec.md §8 S3: keys 1,5 with a default
// produce three nested Blocks ending at the sorted case targets, the
// innermost holding a compare-and-BrIf per key plus a final Br to the
// default depth.
func TestS3LookupSwitch(t *testing.T) {
	m, _ := newScenarioManager(false)
	m.Reset(40, nil)
	if err := m.AddSwitch(0, 1, []int{1, 5}, []int{20, 30}, 40); err != nil {
		t.Fatalf("AddSwitch: %v", err)
	}
	mustCalculate(t, m)

	// The staircase nests smallest-target-first: the block ending at the
	// smallest case target (20) is innermost (a break from inside the
	// dispatch sequence at depth 0 exits there), the block ending at the
	// largest target (40, the default) is outermost.
	root := m.Tree()
	outer := requireChild(t, root, 0)
	assertNode(t, outer, KindBlock, 0, 40)
	mid := requireChild(t, outer, 0)
	assertNode(t, mid, KindBlock, 0, 30)
	inner := requireChild(t, mid, 0)
	assertNode(t, inner, KindBlock, 0, 20)

	out := instr.NewList()
	if err := m.Handle(out); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	var brIfs, brs int
	for i := 0; i < out.Len(); i++ {
		e := out.At(i)
		if e.Kind != instr.KindBranch {
			continue
		}
		switch e.Op {
		case "br_if":
			brIfs++
		case "br":
			brs++
		}
	}
	if brIfs != 2 {
		t.Fatalf("got %d br_if entries, want 2 (one per key)", brIfs)
	}
	if brs != 1 {
		t.Fatalf("got %d br entries, want 1 (the default)", brs)
	}
}

// TestS3TableSwitch is the dense (keys == nil) sibling of TestS3LookupSwitch:
// a contiguous-index table switch leaves a single br_table leaf at the
// innermost staircase level instead of a br_if/br chain, carrying one depth
// per case plus the default as its last target.
func TestS3TableSwitch(t *testing.T) {
	m, _ := newScenarioManager(false)
	m.Reset(40, nil)
	if err := m.AddSwitch(0, 1, nil, []int{20, 30}, 40); err != nil {
		t.Fatalf("AddSwitch: %v", err)
	}
	mustCalculate(t, m)

	root := m.Tree()
	outer := requireChild(t, root, 0)
	assertNode(t, outer, KindBlock, 0, 40)
	mid := requireChild(t, outer, 0)
	assertNode(t, mid, KindBlock, 0, 30)
	inner := requireChild(t, mid, 0)
	assertNode(t, inner, KindBlock, 0, 20)

	brTable := requireChild(t, inner, 0)
	if brTable.Kind != KindBrTable {
		t.Fatalf("innermost child kind = %v, want KindBrTable", brTable.Kind)
	}
	wantTargets := []int{0, 1, 2}
	if len(brTable.BrTableTargets) != len(wantTargets) {
		t.Fatalf("BrTableTargets = %v, want %v", brTable.BrTableTargets, wantTargets)
	}
	for i, want := range wantTargets {
		if brTable.BrTableTargets[i] != want {
			t.Fatalf("BrTableTargets[%d] = %d, want %d", i, brTable.BrTableTargets[i], want)
		}
	}

	out := instr.NewList()
	if err := m.Handle(out); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	var found *instr.Entry
	for i := 0; i < out.Len(); i++ {
		e := out.At(i)
		if e.Kind == instr.KindBranch && e.Op == "br_table" {
			found = e
			break
		}
	}
	if found == nil {
		t.Fatal("no br_table entry in emitted stream")
	}
	if len(found.BranchTargets) != len(wantTargets) {
		t.Fatalf("emitted br_table targets = %v, want %v", found.BranchTargets, wantTargets)
	}
	for i, want := range wantTargets {
		if found.BranchTargets[i] != want {
			t.Fatalf("emitted br_table targets[%d] = %d, want %d", i, found.BranchTargets[i], want)
		}
	}
}

// TestS4ShortCircuitAnd reproduces spec.md §8 S4: two Ifs sharing the same
// else target collapse into one outer Block with a single structural If
// (the final conjunct, negated) and a BrIf break for the first conjunct.
func TestS4ShortCircuitAnd(t *testing.T) {
	m, il := newScenarioManager(false)
	m.Reset(20, nil)
	cmp1 := il.Append(instr.Entry{CodePosition: 0, LineNumber: 1, HasCompare: true, Compare: ops.Eq})
	if err := m.AddIf(0, 14, 1, cmp1); err != nil {
		t.Fatalf("AddIf #1: %v", err)
	}
	cmp2 := il.Append(instr.Entry{CodePosition: 3, LineNumber: 1, HasCompare: true, Compare: ops.Lt})
	if err := m.AddIf(3, 11, 1, cmp2); err != nil {
		t.Fatalf("AddIf #2: %v", err)
	}
	mustCalculate(t, m)

	root := m.Tree()
	block := requireChild(t, root, 0)
	if block.Kind != KindBlock {
		t.Fatalf("outer node kind = %v, want Block", block.Kind)
	}
	var ifCount int
	for _, c := range block.Children {
		if c.Kind == KindIf {
			ifCount++
		}
	}
	if ifCount != 1 {
		t.Fatalf("got %d If children under the outer Block, want exactly 1", ifCount)
	}
	// Only the final conjunct is negated into the structural test; the
	// first conjunct is queued as a break and is left as originally
	// decoded.
	if !il.At(cmp2).Negated {
		t.Fatal("final conjunct's compare was not negated")
	}
	if il.At(cmp1).Negated {
		t.Fatal("first conjunct's compare should not be negated: it is a plain BrIf break")
	}

	out := instr.NewList()
	if err := m.Handle(out); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	var sawBreak, sawGatingCompare bool
	for i := 0; i < out.Len(); i++ {
		e := out.At(i)
		switch e.CodePosition {
		case 0:
			if e.Kind == instr.KindBranch && e.Op == "br_if" && e.BranchDepth == 0 {
				sawBreak = true
			}
		case 3:
			if e.Kind == instr.KindStraightLine && e.HasCompare {
				sawGatingCompare = true
			}
		}
	}
	if !sawBreak {
		t.Fatal("first conjunct did not resolve into a br_if break at depth 0")
	}
	if !sawGatingCompare {
		t.Fatal("final conjunct's comparison was not preserved as a straight-line instruction")
	}
}

// TestS5TryCatch reproduces spec.md §8 S5: Try[0,10) with handler at 13
// produces Try + Catch under root, with a type-dispatch sequence at the
// handler position when exception handling is enabled. With no goto to
// bound it, the Catch here is zero-width, so the sequence is emitted right
// after the Catch's End marker.
func TestS5TryCatch(t *testing.T) {
	m, _ := newScenarioManager(true)
	m.Reset(20, nil)
	if err := m.AddTry(instr.ExceptionEntry{StartPC: 0, EndPC: 10, HandlerPC: 13, CatchType: "java/lang/Exception"}, 5); err != nil {
		t.Fatalf("AddTry: %v", err)
	}
	mustCalculate(t, m)

	root := m.Tree()
	tryNode := requireChild(t, root, 0)
	assertNode(t, tryNode, KindTry, 0, 13)
	catchNode := requireChild(t, root, 1)
	assertNode(t, catchNode, KindCatch, 13, 13)

	ct, ok := m.GetCatchType(13)
	if !ok {
		t.Fatal("GetCatchType(13): ok = false, want true")
	}
	if ct == nil {
		t.Fatal("GetCatchType(13) returned a nil Type")
	}

	out := instr.NewList()
	if err := m.Handle(out); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	// spec.md §4.3: load the caught exception reference from its slot,
	// push the class index, call the host instanceof hook, BrIf into the
	// handler; with only one handler in the chain, a failed test has
	// nothing left to try but rethrow.
	var ops []string
	for i := 0; i < out.Len(); i++ {
		e := out.At(i)
		if e.Kind == instr.KindStraightLine || e.Kind == instr.KindBranch {
			ops = append(ops, e.Op)
		}
	}
	wantSeq := []string{"aload:0", "ldc:class:java/lang/Exception", "call:instanceof", "br_if", "rethrow"}
	found := false
	for i := 0; i+len(wantSeq) <= len(ops); i++ {
		match := true
		for j, want := range wantSeq {
			if ops[i+j] != want {
				match = false
				break
			}
		}
		if match {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("emitted ops = %v, want contiguous sequence %v", ops, wantSeq)
	}
}

// TestS5TryCatchDegradesWithoutEH exercises the useEH()==false fallback
// (spec.md §4.3): the catch body degrades to a single Unreachable marker
// instead of a type-dispatch sequence.
func TestS5TryCatchDegradesWithoutEH(t *testing.T) {
	m, _ := newScenarioManager(false)
	m.Reset(20, nil)
	if err := m.AddTry(instr.ExceptionEntry{StartPC: 0, EndPC: 10, HandlerPC: 13, CatchType: "java/lang/Exception"}, 5); err != nil {
		t.Fatalf("AddTry: %v", err)
	}
	mustCalculate(t, m)

	out := instr.NewList()
	if err := m.Handle(out); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	var sawUnreachable bool
	for i := 0; i < out.Len(); i++ {
		if out.At(i).Op == "unreachable" {
			sawUnreachable = true
		}
	}
	if !sawUnreachable {
		t.Fatal("useEH()==false should degrade the catch to a single unreachable instruction")
	}
}

// TestS5TryBodyContainsLoop guards against node-overlap when a try body
// wraps ordinary control flow: a do-while loop whose backward edge lies
// entirely inside [0, catchStart) must attach under the Try node itself,
// not escape to the method's root the way it would if buildTry never
// recursed into the try body (spec.md §7: a Node-overlap there is a
// detector bug, not user input).
func TestS5TryBodyContainsLoop(t *testing.T) {
	m, _ := newScenarioManager(false)
	m.Reset(20, nil)
	if err := m.AddTry(instr.ExceptionEntry{StartPC: 0, EndPC: 10, HandlerPC: 13, CatchType: "java/lang/Exception"}, 5); err != nil {
		t.Fatalf("AddTry: %v", err)
	}
	// A do-while loop [3,8) sitting strictly inside the try's protected
	// range: its back-edge target (3) starts after the try's own start
	// (0), so the loop detector's try-absorption rule (loop.go's
	// extendLoop) leaves it alone instead of growing the loop to swallow
	// the try -- this is the "ordinary control flow inside a try body"
	// case, not the "try inside a loop" case.
	if err := m.AddGoto(7, -4, 8, 6); err != nil {
		t.Fatalf("AddGoto: %v", err)
	}
	mustCalculate(t, m)

	root := m.Tree()
	tryNode := requireChild(t, root, 0)
	assertNode(t, tryNode, KindTry, 0, 13)

	wrap := requireChild(t, tryNode, 0)
	assertNode(t, wrap, KindBlock, 3, 8)
	loop := requireChild(t, wrap, 0)
	assertNode(t, loop, KindLoop, 3, 8)

	catchNode := requireChild(t, root, 1)
	if catchNode.Kind != KindCatch {
		t.Fatalf("root.Children[1].Kind = %v, want KindCatch", catchNode.Kind)
	}

	out := instr.NewList()
	if err := m.Handle(out); err != nil {
		t.Fatalf("Handle: %v", err)
	}
}

// TestS6LoopWithInnerBreak reproduces spec.md §8 S6: a back-edge from 20 to
// 5 with an inner forward If(10,+12,13) targeting 22 (just past the loop)
// becomes a BrIf depth=1 -- one level out of the Loop, one more out of its
// wrapping Block.
func TestS6LoopWithInnerBreak(t *testing.T) {
	m, _ := newScenarioManager(false)
	m.Reset(22, nil)
	if err := m.AddIf(10, 12, 1, -1); err != nil {
		t.Fatalf("AddIf: %v", err)
	}
	if err := m.AddGoto(20, -15, 21, 2); err != nil {
		t.Fatalf("AddGoto: %v", err)
	}
	mustCalculate(t, m)

	root := m.Tree()
	block := requireChild(t, root, 0)
	assertNode(t, block, KindBlock, 5, 21)
	loop := requireChild(t, block, 0)
	assertNode(t, loop, KindLoop, 5, 21)

	out := instr.NewList()
	if err := m.Handle(out); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	var found bool
	for i := 0; i < out.Len(); i++ {
		e := out.At(i)
		if e.CodePosition == 10 && e.Kind == instr.KindBranch {
			found = true
			if e.Op != "br_if" || e.BranchDepth != 1 {
				t.Fatalf("inner break = %s depth=%d, want br_if depth=1", e.Op, e.BranchDepth)
			}
		}
	}
	if !found {
		t.Fatal("no branch instruction emitted at position 10")
	}
}
