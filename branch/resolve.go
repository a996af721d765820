// Copyright 2024 The jwasm-branchmgr Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

package branch

import "github.com/i-net-software/jwasm-branchmgr/instr"

type breakOp uint8

const (
	brUnconditional breakOp = iota
	brConditional
)

// breakBlock is a pending outward jump: an unresolved forward or
// conditional break whose depth can only be known once the region tree
// around it is complete (spec.md §3 "BreakBlock").
type breakBlock struct {
	op           breakOp
	parent       *Node // the node active in the tree builder when this break was created
	breakPos     int   // position of the br/br_if instruction itself
	breakIdx     int   // index, in the shared instruction list, to rewrite into a resolved branch
	endPosition  int   // target bytecode position
	breakToElseBlock bool
	line         int
}

// resolveBreaks is the Break Resolver (spec.md §4.4): for each pending
// breakBlock, in insertion order, it finds (or synthesizes) the shallowest
// enclosing node whose boundary matches the jump target and emits the
// relative-depth branch instruction.
func (m *Manager) resolveBreaks() error {
	for _, bb := range m.breaks {
		node := descend(bb.parent, bb.breakPos)
		depth := 0
		reachedOutermost := false

		for node.EndPos < bb.endPosition {
			// The root node never carries a marker (spec.md §4.5's
			// emitter never opens/closes it), so climbing into it costs
			// no branch depth of its own: the outermost real (marked)
			// ancestor is as far as a break can meaningfully target.
			if node.Parent == nil || node.Parent.Kind == KindRoot {
				reachedOutermost = true
				break
			}
			node = node.Parent
			depth++
		}

		if !reachedOutermost && node.Kind == KindLoop && node.EndPos == bb.endPosition {
			// A break out of a loop targets the wrapping Block, not the
			// Loop itself (spec.md §4.4 step 3).
			if node.Parent == nil {
				return errIrreducibleBackJump(bb.line, bb.endPosition)
			}
			node = node.Parent
			depth++
		}

		if !reachedOutermost && node.EndPos != bb.endPosition {
			if elseChild := findChildStartingAt(node, bb.endPosition); elseChild != nil && elseChild.Kind == KindElse {
				bb.breakToElseBlock = true
			} else {
				if _, err := m.insertMiddleBlock(node, bb.endPosition, bb.line); err != nil {
					return err
				}
				depth++
			}
		}

		if err := m.emitBreak(bb, depth); err != nil {
			return err
		}
	}
	return nil
}

// descend walks from n down to the deepest child containing pos.
func descend(n *Node, pos int) *Node {
	for {
		next := (*Node)(nil)
		for _, c := range n.Children {
			if pos >= c.StartPos && pos < c.EndPos {
				next = c
				break
			}
		}
		if next == nil {
			return n
		}
		n = next
	}
}

func findChildStartingAt(n *Node, pos int) *Node {
	for _, c := range n.Children {
		if c.StartPos == pos {
			return c
		}
	}
	return nil
}

// insertMiddleBlock synthesizes a Block spanning [childrenBeforeTarget,
// target) under parent, re-parenting parent's children that start before
// target into it, and patches the depth of every already-resolved branch
// whose source lies inside the new block but whose target lies outside it
// (spec.md §4.4 step 4c, the depth-patching invariant).
func (m *Manager) insertMiddleBlock(parent *Node, target, line int) (*Node, error) {
	mid := &Node{Kind: KindBlock, EndPos: target}

	var moved, kept []*Node
	for _, c := range parent.Children {
		if c.StartPos < target {
			moved = append(moved, c)
		} else {
			kept = append(kept, c)
		}
	}
	if len(moved) == 0 {
		return nil, errNodeOverlap(line)
	}
	mid.StartPos = moved[0].StartPos
	for _, c := range moved {
		c.Parent = mid
	}
	mid.Children = moved
	mid.Parent = parent
	parent.Children = append([]*Node{mid}, kept...)

	for _, resolved := range m.resolved {
		if resolved.breakPos >= mid.StartPos && resolved.breakPos < mid.EndPos && resolved.endPosition >= mid.EndPos {
			m.instrs.At(resolved.breakIdx).BranchDepth++
		}
	}
	return mid, nil
}

func (m *Manager) emitBreak(bb *breakBlock, depth int) error {
	e := m.instrs.At(bb.breakIdx)
	e.Kind = instr.KindBranch
	e.BranchDepth = depth
	if bb.op == brConditional {
		e.Op = "br_if"
	} else {
		e.Op = "br"
	}
	m.resolved = append(m.resolved, bb)
	return nil
}
