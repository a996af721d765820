// Copyright 2024 The jwasm-branchmgr Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

package branch

import "github.com/i-net-software/jwasm-branchmgr/types"

// Kind is the structural kind of a Node (spec.md GLOSSARY "Structural
// kind").
type Kind uint8

const (
	KindRoot Kind = iota
	KindBlock
	KindLoop
	KindIf
	KindElse
	KindTry
	KindCatch
	KindBrTable
)

func (k Kind) String() string {
	switch k {
	case KindRoot:
		return "root"
	case KindBlock:
		return "block"
	case KindLoop:
		return "loop"
	case KindIf:
		return "if"
	case KindElse:
		return "else"
	case KindTry:
		return "try"
	case KindCatch:
		return "catch"
	case KindBrTable:
		return "br_table"
	default:
		return "<unknown kind>"
	}
}

// Node is a region in the emitted tree (spec.md §3 "BranchNode").
type Node struct {
	Kind Kind

	StartPos, EndPos int

	Signature      *types.BlockSignature // filled in by emit.go's inferNode; nil until inference runs
	BrTableTargets []int                 // KindBrTable leaves only: depths in key order, default last

	Parent   *Node
	Children []*Node

	// ContinuePos is set only on KindLoop nodes: the position a `continue`
	// jumps to (spec.md §3).
	ContinuePos int

	// startEntry/endEntry index the shared instruction list at the point
	// the emitter inserted this node's entry/exit markers. Populated by
	// emitRegion, consumed by simulateBlock (both in emit.go).
	startEntry, endEntry int
}

// addChild appends child to parent's children, enforcing the sibling
// non-overlap invariant (spec.md §3). Violating it is a Node-overlap
// failure (spec.md §7) -- an internal bug, never user input.
func addChild(parent, child *Node, line int) error {
	if len(parent.Children) > 0 {
		last := parent.Children[len(parent.Children)-1]
		if child.StartPos < last.EndPos {
			return errNodeOverlap(line)
		}
	}
	if child.StartPos < parent.StartPos || child.EndPos > parent.EndPos {
		return errNodeOverlap(line)
	}
	child.Parent = parent
	parent.Children = append(parent.Children, child)
	return nil
}

// ancestors returns the chain from n up to (and including) the root.
func (n *Node) ancestors() []*Node {
	var chain []*Node
	for cur := n; cur != nil; cur = cur.Parent {
		chain = append(chain, cur)
	}
	return chain
}

// depthTo returns the number of enclosing regions between n and target
// (target must be an ancestor of n, inclusive of n itself at depth 0).
func depthTo(n, target *Node) int {
	depth := 0
	for cur := n; cur != nil; cur = cur.Parent {
		if cur == target {
			return depth
		}
		depth++
	}
	return -1
}

// lastChild returns the final child of n, or nil.
func (n *Node) lastChild() *Node {
	if len(n.Children) == 0 {
		return nil
	}
	return n.Children[len(n.Children)-1]
}
