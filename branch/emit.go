// Copyright 2024 The jwasm-branchmgr Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

package branch

import (
	"github.com/i-net-software/jwasm-branchmgr/instr"
	"github.com/i-net-software/jwasm-branchmgr/types"
)

// Handle is the Emitter / Block-Type Inferencer (spec.md §4.5 / §6
// "handle(codeStream)"). It interleaves the straight-line instructions
// registered before Calculate with structural markers from the region
// tree, then infers every block's result signature, writing the finished
// stream to out.
func (m *Manager) Handle(out *instr.List) error {
	idx := 0
	if err := m.emitRegion(m.root, out, &idx); err != nil {
		return err
	}
	return m.inferNode(m.root, out)
}

func markerStart(k Kind) (instr.MarkerOp, bool) {
	switch k {
	case KindBlock:
		return instr.MarkerBlock, true
	case KindLoop:
		return instr.MarkerLoop, true
	case KindIf:
		return instr.MarkerIf, true
	case KindElse:
		return instr.MarkerElse, true
	case KindTry:
		return instr.MarkerTry, true
	case KindCatch:
		return instr.MarkerCatch, true
	default:
		return 0, false
	}
}

// suppressEnd reports whether node (an If) is immediately followed by its
// Else sibling, in which case the If contributes no End marker of its own
// -- the Else's own End closes both arms (spec.md §3: "every If node's
// immediate right sibling, if present, is its Else node").
func suppressEnd(node *Node) bool {
	if node.Kind != KindIf || node.Parent == nil {
		return false
	}
	siblings := node.Parent.Children
	for i, c := range siblings {
		if c != node {
			continue
		}
		if i+1 < len(siblings) {
			next := siblings[i+1]
			return next.Kind == KindElse && next.StartPos == node.EndPos
		}
	}
	return false
}

// emitRegion walks node's span, copying straight-line instructions and
// recursing into children in position order. A leftover KindPlaceholder
// entry -- an If's placeholder that was resolved into a structural If
// rather than rewritten into a branch by buildContinue/emitBreak -- is
// dropped rather than copied (spec.md §3: the placeholder "can be removed
// when resolved").
func (m *Manager) emitRegion(node *Node, out *instr.List, idx *int) error {
	marker, hasMarker := markerStart(node.Kind)
	if hasMarker {
		out.Append(instr.Entry{CodePosition: node.StartPos, Kind: instr.KindMarker, Marker: marker})
		node.startEntry = out.Len() - 1
	}

	for _, child := range node.Children {
		for *idx < m.instrs.Len() && m.instrs.At(*idx).CodePosition < child.StartPos {
			if m.instrs.At(*idx).Kind != instr.KindPlaceholder {
				out.Append(*m.instrs.At(*idx))
			}
			*idx++
		}
		if err := m.emitRegion(child, out, idx); err != nil {
			return err
		}
	}

	for *idx < m.instrs.Len() && m.instrs.At(*idx).CodePosition < node.EndPos {
		if m.instrs.At(*idx).Kind != instr.KindPlaceholder {
			out.Append(*m.instrs.At(*idx))
		}
		*idx++
	}

	if hasMarker {
		if suppressEnd(node) {
			node.endEntry = node.startEntry
		} else {
			out.Append(instr.Entry{CodePosition: node.EndPos, Kind: instr.KindMarker, Marker: instr.MarkerEnd})
			node.endEntry = out.Len() - 1
		}
	}
	return nil
}

// inferNode runs block-type inference bottom-up: children are resolved
// before their parent is simulated, so nested block interiors can be
// skipped in one jump rather than re-simulated (spec.md §4.5).
func (m *Manager) inferNode(node *Node, out *instr.List) error {
	for _, c := range node.Children {
		if err := m.inferNode(c, out); err != nil {
			return err
		}
	}
	if _, has := markerStart(node.Kind); !has {
		return nil
	}
	sig := m.simulateBlock(node, out)
	node.Signature = &sig
	out.At(node.startEntry).Signature = &sig
	return nil
}

// simulateBlock walks the abstract operand stack from just after a
// block's entry marker, skipping the interior of nested blocks, and stops
// at the first End or Else marker or branch with nonzero depth (spec.md
// §4.5). A return instruction is not recognised: it is simulated like any
// other straight-line entry.
func (m *Manager) simulateBlock(node *Node, out *instr.List) types.BlockSignature {
	depth := 0
	var topType types.ValueType

	i := node.startEntry + 1
loop:
	for i < out.Len() {
		e := out.At(i)
		switch e.Kind {
		case instr.KindMarker:
			switch e.Marker {
			case instr.MarkerEnd, instr.MarkerElse:
				break loop
			default:
				i = skipNestedBlock(out, i)
				continue
			}
		case instr.KindBranch:
			if e.BranchDepth > 0 {
				break loop
			}
		}
		depth -= e.PopCount
		if depth < 0 {
			depth = 0
		}
		if e.HasPush {
			depth++
			topType = e.PushType
		}
		i++
	}

	if depth <= 0 {
		return types.BlockSignature{}
	}
	return types.BlockSignature{Results: []types.ValueType{topType}}
}

// skipNestedBlock returns the index just past the End marker matching the
// Block/Loop/If/Try/Catch marker at i.
func skipNestedBlock(out *instr.List, i int) int {
	depth := 1
	j := i + 1
	for j < out.Len() && depth > 0 {
		e := out.At(j)
		if e.Kind == instr.KindMarker {
			switch e.Marker {
			case instr.MarkerBlock, instr.MarkerLoop, instr.MarkerIf, instr.MarkerTry, instr.MarkerCatch:
				depth++
			case instr.MarkerEnd:
				depth--
			}
		}
		j++
	}
	return j
}
