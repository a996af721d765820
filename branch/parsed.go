// Copyright 2024 The jwasm-branchmgr Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

package branch

import (
	"sort"

	"github.com/i-net-software/jwasm-branchmgr/ops"
)

type parsedKind uint8

const (
	pkGoto parsedKind = iota
	pkIf
	pkSwitch
	pkTryRegion
	pkLoop
	pkReturn
)

func (k parsedKind) String() string {
	switch k {
	case pkGoto:
		return "goto"
	case pkIf:
		return "if"
	case pkSwitch:
		return "switch"
	case pkTryRegion:
		return "try"
	case pkLoop:
		return "loop"
	case pkReturn:
		return "return"
	default:
		return "<unknown>"
	}
}

// noEnd is the sentinel `end` value for a Return block: larger than any
// real bytecode position (spec.md §3).
const noEnd = int(^uint(0) >> 1)

// tryHandler is one exception-table row folded into a coalesced try
// region (spec.md §4.3 calculateTry).
type tryHandler struct {
	handlerPC int
	catchType string
	// catchEnd is this row's own catch-end estimate, computed in loop
	// detector Phase A (spec.md §4.2-A). calculateTry takes the maximum
	// across a coalesced region's handlers, per the glossary's "end of
	// the *last* handler's compensating goto".
	catchEnd int
}

// parsedBlock is a value type describing one jump-bearing bytecode
// instruction (spec.md §3).
type parsedBlock struct {
	kind  parsedKind
	start int
	end   int
	next  int
	line  int

	// If payload.
	compareIdx     int // index into the shared instr.List of the compare instruction, -1 if unknown
	compare        ops.Op
	placeholderIdx int // index of the placeholder jump entry AddIf inserted

	// Switch payload.
	keys       []int // nil => table switch
	positions  []int
	defaultPos int

	// TryRegion payload: one handler per registered exception-table row;
	// calculateTry coalesces rows sharing (start, end).
	handlers []tryHandler

	// dropped marks a consumed parsedBlock: the loop detector sets it on an
	// idiom-collapsed goto (including the entry goto of a goto-to-while
	// loop) so Phase C can filter it out before the final sort, and the tree
	// builder sets it on an if/else merge goto and on coalesced try rows.
	dropped bool
}

// sortParsedBlocks orders by start ascending, ties broken by end
// descending, so outer regions precede inner regions starting at the same
// offset (spec.md §3 "Ordering invariant").
func sortParsedBlocks(blocks []*parsedBlock) {
	sort.SliceStable(blocks, func(i, j int) bool {
		if blocks[i].start != blocks[j].start {
			return blocks[i].start < blocks[j].start
		}
		return blocks[i].end > blocks[j].end
	})
}

// switchBodyEnd returns the farthest position this switch's cases or
// default reach -- used as the block's synthetic `end` for ordering and
// loop-extension purposes.
func (pb *parsedBlock) switchBodyEnd() int {
	end := pb.defaultPos
	for _, p := range pb.positions {
		if p > end {
			end = p
		}
	}
	return end
}
