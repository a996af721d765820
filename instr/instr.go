// Copyright 2024 The jwasm-branchmgr Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

// Package instr implements the "InstructionList" collaborator referenced
// by spec.md §6: the pre-translated straight-line instruction sequence
// that the front-end decoder and the branch manager co-own. The branch
// manager inserts into, removes from, and rewrites the position of entries
// in this list; the decoder only ever appends to it, in bytecode order,
// before handing it to the manager.
//
// The shape of Entry mirrors disasm.Instr in
// _examples/go-interpreter-wagon/disasm/disasm.go: an operator plus the
// stack-effect bookkeeping (PushType/PopCount here, Instr.NewStack/Instr.Block
// there) a later pass needs without re-decoding the bytecode.
package instr

import (
	"github.com/i-net-software/jwasm-branchmgr/ops"
	"github.com/i-net-software/jwasm-branchmgr/types"
)

// Kind tags the structural role of an Entry.
type Kind uint8

const (
	// KindStraightLine is an ordinary decoder-emitted instruction: a local
	// load, a numeric op, a call, etc.
	KindStraightLine Kind = iota
	// KindPlaceholder is the placeholder jump addIf inserts at the
	// conditional's position, later overwritten (or removed) once the
	// condition is resolved into a structural If/BrIf.
	KindPlaceholder
	// KindMarker is a structural Block/Loop/If/Else/Try/Catch/End marker
	// inserted by the emitter (spec.md §4.5).
	KindMarker
	// KindBranch is a resolved Br/BrIf/BrTable, written by the break
	// resolver or the loop back-edge logic.
	KindBranch
)

// MarkerOp names the structural marker a KindMarker Entry carries.
type MarkerOp uint8

const (
	MarkerBlock MarkerOp = iota
	MarkerLoop
	MarkerIf
	MarkerElse
	MarkerTry
	MarkerCatch
	MarkerEnd
)

var markerNames = map[MarkerOp]string{
	MarkerBlock: "block",
	MarkerLoop:  "loop",
	MarkerIf:    "if",
	MarkerElse:  "else",
	MarkerTry:   "try",
	MarkerCatch: "catch",
	MarkerEnd:   "end",
}

func (m MarkerOp) String() string {
	if s, ok := markerNames[m]; ok {
		return s
	}
	return "<unknown marker>"
}

// Entry is one element of the shared straight-line instruction list.
type Entry struct {
	CodePosition int
	LineNumber   int
	Kind         Kind

	// Straight-line fields (decoder-populated).
	Op         string
	HasPush    bool
	PushType   types.ValueType
	PopCount   int
	HasCompare bool
	Compare    ops.Op

	// Marker fields (emitter-populated).
	Marker    MarkerOp
	Signature *types.BlockSignature

	// Branch fields (break resolver / loop logic-populated).
	BranchDepth   int
	BranchTargets []int // br_table: depths in key order, default last
	Negated       bool
}

// ExceptionEntry mirrors one row of the source method's exception table,
// the raw material AddTry registers (spec.md §4.1).
type ExceptionEntry struct {
	StartPC, EndPC, HandlerPC int
	CatchType                 string // empty = catch-all / finally
}

// List is the concrete, owned implementation of the InstructionList
// collaborator: an ordered, indexed, mutable sequence of Entry values.
//
// A dense slice backs it rather than a rope or balanced tree. spec.md §9
// notes that an O(log n) positional-insertion structure is preferable for
// very large methods, but calls a dense array "acceptable for the typical
// sub-thousand-instruction method" -- the case this implementation
// targets.
type List struct {
	entries []Entry
}

// NewList returns an empty List.
func NewList() *List { return &List{} }

// Len returns the number of entries.
func (l *List) Len() int { return len(l.entries) }

// At returns a pointer to the entry at index i, so callers can mutate it
// in place (e.g. negating a compare, or patching a branch depth).
func (l *List) At(i int) *Entry { return &l.entries[i] }

// Append adds e to the end of the list and returns its index.
func (l *List) Append(e Entry) int {
	l.entries = append(l.entries, e)
	return len(l.entries) - 1
}

// Insert places e at index i, shifting every later entry right by one.
func (l *List) Insert(i int, e Entry) {
	l.entries = append(l.entries, Entry{})
	copy(l.entries[i+1:], l.entries[i:])
	l.entries[i] = e
}

// Remove deletes the entry at index i.
func (l *List) Remove(i int) {
	l.entries = append(l.entries[:i], l.entries[i+1:]...)
}

// IndexOfPosition returns the index of the first non-marker entry
// (straight-line, placeholder or branch) whose CodePosition equals pos, or
// -1 if none exists. Marker entries are skipped: they share a position with
// the entry they wrap and are not a valid re-write target.
func (l *List) IndexOfPosition(pos int) int {
	for i := range l.entries {
		if l.entries[i].CodePosition == pos && l.entries[i].Kind != KindMarker {
			return i
		}
	}
	return -1
}

// All returns the entries in index order. The returned slice aliases the
// List's storage and must not be retained across further mutation.
func (l *List) All() []Entry { return l.entries }

// Reset empties the list for reuse across methods (spec.md §5: "reset is
// the single initialization barrier").
func (l *List) Reset() { l.entries = l.entries[:0] }
