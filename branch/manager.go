// Copyright 2024 The jwasm-branchmgr Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

// Package branch implements the control-flow reconstruction engine
// described by spec.md: it ingests the forward/backward jumps, switches,
// try regions and returns a linear bytecode decoder reports, and
// materializes the strictly nested block/loop/if/try hierarchy -- with
// relative-depth branches -- that a structured target stack machine
// requires.
package branch

import (
	"github.com/i-net-software/jwasm-branchmgr/instr"
	"github.com/i-net-software/jwasm-branchmgr/locals"
	"github.com/i-net-software/jwasm-branchmgr/types"
)

// Options is the collaborator contract spec.md §6 names "Options".
type Options interface {
	// Types returns the type manager that interns block signatures and
	// resolves named structural types for exception matching.
	Types() *types.Manager
	// InstanceOf names the host-provided runtime type-check function used
	// when lowering a catch's type dispatch.
	InstanceOf() string
	// UseEH reports whether the target supports exception handling. When
	// false, catches degrade to unreachable stubs (spec.md §4.3).
	UseEH() bool
	// UseGC reports whether the target supports a managed reference type
	// for exception temporaries.
	UseGC() bool
}

// LocalVariables is the collaborator contract spec.md §6 names
// "LocalVariables".
type LocalVariables interface {
	Temp(t types.ValueType) locals.Slot
	Release(t types.ValueType, s locals.Slot)
}

// BasicOptions is a minimal, directly constructible Options implementation
// for embedders and tests that don't need a richer type system.
type BasicOptions struct {
	TypeManager     *types.Manager
	InstanceOfFunc  string
	ExceptionsOn    bool
	GarbageCollected bool
}

func (o *BasicOptions) Types() *types.Manager { return o.TypeManager }
func (o *BasicOptions) InstanceOf() string    { return o.InstanceOfFunc }
func (o *BasicOptions) UseEH() bool           { return o.ExceptionsOn }
func (o *BasicOptions) UseGC() bool           { return o.GarbageCollected }

// Manager is the branch manager: one instance owned by exactly one
// method-translation context (spec.md §5), not safe for concurrent use.
type Manager struct {
	opts   Options
	instrs *instr.List
	locals LocalVariables

	codeSize   int
	exceptions []instr.ExceptionEntry

	blocks []*parsedBlock // registered by the Add* methods, in decode order

	catchTypes map[int]types.Type // handlerPC -> declared exception type

	root     *Node
	breaks   []*breakBlock // pending outward jumps, queued by tree.go, drained by resolve.go
	resolved []*breakBlock // already-emitted breaks, kept for depth-patching (spec.md §4.4)
}

// New constructs a Manager over a shared instruction list and local
// variable manager (spec.md §6 constructor).
func New(opts Options, instrs *instr.List, lv LocalVariables) *Manager {
	return &Manager{opts: opts, instrs: instrs, locals: lv}
}

// Reset clears all state and captures the method's code size and exception
// table (spec.md §4.1). It is the single initialization barrier (spec.md
// §5): it must be called before any Add* call, and once per method.
func (m *Manager) Reset(codeSize int, exceptions []instr.ExceptionEntry) {
	m.codeSize = codeSize
	m.exceptions = exceptions
	m.blocks = nil
	m.catchTypes = make(map[int]types.Type)
	m.root = nil
	m.breaks = nil
	m.resolved = nil
}

// GetCatchType returns the static type of the exception caught at the
// given handler position, or ok==false if no handler begins there
// (spec.md §6). The decoder uses this to materialize a correctly typed
// local when it encounters the `astore` of the caught reference.
func (m *Manager) GetCatchType(codePosition int) (types.Type, bool) {
	t, ok := m.catchTypes[codePosition]
	return t, ok
}

// Tree returns the root of the region tree built by Calculate, for tests
// and tooling that want to inspect it directly.
func (m *Manager) Tree() *Node { return m.root }
