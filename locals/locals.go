// Copyright 2024 The jwasm-branchmgr Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

// Package locals implements the "LocalVariables" collaborator referenced
// by spec.md §6: it yields typed temporaries used by switch lowering (a
// scratch slot holding the selector value) and by type-dispatch in catches
// (the slot the decoder's `astore` of the caught reference targets).
package locals

import "github.com/i-net-software/jwasm-branchmgr/types"

// Slot identifies a local-variable storage slot in the source method's
// variable table.
type Slot int

// Manager mediates access to a method's local variable slots. It is a
// minimal reference implementation: a real embedder owns the authoritative
// variable table (allocated by the source method's signature and existing
// locals) and would supply its own Manager-shaped collaborator that grows
// it instead of starting a fresh counter.
type Manager struct {
	next int
	free map[types.ValueType][]Slot
}

// NewManager returns a Manager whose first free slot is firstFreeSlot --
// the index immediately after the method's declared parameters and
// existing locals.
func NewManager(firstFreeSlot int) *Manager {
	return &Manager{next: firstFreeSlot, free: make(map[types.ValueType][]Slot)}
}

// Temp allocates a scratch slot of the given type, reusing a previously
// Released one of the same type when available.
func (m *Manager) Temp(t types.ValueType) Slot {
	if pool := m.free[t]; len(pool) > 0 {
		s := pool[len(pool)-1]
		m.free[t] = pool[:len(pool)-1]
		return s
	}
	s := Slot(m.next)
	m.next++
	return s
}

// Release returns a temporary slot to the free list, so a later switch or
// catch in the same method can reuse it instead of growing the frame.
func (m *Manager) Release(t types.ValueType, s Slot) {
	m.free[t] = append(m.free[t], s)
}
