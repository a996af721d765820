// Copyright 2024 The jwasm-branchmgr Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

package branch

import "github.com/i-net-software/jwasm-branchmgr/ops"

// negate flips a parsed If block's comparison operator in place, updating
// both the parsedBlock and its owning instruction entry (spec.md §3 "an
// owning reference to the comparison instruction so its operator can be
// negated"). It is the only place the manager ever mutates a compare op.
func (m *Manager) negate(pb *parsedBlock) error {
	neg, ok := ops.Negate(pb.compare)
	if !ok {
		return errNegateNonCompare(pb.line, pb.compare)
	}
	pb.compare = neg
	if pb.compareIdx >= 0 {
		e := m.instrs.At(pb.compareIdx)
		e.Compare = neg
		e.Negated = !e.Negated
	}
	return nil
}
