// Copyright 2024 The jwasm-branchmgr Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

package branch

import (
	"fmt"

	"github.com/i-net-software/jwasm-branchmgr/ops"
)

// Failure is the single structured failure the manager reports (spec.md §7):
// it carries a diagnostic message and the source line of the offending
// instruction. There is no local recovery: one method's Failure does not
// corrupt the shared managers, and a driver may continue with the next
// method.
type Failure struct {
	Message string
	Line    int
}

func (f *Failure) Error() string {
	return fmt.Sprintf("branch: %s (line %d)", f.Message, f.Line)
}

func errUnimplementedKind(line int, kind parsedKind) error {
	return &Failure{Message: fmt.Sprintf("unimplemented parsed-block kind %v", kind), Line: line}
}

func errIrreducibleBackJump(line, target int) error {
	return &Failure{Message: fmt.Sprintf("backward jump to %d is not enclosed by any loop under construction", target), Line: line}
}

func errLostLoopCondition(line int) error {
	return &Failure{Message: "lost loop condition while normalizing a goto-to-while idiom", Line: line}
}

func errNodeOverlap(line int) error {
	return &Failure{Message: "internal error: a child region would overlap a sibling", Line: line}
}

func errNegateNonCompare(line int, op ops.Op) error {
	return &Failure{Message: fmt.Sprintf("cannot negate non-comparison operator %v", op), Line: line}
}
