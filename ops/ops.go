// Copyright 2024 The jwasm-branchmgr Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

// Package ops defines the closed set of comparison operators the branch
// manager can negate while restructuring control flow, and their pairwise
// negations (spec.md §9 "Operator negation").
package ops

import "fmt"

// Op is a comparison operator carried by an `if` parsed block. It is a
// closed enumeration: negating anything outside this set is a programmer
// error, not a user-input error.
type Op uint8

const (
	Eq Op = iota
	Ne
	Lt
	Ge
	Gt
	Le
	IfNull
	IfNonNull
	RefEq
	RefNe
)

var names = map[Op]string{
	Eq:        "eq",
	Ne:        "ne",
	Lt:        "lt",
	Ge:        "ge",
	Gt:        "gt",
	Le:        "le",
	IfNull:    "ifnull",
	IfNonNull: "ifnonnull",
	RefEq:     "ref_eq",
	RefNe:     "ref_ne",
}

func (o Op) String() string {
	if s, ok := names[o]; ok {
		return s
	}
	return fmt.Sprintf("<unknown compare op %d>", uint8(o))
}

// negation holds the five pairs named in spec.md §9. The map is built both
// ways so Negate is a single lookup.
var negation = map[Op]Op{
	Eq: Ne, Ne: Eq,
	Lt: Ge, Ge: Lt,
	Gt: Le, Le: Gt,
	IfNull: IfNonNull, IfNonNull: IfNull,
	RefEq: RefNe, RefNe: RefEq,
}

// Negate returns the logical negation of o. ok is false if o is not one of
// the ten operators in the closed set above; callers must treat that as
// fatal (spec.md §7 "Compare-operator negation on non-compare").
func Negate(o Op) (neg Op, ok bool) {
	neg, ok = negation[o]
	return neg, ok
}
