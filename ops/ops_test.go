// Copyright 2024 The jwasm-branchmgr Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

package ops

import "testing"

func TestNegate(t *testing.T) {
	tests := []struct {
		op  Op
		neg Op
	}{
		{Eq, Ne},
		{Ne, Eq},
		{Lt, Ge},
		{Ge, Lt},
		{Gt, Le},
		{Le, Gt},
		{IfNull, IfNonNull},
		{IfNonNull, IfNull},
		{RefEq, RefNe},
		{RefNe, RefEq},
	}
	for _, tt := range tests {
		got, ok := Negate(tt.op)
		if !ok {
			t.Errorf("Negate(%v): ok = false, want true", tt.op)
			continue
		}
		if got != tt.neg {
			t.Errorf("Negate(%v) = %v, want %v", tt.op, got, tt.neg)
		}
		// Negation must be its own inverse.
		back, ok := Negate(got)
		if !ok || back != tt.op {
			t.Errorf("Negate(%v) = %v, want %v", got, back, tt.op)
		}
	}
}

func TestNegateUnknown(t *testing.T) {
	if _, ok := Negate(Op(255)); ok {
		t.Error("Negate(255): ok = true, want false")
	}
}

func TestOpString(t *testing.T) {
	if Eq.String() != "eq" {
		t.Errorf("Eq.String() = %q, want %q", Eq.String(), "eq")
	}
	if got := Op(255).String(); got == "" {
		t.Error("Op(255).String() returned empty string")
	}
}
