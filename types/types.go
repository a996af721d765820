// Copyright 2024 The jwasm-branchmgr Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

// Package types implements the "type manager" collaborator referenced by
// spec.md §6: it interns structural block signatures and named structural
// types used for exception matching. It is deliberately minimal -- a real
// embedder (the front-end bytecode decoder, per spec.md §1) owns the
// authoritative type system and would supply its own Manager-shaped
// collaborator; this one exists so the branch package is independently
// testable, mirroring how wagon's own wasm.Module is self-contained enough
// to disassemble and validate without an external type system.
package types

import "strconv"

// ValueType is a structural value type, mirroring wasm.ValueType in
// _examples/go-interpreter-wagon/wasm/types.go.
type ValueType int8

const (
	I32 ValueType = iota
	I64
	F32
	F64
	Ref // object/exception reference
)

var valueTypeNames = map[ValueType]string{
	I32: "i32",
	I64: "i64",
	F32: "f32",
	F64: "f64",
	Ref: "ref",
}

func (v ValueType) String() string {
	if s, ok := valueTypeNames[v]; ok {
		return s
	}
	return "<unknown value type>"
}

// BlockSignature is the (params -> results) or bare-result signature
// inferred for a structural block (spec.md §3 BranchNode.data, §4.5).
type BlockSignature struct {
	Params  []ValueType
	Results []ValueType
}

// Empty reports whether the block takes no parameters and leaves nothing on
// the stack -- the common case for ordinary blocks and loops.
func (s BlockSignature) Empty() bool {
	return len(s.Params) == 0 && len(s.Results) == 0
}

func (s BlockSignature) String() string {
	return "(" + joinTypes(s.Params) + ") -> (" + joinTypes(s.Results) + ")"
}

func joinTypes(ts []ValueType) string {
	out := ""
	for i, t := range ts {
		if i > 0 {
			out += ", "
		}
		out += t.String()
	}
	return out
}

// Type is a structural type handed back by Manager: either an interned
// block signature or a named class/exception type. It is intentionally
// opaque outside this package -- callers compare Type values for equality
// (they are interned) rather than switching on their kind.
type Type interface {
	isType()
}

type blockType struct{ sig BlockSignature }

func (blockType) isType() {}

// Signature returns the interned block signature.
func (b blockType) Signature() BlockSignature { return b.sig }

type namedType struct{ name string }

func (namedType) isType() {}

// Name returns the interned class/exception name.
func (n namedType) Name() string { return n.name }

// Manager interns structural types for one compilation unit.
type Manager struct {
	blocks map[string]Type
	named  map[string]Type
}

// NewManager returns an empty, ready-to-use Manager.
func NewManager() *Manager {
	return &Manager{
		blocks: make(map[string]Type),
		named:  make(map[string]Type),
	}
}

// BlockType interns and returns the structural type for a (params ->
// results) block signature, the collaborator operation named in spec.md §6.
func (m *Manager) BlockType(params, results []ValueType) Type {
	key := signatureKey(params, results)
	if t, ok := m.blocks[key]; ok {
		return t
	}
	t := blockType{BlockSignature{Params: params, Results: results}}
	m.blocks[key] = t
	return t
}

// ValueOf resolves a named structural type (an exception class name, in
// this spec's usage) to an interned Type, the collaborator operation named
// in spec.md §6.
func (m *Manager) ValueOf(className string) Type {
	if t, ok := m.named[className]; ok {
		return t
	}
	t := namedType{className}
	m.named[className] = t
	return t
}

func signatureKey(params, results []ValueType) string {
	key := make([]byte, 0, len(params)+len(results)+1)
	for _, p := range params {
		key = strconv.AppendInt(key, int64(p), 10)
	}
	key = append(key, '|')
	for _, r := range results {
		key = strconv.AppendInt(key, int64(r), 10)
	}
	return string(key)
}
