// Copyright 2024 The jwasm-branchmgr Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/i-net-software/jwasm-branchmgr/instr"
	"github.com/i-net-software/jwasm-branchmgr/ops"
)

// Script is a parsed branchdump input file: a method's declared code size
// plus the sequence of Add* calls the decoder would have made against a
// live branch.Manager.
type Script struct {
	Size int
	Ops  []scriptOp
}

type opKind uint8

const (
	opGoto opKind = iota
	opIf
	opSwitch
	opTry
	opReturn
)

type scriptOp struct {
	kind opKind
	line int

	start, offset, next int
	compare             ops.Op

	keys       []int
	positions  []int
	defaultPos int

	tuple instr.ExceptionEntry
}

// Scanner reads the line-oriented branchdump format. Unlike a real
// bytecode decoder it does not need rune-level lookahead: each line is one
// whitespace-delimited record, so bufio.Scanner's line splitting plus
// strings.Fields does the tokenizing. Malformed lines are collected into
// Errors rather than aborting the scan, mirroring wast.Scanner's
// forgiving error collection.
type Scanner struct {
	src    *bufio.Scanner
	lineNo int
	Errors []error
}

func NewScanner(r io.Reader) *Scanner {
	return &Scanner{src: bufio.NewScanner(r)}
}

func (s *Scanner) raise(format string, args ...interface{}) {
	s.Errors = append(s.Errors, fmt.Errorf("line %d: %s", s.lineNo, fmt.Sprintf(format, args...)))
}

// Parse consumes the entire input and returns the resulting Script. Lines
// that fail to parse are skipped and reported via Errors; the caller
// decides whether any errors are fatal.
func (s *Scanner) Parse() *Script {
	script := &Script{}
	for s.src.Scan() {
		s.lineNo++
		line := strings.TrimSpace(s.src.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "size":
			s.parseSize(fields, script)
		case "goto":
			s.parseGoto(fields, script)
		case "if":
			s.parseIf(fields, script)
		case "return":
			s.parseReturn(fields, script)
		case "switch":
			s.parseSwitch(fields, script)
		case "try":
			s.parseTry(fields, script)
		default:
			s.raise("unknown record kind %q", fields[0])
		}
	}
	return script
}

func (s *Scanner) atoi(field string) int {
	n, err := strconv.Atoi(field)
	if err != nil {
		s.raise("expected integer, got %q", field)
	}
	return n
}

func (s *Scanner) parseSize(fields []string, script *Script) {
	if len(fields) != 2 {
		s.raise("size wants 1 argument, got %d", len(fields)-1)
		return
	}
	script.Size = s.atoi(fields[1])
}

func (s *Scanner) parseGoto(fields []string, script *Script) {
	if len(fields) != 5 {
		s.raise("goto wants 4 arguments, got %d", len(fields)-1)
		return
	}
	script.Ops = append(script.Ops, scriptOp{
		kind: opGoto, line: s.lineNo,
		start: s.atoi(fields[1]), offset: s.atoi(fields[2]), next: s.atoi(fields[3]),
	})
}

func (s *Scanner) parseReturn(fields []string, script *Script) {
	if len(fields) != 3 {
		s.raise("return wants 2 arguments, got %d", len(fields)-1)
		return
	}
	script.Ops = append(script.Ops, scriptOp{
		kind: opReturn, line: s.lineNo,
		start: s.atoi(fields[1]), next: s.atoi(fields[2]),
	})
}

var compareNames = map[string]ops.Op{
	"eq": ops.Eq, "ne": ops.Ne, "lt": ops.Lt, "ge": ops.Ge, "gt": ops.Gt, "le": ops.Le,
	"ifnull": ops.IfNull, "ifnonnull": ops.IfNonNull, "ref_eq": ops.RefEq, "ref_ne": ops.RefNe,
}

func (s *Scanner) parseIf(fields []string, script *Script) {
	if len(fields) != 5 {
		s.raise("if wants 4 arguments, got %d", len(fields)-1)
		return
	}
	cmp, ok := compareNames[fields[4]]
	if !ok {
		s.raise("unknown compare operator %q", fields[4])
		return
	}
	script.Ops = append(script.Ops, scriptOp{
		kind: opIf, line: s.lineNo,
		start: s.atoi(fields[1]), offset: s.atoi(fields[2]), compare: cmp,
	})
}

func (s *Scanner) parseSwitch(fields []string, script *Script) {
	if len(fields) < 3 {
		s.raise("switch wants at least 2 arguments, got %d", len(fields)-1)
		return
	}
	start := s.atoi(fields[1])
	defaultPos := s.atoi(fields[2])
	var keys, positions []int
	for _, pair := range fields[3:] {
		kv := strings.SplitN(pair, ":", 2)
		if len(kv) != 2 {
			s.raise("switch case %q must be key:position", pair)
			continue
		}
		keys = append(keys, s.atoi(kv[0]))
		positions = append(positions, s.atoi(kv[1]))
	}
	script.Ops = append(script.Ops, scriptOp{
		kind: opSwitch, line: s.lineNo,
		start: start, defaultPos: defaultPos, keys: keys, positions: positions,
	})
}

func (s *Scanner) parseTry(fields []string, script *Script) {
	if len(fields) != 5 {
		s.raise("try wants 4 arguments, got %d", len(fields)-1)
		return
	}
	catchType := fields[4]
	if catchType == "-" {
		catchType = ""
	}
	script.Ops = append(script.Ops, scriptOp{
		kind: opTry, line: s.lineNo,
		tuple: instr.ExceptionEntry{
			StartPC: s.atoi(fields[1]), EndPC: s.atoi(fields[2]), HandlerPC: s.atoi(fields[3]), CatchType: catchType,
		},
	})
}
