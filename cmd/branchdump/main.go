// Copyright 2024 The jwasm-branchmgr Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

// Command branchdump drives the branch manager over a scripted sequence of
// parsed-operation records and prints the resulting region tree and
// emitted instruction stream. It exists to exercise and inspect the
// control-flow reconstruction engine outside of a full bytecode decoder.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/i-net-software/jwasm-branchmgr/branch"
	"github.com/i-net-software/jwasm-branchmgr/instr"
	"github.com/i-net-software/jwasm-branchmgr/locals"
	"github.com/i-net-software/jwasm-branchmgr/types"
)

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: branchdump [options] file1.bdump [file2.bdump [...]]

ex:
 $> branchdump -v ./dowhile.bdump

options:
`,
		)
		flag.PrintDefaults()
		os.Exit(1)
	}
}

var (
	flagVerbose = flag.Bool("v", false, "set branch.PrintDebugInfo (the branch package writes no log output)")
	flagEH      = flag.Bool("eh", true, "target supports exception handling")
	flagGC      = flag.Bool("gc", false, "target has a managed reference type")
)

func main() {
	log.SetPrefix("branchdump: ")
	log.SetFlags(0)

	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
	}

	branch.PrintDebugInfo = *flagVerbose

	for i, fname := range flag.Args() {
		if i > 0 {
			fmt.Println()
		}
		if err := process(fname); err != nil {
			log.Printf("%s: %v", fname, err)
		}
	}
}

func process(fname string) error {
	f, err := os.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open %q: %w", fname, err)
	}
	defer f.Close()

	sc := NewScanner(f)
	script := sc.Parse()
	for _, e := range sc.Errors {
		log.Printf("%s: %v", fname, e)
	}
	if len(sc.Errors) > 0 {
		return fmt.Errorf("%d parse error(s)", len(sc.Errors))
	}

	tm := types.NewManager()
	lv := locals.NewManager(0)
	in := instr.NewList()

	opts := &branch.BasicOptions{
		TypeManager:      tm,
		InstanceOfFunc:   "instanceof",
		ExceptionsOn:     *flagEH,
		GarbageCollected: *flagGC,
	}
	mgr := branch.New(opts, in, lv)
	mgr.Reset(script.Size, collectExceptions(script))

	if err := applyOps(mgr, in, script); err != nil {
		return err
	}
	if err := mgr.Calculate(); err != nil {
		return err
	}

	out := instr.NewList()
	if err := mgr.Handle(out); err != nil {
		return err
	}

	fmt.Printf("%s: region tree\n", fname)
	printNode(mgr.Tree(), 0)
	fmt.Printf("\n%s: emitted instructions\n", fname)
	printInstrs(out)
	return nil
}

func collectExceptions(script *Script) []instr.ExceptionEntry {
	var out []instr.ExceptionEntry
	for _, op := range script.Ops {
		if op.kind == opTry {
			out = append(out, op.tuple)
		}
	}
	return out
}

func applyOps(mgr *branch.Manager, in *instr.List, script *Script) error {
	for _, op := range script.Ops {
		switch op.kind {
		case opGoto:
			if err := mgr.AddGoto(op.start, op.offset, op.next, op.line); err != nil {
				return err
			}
		case opReturn:
			if err := mgr.AddReturn(op.start, op.next, op.line); err != nil {
				return err
			}
		case opIf:
			compareIdx := in.Append(instr.Entry{
				CodePosition: op.start, LineNumber: op.line, Kind: instr.KindStraightLine,
				Op: "compare", HasCompare: true, Compare: op.compare,
			})
			if err := mgr.AddIf(op.start, op.offset, op.line, compareIdx); err != nil {
				return err
			}
		case opSwitch:
			if err := mgr.AddSwitch(op.start, op.line, op.keys, op.positions, op.defaultPos); err != nil {
				return err
			}
		case opTry:
			if err := mgr.AddTry(op.tuple, op.line); err != nil {
				return err
			}
		}
	}
	return nil
}

func printNode(n *branch.Node, depth int) {
	if n == nil {
		return
	}
	indent := strings.Repeat("  ", depth)
	sig := ""
	if n.Signature != nil {
		sig = " " + n.Signature.String()
	}
	fmt.Printf("%s%v [%d,%d)%s\n", indent, n.Kind, n.StartPos, n.EndPos, sig)
	for _, c := range n.Children {
		printNode(c, depth+1)
	}
}

func printInstrs(l *instr.List) {
	for i := 0; i < l.Len(); i++ {
		e := l.At(i)
		switch e.Kind {
		case instr.KindMarker:
			fmt.Printf("  %4d  %s\n", e.CodePosition, e.Marker)
		case instr.KindBranch:
			fmt.Printf("  %4d  %s %d\n", e.CodePosition, e.Op, e.BranchDepth)
		default:
			op := e.Op
			if op == "" {
				op = "?"
			}
			neg := ""
			if e.Negated {
				neg = " (negated)"
			}
			cmp := ""
			if e.HasCompare {
				cmp = " " + e.Compare.String() + neg
			}
			fmt.Printf("  %4d  %s%s\n", e.CodePosition, op, cmp)
		}
	}
}
