// Copyright 2024 The jwasm-branchmgr Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

package branch

import (
	"io"
	"log"
	"os"
)

// PrintDebugInfo selects stderr instead of io.Discard as the package
// logger's writer. Mirrors wasm.PrintDebugInfo in
// _examples/go-interpreter-wagon/wasm/log.go. The writer is chosen once,
// in init, so assigning PrintDebugInfo at run time does not change it; and
// none of the manager's passes write to the logger.
var PrintDebugInfo = false

var logger *log.Logger

func init() {
	w := io.Discard
	if PrintDebugInfo {
		w = os.Stderr
	}
	logger = log.New(w, "branch: ", log.Lshortfile)
}
