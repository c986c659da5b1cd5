package memory

import (
	"fmt"
	"os"
	"runtime"
)

// trace gates the allocators' diagnostic logging and the validator's
// debug-break hook. Flip to true for a debug build.
const trace = false

// dbg writes a diagnostic line to stderr when trace is enabled. It never
// mutates allocator state and is safe to call from ValidateHeap/DumpHeap.
func dbg(format string, args ...interface{}) {
	if !trace {
		return
	}
	fmt.Fprintf(os.Stderr, "memory: "+format+"\n", args...)
}

// breakHook is invoked when ValidateHeap detects a consistency violation.
// In a trace build it traps into the debugger via runtime.Breakpoint; in
// a release build it is a no-op and the caller relies on ValidateHeap's
// boolean result instead.
func breakHook() {
	if trace {
		runtime.Breakpoint()
	}
}
