// Package early provides a Printf-compatible entry point for code that runs
// before a console driver has attached itself to the kfmt output sink, such
// as the boot-time physical memory allocators.
package early

import "boxos/kernel/kfmt"

// Printf formats and emits a message using kfmt.Printf. Until a console is
// probed and attached via kfmt.SetOutputSink, the output accumulates in
// kfmt's ring buffer and is flushed out once a sink becomes available.
func Printf(format string, args ...interface{}) {
	kfmt.Printf(format, args...)
}
