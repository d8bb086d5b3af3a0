//go:build !mono

// Package mono provides low-level monotonic time
package mono

import "time"

// NanoTime returns a monotonic clock reading in nanoseconds. Build with
// -tags mono to use the runtime.nanotime linkname fast path instead.
func NanoTime() int64 { return time.Now().UnixNano() }
