// control.go - process-wide stop flag for ingest coordination
// ============================================================================
// SHUTDOWN COORDINATION
// ============================================================================
//
// Control package provides the global stop signal shared by the signal
// handler in main and the ingest reader goroutine. The reader polls
// Stopping() between chunks and ends the read loop early; the session then
// finalizes whatever it has already tokenized.
//
// Threading model:
//   • main's signal goroutine calls Shutdown()
//   • ingest readers poll Stopping() once per chunk
//   • tests call Reset() to clear the flag between cases

package control

import "sync/atomic"

// ============================================================================
// GLOBAL STATE MANAGEMENT
// ============================================================================

var (
	stop     atomic.Uint32 // 1 = stop requested
	requests atomic.Uint64 // number of Shutdown calls, for diagnostics
)

// ============================================================================
// SYSTEM SHUTDOWN
// ============================================================================

// Shutdown requests that all readers stop at their next chunk boundary.
func Shutdown() {
	stop.Store(1)
	requests.Add(1)
}

// Stopping reports whether Shutdown has been requested.
func Stopping() bool {
	return stop.Load() == 1
}

// Requests returns how many times Shutdown was called.
func Requests() uint64 {
	return requests.Load()
}

// Reset clears the stop flag.
func Reset() {
	stop.Store(0)
}

// ============================================================================
// FLAG ACCESS
// ============================================================================

// Flag returns the stop flag for callers that poll it in tight loops.
func Flag() *atomic.Uint32 {
	return &stop
}
