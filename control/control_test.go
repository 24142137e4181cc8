package control

import (
	"sync"
	"testing"
)

// ============================================================================
// UNIT TESTS
// ============================================================================

func TestControl_InitialState(t *testing.T) {
	Reset()
	if Stopping() {
		t.Fatal("stop flag should start cleared")
	}
}

func TestControl_ShutdownSetsFlag(t *testing.T) {
	Reset()
	before := Requests()
	Shutdown()
	if !Stopping() {
		t.Fatal("Shutdown should set the stop flag")
	}
	if Flag().Load() != 1 {
		t.Fatal("Flag should expose the same state")
	}
	if Requests() != before+1 {
		t.Fatalf("Requests = %d, want %d", Requests(), before+1)
	}
	Reset()
	if Stopping() {
		t.Fatal("Reset should clear the stop flag")
	}
}

// ============================================================================
// CONCURRENCY
// ============================================================================

func TestControl_ConcurrentShutdown(t *testing.T) {
	Reset()
	defer Reset()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			Shutdown()
			_ = Stopping()
		}()
	}
	wg.Wait()
	if !Stopping() {
		t.Fatal("flag must be set after concurrent shutdowns")
	}
}
