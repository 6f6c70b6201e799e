package iosched

import "sync"

var (
	globalMu    sync.Mutex
	globalSched *Scheduler
	globalRefs  int
)

// Acquire returns the process-wide Scheduler, lazily constructing it on
// first use. Each call must be balanced by a call to Release. The scheduler
// is stopped and its workers joined when the last reference is released.
func Acquire() (*Scheduler, error) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalRefs == 0 {
		s, err := New()
		if err != nil {
			return nil, err
		}
		globalSched = s
	}
	globalRefs++
	return globalSched, nil
}

// Release drops a reference acquired with Acquire. Callers must not use the
// Scheduler returned by Acquire after calling Release.
func Release() {
	globalMu.Lock()
	defer globalMu.Unlock()

	globalRefs--
	if globalRefs == 0 {
		globalSched.Stop()
		globalSched = nil
	}
}
