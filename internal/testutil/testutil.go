// Package testutil provides shared test helpers for opsflow.
package testutil

import (
	"testing"
	"time"
)

// WaitUntil polls cond every few milliseconds until it returns true or
// the timeout elapses, failing the test on timeout. For asserting on
// state owned by background goroutines.
func WaitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s: %s", timeout, msg)
}
