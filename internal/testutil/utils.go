package testutil

import (
	"log"
	"os"
	"testing"
)

// TestLogger returns a logger for exercising components that require one.
// Output goes to stdout so `go test -v` interleaves it with test output.
func TestLogger(t *testing.T) *log.Logger {
	t.Helper()
	return log.New(os.Stdout, "[chatkit-test] ", log.LstdFlags|log.Lmsgprefix)
}
