package testutil

import (
	"io"
	"log"
	"strings"
	"sync"
	"testing"
)

// testWriter routes log output into the test's own log so it only shows
// up for failing or verbose runs. Writes after the test finished go
// nowhere; pumps may still be draining when cleanup runs.
type testWriter struct {
	mu   sync.Mutex
	t    testing.TB
	done bool
}

func (w *testWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.done {
		w.t.Log(strings.TrimRight(string(p), "\n"))
	}
	return len(p), nil
}

func TestLogger(t testing.TB) *log.Logger {
	w := &testWriter{t: t}
	logger := log.New(w, "[test] ", log.LstdFlags)
	t.Cleanup(func() {
		w.mu.Lock()
		w.done = true
		w.mu.Unlock()
		logger.SetOutput(io.Discard)
	})
	return logger
}
