package supervisor

import "sync"

// defaultTailSize bounds how much recent process output is kept for
// diagnostics.
const defaultTailSize = 10 * 1024

// outputTail is an io.Writer that retains only the most recent bytes
// written to it. Both stdout and stderr of the agent process share one
// tail, so writes must be safe for concurrent use.
type outputTail struct {
	mu   sync.Mutex
	buf  []byte
	max  int
}

func newOutputTail(max int) *outputTail {
	if max <= 0 {
		max = defaultTailSize
	}
	return &outputTail{max: max}
}

func (t *outputTail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(p) >= t.max {
		t.buf = append(t.buf[:0], p[len(p)-t.max:]...)
		return len(p), nil
	}
	t.buf = append(t.buf, p...)
	if overflow := len(t.buf) - t.max; overflow > 0 {
		t.buf = append(t.buf[:0], t.buf[overflow:]...)
	}
	return len(p), nil
}

// String returns the retained tail.
func (t *outputTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

// Reset discards the retained output.
func (t *outputTail) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = t.buf[:0]
}
