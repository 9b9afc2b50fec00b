// Package logbuf provides the bounded in-memory log ring buffer that backs
// the "logs" IPC command. It is passed explicitly to both the log sink and
// the control-channel handler; there is no ambient global.
package logbuf

import (
	"strings"
	"sync"

	"go.uber.org/zap/zapcore"
)

// DefaultCapacity bounds the ring when no explicit capacity is given.
const DefaultCapacity = 1000

// Ring is a fixed-capacity FIFO of formatted log lines, safe for
// concurrent use by the logging pipeline and the IPC server.
type Ring struct {
	mu    sync.Mutex
	lines []string
	start int
	count int
}

// New creates a ring holding at most capacity lines.
func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{lines: make([]string, capacity)}
}

// Append adds a line, evicting the oldest when full.
func (r *Ring) Append(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := (r.start + r.count) % len(r.lines)
	r.lines[idx] = line
	if r.count < len(r.lines) {
		r.count++
	} else {
		r.start = (r.start + 1) % len(r.lines)
	}
}

// Last returns the most recent n lines in chronological order.
// n <= 0 returns everything buffered.
func (r *Ring) Last(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n <= 0 || n > r.count {
		n = r.count
	}
	out := make([]string, 0, n)
	for i := r.count - n; i < r.count; i++ {
		out = append(out, r.lines[(r.start+i)%len(r.lines)])
	}
	return out
}

// Len returns the number of buffered lines.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Write implements io.Writer so the ring can serve as a zap sink.
// Each write is expected to be one encoded log entry.
func (r *Ring) Write(p []byte) (int, error) {
	line := strings.TrimRight(string(p), "\n")
	if line != "" {
		r.Append(line)
	}
	return len(p), nil
}

// Sync implements zapcore.WriteSyncer; the ring has nothing to flush.
func (r *Ring) Sync() error { return nil }

var _ zapcore.WriteSyncer = (*Ring)(nil)
