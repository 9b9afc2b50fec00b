package logbuf

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// TestRing_AppendAndLast verifies basic FIFO ordering
func TestRing_AppendAndLast(t *testing.T) {
	r := New(4)
	r.Append("a")
	r.Append("b")
	r.Append("c")

	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []string{"a", "b", "c"}, r.Last(0))
	assert.Equal(t, []string{"b", "c"}, r.Last(2))
}

// TestRing_EvictsOldest verifies capacity bound
func TestRing_EvictsOldest(t *testing.T) {
	r := New(3)
	for i := 0; i < 5; i++ {
		r.Append(fmt.Sprintf("line-%d", i))
	}

	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []string{"line-2", "line-3", "line-4"}, r.Last(0))
}

// TestRing_LastMoreThanBuffered returns all without panic
func TestRing_LastMoreThanBuffered(t *testing.T) {
	r := New(8)
	r.Append("only")
	assert.Equal(t, []string{"only"}, r.Last(100))
}

// TestRing_AsZapSink verifies the ring captures zap output lines
func TestRing_AsZapSink(t *testing.T) {
	r := New(16)
	enc := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	logger := zap.New(zapcore.NewCore(enc, r, zapcore.DebugLevel))

	logger.Info("hello", zap.String("k", "v"))
	logger.Warn("watch out")
	require.NoError(t, logger.Sync())

	lines := r.Last(0)
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "hello")
	assert.Contains(t, lines[1], "watch out")
}
