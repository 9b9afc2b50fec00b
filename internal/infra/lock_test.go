package infra

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestInstanceLock verifies a second acquire on the same data directory is
// refused until the first holder releases
func TestInstanceLock(t *testing.T) {
	dir := t.TempDir()

	first := NewInstanceLock(dir)
	require.NoError(t, first.Acquire())

	second := NewInstanceLock(dir)
	assert.Error(t, second.Acquire())

	first.Release()
	assert.NoError(t, second.Acquire())
	second.Release()
}
