package behavior

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAbortType(t *testing.T) {
	tests := []struct {
		in   string
		want AbortType
	}{
		{"", AbortNone},
		{"none", AbortNone},
		{"Self", AbortSelf},
		{"Self_", AbortSelf},
		{"lower_priority", AbortLowerPriority},
		{"LowerPriority", AbortLowerPriority},
		{" both ", AbortBoth},
	}
	for _, tt := range tests {
		got, err := ParseAbortType(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseAbortType("sometimes")
	assert.Error(t, err)
}

func TestBlackboardAccessors(t *testing.T) {
	bb := NewBlackboard()
	bb.Set("b", "true")
	bb.Set("f", "0.5")
	bb.Set("n", 3)

	assert.True(t, bb.GetBool("b"))
	assert.False(t, bb.GetBool("missing"))
	assert.InDelta(t, 0.5, bb.GetFloat("f"), 1e-9)
	assert.InDelta(t, 3.0, bb.GetFloat("n"), 1e-9)
	assert.Equal(t, "3", bb.GetString("n"))
	assert.Equal(t, []string{"b", "f", "n"}, bb.Keys())

	snap := bb.Snapshot()
	bb.Delete("b")
	assert.False(t, bb.Has("b"))
	assert.Contains(t, snap, "b")
}

func TestAppendSyncDataIgnoredWithoutSync(t *testing.T) {
	task := NewAction("a", ActionFunc(func(*Task, *Tree) Status { return StatusSuccess }))
	task.AppendSyncData([]byte("x"))
	assert.Empty(t, task.syncData)

	task.SyncToClient = true
	b := []byte("x")
	task.AppendSyncData(b)
	b[0] = 'y'
	require.Len(t, task.syncData, 1)
	assert.Equal(t, "x", string(task.syncData[0]))

	cond := NewConditional("c", ConditionFunc(func(*Task, *Tree) bool { return true }))
	cond.SyncToClient = true
	cond.AppendSyncData([]byte("x"))
	assert.Empty(t, cond.syncData)
}
