package tasks_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/unitbrain/internal/agent/behavior"
	"example.com/unitbrain/internal/agent/behavior/tasks"
)

func run(t *testing.T, root *behavior.Task, opts ...behavior.Option) *behavior.Tree {
	t.Helper()
	tree := behavior.New(nil, behavior.ParserFunc(func([]byte, behavior.AddContext) (*behavior.Task, error) {
		return root, nil
	}), opts...)
	require.NoError(t, tree.Enable())
	return tree
}

func lastStatus(t *testing.T, tree *behavior.Tree, task *behavior.Task) behavior.Status {
	t.Helper()
	rt, ok := tree.Runtime(task.ID())
	require.True(t, ok)
	return rt.LastStatus
}

func constant(s behavior.Status) *behavior.Task {
	return behavior.NewAction(s.String(), behavior.ActionFunc(func(*behavior.Task, *behavior.Tree) behavior.Status { return s }))
}

func TestDecorators(t *testing.T) {
	tests := []struct {
		name string
		dec  behavior.Decorator
		in   behavior.Status
		want behavior.Status
	}{
		{"inverter success", &tasks.Inverter{}, behavior.StatusSuccess, behavior.StatusFailure},
		{"inverter failure", &tasks.Inverter{}, behavior.StatusFailure, behavior.StatusSuccess},
		{"return success", &tasks.ReturnSuccess{}, behavior.StatusFailure, behavior.StatusSuccess},
		{"until failure", &tasks.UntilFailure{}, behavior.StatusFailure, behavior.StatusFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := behavior.NewDecorator("dec", tt.dec, constant(tt.in))
			tree := run(t, root)
			tree.Update()
			assert.False(t, tree.IsRunning())
			assert.Equal(t, tt.want, lastStatus(t, tree, root))
		})
	}
}

func TestUntilFailureRepeatsOncePerTick(t *testing.T) {
	n := 0
	child := behavior.NewAction("count", behavior.ActionFunc(func(*behavior.Task, *behavior.Tree) behavior.Status {
		n++
		if n == 3 {
			return behavior.StatusFailure
		}
		return behavior.StatusSuccess
	}))
	root := behavior.NewDecorator("until", &tasks.UntilFailure{}, child)
	tree := run(t, root)

	tree.Update()
	tree.Update()
	assert.Equal(t, 2, n)
	assert.True(t, tree.IsRunning())

	tree.Update()
	assert.Equal(t, 3, n)
	assert.False(t, tree.IsRunning())
}

func TestWaitUsesTreeClock(t *testing.T) {
	clock := behavior.NewManualClock(0)
	root := behavior.NewAction("wait", &tasks.Wait{Duration: 2 * time.Second})
	tree := run(t, root, behavior.WithClock(clock))

	tree.Update()
	clock.Advance(time.Second)
	tree.Update()
	assert.True(t, tree.IsRunning())

	clock.Advance(time.Second)
	tree.Update()
	assert.False(t, tree.IsRunning())
	assert.Equal(t, behavior.StatusSuccess, lastStatus(t, tree, root))
}

func TestFollowJoystick(t *testing.T) {
	bb := behavior.NewBlackboard()
	bb.Set(behavior.KeyJoystickActive, true)
	bb.Set(behavior.KeyJoystickX, 0.5)
	bb.Set(behavior.KeyJoystickY, "1")

	follow := behavior.NewAction("follow", &tasks.FollowJoystick{Speed: 2})
	root := behavior.NewComposite("seq", &tasks.Sequence{}, behavior.AbortSelf,
		behavior.NewConditional("need", tasks.NeedFollowJoystick{}),
		follow,
	)
	tree := run(t, root, behavior.WithBlackboard(bb))

	tree.Update()
	tree.Update()
	assert.True(t, tree.IsRunning())

	bb.Set(behavior.KeyJoystickActive, false)
	tree.Update()
	assert.False(t, tree.IsRunning())
	assert.Equal(t, behavior.StatusFailure, lastStatus(t, tree, follow), "released joystick aborts the follow branch")
	assert.Equal(t, behavior.StatusFailure, lastStatus(t, tree, root))
}

func TestSetBlackboardAndEquals(t *testing.T) {
	bb := behavior.NewBlackboard()
	root := behavior.NewComposite("seq", &tasks.Sequence{}, behavior.AbortNone,
		behavior.NewAction("set", &tasks.SetBlackboard{Key: "mode", Value: "patrol"}),
		behavior.NewConditional("is patrol", &tasks.BlackboardEquals{Key: "mode", Value: "patrol"}),
	)
	tree := run(t, root, behavior.WithBlackboard(bb))
	tree.Update()

	assert.Equal(t, "patrol", bb.GetString("mode"))
	assert.Equal(t, behavior.StatusSuccess, lastStatus(t, tree, root))
}

func TestRegistryNewTask(t *testing.T) {
	r := tasks.DefaultRegistry()

	wait, err := r.NewTask("Wait", "", tasks.Properties{"duration": "1.5s"}, behavior.AbortNone, nil)
	require.NoError(t, err)
	assert.Equal(t, "Wait", wait.Name)
	assert.Equal(t, "Wait", wait.Type)
	assert.Equal(t, behavior.KindAction, wait.Kind())
	assert.Equal(t, 1500*time.Millisecond, wait.Behavior().(*tasks.Wait).Duration)

	ms, err := r.NewTask("Wait", "short", tasks.Properties{"duration": 250}, behavior.AbortNone, nil)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, ms.Behavior().(*tasks.Wait).Duration)

	sel, err := r.NewTask("Selector", "root", nil, behavior.AbortBoth, []*behavior.Task{wait, ms})
	require.NoError(t, err)
	assert.Equal(t, behavior.AbortBoth, sel.AbortType())
	assert.Len(t, sel.Children(), 2)
}

func TestRegistryErrors(t *testing.T) {
	r := tasks.DefaultRegistry()
	leaf := func() *behavior.Task { return behavior.NewAction("idle", tasks.Idle{}) }

	_, err := r.NewTask("Teleport", "", nil, behavior.AbortNone, nil)
	assert.ErrorIs(t, err, tasks.ErrUnknownType)

	_, err = r.NewTask("Inverter", "", nil, behavior.AbortNone, []*behavior.Task{leaf(), leaf()})
	assert.ErrorIs(t, err, tasks.ErrChildren)

	_, err = r.NewTask("Idle", "", nil, behavior.AbortNone, []*behavior.Task{leaf()})
	assert.ErrorIs(t, err, tasks.ErrChildren)

	_, err = r.NewTask("Idle", "", nil, behavior.AbortSelf, nil)
	assert.ErrorContains(t, err, "abort type")

	_, err = r.NewTask("SetBlackboard", "", nil, behavior.AbortNone, nil)
	assert.ErrorContains(t, err, "key is required")

	_, err = r.NewTask("Wait", "", tasks.Properties{"duration": "soon"}, behavior.AbortNone, nil)
	assert.Error(t, err)

	_, err = r.NewTask("Log", "", tasks.Properties{"level": "loud"}, behavior.AbortNone, nil)
	assert.Error(t, err)
}

func TestRegistryNames(t *testing.T) {
	names := tasks.DefaultRegistry().Names()
	assert.Contains(t, names, "Sequence")
	assert.Contains(t, names, "PlayAnimation")
	assert.Contains(t, names, "NeedFollowJoystick")
	assert.IsNonDecreasing(t, names)
}
