package tasks

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"example.com/unitbrain/internal/agent/behavior"
)

// Idle keeps its branch alive doing nothing.
type Idle struct{}

func (Idle) OnUpdate(*behavior.Task, *behavior.Tree) behavior.Status {
	return behavior.StatusRunning
}

// Wait succeeds once Duration has passed on the tree clock.
type Wait struct {
	Duration time.Duration
	started  int64
}

func (w *Wait) OnStart(_ *behavior.Task, tree *behavior.Tree) {
	w.started = tree.Clock().NowMilliseconds()
}

func (w *Wait) OnUpdate(_ *behavior.Task, tree *behavior.Tree) behavior.Status {
	if tree.Clock().NowMilliseconds()-w.started >= w.Duration.Milliseconds() {
		return behavior.StatusSuccess
	}
	return behavior.StatusRunning
}

// AnimationFrame is the sync payload of PlayAnimation.
type AnimationFrame struct {
	Animation string `json:"animation"`
	Phase     string `json:"phase"`
	ElapsedMs int64  `json:"elapsed_ms"`
}

// PlayAnimation publishes the named animation on the blackboard and forwards
// its progress to observers until Duration has passed.
type PlayAnimation struct {
	Animation string
	Duration  time.Duration
	started   int64
}

func (a *PlayAnimation) OnStart(task *behavior.Task, tree *behavior.Tree) {
	a.started = tree.Clock().NowMilliseconds()
	tree.Blackboard().Set(behavior.KeyAnimation, a.Animation)
	a.sync(task, "start", 0)
}

func (a *PlayAnimation) OnUpdate(task *behavior.Task, tree *behavior.Tree) behavior.Status {
	elapsed := tree.Clock().NowMilliseconds() - a.started
	if elapsed >= a.Duration.Milliseconds() {
		return behavior.StatusSuccess
	}
	a.sync(task, "play", elapsed)
	return behavior.StatusRunning
}

func (a *PlayAnimation) OnEnd(task *behavior.Task, tree *behavior.Tree) {
	if tree.Blackboard().GetString(behavior.KeyAnimation) == a.Animation {
		tree.Blackboard().Delete(behavior.KeyAnimation)
	}
	a.sync(task, "end", tree.Clock().NowMilliseconds()-a.started)
}

func (a *PlayAnimation) sync(task *behavior.Task, phase string, elapsed int64) {
	b, err := json.Marshal(AnimationFrame{Animation: a.Animation, Phase: phase, ElapsedMs: elapsed})
	if err != nil {
		return
	}
	task.AppendSyncData(b)
}

// JoystickCommand is the sync payload of FollowJoystick.
type JoystickCommand struct {
	Linear  float64 `json:"linear"`
	Angular float64 `json:"angular"`
}

// FollowJoystick turns the joystick axes on the blackboard into velocity
// commands while the joystick is held, and succeeds when it is released.
type FollowJoystick struct {
	Speed float64
}

func (f *FollowJoystick) OnUpdate(task *behavior.Task, tree *behavior.Tree) behavior.Status {
	bb := tree.Blackboard()
	if !bb.GetBool(behavior.KeyJoystickActive) {
		return behavior.StatusSuccess
	}
	cmd := JoystickCommand{
		Linear:  bb.GetFloat(behavior.KeyJoystickY) * f.Speed,
		Angular: bb.GetFloat(behavior.KeyJoystickX) * f.Speed,
	}
	if b, err := json.Marshal(cmd); err == nil {
		task.AppendSyncData(b)
	}
	return behavior.StatusRunning
}

// SetBlackboard writes a value and succeeds.
type SetBlackboard struct {
	Key   string
	Value string
}

func (s *SetBlackboard) OnUpdate(_ *behavior.Task, tree *behavior.Tree) behavior.Status {
	if s.Key == "" {
		return behavior.StatusFailure
	}
	tree.Blackboard().Set(s.Key, s.Value)
	return behavior.StatusSuccess
}

// Log writes a message to the tree logger and succeeds.
type Log struct {
	Message string
	Level   slog.Level
}

func (l *Log) OnUpdate(task *behavior.Task, tree *behavior.Tree) behavior.Status {
	tree.Logger().Log(context.Background(), l.Level, l.Message, "unit", tree.Unit().ID(), "task", task.Name)
	return behavior.StatusSuccess
}
