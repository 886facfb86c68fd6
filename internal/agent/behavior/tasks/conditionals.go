package tasks

import "example.com/unitbrain/internal/agent/behavior"

// NeedFollowJoystick succeeds while the joystick is held.
type NeedFollowJoystick struct{}

func (NeedFollowJoystick) OnUpdate(_ *behavior.Task, tree *behavior.Tree) behavior.Status {
	return boolStatus(tree.Blackboard().GetBool(behavior.KeyJoystickActive))
}

// BlackboardBool succeeds while Key holds a true value.
type BlackboardBool struct {
	Key string
}

func (c *BlackboardBool) OnUpdate(_ *behavior.Task, tree *behavior.Tree) behavior.Status {
	return boolStatus(tree.Blackboard().GetBool(c.Key))
}

// BlackboardEquals succeeds while Key holds Value.
type BlackboardEquals struct {
	Key   string
	Value string
}

func (c *BlackboardEquals) OnUpdate(_ *behavior.Task, tree *behavior.Tree) behavior.Status {
	bb := tree.Blackboard()
	return boolStatus(bb.Has(c.Key) && bb.GetString(c.Key) == c.Value)
}

func boolStatus(ok bool) behavior.Status {
	if ok {
		return behavior.StatusSuccess
	}
	return behavior.StatusFailure
}
