package tasks

import "example.com/unitbrain/internal/agent/behavior"

// Inverter swaps Success and Failure of its child.
type Inverter struct {
	status behavior.Status
}

func (d *Inverter) OnAwake(*behavior.Task, *behavior.Tree) { d.status = behavior.StatusInactive }

func (d *Inverter) OnEnd(*behavior.Task, *behavior.Tree) { d.status = behavior.StatusInactive }

func (d *Inverter) CanExecute(*behavior.Task, *behavior.Tree) bool {
	return d.status == behavior.StatusInactive || d.status == behavior.StatusRunning
}

func (d *Inverter) CurrentChildIndex(*behavior.Task, *behavior.Tree) int { return 0 }

func (d *Inverter) OnChildStarted(int, *behavior.Task, *behavior.Tree) {}

func (d *Inverter) OnChildExecuted(_ int, status behavior.Status, _ *behavior.Task, _ *behavior.Tree) {
	d.status = status
}

func (d *Inverter) Decorate(status behavior.Status, _ *behavior.Task, _ *behavior.Tree) behavior.Status {
	switch status {
	case behavior.StatusSuccess:
		return behavior.StatusFailure
	case behavior.StatusFailure:
		return behavior.StatusSuccess
	}
	return status
}

func (d *Inverter) OnConditionalAbort(int, *behavior.Task, *behavior.Tree) {
	d.status = behavior.StatusInactive
}

// ReturnSuccess reports Success once its child finishes, whatever the child
// returned.
type ReturnSuccess struct {
	status behavior.Status
}

func (d *ReturnSuccess) OnAwake(*behavior.Task, *behavior.Tree) { d.status = behavior.StatusInactive }

func (d *ReturnSuccess) OnEnd(*behavior.Task, *behavior.Tree) { d.status = behavior.StatusInactive }

func (d *ReturnSuccess) CanExecute(*behavior.Task, *behavior.Tree) bool {
	return d.status == behavior.StatusInactive || d.status == behavior.StatusRunning
}

func (d *ReturnSuccess) CurrentChildIndex(*behavior.Task, *behavior.Tree) int { return 0 }

func (d *ReturnSuccess) OnChildStarted(int, *behavior.Task, *behavior.Tree) {}

func (d *ReturnSuccess) OnChildExecuted(_ int, status behavior.Status, _ *behavior.Task, _ *behavior.Tree) {
	d.status = status
}

func (d *ReturnSuccess) Decorate(status behavior.Status, _ *behavior.Task, _ *behavior.Tree) behavior.Status {
	if status.Terminal() {
		return behavior.StatusSuccess
	}
	return status
}

func (d *ReturnSuccess) OnConditionalAbort(int, *behavior.Task, *behavior.Tree) {
	d.status = behavior.StatusInactive
}

// UntilFailure re-runs its child until the child fails.
type UntilFailure struct {
	status behavior.Status
}

func (d *UntilFailure) OnAwake(*behavior.Task, *behavior.Tree) { d.status = behavior.StatusInactive }

func (d *UntilFailure) OnEnd(*behavior.Task, *behavior.Tree) { d.status = behavior.StatusInactive }

func (d *UntilFailure) CanExecute(*behavior.Task, *behavior.Tree) bool {
	return d.status == behavior.StatusInactive || d.status == behavior.StatusSuccess
}

func (d *UntilFailure) CurrentChildIndex(*behavior.Task, *behavior.Tree) int { return 0 }

func (d *UntilFailure) OnChildStarted(int, *behavior.Task, *behavior.Tree) {}

func (d *UntilFailure) OnChildExecuted(_ int, status behavior.Status, _ *behavior.Task, _ *behavior.Tree) {
	d.status = status
}

func (d *UntilFailure) OnConditionalAbort(int, *behavior.Task, *behavior.Tree) {
	d.status = behavior.StatusInactive
}

// UntilForever re-runs its child until something above it aborts.
type UntilForever struct{}

func (UntilForever) CanExecute(*behavior.Task, *behavior.Tree) bool { return true }

func (UntilForever) CurrentChildIndex(*behavior.Task, *behavior.Tree) int { return 0 }

func (UntilForever) OnChildStarted(int, *behavior.Task, *behavior.Tree) {}

func (UntilForever) OnChildExecuted(int, behavior.Status, *behavior.Task, *behavior.Tree) {}
