package tasks

import "example.com/unitbrain/internal/agent/behavior"

// Sequence runs children in order until one fails.
type Sequence struct {
	current int
	status  behavior.Status
	count   int
}

func (s *Sequence) InitializeVariables(task *behavior.Task) error {
	s.count = len(task.Children())
	return nil
}

func (s *Sequence) OnAwake(*behavior.Task, *behavior.Tree) { s.reset(0) }

func (s *Sequence) OnEnd(*behavior.Task, *behavior.Tree) { s.reset(0) }

func (s *Sequence) CanExecute(*behavior.Task, *behavior.Tree) bool {
	return s.current < s.count && s.status != behavior.StatusFailure
}

func (s *Sequence) CurrentChildIndex(*behavior.Task, *behavior.Tree) int { return s.current }

func (s *Sequence) OnChildStarted(int, *behavior.Task, *behavior.Tree) {}

func (s *Sequence) OnChildExecuted(_ int, status behavior.Status, _ *behavior.Task, _ *behavior.Tree) {
	s.current++
	s.status = status
}

func (s *Sequence) OnConditionalAbort(index int, _ *behavior.Task, _ *behavior.Tree) { s.reset(index) }

func (s *Sequence) OnCancelConditionalAbort(*behavior.Task, *behavior.Tree) { s.reset(0) }

func (s *Sequence) reset(index int) {
	s.current = index
	s.status = behavior.StatusInactive
}

// Selector runs children in order until one succeeds.
type Selector struct {
	current int
	status  behavior.Status
	count   int
}

func (s *Selector) InitializeVariables(task *behavior.Task) error {
	s.count = len(task.Children())
	return nil
}

func (s *Selector) OnAwake(*behavior.Task, *behavior.Tree) { s.reset(0) }

func (s *Selector) OnEnd(*behavior.Task, *behavior.Tree) { s.reset(0) }

func (s *Selector) CanExecute(*behavior.Task, *behavior.Tree) bool {
	return s.current < s.count && s.status != behavior.StatusSuccess
}

func (s *Selector) CurrentChildIndex(*behavior.Task, *behavior.Tree) int { return s.current }

func (s *Selector) OnChildStarted(int, *behavior.Task, *behavior.Tree) {}

func (s *Selector) OnChildExecuted(_ int, status behavior.Status, _ *behavior.Task, _ *behavior.Tree) {
	s.current++
	s.status = status
}

func (s *Selector) OnConditionalAbort(index int, _ *behavior.Task, _ *behavior.Tree) { s.reset(index) }

func (s *Selector) OnCancelConditionalAbort(*behavior.Task, *behavior.Tree) { s.reset(0) }

func (s *Selector) reset(index int) {
	s.current = index
	s.status = behavior.StatusInactive
}

// Parallel starts every child on its own stack in the same tick.
// It fails as soon as one child fails and succeeds once all children are done.
type Parallel struct {
	current  int
	statuses []behavior.Status
}

func (p *Parallel) InitializeVariables(task *behavior.Task) error {
	p.statuses = make([]behavior.Status, len(task.Children()))
	return nil
}

func (p *Parallel) OnAwake(*behavior.Task, *behavior.Tree) { p.reset() }

func (p *Parallel) OnStart(*behavior.Task, *behavior.Tree) { p.reset() }

func (p *Parallel) OnEnd(*behavior.Task, *behavior.Tree) { p.reset() }

func (p *Parallel) CanRunParallelChildren() bool { return true }

func (p *Parallel) CanExecute(*behavior.Task, *behavior.Tree) bool {
	return p.current < len(p.statuses)
}

func (p *Parallel) CurrentChildIndex(*behavior.Task, *behavior.Tree) int { return p.current }

func (p *Parallel) OnChildStarted(index int, _ *behavior.Task, _ *behavior.Tree) {
	p.current++
	p.statuses[index] = behavior.StatusRunning
}

func (p *Parallel) OnChildExecuted(index int, status behavior.Status, _ *behavior.Task, _ *behavior.Tree) {
	p.statuses[index] = status
}

func (p *Parallel) OverrideStatus(behavior.Status, *behavior.Task, *behavior.Tree) behavior.Status {
	complete := true
	for _, s := range p.statuses {
		switch s {
		case behavior.StatusFailure:
			return behavior.StatusFailure
		case behavior.StatusRunning:
			complete = false
		}
	}
	if complete {
		return behavior.StatusSuccess
	}
	return behavior.StatusRunning
}

// OnConditionalAbort restarts every child; siblings of an aborted branch are
// unwound with it.
func (p *Parallel) OnConditionalAbort(int, *behavior.Task, *behavior.Tree) { p.reset() }

func (p *Parallel) reset() {
	p.current = 0
	for i := range p.statuses {
		p.statuses[i] = behavior.StatusInactive
	}
}
