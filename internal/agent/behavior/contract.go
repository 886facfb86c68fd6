package behavior

// Action is a leaf that does work. OnUpdate must not block; long running work
// reports StatusRunning across ticks.
type Action interface {
	OnUpdate(task *Task, tree *Tree) Status
}

// Conditional is a leaf that checks state. Completed conditionals under an
// abort capable composite are re-run ahead of normal scheduling.
type Conditional interface {
	OnUpdate(task *Task, tree *Tree) Status
}

// Parent is the contract shared by composites and decorators.
type Parent interface {
	CanExecute(task *Task, tree *Tree) bool
	CurrentChildIndex(task *Task, tree *Tree) int
	OnChildStarted(index int, task *Task, tree *Tree)
	OnChildExecuted(index int, status Status, task *Task, tree *Tree)
}

// Composite owns any number of children and may run them in parallel.
type Composite interface {
	Parent
}

// Decorator owns exactly one child and never runs it in parallel.
type Decorator interface {
	Parent
}

// Optional hooks. A behavior implements the ones it needs.
type (
	Awaker interface {
		OnAwake(task *Task, tree *Tree)
	}
	Starter interface {
		OnStart(task *Task, tree *Tree)
	}
	Ender interface {
		OnEnd(task *Task, tree *Tree)
	}
	Completer interface {
		OnComplete(task *Task, tree *Tree)
	}

	// VariableInitializer is called once when the tree is compiled.
	VariableInitializer interface {
		InitializeVariables(task *Task) error
	}

	// ParallelRunner is consulted for composites only.
	ParallelRunner interface {
		CanRunParallelChildren() bool
	}
	StatusDecorator interface {
		Decorate(status Status, task *Task, tree *Tree) Status
	}
	StatusOverrider interface {
		OverrideStatus(status Status, task *Task, tree *Tree) Status
	}
	ConditionalAborter interface {
		OnConditionalAbort(index int, task *Task, tree *Tree)
	}
	AbortCanceler interface {
		OnCancelConditionalAbort(task *Task, tree *Tree)
	}
)

// ActionFunc adapts a function to an Action.
type ActionFunc func(task *Task, tree *Tree) Status

func (f ActionFunc) OnUpdate(task *Task, tree *Tree) Status {
	return f(task, tree)
}

// ConditionFunc adapts a boolean check to a Conditional.
type ConditionFunc func(task *Task, tree *Tree) bool

func (f ConditionFunc) OnUpdate(task *Task, tree *Tree) Status {
	if f(task, tree) {
		return StatusSuccess
	}
	return StatusFailure
}
