package behavior

// Task is one node of a compiled tree: identity, tree membership and the
// behavior payload the scheduler dispatches to. Exactly one kind backs a task;
// the constructors are the only way to build one.
type Task struct {
	Name string
	// Type is the registered type name the task was built from, if any.
	Type     string
	Disabled bool
	// Instant tasks are popped in the tick they finish. Non-instant tasks hold
	// their stack slot for one more tick.
	Instant bool
	// SyncToClient enables the per-task sync buffer. Actions only.
	SyncToClient bool

	id       int
	kind     Kind
	abort    AbortType
	leaf     Action
	parent   Parent
	children []*Task

	syncData [][]byte
}

// NewAction wraps an action behavior.
func NewAction(name string, a Action) *Task {
	return &Task{Name: name, Instant: true, id: -1, kind: KindAction, leaf: a}
}

// NewConditional wraps a conditional behavior.
func NewConditional(name string, c Conditional) *Task {
	return &Task{Name: name, Instant: true, id: -1, kind: KindConditional, leaf: c}
}

// NewComposite wraps a composite behavior. Children keep declaration order,
// which is also their priority order.
func NewComposite(name string, c Composite, abort AbortType, children ...*Task) *Task {
	return &Task{Name: name, Instant: true, id: -1, kind: KindComposite, abort: abort, parent: c, children: children}
}

// NewDecorator wraps a decorator behavior around its single child.
func NewDecorator(name string, d Decorator, child *Task) *Task {
	return &Task{Name: name, Instant: true, id: -1, kind: KindDecorator, parent: d, children: []*Task{child}}
}

// ID is the task's index in the compiled tables, or -1 before compilation.
func (t *Task) ID() int { return t.id }

func (t *Task) Kind() Kind { return t.kind }

// AbortType is always AbortNone for anything but composites.
func (t *Task) AbortType() AbortType { return t.abort }

// Children returns the task's children in priority order.
func (t *Task) Children() []*Task {
	out := make([]*Task, len(t.children))
	copy(out, t.children)
	return out
}

// Behavior returns the payload backing the task.
func (t *Task) Behavior() any {
	if t.kind.IsParent() {
		return t.parent
	}
	return t.leaf
}

// AppendSyncData queues a payload to forward with the next lifecycle event.
// It is a no-op unless the task is a sync enabled action.
func (t *Task) AppendSyncData(b []byte) {
	if t.kind != KindAction || !t.SyncToClient {
		return
	}
	t.syncData = append(t.syncData, append([]byte(nil), b...))
}

func (t *Task) drainSync() [][]byte {
	out := t.syncData
	t.syncData = nil
	return out
}

func (t *Task) syncing() bool {
	return t.kind == KindAction && t.SyncToClient
}

func (t *Task) parallel() bool {
	if t.kind != KindComposite {
		return false
	}
	p, ok := t.parent.(ParallelRunner)
	return ok && p.CanRunParallelChildren()
}

func (t *Task) awake(tree *Tree) {
	if h, ok := t.Behavior().(Awaker); ok {
		h.OnAwake(t, tree)
	}
}

func (t *Task) start(tree *Tree) {
	if h, ok := t.Behavior().(Starter); ok {
		h.OnStart(t, tree)
	}
}

func (t *Task) end(tree *Tree) {
	if h, ok := t.Behavior().(Ender); ok {
		h.OnEnd(t, tree)
	}
}

func (t *Task) complete(tree *Tree) {
	if h, ok := t.Behavior().(Completer); ok {
		h.OnComplete(t, tree)
	}
}

func (t *Task) update(tree *Tree) Status {
	return t.leaf.OnUpdate(t, tree)
}

func (t *Task) decorate(status Status, tree *Tree) Status {
	if h, ok := t.parent.(StatusDecorator); ok {
		return h.Decorate(status, t, tree)
	}
	return status
}

func (t *Task) overrideStatus(status Status, tree *Tree) Status {
	if h, ok := t.parent.(StatusOverrider); ok {
		return h.OverrideStatus(status, t, tree)
	}
	return status
}

func (t *Task) conditionalAbort(index int, tree *Tree) {
	if h, ok := t.parent.(ConditionalAborter); ok {
		h.OnConditionalAbort(index, t, tree)
	}
}

func (t *Task) cancelConditionalAbort(tree *Tree) {
	if h, ok := t.parent.(AbortCanceler); ok {
		h.OnCancelConditionalAbort(t, tree)
	}
}
