package behavior

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

var (
	ErrAlreadyRunning = errors.New("behavior tree already running")
	ErrCompile        = errors.New("behavior tree compile failed")
)

// TaskRuntime is the per-task metadata of the current run.
type TaskRuntime struct {
	StartTime   int64
	ExecutionID uint64
	StackID     uint64
	Active      bool
	LastStatus  Status
}

// ConditionalReevaluate tracks a completed conditional that may interrupt a
// running branch. CompositeIndex is -1 while the entry is not tracked at
// subtree scope.
type ConditionalReevaluate struct {
	Index          int
	Status         Status
	CompositeIndex int
}

// Tree drives one compiled behavior tree for one unit. A Tree is not safe for
// concurrent use; callers serialize Enable, Update and Disable.
type Tree struct {
	config  []byte
	parser  Parser
	unit    Unit
	clock   Clock
	events  EventSink
	log     *slog.Logger
	bb      *Blackboard
	restart bool

	initialized bool
	taskList    []*Task
	tables      Tables

	running   bool
	needsRoot bool
	unwinding bool
	runID     string

	stacks      []*RunningStack
	nextStackID uint64

	reevaluate    []*ConditionalReevaluate
	reevaluateMap map[int]*ConditionalReevaluate
	applied       []appliedAbort

	runtime         []TaskRuntime
	lastSync        [][][]byte
	nextExecutionID uint64

	parallelOwner    map[uint64]int
	parallelChildren map[int][]uint64
}

type Option func(*Tree)

func WithUnit(u Unit) Option { return func(t *Tree) { t.unit = u } }

func WithClock(c Clock) Option { return func(t *Tree) { t.clock = c } }

func WithEvents(s EventSink) Option { return func(t *Tree) { t.events = s } }

func WithLogger(l *slog.Logger) Option { return func(t *Tree) { t.log = l } }

func WithBlackboard(bb *Blackboard) Option { return func(t *Tree) { t.bb = bb } }

// WithRestartWhenComplete restarts the tree on the tick after the root finishes
// instead of stopping.
func WithRestartWhenComplete(restart bool) Option { return func(t *Tree) { t.restart = restart } }

// New creates a tree for the given serialized definition. Nothing is parsed
// until the first Enable or Compile.
func New(config []byte, parser Parser, opts ...Option) *Tree {
	t := &Tree{
		config:           config,
		parser:           parser,
		unit:             StaticUnit(""),
		clock:            SystemClock{},
		events:           NopSink{},
		log:              slog.New(slog.DiscardHandler),
		reevaluateMap:    make(map[int]*ConditionalReevaluate),
		parallelOwner:    make(map[uint64]int),
		parallelChildren: make(map[int][]uint64),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.bb == nil {
		t.bb = NewBlackboard()
	}
	return t
}

// Compile builds the flattened tables if that has not happened yet.
func (t *Tree) Compile() error {
	return t.initializeForBase()
}

// Enable resets all per-run state and starts the tree. The root is pushed on
// the next Update.
func (t *Tree) Enable() error {
	if t.running {
		return ErrAlreadyRunning
	}
	if err := t.initializeForBase(); err != nil {
		t.log.Error("behavior tree compile failed", "unit", t.unit.ID(), "error", err)
		return err
	}
	t.resetRun()
	t.runID = uuid.NewString()
	for _, task := range t.taskList {
		if !task.Disabled {
			task.awake(t)
		}
	}
	t.running = true
	t.needsRoot = true
	t.events.PostInitialize(t.treeEvent())
	t.log.Info("behavior tree enabled", "unit", t.unit.ID(), "run", t.runID, "tasks", len(t.taskList))
	return nil
}

// Disable unwinds every stack with a forced failure, so each started task gets
// its end hook and end event, then stops the tree. It does nothing when the
// tree is not running.
func (t *Tree) Disable() error {
	if !t.running {
		return nil
	}
	t.unwinding = true
	for j := len(t.stacks) - 1; j >= 0; j-- {
		if j >= len(t.stacks) {
			continue
		}
		stack := t.stacks[j]
		for stack.Len() > 0 && j < len(t.stacks) && t.stacks[j] == stack {
			top, _ := stack.Top()
			t.popTask(top, j, StatusFailure, true)
		}
		if j == 0 && j < len(t.stacks) && t.stacks[j] == stack {
			t.removeStack(0)
		}
	}
	t.unwinding = false
	t.clearReevaluations()
	t.running = false
	t.needsRoot = false
	t.log.Info("behavior tree disabled", "unit", t.unit.ID(), "run", t.runID)
	return nil
}

// Update advances the tree by one tick.
func (t *Tree) Update() {
	if !t.running {
		return
	}
	if t.needsRoot {
		t.needsRoot = false
		index := t.addStack()
		t.pushTask(0, index)
	}
	t.reevaluateConditionalTasks()
	t.applied = t.applied[:0]

	serviced := make(map[uint64]bool, len(t.stacks))
	for j := len(t.stacks) - 1; j >= 0; j-- {
		if j >= len(t.stacks) {
			continue
		}
		stack := t.stacks[j]
		if serviced[stack.ID] {
			continue
		}
		serviced[stack.ID] = true
		status := StatusInactive
		for status != StatusRunning && t.running && j < len(t.stacks) && t.stacks[j] == stack && stack.Len() > 0 {
			top, _ := stack.Top()
			status = t.runTask(top, j, status)
		}
	}
}

func (t *Tree) IsRunning() bool { return t.running }

func (t *Tree) Unit() Unit { return t.unit }

func (t *Tree) Clock() Clock { return t.clock }

func (t *Tree) Blackboard() *Blackboard { return t.bb }

func (t *Tree) Logger() *slog.Logger { return t.log }

// RunID identifies the current run; it changes on every Enable.
func (t *Tree) RunID() string { return t.runID }

func (t *Tree) TaskCount() int { return len(t.taskList) }

// Task returns the compiled task with the given id, or nil.
func (t *Tree) Task(id int) *Task {
	if id < 0 || id >= len(t.taskList) {
		return nil
	}
	return t.taskList[id]
}

// Runtime returns the runtime metadata of a task in the current run.
func (t *Tree) Runtime(id int) (TaskRuntime, bool) {
	if id < 0 || id >= len(t.runtime) {
		return TaskRuntime{}, false
	}
	return t.runtime[id], true
}

// Reevaluations returns a copy of the tracked conditionals, oldest first.
func (t *Tree) Reevaluations() []ConditionalReevaluate {
	out := make([]ConditionalReevaluate, 0, len(t.reevaluate))
	for _, e := range t.reevaluate {
		out = append(out, *e)
	}
	return out
}

func (t *Tree) resetRun() {
	t.stacks = nil
	t.clearReevaluations()
	t.applied = nil
	t.runtime = make([]TaskRuntime, len(t.taskList))
	t.lastSync = make([][][]byte, len(t.taskList))
	t.parallelOwner = make(map[uint64]int)
	t.parallelChildren = make(map[int][]uint64)
	for _, task := range t.taskList {
		task.syncData = nil
	}
}

// complete runs when the root pops off the primal stack.
func (t *Tree) complete() {
	for _, task := range t.taskList {
		if !task.Disabled {
			task.complete(t)
		}
	}
	t.events.PostOnComplete(t.treeEvent())
	if len(t.stacks) > 0 {
		t.removeStack(0)
	}
	t.clearReevaluations()
	if t.restart {
		t.needsRoot = true
		t.log.Debug("behavior tree restarting", "unit", t.unit.ID(), "run", t.runID)
		return
	}
	t.running = false
	t.log.Info("behavior tree complete", "unit", t.unit.ID(), "run", t.runID)
}

func (t *Tree) now() int64 { return t.clock.NowMilliseconds() }

func (t *Tree) treeEvent() TreeEvent {
	return TreeEvent{UnitID: t.unit.ID(), RunID: t.runID, TaskCount: len(t.taskList), Timestamp: t.now()}
}

func (t *Tree) stackEvent(s *RunningStack) StackEvent {
	return StackEvent{UnitID: t.unit.ID(), RunID: t.runID, StackID: s.ID, StartTime: s.StartTime, Timestamp: t.now()}
}

func (t *Tree) taskEvent(index int, s *RunningStack, status Status) TaskEvent {
	task := t.taskList[index]
	rt := t.runtime[index]
	e := TaskEvent{
		UnitID:      t.unit.ID(),
		RunID:       t.runID,
		TaskID:      index,
		TaskName:    task.Name,
		TaskType:    task.Type,
		Kind:        task.kind,
		ExecutionID: rt.ExecutionID,
		StartTime:   rt.StartTime,
		Timestamp:   t.now(),
		Status:      status,
	}
	if s != nil {
		e.StackID = s.ID
	}
	return e
}

func (t *Tree) String() string {
	return fmt.Sprintf("Tree(unit=%s tasks=%d stacks=%d running=%t)", t.unit.ID(), len(t.taskList), len(t.stacks), t.running)
}
