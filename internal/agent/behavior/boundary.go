package behavior

import (
	"sync/atomic"
	"time"
)

// Clock supplies tick timestamps.
type Clock interface {
	NowMilliseconds() int64
}

type SystemClock struct{}

func (SystemClock) NowMilliseconds() int64 { return time.Now().UnixMilli() }

// ManualClock only moves when told to.
type ManualClock struct {
	ms atomic.Int64
}

func NewManualClock(start int64) *ManualClock {
	c := &ManualClock{}
	c.ms.Store(start)
	return c
}

func (c *ManualClock) NowMilliseconds() int64 { return c.ms.Load() }

func (c *ManualClock) Advance(d time.Duration) { c.ms.Add(d.Milliseconds()) }

// Unit identifies whose AI a tree drives.
type Unit interface {
	ID() string
}

type StaticUnit string

func (u StaticUnit) ID() string { return string(u) }

// AddContext is handed to the parser while it builds tasks.
type AddContext struct {
	Unit Unit
}

// Parser turns a serialized tree document into a root task wired with its
// children.
type Parser interface {
	Deserialize(config []byte, ctx AddContext) (*Task, error)
}

// ParserFunc adapts a function to a Parser.
type ParserFunc func(config []byte, ctx AddContext) (*Task, error)

func (f ParserFunc) Deserialize(config []byte, ctx AddContext) (*Task, error) {
	return f(config, ctx)
}

// TreeEvent describes tree level transitions.
type TreeEvent struct {
	UnitID    string
	RunID     string
	TaskCount int
	Timestamp int64
}

// StackEvent describes a stack at the moment of the event.
type StackEvent struct {
	UnitID    string
	RunID     string
	StackID   uint64
	StartTime int64
	Timestamp int64
}

// TaskEvent describes one lifecycle transition of a task. Data carries the
// drained sync buffer for the sync variants only.
type TaskEvent struct {
	UnitID      string
	RunID       string
	TaskID      int
	TaskName    string
	TaskType    string
	Kind        Kind
	StackID     uint64
	ExecutionID uint64
	StartTime   int64
	Timestamp   int64
	Status      Status
	Data        [][]byte
}

// ParallelStackEvent links a parallel composite to one of its child stacks.
type ParallelStackEvent struct {
	Task       TaskEvent
	ChildStack StackEvent
}

// EventSink observes lifecycle transitions. Calls are notifications only;
// arguments are snapshots and may be retained.
type EventSink interface {
	PostInitialize(e TreeEvent)
	PostOnComplete(e TreeEvent)
	NewStack(e StackEvent)
	RemoveStack(e StackEvent)
	PreOnStart(e TaskEvent)
	PostOnUpdate(e TaskEvent)
	PostOnEnd(e TaskEvent)
	ActionPostOnStart(e TaskEvent)
	ActionPostOnUpdate(e TaskEvent)
	ActionPostOnEnd(e TaskEvent)
	ParallelPreOnStart(e TaskEvent)
	ParallelPostOnEnd(e TaskEvent)
	ParallelAddChildStack(e ParallelStackEvent)
	ParallelRemoveChildStack(e ParallelStackEvent)
}

// NopSink ignores every event. Embed it to implement a subset.
type NopSink struct{}

func (NopSink) PostInitialize(TreeEvent)                    {}
func (NopSink) PostOnComplete(TreeEvent)                    {}
func (NopSink) NewStack(StackEvent)                         {}
func (NopSink) RemoveStack(StackEvent)                      {}
func (NopSink) PreOnStart(TaskEvent)                        {}
func (NopSink) PostOnUpdate(TaskEvent)                      {}
func (NopSink) PostOnEnd(TaskEvent)                         {}
func (NopSink) ActionPostOnStart(TaskEvent)                 {}
func (NopSink) ActionPostOnUpdate(TaskEvent)                {}
func (NopSink) ActionPostOnEnd(TaskEvent)                   {}
func (NopSink) ParallelPreOnStart(TaskEvent)                {}
func (NopSink) ParallelPostOnEnd(TaskEvent)                 {}
func (NopSink) ParallelAddChildStack(ParallelStackEvent)    {}
func (NopSink) ParallelRemoveChildStack(ParallelStackEvent) {}

// SyncCollector receives the current execution state from RebuildSync.
type SyncCollector interface {
	Stack(s StackEvent)
	Action(task TaskEvent, stack StackEvent)
	Parallel(task TaskEvent, stack StackEvent, children []StackEvent)
}
