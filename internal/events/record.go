// Package events turns behavior tree lifecycle notifications into records
// that can be logged, counted and replicated to the controller.
package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"example.com/unitbrain/internal/agent/behavior"
)

// Event names carried in Record.Event.
const (
	EventPostInitialize           = "post_initialize"
	EventPostOnComplete           = "post_on_complete"
	EventNewStack                 = "new_stack"
	EventRemoveStack              = "remove_stack"
	EventPreOnStart               = "pre_on_start"
	EventPostOnUpdate             = "post_on_update"
	EventPostOnEnd                = "post_on_end"
	EventActionPostOnStart        = "action_post_on_start"
	EventActionPostOnUpdate       = "action_post_on_update"
	EventActionPostOnEnd          = "action_post_on_end"
	EventParallelPreOnStart       = "parallel_pre_on_start"
	EventParallelPostOnEnd        = "parallel_post_on_end"
	EventParallelAddChildStack    = "parallel_add_child_stack"
	EventParallelRemoveChildStack = "parallel_remove_child_stack"
)

// Record is the wire form of one lifecycle event.
type Record struct {
	Event     string `json:"event"`
	UnitID    string `json:"unit_id"`
	RunID     string `json:"run_id"`
	Timestamp int64  `json:"ts"`

	TaskCount    int      `json:"task_count,omitempty"`
	TaskID       *int     `json:"task_id,omitempty"`
	TaskName     string   `json:"task_name,omitempty"`
	TaskType     string   `json:"task_type,omitempty"`
	Kind         string   `json:"kind,omitempty"`
	Status       string   `json:"status,omitempty"`
	StackID      uint64   `json:"stack_id,omitempty"`
	ChildStackID uint64   `json:"child_stack_id,omitempty"`
	ExecutionID  uint64   `json:"execution_id,omitempty"`
	StartTime    int64    `json:"start_time,omitempty"`
	Data         [][]byte `json:"data,omitempty"`
}

func treeRecord(event string, e behavior.TreeEvent) Record {
	return Record{Event: event, UnitID: e.UnitID, RunID: e.RunID, Timestamp: e.Timestamp, TaskCount: e.TaskCount}
}

func stackRecord(event string, e behavior.StackEvent) Record {
	return Record{Event: event, UnitID: e.UnitID, RunID: e.RunID, Timestamp: e.Timestamp, StackID: e.StackID, StartTime: e.StartTime}
}

func taskRecord(event string, e behavior.TaskEvent) Record {
	id := e.TaskID
	return Record{
		Event:       event,
		UnitID:      e.UnitID,
		RunID:       e.RunID,
		Timestamp:   e.Timestamp,
		TaskID:      &id,
		TaskName:    e.TaskName,
		TaskType:    e.TaskType,
		Kind:        e.Kind.String(),
		Status:      e.Status.String(),
		StackID:     e.StackID,
		ExecutionID: e.ExecutionID,
		StartTime:   e.StartTime,
		Data:        e.Data,
	}
}

func parallelRecord(event string, e behavior.ParallelStackEvent) Record {
	r := taskRecord(event, e.Task)
	r.ChildStackID = e.ChildStack.StackID
	return r
}

func Encode(r Record) ([]byte, error) {
	return json.Marshal(r)
}

func Decode(b []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return Record{}, fmt.Errorf("decode event record: %w", err)
	}
	if r.Event == "" {
		return Record{}, errors.New("decode event record: missing event name")
	}
	return r, nil
}

// Forward converts every lifecycle notification into a Record and passes it
// to the function.
type Forward func(Record)

func (f Forward) PostInitialize(e behavior.TreeEvent) { f(treeRecord(EventPostInitialize, e)) }
func (f Forward) PostOnComplete(e behavior.TreeEvent) { f(treeRecord(EventPostOnComplete, e)) }
func (f Forward) NewStack(e behavior.StackEvent)      { f(stackRecord(EventNewStack, e)) }
func (f Forward) RemoveStack(e behavior.StackEvent)   { f(stackRecord(EventRemoveStack, e)) }
func (f Forward) PreOnStart(e behavior.TaskEvent)     { f(taskRecord(EventPreOnStart, e)) }
func (f Forward) PostOnUpdate(e behavior.TaskEvent)   { f(taskRecord(EventPostOnUpdate, e)) }
func (f Forward) PostOnEnd(e behavior.TaskEvent)      { f(taskRecord(EventPostOnEnd, e)) }

func (f Forward) ActionPostOnStart(e behavior.TaskEvent) {
	f(taskRecord(EventActionPostOnStart, e))
}

func (f Forward) ActionPostOnUpdate(e behavior.TaskEvent) {
	f(taskRecord(EventActionPostOnUpdate, e))
}

func (f Forward) ActionPostOnEnd(e behavior.TaskEvent) {
	f(taskRecord(EventActionPostOnEnd, e))
}

func (f Forward) ParallelPreOnStart(e behavior.TaskEvent) {
	f(taskRecord(EventParallelPreOnStart, e))
}

func (f Forward) ParallelPostOnEnd(e behavior.TaskEvent) {
	f(taskRecord(EventParallelPostOnEnd, e))
}

func (f Forward) ParallelAddChildStack(e behavior.ParallelStackEvent) {
	f(parallelRecord(EventParallelAddChildStack, e))
}

func (f Forward) ParallelRemoveChildStack(e behavior.ParallelStackEvent) {
	f(parallelRecord(EventParallelRemoveChildStack, e))
}

// Events reported by RebuildSync.
const (
	EventSyncStack    = "sync_stack"
	EventSyncAction   = "sync_action"
	EventSyncParallel = "sync_parallel"
)

// SyncForward turns a RebuildSync walk into records. Parallel composites
// produce one record per child stack.
type SyncForward func(Record)

func (f SyncForward) Stack(s behavior.StackEvent) { f(stackRecord(EventSyncStack, s)) }

func (f SyncForward) Action(task behavior.TaskEvent, _ behavior.StackEvent) {
	f(taskRecord(EventSyncAction, task))
}

func (f SyncForward) Parallel(task behavior.TaskEvent, _ behavior.StackEvent, children []behavior.StackEvent) {
	for _, c := range children {
		r := taskRecord(EventSyncParallel, task)
		r.ChildStackID = c.StackID
		f(r)
	}
}
