package behavior_test

import (
	"fmt"

	"example.com/unitbrain/internal/agent/behavior"
)

// scripted is an action that returns the given statuses, one per update.
// The last status repeats.
type scripted struct {
	statuses []behavior.Status
	updates  int
	starts   int
	ends     int
}

func newScripted(statuses ...behavior.Status) *scripted {
	if len(statuses) == 0 {
		statuses = []behavior.Status{behavior.StatusSuccess}
	}
	return &scripted{statuses: statuses}
}

func (p *scripted) OnStart(*behavior.Task, *behavior.Tree) { p.starts++ }

func (p *scripted) OnEnd(*behavior.Task, *behavior.Tree) { p.ends++ }

func (p *scripted) OnUpdate(*behavior.Task, *behavior.Tree) behavior.Status {
	i := min(p.updates, len(p.statuses)-1)
	p.updates++
	return p.statuses[i]
}

type record struct {
	Event  string
	Task   string
	Status behavior.Status
	Stack  uint64
	Data   [][]byte
}

func (r record) String() string {
	if r.Task == "" {
		return r.Event
	}
	return fmt.Sprintf("%s:%s", r.Event, r.Task)
}

// recorder keeps every event it sees in order.
type recorder struct {
	records []record
}

func (r *recorder) task(event string, e behavior.TaskEvent) {
	r.records = append(r.records, record{Event: event, Task: e.TaskName, Status: e.Status, Stack: e.StackID, Data: e.Data})
}

func (r *recorder) stack(event string, e behavior.StackEvent) {
	r.records = append(r.records, record{Event: event, Stack: e.StackID})
}

func (r *recorder) PostInitialize(behavior.TreeEvent) {
	r.records = append(r.records, record{Event: "PostInitialize"})
}

func (r *recorder) PostOnComplete(behavior.TreeEvent) {
	r.records = append(r.records, record{Event: "PostOnComplete"})
}

func (r *recorder) NewStack(e behavior.StackEvent)          { r.stack("NewStack", e) }
func (r *recorder) RemoveStack(e behavior.StackEvent)       { r.stack("RemoveStack", e) }
func (r *recorder) PreOnStart(e behavior.TaskEvent)         { r.task("PreOnStart", e) }
func (r *recorder) PostOnUpdate(e behavior.TaskEvent)       { r.task("PostOnUpdate", e) }
func (r *recorder) PostOnEnd(e behavior.TaskEvent)          { r.task("PostOnEnd", e) }
func (r *recorder) ActionPostOnStart(e behavior.TaskEvent)  { r.task("ActionPostOnStart", e) }
func (r *recorder) ActionPostOnUpdate(e behavior.TaskEvent) { r.task("ActionPostOnUpdate", e) }
func (r *recorder) ActionPostOnEnd(e behavior.TaskEvent)    { r.task("ActionPostOnEnd", e) }
func (r *recorder) ParallelPreOnStart(e behavior.TaskEvent) { r.task("ParallelPreOnStart", e) }
func (r *recorder) ParallelPostOnEnd(e behavior.TaskEvent)  { r.task("ParallelPostOnEnd", e) }
func (r *recorder) ParallelAddChildStack(e behavior.ParallelStackEvent) {
	r.records = append(r.records, record{Event: "ParallelAddChildStack", Task: e.Task.TaskName, Stack: e.ChildStack.StackID})
}
func (r *recorder) ParallelRemoveChildStack(e behavior.ParallelStackEvent) {
	r.records = append(r.records, record{Event: "ParallelRemoveChildStack", Task: e.Task.TaskName, Stack: e.ChildStack.StackID})
}

func (r *recorder) names() []string {
	out := make([]string, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.String())
	}
	return out
}

func (r *recorder) find(event, task string) []record {
	var out []record
	for _, rec := range r.records {
		if rec.Event == event && rec.Task == task {
			out = append(out, rec)
		}
	}
	return out
}

func (r *recorder) count(event string) int {
	n := 0
	for _, rec := range r.records {
		if rec.Event == event {
			n++
		}
	}
	return n
}

// treeOf returns a tree whose parser always yields root.
func treeOf(root *behavior.Task, opts ...behavior.Option) *behavior.Tree {
	parser := behavior.ParserFunc(func([]byte, behavior.AddContext) (*behavior.Task, error) {
		return root, nil
	})
	return behavior.New(nil, parser, opts...)
}
