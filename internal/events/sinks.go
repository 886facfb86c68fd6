package events

import (
	"context"
	"log/slog"

	"example.com/unitbrain/internal/agent/behavior"
)

// NewLogSink logs every record at the given level.
func NewLogSink(logger *slog.Logger, level slog.Level) behavior.EventSink {
	return Forward(func(r Record) {
		if !logger.Enabled(context.Background(), level) {
			return
		}
		attrs := []any{"unit", r.UnitID, "run", r.RunID}
		if r.TaskID != nil {
			attrs = append(attrs, "task", r.TaskName, "task_id", *r.TaskID, "status", r.Status)
		}
		if r.StackID != 0 {
			attrs = append(attrs, "stack", r.StackID)
		}
		if r.ChildStackID != 0 {
			attrs = append(attrs, "child_stack", r.ChildStackID)
		}
		if len(r.Data) > 0 {
			attrs = append(attrs, "payloads", len(r.Data))
		}
		logger.Log(context.Background(), level, r.Event, attrs...)
	})
}

// Multi fans every event out to each sink in order.
type Multi []behavior.EventSink

func (m Multi) PostInitialize(e behavior.TreeEvent) {
	for _, s := range m {
		s.PostInitialize(e)
	}
}

func (m Multi) PostOnComplete(e behavior.TreeEvent) {
	for _, s := range m {
		s.PostOnComplete(e)
	}
}

func (m Multi) NewStack(e behavior.StackEvent) {
	for _, s := range m {
		s.NewStack(e)
	}
}

func (m Multi) RemoveStack(e behavior.StackEvent) {
	for _, s := range m {
		s.RemoveStack(e)
	}
}

func (m Multi) PreOnStart(e behavior.TaskEvent) {
	for _, s := range m {
		s.PreOnStart(e)
	}
}

func (m Multi) PostOnUpdate(e behavior.TaskEvent) {
	for _, s := range m {
		s.PostOnUpdate(e)
	}
}

func (m Multi) PostOnEnd(e behavior.TaskEvent) {
	for _, s := range m {
		s.PostOnEnd(e)
	}
}

func (m Multi) ActionPostOnStart(e behavior.TaskEvent) {
	for _, s := range m {
		s.ActionPostOnStart(e)
	}
}

func (m Multi) ActionPostOnUpdate(e behavior.TaskEvent) {
	for _, s := range m {
		s.ActionPostOnUpdate(e)
	}
}

func (m Multi) ActionPostOnEnd(e behavior.TaskEvent) {
	for _, s := range m {
		s.ActionPostOnEnd(e)
	}
}

func (m Multi) ParallelPreOnStart(e behavior.TaskEvent) {
	for _, s := range m {
		s.ParallelPreOnStart(e)
	}
}

func (m Multi) ParallelPostOnEnd(e behavior.TaskEvent) {
	for _, s := range m {
		s.ParallelPostOnEnd(e)
	}
}

func (m Multi) ParallelAddChildStack(e behavior.ParallelStackEvent) {
	for _, s := range m {
		s.ParallelAddChildStack(e)
	}
}

func (m Multi) ParallelRemoveChildStack(e behavior.ParallelStackEvent) {
	for _, s := range m {
		s.ParallelRemoveChildStack(e)
	}
}
