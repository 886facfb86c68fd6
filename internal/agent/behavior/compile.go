package behavior

import (
	"errors"
	"fmt"
)

// Tables are the flattened, index addressed views of a compiled tree. They
// never change after compilation.
type Tables struct {
	ParentIndex        []int
	ChildrenIndex      [][]int
	RelativeChildIndex []int
	// ParentCompositeIndex is the nearest composite ancestor, or -1.
	ParentCompositeIndex []int
	// ChildConditionalIndex lists, per composite, the conditionals whose
	// nearest composite ancestor it is.
	ChildConditionalIndex [][]int
}

func (tb Tables) clone() Tables {
	out := Tables{
		ParentIndex:           append([]int(nil), tb.ParentIndex...),
		RelativeChildIndex:    append([]int(nil), tb.RelativeChildIndex...),
		ParentCompositeIndex:  append([]int(nil), tb.ParentCompositeIndex...),
		ChildrenIndex:         make([][]int, len(tb.ChildrenIndex)),
		ChildConditionalIndex: make([][]int, len(tb.ChildConditionalIndex)),
	}
	for i, c := range tb.ChildrenIndex {
		out.ChildrenIndex[i] = append([]int(nil), c...)
	}
	for i, c := range tb.ChildConditionalIndex {
		out.ChildConditionalIndex[i] = append([]int(nil), c...)
	}
	return out
}

// Tables returns a copy of the compiled tables.
func (t *Tree) Tables() Tables {
	return t.tables.clone()
}

// EntryRootName names the synthetic decorator wrapping every tree.
const EntryRootName = "EntryRoot"

func (t *Tree) initializeForBase() error {
	if t.initialized {
		return nil
	}
	if t.parser == nil {
		return fmt.Errorf("%w: no parser", ErrCompile)
	}
	root, err := t.parser.Deserialize(t.config, AddContext{Unit: t.unit})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCompile, err)
	}
	if root == nil {
		return fmt.Errorf("%w: missing root task", ErrCompile)
	}
	entry := NewDecorator(EntryRootName, &entryRoot{}, root)
	entry.Type = EntryRootName

	c := &compiler{seen: make(map[*Task]bool)}
	if err := c.add(entry, -1, -1); err != nil {
		return fmt.Errorf("%w: %w", ErrCompile, err)
	}
	for _, task := range c.tasks {
		if init, ok := task.Behavior().(VariableInitializer); ok {
			if err := init.InitializeVariables(task); err != nil {
				return fmt.Errorf("%w: task %q: %w", ErrCompile, task.Name, err)
			}
		}
	}

	t.taskList = c.tasks
	t.tables = c.tables
	t.initialized = true
	t.log.Debug("behavior tree compiled", "unit", t.unit.ID(), "tasks", len(t.taskList))
	return nil
}

type compiler struct {
	tasks  []*Task
	tables Tables
	seen   map[*Task]bool
}

// add assigns ids depth first so a task's id equals its position in tasks.
func (c *compiler) add(task *Task, parent, parentComposite int) error {
	if task == nil {
		return errors.New("nil task")
	}
	if c.seen[task] {
		return fmt.Errorf("task %q appears more than once", task.Name)
	}
	c.seen[task] = true
	if task.kind == KindDecorator && len(task.children) != 1 {
		return fmt.Errorf("decorator %q must have exactly one child", task.Name)
	}

	id := len(c.tasks)
	task.id = id
	c.tasks = append(c.tasks, task)
	c.tables.ParentIndex = append(c.tables.ParentIndex, parent)
	c.tables.ChildrenIndex = append(c.tables.ChildrenIndex, nil)
	c.tables.RelativeChildIndex = append(c.tables.RelativeChildIndex, 0)
	c.tables.ParentCompositeIndex = append(c.tables.ParentCompositeIndex, parentComposite)
	c.tables.ChildConditionalIndex = append(c.tables.ChildConditionalIndex, nil)

	if parent != -1 {
		c.tables.RelativeChildIndex[id] = len(c.tables.ChildrenIndex[parent])
		c.tables.ChildrenIndex[parent] = append(c.tables.ChildrenIndex[parent], id)
	}
	if task.kind == KindConditional && parentComposite != -1 {
		c.tables.ChildConditionalIndex[parentComposite] = append(c.tables.ChildConditionalIndex[parentComposite], id)
	}

	next := parentComposite
	if task.kind == KindComposite {
		next = id
	}
	for _, child := range task.children {
		if child == nil {
			return fmt.Errorf("%s %q has a nil child", task.kind, task.Name)
		}
		if err := c.add(child, id, next); err != nil {
			return err
		}
	}
	return nil
}

// entryRoot runs the user's root once per run and reports its result.
type entryRoot struct {
	done bool
}

func (e *entryRoot) OnAwake(*Task, *Tree) { e.done = false }

func (e *entryRoot) OnEnd(*Task, *Tree) { e.done = false }

func (e *entryRoot) CanExecute(*Task, *Tree) bool { return !e.done }

func (e *entryRoot) CurrentChildIndex(*Task, *Tree) int { return 0 }

func (e *entryRoot) OnChildStarted(int, *Task, *Tree) {}

func (e *entryRoot) OnChildExecuted(int, Status, *Task, *Tree) { e.done = true }

func (e *entryRoot) OnConditionalAbort(int, *Task, *Tree) { e.done = false }
