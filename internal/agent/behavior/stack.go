package behavior

// RunningStack is one active root-to-leaf execution path. The primal stack
// carries the main path; parallel composites add one stack per child.
type RunningStack struct {
	ID        uint64
	StartTime int64

	tasks []int
	// nonInstant caches the terminal status of a non-instant task until the
	// next tick pops it.
	nonInstant Status
}

// Top returns the id of the task currently executing on the stack.
func (s *RunningStack) Top() (int, bool) {
	if len(s.tasks) == 0 {
		return 0, false
	}
	return s.tasks[len(s.tasks)-1], true
}

func (s *RunningStack) Len() int { return len(s.tasks) }

// StackSnapshot is a copy of a stack's state.
type StackSnapshot struct {
	ID        uint64
	StartTime int64
	Tasks     []int
}

// Stacks returns the active stacks, primal stack first.
func (t *Tree) Stacks() []StackSnapshot {
	out := make([]StackSnapshot, 0, len(t.stacks))
	for _, s := range t.stacks {
		out = append(out, StackSnapshot{ID: s.ID, StartTime: s.StartTime, Tasks: append([]int(nil), s.tasks...)})
	}
	return out
}

// addStack appends a new stack and returns its index. Stack ids are never
// reused for the lifetime of the tree.
func (t *Tree) addStack() int {
	t.nextStackID++
	s := &RunningStack{ID: t.nextStackID, StartTime: t.now(), nonInstant: StatusInactive}
	t.stacks = append(t.stacks, s)
	t.events.NewStack(t.stackEvent(s))
	return len(t.stacks) - 1
}

// addChildStack creates the stack a parallel composite runs one child on.
func (t *Tree) addChildStack(parallel int, parentStack int) int {
	index := t.addStack()
	child := t.stacks[index]
	t.parallelOwner[child.ID] = parallel
	t.parallelChildren[parallel] = append(t.parallelChildren[parallel], child.ID)
	t.events.ParallelAddChildStack(ParallelStackEvent{
		Task:       t.taskEvent(parallel, t.stacks[parentStack], StatusRunning),
		ChildStack: t.stackEvent(child),
	})
	return index
}

func (t *Tree) removeStack(index int) {
	s := t.stacks[index]
	if owner, ok := t.parallelOwner[s.ID]; ok {
		t.events.ParallelRemoveChildStack(ParallelStackEvent{
			Task:       t.taskEvent(owner, t.stackByID(t.runtime[owner].StackID), t.runtime[owner].LastStatus),
			ChildStack: t.stackEvent(s),
		})
		delete(t.parallelOwner, s.ID)
		ids := t.parallelChildren[owner]
		for i, id := range ids {
			if id == s.ID {
				t.parallelChildren[owner] = append(ids[:i:i], ids[i+1:]...)
				break
			}
		}
	}
	t.events.RemoveStack(t.stackEvent(s))
	t.stacks = append(t.stacks[:index], t.stacks[index+1:]...)
}

func (t *Tree) stackByID(id uint64) *RunningStack {
	for _, s := range t.stacks {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// activeBranch returns the relative index of the child a sequential parent is
// currently running, if the parent sits below something on a stack.
func (t *Tree) activeBranch(parent int) (int, bool) {
	for _, s := range t.stacks {
		for i, id := range s.tasks {
			if id == parent && i+1 < len(s.tasks) {
				return t.tables.RelativeChildIndex[s.tasks[i+1]], true
			}
		}
	}
	return 0, false
}

// isAncestorOrSelf reports whether a is b or one of b's ancestors.
func (t *Tree) isAncestorOrSelf(a, b int) bool {
	for b != -1 {
		if a == b {
			return true
		}
		b = t.tables.ParentIndex[b]
	}
	return false
}

// commonAncestor returns the lowest task that is an ancestor of both a and b.
func (t *Tree) commonAncestor(a, b int) int {
	seen := make(map[int]bool)
	for i := a; i != -1; i = t.tables.ParentIndex[i] {
		seen[i] = true
	}
	for i := b; i != -1; i = t.tables.ParentIndex[i] {
		if seen[i] {
			return i
		}
	}
	return -1
}

// branchIndex returns the relative index of ancestor's child on the path to
// descendant.
func (t *Tree) branchIndex(ancestor, descendant int) int {
	for i := descendant; i != -1; i = t.tables.ParentIndex[i] {
		if t.tables.ParentIndex[i] == ancestor {
			return t.tables.RelativeChildIndex[i]
		}
	}
	return -1
}
