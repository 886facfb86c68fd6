package behavior

// pushTask makes task the top of the stack and starts it. Pushing the task
// that is already on top does nothing.
func (t *Tree) pushTask(taskIndex, stackIndex int) {
	if !t.running || stackIndex >= len(t.stacks) {
		return
	}
	stack := t.stacks[stackIndex]
	if top, ok := stack.Top(); ok && top == taskIndex {
		return
	}
	stack.tasks = append(stack.tasks, taskIndex)
	stack.nonInstant = StatusRunning

	t.nextExecutionID++
	t.runtime[taskIndex] = TaskRuntime{
		StartTime:   t.now(),
		ExecutionID: t.nextExecutionID,
		StackID:     stack.ID,
		Active:      true,
		LastStatus:  StatusRunning,
	}

	task := t.taskList[taskIndex]
	e := t.taskEvent(taskIndex, stack, StatusRunning)
	t.events.PreOnStart(e)
	if task.parallel() {
		if _, ok := t.parallelChildren[taskIndex]; !ok {
			t.parallelChildren[taskIndex] = nil
		}
		t.scopeParallelReevaluations(taskIndex)
		t.events.ParallelPreOnStart(e)
	}

	task.drainSync()
	task.start(t)
	if task.syncing() {
		e.Data = task.drainSync()
		t.keepSync(taskIndex, e.Data)
		t.events.ActionPostOnStart(e)
	}
}

// runTask runs one step of the task on the given stack and returns the status
// its parent should see.
func (t *Tree) runTask(taskIndex, stackIndex int, previous Status) Status {
	if stackIndex >= len(t.stacks) {
		return previous
	}
	task := t.taskList[taskIndex]
	if task.Disabled {
		return t.runDisabled(taskIndex, stackIndex)
	}

	stack := t.stacks[stackIndex]
	if !task.Instant && stack.nonInstant.Terminal() {
		if top, ok := stack.Top(); ok && top == taskIndex {
			return t.popTask(taskIndex, stackIndex, stack.nonInstant, true)
		}
	}

	t.pushTask(taskIndex, stackIndex)
	if !t.running {
		return previous
	}

	var status Status
	if task.kind.IsParent() {
		status = t.runParentTask(taskIndex, stackIndex, previous)
		status = task.overrideStatus(status, t)
	} else {
		status = task.update(t)
	}
	if !t.running || stackIndex >= len(t.stacks) || t.stacks[stackIndex] != stack {
		return status
	}

	e := t.taskEvent(taskIndex, stack, status)
	t.events.PostOnUpdate(e)
	if task.syncing() {
		e.Data = task.drainSync()
		t.keepSync(taskIndex, e.Data)
		t.events.ActionPostOnUpdate(e)
	}

	if status != StatusRunning {
		if task.Instant {
			status = t.popTask(taskIndex, stackIndex, status, true)
		} else {
			stack.nonInstant = status
			status = StatusRunning
		}
	}
	return status
}

// runDisabled skips a disabled task: it never starts, its parent hears
// StatusInactive and the scheduler carries on as if it succeeded.
func (t *Tree) runDisabled(taskIndex, stackIndex int) Status {
	if parent := t.tables.ParentIndex[taskIndex]; parent != -1 {
		p := t.taskList[parent]
		p.parent.OnChildExecuted(t.tables.RelativeChildIndex[taskIndex], StatusInactive, p, t)
	}
	stack := t.stacks[stackIndex]
	if stack.Len() == 0 {
		if stackIndex == 0 {
			t.removeStack(0)
			t.running = false
			t.log.Warn("behavior tree stopped on empty primal stack", "unit", t.unit.ID())
		} else {
			t.removeStack(stackIndex)
		}
	}
	return StatusSuccess
}

// runParentTask feeds children to a composite or decorator until it stops
// accepting them. Sequential parents run one live child at a time on their
// own stack; parallel parents get a new stack per child.
func (t *Tree) runParentTask(taskIndex, stackIndex int, previous Status) Status {
	task := t.taskList[taskIndex]
	parallel := task.parallel()
	children := t.tables.ChildrenIndex[taskIndex]

	status := previous
	childStatus := StatusInactive
	lastChild := -1
	for t.running && task.parent.CanExecute(task, t) && (childStatus != StatusRunning || parallel) {
		childIndex := task.parent.CurrentChildIndex(task, t)
		if childIndex < 0 || childIndex >= len(children) {
			break
		}
		if !parallel && childIndex == lastChild {
			// A repeating parent gets one pass per tick.
			status = StatusRunning
			break
		}
		lastChild = childIndex

		runOn := stackIndex
		if parallel {
			runOn = t.addChildStack(taskIndex, stackIndex)
		}
		task.parent.OnChildStarted(childIndex, task, t)
		status = t.runTask(children[childIndex], runOn, status)
		childStatus = status
	}
	return status
}

// popTask ends the task if it is the top of the stack, notifies its parent and
// returns the status as decorated by the parent. A stack left empty is retired;
// the primal stack emptying completes the tree.
func (t *Tree) popTask(taskIndex, stackIndex int, status Status, popChildren bool) Status {
	if !t.running || stackIndex >= len(t.stacks) {
		return status
	}
	stack := t.stacks[stackIndex]
	if top, ok := stack.Top(); !ok || top != taskIndex {
		return status
	}
	task := t.taskList[taskIndex]
	if popChildren && task.parallel() {
		t.popChildStacks(taskIndex, stackIndex)
	}

	stack.tasks = stack.tasks[:len(stack.tasks)-1]
	stack.nonInstant = StatusInactive
	task.end(t)
	t.runtime[taskIndex].Active = false
	t.runtime[taskIndex].LastStatus = status

	e := t.taskEvent(taskIndex, stack, status)
	t.events.PostOnEnd(e)
	if task.parallel() {
		t.events.ParallelPostOnEnd(e)
	}
	if task.syncing() {
		e.Data = task.drainSync()
		t.keepSync(taskIndex, e.Data)
		t.events.ActionPostOnEnd(e)
	}

	if parent := t.tables.ParentIndex[taskIndex]; parent != -1 {
		if task.kind == KindConditional {
			t.trackConditional(taskIndex, status)
		}
		p := t.taskList[parent]
		p.parent.OnChildExecuted(t.tables.RelativeChildIndex[taskIndex], status, p, t)
		if !p.parallel() {
			status = p.decorate(status, t)
		}
	}
	if task.kind == KindComposite {
		t.releaseReevaluations(taskIndex, stack.Len() == 0)
	}

	if stack.Len() == 0 && stackIndex < len(t.stacks) && t.stacks[stackIndex] == stack {
		if stackIndex == 0 {
			if !t.unwinding {
				t.complete()
			}
			return StatusInactive
		}
		t.removeStack(stackIndex)
		return StatusRunning
	}
	return status
}

// popChildStacks fails every task still running under a parallel composite,
// highest stack first.
func (t *Tree) popChildStacks(parallel, stackIndex int) {
	for i := len(t.stacks) - 1; i > stackIndex; i-- {
		if i >= len(t.stacks) {
			continue
		}
		s := t.stacks[i]
		top, ok := s.Top()
		if !ok || !t.isAncestorOrSelf(parallel, top) {
			continue
		}
		for s.Len() > 0 && i < len(t.stacks) && t.stacks[i] == s {
			top, _ = s.Top()
			t.popTask(top, i, StatusFailure, false)
		}
	}
}

func (t *Tree) keepSync(taskIndex int, data [][]byte) {
	if len(data) > 0 {
		t.lastSync[taskIndex] = data
	}
}
