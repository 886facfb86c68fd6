package behavior

// appliedAbort remembers which parents an abort redirected during the current
// tick so a later, overlapping abort can cancel it.
type appliedAbort struct {
	composite int
	parents   []int
}

func (t *Tree) clearReevaluations() {
	t.reevaluate = nil
	t.reevaluateMap = make(map[int]*ConditionalReevaluate)
}

func (t *Tree) removeReevaluation(e *ConditionalReevaluate) {
	delete(t.reevaluateMap, e.Index)
	for i, x := range t.reevaluate {
		if x == e {
			t.reevaluate = append(t.reevaluate[:i], t.reevaluate[i+1:]...)
			return
		}
	}
}

// trackConditional records the status a conditional just finished with if its
// nearest composite can abort. LowerPriority composites do not track at
// subtree scope; their conditionals are checked per child instead.
func (t *Tree) trackConditional(index int, status Status) {
	c := t.tables.ParentCompositeIndex[index]
	if c == -1 {
		return
	}
	abort := t.taskList[c].abort
	if abort == AbortNone {
		return
	}
	governing := c
	if abort == AbortLowerPriority {
		governing = -1
	}
	if e, ok := t.reevaluateMap[index]; ok {
		e.Status = status
		e.CompositeIndex = governing
		return
	}
	e := &ConditionalReevaluate{Index: index, Status: status, CompositeIndex: governing}
	t.reevaluate = append(t.reevaluate, e)
	t.reevaluateMap[index] = e
}

// releaseReevaluations handles a composite finishing. Entries below it lose
// their scope, except that LowerPriority and Both composites hand their
// conditionals to the enclosing composite so they can interrupt the
// composite's lower priority siblings.
func (t *Tree) releaseReevaluations(composite int, stackEmpty bool) {
	abort := t.taskList[composite].abort
	outer := t.tables.ParentCompositeIndex[composite]
	bubble := (abort == AbortLowerPriority || abort == AbortBoth) &&
		!stackEmpty && outer != -1 && !t.taskList[outer].parallel()

	for _, e := range append([]*ConditionalReevaluate(nil), t.reevaluate...) {
		if !t.isAncestorOrSelf(composite, e.Index) {
			continue
		}
		if bubble && (t.tables.ParentCompositeIndex[e.Index] == composite || e.CompositeIndex == composite) {
			e.CompositeIndex = outer
			continue
		}
		t.removeReevaluation(e)
	}
}

// scopeParallelReevaluations confines entries below a newly started parallel
// composite to it, so an abort never unwinds sibling branches outside it.
func (t *Tree) scopeParallelReevaluations(parallel int) {
	abort := t.taskList[parallel].abort
	if abort == AbortNone {
		return
	}
	for _, e := range t.reevaluate {
		if e.Index == parallel || !t.isAncestorOrSelf(parallel, e.Index) {
			continue
		}
		if abort == AbortLowerPriority {
			e.CompositeIndex = -1
		} else {
			e.CompositeIndex = parallel
		}
	}
}

// governing returns the composite whose subtree an entry may unwind this tick.
func (t *Tree) governing(e *ConditionalReevaluate) (int, bool) {
	if t.runtime[e.Index].Active {
		return 0, false
	}
	if e.CompositeIndex != -1 {
		return e.CompositeIndex, t.runtime[e.CompositeIndex].Active
	}
	c := t.tables.ParentCompositeIndex[e.Index]
	if c == -1 || t.taskList[c].abort != AbortLowerPriority || t.taskList[c].parallel() || !t.runtime[c].Active {
		return 0, false
	}
	running, ok := t.activeBranch(c)
	if !ok || running <= t.branchIndex(c, e.Index) {
		return 0, false
	}
	return c, true
}

// reevaluateConditionalTasks re-runs tracked conditionals, most recently
// registered first, and aborts the running subtree of any whose result flipped.
func (t *Tree) reevaluateConditionalTasks() {
	pending := append([]*ConditionalReevaluate(nil), t.reevaluate...)
	for i := len(pending) - 1; i >= 0; i-- {
		e := pending[i]
		if !t.running || t.reevaluateMap[e.Index] != e {
			continue
		}
		composite, ok := t.governing(e)
		if !ok {
			continue
		}
		status := t.taskList[e.Index].update(t)
		if status == e.Status {
			continue
		}
		t.log.Debug("conditional abort",
			"unit", t.unit.ID(),
			"conditional", t.taskList[e.Index].Name,
			"composite", t.taskList[composite].Name,
			"was", e.Status,
			"now", status)
		t.conditionalAbort(e, composite)
	}
}

func (t *Tree) conditionalAbort(e *ConditionalReevaluate, composite int) {
	cond := e.Index

	// Unwind every stack running below the governing composite down to where
	// it meets the conditional's branch.
	for j := len(t.stacks) - 1; j >= 0; j-- {
		if j >= len(t.stacks) {
			continue
		}
		stack := t.stacks[j]
		top, ok := stack.Top()
		if !ok {
			continue
		}
		lca := t.commonAncestor(cond, top)
		if lca == -1 || !t.isAncestorOrSelf(composite, lca) {
			continue
		}
		count := len(t.stacks)
		for ok && top != lca && len(t.stacks) == count && t.stacks[j] == stack {
			t.popTask(top, j, StatusFailure, true)
			top, ok = stack.Top()
		}
	}

	for _, other := range append([]*ConditionalReevaluate(nil), t.reevaluate...) {
		if other != e && t.isAncestorOrSelf(composite, other.Index) {
			t.removeReevaluation(other)
		}
	}

	var parents []int
	for p := t.tables.ParentIndex[cond]; p != -1; p = t.tables.ParentIndex[p] {
		parents = append(parents, p)
		if p == composite {
			break
		}
	}

	kept := t.applied[:0]
	for _, a := range t.applied {
		if !t.isAncestorOrSelf(composite, a.composite) && !t.isAncestorOrSelf(a.composite, composite) {
			kept = append(kept, a)
			continue
		}
		for _, p := range a.parents {
			if !containsInt(parents, p) {
				t.taskList[p].cancelConditionalAbort(t)
			}
		}
	}
	t.applied = kept

	t.removeReevaluation(e)

	below := cond
	for _, p := range parents {
		t.taskList[p].conditionalAbort(t.tables.RelativeChildIndex[below], t)
		below = p
	}
	t.applied = append(t.applied, appliedAbort{composite: composite, parents: parents})
}

func containsInt(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
