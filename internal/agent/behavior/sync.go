package behavior

// RebuildSync reports the current execution state to c: every stack, every
// running sync action with the last payload it forwarded, and every running
// parallel composite with its child stacks. Clients joining mid-run use it to
// catch up without replaying the event history.
func (t *Tree) RebuildSync(c SyncCollector) {
	if !t.running {
		return
	}
	for _, s := range t.stacks {
		se := t.stackEvent(s)
		c.Stack(se)
		for _, index := range s.tasks {
			task := t.taskList[index]
			switch {
			case task.syncing():
				e := t.taskEvent(index, s, StatusRunning)
				e.Data = t.lastSync[index]
				c.Action(e, se)
			case task.parallel():
				var children []StackEvent
				for _, id := range t.parallelChildren[index] {
					if child := t.stackByID(id); child != nil {
						children = append(children, t.stackEvent(child))
					}
				}
				c.Parallel(t.taskEvent(index, s, StatusRunning), se, children)
			}
		}
	}
}
