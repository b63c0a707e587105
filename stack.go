package tef

import "time"

const maxStackDepth = 1 << 12

type openTask struct {
	domain Domain
	name   Name
	start  time.Duration
}

// taskStack correlates Begin and End calls made by a single thread. Tasks are
// closed in strict LIFO order of their Begin calls. Pushes beyond
// maxStackDepth aren't stored, but are counted, so that the matching pops
// consume the overflow rather than closing the wrong task.
type taskStack struct {
	tasks    []openTask
	overflow int
}

// push reports whether the task was stored.
func (s *taskStack) push(t openTask) bool {
	if len(s.tasks) >= maxStackDepth {
		s.overflow++
		return false
	}
	s.tasks = append(s.tasks, t)
	return true
}

// pop returns the innermost open task. It returns false if the stack is
// empty, or if the innermost Begin overflowed.
func (s *taskStack) pop() (openTask, bool) {
	if s.overflow > 0 {
		s.overflow--
		return openTask{}, false
	}
	if len(s.tasks) == 0 {
		return openTask{}, false
	}
	t := s.tasks[len(s.tasks)-1]
	s.tasks = s.tasks[:len(s.tasks)-1]
	return t, true
}

func (s *taskStack) depth() int {
	return len(s.tasks) + s.overflow
}

// reset drops all open tasks and returns how many there were.
func (s *taskStack) reset() int {
	n := s.depth()
	s.tasks, s.overflow = s.tasks[:0], 0
	return n
}
