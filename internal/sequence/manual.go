package sequence

import (
	"sort"
	"time"
)

// Manual is a deterministic Sequence for tests. Nothing runs until the test
// calls RunUntilIdle or Advance, and delayed tasks follow a virtual clock.
type Manual struct {
	now     time.Time
	queue   []func()
	delayed []*delayedTask
	nextSeq int
}

type delayedTask struct {
	due      time.Time
	seq      int
	task     func()
	canceled bool
}

// NewManual returns a Manual whose virtual clock starts at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the virtual time.
func (m *Manual) Now() time.Time { return m.now }

// PostTask implements Sequence.
func (m *Manual) PostTask(task func()) {
	m.queue = append(m.queue, task)
}

// PostDelayedTask implements Sequence.
func (m *Manual) PostDelayedTask(delay time.Duration, task func()) func() {
	d := &delayedTask{due: m.now.Add(delay), seq: m.nextSeq, task: task}
	m.nextSeq++
	m.delayed = append(m.delayed, d)
	return func() { d.canceled = true }
}

// RunUntilIdle runs immediate tasks, including ones they post, until the
// queue is empty. The clock does not move.
func (m *Manual) RunUntilIdle() {
	for len(m.queue) > 0 {
		task := m.queue[0]
		m.queue = m.queue[1:]
		task()
	}
}

// Advance moves the clock forward by d, running every delayed task that
// becomes due in due-time order, then drains immediate work.
func (m *Manual) Advance(d time.Duration) {
	target := m.now.Add(d)
	for {
		m.RunUntilIdle()
		next := m.nextDue(target)
		if next == nil {
			break
		}
		m.now = next.due
		next.canceled = true
		next.task()
	}
	m.now = target
	m.RunUntilIdle()
}

// PendingImmediate is the number of queued immediate tasks.
func (m *Manual) PendingImmediate() int { return len(m.queue) }

// PendingDelayed is the number of delayed tasks not yet run or canceled.
func (m *Manual) PendingDelayed() int {
	n := 0
	for _, d := range m.delayed {
		if !d.canceled {
			n++
		}
	}
	return n
}

func (m *Manual) nextDue(limit time.Time) *delayedTask {
	live := m.delayed[:0]
	for _, d := range m.delayed {
		if !d.canceled {
			live = append(live, d)
		}
	}
	m.delayed = live
	sort.SliceStable(m.delayed, func(i, j int) bool {
		if m.delayed[i].due.Equal(m.delayed[j].due) {
			return m.delayed[i].seq < m.delayed[j].seq
		}
		return m.delayed[i].due.Before(m.delayed[j].due)
	})
	if len(m.delayed) == 0 || m.delayed[0].due.After(limit) {
		return nil
	}
	return m.delayed[0]
}
