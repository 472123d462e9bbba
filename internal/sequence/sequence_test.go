package sequence

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoop_RunsTasksInOrder(t *testing.T) {
	l := NewLoop()

	var got []int
	for i := 0; i < 50; i++ {
		i := i
		l.PostTask(func() { got = append(got, i) })
	}
	l.Close()

	require.Len(t, got, 50)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestLoop_TaskCanPostMoreWork(t *testing.T) {
	l := NewLoop()
	done := make(chan struct{})

	count := 0
	var step func()
	step = func() {
		count++
		if count < 5 {
			l.PostTask(step)
			return
		}
		close(done)
	}
	l.PostTask(step)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reposted tasks did not finish")
	}
	l.Close()
	assert.Equal(t, 5, count)
}

func TestLoop_DelayedTaskCancel(t *testing.T) {
	l := NewLoop()
	defer l.Close()

	var mu sync.Mutex
	ran := map[string]bool{}
	fired := make(chan struct{})

	cancel := l.PostDelayedTask(10*time.Millisecond, func() {
		mu.Lock()
		ran["canceled"] = true
		mu.Unlock()
	})
	cancel()
	l.PostDelayedTask(20*time.Millisecond, func() {
		mu.Lock()
		ran["kept"] = true
		mu.Unlock()
		close(fired)
	})

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("delayed task never ran")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.True(t, ran["kept"])
	assert.False(t, ran["canceled"])
}

func TestLoop_PostAfterCloseIsDropped(t *testing.T) {
	l := NewLoop()
	l.Close()

	ran := false
	l.PostTask(func() { ran = true })
	assert.False(t, l.TryPostTask(func() { ran = true }))
	l.Close()
	assert.False(t, ran)
}

func TestManual_AdvanceRunsDueTasksInOrder(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewManual(start)

	var order []string
	m.PostDelayedTask(2*time.Second, func() { order = append(order, "b") })
	m.PostDelayedTask(1*time.Second, func() { order = append(order, "a") })
	cancel := m.PostDelayedTask(1*time.Second, func() { order = append(order, "x") })
	cancel()
	m.PostTask(func() { order = append(order, "now") })

	assert.Equal(t, 2, m.PendingDelayed())

	m.Advance(1500 * time.Millisecond)
	assert.Equal(t, []string{"now", "a"}, order)
	assert.Equal(t, start.Add(1500*time.Millisecond), m.Now())

	m.Advance(time.Second)
	assert.Equal(t, []string{"now", "a", "b"}, order)
	assert.Equal(t, 0, m.PendingDelayed())
}

func TestManual_DelayedTaskPostingDelayedTask(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	count := 0
	var tick func()
	tick = func() {
		count++
		m.PostDelayedTask(time.Second, tick)
	}
	m.PostDelayedTask(time.Second, tick)

	m.Advance(3 * time.Second)
	assert.Equal(t, 3, count)
}
