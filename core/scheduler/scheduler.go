package scheduler

import (
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/seta/core/monitoring"
)

// Cancel stops a scheduled task. It reports whether the task was still
// pending.
type Cancel func() bool

// Scheduler executes functions after a delay.
type Scheduler interface {
	After(d time.Duration, fn func()) Cancel
}

// TimerScheduler schedules tasks on runtime timers.
type TimerScheduler struct {
	mu      sync.Mutex
	wg      sync.WaitGroup
	pending map[uint64]*time.Timer
	next    uint64
	stopped bool
}

// NewTimerScheduler returns a ready TimerScheduler.
func NewTimerScheduler() *TimerScheduler {
	return &TimerScheduler{pending: make(map[uint64]*time.Timer)}
}

// After runs fn once d has elapsed. Tasks scheduled after Stop are ignored.
func (s *TimerScheduler) After(d time.Duration, fn func()) Cancel {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return func() bool { return false }
	}
	id := s.next
	s.next++
	s.wg.Add(1)
	s.pending[id] = time.AfterFunc(d, func() {
		defer s.wg.Done()
		s.mu.Lock()
		_, ok := s.pending[id]
		delete(s.pending, id)
		s.mu.Unlock()
		if !ok {
			return
		}
		defer monitoring.Recover()
		fn()
	})
	return func() bool { return s.cancel(id) }
}

func (s *TimerScheduler) cancel(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.pending[id]
	if !ok {
		return false
	}
	delete(s.pending, id)
	if t.Stop() {
		s.wg.Done()
		return true
	}
	return false
}

// Pending returns the number of tasks not yet started.
func (s *TimerScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Stop cancels every pending task and waits for running ones to return.
func (s *TimerScheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for id, t := range s.pending {
		delete(s.pending, id)
		if t.Stop() {
			s.wg.Done()
		}
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Manual is a Scheduler driven by Advance. It is meant for tests that need
// deterministic control over delayed work.
type Manual struct {
	mu    sync.Mutex
	now   time.Duration
	seq   uint64
	tasks []*manualTask
}

type manualTask struct {
	at   time.Duration
	seq  uint64
	fn   func()
	done bool
}

// NewManual returns a Manual scheduler at time zero.
func NewManual() *Manual { return &Manual{} }

// After queues fn to run when the clock passes d from now.
func (m *Manual) After(d time.Duration, fn func()) Cancel {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTask{at: m.now + d, seq: m.seq, fn: fn}
	m.seq++
	m.tasks = append(m.tasks, t)
	return func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		if t.done {
			return false
		}
		t.done = true
		return true
	}
}

// Advance moves the clock forward and runs every due task in order. Tasks
// scheduled by a running task are run too when they fall due.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now + d
	m.mu.Unlock()
	for {
		next := m.pop(target)
		if next == nil {
			return
		}
		next.fn()
	}
}

func (m *Manual) pop(target time.Duration) *manualTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	sort.SliceStable(m.tasks, func(i, j int) bool {
		if m.tasks[i].at != m.tasks[j].at {
			return m.tasks[i].at < m.tasks[j].at
		}
		return m.tasks[i].seq < m.tasks[j].seq
	})
	for len(m.tasks) > 0 && m.tasks[0].done {
		m.tasks = m.tasks[1:]
	}
	if len(m.tasks) == 0 || m.tasks[0].at > target {
		m.now = target
		return nil
	}
	t := m.tasks[0]
	m.tasks = m.tasks[1:]
	t.done = true
	if t.at > m.now {
		m.now = t.at
	}
	return t
}

// Pending returns the number of tasks waiting to run.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tasks {
		if !t.done {
			n++
		}
	}
	return n
}
