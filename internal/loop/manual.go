package loop

import (
	"sort"
	"sync"
	"time"
)

// Manual is a deterministic Scheduler driven by a virtual clock. Posted
// closures run on Drain; timers run on Advance, in deadline order.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	queue  []func()
	timers []*manualTimer
	seq    int
}

func NewManual() *Manual {
	return &Manual{now: time.Unix(0, 0).UTC()}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Post(fn func()) {
	m.mu.Lock()
	m.queue = append(m.queue, fn)
	m.mu.Unlock()
}

func (m *Manual) AfterFunc(d time.Duration, fn func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTimer{owner: m, at: m.now.Add(d), fn: fn, seq: m.seq}
	m.seq++
	m.timers = append(m.timers, t)
	return t
}

// Drain runs posted closures, including ones posted while draining.
func (m *Manual) Drain() {
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			return
		}
		fn := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()
		fn()
	}
}

// Advance moves the clock forward by d, firing every timer that comes due.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.Drain()
		next := m.nextDue(target)
		if next == nil {
			break
		}
		m.mu.Lock()
		m.now = next.at
		next.fired = true
		m.mu.Unlock()
		next.fn()
	}

	m.mu.Lock()
	m.now = target
	m.mu.Unlock()
	m.Drain()
}

// Pending returns the number of timers that have neither fired nor been stopped.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.timers {
		if t.active() {
			n++
		}
	}
	return n
}

func (m *Manual) nextDue(target time.Time) *manualTimer {
	m.mu.Lock()
	defer m.mu.Unlock()

	live := m.timers[:0]
	for _, t := range m.timers {
		if t.active() {
			live = append(live, t)
		}
	}
	m.timers = live

	sort.SliceStable(m.timers, func(i, j int) bool {
		if m.timers[i].at.Equal(m.timers[j].at) {
			return m.timers[i].seq < m.timers[j].seq
		}
		return m.timers[i].at.Before(m.timers[j].at)
	})
	if len(m.timers) == 0 || m.timers[0].at.After(target) {
		return nil
	}
	return m.timers[0]
}

type manualTimer struct {
	owner   *Manual
	at      time.Time
	fn      func()
	seq     int
	stopped bool
	fired   bool
}

func (t *manualTimer) active() bool {
	return !t.stopped && !t.fired
}

func (t *manualTimer) Stop() bool {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	if !t.active() {
		return false
	}
	t.stopped = true
	return true
}
