package eta

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultPollInterval is how often a Tracker reports progress.
const DefaultPollInterval = 250 * time.Millisecond

// Tracker drives a progress value for one in-flight operation:
// progress = clamp(elapsed / estimated total, 0, 1), emitted on a
// fixed poll interval. Stop must be called on both the success and
// the error path; it emits nothing further, so progress never
// lingers past completion.
type Tracker struct {
	total    time.Duration
	interval time.Duration
	onTick   func(progress float64)

	started time.Time
	running atomic.Bool

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewTracker builds a tracker for an operation estimated to take
// total. onTick receives clamped progress values from a background
// loop until Stop.
func NewTracker(total, interval time.Duration, onTick func(progress float64)) *Tracker {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Tracker{
		total:    total,
		interval: interval,
		onTick:   onTick,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins emitting progress.
func (t *Tracker) Start() {
	if !t.running.CompareAndSwap(false, true) {
		return
	}
	t.started = time.Now()
	go t.loop()
}

func (t *Tracker) loop() {
	defer close(t.done)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.onTick(t.Progress())
		}
	}
}

// Progress returns the current clamped progress.
func (t *Tracker) Progress() float64 {
	if t.total <= 0 {
		return 1
	}
	p := float64(time.Since(t.started)) / float64(t.total)
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// Stop halts progress emission and waits for the loop to exit, so no
// tick can arrive after the real response has been handled. Safe to
// call more than once.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
	if t.running.Load() {
		<-t.done
	}
}
