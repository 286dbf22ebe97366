package view

import (
	"context"
	"time"
)

// Animation step cadence. 12 steps at 15ms gives a ~180ms ease, short
// enough that a cancelled animation never visibly fights its successor.
const (
	animSteps    = 12
	animStepTime = 15 * time.Millisecond
)

// animator drives a fixed-step easing task. It is a cooperative,
// cancelable unit: only one animator may own the viewport at a time,
// and starting a new one cancels the previous before any writes
// interleave.
type animator struct {
	ctx  context.Context
	stop context.CancelFunc
	done chan struct{}
}

func newAnimator(parent context.Context) *animator {
	ctx, stop := context.WithCancel(parent)
	return &animator{ctx: ctx, stop: stop, done: make(chan struct{})}
}

// run invokes step with progress values ending exactly at 1.0. It
// blocks until the animation completes or is cancelled.
func (a *animator) run(step func(progress float64)) {
	defer close(a.done)
	ticker := time.NewTicker(animStepTime)
	defer ticker.Stop()

	for i := 1; i <= animSteps; i++ {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			step(float64(i) / animSteps)
		}
	}
}

func (a *animator) cancel() {
	a.stop()
}

// easeOutCubic decelerates toward the target: fast start, soft landing.
func easeOutCubic(t float64) float64 {
	u := 1 - t
	return 1 - u*u*u
}
