package view

import (
	"context"
	"sync"
)

// DefaultMaxZoom bounds how far the waveform can be magnified.
const DefaultMaxZoom = 100.0

// Viewport owns zoom/pan state for the waveform and converts between
// time and pixel coordinates. Invariants held after every mutation:
// zoom >= 1 and viewStart in [0, duration - viewDuration].
type Viewport struct {
	mu       sync.Mutex
	duration float64
	zoom     float64
	start    float64
	maxZoom  float64

	anim *animator
}

func NewViewport(duration float64) *Viewport {
	v := &Viewport{
		duration: duration,
		zoom:     1,
		maxZoom:  DefaultMaxZoom,
	}
	return v
}

// SetDuration resets the viewport for a new source, snapping back to
// the full view.
func (v *Viewport) SetDuration(duration float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cancelAnimLocked()
	v.duration = duration
	v.zoom = 1
	v.start = 0
}

// State is a snapshot of the viewport fields.
type State struct {
	ZoomFactor       float64 `json:"zoom_factor"`
	ViewStartSeconds float64 `json:"view_start_seconds"`
	ViewDuration     float64 `json:"view_duration_seconds"`
	TotalDuration    float64 `json:"total_duration_seconds"`
}

func (v *Viewport) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return State{
		ZoomFactor:       v.zoom,
		ViewStartSeconds: v.start,
		ViewDuration:     v.viewDurationLocked(),
		TotalDuration:    v.duration,
	}
}

func (v *Viewport) viewDurationLocked() float64 {
	if v.zoom <= 0 {
		return v.duration
	}
	return v.duration / v.zoom
}

// TimeToPixel maps a timestamp to an x coordinate within a canvas of
// widthPx pixels, clamped to [0, widthPx].
func (v *Viewport) TimeToPixel(t float64, widthPx float64) float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	vd := v.viewDurationLocked()
	if vd <= 0 || widthPx <= 0 {
		return 0
	}
	px := (t - v.start) / vd * widthPx
	return clamp(px, 0, widthPx)
}

// PixelToTime maps an x coordinate back to a timestamp, clamped to
// the visible window.
func (v *Viewport) PixelToTime(px float64, widthPx float64) float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	vd := v.viewDurationLocked()
	if widthPx <= 0 {
		return v.start
	}
	t := v.start + clamp(px, 0, widthPx)/widthPx*vd
	return clamp(t, v.start, v.start+vd)
}

// SetZoomAnchored zooms to newZoom keeping anchorSeconds centered in
// the view, clamped so the window stays inside the source.
func (v *Viewport) SetZoomAnchored(newZoom, anchorSeconds float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cancelAnimLocked()
	v.applyZoomAnchoredLocked(newZoom, anchorSeconds)
}

func (v *Viewport) applyZoomAnchoredLocked(newZoom, anchorSeconds float64) {
	v.zoom = clamp(newZoom, 1, v.maxZoom)
	vd := v.viewDurationLocked()
	v.start = clamp(anchorSeconds-vd/2, 0, max0(v.duration-vd))
}

// ZoomToRange fits [start, end] into the view, padded by padFactor of
// the range per side. The resulting zoom is clamped to [1, maxZoom].
func (v *Viewport) ZoomToRange(start, end, padFactor float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cancelAnimLocked()

	if end < start {
		start, end = end, start
	}
	pad := (end - start) * padFactor
	lo := clamp(start-pad, 0, v.duration)
	hi := clamp(end+pad, 0, v.duration)
	span := hi - lo
	if span <= 0 || v.duration <= 0 {
		return
	}

	v.zoom = clamp(v.duration/span, 1, v.maxZoom)
	vd := v.viewDurationLocked()
	center := (lo + hi) / 2
	v.start = clamp(center-vd/2, 0, max0(v.duration-vd))
}

// Pan shifts the view window by deltaSeconds, clamped.
func (v *Viewport) Pan(deltaSeconds float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cancelAnimLocked()
	vd := v.viewDurationLocked()
	v.start = clamp(v.start+deltaSeconds, 0, max0(v.duration-vd))
}

// AnimateZoomAnchored eases the viewport toward the anchored zoom
// target over a short fixed-step interpolation. A new animation
// cancels any in-flight one; the final frame lands exactly on the
// target. onFrame, if non-nil, is invoked after each step.
func (v *Viewport) AnimateZoomAnchored(ctx context.Context, newZoom, anchorSeconds float64, onFrame func(State)) {
	v.mu.Lock()
	v.cancelAnimLocked()

	// Compute the exact end state once so easing drift cannot move it.
	fromZoom, fromStart := v.zoom, v.start
	v.applyZoomAnchoredLocked(newZoom, anchorSeconds)
	toZoom, toStart := v.zoom, v.start
	v.zoom, v.start = fromZoom, fromStart

	a := newAnimator(ctx)
	v.anim = a
	v.mu.Unlock()

	a.run(func(progress float64) {
		v.mu.Lock()
		if v.anim != a {
			// Superseded mid-flight; leave state to the new owner.
			v.mu.Unlock()
			return
		}
		if progress >= 1 {
			v.zoom, v.start = toZoom, toStart
		} else {
			e := easeOutCubic(progress)
			v.zoom = fromZoom + (toZoom-fromZoom)*e
			v.start = fromStart + (toStart-fromStart)*e
		}
		st := State{
			ZoomFactor:       v.zoom,
			ViewStartSeconds: v.start,
			ViewDuration:     v.viewDurationLocked(),
			TotalDuration:    v.duration,
		}
		v.mu.Unlock()
		if onFrame != nil {
			onFrame(st)
		}
	})
}

// CancelAnimation stops any in-flight easing, leaving the viewport at
// the last applied frame.
func (v *Viewport) CancelAnimation() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cancelAnimLocked()
}

func (v *Viewport) cancelAnimLocked() {
	if v.anim != nil {
		v.anim.cancel()
		v.anim = nil
	}
}

// Restore applies persisted view settings, clamped into validity.
func (v *Viewport) Restore(s Settings) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cancelAnimLocked()
	v.zoom = clamp(s.ZoomFactor, 1, v.maxZoom)
	vd := v.viewDurationLocked()
	v.start = clamp(s.ViewStartSeconds, 0, max0(v.duration-vd))
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func max0(x float64) float64 {
	if x < 0 {
		return 0
	}
	return x
}
