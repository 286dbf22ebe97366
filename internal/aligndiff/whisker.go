package aligndiff

import "math"

// Whisker sizing: boundary-movement markers drawn over the waveform
// are scaled proportionally to the delta, clamped so zero deltas stay
// invisible and outliers cannot dominate the view.
const (
	// WhiskerMinPx is the shortest visible marker.
	WhiskerMinPx = 2.0
	// WhiskerMaxPx caps marker length.
	WhiskerMaxPx = 40.0
	// whiskerPxPerMs converts boundary movement to pixels.
	whiskerPxPerMs = 0.4
)

// WhiskerPx returns the marker length in pixels for a boundary delta.
// Deltas at or below the change threshold render nothing (0).
func WhiskerPx(deltaMs float64) float64 {
	abs := math.Abs(deltaMs)
	if abs <= changeThresholdMs {
		return 0
	}
	px := abs * whiskerPxPerMs
	if px < WhiskerMinPx {
		return WhiskerMinPx
	}
	if px > WhiskerMaxPx {
		return WhiskerMaxPx
	}
	return px
}
