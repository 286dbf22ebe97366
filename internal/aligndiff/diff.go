// Package aligndiff compares two versions of a word-timing sequence
// and reports how far each boundary moved. It is pure: no I/O, no
// state, safe to call on every alignment response.
package aligndiff

import (
	"fmt"
	"math"
	"sort"

	"github.com/redub/redub-engine/internal/transcript"
)

// Boundary names which timestamp of a word moved.
type Boundary string

const (
	BoundaryStart Boundary = "start"
	BoundaryEnd   Boundary = "end"
)

// changeThresholdMs is the minimum boundary movement that counts as a
// change. Sub-millisecond jitter from float round-trips is noise.
const changeThresholdMs = 1.0

// maxOffenders caps the top-offender list.
const maxOffenders = 10

// Offender is one boundary movement, largest first in Diff.TopOffenders.
type Offender struct {
	WordIndex int      `json:"word_index"`
	Boundary  Boundary `json:"boundary"`
	DeltaMs   float64  `json:"delta_ms"`
	Text      string   `json:"text"`
	WhiskerPx float64  `json:"whisker_px"`
}

// Diff aggregates the boundary movements between two timing arrays.
type Diff struct {
	ComparedCount int        `json:"compared_count"`
	ChangedCount  int        `json:"changed_count"`
	MeanAbsMs     float64    `json:"mean_abs_ms"`
	MedianAbsMs   float64    `json:"median_abs_ms"`
	P95AbsMs      float64    `json:"p95_abs_ms"`
	MaxAbsMs      float64    `json:"max_abs_ms"`
	TopOffenders  []Offender `json:"top_offenders"`
}

// Compare diffs two word sequences by index position over
// min(len(before), len(after)). A boundary counts as changed when it
// moved by more than 1ms; deltas are (after - before) in ms. Offender
// text comes from the after sequence.
func Compare(before, after []transcript.Word) Diff {
	n := len(before)
	if len(after) < n {
		n = len(after)
	}

	d := Diff{ComparedCount: n}
	var offenders []Offender
	var pooled []float64

	for i := 0; i < n; i++ {
		changed := false
		for _, b := range []struct {
			boundary Boundary
			deltaMs  float64
		}{
			{BoundaryStart, (after[i].Start - before[i].Start) * 1000},
			{BoundaryEnd, (after[i].End - before[i].End) * 1000},
		} {
			if math.Abs(b.deltaMs) <= changeThresholdMs {
				continue
			}
			changed = true
			pooled = append(pooled, math.Abs(b.deltaMs))
			offenders = append(offenders, Offender{
				WordIndex: i,
				Boundary:  b.boundary,
				DeltaMs:   b.deltaMs,
				Text:      after[i].Text,
				WhiskerPx: WhiskerPx(b.deltaMs),
			})
		}
		if changed {
			d.ChangedCount++
		}
	}

	if len(pooled) > 0 {
		d.MeanAbsMs = mean(pooled)
		d.MedianAbsMs = median(pooled)
		d.P95AbsMs = percentile(pooled, 0.95)
		d.MaxAbsMs = maxOf(pooled)
	}

	sort.SliceStable(offenders, func(i, j int) bool {
		return math.Abs(offenders[i].DeltaMs) > math.Abs(offenders[j].DeltaMs)
	})
	if len(offenders) > maxOffenders {
		offenders = offenders[:maxOffenders]
	}
	d.TopOffenders = offenders
	return d
}

// Summary renders the one-line human description shown after an
// alignment pass.
func (d Diff) Summary() string {
	if d.ChangedCount == 0 {
		return fmt.Sprintf("No word boundaries moved (%d compared)", d.ComparedCount)
	}
	return fmt.Sprintf("Adjusted %d of %d word boundaries; typical adjustment ~%.0f ms",
		d.ChangedCount, d.ComparedCount, d.MedianAbsMs)
}

func mean(xs []float64) float64 {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func median(xs []float64) float64 {
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

// percentile uses the nearest-rank method.
func percentile(xs []float64, p float64) float64 {
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	rank := int(math.Ceil(p*float64(len(s)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(s) {
		rank = len(s) - 1
	}
	return s[rank]
}

func maxOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	return m
}
