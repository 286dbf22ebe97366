// Package eta predicts how long an in-flight backend operation will
// take from historical real-time factors (RTF = audio seconds
// processed per processing second, so 10 means 10x realtime), and
// drives a polled progress value for the UI.
package eta

import (
	"context"
	"sync"
	"time"
)

// Operation classes with independent RTF histories.
type Operation string

const (
	OpTranscribe  Operation = "transcribe"
	OpAlignFull   Operation = "align_full"
	OpAlignRegion Operation = "align_region"
)

// Defaults used until a stats refresh succeeds, and again whenever
// the backend has no history for an operation.
var defaultRTF = map[Operation]float64{
	OpTranscribe:  10,
	OpAlignFull:   5,
	OpAlignRegion: 5,
}

// RTFSource supplies averaged throughput per operation class. The
// backend client implements it via GetStats.
type RTFSource interface {
	AverageRTF(ctx context.Context) (map[Operation]float64, error)
}

// Estimator holds the current RTF table.
type Estimator struct {
	mu  sync.Mutex
	rtf map[Operation]float64
}

func NewEstimator() *Estimator {
	rtf := make(map[Operation]float64, len(defaultRTF))
	for op, v := range defaultRTF {
		rtf[op] = v
	}
	return &Estimator{rtf: rtf}
}

// Estimate predicts the total processing time for audioSeconds of
// input under the given operation class.
func (e *Estimator) Estimate(op Operation, audioSeconds float64) time.Duration {
	e.mu.Lock()
	rtf := e.rtf[op]
	e.mu.Unlock()
	if rtf <= 0 || audioSeconds <= 0 {
		return 0
	}
	return time.Duration(audioSeconds / rtf * float64(time.Second))
}

// EstimateRegion predicts a region alignment: the aligned window is
// the selection plus margin on both sides.
func (e *Estimator) EstimateRegion(start, end, margin float64) time.Duration {
	span := (end - start) + 2*margin
	return e.Estimate(OpAlignRegion, span)
}

// RTF returns the current factor for an operation class.
func (e *Estimator) RTF(op Operation) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rtf[op]
}

// Refresh pulls fresh averages from the source. A refresh failure is
// silently ignored: the estimator keeps its current table, which
// starts at the defaults.
func (e *Estimator) Refresh(ctx context.Context, src RTFSource) {
	fresh, err := src.AverageRTF(ctx)
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for op, v := range fresh {
		if v > 0 {
			e.rtf[op] = v
		}
	}
}
