package waveform

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog"
)

// Envelope is a fixed-length sequence of normalized peak amplitudes
// in [0, 1], one per rendering bin.
type Envelope []float64

// DecodeError marks audio that could not be decoded. Callers render
// nothing instead of failing the whole view.
type DecodeError struct {
	Source string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Source, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ErrStaleResult is returned when a decode finishes after the source
// it was started for has been replaced. The result is discarded and
// never shown.
var ErrStaleResult = errors.New("waveform: stale decode result discarded")

// Extractor computes peak envelopes from encoded audio. Envelopes are
// cached per (source, bin count) and invalidated when the source
// changes. Decoding happens outside the lock, so a slow decode racing
// a source change is detected on completion and dropped.
type Extractor struct {
	dec Decoder
	log zerolog.Logger

	mu     sync.Mutex
	source string
	cache  map[int]Envelope
}

func NewExtractor(dec Decoder, log zerolog.Logger) *Extractor {
	return &Extractor{
		dec:   dec,
		log:   log.With().Str("component", "waveform").Logger(),
		cache: make(map[int]Envelope),
	}
}

// SetSource declares the current audio source. Any cached envelopes
// for a previous source are dropped, and decodes still in flight for
// it will be discarded on arrival.
func (e *Extractor) SetSource(ref string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.source == ref {
		return
	}
	e.source = ref
	e.cache = make(map[int]Envelope)
}

// Source returns the current source reference.
func (e *Extractor) Source() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.source
}

// Extract returns the peak envelope with bins entries for the given
// source. The result is cached; a repeat call for the same (source,
// bins) pair is free. If ref no longer matches the current source
// when decoding completes, the result is discarded and ErrStaleResult
// returned. A decode failure yields a *DecodeError and an empty
// envelope.
func (e *Extractor) Extract(ref string, data []byte, bins int) (Envelope, error) {
	if bins < 1 {
		return nil, fmt.Errorf("waveform: bins must be >= 1, got %d", bins)
	}

	e.mu.Lock()
	if e.source != ref {
		e.mu.Unlock()
		return nil, ErrStaleResult
	}
	if env, ok := e.cache[bins]; ok {
		e.mu.Unlock()
		return env, nil
	}
	e.mu.Unlock()

	frames, err := e.dec.Decode(data)
	if err != nil {
		return nil, &DecodeError{Source: ref, Err: err}
	}

	env := computeEnvelope(frames, bins)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.source != ref {
		e.log.Debug().Str("source", ref).Msg("discarding stale envelope")
		return nil, ErrStaleResult
	}
	e.cache[bins] = env
	return env, nil
}

// computeEnvelope mixes channels by per-sample mean, takes the peak
// absolute amplitude over contiguous windows of floor(total/bins)
// samples, and normalizes so the loudest bin is exactly 1.0. A fully
// silent source is left as zeros.
func computeEnvelope(frames [][2]float64, bins int) Envelope {
	env := make(Envelope, bins)
	if len(frames) == 0 {
		return env
	}

	win := len(frames) / bins
	if win < 1 {
		win = 1
	}

	peak := 0.0
	for i := 0; i < bins; i++ {
		lo := i * win
		if lo >= len(frames) {
			break
		}
		hi := lo + win
		if hi > len(frames) {
			hi = len(frames)
		}
		binPeak := 0.0
		for _, f := range frames[lo:hi] {
			amp := math.Abs((f[0] + f[1]) / 2)
			if amp > binPeak {
				binPeak = amp
			}
		}
		env[i] = binPeak
		if binPeak > peak {
			peak = binPeak
		}
	}

	if peak > 0 {
		for i := range env {
			env[i] /= peak
		}
	}
	return env
}
