// Package pipeline orchestrates the Transcribe→Align→Replace→Apply job
// state machine for one edit session. It owns the word timings: every
// backend response replaces them wholesale, and the selection model is
// clamped or cleared in the same step.
package pipeline

import (
	"context"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/redub/redub-engine/internal/aligndiff"
	"github.com/redub/redub-engine/internal/backend"
	"github.com/redub/redub-engine/internal/eta"
	"github.com/redub/redub-engine/internal/metrics"
	"github.com/redub/redub-engine/internal/selection"
	"github.com/redub/redub-engine/internal/transcript"
	"github.com/redub/redub-engine/internal/view"
	"github.com/redub/redub-engine/internal/waveform"
)

// State is a session's position in the edit lifecycle. A failed
// operation leaves the session at its last stable state.
type State string

const (
	StateIdle         State = "idle"
	StateImported     State = "imported"
	StateTranscribed  State = "transcribed"
	StateAligned      State = "aligned"
	StatePreviewReady State = "preview_ready"
	StateApplied      State = "applied"
)

// Backend is the slice of the synthesis service the pipeline drives.
// *backend.Client implements it.
type Backend interface {
	Transcribe(ctx context.Context, filename string, data []byte) (*backend.TranscribeResult, error)
	AlignFull(ctx context.Context, jobID string) (*backend.AlignResult, error)
	AlignRegion(ctx context.Context, jobID string, start, end, margin float64) (*backend.AlignResult, error)
	ProbeUpload(ctx context.Context, filename string, data []byte) (*backend.ProbeResult, error)
	EstimateSource(ctx context.Context, url string) (*backend.SourceEstimate, error)
	ReplacePreview(ctx context.Context, r backend.ReplaceRequest) (*backend.ReplaceResult, error)
	Apply(ctx context.Context, jobID string) (*backend.ApplyResult, error)
	Fetch(ctx context.Context, url string) ([]byte, string, error)
	AverageRTF(ctx context.Context) (map[eta.Operation]float64, error)
}

// ArtifactStore is the subset of the storage layer the pipeline needs
// to mirror rendered artifacts.
type ArtifactStore interface {
	Save(ctx context.Context, key string, data []byte, contentType string) error
	URL(ctx context.Context, key string) (string, error)
}

// SampleSink receives completed-operation throughput samples.
type SampleSink interface {
	Record(operation string, audioSeconds, processingSeconds float64)
}

// StatePublisher pushes state transitions to external listeners.
// *notify.Publisher implements it; nil is allowed.
type StatePublisher interface {
	PublishState(sessionID, state, operation, detail string)
}

type deps struct {
	backend   Backend
	store     ArtifactStore
	bus       *EventBus
	notifier  StatePublisher
	estimator *eta.Estimator
	samples   SampleSink
	settings  view.SettingsStore
	log       zerolog.Logger
}

// ReplaceParams are the caller-supplied knobs for a replacement splice.
// The time range comes from the current selection, never from the caller.
type ReplaceParams struct {
	Text       string             `json:"text"`
	MarginMs   int                `json:"margin_ms"`
	FadeMs     int                `json:"fade_ms"`
	DuckDb     *float64           `json:"duck_db,omitempty"`
	Trim       backend.TrimParams `json:"trim_params"`
	Voice      string             `json:"voice,omitempty"`
	AutoRefine bool               `json:"auto_refine,omitempty"`
}

// Session is one media file moving through the edit pipeline.
type Session struct {
	ID string

	mu       sync.Mutex
	state    State
	inFlight map[string]bool

	// generation counts imports. Operations capture it with their
	// input snapshot and discard their result if it moved, so a
	// re-import supersedes anything still in flight.
	generation uint64

	filename    string
	audio       []byte
	contentType string
	duration    float64

	jobID              string
	audioURL           string
	alignmentAvailable bool
	tr                 transcript.Transcript

	lastDiff     *aligndiff.Diff
	replaceWords []transcript.Word

	previewURL, diffURL, finalURL string
	previewKey, diffKey, finalKey string
	finalMode, finalContainer     string

	waveformOverlay bool
	whiskerOverlay  bool

	sel      *selection.Model
	viewport *view.Viewport
	peaks    *waveform.Extractor

	tracker *eta.Tracker

	d   *deps
	log zerolog.Logger
}

func newSession(id string, d *deps) *Session {
	s := &Session{
		ID:              id,
		state:           StateIdle,
		inFlight:        make(map[string]bool),
		waveformOverlay: true,
		whiskerOverlay:  true,
		sel:             selection.NewModel(),
		viewport:        view.NewViewport(0),
		peaks:           waveform.NewExtractor(waveform.NewBeepDecoder(), d.log),
		d:               d,
		log:             d.log.With().Str("session_id", id).Logger(),
	}
	return s
}

// State reports the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// begin validates ordering and marks op in flight. Callers must pair
// it with finish on every return path.
func (s *Session) begin(op string, allowed ...State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[op] {
		return ErrBusy
	}
	if len(allowed) > 0 {
		ok := false
		for _, st := range allowed {
			if s.state == st {
				ok = true
				break
			}
		}
		if !ok {
			return &StateError{Op: op, State: s.state}
		}
	}
	s.inFlight[op] = true
	return nil
}

func (s *Session) finish(op string) {
	s.mu.Lock()
	delete(s.inFlight, op)
	s.mu.Unlock()
}

func (s *Session) inFlightCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight)
}

// startProgress begins a polled ETA tracker for op. The returned stop
// function must run on both the success and failure paths.
func (s *Session) startProgress(op string, total time.Duration) func() {
	t := eta.NewTracker(total, eta.DefaultPollInterval, func(progress float64) {
		s.d.bus.Publish(EventProgress, s.ID, map[string]any{
			"operation": op,
			"progress":  progress,
		})
	})
	s.mu.Lock()
	s.tracker = t
	s.mu.Unlock()
	t.Start()

	return func() {
		t.Stop()
		s.mu.Lock()
		if s.tracker == t {
			s.tracker = nil
		}
		s.mu.Unlock()
		s.d.bus.Publish(EventProgress, s.ID, map[string]any{
			"operation": op,
			"progress":  1.0,
			"done":      true,
		})
	}
}

func (s *Session) setState(st State, op string) {
	s.state = st
	s.d.bus.Publish(EventState, s.ID, map[string]any{
		"state":     string(st),
		"operation": op,
	})
	if s.d.notifier != nil {
		s.d.notifier.PublishState(s.ID, string(st), op, "")
	}
}

// refreshRTF pulls fresh throughput averages after a completed
// operation. Failures fall back to the current table.
func (s *Session) refreshRTF() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.d.estimator.Refresh(ctx, s.d.backend)
}

// Import probes an uploaded file and resets the session around it. A
// re-import supersedes all prior pipeline state.
func (s *Session) Import(ctx context.Context, filename string, data []byte) (*backend.ProbeResult, error) {
	if len(data) == 0 {
		return nil, &ValidationError{Field: "file", Msg: "empty upload"}
	}
	if err := s.begin("import"); err != nil {
		return nil, err
	}
	defer s.finish("import")

	probe, err := s.d.backend.ProbeUpload(ctx, filename, data)
	if err != nil {
		return nil, err
	}

	ref := s.ID + "/" + filename

	s.mu.Lock()
	s.filename = filename
	s.audio = data
	s.duration = probe.Duration
	s.jobID = ""
	s.audioURL = ""
	s.alignmentAvailable = false
	s.tr = transcript.Transcript{}
	s.lastDiff = nil
	s.replaceWords = nil
	s.previewURL, s.diffURL, s.finalURL = "", "", ""
	s.previewKey, s.diffKey, s.finalKey = "", "", ""
	s.sel.SetWords(nil)
	s.viewport.SetDuration(probe.Duration)
	s.generation++
	// Any decode still running for the old audio discards its result.
	s.peaks.SetSource(ref)
	s.setState(StateImported, "import")
	s.mu.Unlock()

	s.log.Info().Str("filename", filename).Float64("duration", probe.Duration).Msg("media imported")
	return probe, nil
}

// Transcribe submits the imported audio for transcription. On success
// the words are replaced and the selection cleared in the same step.
func (s *Session) Transcribe(ctx context.Context) (*backend.TranscribeResult, error) {
	if err := s.begin("transcribe",
		StateImported, StateTranscribed, StateAligned, StatePreviewReady, StateApplied); err != nil {
		return nil, err
	}
	defer s.finish("transcribe")

	s.mu.Lock()
	filename, data, duration := s.filename, s.audio, s.duration
	gen := s.generation
	s.mu.Unlock()

	stop := s.startProgress("transcribe", s.d.estimator.Estimate(eta.OpTranscribe, duration))
	defer stop()

	start := time.Now()
	res, err := s.d.backend.Transcribe(ctx, filename, data)
	metrics.ObserveOperation("transcribe", time.Since(start), err)
	if err != nil {
		s.publishError("transcribe", err)
		return nil, err
	}

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return nil, ErrSuperseded
	}
	s.jobID = res.JobID
	s.audioURL = res.AudioURL
	s.alignmentAvailable = res.AlignmentAvailable
	s.tr = res.Transcript
	s.lastDiff = nil
	s.sel.SetWords(res.Transcript.Words)
	if res.Transcript.Duration > 0 {
		s.duration = res.Transcript.Duration
		s.viewport.SetDuration(res.Transcript.Duration)
	}
	s.setState(StateTranscribed, "transcribe")
	s.mu.Unlock()

	if s.d.samples != nil && res.Stats.Elapsed > 0 {
		s.d.samples.Record("transcribe", duration, res.Stats.Elapsed)
	}
	go s.refreshRTF()

	s.log.Info().Str("job_id", res.JobID).Int("words", len(res.Transcript.Words)).Msg("transcription complete")
	return res, nil
}

// AlignFull re-times the whole transcript with forced alignment and
// reports how far the boundaries moved.
func (s *Session) AlignFull(ctx context.Context) (*aligndiff.Diff, error) {
	if err := s.begin("align",
		StateTranscribed, StateAligned, StatePreviewReady, StateApplied); err != nil {
		return nil, err
	}
	defer s.finish("align")

	s.mu.Lock()
	jobID, duration := s.jobID, s.duration
	gen := s.generation
	s.mu.Unlock()

	stop := s.startProgress("align_full", s.d.estimator.Estimate(eta.OpAlignFull, duration))
	defer stop()

	start := time.Now()
	res, err := s.d.backend.AlignFull(ctx, jobID)
	metrics.ObserveOperation("align_full", time.Since(start), err)
	if err != nil {
		s.publishError("align_full", err)
		return nil, err
	}

	diff, ok := s.applyAlignment(res, "align_full", gen)
	if !ok {
		return nil, ErrSuperseded
	}

	if s.d.samples != nil && res.Stats.Elapsed > 0 {
		s.d.samples.Record("align_full", duration, res.Stats.Elapsed)
	}
	go s.refreshRTF()
	return diff, nil
}

// AlignRegion re-times only [start-margin, end+margin]. Words outside
// the window keep their timings so the diff shows near-zero deltas there.
func (s *Session) AlignRegion(ctx context.Context, regionStart, regionEnd, margin float64) (*aligndiff.Diff, error) {
	if regionEnd <= regionStart {
		return nil, &ValidationError{Field: "range", Msg: "end must be after start"}
	}
	if margin < 0 {
		return nil, &ValidationError{Field: "margin", Msg: "must be non-negative"}
	}
	if err := s.begin("align",
		StateTranscribed, StateAligned, StatePreviewReady, StateApplied); err != nil {
		return nil, err
	}
	defer s.finish("align")

	s.mu.Lock()
	jobID := s.jobID
	gen := s.generation
	s.mu.Unlock()

	stop := s.startProgress("align_region", s.d.estimator.EstimateRegion(regionStart, regionEnd, margin))
	defer stop()

	start := time.Now()
	res, err := s.d.backend.AlignRegion(ctx, jobID, regionStart, regionEnd, margin)
	metrics.ObserveOperation("align_region", time.Since(start), err)
	if err != nil {
		s.publishError("align_region", err)
		return nil, err
	}

	diff, ok := s.applyAlignment(res, "align_region", gen)
	if !ok {
		return nil, ErrSuperseded
	}

	if s.d.samples != nil && res.Stats.Elapsed > 0 {
		s.d.samples.Record("align_region", (regionEnd-regionStart)+2*margin, res.Stats.Elapsed)
	}
	go s.refreshRTF()
	return diff, nil
}

// applyAlignment replaces the words with the aligned version and clamps
// the selection in the same step, so no reader observes stale indices.
// Reports false without touching anything when the session was
// re-imported after gen was captured.
func (s *Session) applyAlignment(res *backend.AlignResult, op string, gen uint64) (*aligndiff.Diff, bool) {
	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return nil, false
	}
	before := s.tr.Words
	diff := aligndiff.Compare(before, res.Transcript.Words)
	s.tr = res.Transcript
	s.lastDiff = &diff
	s.sel.SetWords(res.Transcript.Words)
	s.setState(StateAligned, op)
	s.mu.Unlock()

	s.d.bus.Publish(EventDiff, s.ID, diff)
	s.log.Info().
		Int("compared", diff.ComparedCount).
		Int("changed", diff.ChangedCount).
		Str("summary", diff.Summary()).
		Msg("alignment applied")
	return &diff, true
}

// ReplacePreview synthesizes replacement speech over the current
// selection and renders a preview splice. With AutoRefine the selection
// is region-aligned first; a refine failure is swallowed.
func (s *Session) ReplacePreview(ctx context.Context, p ReplaceParams) (*backend.ReplaceResult, error) {
	if strings.TrimSpace(p.Text) == "" {
		return nil, &ValidationError{Field: "text", Msg: "replacement text is empty"}
	}

	s.mu.Lock()
	span, ok := s.sel.Selection()
	s.mu.Unlock()
	if !ok {
		return nil, ErrNoSelection
	}
	if span.EndSeconds <= span.StartSeconds {
		return nil, &ValidationError{Field: "range", Msg: "end must be after start"}
	}

	if err := s.begin("replace",
		StateTranscribed, StateAligned, StatePreviewReady); err != nil {
		return nil, err
	}
	defer s.finish("replace")

	s.mu.Lock()
	jobID := s.jobID
	gen := s.generation
	s.mu.Unlock()

	if p.AutoRefine {
		margin := float64(p.MarginMs) / 1000
		if res, err := s.d.backend.AlignRegion(ctx, jobID, span.StartSeconds, span.EndSeconds, margin); err != nil {
			// Refine is best-effort: the splice proceeds on the old timings.
			s.log.Warn().Err(err).Msg("auto-refine failed, splicing without it")
		} else if _, ok := s.applyAlignment(res, "align_region", gen); ok {
			s.mu.Lock()
			if refined, ok := s.sel.Selection(); ok {
				span = refined
			}
			s.mu.Unlock()
		}
	}

	start := time.Now()
	res, err := s.d.backend.ReplacePreview(ctx, backend.ReplaceRequest{
		JobID:      jobID,
		Start:      span.StartSeconds,
		End:        span.EndSeconds,
		Text:       p.Text,
		MarginMs:   p.MarginMs,
		FadeMs:     p.FadeMs,
		DuckDb:     p.DuckDb,
		Trim:       p.Trim,
		Voice:      p.Voice,
		AutoRefine: p.AutoRefine,
	})
	metrics.ObserveOperation("replace_preview", time.Since(start), err)
	if err != nil {
		s.publishError("replace_preview", err)
		return nil, err
	}

	previewKey := s.mirror(ctx, "preview", res.PreviewURL)
	diffKey := s.mirror(ctx, "diff", res.DiffURL)

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return nil, ErrSuperseded
	}
	s.previewURL = res.PreviewURL
	s.diffURL = res.DiffURL
	s.previewKey = previewKey
	s.diffKey = diffKey
	s.replaceWords = res.ReplaceWords
	s.setState(StatePreviewReady, "replace_preview")
	s.mu.Unlock()

	s.log.Info().Str("preview_url", res.PreviewURL).Float64("synth_elapsed", res.Stats.SynthElapsed).Msg("preview ready")
	return res, nil
}

// Apply bakes the preview into the final container.
func (s *Session) Apply(ctx context.Context) (*backend.ApplyResult, error) {
	if err := s.begin("apply", StatePreviewReady); err != nil {
		return nil, err
	}
	defer s.finish("apply")

	s.mu.Lock()
	jobID := s.jobID
	gen := s.generation
	s.mu.Unlock()

	start := time.Now()
	res, err := s.d.backend.Apply(ctx, jobID)
	metrics.ObserveOperation("apply", time.Since(start), err)
	if err != nil {
		s.publishError("apply", err)
		return nil, err
	}

	finalKey := s.mirror(ctx, "final", res.FinalURL)

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return nil, ErrSuperseded
	}
	s.finalURL = res.FinalURL
	s.finalKey = finalKey
	s.finalMode = res.Mode
	s.finalContainer = res.Container
	s.setState(StateApplied, "apply")
	s.mu.Unlock()

	s.log.Info().Str("final_url", res.FinalURL).Str("container", res.Container).Msg("edit applied")
	return res, nil
}

// mirror fetches a backend artifact and stores a local copy. Mirroring
// is best-effort: the operation already succeeded, so a mirror failure
// only loses the cached copy.
func (s *Session) mirror(ctx context.Context, kind, rawURL string) string {
	if rawURL == "" || s.d.store == nil {
		return ""
	}
	data, contentType, err := s.d.backend.Fetch(ctx, rawURL)
	if err != nil {
		s.log.Warn().Err(err).Str("kind", kind).Msg("artifact fetch failed")
		return ""
	}
	key := s.ID + "/" + kind + "/" + artifactName(rawURL, kind)
	if err := s.d.store.Save(ctx, key, data, contentType); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("artifact mirror failed")
		return ""
	}
	s.log.Debug().Str("key", key).Int("bytes", len(data)).Msg("artifact mirrored")
	return key
}

func artifactName(rawURL, kind string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if base := path.Base(u.Path); base != "" && base != "." && base != "/" {
			return base
		}
	}
	return kind + ".wav"
}

// Peaks returns the waveform envelope at the requested resolution.
// Envelopes are cached per bin count until the next import.
func (s *Session) Peaks(bins int) (waveform.Envelope, error) {
	s.mu.Lock()
	if len(s.audio) == 0 {
		s.mu.Unlock()
		return nil, &StateError{Op: "peaks", State: s.state}
	}
	ref := s.ID + "/" + s.filename
	data := s.audio
	s.mu.Unlock()

	env, err := s.peaks.Extract(ref, data, bins)
	if err != nil {
		return nil, err
	}
	metrics.PeaksComputedTotal.Inc()
	return env, nil
}

func (s *Session) publishError(op string, err error) {
	s.d.bus.Publish(EventError, s.ID, map[string]any{
		"operation": op,
		"error":     err.Error(),
	})
	if s.d.notifier != nil {
		s.d.notifier.PublishState(s.ID, string(s.State()), op, err.Error())
	}
}
