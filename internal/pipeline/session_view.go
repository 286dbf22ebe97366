package pipeline

import (
	"context"

	"github.com/redub/redub-engine/internal/aligndiff"
	"github.com/redub/redub-engine/internal/selection"
	"github.com/redub/redub-engine/internal/transcript"
	"github.com/redub/redub-engine/internal/view"
)

// Selection and viewport access. The selection model is not safe for
// concurrent use, so every interaction goes through the session mutex.

func (s *Session) PointSelect(t float64, mode selection.Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sel.PointSelect(t, mode)
}

func (s *Session) BeginDrag(t float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sel.BeginDrag(t)
}

func (s *Session) DragTo(t float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sel.DragTo(t)
}

func (s *Session) EndDrag() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sel.EndDrag()
}

func (s *Session) ShiftExtend(t float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sel.ShiftExtend(t)
}

func (s *Session) SelectRange(startIdx, endIdx int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sel.SelectRange(startIdx, endIdx)
}

func (s *Session) SelectSegment(idx int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx < 0 || idx >= len(s.tr.Segments) {
		return false
	}
	return s.sel.SelectSegment(s.tr.Segments[idx])
}

func (s *Session) SelectPhrase(phrase string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sel.SelectPhrase(phrase)
}

func (s *Session) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sel.Clear()
}

func (s *Session) Selection() (selection.Span, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sel.Selection()
}

func (s *Session) Blocks() []selection.Block {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sel.Blocks()
}

func (s *Session) SetBlockGap(gapSeconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sel.SetBlockGap(gapSeconds)
}

// Viewport returns the session's viewport, which is internally locked.
func (s *Session) Viewport() *view.Viewport {
	return s.viewport
}

// Transcript returns the current word timings.
func (s *Session) Transcript() transcript.Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tr
}

// LastDiff returns the analytics from the most recent alignment, if any.
func (s *Session) LastDiff() (aligndiff.Diff, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastDiff == nil {
		return aligndiff.Diff{}, false
	}
	return *s.lastDiff, true
}

// CurrentSettings captures the persistable view preferences.
func (s *Session) CurrentSettings() view.Settings {
	st := s.viewport.State()
	s.mu.Lock()
	defer s.mu.Unlock()
	return view.Settings{
		ZoomFactor:       st.ZoomFactor,
		ViewStartSeconds: st.ViewStartSeconds,
		WaveformOverlay:  s.waveformOverlay,
		WhiskerOverlay:   s.whiskerOverlay,
		BlockGapSeconds:  s.sel.BlockGap(),
	}
}

// ApplySettings restores persisted view preferences.
func (s *Session) ApplySettings(v view.Settings) {
	s.viewport.Restore(v)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waveformOverlay = v.WaveformOverlay
	s.whiskerOverlay = v.WhiskerOverlay
	s.sel.SetBlockGap(v.BlockGapSeconds)
}

// LoadSettings restores preferences from the store, if any were saved.
func (s *Session) LoadSettings(ctx context.Context) error {
	if s.d.settings == nil {
		return nil
	}
	v, ok, err := s.d.settings.Load(ctx, s.ID)
	if err != nil || !ok {
		return err
	}
	s.ApplySettings(v)
	return nil
}

// SaveSettings persists the current preferences.
func (s *Session) SaveSettings(ctx context.Context) error {
	if s.d.settings == nil {
		return nil
	}
	return s.d.settings.Save(ctx, s.ID, s.CurrentSettings())
}

// Snapshot is a point-in-time view of the session for API responses.
type Snapshot struct {
	ID                 string                `json:"id"`
	State              State                 `json:"state"`
	Filename           string                `json:"filename,omitempty"`
	Duration           float64               `json:"duration"`
	JobID              string                `json:"job_id,omitempty"`
	AudioURL           string                `json:"audio_url,omitempty"`
	AlignmentAvailable bool                  `json:"alignment_available"`
	Words              int                   `json:"words"`
	Selection          *selection.Span       `json:"selection,omitempty"`
	Viewport           view.State            `json:"viewport"`
	LastDiff           *aligndiff.Diff       `json:"last_diff,omitempty"`
	ReplaceWords       []transcript.Word     `json:"replace_words,omitempty"`
	PreviewURL         string                `json:"preview_url,omitempty"`
	DiffURL            string                `json:"diff_url,omitempty"`
	FinalURL           string                `json:"final_url,omitempty"`
	FinalMode          string                `json:"final_mode,omitempty"`
	FinalContainer     string                `json:"final_container,omitempty"`
	InFlight           []string              `json:"in_flight,omitempty"`
}

// Snapshot captures the session under one lock acquisition.
func (s *Session) Snapshot() Snapshot {
	vp := s.viewport.State()

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:                 s.ID,
		State:              s.state,
		Filename:           s.filename,
		Duration:           s.duration,
		JobID:              s.jobID,
		AudioURL:           s.audioURL,
		AlignmentAvailable: s.alignmentAvailable,
		Words:              len(s.tr.Words),
		Viewport:           vp,
		LastDiff:           s.lastDiff,
		ReplaceWords:       s.replaceWords,
		PreviewURL:         s.previewURL,
		DiffURL:            s.diffURL,
		FinalURL:           s.finalURL,
		FinalMode:          s.finalMode,
		FinalContainer:     s.finalContainer,
	}
	if span, ok := s.sel.Selection(); ok {
		snap.Selection = &span
	}
	for op := range s.inFlight {
		snap.InFlight = append(snap.InFlight, op)
	}
	return snap
}

// ArtifactKey maps an artifact kind to its mirrored store key, if the
// mirror succeeded.
func (s *Session) ArtifactKey(kind string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var key string
	switch kind {
	case "preview":
		key = s.previewKey
	case "diff":
		key = s.diffKey
	case "final":
		key = s.finalKey
	}
	return key, key != ""
}
