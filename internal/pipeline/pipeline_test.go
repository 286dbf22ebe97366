package pipeline

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/redub/redub-engine/internal/backend"
	"github.com/redub/redub-engine/internal/eta"
	"github.com/redub/redub-engine/internal/transcript"
)

var testWords = []transcript.Word{
	{Text: "the", Start: 0.10, End: 0.20},
	{Text: "cat", Start: 0.20, End: 0.55},
	{Text: "sat", Start: 0.60, End: 0.90},
}

type fakeBackend struct {
	mu    sync.Mutex
	calls map[string]int

	transcribeErr error
	alignErr      error
	replaceErr    error
	applyErr      error

	alignedWords []transcript.Word
	blockOn      chan struct{} // Transcribe blocks until closed, when set
	alignBlockOn chan struct{} // AlignFull blocks until closed, when set
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{calls: make(map[string]int)}
}

func (f *fakeBackend) count(op string) {
	f.mu.Lock()
	f.calls[op]++
	f.mu.Unlock()
}

func (f *fakeBackend) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeBackend) ProbeUpload(_ context.Context, _ string, _ []byte) (*backend.ProbeResult, error) {
	f.count("probe")
	return &backend.ProbeResult{Duration: 2.0, Format: "wav"}, nil
}

func (f *fakeBackend) Transcribe(_ context.Context, _ string, _ []byte) (*backend.TranscribeResult, error) {
	f.count("transcribe")
	if f.blockOn != nil {
		<-f.blockOn
	}
	if f.transcribeErr != nil {
		return nil, f.transcribeErr
	}
	return &backend.TranscribeResult{
		JobID:              "job-1",
		AudioURL:           "http://backend/audio/job-1.wav",
		AlignmentAvailable: true,
		Transcript: transcript.Transcript{
			Language: "en",
			Duration: 2.0,
			Words:    transcript.CloneWords(testWords),
		},
		Stats: backend.OpStats{Elapsed: 0.2, RTF: 10},
	}, nil
}

func (f *fakeBackend) alignResult() *backend.AlignResult {
	words := f.alignedWords
	if words == nil {
		words = transcript.CloneWords(testWords)
		words[1].Start += 0.08
	}
	return &backend.AlignResult{
		Transcript: transcript.Transcript{Language: "en", Duration: 2.0, Words: words},
		Stats:      backend.OpStats{Elapsed: 0.1, RTF: 20},
	}
}

func (f *fakeBackend) AlignFull(_ context.Context, _ string) (*backend.AlignResult, error) {
	f.count("align_full")
	if f.alignBlockOn != nil {
		<-f.alignBlockOn
	}
	if f.alignErr != nil {
		return nil, f.alignErr
	}
	return f.alignResult(), nil
}

func (f *fakeBackend) AlignRegion(_ context.Context, _ string, _, _, _ float64) (*backend.AlignResult, error) {
	f.count("align_region")
	if f.alignErr != nil {
		return nil, f.alignErr
	}
	return f.alignResult(), nil
}

func (f *fakeBackend) EstimateSource(_ context.Context, _ string) (*backend.SourceEstimate, error) {
	f.count("estimate")
	return &backend.SourceEstimate{Duration: 2.0, Cached: true}, nil
}

func (f *fakeBackend) ReplacePreview(_ context.Context, _ backend.ReplaceRequest) (*backend.ReplaceResult, error) {
	f.count("replace")
	if f.replaceErr != nil {
		return nil, f.replaceErr
	}
	res := &backend.ReplaceResult{
		PreviewURL: "http://backend/artifacts/preview-1.wav",
		DiffURL:    "http://backend/artifacts/diff-1.wav",
		ReplaceWords: []transcript.Word{
			{Text: "dog", Start: 0.20, End: 0.60},
		},
	}
	res.Stats.SynthElapsed = 0.5
	return res, nil
}

func (f *fakeBackend) Apply(_ context.Context, _ string) (*backend.ApplyResult, error) {
	f.count("apply")
	if f.applyErr != nil {
		return nil, f.applyErr
	}
	return &backend.ApplyResult{FinalURL: "http://backend/artifacts/final-1.wav", Mode: "audio", Container: "wav"}, nil
}

func (f *fakeBackend) Fetch(_ context.Context, _ string) ([]byte, string, error) {
	f.count("fetch")
	return []byte("RIFF"), "audio/wav", nil
}

func (f *fakeBackend) AverageRTF(_ context.Context) (map[eta.Operation]float64, error) {
	f.count("stats")
	return map[eta.Operation]float64{eta.OpTranscribe: 12}, nil
}

type memStore struct {
	mu    sync.Mutex
	saved map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{saved: make(map[string][]byte)}
}

func (s *memStore) Save(_ context.Context, key string, data []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[key] = data
	return nil
}

func (s *memStore) URL(_ context.Context, _ string) (string, error) { return "", nil }

func (s *memStore) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.saved))
	for k := range s.saved {
		out = append(out, k)
	}
	return out
}

func newTestManager(fb *fakeBackend, store ArtifactStore) *Manager {
	return NewManager(Options{
		Backend: fb,
		Store:   store,
		Log:     zerolog.Nop(),
	})
}

func importedSession(t *testing.T, m *Manager) *Session {
	t.Helper()
	s := m.CreateSession(context.Background())
	if _, err := s.Import(context.Background(), "take.wav", []byte("RIFF")); err != nil {
		t.Fatalf("Import: %v", err)
	}
	return s
}

func transcribedSession(t *testing.T, m *Manager) *Session {
	t.Helper()
	s := importedSession(t, m)
	if _, err := s.Transcribe(context.Background()); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	return s
}

func TestImportTranscribeFlow(t *testing.T) {
	fb := newFakeBackend()
	m := newTestManager(fb, nil)

	s := m.CreateSession(context.Background())
	if s.State() != StateIdle {
		t.Fatalf("state = %s, want idle", s.State())
	}

	probe, err := s.Import(context.Background(), "take.wav", []byte("RIFF"))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if probe.Duration != 2.0 {
		t.Errorf("probe duration = %v, want 2.0", probe.Duration)
	}
	if s.State() != StateImported {
		t.Errorf("state = %s, want imported", s.State())
	}

	res, err := s.Transcribe(context.Background())
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.JobID != "job-1" {
		t.Errorf("jobID = %q, want job-1", res.JobID)
	}
	if s.State() != StateTranscribed {
		t.Errorf("state = %s, want transcribed", s.State())
	}
	if got := len(s.Transcript().Words); got != 3 {
		t.Errorf("words = %d, want 3", got)
	}
	if _, ok := s.Selection(); ok {
		t.Error("fresh transcript should have no selection")
	}
}

func TestTranscribeBeforeImport(t *testing.T) {
	m := newTestManager(newFakeBackend(), nil)
	s := m.CreateSession(context.Background())

	_, err := s.Transcribe(context.Background())
	var se *StateError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want StateError", err)
	}
	if se.State != StateIdle {
		t.Errorf("StateError.State = %s, want idle", se.State)
	}
}

func TestDuplicateTranscribeRejected(t *testing.T) {
	fb := newFakeBackend()
	fb.blockOn = make(chan struct{})
	m := newTestManager(fb, nil)
	s := importedSession(t, m)

	done := make(chan error, 1)
	go func() {
		_, err := s.Transcribe(context.Background())
		done <- err
	}()

	// Wait until the first call is inside the backend.
	for fb.callCount("transcribe") == 0 {
		time.Sleep(time.Millisecond)
	}

	if _, err := s.Transcribe(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("second Transcribe err = %v, want ErrBusy", err)
	}

	close(fb.blockOn)
	if err := <-done; err != nil {
		t.Fatalf("first Transcribe: %v", err)
	}

	// Re-entry allowed once the first call completes.
	if _, err := s.Transcribe(context.Background()); err != nil {
		t.Errorf("Transcribe after completion: %v", err)
	}
}

func TestAlignRequiresTranscribe(t *testing.T) {
	m := newTestManager(newFakeBackend(), nil)
	s := importedSession(t, m)

	var se *StateError
	if _, err := s.AlignFull(context.Background()); !errors.As(err, &se) {
		t.Errorf("AlignFull err = %v, want StateError", err)
	}
	if _, err := s.AlignRegion(context.Background(), 0.1, 0.9, 0.25); !errors.As(err, &se) {
		t.Errorf("AlignRegion err = %v, want StateError", err)
	}
}

func TestAlignFullReplacesWordsAndDiffs(t *testing.T) {
	fb := newFakeBackend()
	m := newTestManager(fb, nil)
	s := transcribedSession(t, m)
	s.SelectRange(1, 2)

	diff, err := s.AlignFull(context.Background())
	if err != nil {
		t.Fatalf("AlignFull: %v", err)
	}
	if s.State() != StateAligned {
		t.Errorf("state = %s, want aligned", s.State())
	}
	if diff.ChangedCount != 1 {
		t.Errorf("ChangedCount = %d, want 1", diff.ChangedCount)
	}
	// Words replaced wholesale with the aligned version.
	if got := s.Transcript().Words[1].Start; math.Abs(got-0.28) > 1e-9 {
		t.Errorf("aligned word start = %v, want 0.28", got)
	}
	// Selection survives the replacement (same length).
	span, ok := s.Selection()
	if !ok || span.StartIdx != 1 || span.EndIdx != 2 {
		t.Errorf("selection = %+v ok=%v, want [1,2]", span, ok)
	}
	if got, ok := s.LastDiff(); !ok || got.ChangedCount != diff.ChangedCount {
		t.Errorf("LastDiff = %+v ok=%v", got, ok)
	}
}

func TestAlignSelectionClampsOnShorterTranscript(t *testing.T) {
	fb := newFakeBackend()
	fb.alignedWords = transcript.CloneWords(testWords[:2])
	m := newTestManager(fb, nil)
	s := transcribedSession(t, m)
	s.SelectRange(1, 2)

	if _, err := s.AlignFull(context.Background()); err != nil {
		t.Fatalf("AlignFull: %v", err)
	}
	span, ok := s.Selection()
	if !ok {
		t.Fatal("selection cleared, want clamped")
	}
	if span.StartIdx != 1 || span.EndIdx != 1 {
		t.Errorf("selection = [%d,%d], want [1,1]", span.StartIdx, span.EndIdx)
	}
}

func TestAlignRegionValidation(t *testing.T) {
	m := newTestManager(newFakeBackend(), nil)
	s := transcribedSession(t, m)

	var ve *ValidationError
	if _, err := s.AlignRegion(context.Background(), 0.9, 0.1, 0.25); !errors.As(err, &ve) {
		t.Errorf("inverted range err = %v, want ValidationError", err)
	}
	if _, err := s.AlignRegion(context.Background(), 0.1, 0.9, -1); !errors.As(err, &ve) {
		t.Errorf("negative margin err = %v, want ValidationError", err)
	}
}

func TestReplacePreviewValidationBeforeNetwork(t *testing.T) {
	fb := newFakeBackend()
	m := newTestManager(fb, nil)
	s := transcribedSession(t, m)

	// No selection.
	if _, err := s.ReplacePreview(context.Background(), ReplaceParams{Text: "dog"}); !errors.Is(err, ErrNoSelection) {
		t.Errorf("err = %v, want ErrNoSelection", err)
	}

	// Empty text.
	s.SelectRange(1, 1)
	var ve *ValidationError
	if _, err := s.ReplacePreview(context.Background(), ReplaceParams{Text: "   "}); !errors.As(err, &ve) {
		t.Errorf("err = %v, want ValidationError", err)
	}

	if n := fb.callCount("replace") + fb.callCount("align_region"); n != 0 {
		t.Errorf("network calls = %d, want 0 before validation passes", n)
	}
}

func TestReplacePreviewFlow(t *testing.T) {
	fb := newFakeBackend()
	store := newMemStore()
	m := newTestManager(fb, store)
	s := transcribedSession(t, m)
	s.SelectRange(1, 1)

	res, err := s.ReplacePreview(context.Background(), ReplaceParams{Text: "dog", MarginMs: 250, FadeMs: 12})
	if err != nil {
		t.Fatalf("ReplacePreview: %v", err)
	}
	if res.PreviewURL == "" {
		t.Error("PreviewURL empty")
	}
	if s.State() != StatePreviewReady {
		t.Errorf("state = %s, want preview_ready", s.State())
	}

	// Preview and diff artifacts mirrored locally.
	if got := len(store.keys()); got != 2 {
		t.Errorf("mirrored artifacts = %d (%v), want 2", got, store.keys())
	}
	if _, ok := s.ArtifactKey("preview"); !ok {
		t.Error("preview artifact key missing")
	}
}

func TestReplacePreviewAutoRefineFailureSwallowed(t *testing.T) {
	fb := newFakeBackend()
	fb.alignErr = errors.New("aligner offline")
	m := newTestManager(fb, nil)
	s := transcribedSession(t, m)
	s.SelectRange(0, 2)

	if _, err := s.ReplacePreview(context.Background(), ReplaceParams{Text: "dog", AutoRefine: true}); err != nil {
		t.Fatalf("ReplacePreview: %v", err)
	}
	if fb.callCount("align_region") != 1 {
		t.Errorf("align_region calls = %d, want 1", fb.callCount("align_region"))
	}
	if s.State() != StatePreviewReady {
		t.Errorf("state = %s, want preview_ready despite refine failure", s.State())
	}
}

func TestApplyRequiresPreview(t *testing.T) {
	m := newTestManager(newFakeBackend(), nil)
	s := transcribedSession(t, m)

	var se *StateError
	if _, err := s.Apply(context.Background()); !errors.As(err, &se) {
		t.Errorf("Apply err = %v, want StateError", err)
	}
}

func TestApplyFlow(t *testing.T) {
	fb := newFakeBackend()
	store := newMemStore()
	m := newTestManager(fb, store)
	s := transcribedSession(t, m)
	s.SelectRange(1, 1)
	if _, err := s.ReplacePreview(context.Background(), ReplaceParams{Text: "dog"}); err != nil {
		t.Fatalf("ReplacePreview: %v", err)
	}

	res, err := s.Apply(context.Background())
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.Mode != "audio" || res.Container != "wav" {
		t.Errorf("apply result = %+v", res)
	}
	if s.State() != StateApplied {
		t.Errorf("state = %s, want applied", s.State())
	}
	if _, ok := s.ArtifactKey("final"); !ok {
		t.Error("final artifact key missing")
	}
}

func TestFailureKeepsLastStableState(t *testing.T) {
	fb := newFakeBackend()
	fb.alignErr = errors.New("boom")
	m := newTestManager(fb, nil)
	s := transcribedSession(t, m)
	s.SelectRange(0, 1)
	before := s.Transcript()

	if _, err := s.AlignFull(context.Background()); err == nil {
		t.Fatal("AlignFull succeeded, want error")
	}
	if s.State() != StateTranscribed {
		t.Errorf("state = %s, want transcribed after failure", s.State())
	}
	// No partial word or selection mutation.
	after := s.Transcript()
	if len(after.Words) != len(before.Words) || after.Words[1] != before.Words[1] {
		t.Error("words mutated by failed alignment")
	}
	if span, ok := s.Selection(); !ok || span.StartIdx != 0 || span.EndIdx != 1 {
		t.Errorf("selection = %+v ok=%v, want [0,1] intact", span, ok)
	}

	// The control is re-enabled: a retry goes through.
	fb.alignErr = nil
	if _, err := s.AlignFull(context.Background()); err != nil {
		t.Errorf("retry AlignFull: %v", err)
	}
}

func TestReimportResetsSession(t *testing.T) {
	fb := newFakeBackend()
	m := newTestManager(fb, nil)
	s := transcribedSession(t, m)
	s.SelectRange(0, 2)

	if _, err := s.Import(context.Background(), "retake.wav", []byte("RIFF2")); err != nil {
		t.Fatalf("re-Import: %v", err)
	}
	if s.State() != StateImported {
		t.Errorf("state = %s, want imported", s.State())
	}
	if got := len(s.Transcript().Words); got != 0 {
		t.Errorf("words = %d, want 0 after re-import", got)
	}
	if _, ok := s.Selection(); ok {
		t.Error("selection survived re-import")
	}
	if st := s.Viewport().State(); st.ZoomFactor != 1 || st.ViewStartSeconds != 0 {
		t.Errorf("viewport not reset: %+v", st)
	}
}

func TestReimportDiscardsInFlightTranscribe(t *testing.T) {
	fb := newFakeBackend()
	fb.blockOn = make(chan struct{})
	m := newTestManager(fb, nil)
	s := importedSession(t, m)

	done := make(chan error, 1)
	go func() {
		_, err := s.Transcribe(context.Background())
		done <- err
	}()
	for fb.callCount("transcribe") == 0 {
		time.Sleep(time.Millisecond)
	}

	// A new take lands while the old one is still at the backend.
	if _, err := s.Import(context.Background(), "retake.wav", []byte("RIFF2")); err != nil {
		t.Fatalf("re-Import: %v", err)
	}

	close(fb.blockOn)
	if err := <-done; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("Transcribe err = %v, want ErrSuperseded", err)
	}

	snap := s.Snapshot()
	if snap.State != StateImported {
		t.Errorf("state = %s, want imported", snap.State)
	}
	if snap.Words != 0 {
		t.Errorf("words = %d, want 0", snap.Words)
	}
	if snap.Filename != "retake.wav" {
		t.Errorf("filename = %q, want retake.wav", snap.Filename)
	}
	if snap.JobID != "" {
		t.Errorf("job_id = %q, want empty", snap.JobID)
	}

	// The new take transcribes normally.
	if _, err := s.Transcribe(context.Background()); err != nil {
		t.Fatalf("Transcribe after re-import: %v", err)
	}
	if s.State() != StateTranscribed {
		t.Errorf("state = %s, want transcribed", s.State())
	}
}

func TestReimportDiscardsInFlightAlign(t *testing.T) {
	fb := newFakeBackend()
	fb.alignBlockOn = make(chan struct{})
	m := newTestManager(fb, nil)
	s := transcribedSession(t, m)

	done := make(chan error, 1)
	go func() {
		_, err := s.AlignFull(context.Background())
		done <- err
	}()
	for fb.callCount("align_full") == 0 {
		time.Sleep(time.Millisecond)
	}

	if _, err := s.Import(context.Background(), "retake.wav", []byte("RIFF2")); err != nil {
		t.Fatalf("re-Import: %v", err)
	}

	close(fb.alignBlockOn)
	if err := <-done; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("AlignFull err = %v, want ErrSuperseded", err)
	}

	if s.State() != StateImported {
		t.Errorf("state = %s, want imported", s.State())
	}
	if got := len(s.Transcript().Words); got != 0 {
		t.Errorf("words = %d, want 0", got)
	}
	if _, ok := s.LastDiff(); ok {
		t.Error("diff recorded for a superseded alignment")
	}
}

func TestManagerSessionLifecycle(t *testing.T) {
	m := newTestManager(newFakeBackend(), nil)
	ctx := context.Background()

	s := m.CreateSession(ctx)
	if m.SessionCount() != 1 {
		t.Errorf("SessionCount = %d, want 1", m.SessionCount())
	}
	got, err := m.Get(s.ID)
	if err != nil || got.ID != s.ID {
		t.Errorf("Get = %v, %v", got, err)
	}
	if err := m.Delete(ctx, s.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := m.Get(s.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get after delete err = %v, want ErrSessionNotFound", err)
	}
	if err := m.Delete(ctx, s.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("double Delete err = %v, want ErrSessionNotFound", err)
	}
}

func TestManagerImportFile(t *testing.T) {
	fb := newFakeBackend()
	m := newTestManager(fb, nil)

	dir := t.TempDir()
	path := filepath.Join(dir, "dropped.wav")
	if err := os.WriteFile(path, []byte("RIFF"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := m.ImportFile(context.Background(), path); err != nil {
		t.Fatalf("ImportFile: %v", err)
	}
	snaps := m.List()
	if len(snaps) != 1 {
		t.Fatalf("sessions = %d, want 1", len(snaps))
	}
	if snaps[0].State != StateTranscribed {
		t.Errorf("state = %s, want transcribed", snaps[0].State)
	}
	if snaps[0].Filename != "dropped.wav" {
		t.Errorf("filename = %q, want dropped.wav", snaps[0].Filename)
	}
}

func TestManagerImportFileMissing(t *testing.T) {
	m := newTestManager(newFakeBackend(), nil)
	if err := m.ImportFile(context.Background(), "/nonexistent/file.wav"); err == nil {
		t.Error("ImportFile of missing path succeeded")
	}
	if m.SessionCount() != 0 {
		t.Errorf("SessionCount = %d, want 0", m.SessionCount())
	}
}
