package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/redub/redub-engine/internal/backend"
	"github.com/redub/redub-engine/internal/eta"
	"github.com/redub/redub-engine/internal/view"
)

// Manager owns the live edit sessions and the shared ETA estimator.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	d *deps
}

// Options configures a Manager. Backend is required; everything else
// degrades gracefully when nil.
type Options struct {
	Backend   Backend
	Store     ArtifactStore
	Settings  view.SettingsStore
	Samples   SampleSink
	Notifier  StatePublisher
	Bus       *EventBus
	Estimator *eta.Estimator
	Log       zerolog.Logger
}

func NewManager(opts Options) *Manager {
	if opts.Bus == nil {
		opts.Bus = NewEventBus(256)
	}
	if opts.Estimator == nil {
		opts.Estimator = eta.NewEstimator()
	}
	if opts.Settings == nil {
		opts.Settings = view.NewMemoryStore()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		d: &deps{
			backend:   opts.Backend,
			store:     opts.Store,
			bus:       opts.Bus,
			notifier:  opts.Notifier,
			estimator: opts.Estimator,
			samples:   opts.Samples,
			settings:  opts.Settings,
			log:       opts.Log.With().Str("component", "pipeline").Logger(),
		},
	}
}

// CreateSession opens a new idle session and restores any persisted
// view preferences for its ID.
func (m *Manager) CreateSession(ctx context.Context) *Session {
	s := newSession(uuid.NewString(), m.d)
	if err := s.LoadSettings(ctx); err != nil {
		s.log.Warn().Err(err).Msg("failed to load view settings")
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.d.log.Info().Str("session_id", s.ID).Msg("session created")
	return s
}

// Get returns the session for id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Delete closes a session and persists its view preferences.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	s.Viewport().CancelAnimation()
	if err := s.SaveSettings(ctx); err != nil {
		s.log.Warn().Err(err).Msg("failed to save view settings")
	}
	m.d.log.Info().Str("session_id", id).Msg("session closed")
	return nil
}

// List returns snapshots of all sessions.
func (m *Manager) List() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Snapshot, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Snapshot())
	}
	return out
}

// Bus exposes the event bus for SSE handlers.
func (m *Manager) Bus() *EventBus {
	return m.d.bus
}

// Estimator exposes the shared RTF table.
func (m *Manager) Estimator() *eta.Estimator {
	return m.d.estimator
}

// EstimateSource asks the backend to describe a remote media URL
// before committing to an import.
func (m *Manager) EstimateSource(ctx context.Context, url string) (*backend.SourceEstimate, error) {
	if url == "" {
		return nil, &ValidationError{Field: "url", Msg: "empty source url"}
	}
	return m.d.backend.EstimateSource(ctx, url)
}

// ImportFile creates a session around an audio file dropped into the
// watch folder and transcribes it immediately.
func (m *Manager) ImportFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	s := m.CreateSession(ctx)
	if _, err := s.Import(ctx, filepath.Base(path), data); err != nil {
		_ = m.Delete(ctx, s.ID)
		return err
	}
	if _, err := s.Transcribe(ctx); err != nil {
		// Session stays imported; the transcript can be retried over HTTP.
		s.log.Warn().Err(err).Msg("auto-transcribe failed for watched file")
	}
	return nil
}

// SessionCount implements metrics.EngineStats.
func (m *Manager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// InFlightOps implements metrics.EngineStats.
func (m *Manager) InFlightOps() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, s := range m.sessions {
		n += s.inFlightCount()
	}
	return n
}

// SSESubscriberCount implements metrics.EngineStats.
func (m *Manager) SSESubscriberCount() int {
	return m.d.bus.SubscriberCount()
}
