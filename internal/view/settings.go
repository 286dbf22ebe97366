package view

import "context"

// Settings are the per-session view preferences persisted across
// reloads: zoom/pan position, overlay toggles, and the silence-gap
// threshold used for speech-block grouping.
type Settings struct {
	ZoomFactor       float64 `json:"zoom_factor"`
	ViewStartSeconds float64 `json:"view_start_seconds"`
	WaveformOverlay  bool    `json:"waveform_overlay"`
	WhiskerOverlay   bool    `json:"whisker_overlay"`
	BlockGapSeconds  float64 `json:"block_gap_seconds"`
}

// DefaultSettings is the state of a fresh session.
func DefaultSettings() Settings {
	return Settings{
		ZoomFactor:      1,
		WaveformOverlay: true,
		WhiskerOverlay:  true,
		BlockGapSeconds: 0.25,
	}
}

// SettingsStore persists Settings keyed by session. Implementations:
// the pg-backed store in internal/database and MemoryStore below.
type SettingsStore interface {
	Load(ctx context.Context, sessionID string) (Settings, bool, error)
	Save(ctx context.Context, sessionID string, s Settings) error
}

// MemoryStore is an in-process SettingsStore used when no database is
// configured, and by tests.
type MemoryStore struct {
	items map[string]Settings
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]Settings)}
}

func (m *MemoryStore) Load(_ context.Context, sessionID string) (Settings, bool, error) {
	s, ok := m.items[sessionID]
	return s, ok, nil
}

func (m *MemoryStore) Save(_ context.Context, sessionID string, s Settings) error {
	m.items[sessionID] = s
	return nil
}
