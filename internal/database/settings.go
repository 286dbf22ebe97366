package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/redub/redub-engine/internal/view"
)

// SettingsStore is the pg-backed view.SettingsStore.
type SettingsStore struct {
	db *DB
}

func NewSettingsStore(db *DB) *SettingsStore {
	return &SettingsStore{db: db}
}

func (s *SettingsStore) Load(ctx context.Context, sessionID string) (view.Settings, bool, error) {
	var vs view.Settings
	err := s.db.Pool.QueryRow(ctx, `
		SELECT zoom_factor, view_start, waveform_overlay, whisker_overlay, block_gap_seconds
		FROM view_settings WHERE session_id = $1`,
		sessionID,
	).Scan(&vs.ZoomFactor, &vs.ViewStartSeconds, &vs.WaveformOverlay, &vs.WhiskerOverlay, &vs.BlockGapSeconds)
	if errors.Is(err, pgx.ErrNoRows) {
		return view.Settings{}, false, nil
	}
	if err != nil {
		return view.Settings{}, false, err
	}
	return vs, true, nil
}

func (s *SettingsStore) Save(ctx context.Context, sessionID string, vs view.Settings) error {
	_, err := s.db.Pool.Exec(ctx, `
		INSERT INTO view_settings
			(session_id, zoom_factor, view_start, waveform_overlay, whisker_overlay, block_gap_seconds, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (session_id) DO UPDATE SET
			zoom_factor = EXCLUDED.zoom_factor,
			view_start = EXCLUDED.view_start,
			waveform_overlay = EXCLUDED.waveform_overlay,
			whisker_overlay = EXCLUDED.whisker_overlay,
			block_gap_seconds = EXCLUDED.block_gap_seconds,
			updated_at = now()`,
		sessionID, vs.ZoomFactor, vs.ViewStartSeconds, vs.WaveformOverlay, vs.WhiskerOverlay, vs.BlockGapSeconds,
	)
	return err
}
