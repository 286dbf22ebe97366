package database

import "context"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS view_settings (
    session_id        text PRIMARY KEY,
    zoom_factor       double precision NOT NULL DEFAULT 1,
    view_start        double precision NOT NULL DEFAULT 0,
    waveform_overlay  boolean NOT NULL DEFAULT true,
    whisker_overlay   boolean NOT NULL DEFAULT true,
    block_gap_seconds double precision NOT NULL DEFAULT 0.25,
    updated_at        timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS op_samples (
    id                 bigserial PRIMARY KEY,
    operation          text NOT NULL,
    audio_seconds      double precision NOT NULL,
    processing_seconds double precision NOT NULL,
    recorded_at        timestamptz NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_op_samples_op_time
    ON op_samples (operation, recorded_at DESC);
`

// EnsureSchema applies the schema on startup. Everything is
// IF NOT EXISTS, so re-running is a no-op.
func (db *DB) EnsureSchema(ctx context.Context) error {
	_, err := db.Pool.Exec(ctx, schemaSQL)
	if err != nil {
		return err
	}
	db.log.Debug().Msg("schema ensured")
	return nil
}
