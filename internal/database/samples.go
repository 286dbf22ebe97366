package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// OpSampleRow is one completed backend call's throughput measurement.
type OpSampleRow struct {
	Operation         string
	AudioSeconds      float64
	ProcessingSeconds float64
	RecordedAt        time.Time
}

// InsertOpSamples bulk-inserts throughput rows.
func (db *DB) InsertOpSamples(ctx context.Context, rows []OpSampleRow) (int64, error) {
	src := make([][]any, len(rows))
	for i, r := range rows {
		src[i] = []any{r.Operation, r.AudioSeconds, r.ProcessingSeconds, r.RecordedAt}
	}
	return db.Pool.CopyFrom(ctx,
		pgx.Identifier{"op_samples"},
		[]string{"operation", "audio_seconds", "processing_seconds", "recorded_at"},
		pgx.CopyFromRows(src),
	)
}

// AverageRTF returns audio-seconds-per-processing-second for an
// operation over the given lookback window. ok is false when no
// samples exist yet.
func (db *DB) AverageRTF(ctx context.Context, operation string, window time.Duration) (float64, bool, error) {
	var rtf *float64
	err := db.Pool.QueryRow(ctx, `
		SELECT sum(audio_seconds) / NULLIF(sum(processing_seconds), 0)
		FROM op_samples
		WHERE operation = $1 AND recorded_at > now() - $2::interval`,
		operation, window.String(),
	).Scan(&rtf)
	if err != nil {
		return 0, false, err
	}
	if rtf == nil || *rtf <= 0 {
		return 0, false, nil
	}
	return *rtf, true, nil
}

// PruneOpSamples deletes rows older than the retention window.
func (db *DB) PruneOpSamples(ctx context.Context, retention time.Duration) (int64, error) {
	tag, err := db.Pool.Exec(ctx,
		`DELETE FROM op_samples WHERE recorded_at < now() - $1::interval`,
		retention.String(),
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// SampleWriter batches throughput rows into op_samples. It satisfies
// the pipeline's sample sink without putting a DB write on the
// response path.
type SampleWriter struct {
	db      *DB
	batcher *Batcher[OpSampleRow]
	log     zerolog.Logger
}

func NewSampleWriter(db *DB, log zerolog.Logger) *SampleWriter {
	w := &SampleWriter{
		db:  db,
		log: log.With().Str("component", "samples").Logger(),
	}
	w.batcher = NewBatcher[OpSampleRow](20, 5*time.Second, w.flush)
	return w
}

func (w *SampleWriter) Record(operation string, audioSeconds, processingSeconds float64) {
	w.batcher.Add(OpSampleRow{
		Operation:         operation,
		AudioSeconds:      audioSeconds,
		ProcessingSeconds: processingSeconds,
		RecordedAt:        time.Now(),
	})
}

func (w *SampleWriter) Stop() {
	w.batcher.Stop()
}

func (w *SampleWriter) flush(rows []OpSampleRow) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	n, err := w.db.InsertOpSamples(ctx, rows)
	if err != nil {
		w.log.Error().Err(err).Int("count", len(rows)).Msg("failed to flush op samples")
		return
	}
	w.log.Debug().Int64("inserted", n).Msg("flushed op samples")
}
