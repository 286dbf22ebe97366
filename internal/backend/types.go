package backend

import "github.com/redub/redub-engine/internal/transcript"

// OpStats is the per-call throughput report attached to backend
// responses.
type OpStats struct {
	Elapsed float64 `json:"elapsed"` // processing seconds
	RTF     float64 `json:"rtf,omitempty"`
	Words   int     `json:"words,omitempty"`
}

// TranscribeResult is the response to a transcription request.
type TranscribeResult struct {
	JobID              string                `json:"job_id"`
	Transcript         transcript.Transcript `json:"transcript"`
	AudioURL           string                `json:"audio_url"`
	AlignmentAvailable bool                  `json:"alignment_available"`
	Stats              OpStats               `json:"stats"`
}

// AlignResult is the response to a full or region alignment request.
type AlignResult struct {
	Transcript transcript.Transcript `json:"transcript"`
	Stats      OpStats               `json:"stats"`
}

// SourceEstimate describes a remote media URL before import.
type SourceEstimate struct {
	Duration     float64 `json:"duration"`
	Title        string  `json:"title,omitempty"`
	ThumbnailURL string  `json:"thumbnail_url,omitempty"`
	Cached       bool    `json:"cached"`
}

// StreamInfo describes one stream of a probed upload.
type StreamInfo struct {
	Codec      string  `json:"codec"`
	SampleRate int     `json:"sample_rate,omitempty"`
	Channels   int     `json:"channels,omitempty"`
	Width      int     `json:"width,omitempty"`
	Height     int     `json:"height,omitempty"`
	Bitrate    float64 `json:"bitrate,omitempty"`
}

// ProbeResult is the container metadata for an uploaded file.
type ProbeResult struct {
	Duration float64     `json:"duration"`
	Format   string      `json:"format"`
	HasVideo bool        `json:"has_video"`
	Audio    *StreamInfo `json:"audio,omitempty"`
	Video    *StreamInfo `json:"video,omitempty"`
}

// TrimParams controls how much of the synthesized utterance is
// trimmed before splicing.
type TrimParams struct {
	LeadMs int `json:"lead_ms"`
	TailMs int `json:"tail_ms"`
}

// ReplaceRequest asks the backend to synthesize replacement speech
// and splice it over [Start, End] of the job's audio.
type ReplaceRequest struct {
	JobID      string     `json:"job_id"`
	Start      float64    `json:"start"`
	End        float64    `json:"end"`
	Text       string     `json:"text"`
	MarginMs   int        `json:"margin_ms"`
	FadeMs     int        `json:"fade_ms"`
	DuckDb     *float64   `json:"duck_db,omitempty"`
	Trim       TrimParams `json:"trim_params"`
	Voice      string     `json:"voice,omitempty"`
	AutoRefine bool       `json:"auto_refine,omitempty"`
}

// ReplaceResult is the preview produced by a splice.
type ReplaceResult struct {
	PreviewURL   string            `json:"preview_url"`
	DiffURL      string            `json:"diff_url,omitempty"`
	ReplaceWords []transcript.Word `json:"replace_words,omitempty"`
	Stats        struct {
		SynthElapsed float64 `json:"synth_elapsed"`
	} `json:"stats"`
}

// ApplyResult is the final export.
type ApplyResult struct {
	FinalURL  string `json:"final_url"`
	Mode      string `json:"mode"` // "audio" or "video"
	Container string `json:"container"`
}

// OpAverage is one operation class's historical throughput.
type OpAverage struct {
	AvgRTF float64 `json:"avg_rtf"`
}

// ServiceStats is the backend's rolling throughput report.
type ServiceStats struct {
	Transcribe  OpAverage `json:"transcribe"`
	AlignFull   OpAverage `json:"align_full"`
	AlignRegion OpAverage `json:"align_region"`
}
