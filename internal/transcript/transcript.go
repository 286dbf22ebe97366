package transcript

// Word is a single transcribed word with its boundary timestamps.
// Sequences are ordered, non-decreasing in Start, with Start <= End
// per word. The pipeline replaces the whole sequence on every
// transcribe or align response; nothing edits words in place.
type Word struct {
	Text       string  `json:"text"`
	Start      float64 `json:"start"` // seconds
	End        float64 `json:"end"`   // seconds
	Confidence float64 `json:"confidence,omitempty"`
}

// Segment is a sentence-level grouping supplied by the transcription
// service. Read-only; used as a coarse selection granularity.
type Segment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Transcript is the word- and sentence-level timing payload returned
// by the speech backend.
type Transcript struct {
	Language string    `json:"language"`
	Duration float64   `json:"duration"`
	Words    []Word    `json:"words"`
	Segments []Segment `json:"segments"`
}

// CloneWords returns a copy of the word slice. Callers use it to take
// a "before" snapshot ahead of an alignment pass.
func CloneWords(words []Word) []Word {
	if words == nil {
		return nil
	}
	out := make([]Word, len(words))
	copy(out, words)
	return out
}
