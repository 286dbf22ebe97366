// Package selection tracks the selected word-index range and resolves
// point/drag interactions against the current word timings. It never
// owns the words: the pipeline replaces them wholesale and the model
// clamps or clears itself in the same step.
package selection

import (
	"math"
	"strings"

	"github.com/redub/redub-engine/internal/transcript"
)

// Mode controls how a point interaction resolves.
type Mode string

const (
	// WordMode selects the single word at (or nearest to) the point.
	WordMode Mode = "word"
	// BlockMode selects the whole speech block around the point.
	BlockMode Mode = "block"
)

// Range is an inclusive word-index range with Start <= End.
type Range struct {
	StartIdx int `json:"start_idx"`
	EndIdx   int `json:"end_idx"`
}

// Span is a resolved selection: the index range plus the derived
// time range [words[start].Start, words[end].End].
type Span struct {
	Range
	StartSeconds float64 `json:"start_seconds"`
	EndSeconds   float64 `json:"end_seconds"`
}

// Model resolves interactions into word-index selections. "No
// selection" is a distinct state, not the range [0,0]. All methods
// no-op on an empty transcript.
type Model struct {
	words  []transcript.Word
	blocks []Block
	gap    float64

	sel        *Range
	dragAnchor int
	dragging   bool
}

func NewModel() *Model {
	return &Model{gap: DefaultBlockGap}
}

// SetWords replaces the word sequence and recomputes speech blocks.
// The existing selection is clamped into the new bounds, or cleared
// when the new sequence is shorter than the previous start index.
// This runs as one step so no reader observes stale indices.
func (m *Model) SetWords(words []transcript.Word) {
	m.words = words
	m.blocks = ComputeBlocks(words, m.gap)
	m.dragging = false

	if m.sel == nil {
		return
	}
	if len(words) == 0 || m.sel.StartIdx >= len(words) {
		m.sel = nil
		return
	}
	if m.sel.EndIdx >= len(words) {
		m.sel.EndIdx = len(words) - 1
	}
}

// SetBlockGap changes the silence threshold and recomputes blocks.
func (m *Model) SetBlockGap(gapSeconds float64) {
	if gapSeconds <= 0 {
		gapSeconds = DefaultBlockGap
	}
	m.gap = gapSeconds
	m.blocks = ComputeBlocks(m.words, m.gap)
}

// BlockGap returns the current silence threshold.
func (m *Model) BlockGap() float64 {
	return m.gap
}

// Blocks returns the current speech blocks.
func (m *Model) Blocks() []Block {
	return m.blocks
}

// Selection returns the current span, if any.
func (m *Model) Selection() (Span, bool) {
	if m.sel == nil || len(m.words) == 0 {
		return Span{}, false
	}
	return m.span(*m.sel), true
}

func (m *Model) span(r Range) Span {
	return Span{
		Range:        r,
		StartSeconds: m.words[r.StartIdx].Start,
		EndSeconds:   m.words[r.EndIdx].End,
	}
}

// Clear drops the selection.
func (m *Model) Clear() {
	m.sel = nil
	m.dragging = false
}

// PointSelect resolves a click at time t. In word mode it selects the
// word containing t, or the nearest word by boundary distance when
// the click lands in a gap. In block mode it selects the speech block
// around that word.
func (m *Model) PointSelect(t float64, mode Mode) {
	if len(m.words) == 0 {
		return
	}
	idx := m.nearestWord(t)
	switch mode {
	case BlockMode:
		if b, ok := blockContaining(m.blocks, idx); ok {
			m.sel = &Range{StartIdx: b.StartIdx, EndIdx: b.EndIdx}
			return
		}
		fallthrough
	default:
		m.sel = &Range{StartIdx: idx, EndIdx: idx}
	}
}

// BeginDrag starts a drag selection anchored at time t.
func (m *Model) BeginDrag(t float64) {
	if len(m.words) == 0 {
		return
	}
	idx := m.nearestWord(t)
	m.dragAnchor = idx
	m.dragging = true
	m.sel = &Range{StartIdx: idx, EndIdx: idx}
}

// DragTo updates the live selection while dragging. The moving edge
// tracks the nearest word unsnapped, for immediate feedback; the
// final boundaries are fixed by EndDrag.
func (m *Model) DragTo(t float64) {
	if !m.dragging || len(m.words) == 0 {
		return
	}
	idx := m.nearestWord(t)
	lo, hi := m.dragAnchor, idx
	if lo > hi {
		lo, hi = hi, lo
	}
	m.sel = &Range{StartIdx: lo, EndIdx: hi}
}

// EndDrag commits the drag: the start boundary snaps to the nearest
// word start over all words and the end boundary to the nearest word
// end. Snapping on release is mandatory regardless of what happened
// during the drag. If pathological spacing snaps the end earlier than
// the start, the end is clamped up to the start.
func (m *Model) EndDrag() {
	if !m.dragging {
		return
	}
	m.dragging = false
	if m.sel == nil || len(m.words) == 0 {
		return
	}

	startT := m.words[m.sel.StartIdx].Start
	endT := m.words[m.sel.EndIdx].End
	lo := m.nearestStart(startT)
	hi := m.nearestEnd(endT)
	if hi < lo {
		hi = lo
	}
	m.sel = &Range{StartIdx: lo, EndIdx: hi}
}

// ShiftExtend moves only the end of the selection to the word nearest
// t, keeping the start fixed. Without a selection it acts as a point
// select.
func (m *Model) ShiftExtend(t float64) {
	if len(m.words) == 0 {
		return
	}
	if m.sel == nil {
		m.PointSelect(t, WordMode)
		return
	}
	idx := m.nearestWord(t)
	if idx < m.sel.StartIdx {
		idx = m.sel.StartIdx
	}
	m.sel.EndIdx = idx
}

// SelectRange sets the selection programmatically, clamped to bounds.
func (m *Model) SelectRange(startIdx, endIdx int) {
	if len(m.words) == 0 {
		return
	}
	startIdx = clampIdx(startIdx, len(m.words))
	endIdx = clampIdx(endIdx, len(m.words))
	if endIdx < startIdx {
		startIdx, endIdx = endIdx, startIdx
	}
	m.sel = &Range{StartIdx: startIdx, EndIdx: endIdx}
}

// SelectSegment selects the words covered by a sentence segment:
// every word whose midpoint falls inside [seg.Start, seg.End].
func (m *Model) SelectSegment(seg transcript.Segment) bool {
	if len(m.words) == 0 {
		return false
	}
	lo, hi := -1, -1
	for i, w := range m.words {
		mid := (w.Start + w.End) / 2
		if mid >= seg.Start && mid <= seg.End {
			if lo < 0 {
				lo = i
			}
			hi = i
		}
	}
	if lo < 0 {
		return false
	}
	m.sel = &Range{StartIdx: lo, EndIdx: hi}
	return true
}

// SelectPhrase finds the first word span whose texts match the given
// phrase (case-insensitive, punctuation-insensitive) and selects it.
func (m *Model) SelectPhrase(phrase string) bool {
	target := tokenize(phrase)
	if len(target) == 0 || len(m.words) == 0 {
		return false
	}
	for i := 0; i+len(target) <= len(m.words); i++ {
		match := true
		for j, tok := range target {
			if normalizeWord(m.words[i+j].Text) != tok {
				match = false
				break
			}
		}
		if match {
			m.sel = &Range{StartIdx: i, EndIdx: i + len(target) - 1}
			return true
		}
	}
	return false
}

// nearestWord returns the index of the word containing t, or the word
// whose nearest boundary is closest to t.
func (m *Model) nearestWord(t float64) int {
	best := 0
	bestDist := math.Inf(1)
	for i, w := range m.words {
		if t >= w.Start && t <= w.End {
			return i
		}
		d := math.Min(math.Abs(t-w.Start), math.Abs(t-w.End))
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best
}

// nearestStart returns the index of the word whose start is closest to t.
func (m *Model) nearestStart(t float64) int {
	best := 0
	bestDist := math.Inf(1)
	for i, w := range m.words {
		d := math.Abs(t - w.Start)
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best
}

// nearestEnd returns the index of the word whose end is closest to t.
func (m *Model) nearestEnd(t float64) int {
	best := 0
	bestDist := math.Inf(1)
	for i, w := range m.words {
		d := math.Abs(t - w.End)
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best
}

func clampIdx(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

func normalizeWord(s string) string {
	return strings.Trim(strings.ToLower(strings.TrimSpace(s)), ".,!?;:\"'")
}

func tokenize(s string) []string {
	var out []string
	for _, f := range strings.Fields(s) {
		if tok := normalizeWord(f); tok != "" {
			out = append(out, tok)
		}
	}
	return out
}
