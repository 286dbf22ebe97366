package selection

import (
	"testing"

	"github.com/redub/redub-engine/internal/transcript"
)

func catWords() []transcript.Word {
	return []transcript.Word{
		{Text: "the", Start: 0.00, End: 0.20},
		{Text: "cat", Start: 0.20, End: 0.55},
		{Text: "sat", Start: 0.55, End: 0.90},
	}
}

func TestPointSelect_WordMode(t *testing.T) {
	m := NewModel()
	m.SetWords(catWords())

	m.PointSelect(0.30, WordMode) // inside "cat"
	sp, ok := m.Selection()
	if !ok {
		t.Fatal("no selection")
	}
	if sp.StartIdx != 1 || sp.EndIdx != 1 {
		t.Errorf("indices = [%d,%d], want [1,1]", sp.StartIdx, sp.EndIdx)
	}
	if sp.StartSeconds != 0.20 || sp.EndSeconds != 0.55 {
		t.Errorf("times = [%v,%v], want [0.20,0.55]", sp.StartSeconds, sp.EndSeconds)
	}
}

func TestPointSelect_GapResolvesNearest(t *testing.T) {
	words := []transcript.Word{
		{Text: "a", Start: 0.0, End: 0.5},
		{Text: "b", Start: 2.0, End: 2.5},
	}
	m := NewModel()
	m.SetWords(words)

	m.PointSelect(0.7, WordMode) // gap, closer to "a"
	if sp, _ := m.Selection(); sp.StartIdx != 0 {
		t.Errorf("selected %d, want 0", sp.StartIdx)
	}
	m.PointSelect(1.8, WordMode) // gap, closer to "b"
	if sp, _ := m.Selection(); sp.StartIdx != 1 {
		t.Errorf("selected %d, want 1", sp.StartIdx)
	}
}

func TestComputeBlocks_GapThreshold(t *testing.T) {
	// Inter-word gaps 0.05, 0.40, 0.05 with threshold 0.25 split at
	// the 0.40 gap, producing exactly 2 blocks.
	words := []transcript.Word{
		{Text: "one", Start: 0.00, End: 0.30},
		{Text: "two", Start: 0.35, End: 0.60},
		{Text: "three", Start: 1.00, End: 1.30},
		{Text: "four", Start: 1.35, End: 1.60},
	}
	blocks := ComputeBlocks(words, 0.25)
	if len(blocks) != 2 {
		t.Fatalf("got %d blocks, want 2: %v", len(blocks), blocks)
	}
	if blocks[0] != (Block{StartIdx: 0, EndIdx: 1}) {
		t.Errorf("block 0 = %+v, want {0 1}", blocks[0])
	}
	if blocks[1] != (Block{StartIdx: 2, EndIdx: 3}) {
		t.Errorf("block 1 = %+v, want {2 3}", blocks[1])
	}
}

func TestPointSelect_BlockMode(t *testing.T) {
	words := []transcript.Word{
		{Text: "one", Start: 0.00, End: 0.30},
		{Text: "two", Start: 0.35, End: 0.60},
		{Text: "three", Start: 1.00, End: 1.30},
	}
	m := NewModel()
	m.SetWords(words)

	m.PointSelect(0.4, BlockMode)
	sp, ok := m.Selection()
	if !ok {
		t.Fatal("no selection")
	}
	if sp.StartIdx != 0 || sp.EndIdx != 1 {
		t.Errorf("indices = [%d,%d], want [0,1]", sp.StartIdx, sp.EndIdx)
	}
}

func TestDrag_SnapOnRelease(t *testing.T) {
	m := NewModel()
	words := catWords()
	m.SetWords(words)

	m.BeginDrag(0.05)
	m.DragTo(0.40)
	m.DragTo(0.88)
	m.EndDrag()

	sp, ok := m.Selection()
	if !ok {
		t.Fatal("no selection after drag")
	}
	// Committed range must equal word boundaries for some lo <= hi.
	if sp.StartIdx > sp.EndIdx {
		t.Fatalf("inverted range [%d,%d]", sp.StartIdx, sp.EndIdx)
	}
	if sp.StartSeconds != words[sp.StartIdx].Start {
		t.Errorf("start %v not snapped to word %d start %v",
			sp.StartSeconds, sp.StartIdx, words[sp.StartIdx].Start)
	}
	if sp.EndSeconds != words[sp.EndIdx].End {
		t.Errorf("end %v not snapped to word %d end %v",
			sp.EndSeconds, sp.EndIdx, words[sp.EndIdx].End)
	}
	if sp.StartIdx != 0 || sp.EndIdx != 2 {
		t.Errorf("indices = [%d,%d], want [0,2]", sp.StartIdx, sp.EndIdx)
	}
}

func TestDrag_ReversedDirection(t *testing.T) {
	m := NewModel()
	m.SetWords(catWords())

	m.BeginDrag(0.85) // "sat"
	m.DragTo(0.10)    // back to "the"
	m.EndDrag()

	sp, _ := m.Selection()
	if sp.StartIdx != 0 || sp.EndIdx != 2 {
		t.Errorf("indices = [%d,%d], want [0,2]", sp.StartIdx, sp.EndIdx)
	}
}

func TestEndDrag_ClampsInvertedSnap(t *testing.T) {
	// Overlapping words sharing an end time make the independent
	// nearest-start and nearest-end searches disagree: the end snaps
	// to word 0 while the start snaps to word 1.
	words := []transcript.Word{
		{Text: "loud", Start: 0.0, End: 1.0},
		{Text: "er", Start: 0.5, End: 1.0},
	}
	m := NewModel()
	m.SetWords(words)
	m.sel = &Range{StartIdx: 1, EndIdx: 1}
	m.dragging = true
	m.EndDrag()

	sp, ok := m.Selection()
	if !ok {
		t.Fatal("no selection")
	}
	if sp.EndIdx < sp.StartIdx {
		t.Errorf("inverted range survived snap: [%d,%d]", sp.StartIdx, sp.EndIdx)
	}
	if sp.StartIdx != 1 || sp.EndIdx != 1 {
		t.Errorf("indices = [%d,%d], want [1,1]", sp.StartIdx, sp.EndIdx)
	}
}

func TestShiftExtend_KeepsStart(t *testing.T) {
	m := NewModel()
	m.SetWords(catWords())

	m.PointSelect(0.1, WordMode) // "the"
	m.ShiftExtend(0.80)          // out to "sat"

	sp, _ := m.Selection()
	if sp.StartIdx != 0 || sp.EndIdx != 2 {
		t.Errorf("indices = [%d,%d], want [0,2]", sp.StartIdx, sp.EndIdx)
	}
}

func TestSetWords_ClampOrClear(t *testing.T) {
	m := NewModel()
	m.SetWords(catWords())
	m.SelectRange(1, 2)

	// Shorter replacement still covering the start index: clamp.
	m.SetWords(catWords()[:2])
	sp, ok := m.Selection()
	if !ok {
		t.Fatal("selection should survive clamped")
	}
	if sp.StartIdx != 1 || sp.EndIdx != 1 {
		t.Errorf("indices = [%d,%d], want [1,1]", sp.StartIdx, sp.EndIdx)
	}

	// Replacement shorter than the previous start index: clear.
	m.SelectRange(1, 1)
	m.SetWords(catWords()[:1])
	if _, ok := m.Selection(); ok {
		t.Error("selection should be cleared")
	}

	// Empty transcript always clears.
	m.SelectRange(0, 0)
	m.SetWords(nil)
	if _, ok := m.Selection(); ok {
		t.Error("selection should be cleared on empty transcript")
	}
}

func TestEmptyTranscript_AllOpsNoop(t *testing.T) {
	m := NewModel()
	m.PointSelect(1.0, WordMode)
	m.BeginDrag(0.5)
	m.DragTo(1.5)
	m.EndDrag()
	m.ShiftExtend(2.0)
	m.SelectRange(0, 3)
	if _, ok := m.Selection(); ok {
		t.Error("empty transcript must never produce a selection")
	}
	if blocks := m.Blocks(); len(blocks) != 0 {
		t.Errorf("blocks = %v, want none", blocks)
	}
}

func TestSelectSegment(t *testing.T) {
	m := NewModel()
	m.SetWords(catWords())

	ok := m.SelectSegment(transcript.Segment{Text: "the cat", Start: 0.0, End: 0.55})
	if !ok {
		t.Fatal("segment select failed")
	}
	sp, _ := m.Selection()
	if sp.StartIdx != 0 || sp.EndIdx != 1 {
		t.Errorf("indices = [%d,%d], want [0,1]", sp.StartIdx, sp.EndIdx)
	}
}

func TestSelectPhrase(t *testing.T) {
	m := NewModel()
	m.SetWords([]transcript.Word{
		{Text: "The", Start: 0, End: 1},
		{Text: "quick,", Start: 1, End: 2},
		{Text: "brown", Start: 2, End: 3},
		{Text: "fox.", Start: 3, End: 4},
	})

	if !m.SelectPhrase("quick brown fox") {
		t.Fatal("phrase not found")
	}
	sp, _ := m.Selection()
	if sp.StartIdx != 1 || sp.EndIdx != 3 {
		t.Errorf("indices = [%d,%d], want [1,3]", sp.StartIdx, sp.EndIdx)
	}

	if m.SelectPhrase("lazy dog") {
		t.Error("phrase match should fail")
	}
}

func TestSetBlockGap_Recomputes(t *testing.T) {
	words := []transcript.Word{
		{Text: "a", Start: 0.0, End: 0.3},
		{Text: "b", Start: 0.5, End: 0.8}, // gap 0.2
	}
	m := NewModel()
	m.SetWords(words)

	if got := len(m.Blocks()); got != 1 {
		t.Fatalf("blocks = %d, want 1 at default gap", got)
	}
	m.SetBlockGap(0.1)
	if got := len(m.Blocks()); got != 2 {
		t.Errorf("blocks = %d, want 2 after tightening gap", got)
	}
}
