package selection

import "github.com/redub/redub-engine/internal/transcript"

// DefaultBlockGap is the silence threshold separating speech blocks.
const DefaultBlockGap = 0.25

// Block is a run of consecutive words whose inter-word gaps are all
// at or below the configured silence threshold. Indices are inclusive
// into the current word sequence. Blocks are derived locally and
// recomputed whenever the words or the threshold change.
type Block struct {
	StartIdx int `json:"start_idx"`
	EndIdx   int `json:"end_idx"`
}

// ComputeBlocks groups words into blocks split at gaps > gapSeconds.
func ComputeBlocks(words []transcript.Word, gapSeconds float64) []Block {
	if len(words) == 0 {
		return nil
	}
	blocks := []Block{{StartIdx: 0}}
	for i := 1; i < len(words); i++ {
		gap := words[i].Start - words[i-1].End
		if gap > gapSeconds {
			blocks[len(blocks)-1].EndIdx = i - 1
			blocks = append(blocks, Block{StartIdx: i})
		}
	}
	blocks[len(blocks)-1].EndIdx = len(words) - 1
	return blocks
}

// blockContaining returns the block holding the given word index.
func blockContaining(blocks []Block, idx int) (Block, bool) {
	for _, b := range blocks {
		if idx >= b.StartIdx && idx <= b.EndIdx {
			return b, true
		}
	}
	return Block{}, false
}
