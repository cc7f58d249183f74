package chain

import (
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Checkpoint is a trusted (hash, height) anchor used to bound header sync.
// Immutable after construction.
type Checkpoint struct {
	Hash   chainhash.Hash
	Height int64
}

func (c Checkpoint) String() string {
	return fmt.Sprintf("%s@%d", c.Hash.String(), c.Height)
}

// CheckpointSet is an ordered list of trust anchors. Construction sorts the
// input ascending by height; only the highest entry is ever consulted, so
// duplicate heights are tolerated without further normalization.
type CheckpointSet struct {
	checkpoints []Checkpoint
}

// NewCheckpointSet copies and sorts the given checkpoints by height.
func NewCheckpointSet(checkpoints []Checkpoint) CheckpointSet {
	sorted := make([]Checkpoint, len(checkpoints))
	copy(sorted, checkpoints)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Height < sorted[j].Height
	})
	return CheckpointSet{checkpoints: sorted}
}

// Empty reports whether the set has no checkpoints.
func (s CheckpointSet) Empty() bool {
	return len(s.checkpoints) == 0
}

// Len returns the number of checkpoints in the set.
func (s CheckpointSet) Len() int {
	return len(s.checkpoints)
}

// Back returns the highest checkpoint, or the zero Checkpoint if the set is
// empty.
func (s CheckpointSet) Back() Checkpoint {
	if len(s.checkpoints) == 0 {
		return Checkpoint{}
	}
	return s.checkpoints[len(s.checkpoints)-1]
}
