package chain

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hashFromByte(b byte) chainhash.Hash {
	var h chainhash.Hash
	h[0] = b
	return h
}

func TestCheckpointSet_SortsByHeight(t *testing.T) {
	set := NewCheckpointSet([]Checkpoint{
		{Hash: hashFromByte(3), Height: 300},
		{Hash: hashFromByte(1), Height: 100},
		{Hash: hashFromByte(2), Height: 200},
	})

	require.Equal(t, 3, set.Len())
	assert.Equal(t, int64(300), set.Back().Height)
	assert.Equal(t, hashFromByte(3), set.Back().Hash)
}

func TestCheckpointSet_Empty(t *testing.T) {
	set := NewCheckpointSet(nil)
	assert.True(t, set.Empty())
	assert.Equal(t, Checkpoint{}, set.Back())

	set = NewCheckpointSet([]Checkpoint{{Height: 5}})
	assert.False(t, set.Empty())
}

func TestCheckpointSet_DoesNotMutateInput(t *testing.T) {
	input := []Checkpoint{
		{Height: 20},
		{Height: 10},
	}
	NewCheckpointSet(input)
	assert.Equal(t, int64(20), input[0].Height)
}
