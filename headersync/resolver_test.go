package headersync

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitharbor/harbor-node/chain"
)

// fakeReader is a scripted chain.Reader.
type fakeReader struct {
	lastHeight int64
	lastErr    error

	gapFirst, gapLast int64
	hasGap            bool

	headers map[int64]*wire.BlockHeader
}

func (r *fakeReader) LastHeight() (int64, error) {
	return r.lastHeight, r.lastErr
}

func (r *fakeReader) GapRange() (int64, int64, bool) {
	return r.gapFirst, r.gapLast, r.hasGap
}

func (r *fakeReader) HeaderAt(height int64) (*wire.BlockHeader, error) {
	hdr, ok := r.headers[height]
	if !ok {
		return nil, errors.Errorf("no header at height %d", height)
	}
	return hdr, nil
}

// headerAt builds a deterministic, height-distinct header.
func headerAt(height int64) *wire.BlockHeader {
	var prev chainhash.Hash
	prev[0] = byte(height)
	prev[1] = byte(height >> 8)
	prev[2] = 0xa5
	return &wire.BlockHeader{Version: 1, PrevBlock: prev, Bits: 0x1d00ffff}
}

func readerWithHeaders(lastHeight int64, heights ...int64) *fakeReader {
	r := &fakeReader{lastHeight: lastHeight, headers: make(map[int64]*wire.BlockHeader)}
	for _, h := range heights {
		r.headers[h] = headerAt(h)
	}
	return r
}

func checkpointAt(height int64) chain.Checkpoint {
	var h chainhash.Hash
	h[0] = 0xcc
	h[1] = byte(height)
	return chain.Checkpoint{Hash: h, Height: height}
}

func TestResolveRange_GapPrecedence(t *testing.T) {
	// A gap [10,20] below a tip at 30 targets filling [9,21], not the tip.
	r := readerWithHeaders(30, 9, 21)
	r.hasGap, r.gapFirst, r.gapLast = true, 10, 20

	seed, stop, err := resolveRange(r, chain.NewCheckpointSet(nil))
	require.NoError(t, err)

	assert.Equal(t, int64(9), seed.Height)
	assert.Equal(t, headerAt(9).BlockHash(), seed.Hash)
	assert.Equal(t, int64(21), stop.Height)
	assert.Equal(t, headerAt(21).BlockHash(), stop.Hash)
}

func TestResolveRange_CheckpointOverride(t *testing.T) {
	// No gap, tip at 100, highest checkpoint at 500: the stop is the
	// checkpoint, not the local tip.
	r := readerWithHeaders(100, 100)
	cp := checkpointAt(500)

	seed, stop, err := resolveRange(r, chain.NewCheckpointSet([]chain.Checkpoint{cp}))
	require.NoError(t, err)

	assert.Equal(t, int64(100), seed.Height)
	assert.Equal(t, cp, stop)
}

func TestResolveRange_CheckpointBeatsGapTarget(t *testing.T) {
	// A checkpoint beyond the gap-adjusted last height subsumes the gap
	// into the larger range toward the anchor.
	r := readerWithHeaders(30, 9, 21)
	r.hasGap, r.gapFirst, r.gapLast = true, 10, 20
	cp := checkpointAt(500)

	seed, stop, err := resolveRange(r, chain.NewCheckpointSet([]chain.Checkpoint{cp}))
	require.NoError(t, err)

	assert.Equal(t, int64(9), seed.Height)
	assert.Equal(t, cp, stop)
}

func TestResolveRange_CheckpointComparedToAdjustedBound(t *testing.T) {
	// The checkpoint is compared against the gap-adjusted last height (21),
	// not the raw tip (30): an anchor at 25 wins even though it is below
	// the tip.
	r := readerWithHeaders(30, 9, 21)
	r.hasGap, r.gapFirst, r.gapLast = true, 10, 20
	cp := checkpointAt(25)

	_, stop, err := resolveRange(r, chain.NewCheckpointSet([]chain.Checkpoint{cp}))
	require.NoError(t, err)
	assert.Equal(t, cp, stop)
}

func TestResolveRange_CheckpointAtBoundIgnored(t *testing.T) {
	// A checkpoint exactly at the adjusted last height does not override.
	r := readerWithHeaders(30, 9, 21)
	r.hasGap, r.gapFirst, r.gapLast = true, 10, 20
	cp := checkpointAt(21)

	_, stop, err := resolveRange(r, chain.NewCheckpointSet([]chain.Checkpoint{cp}))
	require.NoError(t, err)
	assert.Equal(t, headerAt(21).BlockHash(), stop.Hash)
}

func TestResolveRange_AlreadySynced(t *testing.T) {
	// checkpoints = [], last height 0, no gap: the range collapses to the
	// single already-known point.
	r := readerWithHeaders(0, 0)

	seed, stop, err := resolveRange(r, chain.NewCheckpointSet(nil))
	require.NoError(t, err)
	assert.Equal(t, seed, stop)
	assert.Equal(t, int64(0), seed.Height)
	assert.Equal(t, headerAt(0).BlockHash(), seed.Hash)
}

func TestResolveRange_StorageFailure(t *testing.T) {
	r := &fakeReader{lastErr: errors.New("db closed")}

	_, _, err := resolveRange(r, chain.NewCheckpointSet(nil))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOperationFailed))
}

func TestResolveRange_MissingSeedHeader(t *testing.T) {
	r := readerWithHeaders(10) // nothing stored

	_, _, err := resolveRange(r, chain.NewCheckpointSet(nil))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestResolveRange_MissingStopHeader(t *testing.T) {
	r := readerWithHeaders(30, 9) // gap path, boundary header at 21 missing
	r.hasGap, r.gapFirst, r.gapLast = true, 10, 20

	_, _, err := resolveRange(r, chain.NewCheckpointSet(nil))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}
