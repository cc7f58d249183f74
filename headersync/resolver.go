package headersync

import (
	"github.com/pkg/errors"

	"github.com/bitharbor/harbor-node/chain"
)

// resolveRange computes the (seed, stop) checkpoints bracketing the headers
// to download. The seed is a header we already have and is not downloaded;
// the stop is either a stored header or a configured checkpoint.
//
// When storage reports a gap below the tip, the gap boundaries become the
// effective range, so an interrupted sync resumes by filling the hole. The
// highest configured checkpoint overrides the stop whenever it lies beyond
// the (gap-adjusted) last height; in that case the gap is downloaded as
// part of the larger range toward the trusted anchor.
//
// seed == stop means the chain is already synced and there is nothing to
// download.
func resolveRange(reader chain.Reader, checkpoints chain.CheckpointSet) (seed, stop chain.Checkpoint, err error) {
	lastHeight, err := reader.LastHeight()
	if err != nil {
		return seed, stop, errors.Wrap(ErrOperationFailed, err.Error())
	}

	firstHeight := lastHeight
	if firstGap, lastGap, ok := reader.GapRange(); ok {
		lastHeight = lastGap + 1
		firstHeight = firstGap - 1
	}

	firstHeader, err := reader.HeaderAt(firstHeight)
	if err != nil {
		return seed, stop, errors.Wrapf(ErrNotFound, "header at height %d: %s", firstHeight, err)
	}

	switch {
	case !checkpoints.Empty() && checkpoints.Back().Height > lastHeight:
		stop = checkpoints.Back()

	case firstHeight == lastHeight:
		stop = chain.Checkpoint{Hash: firstHeader.BlockHash(), Height: firstHeight}

	default:
		lastHeader, err := reader.HeaderAt(lastHeight)
		if err != nil {
			return seed, stop, errors.Wrapf(ErrNotFound, "header at height %d: %s", lastHeight, err)
		}
		stop = chain.Checkpoint{Hash: lastHeader.BlockHash(), Height: lastHeight}
	}

	seed = chain.Checkpoint{Hash: firstHeader.BlockHash(), Height: firstHeight}
	return seed, stop, nil
}
