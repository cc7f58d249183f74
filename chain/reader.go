package chain

import "github.com/btcsuite/btcd/wire"

// Reader provides read access to the persisted header chain. Implemented by
// the header store; consumed by the sync session's range resolution.
type Reader interface {
	// LastHeight returns the height of the highest stored header.
	LastHeight() (int64, error)

	// GapRange reports the boundaries of the lowest run of missing headers
	// below the tip. ok is false when the stored chain is contiguous.
	GapRange() (first, last int64, ok bool)

	// HeaderAt returns the stored header at the given height.
	HeaderAt(height int64) (*wire.BlockHeader, error)
}
