package headersync

import (
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"

	"github.com/bitharbor/harbor-node/chain"
)

// HeaderQueue accumulates the hashes of headers downloaded during a sync
// session, keyed implicitly by height offset from the seed. The node owns
// one queue for its lifetime; the session seeds it, the download protocol
// fills it toward the stop checkpoint.
//
// Callbacks from the channel's receive goroutine and the session driver may
// touch the queue concurrently, so all state is mutex-guarded.
type HeaderQueue struct {
	mtx         sync.Mutex
	firstHeight int64
	hashes      []chainhash.Hash
}

// NewHeaderQueue returns an empty queue.
func NewHeaderQueue() *HeaderQueue {
	return &HeaderQueue{}
}

// Empty reports whether the queue holds no hashes. A sync session requires
// an empty queue at initialization; anything else means a prior session left
// state behind.
func (q *HeaderQueue) Empty() bool {
	q.mtx.Lock()
	defer q.mtx.Unlock()
	return len(q.hashes) == 0
}

// Size returns the number of queued hashes, the seed included.
func (q *HeaderQueue) Size() int {
	q.mtx.Lock()
	defer q.mtx.Unlock()
	return len(q.hashes)
}

// Initialize seeds the queue with a checkpoint we already have. Headers
// enqueued afterward must link from it.
func (q *HeaderQueue) Initialize(seed chain.Checkpoint) {
	q.mtx.Lock()
	defer q.mtx.Unlock()
	q.firstHeight = seed.Height
	q.hashes = []chainhash.Hash{seed.Hash}
}

// Last returns the checkpoint at the queue's current tip.
func (q *HeaderQueue) Last() chain.Checkpoint {
	q.mtx.Lock()
	defer q.mtx.Unlock()
	if len(q.hashes) == 0 {
		return chain.Checkpoint{}
	}
	return chain.Checkpoint{
		Hash:   q.hashes[len(q.hashes)-1],
		Height: q.firstHeight + int64(len(q.hashes)) - 1,
	}
}

// Enqueue appends the hashes of headers, verifying each links to the hash
// before it. On a linkage failure the queue is left unchanged and the whole
// batch is rejected.
func (q *HeaderQueue) Enqueue(headers []*wire.BlockHeader) error {
	q.mtx.Lock()
	defer q.mtx.Unlock()

	if len(q.hashes) == 0 {
		return errors.New("queue not initialized")
	}

	previous := q.hashes[len(q.hashes)-1]
	incoming := make([]chainhash.Hash, 0, len(headers))
	for i, hdr := range headers {
		if hdr.PrevBlock != previous {
			height := q.firstHeight + int64(len(q.hashes)+i)
			return errors.Errorf("header at height %d does not link to %s", height, previous)
		}
		previous = hdr.BlockHash()
		incoming = append(incoming, previous)
	}

	q.hashes = append(q.hashes, incoming...)
	return nil
}
