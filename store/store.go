package store

import (
	"bytes"
	"encoding/binary"
	"sync"

	"github.com/btcsuite/btcd/wire"
	dbm "github.com/cometbft/cometbft-db"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
)

// headerCacheSize bounds the in-memory cache of recently loaded headers.
const headerCacheSize = 1024

var (
	// ErrNotFound is returned when no header is stored at a requested height.
	ErrNotFound = errors.New("header not found")
)

var (
	headerKeyPrefix = []byte("H:")
	baseKey         = []byte("chain:base")
	tipKey          = []byte("chain:tip")
)

/*
HeaderStore is a low level store for block headers, keyed by height.

Headers are written as they are imported, which may leave a run of missing
heights below the tip (a gap) after an interrupted sync. The store reports
the lowest such gap so the sync session can resolve a range that fills it.

Base and tip are tracked under dedicated metadata keys and cached in memory;
the mutex guards only those cached fields, the database provides its own
concurrency control for contents.
*/
type HeaderStore struct {
	db dbm.DB

	mtx  sync.RWMutex
	base int64
	tip  int64

	cache *lru.Cache[int64, *wire.BlockHeader]
}

// NewHeaderStore returns a HeaderStore backed by db, initialized from the
// persisted base/tip metadata.
func NewHeaderStore(db dbm.DB) (*HeaderStore, error) {
	cache, err := lru.New[int64, *wire.BlockHeader](headerCacheSize)
	if err != nil {
		return nil, err
	}

	s := &HeaderStore{db: db, base: -1, tip: -1, cache: cache}

	if s.base, err = s.loadMeta(baseKey); err != nil {
		return nil, errors.Wrap(err, "loading store base")
	}
	if s.tip, err = s.loadMeta(tipKey); err != nil {
		return nil, errors.Wrap(err, "loading store tip")
	}
	return s, nil
}

// Base returns the lowest stored header height, or -1 for an empty store.
func (s *HeaderStore) Base() int64 {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.base
}

// LastHeight implements chain.Reader. It fails only when the store holds no
// headers at all.
func (s *HeaderStore) LastHeight() (int64, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	if s.tip < 0 {
		return 0, errors.Wrap(ErrNotFound, "store is empty")
	}
	return s.tip, nil
}

// HeaderAt implements chain.Reader.
func (s *HeaderStore) HeaderAt(height int64) (*wire.BlockHeader, error) {
	if hdr, ok := s.cache.Get(height); ok {
		return hdr, nil
	}

	raw, err := s.db.Get(headerKey(height))
	if err != nil {
		return nil, errors.Wrapf(err, "reading header at height %d", height)
	}
	if raw == nil {
		return nil, ErrNotFound
	}

	hdr := new(wire.BlockHeader)
	if err := hdr.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, errors.Wrapf(err, "corrupt header at height %d", height)
	}

	s.cache.Add(height, hdr)
	return hdr, nil
}

// GapRange implements chain.Reader. It walks the stored heights in order and
// reports the first run of missing headers between base and tip.
func (s *HeaderStore) GapRange() (first, last int64, ok bool) {
	s.mtx.RLock()
	base, tip := s.base, s.tip
	s.mtx.RUnlock()

	if base < 0 || base == tip {
		return 0, 0, false
	}

	it, err := s.db.Iterator(headerKey(base), headerKey(tip+1))
	if err != nil {
		return 0, 0, false
	}
	defer it.Close()

	expected := base
	for ; it.Valid(); it.Next() {
		height := heightFromKey(it.Key())
		if height > expected {
			return expected, height - 1, true
		}
		expected = height + 1
	}
	return 0, 0, false
}

// PutHeader stores hdr at the given height and advances the base/tip
// metadata as needed.
func (s *HeaderStore) PutHeader(height int64, hdr *wire.BlockHeader) error {
	var buf bytes.Buffer
	if err := hdr.Serialize(&buf); err != nil {
		return errors.Wrapf(err, "serializing header at height %d", height)
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(headerKey(height), buf.Bytes()); err != nil {
		return err
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	base, tip := s.base, s.tip
	if base < 0 || height < base {
		base = height
	}
	if height > tip {
		tip = height
	}
	if err := batch.Set(baseKey, encodeHeight(base)); err != nil {
		return err
	}
	if err := batch.Set(tipKey, encodeHeight(tip)); err != nil {
		return err
	}
	if err := batch.WriteSync(); err != nil {
		return errors.Wrapf(err, "writing header at height %d", height)
	}

	s.base, s.tip = base, tip
	s.cache.Add(height, hdr)
	return nil
}

func (s *HeaderStore) loadMeta(key []byte) (int64, error) {
	raw, err := s.db.Get(key)
	if err != nil {
		return 0, err
	}
	if raw == nil {
		return -1, nil
	}
	return int64(binary.BigEndian.Uint64(raw)), nil
}

func headerKey(height int64) []byte {
	key := make([]byte, 0, len(headerKeyPrefix)+8)
	key = append(key, headerKeyPrefix...)
	return append(key, encodeHeight(height)...)
}

func heightFromKey(key []byte) int64 {
	return int64(binary.BigEndian.Uint64(key[len(headerKeyPrefix):]))
}

func encodeHeight(height int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(height))
	return buf
}
