package ledger

import (
	"bytes"
	"fmt"
	"os"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"github.com/yield-vault/aavevault/internal/logger"
)

const (
	// StoreCacheMB is the LevelDB block cache size in MB. The ledger is a
	// small key space, one key per holder plus the supply counter.
	StoreCacheMB = 16

	// StoreHandles is the maximum number of open file handles for LevelDB.
	StoreHandles = 16
)

var (
	balancePrefix = []byte("bal:")
	totalKey      = []byte("total")
)

// Store persists share balances and the share supply.
type Store struct {
	db     ethdb.Database
	mu     sync.RWMutex
	closed bool
	log    zerolog.Logger
}

// NewStore opens the LevelDB ledger store at path, or an in-memory store
// when path is empty.
func NewStore(path string) (*Store, error) {
	if path == "" {
		return NewMemoryStore(), nil
	}
	lg := logger.GetForComponent("ledger-store")
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("create ledger directory %s: %w", path, err)
	}
	ldb, err := leveldb.New(path, StoreCacheMB, StoreHandles, "", false)
	if err != nil {
		return nil, fmt.Errorf("open ledger database %s: %w", path, err)
	}
	lg.Info().Str("path", path).Msg("opened persistent ledger storage")
	return &Store{db: rawdb.NewDatabase(ldb), log: lg}, nil
}

// NewMemoryStore returns an in-memory store.
func NewMemoryStore() *Store {
	lg := logger.GetForComponent("ledger-store")
	lg.Debug().Msg("using in-memory ledger storage")
	return &Store{db: rawdb.NewMemoryDatabase(), log: lg}
}

func balanceKey(holder common.Address) []byte {
	return append(append([]byte{}, balancePrefix...), holder.Bytes()...)
}

func (s *Store) read(key []byte) (*uint256.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("ledger store is closed")
	}
	ok, err := s.db.Has(key)
	if err != nil {
		return nil, fmt.Errorf("lookup %q: %w", key, err)
	}
	if !ok {
		return new(uint256.Int), nil
	}
	data, err := s.db.Get(key)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", key, err)
	}
	return new(uint256.Int).SetBytes(data), nil
}

// Balance returns the persisted share balance of holder (zero if absent).
func (s *Store) Balance(holder common.Address) (*uint256.Int, error) {
	return s.read(balanceKey(holder))
}

// Total returns the persisted share supply.
func (s *Store) Total() (*uint256.Int, error) {
	return s.read(totalKey)
}

// write stores a holder balance and the supply in one batch. A zero
// balance removes the holder's key.
func (s *Store) write(holder common.Address, balance, total *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("ledger store is closed")
	}

	batch := s.db.NewBatch()
	if balance.IsZero() {
		if err := batch.Delete(balanceKey(holder)); err != nil {
			return err
		}
	} else {
		b := balance.Bytes32()
		if err := batch.Put(balanceKey(holder), b[:]); err != nil {
			return err
		}
	}
	t := total.Bytes32()
	if err := batch.Put(totalKey, t[:]); err != nil {
		return err
	}
	return batch.Write()
}

// ForEach calls fn for every holder with a non-zero balance, in key order.
func (s *Store) ForEach(fn func(holder common.Address, shares *uint256.Int) bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("ledger store is closed")
	}

	it := s.db.NewIterator(balancePrefix, nil)
	defer it.Release()
	for it.Next() {
		key := it.Key()
		if !bytes.HasPrefix(key, balancePrefix) {
			continue
		}
		holder := common.BytesToAddress(key[len(balancePrefix):])
		if !fn(holder, new(uint256.Int).SetBytes(it.Value())) {
			break
		}
	}
	return it.Error()
}

// Close gracefully closes the underlying database
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}
