package store

import (
	"encoding/binary"
	"encoding/json"
	"math/big"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/umee-network/fundme/ledger"
)

const (
	stateKey      = "ledger:state"
	balancePrefix = "balance:"
	noncePrefix   = "nonce:"
)

// Snapshot is everything the service persists after a mutating request.
type Snapshot struct {
	State    *ledger.State
	Balances map[common.Address]*big.Int
	Nonces   map[common.Address]uint64
}

// Store persists snapshots in LevelDB.
type Store struct {
	db *leveldb.DB
}

// Open opens (or creates) a store under path.
func Open(path string) (*Store, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, errors.New("store path required")
	}

	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve store path")
	}

	db, err := leveldb.OpenFile(abs, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open leveldb at %s", abs)
	}

	return &Store{db: db}, nil
}

// OpenMemory returns a store that lives in memory only.
func OpenMemory() (*Store, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open in-memory leveldb")
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}

	return s.db.Close()
}

// Commit replaces the persisted snapshot in a single atomic batch.
func (s *Store) Commit(snap *Snapshot) error {
	if snap == nil || snap.State == nil {
		return errors.New("snapshot has no ledger state")
	}

	rawState, err := json.Marshal(snap.State)
	if err != nil {
		return errors.Wrap(err, "failed to encode ledger state")
	}

	batch := new(leveldb.Batch)

	for _, prefix := range []string{balancePrefix, noncePrefix} {
		iter := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
		for iter.Next() {
			batch.Delete(append([]byte(nil), iter.Key()...))
		}
		iter.Release()

		if err := iter.Error(); err != nil {
			return errors.Wrapf(err, "failed to iterate %s keys", prefix)
		}
	}

	batch.Put([]byte(stateKey), rawState)

	for addr, amount := range snap.Balances {
		if amount == nil || amount.Sign() <= 0 {
			continue
		}
		batch.Put(balanceKey(addr), amount.Bytes())
	}

	for addr, nonce := range snap.Nonces {
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], nonce)
		batch.Put(nonceKey(addr), buf[:])
	}

	if err := s.db.Write(batch, nil); err != nil {
		return errors.Wrap(err, "failed to write snapshot")
	}

	return nil
}

// Load returns the last committed snapshot. ok is false when nothing was committed.
func (s *Store) Load() (snap *Snapshot, ok bool, err error) {
	rawState, err := s.db.Get([]byte(stateKey), nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		return nil, false, nil
	case err != nil:
		return nil, false, errors.Wrap(err, "failed to read ledger state")
	}

	snap = &Snapshot{
		State:    new(ledger.State),
		Balances: make(map[common.Address]*big.Int),
		Nonces:   make(map[common.Address]uint64),
	}

	if err := json.Unmarshal(rawState, snap.State); err != nil {
		return nil, false, errors.Wrap(err, "failed to decode ledger state")
	}

	iter := s.db.NewIterator(util.BytesPrefix([]byte(balancePrefix)), nil)
	for iter.Next() {
		addr := common.HexToAddress(strings.TrimPrefix(string(iter.Key()), balancePrefix))
		snap.Balances[addr] = new(big.Int).SetBytes(iter.Value())
	}
	iter.Release()

	if err := iter.Error(); err != nil {
		return nil, false, errors.Wrap(err, "failed to read balances")
	}

	iter = s.db.NewIterator(util.BytesPrefix([]byte(noncePrefix)), nil)
	for iter.Next() {
		if len(iter.Value()) != 8 {
			iter.Release()
			return nil, false, errors.Errorf("corrupt nonce entry %q", iter.Key())
		}

		addr := common.HexToAddress(strings.TrimPrefix(string(iter.Key()), noncePrefix))
		snap.Nonces[addr] = binary.BigEndian.Uint64(iter.Value())
	}
	iter.Release()

	if err := iter.Error(); err != nil {
		return nil, false, errors.Wrap(err, "failed to read nonces")
	}

	return snap, true, nil
}

func balanceKey(addr common.Address) []byte {
	return []byte(balancePrefix + addr.Hex())
}

func nonceKey(addr common.Address) []byte {
	return []byte(noncePrefix + addr.Hex())
}
