// Package storage persists the canonical consensus state: blocks, canonical
// day proofs, blacklist entries, and validator-set snapshots, each under its
// own namespace with write-once discipline keyed by primary key.
package storage

import (
	"fmt"
	"sync"

	"github.com/chorus-fed/conductor/codec"
	"github.com/chorus-fed/conductor/common"
	"github.com/chorus-fed/conductor/conderrors"
	"github.com/chorus-fed/conductor/log"
	"github.com/chorus-fed/conductor/types"
)

// Key namespaces. Records are self-framed by the canonical codec.
const (
	nsBlock        = "block/"
	nsDayProof     = "day_proof/"
	nsBlacklist    = "blacklist/"
	nsValidatorSet = "validator_set/"
	nsMeta         = "meta/"
)

// Meta keys.
const (
	metaGenesisSeed = nsMeta + "genesis_seed"
	metaActiveSet   = nsMeta + "active_set_day"
)

// Store layers conductor record semantics over the raw persistence store.
// Writes to canonical namespaces are serialized per store and are
// write-if-absent: a second write under the same primary key fails.
type Store struct {
	mu sync.Mutex
	ps *PersistenceStore
}

// NewStore wraps an opened persistence store.
func NewStore(ps *PersistenceStore) *Store {
	return &Store{ps: ps}
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.ps.Close()
}

func blockKey(epoch uint64) []byte {
	return append([]byte(nsBlock), common.Uint64ToBytes(epoch)...)
}

func dayProofKey(day uint64) []byte {
	return append([]byte(nsDayProof), common.Uint64ToBytes(day)...)
}

func blacklistKey(id types.ValidatorId) []byte {
	return append([]byte(nsBlacklist), id.Bytes()...)
}

func validatorSetKey(day uint64) []byte {
	return append([]byte(nsValidatorSet), common.Uint64ToBytes(day)...)
}

// putOnce writes value under key only if the key is absent.
func (s *Store) putOnce(key []byte, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, found, err := s.ps.Get(key)
	if err != nil {
		return err
	}
	if found {
		return conderrors.ErrDConflict
	}
	return s.ps.Put(key, value)
}

// PutBlock persists a finalized block. Commit is write-once per epoch;
// a second commit is rejected with ErrCAlreadyCommitted.
func (s *Store) PutBlock(block *types.Block) error {
	enc, err := codec.Encode(block)
	if err != nil {
		return err
	}
	if err := s.putOnce(blockKey(block.Epoch), enc); err != nil {
		if err == conderrors.ErrDConflict {
			return conderrors.ErrCAlreadyCommitted
		}
		return err
	}
	log.Debug(log.StoreMonitoring, "block persisted", "epoch", block.Epoch, "events", len(block.Events))
	return nil
}

// GetBlock loads the block for an epoch.
func (s *Store) GetBlock(epoch uint64) (*types.Block, error) {
	data, found, err := s.ps.Get(blockKey(epoch))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, conderrors.ErrDNotFound
	}
	var block types.Block
	if err := codec.Decode(data, &block); err != nil {
		return nil, fmt.Errorf("%w: block/%d: %v", conderrors.ErrDCorruption, epoch, err)
	}
	return &block, nil
}

// LastCommittedEpoch scans for the highest persisted epoch, or false when no
// block exists. Used for crash-restart recovery.
func (s *Store) LastCommittedEpoch() (uint64, bool, error) {
	pairs, err := s.ps.GetWithPrefix([]byte(nsBlock))
	if err != nil {
		return 0, false, err
	}
	var best uint64
	found := false
	for _, kv := range pairs {
		key := kv[0][len(nsBlock):]
		epoch := common.BytesToUint64(key)
		if !found || epoch > best {
			best = epoch
		}
		found = true
	}
	return best, found, nil
}

// PutCanonicalDayProof persists a quorum-certified day proof. Write-once per
// day.
func (s *Store) PutCanonicalDayProof(proof *types.CanonicalDayProof) error {
	enc, err := codec.Encode(proof)
	if err != nil {
		return err
	}
	return s.putOnce(dayProofKey(proof.Proof.DayNumber), enc)
}

// GetCanonicalDayProof loads the canonical proof for a day.
func (s *Store) GetCanonicalDayProof(day uint64) (*types.CanonicalDayProof, error) {
	data, found, err := s.ps.Get(dayProofKey(day))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, conderrors.ErrDNotFound
	}
	var proof types.CanonicalDayProof
	if err := codec.Decode(data, &proof); err != nil {
		return nil, fmt.Errorf("%w: day_proof/%d: %v", conderrors.ErrDCorruption, day, err)
	}
	return &proof, nil
}

// LastCanonicalDay returns the highest day with a canonical proof, or false
// at genesis.
func (s *Store) LastCanonicalDay() (uint64, bool, error) {
	pairs, err := s.ps.GetWithPrefix([]byte(nsDayProof))
	if err != nil {
		return 0, false, err
	}
	var best uint64
	found := false
	for _, kv := range pairs {
		day := common.BytesToUint64(kv[0][len(nsDayProof):])
		if !found || day > best {
			best = day
		}
		found = true
	}
	return best, found, nil
}

// PruneDayProofs removes canonical proofs older than keepBefore, honoring
// the retention floor decided by the caller.
func (s *Store) PruneDayProofs(keepBefore uint64) error {
	pairs, err := s.ps.GetWithPrefix([]byte(nsDayProof))
	if err != nil {
		return err
	}
	for _, kv := range pairs {
		day := common.BytesToUint64(kv[0][len(nsDayProof):])
		if day < keepBefore {
			if err := s.ps.Delete(kv[0]); err != nil {
				return err
			}
		}
	}
	return nil
}

// PutBlacklistEntry persists a committed blacklist entry. A validator
// appears in at most one active entry.
func (s *Store) PutBlacklistEntry(entry *types.BlacklistEntry) error {
	enc, err := codec.Encode(entry)
	if err != nil {
		return err
	}
	return s.putOnce(blacklistKey(entry.ValidatorId), enc)
}

// DeleteBlacklistEntry removes an entry after a committed unblacklist ballot.
func (s *Store) DeleteBlacklistEntry(id types.ValidatorId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ps.Delete(blacklistKey(id))
}

// GetBlacklistEntry loads the active entry for a validator, if any.
func (s *Store) GetBlacklistEntry(id types.ValidatorId) (*types.BlacklistEntry, error) {
	data, found, err := s.ps.Get(blacklistKey(id))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, conderrors.ErrDNotFound
	}
	var entry types.BlacklistEntry
	if err := codec.Decode(data, &entry); err != nil {
		return nil, fmt.Errorf("%w: blacklist: %v", conderrors.ErrDCorruption, err)
	}
	return &entry, nil
}

// ListBlacklist returns every active blacklist entry.
func (s *Store) ListBlacklist() ([]types.BlacklistEntry, error) {
	pairs, err := s.ps.GetWithPrefix([]byte(nsBlacklist))
	if err != nil {
		return nil, err
	}
	entries := make([]types.BlacklistEntry, 0, len(pairs))
	for _, kv := range pairs {
		var entry types.BlacklistEntry
		if err := codec.Decode(kv[1], &entry); err != nil {
			return nil, fmt.Errorf("%w: blacklist: %v", conderrors.ErrDCorruption, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// PutValidatorSet snapshots the active set effective at a day. Write-once.
func (s *Store) PutValidatorSet(vs *types.ValidatorSet) error {
	enc, err := codec.Encode(vs)
	if err != nil {
		return err
	}
	if err := s.putOnce(validatorSetKey(vs.Day), enc); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ps.Put([]byte(metaActiveSet), common.Uint64ToBytes(vs.Day))
}

// GetValidatorSet loads the snapshot effective at a day.
func (s *Store) GetValidatorSet(day uint64) (*types.ValidatorSet, error) {
	data, found, err := s.ps.Get(validatorSetKey(day))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, conderrors.ErrDNotFound
	}
	var vs types.ValidatorSet
	if err := codec.Decode(data, &vs); err != nil {
		return nil, fmt.Errorf("%w: validator_set/%d: %v", conderrors.ErrDCorruption, day, err)
	}
	return &vs, nil
}

// ActiveValidatorSet loads the snapshot referenced by the meta pointer.
func (s *Store) ActiveValidatorSet() (*types.ValidatorSet, error) {
	data, found, err := s.ps.Get([]byte(metaActiveSet))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, conderrors.ErrDNotFound
	}
	return s.GetValidatorSet(common.BytesToUint64(data))
}

// InitGenesis records the genesis seed once; re-initialization with a
// different seed is a conflict.
func (s *Store) InitGenesis(seed []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, found, err := s.ps.Get([]byte(metaGenesisSeed))
	if err != nil {
		return err
	}
	if found {
		if string(existing) != string(seed) {
			return conderrors.ErrDConflict
		}
		return nil
	}
	return s.ps.Put([]byte(metaGenesisSeed), seed)
}

// GenesisSeed loads the recorded genesis seed.
func (s *Store) GenesisSeed() ([]byte, error) {
	data, found, err := s.ps.Get([]byte(metaGenesisSeed))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, conderrors.ErrDNotFound
	}
	return data, nil
}
