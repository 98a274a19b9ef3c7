package storage

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/chorus-fed/conductor/common"
	"github.com/chorus-fed/conductor/types"
)

// SeenCache drops replayed peer messages. Entries are keyed by
// (sender, message digest) and expire after the configured TTL, after which
// the same message is accepted and re-processed. Volatile: never persisted.
type SeenCache struct {
	lru *expirable.LRU[common.Hash, struct{}]
}

// seenCacheSize bounds memory; the TTL is the primary eviction mechanism.
const seenCacheSize = 1 << 18

// NewSeenCache builds a cache with the given TTL.
func NewSeenCache(ttl time.Duration) *SeenCache {
	return &SeenCache{
		lru: expirable.NewLRU[common.Hash, struct{}](seenCacheSize, nil, ttl),
	}
}

func seenKey(sender types.ValidatorId, digest common.Hash) common.Hash {
	return common.Blake2HashConcat(sender.Bytes(), digest.Bytes())
}

// Seen records the message and reports whether it was already present.
func (c *SeenCache) Seen(sender types.ValidatorId, digest common.Hash) bool {
	key := seenKey(sender, digest)
	if _, ok := c.lru.Get(key); ok {
		return true
	}
	c.lru.Add(key, struct{}{})
	return false
}

// Contains reports presence without recording.
func (c *SeenCache) Contains(sender types.ValidatorId, digest common.Hash) bool {
	_, ok := c.lru.Get(seenKey(sender, digest))
	return ok
}

// IdempotencyCache maps submission idempotency keys to their original batch
// id within the TTL window.
type IdempotencyCache struct {
	lru *expirable.LRU[string, common.Hash]
}

// NewIdempotencyCache builds a cache with the given TTL.
func NewIdempotencyCache(ttl time.Duration) *IdempotencyCache {
	return &IdempotencyCache{
		lru: expirable.NewLRU[string, common.Hash](seenCacheSize, nil, ttl),
	}
}

// Lookup returns the batch id recorded for a key.
func (c *IdempotencyCache) Lookup(key string) (common.Hash, bool) {
	return c.lru.Get(key)
}

// Record stores the batch id for a key.
func (c *IdempotencyCache) Record(key string, batchId common.Hash) {
	c.lru.Add(key, batchId)
}
