// Package cache provides LRU caching for blob blocks and node pages.
//
// The ShardedLRUBlockCache spreads keys over 16 shards with a per-shard
// mutex and charges every cached byte to the resource controller, so block
// caches of several stores share one memory budget.
package cache
