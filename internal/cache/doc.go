// Package cache is the two-tier prediction cache.
//
// The fast tier is an in-process LRU split into shards, each with its own
// mutex, so parallel sweep workers only contend when they hash to the same
// shard. A user's entries always land in one shard, which keeps per-user
// invalidation to a single lock.
//
// The persistent tier is any Tier implementation (Postgres, Redis or
// DynamoDB). Its failures are reported as *BackendError and the Cache
// treats them as misses: recomputing is always correct.
//
// Every entry carries the model version it was computed under. A lookup
// only serves an entry whose version is still the active one, so a model
// swap invalidates old entries lazily on the next read even before the
// bulk InvalidateModelVersion sweep reaches them.
package cache
