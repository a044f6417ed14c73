// Package kvstore provides the durable local key-value store used for
// crisis-override persistence and subscription-state caching.
//
// The Store contract is deliberately small: Get, Set, Delete, with the one
// hard requirement that Set does not return success before the write is
// durable. The crisis override controller depends on that guarantee to
// survive process restarts.
//
// Three implementations are provided:
//
//   - MemoryStore: process-lifetime only, for tests and session-scoped
//     fallbacks.
//   - FileStore: one file per key, temp-write + fsync + atomic rename.
//     The default on-device store.
//   - RedisStore: go-redis backed, for deployments mirroring device state
//     to a sync service. ConnectRedis retries until the server is ready.
package kvstore
