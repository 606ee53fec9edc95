// Package polycache is a cache facade over interchangeable byte stores. One
// capability contract (backend.Store) is implemented by in-memory, memcached,
// redis and bigcache adapters; the facade layers namespacing, value codecs,
// timeout handling and optional-capability composition on top, so call sites
// never care which backend is wired in.
//
// Components:
//   - backend.Store: byte store with per-entry TTL (memory, memcached, redis, bigcache).
//   - codec.Codec: (de)serializes values <-> []byte. JSON by default.
//   - Cache: the namespaced service callers hold.
//
// Keys:
//
//	<ns>::<key> - every stored entry; one namespace per Cache instance
//
// Usage:
//
//	store := memory.New(memory.Config{})
//	cache, _ := polycache.New(polycache.Options{Namespace: "user", Store: store})
//	_ = cache.Set(ctx, "1", profile, polycache.ExpireIn(10*time.Minute))
//	v, ok, _ := cache.Get(ctx, "1")
//
// Backends differ in what they can promise; the optional GetSetter and Popper
// capabilities are detected per store and emulated (non-atomically) where
// missing. See the backend package for the exact contract.
package polycache
