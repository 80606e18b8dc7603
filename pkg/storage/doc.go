// Package storage provides the per-origin persistence used by the identity
// client and the session core.
//
// # Overview
//
// Every app origin owns an isolated pair of key/value tiers plus a cookie jar:
//
//   - Local: long-lived entries (cached account, refresh token)
//   - Session: short-lived entries (pending PKCE verifier, state, nonce)
//   - Cookies: cookies set for the origin
//
// Nothing written by one origin is visible to another. The session core never
// reads individual entries; it only ever clears everything under the identity
// client's prefix through Adapter.ClearAll.
//
// # Backends
//
// MemoryStore keeps entries in a map and is used by the in-process host and
// tests. RedisStore keeps entries in Redis under a namespace derived from the
// origin and browser id:
//
//	client, err := storage.NewRedisClient(cfg)
//	local := storage.NewRedisStore(client, storage.Namespace(origin, browserID, "local"), 0)
//
// EphemeralStore is a size-bounded LRU whose entries expire after a TTL; it
// backs the Session tier when the short-lived entries should not outlive a
// login round trip.
//
// CookieJar adapts net/http/cookiejar (with the public suffix list) to the
// CookieStore interface.
package storage
