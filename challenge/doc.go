// Package challenge implements the out-of-band approval state machine.
//
// A challenge is identified by a 24-character random identifier. Its first
// 8 alphanumeric characters form the code a human types into the side
// channel and the key the record is stored under; the identifier's raw
// bytes also seed a deterministic mnemonic phrase for human verification
// and are the payload of the expiring bearer token minted at creation.
//
// Records live in Redis with a store-enforced TTL and move through exactly
// one lifecycle: pending -> passed (via Pass) -> deleted (via TryConsume),
// with Cancel deleting from either state. Every check-then-write transition
// runs as a single server-side Lua script, so concurrent callers racing on
// the same code are linearized by Redis rather than interleaved here. The
// scripts re-check the full stored identifier against the one unsealed from
// the token, so a collision on the short code never grants access to
// another record.
//
// The package holds no mutable state of its own; the store client and the
// stateless seal codec are its only dependencies.
package challenge
