// Package session keeps the in-memory registry of browser client sessions.
//
// Sessions are identified by random UUIDs, carry a small fixed attribute set,
// and expire after a configurable idle period. A Janitor sweeps idle records
// in the background; request handlers never pay for eviction.
package session
