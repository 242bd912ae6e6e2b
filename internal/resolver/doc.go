// Package resolver maps destination host names to connectable addresses.
//
// The pipeline resolves every request's Host through one Resolver before it
// dials. Implementations cover the system resolver, a direct DNS client for
// a fixed server, a static host table and a TTL cache, and they compose with
// Chain.
package resolver
