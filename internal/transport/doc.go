// Package transport wraps a single TCP connection with the send and receive
// contract the proxy pipeline relies on: Send writes everything or fails,
// Receive is a lazy, single-use sequence of chunks that ends at orderly
// close, and Close is idempotent.
//
// Every blocking call is split into PollInterval steps so that a cancelled
// context or an expired per-connection deadline is noticed at each
// suspension point.
package transport
