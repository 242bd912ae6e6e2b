// Package pipeline drives one proxied connection from the accepted client
// socket to cleanup.
//
// A Pipeline reads the client's request header block, resolves the Host it
// names, connects upstream, forwards the request bytes verbatim and relays
// the response back until the upstream closes:
//
//	Idle -> ParsingRequest -> ResolvingHost -> ConnectingUpstream ->
//	ForwardingRequest -> RelayingResponse -> Cleanup -> Done
//
// Any step before the relay can move to Failed instead. Every run, failed or
// not, goes through Cleanup, which closes both connections exactly once.
// Pipelines share nothing with each other.
package pipeline
