// Package relay implements the real-time event relay using the actor pattern.
//
// The Hub is a single goroutine owning the session registry and the client
// set; commands arrive on a buffered channel (no mutexes). Per-connection
// writer goroutines absorb slow sockets. The Dispatcher sits in front of the
// hub, decoding inbound frames and stamping authoritative fields before
// fan-out.
package relay
