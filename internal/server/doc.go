// Package server wires the HTTP surface: static client bundle, liveness and
// metrics endpoints, and the WebSocket upgrade that feeds the relay.
package server
