// Package transport provides the message-oriented WebSocket connection to
// the hub.
//
// # Design
//
// One WSTransport carries exactly one connection. Start dials and begins a
// single read goroutine; Stop (or an abnormal closure) ends it, and the
// transport is then spent. A reconnecting owner builds a fresh transport per
// attempt, which keeps connection state trivially single-owner.
//
// # Events
//
// OnData fires on the read goroutine with each raw WebSocket message. The
// read goroutine must never be stalled behind slow consumers, so OnData
// handlers hand the bytes to the delivery bridge and return. OnDisconnect
// fires exactly once per connection: nil reason for an intentional Stop or
// clean close handshake, a wrapped ErrAbnormalClosure otherwise.
package transport
