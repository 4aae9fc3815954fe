// Package hub implements the client side of the hub wire protocol.
//
// # Protocol
//
// Frames are JSON documents terminated by a 0x1E record separator. A session
// opens with a handshake ({"protocol":"json","version":1}); the hub answers
// with an empty object, or an object carrying an error string on rejection.
// After the handshake, frames carry a numeric type: invocations (1) are
// handed to the owner in arrival order, pings (6) refresh the liveness
// clock, and a close (7) ends the session.
//
// # Lifecycle
//
// Client owns everything between the raw socket and the owner's message
// callback. Each connection attempt builds a fresh transport and delivery
// bridge; keepalive pings and server-silence detection run as a polling
// timer on the shared scheduler. An abnormal closure is handed to the
// reconnection supervisor, which re-enters the same establishment path with
// backoff. The owner sees one terminal disconnected notification per
// episode, never a silent hang.
//
// All deferred work — delivery, keepalive, handshake timeout, backoff —
// shares the one scheduler injected at construction.
package hub
