// Package journal persists connection lifecycle events to a local SQLite
// file.
//
// Devices running unattended for months need a record of when the hub link
// dropped, how many reconnect attempts it took to recover, and which frames
// were evicted under pressure. The journal is append-mostly: sessions get a
// start row and an end update, everything else is one event row. It is
// diagnostics, not a message store — losing it never affects delivery.
package journal
