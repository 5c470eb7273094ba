// Package hub implements the real-time connection and broadcast manager using the actor pattern.
//
// The Hub owns the client registry and the channel subscription index in a single goroutine
// (no mutexes on shared maps); all mutation goes through a buffered command channel.
// Per-connection write goroutines bound slow clients with write deadlines. A heartbeat
// sweep on the hub ticker evicts clients that miss the liveness window, and shutdown
// drains all connections within a bounded deadline.
package hub
