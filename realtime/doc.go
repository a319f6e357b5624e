// Package realtime tracks live connections, rooms and presence, and fans
// typed events out to them.
//
// A Hub owns all connection state on a single goroutine. Transports (the
// websocket Client, or anything implementing Conn) register with the hub and
// only ever receive events through Conn.Send, which must not block.
//
// Rooms are plain strings. A workspace room is the workspace id; terminal
// output goes to "terminal:<id>".
package realtime
