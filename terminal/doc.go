// Package terminal shares one interactive shell per workspace between any
// number of viewers.
//
// The first viewer to join a workspace opens a TTY exec in the workspace
// container; later viewers subscribe to the same stream and receive the
// scroll-back history before live output. Output is fanned out through the
// realtime hub to the room "terminal:<workspace id>". Every subscriber may
// type; input from several viewers is interleaved into the one shell.
//
// A session ends when its last viewer leaves, when the shell exits, or when
// it has been idle for longer than the configured timeout. Joining again
// afterwards starts a fresh shell with a new session id.
package terminal
