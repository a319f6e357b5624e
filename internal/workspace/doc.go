// Package workspace assigns host ports to workspaces and starts and stops
// their containers.
//
// Start never fails: when the container layer cannot provision a workspace,
// the caller gets a simulator URL (<fallback>/ide-shim/<id>) on a fixed port
// instead, so a user is never blocked on infrastructure. Both results are
// equally valid "ready" states for the caller.
package workspace
