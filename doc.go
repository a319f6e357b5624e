// Package devspace provisions ephemeral, per-user development environments
// backed by containers and lets many viewers collaborate on them in real time.
//
// The module is split into small services that are constructed once at
// process start and wired together explicitly:
//
//   - container: the container runtime gateway (Runtime, DockerRuntime) and the
//     workspace-aware lifecycle Manager on top of it
//   - internal/workspace: host port allocation and workspace start/stop with a
//     fallback simulator URL when the container layer fails
//   - realtime: connection registry, rooms, presence and the broadcast primitives
//   - terminal: one shared interactive shell per workspace, fanned out to viewers
//   - pipeline: staged, in-memory build/verification runs per workspace
//   - serve: the HTTP/WebSocket surface, file store and activity feed
//
// # Workspace identifiers
//
// A workspace id is an opaque string. It is the join key between the container
// name (workspace-<id>), the port mapping, the terminal session, the realtime
// room and the pipelines of a workspace.
//
// # Quick Start
//
//	rt, err := container.NewDockerRuntime()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close()
//
//	containers := container.NewManager(rt, container.WithBaseDir(devspace.WorkspacesPath()))
//	workspaces := workspace.NewManager(containers, workspace.Config{BasePort: 8100})
//
//	ep := workspaces.Start(ctx, "ws-42")
//	fmt.Println(ep.URL)
package devspace
