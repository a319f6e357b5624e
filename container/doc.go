// Package container provides the container runtime gateway and the
// workspace-aware lifecycle policy built on it.
//
// # Overview
//
// The package provides two layers:
//
//   - Runtime: the capability interface (create, inspect, start, stop, remove,
//     exec, interactive exec, logs, wait, pull). DockerRuntime implements it
//     on the Docker Engine API. UnavailableRuntime stands in when the daemon
//     cannot be reached.
//   - Manager: deterministic, idempotent provisioning of one container per
//     workspace, plus throwaway job containers.
//
// # Naming
//
// A workspace container is always named workspace-<id>, so it can be
// rediscovered without persisting its id. Creating a workspace whose
// container already exists force-removes the old one first.
//
// # Failures
//
// Manager.Create reports every failure (mkdir, pull, create, start) as a
// *devspace.ProvisionError. A container whose start failed is removed, so no
// partial container is left behind.
//
// # Example
//
//	rt, err := container.NewDockerRuntime()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close()
//
//	cm := container.NewManager(rt,
//	    container.WithBaseDir("/var/lib/devspace/workspaces"),
//	    container.WithStartupCommand("--bind-addr", "0.0.0.0:{{port}}"),
//	)
//
//	h, err := cm.Create(ctx, "ws-42", "codercom/code-server:latest", 8100)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	res, err := cm.Exec(ctx, h.ContainerID, []string{"node", "--version"})
package container
