package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/everydev1618/devspace"
	"github.com/everydev1618/devspace/container"
	"github.com/everydev1618/devspace/internal/workspace"
)

func workspaceCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workspace",
		Short: "Start or stop a workspace container without the server",
	}

	startCmd := &cobra.Command{
		Use:   "start <workspace-id>",
		Short: "Provision a workspace container and print its URL",
		Long: `Provision a workspace container and print its URL.

When Docker is unreachable the fallback IDE URL is printed instead. The host
port is the first one in the configured range that nothing on the host is
listening on.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if err := container.ValidateWorkspaceID(args[0]); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt := connectRuntime()
			defer rt.Close()

			// Ports held by a running server are not known here; skipping
			// bound host ports keeps the two from colliding.
			m := workspace.NewManager(newContainerManager(rt, cfg, nil), workspace.Config{
				Image:          cfg.Workspace.Image,
				PublicHost:     cfg.Server.PublicHost,
				BasePort:       cfg.Workspace.BasePort,
				MaxPort:        cfg.Workspace.MaxPort,
				FallbackURL:    cfg.Workspace.FallbackURL,
				FallbackPort:   cfg.Workspace.FallbackPort,
				SkipBoundPorts: true,
			})
			ep := m.Start(ctx, args[0])
			if ep.Fallback {
				fmt.Printf("Workspace %s could not be provisioned; fallback: %s\n", args[0], ep.URL)
				return nil
			}
			fmt.Printf("Workspace %s: %s\n", args[0], ep.URL)
			return nil
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop <workspace-id>",
		Short: "Stop a workspace container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			rt, err := container.NewDockerRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			m := newContainerManager(rt, cfg, nil)
			id, err := m.Lookup(ctx, args[0])
			if errors.Is(err, devspace.ErrContainerNotFound) {
				fmt.Printf("Workspace %s is not running.\n", args[0])
				return nil
			}
			if err != nil {
				return err
			}
			if err := m.Stop(ctx, id); err != nil {
				return err
			}
			fmt.Printf("Stopped workspace %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(startCmd, stopCmd)
	return cmd
}
