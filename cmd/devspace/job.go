package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/everydev1618/devspace/container"
)

func jobCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Run throwaway container jobs",
	}

	var (
		image     string
		workspace string
		env       map[string]string
		timeout   time.Duration
	)
	runCmd := &cobra.Command{
		Use:   "run [flags] -- <command>...",
		Short: "Run shell commands in an ephemeral container",
		Example: `  devspace job run --image node:20-slim -- "npm ci" "npm test"
  devspace job run --workspace ws-42 -- "go build ./..."`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if image == "" {
				image = cfg.Pipeline.Image
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			rt, err := container.NewDockerRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			m := newContainerManager(rt, cfg, nil)

			jobID := uuid.NewString()[:8]
			printLine := func(line string) { fmt.Println(line) }

			var res *container.JobResult
			if workspace != "" {
				res, err = m.RunWorkspaceJob(ctx, workspace, jobID, image, args, env, printLine)
			} else {
				res, err = m.RunEphemeralJob(ctx, jobID, image, args, env, printLine)
			}
			if err != nil {
				return err
			}
			if res.ExitCode != 0 {
				return fmt.Errorf("job %s exited with code %d", jobID, res.ExitCode)
			}
			return nil
		},
	}
	runCmd.Flags().StringVar(&image, "image", "", "container image (default pipeline.image)")
	runCmd.Flags().StringVar(&workspace, "workspace", "", "mount this workspace's sources at the working directory")
	runCmd.Flags().StringToStringVarP(&env, "env", "e", nil, "environment variables (KEY=VALUE)")
	runCmd.Flags().DurationVar(&timeout, "timeout", 30*time.Minute, "maximum run time")

	cmd.AddCommand(runCmd)
	return cmd
}
