package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/everydev1618/devspace/container"
	"github.com/everydev1618/devspace/pipeline"
)

func pipelineCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Run build pipelines",
	}

	var runner string
	runCmd := &cobra.Command{
		Use:   "run <workspace-id>",
		Short: "Run a pipeline against a workspace and stream its progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if runner != "" {
				cfg.Pipeline.Runner = runner
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := container.ValidateWorkspaceID(args[0]); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var jobs pipeline.JobExecutor
			if cfg.Pipeline.Runner == "container" {
				rt, err := container.NewDockerRuntime()
				if err != nil {
					return err
				}
				defer rt.Close()
				jobs = newContainerManager(rt, cfg, nil)
			}

			engine := newEngine(cfg, jobs, nil, pipeline.WithNotifier(newProgressPrinter()))
			p := engine.Create(args[0])
			runErr := engine.Run(ctx, p.ID)

			final, _ := engine.Get(p.ID)
			fmt.Printf("\nPipeline %s: %s\n", final.ID, final.Status)
			for _, s := range final.Steps {
				fmt.Printf("  %-14s %s\n", s.Name, s.Status)
			}
			return runErr
		},
	}
	runCmd.Flags().StringVar(&runner, "runner", "", "step runner: simulated or container (overrides config)")

	cmd.AddCommand(runCmd)
	return cmd
}

// progressPrinter prints step transitions and new log lines.
type progressPrinter struct {
	status map[string]pipeline.Status
	logged map[string]int
}

func newProgressPrinter() *progressPrinter {
	return &progressPrinter{
		status: make(map[string]pipeline.Status),
		logged: make(map[string]int),
	}
}

func (pp *progressPrinter) PipelineUpdated(p *pipeline.Pipeline) {
	for _, s := range p.Steps {
		for _, line := range s.Logs[pp.logged[s.Name]:] {
			fmt.Printf("[%s] %s\n", s.Name, line)
		}
		pp.logged[s.Name] = len(s.Logs)

		if pp.status[s.Name] != s.Status {
			pp.status[s.Name] = s.Status
			if s.Status != pipeline.StatusPending {
				fmt.Printf("==> %s %s\n", s.Name, s.Status)
			}
		}
	}
}

