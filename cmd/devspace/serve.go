package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/everydev1618/devspace/config"
	"github.com/everydev1618/devspace/container"
	"github.com/everydev1618/devspace/internal/metrics"
	"github.com/everydev1618/devspace/internal/workspace"
	"github.com/everydev1618/devspace/pipeline"
	"github.com/everydev1618/devspace/realtime"
	"github.com/everydev1618/devspace/serve"
	"github.com/everydev1618/devspace/terminal"
)

// serveCmd starts the HTTP/WebSocket server.
func serveCmd(flags *globalFlags) *cobra.Command {
	var addr, dbPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the workspace, terminal and pipeline server",
		Example: `  devspace serve
  devspace serve --addr :8080
  devspace serve --config ./devspace.yaml --log-format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if dbPath != "" {
				cfg.Server.DBPath = dbPath
			}

			// Signal handling for graceful shutdown
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (overrides config)")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path (overrides config)")
	return cmd
}

// connectRuntime returns the Docker runtime, or one that fails every call
// when the daemon is unreachable so workspaces degrade to the fallback IDE.
func connectRuntime() container.Runtime {
	rt, err := container.NewDockerRuntime()
	if err != nil {
		slog.Warn("docker unavailable, workspaces will use the fallback IDE", "error", err)
		return container.NewUnavailableRuntime(err)
	}
	return rt
}

func runServer(ctx context.Context, cfg *config.Config) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mt := metrics.New(reg)

	rt := connectRuntime()
	defer rt.Close()
	containers := newContainerManager(rt, cfg, mt)

	if err := os.MkdirAll(filepath.Dir(cfg.Server.DBPath), 0o755); err != nil {
		return fmt.Errorf("create database dir: %w", err)
	}
	store, err := serve.NewSQLiteStore(cfg.Server.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()
	if err := store.Init(); err != nil {
		return fmt.Errorf("init database: %w", err)
	}

	var files serve.FileStore = serve.NewDiskFileStore(cfg.Workspace.BaseDir)
	if cfg.Server.FileStore == "sqlite" {
		files = store
	}

	hub := realtime.NewHub(
		realtime.WithAuthorizer(serve.MembersAuthorizer(cfg.Server.Members)),
		realtime.WithMetrics(mt),
	)
	activity := serve.NewActivityLog(store, hub)

	workspaces := workspace.NewManager(containers, workspace.Config{
		Image:          cfg.Workspace.Image,
		PublicHost:     cfg.Server.PublicHost,
		BasePort:       cfg.Workspace.BasePort,
		MaxPort:        cfg.Workspace.MaxPort,
		FallbackURL:    cfg.Workspace.FallbackURL,
		FallbackPort:   cfg.Workspace.FallbackPort,
		SkipBoundPorts: true,
	}, workspace.WithMetrics(mt))

	terminals := terminal.NewMultiplexer(rt, hub, terminal.Config{
		Shell:       cfg.Terminal.Shell,
		WorkingDir:  cfg.Workspace.MountTarget,
		HistorySize: cfg.Terminal.HistorySize,
		IdleTimeout: cfg.Terminal.IdleTimeout,
	}, terminal.WithMetrics(mt))

	engine := newEngine(cfg, containers, mt, pipeline.WithNotifier(activity))

	srv := serve.New(serve.Deps{
		Workspaces: workspaces,
		Hub:        hub,
		Terminals:  terminals,
		Pipelines:  engine,
		Files:      files,
		Store:      store,
		Activity:   activity,
		Gatherer:   reg,
	}, serve.Config{
		Addr:                 cfg.Server.Addr,
		AllowedOrigins:       cfg.Server.AllowedOrigins,
		SweepSchedule:        cfg.Terminal.SweepSchedule,
		ActivityRetention:    cfg.Server.ActivityRetention,
		StopWorkspacesOnExit: cfg.Server.StopWorkspacesOnExit,
	})

	slog.Info("devspace configured",
		"image", cfg.Workspace.Image,
		"ports", fmt.Sprintf("%d-%d", cfg.Workspace.BasePort, cfg.Workspace.MaxPort),
		"file_store", cfg.Server.FileStore,
		"pipeline_runner", cfg.Pipeline.Runner,
	)
	fmt.Printf("API:     http://localhost%s/api/stats\n", cfg.Server.Addr)
	fmt.Printf("Metrics: http://localhost%s/metrics\n", cfg.Server.Addr)

	return srv.Start(ctx)
}

func newContainerManager(rt container.Runtime, cfg *config.Config, mt *metrics.Metrics) *container.Manager {
	w := cfg.Workspace
	mounts := make([]container.Mount, 0, len(w.ConfigMounts))
	for _, m := range w.ConfigMounts {
		mounts = append(mounts, container.Mount{Source: m.Source, Target: m.Target, ReadOnly: m.ReadOnly})
	}
	return container.NewManager(rt,
		container.WithBaseDir(w.BaseDir),
		container.WithMountTarget(w.MountTarget),
		container.WithConfigMounts(mounts...),
		container.WithStartupCommand(w.Command...),
		container.WithEnv(w.Env),
		container.WithPullPolicy(w.PullTimeout, w.PullRetries, 2*time.Second),
		container.WithMetrics(mt),
	)
}

func newEngine(cfg *config.Config, jobs pipeline.JobExecutor, mt *metrics.Metrics, opts ...pipeline.Option) *pipeline.Engine {
	var runner pipeline.StepRunner = pipeline.SimulatedRunner{Delay: cfg.Pipeline.StepDelay}
	if cfg.Pipeline.Runner == "container" {
		runner = pipeline.JobRunner{
			Jobs:  jobs,
			Image: cfg.Pipeline.Image,
			Env:   cfg.Pipeline.Env,
			Steps: cfg.Pipeline.Steps,
		}
	}
	opts = append([]pipeline.Option{
		pipeline.WithMetrics(mt),
		pipeline.WithTimeout(cfg.Pipeline.Timeout),
	}, opts...)
	return pipeline.NewEngine(runner, opts...)
}
