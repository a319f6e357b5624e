// Package main provides the devspace CLI.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/everydev1618/devspace"
	"github.com/everydev1618/devspace/config"
)

var (
	version = "dev"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

func main() {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "devspace",
		Short:         "devspace - collaborative containerized development environments",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", devspace.DefaultConfigPath(), "config file path")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	root.PersistentFlags().StringVar(&flags.logFormat, "log-format", "", "log format: text or json (overrides config)")

	root.AddCommand(
		serveCmd(flags),
		workspaceCmd(flags),
		jobCmd(flags),
		pipelineCmd(flags),
		configCmd(flags),
		versionCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// load reads the config file and installs the process logger.
func (f *globalFlags) load() (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	if f.logLevel != "" {
		cfg.Server.LogLevel = f.logLevel
	}
	if f.logFormat != "" {
		cfg.Server.LogFormat = f.logFormat
	}
	setupLogging(cfg.Server.LogLevel, cfg.Server.LogFormat)
	return cfg, nil
}

func setupLogging(level, format string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("devspace %s\n", version)
		},
	}
}

func configCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the config file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(flags.configPath); err == nil && !force {
				fmt.Printf("Config already exists at %s (use --force to overwrite).\n", flags.configPath)
				return nil
			}
			if err := config.Save(flags.configPath, config.Default()); err != nil {
				return fmt.Errorf("saving config: %w", err)
			}
			if err := devspace.EnsureHome(); err != nil {
				return fmt.Errorf("creating home: %w", err)
			}
			fmt.Printf("Wrote %s\n", flags.configPath)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			return config.Write(os.Stdout, cfg)
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}
