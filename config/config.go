// Package config loads the devspace YAML configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/everydev1618/devspace"
)

// Config is the top-level devspace configuration.
type Config struct {
	Server    Server    `yaml:"server"`
	Workspace Workspace `yaml:"workspace"`
	Terminal  Terminal  `yaml:"terminal"`
	Pipeline  Pipeline  `yaml:"pipeline"`
}

// Server configures the HTTP and WebSocket listener.
type Server struct {
	Addr           string   `yaml:"addr"`
	DBPath         string   `yaml:"db_path"`
	PublicHost     string   `yaml:"public_host"`
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
	LogLevel       string   `yaml:"log_level"`
	LogFormat      string   `yaml:"log_format"`

	// FileStore is "disk" (the workspace directories) or "sqlite".
	FileStore string `yaml:"file_store"`

	ActivityRetention time.Duration `yaml:"activity_retention"`

	// StopWorkspacesOnExit stops every mapped workspace on shutdown, since
	// port mappings do not survive a restart.
	StopWorkspacesOnExit bool `yaml:"stop_workspaces_on_exit"`

	// Members restricts workspace rooms and terminals to the listed user
	// ids. Workspaces without an entry are open to every authenticated user.
	Members map[string][]string `yaml:"members,omitempty"`
}

// Workspace configures container provisioning.
type Workspace struct {
	Image        string            `yaml:"image"`
	BaseDir      string            `yaml:"base_dir"`
	MountTarget  string            `yaml:"mount_target"`
	Command      []string          `yaml:"command"`
	Env          map[string]string `yaml:"env,omitempty"`
	ConfigMounts []Mount           `yaml:"config_mounts,omitempty"`
	BasePort     int               `yaml:"base_port"`
	MaxPort      int               `yaml:"max_port"`
	FallbackURL  string            `yaml:"fallback_url"`
	FallbackPort int               `yaml:"fallback_port"`
	PullTimeout  time.Duration     `yaml:"pull_timeout"`
	PullRetries  int               `yaml:"pull_retries"`
}

// Mount is a host path bind-mounted into every workspace container.
type Mount struct {
	Source   string `yaml:"source"`
	Target   string `yaml:"target"`
	ReadOnly bool   `yaml:"read_only,omitempty"`
}

// Terminal configures shared shell sessions.
type Terminal struct {
	Shell         []string      `yaml:"shell"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	HistorySize   int           `yaml:"history_size"`
	SweepSchedule string        `yaml:"sweep_schedule"`
}

// Pipeline configures build/verification runs.
type Pipeline struct {
	// Runner is "simulated" or "container".
	Runner    string              `yaml:"runner"`
	StepDelay time.Duration       `yaml:"step_delay"`
	Timeout   time.Duration       `yaml:"timeout"`
	Image     string              `yaml:"image"`
	Env       map[string]string   `yaml:"env,omitempty"`
	Steps     map[string][]string `yaml:"steps,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	home := devspace.Home()
	return &Config{
		Server: Server{
			Addr:       ":3001",
			DBPath:     devspace.DefaultDBPath(),
			PublicHost: "localhost",
			LogLevel:   "info",
			LogFormat:  "text",
			FileStore:  "disk",

			ActivityRetention:    30 * 24 * time.Hour,
			StopWorkspacesOnExit: true,
		},
		Workspace: Workspace{
			Image:       "codercom/code-server:latest",
			BaseDir:     devspace.WorkspacesPath(),
			MountTarget: "/home/coder/project",
			Command: []string{
				"--auth", "none",
				"--bind-addr", "0.0.0.0:{{port}}",
				"/home/coder/project",
			},
			ConfigMounts: []Mount{
				{
					Source:   filepath.Join(home, "config", "code-server"),
					Target:   "/home/coder/.config/code-server",
					ReadOnly: true,
				},
			},
			BasePort:     8100,
			MaxPort:      8999,
			FallbackURL:  "http://localhost:3000",
			FallbackPort: 3000,
			PullTimeout:  5 * time.Minute,
			PullRetries:  3,
		},
		Terminal: Terminal{
			Shell:         []string{"/bin/bash"},
			IdleTimeout:   30 * time.Minute,
			HistorySize:   256 * 1024,
			SweepSchedule: "@every 1m",
		},
		Pipeline: Pipeline{
			Runner:    "simulated",
			StepDelay: 1500 * time.Millisecond,
			Timeout:   30 * time.Minute,
			Image:     "node:20-slim",
		},
	}
}

// Load reads config from path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to path, creating the parent directory.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(f, cfg); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Write encodes config as YAML.
func Write(w io.Writer, cfg *Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return enc.Close()
}

// Validate checks the values the services cannot run without.
func (c *Config) Validate() error {
	w := c.Workspace
	if w.Image == "" {
		return fmt.Errorf("workspace.image is required")
	}
	if w.BasePort <= 0 || w.BasePort > 65535 {
		return fmt.Errorf("workspace.base_port %d out of range", w.BasePort)
	}
	if w.MaxPort != 0 && (w.MaxPort < w.BasePort || w.MaxPort > 65535) {
		return fmt.Errorf("workspace.max_port %d out of range", w.MaxPort)
	}
	if w.PullRetries < 0 {
		return fmt.Errorf("workspace.pull_retries must not be negative")
	}
	if len(c.Terminal.Shell) == 0 {
		return fmt.Errorf("terminal.shell is required")
	}
	switch c.Server.FileStore {
	case "disk", "sqlite":
	default:
		return fmt.Errorf("server.file_store %q must be disk or sqlite", c.Server.FileStore)
	}
	switch c.Pipeline.Runner {
	case "simulated", "container":
	default:
		return fmt.Errorf("pipeline.runner %q must be simulated or container", c.Pipeline.Runner)
	}
	return nil
}
