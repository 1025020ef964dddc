package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/melih/lab-agent/internal/activity"
	"github.com/melih/lab-agent/internal/adapters/cli"
	"github.com/melih/lab-agent/internal/adapters/docker"
	"github.com/melih/lab-agent/internal/config"
	"github.com/melih/lab-agent/internal/core/bootstrap"
	"github.com/melih/lab-agent/internal/core/domain"
	"github.com/melih/lab-agent/internal/core/ports"
	"github.com/melih/lab-agent/internal/errors"
	"github.com/melih/lab-agent/internal/logging"
	"github.com/melih/lab-agent/internal/system"
)

var (
	configPath string
	verbose    bool
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "labagent",
	Short: "Single-host container deployment agent",
	Long: `labagent runs containers on an isolated L2 network segment.

On startup it makes sure the segment exists, rebuilds its address pool
from the containers already attached to it and then serves deployment
requests over HTTP. Each deployment gets its own address on the segment.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Setup(verbose, jsonOutput, os.Stderr)
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath, "Path to the config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output logs in JSON format")
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// loadConfig loads and validates the config, honouring its log settings
// unless the flags already asked for more.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Log.Verbose || cfg.Log.JSON {
		logging.Setup(verbose || cfg.Log.Verbose, jsonOutput || cfg.Log.JSON, os.Stderr)
	}
	if cfg.Path != "" {
		logging.Debug("loaded config", "path", cfg.Path)
	}
	return cfg, nil
}

// newRuntime connects to the configured container runtime.
func newRuntime(ctx context.Context, cfg *config.Config) (ports.Runtime, error) {
	switch cfg.Runtime.Backend {
	case "cli":
		rt, err := cli.New(cfg.Runtime.Binary, system.DefaultExecutor())
		if err != nil {
			return nil, errors.RuntimeError("detect", err)
		}
		logging.Debug("using container CLI", "command", rt.Command)
		return rt, nil
	default:
		rt, err := docker.NewAdapter()
		if err != nil {
			return nil, errors.RuntimeError("connect", err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := rt.Ping(pingCtx); err != nil {
			rt.Close()
			return nil, errors.RuntimeError("connect", err)
		}
		return rt, nil
	}
}

func desiredSegment(cfg *config.Config) (domain.Segment, error) {
	prefix, err := cfg.Network.Prefix()
	if err != nil {
		return domain.Segment{}, err
	}
	return domain.Segment{
		Name:    cfg.Network.Name,
		Driver:  cfg.Network.Driver,
		Subnet:  prefix.String(),
		Gateway: cfg.Network.Gateway,
		Parent:  cfg.Network.Parent,
	}, nil
}

func newBootstrapper(cfg *config.Config, rt ports.Runtime, gate *bootstrap.Gate, log *activity.Log) (*bootstrap.Bootstrapper, error) {
	seg, err := desiredSegment(cfg)
	if err != nil {
		return nil, err
	}
	return bootstrap.New(rt, seg,
		bootstrap.WithFallbackParent(cfg.Network.FallbackParent),
		bootstrap.WithGate(gate),
		bootstrap.WithActivity(log),
	), nil
}

// Helper aliases for user-facing output (delegates to logging package)
var (
	logInfo    = logging.UserInfo
	logSuccess = logging.UserSuccess
	logWarning = logging.UserWarning
)
