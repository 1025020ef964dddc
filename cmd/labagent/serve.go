package main

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/melih/lab-agent/internal/activity"
	"github.com/melih/lab-agent/internal/adapters/builder"
	httpadapter "github.com/melih/lab-agent/internal/adapters/http"
	"github.com/melih/lab-agent/internal/config"
	"github.com/melih/lab-agent/internal/core/bootstrap"
	"github.com/melih/lab-agent/internal/core/deploy"
	"github.com/melih/lab-agent/internal/core/ipam"
	"github.com/melih/lab-agent/internal/core/ports"
	"github.com/melih/lab-agent/internal/credential"
	"github.com/melih/lab-agent/internal/errors"
	"github.com/melih/lab-agent/internal/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the deployment agent",
	Long: `Run the deployment agent in the foreground.

The network segment is bootstrapped once at startup. If that fails the
agent keeps serving; deployments are refused until "network ensure"
succeeds (see deploy.require_segment).`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var serveListen string

func init() {
	serveCmd.Flags().StringVarP(&serveListen, "listen", "l", "", "Listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveListen != "" {
		cfg.Listen = serveListen
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	secret := cfg.Auth.Credential
	if secret == "" {
		if secret, err = credential.Generate(); err != nil {
			return errors.Wrap(errors.KindInternal, "failed to generate credential", err)
		}
	}

	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	log := activity.New(activity.DefaultCapacity)
	gate := bootstrap.NewGate()
	boot, err := newBootstrapper(cfg, rt, gate, log)
	if err != nil {
		return err
	}

	bootCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	if _, err := boot.EnsureSegment(bootCtx); err != nil {
		logWarning("Network %s is not ready: %v", cfg.Network.Name, err)
	}
	cancel()

	executor, err := newExecutor(cfg, rt, gate, log)
	if err != nil {
		return err
	}

	if report, err := executor.Reconcile(ctx); err != nil {
		logging.Warn("initial reconcile failed", "error", err)
	} else {
		logging.Info("address pool initialised", "members", report.Members, "adopted", report.Adopted)
	}

	if cfg.Reaper.Enabled {
		reaper, err := deploy.NewReaper(executor, cfg.Reaper.Schedule)
		if err != nil {
			return errors.ConfigError("invalid reaper schedule", err)
		}
		reaper.Start()
		defer reaper.Stop()
	}

	agentAddress := bootstrap.LocalAddress(bootstrap.SystemInterfaces)
	opts := httpadapter.Options{
		AgentAddress:      agentAddress,
		Credential:        secret,
		RequireCredential: cfg.Auth.RequireCredential,
	}
	if cfg.Proxy.Enabled {
		opts.ProxyDomain = cfg.Proxy.Domain
	}
	app := httpadapter.NewRouter(executor, boot, log, opts)

	printBanner(os.Stdout, bannerInfo{
		Address:    agentAddress,
		Listen:     cfg.Listen,
		Network:    cfg.Network.Name,
		Credential: secret,
		Enforced:   cfg.Auth.RequireCredential,
	})
	log.Info("agent started on %s", cfg.Listen)

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(cfg.Listen)
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(errors.KindInternal, fmt.Sprintf("failed to listen on %s", cfg.Listen), err)
	case <-ctx.Done():
	}

	logInfo("Shutting down")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logging.Warn("shutdown did not complete", "error", err)
	}
	return nil
}

// newExecutor builds the pools and the executor from cfg.
func newExecutor(cfg *config.Config, rt ports.Runtime, gate *bootstrap.Gate, log *activity.Log) (*deploy.Executor, error) {
	prefix, err := cfg.Network.Prefix()
	if err != nil {
		return nil, err
	}
	start, end, err := cfg.Network.Range()
	if err != nil {
		return nil, err
	}
	gateway, err := netip.ParseAddr(cfg.Network.Gateway)
	if err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("invalid gateway %q", cfg.Network.Gateway), err)
	}
	addresses, err := ipam.NewAddressPool(prefix, start, end, gateway)
	if err != nil {
		return nil, errors.ConfigError("invalid address range", err)
	}

	opts := []deploy.Option{
		deploy.WithGate(gate, cfg.Deploy.RequireSegment),
		deploy.WithActivity(log),
		deploy.WithDefaults(deploy.Defaults{
			ContainerPort: cfg.Deploy.DefaultContainerPort,
			NamePrefix:    cfg.Deploy.NamePrefix,
			LaunchTimeout: cfg.Deploy.LaunchTimeout.Duration,
		}),
	}
	if cfg.Deploy.PublishPorts {
		hostPorts, err := ipam.NewPortPool(cfg.Deploy.HostPortStart, cfg.Deploy.HostPortEnd)
		if err != nil {
			return nil, errors.ConfigError("invalid host port range", err)
		}
		opts = append(opts, deploy.WithHostPorts(hostPorts))
	}
	if b, err := builder.NewBuilderAdapter(); err != nil {
		logging.Warn("source builds disabled", "error", err)
	} else {
		opts = append(opts, deploy.WithBuilder(b))
	}

	logging.Debug("address pool", "subnet", prefix, "start", start, "end", end, "size", addresses.Size())
	return deploy.NewExecutor(rt, cfg.Network.Name, addresses, opts...), nil
}
