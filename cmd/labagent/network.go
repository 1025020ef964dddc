package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/melih/lab-agent/internal/activity"
	"github.com/melih/lab-agent/internal/core/bootstrap"
	"github.com/melih/lab-agent/internal/core/ports"
	"github.com/melih/lab-agent/internal/errors"
)

var networkCmd = &cobra.Command{
	Use:   "network",
	Short: "Manage the guest network segment",
}

var networkEnsureCmd = &cobra.Command{
	Use:   "ensure",
	Short: "Create the network segment if it does not exist",
	Args:  cobra.NoArgs,
	RunE:  runNetworkEnsure,
}

var networkInspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show the network segment and its members",
	Args:  cobra.NoArgs,
	RunE:  runNetworkInspect,
}

func init() {
	networkCmd.AddCommand(networkEnsureCmd, networkInspectCmd)
	rootCmd.AddCommand(networkCmd)
}

func runNetworkEnsure(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()

	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	boot, err := newBootstrapper(cfg, rt, bootstrap.NewGate(), activity.New(activity.DefaultCapacity))
	if err != nil {
		return err
	}
	seg, err := boot.EnsureSegment(ctx)
	if err != nil {
		return err
	}

	logSuccess("Network %s ready (%s, %s via %s)", seg.Name, seg.Driver, seg.Subnet, seg.Gateway)
	if seg.Parent != "" {
		logInfo("Parent interface: %s", seg.Parent)
	}
	return nil
}

func runNetworkInspect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	seg, err := rt.InspectSegment(ctx, cfg.Network.Name)
	if stderrors.Is(err, ports.ErrSegmentNotFound) {
		return errors.SegmentNotReady(cfg.Network.Name)
	}
	if err != nil {
		return errors.RuntimeError("inspect", err)
	}

	fmt.Printf("Name:    %s\n", seg.Name)
	fmt.Printf("Driver:  %s\n", seg.Driver)
	fmt.Printf("Subnet:  %s\n", seg.Subnet)
	fmt.Printf("Gateway: %s\n", seg.Gateway)
	if seg.Parent != "" {
		fmt.Printf("Parent:  %s\n", seg.Parent)
	}
	if seg.Subnet != cfg.Network.Subnet {
		logWarning("Subnet differs from config (%s)", cfg.Network.Subnet)
	}

	members, err := rt.SegmentMembers(ctx, seg.Name)
	if err != nil {
		return errors.RuntimeError("list", err)
	}
	if len(members) == 0 {
		logInfo("No containers attached")
		return nil
	}

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tIP\tHOST PORT\tSTATE\tMANAGED")
	fmt.Fprintln(w, "----\t--\t---------\t-----\t-------")
	for _, m := range members {
		hostPort := "-"
		if m.HostPort != 0 {
			hostPort = fmt.Sprint(m.HostPort)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n", m.Name, m.Address, hostPort, m.State, m.Managed)
	}
	return w.Flush()
}
