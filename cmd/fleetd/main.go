package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fleetctl/fleetd/pkg/config"
	"github.com/fleetctl/fleetd/pkg/daemon"
	"github.com/fleetctl/fleetd/pkg/httpapi"
	"github.com/fleetctl/fleetd/pkg/logging"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fleetd",
	Short: "fleetd - self-healing fleet daemon",
	Long: `fleetd is a peer-to-peer daemon for small fleets of edge and
on-prem machines. Every node runs the same binary; nodes form a
Raft-replicated cluster, track goals and actions for the fleet, and
carry out scheduled tasks against the machine they run on.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"fleetd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(initCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	logging.Init(logging.Config{
		Level:      logging.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run this node against an existing or new config file",
	Long: `Run starts fleetd using the TOML config at --config, generating
a config with sane defaults at that path first if it doesn't exist.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		cfg, err := loadOrCreateConfig(path)
		if err != nil {
			return err
		}
		return runDaemon(cfg)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file and exit",
	Long: `Init writes a fresh TOML config with generated node ID and
cluster ID to --config, without starting the daemon. Edit the file to
set bind address, peers, and policy before running fleetd run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		nodeID, _ := cmd.Flags().GetString("node-id")
		bindAddr, _ := cmd.Flags().GetString("bind-addr")
		bindPort, _ := cmd.Flags().GetUint16("bind-port")
		dataDir, _ := cmd.Flags().GetString("data-dir")

		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists at %s", path)
		}

		cfg := config.Default()
		cfg.NodeID = nodeID
		cfg.NodeID = cfg.EffectiveNodeID()
		cfg.ClusterID = cfg.EffectiveClusterID()
		cfg.BindAddr = bindAddr
		cfg.BindPort = bindPort
		cfg.DataDir = dataDir

		if err := cfg.Save(path); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}

		fmt.Printf("wrote config to %s\n", path)
		fmt.Printf("  node_id:    %s\n", cfg.EffectiveNodeID())
		fmt.Printf("  cluster_id: %s\n", cfg.ClusterID)
		fmt.Printf("  listen:     %s\n", cfg.ListenAddr())
		return nil
	},
}

func init() {
	runCmd.Flags().String("config", "/etc/fleetd/fleetd.toml", "Path to TOML config file")

	initCmd.Flags().String("config", "/etc/fleetd/fleetd.toml", "Path to write the new TOML config")
	initCmd.Flags().String("node-id", "", "Unique node ID (generated if left empty)")
	initCmd.Flags().String("bind-addr", "0.0.0.0", "Bind address shared by Raft and the HTTP control API")
	initCmd.Flags().Uint16("bind-port", 9000, "Bind port shared by Raft and the HTTP control API")
	initCmd.Flags().String("data-dir", "/var/lib/fleetd", "Data directory for Raft logs, snapshots, and the cluster CA")
}

func loadOrCreateConfig(path string) (config.NodeConfig, error) {
	if _, err := os.Stat(path); err == nil {
		return config.Load(path)
	}
	cfg := config.Default()
	cfg.ClusterID = cfg.EffectiveClusterID()
	if err := cfg.Save(path); err != nil {
		return config.NodeConfig{}, fmt.Errorf("failed to write default config: %w", err)
	}
	return cfg, nil
}

func runDaemon(cfg config.NodeConfig) error {
	d, err := daemon.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	server := httpapi.New(d.NodeID(), d.ClusterID(), d.Replicator(), d.Tracker(), d.CertAuthority(), d.TokenManager())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Run(ctx, server)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("shutting down...")
		d.Shutdown()
		return <-errCh
	case err := <-errCh:
		return err
	}
}
