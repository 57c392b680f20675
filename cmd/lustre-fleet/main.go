package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof" // profiling endpoints on the metrics listener
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/whamcloud/lustre-fleet/pkg/config"
	"github.com/whamcloud/lustre-fleet/pkg/log"
	"github.com/whamcloud/lustre-fleet/pkg/manager"
	"github.com/whamcloud/lustre-fleet/pkg/metrics"
	"github.com/whamcloud/lustre-fleet/pkg/reconciler"
	"github.com/whamcloud/lustre-fleet/pkg/storage"
	"github.com/whamcloud/lustre-fleet/pkg/transport"
	"github.com/whamcloud/lustre-fleet/pkg/types"
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
	Use:   "lustre-fleet",
	Short: "lustre-fleet - Lustre parallel filesystem fleet manager",
	Long: `lustre-fleet manages a fleet of Lustre agents: it learns the device and
target graph each host reports, tracks OST pool membership, and runs
the Snapshot Manager's scheduled cadence and retention sweeps.

A cluster of managers coordinates through Raft leader election; only
the elected leader dispatches actions to agents.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"lustre-fleet version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", true, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(managerCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(ostpoolCmd)
	rootCmd.AddCommand(fleetCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

// openStore loads process config and opens the relational store,
// shared by every subcommand that only needs read/write access to it
// (not a full manager process).
func openStore(ctx context.Context) (*config.Config, *storage.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	store, err := storage.Open(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return cfg, store, nil
}

// --- manager ---

var managerCmd = &cobra.Command{
	Use:   "manager",
	Short: "Manager process operations",
}

var managerServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run this node as a fleet manager replica",
	Long: `Run the manager process: opens the relational store, starts Raft
(bootstrapping a new cluster or joining an existing one), accepts agent
connections, and runs the leader-only reconciliation loop.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		bootstrap, _ := cmd.Flags().GetBool("bootstrap")
		enablePprof, _ := cmd.Flags().GetBool("enable-pprof")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		cfg, store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		mgr, err := manager.NewManager(&manager.Config{
			NodeID:   cfg.NodeID,
			BindAddr: cfg.RaftBindAddr,
			DataDir:  cfg.DataDir,
			Store:    store,
		})
		if err != nil {
			return fmt.Errorf("create manager: %v", err)
		}

		if bootstrap {
			if err := mgr.Bootstrap(); err != nil {
				return fmt.Errorf("bootstrap cluster: %v", err)
			}
			fmt.Println("✓ bootstrapped single-node raft cluster")
		} else {
			if err := mgr.Join(); err != nil {
				return fmt.Errorf("start raft: %v", err)
			}
			fmt.Println("✓ raft started, awaiting AddVoter from cluster leader")
		}

		transportServer := transport.NewServer(mgr)
		mgr.SetSender(transportServer)

		ln, err := net.Listen("tcp", cfg.TransportListenAddr)
		if err != nil {
			return fmt.Errorf("listen on transport address: %v", err)
		}
		go func() {
			if err := transportServer.Serve(ctx, ln); err != nil {
				fmt.Fprintf(os.Stderr, "transport server error: %v\n", err)
			}
		}()
		fmt.Printf("✓ agent transport listening on %s\n", cfg.TransportListenAddr)

		recon := reconciler.NewReconciler(store, mgr.Dispatcher(), mgr)
		recon.Start()
		fmt.Println("✓ reconciler started")

		metricsSource := struct {
			*storage.Store
			*manager.Manager
		}{store, mgr}
		collector := metrics.NewCollector(metricsSource)
		collector.Start()
		fmt.Println("✓ metrics collector started")

		metrics.SetVersion(Version)
		metrics.RegisterComponent("raft", true, "started")
		metrics.RegisterComponent("transport", true, "listening")

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/health", metrics.HealthHandler())
		mux.Handle("/ready", metrics.ReadyHandler())
		mux.Handle("/live", metrics.LivenessHandler())
		mux.HandleFunc("/admin/add-voter", addVoterHandler(mgr))
		if enablePprof {
			mux.Handle("/debug/pprof/", http.DefaultServeMux)
		}

		httpServer := &http.Server{Addr: cfg.MetricsListenAddr, Handler: mux}
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Fprintf(os.Stderr, "metrics server error: %v\n", err)
			}
		}()
		fmt.Printf("✓ metrics endpoint: http://%s/metrics\n", cfg.MetricsListenAddr)

		fmt.Println("\nManager is running. Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		fmt.Println("\nShutting down...")

		cancel()
		recon.Stop()
		collector.Stop()
		_ = httpServer.Close()
		if err := mgr.Shutdown(); err != nil {
			return fmt.Errorf("shutdown: %v", err)
		}

		fmt.Println("✓ shutdown complete")
		return nil
	},
}

// addVoterHandler lets the cluster leader admit a joining replica; the
// joining replica's own `manager serve` (without --bootstrap) starts Raft
// and waits to be added through this call, since the gRPC cluster-management RPC the teacher
// used for this has no equivalent here (§6's wire contract is agent
// traffic only).
func addVoterHandler(mgr *manager.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		nodeID := r.URL.Query().Get("node_id")
		addr := r.URL.Query().Get("addr")
		if nodeID == "" || addr == "" {
			http.Error(w, "node_id and addr are required", http.StatusBadRequest)
			return
		}
		if err := mgr.AddVoter(nodeID, addr); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func init() {
	managerCmd.AddCommand(managerServeCmd)
	managerServeCmd.Flags().Bool("bootstrap", false, "Bootstrap a new single-node cluster instead of joining one")
	managerServeCmd.Flags().Bool("enable-pprof", false, "Enable pprof profiling endpoints on the metrics listener")
}

// --- snapshot ---

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Manage snapshot cadence and retention policies",
}

var snapshotListCmd = &cobra.Command{
	Use:   "list FILESYSTEM",
	Short: "List snapshots known for a filesystem",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		_, store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		snaps, err := store.Snapshots(ctx, args[0])
		if err != nil {
			return fmt.Errorf("list snapshots: %v", err)
		}
		if len(snaps) == 0 {
			fmt.Println("No snapshots found")
			return nil
		}

		fmt.Printf("%-30s %-25s %-8s %s\n", "SNAPSHOT", "CREATED", "MOUNTED", "COMMENT")
		for _, s := range snaps {
			fmt.Printf("%-30s %-25s %-8t %s\n", s.SnapshotName, s.CreateTime.Format("2006-01-02 15:04:05"), s.Mounted, s.Comment)
		}
		return nil
	},
}

var snapshotScheduleCmd = &cobra.Command{
	Use:   "schedule FILESYSTEM",
	Short: "Set a filesystem's snapshot cadence policy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, _ := cmd.Flags().GetDuration("interval")
		barrier, _ := cmd.Flags().GetBool("barrier")

		ctx := context.Background()
		_, store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.SetSnapshotInterval(ctx, args[0], barrier, interval); err != nil {
			return fmt.Errorf("set snapshot interval: %v", err)
		}
		fmt.Printf("✓ %s will snapshot every %s (barrier=%t)\n", args[0], interval, barrier)
		return nil
	},
}

var snapshotRetentionCmd = &cobra.Command{
	Use:   "retain FILESYSTEM",
	Short: "Set a filesystem's snapshot retention policy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		unit, _ := cmd.Flags().GetString("reserve-unit")
		value, _ := cmd.Flags().GetFloat64("reserve-value")
		keepNum, _ := cmd.Flags().GetInt("keep")

		ru := types.ReserveUnit(unit)
		switch ru {
		case types.ReservePercent, types.ReserveGibibytes, types.ReserveTebibytes:
		default:
			return fmt.Errorf("--reserve-unit must be one of percent, gibibytes, tebibytes")
		}

		ctx := context.Background()
		_, store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.SetSnapshotRetention(ctx, args[0], ru, value, keepNum); err != nil {
			return fmt.Errorf("set snapshot retention: %v", err)
		}
		fmt.Printf("✓ %s retains snapshots above %s %s, keeping at least %d\n", args[0], strconv.FormatFloat(value, 'g', -1, 64), unit, keepNum)
		return nil
	},
}

func init() {
	snapshotCmd.AddCommand(snapshotListCmd)
	snapshotCmd.AddCommand(snapshotScheduleCmd)
	snapshotCmd.AddCommand(snapshotRetentionCmd)

	snapshotScheduleCmd.Flags().Duration("interval", 0, "Cadence interval (e.g. 1h, 24h)")
	snapshotScheduleCmd.Flags().Bool("barrier", true, "Use a write barrier when creating the snapshot")
	snapshotScheduleCmd.MarkFlagRequired("interval")

	snapshotRetentionCmd.Flags().String("reserve-unit", string(types.ReservePercent), "Reserve unit: percent, gibibytes, tebibytes")
	snapshotRetentionCmd.Flags().Float64("reserve-value", 0, "Reserve threshold in the given unit")
	snapshotRetentionCmd.Flags().Int("keep", 1, "Minimum number of snapshots to always keep")
	snapshotRetentionCmd.MarkFlagRequired("reserve-value")
}

// --- ostpool ---

var ostpoolCmd = &cobra.Command{
	Use:   "ostpool",
	Short: "Manage OST pool membership",
}

var ostpoolListCmd = &cobra.Command{
	Use:   "list FILESYSTEM",
	Short: "List OST pools for a filesystem",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		_, store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		fsid, ok, err := store.FilesystemID(ctx, args[0])
		if err != nil {
			return fmt.Errorf("resolve filesystem: %v", err)
		}
		if !ok {
			return fmt.Errorf("unknown filesystem %q", args[0])
		}

		pools, err := store.PoolSet(ctx, fsid)
		if err != nil {
			return fmt.Errorf("list pools: %v", err)
		}
		if len(pools) == 0 {
			fmt.Println("No pools found")
			return nil
		}
		for _, p := range pools {
			fmt.Printf("%-20s %s\n", p.Name, p.Osts)
		}
		return nil
	},
}

var ostpoolCreateCmd = &cobra.Command{
	Use:   "create FILESYSTEM POOL",
	Short: "Create an empty OST pool",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		_, store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		fsid, ok, err := store.FilesystemID(ctx, args[0])
		if err != nil {
			return fmt.Errorf("resolve filesystem: %v", err)
		}
		if !ok {
			return fmt.Errorf("unknown filesystem %q", args[0])
		}

		if err := store.CreatePool(ctx, fsid, types.OstPool{Filesystem: args[0], Name: args[1]}); err != nil {
			return fmt.Errorf("create pool: %v", err)
		}
		fmt.Printf("✓ pool created: %s.%s\n", args[0], args[1])
		return nil
	},
}

var ostpoolDestroyCmd = &cobra.Command{
	Use:   "destroy FILESYSTEM POOL",
	Short: "Destroy an OST pool",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		_, store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		fsid, ok, err := store.FilesystemID(ctx, args[0])
		if err != nil {
			return fmt.Errorf("resolve filesystem: %v", err)
		}
		if !ok {
			return fmt.Errorf("unknown filesystem %q", args[0])
		}

		if err := store.DeletePool(ctx, fsid, args[1]); err != nil {
			return fmt.Errorf("destroy pool: %v", err)
		}
		fmt.Printf("✓ pool destroyed: %s.%s\n", args[0], args[1])
		return nil
	},
}

var ostpoolGrowCmd = &cobra.Command{
	Use:   "grow FILESYSTEM POOL OST...",
	Short: "Add OSTs to a pool",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		_, store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		fsid, ok, err := store.FilesystemID(ctx, args[0])
		if err != nil {
			return fmt.Errorf("resolve filesystem: %v", err)
		}
		if !ok {
			return fmt.Errorf("unknown filesystem %q", args[0])
		}

		if err := store.Grow(ctx, fsid, args[1], args[2:]); err != nil {
			return fmt.Errorf("grow pool: %v", err)
		}
		fmt.Printf("✓ added %d OST(s) to %s.%s\n", len(args[2:]), args[0], args[1])
		return nil
	},
}

var ostpoolShrinkCmd = &cobra.Command{
	Use:   "shrink FILESYSTEM POOL OST...",
	Short: "Remove OSTs from a pool",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		_, store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		fsid, ok, err := store.FilesystemID(ctx, args[0])
		if err != nil {
			return fmt.Errorf("resolve filesystem: %v", err)
		}
		if !ok {
			return fmt.Errorf("unknown filesystem %q", args[0])
		}

		if err := store.Shrink(ctx, fsid, args[1], args[2:]); err != nil {
			return fmt.Errorf("shrink pool: %v", err)
		}
		fmt.Printf("✓ removed %d OST(s) from %s.%s\n", len(args[2:]), args[0], args[1])
		return nil
	},
}

func init() {
	ostpoolCmd.AddCommand(ostpoolListCmd)
	ostpoolCmd.AddCommand(ostpoolCreateCmd)
	ostpoolCmd.AddCommand(ostpoolDestroyCmd)
	ostpoolCmd.AddCommand(ostpoolGrowCmd)
	ostpoolCmd.AddCommand(ostpoolShrinkCmd)
}

// --- fleet (read-only inventory views) ---

var fleetCmd = &cobra.Command{
	Use:   "fleet",
	Short: "Inspect the learned device and target graph",
}

var fleetTargetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "List known Lustre targets",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		_, store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		targets, err := store.AllTargets(ctx)
		if err != nil {
			return fmt.Errorf("list targets: %v", err)
		}
		if len(targets) == 0 {
			fmt.Println("No targets found")
			return nil
		}
		fmt.Printf("%-20s %-8s %-10s %s\n", "NAME", "KIND", "STATE", "MOUNT")
		for _, t := range targets {
			fmt.Printf("%-20s %-8s %-10s %s\n", t.Name, t.Kind, t.State, t.MountPath)
		}
		return nil
	},
}

var fleetDevicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List known block devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		_, store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		devices, err := store.AllDevices(ctx)
		if err != nil {
			return fmt.Errorf("list devices: %v", err)
		}
		if len(devices) == 0 {
			fmt.Println("No devices found")
			return nil
		}
		fmt.Printf("%-12s %-8s %s\n", "ID", "KIND", "SIZE")
		for _, d := range devices {
			fmt.Printf("%-12s %-8s %d\n", d.ID, d.Kind, d.Size)
		}
		return nil
	},
}

func init() {
	fleetCmd.AddCommand(fleetTargetsCmd)
	fleetCmd.AddCommand(fleetDevicesCmd)
}
