package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/Shugur-Network/proxypool/internal/application"
	"github.com/Shugur-Network/proxypool/internal/config"
	"github.com/Shugur-Network/proxypool/internal/constants"
	"github.com/Shugur-Network/proxypool/internal/logger"
	"github.com/Shugur-Network/proxypool/internal/relaypool"
	"github.com/Shugur-Network/proxypool/internal/storage"
	"github.com/olekukonko/tablewriter"
	"go.uber.org/zap"

	"github.com/spf13/cobra"
)

var (
	cfgFile string         // Path to custom config file (optional)
	cfg     *config.Config // Global reference to loaded configuration
)

// rootCmd defines the main CLI command for proxypool
var rootCmd = &cobra.Command{
	Use:   "proxypool",
	Short: "proxypool hands out rate-limited proxy relays per traffic source",
	Long:  `Proxy relay pool service: per-source cooldowns, failure tracking and snapshot persistence.`,
	Example: `
  proxypool start --addr :8765 --initial-list proxies.txt
  proxypool start --log-level debug --metrics-port 9090
  proxypool start --config /path/to/config.yaml
  proxypool stats --source default`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for version command
		if cmd.Name() == "version" {
			return nil
		}

		if cfgFile != "" {
			absPath, err := filepath.Abs(cfgFile)
			if err != nil {
				return fmt.Errorf("resolve config path: %w", err)
			}
			cfgFile = absPath
		}

		// Only the server installs the global logger
		var err error
		if cmd.Name() == "start" {
			cfg, err = config.Load(cfgFile, nil)
		} else {
			cfg, err = config.LoadWithoutLogger(cfgFile)
		}
		if err != nil {
			return fmt.Errorf("failed to load configuration: %v", err)
		}

		// Override config with command line flags if specified
		flags := cmd.Flags()
		if flags.Changed("addr") {
			cfg.Server.Addr, _ = flags.GetString("addr")
		}
		if flags.Changed("initial-list") {
			cfg.Pools.InitialList, _ = flags.GetString("initial-list")
		}
		if flags.Changed("storage") {
			cfg.Storage.Backend, _ = flags.GetString("storage")
		}
		if flags.Changed("metrics-port") {
			cfg.Metrics.Port, _ = flags.GetInt("metrics-port")
		}
		if flags.Changed("log-level") {
			lvl, _ := flags.GetString("log-level")
			cfg.Logging.Level = lvl
			if cmd.Name() == "start" {
				if err := logger.UpdateLevel(lvl); err != nil {
					return fmt.Errorf("invalid log level: %w", err)
				}
			}
		}

		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		// Default behavior: show help when no subcommand is provided
		if err := cmd.Help(); err != nil {
			fmt.Fprintf(os.Stderr, "Error displaying help: %v\n", err)
		}
	},
}

// Execute runs the root command with the provided context
func Execute(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printWelcomeBanner() {
	fmt.Println("  ____                        ____             _ ")
	fmt.Println(" |  _ \\ _ __ _____  ___   _  |  _ \\ ___   ___ | |")
	fmt.Println(" | |_) | '__/ _ \\ \\/ / | | | | |_) / _ \\ / _ \\| |")
	fmt.Println(" |  __/| | | (_) >  <| |_| | |  __/ (_) | (_) | |")
	fmt.Println(" |_|   |_|  \\___/_/\\_\\\\__, | |_|   \\___/ \\___/|_|")
	fmt.Println("                      |___/                      ")
	fmt.Println()
	fmt.Println("proxypool " + GetVersion() + " - per-source proxy relay pools")
}

// runStart builds the node, serves until the context is canceled or a
// server fails, then shuts down.
func runStart(cmd *cobra.Command, _ []string) error {
	printWelcomeBanner()
	logger.Info("Using config file", zap.String("config_file", cfgFile))

	// Use the context passed down from main.go
	ctx := cmd.Context()

	app, err := application.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize the proxy pool: %w", err)
	}
	if err := app.Start(ctx); err != nil {
		app.Shutdown()
		return fmt.Errorf("failed to start the proxy pool: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- app.Wait() }()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
	case err = <-waitErr:
		logger.Error("Server stopped unexpectedly", zap.Error(err))
	}
	app.Shutdown()
	_ = logger.Shutdown()
	return err
}

// openStore opens the configured backend for the offline commands.
func openStore(ctx context.Context) (storage.Backend, error) {
	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("persistence is disabled (storage backend \"none\")")
	}
	return store, nil
}

// runStats prints the saved state of one or every source.
func runStats(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), constants.SnapshotTimeout)
	defer cancel()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	source, _ := cmd.Flags().GetString("source")
	sources := []string{source}
	if source == "" || source == constants.AllSources {
		if sources, err = store.Sources(ctx); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	for _, src := range sources {
		relays, err := store.Load(ctx, src)
		if errors.Is(err, relaypool.ErrNoSnapshot) {
			fmt.Fprintf(out, "source %s: no snapshot\n", src)
			continue
		}
		if err != nil {
			return err
		}
		sort.Slice(relays, func(i, j int) bool { return relays[i].String() < relays[j].String() })

		fmt.Fprintf(out, "source %s (%d relays)\n", src, len(relays))
		rows := make([][]string, 0, len(relays))
		for _, r := range relays {
			rows = append(rows, []string{r.String(), kindOrDash(r.Kind), strconv.Itoa(r.Failures), availableAt(r.AvailableAt)})
		}
		renderTable(out, []string{"ADDRESS", "KIND", "FAILURES", "AVAILABLE AT"}, rows)
	}
	return nil
}

// runSnapshot lists the sources the backend holds snapshots for.
func runSnapshot(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), constants.SnapshotTimeout)
	defer cancel()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("%s backend unreachable: %w", store.Name(), err)
	}
	sources, err := store.Sources(ctx)
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(sources))
	for _, src := range sources {
		relays, err := store.Load(ctx, src)
		if err != nil {
			return err
		}
		failing := 0
		for _, r := range relays {
			if r.Failures > 0 {
				failing++
			}
		}
		rows = append(rows, []string{src, strconv.Itoa(len(relays)), strconv.Itoa(failing)})
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "backend: %s\n", store.Name())
	renderTable(out, []string{"SOURCE", "RELAYS", "FAILING"}, rows)
	return nil
}

// renderTable prints a borderless, left-aligned table.
func renderTable(w io.Writer, header []string, rows [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetHeaderLine(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeader(header)
	table.AppendBulk(rows)
	table.Render()
}

func kindOrDash(kind string) string {
	if kind == "" {
		return "-"
	}
	return kind
}

func availableAt(t time.Time) string {
	if t.IsZero() {
		return "now"
	}
	return t.Format(time.RFC3339)
}

// init is automatically called before main(), sets up flags and subcommands
func init() {
	// Add persistent flags (inherited by all subcommands)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Path to custom config file (optional)")
	rootCmd.PersistentFlags().String("storage", "file", "Snapshot backend (none, file, sqlite, postgres)")
	rootCmd.PersistentFlags().String("log-level", "info", "Logging level (debug, info, warn, error, fatal)")

	// A simple version subcommand
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version number of proxypool",
		Long:  "Print the version number of proxypool along with build information",
		Run: func(cmd *cobra.Command, args []string) {
			if detailed, _ := cmd.Flags().GetBool("detailed"); detailed {
				fmt.Println(GetFullVersionInfo())
			} else {
				fmt.Println(GetVersionWithPrefix())
			}
		},
	}
	versionCmd.Flags().BoolP("detailed", "d", false, "Show detailed version information")
	rootCmd.AddCommand(versionCmd)

	startCmd := &cobra.Command{
		Use:          "start",
		Short:        "Start the proxypool server",
		Long:         "Start the proxypool HTTP API with the specified configuration",
		SilenceUsage: true,
		RunE:         runStart,
	}
	startCmd.Flags().String("addr", ":8765", "Listen address for the HTTP API")
	startCmd.Flags().String("initial-list", "", "File of whitespace-separated address:port entries seeded into every pool")
	startCmd.Flags().Int("metrics-port", 2112, "Port for Prometheus metrics server")
	rootCmd.AddCommand(startCmd)

	statsCmd := &cobra.Command{
		Use:          "stats",
		Short:        "Print saved relay state from the snapshot store",
		SilenceUsage: true,
		RunE:         runStats,
	}
	statsCmd.Flags().StringP("source", "s", constants.AllSources, "Source to print, or \"all\"")
	rootCmd.AddCommand(statsCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:          "snapshot",
		Short:        "Summarize the snapshots held by the configured backend",
		SilenceUsage: true,
		RunE:         runSnapshot,
	})
}
