package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/2lar/graphsync/internal/config"
	"github.com/2lar/graphsync/internal/di"
)

var version = "0.1.0-dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "graphsync",
		Short: "Operate a graphsync node store",
		Long: `graphsync maps in-memory object graphs onto a graph store.

This tool inspects and maintains the configured store: check that it is
reachable, look nodes up by business key, seed sample data and clear it.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().String("config-dir", "config", "Directory holding base/<env>/local config files")
	rootCmd.PersistentFlags().String("env", "", "Environment (development, staging, production); defaults to $GRAPHSYNC_ENV")

	rootCmd.AddCommand(
		newVersionCmd(),
		newPingCmd(),
		newLookupCmd(),
		newClearCmd(),
		newSeedCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			return render(cmd, map[string]string{"version": version}, "graphsync version %s\n", version)
		},
	}
}

// withContainer loads configuration, wires the container and runs fn.
func withContainer(cmd *cobra.Command, fn func(ctx context.Context, c *di.Container) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	c, cleanup, err := di.InitializeContainer(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer cleanup()
	defer c.Logger.Sync() //nolint:errcheck

	return fn(cmd.Context(), c)
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	dir, _ := cmd.Flags().GetString("config-dir")
	envName, _ := cmd.Flags().GetString("env")
	if envName == "" {
		envName = os.Getenv(config.EnvPrefix + "ENV")
	}
	return config.NewLoader(dir, config.ParseEnvironment(envName)).Load()
}

// render prints v as JSON with --json, otherwise the formatted text.
func render(cmd *cobra.Command, v any, format string, args ...any) error {
	jsonOut, _ := cmd.Flags().GetBool("json")
	return write(cmd.OutOrStdout(), jsonOut, v, format, args...)
}

func write(w io.Writer, jsonOut bool, v any, format string, args ...any) error {
	if jsonOut {
		return json.NewEncoder(w).Encode(v)
	}
	_, err := fmt.Fprintf(w, format, args...)
	return err
}
