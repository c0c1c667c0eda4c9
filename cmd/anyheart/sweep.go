package main

import (
	"fmt"

	"github.com/alexhamidi/anyheart"
	"github.com/alexhamidi/anyheart/internal/cli"
	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire old shares, idle sessions and client page snapshots once",
	Long: `Tombstones every expired share in the configured storage, deletes
sessions idle for longer than storage.session_ttl and removes client page
snapshots older than client.retention.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := cli.NewLogger(cfg, false, false)

		backend, err := anyheart.New(cfg, anyheart.WithLogger(logger))
		if err != nil {
			return err
		}
		defer backend.Close()

		rep, err := backend.Sweep(cmd.Context())
		if err != nil {
			return err
		}
		snapshots, err := cli.SweepSnapshots(cmd.Context(), cfg.Client, logger)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "expired %d shares and %d sessions, removed %d page snapshots\n", rep.Shares, rep.Sessions, snapshots)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
