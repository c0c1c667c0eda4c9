package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/alexhamidi/anyheart/internal/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "anyheart",
	Short: "anyheart edits live web pages from natural language instructions",
	Long: `anyheart runs the agent session backend and an interactive client that
applies instructed edits to a browser tab, observes the result and keeps
iterating until the page looks right.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML or JSON config file")
	rootCmd.PersistentFlags().String("log-level", "", "Override log.level (debug, info, warn, error)")
}

// loadConfig reads the config named by --config and applies flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); strings.TrimSpace(lvl) != "" {
		cfg.Log.Level = lvl
	}
	return cfg, nil
}
