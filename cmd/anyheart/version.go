package main

import (
	"fmt"
	"strings"

	"github.com/alexhamidi/anyheart"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of anyheart",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "anyheart version %s\n", strings.TrimSpace(anyheart.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
