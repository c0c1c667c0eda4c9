package main

import (
	"os"

	"github.com/alexhamidi/anyheart/internal/cli"
	"github.com/spf13/cobra"
)

var editCmd = &cobra.Command{
	Use:   "edit [url]",
	Short: "Edit a web page interactively",
	Long: `Opens the page in Chrome and reads instructions from the prompt. Each
instruction is sent to the backend and the resulting markup is applied to the
tab. Edits are cached locally and restored when the page is opened again.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		opts := cli.EditOptions{}
		opts.URL, _ = cmd.Flags().GetString("url")
		if opts.URL == "" && len(args) > 0 {
			opts.URL = args[0]
		}
		opts.ModelType, _ = cmd.Flags().GetString("model-type")
		opts.Apply, _ = cmd.Flags().GetString("apply")
		opts.Local, _ = cmd.Flags().GetBool("local")
		opts.Debug, _ = cmd.Flags().GetBool("debug")
		if backendURL, _ := cmd.Flags().GetString("backend"); backendURL != "" {
			cfg.Client.BackendURL = backendURL
		}
		if headful, _ := cmd.Flags().GetBool("headful"); headful {
			cfg.Client.Headful = true
		}

		sc := cli.NewSignalContext(cmd.Context())
		defer sc.Cancel()
		return cli.Edit(sc, cfg, opts, os.Stdin, os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(editCmd)
	editCmd.Flags().StringP("url", "u", "", "Page to open")
	editCmd.Flags().String("model-type", "", "Interpreter model for new sessions (see upstream.models)")
	editCmd.Flags().String("apply", "", "Share id or link to apply once the page is open")
	editCmd.Flags().String("backend", "", "Backend base URL (overrides client.backend_url)")
	editCmd.Flags().Bool("local", false, "Run the backend in-process instead of calling a server")
	editCmd.Flags().Bool("headful", false, "Show the browser window")
	editCmd.Flags().Bool("debug", false, "Log to stderr at debug level")
}
