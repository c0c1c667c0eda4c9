package main

import (
	"fmt"
	"io"
	"os"

	"github.com/alexhamidi/anyheart/internal/cli"
	"github.com/alexhamidi/anyheart/pkg/client"
	"github.com/alexhamidi/anyheart/pkg/domain"
	"github.com/spf13/cobra"
)

var shareCmd = &cobra.Command{
	Use:   "share",
	Short: "Create or fetch page shares on a backend",
}

var shareCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Publish edited markup for a page",
	Long:  `Reads the edited markup from --file (or stdin when omitted) and prints the shareable link.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := shareClient(cmd)
		if err != nil {
			return err
		}
		req := domain.ShareRequest{}
		req.URL, _ = cmd.Flags().GetString("url")
		req.Title, _ = cmd.Flags().GetString("title")
		req.Description, _ = cmd.Flags().GetString("description")
		if cmd.Flags().Changed("expires-in-days") {
			days, _ := cmd.Flags().GetInt("expires-in-days")
			req.ExpiresInDays = &days
		}

		path, _ := cmd.Flags().GetString("file")
		var src io.Reader = cmd.InOrStdin()
		if path != "" {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			src = f
		}
		markup, err := io.ReadAll(src)
		if err != nil {
			return fmt.Errorf("read markup: %w", err)
		}
		req.HTML = string(markup)

		return cli.CreateShare(cmd.Context(), c, req, cmd.OutOrStdout())
	},
}

var shareFetchCmd = &cobra.Command{
	Use:   "fetch <id>",
	Short: "Print a share",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := shareClient(cmd)
		if err != nil {
			return err
		}
		markupOnly, _ := cmd.Flags().GetBool("html")
		return cli.FetchShare(cmd.Context(), c, args[0], markupOnly, cmd.OutOrStdout())
	},
}

func shareClient(cmd *cobra.Command) (*client.Client, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if backendURL, _ := cmd.Flags().GetString("backend"); backendURL != "" {
		cfg.Client.BackendURL = backendURL
	}
	return client.New(cfg.Client.BackendURL, client.WithLogger(cli.NewLogger(cfg, false, false)))
}

func init() {
	rootCmd.AddCommand(shareCmd)
	shareCmd.AddCommand(shareCreateCmd, shareFetchCmd)
	shareCmd.PersistentFlags().String("backend", "", "Backend base URL (overrides client.backend_url)")

	shareCreateCmd.Flags().String("url", "", "Page the markup belongs to")
	shareCreateCmd.Flags().StringP("file", "f", "", "File holding the edited markup")
	shareCreateCmd.Flags().String("title", "", "Share title")
	shareCreateCmd.Flags().String("description", "", "Share description")
	shareCreateCmd.Flags().Int("expires-in-days", 30, "Days until the share expires")
	_ = shareCreateCmd.MarkFlagRequired("url")

	shareFetchCmd.Flags().Bool("html", false, "Print only the markup")
}
