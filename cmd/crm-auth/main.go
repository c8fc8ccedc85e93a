package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alexjbarnes/crm-auth/internal/config"
)

var Version = "dev"

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "crm-auth",
	Short: "Session, API token and OAuth 2.1 authorization server for the CRM",
	Long: `crm-auth resolves session cookies, bearer session assertions and opaque
API tokens into a single principal, and runs the OAuth 2.1 authorization
server (dynamic client registration, authorization code with PKCE) that lets
agents obtain durable API tokens for the MCP endpoint.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		var err error

		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		return nil
	},
}

func init() {
	rootCmd.Version = Version
	rootCmd.AddCommand(serveCmd, issueSessionCmd, mintTokenCmd, listTokensCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
