package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alexjbarnes/crm-auth/internal/credential"
	"github.com/alexjbarnes/crm-auth/internal/logging"
	"github.com/alexjbarnes/crm-auth/internal/models"
	"github.com/alexjbarnes/crm-auth/internal/session"
	"github.com/alexjbarnes/crm-auth/internal/state"
)

var issueSessionCmd = &cobra.Command{
	Use:   "issue-session <user-id> <email>",
	Short: "Print a signed session assertion for a user",
	Long: `Prints a 30 day session assertion signed with AUTH_SECRET. Use it as the
session cookie value or as a bearer token during development.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		codec, err := session.NewCodec(cfg.AuthSecret)
		if err != nil {
			return fmt.Errorf("creating session codec: %w", err)
		}

		tok, err := codec.Issue(models.Principal{UserID: args[0], Email: args[1]})
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), tok)

		return nil
	},
}

var mintTokenCmd = &cobra.Command{
	Use:   "mint-token <user-id> <label>",
	Short: "Mint an API token directly in the state file",
	Long: `Mints an opaque API token for a user and prints the raw value. The value is
shown once; only its digest is stored. The server must not be running
against the same state file.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := state.LoadAt(cfg.StatePath)
		if err != nil {
			return fmt.Errorf("loading state: %w", err)
		}
		defer db.Close()

		logger := logging.NewLogger(cfg.Environment, "warn")
		store := credential.NewStore(db, logger)

		raw, rec, err := store.Mint(args[0], args[1])
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.ErrOrStderr(), "minted %q (id %s) for %s\n", rec.Label, rec.ID, rec.OwnerID)
		fmt.Fprintln(cmd.OutOrStdout(), raw)

		return nil
	},
}

var listTokensOutput string

var listTokensCmd = &cobra.Command{
	Use:   "list-tokens <user-id>",
	Short: "List a user's API tokens from the state file",
	Long: `Lists the API tokens owned by a user. Token values are never stored and
cannot be shown; the digest is omitted as well. Output is a table by
default, or yaml/json with --output.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := state.LoadAt(cfg.StatePath)
		if err != nil {
			return fmt.Errorf("loading state: %w", err)
		}
		defer db.Close()

		logger := logging.NewLogger(cfg.Environment, "warn")

		list, err := credential.NewStore(db, logger).List(args[0])
		if err != nil {
			return err
		}

		return writeTokens(cmd.OutOrStdout(), listTokensOutput, list)
	},
}

func init() {
	listTokensCmd.Flags().StringVarP(&listTokensOutput, "output", "o", outputTable, "output format: table, yaml or json")
}
