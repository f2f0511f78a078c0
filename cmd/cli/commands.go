package main

import (
	"fmt"
	"os"

	"github.com/dvloznov/donation-tracker/internal/archive"
	"github.com/dvloznov/donation-tracker/internal/notionsync"
	"github.com/spf13/cobra"
)

func listCmd() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every transaction a user sent or received",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			txs, err := s.app.Ledger.GetAllByUser(s.ctx, userID)
			if err != nil {
				return err
			}

			printTransactions(os.Stdout, txs)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User ID (required)")
	cmd.MarkFlagRequired("user")
	return cmd
}

func statusCmd() *cobra.Command {
	var userID, txID string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check a transaction as a participant would, polling the provider if it is not final",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			tx, err := s.app.Ledger.CheckUserTransactionStatus(s.ctx, userID, txID)
			if err != nil {
				return err
			}

			printTransaction(os.Stdout, tx)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "Participant user ID (required)")
	cmd.Flags().StringVar(&txID, "id", "", "Transaction ID (required)")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("id")
	return cmd
}

func reconcileCmd() *cobra.Command {
	var (
		txID  string
		stale bool
		limit int
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Poll the provider for one transaction, or for every stale one",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (txID == "") == !stale {
				return fmt.Errorf("exactly one of --id or --stale is required")
			}

			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			if txID != "" {
				tx, err := s.app.Ledger.ReconcileTransaction(s.ctx, txID)
				if err != nil {
					return err
				}
				printTransaction(os.Stdout, tx)
				return nil
			}

			cutoff := s.app.Config.Reconciler.StaleAfter
			candidates, err := s.app.Store.FindStale(s.ctx, nowUTC().Add(-cutoff), limit)
			if err != nil {
				return err
			}

			var failed int
			for _, c := range candidates {
				tx, err := s.app.Ledger.ReconcileTransaction(s.ctx, c.ID)
				if err != nil {
					s.log.Warn().Err(err).Str("transaction_id", c.ID).Msg("Reconcile failed")
					failed++
					continue
				}
				fmt.Printf("%s  %s -> %s\n", tx.ID, c.Status, tx.Status)
			}

			fmt.Printf("Reconciled %d of %d stale transactions.\n", len(candidates)-failed, len(candidates))
			return nil
		},
	}

	cmd.Flags().StringVar(&txID, "id", "", "Transaction ID")
	cmd.Flags().BoolVar(&stale, "stale", false, "Reconcile every transaction older than reconciler.stale_after")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum stale transactions to reconcile")
	return cmd
}

func replayCmd() *cobra.Command {
	var uri string

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-deliver an archived provider notification",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			_, object, err := archive.ParseURI(uri)
			if err != nil {
				return err
			}
			providerName := archive.ProviderFromObject(s.app.Config.Archive.Prefix, object)
			if providerName == "" {
				return fmt.Errorf("cannot tell the provider of %s", uri)
			}

			payload, err := s.app.Archive.Fetch(s.ctx, uri)
			if err != nil {
				return err
			}

			tx, err := s.app.Ledger.HandleProviderNotification(s.ctx, providerName, payload)
			if err != nil {
				return err
			}

			printTransaction(os.Stdout, tx)
			return nil
		},
	}

	cmd.Flags().StringVar(&uri, "uri", "", "gs:// URI of the archived notification (required)")
	cmd.MarkFlagRequired("uri")
	return cmd
}

func syncNotionCmd() *cobra.Command {
	var (
		userID     string
		token      string
		databaseID string
		dryRun     bool
	)

	cmd := &cobra.Command{
		Use:   "sync-notion",
		Short: "Mirror a user's transactions into the Notion review database",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			if token == "" {
				token = s.app.Config.Notion.Token
			}
			if databaseID == "" {
				databaseID = s.app.Config.Notion.DatabaseID
			}
			if token == "" || databaseID == "" {
				return fmt.Errorf("a Notion token and database id are required (flags or notion.* config)")
			}

			result, err := notionsync.SyncTransactions(s.ctx, s.app.Store, notionsync.NewNotionClient(token), databaseID, userID, dryRun)
			if err != nil {
				return err
			}

			fmt.Printf("Sync completed: %d created, %d updated, %d skipped, %d failed.\n",
				result.Created, result.Updated, result.Skipped, result.Failed)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User ID whose transactions to mirror (required)")
	cmd.Flags().StringVar(&token, "notion-token", "", "Notion API token (defaults to notion.token)")
	cmd.Flags().StringVar(&databaseID, "notion-db-id", "", "Notion database ID (defaults to notion.database_id)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Preview changes without writing to Notion")
	cmd.MarkFlagRequired("user")
	return cmd
}
