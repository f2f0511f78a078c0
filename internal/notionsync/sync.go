// Package notionsync mirrors ledger transactions into a Notion database for staff review.
package notionsync

import (
	"context"
	"fmt"

	"github.com/dvloznov/donation-tracker/internal/logger"
	"github.com/jomei/notionapi"
)

// SyncResult counts what a sync did.
type SyncResult struct {
	Created int
	Updated int
	Skipped int
	Failed  int
}

// SyncTransactions mirrors every ledger record of userID into databaseID.
// Records without a page get one; pages whose mirrored status is not final are
// refreshed when the ledger moved on. Per-record Notion failures are logged and counted.
func SyncTransactions(ctx context.Context, source TransactionSource, notionClient NotionService, databaseID, userID string, dryRun bool) (SyncResult, error) {
	log := logger.FromContext(ctx)
	var result SyncResult

	log.Info().
		Str("user_id", userID).
		Bool("dry_run", dryRun).
		Msg("Starting transactions sync to Notion")

	txs, err := source.FindByParticipant(ctx, userID)
	if err != nil {
		return result, fmt.Errorf("SyncTransactions: listing transactions: %w", err)
	}

	pages, err := queryAllNotionPages(ctx, notionClient, databaseID)
	if err != nil {
		return result, fmt.Errorf("SyncTransactions: %w", err)
	}

	existing := make(map[string]notionapi.Page, len(pages))
	for _, page := range pages {
		if id := extractTransactionID(page); id != "" {
			existing[id] = page
		}
	}

	for _, tx := range txs {
		page, mirrored := existing[tx.ID]

		switch {
		case !mirrored:
			if dryRun {
				log.Info().Str("transaction_id", tx.ID).Msg("[DRY RUN] Would create Notion page")
				result.Created++
				continue
			}
			created, err := notionClient.CreatePage(ctx, databaseID, TransactionToNotionProperties(tx))
			if err != nil {
				log.Warn().Err(err).Str("transaction_id", tx.ID).Msg("Failed to create Notion page")
				result.Failed++
				continue
			}
			log.Info().
				Str("transaction_id", tx.ID).
				Str("page_id", string(created.ID)).
				Msg("Created Notion page")
			result.Created++

		case extractStatus(page).IsTerminal() || extractStatus(page) == tx.Status:
			result.Skipped++

		default:
			if dryRun {
				log.Info().
					Str("transaction_id", tx.ID).
					Str("status", string(tx.Status)).
					Msg("[DRY RUN] Would update Notion page")
				result.Updated++
				continue
			}
			if _, err := notionClient.UpdatePage(ctx, string(page.ID), StatusProperties(tx)); err != nil {
				log.Warn().
					Err(err).
					Str("transaction_id", tx.ID).
					Str("page_id", string(page.ID)).
					Msg("Failed to update Notion page")
				result.Failed++
				continue
			}
			log.Info().
				Str("transaction_id", tx.ID).
				Str("page_id", string(page.ID)).
				Str("status", string(tx.Status)).
				Msg("Updated Notion page")
			result.Updated++
		}
	}

	log.Info().
		Int("created", result.Created).
		Int("updated", result.Updated).
		Int("skipped", result.Skipped).
		Int("failed", result.Failed).
		Int("total", len(txs)).
		Msg("Transactions sync completed")

	return result, nil
}

// queryAllNotionPages lists every mirrored page, following the cursor.
func queryAllNotionPages(ctx context.Context, notionClient NotionService, databaseID string) ([]notionapi.Page, error) {
	var allPages []notionapi.Page
	var cursor notionapi.Cursor

	for {
		resp, err := notionClient.QueryDatabase(ctx, databaseID, MirrorQuery(cursor))
		if err != nil {
			return nil, fmt.Errorf("queryAllNotionPages: %w", err)
		}

		allPages = append(allPages, resp.Results...)

		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}

	return allPages, nil
}
