package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dvloznov/donation-tracker/internal/domain"
)

var nowUTC = func() time.Time { return time.Now().UTC() }

func printTransactions(w io.Writer, txs []*domain.Transaction) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tSTATUS\tEXPECTED\tSETTLED\tFROM\tTO\tCREATED")
	for _, tx := range txs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			tx.ID, tx.Kind, tx.Status,
			tx.ExpectedAmount.StringFixed(2), tx.Amount.StringFixed(2),
			participant(tx.From, tx.FromExternal), participant(tx.To, tx.ToExternal),
			tx.CreatedAt.Format(time.RFC3339))
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d transaction(s)\n", len(txs))
}

func printTransaction(w io.Writer, tx *domain.Transaction) {
	fmt.Fprintln(w, "\n=== Transaction ===")
	fmt.Fprintf(w, "ID:          %s\n", tx.ID)
	fmt.Fprintf(w, "Kind:        %s\n", tx.Kind)
	fmt.Fprintf(w, "Status:      %s\n", tx.Status)
	if tx.FailureReason != "" {
		fmt.Fprintf(w, "Reason:      %s\n", tx.FailureReason)
	}
	fmt.Fprintf(w, "Expected:    %s\n", tx.ExpectedAmount.StringFixed(2))
	fmt.Fprintf(w, "Settled:     %s\n", tx.Amount.StringFixed(2))
	fmt.Fprintf(w, "From:        %s\n", participant(tx.From, tx.FromExternal))
	fmt.Fprintf(w, "To:          %s\n", participant(tx.To, tx.ToExternal))
	fmt.Fprintf(w, "Provider:    %s %s\n", tx.Provider, tx.ProviderTransactionID)
	fmt.Fprintf(w, "Created:     %s\n", tx.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Updated:     %s\n", tx.UpdatedAt.Format(time.RFC3339))
	fmt.Fprintln(w)
}

func participant(id string, external bool) string {
	switch {
	case id == "" && external:
		return "(external)"
	case external:
		return id + " (external)"
	case id == "":
		return "-"
	}
	return id
}
