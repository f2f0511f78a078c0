package notionsync

import (
	"fmt"
	"time"

	"github.com/dvloznov/donation-tracker/internal/domain"
	"github.com/jomei/notionapi"
)

// Property names of the mirror database.
const (
	PropName                  = "Name"
	PropTransactionID         = "Transaction ID"
	PropStatus                = "Status"
	PropKind                  = "Kind"
	PropExpectedAmount        = "Expected Amount"
	PropAmount                = "Amount"
	PropProvider              = "Provider"
	PropProviderTransactionID = "Provider Transaction ID"
	PropFrom                  = "From"
	PropTo                    = "To"
	PropFailureReason         = "Failure Reason"
	PropCreated               = "Created"
	PropUpdated               = "Updated"
)

// TransactionToNotionProperties converts a ledger record to the full set of page properties.
func TransactionToNotionProperties(tx *domain.Transaction) notionapi.Properties {
	props := notionapi.Properties{
		PropName: notionapi.TitleProperty{
			Title: richText(fmt.Sprintf("%s %s", tx.Kind, tx.ExpectedAmount.StringFixed(2))),
		},
		PropTransactionID: notionapi.RichTextProperty{RichText: richText(tx.ID)},
		PropKind:          notionapi.SelectProperty{Select: notionapi.Option{Name: string(tx.Kind)}},
		PropExpectedAmount: notionapi.NumberProperty{
			Number: tx.ExpectedAmount.InexactFloat64(),
		},
		PropProvider: notionapi.SelectProperty{Select: notionapi.Option{Name: tx.Provider}},
		PropCreated:  dateProperty(tx.CreatedAt),
	}

	if tx.ProviderTransactionID != "" {
		props[PropProviderTransactionID] = notionapi.RichTextProperty{RichText: richText(tx.ProviderTransactionID)}
	}

	// External participants have no user id.
	if tx.From != "" {
		props[PropFrom] = notionapi.RichTextProperty{RichText: richText(tx.From)}
	}
	if tx.To != "" {
		props[PropTo] = notionapi.RichTextProperty{RichText: richText(tx.To)}
	}

	for k, v := range StatusProperties(tx) {
		props[k] = v
	}
	return props
}

// StatusProperties returns only the properties that change during reconciliation.
func StatusProperties(tx *domain.Transaction) notionapi.Properties {
	props := notionapi.Properties{
		PropStatus:  notionapi.SelectProperty{Select: notionapi.Option{Name: string(tx.Status)}},
		PropAmount:  notionapi.NumberProperty{Number: tx.Amount.InexactFloat64()},
		PropUpdated: dateProperty(tx.UpdatedAt),
	}
	if tx.FailureReason != "" {
		props[PropFailureReason] = notionapi.RichTextProperty{RichText: richText(tx.FailureReason)}
	}
	return props
}

func richText(content string) []notionapi.RichText {
	return []notionapi.RichText{
		{
			Type: notionapi.ObjectTypeText,
			Text: &notionapi.Text{Content: content},
		},
	}
}

func dateProperty(t time.Time) notionapi.DateProperty {
	d := notionapi.Date(t.UTC())
	return notionapi.DateProperty{Date: &notionapi.DateObject{Start: &d}}
}

// extractTransactionID returns the ledger id a page mirrors, or "" if it has none.
func extractTransactionID(page notionapi.Page) string {
	if prop, ok := page.Properties[PropTransactionID]; ok {
		if rt, ok := prop.(*notionapi.RichTextProperty); ok && len(rt.RichText) > 0 {
			return rt.RichText[0].PlainText
		}
	}
	return ""
}

// extractStatus returns the mirrored status of a page.
func extractStatus(page notionapi.Page) domain.Status {
	if prop, ok := page.Properties[PropStatus]; ok {
		if sel, ok := prop.(*notionapi.SelectProperty); ok {
			return domain.Status(sel.Select.Name)
		}
	}
	return ""
}
