package matcher

import (
	"fmt"
	"strings"
	"time"

	"receipt-reconciliation-service/internal/models"

	"github.com/shopspring/decimal"
)

// DuplicateEntryGroup is a set of ledger entries with the same amount, day
// and vendor text. The cascade cannot tell them apart, so they are assigned
// in row order.
type DuplicateEntryGroup struct {
	Rows   []int
	Amount decimal.Decimal
	Date   time.Time
	Vendor string
}

// DuplicateReceiptGroup is a set of receipts that look like the same purchase
type DuplicateReceiptGroup struct {
	SourceIDs []string
	Reason    string
}

// DetectDuplicateEntries groups identical ledger entries, in ledger order
func DetectDuplicateEntries(ledger []*models.LedgerEntry) []DuplicateEntryGroup {
	var groups []DuplicateEntryGroup
	processed := make(map[int]bool)

	for i, first := range ledger {
		if processed[i] {
			continue
		}

		rows := []int{first.Row}
		for j := i + 1; j < len(ledger); j++ {
			if !processed[j] && isDuplicateEntry(first, ledger[j]) {
				rows = append(rows, ledger[j].Row)
				processed[j] = true
			}
		}

		if len(rows) > 1 {
			groups = append(groups, DuplicateEntryGroup{
				Rows:   rows,
				Amount: first.Amount,
				Date:   first.Date,
				Vendor: first.VendorText,
			})
		}
		processed[i] = true
	}

	return groups
}

func isDuplicateEntry(a, b *models.LedgerEntry) bool {
	return a.Amount.Equal(b.Amount) &&
		models.SameDay(a.Date, b.Date) &&
		strings.EqualFold(a.VendorText, b.VendorText)
}

// DetectDuplicateReceipts groups receipts that share a source id, or that
// agree on amount, purchase date and vendor text
func DetectDuplicateReceipts(receipts []*models.ReceiptRecord) []DuplicateReceiptGroup {
	var groups []DuplicateReceiptGroup
	processed := make(map[int]bool)

	for i, first := range receipts {
		if processed[i] {
			continue
		}

		sources := []string{first.SourceID}
		reason := ""
		for j := i + 1; j < len(receipts); j++ {
			if processed[j] {
				continue
			}
			if why := duplicateReceiptReason(first, receipts[j]); why != "" {
				sources = append(sources, receipts[j].SourceID)
				processed[j] = true
				if reason == "" {
					reason = why
				}
			}
		}

		if len(sources) > 1 {
			groups = append(groups, DuplicateReceiptGroup{
				SourceIDs: sources,
				Reason:    fmt.Sprintf("%d receipts with %s", len(sources), reason),
			})
		}
		processed[i] = true
	}

	return groups
}

func duplicateReceiptReason(a, b *models.ReceiptRecord) string {
	if a.SourceID != "" && a.SourceID == b.SourceID {
		return "the same file name"
	}
	if a.TotalAmount == nil || b.TotalAmount == nil || a.PurchaseDate == nil || b.PurchaseDate == nil {
		return ""
	}
	if a.TotalAmount.Equal(*b.TotalAmount) &&
		models.SameDay(*a.PurchaseDate, *b.PurchaseDate) &&
		strings.EqualFold(a.VendorText, b.VendorText) {
		return "the same amount, date and vendor"
	}
	return ""
}
