package extraction

import (
	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/internal/parsers"
)

// ToReceiptRecord converts a raw result into a receipt record. The source id
// is the file name without its directory.
func ToReceiptRecord(source string, raw *RawReceipt) *models.ReceiptRecord {
	if raw == nil {
		return nil
	}
	return models.NewReceiptRecord(source, raw.PurchaseDate, raw.StoreName, raw.Address, raw.TotalPrice.String(), raw.Currency)
}

// Records returns the successful results as receipt records, in completion
// order
func (b *Batch) Records() []*models.ReceiptRecord {
	records := make([]*models.ReceiptRecord, 0, len(b.Results))
	for _, result := range b.Results {
		if result.Receipt == nil {
			continue
		}
		records = append(records, ToReceiptRecord(result.Source, result.Receipt))
	}
	return records
}

// Mapping returns source path to raw receipt, nil for failed items
func (b *Batch) Mapping() map[string]*RawReceipt {
	mapping := make(map[string]*RawReceipt, len(b.Results))
	for _, result := range b.Results {
		mapping[result.Source] = result.Receipt
	}
	return mapping
}

// Failed returns the results that produced no record
func (b *Batch) Failed() []Result {
	var failed []Result
	for _, result := range b.Results {
		if result.Receipt == nil {
			failed = append(failed, result)
		}
	}
	return failed
}

// Succeeded returns the number of results with a record
func (b *Batch) Succeeded() int {
	return len(b.Results) - len(b.Failed())
}

// ReceiptRows returns one CSV row per result in completion order. Failed
// items keep only their filename so a later load counts them as dropped.
func (b *Batch) ReceiptRows() []parsers.ReceiptRow {
	rows := make([]parsers.ReceiptRow, 0, len(b.Results))
	for _, result := range b.Results {
		row := parsers.ReceiptRow{Filename: models.StripSourcePrefix(result.Source)}
		if raw := result.Receipt; raw != nil {
			row.PurchaseDate = raw.PurchaseDate
			row.StoreName = raw.StoreName
			row.Address = raw.Address
			row.TotalPrice = raw.TotalPrice.String()
			row.Currency = raw.Currency
		}
		rows = append(rows, row)
	}
	return rows
}
