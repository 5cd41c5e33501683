package reporter

import (
	"fmt"
	"io"

	"receipt-reconciliation-service/internal/reconciler"

	"github.com/xuri/excelize/v2"
)

// Sheet names of the xlsx report
const (
	SheetLedger     = "Ledger"
	SheetUnassigned = "Unassigned"
	SheetDropped    = "Dropped"
)

// generateXLSXReport writes a workbook with the annotated ledger on the
// first sheet and the unassigned receipts on the second. Amounts and scores
// are numeric cells.
func (rg *ReportGenerator) generateXLSXReport(result *reconciler.ReconciliationResult, writer io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	// NewFile starts with a default sheet; rename it so the ledger comes first
	if err := f.SetSheetName(f.GetSheetName(0), SheetLedger); err != nil {
		return fmt.Errorf("xlsx sheet: %w", err)
	}
	if _, err := f.NewSheet(SheetUnassigned); err != nil {
		return fmt.Errorf("xlsx sheet: %w", err)
	}

	writeHeaders(f, SheetLedger, LedgerViewHeaders)
	for i, entry := range result.Ledger {
		row := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(SheetLedger, cell, v)
		}

		write(1, entry.Amount.InexactFloat64())
		write(2, entry.Date.Format("2006-01-02"))
		write(3, entry.VendorText)
		write(4, entry.Checked)
		write(5, entry.AssignedReceipt)
		if entry.MatchScore != nil {
			write(6, *entry.MatchScore)
		}
		write(7, entry.MatchType.String())
	}

	writeHeaders(f, SheetUnassigned, UnassignedViewHeaders)
	for i, record := range result.Unassigned {
		row := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(SheetUnassigned, cell, v)
		}

		write(1, record.SourceID)
		write(2, record.Reason)
		if record.Amount != nil {
			write(3, record.Amount.InexactFloat64())
		}
	}

	if rg.config.IncludeDropped && len(result.DroppedReceipts) > 0 {
		if _, err := f.NewSheet(SheetDropped); err != nil {
			return fmt.Errorf("xlsx sheet: %w", err)
		}
		writeHeaders(f, SheetDropped, []string{"filename", "stage", "reason"})
		for i, d := range result.DroppedReceipts {
			for col, v := range []string{d.SourceID, string(d.Stage), d.Reason} {
				cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
				_ = f.SetCellValue(SheetDropped, cell, v)
			}
		}
		_ = f.SetColWidth(SheetDropped, "A", "A", 24)
		_ = f.SetColWidth(SheetDropped, "C", "C", 60)
	}

	_ = f.SetColWidth(SheetLedger, "A", "A", 12) // amount
	_ = f.SetColWidth(SheetLedger, "B", "B", 12) // date
	_ = f.SetColWidth(SheetLedger, "C", "C", 40) // vendor
	_ = f.SetColWidth(SheetLedger, "E", "E", 24) // picture
	_ = f.SetColWidth(SheetLedger, "G", "G", 48) // match type
	_ = f.SetColWidth(SheetUnassigned, "A", "A", 24)
	_ = f.SetColWidth(SheetUnassigned, "B", "B", 60)

	index, _ := f.GetSheetIndex(SheetLedger)
	f.SetActiveSheet(index)

	if err := f.Write(writer); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}

func writeHeaders(f *excelize.File, sheet string, headers []string) {
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
}
