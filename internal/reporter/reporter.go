// Package reporter renders reconciliation results.
//
// Every format carries the two views of a run: the annotated ledger (every
// ledger row with its assignment, if any) and the unassigned receipts with
// the reason each one was rejected.
//
// Supported output formats:
//   - Console: human-readable summary for terminal display
//   - JSON: the full result for programmatic consumption
//   - CSV: the annotated ledger view; the unassigned view is written separately
//   - XLSX: one workbook with a sheet per view
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(&reporter.ReportConfig{Format: reporter.FormatXLSX})
//	err = generator.GenerateReport(result, file)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"receipt-reconciliation-service/internal/matcher"
	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/internal/reconciler"

	"github.com/fatih/color"
)

// OutputFormat represents the supported report output formats
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
	FormatXLSX    OutputFormat = "xlsx"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV, FormatXLSX:
		return true
	default:
		return false
	}
}

// IsBinary reports whether the format should not be written to a terminal
func (f OutputFormat) IsBinary() bool {
	return f == FormatXLSX
}

// Column headers of the two views
var (
	LedgerViewHeaders     = []string{"amount", "date", "vendor_text", "checked", "assigned_picture", "match_score", "match_type"}
	UnassignedViewHeaders = []string{"filename", "reason", "amount"}
)

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format" mapstructure:"format"`

	IncludeDropped         bool `json:"include_dropped" mapstructure:"include_dropped"`
	IncludeProcessingStats bool `json:"include_processing_stats" mapstructure:"include_processing_stats"`

	// Console formatting options
	UseColors    bool `json:"use_colors" mapstructure:"use_colors"`
	MaxListItems int  `json:"max_list_items" mapstructure:"max_list_items"`

	// CSV options
	CSVDelimiter rune `json:"csv_delimiter" mapstructure:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers" mapstructure:"csv_headers"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:                 FormatConsole,
		IncludeDropped:         true,
		IncludeProcessingStats: true,
		UseColors:              true,
		MaxListItems:           20,
		CSVDelimiter:           ',',
		CSVHeaders:             true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}

	if c.MaxListItems < 0 {
		return fmt.Errorf("max list items cannot be negative, got %d", c.MaxListItems)
	}

	if c.CSVDelimiter == 0 || c.CSVDelimiter == '\n' || c.CSVDelimiter == '"' {
		return fmt.Errorf("invalid CSV delimiter %q", c.CSVDelimiter)
	}

	return nil
}

// ReportGenerator generates reconciliation reports in various formats
type ReportGenerator struct {
	config *ReportConfig

	heading *color.Color
	good    *color.Color
	warn    *color.Color
	bad     *color.Color
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}

	rg := &ReportGenerator{
		config:  config,
		heading: color.New(color.Bold, color.FgCyan),
		good:    color.New(color.FgGreen),
		warn:    color.New(color.FgYellow),
		bad:     color.New(color.FgRed),
	}
	if !config.UseColors {
		for _, c := range []*color.Color{rg.heading, rg.good, rg.warn, rg.bad} {
			c.DisableColor()
		}
	}

	return rg, nil
}

// GenerateReport generates a report from reconciliation results and writes it to the provided writer
func (rg *ReportGenerator) GenerateReport(result *reconciler.ReconciliationResult, writer io.Writer) error {
	if result == nil {
		return fmt.Errorf("reconciliation result cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(result, writer)
	case FormatJSON:
		return rg.generateJSONReport(result, writer)
	case FormatCSV:
		return rg.WriteLedgerCSV(result, writer)
	case FormatXLSX:
		return rg.generateXLSXReport(result, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// generateConsoleReport generates a human-readable console report
func (rg *ReportGenerator) generateConsoleReport(result *reconciler.ReconciliationResult, writer io.Writer) error {
	rg.heading.Fprintf(writer, "RECEIPT RECONCILIATION REPORT\n")
	fmt.Fprintf(writer, "Run:       %s\n", result.RunID)
	fmt.Fprintf(writer, "Generated: %s\n", result.ProcessedAt.Format(time.RFC3339))
	fmt.Fprintf(writer, "Strategy:  %s\n\n", result.Summary.Strategy)

	rg.heading.Fprintf(writer, "=== SUMMARY ===\n")
	rg.printSummary(result, writer)
	fmt.Fprintf(writer, "\n")

	rg.heading.Fprintf(writer, "=== MATCH BREAKDOWN ===\n")
	rg.printBreakdown(result.Summary, writer)
	fmt.Fprintf(writer, "\n")

	if len(result.Unassigned) > 0 {
		rg.heading.Fprintf(writer, "=== UNASSIGNED RECEIPTS ===\n")
		rg.printUnassigned(result.Unassigned, writer)
		fmt.Fprintf(writer, "\n")
	}

	if open := openEntries(result.Ledger); len(open) > 0 {
		rg.heading.Fprintf(writer, "=== LEDGER ENTRIES WITHOUT RECEIPT ===\n")
		rg.printOpenEntries(open, writer)
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeDropped && len(result.DroppedReceipts) > 0 {
		rg.heading.Fprintf(writer, "=== DROPPED BEFORE MATCHING ===\n")
		rg.printDropped(result.DroppedReceipts, writer)
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeProcessingStats && result.ProcessingStats != nil {
		rg.heading.Fprintf(writer, "=== PROCESSING STATISTICS ===\n")
		rg.printProcessingStats(result.ProcessingStats, writer)
	}

	return nil
}

// generateJSONReport generates a structured JSON report
func (rg *ReportGenerator) generateJSONReport(result *reconciler.ReconciliationResult, writer io.Writer) error {
	output := map[string]interface{}{
		"run_id":       result.RunID,
		"processed_at": result.ProcessedAt,
		"summary":      result.Summary,
		"ledger":       nonNilLedger(result.Ledger),
		"unassigned":   nonNilUnassigned(result.Unassigned),
	}
	if rg.config.IncludeDropped && len(result.DroppedReceipts) > 0 {
		output["dropped_receipts"] = result.DroppedReceipts
	}
	if rg.config.IncludeProcessingStats && result.ProcessingStats != nil {
		output["processing_stats"] = result.ProcessingStats
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}

// WriteLedgerCSV writes the annotated ledger view
func (rg *ReportGenerator) WriteLedgerCSV(result *reconciler.ReconciliationResult, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		if err := csvWriter.Write(LedgerViewHeaders); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	for _, entry := range result.Ledger {
		if err := csvWriter.Write(ledgerRow(entry)); err != nil {
			return fmt.Errorf("failed to write ledger row %d: %w", entry.Row, err)
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

// WriteUnassignedCSV writes the unassigned receipts view
func (rg *ReportGenerator) WriteUnassignedCSV(result *reconciler.ReconciliationResult, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		if err := csvWriter.Write(UnassignedViewHeaders); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	for _, record := range result.Unassigned {
		if err := csvWriter.Write(unassignedRow(record)); err != nil {
			return fmt.Errorf("failed to write unassigned row for %s: %w", record.SourceID, err)
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

// ledgerRow renders one entry in LedgerViewHeaders order
func ledgerRow(entry *models.LedgerEntry) []string {
	score := ""
	if entry.MatchScore != nil {
		score = strconv.FormatFloat(*entry.MatchScore, 'f', 2, 64)
	}
	return []string{
		entry.Amount.StringFixed(2),
		entry.Date.Format(models.DateLayout),
		entry.VendorText,
		strconv.FormatBool(entry.Checked),
		entry.AssignedReceipt,
		score,
		entry.MatchType.String(),
	}
}

// unassignedRow renders one record in UnassignedViewHeaders order
func unassignedRow(record *models.UnassignedRecord) []string {
	amount := ""
	if record.Amount != nil {
		amount = record.Amount.StringFixed(2)
	}
	return []string{record.SourceID, record.Reason, amount}
}

// Helper methods for console output formatting

func (rg *ReportGenerator) printSummary(result *reconciler.ReconciliationResult, writer io.Writer) {
	s := result.Summary

	fmt.Fprintf(writer, "Receipts:\n")
	fmt.Fprintf(writer, "  Matched against ledger: %d\n", s.TotalReceipts)
	rg.good.Fprintf(writer, "  Assigned:               %d (%.1f%%)\n", s.Assigned, s.MatchRate())
	rg.colorFor(s.Unassigned).Fprintf(writer, "  Unassigned:             %d (%.1f%%)\n",
		s.Unassigned, calculatePercentage(s.Unassigned, s.TotalReceipts))
	rg.colorFor(len(result.DroppedReceipts)).Fprintf(writer, "  Dropped:                %d\n", len(result.DroppedReceipts))

	checked := s.TotalLedgerEntries - len(openEntries(result.Ledger))
	fmt.Fprintf(writer, "\nLedger:\n")
	fmt.Fprintf(writer, "  Entries:                %d\n", s.TotalLedgerEntries)
	fmt.Fprintf(writer, "  Checked:                %d (%.1f%%)\n", checked, calculatePercentage(checked, s.TotalLedgerEntries))

	fmt.Fprintf(writer, "\nAmounts:\n")
	fmt.Fprintf(writer, "  Assigned:               %s\n", s.AssignedAmount.StringFixed(2))
	fmt.Fprintf(writer, "  Unassigned:             %s\n", s.UnassignedAmount.StringFixed(2))
}

func (rg *ReportGenerator) printBreakdown(s matcher.Summary, writer io.Writer) {
	fmt.Fprintf(writer, "Exact Amount:              %d\n", s.ExactAmount)
	fmt.Fprintf(writer, "Exact Amount/Date:         %d\n", s.ExactAmountDate)
	fmt.Fprintf(writer, "Exact Amount / Nearby:     %d\n", s.NearbyDate)
	fmt.Fprintf(writer, "Vendor Match:              %d\n", s.VendorMatches)
	fmt.Fprintf(writer, "No amount match:           %d\n", s.NoAmountMatch)
	fmt.Fprintf(writer, "Invalid vendor:            %d\n", s.InvalidVendor)
	fmt.Fprintf(writer, "Below vendor threshold:    %d\n", s.BelowThreshold)
	if s.ScorerErrors > 0 {
		rg.bad.Fprintf(writer, "Vendor similarity errors:  %d\n", s.ScorerErrors)
	}
	if s.DuplicateLedgerGroups > 0 || s.DuplicateReceiptGroups > 0 {
		rg.warn.Fprintf(writer, "Possible duplicates:       %d ledger groups, %d receipt groups\n",
			s.DuplicateLedgerGroups, s.DuplicateReceiptGroups)
	}
}

func (rg *ReportGenerator) printUnassigned(records []*models.UnassignedRecord, writer io.Writer) {
	fmt.Fprintf(writer, "Total Unassigned Receipts: %d\n\n", len(records))

	for i, record := range records {
		if rg.truncated(i, len(records), writer) {
			break
		}
		row := unassignedRow(record)
		fmt.Fprintf(writer, "  %d. %s, Amount: %s, Reason: ", i+1, row[0], orDash(row[2]))
		rg.warn.Fprintf(writer, "%s\n", record.Reason)
	}
}

func (rg *ReportGenerator) printOpenEntries(entries []*models.LedgerEntry, writer io.Writer) {
	fmt.Fprintf(writer, "Total Open Entries: %d\n\n", len(entries))

	for i, entry := range entries {
		if rg.truncated(i, len(entries), writer) {
			break
		}
		fmt.Fprintf(writer, "  %d. %s  %10s  %s\n",
			i+1,
			entry.Date.Format(models.DateLayout),
			entry.Amount.StringFixed(2),
			orDash(entry.VendorText))
	}
}

func (rg *ReportGenerator) printDropped(dropped []*reconciler.DroppedReceipt, writer io.Writer) {
	fmt.Fprintf(writer, "Total Dropped Receipts: %d\n\n", len(dropped))

	for i, d := range dropped {
		if rg.truncated(i, len(dropped), writer) {
			break
		}
		fmt.Fprintf(writer, "  %d. %s [%s] ", i+1, d.SourceID, d.Stage)
		rg.bad.Fprintf(writer, "%s\n", d.Reason)
	}
}

func (rg *ReportGenerator) printProcessingStats(stats *reconciler.ProcessingStats, writer io.Writer) {
	fmt.Fprintf(writer, "Ledger Files:         %d\n", stats.LedgerFiles)
	fmt.Fprintf(writer, "Ledger Rows Dropped:  %d\n", stats.LedgerDropped)
	if stats.ImagesFound > 0 {
		fmt.Fprintf(writer, "Images Found:         %d\n", stats.ImagesFound)
		fmt.Fprintf(writer, "Extraction Failures:  %d\n", stats.ExtractionFailed)
		fmt.Fprintf(writer, "Extraction Time:      %v\n", stats.ExtractionTime.Round(time.Millisecond))
	}
	fmt.Fprintf(writer, "Loading Time:         %v\n", stats.LoadingTime.Round(time.Millisecond))
	fmt.Fprintf(writer, "Matching Time:        %v\n", stats.MatchingTime.Round(time.Microsecond))
	fmt.Fprintf(writer, "Total Processing:     %v\n", stats.TotalProcessingTime.Round(time.Millisecond))
}

// truncated prints the overflow line and returns true once index reaches
// the configured list limit
func (rg *ReportGenerator) truncated(index, total int, writer io.Writer) bool {
	limit := rg.config.MaxListItems
	if limit == 0 || index < limit {
		return false
	}
	fmt.Fprintf(writer, "  ... and %d more\n", total-limit)
	return true
}

func (rg *ReportGenerator) colorFor(n int) *color.Color {
	if n == 0 {
		return rg.good
	}
	return rg.warn
}

// Helper functions

func calculatePercentage(part, total int) float64 {
	if total == 0 {
		return 0.0
	}
	return float64(part) / float64(total) * 100.0
}

func openEntries(ledger []*models.LedgerEntry) []*models.LedgerEntry {
	var open []*models.LedgerEntry
	for _, entry := range ledger {
		if !entry.Checked {
			open = append(open, entry)
		}
	}
	return open
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func nonNilLedger(ledger []*models.LedgerEntry) []*models.LedgerEntry {
	if ledger == nil {
		return []*models.LedgerEntry{}
	}
	return ledger
}

func nonNilUnassigned(records []*models.UnassignedRecord) []*models.UnassignedRecord {
	if records == nil {
		return []*models.UnassignedRecord{}
	}
	return records
}

// GetConfiguration returns the current configuration
func (rg *ReportGenerator) GetConfiguration() *ReportConfig {
	return rg.config
}
