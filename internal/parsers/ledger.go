package parsers

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/pkg/errors"
	"receipt-reconciliation-service/pkg/logger"
)

// LedgerParser loads bank statement CSV files into ledger entries
type LedgerParser struct {
	*BaseParser
	config *LedgerConfig
}

// NewLedgerParser creates a parser for the given ledger profile
func NewLedgerParser(config *LedgerConfig) (*LedgerParser, error) {
	if config == nil {
		config = StandardLedgerConfig
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "ledger_profile", config.Name, err)
	}

	parseConfig := DefaultParseConfig()
	parseConfig.HasHeader = config.HasHeader
	parseConfig.Delimiter = config.Delimiter

	return &LedgerParser{
		BaseParser: NewBaseParser(parseConfig, "ledger_parser"),
		config:     config,
	}, nil
}

// ParseLedger loads every ledger file under path. A directory contributes
// all of its .csv files in name order. Rows without a usable date or amount
// are dropped and recorded in the stats; a ledger that ends up empty is an
// error.
func (lp *LedgerParser) ParseLedger(ctx context.Context, path string) ([]*models.LedgerEntry, *ParseStats, error) {
	files, err := ledgerFiles(path)
	if err != nil {
		return nil, nil, err
	}

	stats := NewParseStats()
	var entries []*models.LedgerEntry

	for _, file := range files {
		parsed, err := lp.parseFile(ctx, file, len(entries), stats)
		if err != nil {
			return nil, stats, err
		}
		entries = append(entries, parsed...)
		stats.Files++
	}

	lp.logger.WithFields(logger.Fields{
		"path":    path,
		"files":   stats.Files,
		"entries": len(entries),
		"dropped": stats.DroppedCount(),
	}).Info("Loaded ledger")

	if len(entries) == 0 {
		return nil, stats, errors.ParseError(errors.CodeEmptyLedger, path, 0, "", "", nil)
	}

	return entries, stats, nil
}

func (lp *LedgerParser) parseFile(ctx context.Context, filePath string, offset int, stats *ParseStats) ([]*models.LedgerEntry, error) {
	file, reader, err := lp.OpenFile(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	parseCtx := NewParseContext(ctx, filePath)
	defaults := []string{lp.config.DateColumn, lp.config.AmountColumn, lp.config.VendorColumn}
	if err := lp.ReadHeaders(reader, parseCtx, defaults); err != nil {
		return nil, err
	}

	dateName, dateIdx := parseCtx.ResolveColumn(lp.config.GetColumnCandidates(ColumnDate))
	amountName, amountIdx := parseCtx.ResolveColumn(lp.config.GetColumnCandidates(ColumnAmount))
	_, vendorIdx := parseCtx.ResolveColumn(lp.config.GetColumnCandidates(ColumnVendor))

	if dateIdx < 0 || amountIdx < 0 {
		return nil, errors.MissingColumnError(filePath,
			[]string{lp.config.DateColumn, lp.config.AmountColumn},
			parseCtx.Headers)
	}
	if vendorIdx < 0 {
		lp.logger.WithField("file_path", filePath).Warn("No vendor column found, vendor text will be empty")
	}

	var entries []*models.LedgerEntry
	for {
		record, err := lp.ReadRecord(reader, parseCtx)
		if err == io.EOF {
			break
		}
		if err != nil {
			if parseCtx.IsCancelled() {
				return nil, err
			}
			stats.Dropped.Add(errors.NewRowError(errors.CodeInvalidFormat, &errors.RowContext{
				File: filePath,
				Line: parseCtx.LineNumber,
			}, "unreadable CSV record", err))
			continue
		}
		stats.RecordsParsed++

		amountStr := FieldValue(record, amountIdx)
		amount, err := models.ParseDecimalWithSeparator(amountStr, lp.decimalSeparator())
		if err != nil {
			stats.Dropped.Add(errors.InvalidAmountError(filePath, parseCtx.LineNumber, amountName, amountStr))
			continue
		}

		dateStr := FieldValue(record, dateIdx)
		date, err := models.ParseTimeWithFormats(dateStr)
		if err != nil {
			stats.Dropped.Add(errors.InvalidDateError(filePath, parseCtx.LineNumber, dateName, dateStr))
			continue
		}

		row := offset + len(entries)
		entries = append(entries, models.NewLedgerEntry(row, amount, date, FieldValue(record, vendorIdx)))
		stats.RecordsValid++
	}

	stats.TotalLines += parseCtx.LineNumber
	return entries, nil
}

// ledgerFiles expands path into the list of CSV files to load
func ledgerFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileError(errors.CodeFileNotFound, path, err)
		}
		return nil, errors.FileError(errors.CodeFilePermission, path, err)
	}

	if !info.IsDir() {
		return []string{path}, nil
	}

	dirEntries, err := os.ReadDir(path)
	if err != nil {
		return nil, errors.FileError(errors.CodeDirectoryError, path, err)
	}

	var files []string
	for _, entry := range dirEntries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".csv") {
			continue
		}
		files = append(files, filepath.Join(path, entry.Name()))
	}
	sort.Strings(files)

	if len(files) == 0 {
		return nil, errors.FileError(errors.CodeDirectoryError, path, fmt.Errorf("no .csv files in directory"))
	}

	return files, nil
}

func (lp *LedgerParser) decimalSeparator() rune {
	if lp.config.DecimalComma {
		return ','
	}
	return '.'
}
