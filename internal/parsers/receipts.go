package parsers

import (
	"context"
	"encoding/csv"
	"io"

	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/pkg/errors"
	"receipt-reconciliation-service/pkg/logger"
)

// ReceiptRow is one line of a receipt CSV, as extracted and before parsing
type ReceiptRow struct {
	Filename     string
	PurchaseDate string
	StoreName    string
	Address      string
	TotalPrice   string
	Currency     string
}

// Record converts the row into a receipt record
func (r ReceiptRow) Record() *models.ReceiptRecord {
	return models.NewReceiptRecord(r.Filename, r.PurchaseDate, r.StoreName, r.Address, r.TotalPrice, r.Currency)
}

func (r ReceiptRow) fields() []string {
	return []string{r.Filename, r.PurchaseDate, r.StoreName, r.Address, r.TotalPrice, r.Currency}
}

// ReceiptParser loads receipt CSV files written by the extract command
type ReceiptParser struct {
	*BaseParser
	config *ReceiptParserConfig
}

// NewReceiptParser creates a new ReceiptParser
func NewReceiptParser(config *ReceiptParserConfig) (*ReceiptParser, error) {
	if config == nil {
		config = DefaultReceiptParserConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "receipt_parser", string(config.Delimiter), err)
	}

	parseConfig := DefaultParseConfig()
	parseConfig.HasHeader = config.HasHeader
	parseConfig.Delimiter = config.Delimiter

	return &ReceiptParser{
		BaseParser: NewBaseParser(parseConfig, "receipt_parser"),
		config:     config,
	}, nil
}

// ParseReceipts reads every row of the file in order. Rows whose date or
// total do not parse are still returned, with those fields nil, so the
// caller's drop step can count them.
func (rp *ReceiptParser) ParseReceipts(ctx context.Context, filePath string) ([]*models.ReceiptRecord, *ParseStats, error) {
	file, reader, err := rp.OpenFile(filePath)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	parseCtx := NewParseContext(ctx, filePath)
	stats := NewParseStats()
	stats.Files = 1

	if err := rp.ReadHeaders(reader, parseCtx, ReceiptHeaders); err != nil {
		return nil, stats, err
	}

	index := make(map[string]int, len(ReceiptHeaders))
	for _, column := range ReceiptHeaders {
		index[column] = parseCtx.GetColumnIndex(column)
	}
	required := []string{ReceiptColumnFilename, ReceiptColumnDate, ReceiptColumnTotal}
	for _, column := range required {
		if index[column] < 0 {
			return nil, stats, errors.MissingColumnError(filePath, required, parseCtx.Headers)
		}
	}

	var records []*models.ReceiptRecord
	for {
		record, err := rp.ReadRecord(reader, parseCtx)
		if err == io.EOF {
			break
		}
		if err != nil {
			if parseCtx.IsCancelled() {
				return nil, stats, err
			}
			stats.Dropped.Add(errors.NewRowError(errors.CodeInvalidFormat, &errors.RowContext{
				File: filePath,
				Line: parseCtx.LineNumber,
			}, "unreadable CSV record", err))
			continue
		}
		stats.RecordsParsed++

		row := ReceiptRow{
			Filename:     FieldValue(record, index[ReceiptColumnFilename]),
			PurchaseDate: FieldValue(record, index[ReceiptColumnDate]),
			StoreName:    FieldValue(record, index[ReceiptColumnStore]),
			Address:      FieldValue(record, index[ReceiptColumnAddress]),
			TotalPrice:   FieldValue(record, index[ReceiptColumnTotal]),
			Currency:     FieldValue(record, index[ReceiptColumnCurrency]),
		}
		receipt := row.Record()
		if receipt.IsMatchable() {
			stats.RecordsValid++
		}
		records = append(records, receipt)
	}

	stats.TotalLines = parseCtx.LineNumber

	rp.logger.WithFields(logger.Fields{
		"file_path": filePath,
		"receipts":  len(records),
		"valid":     stats.RecordsValid,
	}).Info("Loaded receipts")

	return records, stats, nil
}

// WriteReceiptsCSV writes rows in the layout ParseReceipts reads
func WriteReceiptsCSV(w io.Writer, rows []ReceiptRow) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(ReceiptHeaders); err != nil {
		return errors.FileError(errors.CodeFilePermission, "receipts csv", err)
	}
	for _, row := range rows {
		if err := writer.Write(row.fields()); err != nil {
			return errors.FileError(errors.CodeFilePermission, "receipts csv", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return errors.FileError(errors.CodeFilePermission, "receipts csv", err)
	}
	return nil
}
