package reconciler

import (
	"context"
	"fmt"
	"time"

	"receipt-reconciliation-service/internal/extraction"
	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/pkg/logger"
)

// loadLedger parses the ledger file or directory. Any failure here is
// terminal for the run.
func (rs *ReconciliationService) loadLedger(
	ctx context.Context,
	request *ReconciliationRequest,
	stats *ProcessingStats,
) ([]*models.LedgerEntry, error) {
	start := time.Now()

	entries, parseStats, err := rs.ledgerParser.ParseLedger(ctx, request.LedgerFile)
	stats.LoadingTime += time.Since(start)
	if parseStats != nil {
		stats.LedgerFiles = parseStats.Files
		stats.LedgerDropped = parseStats.DroppedCount()
		stats.LedgerRowErrors = parseStats.Dropped.GetErrors()
		if parseStats.HasErrors() {
			rs.logger.WithFields(logger.Fields{
				"ledger":  request.LedgerFile,
				"samples": parseStats.GetSampleErrors(),
			}).Debug("Dropped ledger rows")
		}
	}
	if err != nil {
		return nil, err
	}

	stats.LedgerEntries = len(entries)
	return entries, nil
}

// obtainReceipts returns the receipts of the run and the items lost before
// a record could be built
func (rs *ReconciliationService) obtainReceipts(
	ctx context.Context,
	request *ReconciliationRequest,
	stats *ProcessingStats,
) ([]*models.ReceiptRecord, []*DroppedReceipt, error) {
	if request.ReceiptsFile != "" {
		receipts, err := rs.loadReceipts(ctx, request.ReceiptsFile, stats)
		return receipts, nil, err
	}
	return rs.extractReceipts(ctx, request, stats)
}

// loadReceipts reads a receipt CSV written by an earlier extraction
func (rs *ReconciliationService) loadReceipts(ctx context.Context, path string, stats *ProcessingStats) ([]*models.ReceiptRecord, error) {
	start := time.Now()
	defer func() { stats.LoadingTime += time.Since(start) }()

	receipts, parseStats, err := rs.receiptParser.ParseReceipts(ctx, path)
	if err != nil {
		return nil, err
	}
	if parseStats != nil && parseStats.HasErrors() {
		stats.ReceiptRowsSkipped = parseStats.DroppedCount()
		stats.ReceiptRowErrors = parseStats.Dropped.GetErrors()
		rs.logger.WithFields(logger.Fields{
			"receipts": path,
			"dropped":  parseStats.DroppedCount(),
		}).Warn("Receipt CSV rows skipped")
	}

	stats.ReceiptsLoaded = len(receipts)
	return receipts, nil
}

// extractReceipts runs the pipeline over the requested images. Failed
// extractions become dropped receipts, never a run failure.
func (rs *ReconciliationService) extractReceipts(
	ctx context.Context,
	request *ReconciliationRequest,
	stats *ProcessingStats,
) ([]*models.ReceiptRecord, []*DroppedReceipt, error) {
	images := request.ImagePaths
	if request.ImageDir != "" {
		var err error
		images, err = extraction.ListImages(request.ImageDir)
		if err != nil {
			return nil, nil, err
		}
	}
	stats.ImagesFound = len(images)

	rs.logger.WithFields(logger.Fields{
		"images":      len(images),
		"concurrency": rs.pipeline.Config().ConcurrencyLimit,
		"min_period":  rs.pipeline.Config().MinPeriod.String(),
	}).Info("Extracting receipts")

	batch := rs.pipeline.ExtractAll(ctx, images)
	stats.ExtractionTime = batch.Elapsed
	stats.ExtractionSucceeded = batch.Succeeded()

	failed := batch.Failed()
	stats.ExtractionFailed = len(failed)

	dropped := make([]*DroppedReceipt, 0, len(failed))
	for _, f := range failed {
		dropped = append(dropped, &DroppedReceipt{
			SourceID: models.StripSourcePrefix(f.Source),
			Stage:    StageExtraction,
			Reason:   extractionFailureReason(f.Err),
		})
	}

	receipts := batch.Records()
	stats.ReceiptsLoaded = len(receipts)
	return receipts, dropped, nil
}

func extractionFailureReason(err error) string {
	if err == nil {
		return "Extraction returned no data"
	}
	return fmt.Sprintf("Extraction failed: %v", err)
}
