// Package reconciler runs one reconciliation end to end.
//
// A run loads the ledger, obtains receipts (by extracting a folder of images
// or by reading a receipt CSV written by an earlier extraction), drops the
// receipts that cannot be matched, orders the rest and hands them to the
// matching engine.
//
// Example usage:
//
//	service, err := reconciler.NewReconciliationService(parsers.StandardLedgerConfig, pipeline, engine, nil)
//	result, err := service.Process(ctx, &reconciler.ReconciliationRequest{
//		LedgerFile: "ledger.csv",
//		ImageDir:   "receipts/",
//	})
package reconciler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"receipt-reconciliation-service/internal/extraction"
	"receipt-reconciliation-service/internal/matcher"
	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/internal/parsers"
	apperrors "receipt-reconciliation-service/pkg/errors"
	"receipt-reconciliation-service/pkg/logger"

	"github.com/google/uuid"
)

// ReceiptOrder decides the order receipts are fed to the engine. Earlier
// receipts win contested ledger entries.
type ReceiptOrder string

const (
	// OrderCompletion keeps the order extractions finished in
	OrderCompletion ReceiptOrder = "completion"
	// OrderName sorts receipts by source id for reproducible runs
	OrderName ReceiptOrder = "name"
)

// ParseReceiptOrder parses an order name, case-insensitively. The empty
// string selects OrderCompletion.
func ParseReceiptOrder(s string) (ReceiptOrder, error) {
	switch ReceiptOrder(strings.ToLower(strings.TrimSpace(s))) {
	case "", OrderCompletion:
		return OrderCompletion, nil
	case OrderName:
		return OrderName, nil
	default:
		return "", fmt.Errorf("unknown receipt order %q (expected completion or name)", s)
	}
}

// Config holds configuration options for the reconciliation service
type Config struct {
	Order ReceiptOrder `mapstructure:"order"`
}

// DefaultConfig returns a default configuration for the reconciliation service
func DefaultConfig() *Config {
	return &Config{
		Order: OrderCompletion,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if _, err := ParseReceiptOrder(string(c.Order)); err != nil {
		return err
	}
	return nil
}

// ReconciliationRequest names the inputs of one run. Exactly one receipt
// source must be set.
type ReconciliationRequest struct {
	LedgerFile string

	ImageDir     string
	ImagePaths   []string
	ReceiptsFile string
}

// Validate validates the reconciliation request
func (r *ReconciliationRequest) Validate() error {
	if strings.TrimSpace(r.LedgerFile) == "" {
		return fmt.Errorf("ledger file path is required")
	}

	sources := 0
	if r.ImageDir != "" {
		sources++
	}
	if len(r.ImagePaths) > 0 {
		sources++
	}
	if r.ReceiptsFile != "" {
		sources++
	}

	switch sources {
	case 0:
		return fmt.Errorf("a receipt source is required: image directory, image list or receipts file")
	case 1:
		return nil
	default:
		return fmt.Errorf("only one receipt source may be given per run")
	}
}

// usesImages reports whether the request needs the extraction pipeline
func (r *ReconciliationRequest) usesImages() bool {
	return r.ImageDir != "" || len(r.ImagePaths) > 0
}

// ReconciliationResult contains the complete results of reconciliation
type ReconciliationResult struct {
	RunID string `json:"run_id"`

	// Ledger is the full ledger, annotated with assignments
	Ledger     []*models.LedgerEntry      `json:"ledger"`
	Unassigned []*models.UnassignedRecord `json:"unassigned"`
	Summary    matcher.Summary            `json:"summary"`

	ProcessingStats *ProcessingStats  `json:"processing_stats,omitempty"`
	DroppedReceipts []*DroppedReceipt `json:"dropped_receipts,omitempty"`
	ProcessedAt     time.Time         `json:"processed_at"`
}

// DroppedStage tells where a receipt was lost before matching
type DroppedStage string

const (
	StageExtraction DroppedStage = "extraction"
	StageValidation DroppedStage = "validation"
)

// DroppedReceipt is a receipt that never reached the engine
type DroppedReceipt struct {
	SourceID string       `json:"source_id"`
	Stage    DroppedStage `json:"stage"`
	Reason   string       `json:"reason"`
}

// ProcessingStats contains detailed processing statistics
type ProcessingStats struct {
	LedgerFiles   int `json:"ledger_files"`
	LedgerEntries int `json:"ledger_entries"`
	LedgerDropped int `json:"ledger_dropped"`

	ImagesFound         int `json:"images_found,omitempty"`
	ExtractionSucceeded int `json:"extraction_succeeded,omitempty"`
	ExtractionFailed    int `json:"extraction_failed,omitempty"`

	ReceiptsLoaded     int `json:"receipts_loaded"`
	ReceiptsDropped    int `json:"receipts_dropped"`
	ReceiptsMatched    int `json:"receipts_matched"`
	ReceiptRowsSkipped int `json:"receipt_rows_skipped,omitempty"`

	// Samples of the CSV rows behind LedgerDropped and ReceiptRowsSkipped
	LedgerRowErrors  []*apperrors.RowError `json:"-"`
	ReceiptRowErrors []*apperrors.RowError `json:"-"`

	LoadingTime         time.Duration `json:"loading_time"`
	ExtractionTime      time.Duration `json:"extraction_time"`
	MatchingTime        time.Duration `json:"matching_time"`
	TotalProcessingTime time.Duration `json:"total_processing_time"`
}

// ReconciliationService orchestrates the complete reconciliation process
type ReconciliationService struct {
	ledgerParser  *parsers.LedgerParser
	receiptParser *parsers.ReceiptParser
	pipeline      *extraction.Pipeline
	engine        *matcher.Engine
	preprocessor  *ReceiptPreprocessor
	config        *Config
	logger        logger.Logger

	progressCallbacks []ProgressCallback
}

// NewReconciliationService creates a new reconciliation service. pipeline
// may be nil when every run reads receipts from a CSV; engine defaults to
// the standard cascade with token similarity.
func NewReconciliationService(
	ledgerConfig *parsers.LedgerConfig,
	pipeline *extraction.Pipeline,
	engine *matcher.Engine,
	config *Config,
) (*ReconciliationService, error) {
	if config == nil {
		config = DefaultConfig()
	}

	order, err := ParseReceiptOrder(string(config.Order))
	if err != nil {
		return nil, apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "order", config.Order, err)
	}

	ledgerParser, err := parsers.NewLedgerParser(ledgerConfig)
	if err != nil {
		return nil, err
	}

	receiptParser, err := parsers.NewReceiptParser(nil)
	if err != nil {
		return nil, err
	}

	if engine == nil {
		engine, err = matcher.NewEngine(nil, nil)
		if err != nil {
			return nil, err
		}
	}

	return &ReconciliationService{
		ledgerParser:  ledgerParser,
		receiptParser: receiptParser,
		pipeline:      pipeline,
		engine:        engine,
		preprocessor:  NewReceiptPreprocessor(order),
		config:        config,
		logger:        logger.GetGlobalLogger().WithComponent("reconciliation_service"),
	}, nil
}

// Process performs the complete reconciliation process. Only the ledger
// and an empty candidate pool can fail a run; failed extractions and
// unusable receipts are dropped and reported in the result.
func (rs *ReconciliationService) Process(ctx context.Context, request *ReconciliationRequest) (*ReconciliationResult, error) {
	if err := request.Validate(); err != nil {
		return nil, apperrors.ValidationError(apperrors.CodeInvalidConfig, "reconciliation_request", nil, err).
			WithSuggestion("Pass --ledger and exactly one of --images or --receipts")
	}
	if request.usesImages() && rs.pipeline == nil {
		return nil, apperrors.ConfigurationError(apperrors.CodeMissingConfig, "extractor", nil, nil).
			WithSuggestion("Configure an extraction backend or pass a receipts CSV instead")
	}

	startTime := time.Now()
	result := &ReconciliationResult{
		RunID:           uuid.NewString(),
		ProcessedAt:     startTime,
		ProcessingStats: &ProcessingStats{},
	}

	op := logger.NewOperationLogger("reconciliation", rs.logger).
		WithField("run_id", result.RunID).
		WithField("ledger", request.LedgerFile)
	progress := newProgress(startTime)

	// Step 1: ledger
	rs.reportProgress(progress, "Loading ledger", 0)
	op.Step("load_ledger")
	ledger, err := rs.loadLedger(ctx, request, result.ProcessingStats)
	if n := result.ProcessingStats.LedgerDropped; n > 0 {
		op.Warning(fmt.Sprintf("Ledger rows dropped: %d", n))
	}
	if err != nil {
		op.Error(err, "Failed to load ledger")
		return nil, err
	}

	// Step 2: receipts
	rs.reportProgress(progress, "Obtaining receipts", 1)
	op.Step("obtain_receipts")
	receipts, dropped, err := rs.obtainReceipts(ctx, request, result.ProcessingStats)
	if err != nil {
		op.Error(err, "Failed to obtain receipts")
		return nil, err
	}

	// Step 3: drop and order
	rs.reportProgress(progress, "Preparing receipts", 2)
	op.Step("prepare_receipts")
	receipts, invalid := rs.preprocessor.Prepare(receipts)
	dropped = append(dropped, invalid...)
	result.DroppedReceipts = dropped
	result.ProcessingStats.ReceiptsDropped = len(dropped)
	for _, d := range dropped {
		rs.logger.WithFields(logger.Fields{
			"source": d.SourceID,
			"stage":  d.Stage,
			"reason": d.Reason,
		}).Warn("Receipt dropped before matching")
	}

	// Step 4: match
	rs.reportProgress(progress, "Matching receipts", 3)
	op.Step("match")
	matchStart := time.Now()
	matched, err := rs.engine.Reconcile(ctx, ledger, receipts)
	if err != nil {
		op.Error(err, "Matching failed")
		return nil, err
	}
	result.ProcessingStats.MatchingTime = time.Since(matchStart)

	result.Ledger = matched.Ledger
	result.Unassigned = matched.Unassigned
	result.Summary = matched.Summary
	result.ProcessingStats.ReceiptsMatched = matched.Summary.Assigned
	result.ProcessingStats.TotalProcessingTime = time.Since(startTime)

	rs.reportProgress(progress, "Completed", progressSteps)
	op.WithField("assigned", matched.Summary.Assigned).
		WithField("unassigned", matched.Summary.Unassigned).
		WithField("dropped", len(dropped)).
		Success("Reconciliation completed")

	return result, nil
}

// GetConfiguration returns the current configuration
func (rs *ReconciliationService) GetConfiguration() *Config {
	return rs.config
}

// GetMatchingConfig returns the engine's matching configuration
func (rs *ReconciliationService) GetMatchingConfig() *matcher.MatchingConfig {
	return rs.engine.Config()
}
