package matcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/internal/similarity"
	apperrors "receipt-reconciliation-service/pkg/errors"
	"receipt-reconciliation-service/pkg/logger"

	"github.com/shopspring/decimal"
)

// Engine runs the matching cascade. It is sequential: concurrent calls to
// Reconcile on one Engine are serialized.
type Engine struct {
	config *MatchingConfig
	scorer similarity.Scorer
	logger logger.Logger
	mu     sync.Mutex
}

// Result is the outcome of one reconciliation run
type Result struct {
	// Ledger is the input ledger, annotated in place
	Ledger []*models.LedgerEntry
	// Unassigned holds one record per receipt that was not assigned
	Unassigned []*models.UnassignedRecord
	Summary    Summary
}

// Summary provides aggregate statistics about the run
type Summary struct {
	TotalReceipts      int `json:"total_receipts"`
	TotalLedgerEntries int `json:"total_ledger_entries"`
	Assigned           int `json:"assigned"`
	Unassigned         int `json:"unassigned"`

	// Assignments per tier
	ExactAmount     int `json:"exact_amount"`
	ExactAmountDate int `json:"exact_amount_date"`
	NearbyDate      int `json:"nearby_date"`
	VendorMatches   int `json:"vendor_matches"`

	// Rejections per cause
	NoAmountMatch  int `json:"no_amount_match"`
	InvalidVendor  int `json:"invalid_vendor"`
	BelowThreshold int `json:"below_threshold"`
	ScorerErrors   int `json:"scorer_errors"`

	DuplicateLedgerGroups  int `json:"duplicate_ledger_groups,omitempty"`
	DuplicateReceiptGroups int `json:"duplicate_receipt_groups,omitempty"`

	AssignedAmount   decimal.Decimal `json:"assigned_amount"`
	UnassignedAmount decimal.Decimal `json:"unassigned_amount"`
	Strategy         string          `json:"strategy"`
}

// MatchRate returns the share of receipts that were assigned, in percent
func (s Summary) MatchRate() float64 {
	if s.TotalReceipts == 0 {
		return 0
	}
	return float64(s.Assigned) / float64(s.TotalReceipts) * 100
}

// NewEngine creates a new engine with the specified configuration and scorer
func NewEngine(config *MatchingConfig, scorer similarity.Scorer) (*Engine, error) {
	if config == nil {
		config = DefaultMatchingConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "matching", config.String(), err)
	}
	if scorer == nil {
		scorer = similarity.NewTokenScorer()
	}

	return &Engine{
		config: config.Clone(),
		scorer: scorer,
		logger: logger.GetGlobalLogger().WithComponent("matcher"),
	}, nil
}

// Config returns a copy of the engine configuration
func (e *Engine) Config() *MatchingConfig {
	return e.config.Clone()
}

// Reconcile assigns receipts to ledger entries, in receipt order. The ledger
// entries are annotated in place. Every receipt ends up either assigned to
// exactly one entry or in Result.Unassigned.
func (e *Engine) Reconcile(ctx context.Context, ledger []*models.LedgerEntry, receipts []*models.ReceiptRecord) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pool := NewPool(ledger)
	result := &Result{
		Ledger: ledger,
		Summary: Summary{
			TotalReceipts:      len(receipts),
			TotalLedgerEntries: len(ledger),
			AssignedAmount:     decimal.Zero,
			UnassignedAmount:   decimal.Zero,
			Strategy:           e.scorer.Name(),
		},
	}

	if groups := DetectDuplicateEntries(ledger); len(groups) > 0 {
		result.Summary.DuplicateLedgerGroups = len(groups)
		for _, group := range groups {
			e.logger.WithFields(logger.Fields{
				"rows":   group.Rows,
				"amount": group.Amount.String(),
				"date":   group.Date.Format(models.DateLayout),
			}).Warn("Ledger contains identical entries; they are assigned in row order")
		}
	}
	if groups := DetectDuplicateReceipts(receipts); len(groups) > 0 {
		result.Summary.DuplicateReceiptGroups = len(groups)
		for _, group := range groups {
			e.logger.WithFields(logger.Fields{
				"sources": group.SourceIDs,
				"reason":  group.Reason,
			}).Warn("Possible duplicate receipts")
		}
	}

	for _, receipt := range receipts {
		if !receipt.IsMatchable() {
			return nil, apperrors.ReconciliationError(apperrors.CodeDataInconsistent, "reconcile",
				fmt.Errorf("receipt %q is missing a date or amount", receipt.SourceID))
		}

		rejection, err := e.matchReceipt(ctx, pool, receipt, &result.Summary)
		if err != nil {
			return nil, err
		}

		if rejection != nil {
			result.Unassigned = append(result.Unassigned, rejection)
			result.Summary.Unassigned++
			result.Summary.UnassignedAmount = result.Summary.UnassignedAmount.Add(*receipt.TotalAmount)
			continue
		}

		result.Summary.Assigned++
		result.Summary.AssignedAmount = result.Summary.AssignedAmount.Add(*receipt.TotalAmount)
	}

	e.logger.WithFields(logger.Fields{
		"receipts":   result.Summary.TotalReceipts,
		"assigned":   result.Summary.Assigned,
		"unassigned": result.Summary.Unassigned,
		"remaining":  pool.Remaining(),
		"strategy":   result.Summary.Strategy,
	}).Info("Reconciliation finished")

	return result, nil
}

// matchReceipt runs the cascade for one receipt. It returns the rejection
// when the receipt stays unassigned.
func (e *Engine) matchReceipt(ctx context.Context, pool *Pool, receipt *models.ReceiptRecord, summary *Summary) (*models.UnassignedRecord, error) {
	log := e.logger.WithField("receipt", receipt.SourceID)

	amountMatches := pool.ByAmount(*receipt.TotalAmount)
	switch len(amountMatches) {
	case 0:
		summary.NoAmountMatch++
		log.Debug("No amount match")
		return models.NewUnassignedRecord(receipt, models.ReasonNoAmountMatch), nil
	case 1:
		summary.ExactAmount++
		return nil, e.assign(pool, amountMatches[0], receipt, models.MatchTypeExactAmount, models.ScoreExact)
	}

	purchase := *receipt.PurchaseDate

	exactDate := sameDay(amountMatches, purchase)
	switch {
	case len(exactDate) == 1:
		summary.ExactAmountDate++
		return nil, e.assign(pool, exactDate[0], receipt, models.MatchTypeExactAmountDate, models.ScoreExact)
	case len(exactDate) > 1:
		return e.matchVendor(ctx, pool, receipt, exactDate, models.NewMatchContext(models.ContextExactDate, len(exactDate)), summary)
	}

	nearby := withinWindow(amountMatches, purchase, e.config.DateToleranceDays)
	switch {
	case len(nearby) == 1:
		summary.NearbyDate++
		return nil, e.assign(pool, nearby[0], receipt, models.MatchTypeNearbyDate, models.ScoreNearby)
	case len(nearby) > 1:
		return e.matchVendor(ctx, pool, receipt, nearby, models.NewMatchContext(models.ContextNearbyDate, len(nearby)), summary)
	default:
		return e.matchVendor(ctx, pool, receipt, amountMatches, models.NewMatchContext(models.ContextNoDateMatch, len(amountMatches)), summary)
	}
}

// matchVendor picks among candidates by vendor similarity
func (e *Engine) matchVendor(
	ctx context.Context,
	pool *Pool,
	receipt *models.ReceiptRecord,
	candidates []*models.LedgerEntry,
	matchCtx models.MatchContext,
	summary *Summary,
) (*models.UnassignedRecord, error) {
	log := e.logger.WithFields(logger.Fields{
		"receipt":    receipt.SourceID,
		"context":    matchCtx.Label,
		"candidates": matchCtx.PoolSize,
	})

	if strings.TrimSpace(receipt.VendorText) == "" {
		summary.InvalidVendor++
		log.Debug("Receipt has no vendor text")
		return models.NewUnassignedRecord(receipt, matchCtx.InvalidVendorReason()), nil
	}

	texts := make([]string, len(candidates))
	for i, entry := range candidates {
		texts[i] = entry.VendorText
	}

	match, err := e.scorer.BestMatch(ctx, receipt.VendorText, texts)
	if errors.Is(err, similarity.ErrEmptyCandidatePool) {
		return nil, apperrors.InternalError(apperrors.CodeEmptyCandidatePool, "vendor match for "+receipt.SourceID, err).
			WithContext("context", matchCtx.Label)
	}
	if err != nil {
		summary.ScorerErrors++
		log.WithError(err).Warn("Vendor similarity failed")
		return models.NewUnassignedRecord(receipt, matchCtx.ScorerErrorReason()), nil
	}

	log = log.WithFields(logger.Fields{"best_row": candidates[match.Index].Row, "score": match.Score})
	if match.Score < e.config.VendorMatchThreshold {
		summary.BelowThreshold++
		log.Debug("Best vendor below threshold")
		return models.NewUnassignedRecord(receipt, matchCtx.BelowThresholdReason()), nil
	}

	summary.VendorMatches++
	return nil, e.assign(pool, candidates[match.Index], receipt, matchCtx.VendorMatchType(e.scorer.Name()), match.Score)
}

func (e *Engine) assign(pool *Pool, entry *models.LedgerEntry, receipt *models.ReceiptRecord, matchType models.MatchType, score float64) error {
	if err := pool.Assign(entry, receipt.SourceID, matchType, score); err != nil {
		return apperrors.InternalError(apperrors.CodeDataInconsistent, "assign "+receipt.SourceID, err)
	}

	e.logger.WithFields(logger.Fields{
		"receipt":    receipt.SourceID,
		"row":        entry.Row,
		"match_type": matchType.String(),
		"score":      score,
	}).Debug("Receipt assigned")
	return nil
}
