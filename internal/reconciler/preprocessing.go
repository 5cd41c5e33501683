package reconciler

import (
	"sort"

	"receipt-reconciliation-service/internal/models"
	apperrors "receipt-reconciliation-service/pkg/errors"
)

// ReceiptPreprocessor drops receipts the engine cannot match and puts the
// rest in processing order
type ReceiptPreprocessor struct {
	order ReceiptOrder
}

// NewReceiptPreprocessor creates a new receipt preprocessor
func NewReceiptPreprocessor(order ReceiptOrder) *ReceiptPreprocessor {
	if order == "" {
		order = OrderCompletion
	}
	return &ReceiptPreprocessor{order: order}
}

// Prepare returns the matchable receipts in processing order, plus one
// DroppedReceipt per receipt that failed validation. The input slice is not
// modified.
func (rp *ReceiptPreprocessor) Prepare(receipts []*models.ReceiptRecord) ([]*models.ReceiptRecord, []*DroppedReceipt) {
	kept := make([]*models.ReceiptRecord, 0, len(receipts))
	var dropped []*DroppedReceipt

	for _, receipt := range receipts {
		if receipt == nil {
			continue
		}
		if err := receipt.Validate(); err != nil {
			dropped = append(dropped, &DroppedReceipt{
				SourceID: receipt.SourceID,
				Stage:    StageValidation,
				Reason:   validationReason(err),
			})
			continue
		}
		kept = append(kept, receipt)
	}

	if rp.order == OrderName {
		sort.SliceStable(kept, func(i, j int) bool {
			return kept[i].SourceID < kept[j].SourceID
		})
	}

	return kept, dropped
}

func validationReason(err error) string {
	rerr, ok := apperrors.AsReconcilerError(err)
	if !ok {
		return err.Error()
	}

	switch rerr.Code {
	case apperrors.CodeInvalidDate:
		return "Missing or unreadable purchase date"
	case apperrors.CodeInvalidAmount:
		return "Missing or unreadable total price"
	case apperrors.CodeMissingField:
		return "Missing file name"
	default:
		return rerr.Message
	}
}
