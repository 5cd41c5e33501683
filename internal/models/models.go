package models

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	apperrors "receipt-reconciliation-service/pkg/errors"
)

// DateLayout is the calendar-date layout used in every output view
const DateLayout = "2006-01-02"

// MatchType tags the cascade tier that assigned a ledger entry
type MatchType string

const (
	// MatchTypeExactAmount is the fast path: the amount alone picked one entry
	MatchTypeExactAmount MatchType = "Exact Amount"
	// MatchTypeExactAmountDate is a unique amount and same-day match
	MatchTypeExactAmountDate MatchType = "Exact Amount/Date"
	// MatchTypeNearbyDate is a unique amount match inside the forward date window
	MatchTypeNearbyDate MatchType = "Exact Amount / Nearby Date"
)

// String returns the string representation of MatchType
func (m MatchType) String() string {
	return string(m)
}

// IsVendorMatch reports whether the assignment came from the similarity tier
func (m MatchType) IsVendorMatch() bool {
	return strings.Contains(string(m), "Vendor Match")
}

// Scores recorded for the date tiers
const (
	ScoreExact  = 100.0
	ScoreNearby = 90.0
)

// Unassigned reasons that do not depend on a match context
const (
	ReasonNoAmountMatch = "No amount match"
)

// MatchContext names the tier that produced a vendor candidate pool. It
// lives for one receipt's trip through the cascade and is only used for
// labels and diagnostics.
type MatchContext struct {
	Label    string
	PoolSize int
}

// Labels of the tiers that can hand a pool to the vendor tier
const (
	ContextExactDate   = "Exact Amount/Date"
	ContextNearbyDate  = "Exact Amount / Nearby Date"
	ContextNoDateMatch = "Exact Amount / No Date Match"
)

// NewMatchContext creates a context for a pool of the given size
func NewMatchContext(label string, poolSize int) MatchContext {
	return MatchContext{Label: label, PoolSize: poolSize}
}

// VendorMatchType composes the match type for a vendor tier assignment
func (c MatchContext) VendorMatchType(strategy string) MatchType {
	return MatchType(fmt.Sprintf("%s / Vendor Match (%s)", c.Label, strategy))
}

// InvalidVendorReason is recorded when the receipt has no usable vendor text
func (c MatchContext) InvalidVendorReason() string {
	return fmt.Sprintf("Invalid OCR vendor for matching (%s)", c.Label)
}

// BelowThresholdReason is recorded when no candidate reaches the threshold
func (c MatchContext) BelowThresholdReason() string {
	return fmt.Sprintf("No vendor match above threshold (%s)", c.Label)
}

// ScorerErrorReason is recorded when the similarity backend fails
func (c MatchContext) ScorerErrorReason() string {
	return fmt.Sprintf("Vendor similarity error (%s)", c.Label)
}

// LedgerEntry is one bank statement transaction together with its match state
type LedgerEntry struct {
	Row        int             `json:"-"`
	Amount     decimal.Decimal `json:"amount"`
	Date       time.Time       `json:"date"`
	VendorText string          `json:"vendor_text"`

	Checked         bool      `json:"checked"`
	AssignedReceipt string    `json:"assigned_picture"`
	MatchScore      *float64  `json:"match_score"`
	MatchType       MatchType `json:"match_type"`
}

// NewLedgerEntry creates an unchecked ledger entry. The date is truncated to
// its calendar day.
func NewLedgerEntry(row int, amount decimal.Decimal, date time.Time, vendorText string) *LedgerEntry {
	return &LedgerEntry{
		Row:        row,
		Amount:     amount,
		Date:       NormalizeDate(date),
		VendorText: strings.TrimSpace(vendorText),
	}
}

// Assign marks the entry as matched to a receipt. An entry accepts at most
// one receipt.
func (e *LedgerEntry) Assign(receiptID string, matchType MatchType, score float64) error {
	if e.Checked {
		return fmt.Errorf("ledger row %d already assigned to %s", e.Row, e.AssignedReceipt)
	}
	if strings.TrimSpace(receiptID) == "" {
		return fmt.Errorf("receipt identifier cannot be empty")
	}

	e.Checked = true
	e.AssignedReceipt = receiptID
	e.MatchType = matchType
	e.MatchScore = &score
	return nil
}

// String returns a string representation of the LedgerEntry
func (e *LedgerEntry) String() string {
	return fmt.Sprintf("LedgerEntry{Row: %d, Amount: %s, Date: %s, Vendor: %q, Checked: %t}",
		e.Row, e.Amount.String(), e.Date.Format(DateLayout), e.VendorText, e.Checked)
}

// MarshalJSON renders the entry as a row of the annotated ledger view
func (e *LedgerEntry) MarshalJSON() ([]byte, error) {
	type Alias LedgerEntry
	return json.Marshal(&struct {
		Amount string `json:"amount"`
		Date   string `json:"date"`
		*Alias
	}{
		Amount: e.Amount.StringFixed(2),
		Date:   e.Date.Format(DateLayout),
		Alias:  (*Alias)(e),
	})
}

// ReceiptRecord is the structured result of extracting one receipt image
type ReceiptRecord struct {
	SourceID     string           `json:"source_id"`
	PurchaseDate *time.Time       `json:"purchase_date"`
	VendorText   string           `json:"vendor_text"`
	TotalAmount  *decimal.Decimal `json:"total_amount"`
	Currency     string           `json:"currency,omitempty"`
}

// NewReceiptRecord builds a record from extracted text fields. Fields that do
// not parse are left nil so the record can be dropped before matching.
func NewReceiptRecord(source, purchaseDate, store, address, total, currency string) *ReceiptRecord {
	record := &ReceiptRecord{
		SourceID:   StripSourcePrefix(source),
		VendorText: NormalizeVendorText(store, address),
		Currency:   strings.ToUpper(strings.TrimSpace(currency)),
	}

	if d, err := ParseTimeWithFormats(purchaseDate); err == nil {
		day := NormalizeDate(d)
		record.PurchaseDate = &day
	}
	if amount, err := ParseReceiptAmount(total); err == nil {
		record.TotalAmount = &amount
	}

	return record
}

// Validate reports the first field that keeps the receipt out of matching
func (r *ReceiptRecord) Validate() error {
	if strings.TrimSpace(r.SourceID) == "" {
		return apperrors.ValidationError(apperrors.CodeMissingField, "source_id", r.SourceID, nil)
	}
	if r.PurchaseDate == nil || r.PurchaseDate.IsZero() {
		return apperrors.ValidationError(apperrors.CodeInvalidDate, "purchase_date", nil, nil).
			WithContext("source_id", r.SourceID)
	}
	if r.TotalAmount == nil {
		return apperrors.ValidationError(apperrors.CodeInvalidAmount, "total_amount", nil, nil).
			WithContext("source_id", r.SourceID)
	}
	return nil
}

// IsMatchable reports whether the record can take part in matching
func (r *ReceiptRecord) IsMatchable() bool {
	return r.Validate() == nil
}

// String returns a string representation of the ReceiptRecord
func (r *ReceiptRecord) String() string {
	date, amount := "<nil>", "<nil>"
	if r.PurchaseDate != nil {
		date = r.PurchaseDate.Format(DateLayout)
	}
	if r.TotalAmount != nil {
		amount = r.TotalAmount.String()
	}
	return fmt.Sprintf("ReceiptRecord{Source: %s, Date: %s, Amount: %s, Vendor: %q}",
		r.SourceID, date, amount, r.VendorText)
}

// UnassignedRecord is one row of the rejection ledger
type UnassignedRecord struct {
	SourceID string           `json:"filename"`
	Reason   string           `json:"reason"`
	Amount   *decimal.Decimal `json:"amount,omitempty"`
}

// NewUnassignedRecord creates a rejection for the given receipt
func NewUnassignedRecord(receipt *ReceiptRecord, reason string) *UnassignedRecord {
	return &UnassignedRecord{
		SourceID: receipt.SourceID,
		Reason:   reason,
		Amount:   receipt.TotalAmount,
	}
}

// ParseDecimalFromString parses a ledger amount, tolerating currency symbols
// and ',' thousands separators
func ParseDecimalFromString(s string) (decimal.Decimal, error) {
	return ParseDecimalWithSeparator(s, '.')
}

// ParseDecimalWithSeparator parses a ledger amount whose decimal separator is
// decimalSep ('.' or ','). The other one is read as a thousands separator.
func ParseDecimalWithSeparator(s string, decimalSep rune) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount string cannot be empty")
	}

	s = strings.NewReplacer("$", "", "€", "", "£", "", " ", "").Replace(s)
	switch decimalSep {
	case '.':
		s = strings.ReplaceAll(s, ",", "")
	case ',':
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	default:
		return decimal.Zero, fmt.Errorf("unsupported decimal separator %q", decimalSep)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal format '%s': %w", s, err)
	}

	return d, nil
}

var (
	currencyPrefix = regexp.MustCompile(`^(?:[A-Za-z]{3}|[$€£¥])\s*`)
	currencySuffix = regexp.MustCompile(`\s*(?:[A-Za-z]{3}|[$€£¥])$`)

	// Accepted shapes after the currency and sign are removed
	dotDecimal     = regexp.MustCompile(`^\d+(?:\.\d+)?$`)
	commaDecimal   = regexp.MustCompile(`^\d+,\d{1,2}$`)
	commaThousands = regexp.MustCompile(`^\d{1,3}(?:,\d{3})+(?:\.\d+)?$`)
	dotThousands   = regexp.MustCompile(`^\d{1,3}(?:\.\d{3})+(?:,\d{1,2})?$`)
)

// ParseReceiptAmount parses a total as a recognition service writes it. A
// leading or trailing currency symbol or ISO code is removed. A lone comma
// followed by one or two digits is the decimal point. Separators that do not
// form consistent thousands groups are rejected rather than guessed.
func ParseReceiptAmount(s string) (decimal.Decimal, error) {
	raw := s
	sign := ""
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "-") {
		sign, s = "-", strings.TrimSpace(s[1:])
	}
	s = currencyPrefix.ReplaceAllString(s, "")
	s = currencySuffix.ReplaceAllString(s, "")
	if sign == "" && strings.HasPrefix(s, "-") {
		sign, s = "-", strings.TrimSpace(s[1:])
	}
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount string cannot be empty")
	}

	var normalized string
	switch {
	case dotDecimal.MatchString(s):
		normalized = s
	case commaDecimal.MatchString(s):
		normalized = strings.Replace(s, ",", ".", 1)
	case commaThousands.MatchString(s):
		normalized = strings.ReplaceAll(s, ",", "")
	case dotThousands.MatchString(s):
		normalized = strings.ReplaceAll(s, ".", "")
		normalized = strings.Replace(normalized, ",", ".", 1)
	default:
		return decimal.Zero, fmt.Errorf("ambiguous or invalid amount '%s'", raw)
	}

	return decimal.NewFromString(sign + normalized)
}

// Layouts accepted for ledger and receipt dates. Slash dates are month first.
var dateFormats = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006",
	"1/2/2006",
	"01/02/06",
	"1/2/06",
	"2006/01/02",
	"01-02-2006",
	"02.01.2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"2 January 2006",
}

// ParseTimeWithFormats parses s with the first layout that accepts it
func ParseTimeWithFormats(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("time string cannot be empty")
	}

	var lastErr error
	for _, format := range dateFormats {
		t, err := time.Parse(format, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}

	return time.Time{}, fmt.Errorf("unable to parse time '%s': %w", s, lastErr)
}

// NormalizeDate truncates t to midnight UTC of its calendar day
func NormalizeDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SameDay reports whether a and b fall on the same calendar day
func SameDay(a, b time.Time) bool {
	return NormalizeDate(a).Equal(NormalizeDate(b))
}

// WithinForwardWindow reports whether ledgerDate is on or before
// purchaseDate plus toleranceDays. There is no lower bound.
func WithinForwardWindow(ledgerDate, purchaseDate time.Time, toleranceDays int) bool {
	limit := NormalizeDate(purchaseDate).AddDate(0, 0, toleranceDays)
	return !NormalizeDate(ledgerDate).After(limit)
}

// StripSourcePrefix drops any directory prefix, with either separator
func StripSourcePrefix(path string) string {
	path = strings.TrimSpace(path)
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}

// NormalizeVendorText joins store name and address and collapses whitespace
func NormalizeVendorText(store, address string) string {
	return strings.Join(strings.Fields(store+" "+address), " ")
}
