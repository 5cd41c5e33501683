package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func date(s string) time.Time {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestLedgerEntry_Assign(t *testing.T) {
	entry := NewLedgerEntry(0, decimal.RequireFromString("42.00"), date("2024-03-01"), "  Cafe Du Port ")

	if entry.VendorText != "Cafe Du Port" {
		t.Errorf("expected trimmed vendor text, got %q", entry.VendorText)
	}
	if entry.Checked || entry.MatchScore != nil {
		t.Fatalf("new entry should be unchecked without score")
	}

	if err := entry.Assign("IMG_001.jpg", MatchTypeExactAmountDate, ScoreExact); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !entry.Checked || entry.AssignedReceipt != "IMG_001.jpg" {
		t.Errorf("entry not marked as assigned: %s", entry)
	}
	if entry.MatchScore == nil || *entry.MatchScore != 100 {
		t.Errorf("expected score 100, got %v", entry.MatchScore)
	}

	if err := entry.Assign("IMG_002.jpg", MatchTypeExactAmount, ScoreExact); err == nil {
		t.Error("expected second assignment to fail")
	}
	if entry.AssignedReceipt != "IMG_001.jpg" {
		t.Errorf("second assignment must not overwrite, got %s", entry.AssignedReceipt)
	}

	empty := NewLedgerEntry(1, decimal.NewFromInt(1), date("2024-03-01"), "")
	if err := empty.Assign(" ", MatchTypeExactAmount, ScoreExact); err == nil {
		t.Error("expected empty receipt id to be rejected")
	}
}

func TestLedgerEntry_MarshalJSON(t *testing.T) {
	entry := NewLedgerEntry(3, decimal.RequireFromString("42"), date("2024-03-05"), "Bistro Royal")

	data, err := json.Marshal(entry)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var row map[string]interface{}
	if err := json.Unmarshal(data, &row); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	expected := map[string]interface{}{
		"amount":           "42.00",
		"date":             "2024-03-05",
		"vendor_text":      "Bistro Royal",
		"checked":          false,
		"assigned_picture": "",
		"match_score":      nil,
		"match_type":       "",
	}
	for key, want := range expected {
		got, ok := row[key]
		if !ok {
			t.Errorf("missing column %s", key)
			continue
		}
		if got != want {
			t.Errorf("column %s = %v, want %v", key, got, want)
		}
	}
	if _, ok := row["Row"]; ok {
		t.Error("row index should not be serialized")
	}
}

func TestReceiptRecord_Validate(t *testing.T) {
	d := date("2024-03-01")
	amount := decimal.RequireFromString("12.50")

	tests := []struct {
		name      string
		receipt   ReceiptRecord
		wantError string
	}{
		{
			name:    "complete",
			receipt: ReceiptRecord{SourceID: "a.jpg", PurchaseDate: &d, TotalAmount: &amount},
		},
		{
			name:      "missing source",
			receipt:   ReceiptRecord{PurchaseDate: &d, TotalAmount: &amount},
			wantError: "source_id",
		},
		{
			name:      "missing date",
			receipt:   ReceiptRecord{SourceID: "a.jpg", TotalAmount: &amount},
			wantError: "purchase_date",
		},
		{
			name:      "missing amount",
			receipt:   ReceiptRecord{SourceID: "a.jpg", PurchaseDate: &d},
			wantError: "total_amount",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.receipt.Validate()
			if tt.wantError == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				if !tt.receipt.IsMatchable() {
					t.Error("expected receipt to be matchable")
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantError) {
				t.Errorf("expected error mentioning %s, got %v", tt.wantError, err)
			}
			if tt.receipt.IsMatchable() {
				t.Error("expected receipt not to be matchable")
			}
		})
	}
}

func TestNewReceiptRecord(t *testing.T) {
	record := NewReceiptRecord(`C:\scans\IMG_0042.HEIC`, "03/01/2024", " Cafe du Port ", "Marseille", "$42.00", "eur")

	if record.SourceID != "IMG_0042.HEIC" {
		t.Errorf("unexpected source id %q", record.SourceID)
	}
	if record.VendorText != "Cafe du Port Marseille" {
		t.Errorf("unexpected vendor text %q", record.VendorText)
	}
	if record.Currency != "EUR" {
		t.Errorf("expected upper-cased currency, got %q", record.Currency)
	}
	if record.PurchaseDate == nil || record.PurchaseDate.Format(DateLayout) != "2024-03-01" {
		t.Errorf("unexpected purchase date %v", record.PurchaseDate)
	}
	if record.TotalAmount == nil || !record.TotalAmount.Equal(decimal.RequireFromString("42")) {
		t.Errorf("unexpected amount %v", record.TotalAmount)
	}

	broken := NewReceiptRecord("IMG_0043.jpg", "sometime", "Shop", "", "n/a", "")
	if broken.PurchaseDate != nil || broken.TotalAmount != nil {
		t.Errorf("unparseable fields should stay nil: %s", broken)
	}
	if broken.IsMatchable() {
		t.Error("record with missing fields must not be matchable")
	}
}

func TestParseReceiptAmount(t *testing.T) {
	tests := []struct {
		input    string
		expected string // empty means the amount is rejected
	}{
		{"12.50", "12.5"},
		{"12,50", "12.5"},
		{"12,5", "12.5"},
		{"1.234,56", "1234.56"},
		{"1,234.56", "1234.56"},
		{"1,234", "1234"},
		{"1.234.567", "1234567"},
		{"12.50 EUR", "12.5"},
		{"EUR 12,50", "12.5"},
		{"€12,50", "12.5"},
		{"12,50€", "12.5"},
		{"$1,250.75", "1250.75"},
		{"-3,10", "-3.1"},
		{"-€3.10", "-3.1"},
		{"1,234,56", ""},
		{"1.234.56", ""},
		{"1,2345", ""},
		{"12.345,678", ""},
		{"12 50", ""},
		{"n/a", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseReceiptAmount(tt.input)
			if tt.expected == "" {
				if err == nil {
					t.Errorf("expected %q to be rejected, got %s", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(decimal.RequireFromString(tt.expected)) {
				t.Errorf("got %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestNewReceiptRecord_Amounts(t *testing.T) {
	tests := []struct {
		total    string
		expected string // empty means TotalAmount stays nil
	}{
		{"12,50", "12.5"},
		{"1.234,56", "1234.56"},
		{"12.50 EUR", "12.5"},
		{"1,234,56", ""},
		{"12.50.1", ""},
	}

	for _, tt := range tests {
		t.Run(tt.total, func(t *testing.T) {
			record := NewReceiptRecord("a.jpg", "2024-03-01", "Cafe", "", tt.total, "EUR")
			if tt.expected == "" {
				if record.TotalAmount != nil {
					t.Errorf("expected nil amount, got %s", record.TotalAmount)
				}
				if record.IsMatchable() {
					t.Error("record without an amount must not be matchable")
				}
				return
			}
			if record.TotalAmount == nil || !record.TotalAmount.Equal(decimal.RequireFromString(tt.expected)) {
				t.Errorf("got %v, want %s", record.TotalAmount, tt.expected)
			}
		})
	}
}

func TestParseDecimalWithSeparator(t *testing.T) {
	got, err := ParseDecimalWithSeparator("1.234,56", ',')
	if err != nil || !got.Equal(decimal.RequireFromString("1234.56")) {
		t.Errorf("decimal comma: got %s, %v", got, err)
	}
	got, err = ParseDecimalWithSeparator("1,234.56", '.')
	if err != nil || !got.Equal(decimal.RequireFromString("1234.56")) {
		t.Errorf("decimal point: got %s, %v", got, err)
	}
	if _, err := ParseDecimalWithSeparator("1", ';'); err == nil {
		t.Error("expected error for unsupported separator")
	}
}

func TestMatchContext_Labels(t *testing.T) {
	ctx := NewMatchContext(ContextNearbyDate, 2)

	if got := ctx.VendorMatchType("Token"); got != "Exact Amount / Nearby Date / Vendor Match (Token)" {
		t.Errorf("unexpected match type %q", got)
	}
	if !ctx.VendorMatchType("Embedding").IsVendorMatch() {
		t.Error("composed type should be a vendor match")
	}
	if MatchTypeExactAmount.IsVendorMatch() {
		t.Error("exact amount is not a vendor match")
	}
	if got := ctx.BelowThresholdReason(); got != "No vendor match above threshold (Exact Amount / Nearby Date)" {
		t.Errorf("unexpected reason %q", got)
	}
	if got := NewMatchContext(ContextNoDateMatch, 3).InvalidVendorReason(); got != "Invalid OCR vendor for matching (Exact Amount / No Date Match)" {
		t.Errorf("unexpected reason %q", got)
	}
}

func TestParseDecimalFromString(t *testing.T) {
	tests := []struct {
		input     string
		expected  string
		wantError bool
	}{
		{"42.00", "42", false},
		{"$1,250.75", "1250.75", false},
		{"€ 19.99", "19.99", false},
		{"£7", "7", false},
		{"-3.10", "-3.1", false},
		{"", "", true},
		{"twelve", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDecimalFromString(tt.input)
			if tt.wantError {
				if err == nil {
					t.Errorf("expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(decimal.RequireFromString(tt.expected)) {
				t.Errorf("got %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestParseTimeWithFormats(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"2024-03-01", "2024-03-01"},
		{"03/01/2024", "2024-03-01"},
		{"3/1/2024", "2024-03-01"},
		{"03/01/24", "2024-03-01"},
		{"2024-03-01T10:30:00Z", "2024-03-01"},
		{"Mar 1, 2024", "2024-03-01"},
		{"1 March 2024", "2024-03-01"},
		{"01.03.2024", "2024-03-01"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseTimeWithFormats(tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Format(DateLayout) != tt.expected {
				t.Errorf("got %s, want %s", got.Format(DateLayout), tt.expected)
			}
		})
	}

	if _, err := ParseTimeWithFormats("yesterday"); err == nil {
		t.Error("expected error for unparseable date")
	}
}

func TestWithinForwardWindow(t *testing.T) {
	purchase := date("2024-03-01")

	tests := []struct {
		ledger string
		want   bool
	}{
		{"2024-02-20", true},
		{"2024-03-01", true},
		{"2024-03-04", true},
		{"2024-03-05", false},
	}

	for _, tt := range tests {
		t.Run(tt.ledger, func(t *testing.T) {
			if got := WithinForwardWindow(date(tt.ledger), purchase, 3); got != tt.want {
				t.Errorf("WithinForwardWindow(%s) = %v, want %v", tt.ledger, got, tt.want)
			}
		})
	}

	late := time.Date(2024, 3, 4, 23, 59, 0, 0, time.UTC)
	if !WithinForwardWindow(late, purchase, 3) {
		t.Error("time of day must not push a row out of the window")
	}
}

func TestStripSourcePrefix(t *testing.T) {
	tests := map[string]string{
		"IMG_001.jpg":                    "IMG_001.jpg",
		"receipts/IMG_001.jpg":           "IMG_001.jpg",
		`C:\Users\me\scans\IMG_001.jpg`:  "IMG_001.jpg",
		"/tmp/upload\\nested/IMG_001.jpg": "IMG_001.jpg",
	}

	for input, want := range tests {
		if got := StripSourcePrefix(input); got != want {
			t.Errorf("StripSourcePrefix(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestNormalizeVendorText(t *testing.T) {
	got := NormalizeVendorText("  Cafe du Port\n", " 12  Quai  de la Joliette ")
	if got != "Cafe du Port 12 Quai de la Joliette" {
		t.Errorf("unexpected vendor text %q", got)
	}
	if NormalizeVendorText("", "  ") != "" {
		t.Error("blank store and address should normalize to empty")
	}
}
