package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/internal/parsers"
)

func TestToReceiptRecord(t *testing.T) {
	tests := []struct {
		name         string
		source       string
		raw          *RawReceipt
		expectDate   string
		expectAmount string
		expectVendor string
		matchable    bool
	}{
		{
			name:   "complete record",
			source: "/scans/2024/receipt_01.jpg",
			raw: &RawReceipt{
				PurchaseDate: "2024-03-14",
				StoreName:    "Cafe du Port",
				Address:      "  1 Quai   Nord ",
				TotalPrice:   NewAmount("12.50"),
				Currency:     "eur",
			},
			expectDate:   "2024-03-14",
			expectAmount: "12.5",
			expectVendor: "Cafe du Port 1 Quai Nord",
			matchable:    true,
		},
		{
			name:   "windows path and symbol amount",
			source: `C:\scans\receipt_02.png`,
			raw: &RawReceipt{
				PurchaseDate: "03/15/2024",
				StoreName:    "Acme",
				TotalPrice:   NewAmount("$1,250.00"),
			},
			expectDate:   "2024-03-15",
			expectAmount: "1250",
			expectVendor: "Acme",
			matchable:    true,
		},
		{
			name:         "missing amount",
			source:       "receipt_03.jpg",
			raw:          &RawReceipt{PurchaseDate: "2024-03-14", StoreName: "Acme"},
			expectDate:   "2024-03-14",
			expectVendor: "Acme",
		},
		{
			name:         "unreadable date",
			source:       "receipt_04.jpg",
			raw:          &RawReceipt{PurchaseDate: "sometime in March", TotalPrice: NewAmount("5")},
			expectAmount: "5",
		},
		{
			name:         "decimal comma",
			source:       "receipt_05.jpg",
			raw:          &RawReceipt{PurchaseDate: "2024-03-14", StoreName: "Cafe", TotalPrice: NewAmount("12,50")},
			expectDate:   "2024-03-14",
			expectAmount: "12.5",
			expectVendor: "Cafe",
			matchable:    true,
		},
		{
			name:         "european grouping with currency code",
			source:       "receipt_06.jpg",
			raw:          &RawReceipt{PurchaseDate: "2024-03-14", StoreName: "Cafe", TotalPrice: NewAmount("1.234,56 EUR")},
			expectDate:   "2024-03-14",
			expectAmount: "1234.56",
			expectVendor: "Cafe",
			matchable:    true,
		},
		{
			name:         "currency suffix",
			source:       "receipt_07.jpg",
			raw:          &RawReceipt{PurchaseDate: "2024-03-14", StoreName: "Cafe", TotalPrice: NewAmount("12.50 EUR")},
			expectDate:   "2024-03-14",
			expectAmount: "12.5",
			expectVendor: "Cafe",
			matchable:    true,
		},
		{
			name:         "ambiguous separators are dropped",
			source:       "receipt_08.jpg",
			raw:          &RawReceipt{PurchaseDate: "2024-03-14", StoreName: "Cafe", TotalPrice: NewAmount("1,234,56")},
			expectDate:   "2024-03-14",
			expectVendor: "Cafe",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record := ToReceiptRecord(tt.source, tt.raw)

			if record.SourceID != filepath.Base(strings.ReplaceAll(tt.source, `\`, "/")) {
				t.Errorf("Unexpected source id %q", record.SourceID)
			}
			if record.VendorText != tt.expectVendor {
				t.Errorf("Expected vendor %q, got %q", tt.expectVendor, record.VendorText)
			}

			if tt.expectDate == "" {
				if record.PurchaseDate != nil {
					t.Errorf("Expected nil date, got %v", record.PurchaseDate)
				}
			} else if record.PurchaseDate == nil || record.PurchaseDate.Format(models.DateLayout) != tt.expectDate {
				t.Errorf("Expected date %s, got %v", tt.expectDate, record.PurchaseDate)
			}

			if tt.expectAmount == "" {
				if record.TotalAmount != nil {
					t.Errorf("Expected nil amount, got %v", record.TotalAmount)
				}
			} else if record.TotalAmount == nil || record.TotalAmount.String() != tt.expectAmount {
				t.Errorf("Expected amount %s, got %v", tt.expectAmount, record.TotalAmount)
			}

			if record.IsMatchable() != tt.matchable {
				t.Errorf("Expected matchable=%v", tt.matchable)
			}
		})
	}

	if ToReceiptRecord("x.jpg", nil) != nil {
		t.Error("Expected nil record for nil raw receipt")
	}
}

func TestBatchReceiptRowsRoundTrip(t *testing.T) {
	batch := &Batch{Results: []Result{
		{Source: "/scans/b.jpg", Receipt: &RawReceipt{PurchaseDate: "2024-03-14", StoreName: "Cafe, du Port", TotalPrice: NewAmount("12.50"), Currency: "EUR"}},
		{Source: "/scans/a.jpg", Err: context.Canceled},
	}}

	rows := batch.ReceiptRows()
	if len(rows) != 2 || rows[0].Filename != "b.jpg" || rows[1].Filename != "a.jpg" {
		t.Fatalf("Unexpected rows: %+v", rows)
	}
	if rows[1].TotalPrice != "" {
		t.Errorf("Expected failed row to carry only the filename, got %+v", rows[1])
	}

	var buf bytes.Buffer
	if err := parsers.WriteReceiptsCSV(&buf, rows); err != nil {
		t.Fatalf("Failed to write CSV: %v", err)
	}

	path := filepath.Join(t.TempDir(), "receipts.csv")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	parser, err := parsers.NewReceiptParser(nil)
	if err != nil {
		t.Fatalf("Failed to create parser: %v", err)
	}
	records, _, err := parser.ParseReceipts(context.Background(), path)
	if err != nil {
		t.Fatalf("Failed to parse receipts: %v", err)
	}

	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if !records[0].IsMatchable() || records[0].VendorText != "Cafe, du Port" {
		t.Errorf("Unexpected first record: %s", records[0])
	}
	if records[1].IsMatchable() {
		t.Errorf("Expected failed extraction to stay unmatchable: %s", records[1])
	}
}

func TestOllamaExtractor(t *testing.T) {
	dir := t.TempDir()
	imagePath := filepath.Join(dir, "receipt.png")
	writePNG(t, imagePath, twoToneImage(4, 4))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		var req ollamaChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Model != "llava" || req.Stream || len(req.Messages) != 2 || len(req.Messages[1].Images) != 1 {
			http.Error(w, "unexpected request", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(ollamaChatResponse{
			Message: ollamaMessage{
				Role:    "assistant",
				Content: "```json\n{\"date_of_purchase\": \"2024-03-14\", \"name_of_store\": \"Acme Corp\", \"address\": \"10 Rue de Paris\", \"total_price\": 42.0, \"currency\": \"EUR\"}\n```",
			},
			Done: true,
		})
	}))
	defer server.Close()

	extractor, err := NewOllamaExtractor(server.URL, "", false)
	if err != nil {
		t.Fatalf("Failed to create extractor: %v", err)
	}
	defer extractor.Close()

	raw, err := extractor.Extract(context.Background(), imagePath)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if raw.StoreName != "Acme Corp" || raw.TotalPrice.String() != "42.0" || raw.Currency != "EUR" {
		t.Errorf("Unexpected receipt: %+v", raw)
	}
}

func TestOllamaExtractor_Errors(t *testing.T) {
	dir := t.TempDir()
	imagePath := filepath.Join(dir, "receipt.png")
	writePNG(t, imagePath, twoToneImage(4, 4))

	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "model not loaded", http.StatusInternalServerError)
			},
		},
		{
			name: "prose answer",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(ollamaChatResponse{
					Message: ollamaMessage{Role: "assistant", Content: "I cannot read this receipt."},
				})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			extractor, _ := NewOllamaExtractor(server.URL, "", false)
			if _, err := extractor.Extract(context.Background(), imagePath); err == nil {
				t.Error("Expected error but got none")
			}
		})
	}
}

func TestNewExtractor(t *testing.T) {
	tests := []struct {
		name        string
		config      *BackendConfig
		expectError bool
	}{
		{name: "ollama", config: &BackendConfig{Backend: "ollama"}},
		{name: "ollama upper case", config: &BackendConfig{Backend: "OLLAMA"}},
		{name: "gemini without key", config: &BackendConfig{Backend: "gemini"}, expectError: true},
		{name: "default without key", config: nil, expectError: true},
		{name: "unknown", config: &BackendConfig{Backend: "tesseract"}, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			extractor, err := NewExtractor(context.Background(), tt.config)
			if tt.expectError {
				if err == nil {
					t.Error("Expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			extractor.Close()
		})
	}
}
