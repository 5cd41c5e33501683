// Package extraction turns receipt images into structured records through an
// external recognition service, under a concurrency and pacing budget.
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Extractor calls the recognition service for one image
type Extractor interface {
	// Extract reads the image at path and returns the five extracted fields
	Extract(ctx context.Context, path string) (*RawReceipt, error)
	// Close releases the client
	Close() error
}

// RawReceipt is the record returned by the recognition service, before any
// field is parsed
type RawReceipt struct {
	PurchaseDate string `json:"date_of_purchase"`
	StoreName    string `json:"name_of_store"`
	Address      string `json:"address"`
	TotalPrice   Amount `json:"total_price"`
	Currency     string `json:"currency"`
}

// Amount holds total_price as the service wrote it. Services answer with a
// number, a string such as "12.50 EUR", or null.
type Amount struct {
	Value string
	Valid bool
}

// NewAmount creates an Amount from its textual form
func NewAmount(value string) Amount {
	value = strings.TrimSpace(value)
	return Amount{Value: value, Valid: value != ""}
}

// String returns the amount text, empty when missing
func (a Amount) String() string {
	return a.Value
}

// UnmarshalJSON implements json.Unmarshaler
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*a = Amount{}
		return nil
	}

	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return fmt.Errorf("total_price: %w", err)
		}
		*a = NewAmount(str)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("total_price: %w", err)
	}
	*a = Amount{Value: n.String(), Valid: true}
	return nil
}

// MarshalJSON writes numeric amounts as numbers and anything else as a string
func (a Amount) MarshalJSON() ([]byte, error) {
	if !a.Valid {
		return []byte("null"), nil
	}
	if _, err := decimal.NewFromString(a.Value); err == nil {
		return []byte(a.Value), nil
	}
	return json.Marshal(a.Value)
}

// Supported recognition backends
const (
	BackendGemini = "gemini"
	BackendOllama = "ollama"
)

// BackendConfig selects and configures the recognition backend
type BackendConfig struct {
	Backend      string `mapstructure:"extractor"`
	GeminiAPIKey string `mapstructure:"gemini_api_key"`
	GeminiModel  string `mapstructure:"gemini_model"`
	OllamaURL    string `mapstructure:"ollama_url"`
	OllamaModel  string `mapstructure:"ollama_vision_model"`
	Binarize     bool   `mapstructure:"binarize"`
}

// DefaultBackendConfig returns the Gemini backend with default models
func DefaultBackendConfig() *BackendConfig {
	return &BackendConfig{
		Backend: BackendGemini,
	}
}

// Validate validates the backend configuration
func (c *BackendConfig) Validate() error {
	switch strings.ToLower(c.Backend) {
	case BackendGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("gemini api key is required for the gemini extractor")
		}
	case BackendOllama:
	default:
		return fmt.Errorf("unknown extractor backend %q (expected %s or %s)", c.Backend, BackendGemini, BackendOllama)
	}
	return nil
}

// NewExtractor builds the configured backend
func NewExtractor(ctx context.Context, config *BackendConfig) (Extractor, error) {
	if config == nil {
		config = DefaultBackendConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch strings.ToLower(config.Backend) {
	case BackendOllama:
		return NewOllamaExtractor(config.OllamaURL, config.OllamaModel, config.Binarize)
	default:
		return NewGeminiExtractor(ctx, config.GeminiAPIKey, config.GeminiModel, config.Binarize)
	}
}

// receiptPrompt is shared by every backend
const receiptPrompt = `You are reading a scanned purchase receipt. Extract the following fields and do not make anything up:

1. date_of_purchase: the purchase date in YYYY-MM-DD format. Use an empty string if no date is printed.
2. name_of_store: the name of the vendor or store.
3. address: the full address printed on the receipt.
4. total_price: the final total paid, as a number (e.g. 42.75 for $42.75).
5. currency: the ISO code of the total (USD, EUR, GBP). Only fill it in if it is written on the receipt, otherwise use null.

Return ONLY valid JSON in this exact format:
{
  "date_of_purchase": "YYYY-MM-DD",
  "name_of_store": "Store Name",
  "address": "Full address",
  "total_price": 0.00,
  "currency": "EUR"
}

Do not include any text before or after the JSON and do not use markdown code blocks.`

const systemPrompt = "You are an accountant that reads receipts and invoices without making anything up."
