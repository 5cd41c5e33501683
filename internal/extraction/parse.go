package extraction

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrMalformedResponse marks a service answer that is not a receipt record
var ErrMalformedResponse = errors.New("malformed extraction response")

// receiptSchema is the shape every service answer must have
var receiptSchema = map[string]any{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type":    "object",
	"properties": map[string]any{
		"date_of_purchase": map[string]any{"type": []string{"string", "null"}},
		"name_of_store":    map[string]any{"type": []string{"string", "null"}},
		"address":          map[string]any{"type": []string{"string", "null"}},
		"total_price":      map[string]any{"type": []string{"number", "string", "null"}},
		"currency":         map[string]any{"type": []string{"string", "null"}},
	},
	"required": []string{"date_of_purchase", "name_of_store", "total_price"},
}

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func compileReceiptSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		b, err := json.Marshal(receiptSchema)
		if err != nil {
			schemaErr = fmt.Errorf("marshal schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("receipt.json", bytes.NewReader(b)); err != nil {
			schemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile("receipt.json")
		if schemaErr != nil {
			schemaErr = fmt.Errorf("compile schema: %w", schemaErr)
		}
	})
	return compiledSchema, schemaErr
}

// ValidateResponse checks a JSON document against the receipt schema
func ValidateResponse(data []byte) error {
	schema, err := compileReceiptSchema()
	if err != nil {
		return err
	}

	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("%w: unmarshal data: %v", ErrMalformedResponse, err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("%w: json does not match schema: %v", ErrMalformedResponse, err)
	}
	return nil
}

// ParseResponse extracts the receipt object from a service answer. Markdown
// fences and prose around the object are ignored.
func ParseResponse(text string) (*RawReceipt, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return nil, fmt.Errorf("%w: no JSON object found", ErrMalformedResponse)
	}
	end := strings.LastIndex(text, "}")
	if end < start {
		return nil, fmt.Errorf("%w: unterminated JSON object", ErrMalformedResponse)
	}
	body := []byte(text[start : end+1])

	if err := ValidateResponse(body); err != nil {
		return nil, err
	}

	var raw RawReceipt
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	raw.PurchaseDate = strings.TrimSpace(raw.PurchaseDate)
	raw.StoreName = strings.TrimSpace(raw.StoreName)
	raw.Address = strings.TrimSpace(raw.Address)
	raw.Currency = strings.TrimSpace(raw.Currency)

	return &raw, nil
}
