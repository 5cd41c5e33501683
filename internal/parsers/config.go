package parsers

import (
	"fmt"
	"strings"
)

// Standard column names the rest of the service works with
const (
	ColumnDate   = "date"
	ColumnAmount = "amount"
	ColumnVendor = "vendor"
)

// LedgerConfig describes one bank export layout. With DecimalComma amounts
// use ',' as the decimal point and '.' for thousands.
type LedgerConfig struct {
	Name          string              `json:"name"`
	DateColumn    string              `json:"date_column"`
	AmountColumn  string              `json:"amount_column"`
	VendorColumn  string              `json:"vendor_column"`
	HasHeader     bool                `json:"has_header"`
	Delimiter     rune                `json:"delimiter"`
	DecimalComma  bool                `json:"decimal_comma,omitempty"`
	ColumnAliases map[string][]string `json:"column_aliases,omitempty"`
	Description   string              `json:"description,omitempty"`
}

// Validate checks if the ledger configuration is valid
func (lc *LedgerConfig) Validate() error {
	if strings.TrimSpace(lc.Name) == "" {
		return fmt.Errorf("ledger profile name cannot be empty")
	}
	if strings.TrimSpace(lc.DateColumn) == "" {
		return fmt.Errorf("date column cannot be empty")
	}
	if strings.TrimSpace(lc.AmountColumn) == "" {
		return fmt.Errorf("amount column cannot be empty")
	}
	if strings.TrimSpace(lc.VendorColumn) == "" {
		return fmt.Errorf("vendor column cannot be empty")
	}
	if lc.Delimiter == 0 || lc.Delimiter == '\n' || lc.Delimiter == '"' {
		return fmt.Errorf("invalid delimiter %q", lc.Delimiter)
	}
	return nil
}

// GetColumnCandidates returns the header names accepted for a standard
// column, configured name first
func (lc *LedgerConfig) GetColumnCandidates(standardName string) []string {
	var primary string
	switch standardName {
	case ColumnDate:
		primary = lc.DateColumn
	case ColumnAmount:
		primary = lc.AmountColumn
	case ColumnVendor:
		primary = lc.VendorColumn
	default:
		primary = standardName
	}

	candidates := []string{primary}
	for _, alias := range lc.ColumnAliases[standardName] {
		if !strings.EqualFold(alias, primary) {
			candidates = append(candidates, alias)
		}
	}
	return candidates
}

// defaultLedgerAliases are the renames common bank exports need
func defaultLedgerAliases() map[string][]string {
	return map[string][]string{
		ColumnDate:   {"date", "Transaction Date", "Posting Date", "Booking Date"},
		ColumnAmount: {"amount", "Amount", "Transaction Amount"},
		ColumnVendor: {"vendor", "Description", "Payee", "Merchant", "vendor_text"},
	}
}

// Predefined ledger profiles
var (
	// StandardLedgerConfig reads the service's own date,amount,vendor layout
	StandardLedgerConfig = &LedgerConfig{
		Name:          "Standard",
		DateColumn:    "date",
		AmountColumn:  "amount",
		VendorColumn:  "vendor",
		HasHeader:     true,
		Delimiter:     ',',
		ColumnAliases: defaultLedgerAliases(),
		Description:   "date, amount, vendor columns",
	}

	// BankExportLedgerConfig reads a typical online banking CSV download
	BankExportLedgerConfig = &LedgerConfig{
		Name:          "Bank Export",
		DateColumn:    "Transaction Date",
		AmountColumn:  "Amount",
		VendorColumn:  "Description",
		HasHeader:     true,
		Delimiter:     ',',
		ColumnAliases: defaultLedgerAliases(),
		Description:   "Transaction Date, Description, Amount columns",
	}

	// SemicolonLedgerConfig reads exports from banks that use ';' separators
	SemicolonLedgerConfig = &LedgerConfig{
		Name:          "Semicolon",
		DateColumn:    "date",
		AmountColumn:  "amount",
		VendorColumn:  "vendor",
		HasHeader:     true,
		Delimiter:     ';',
		ColumnAliases: defaultLedgerAliases(),
		Description:   "standard columns separated by semicolons",
	}

	// EuropeanLedgerConfig reads ';' exports with amounts like 1.234,56
	EuropeanLedgerConfig = &LedgerConfig{
		Name:          "European",
		DateColumn:    "date",
		AmountColumn:  "amount",
		VendorColumn:  "vendor",
		HasHeader:     true,
		Delimiter:     ';',
		DecimalComma:  true,
		ColumnAliases: defaultLedgerAliases(),
		Description:   "semicolon separated, decimal comma amounts",
	}
)

// GetLedgerConfig returns a predefined ledger profile by name
func GetLedgerConfig(name string) *LedgerConfig {
	for _, config := range ListAvailableLedgerConfigs() {
		if strings.EqualFold(config.Name, strings.TrimSpace(name)) {
			return config
		}
	}
	return nil
}

// ListAvailableLedgerConfigs returns all predefined ledger profiles
func ListAvailableLedgerConfigs() []*LedgerConfig {
	return []*LedgerConfig{
		StandardLedgerConfig,
		BankExportLedgerConfig,
		SemicolonLedgerConfig,
		EuropeanLedgerConfig,
	}
}

// AutoDetectLedgerConfig picks the profile whose primary columns are all
// present in headers, falling back to the standard profile
func AutoDetectLedgerConfig(headers []string) *LedgerConfig {
	headerMap := make(map[string]bool)
	for _, header := range headers {
		headerMap[strings.ToLower(strings.TrimSpace(header))] = true
	}

	for _, config := range ListAvailableLedgerConfigs() {
		if headerMap[strings.ToLower(config.DateColumn)] &&
			headerMap[strings.ToLower(config.AmountColumn)] &&
			headerMap[strings.ToLower(config.VendorColumn)] {
			return config
		}
	}

	return StandardLedgerConfig
}

// Receipt CSV columns, in the order the extract command writes them
const (
	ReceiptColumnFilename = "filename"
	ReceiptColumnDate     = "date_of_purchase"
	ReceiptColumnStore    = "name_of_store"
	ReceiptColumnAddress  = "address"
	ReceiptColumnTotal    = "total_price"
	ReceiptColumnCurrency = "currency"
)

// ReceiptHeaders is the header row of a receipt CSV
var ReceiptHeaders = []string{
	ReceiptColumnFilename,
	ReceiptColumnDate,
	ReceiptColumnStore,
	ReceiptColumnAddress,
	ReceiptColumnTotal,
	ReceiptColumnCurrency,
}

// ReceiptParserConfig holds configuration for parsing receipt CSV files
type ReceiptParserConfig struct {
	HasHeader bool `json:"has_header"`
	Delimiter rune `json:"delimiter"`
}

// DefaultReceiptParserConfig returns the layout written by the extract command
func DefaultReceiptParserConfig() *ReceiptParserConfig {
	return &ReceiptParserConfig{
		HasHeader: true,
		Delimiter: ',',
	}
}

// Validate checks if the receipt parser configuration is valid
func (rc *ReceiptParserConfig) Validate() error {
	if rc.Delimiter == 0 || rc.Delimiter == '\n' || rc.Delimiter == '"' {
		return fmt.Errorf("invalid delimiter %q", rc.Delimiter)
	}
	return nil
}
