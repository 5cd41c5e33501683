package config

import (
	"fmt"
	"strings"
	"time"

	"receipt-reconciliation-service/internal/extraction"
	"receipt-reconciliation-service/internal/matcher"
	"receipt-reconciliation-service/internal/parsers"
	"receipt-reconciliation-service/internal/reconciler"
	"receipt-reconciliation-service/internal/reporter"
	"receipt-reconciliation-service/internal/similarity"
)

// Backends carries the connection settings of the remote services. The
// extractor and the embedder share the same keys and hosts.
type Backends struct {
	GeminiAPIKey         string `mapstructure:"gemini_api_key"`
	GeminiModel          string `mapstructure:"gemini_model"`
	GeminiEmbeddingModel string `mapstructure:"gemini_embedding_model"`
	OllamaURL            string `mapstructure:"ollama_url"`
	OllamaVisionModel    string `mapstructure:"ollama_vision_model"`
	OllamaEmbeddingModel string `mapstructure:"ollama_embedding_model"`
}

// CreateLedgerConfig returns the ledger profile with the given name. The
// empty name selects the standard profile.
func CreateLedgerConfig(profile string) (*parsers.LedgerConfig, error) {
	if strings.TrimSpace(profile) == "" {
		return parsers.StandardLedgerConfig, nil
	}

	config := parsers.GetLedgerConfig(profile)
	if config == nil {
		return nil, fmt.Errorf("unknown ledger profile %q (available: %s)", profile, strings.Join(ListLedgerProfiles(), ", "))
	}
	return config, nil
}

// ListLedgerProfiles returns the names of the predefined ledger profiles
func ListLedgerProfiles() []string {
	var names []string
	for _, config := range parsers.ListAvailableLedgerConfigs() {
		names = append(names, config.Name)
	}
	return names
}

// CreateMatchingConfig creates a matching configuration with the specified
// date tolerance and vendor threshold
func CreateMatchingConfig(dateTolerance int, vendorThreshold float64) (*matcher.MatchingConfig, error) {
	config := matcher.DefaultMatchingConfig()

	// Apply CLI overrides
	config.DateToleranceDays = dateTolerance
	config.VendorMatchThreshold = vendorThreshold

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// CreatePipelineConfig creates the throughput budget of the extraction
// service
func CreatePipelineConfig(concurrency int, minPeriod, callTimeout time.Duration) (*extraction.Config, error) {
	config := extraction.DefaultConfig()

	config.ConcurrencyLimit = concurrency
	config.MinPeriod = minPeriod
	config.CallTimeout = callTimeout

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// CreateExtractorConfig selects the recognition backend
func CreateExtractorConfig(backend string, backends Backends, binarize bool) (*extraction.BackendConfig, error) {
	config := &extraction.BackendConfig{
		Backend:      strings.ToLower(strings.TrimSpace(backend)),
		GeminiAPIKey: backends.GeminiAPIKey,
		GeminiModel:  backends.GeminiModel,
		OllamaURL:    backends.OllamaURL,
		OllamaModel:  backends.OllamaVisionModel,
		Binarize:     binarize,
	}
	if config.Backend == "" {
		config.Backend = extraction.BackendGemini
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// CreateSimilarityConfig selects the vendor similarity strategy. The
// provider only matters for the embedding strategy.
func CreateSimilarityConfig(strategy, provider string, backends Backends) (*similarity.Config, error) {
	config := similarity.DefaultConfig()

	if s := strings.ToLower(strings.TrimSpace(strategy)); s != "" {
		config.Strategy = s
	}
	if p := strings.ToLower(strings.TrimSpace(provider)); p != "" {
		config.Provider = p
	}
	config.GeminiAPIKey = backends.GeminiAPIKey
	config.GeminiModel = backends.GeminiEmbeddingModel
	config.OllamaURL = backends.OllamaURL
	config.OllamaModel = backends.OllamaEmbeddingModel

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// CreateReconcilerConfig creates a reconciler configuration
func CreateReconcilerConfig(order string) (*reconciler.Config, error) {
	parsed, err := reconciler.ParseReceiptOrder(order)
	if err != nil {
		return nil, err
	}

	config := reconciler.DefaultConfig()
	config.Order = parsed
	return config, nil
}

// CreateReportConfig creates a report configuration for the specified
// output format. Colors are only used on the console format.
func CreateReportConfig(format string, useColors bool) (*reporter.ReportConfig, error) {
	config := reporter.DefaultReportConfig()
	config.Format = reporter.OutputFormat(strings.ToLower(strings.TrimSpace(format)))

	switch config.Format {
	case reporter.FormatConsole:
		config.UseColors = useColors
	case reporter.FormatJSON:
		config.UseColors = false
	case reporter.FormatCSV:
		config.UseColors = false
		config.CSVHeaders = true
		config.CSVDelimiter = ','
		config.IncludeProcessingStats = false
	case reporter.FormatXLSX:
		config.UseColors = false
	default:
		return nil, fmt.Errorf("invalid output format '%s'. Valid formats: console, json, csv, xlsx", format)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// ValidateConfig validates that all required configurations are valid
func ValidateConfig(ledgerConfig *parsers.LedgerConfig, matchingConfig *matcher.MatchingConfig, pipelineConfig *extraction.Config) error {
	if err := ledgerConfig.Validate(); err != nil {
		return fmt.Errorf("invalid ledger config: %w", err)
	}

	if err := matchingConfig.Validate(); err != nil {
		return fmt.Errorf("invalid matching config: %w", err)
	}

	if pipelineConfig != nil {
		if err := pipelineConfig.Validate(); err != nil {
			return fmt.Errorf("invalid pipeline config: %w", err)
		}
	}

	return nil
}
