package config

import (
	"strings"
	"testing"
	"time"

	"receipt-reconciliation-service/internal/extraction"
	"receipt-reconciliation-service/internal/matcher"
	"receipt-reconciliation-service/internal/parsers"
	"receipt-reconciliation-service/internal/reconciler"
	"receipt-reconciliation-service/internal/reporter"
	"receipt-reconciliation-service/internal/similarity"
)

func TestCreateLedgerConfig(t *testing.T) {
	tests := []struct {
		name        string
		profile     string
		expected    string
		expectError bool
	}{
		{name: "empty selects standard", profile: "", expected: "Standard"},
		{name: "standard", profile: "Standard", expected: "Standard"},
		{name: "case insensitive", profile: "bank export", expected: "Bank Export"},
		{name: "semicolon", profile: "Semicolon", expected: "Semicolon"},
		{name: "european", profile: "european", expected: "European"},
		{name: "unknown", profile: "Chase", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config, err := CreateLedgerConfig(tt.profile)

			if tt.expectError {
				if err == nil {
					t.Fatal("expected error but got none")
				}
				if !strings.Contains(err.Error(), "Bank Export") {
					t.Errorf("error should list available profiles: %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if config.Name != tt.expected {
				t.Errorf("expected profile %q, got %q", tt.expected, config.Name)
			}
			if err := config.Validate(); err != nil {
				t.Errorf("profile should be valid: %v", err)
			}
		})
	}
}

func TestListLedgerProfiles(t *testing.T) {
	profiles := ListLedgerProfiles()
	if len(profiles) != len(parsers.ListAvailableLedgerConfigs()) {
		t.Fatalf("expected %d profiles, got %d", len(parsers.ListAvailableLedgerConfigs()), len(profiles))
	}
	if profiles[0] != "Standard" {
		t.Errorf("expected Standard first, got %q", profiles[0])
	}
}

func TestCreateMatchingConfig(t *testing.T) {
	tests := []struct {
		name            string
		dateTolerance   int
		vendorThreshold float64
		expectError     bool
	}{
		{name: "defaults", dateTolerance: 3, vendorThreshold: 75},
		{name: "zero tolerance", dateTolerance: 0, vendorThreshold: 90},
		{name: "negative tolerance", dateTolerance: -1, vendorThreshold: 75, expectError: true},
		{name: "threshold above 100", dateTolerance: 3, vendorThreshold: 101, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config, err := CreateMatchingConfig(tt.dateTolerance, tt.vendorThreshold)

			if tt.expectError {
				if err == nil {
					t.Error("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if config.DateToleranceDays != tt.dateTolerance {
				t.Errorf("expected DateToleranceDays %d, got %d", tt.dateTolerance, config.DateToleranceDays)
			}
			if config.VendorMatchThreshold != tt.vendorThreshold {
				t.Errorf("expected VendorMatchThreshold %.0f, got %.0f", tt.vendorThreshold, config.VendorMatchThreshold)
			}
		})
	}
}

func TestCreatePipelineConfig(t *testing.T) {
	config, err := CreatePipelineConfig(2, 4*time.Second, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if config.ConcurrencyLimit != 2 || config.MinPeriod != 4*time.Second {
		t.Errorf("unexpected config %+v", config)
	}
	if config.SlotHold() != 2*time.Second {
		t.Errorf("expected slot hold 2s, got %s", config.SlotHold())
	}
	if config.ProgressInterval != extraction.DefaultConfig().ProgressInterval {
		t.Errorf("progress interval should keep its default, got %s", config.ProgressInterval)
	}

	if _, err := CreatePipelineConfig(0, time.Minute, 0); err == nil {
		t.Error("expected error for zero concurrency")
	}
	if _, err := CreatePipelineConfig(5, -time.Second, 0); err == nil {
		t.Error("expected error for negative period")
	}
}

func TestCreateExtractorConfig(t *testing.T) {
	tests := []struct {
		name        string
		backend     string
		backends    Backends
		expected    string
		expectError bool
	}{
		{
			name:     "gemini with key",
			backend:  "gemini",
			backends: Backends{GeminiAPIKey: "key"},
			expected: extraction.BackendGemini,
		},
		{
			name:     "empty defaults to gemini",
			backend:  "",
			backends: Backends{GeminiAPIKey: "key"},
			expected: extraction.BackendGemini,
		},
		{
			name:        "gemini without key",
			backend:     "gemini",
			expectError: true,
		},
		{
			name:     "ollama needs no key",
			backend:  "Ollama",
			backends: Backends{OllamaURL: "http://localhost:11434", OllamaVisionModel: "llava"},
			expected: extraction.BackendOllama,
		},
		{
			name:        "unknown backend",
			backend:     "tesseract",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config, err := CreateExtractorConfig(tt.backend, tt.backends, true)

			if tt.expectError {
				if err == nil {
					t.Error("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if config.Backend != tt.expected {
				t.Errorf("expected backend %q, got %q", tt.expected, config.Backend)
			}
			if !config.Binarize {
				t.Error("expected binarize to be carried over")
			}
			if config.OllamaModel != tt.backends.OllamaVisionModel {
				t.Errorf("expected vision model %q, got %q", tt.backends.OllamaVisionModel, config.OllamaModel)
			}
		})
	}
}

func TestCreateSimilarityConfig(t *testing.T) {
	tests := []struct {
		name             string
		strategy         string
		provider         string
		backends         Backends
		expectedStrategy string
		expectError      bool
	}{
		{
			name:             "token needs no backend",
			strategy:         "token",
			expectedStrategy: similarity.StrategyToken,
		},
		{
			name:             "empty strategy is token",
			expectedStrategy: similarity.StrategyToken,
		},
		{
			name:             "embedding over ollama",
			strategy:         "embedding",
			provider:         "ollama",
			backends:         Backends{OllamaEmbeddingModel: "nomic-embed-text"},
			expectedStrategy: similarity.StrategyEmbedding,
		},
		{
			name:        "gemini embedding without key",
			strategy:    "embedding",
			provider:    "gemini",
			expectError: true,
		},
		{
			name:        "unknown strategy",
			strategy:    "soundex",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config, err := CreateSimilarityConfig(tt.strategy, tt.provider, tt.backends)

			if tt.expectError {
				if err == nil {
					t.Error("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if config.Strategy != tt.expectedStrategy {
				t.Errorf("expected strategy %q, got %q", tt.expectedStrategy, config.Strategy)
			}
			if config.OllamaModel != tt.backends.OllamaEmbeddingModel {
				t.Errorf("expected embedding model %q, got %q", tt.backends.OllamaEmbeddingModel, config.OllamaModel)
			}
		})
	}
}

func TestCreateReconcilerConfig(t *testing.T) {
	config, err := CreateReconcilerConfig("NAME")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if config.Order != reconciler.OrderName {
		t.Errorf("expected order %q, got %q", reconciler.OrderName, config.Order)
	}

	config, err = CreateReconcilerConfig("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if config.Order != reconciler.OrderCompletion {
		t.Errorf("expected order %q, got %q", reconciler.OrderCompletion, config.Order)
	}

	if _, err := CreateReconcilerConfig("random"); err == nil {
		t.Error("expected error for unknown order")
	}
}

func TestCreateReportConfig(t *testing.T) {
	tests := []struct {
		format         string
		useColors      bool
		expectedFormat reporter.OutputFormat
		expectedColors bool
		expectError    bool
	}{
		{format: "console", useColors: true, expectedFormat: reporter.FormatConsole, expectedColors: true},
		{format: "console", useColors: false, expectedFormat: reporter.FormatConsole, expectedColors: false},
		{format: "JSON", useColors: true, expectedFormat: reporter.FormatJSON, expectedColors: false},
		{format: "csv", useColors: true, expectedFormat: reporter.FormatCSV, expectedColors: false},
		{format: "xlsx", useColors: true, expectedFormat: reporter.FormatXLSX, expectedColors: false},
		{format: "pdf", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			config, err := CreateReportConfig(tt.format, tt.useColors)

			if tt.expectError {
				if err == nil {
					t.Error("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if config.Format != tt.expectedFormat {
				t.Errorf("expected format %q, got %q", tt.expectedFormat, config.Format)
			}
			if config.UseColors != tt.expectedColors {
				t.Errorf("expected UseColors %v, got %v", tt.expectedColors, config.UseColors)
			}
		})
	}
}

func TestValidateConfig(t *testing.T) {
	ledger := parsers.StandardLedgerConfig
	matching := matcher.DefaultMatchingConfig()

	if err := ValidateConfig(ledger, matching, nil); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateConfig(ledger, matching, extraction.DefaultConfig()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	badMatching := matching.Clone()
	badMatching.DateToleranceDays = -2
	if err := ValidateConfig(ledger, badMatching, nil); err == nil || !strings.Contains(err.Error(), "matching") {
		t.Errorf("expected matching config error, got %v", err)
	}

	badLedger := *ledger
	badLedger.VendorColumn = ""
	if err := ValidateConfig(&badLedger, matching, nil); err == nil || !strings.Contains(err.Error(), "ledger") {
		t.Errorf("expected ledger config error, got %v", err)
	}

	if err := ValidateConfig(ledger, matching, &extraction.Config{}); err == nil {
		t.Error("expected pipeline config error")
	}
}
