package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"receipt-reconciliation-service/cmd/reconciler/config"
	"receipt-reconciliation-service/internal/extraction"
	"receipt-reconciliation-service/internal/matcher"
	"receipt-reconciliation-service/internal/reconciler"
	"receipt-reconciliation-service/internal/reporter"
	"receipt-reconciliation-service/internal/similarity"
	"receipt-reconciliation-service/pkg/errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flags for the reconcile command
var (
	ledgerFile      string
	imageDir        string
	receiptsFile    string
	outputFormat    string
	outputFile      string
	unassignedFile  string
	ledgerProfile   string
	dateTolerance   int
	vendorThreshold float64
	similarityName  string
	embedderName    string
	receiptOrder    string
	showProgress    bool
	noColor         bool
)

// Extraction flags, shared with the extract command
var (
	concurrency   int
	minPeriod     time.Duration
	callTimeout   time.Duration
	extractorName string
	binarize      bool
)

// newExtractor builds the recognition backend; tests swap it for a fake
var newExtractor = extraction.NewExtractor

// reconcileCmd represents the reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Match receipts against a bank ledger",
	Long: `Reconcile assigns each receipt to at most one ledger entry and writes the
annotated ledger together with the receipts that could not be assigned.

Receipts come either from a folder of images, read by the extraction service,
or from a receipt CSV written earlier by 'reconciler extract'.

Examples:
  # Extract and match in one run
  reconciler reconcile --ledger ledger.csv --images receipts/

  # Match a receipt CSV from an earlier extraction, sorted by file name
  reconciler reconcile --ledger ledger.csv --receipts receipts.csv --order name

  # Slow-posting bank and a local vision model
  reconciler reconcile --ledger ledger.csv --images receipts/ \
    --date-tolerance 7 --extractor ollama --concurrency 2 --min-period 10s

  # Spreadsheet with both views, plus a CSV of the unassigned receipts
  reconciler reconcile --ledger ledger.csv --receipts receipts.csv \
    --output-format xlsx --output-file reconciled.xlsx --unassigned-file unassigned.csv`,

	PreRunE: validateReconcileFlags,
	RunE:    runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	// Input flags
	reconcileCmd.Flags().StringVarP(&ledgerFile, "ledger", "l", "", "path to the ledger CSV file or a directory of CSV files (required)")
	reconcileCmd.Flags().StringVarP(&imageDir, "images", "i", "", "directory of receipt images to extract")
	reconcileCmd.Flags().StringVarP(&receiptsFile, "receipts", "r", "", "receipt CSV written by 'reconciler extract'")
	reconcileCmd.Flags().StringVar(&ledgerProfile, "ledger-profile", "Standard", "ledger column layout: Standard, Bank Export, Semicolon, European")

	// Output flags
	reconcileCmd.Flags().StringVarP(&outputFormat, "output-format", "f", "console", "output format: console, json, csv, xlsx")
	reconcileCmd.Flags().StringVarP(&outputFile, "output-file", "o", "", "output file path (default: stdout)")
	reconcileCmd.Flags().StringVar(&unassignedFile, "unassigned-file", "", "also write the unassigned receipts as CSV to this path")

	// Matching configuration flags
	reconcileCmd.Flags().IntVarP(&dateTolerance, "date-tolerance", "d", 3, "days a ledger entry may be posted after the purchase date")
	reconcileCmd.Flags().Float64Var(&vendorThreshold, "vendor-threshold", 75, "minimum vendor similarity score (0-100)")
	reconcileCmd.Flags().StringVar(&similarityName, "similarity", similarity.StrategyToken, "vendor similarity strategy: token, embedding")
	reconcileCmd.Flags().StringVar(&embedderName, "embedder", similarity.ProviderGemini, "embedding provider: gemini, ollama")
	reconcileCmd.Flags().StringVar(&receiptOrder, "order", string(reconciler.OrderCompletion), "receipt order: completion, name")

	addExtractionFlags(reconcileCmd)

	// UI flags
	reconcileCmd.Flags().BoolVar(&showProgress, "progress", false, "show progress indicators")
	reconcileCmd.Flags().BoolVar(&noColor, "no-color", false, "disable colors in the console report")
}

// addExtractionFlags registers the flags of the extraction pipeline
func addExtractionFlags(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 5, "extraction calls allowed in flight")
	cmd.Flags().DurationVar(&minPeriod, "min-period", 60*time.Second, "window in which at most --concurrency calls may start")
	cmd.Flags().DurationVar(&callTimeout, "call-timeout", 0, "timeout of one extraction call (0 for none)")
	cmd.Flags().StringVar(&extractorName, "extractor", extraction.BackendGemini, "extraction backend: gemini, ollama")
	cmd.Flags().BoolVar(&binarize, "binarize", false, "convert images to black and white before extraction")
}

func validateReconcileFlags(cmd *cobra.Command, args []string) error {
	// Bind here rather than in init: extract shares several keys
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Get values from viper (allows override from config file)
	ledgerFile = viper.GetString("ledger")
	imageDir = viper.GetString("images")
	receiptsFile = viper.GetString("receipts")
	ledgerProfile = viper.GetString("ledger-profile")
	outputFormat = viper.GetString("output-format")
	outputFile = viper.GetString("output-file")
	unassignedFile = viper.GetString("unassigned-file")
	dateTolerance = viper.GetInt("date-tolerance")
	vendorThreshold = viper.GetFloat64("vendor-threshold")
	similarityName = viper.GetString("similarity")
	embedderName = viper.GetString("embedder")
	receiptOrder = viper.GetString("order")
	showProgress = viper.GetBool("progress")
	noColor = viper.GetBool("no-color")
	readExtractionFlags()

	// Validate required flags
	if ledgerFile == "" {
		return fmt.Errorf("ledger is required")
	}
	if imageDir == "" && receiptsFile == "" {
		return fmt.Errorf("one of images or receipts is required")
	}
	if imageDir != "" && receiptsFile != "" {
		return fmt.Errorf("images and receipts cannot be used together")
	}

	// Validate paths
	if err := validatePathExists(ledgerFile, "ledger", true); err != nil {
		return err
	}
	if imageDir != "" {
		if err := validateDirExists(imageDir, "image directory"); err != nil {
			return err
		}
	}
	if receiptsFile != "" {
		if err := validateFileExists(receiptsFile, "receipts file"); err != nil {
			return err
		}
	}

	// Validate output format
	format := reporter.OutputFormat(outputFormat)
	if !format.IsValid() {
		return fmt.Errorf("invalid output format '%s'. Valid formats: console, json, csv, xlsx", outputFormat)
	}
	if format.IsBinary() && outputFile == "" {
		return fmt.Errorf("%s output requires --output-file", outputFormat)
	}

	// Validate tolerances
	if dateTolerance < 0 {
		return fmt.Errorf("date tolerance cannot be negative")
	}
	if vendorThreshold < 0 || vendorThreshold > 100 {
		return fmt.Errorf("vendor threshold must be between 0 and 100")
	}
	if _, err := reconciler.ParseReceiptOrder(receiptOrder); err != nil {
		return err
	}

	if imageDir != "" {
		if err := validateExtractionFlags(); err != nil {
			return err
		}
	}

	// Validate output file directories exist if specified
	for _, path := range []string{outputFile, unassignedFile} {
		if err := validateOutputDir(path); err != nil {
			return err
		}
	}

	return nil
}

func readExtractionFlags() {
	concurrency = viper.GetInt("concurrency")
	minPeriod = viper.GetDuration("min-period")
	callTimeout = viper.GetDuration("call-timeout")
	extractorName = viper.GetString("extractor")
	binarize = viper.GetBool("binarize")
}

func validateExtractionFlags() error {
	if concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1")
	}
	if minPeriod < 0 {
		return fmt.Errorf("min period cannot be negative")
	}
	if callTimeout < 0 {
		return fmt.Errorf("call timeout cannot be negative")
	}
	return nil
}

func validateOutputDir(path string) error {
	if path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			return fmt.Errorf("output directory does not exist: %s", dir)
		}
	}
	return nil
}

// validatePathExists accepts a readable file, or a directory when allowDir
// is set
func validatePathExists(path, description string, allowDir bool) error {
	if path == "" {
		return fmt.Errorf("%s path cannot be empty", description)
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return fmt.Errorf("%s does not exist: %s", description, path)
	}
	if err != nil {
		return fmt.Errorf("error accessing %s: %w", description, err)
	}

	if info.IsDir() {
		if allowDir {
			return nil
		}
		return fmt.Errorf("%s is a directory, expected a file: %s", description, path)
	}

	// Check if file is readable
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%s is not readable: %w", description, err)
	}
	file.Close()

	return nil
}

func validateFileExists(filePath, description string) error {
	return validatePathExists(filePath, description, false)
}

func validateDirExists(dir, description string) error {
	if dir == "" {
		return fmt.Errorf("%s path cannot be empty", description)
	}

	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return fmt.Errorf("%s does not exist: %s", description, dir)
	}
	if err != nil {
		return fmt.Errorf("error accessing %s: %w", description, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory: %s", description, dir)
	}
	return nil
}

// loadBackends reads the connection settings, which only come from the
// config file or the environment
func loadBackends() config.Backends {
	return config.Backends{
		GeminiAPIKey:         viper.GetString("gemini_api_key"),
		GeminiModel:          viper.GetString("gemini_model"),
		GeminiEmbeddingModel: viper.GetString("gemini_embedding_model"),
		OllamaURL:            viper.GetString("ollama_url"),
		OllamaVisionModel:    viper.GetString("ollama_vision_model"),
		OllamaEmbeddingModel: viper.GetString("ollama_embedding_model"),
	}
}

// buildPipeline creates the extraction backend and the paced pipeline
// around it. The caller closes the extractor.
func buildPipeline(ctx context.Context, backends config.Backends) (*extraction.Pipeline, extraction.Extractor, error) {
	backendConfig, err := config.CreateExtractorConfig(extractorName, backends, binarize)
	if err != nil {
		return nil, nil, errors.ConfigurationError(errors.CodeInvalidConfig, "extractor", extractorName, err).
			WithSuggestion("Set RECONCILER_GEMINI_API_KEY or use --extractor ollama")
	}

	pipelineConfig, err := config.CreatePipelineConfig(concurrency, minPeriod, callTimeout)
	if err != nil {
		return nil, nil, errors.ConfigurationError(errors.CodeInvalidConfig, "pipeline", concurrency, err)
	}

	extractor, err := newExtractor(ctx, backendConfig)
	if err != nil {
		return nil, nil, errors.WrapIfNeeded(err, errors.CategoryNetwork, errors.CodeConnectionFailed, "failed to create extractor")
	}

	pipeline, err := extraction.NewPipeline(extractor, pipelineConfig)
	if err != nil {
		extractor.Close()
		return nil, nil, err
	}
	return pipeline, extractor, nil
}

// commandContext returns the command's context, cancelled on interrupt
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt)
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx, stop := commandContext(cmd)
	defer stop()

	stderr := cmd.ErrOrStderr()
	if viper.GetBool("verbose") {
		fmt.Fprintf(stderr, "Starting reconciliation...\n")
		fmt.Fprintf(stderr, "Ledger: %s (%s)\n", ledgerFile, ledgerProfile)
		if imageDir != "" {
			fmt.Fprintf(stderr, "Images: %s (extractor %s)\n", imageDir, extractorName)
		} else {
			fmt.Fprintf(stderr, "Receipts: %s\n", receiptsFile)
		}
		fmt.Fprintf(stderr, "Output format: %s\n", outputFormat)
		if outputFile != "" {
			fmt.Fprintf(stderr, "Output file: %s\n", outputFile)
		}
	}

	// Create configurations
	ledgerConfig, err := config.CreateLedgerConfig(ledgerProfile)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "ledger-profile", ledgerProfile, err)
	}

	matchingConfig, err := config.CreateMatchingConfig(dateTolerance, vendorThreshold)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "matching", vendorThreshold, err)
	}

	reconcilerConfig, err := config.CreateReconcilerConfig(receiptOrder)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "order", receiptOrder, err)
	}

	reportConfig, err := config.CreateReportConfig(outputFormat, !noColor)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "output-format", outputFormat, err)
	}

	backends := loadBackends()

	similarityConfig, err := config.CreateSimilarityConfig(similarityName, embedderName, backends)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "similarity", similarityName, err)
	}

	scorer, err := similarity.New(ctx, similarityConfig)
	if err != nil {
		return errors.WrapIfNeeded(err, errors.CategoryNetwork, errors.CodeConnectionFailed, "failed to create similarity scorer")
	}
	if closer, ok := scorer.(io.Closer); ok {
		defer closer.Close()
	}

	engine, err := matcher.NewEngine(matchingConfig, scorer)
	if err != nil {
		return err
	}

	var pipeline *extraction.Pipeline
	if imageDir != "" {
		var extractor extraction.Extractor
		pipeline, extractor, err = buildPipeline(ctx, backends)
		if err != nil {
			return err
		}
		defer extractor.Close()
	}

	// Create reconciliation service
	service, err := reconciler.NewReconciliationService(ledgerConfig, pipeline, engine, reconcilerConfig)
	if err != nil {
		return err
	}

	if showProgress {
		service.AddProgressCallback(func(progress reconciler.ReconciliationProgress) {
			fmt.Fprintf(stderr, "\r[%d/%d] %-20s (%.1f%% complete)",
				progress.CompletedSteps, progress.TotalSteps,
				progress.CurrentStep, progress.PercentComplete)
		})
	}

	request := &reconciler.ReconciliationRequest{
		LedgerFile:   ledgerFile,
		ImageDir:     imageDir,
		ReceiptsFile: receiptsFile,
	}

	result, err := service.Process(ctx, request)
	if showProgress {
		fmt.Fprintf(stderr, "\n") // New line after progress
	}
	if err != nil {
		return err
	}

	// Generate report
	reportGenerator, err := reporter.NewSafeReportGenerator(reportConfig, nil)
	if err != nil {
		return err
	}

	if outputFile != "" {
		err = reportGenerator.WriteReportFile(result, outputFile)
	} else {
		err = reportGenerator.GenerateReportSafely(result, cmd.OutOrStdout())
	}
	if err != nil {
		return err
	}

	if unassignedFile != "" {
		if err := reportGenerator.WriteUnassignedFile(result, unassignedFile); err != nil {
			return err
		}
	}

	// Show completion message
	if viper.GetBool("verbose") {
		fmt.Fprintf(stderr, "\nReconciliation completed successfully.\n")
		fmt.Fprintf(stderr, "Matched %d receipts against %d ledger entries.\n",
			result.Summary.TotalReceipts, result.Summary.TotalLedgerEntries)
		fmt.Fprintf(stderr, "Assigned %d, unassigned %d, dropped before matching %d.\n",
			result.Summary.Assigned, result.Summary.Unassigned, len(result.DroppedReceipts))
		if stats := result.ProcessingStats; stats != nil {
			fmt.Fprintf(stderr, "Processing time: %v\n", stats.TotalProcessingTime)
			printDroppedRows(stderr, "Ledger", stats.LedgerRowErrors, stats.LedgerDropped)
			printDroppedRows(stderr, "Receipt CSV", stats.ReceiptRowErrors, stats.ReceiptRowsSkipped)
		}
	}

	return nil
}

// printDroppedRows lists the CSV rows a loader could not use
func printDroppedRows(w io.Writer, source string, rows []*errors.RowError, total int) {
	if total == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s: %s\n", source, errors.FormatRowErrorsForUser(rows, total))
}
