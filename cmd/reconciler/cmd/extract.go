package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"receipt-reconciliation-service/internal/extraction"
	"receipt-reconciliation-service/internal/parsers"
	"receipt-reconciliation-service/pkg/errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flags for the extract command
var (
	extractImageDir   string
	extractOutputFile string
)

// extractCmd runs the extraction pipeline alone
var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract receipt images into a receipt CSV",
	Long: `Extract reads every image in a directory with the extraction service and
writes one CSV row per image. Images the service could not read keep only
their file name, so 'reconciler reconcile --receipts' reports them as dropped.

Supported images: jpg, jpeg, png, gif, heic, heif and pdf (first page).

Examples:
  reconciler extract --images receipts/
  reconciler extract --images receipts/ --output-file out/receipts.csv --extractor ollama --binarize`,

	PreRunE: validateExtractFlags,
	RunE:    runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)

	extractCmd.Flags().StringVarP(&extractImageDir, "images", "i", "", "directory of receipt images (required)")
	extractCmd.Flags().StringVarP(&extractOutputFile, "output-file", "o", "receipts.csv", "receipt CSV to write")

	addExtractionFlags(extractCmd)
}

func validateExtractFlags(cmd *cobra.Command, args []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	extractImageDir = viper.GetString("images")
	extractOutputFile = viper.GetString("output-file")
	readExtractionFlags()

	if extractImageDir == "" {
		return fmt.Errorf("images is required")
	}
	if err := validateDirExists(extractImageDir, "image directory"); err != nil {
		return err
	}
	if extractOutputFile == "" {
		return fmt.Errorf("output-file cannot be empty")
	}
	if err := validateOutputDir(extractOutputFile); err != nil {
		return err
	}
	return validateExtractionFlags()
}

func runExtract(cmd *cobra.Command, args []string) error {
	ctx, stop := commandContext(cmd)
	defer stop()

	images, err := extraction.ListImages(extractImageDir)
	if err != nil {
		return err
	}

	pipeline, extractor, err := buildPipeline(ctx, loadBackends())
	if err != nil {
		return err
	}
	defer extractor.Close()

	if viper.GetBool("verbose") {
		cfg := pipeline.Config()
		fmt.Fprintf(cmd.ErrOrStderr(), "Extracting %d images with %s (%d in flight, one start per %v)\n",
			len(images), extractorName, cfg.ConcurrencyLimit, cfg.SlotHold())
	}

	batch := pipeline.ExtractAll(ctx, images)

	if err := writeReceiptRows(extractOutputFile, batch.ReceiptRows()); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Extracted %d of %d receipts in %v, written to %s\n",
		batch.Succeeded(), len(images), batch.Elapsed.Round(time.Millisecond), extractOutputFile)
	for _, failed := range batch.Failed() {
		fmt.Fprintf(cmd.ErrOrStderr(), "  failed: %s: %v\n", filepath.Base(failed.Source), failed.Err)
	}
	return nil
}

func writeReceiptRows(path string, rows []parsers.ReceiptRow) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, path, err)
	}

	writeErr := parsers.WriteReceiptsCSV(file, rows)
	closeErr := file.Close()
	if writeErr != nil {
		return writeErr
	}
	if closeErr != nil {
		return errors.FileError(errors.CodeFilePermission, path, closeErr)
	}
	return nil
}
