package cmd

import (
	"fmt"
	"os"
	"strings"

	"receipt-reconciliation-service/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile   string
	verbose   bool
	logFormat string
	version   = "dev"
	commit    = "unknown"
	date      = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "reconciler",
	Short: "Receipt reconciliation tool",
	Long: `Reconciler matches scanned purchase receipts against the transactions of
a bank ledger. Receipts are read by an extraction service (Gemini or a local
Ollama model), then assigned to ledger entries by amount, date and vendor.

Examples:
  reconciler reconcile --ledger ledger.csv --images receipts/
  reconciler extract --images receipts/ --output-file receipts.csv
  reconciler reconcile --ledger ledger.csv --receipts receipts.csv --output-format xlsx --output-file ledger.xlsx
  reconciler version`,
	Version:           getVersionString(),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setupLogging,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional, yaml/toml/json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text, json")

	// Bind flags to viper
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("log-format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig reads in config file and ENV variables.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)

		// If a config file is specified, read it in.
		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading config file: %s\n", err)
			os.Exit(4)
		}

		if viper.GetBool("verbose") {
			fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
		}
	}

	bindEnvironment()
}

// bindEnvironment maps RECONCILER_* variables onto config keys;
// RECONCILER_DATE_TOLERANCE sets date-tolerance
func bindEnvironment() {
	viper.SetEnvPrefix("RECONCILER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	// The API key is also read from the variable the Gemini tooling uses
	viper.BindEnv("gemini_api_key", "RECONCILER_GEMINI_API_KEY", "GEMINI_API_KEY")
}

// setupLogging installs the global logger before any command runs
func setupLogging(cmd *cobra.Command, args []string) error {
	config := logger.DefaultConfig()
	if viper.GetBool("verbose") {
		config.Level = logger.DebugLevel
	}

	switch strings.ToLower(viper.GetString("log-format")) {
	case "", "text":
		config.Format = logger.TextFormat
	case "json":
		config.Format = logger.JSONFormat
	default:
		return fmt.Errorf("invalid log format '%s'. Valid formats: text, json", viper.GetString("log-format"))
	}

	log, err := logger.NewLogger(config)
	if err != nil {
		return err
	}
	logger.SetGlobalLogger(log)
	return nil
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
