package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "hisextract",
	Short: "Bulk patient record extractor for the hospital portal",
	Long: `hisextract resolves patient folder numbers against the hospital portal,
walks each patient's consultation and admission history, and downloads the
per-visit PDF reports into one directory per patient. Progress is tracked
durably so interrupted runs resume where they left off.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// Execute runs the CLI. Per-patient failures do not produce a nonzero exit;
// only run-level failures do.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
