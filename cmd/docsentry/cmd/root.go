package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "docsentry",
	Short: "Anomaly detection for financial documents in Paperless-ngx",
	Long: `docsentry watches a Paperless-ngx archive, runs anomaly detection over
the OCR text of financial documents, and writes the verdicts back to the
archive as anomaly:* tags and custom fields. Detection state is kept in
PostgreSQL and served over a dashboard API.

Run "docsentry serve" for the daemon, or one of the pass commands to run
a single reconciliation pass and exit.`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
