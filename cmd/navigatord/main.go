// Command navigatord runs the Maryland tax navigator backend: the
// e-file submission queue, gateway workers, SMS webhook and admin API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "navigatord",
	Short: "Maryland tax navigator backend",
	Long: `navigatord runs the benefits navigator e-file backend.

It polls the submission queue, transmits prepared tax returns to the
IRS MeF and Maryland iFile gateways with retry and dead-lettering,
fetches acknowledgments, answers taxpayer SMS keywords, and serves the
admin JSON API.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to navigator.toml (default: standard locations)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
