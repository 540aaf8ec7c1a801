package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vaultsign/pdfvalidate/config"
)

var (
	cfgFile string
	verbose bool

	cfg    *config.Config
	logger = zap.NewNop()

	rootCmd = &cobra.Command{
		Use:   "pdfvalidate",
		Short: "Validate digital signatures in PDF documents",
		Long: "pdfvalidate checks the structure of a PDF document, validates every\n" +
			"embedded CMS signature against the bytes it covers, verifies the signing\n" +
			"certificate chains against a set of trusted roots and checks RFC 3161\n" +
			"timestamps.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if verbose {
				logger, err = zap.NewDevelopment()
				if err != nil {
					return fmt.Errorf("init logger: %w", err)
				}
			}

			// The config file is optional; without one the tool runs with
			// no trust anchors and reports chains as unvalidated.
			path := cfgFile
			if path == "" {
				path = config.DefaultLocation
				if _, statErr := os.Stat(path); statErr != nil {
					return nil
				}
			}
			cfg, err = config.Load(path)
			return err
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./pdfvalidate.conf)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log progress to stderr")
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
