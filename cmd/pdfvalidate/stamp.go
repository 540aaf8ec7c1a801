package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vaultsign/pdfvalidate/tsa"
)

var stampFlagOutput string

// stampCmd adds an RFC 3161 timestamp token to a detached CMS signature.
// It works on raw DER, so it can be used on a signature before it is
// embedded into a document.
var stampCmd = &cobra.Command{
	Use:   "stamp <signature.der>",
	Short: "Add an RFC 3161 timestamp to a CMS signature",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil || cfg.TSA.URL == "" {
			return fmt.Errorf("no timestamp authority configured")
		}

		der, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}

		m := tsa.NewManager()
		m.Logger = logger

		stamped, err := m.AddTimestampToSignature(cmd.Context(), der, cfg.FailoverConfig())
		if err != nil {
			return err
		}

		out := stampFlagOutput
		if out == "" {
			out = args[0]
		}
		return os.WriteFile(out, stamped, 0o644)
	},
}

func init() {
	stampCmd.Flags().StringVar(&stampFlagOutput, "output", "", "write the stamped signature here (default: overwrite input)")
	rootCmd.AddCommand(stampCmd)
}
