package main

import (
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vaultsign/pdfvalidate"
	"github.com/vaultsign/pdfvalidate/certs"
)

var (
	validateFlagRoots  string
	validateFlagPretty bool
)

var validateCmd = &cobra.Command{
	Use:   "validate <input.pdf>",
	Short: "Validate the signatures of a PDF file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}

		engine, err := buildEngine()
		if err != nil {
			return err
		}

		result := engine.ValidateDocument(cmd.Context(), raw)

		var out []byte
		if validateFlagPretty {
			out, err = json.MarshalIndent(result, "", "  ")
		} else {
			out, err = json.Marshal(result)
		}
		if err != nil {
			return err
		}
		fmt.Println(string(out))

		if !result.IsValid {
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateFlagRoots, "roots", "", "PEM bundle with trusted root certificates (overrides config)")
	validateCmd.Flags().BoolVar(&validateFlagPretty, "pretty", false, "indent the JSON report")
}

func buildEngine() (*pdfvalidate.Engine, error) {
	roots, err := trustedRoots()
	if err != nil {
		return nil, err
	}

	engine := pdfvalidate.NewEngine(roots...)
	engine.SetLogger(logger)
	return engine, nil
}

func trustedRoots() ([]*x509.Certificate, error) {
	if validateFlagRoots != "" {
		data, err := os.ReadFile(validateFlagRoots)
		if err != nil {
			return nil, fmt.Errorf("read trusted roots: %w", err)
		}
		return certs.NewManager().LoadFromPEM(data)
	}
	if cfg != nil && cfg.TrustedRoots != "" {
		return cfg.LoadTrustedRoots()
	}
	return nil, nil
}
