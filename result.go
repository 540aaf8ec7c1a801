package pdfvalidate

import (
	"time"

	"github.com/vaultsign/pdfvalidate/certs"
	"github.com/vaultsign/pdfvalidate/signatures"
	"github.com/vaultsign/pdfvalidate/structure"
	"github.com/vaultsign/pdfvalidate/tsa"
)

// PDFValidationResult aggregates every component's outcome for one
// document. Errors and warnings are forwarded verbatim from the
// components, prefixed with enough context to be actionable.
type PDFValidationResult struct {
	IsValid       bool      `json:"is_valid"`
	HasSignatures bool      `json:"has_signatures"`
	ValidatedAt   time.Time `json:"validated_at"`
	PageCount     int       `json:"page_count,omitempty"`

	Structure             *structure.Result              `json:"structure"`
	SignatureValidation   *SignatureValidationSummary    `json:"signature_validation,omitempty"`
	CertificateValidation *CertificateValidationSummary  `json:"certificate_validation,omitempty"`
	TimestampValidation   *TimestampValidationSummary    `json:"timestamp_validation,omitempty"`

	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// SignatureValidationSummary collects the per-field signature results.
type SignatureValidationSummary struct {
	AllSignaturesValid bool                 `json:"all_signatures_valid"`
	Signatures         []*signatures.Result `json:"signatures"`
}

// CertificateValidationSummary collects one result per distinct
// certificate seen across all signatures, deduplicated by fingerprint.
type CertificateValidationSummary struct {
	AllCertificatesValid bool            `json:"all_certificates_valid"`
	Certificates         []*certs.Result `json:"certificates"`
}

// TimestampValidationSummary collects the timestamp verification results
// of every signature carrying one.
type TimestampValidationSummary struct {
	AllTimestampsValid bool                      `json:"all_timestamps_valid"`
	Timestamps         []*tsa.VerificationResult `json:"timestamps"`
}
