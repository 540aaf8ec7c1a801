package pdfvalidate

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vaultsign/pdfvalidate/certs"
	"github.com/vaultsign/pdfvalidate/signatures"
)

// ValidateDocument runs the comprehensive validation pass over raw PDF
// bytes: structure first, then signature extraction and validation, then
// per-certificate validation deduplicated by fingerprint. Only a fatal
// structural error (unreadable header) short-circuits signature work. A
// document with zero signatures is not an error; its validity is
// governed by structure alone.
func (e *Engine) ValidateDocument(ctx context.Context, raw []byte) *PDFValidationResult {
	result := &PDFValidationResult{ValidatedAt: time.Now().UTC()}

	result.Structure = e.Structure.Validate(raw)
	for _, msg := range result.Structure.Errors {
		result.Errors = append(result.Errors, "structure: "+msg)
	}
	for _, msg := range result.Structure.Warnings {
		result.Warnings = append(result.Warnings, "structure: "+msg)
	}

	if result.Structure.Fatal() {
		e.Logger.Warn("structural validation failed fatally; skipping signature extraction",
			zap.Error(result.Structure.Err()))
		return result
	}

	doc, err := signatures.Open(raw)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("open document: %v", err))
		return result
	}
	result.PageCount = doc.PageCount()

	sigs, err := e.Signatures.ExtractSignatures(doc)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("extract signatures: %v", err))
		return result
	}
	result.HasSignatures = len(sigs) > 0
	if len(sigs) == 0 {
		result.IsValid = len(result.Errors) == 0
		return result
	}

	sigSummary := &SignatureValidationSummary{AllSignaturesValid: true}
	tsSummary := &TimestampValidationSummary{AllTimestampsValid: true}
	for _, es := range sigs {
		if ctx.Err() != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("validation cancelled: %v", ctx.Err()))
			return result
		}

		sr := e.Signatures.ValidateSignature(ctx, es)
		sigSummary.Signatures = append(sigSummary.Signatures, sr)
		if !sr.IsValid {
			sigSummary.AllSignaturesValid = false
		}
		for _, msg := range sr.Errors {
			result.Errors = append(result.Errors, (&signatures.SignatureValidationError{
				Field: es.FieldName,
				Msg:   msg,
			}).Error())
		}
		for _, msg := range sr.Warnings {
			result.Warnings = append(result.Warnings, fmt.Sprintf("signature %q: %s", es.FieldName, msg))
		}

		if sr.Timestamp != nil {
			tsSummary.Timestamps = append(tsSummary.Timestamps, sr.Timestamp)
			if !sr.Timestamp.IsValid {
				tsSummary.AllTimestampsValid = false
			}
		}
	}
	result.SignatureValidation = sigSummary
	if len(tsSummary.Timestamps) > 0 {
		result.TimestampValidation = tsSummary
	}

	e.validateCertificates(sigSummary, result)

	result.IsValid = len(result.Errors) == 0
	return result
}

// validateCertificates validates every distinct certificate seen across
// all signatures exactly once, keyed by fingerprint. Skipped entirely
// when no trusted roots are configured; the per-signature warnings
// already cover that case.
func (e *Engine) validateCertificates(sigs *SignatureValidationSummary, result *PDFValidationResult) {
	if len(e.TrustedRoots) == 0 {
		return
	}

	certSummary := &CertificateValidationSummary{AllCertificatesValid: true}
	seen := make(map[string]bool)
	for _, sr := range sigs.Signatures {
		embedded := sr.Certificates()
		for _, cert := range embedded {
			fp := certs.Fingerprint(cert)
			if seen[fp] {
				continue
			}
			seen[fp] = true

			cr, err := e.Certs.ValidateCertificate(cert, e.TrustedRoots, embedded...)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("certificate %q: %v", cert.Subject.String(), err))
				certSummary.AllCertificatesValid = false
				continue
			}
			certSummary.Certificates = append(certSummary.Certificates, cr)
			if !cr.IsValid {
				certSummary.AllCertificatesValid = false
			}
			result.Errors = append(result.Errors, cr.Errors...)
			result.Warnings = append(result.Warnings, cr.Warnings...)
		}
	}
	if len(certSummary.Certificates) > 0 {
		result.CertificateValidation = certSummary
	}
}
