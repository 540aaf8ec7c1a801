package signatures

import (
	"bytes"
	"context"
	"crypto"
	_ "crypto/sha1"
	"crypto/x509"
	"encoding/asn1"
	"fmt"

	"github.com/digitorus/pkcs7"
	"github.com/digitorus/timestamp"
	"go.uber.org/zap"

	"github.com/vaultsign/pdfvalidate/certs"
	"github.com/vaultsign/pdfvalidate/imprint"
	"github.com/vaultsign/pdfvalidate/revocation"
	"github.com/vaultsign/pdfvalidate/tsa"
)

var (
	oidAttributeMessageDigest = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 4}
	oidDigestAlgorithmSHA1    = asn1.ObjectIdentifier{1, 3, 14, 3, 2, 26}
)

// Engine extracts and validates signatures. An Engine holds no
// per-validation state and is safe for concurrent use.
type Engine struct {
	Logger       *zap.Logger
	Certs        *certs.Manager
	TSA          *tsa.Manager
	TrustedRoots []*x509.Certificate
}

// NewEngine returns an Engine validating against the given trusted roots.
// Without roots, chain validation is skipped with a warning.
func NewEngine(trustedRoots ...*x509.Certificate) *Engine {
	return &Engine{
		Logger:       zap.NewNop(),
		Certs:        certs.NewManager(),
		TSA:          tsa.NewManager(),
		TrustedRoots: trustedRoots,
	}
}

// Result reports the validation outcome for one signature field. Error
// strings are not prefixed with the field name; callers aggregating
// results across fields add that context.
type Result struct {
	FieldName      string                  `json:"field_name"`
	SubFilter      string                  `json:"sub_filter,omitempty"`
	SignerName     string                  `json:"signer_name,omitempty"`
	IsValid        bool                    `json:"is_valid"`
	DigestValid    bool                    `json:"digest_valid"`
	SignatureValid bool                    `json:"signature_valid"`
	HasTimestamp   bool                    `json:"has_timestamp"`
	Chain          *certs.ChainResult      `json:"chain,omitempty"`
	Timestamp      *tsa.VerificationResult `json:"timestamp,omitempty"`
	Errors         []string                `json:"errors,omitempty"`
	Warnings       []string                `json:"warnings,omitempty"`

	certificates []*x509.Certificate
}

// Certificates returns the certificates embedded in the signature, for
// callers that deduplicate certificate validation across signatures.
func (r *Result) Certificates() []*x509.Certificate {
	return r.certificates
}

// ValidateSignature runs the cryptographic checks for one extracted
// signature: covered-range digest, CMS signature verification, chain
// validation and, when present, timestamp verification. Each failing
// check contributes a specific error; the signature is valid only when
// every check passes. A cancelled context stops the work before any
// check runs.
func (e *Engine) ValidateSignature(ctx context.Context, es *ExtractedSignature) *Result {
	res := &Result{
		FieldName:  es.FieldName,
		SubFilter:  es.SubFilter,
		SignerName: es.Name,
	}

	if err := ctx.Err(); err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("validation cancelled: %v", err))
		return res
	}

	if len(es.Raw) == 0 {
		res.Errors = append(res.Errors, "empty signature contents")
		return res
	}

	p7, err := pkcs7.Parse(es.Raw)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("malformed CMS envelope: %v", err))
		return res
	}
	res.certificates = p7.Certificates

	content, err := es.SignedContent()
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("cannot read covered bytes: %v", err))
		return res
	}

	if es.IsDocTimeStamp() {
		e.validateDocTimeStamp(es, p7, content, res)
	} else {
		e.validateDetached(es, p7, content, res)
	}

	e.validateChain(p7, res)

	res.IsValid = len(res.Errors) == 0
	return res
}

// validateDetached checks a standard detached CMS signature against the
// covered bytes.
func (e *Engine) validateDetached(es *ExtractedSignature, p7 *pkcs7.PKCS7, content []byte, res *Result) {
	if len(p7.Signers) == 0 {
		res.Errors = append(res.Errors, "no signer information in CMS envelope")
		return
	}
	signer := p7.Signers[0]

	h, err := digestHash(signer.DigestAlgorithm.Algorithm)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		return
	}

	var declared []byte
	if err := p7.UnmarshalSignedAttribute(oidAttributeMessageDigest, &declared); err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("missing message digest attribute: %v", err))
		return
	}

	hasher := h.New()
	hasher.Write(content)
	if !bytes.Equal(hasher.Sum(nil), declared) {
		res.Errors = append(res.Errors, "digest mismatch")
		return
	}
	res.DigestValid = true

	// The signature covers the signed-attribute DER, not the document
	// bytes. Verify needs the covered content for the digest link.
	p7.Content = content
	if err := p7.Verify(); err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("signature verification failed: %v", err))
		return
	}
	res.SignatureValid = true

	ts, err := e.TSA.ExtractTimestamp(es.Raw)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("timestamp: %v", err))
		return
	}
	if ts == nil {
		return
	}
	res.HasTimestamp = true

	vr := e.TSA.VerifyTimestamp(ts, signer.EncryptedDigest)
	res.Timestamp = vr
	for _, msg := range vr.Errors {
		res.Errors = append(res.Errors, "timestamp: "+msg)
	}
	for _, msg := range vr.Warnings {
		res.Warnings = append(res.Warnings, "timestamp: "+msg)
	}
}

// validateDocTimeStamp checks an ETSI.RFC3161 document timestamp, where
// the CMS content is the TSTInfo covering the document bytes directly.
func (e *Engine) validateDocTimeStamp(es *ExtractedSignature, p7 *pkcs7.PKCS7, content []byte, res *Result) {
	token, err := timestamp.Parse(es.Raw)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("malformed timestamp token: %v", err))
		return
	}
	res.HasTimestamp = true

	hasher := token.HashAlgorithm.New()
	hasher.Write(content)
	if !bytes.Equal(hasher.Sum(nil), token.HashedMessage) {
		res.Errors = append(res.Errors, "digest mismatch")
		return
	}
	res.DigestValid = true

	if err := p7.Verify(); err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("signature verification failed: %v", err))
		return
	}
	res.SignatureValid = true

	ts := &tsa.Timestamp{Token: token, Raw: es.Raw}
	if len(token.Certificates) > 0 {
		ts.Certificate = token.Certificates[0]
	}
	vr := e.TSA.VerifyTimestamp(ts, content)
	res.Timestamp = vr
	for _, msg := range vr.Errors {
		res.Errors = append(res.Errors, "timestamp: "+msg)
	}
	for _, msg := range vr.Warnings {
		res.Warnings = append(res.Warnings, "timestamp: "+msg)
	}
}

// validateChain orders the embedded certificates leaf-first and delegates
// to the certificate manager. Revocation material archived inside the
// signature is used when no checker is configured.
func (e *Engine) validateChain(p7 *pkcs7.PKCS7, res *Result) {
	if len(p7.Certificates) == 0 {
		res.Errors = append(res.Errors, "no certificates embedded in signature")
		return
	}
	if len(e.TrustedRoots) == 0 {
		res.Warnings = append(res.Warnings, "no trusted roots configured; certificate chain not validated")
		return
	}

	cm := *e.Certs
	if cm.Revocation == nil {
		var info revocation.InfoArchival
		if err := p7.UnmarshalSignedAttribute(revocation.OIDInfoArchival, &info); err == nil && !info.IsEmpty() {
			cm.Revocation = revocation.NewEmbeddedChecker(info)
		}
	}

	chain := orderChain(p7)
	cr, err := cm.ValidateCertificateChain(chain, e.TrustedRoots)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("certificate chain: %v", err))
		return
	}
	res.Chain = cr
	for _, msg := range cr.Errors {
		res.Errors = append(res.Errors, "certificate chain: "+msg)
	}
	for _, msg := range cr.Warnings {
		res.Warnings = append(res.Warnings, "certificate chain: "+msg)
	}
}

// orderChain returns the embedded certificates ordered leaf first, built
// by issuer/subject walking from the signer certificate.
func orderChain(p7 *pkcs7.PKCS7) []*x509.Certificate {
	leaf := leafCertificate(p7)
	if leaf == nil {
		return p7.Certificates
	}

	ordered := []*x509.Certificate{leaf}
	used := map[*x509.Certificate]bool{leaf: true}
	cur := leaf
	for !bytes.Equal(cur.RawIssuer, cur.RawSubject) {
		var parent *x509.Certificate
		for _, c := range p7.Certificates {
			if !used[c] && bytes.Equal(cur.RawIssuer, c.RawSubject) {
				parent = c
				break
			}
		}
		if parent == nil {
			break
		}
		ordered = append(ordered, parent)
		used[parent] = true
		cur = parent
	}
	return ordered
}

// leafCertificate matches the first signer's issuer and serial against
// the embedded certificates.
func leafCertificate(p7 *pkcs7.PKCS7) *x509.Certificate {
	if len(p7.Signers) > 0 {
		si := p7.Signers[0]
		for _, cert := range p7.Certificates {
			if cert.SerialNumber.Cmp(si.IssuerAndSerialNumber.SerialNumber) == 0 &&
				bytes.Equal(cert.RawIssuer, si.IssuerAndSerialNumber.IssuerName.FullBytes) {
				return cert
			}
		}
	}
	if len(p7.Certificates) > 0 {
		return p7.Certificates[0]
	}
	return nil
}

// digestHash maps a digest algorithm identifier to a crypto.Hash.
// SHA-1 is accepted for legacy signatures on top of the SHA-2 family.
func digestHash(oid asn1.ObjectIdentifier) (crypto.Hash, error) {
	if h, err := imprint.HashForOID(oid); err == nil {
		return h, nil
	}
	if oid.Equal(oidDigestAlgorithmSHA1) {
		return crypto.SHA1, nil
	}
	return 0, fmt.Errorf("unsupported digest algorithm %s", oid.String())
}
