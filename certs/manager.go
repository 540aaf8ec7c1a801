// Package certs loads certificates and validates certificate chains
// against a caller-supplied trusted root set.
package certs

import (
	"crypto"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"time"

	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

// RevocationChecker is the pluggable revocation extension point. When no
// checker is configured, validation results carry a warning that
// revocation status was not checked.
type RevocationChecker interface {
	// CheckRevocation reports whether cert is revoked. issuer may be nil
	// when the issuing certificate is not known to the caller.
	CheckRevocation(cert, issuer *x509.Certificate) (revoked bool, err error)
}

// Manager loads certificates and validates chains. A Manager holds no
// per-validation state and is safe for concurrent use.
type Manager struct {
	// AtTime overrides the validation time. Zero means time.Now at the
	// moment of validation.
	AtTime time.Time

	// Revocation is the optional revocation checker.
	Revocation RevocationChecker
}

// NewManager returns a Manager with default settings.
func NewManager() *Manager {
	return &Manager{}
}

// Credential is the content of a PKCS#12 container.
type Credential struct {
	Certificate    *x509.Certificate
	PrivateKey     crypto.PrivateKey
	CACertificates []*x509.Certificate
}

// Info is the parsed identity of a single certificate. Fingerprint is the
// SHA-256 digest of the DER encoding and serves as a dedup key.
type Info struct {
	Subject      string    `json:"subject"`
	Issuer       string    `json:"issuer"`
	SerialNumber string    `json:"serial_number"`
	NotBefore    time.Time `json:"not_before"`
	NotAfter     time.Time `json:"not_after"`
	Fingerprint  string    `json:"fingerprint"`
	IsCA         bool      `json:"is_ca"`
	SelfSigned   bool      `json:"self_signed"`
}

// Result reports the validation outcome for one certificate.
type Result struct {
	IsValid  bool     `json:"is_valid"`
	Info     Info     `json:"info"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// ChainResult reports the validation outcome for a full chain.
type ChainResult struct {
	IsValid  bool     `json:"is_valid"`
	Chain    []Info   `json:"chain"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// LoadFromPEM parses all CERTIFICATE blocks in data. Non-certificate
// blocks are ignored; at least one certificate must be present.
func (m *Manager) LoadFromPEM(data []byte) ([]*x509.Certificate, error) {
	var out []*x509.Certificate
	for len(data) > 0 {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse certificate: %w", err)
		}
		out = append(out, cert)
	}
	if len(out) == 0 {
		return nil, &UsageError{Msg: "no certificates found in PEM data"}
	}
	return out, nil
}

// LoadFromPKCS12 decodes a PKCS#12 container into a signing credential.
func (m *Manager) LoadFromPKCS12(data []byte, password string) (*Credential, error) {
	key, cert, cas, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		return nil, fmt.Errorf("decode PKCS#12: %w", err)
	}
	return &Credential{
		Certificate:    cert,
		PrivateKey:     key,
		CACertificates: cas,
	}, nil
}

// CertificateInfo extracts the identity fields of cert.
func (m *Manager) CertificateInfo(cert *x509.Certificate) Info {
	return Info{
		Subject:      cert.Subject.String(),
		Issuer:       cert.Issuer.String(),
		SerialNumber: cert.SerialNumber.Text(16),
		NotBefore:    cert.NotBefore,
		NotAfter:     cert.NotAfter,
		Fingerprint:  Fingerprint(cert),
		IsCA:         cert.IsCA,
		SelfSigned:   isSelfSigned(cert),
	}
}

// Fingerprint returns the hex SHA-256 digest of the certificate's DER
// encoding.
func Fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(sum[:])
}

func isSelfSigned(cert *x509.Certificate) bool {
	if !bytesEqual(cert.RawIssuer, cert.RawSubject) {
		return false
	}
	return cert.CheckSignatureFrom(cert) == nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (m *Manager) now() time.Time {
	if !m.AtTime.IsZero() {
		return m.AtTime
	}
	return time.Now()
}

// ValidateCertificate validates a single certificate against the trusted
// roots, using intermediates to complete the path. An empty trusted root
// set is a usage error.
func (m *Manager) ValidateCertificate(cert *x509.Certificate, trustedRoots []*x509.Certificate, intermediates ...*x509.Certificate) (*Result, error) {
	if cert == nil {
		return nil, &UsageError{Msg: "certificate is nil"}
	}
	if len(trustedRoots) == 0 {
		return nil, &UsageError{Msg: "trusted root set is empty"}
	}

	res := &Result{Info: m.CertificateInfo(cert)}
	now := m.now()

	if now.Before(cert.NotBefore) {
		res.Errors = append(res.Errors, (&CertificateError{
			Subject: res.Info.Subject,
			Rule:    fmt.Sprintf("not yet valid, becomes valid at %s", cert.NotBefore.UTC().Format(time.RFC3339)),
		}).Error())
	}
	if now.After(cert.NotAfter) {
		res.Errors = append(res.Errors, (&CertificateError{
			Subject: res.Info.Subject,
			Rule:    fmt.Sprintf("expired at %s", cert.NotAfter.UTC().Format(time.RFC3339)),
		}).Error())
	}

	roots := x509.NewCertPool()
	for _, r := range trustedRoots {
		roots.AddCert(r)
	}
	inter := x509.NewCertPool()
	for _, c := range intermediates {
		inter.AddCert(c)
	}

	_, err := cert.Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: inter,
		CurrentTime:   now,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		res.Errors = append(res.Errors, (&CertificateError{
			Subject: res.Info.Subject,
			Rule:    "does not chain to a trusted root",
			Err:     err,
		}).Error())
	}

	m.checkRevocation(cert, nil, &res.Errors, &res.Warnings)

	res.IsValid = len(res.Errors) == 0
	return res, nil
}

func (m *Manager) checkRevocation(cert, issuer *x509.Certificate, errors, warnings *[]string) {
	if m.Revocation == nil {
		*warnings = append(*warnings, fmt.Sprintf("certificate %q: revocation status not checked", cert.Subject.String()))
		return
	}
	revoked, err := m.Revocation.CheckRevocation(cert, issuer)
	if err != nil {
		*warnings = append(*warnings, fmt.Sprintf("certificate %q: revocation check failed: %v", cert.Subject.String(), err))
		return
	}
	if revoked {
		*errors = append(*errors, (&CertificateError{
			Subject: cert.Subject.String(),
			Rule:    "revoked",
		}).Error())
	}
}
