package certs

import (
	"bytes"
	"crypto/x509"
	"fmt"
	"time"
)

// ValidateCertificateChain validates an ordered chain (leaf first) against
// the trusted roots. Every hop is checked for issuer/subject agreement,
// for a verifiable signature by the parent, and for a validity window
// containing the validation time. The terminal certificate must either be
// one of the trusted roots or be directly signed by one.
//
// An empty chain or an empty trusted root set is a usage error and is
// returned as an error without a result.
func (m *Manager) ValidateCertificateChain(chain []*x509.Certificate, trustedRoots []*x509.Certificate) (*ChainResult, error) {
	if len(chain) == 0 {
		return nil, &UsageError{Msg: "certificate chain is empty"}
	}
	if len(trustedRoots) == 0 {
		return nil, &UsageError{Msg: "trusted root set is empty"}
	}

	res := &ChainResult{}
	now := m.now()

	for _, cert := range chain {
		res.Chain = append(res.Chain, m.CertificateInfo(cert))
	}

	// Validity window of every certificate in the path.
	for i, cert := range chain {
		if err := checkValidityWindow(cert, now); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("chain[%d]: %s", i, err.Error()))
		}
	}

	// Hop checks, leaf upward.
	for i := 0; i < len(chain)-1; i++ {
		child, parent := chain[i], chain[i+1]

		if !bytes.Equal(child.RawIssuer, parent.RawSubject) {
			res.Errors = append(res.Errors, (&CertificateError{
				Subject: child.Subject.String(),
				Rule:    fmt.Sprintf("issuer does not match subject of %q", parent.Subject.String()),
			}).Error())
			continue
		}
		if err := child.CheckSignatureFrom(parent); err != nil {
			res.Errors = append(res.Errors, (&CertificateError{
				Subject: child.Subject.String(),
				Rule:    fmt.Sprintf("signature not verifiable by %q", parent.Subject.String()),
				Err:     err,
			}).Error())
		}
	}

	// The path must terminate at the trusted root set.
	last := chain[len(chain)-1]
	if !m.anchoredToRoots(last, trustedRoots) {
		res.Errors = append(res.Errors, (&CertificateError{
			Subject: last.Subject.String(),
			Rule:    "does not terminate at a trusted root",
		}).Error())
	}

	// Revocation, hop-aware so each certificate is checked against its
	// actual issuer where known.
	for i, cert := range chain {
		var issuer *x509.Certificate
		if i+1 < len(chain) {
			issuer = chain[i+1]
		}
		m.checkRevocation(cert, issuer, &res.Errors, &res.Warnings)
	}

	res.IsValid = len(res.Errors) == 0
	return res, nil
}

// anchoredToRoots reports whether cert is a trusted root itself or is
// directly signed by one.
func (m *Manager) anchoredToRoots(cert *x509.Certificate, trustedRoots []*x509.Certificate) bool {
	fp := Fingerprint(cert)
	for _, root := range trustedRoots {
		if fp == Fingerprint(root) {
			return true
		}
	}
	for _, root := range trustedRoots {
		if bytes.Equal(cert.RawIssuer, root.RawSubject) && cert.CheckSignatureFrom(root) == nil {
			return true
		}
	}
	return false
}

func checkValidityWindow(cert *x509.Certificate, now time.Time) error {
	if now.Before(cert.NotBefore) {
		return &CertificateError{
			Subject: cert.Subject.String(),
			Rule:    fmt.Sprintf("not yet valid, becomes valid at %s", cert.NotBefore.UTC().Format(time.RFC3339)),
		}
	}
	if now.After(cert.NotAfter) {
		return &CertificateError{
			Subject: cert.Subject.String(),
			Rule:    fmt.Sprintf("expired at %s", cert.NotAfter.UTC().Format(time.RFC3339)),
		}
	}
	return nil
}
