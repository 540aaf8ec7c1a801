package certs

import (
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	pkcs12 "software.sslmate.com/src/go-pkcs12"

	"github.com/vaultsign/pdfvalidate/internal/testpki"
)

func pemEncode(t *testing.T, certs ...*x509.Certificate) []byte {
	t.Helper()
	var out []byte
	for _, c := range certs {
		out = append(out, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.Raw})...)
	}
	return out
}

func TestLoadFromPEM(t *testing.T) {
	pki := testpki.New(t)
	_, leaf := pki.IssueLeaf("pem-loader")

	m := NewManager()
	certs, err := m.LoadFromPEM(pemEncode(t, leaf, pki.RootCert))
	require.NoError(t, err)
	require.Len(t, certs, 2)
	assert.Equal(t, leaf.SerialNumber, certs[0].SerialNumber)
}

func TestLoadFromPEMNoCertificates(t *testing.T) {
	m := NewManager()
	_, err := m.LoadFromPEM([]byte("not pem at all"))
	require.Error(t, err)
	var usage *UsageError
	assert.ErrorAs(t, err, &usage)
}

func TestLoadFromPKCS12(t *testing.T) {
	pki := testpki.New(t)
	key, leaf := pki.IssueLeaf("p12-loader")

	p12, err := pkcs12.Modern.Encode(key, leaf, pki.Chain(), "secret")
	require.NoError(t, err)

	m := NewManager()
	cred, err := m.LoadFromPKCS12(p12, "secret")
	require.NoError(t, err)
	assert.Equal(t, leaf.SerialNumber, cred.Certificate.SerialNumber)
	assert.NotNil(t, cred.PrivateKey)
	assert.Len(t, cred.CACertificates, len(pki.Chain()))

	_, err = m.LoadFromPKCS12(p12, "wrong")
	assert.Error(t, err)
}

func TestCertificateInfo(t *testing.T) {
	pki := testpki.New(t)
	_, leaf := pki.IssueLeaf("info-subject")

	m := NewManager()
	info := m.CertificateInfo(leaf)

	assert.Contains(t, info.Subject, "info-subject")
	assert.Contains(t, info.Issuer, "Intermediate CA")
	assert.Len(t, info.Fingerprint, 64)
	assert.False(t, info.IsCA)
	assert.False(t, info.SelfSigned)

	rootInfo := m.CertificateInfo(pki.RootCert)
	assert.True(t, rootInfo.IsCA)
	assert.True(t, rootInfo.SelfSigned)
	assert.NotEqual(t, info.Fingerprint, rootInfo.Fingerprint)
}

func TestValidateCertificate(t *testing.T) {
	pki := testpki.New(t)
	_, leaf := pki.IssueLeaf("validate-single")

	m := NewManager()
	res, err := m.ValidateCertificate(leaf, []*x509.Certificate{pki.RootCert}, pki.Chain()...)
	require.NoError(t, err)
	assert.True(t, res.IsValid, "errors: %v", res.Errors)
	// No revocation checker configured, so a warning must be present.
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "revocation status not checked")
}

func TestValidateCertificateUntrusted(t *testing.T) {
	pki := testpki.New(t)
	other := testpki.New(t)
	_, leaf := pki.IssueLeaf("wrong-anchor")

	m := NewManager()
	res, err := m.ValidateCertificate(leaf, []*x509.Certificate{other.RootCert}, pki.Chain()...)
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "does not chain to a trusted root")
}

func TestValidateCertificateExpired(t *testing.T) {
	pki := testpki.New(t)
	_, leaf := pki.IssueExpiredLeaf("expired-leaf")

	m := NewManager()
	res, err := m.ValidateCertificate(leaf, []*x509.Certificate{pki.RootCert}, pki.Chain()...)
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "expired")
}

func TestValidateCertificateUsageErrors(t *testing.T) {
	pki := testpki.New(t)
	_, leaf := pki.IssueLeaf("usage")

	m := NewManager()
	_, err := m.ValidateCertificate(nil, []*x509.Certificate{pki.RootCert})
	assert.Error(t, err)

	_, err = m.ValidateCertificate(leaf, nil)
	assert.Error(t, err)
}

type staticRevocation struct {
	revoked map[string]bool
}

func (s *staticRevocation) CheckRevocation(cert, issuer *x509.Certificate) (bool, error) {
	return s.revoked[cert.SerialNumber.Text(16)], nil
}

func TestValidateCertificateRevoked(t *testing.T) {
	pki := testpki.New(t)
	_, leaf := pki.IssueLeaf("revoked-leaf")

	m := NewManager()
	m.Revocation = &staticRevocation{revoked: map[string]bool{leaf.SerialNumber.Text(16): true}}

	res, err := m.ValidateCertificate(leaf, []*x509.Certificate{pki.RootCert}, pki.Chain()...)
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "revoked")
	assert.Empty(t, res.Warnings)
}

func TestValidateCertificateAtTime(t *testing.T) {
	pki := testpki.New(t)
	_, leaf := pki.IssueLeaf("at-time")

	m := NewManager()
	m.AtTime = time.Now().Add(30 * time.Minute)
	res, err := m.ValidateCertificate(leaf, []*x509.Certificate{pki.RootCert}, pki.Chain()...)
	require.NoError(t, err)
	assert.True(t, res.IsValid, "errors: %v", res.Errors)

	m.AtTime = time.Now().Add(72 * time.Hour)
	res, err = m.ValidateCertificate(leaf, []*x509.Certificate{pki.RootCert}, pki.Chain()...)
	require.NoError(t, err)
	assert.False(t, res.IsValid)
}

func TestFingerprintStable(t *testing.T) {
	pki := testpki.New(t)
	_, leaf := pki.IssueLeaf("fingerprint")

	reparsed, err := x509.ParseCertificate(leaf.Raw)
	require.NoError(t, err)
	assert.Equal(t, Fingerprint(leaf), Fingerprint(reparsed))

	// Sanity check hex encoding.
	var buf [4]byte
	_, _ = rand.Read(buf[:])
	assert.NotEqual(t, Fingerprint(leaf), Fingerprint(pki.RootCert))
}
