// Package testpki builds throwaway PKI hierarchies and RFC 3161 test
// servers for the validation test suites.
package testpki

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"io"
	"log"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/digitorus/timestamp"
	"golang.org/x/crypto/ocsp"
)

// KeyProfile defines the cryptographic settings for the PKI.
type KeyProfile string

const (
	RSA_2048   KeyProfile = "RSA_2048"
	ECDSA_P256 KeyProfile = "ECDSA_P256"
	ECDSA_P384 KeyProfile = "ECDSA_P384"
)

type Config struct {
	Profile         KeyProfile
	IntermediateCAs int
}

// TestPKI manages a temporary PKI hierarchy for testing.
type TestPKI struct {
	T                 *testing.T
	RootKey           crypto.Signer
	RootCert          *x509.Certificate
	IntermediateKeys  []crypto.Signer
	IntermediateCerts []*x509.Certificate
	Profile           KeyProfile
}

// New creates a fresh root CA with one intermediate.
func New(t *testing.T) *TestPKI {
	return NewWithConfig(t, Config{Profile: ECDSA_P256, IntermediateCAs: 1})
}

// NewWithConfig allows detailed configuration of the PKI.
func NewWithConfig(t *testing.T, config Config) *TestPKI {
	rootKey := GenerateKey(t, config.Profile)

	rootTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName:   "PDFValidate Test Root CA",
			Organization: []string{"PDFValidate Test Org"},
		},
		NotBefore:             time.Now().Add(-1 * time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		SubjectKeyId:          []byte{1, 2, 3, 4},
	}

	rootBytes, err := x509.CreateCertificate(rand.Reader, rootTemplate, rootTemplate, rootKey.Public(), rootKey)
	if err != nil {
		Fail(t, "failed to create root cert: %v", err)
	}
	rootCert, err := x509.ParseCertificate(rootBytes)
	if err != nil {
		Fail(t, "failed to parse root cert: %v", err)
	}

	var intermediateKeys []crypto.Signer
	var intermediateCerts []*x509.Certificate

	parentKey := rootKey
	parentCert := rootCert

	for i := 0; i < config.IntermediateCAs; i++ {
		key := GenerateKey(t, config.Profile)
		template := &x509.Certificate{
			SerialNumber: big.NewInt(int64(i + 2)),
			Subject: pkix.Name{
				CommonName:   fmt.Sprintf("PDFValidate Test Intermediate CA %d", i+1),
				Organization: []string{"PDFValidate Test Org"},
			},
			NotBefore:             time.Now().Add(-1 * time.Hour),
			NotAfter:              time.Now().Add(24 * time.Hour),
			KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
			BasicConstraintsValid: true,
			IsCA:                  true,
			MaxPathLen:            0,
			SubjectKeyId:          []byte{5, 6, 7, 8, byte(i)},
			AuthorityKeyId:        parentCert.SubjectKeyId,
		}

		certBytes, err := x509.CreateCertificate(rand.Reader, template, parentCert, key.Public(), parentKey)
		if err != nil {
			Fail(t, "failed to create intermediate cert %d: %v", i, err)
		}
		cert, err := x509.ParseCertificate(certBytes)
		if err != nil {
			Fail(t, "failed to parse intermediate cert %d: %v", i, err)
		}

		intermediateKeys = append(intermediateKeys, key)
		intermediateCerts = append(intermediateCerts, cert)

		parentKey = key
		parentCert = cert
	}

	return &TestPKI{
		T:                 t,
		RootKey:           rootKey,
		RootCert:          rootCert,
		IntermediateKeys:  intermediateKeys,
		IntermediateCerts: intermediateCerts,
		Profile:           config.Profile,
	}
}

// IssueLeaf generates a new signing certificate below the deepest CA.
func (p *TestPKI) IssueLeaf(commonName string) (crypto.Signer, *x509.Certificate) {
	priv := GenerateKey(p.T, p.Profile)

	serialNumber, _ := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName:   commonName,
			Organization: []string{"PDFValidate Test Org"},
		},
		NotBefore:          time.Now().Add(-1 * time.Hour),
		NotAfter:           time.Now().Add(1 * time.Hour),
		KeyUsage:           x509.KeyUsageDigitalSignature,
		UnknownExtKeyUsage: []asn1.ObjectIdentifier{{1, 3, 6, 1, 5, 5, 7, 3, 36}},
	}

	issuerCert, issuerKey := p.issuer()

	certBytes, err := x509.CreateCertificate(rand.Reader, template, issuerCert, priv.Public(), issuerKey)
	if err != nil {
		Fail(p.T, "failed to issue leaf cert: %v", err)
	}

	leafCert, err := x509.ParseCertificate(certBytes)
	if err != nil {
		Fail(p.T, "failed to parse leaf cert: %v", err)
	}

	return priv, leafCert
}

// IssueExpiredLeaf generates a leaf whose validity window already ended.
func (p *TestPKI) IssueExpiredLeaf(commonName string) (crypto.Signer, *x509.Certificate) {
	priv := GenerateKey(p.T, p.Profile)

	serialNumber, _ := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName:   commonName,
			Organization: []string{"PDFValidate Test Org"},
		},
		NotBefore: time.Now().Add(-48 * time.Hour),
		NotAfter:  time.Now().Add(-24 * time.Hour),
		KeyUsage:  x509.KeyUsageDigitalSignature,
	}

	issuerCert, issuerKey := p.issuer()

	certBytes, err := x509.CreateCertificate(rand.Reader, template, issuerCert, priv.Public(), issuerKey)
	if err != nil {
		Fail(p.T, "failed to issue expired leaf cert: %v", err)
	}
	leafCert, err := x509.ParseCertificate(certBytes)
	if err != nil {
		Fail(p.T, "failed to parse expired leaf cert: %v", err)
	}
	return priv, leafCert
}

func (p *TestPKI) issuer() (*x509.Certificate, crypto.Signer) {
	if len(p.IntermediateCerts) > 0 {
		return p.IntermediateCerts[len(p.IntermediateCerts)-1], p.IntermediateKeys[len(p.IntermediateKeys)-1]
	}
	return p.RootCert, p.RootKey
}

// Chain returns the CA chain for a leaf (deepest intermediate first, root last).
func (p *TestPKI) Chain() []*x509.Certificate {
	var chain []*x509.Certificate
	for i := len(p.IntermediateCerts) - 1; i >= 0; i-- {
		chain = append(chain, p.IntermediateCerts[i])
	}
	chain = append(chain, p.RootCert)
	return chain
}

// CreateCRL signs a CRL over the given serial numbers with the deepest CA.
func (p *TestPKI) CreateCRL(revokedSerials ...*big.Int) []byte {
	issuerCert, issuerKey := p.issuer()

	var entries []x509.RevocationListEntry
	for _, serial := range revokedSerials {
		entries = append(entries, x509.RevocationListEntry{
			SerialNumber:   serial,
			RevocationTime: time.Now().Add(-10 * time.Minute),
		})
	}

	der, err := x509.CreateRevocationList(rand.Reader, &x509.RevocationList{
		Number:                    big.NewInt(1),
		ThisUpdate:                time.Now().Add(-1 * time.Hour),
		NextUpdate:                time.Now().Add(24 * time.Hour),
		RevokedCertificateEntries: entries,
	}, issuerCert, issuerKey)
	if err != nil {
		Fail(p.T, "failed to create CRL: %v", err)
	}
	return der
}

// CreateOCSPResponse signs an OCSP response for cert with the deepest CA.
func (p *TestPKI) CreateOCSPResponse(cert *x509.Certificate, status int) []byte {
	issuerCert, issuerKey := p.issuer()

	tmpl := ocsp.Response{
		Status:       status,
		SerialNumber: cert.SerialNumber,
		ThisUpdate:   time.Now().Add(-1 * time.Hour),
		NextUpdate:   time.Now().Add(24 * time.Hour),
	}
	if status == ocsp.Revoked {
		tmpl.RevokedAt = time.Now().Add(-10 * time.Minute)
		tmpl.RevocationReason = ocsp.KeyCompromise
	}

	der, err := ocsp.CreateResponse(issuerCert, issuerCert, tmpl, issuerKey)
	if err != nil {
		Fail(p.T, "failed to create OCSP response: %v", err)
	}
	return der
}

// TSAServer is an httptest-backed RFC 3161 responder signing real tokens
// with a certificate from the test PKI.
type TSAServer struct {
	Server *httptest.Server
	Cert   *x509.Certificate
	Key    crypto.Signer

	// FailFirst makes the first n requests answer HTTP 500.
	FailFirst int
	// RejectAll answers every request with a PKIStatus rejection.
	RejectAll bool
	// Username and Password, when set, require HTTP basic auth.
	Username string
	Password string

	mu       sync.Mutex
	requests int
}

// Requests returns how many timestamp queries the server has received.
func (s *TSAServer) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// URL returns the server base URL.
func (s *TSAServer) URL() string {
	return s.Server.URL
}

// Close stops the server.
func (s *TSAServer) Close() {
	s.Server.Close()
}

// StartTSA issues a timestamping certificate below the deepest CA and
// starts an RFC 3161 responder using it.
func (p *TestPKI) StartTSA() *TSAServer {
	key := GenerateKey(p.T, p.Profile)

	serialNumber, _ := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName:   "PDFValidate Test TSA",
			Organization: []string{"PDFValidate Test Org"},
		},
		NotBefore:   time.Now().Add(-1 * time.Hour),
		NotAfter:    time.Now().Add(24 * time.Hour),
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageTimeStamping},
	}

	issuerCert, issuerKey := p.issuer()
	certBytes, err := x509.CreateCertificate(rand.Reader, template, issuerCert, key.Public(), issuerKey)
	if err != nil {
		Fail(p.T, "failed to issue TSA cert: %v", err)
	}
	cert, err := x509.ParseCertificate(certBytes)
	if err != nil {
		Fail(p.T, "failed to parse TSA cert: %v", err)
	}

	tsa := &TSAServer{Cert: cert, Key: key}
	tsa.Server = httptest.NewServer(http.HandlerFunc(tsa.handle))
	return tsa
}

func (t *TSAServer) handle(w http.ResponseWriter, r *http.Request) {
	t.mu.Lock()
	t.requests++
	n := t.requests
	t.mu.Unlock()

	if t.Username != "" {
		user, pass, ok := r.BasicAuth()
		if !ok || user != t.Username || pass != t.Password {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
	}

	if n <= t.FailFirst {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if t.RejectAll {
		resp, err := timestamp.CreateErrorResponse(timestamp.Rejection, timestamp.SystemFailure)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/timestamp-reply")
		_, _ = w.Write(resp)
		return
	}

	req, err := timestamp.ParseRequest(body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	serial, _ := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
	token := timestamp.Timestamp{
		HashAlgorithm:     req.HashAlgorithm,
		HashedMessage:     req.HashedMessage,
		Time:              time.Now().UTC(),
		Policy:            asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 13762, 1, 1},
		SerialNumber:      serial,
		Accuracy:          time.Second,
		Nonce:             req.Nonce,
		AddTSACertificate: req.Certificates,
	}

	resp, err := token.CreateResponse(t.Cert, t.Key)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/timestamp-reply")
	_, _ = w.Write(resp)
}

func Fail(t *testing.T, format string, args ...interface{}) {
	if t != nil {
		t.Fatalf(format, args...)
	} else {
		log.Fatalf(format, args...)
	}
}

func GenerateKey(t *testing.T, profile KeyProfile) crypto.Signer {
	switch profile {
	case RSA_2048:
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			Fail(t, "failed to generate RSA 2048 key: %v", err)
		}
		return k
	case ECDSA_P256:
		k, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			Fail(t, "failed to generate P-256 key: %v", err)
		}
		return k
	case ECDSA_P384:
		k, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
		if err != nil {
			Fail(t, "failed to generate P-384 key: %v", err)
		}
		return k
	default:
		Fail(t, "unknown key profile: %s", profile)
		return nil
	}
}
