package pdfvalidate

import (
	"bytes"
	"context"
	"crypto"
	"crypto/x509"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/digitorus/pkcs7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultsign/pdfvalidate/internal/testpdf"
	"github.com/vaultsign/pdfvalidate/internal/testpki"
	"github.com/vaultsign/pdfvalidate/tsa"
)

func signerFunc(t *testing.T, pki *testpki.TestPKI, key crypto.Signer, leaf *x509.Certificate) testpdf.SignFunc {
	t.Helper()
	return func(content []byte) ([]byte, error) {
		sd, err := pkcs7.NewSignedData(content)
		if err != nil {
			return nil, err
		}
		sd.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)
		if err := sd.AddSignerChain(leaf, key, pki.Chain(), pkcs7.SignerInfoConfig{}); err != nil {
			return nil, err
		}
		sd.Detach()
		return sd.Finish()
	}
}

func buildTimestampedPDF(t *testing.T, pki *testpki.TestPKI, tsaServer *testpki.TSAServer) []byte {
	t.Helper()
	key, leaf := pki.IssueLeaf("document-signer")
	m := tsa.NewManager()
	m.Backoff = func(int) time.Duration { return time.Millisecond }
	inner := signerFunc(t, pki, key, leaf)

	b := testpdf.New()
	require.NoError(t, b.AddSignature("Signature1", testpdf.SigOptions{Reason: "Approved"},
		func(content []byte) ([]byte, error) {
			der, err := inner(content)
			if err != nil {
				return nil, err
			}
			return m.AddTimestampToSignature(context.Background(), der, tsa.FailoverConfig{
				Primary: tsa.Config{URL: tsaServer.URL(), RetryAttempts: 1},
			})
		}))
	return b.Bytes()
}

func TestValidateDocumentFullyValid(t *testing.T) {
	pki := testpki.New(t)
	tsaServer := pki.StartTSA()
	defer tsaServer.Close()

	raw := buildTimestampedPDF(t, pki, tsaServer)

	engine := NewEngine(pki.RootCert)
	result := engine.ValidateDocument(context.Background(), raw)

	assert.True(t, result.IsValid, "errors: %v", result.Errors)
	assert.True(t, result.HasSignatures)
	assert.Equal(t, 1, result.PageCount)
	assert.True(t, result.Structure.IsValid)

	require.NotNil(t, result.SignatureValidation)
	assert.True(t, result.SignatureValidation.AllSignaturesValid)
	require.Len(t, result.SignatureValidation.Signatures, 1)

	require.NotNil(t, result.TimestampValidation)
	assert.True(t, result.TimestampValidation.AllTimestampsValid)

	require.NotNil(t, result.CertificateValidation)
	assert.True(t, result.CertificateValidation.AllCertificatesValid)

	// The report is the only artifact handed outward; it must serialize.
	data, err := json.Marshal(result)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"is_valid":true`)
}

func TestValidateDocumentNegativeByteRange(t *testing.T) {
	pki := testpki.New(t)
	key, leaf := pki.IssueLeaf("document-signer")

	b := testpdf.New()
	require.NoError(t, b.AddSignature("Signature1", testpdf.SigOptions{Reason: "Approved"},
		signerFunc(t, pki, key, leaf)))
	raw := b.Bytes()

	// Rewrite both range lengths to negative values of the same fixed
	// width the dictionary was written with.
	idx := bytes.Index(raw, []byte("/ByteRange [0 "))
	require.NotEqual(t, -1, idx)
	base := idx + len("/ByteRange [0 ")
	copy(raw[base:base+10], "-000000005")
	copy(raw[base+22:base+32], "-000000005")

	engine := NewEngine(pki.RootCert)
	result := engine.ValidateDocument(context.Background(), raw)

	assert.False(t, result.IsValid)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "cannot read covered bytes")
}

func TestValidateDocumentCorruptedSignature(t *testing.T) {
	pki := testpki.New(t)
	key1, leaf1 := pki.IssueLeaf("first-signer")
	key2, leaf2 := pki.IssueLeaf("second-signer")

	b := testpdf.New()
	require.NoError(t, b.AddSignature("Signature1", testpdf.SigOptions{Reason: "First approval"},
		signerFunc(t, pki, key1, leaf1)))
	require.NoError(t, b.AddSignature("Signature2", testpdf.SigOptions{Reason: "Second approval"},
		signerFunc(t, pki, key2, leaf2)))
	raw := testpdf.CorruptReason(b.Bytes(), "Second approval")

	engine := NewEngine(pki.RootCert)
	result := engine.ValidateDocument(context.Background(), raw)

	assert.False(t, result.IsValid)
	assert.True(t, result.Structure.IsValid, "structure is unaffected by the corrupted byte")
	assert.Contains(t, result.Errors, `signature "Signature2": digest mismatch`)

	require.NotNil(t, result.SignatureValidation)
	assert.False(t, result.SignatureValidation.AllSignaturesValid)
	for _, sr := range result.SignatureValidation.Signatures {
		switch sr.FieldName {
		case "Signature1":
			assert.True(t, sr.IsValid, "sibling signature must stay valid, errors: %v", sr.Errors)
		case "Signature2":
			assert.False(t, sr.IsValid)
		}
	}
}

func TestValidateDocumentOutOfRangeVersion(t *testing.T) {
	pki := testpki.New(t)
	key, leaf := pki.IssueLeaf("document-signer")

	b := testpdf.New()
	require.NoError(t, b.AddSignature("Signature1", testpdf.SigOptions{Reason: "Approved"},
		signerFunc(t, pki, key, leaf)))
	raw := bytes.Replace(b.Bytes(), []byte("%PDF-1.7"), []byte("%PDF-3.7"), 1)

	result := NewEngine(pki.RootCert).ValidateDocument(context.Background(), raw)

	assert.False(t, result.IsValid)
	assert.False(t, result.HasSignatures, "no extraction is attempted on a fatal header error")
	assert.Nil(t, result.SignatureValidation)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "unsupported version")
}

func TestValidateDocumentNoSignatures(t *testing.T) {
	result := NewEngine().ValidateDocument(context.Background(), testpdf.New().Bytes())

	assert.True(t, result.IsValid, "errors: %v", result.Errors)
	assert.False(t, result.HasSignatures)
	assert.Nil(t, result.SignatureValidation)
}

func TestValidateDocumentIdempotent(t *testing.T) {
	pki := testpki.New(t)
	key, leaf := pki.IssueLeaf("document-signer")

	b := testpdf.New()
	require.NoError(t, b.AddSignature("Signature1", testpdf.SigOptions{Reason: "Approved"},
		signerFunc(t, pki, key, leaf)))
	raw := b.Bytes()

	engine := NewEngine(pki.RootCert)
	first := engine.ValidateDocument(context.Background(), raw)
	second := engine.ValidateDocument(context.Background(), raw)

	assert.Equal(t, first.IsValid, second.IsValid)
	assert.Equal(t, first.Errors, second.Errors)
	assert.Equal(t, first.Warnings, second.Warnings)
}

func TestValidateDocumentCancelled(t *testing.T) {
	pki := testpki.New(t)
	key, leaf := pki.IssueLeaf("document-signer")

	b := testpdf.New()
	require.NoError(t, b.AddSignature("Signature1", testpdf.SigOptions{Reason: "Approved"},
		signerFunc(t, pki, key, leaf)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := NewEngine(pki.RootCert).ValidateDocument(ctx, b.Bytes())
	assert.False(t, result.IsValid)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[len(result.Errors)-1], "validation cancelled")
}

type memoryStore struct {
	docs    map[string][]byte
	results map[string]*PDFValidationResult
	failGet bool
}

func (s *memoryStore) DocumentBytes(_ context.Context, id string) ([]byte, error) {
	if s.failGet {
		return nil, errors.New("storage offline")
	}
	raw, ok := s.docs[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return raw, nil
}

func (s *memoryStore) StoreValidationResult(_ context.Context, id string, result *PDFValidationResult) error {
	s.results[id] = result
	return nil
}

func TestValidateAndStore(t *testing.T) {
	pki := testpki.New(t)
	key, leaf := pki.IssueLeaf("document-signer")

	b := testpdf.New()
	require.NoError(t, b.AddSignature("Signature1", testpdf.SigOptions{Reason: "Approved"},
		signerFunc(t, pki, key, leaf)))

	store := &memoryStore{
		docs:    map[string][]byte{"doc-1": b.Bytes()},
		results: map[string]*PDFValidationResult{},
	}

	engine := NewEngine(pki.RootCert)
	result, err := engine.ValidateAndStore(context.Background(), "doc-1", store, store)
	require.NoError(t, err)
	assert.True(t, result.IsValid, "errors: %v", result.Errors)
	assert.Same(t, result, store.results["doc-1"])

	_, err = engine.ValidateAndStore(context.Background(), "missing", store, store)
	assert.Error(t, err)

	store.failGet = true
	_, err = engine.ValidateAndStore(context.Background(), "doc-1", store, store)
	assert.ErrorContains(t, err, "storage offline")
}
