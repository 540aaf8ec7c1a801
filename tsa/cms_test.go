package tsa

import (
	"context"
	"testing"

	"github.com/digitorus/pkcs7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultsign/pdfvalidate/internal/testpki"
)

func signTestContent(t *testing.T, pki *testpki.TestPKI, content []byte) []byte {
	t.Helper()
	key, leaf := pki.IssueLeaf("cms-signer")

	sd, err := pkcs7.NewSignedData(content)
	require.NoError(t, err)
	sd.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)
	require.NoError(t, sd.AddSignerChain(leaf, key, pki.Chain(), pkcs7.SignerInfoConfig{}))

	der, err := sd.Finish()
	require.NoError(t, err)
	return der
}

func TestExtractTimestampAbsent(t *testing.T) {
	pki := testpki.New(t)
	der := signTestContent(t, pki, []byte("no timestamp here"))

	m := NewManager()
	ts, err := m.ExtractTimestamp(der)
	require.NoError(t, err)
	assert.Nil(t, ts)
}

func TestExtractTimestampMalformedSignature(t *testing.T) {
	m := NewManager()
	_, err := m.ExtractTimestamp([]byte("not asn1"))
	assert.Error(t, err)
}

func TestAddAndExtractTimestamp(t *testing.T) {
	pki := testpki.New(t)
	tsaServer := pki.StartTSA()
	defer tsaServer.Close()

	der := signTestContent(t, pki, []byte("content to be timestamped"))

	m := fastManager()
	stamped, err := m.AddTimestampToSignature(context.Background(), der, FailoverConfig{
		Primary: Config{URL: tsaServer.URL(), RetryAttempts: 1},
	})
	require.NoError(t, err)
	require.NotEqual(t, der, stamped)

	// The original signature must survive the re-encoding.
	p7, err := pkcs7.Parse(stamped)
	require.NoError(t, err)
	require.NoError(t, p7.Verify())

	ts, err := m.ExtractTimestamp(stamped)
	require.NoError(t, err)
	require.NotNil(t, ts)
	require.NotNil(t, ts.Token)
	assert.NotNil(t, ts.Certificate, "test TSA embeds its certificate")

	// The token covers the signature value.
	res := m.VerifyTimestamp(ts, p7.Signers[0].EncryptedDigest)
	assert.True(t, res.IsValid, "errors: %v", res.Errors)

	res = m.VerifyTimestamp(ts, []byte("different data"))
	assert.False(t, res.IsValid)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "document does not match timestamp")
}

func TestAddTimestampReplacesExisting(t *testing.T) {
	pki := testpki.New(t)
	tsaServer := pki.StartTSA()
	defer tsaServer.Close()

	der := signTestContent(t, pki, []byte("stamp me twice"))
	fc := FailoverConfig{Primary: Config{URL: tsaServer.URL(), RetryAttempts: 1}}

	m := fastManager()
	once, err := m.AddTimestampToSignature(context.Background(), der, fc)
	require.NoError(t, err)
	twice, err := m.AddTimestampToSignature(context.Background(), once, fc)
	require.NoError(t, err)

	// At most one timestamp attribute must remain.
	p7, err := pkcs7.Parse(twice)
	require.NoError(t, err)
	require.NoError(t, p7.Verify())

	count := 0
	for _, s := range p7.Signers {
		for _, attr := range s.UnauthenticatedAttributes {
			if attr.Type.Equal(OIDAttributeTimeStampToken) {
				count++
			}
		}
	}
	assert.Equal(t, 1, count)
}

func TestAddTimestampFailoverError(t *testing.T) {
	pki := testpki.New(t)
	tsaServer := pki.StartTSA()
	defer tsaServer.Close()
	tsaServer.FailFirst = 100

	der := signTestContent(t, pki, []byte("unreachable tsa"))

	m := fastManager()
	_, err := m.AddTimestampToSignature(context.Background(), der, FailoverConfig{
		Primary: Config{URL: tsaServer.URL(), RetryAttempts: 1},
	})
	require.Error(t, err)
	var exhausted *FailoverExhaustedError
	assert.ErrorAs(t, err, &exhausted)
}

func TestExtractTimestampSkipsGarbageAttribute(t *testing.T) {
	pki := testpki.New(t)
	der := signTestContent(t, pki, []byte("garbage attribute"))

	// Splice a non-token payload under the timestamp attribute OID.
	mangled, err := embedTimestampToken(der, []byte{0x04, 0x03, 0x01, 0x02, 0x03})
	require.NoError(t, err)

	m := NewManager()
	ts, err := m.ExtractTimestamp(mangled)
	require.NoError(t, err, "a bad candidate is skipped, not fatal")
	assert.Nil(t, ts)
}
