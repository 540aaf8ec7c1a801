package tsa

import (
	"context"
	"crypto"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultsign/pdfvalidate/internal/testpki"
)

func fastManager() *Manager {
	m := NewManager()
	m.Backoff = func(int) time.Duration { return time.Millisecond }
	return m
}

func TestCreateTimestampRequestDefaults(t *testing.T) {
	m := NewManager()
	req, err := m.CreateTimestampRequest([]byte("data to stamp"), nil)
	require.NoError(t, err)

	assert.Equal(t, crypto.SHA256, req.Imprint.HashAlgorithm)
	assert.NoError(t, req.Imprint.Validate())
	assert.NotNil(t, req.Nonce, "nonce is attached by default")
	assert.True(t, req.CertReq, "certReq is set by default")
	assert.NotEmpty(t, req.DER)
}

func TestCreateTimestampRequestOptions(t *testing.T) {
	m := NewManager()
	req, err := m.CreateTimestampRequest([]byte("x"), &RequestOptions{
		HashAlgorithm:    "SHA-512",
		SkipNonce:        true,
		SkipCertificates: true,
	})
	require.NoError(t, err)
	assert.Equal(t, crypto.SHA512, req.Imprint.HashAlgorithm)
	assert.Nil(t, req.Nonce)
	assert.False(t, req.CertReq)
}

func TestCreateTimestampRequestBadAlgorithm(t *testing.T) {
	m := NewManager()
	_, err := m.CreateTimestampRequest([]byte("x"), &RequestOptions{HashAlgorithm: "MD5"})
	assert.Error(t, err)
}

func TestRequestTimestamp(t *testing.T) {
	pki := testpki.New(t)
	tsaServer := pki.StartTSA()
	defer tsaServer.Close()

	m := fastManager()
	data := []byte("document bytes")
	req, err := m.CreateTimestampRequest(data, nil)
	require.NoError(t, err)

	resp, err := m.RequestTimestamp(context.Background(), req, Config{URL: tsaServer.URL()})
	require.NoError(t, err)
	require.NotNil(t, resp.Token)
	assert.Equal(t, 1, tsaServer.Requests())

	res := m.VerifyTimestampResponse(resp, data)
	assert.True(t, res.IsValid, "errors: %v", res.Errors)
	assert.False(t, res.GenTime.IsZero())
	assert.NotEmpty(t, res.Policy)
}

func TestRequestTimestampRetrySucceedsOnThirdAttempt(t *testing.T) {
	pki := testpki.New(t)
	tsaServer := pki.StartTSA()
	defer tsaServer.Close()
	tsaServer.FailFirst = 2

	m := fastManager()
	req, err := m.CreateTimestampRequest([]byte("retry me"), nil)
	require.NoError(t, err)

	resp, err := m.RequestTimestamp(context.Background(), req, Config{URL: tsaServer.URL(), RetryAttempts: 3})
	require.NoError(t, err)
	assert.NotNil(t, resp.Token)
	assert.Equal(t, 3, tsaServer.Requests())
}

func TestRequestTimestampRetryExhausted(t *testing.T) {
	pki := testpki.New(t)
	tsaServer := pki.StartTSA()
	defer tsaServer.Close()
	tsaServer.FailFirst = 100

	m := fastManager()
	req, err := m.CreateTimestampRequest([]byte("never"), nil)
	require.NoError(t, err)

	_, err = m.RequestTimestamp(context.Background(), req, Config{URL: tsaServer.URL(), RetryAttempts: 2})
	require.Error(t, err)
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, 2, connErr.Attempts)
	assert.Equal(t, 2, tsaServer.Requests(), "no more calls than configured attempts")
}

func TestRequestTimestampRejected(t *testing.T) {
	pki := testpki.New(t)
	tsaServer := pki.StartTSA()
	defer tsaServer.Close()
	tsaServer.RejectAll = true

	m := fastManager()
	req, err := m.CreateTimestampRequest([]byte("rejected"), nil)
	require.NoError(t, err)

	_, err = m.RequestTimestamp(context.Background(), req, Config{URL: tsaServer.URL(), RetryAttempts: 1})
	require.Error(t, err)
	var respErr *ResponseError
	assert.ErrorAs(t, err, &respErr)
}

func TestRequestTimestampBasicAuth(t *testing.T) {
	pki := testpki.New(t)
	tsaServer := pki.StartTSA()
	defer tsaServer.Close()
	tsaServer.Username = "tsa-user"
	tsaServer.Password = "tsa-pass"

	m := fastManager()
	req, err := m.CreateTimestampRequest([]byte("authed"), nil)
	require.NoError(t, err)

	_, err = m.RequestTimestamp(context.Background(), req, Config{URL: tsaServer.URL(), RetryAttempts: 1})
	assert.Error(t, err, "missing credentials must fail")

	resp, err := m.RequestTimestamp(context.Background(), req, Config{
		URL:           tsaServer.URL(),
		Username:      "tsa-user",
		Password:      "tsa-pass",
		RetryAttempts: 1,
	})
	require.NoError(t, err)
	assert.NotNil(t, resp.Token)
}

func TestRequestTimestampUsageErrors(t *testing.T) {
	m := NewManager()
	_, err := m.RequestTimestamp(context.Background(), nil, Config{URL: "http://example.invalid"})
	assert.Error(t, err)

	req, err := m.CreateTimestampRequest([]byte("x"), nil)
	require.NoError(t, err)
	_, err = m.RequestTimestamp(context.Background(), req, Config{})
	assert.Error(t, err)
}

func TestVerifyTimestampResponseMismatch(t *testing.T) {
	pki := testpki.New(t)
	tsaServer := pki.StartTSA()
	defer tsaServer.Close()

	m := fastManager()
	data := []byte("original data")
	req, err := m.CreateTimestampRequest(data, nil)
	require.NoError(t, err)

	resp, err := m.RequestTimestamp(context.Background(), req, Config{URL: tsaServer.URL()})
	require.NoError(t, err)

	res := m.VerifyTimestampResponse(resp, []byte("tampered data"))
	assert.False(t, res.IsValid)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "document does not match timestamp")
}

func TestBackoffDelay(t *testing.T) {
	assert.Equal(t, 1*time.Second, backoffDelay(1))
	assert.Equal(t, 2*time.Second, backoffDelay(2))
	assert.Equal(t, 4*time.Second, backoffDelay(3))
	assert.Equal(t, 8*time.Second, backoffDelay(4))
	assert.Equal(t, 10*time.Second, backoffDelay(5), "capped")
	assert.Equal(t, 10*time.Second, backoffDelay(40), "capped even when the shift overflows")
}

func TestAuditLogRecordsOperations(t *testing.T) {
	pki := testpki.New(t)
	tsaServer := pki.StartTSA()
	defer tsaServer.Close()

	m := fastManager()
	data := []byte("audited")
	req, err := m.CreateTimestampRequest(data, nil)
	require.NoError(t, err)
	resp, err := m.RequestTimestamp(context.Background(), req, Config{URL: tsaServer.URL()})
	require.NoError(t, err)
	m.VerifyTimestampResponse(resp, data)

	entries := m.Audit.Entries()
	require.Len(t, entries, 3)
	ops := []string{entries[0].Operation, entries[1].Operation, entries[2].Operation}
	assert.Equal(t, []string{"create_request", "request_timestamp", "verify_response"}, ops)
	for _, e := range entries {
		assert.True(t, e.Success)
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.CreatedAt.IsZero())
	}

	m.Audit.Clear()
	assert.Empty(t, m.Audit.Entries())
}
