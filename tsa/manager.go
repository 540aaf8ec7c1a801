// Package tsa implements the RFC 3161 timestamp client: request
// construction, transport with retry and failover across multiple
// Time-Stamp Authorities, token verification, and embedding or
// extracting tokens in a CMS signature's unsigned attributes.
package tsa

import (
	"bytes"
	"crypto/rand"
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/digitorus/pkcs7"
	"github.com/digitorus/timestamp"
	"go.uber.org/zap"

	"github.com/vaultsign/pdfvalidate/imprint"
)

// OIDAttributeTimeStampToken is id-aa-timeStampToken (RFC 3161 appendix A),
// the unsigned attribute under which a signature timestamp is stored.
var OIDAttributeTimeStampToken = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 14}

// Config describes one Time-Stamp Authority endpoint.
type Config struct {
	URL      string
	Username string
	Password string

	// Timeout per HTTP attempt. Zero means DefaultTimeout.
	Timeout time.Duration

	// RetryAttempts is the maximum number of transport attempts against
	// this endpoint. Zero means DefaultRetryAttempts.
	RetryAttempts int
}

// FailoverConfig orders a primary TSA and its fallbacks.
type FailoverConfig struct {
	Primary   Config
	Fallbacks []Config

	// MaxFailoverAttempts caps how many servers are tried. Zero means
	// 1 + len(Fallbacks).
	MaxFailoverAttempts int
}

const (
	DefaultTimeout       = 30 * time.Second
	DefaultRetryAttempts = 3
)

// RequestOptions configures timestamp request construction.
type RequestOptions struct {
	// HashAlgorithm names the imprint algorithm. Empty means SHA-256.
	HashAlgorithm string

	// Policy is the requested TSA policy OID, omitted when nil.
	Policy asn1.ObjectIdentifier

	// SkipNonce disables the anti-replay nonce.
	SkipNonce bool

	// SkipCertificates disables the request for the TSA certificate to
	// be embedded in the token.
	SkipCertificates bool
}

// Request is an encoded RFC 3161 TimeStampReq plus the values needed to
// verify the eventual response.
type Request struct {
	Imprint imprint.MessageImprint
	Nonce   *big.Int
	Policy  asn1.ObjectIdentifier
	CertReq bool
	DER     []byte
}

// Response wraps a granted TimeStampToken.
type Response struct {
	Token *timestamp.Timestamp
	Raw   []byte
}

// Timestamp is a materialized token attached to (or extracted from) a
// signature, with its raw encoding kept for audit.
type Timestamp struct {
	Token       *timestamp.Timestamp
	Raw         []byte
	Certificate *x509.Certificate
}

// VerificationResult reports the outcome of verifying a token against
// the data it covers.
type VerificationResult struct {
	IsValid      bool          `json:"is_valid"`
	GenTime      time.Time     `json:"gen_time"`
	Accuracy     time.Duration `json:"accuracy"`
	Policy       string        `json:"policy"`
	SerialNumber string        `json:"serial_number,omitempty"`
	Errors       []string      `json:"errors,omitempty"`
	Warnings     []string      `json:"warnings,omitempty"`
}

// Manager performs timestamp operations. The zero value is not usable;
// construct with NewManager. A Manager is safe for concurrent use: the
// only mutable state is the audit log, which synchronizes itself.
type Manager struct {
	Logger *zap.Logger
	Audit  AuditLog

	// HTTPClient overrides the per-request client. When nil a client is
	// built per attempt honoring the config timeout.
	HTTPClient *http.Client

	// Backoff overrides the retry delay as a function of the attempt
	// number. Nil means exponential backoff from 1s capped at 10s.
	Backoff func(attempt int) time.Duration
}

// NewManager returns a Manager with a no-op logger and an in-memory
// audit log.
func NewManager() *Manager {
	return &Manager{
		Logger: zap.NewNop(),
		Audit:  NewMemoryAuditLog(),
	}
}

// CreateTimestampRequest computes a message imprint over data and encodes
// an RFC 3161 TimeStampReq. Defaults: SHA-256, random nonce, certReq set.
func (m *Manager) CreateTimestampRequest(data []byte, opts *RequestOptions) (*Request, error) {
	if opts == nil {
		opts = &RequestOptions{}
	}
	algorithm := opts.HashAlgorithm
	if algorithm == "" {
		algorithm = "SHA-256"
	}

	mi, err := imprint.Build(data, algorithm)
	if err != nil {
		m.audit("create_request", "", err)
		return nil, err
	}

	req := &Request{
		Imprint: mi,
		Policy:  opts.Policy,
		CertReq: !opts.SkipCertificates,
	}

	if !opts.SkipNonce {
		nonce, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
		if err != nil {
			m.audit("create_request", "", err)
			return nil, fmt.Errorf("generate nonce: %w", err)
		}
		req.Nonce = nonce
	}

	tsq := &timestamp.Request{
		HashAlgorithm: mi.HashAlgorithm,
		HashedMessage: mi.HashedMessage,
		Certificates:  req.CertReq,
		TSAPolicyOID:  req.Policy,
		Nonce:         req.Nonce,
	}
	der, err := tsq.Marshal()
	if err != nil {
		m.audit("create_request", "", err)
		return nil, fmt.Errorf("marshal timestamp request: %w", err)
	}
	req.DER = der

	m.audit("create_request", mi.AlgorithmName(), nil)
	return req, nil
}

// VerifyTimestampResponse verifies a response token against the original
// data: the token's message imprint must byte-equal the imprint of the
// data, and the TSA certificate's validity window is checked when one is
// embedded.
func (m *Manager) VerifyTimestampResponse(resp *Response, originalData []byte) *VerificationResult {
	if resp == nil || resp.Token == nil {
		res := &VerificationResult{Errors: []string{"no timestamp token in response"}}
		m.audit("verify_response", "", &TimestampValidationError{Msg: res.Errors[0]})
		return res
	}
	res := m.verifyToken(resp.Token, resp.Raw, originalData)
	m.auditVerification("verify_response", res)
	return res
}

// VerifyTimestamp verifies a previously materialized timestamp against
// the original data.
func (m *Manager) VerifyTimestamp(ts *Timestamp, originalData []byte) *VerificationResult {
	if ts == nil || ts.Token == nil {
		res := &VerificationResult{Errors: []string{"no timestamp token"}}
		m.audit("verify_timestamp", "", &TimestampValidationError{Msg: res.Errors[0]})
		return res
	}
	res := m.verifyToken(ts.Token, ts.Raw, originalData)
	m.auditVerification("verify_timestamp", res)
	return res
}

func (m *Manager) verifyToken(token *timestamp.Timestamp, raw, originalData []byte) *VerificationResult {
	res := &VerificationResult{
		GenTime:  token.Time,
		Accuracy: token.Accuracy,
		Policy:   token.Policy.String(),
	}
	if token.SerialNumber != nil {
		res.SerialNumber = token.SerialNumber.Text(16)
	}

	expected, err := imprint.BuildWithHash(originalData, token.HashAlgorithm)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("unsupported token hash algorithm: %v", err))
		return res
	}
	if !bytes.Equal(expected.HashedMessage, token.HashedMessage) {
		res.Errors = append(res.Errors, "document does not match timestamp")
		return res
	}

	if len(token.Certificates) == 0 {
		res.Warnings = append(res.Warnings, "timestamp token does not embed the TSA certificate")
	} else {
		tsaCert := token.Certificates[0]
		if token.Time.Before(tsaCert.NotBefore) || token.Time.After(tsaCert.NotAfter) {
			res.Errors = append(res.Errors, fmt.Sprintf(
				"timestamp genTime %s outside TSA certificate validity window",
				token.Time.UTC().Format(time.RFC3339)))
		}

		// Cryptographic verification of the token signature is possible
		// only with the embedded certificate.
		if len(raw) > 0 {
			if p7, err := pkcs7.Parse(raw); err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("malformed timestamp token: %v", err))
			} else if err := p7.Verify(); err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("timestamp token signature invalid: %v", err))
			}
		}
	}

	res.IsValid = len(res.Errors) == 0
	return res
}

func (m *Manager) auditVerification(operation string, res *VerificationResult) {
	var err error
	if !res.IsValid {
		err = &TimestampValidationError{Msg: fmt.Sprintf("%v", res.Errors)}
	}
	m.audit(operation, res.GenTime.UTC().Format(time.RFC3339), err)
}
