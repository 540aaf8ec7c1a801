package tsa

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/digitorus/timestamp"
	"go.uber.org/zap"
)

const backoffBase = 1 * time.Second
const backoffCap = 10 * time.Second

// backoffDelay is the pause before transport attempt n+1: exponential
// from backoffBase, doubling per attempt, capped at backoffCap.
func backoffDelay(attempt int) time.Duration {
	d := backoffBase << (attempt - 1)
	if d > backoffCap || d <= 0 {
		return backoffCap
	}
	return d
}

// RequestTimestamp sends req to a single TSA, retrying transport and
// protocol failures with exponential backoff. A granted (or granted with
// modifications) token is returned; anything else after the configured
// attempts raises a ConnectionError or ResponseError.
func (m *Manager) RequestTimestamp(ctx context.Context, req *Request, cfg Config) (*Response, error) {
	if req == nil || len(req.DER) == 0 {
		return nil, &UsageError{Msg: "timestamp request is empty"}
	}
	if cfg.URL == "" {
		return nil, &UsageError{Msg: "TSA URL is empty"}
	}

	attempts := cfg.RetryAttempts
	if attempts <= 0 {
		attempts = DefaultRetryAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := m.sendOnce(ctx, req, cfg)
		if err == nil {
			m.audit("request_timestamp", cfg.URL, nil)
			return resp, nil
		}
		lastErr = err

		m.Logger.Warn("timestamp request attempt failed",
			zap.String("url", cfg.URL),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Error(err))

		if attempt == attempts {
			break
		}
		delay := backoffDelay(attempt)
		if m.Backoff != nil {
			delay = m.Backoff(attempt)
		}
		select {
		case <-ctx.Done():
			m.audit("request_timestamp", cfg.URL, ctx.Err())
			return nil, &ConnectionError{URL: cfg.URL, Attempts: attempt, Err: ctx.Err()}
		case <-time.After(delay):
		}
	}

	m.audit("request_timestamp", cfg.URL, lastErr)
	if _, ok := lastErr.(*protocolError); ok {
		return nil, &ResponseError{URL: cfg.URL, Attempts: attempts, Err: lastErr}
	}
	return nil, &ConnectionError{URL: cfg.URL, Attempts: attempts, Err: lastErr}
}

// protocolError marks failures where the server answered but the answer
// was unusable; it shares the retry policy of transport errors.
type protocolError struct {
	err error
}

func (e *protocolError) Error() string { return e.err.Error() }
func (e *protocolError) Unwrap() error { return e.err }

func (m *Manager) sendOnce(ctx context.Context, req *Request, cfg Config) (*Response, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(req.DER))
	if err != nil {
		return nil, fmt.Errorf("prepare request (%s): %w", cfg.URL, err)
	}
	httpReq.Header.Set("Content-Type", "application/timestamp-query")
	httpReq.Header.Set("Accept", "application/timestamp-reply")
	if cfg.Username != "" {
		httpReq.SetBasicAuth(cfg.Username, cfg.Password)
	}

	client := m.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("non success response (%d): %s", resp.StatusCode, string(body))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	// ParseResponse rejects any PKIStatus other than granted or granted
	// with modifications.
	token, err := timestamp.ParseResponse(raw)
	if err != nil {
		return nil, &protocolError{err: fmt.Errorf("parse timestamp response: %w", err)}
	}

	if req.Nonce != nil && token.Nonce != nil && req.Nonce.Cmp(token.Nonce) != 0 {
		return nil, &protocolError{err: fmt.Errorf("response nonce does not match request")}
	}

	return &Response{Token: token, Raw: token.RawToken}, nil
}
