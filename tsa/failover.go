package tsa

import (
	"context"

	"go.uber.org/zap"
)

// RequestTimestampWithFailover tries the primary TSA and then each
// fallback in order, strictly sequentially, until one grants a token or
// MaxFailoverAttempts servers have been tried. Each server gets its own
// retry budget. The returned error lists every attempted URL.
func (m *Manager) RequestTimestampWithFailover(ctx context.Context, req *Request, fc FailoverConfig) (*Response, error) {
	if req == nil || len(req.DER) == 0 {
		return nil, &UsageError{Msg: "timestamp request is empty"}
	}
	if fc.Primary.URL == "" {
		return nil, &UsageError{Msg: "failover config has no primary TSA"}
	}

	servers := append([]Config{fc.Primary}, fc.Fallbacks...)
	maxAttempts := fc.MaxFailoverAttempts
	if maxAttempts <= 0 || maxAttempts > len(servers) {
		maxAttempts = len(servers)
	}

	var attempted []string
	var lastErr error

	for i := 0; i < maxAttempts; i++ {
		cfg := servers[i]
		attempted = append(attempted, cfg.URL)

		resp, err := m.RequestTimestamp(ctx, req, cfg)
		if err == nil {
			m.audit("request_timestamp_failover", cfg.URL, nil)
			return resp, nil
		}
		lastErr = err

		m.Logger.Warn("timestamp server failed, trying next",
			zap.String("url", cfg.URL),
			zap.Int("server", i+1),
			zap.Int("servers", maxAttempts),
			zap.Error(err))

		if ctx.Err() != nil {
			break
		}
	}

	exhausted := &FailoverExhaustedError{AttemptedURLs: attempted, LastErr: lastErr}
	m.audit("request_timestamp_failover", "", exhausted)
	return nil, exhausted
}
