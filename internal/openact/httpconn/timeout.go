package httpconn

import (
	"context"
	"net"
	"net/http"
	"time"
)

// TimeoutManager applies the TimeoutConfig budgets from §4.4.5:
// connect_ms bakes into the transport's dialer and total_ms wraps the
// whole request, retries and backoff included. read_ms is only exposed
// through ReadDeadline; the executor does not apply it, so response body
// collection is bounded by total_ms alone.
type TimeoutManager struct {
	cfg TimeoutConfig
}

func NewTimeoutManager(cfg TimeoutConfig) *TimeoutManager { return &TimeoutManager{cfg: cfg} }

// Transport returns an http.RoundTripper with ConnectMs baked into its
// dialer. One is built per Connection and cached by the executor.
func (t *TimeoutManager) Transport() *http.Transport {
	dialer := &net.Dialer{Timeout: time.Duration(t.cfg.ConnectMs) * time.Millisecond}
	return &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: time.Duration(t.cfg.ConnectMs) * time.Millisecond,
	}
}

// WithTotalTimeout derives a context bounded by total_ms.
func (t *TimeoutManager) WithTotalTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, time.Duration(t.cfg.TotalMs)*time.Millisecond)
}

// ReadDeadline returns the read_ms budget as a Duration. The executor does
// not call it.
func (t *TimeoutManager) ReadDeadline() time.Duration {
	return time.Duration(t.cfg.ReadMs) * time.Millisecond
}
