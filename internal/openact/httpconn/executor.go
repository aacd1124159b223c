// Executor ties the configuration merge, policy enforcement, authentication,
// typed body construction, retry manager, and timeout manager into a
// single outbound HTTP call with bounded retries and a total-duration cap.
package httpconn

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/openact/openact/internal/openact/errs"
	"github.com/openact/openact/internal/openact/telemetry"
)

// Executor runs merged HTTP requests with retry/timeout enforcement and one
// cached *http.Client per Connection TRN (Connection-level connect_ms baked
// in at client construction, per §5).
type Executor struct {
	Auth *AuthManager

	mu      sync.RWMutex
	clients map[string]*http.Client
}

// NewExecutor builds an Executor. auth may be nil for connectors that need
// no authentication manager (tests, ApiKey/Basic-only connections).
func NewExecutor(auth *AuthManager) *Executor {
	return &Executor{Auth: auth, clients: make(map[string]*http.Client)}
}

func (e *Executor) clientFor(connTrn string, timeout TimeoutConfig) *http.Client {
	e.mu.RLock()
	c, ok := e.clients[connTrn]
	e.mu.RUnlock()
	if ok {
		return c
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.clients[connTrn]; ok {
		return c
	}
	c = &http.Client{Transport: NewTimeoutManager(timeout).Transport()}
	e.clients[connTrn] = c
	return c
}

// Execute runs the merged request against conn, applying authentication,
// then the retry/timeout state machine from §4.4.8, and returns the final
// Response or a classified *errs.Error.
func (e *Executor) Execute(ctx context.Context, connTrn string, merged *MergedRequest) (*Response, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "httpconn.Execute")
	defer span.End()

	started0 := time.Now()
	result, err := e.execute(ctx, connTrn, merged)

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	telemetry.ExecutionsTotal.WithLabelValues(connTrn, outcome).Inc()
	telemetry.ExecutionDuration.WithLabelValues(connTrn).Observe(time.Since(started0).Seconds())
	return result, err
}

func (e *Executor) execute(ctx context.Context, connTrn string, merged *MergedRequest) (*Response, error) {
	decoration, err := e.resolveAuth(ctx, merged.Auth)
	if err != nil {
		return nil, err
	}

	built, err := BuildBody(merged.Body, headerValue(merged.Headers, "Content-Type"))
	if err != nil {
		return nil, err
	}
	if built != nil {
		if err := checkAllowedContentType(DefaultHttpPolicy(), built.ContentType); err != nil {
			return nil, err
		}
	}

	client := e.clientFor(connTrn, merged.Timeout)
	retryMgr := NewRetryManager(merged.Retry)
	responsePolicy := DefaultResponsePolicy()

	totalCtx, cancel := NewTimeoutManager(merged.Timeout).WithTotalTimeout(ctx)
	defer cancel()

	started := time.Now()
	attempt := 0
	// Request bodies are always buffered bytes here, so every attempt can
	// safely rebuild the body reader; the "body cannot be cloned" case from
	// §4.4.6 does not arise for this executor's buffered bodies.

	for {
		attempt++
		req, err := e.buildRequest(totalCtx, merged, built, decoration)
		if err != nil {
			return nil, err
		}

		attemptStart := time.Now()
		resp, doErr := client.Do(req)
		execMs := time.Since(attemptStart).Milliseconds()

		if doErr != nil {
			if totalCtx.Err() != nil {
				return nil, errs.NewTimeout("httpconn: total_ms elapsed")
			}
			class := ClassRetryable
			decision := retryMgr.ShouldRetry(class, attempt, started, 0)
			if !decision.Retry {
				return nil, &errs.Error{Type: errs.Connection, Message: "httpconn: request failed", Cause: doErr}
			}
			telemetry.RetriesTotal.WithLabelValues("connection").Inc()
			if !sleepOrDone(totalCtx, decision.Delay) {
				return nil, errs.NewTimeout("httpconn: total_ms elapsed during retry backoff")
			}
			continue
		}

		result, readErr := ReadResponse(resp, responsePolicy)
		if readErr != nil {
			return nil, readErr
		}
		result.ExecutionTimeMs = execMs

		class := ClassifyStatus(result.StatusCode, merged.Retry.RetryOnStatusCodes)
		if class == ClassNonRetryable || result.StatusCode < 400 {
			if result.StatusCode >= 400 {
				return result, statusError(result, "")
			}
			return result, nil
		}

		retryAfter := retryAfterDuration(result.Headers)
		decision := retryMgr.ShouldRetry(class, attempt, started, retryAfter)
		if !decision.Retry {
			return result, statusError(result, "httpconn: retry budget exhausted")
		}
		classLabel := "retryable"
		if class == ClassRateLimited {
			classLabel = "rate_limited"
		}
		telemetry.RetriesTotal.WithLabelValues(classLabel).Inc()
		if !sleepOrDone(totalCtx, decision.Delay) {
			return result, errs.NewTimeout("httpconn: total_ms elapsed during retry backoff")
		}
	}
}

func (e *Executor) resolveAuth(ctx context.Context, auth *AuthConfig) (*Decoration, error) {
	if e.Auth == nil {
		if auth == nil {
			return nil, nil
		}
		if auth.Type == AuthApiKey {
			return resolveAPIKey(auth), nil
		}
		if auth.Type == AuthBasic {
			return &Decoration{UseBasic: true, BasicUser: auth.Username, BasicPass: auth.Password}, nil
		}
		return nil, errs.NewInvalidConfig("httpconn: oauth2 auth requires an AuthManager")
	}
	return e.Auth.Resolve(ctx, auth)
}

func (e *Executor) buildRequest(ctx context.Context, merged *MergedRequest, built *BuiltBody, decoration *Decoration) (*http.Request, error) {
	var bodyReader io.Reader
	if built != nil {
		bodyReader = bytes.NewReader(built.Bytes)
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(merged.Method), merged.URL, bodyReader)
	if err != nil {
		return nil, errs.NewInvalidConfig("httpconn: malformed request: " + err.Error())
	}

	for k, values := range merged.Headers {
		req.Header.Del(k)
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	if built != nil {
		if req.Header.Get("Content-Type") == "" {
			req.Header.Set("Content-Type", built.ContentType)
		}
		if built.ContentLength >= 0 {
			req.Header.Set("Content-Length", contentLengthHeader(built.ContentLength))
			req.ContentLength = built.ContentLength
		}
	}

	if decoration != nil {
		switch {
		case decoration.UseBasic:
			req.SetBasicAuth(decoration.BasicUser, decoration.BasicPass)
		case decoration.Header != "":
			req.Header.Set(decoration.Header, decoration.HeaderValue)
		case decoration.Query != "":
			q := req.URL.Query()
			q.Add(decoration.Query, decoration.QueryValue)
			req.URL.RawQuery = q.Encode()
		}
	}

	return req, nil
}

func headerValue(headers map[string][]string, name string) string {
	lower := strings.ToLower(name)
	for k, v := range headers {
		if strings.ToLower(k) == lower && len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

func statusError(r *Response, override string) error {
	msg := override
	if msg == "" {
		msg = "httpconn: upstream returned an error status"
	}
	e := errs.FromHTTPStatus(r.StatusCode, msg, "")
	if override != "" {
		e.Type = errs.ExecutionFailed
	}
	return e
}

func retryAfterDuration(headers map[string]string) time.Duration {
	for k, v := range headers {
		if strings.EqualFold(k, "Retry-After") {
			if d, ok := parseRetryAfter(v); ok {
				return d
			}
		}
	}
	return 0
}

func parseRetryAfter(v string) (time.Duration, bool) {
	if secs, err := parseSeconds(v); err == nil {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

func parseSeconds(v string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(v), 10, 64)
}

// sleepOrDone sleeps for d, returning false if ctx completes first.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
