// Retry classification and backoff: a canonical status-code table, a
// total-duration cap, and full-jitter delay computation.
package httpconn

import (
	"math/rand"
	"time"
)

// ErrorClass is the retry classification for a single attempt's outcome.
type ErrorClass int

const (
	ClassNonRetryable ErrorClass = iota
	ClassRetryable
	ClassRateLimited
)

// ClassifyStatus implements the canonical status table from §4.4.6.
func ClassifyStatus(code int, retryOn []int) ErrorClass {
	for _, c := range retryOn {
		if c == code {
			if code == 429 {
				return ClassRateLimited
			}
			return ClassRetryable
		}
	}
	switch {
	case code >= 100 && code < 400:
		return ClassNonRetryable
	case code == 408:
		return ClassRetryable
	case code == 429:
		return ClassRateLimited
	case code == 500, code == 502, code == 503, code == 504, code == 507, code == 511:
		return ClassRetryable
	case code == 501, code == 505, code == 506, code == 508, code == 510:
		return ClassNonRetryable
	case code >= 400 && code < 500:
		return ClassNonRetryable
	case code >= 500:
		return ClassRetryable
	default:
		return ClassNonRetryable
	}
}

// DefaultMaxTotalDuration is the reference 300s cap on cumulative retry time.
const DefaultMaxTotalDuration = 300 * time.Second

// RetryDecision is the outcome of should_retry: either stop, or sleep delay
// then retry.
type RetryDecision struct {
	Retry bool
	Delay time.Duration
}

// RetryManager runs the retry/backoff state machine described in §4.4.8.
type RetryManager struct {
	Policy            RetryPolicy
	MaxTotalDuration  time.Duration
	now               func() time.Time
	jitterSource      func(n int64) int64
}

// NewRetryManager builds a RetryManager with reference defaults filled in
// where the policy leaves them zero.
func NewRetryManager(policy RetryPolicy) *RetryManager {
	if policy.MaxRetries == 0 && policy.InitialDelayMs == 0 {
		policy = DefaultRetryPolicy()
	}
	return &RetryManager{
		Policy:           policy,
		MaxTotalDuration: DefaultMaxTotalDuration,
		now:              time.Now,
		jitterSource:     rand.Int63n,
	}
}

// ShouldRetry decides whether attempt (1-indexed, the attempt just made)
// should be followed by another, given classification class, elapsed time
// since started, and any Retry-After hint (0 if absent).
func (m *RetryManager) ShouldRetry(class ErrorClass, attempt int, started time.Time, retryAfter time.Duration) RetryDecision {
	if class == ClassNonRetryable {
		return RetryDecision{Retry: false}
	}
	if attempt > m.Policy.MaxRetries {
		return RetryDecision{Retry: false}
	}
	elapsed := m.now().Sub(started)
	cap := m.MaxTotalDuration
	if cap <= 0 {
		cap = DefaultMaxTotalDuration
	}
	if elapsed >= cap {
		return RetryDecision{Retry: false}
	}

	// attempt is 1-indexed (the attempt that just failed); the Nth retry's
	// backoff exponent is N-1, so the first retry uses initial_delay_ms
	// unscaled (§8 S3: delays observed are 100ms then 200ms, not 200/400).
	delay := m.computeDelay(class, attempt-1, retryAfter)
	if elapsed+delay > cap {
		return RetryDecision{Retry: false}
	}
	return RetryDecision{Retry: true, Delay: delay}
}

// computeDelay implements base = initial*mult^attempt, RateLimited doubles
// it, capped at max_delay_ms, full-jitter applied when enabled, then
// Retry-After honored as a floor.
func (m *RetryManager) computeDelay(class ErrorClass, attempt int, retryAfter time.Duration) time.Duration {
	base := float64(m.Policy.InitialDelayMs) * pow(m.Policy.BackoffMultiplier, attempt)
	if class == ClassRateLimited {
		base *= 2
	}
	maxDelay := float64(m.Policy.MaxDelayMs)
	if maxDelay <= 0 {
		maxDelay = float64(DefaultRetryPolicy().MaxDelayMs)
	}
	if base > maxDelay {
		base = maxDelay
	}

	delay := time.Duration(base) * time.Millisecond
	if m.Policy.useJitter() && delay > 0 {
		delay = time.Duration(m.jitterSource(int64(delay) + 1))
	}

	if retryAfter > delay {
		delay = retryAfter
	}
	return delay
}

// RetryPolicyForAPICalls is a tighter-bound preset suited to interactive
// action execution: few retries, short backoff.
func RetryPolicyForAPICalls() RetryPolicy {
	return RetryPolicy{
		MaxRetries:         3,
		InitialDelayMs:     200,
		MaxDelayMs:         5_000,
		BackoffMultiplier:  2.0,
		RetryOnStatusCodes: []int{408, 429, 500, 502, 503, 504},
	}
}

// RetryPolicyForBackgroundJobs tolerates longer outages for async/polling
// work, at the cost of slower failure detection.
func RetryPolicyForBackgroundJobs() RetryPolicy {
	return RetryPolicy{
		MaxRetries:         8,
		InitialDelayMs:     1_000,
		MaxDelayMs:         60_000,
		BackoffMultiplier:  2.0,
		RetryOnStatusCodes: []int{408, 429, 500, 502, 503, 504},
	}
}

// RetryPolicyForHealthChecks retries fast and few times, since a health
// check that hasn't succeeded quickly should fail fast instead of masking
// an outage.
func RetryPolicyForHealthChecks() RetryPolicy {
	return RetryPolicy{
		MaxRetries:         1,
		InitialDelayMs:     100,
		MaxDelayMs:         500,
		BackoffMultiplier:  1.5,
		RetryOnStatusCodes: []int{503, 504},
	}
}

func pow(base float64, exp int) float64 {
	if base <= 0 {
		base = 1
	}
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}
