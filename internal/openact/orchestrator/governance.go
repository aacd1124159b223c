// Package orchestrator implements the Command Orchestrator (§4.5): Stepflow
// envelope intake, governance gating, synchronous/async/fire-forget
// dispatch, run lifecycle, the async task manager, and the event outbox.
package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/time/rate"

	"github.com/openact/openact/internal/openact/errs"
	"github.com/openact/openact/internal/openact/telemetry"
)

// Governance is process-wide gating: tool name allow/deny glob lists
// (blocked-list wins, then an empty allow-list permits everything), a
// bounded concurrency semaphore, an optional token-bucket rate limit, and
// a global execution timeout.
type Governance struct {
	Allowed []string
	Blocked []string
	Timeout time.Duration

	sem     chan struct{}
	limiter *rate.Limiter
}

// NewGovernance builds a Governance with maxConcurrency in-flight permits.
// maxConcurrency<=0 means unbounded.
func NewGovernance(allowed, blocked []string, timeout time.Duration, maxConcurrency int) *Governance {
	g := &Governance{Allowed: allowed, Blocked: blocked, Timeout: timeout}
	if maxConcurrency > 0 {
		g.sem = make(chan struct{}, maxConcurrency)
	}
	return g
}

// WithRateLimit layers a token-bucket limit (ratePerSecond, burst) on top
// of the concurrency semaphore; commands exceeding it wait in Acquire
// rather than being rejected outright.
func (g *Governance) WithRateLimit(ratePerSecond float64, burst int) *Governance {
	if ratePerSecond > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(ratePerSecond), burst)
	}
	return g
}

// Check reports whether toolName (connector.action) is permitted: blocked
// patterns win, then an empty allow-list permits everything else, otherwise
// toolName must match an allow pattern.
func (g *Governance) Check(toolName string) error {
	for _, pattern := range g.Blocked {
		if matchesToolPattern(toolName, strings.TrimPrefix(pattern, "!")) {
			telemetry.GovernanceDeniedTotal.WithLabelValues(toolName).Inc()
			return errs.NewForbidden("governance: tool blocked: " + toolName)
		}
	}
	if len(g.Allowed) == 0 {
		return nil
	}
	for _, pattern := range g.Allowed {
		if matchesToolPattern(toolName, pattern) {
			return nil
		}
	}
	telemetry.GovernanceDeniedTotal.WithLabelValues(toolName).Inc()
	return errs.NewForbidden("governance: tool not in allow list: " + toolName)
}

func matchesToolPattern(toolName, pattern string) bool {
	if toolName == pattern {
		return true
	}
	matched, err := doublestar.Match(pattern, toolName)
	if err != nil {
		return toolName == pattern
	}
	return matched
}

// Permit is a held semaphore slot; Release must be called exactly once.
type Permit struct {
	release func()
}

// Release gives the permit back to the semaphore. Safe to call once; the
// caller typically defers it immediately after Acquire succeeds.
func (p *Permit) Release() {
	if p != nil && p.release != nil {
		p.release()
	}
}

// Acquire blocks until a concurrency permit is available or ctx is done,
// implementing the bounded-concurrency back-pressure mechanism from §5.
func (g *Governance) Acquire(ctx context.Context) (*Permit, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, errs.NewTimeout("governance: timed out waiting for rate limit")
		}
	}
	if g.sem == nil {
		return &Permit{}, nil
	}
	select {
	case g.sem <- struct{}{}:
		released := false
		return &Permit{release: func() {
			if !released {
				released = true
				<-g.sem
			}
		}}, nil
	case <-ctx.Done():
		return nil, errs.NewTimeout("governance: timed out acquiring execution permit")
	}
}

// EffectiveTimeout returns min(envelopeTimeout, g.Timeout), with a zero or
// negative envelopeTimeout meaning "not specified".
func (g *Governance) EffectiveTimeout(envelopeTimeout time.Duration) time.Duration {
	if envelopeTimeout <= 0 {
		return g.Timeout
	}
	if g.Timeout <= 0 || envelopeTimeout < g.Timeout {
		return envelopeTimeout
	}
	return g.Timeout
}
