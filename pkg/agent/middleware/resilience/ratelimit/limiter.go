// Package ratelimit throttles LLM calls per provider by estimated tokens per
// minute and by the number of requests in flight.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"agentkit/pkg/agent/llm"
	"agentkit/pkg/logx"
	"agentkit/pkg/utils"
)

// BufferFactor keeps the usable bucket below the provider's published limit
// to absorb token estimation error.
const BufferFactor = 0.9

const pollInterval = 100 * time.Millisecond

// Throttle reasons reported to metrics.
const (
	reasonTokens      = "tokens"
	reasonConcurrency = "concurrency"
)

// Config defines rate limiting configuration for a provider.
type Config struct {
	TokensPerMinute int `yaml:"tokens_per_minute" json:"tokens_per_minute"`
	MaxConcurrency  int `yaml:"max_concurrency" json:"max_concurrency"`
}

// TokenEstimator estimates the number of tokens a request will consume.
type TokenEstimator interface {
	Estimate(req llm.CompletionRequest) int
}

// DefaultTokenEstimator counts prompt tokens with tiktoken and adds the
// requested output limit, or llm.DefaultMaxTokens when none is set.
type DefaultTokenEstimator struct{}

func (DefaultTokenEstimator) Estimate(req llm.CompletionRequest) int {
	maxTokens, ok := req.ParamInt(llm.ParamMaxTokens)
	if !ok {
		maxTokens = llm.DefaultMaxTokens
	}
	counter, err := utils.NewTokenCounter(req.Model)
	if err != nil {
		return maxTokens
	}
	return counter.CountMessages(req.Messages) + maxTokens
}

// Limiter is a token bucket refilled continuously at TokensPerMinute,
// combined with a concurrency cap.
type Limiter struct {
	mu         sync.Mutex
	provider   string
	capacity   float64
	perSecond  float64
	available  float64
	lastRefill time.Time
	active     int
	maxActive  int
	now        func() time.Time

	tokenLimitHits  int64
	concurrencyHits int64
}

// Stats is a snapshot of a limiter.
type Stats struct {
	Provider        string `json:"provider"`
	AvailableTokens int    `json:"available_tokens"`
	MaxCapacity     int    `json:"max_capacity"`
	ActiveRequests  int    `json:"active_requests"`
	MaxConcurrency  int    `json:"max_concurrency"`
	TokenLimitHits  int64  `json:"token_limit_hits"`
	ConcurrencyHits int64  `json:"concurrency_hits"`
}

// NewLimiter creates a limiter starting with a full bucket. Zero limits are unlimited.
func NewLimiter(provider string, cfg Config) *Limiter {
	return newLimiter(provider, cfg, time.Now)
}

func newLimiter(provider string, cfg Config, now func() time.Time) *Limiter {
	capacity := float64(cfg.TokensPerMinute) * BufferFactor
	return &Limiter{
		provider:   provider,
		capacity:   capacity,
		perSecond:  capacity / 60,
		available:  capacity,
		lastRefill: now(),
		maxActive:  cfg.MaxConcurrency,
		now:        now,
	}
}

// refill adds the tokens accrued since the last refill. Caller holds mu.
func (l *Limiter) refill() {
	now := l.now()
	l.available += now.Sub(l.lastRefill).Seconds() * l.perSecond
	if l.available > l.capacity {
		l.available = l.capacity
	}
	l.lastRefill = now
}

// tryAcquire reports whether both tokens and a slot were taken, and which
// resource blocked otherwise.
func (l *Limiter) tryAcquire(tokens int) (ok bool, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.capacity > 0 {
		l.refill()
	}
	// A request larger than the bucket can never be satisfied; let it
	// through once the bucket is full.
	need := float64(tokens)
	if need > l.capacity {
		need = l.capacity
	}

	hasTokens := l.capacity <= 0 || l.available >= need
	hasSlot := l.maxActive <= 0 || l.active < l.maxActive
	switch {
	case !hasTokens:
		return false, reasonTokens
	case !hasSlot:
		return false, reasonConcurrency
	}

	if l.capacity > 0 {
		l.available -= need
	}
	l.active++
	return true, ""
}

// Acquire blocks until the request fits. The returned release function must
// be called when the request finishes.
func (l *Limiter) Acquire(ctx context.Context, tokens int) (release func(), reason string, err error) {
	logged := false
	for {
		ok, blocked := l.tryAcquire(tokens)
		if ok {
			var once sync.Once
			return func() { once.Do(l.release) }, reason, nil
		}
		reason = blocked
		if !logged {
			l.recordHit(blocked)
			logx.Debug(ctx, "ratelimit", "%s %s limit hit, waiting (need %d tokens)", l.provider, blocked, tokens)
			logged = true
		}

		timer := time.NewTimer(pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, reason, fmt.Errorf("rate limit wait for %s: %w", l.provider, ctx.Err())
		case <-timer.C:
		}
	}
}

func (l *Limiter) recordHit(reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if reason == reasonTokens {
		l.tokenLimitHits++
	} else {
		l.concurrencyHits++
	}
}

func (l *Limiter) release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.active--
}

// Stats returns a snapshot of the limiter.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.capacity > 0 {
		l.refill()
	}
	return Stats{
		Provider:        l.provider,
		AvailableTokens: int(math.Round(l.available)),
		MaxCapacity:     int(math.Round(l.capacity)),
		ActiveRequests:  l.active,
		MaxConcurrency:  l.maxActive,
		TokenLimitHits:  l.tokenLimitHits,
		ConcurrencyHits: l.concurrencyHits,
	}
}
