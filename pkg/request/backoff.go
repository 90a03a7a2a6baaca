package request

import (
	"context"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ProviderBackoff manages exponential backoff per provider.
// Every failure pushes the provider's next allowed request further out,
// every success walks it back one step.
type ProviderBackoff struct {
	mu        sync.RWMutex
	providers map[string]*backoffState
	baseDelay time.Duration
	maxDelay  time.Duration
}

type backoffState struct {
	failureCount int
	nextAllowed  time.Time
}

// NewProviderBackoff creates a new backoff manager.
func NewProviderBackoff(baseDelay, maxDelay time.Duration) *ProviderBackoff {
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}
	return &ProviderBackoff{
		providers: make(map[string]*backoffState),
		baseDelay: baseDelay,
		maxDelay:  maxDelay,
	}
}

// Wait blocks until the provider is allowed to make a request or ctx is done.
func (b *ProviderBackoff) Wait(ctx context.Context, provider string) error {
	b.mu.RLock()
	var next time.Time
	if state, exists := b.providers[provider]; exists {
		next = state.nextAllowed
	}
	b.mu.RUnlock()

	d := time.Until(next)
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RecordFailure increases the backoff delay for a provider.
func (b *ProviderBackoff) RecordFailure(provider string) {
	b.RecordThrottle(provider, 0)
}

// RecordThrottle counts a failure like RecordFailure, but never lets the provider
// back in before retryAfter has passed. The query service answers 429 with a
// Retry-After that can exceed maxDelay.
func (b *ProviderBackoff) RecordThrottle(provider string, retryAfter time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, exists := b.providers[provider]
	if !exists {
		state = &backoffState{}
		b.providers[provider] = state
	}

	state.failureCount++
	delay := b.calculateDelay(state.failureCount)
	if retryAfter > delay {
		delay = retryAfter
	}
	state.nextAllowed = time.Now().Add(delay)
}

// RecordSuccess decreases the backoff delay (gradual recovery).
func (b *ProviderBackoff) RecordSuccess(provider string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, exists := b.providers[provider]
	if !exists {
		return
	}

	if state.failureCount > 0 {
		state.failureCount--
	}
	if state.failureCount == 0 {
		state.nextAllowed = time.Time{}
	}
}

// calculateDelay returns exponential delay with 10% jitter, capped at maxDelay.
func (b *ProviderBackoff) calculateDelay(failures int) time.Duration {
	multiplier := math.Pow(2, float64(failures-1))
	delay := time.Duration(float64(b.baseDelay) * multiplier)
	if delay > b.maxDelay || delay < 0 {
		delay = b.maxDelay
	}

	jitter := time.Duration(rand.Float64() * 0.1 * float64(delay))
	return delay + jitter
}

// GetState returns current backoff state for a provider.
func (b *ProviderBackoff) GetState(provider string) (failureCount int, nextAllowed time.Time) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if state, exists := b.providers[provider]; exists {
		return state.failureCount, state.nextAllowed
	}
	return 0, time.Time{}
}

// parseRetryAfter reads a Retry-After header given in seconds or as an HTTP date.
// Anything unparsable or in the past yields 0.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	t, err := http.ParseTime(v)
	if err != nil || !t.After(now) {
		return 0
	}
	return t.Sub(now)
}
