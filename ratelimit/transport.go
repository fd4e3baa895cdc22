package ratelimit

import (
	"context"
	"fmt"
	"sync"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-paygrants/core"
	"golang.org/x/time/rate"
)

// Transport decorates a TransportAdapter so calls to a throttled host fail
// fast instead of hitting the wire.
type Transport struct {
	next   core.TransportAdapter
	policy *AdaptivePolicy
	logger core.Logger

	mu       sync.Mutex
	rps      rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

type TransportOption func(*Transport)

func WithLogger(logger core.Logger) TransportOption {
	return func(t *Transport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithRequestRate paces calls to each host with a token bucket. A
// non-positive rps leaves calls unpaced.
func WithRequestRate(rps float64, burst int) TransportOption {
	return func(t *Transport) {
		if rps <= 0 {
			t.rps = 0
			return
		}
		if burst <= 0 {
			burst = 1
		}
		t.rps = rate.Limit(rps)
		t.burst = burst
	}
}

func NewTransport(next core.TransportAdapter, policy *AdaptivePolicy, opts ...TransportOption) (*Transport, error) {
	if next == nil {
		return nil, fmt.Errorf("ratelimit: transport adapter is required")
	}
	if policy == nil {
		policy = NewAdaptivePolicy(nil)
	}
	t := &Transport{next: next, policy: policy, logger: glog.Nop(), limiters: map[string]*rate.Limiter{}}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t, nil
}

func (t *Transport) Kind() string {
	return t.next.Kind()
}

func (t *Transport) Do(ctx context.Context, req core.TransportRequest) (core.TransportResponse, error) {
	host := HostOf(req.URL)
	if host == "" {
		return t.next.Do(ctx, req)
	}
	if err := t.policy.BeforeCall(ctx, host); err != nil {
		return core.TransportResponse{}, err
	}
	if limiter := t.limiter(host); limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return core.TransportResponse{}, fmt.Errorf("ratelimit: wait for %s: %w", host, err)
		}
	}
	res, err := t.next.Do(ctx, req)
	if err != nil {
		return res, err
	}
	if err := t.policy.AfterCall(ctx, host, res); err != nil {
		t.logger.WithContext(ctx).Warn("rate limit state update failed", "host", host, "error", err.Error())
	}
	return res, nil
}

func (t *Transport) limiter(host string) *rate.Limiter {
	if t.rps <= 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	limiter, ok := t.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(t.rps, t.burst)
		t.limiters[host] = limiter
	}
	return limiter
}

var _ core.TransportAdapter = (*Transport)(nil)
