package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	defaultFlowLockTTL         = 15 * time.Minute
	defaultRetryInitialBackoff = 30 * time.Second
	defaultRetryMaxBackoff     = 30 * time.Minute
)

// FlowWallet is the flow every wallet mutation holds, interactive or not.
const FlowWallet = "wallet"

type LockHandle interface {
	Unlock(ctx context.Context) error
}

// FlowLocker is the single in-flight flag the host holds around a use case.
type FlowLocker interface {
	Acquire(ctx context.Context, flow string, ttl time.Duration) (LockHandle, error)
}

type MemoryFlowLocker struct {
	mu    sync.Mutex
	locks map[string]time.Time
	nowFn func() time.Time
}

func NewMemoryFlowLocker() *MemoryFlowLocker {
	return &MemoryFlowLocker{
		locks: make(map[string]time.Time),
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

func (l *MemoryFlowLocker) Acquire(_ context.Context, flow string, ttl time.Duration) (LockHandle, error) {
	if l == nil {
		return nil, fmt.Errorf("core: flow locker is not configured")
	}
	flow = strings.TrimSpace(flow)
	if flow == "" {
		return nil, fmt.Errorf("core: flow name is required for lock acquisition")
	}
	if ttl <= 0 {
		ttl = defaultFlowLockTTL
	}

	now := l.nowFn()
	l.mu.Lock()
	defer l.mu.Unlock()

	if until, ok := l.locks[flow]; ok && now.Before(until) {
		return nil, fmt.Errorf("%w: %s", ErrFlowInProgress, flow)
	}
	l.locks[flow] = now.Add(ttl)
	return &memoryLockHandle{locker: l, flow: flow}, nil
}

type memoryLockHandle struct {
	locker *MemoryFlowLocker
	flow   string
	once   sync.Once
}

func (h *memoryLockHandle) Unlock(_ context.Context) error {
	if h == nil || h.locker == nil {
		return nil
	}
	h.once.Do(func() {
		h.locker.mu.Lock()
		delete(h.locker.locks, h.flow)
		h.locker.mu.Unlock()
	})
	return nil
}

type BackoffScheduler interface {
	NextDelay(attempt int) time.Duration
}

type ExponentialBackoffScheduler struct {
	Initial time.Duration
	Max     time.Duration
}

func (s ExponentialBackoffScheduler) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := s.Initial
	if initial <= 0 {
		initial = defaultRetryInitialBackoff
	}
	max := s.Max
	if max <= 0 {
		max = defaultRetryMaxBackoff
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

// IsRetryableRotationError reports whether a failed scheduled rotation may be
// retried later. Key and integrity failures need the user.
func IsRetryableRotationError(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrInvalidClient),
		errors.Is(err, ErrNotImplemented),
		errors.Is(err, ErrInteractionHash),
		errors.Is(err, ErrSigningPrecondition),
		errors.Is(err, ErrNotConnected):
		return false
	}
	return true
}
