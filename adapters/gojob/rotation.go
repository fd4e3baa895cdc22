package gojob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-paygrants/core"

	glog "github.com/goliatone/go-logger/glog"
)

// Reconnector is the part of core.Service a rotation job drives.
type Reconnector interface {
	ReconnectWallet(ctx context.Context, req core.ReconnectWalletRequest) (core.Response, error)
}

type RotationOption func(*RotationHandler)

func WithRetryPolicy(policy RetryPolicy) RotationOption {
	return func(h *RotationHandler) {
		h.policy = policy
	}
}

func WithBackoff(backoff core.BackoffScheduler) RotationOption {
	return func(h *RotationHandler) {
		if backoff != nil {
			h.backoff = backoff
		}
	}
}

func WithWorkerHook(hook core.JobWorkerHook) RotationOption {
	return func(h *RotationHandler) {
		h.hook = hook
	}
}

func WithLogger(logger core.Logger) RotationOption {
	return func(h *RotationHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithFlowLocker makes each rotation hold the same wallet flag the facade
// holds, so rotation never overlaps a user flow.
func WithFlowLocker(locker core.FlowLocker) RotationOption {
	return func(h *RotationHandler) {
		h.locker = locker
	}
}

// WithBusyDelay sets the requeue delay used while the wallet flag is held.
func WithBusyDelay(delay time.Duration) RotationOption {
	return func(h *RotationHandler) {
		if delay > 0 {
			h.busyDelay = delay
		}
	}
}

// WithIdleDelay sets how long Run waits after a failed dequeue.
func WithIdleDelay(delay time.Duration) RotationOption {
	return func(h *RotationHandler) {
		if delay > 0 {
			h.idleDelay = delay
		}
	}
}

// RotationHandler consumes paygrants.token.rotate jobs and rotates the
// stored grant tokens through ReconnectWallet.
type RotationHandler struct {
	service   Reconnector
	dequeuer  core.JobDequeuer
	policy    RetryPolicy
	backoff   core.BackoffScheduler
	hook      core.JobWorkerHook
	logger    core.Logger
	idleDelay time.Duration
	locker    core.FlowLocker
	lockTTL   time.Duration
	busyDelay time.Duration
	now       func() time.Time

	mu       sync.Mutex
	attempts map[string]int
}

func NewRotationHandler(service Reconnector, dequeuer core.JobDequeuer, opts ...RotationOption) *RotationHandler {
	h := &RotationHandler{
		service:   service,
		dequeuer:  dequeuer,
		policy:    DefaultRetryPolicy(),
		backoff:   core.ExponentialBackoffScheduler{Initial: 30 * time.Second, Max: 15 * time.Minute},
		logger:    glog.Nop(),
		idleDelay: time.Second,
		lockTTL:   30 * time.Minute,
		busyDelay: 30 * time.Second,
		now:       time.Now,
		attempts:  map[string]int{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Run processes deliveries until ctx is cancelled.
func (h *RotationHandler) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := h.ProcessNext(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			h.logger.WithContext(ctx).Warn("rotation job processing failed", "error", err.Error())
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(h.idleDelay):
			}
		}
	}
}

// ProcessNext dequeues and handles a single delivery.
func (h *RotationHandler) ProcessNext(ctx context.Context) error {
	if h == nil || h.dequeuer == nil {
		return fmt.Errorf("gojob: rotation dequeuer is not configured")
	}
	delivery, err := h.dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}
	return h.Handle(ctx, delivery)
}

// Handle runs one rotation. The returned error reports ack/nack failures
// only; rotation failures are turned into a retry or a dead letter.
func (h *RotationHandler) Handle(ctx context.Context, delivery core.JobDelivery) error {
	if h == nil || h.service == nil {
		return fmt.Errorf("gojob: rotation service is not configured")
	}
	if delivery == nil {
		return fmt.Errorf("gojob: delivery is required")
	}
	msg := delivery.Message()
	if msg == nil || strings.TrimSpace(msg.JobID) != core.JobIDTokenRotation {
		return delivery.Nack(ctx, core.JobNackOptions{DeadLetter: true, Reason: "unsupported job"})
	}

	if h.locker != nil {
		handle, err := h.locker.Acquire(ctx, core.FlowWallet, h.lockTTL)
		if err != nil {
			// a user flow holds the wallet; this does not count as an attempt
			h.logger.WithContext(ctx).Info("rotation deferred: wallet flow in progress", "delay", h.busyDelay.String())
			return delivery.Nack(ctx, core.JobNackOptions{Delay: h.busyDelay, Requeue: true, Reason: err.Error()})
		}
		defer func() {
			_ = handle.Unlock(context.WithoutCancel(ctx))
		}()
	}

	key := attemptKey(msg)
	event := core.JobWorkerEvent{Message: msg, Attempt: h.nextAttempt(key), StartedAt: h.now()}
	if h.hook != nil {
		h.hook.OnStart(ctx, event)
	}

	_, err := h.service.ReconnectWallet(ctx, core.ReconnectWalletRequest{})
	event.Duration = h.now().Sub(event.StartedAt)
	event.Err = err

	switch {
	case err == nil, errors.Is(err, core.ErrNotConnected):
		h.forget(key)
		if h.hook != nil {
			h.hook.OnSuccess(ctx, event)
		}
		return delivery.Ack(ctx)
	case errors.Is(err, core.ErrInvalidClient):
		// A revoked key needs the user, not another attempt.
		h.forget(key)
		if h.hook != nil {
			h.hook.OnFailure(ctx, event)
		}
		h.logger.WithContext(ctx).Warn("rotation stopped: client key rejected", "attempt", event.Attempt)
		return delivery.Nack(ctx, core.JobNackOptions{DeadLetter: true, Reason: err.Error()})
	}

	opts := h.policy.NormalizeAttempt(core.JobNackOptions{
		Delay:   h.backoff.NextDelay(event.Attempt),
		Requeue: true,
		Reason:  err.Error(),
	}, event.Attempt)
	event.Delay = opts.Delay
	if opts.Requeue {
		if h.hook != nil {
			h.hook.OnRetry(ctx, event)
		}
	} else {
		h.forget(key)
		if h.hook != nil {
			h.hook.OnFailure(ctx, event)
		}
	}
	h.logger.WithContext(ctx).Warn("rotation attempt failed",
		"attempt", event.Attempt,
		"requeue", opts.Requeue,
		"delay", opts.Delay.String(),
		"error", err.Error(),
	)
	return delivery.Nack(ctx, opts)
}

func (h *RotationHandler) nextAttempt(key string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.attempts[key]++
	return h.attempts[key]
}

func (h *RotationHandler) forget(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.attempts, key)
}

func attemptKey(msg *core.JobExecutionMessage) string {
	if key := strings.TrimSpace(msg.IdempotencyKey); key != "" {
		return key
	}
	return msg.JobID
}
