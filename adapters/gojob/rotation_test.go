package gojob

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-paygrants/core"
)

type stubReconnector struct {
	errs  []error
	calls int
}

func (s *stubReconnector) ReconnectWallet(context.Context, core.ReconnectWalletRequest) (core.Response, error) {
	s.calls++
	if len(s.errs) == 0 {
		return core.SuccessResponse(nil), nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	if err != nil {
		return core.FailureResponse(err), err
	}
	return core.SuccessResponse(nil), nil
}

type recordingDelivery struct {
	msg   *core.JobExecutionMessage
	acked bool
	nacks []core.JobNackOptions
}

func (d *recordingDelivery) Message() *core.JobExecutionMessage { return d.msg }

func (d *recordingDelivery) Ack(context.Context) error {
	d.acked = true
	return nil
}

func (d *recordingDelivery) Nack(_ context.Context, opts core.JobNackOptions) error {
	d.nacks = append(d.nacks, opts)
	return nil
}

type queueDequeuer struct {
	deliveries []core.JobDelivery
}

func (q *queueDequeuer) Dequeue(ctx context.Context) (core.JobDelivery, error) {
	if len(q.deliveries) == 0 {
		return nil, errors.New("queue empty")
	}
	next := q.deliveries[0]
	q.deliveries = q.deliveries[1:]
	return next, nil
}

func rotationMessage() *core.JobExecutionMessage {
	return &core.JobExecutionMessage{
		JobID:          core.JobIDTokenRotation,
		IdempotencyKey: "paygrants.token.rotate:https://ilp.example/alice:1700000000",
	}
}

func TestRotationHandler_AcksSuccessfulRotation(t *testing.T) {
	service := &stubReconnector{}
	hook := &capturingHook{}
	delivery := &recordingDelivery{msg: rotationMessage()}
	handler := NewRotationHandler(service, &queueDequeuer{deliveries: []core.JobDelivery{delivery}}, WithWorkerHook(hook))

	if err := handler.ProcessNext(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}
	if service.calls != 1 || !delivery.acked || len(delivery.nacks) != 0 {
		t.Fatalf("expected one reconnect and an ack, calls=%d acked=%v nacks=%v", service.calls, delivery.acked, delivery.nacks)
	}
	if len(hook.events["start"]) != 1 || len(hook.events["success"]) != 1 {
		t.Fatalf("expected start and success hooks, got %v", hook.events)
	}
}

func TestRotationHandler_NotConnectedIsAcked(t *testing.T) {
	service := &stubReconnector{errs: []error{core.ErrNotConnected}}
	delivery := &recordingDelivery{msg: rotationMessage()}
	if err := NewRotationHandler(service, nil).Handle(context.Background(), delivery); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !delivery.acked {
		t.Fatalf("expected rotation for a disconnected wallet to be dropped")
	}
}

func TestRotationHandler_RetriesWithBackoffThenDeadLetters(t *testing.T) {
	boom := &core.HTTPError{Status: 503, Message: "unavailable"}
	service := &stubReconnector{errs: []error{boom, boom}}
	hook := &capturingHook{}
	handler := NewRotationHandler(service, nil,
		WithRetryPolicy(RetryPolicy{MaxAttempts: 2, MaxDelay: time.Minute, DeadLetterOnMax: true}),
		WithBackoff(core.ExponentialBackoffScheduler{Initial: 10 * time.Second, Max: time.Hour}),
		WithWorkerHook(hook),
	)

	first := &recordingDelivery{msg: rotationMessage()}
	if err := handler.Handle(context.Background(), first); err != nil {
		t.Fatalf("handle first: %v", err)
	}
	if len(first.nacks) != 1 || !first.nacks[0].Requeue || first.nacks[0].Delay != 10*time.Second {
		t.Fatalf("expected requeue after 10s, got %+v", first.nacks)
	}

	second := &recordingDelivery{msg: rotationMessage()}
	if err := handler.Handle(context.Background(), second); err != nil {
		t.Fatalf("handle second: %v", err)
	}
	if len(second.nacks) != 1 || second.nacks[0].Requeue || !second.nacks[0].DeadLetter {
		t.Fatalf("expected dead letter on the last attempt, got %+v", second.nacks)
	}
	if len(hook.events["retry"]) != 1 || len(hook.events["failure"]) != 1 {
		t.Fatalf("expected one retry and one failure hook, got %v", hook.events)
	}
	if hook.events["failure"][0].Attempt != 2 {
		t.Fatalf("expected attempt counter to advance, got %d", hook.events["failure"][0].Attempt)
	}

	third := &recordingDelivery{msg: rotationMessage()}
	if err := handler.Handle(context.Background(), third); err != nil {
		t.Fatalf("handle third: %v", err)
	}
	if !third.acked {
		t.Fatalf("expected attempt counter reset after dead letter")
	}
}

func TestRotationHandler_RevokedKeyIsNotRetried(t *testing.T) {
	service := &stubReconnector{errs: []error{&core.InvalidClientError{Status: 401}}}
	delivery := &recordingDelivery{msg: rotationMessage()}
	if err := NewRotationHandler(service, nil).Handle(context.Background(), delivery); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(delivery.nacks) != 1 || !delivery.nacks[0].DeadLetter || delivery.nacks[0].Requeue {
		t.Fatalf("expected dead letter, got %+v", delivery.nacks)
	}
}

func TestRotationHandler_RejectsForeignJobs(t *testing.T) {
	service := &stubReconnector{}
	delivery := &recordingDelivery{msg: &core.JobExecutionMessage{JobID: "other.job"}}
	if err := NewRotationHandler(service, nil).Handle(context.Background(), delivery); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if service.calls != 0 || len(delivery.nacks) != 1 || !delivery.nacks[0].DeadLetter {
		t.Fatalf("expected foreign job to be dead lettered without a reconnect")
	}
}

func TestRotationHandler_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	service := &stubReconnector{}
	delivery := &recordingDelivery{msg: rotationMessage()}
	dequeuer := &cancelAfterDequeuer{deliveries: []core.JobDelivery{delivery}, cancel: cancel}
	handler := NewRotationHandler(service, dequeuer, WithIdleDelay(time.Millisecond))

	if err := handler.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if !delivery.acked {
		t.Fatalf("expected queued delivery to be processed before stopping")
	}
}

// cancelAfterDequeuer cancels the run once its deliveries are drained.
type cancelAfterDequeuer struct {
	deliveries []core.JobDelivery
	cancel     context.CancelFunc
}

func (q *cancelAfterDequeuer) Dequeue(context.Context) (core.JobDelivery, error) {
	if len(q.deliveries) == 0 {
		q.cancel()
		return nil, errors.New("queue empty")
	}
	next := q.deliveries[0]
	q.deliveries = q.deliveries[1:]
	return next, nil
}

func TestRotationHandler_DefersWhileWalletFlowIsHeld(t *testing.T) {
	ctx := context.Background()
	locker := core.NewMemoryFlowLocker()
	service := &stubReconnector{}
	handler := NewRotationHandler(service, nil, WithFlowLocker(locker), WithBusyDelay(5*time.Second))

	userFlow, err := locker.Acquire(ctx, core.FlowWallet, time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	busy := &recordingDelivery{msg: rotationMessage()}
	if err := handler.Handle(ctx, busy); err != nil {
		t.Fatalf("handle busy: %v", err)
	}
	if service.calls != 0 {
		t.Fatalf("expected no rotation while a user flow holds the wallet")
	}
	if len(busy.nacks) != 1 || !busy.nacks[0].Requeue || busy.nacks[0].DeadLetter || busy.nacks[0].Delay != 5*time.Second {
		t.Fatalf("expected a delayed requeue, got %+v", busy.nacks)
	}
	if err := userFlow.Unlock(ctx); err != nil {
		t.Fatalf("unlock: %v", err)
	}

	ready := &recordingDelivery{msg: rotationMessage()}
	if err := handler.Handle(ctx, ready); err != nil {
		t.Fatalf("handle ready: %v", err)
	}
	if service.calls != 1 || !ready.acked {
		t.Fatalf("expected rotation once the flag is free, calls=%d acked=%v", service.calls, ready.acked)
	}
	if _, err := locker.Acquire(ctx, core.FlowWallet, time.Minute); err != nil {
		t.Fatalf("expected rotation to release the wallet flag: %v", err)
	}
}

type blockingReconnector struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingReconnector) ReconnectWallet(context.Context, core.ReconnectWalletRequest) (core.Response, error) {
	close(b.started)
	<-b.release
	return core.SuccessResponse(nil), nil
}

func TestRotationHandler_HoldsWalletFlowWhileRotating(t *testing.T) {
	ctx := context.Background()
	locker := core.NewMemoryFlowLocker()
	service := &blockingReconnector{started: make(chan struct{}), release: make(chan struct{})}
	handler := NewRotationHandler(service, nil, WithFlowLocker(locker))

	done := make(chan error, 1)
	go func() {
		done <- handler.Handle(ctx, &recordingDelivery{msg: rotationMessage()})
	}()
	<-service.started
	if _, err := locker.Acquire(ctx, core.FlowWallet, time.Minute); !errors.Is(err, core.ErrFlowInProgress) {
		t.Fatalf("expected user flows to be blocked during rotation, got %v", err)
	}
	close(service.release)
	if err := <-done; err != nil {
		t.Fatalf("handle: %v", err)
	}
}
