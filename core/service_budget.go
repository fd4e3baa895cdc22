package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// RecordPayment books a completed payment against the budget. An overdraft
// is rejected and flips the out-of-funds flag so streaming can halt.
func (s *Service) RecordPayment(ctx context.Context, req RecordPaymentRequest) (resp Response, err error) {
	startedAt := s.now()
	fields := map[string]any{"amount": req.Amount}
	defer func() {
		s.observeOperation(ctx, startedAt, "record_payment", err, fields)
	}()

	state, err := s.recordPayment(ctx, req.Amount)
	return s.respond(state, err)
}

func (s *Service) recordPayment(ctx context.Context, amount int64) (BudgetState, error) {
	if _, _, err := s.connectedContext(ctx); err != nil {
		return BudgetState{}, err
	}
	state, err := s.budget.Debit(amount)
	if err != nil {
		if errors.Is(err, ErrInsufficientBalance) {
			if flagErr := s.updateFlags(ctx, func(flags *StatusFlags) { flags.OutOfFunds = true }); flagErr != nil {
				s.logError(ctx, "persist out of funds flag", map[string]any{"error": flagErr.Error()})
			}
			s.publish(ctx, EventOutOfFunds, s.budget.State())
		}
		return BudgetState{}, err
	}
	if err := s.commit(ctx, StatePatch{Budget: &state}); err != nil {
		return BudgetState{}, err
	}
	s.publish(ctx, EventBudgetChanged, state)
	return state, nil
}

func (s *Service) SetContinuousPayments(ctx context.Context, enabled bool) (resp Response, err error) {
	startedAt := s.now()
	defer func() {
		s.observeOperation(ctx, startedAt, "set_continuous_payments", err, map[string]any{"enabled": enabled})
	}()

	if err = s.ensureLoaded(ctx); err != nil {
		return s.respond(nil, err)
	}
	state := s.budget.SetContinuousPayments(enabled)
	if err = s.commit(ctx, StatePatch{Budget: &state}); err != nil {
		return s.respond(nil, err)
	}
	s.publish(ctx, EventBudgetChanged, state)
	return s.respond(state, nil)
}

// SetHostPermissions records whether the host granted the permissions the
// client needs to reach wallet origins.
func (s *Service) SetHostPermissions(ctx context.Context, granted bool) error {
	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}
	return s.updateFlags(ctx, func(flags *StatusFlags) {
		flags.MissingHostPermissions = !granted
	})
}

func (s *Service) GetConnectionState(ctx context.Context) (ConnectionState, error) {
	if s == nil {
		return ConnectionState{}, fmt.Errorf("core: service is nil")
	}
	if err := s.ensureLoaded(ctx); err != nil {
		return ConnectionState{}, err
	}
	return s.connectionState(), nil
}

// RotateKeys replaces the installation key pair. A connected wallet does not
// know the new key yet, so the key_revoked flag is raised until a reconnect
// with key auto-add registers it.
func (s *Service) RotateKeys(ctx context.Context) (resp Response, err error) {
	startedAt := s.now()
	defer func() {
		s.observeOperation(ctx, startedAt, "rotate_keys", err, nil)
	}()

	if err = s.ensureLoaded(ctx); err != nil {
		return s.respond(nil, err)
	}
	keys, err := s.keyGenerator.GenerateKeyPair()
	if err != nil {
		return s.respond(nil, err)
	}
	if err = s.state.SaveKeys(ctx, keys); err != nil {
		return s.respond(nil, err)
	}
	s.mu.Lock()
	s.keys = keys
	connected := s.snapshot.Connected
	s.mu.Unlock()

	if connected {
		s.markKeyRevoked(ctx)
	}
	return s.respond(keys.JWK(), nil)
}

// ScheduleTokenRotation enqueues a background rotation of the stored grants.
// The idempotency key is bucketed by the rotation interval.
func (s *Service) ScheduleTokenRotation(ctx context.Context) error {
	if s.jobEnqueuer == nil {
		return fmt.Errorf("core: job enqueuer is not configured")
	}
	snapshot, _, err := s.connectedContext(ctx)
	if err != nil {
		return err
	}
	bucket := s.now().UTC()
	if interval := s.config.Rotation.Interval; interval > 0 {
		bucket = bucket.Truncate(interval)
	}
	walletID := strings.TrimSpace(snapshot.WalletAddress.ID)
	return s.jobEnqueuer.Enqueue(ctx, &JobExecutionMessage{
		JobID:          JobIDTokenRotation,
		ScriptPath:     JobIDTokenRotation,
		Parameters:     map[string]any{"wallet_address": walletID},
		IdempotencyKey: fmt.Sprintf("%s:%s:%d", JobIDTokenRotation, walletID, bucket.Unix()),
		DedupPolicy:    "drop",
	})
}
