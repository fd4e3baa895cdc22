package command

import (
	"context"
	"errors"
	"strings"
	"testing"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-paygrants/core"
)

type stubMutatingService struct {
	connectFn       func(context.Context, core.ConnectWalletRequest) (core.Response, error)
	reconnectFn     func(context.Context, core.ReconnectWalletRequest) (core.Response, error)
	disconnectFn    func(context.Context, core.DisconnectWalletRequest) (core.Response, error)
	addFundsFn      func(context.Context, core.AddFundsRequest) (core.Response, error)
	updateBudgetFn  func(context.Context, core.UpdateBudgetRequest) (core.Response, error)
	recordPaymentFn func(context.Context, core.RecordPaymentRequest) (core.Response, error)
	continuousFn    func(context.Context, bool) (core.Response, error)
	permissionsFn   func(context.Context, bool) error
	rotateKeysFn    func(context.Context) (core.Response, error)
	scheduleFn      func(context.Context) error
}

func (s stubMutatingService) ConnectWallet(ctx context.Context, req core.ConnectWalletRequest) (core.Response, error) {
	if s.connectFn == nil {
		return core.SuccessResponse(nil), nil
	}
	return s.connectFn(ctx, req)
}

func (s stubMutatingService) ReconnectWallet(ctx context.Context, req core.ReconnectWalletRequest) (core.Response, error) {
	if s.reconnectFn == nil {
		return core.SuccessResponse(nil), nil
	}
	return s.reconnectFn(ctx, req)
}

func (s stubMutatingService) DisconnectWallet(ctx context.Context, req core.DisconnectWalletRequest) (core.Response, error) {
	if s.disconnectFn == nil {
		return core.SuccessResponse(nil), nil
	}
	return s.disconnectFn(ctx, req)
}

func (s stubMutatingService) AddFunds(ctx context.Context, req core.AddFundsRequest) (core.Response, error) {
	if s.addFundsFn == nil {
		return core.SuccessResponse(nil), nil
	}
	return s.addFundsFn(ctx, req)
}

func (s stubMutatingService) UpdateBudget(ctx context.Context, req core.UpdateBudgetRequest) (core.Response, error) {
	if s.updateBudgetFn == nil {
		return core.SuccessResponse(nil), nil
	}
	return s.updateBudgetFn(ctx, req)
}

func (s stubMutatingService) RecordPayment(ctx context.Context, req core.RecordPaymentRequest) (core.Response, error) {
	if s.recordPaymentFn == nil {
		return core.SuccessResponse(nil), nil
	}
	return s.recordPaymentFn(ctx, req)
}

func (s stubMutatingService) SetContinuousPayments(ctx context.Context, enabled bool) (core.Response, error) {
	if s.continuousFn == nil {
		return core.SuccessResponse(nil), nil
	}
	return s.continuousFn(ctx, enabled)
}

func (s stubMutatingService) SetHostPermissions(ctx context.Context, granted bool) error {
	if s.permissionsFn == nil {
		return nil
	}
	return s.permissionsFn(ctx, granted)
}

func (s stubMutatingService) RotateKeys(ctx context.Context) (core.Response, error) {
	if s.rotateKeysFn == nil {
		return core.SuccessResponse(nil), nil
	}
	return s.rotateKeysFn(ctx)
}

func (s stubMutatingService) ScheduleTokenRotation(ctx context.Context) error {
	if s.scheduleFn == nil {
		return nil
	}
	return s.scheduleFn(ctx)
}

func TestConnectWalletCommand_ExecuteDelegatesAndStoresResult(t *testing.T) {
	called := false
	svc := stubMutatingService{
		connectFn: func(_ context.Context, req core.ConnectWalletRequest) (core.Response, error) {
			called = true
			if req.WalletAddressURL != "$ilp.example/alice" || req.Amount != "5" || !req.Recurring {
				t.Fatalf("unexpected connect request: %#v", req)
			}
			return core.SuccessResponse(core.ConnectionState{Connected: true}), nil
		},
	}

	collector := gocmd.NewResult[core.Response]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	err := NewConnectWalletCommand(svc).Execute(ctx, ConnectWalletMessage{Request: core.ConnectWalletRequest{
		WalletAddressURL: "$ilp.example/alice",
		Amount:           "5",
		Recurring:        true,
	}})
	if err != nil {
		t.Fatalf("execute connect: %v", err)
	}
	if !called {
		t.Fatalf("expected connect service invocation")
	}
	result, ok := collector.Load()
	if !ok {
		t.Fatalf("expected result to be stored")
	}
	state, ok := result.Payload.(core.ConnectionState)
	if !result.Success || !ok || !state.Connected {
		t.Fatalf("unexpected result: %#v", result)
	}
}

func TestConnectWalletCommand_StoresFailureResponse(t *testing.T) {
	svc := stubMutatingService{
		connectFn: func(context.Context, core.ConnectWalletRequest) (core.Response, error) {
			return core.FailureResponse(core.ErrNotConnected), core.ErrNotConnected
		},
	}
	collector := gocmd.NewResult[core.Response]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	err := NewConnectWalletCommand(svc).Execute(ctx, ConnectWalletMessage{})
	if !errors.Is(err, core.ErrNotConnected) {
		t.Fatalf("expected service error to be returned, got %v", err)
	}
	result, ok := collector.Load()
	if !ok || result.Success || result.ErrorKey != core.ServiceErrorNotConnected {
		t.Fatalf("expected failure response to be stored, got %#v", result)
	}
}

func TestMutationCommands_DelegateToService(t *testing.T) {
	t.Run("reconnect", func(t *testing.T) {
		called := false
		svc := stubMutatingService{
			reconnectFn: func(_ context.Context, req core.ReconnectWalletRequest) (core.Response, error) {
				called = true
				if !req.AutoKeyAddConsent {
					t.Fatalf("expected consent to be forwarded")
				}
				return core.SuccessResponse(nil), nil
			},
		}
		msg := ReconnectWalletMessage{Request: core.ReconnectWalletRequest{AutoKeyAddConsent: true}}
		if err := NewReconnectWalletCommand(svc).Execute(context.Background(), msg); err != nil {
			t.Fatalf("execute reconnect: %v", err)
		}
		if !called {
			t.Fatalf("expected reconnect invocation")
		}
	})

	t.Run("disconnect", func(t *testing.T) {
		called := false
		svc := stubMutatingService{
			disconnectFn: func(_ context.Context, req core.DisconnectWalletRequest) (core.Response, error) {
				called = true
				if !req.Force {
					t.Fatalf("expected force flag")
				}
				return core.SuccessResponse(nil), nil
			},
		}
		msg := DisconnectWalletMessage{Request: core.DisconnectWalletRequest{Force: true}}
		if err := NewDisconnectWalletCommand(svc).Execute(context.Background(), msg); err != nil {
			t.Fatalf("execute disconnect: %v", err)
		}
		if !called {
			t.Fatalf("expected disconnect invocation")
		}
	})

	t.Run("budget", func(t *testing.T) {
		var calls []string
		svc := stubMutatingService{
			addFundsFn: func(_ context.Context, req core.AddFundsRequest) (core.Response, error) {
				calls = append(calls, "add:"+req.Amount)
				return core.SuccessResponse(nil), nil
			},
			updateBudgetFn: func(_ context.Context, req core.UpdateBudgetRequest) (core.Response, error) {
				calls = append(calls, "update:"+req.Amount)
				return core.SuccessResponse(nil), nil
			},
			recordPaymentFn: func(_ context.Context, req core.RecordPaymentRequest) (core.Response, error) {
				if req.Amount != 25 {
					t.Fatalf("unexpected payment amount %d", req.Amount)
				}
				calls = append(calls, "pay")
				return core.SuccessResponse(nil), nil
			},
			continuousFn: func(_ context.Context, enabled bool) (core.Response, error) {
				if enabled {
					t.Fatalf("expected continuous payments to be disabled")
				}
				calls = append(calls, "continuous")
				return core.SuccessResponse(nil), nil
			},
		}
		ctx := context.Background()
		if err := NewAddFundsCommand(svc).Execute(ctx, AddFundsMessage{Request: core.AddFundsRequest{Amount: "3"}}); err != nil {
			t.Fatalf("add funds: %v", err)
		}
		if err := NewUpdateBudgetCommand(svc).Execute(ctx, UpdateBudgetMessage{Request: core.UpdateBudgetRequest{Amount: "7"}}); err != nil {
			t.Fatalf("update budget: %v", err)
		}
		if err := NewRecordPaymentCommand(svc).Execute(ctx, RecordPaymentMessage{Request: core.RecordPaymentRequest{Amount: 25}}); err != nil {
			t.Fatalf("record payment: %v", err)
		}
		if err := NewSetContinuousPaymentsCommand(svc).Execute(ctx, SetContinuousPaymentsMessage{}); err != nil {
			t.Fatalf("continuous payments: %v", err)
		}
		want := []string{"add:3", "update:7", "pay", "continuous"}
		if len(calls) != len(want) {
			t.Fatalf("expected %v, got %v", want, calls)
		}
		for i := range want {
			if calls[i] != want[i] {
				t.Fatalf("expected %v, got %v", want, calls)
			}
		}
	})

	t.Run("keys and rotation", func(t *testing.T) {
		var granted, rotated, scheduled bool
		svc := stubMutatingService{
			permissionsFn: func(_ context.Context, g bool) error {
				granted = g
				return nil
			},
			rotateKeysFn: func(context.Context) (core.Response, error) {
				rotated = true
				return core.SuccessResponse(core.JWK{Kid: "k2"}), nil
			},
			scheduleFn: func(context.Context) error {
				scheduled = true
				return nil
			},
		}
		ctx := context.Background()
		if err := NewSetHostPermissionsCommand(svc).Execute(ctx, SetHostPermissionsMessage{Granted: true}); err != nil {
			t.Fatalf("host permissions: %v", err)
		}
		collector := gocmd.NewResult[core.Response]()
		if err := NewRotateKeysCommand(svc).Execute(gocmd.ContextWithResult(ctx, collector), RotateKeysMessage{}); err != nil {
			t.Fatalf("rotate keys: %v", err)
		}
		if err := NewScheduleTokenRotationCommand(svc).Execute(ctx, ScheduleTokenRotationMessage{}); err != nil {
			t.Fatalf("schedule rotation: %v", err)
		}
		if !granted || !rotated || !scheduled {
			t.Fatalf("expected every service call, got granted=%v rotated=%v scheduled=%v", granted, rotated, scheduled)
		}
		result, ok := collector.Load()
		if !ok {
			t.Fatalf("expected rotate keys response")
		}
		if jwk, ok := result.Payload.(core.JWK); !ok || jwk.Kid != "k2" {
			t.Fatalf("unexpected rotate keys payload %#v", result.Payload)
		}
	})
}

func TestMessages_TypesArePrefixed(t *testing.T) {
	types := []string{
		ConnectWalletMessage{}.Type(),
		ReconnectWalletMessage{}.Type(),
		DisconnectWalletMessage{}.Type(),
		AddFundsMessage{}.Type(),
		UpdateBudgetMessage{}.Type(),
		RecordPaymentMessage{}.Type(),
		SetContinuousPaymentsMessage{}.Type(),
		SetHostPermissionsMessage{}.Type(),
		RotateKeysMessage{}.Type(),
		ScheduleTokenRotationMessage{}.Type(),
	}
	seen := map[string]bool{}
	for _, typ := range types {
		if !strings.HasPrefix(typ, "paygrants.command.") {
			t.Fatalf("unexpected message type %q", typ)
		}
		if seen[typ] {
			t.Fatalf("duplicate message type %q", typ)
		}
		seen[typ] = true
	}
}
