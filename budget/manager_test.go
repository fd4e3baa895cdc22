package budget

import (
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-paygrants/core"
)

var fixedNow = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

func TestComputeAmount_ConvertsToMinorUnits(t *testing.T) {
	cases := []struct {
		value string
		scale int
		want  string
	}{
		{value: "5.00", scale: 2, want: "500"},
		{value: "5", scale: 2, want: "500"},
		{value: "0.019", scale: 2, want: "1"},
		{value: "12.5", scale: 0, want: "12"},
		{value: " 1.234567 ", scale: 9, want: "1234567000"},
	}
	for _, tc := range cases {
		amount, err := ComputeAmount(tc.value, false, tc.scale, fixedNow)
		if err != nil {
			t.Fatalf("compute %q: %v", tc.value, err)
		}
		if amount.Value != tc.want {
			t.Fatalf("compute %q scale %d: expected %s, got %s", tc.value, tc.scale, tc.want, amount.Value)
		}
		if amount.Interval != "" {
			t.Fatalf("expected no interval for one-time amount, got %q", amount.Interval)
		}
	}
}

func TestComputeAmount_RecurringSetsInterval(t *testing.T) {
	amount, err := ComputeAmount("10", true, 2, fixedNow)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if amount.Interval != "R/2026-03-04T05:06:07Z/P1M" {
		t.Fatalf("unexpected interval %q", amount.Interval)
	}
}

func TestComputeAmount_RejectsInvalidValues(t *testing.T) {
	for _, value := range []string{"", "abc", "-1", "0", "0.001", "NaN", "Infinity", "99999999999999999999"} {
		_, err := ComputeAmount(value, false, 2, fixedNow)
		var invalid *core.InvalidAmountError
		if !errors.As(err, &invalid) {
			t.Fatalf("expected invalid amount error for %q, got %v", value, err)
		}
	}
	if _, err := ComputeAmount("1", false, -1, fixedNow); !errors.Is(err, core.ErrInvalidAmount) {
		t.Fatalf("expected negative scale to fail, got %v", err)
	}
}

func TestFormatMinor(t *testing.T) {
	if got := FormatMinor(500, 2); got != "5.00" {
		t.Fatalf("expected 5.00, got %s", got)
	}
	if got := FormatMinor(7, 0); got != "7" {
		t.Fatalf("expected 7, got %s", got)
	}
}

func TestManager_OneTimeScenario(t *testing.T) {
	manager := NewManager(WithClock(func() time.Time { return fixedNow }))

	amount, err := manager.ComputeAmount("5.00", false, 2)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if amount.Value != "500" {
		t.Fatalf("expected 500, got %s", amount.Value)
	}
	state, err := manager.ApplyGrant(core.Grant{Kind: core.GrantKindOneTime, Amount: amount, AccessToken: "tok"})
	if err != nil {
		t.Fatalf("apply grant: %v", err)
	}
	if state.Balance() != 500 {
		t.Fatalf("expected balance 500, got %d", state.Balance())
	}

	state, err = manager.Debit(600)
	var insufficient *core.InsufficientBalanceError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if insufficient.Available != 500 || insufficient.Requested != 600 {
		t.Fatalf("unexpected error detail %+v", insufficient)
	}
	if !state.OutOfFunds || !manager.State().OutOfFunds {
		t.Fatalf("expected out of funds to be set")
	}
	if manager.State().Balance() != 500 {
		t.Fatalf("expected failed debit to leave balance, got %d", manager.State().Balance())
	}

	state, err = manager.Debit(500)
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if state.Balance() != 0 {
		t.Fatalf("expected empty balance, got %d", state.Balance())
	}
}

func TestManager_DebitNeverGoesNegative(t *testing.T) {
	manager := NewManager()
	if _, err := manager.ApplyGrant(core.Grant{Kind: core.GrantKindOneTime, Amount: core.Amount{Value: "100"}}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	debits := []int64{30, 30, 30, 30, 10}
	var failedAt = -1
	for i, debit := range debits {
		before := manager.State().Balance()
		after, err := manager.Debit(debit)
		if err != nil {
			if failedAt < 0 {
				failedAt = i
			}
			if manager.State().Balance() != before {
				t.Fatalf("debit %d changed balance on failure", i)
			}
			continue
		}
		if after.Balance() < 0 || after.Balance() > before {
			t.Fatalf("debit %d produced balance %d from %d", i, after.Balance(), before)
		}
	}
	if failedAt != 3 {
		t.Fatalf("expected the fourth debit to fail first, got %d", failedAt)
	}
	if manager.State().Balance() != 0 {
		t.Fatalf("expected final debit of 10 to drain the balance, got %d", manager.State().Balance())
	}
}

func TestManager_DebitDrawsRecurringFirst(t *testing.T) {
	manager := NewManager()
	if _, err := manager.ApplyGrant(core.Grant{Kind: core.GrantKindRecurring, Amount: core.Amount{Value: "50", Interval: "R/x/P1M"}}); err != nil {
		t.Fatalf("apply recurring: %v", err)
	}
	if _, err := manager.ApplyGrant(core.Grant{Kind: core.GrantKindOneTime, Amount: core.Amount{Value: "50"}}); err != nil {
		t.Fatalf("apply one-time: %v", err)
	}

	state, err := manager.Debit(70)
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if state.Recurring.Spent != 50 || state.OneTime.Spent != 20 {
		t.Fatalf("unexpected ledgers %+v", state)
	}
	if state.Recurring.Interval != "R/x/P1M" {
		t.Fatalf("expected interval to be kept, got %q", state.Recurring.Interval)
	}
}

func TestManager_ApplyGrantClearsOutOfFundsAndKeepsOtherKind(t *testing.T) {
	manager := NewManager()
	if _, err := manager.ApplyGrant(core.Grant{Kind: core.GrantKindRecurring, Amount: core.Amount{Value: "10"}}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, err := manager.Debit(20); err == nil {
		t.Fatalf("expected overdraft to fail")
	}
	state, err := manager.ApplyGrant(core.Grant{Kind: core.GrantKindOneTime, Amount: core.Amount{Value: "40"}})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if state.OutOfFunds {
		t.Fatalf("expected out of funds to clear")
	}
	if state.Recurring.Granted != 10 || state.Balance() != 50 {
		t.Fatalf("unexpected state %+v", state)
	}
}

func TestManager_RejectsInvalidInput(t *testing.T) {
	manager := NewManager()
	if _, err := manager.Debit(0); !errors.Is(err, core.ErrInvalidAmount) {
		t.Fatalf("expected zero debit to fail, got %v", err)
	}
	if _, err := manager.ApplyGrant(core.Grant{Kind: "weekly", Amount: core.Amount{Value: "1"}}); !errors.Is(err, core.ErrUnexpectedGrantType) {
		t.Fatalf("expected unknown kind to fail, got %v", err)
	}
	if _, err := manager.ApplyGrant(core.Grant{Kind: core.GrantKindOneTime, Amount: core.Amount{Value: "1.5"}}); !errors.Is(err, core.ErrInvalidAmount) {
		t.Fatalf("expected fractional grant value to fail, got %v", err)
	}
}

func TestManager_SetRateOfPayClamps(t *testing.T) {
	manager := NewManager(WithRateBounds(10, 1000), WithDefaultRateOfPay(60))
	if manager.State().RateOfPay != 60 {
		t.Fatalf("expected default rate 60, got %d", manager.State().RateOfPay)
	}
	if got := manager.SetRateOfPay(1); got != 10 {
		t.Fatalf("expected clamp to 10, got %d", got)
	}
	if got := manager.SetRateOfPay(5000); got != 1000 {
		t.Fatalf("expected clamp to 1000, got %d", got)
	}
	if got := manager.SetRateOfPay(250); got != 250 {
		t.Fatalf("expected 250, got %d", got)
	}
}

func TestManager_NotifiesObservers(t *testing.T) {
	var seen []core.BudgetState
	manager := NewManager(WithObserver(func(state core.BudgetState) {
		seen = append(seen, state)
	}))

	manager.SetContinuousPayments(true)
	manager.Restore(core.BudgetState{RateOfPay: 5})
	manager.Reset()

	if len(seen) != 2 {
		t.Fatalf("expected two notifications, got %d", len(seen))
	}
	if !seen[0].ContinuousPaymentsEnabled {
		t.Fatalf("expected first notification to carry continuous payments")
	}
	if seen[1].RateOfPay != DefaultRateOfPay {
		t.Fatalf("expected reset to restore default rate, got %d", seen[1].RateOfPay)
	}
}
