package budget

import (
	"strconv"
	"sync"
	"time"

	"github.com/goliatone/go-paygrants/core"
)

const (
	DefaultMinRateOfPay int64 = 1
	DefaultMaxRateOfPay int64 = 100000
	DefaultRateOfPay    int64 = 60
)

// Observer receives a copy of the state after every mutation.
type Observer func(core.BudgetState)

type Option func(*Manager)

func WithRateBounds(minRate, maxRate int64) Option {
	return func(m *Manager) {
		if minRate >= 0 {
			m.minRate = minRate
		}
		if maxRate >= m.minRate {
			m.maxRate = maxRate
		}
	}
}

func WithDefaultRateOfPay(rate int64) Option {
	return func(m *Manager) {
		if rate > 0 {
			m.defaultRate = rate
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithObserver(observer Observer) Option {
	return func(m *Manager) {
		if observer != nil {
			m.observers = append(m.observers, observer)
		}
	}
}

// Manager keeps the budget ledgers. It does no I/O; persistence belongs to
// the caller. Only ApplyGrant can raise the balance.
type Manager struct {
	mu          sync.Mutex
	state       core.BudgetState
	minRate     int64
	maxRate     int64
	defaultRate int64
	now         func() time.Time
	observers   []Observer
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		minRate:     DefaultMinRateOfPay,
		maxRate:     DefaultMaxRateOfPay,
		defaultRate: DefaultRateOfPay,
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	m.state.RateOfPay = m.clamp(m.defaultRate)
	return m
}

func (m *Manager) ComputeAmount(value string, recurring bool, assetScale int) (core.Amount, error) {
	return ComputeAmount(value, recurring, assetScale, m.now())
}

// ApplyGrant resets the ledger of the grant's kind to the granted value and
// clears the out-of-funds flag. The other kind is left as is.
func (m *Manager) ApplyGrant(grant core.Grant) (core.BudgetState, error) {
	if !grant.Kind.Valid() {
		return core.BudgetState{}, &core.UnexpectedGrantTypeError{Expected: "recurring or oneTime", Got: string(grant.Kind)}
	}
	granted, err := grant.Amount.MinorUnits()
	if err != nil {
		return core.BudgetState{}, err
	}
	ledger := core.GrantLedger{Granted: granted}
	if grant.Kind == core.GrantKindRecurring {
		ledger.Interval = grant.Amount.Interval
	}

	m.mu.Lock()
	if grant.Kind == core.GrantKindRecurring {
		m.state.Recurring = ledger
	} else {
		m.state.OneTime = ledger
	}
	m.state.OutOfFunds = false
	state := m.state
	m.mu.Unlock()

	m.notify(state)
	return state, nil
}

// Debit books a payment. An amount above the balance is rejected as a whole
// and raises the out-of-funds flag. The recurring ledger is drawn first.
func (m *Manager) Debit(amount int64) (core.BudgetState, error) {
	if amount <= 0 {
		return m.State(), &core.InvalidAmountError{Value: strconv.FormatInt(amount, 10), Reason: "debit must be positive"}
	}

	m.mu.Lock()
	available := m.state.Balance()
	if amount > available {
		changed := !m.state.OutOfFunds
		m.state.OutOfFunds = true
		state := m.state
		m.mu.Unlock()
		if changed {
			m.notify(state)
		}
		return state, &core.InsufficientBalanceError{Requested: amount, Available: available}
	}

	remaining := amount
	remaining = drawFrom(&m.state.Recurring, remaining)
	drawFrom(&m.state.OneTime, remaining)
	state := m.state
	m.mu.Unlock()

	m.notify(state)
	return state, nil
}

func drawFrom(ledger *core.GrantLedger, amount int64) int64 {
	if amount <= 0 {
		return 0
	}
	take := min(ledger.Remaining(), amount)
	ledger.Spent += take
	return amount - take
}

// SetRateOfPay clamps the rate into the configured bounds and returns the
// value that was stored.
func (m *Manager) SetRateOfPay(rate int64) int64 {
	m.mu.Lock()
	m.state.RateOfPay = m.clamp(rate)
	state := m.state
	m.mu.Unlock()

	m.notify(state)
	return state.RateOfPay
}

func (m *Manager) SetContinuousPayments(enabled bool) core.BudgetState {
	m.mu.Lock()
	m.state.ContinuousPaymentsEnabled = enabled
	state := m.state
	m.mu.Unlock()

	m.notify(state)
	return state
}

// Restore replaces the state with a persisted snapshot. Observers are not
// notified.
func (m *Manager) Restore(state core.BudgetState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
	if state.RateOfPay == 0 {
		m.state.RateOfPay = m.clamp(m.defaultRate)
	} else {
		m.state.RateOfPay = m.clamp(state.RateOfPay)
	}
}

func (m *Manager) Reset() core.BudgetState {
	m.mu.Lock()
	m.state = core.BudgetState{RateOfPay: m.clamp(m.defaultRate)}
	state := m.state
	m.mu.Unlock()

	m.notify(state)
	return state
}

func (m *Manager) State() core.BudgetState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) clamp(rate int64) int64 {
	if rate < m.minRate {
		return m.minRate
	}
	if m.maxRate > 0 && rate > m.maxRate {
		return m.maxRate
	}
	return rate
}

func (m *Manager) notify(state core.BudgetState) {
	for _, observer := range m.observers {
		observer(state)
	}
}

var _ core.BudgetManager = (*Manager)(nil)
