package query

const (
	TypeGetConnectionState = "paygrants.query.connection_state.get"
	TypeGetBudgetState     = "paygrants.query.budget_state.get"
)

type GetConnectionStateMessage struct{}

func (GetConnectionStateMessage) Type() string { return TypeGetConnectionState }

func (GetConnectionStateMessage) Validate() error { return nil }

// GetBudgetStateMessage reads only the budget part of the connection state.
// When RequireConnected is set the query fails for a disconnected wallet.
type GetBudgetStateMessage struct {
	RequireConnected bool
}

func (GetBudgetStateMessage) Type() string { return TypeGetBudgetState }

func (GetBudgetStateMessage) Validate() error { return nil }
