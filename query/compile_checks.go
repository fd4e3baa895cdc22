package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-paygrants/core"
)

var (
	_ gocmd.Querier[GetConnectionStateMessage, core.ConnectionState] = (*GetConnectionStateQuery)(nil)
	_ gocmd.Querier[GetBudgetStateMessage, core.BudgetState]         = (*GetBudgetStateQuery)(nil)
)
