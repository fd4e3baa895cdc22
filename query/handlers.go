package query

import (
	"context"

	"github.com/goliatone/go-paygrants/core"
)

type ConnectionStateReader interface {
	GetConnectionState(ctx context.Context) (core.ConnectionState, error)
}

type GetConnectionStateQuery struct {
	reader ConnectionStateReader
}

func NewGetConnectionStateQuery(reader ConnectionStateReader) *GetConnectionStateQuery {
	return &GetConnectionStateQuery{reader: reader}
}

func (q *GetConnectionStateQuery) Query(ctx context.Context, _ GetConnectionStateMessage) (core.ConnectionState, error) {
	if q == nil || q.reader == nil {
		return core.ConnectionState{}, queryDependencyError("query: connection state reader is required")
	}
	return q.reader.GetConnectionState(ctx)
}

type GetBudgetStateQuery struct {
	reader ConnectionStateReader
}

func NewGetBudgetStateQuery(reader ConnectionStateReader) *GetBudgetStateQuery {
	return &GetBudgetStateQuery{reader: reader}
}

func (q *GetBudgetStateQuery) Query(ctx context.Context, msg GetBudgetStateMessage) (core.BudgetState, error) {
	if q == nil || q.reader == nil {
		return core.BudgetState{}, queryDependencyError("query: connection state reader is required")
	}
	state, err := q.reader.GetConnectionState(ctx)
	if err != nil {
		return core.BudgetState{}, err
	}
	if msg.RequireConnected && !state.Connected {
		return core.BudgetState{}, core.ErrNotConnected
	}
	return state.Budget, nil
}
