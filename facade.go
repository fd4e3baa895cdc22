package paygrants

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goliatone/go-paygrants/command"
	"github.com/goliatone/go-paygrants/core"
	"github.com/goliatone/go-paygrants/query"

	gocmd "github.com/goliatone/go-command"
)

// Message is the closed set of requests the host may send. Only types in
// this package implement it.
type Message interface {
	paygrantsMessage()
}

type ConnectWallet struct{ Request core.ConnectWalletRequest }

type ReconnectWallet struct{ Request core.ReconnectWalletRequest }

type DisconnectWallet struct{ Request core.DisconnectWalletRequest }

type AddFunds struct{ Request core.AddFundsRequest }

type UpdateBudget struct{ Request core.UpdateBudgetRequest }

type RecordPayment struct{ Request core.RecordPaymentRequest }

type SetContinuousPayments struct{ Enabled bool }

type SetHostPermissions struct{ Granted bool }

type RotateKeys struct{}

type ScheduleTokenRotation struct{}

type GetConnectionState struct{}

func (ConnectWallet) paygrantsMessage()         {}
func (ReconnectWallet) paygrantsMessage()       {}
func (DisconnectWallet) paygrantsMessage()      {}
func (AddFunds) paygrantsMessage()              {}
func (UpdateBudget) paygrantsMessage()          {}
func (RecordPayment) paygrantsMessage()         {}
func (SetContinuousPayments) paygrantsMessage() {}
func (SetHostPermissions) paygrantsMessage()    {}
func (RotateKeys) paygrantsMessage()            {}
func (ScheduleTokenRotation) paygrantsMessage() {}
func (GetConnectionState) paygrantsMessage()    {}

// FacadeService is what the facade drives.
type FacadeService interface {
	command.MutatingService
	query.ConnectionStateReader
}

type Commands struct {
	ConnectWallet         *command.ConnectWalletCommand
	ReconnectWallet       *command.ReconnectWalletCommand
	DisconnectWallet      *command.DisconnectWalletCommand
	AddFunds              *command.AddFundsCommand
	UpdateBudget          *command.UpdateBudgetCommand
	RecordPayment         *command.RecordPaymentCommand
	SetContinuousPayments *command.SetContinuousPaymentsCommand
	SetHostPermissions    *command.SetHostPermissionsCommand
	RotateKeys            *command.RotateKeysCommand
	ScheduleTokenRotation *command.ScheduleTokenRotationCommand
}

type Queries struct {
	GetConnectionState *query.GetConnectionStateQuery
	GetBudgetState     *query.GetBudgetStateQuery
}

type Facade struct {
	service  FacadeService
	guard    *InFlightGuard
	commands Commands
	queries  Queries
}

type FacadeOption func(*Facade)

func WithGuard(guard *InFlightGuard) FacadeOption {
	return func(f *Facade) {
		if guard != nil {
			f.guard = guard
		}
	}
}

func NewFacade(service FacadeService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("paygrants: facade service is required")
	}
	f := &Facade{service: service, guard: NewInFlightGuard(nil)}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	f.commands = Commands{
		ConnectWallet:         command.NewConnectWalletCommand(service),
		ReconnectWallet:       command.NewReconnectWalletCommand(service),
		DisconnectWallet:      command.NewDisconnectWalletCommand(service),
		AddFunds:              command.NewAddFundsCommand(service),
		UpdateBudget:          command.NewUpdateBudgetCommand(service),
		RecordPayment:         command.NewRecordPaymentCommand(service),
		SetContinuousPayments: command.NewSetContinuousPaymentsCommand(service),
		SetHostPermissions:    command.NewSetHostPermissionsCommand(service),
		RotateKeys:            command.NewRotateKeysCommand(service),
		ScheduleTokenRotation: command.NewScheduleTokenRotationCommand(service),
	}
	f.queries = Queries{
		GetConnectionState: query.NewGetConnectionStateQuery(service),
		GetBudgetState:     query.NewGetBudgetStateQuery(service),
	}
	return f, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Guard() *InFlightGuard {
	if f == nil {
		return nil
	}
	return f.guard
}

// Handle validates msg, runs it and always answers with a Response. Use
// cases that open consent surfaces hold the in-flight guard; a second one
// started meanwhile fails with WALLET_FLOW_IN_PROGRESS.
func (f *Facade) Handle(ctx context.Context, msg Message) Response {
	if f == nil || f.service == nil {
		return core.FailureResponse(fmt.Errorf("paygrants: facade is not configured"))
	}
	switch m := msg.(type) {
	case ConnectWallet:
		return f.guarded(ctx, func(ctx context.Context) error {
			return runCommand(ctx, f.commands.ConnectWallet, command.ConnectWalletMessage{Request: m.Request})
		})
	case ReconnectWallet:
		return f.guarded(ctx, func(ctx context.Context) error {
			return runCommand(ctx, f.commands.ReconnectWallet, command.ReconnectWalletMessage{Request: m.Request})
		})
	case DisconnectWallet:
		return f.guarded(ctx, func(ctx context.Context) error {
			return runCommand(ctx, f.commands.DisconnectWallet, command.DisconnectWalletMessage{Request: m.Request})
		})
	case AddFunds:
		return f.guarded(ctx, func(ctx context.Context) error {
			return runCommand(ctx, f.commands.AddFunds, command.AddFundsMessage{Request: m.Request})
		})
	case UpdateBudget:
		return f.guarded(ctx, func(ctx context.Context) error {
			return runCommand(ctx, f.commands.UpdateBudget, command.UpdateBudgetMessage{Request: m.Request})
		})
	case RecordPayment:
		return f.run(ctx, func(ctx context.Context) error {
			return runCommand(ctx, f.commands.RecordPayment, command.RecordPaymentMessage{Request: m.Request})
		})
	case SetContinuousPayments:
		return f.run(ctx, func(ctx context.Context) error {
			return runCommand(ctx, f.commands.SetContinuousPayments, command.SetContinuousPaymentsMessage{Enabled: m.Enabled})
		})
	case SetHostPermissions:
		return f.run(ctx, func(ctx context.Context) error {
			return runCommand(ctx, f.commands.SetHostPermissions, command.SetHostPermissionsMessage{Granted: m.Granted})
		})
	case RotateKeys:
		return f.guarded(ctx, func(ctx context.Context) error {
			return runCommand(ctx, f.commands.RotateKeys, command.RotateKeysMessage{})
		})
	case ScheduleTokenRotation:
		return f.run(ctx, func(ctx context.Context) error {
			return runCommand(ctx, f.commands.ScheduleTokenRotation, command.ScheduleTokenRotationMessage{})
		})
	case GetConnectionState:
		state, err := f.queries.GetConnectionState.Query(ctx, query.GetConnectionStateMessage{})
		if err != nil {
			return core.FailureResponse(err)
		}
		return core.SuccessResponse(state)
	case nil:
		return core.FailureResponse(fmt.Errorf("paygrants: message is required"))
	default:
		return core.FailureResponse(fmt.Errorf("paygrants: unhandled message %T", msg))
	}
}

type validatingCommander[T interface{ Validate() error }] interface {
	Execute(ctx context.Context, msg T) error
}

func runCommand[T interface{ Validate() error }](ctx context.Context, cmd validatingCommander[T], msg T) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	return cmd.Execute(ctx, msg)
}

func (f *Facade) guarded(ctx context.Context, fn func(context.Context) error) Response {
	release, err := f.guard.Enter(ctx)
	if err != nil {
		return core.FailureResponse(err)
	}
	defer release()
	return f.run(ctx, fn)
}

// run collects the Response a command stored, falling back to a plain
// success or failure when the command stored none.
func (f *Facade) run(ctx context.Context, fn func(context.Context) error) Response {
	collector := gocmd.NewResult[core.Response]()
	err := fn(gocmd.ContextWithResult(ctx, collector))
	if stored, ok := collector.Load(); ok {
		return stored
	}
	if err != nil {
		return core.FailureResponse(err)
	}
	return core.SuccessResponse(nil)
}

// InFlightGuard is the single in-flight flag for interactive wallet flows,
// held on a core.FlowLocker.
type InFlightGuard struct {
	locker core.FlowLocker
	flow   string
	ttl    time.Duration
}

func NewInFlightGuard(locker core.FlowLocker) *InFlightGuard {
	if locker == nil {
		locker = core.NewMemoryFlowLocker()
	}
	return &InFlightGuard{locker: locker, flow: core.FlowWallet, ttl: 30 * time.Minute}
}

// Enter takes the flag or fails with core.ErrFlowInProgress. The returned
// func releases it.
func (g *InFlightGuard) Enter(ctx context.Context) (release func(), err error) {
	handle, err := g.locker.Acquire(ctx, g.flow, g.ttl)
	if err != nil {
		if !errors.Is(err, core.ErrFlowInProgress) {
			err = fmt.Errorf("%w: %v", core.ErrFlowInProgress, err)
		}
		return nil, err
	}
	return func() {
		_ = handle.Unlock(context.WithoutCancel(ctx))
	}, nil
}
