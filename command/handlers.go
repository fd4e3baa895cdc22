package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-paygrants/core"
)

// MutatingService is the slice of core.Service the write side needs.
type MutatingService interface {
	ConnectWallet(ctx context.Context, req core.ConnectWalletRequest) (core.Response, error)
	ReconnectWallet(ctx context.Context, req core.ReconnectWalletRequest) (core.Response, error)
	DisconnectWallet(ctx context.Context, req core.DisconnectWalletRequest) (core.Response, error)
	AddFunds(ctx context.Context, req core.AddFundsRequest) (core.Response, error)
	UpdateBudget(ctx context.Context, req core.UpdateBudgetRequest) (core.Response, error)
	RecordPayment(ctx context.Context, req core.RecordPaymentRequest) (core.Response, error)
	SetContinuousPayments(ctx context.Context, enabled bool) (core.Response, error)
	SetHostPermissions(ctx context.Context, granted bool) error
	RotateKeys(ctx context.Context) (core.Response, error)
	ScheduleTokenRotation(ctx context.Context) error
}

type ConnectWalletCommand struct {
	service MutatingService
}

func NewConnectWalletCommand(service MutatingService) *ConnectWalletCommand {
	return &ConnectWalletCommand{service: service}
}

func (c *ConnectWalletCommand) Execute(ctx context.Context, msg ConnectWalletMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: connect wallet service is required")
	}
	out, err := c.service.ConnectWallet(ctx, msg.Request)
	storeResult(ctx, out)
	return err
}

type ReconnectWalletCommand struct {
	service MutatingService
}

func NewReconnectWalletCommand(service MutatingService) *ReconnectWalletCommand {
	return &ReconnectWalletCommand{service: service}
}

func (c *ReconnectWalletCommand) Execute(ctx context.Context, msg ReconnectWalletMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: reconnect wallet service is required")
	}
	out, err := c.service.ReconnectWallet(ctx, msg.Request)
	storeResult(ctx, out)
	return err
}

type DisconnectWalletCommand struct {
	service MutatingService
}

func NewDisconnectWalletCommand(service MutatingService) *DisconnectWalletCommand {
	return &DisconnectWalletCommand{service: service}
}

func (c *DisconnectWalletCommand) Execute(ctx context.Context, msg DisconnectWalletMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: disconnect wallet service is required")
	}
	out, err := c.service.DisconnectWallet(ctx, msg.Request)
	storeResult(ctx, out)
	return err
}

type AddFundsCommand struct {
	service MutatingService
}

func NewAddFundsCommand(service MutatingService) *AddFundsCommand {
	return &AddFundsCommand{service: service}
}

func (c *AddFundsCommand) Execute(ctx context.Context, msg AddFundsMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: add funds service is required")
	}
	out, err := c.service.AddFunds(ctx, msg.Request)
	storeResult(ctx, out)
	return err
}

type UpdateBudgetCommand struct {
	service MutatingService
}

func NewUpdateBudgetCommand(service MutatingService) *UpdateBudgetCommand {
	return &UpdateBudgetCommand{service: service}
}

func (c *UpdateBudgetCommand) Execute(ctx context.Context, msg UpdateBudgetMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: update budget service is required")
	}
	out, err := c.service.UpdateBudget(ctx, msg.Request)
	storeResult(ctx, out)
	return err
}

type RecordPaymentCommand struct {
	service MutatingService
}

func NewRecordPaymentCommand(service MutatingService) *RecordPaymentCommand {
	return &RecordPaymentCommand{service: service}
}

func (c *RecordPaymentCommand) Execute(ctx context.Context, msg RecordPaymentMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: record payment service is required")
	}
	out, err := c.service.RecordPayment(ctx, msg.Request)
	storeResult(ctx, out)
	return err
}

type SetContinuousPaymentsCommand struct {
	service MutatingService
}

func NewSetContinuousPaymentsCommand(service MutatingService) *SetContinuousPaymentsCommand {
	return &SetContinuousPaymentsCommand{service: service}
}

func (c *SetContinuousPaymentsCommand) Execute(ctx context.Context, msg SetContinuousPaymentsMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: continuous payments service is required")
	}
	out, err := c.service.SetContinuousPayments(ctx, msg.Enabled)
	storeResult(ctx, out)
	return err
}

type SetHostPermissionsCommand struct {
	service MutatingService
}

func NewSetHostPermissionsCommand(service MutatingService) *SetHostPermissionsCommand {
	return &SetHostPermissionsCommand{service: service}
}

func (c *SetHostPermissionsCommand) Execute(ctx context.Context, msg SetHostPermissionsMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: host permissions service is required")
	}
	return c.service.SetHostPermissions(ctx, msg.Granted)
}

type RotateKeysCommand struct {
	service MutatingService
}

func NewRotateKeysCommand(service MutatingService) *RotateKeysCommand {
	return &RotateKeysCommand{service: service}
}

func (c *RotateKeysCommand) Execute(ctx context.Context, _ RotateKeysMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: rotate keys service is required")
	}
	out, err := c.service.RotateKeys(ctx)
	storeResult(ctx, out)
	return err
}

type ScheduleTokenRotationCommand struct {
	service MutatingService
}

func NewScheduleTokenRotationCommand(service MutatingService) *ScheduleTokenRotationCommand {
	return &ScheduleTokenRotationCommand{service: service}
}

func (c *ScheduleTokenRotationCommand) Execute(ctx context.Context, _ ScheduleTokenRotationMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: token rotation service is required")
	}
	return c.service.ScheduleTokenRotation(ctx)
}

// storeResult hands the Response to a collector when the caller attached one.
// Failed use cases still store their Response so hosts can render the
// localized error key.
func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
