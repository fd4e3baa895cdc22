package gocommand

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gocmd "github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"

	"github.com/goliatone/go-paygrants/command"
	"github.com/goliatone/go-paygrants/core"
	"github.com/goliatone/go-paygrants/query"
)

// Service is everything the registered handlers call into.
type Service interface {
	command.MutatingService
	query.ConnectionStateReader
}

// ValidateMessageContract enforces Type() plus the optional Validate().
func ValidateMessageContract(msg any) error {
	if err := gocmd.ValidateMessage(msg); err != nil {
		return err
	}
	m, ok := msg.(gocmd.Message)
	if !ok {
		return fmt.Errorf("gocommand: message must implement Type() string")
	}
	if strings.TrimSpace(m.Type()) == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	return nil
}

type RegistryAdapter struct {
	registry *gocmd.Registry
}

func NewRegistryAdapter(registry *gocmd.Registry) *RegistryAdapter {
	if registry == nil {
		registry = gocmd.NewRegistry()
	}
	return &RegistryAdapter{registry: registry}
}

func (a *RegistryAdapter) Registry() *gocmd.Registry {
	if a == nil {
		return nil
	}
	return a.registry
}

func (a *RegistryAdapter) register(handler any) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.RegisterCommand(handler)
}

// AddQueueResolver mirrors registered commands into a go-job queue registry
// so they can also run as background jobs.
func (a *RegistryAdapter) AddQueueResolver(key string, queueRegistry *jobqueuecommand.Registry) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	return a.registry.AddResolver(strings.TrimSpace(key), jobqueuecommand.QueueResolver(queueRegistry))
}

func (a *RegistryAdapter) Initialize() error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.Initialize()
}

// Registration holds the dispatcher subscriptions created by
// RegisterHandlers.
type Registration struct {
	subscriptions []commanddispatcher.Subscription
}

func (r *Registration) Len() int {
	if r == nil {
		return 0
	}
	return len(r.subscriptions)
}

// Close unsubscribes every handler.
func (r *Registration) Close() {
	if r == nil {
		return
	}
	for _, sub := range r.subscriptions {
		if sub != nil {
			sub.Unsubscribe()
		}
	}
	r.subscriptions = nil
}

// RegisterHandlers subscribes every paygrants command and query to the
// go-command dispatcher and registers them with the adapter's registry.
func RegisterHandlers(adapter *RegistryAdapter, svc Service, runnerOpts ...runner.Option) (*Registration, error) {
	if svc == nil {
		return nil, fmt.Errorf("gocommand: service is required")
	}
	reg := &Registration{}
	var errs []error
	add := func(sub commanddispatcher.Subscription, handler any) {
		reg.subscriptions = append(reg.subscriptions, sub)
		errs = append(errs, adapter.register(handler))
	}

	connect := command.NewConnectWalletCommand(svc)
	add(commanddispatcher.SubscribeCommand[command.ConnectWalletMessage](connect, runnerOpts...), connect)
	reconnect := command.NewReconnectWalletCommand(svc)
	add(commanddispatcher.SubscribeCommand[command.ReconnectWalletMessage](reconnect, runnerOpts...), reconnect)
	disconnect := command.NewDisconnectWalletCommand(svc)
	add(commanddispatcher.SubscribeCommand[command.DisconnectWalletMessage](disconnect, runnerOpts...), disconnect)
	addFunds := command.NewAddFundsCommand(svc)
	add(commanddispatcher.SubscribeCommand[command.AddFundsMessage](addFunds, runnerOpts...), addFunds)
	updateBudget := command.NewUpdateBudgetCommand(svc)
	add(commanddispatcher.SubscribeCommand[command.UpdateBudgetMessage](updateBudget, runnerOpts...), updateBudget)
	recordPayment := command.NewRecordPaymentCommand(svc)
	add(commanddispatcher.SubscribeCommand[command.RecordPaymentMessage](recordPayment, runnerOpts...), recordPayment)
	continuous := command.NewSetContinuousPaymentsCommand(svc)
	add(commanddispatcher.SubscribeCommand[command.SetContinuousPaymentsMessage](continuous, runnerOpts...), continuous)
	permissions := command.NewSetHostPermissionsCommand(svc)
	add(commanddispatcher.SubscribeCommand[command.SetHostPermissionsMessage](permissions, runnerOpts...), permissions)
	rotateKeys := command.NewRotateKeysCommand(svc)
	add(commanddispatcher.SubscribeCommand[command.RotateKeysMessage](rotateKeys, runnerOpts...), rotateKeys)
	schedule := command.NewScheduleTokenRotationCommand(svc)
	add(commanddispatcher.SubscribeCommand[command.ScheduleTokenRotationMessage](schedule, runnerOpts...), schedule)

	connectionState := query.NewGetConnectionStateQuery(svc)
	add(commanddispatcher.SubscribeQuery[query.GetConnectionStateMessage, core.ConnectionState](connectionState, runnerOpts...), connectionState)
	budgetState := query.NewGetBudgetStateQuery(svc)
	add(commanddispatcher.SubscribeQuery[query.GetBudgetStateMessage, core.BudgetState](budgetState, runnerOpts...), budgetState)

	if err := errors.Join(errs...); err != nil {
		reg.Close()
		return nil, err
	}
	return reg, nil
}

func Dispatch[T any](ctx context.Context, msg T) error {
	return commanddispatcher.Dispatch(ctx, msg)
}

func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	return commanddispatcher.Query[T, R](ctx, msg)
}
