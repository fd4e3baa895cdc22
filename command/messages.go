package command

import (
	"strings"

	"github.com/goliatone/go-paygrants/core"
)

const (
	TypeConnectWallet         = "paygrants.command.wallet.connect"
	TypeReconnectWallet       = "paygrants.command.wallet.reconnect"
	TypeDisconnectWallet      = "paygrants.command.wallet.disconnect"
	TypeAddFunds              = "paygrants.command.budget.add_funds"
	TypeUpdateBudget          = "paygrants.command.budget.update"
	TypeRecordPayment         = "paygrants.command.budget.record_payment"
	TypeSetContinuousPayments = "paygrants.command.budget.continuous_payments"
	TypeSetHostPermissions    = "paygrants.command.host_permissions.set"
	TypeRotateKeys            = "paygrants.command.keys.rotate"
	TypeScheduleTokenRotation = "paygrants.command.token_rotation.schedule"
)

type ConnectWalletMessage struct {
	Request core.ConnectWalletRequest
}

func (ConnectWalletMessage) Type() string { return TypeConnectWallet }

func (m ConnectWalletMessage) Validate() error {
	if strings.TrimSpace(m.Request.WalletAddressURL) == "" {
		return commandValidationError("wallet_address_url", "wallet address url is required")
	}
	if strings.TrimSpace(m.Request.Amount) == "" {
		return commandValidationError("amount", "amount is required")
	}
	if m.Request.RateOfPay < 0 {
		return commandValidationError("rate_of_pay", "rate of pay must be >= 0")
	}
	return nil
}

type ReconnectWalletMessage struct {
	Request core.ReconnectWalletRequest
}

func (ReconnectWalletMessage) Type() string { return TypeReconnectWallet }

func (ReconnectWalletMessage) Validate() error { return nil }

type DisconnectWalletMessage struct {
	Request core.DisconnectWalletRequest
}

func (DisconnectWalletMessage) Type() string { return TypeDisconnectWallet }

func (DisconnectWalletMessage) Validate() error { return nil }

type AddFundsMessage struct {
	Request core.AddFundsRequest
}

func (AddFundsMessage) Type() string { return TypeAddFunds }

func (m AddFundsMessage) Validate() error {
	if strings.TrimSpace(m.Request.Amount) == "" {
		return commandValidationError("amount", "amount is required")
	}
	return nil
}

type UpdateBudgetMessage struct {
	Request core.UpdateBudgetRequest
}

func (UpdateBudgetMessage) Type() string { return TypeUpdateBudget }

func (m UpdateBudgetMessage) Validate() error {
	if strings.TrimSpace(m.Request.Amount) == "" {
		return commandValidationError("amount", "amount is required")
	}
	if m.Request.RateOfPay < 0 {
		return commandValidationError("rate_of_pay", "rate of pay must be >= 0")
	}
	return nil
}

type RecordPaymentMessage struct {
	Request core.RecordPaymentRequest
}

func (RecordPaymentMessage) Type() string { return TypeRecordPayment }

func (m RecordPaymentMessage) Validate() error {
	if m.Request.Amount <= 0 {
		return commandValidationError("amount", "amount must be > 0")
	}
	return nil
}

type SetContinuousPaymentsMessage struct {
	Enabled bool
}

func (SetContinuousPaymentsMessage) Type() string { return TypeSetContinuousPayments }

func (SetContinuousPaymentsMessage) Validate() error { return nil }

type SetHostPermissionsMessage struct {
	Granted bool
}

func (SetHostPermissionsMessage) Type() string { return TypeSetHostPermissions }

func (SetHostPermissionsMessage) Validate() error { return nil }

type RotateKeysMessage struct{}

func (RotateKeysMessage) Type() string { return TypeRotateKeys }

func (RotateKeysMessage) Validate() error { return nil }

type ScheduleTokenRotationMessage struct{}

func (ScheduleTokenRotationMessage) Type() string { return TypeScheduleTokenRotation }

func (ScheduleTokenRotationMessage) Validate() error { return nil }
