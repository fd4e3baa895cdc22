package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[ConnectWalletMessage]         = (*ConnectWalletCommand)(nil)
	_ gocmd.Commander[ReconnectWalletMessage]       = (*ReconnectWalletCommand)(nil)
	_ gocmd.Commander[DisconnectWalletMessage]      = (*DisconnectWalletCommand)(nil)
	_ gocmd.Commander[AddFundsMessage]              = (*AddFundsCommand)(nil)
	_ gocmd.Commander[UpdateBudgetMessage]          = (*UpdateBudgetCommand)(nil)
	_ gocmd.Commander[RecordPaymentMessage]         = (*RecordPaymentCommand)(nil)
	_ gocmd.Commander[SetContinuousPaymentsMessage] = (*SetContinuousPaymentsCommand)(nil)
	_ gocmd.Commander[SetHostPermissionsMessage]    = (*SetHostPermissionsCommand)(nil)
	_ gocmd.Commander[RotateKeysMessage]            = (*RotateKeysCommand)(nil)
	_ gocmd.Commander[ScheduleTokenRotationMessage] = (*ScheduleTokenRotationCommand)(nil)
)
