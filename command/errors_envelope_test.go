package command

import (
	"context"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-paygrants/core"
)

func TestConnectWalletMessage_ValidateReturnsRichError(t *testing.T) {
	err := (ConnectWalletMessage{}).Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryValidation {
		t.Fatalf("expected validation category, got %q", rich.Category)
	}
	if rich.TextCode != core.ServiceErrorBadInput {
		t.Fatalf("expected %q text code, got %q", core.ServiceErrorBadInput, rich.TextCode)
	}
	if rich.Code != http.StatusBadRequest {
		t.Fatalf("expected %d code, got %d", http.StatusBadRequest, rich.Code)
	}
	validation := rich.AllValidationErrors()
	if len(validation) == 0 || validation[0].Field != "wallet_address_url" {
		t.Fatalf("expected wallet_address_url validation field, got %+v", validation)
	}
}

func TestMessages_ValidateAmounts(t *testing.T) {
	if err := (RecordPaymentMessage{}).Validate(); err == nil {
		t.Fatalf("expected zero payment to be rejected")
	}
	if err := (AddFundsMessage{Request: core.AddFundsRequest{Amount: " "}}).Validate(); err == nil {
		t.Fatalf("expected blank add funds amount to be rejected")
	}
	if err := (UpdateBudgetMessage{Request: core.UpdateBudgetRequest{Amount: "5", RateOfPay: -1}}).Validate(); err == nil {
		t.Fatalf("expected negative rate of pay to be rejected")
	}
	ok := ConnectWalletMessage{Request: core.ConnectWalletRequest{WalletAddressURL: "$ilp.example/a", Amount: "5"}}
	if err := ok.Validate(); err != nil {
		t.Fatalf("expected valid connect message: %v", err)
	}
}

func TestConnectWalletCommand_NilServiceReturnsRichError(t *testing.T) {
	var cmd *ConnectWalletCommand
	err := cmd.Execute(context.Background(), ConnectWalletMessage{})
	if err == nil {
		t.Fatalf("expected command dependency error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryInternal {
		t.Fatalf("expected internal category, got %q", rich.Category)
	}
	if rich.TextCode != core.ServiceErrorInternal {
		t.Fatalf("expected %q text code, got %q", core.ServiceErrorInternal, rich.TextCode)
	}
}
