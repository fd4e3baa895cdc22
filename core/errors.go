package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ServiceErrorBadInput              = "PAYGRANTS_BAD_INPUT"
	ServiceErrorNotConnected          = "WALLET_NOT_CONNECTED"
	ServiceErrorFlowInProgress        = "WALLET_FLOW_IN_PROGRESS"
	ServiceErrorSigningPrecondition   = "WALLET_SIGNING_PRECONDITION"
	ServiceErrorUnexpectedGrantType   = "WALLET_UNEXPECTED_GRANT_TYPE"
	ServiceErrorInvalidClient         = "WALLET_INVALID_CLIENT"
	ServiceErrorTabClosed             = "WALLET_TAB_CLOSED"
	ServiceErrorTimeout               = "WALLET_INTERACTION_TIMEOUT"
	ServiceErrorInteractionHash       = "WALLET_INTERACTION_HASH_MISMATCH"
	ServiceErrorInteractionInProgress = "WALLET_INTERACTION_IN_PROGRESS"
	ServiceErrorGrantRejected         = "WALLET_GRANT_REJECTED"
	ServiceErrorInsufficientBalance   = "WALLET_INSUFFICIENT_BALANCE"
	ServiceErrorInvalidAmount         = "WALLET_INVALID_AMOUNT"
	ServiceErrorKeyAddUnsupported     = "WALLET_KEY_ADD_UNSUPPORTED"
	ServiceErrorInvalidWalletAddress  = "WALLET_INVALID_ADDRESS"
	ServiceErrorUpstream              = "WALLET_UPSTREAM_ERROR"
	ServiceErrorRateLimited           = "WALLET_RATE_LIMITED"
	ServiceErrorInternal              = "PAYGRANTS_INTERNAL_ERROR"
)

// ToServiceError maps any error produced by this module into a go-errors
// envelope. TextCode is the stable key presentation layers localize, and
// Metadata holds the substitution values.
func ToServiceError(err error) *goerrors.Error {
	return serviceErrorMapper(err)
}

func serviceErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureServiceErrorEnvelope(richErr)
	}

	subs := ErrorSubstitutions(err)
	switch {
	// key-add failures wrap the invalid client error, so they are matched first
	case errors.Is(err, ErrNotImplemented):
		return newServiceError(err.Error(), goerrors.CategoryOperation, ServiceErrorKeyAddUnsupported, subs)
	case errors.Is(err, ErrTabClosed):
		return newServiceError(err.Error(), goerrors.CategoryOperation, ServiceErrorTabClosed, subs)
	case errors.Is(err, ErrTimeout):
		return newServiceError(err.Error(), goerrors.CategoryOperation, ServiceErrorTimeout, subs)
	case errors.Is(err, ErrInteractionHash):
		return newServiceError(err.Error(), goerrors.CategoryAuth, ServiceErrorInteractionHash, subs)
	case errors.Is(err, ErrInvalidClient):
		return newServiceError(err.Error(), goerrors.CategoryAuth, ServiceErrorInvalidClient, subs)
	case errors.Is(err, ErrGrantRejected):
		return newServiceError(err.Error(), goerrors.CategoryAuthz, ServiceErrorGrantRejected, subs)
	case errors.Is(err, ErrSigningPrecondition):
		return newServiceError(err.Error(), goerrors.CategoryBadInput, ServiceErrorSigningPrecondition, subs)
	case errors.Is(err, ErrUnexpectedGrantType):
		return newServiceError(err.Error(), goerrors.CategoryExternal, ServiceErrorUnexpectedGrantType, subs)
	case errors.Is(err, ErrInsufficientBalance):
		return newServiceError(err.Error(), goerrors.CategoryConflict, ServiceErrorInsufficientBalance, subs)
	case errors.Is(err, ErrInvalidAmount):
		return newServiceError(err.Error(), goerrors.CategoryValidation, ServiceErrorInvalidAmount, subs)
	case errors.Is(err, ErrInvalidWalletAddress):
		return newServiceError(err.Error(), goerrors.CategoryValidation, ServiceErrorInvalidWalletAddress, subs)
	case errors.Is(err, ErrInteractionInProgress):
		return newServiceError(err.Error(), goerrors.CategoryConflict, ServiceErrorInteractionInProgress, subs)
	case errors.Is(err, ErrFlowInProgress):
		return newServiceError(err.Error(), goerrors.CategoryConflict, ServiceErrorFlowInProgress, subs)
	case errors.Is(err, ErrNotConnected):
		return newServiceError(err.Error(), goerrors.CategoryNotFound, ServiceErrorNotConnected, subs)
	case errors.Is(err, ErrRateLimited):
		return newServiceError(err.Error(), goerrors.CategoryRateLimit, ServiceErrorRateLimited, subs)
	case errors.Is(err, ErrHTTP):
		return newServiceError(err.Error(), goerrors.CategoryExternal, ServiceErrorUpstream, subs)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	if strings.Contains(msg, "required") || strings.Contains(msg, "invalid") {
		return newServiceError(err.Error(), goerrors.CategoryBadInput, ServiceErrorBadInput, subs)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureServiceErrorEnvelope(mapped)
}

// ErrorSubstitutions extracts the values a localized message may interpolate.
func ErrorSubstitutions(err error) map[string]any {
	subs := map[string]any{}
	var balanceErr *InsufficientBalanceError
	if errors.As(err, &balanceErr) {
		subs["requested"] = balanceErr.Requested
		subs["available"] = balanceErr.Available
	}
	var amountErr *InvalidAmountError
	if errors.As(err, &amountErr) {
		subs["value"] = amountErr.Value
		subs["reason"] = amountErr.Reason
	}
	var addressErr *InvalidWalletAddressError
	if errors.As(err, &addressErr) {
		subs["input"] = addressErr.Input
	}
	var notImplErr *NotImplementedError
	if errors.As(err, &notImplErr) {
		subs["host"] = notImplErr.Host
	}
	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		subs["operation"] = timeoutErr.Operation
		if timeoutErr.After > 0 {
			subs["after"] = timeoutErr.After.String()
		}
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		subs["status"] = httpErr.Status
		if httpErr.Code != "" {
			subs["code"] = httpErr.Code
		}
	}
	var limitErr *RateLimitedError
	if errors.As(err, &limitErr) {
		subs["host"] = limitErr.Host
		subs["retry_after_ms"] = limitErr.RetryAfter.Milliseconds()
	}
	var clientErr *InvalidClientError
	if errors.As(err, &clientErr) {
		subs["status"] = clientErr.Status
	}
	var signErr *SigningPreconditionError
	if errors.As(err, &signErr) {
		subs["field"] = signErr.Field
	}
	return subs
}

func newServiceError(message string, category goerrors.Category, textCode string, metadata map[string]any) *goerrors.Error {
	err := goerrors.New(message, category).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return ensureServiceErrorEnvelope(err)
}

func ensureServiceErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = serviceHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultServiceTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultServiceTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ServiceErrorBadInput
	case goerrors.CategoryNotFound:
		return ServiceErrorNotConnected
	case goerrors.CategoryConflict:
		return ServiceErrorFlowInProgress
	case goerrors.CategoryExternal:
		return ServiceErrorUpstream
	default:
		return ServiceErrorInternal
	}
}

func serviceHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
