package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrSigningPrecondition   = errors.New("core: signing precondition failed")
	ErrUnexpectedGrantType   = errors.New("core: unexpected grant type")
	ErrInvalidClient         = errors.New("core: invalid client")
	ErrTabClosed             = errors.New("core: consent surface closed")
	ErrTimeout               = errors.New("core: operation timed out")
	ErrInteractionHash       = errors.New("core: interaction hash mismatch")
	ErrInsufficientBalance   = errors.New("core: insufficient balance")
	ErrInvalidAmount         = errors.New("core: invalid amount")
	ErrNotImplemented        = errors.New("core: not implemented")
	ErrGrantRejected         = errors.New("core: grant rejected")
	ErrHTTP                  = errors.New("core: http error")
	ErrInteractionInProgress = errors.New("core: interaction already in progress")
	ErrNotConnected          = errors.New("core: wallet not connected")
	ErrFlowInProgress        = errors.New("core: wallet flow already in progress")
	ErrInvalidWalletAddress  = errors.New("core: invalid wallet address")
	ErrRateLimited           = errors.New("core: rate limited")
)

// RateLimitedError is returned without a network call while a host is
// throttled after a 429 or an exhausted rate limit window.
type RateLimitedError struct {
	Host       string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("core: %s rate limited for %s", e.Host, e.RetryAfter)
}

func (e *RateLimitedError) Is(target error) bool { return target == ErrRateLimited }

type SigningPreconditionError struct {
	Field string
}

func (e *SigningPreconditionError) Error() string {
	return fmt.Sprintf("core: signing precondition failed: %s is required", e.Field)
}

func (e *SigningPreconditionError) Is(target error) bool { return target == ErrSigningPrecondition }

type UnexpectedGrantTypeError struct {
	Expected string
	Got      string
}

func (e *UnexpectedGrantTypeError) Error() string {
	return fmt.Sprintf("core: expected %s grant, got %s", e.Expected, e.Got)
}

func (e *UnexpectedGrantTypeError) Is(target error) bool { return target == ErrUnexpectedGrantType }

// InvalidClientError means the authorization server does not recognize the
// client key. It is the only error that triggers key auto-add.
type InvalidClientError struct {
	Status      int
	Code        string
	Description string
}

func (e *InvalidClientError) Error() string {
	msg := fmt.Sprintf("core: invalid client (status %d)", e.Status)
	if d := strings.TrimSpace(e.Description); d != "" {
		msg += ": " + d
	}
	return msg
}

func (e *InvalidClientError) Is(target error) bool { return target == ErrInvalidClient }

type TabClosedError struct {
	SurfaceID SurfaceID
}

func (e *TabClosedError) Error() string {
	return fmt.Sprintf("core: consent surface %s closed before completion", e.SurfaceID)
}

func (e *TabClosedError) Is(target error) bool { return target == ErrTabClosed }

type TimeoutError struct {
	Operation string
	SurfaceID SurfaceID
	After     time.Duration
}

func (e *TimeoutError) Error() string {
	if e.After > 0 {
		return fmt.Sprintf("core: %s timed out after %s", e.Operation, e.After)
	}
	return fmt.Sprintf("core: %s timed out", e.Operation)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

type InteractionHashError struct {
	InteractRef string
}

func (e *InteractionHashError) Error() string {
	return "core: interaction hash does not match, grant discarded"
}

func (e *InteractionHashError) Is(target error) bool { return target == ErrInteractionHash }

type InsufficientBalanceError struct {
	Requested int64
	Available int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("core: insufficient balance: requested %d, available %d", e.Requested, e.Available)
}

func (e *InsufficientBalanceError) Is(target error) bool { return target == ErrInsufficientBalance }

type InvalidAmountError struct {
	Value  string
	Reason string
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("core: invalid amount %q: %s", e.Value, e.Reason)
}

func (e *InvalidAmountError) Is(target error) bool { return target == ErrInvalidAmount }

type NotImplementedError struct {
	Feature string
	Host    string
}

func (e *NotImplementedError) Error() string {
	return fmt.Sprintf("core: %s is not supported for %s", e.Feature, e.Host)
}

func (e *NotImplementedError) Is(target error) bool { return target == ErrNotImplemented }

type GrantRejectedError struct {
	Result string
}

func (e *GrantRejectedError) Error() string {
	return fmt.Sprintf("core: grant rejected by user (%s)", e.Result)
}

func (e *GrantRejectedError) Is(target error) bool { return target == ErrGrantRejected }

type InvalidWalletAddressError struct {
	Input  string
	Reason string
}

func (e *InvalidWalletAddressError) Error() string {
	return fmt.Sprintf("core: invalid wallet address %q: %s", e.Input, e.Reason)
}

func (e *InvalidWalletAddressError) Is(target error) bool { return target == ErrInvalidWalletAddress }

// HTTPError covers every server rejection without a dedicated type.
type HTTPError struct {
	Status  int
	Code    string
	Message string
}

func (e *HTTPError) Error() string {
	if strings.TrimSpace(e.Code) != "" {
		return fmt.Sprintf("core: http %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("core: http %d: %s", e.Status, e.Message)
}

func (e *HTTPError) Is(target error) bool { return target == ErrHTTP }

// RecoveryError reports a failed recovery attempt together with the error
// that triggered it. Both are reachable through errors.Is and errors.As.
type RecoveryError struct {
	Err   error
	Cause error
}

func (e *RecoveryError) Error() string {
	return fmt.Sprintf("%v (while recovering from: %v)", e.Err, e.Cause)
}

func (e *RecoveryError) Unwrap() []error {
	return []error{e.Err, e.Cause}
}
