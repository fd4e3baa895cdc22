package budget

import (
	"math"
	"strings"
	"time"

	"github.com/goliatone/go-paygrants/core"
	"github.com/shopspring/decimal"
)

const (
	maxAssetScale     = 18
	recurringInterval = "P1M"
)

var maxMinorUnits = decimal.NewFromInt(math.MaxInt64)

// ComputeAmount converts a user-entered decimal into integer minor units for
// the given asset scale. Excess precision is floored. Recurring amounts get a
// monthly repeating interval starting at now.
func ComputeAmount(value string, recurring bool, assetScale int, now time.Time) (core.Amount, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return core.Amount{}, &core.InvalidAmountError{Value: value, Reason: "amount is required"}
	}
	if assetScale < 0 || assetScale > maxAssetScale {
		return core.Amount{}, &core.InvalidAmountError{Value: value, Reason: "asset scale out of range"}
	}
	parsed, err := decimal.NewFromString(trimmed)
	if err != nil {
		return core.Amount{}, &core.InvalidAmountError{Value: value, Reason: "not a number"}
	}
	if !parsed.IsPositive() {
		return core.Amount{}, &core.InvalidAmountError{Value: value, Reason: "amount must be positive"}
	}
	minor := parsed.Shift(int32(assetScale)).Floor()
	if !minor.IsPositive() {
		return core.Amount{}, &core.InvalidAmountError{Value: value, Reason: "amount is below the smallest unit"}
	}
	if minor.GreaterThan(maxMinorUnits) {
		return core.Amount{}, &core.InvalidAmountError{Value: value, Reason: "amount is too large"}
	}

	amount := core.Amount{Value: minor.String()}
	if recurring {
		amount.Interval = RecurringInterval(now)
	}
	return amount, nil
}

// RecurringInterval is the ISO-8601 repeating interval used for recurring
// grants: unbounded monthly repetitions starting at start.
func RecurringInterval(start time.Time) string {
	return "R/" + start.UTC().Format(time.RFC3339) + "/" + recurringInterval
}

// FormatMinor renders minor units as a decimal string at the asset scale.
func FormatMinor(minor int64, assetScale int) string {
	return decimal.New(minor, -int32(assetScale)).StringFixed(int32(assetScale))
}
