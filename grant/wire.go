package grant

import (
	"encoding/json"
	"strings"

	"github.com/goliatone/go-paygrants/core"
)

const (
	accessTypeQuote           = "quote"
	accessTypeOutgoingPayment = "outgoing-payment"

	interactRedirect = "redirect"

	errorCodeInvalidClient = "invalid_client"
)

type accessItem struct {
	Type       string        `json:"type"`
	Actions    []string      `json:"actions"`
	Identifier string        `json:"identifier,omitempty"`
	Limits     *accessLimits `json:"limits,omitempty"`
}

type accessLimits struct {
	DebitAmount *debitAmount `json:"debitAmount,omitempty"`
	Interval    string       `json:"interval,omitempty"`
}

type debitAmount struct {
	Value      string `json:"value"`
	AssetCode  string `json:"assetCode"`
	AssetScale int    `json:"assetScale"`
}

type accessTokenRequest struct {
	Access []accessItem `json:"access"`
}

type interactFinish struct {
	Method string `json:"method"`
	URI    string `json:"uri"`
	Nonce  string `json:"nonce"`
}

type interactRequest struct {
	Start  []string       `json:"start"`
	Finish interactFinish `json:"finish"`
}

type grantRequest struct {
	AccessToken accessTokenRequest `json:"access_token"`
	Client      string             `json:"client"`
	Interact    *interactRequest   `json:"interact,omitempty"`
}

type continueRequest struct {
	InteractRef string `json:"interact_ref"`
}

type tokenValue struct {
	Value string `json:"value"`
}

type accessTokenResponse struct {
	Value     string       `json:"value"`
	Manage    string       `json:"manage"`
	ExpiresIn int64        `json:"expires_in,omitempty"`
	Access    []accessItem `json:"access,omitempty"`
}

type continueResponse struct {
	AccessToken tokenValue `json:"access_token"`
	URI         string     `json:"uri"`
	Wait        int        `json:"wait,omitempty"`
}

type interactResponse struct {
	Redirect string `json:"redirect"`
	Finish   string `json:"finish"`
}

type grantResponse struct {
	AccessToken *accessTokenResponse `json:"access_token,omitempty"`
	Continue    *continueResponse    `json:"continue,omitempty"`
	Interact    *interactResponse    `json:"interact,omitempty"`
}

func (r grantResponse) interactive() bool {
	return r.Interact != nil && strings.TrimSpace(r.Interact.Redirect) != ""
}

func (r grantResponse) continuation() core.Continuation {
	if r.Continue == nil {
		return core.Continuation{}
	}
	return core.Continuation{
		URI:         r.Continue.URI,
		AccessToken: r.Continue.AccessToken.Value,
		Wait:        r.Continue.Wait,
	}
}

// grantedAmount reads the outgoing-payment debit limit the server actually
// granted, which may differ from what was asked for.
func (t accessTokenResponse) grantedAmount() (core.Amount, bool) {
	for _, item := range t.Access {
		if item.Type != accessTypeOutgoingPayment || item.Limits == nil || item.Limits.DebitAmount == nil {
			continue
		}
		return core.Amount{Value: item.Limits.DebitAmount.Value, Interval: item.Limits.Interval}, true
	}
	return core.Amount{}, false
}

type errorDetail struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type errorResponse struct {
	Error json.RawMessage `json:"error"`
}

// parseErrorBody accepts both {"error":{"code","description"}} and the
// short {"error":"code"} form.
func parseErrorBody(body []byte) errorDetail {
	var envelope errorResponse
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Error) == 0 {
		return errorDetail{}
	}
	var code string
	if err := json.Unmarshal(envelope.Error, &code); err == nil {
		return errorDetail{Code: code}
	}
	var detail errorDetail
	if err := json.Unmarshal(envelope.Error, &detail); err == nil {
		return detail
	}
	return errorDetail{}
}
