package keyadd

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-paygrants/core"
)

const (
	InterledgerTestWalletID = "interledger-test-wallet"

	StepWaitForLogin      = "Waiting for you to log in"
	StepFindWalletAddress = "Finding wallet address"
	StepUploadPublicKey   = "Uploading public key"

	defaultInterledgerWalletURL = "https://wallet.interledger-test.dev"
	defaultInterledgerAPIURL    = "https://api.interledger-test.dev"
)

type InterledgerOption func(*InterledgerTestWallet)

func WithInterledgerWalletURL(base string) InterledgerOption {
	return func(p *InterledgerTestWallet) {
		if trimmed := strings.TrimRight(strings.TrimSpace(base), "/"); trimmed != "" {
			p.walletURL = trimmed
		}
	}
}

func WithInterledgerAPIURL(base string) InterledgerOption {
	return func(p *InterledgerTestWallet) {
		if trimmed := strings.TrimRight(strings.TrimSpace(base), "/"); trimmed != "" {
			p.apiURL = trimmed
		}
	}
}

// WithKeyNickname sets the label the wallet shows next to the uploaded key.
func WithKeyNickname(nickname func(time.Time) string) InterledgerOption {
	return func(p *InterledgerTestWallet) {
		if nickname != nil {
			p.nickname = nickname
		}
	}
}

func WithInterledgerClock(now func() time.Time) InterledgerOption {
	return func(p *InterledgerTestWallet) {
		if now != nil {
			p.now = now
		}
	}
}

// InterledgerTestWallet adds keys on the Interledger test wallet by calling
// its account API from inside the logged-in key page.
type InterledgerTestWallet struct {
	walletURL string
	apiURL    string
	nickname  func(time.Time) string
	now       func() time.Time
}

func NewInterledgerTestWallet(opts ...InterledgerOption) *InterledgerTestWallet {
	p := &InterledgerTestWallet{
		walletURL: defaultInterledgerWalletURL,
		apiURL:    defaultInterledgerAPIURL,
		nickname: func(at time.Time) string {
			return "Web Monetization " + at.UTC().Format("2006-01-02")
		},
		now: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

func (p *InterledgerTestWallet) ID() string { return InterledgerTestWalletID }

func (p *InterledgerTestWallet) Hosts() []string {
	return []string{"auth.interledger-test.dev", "ilp.interledger-test.dev"}
}

func (p *InterledgerTestWallet) Steps() []StepDefinition {
	return []StepDefinition{
		{Name: StepWaitForLogin, MaxDuration: 10 * time.Minute},
		{Name: StepFindWalletAddress, MaxDuration: 10 * time.Second},
		{Name: StepUploadPublicKey, MaxDuration: 10 * time.Second},
	}
}

func (p *InterledgerTestWallet) KeyPageURL(core.WalletAddress) string {
	return p.walletURL + "/settings/developer-keys"
}

type accountsEnvelope struct {
	Result []struct {
		ID              string `json:"id"`
		WalletAddresses []struct {
			ID  string `json:"id"`
			URL string `json:"url"`
		} `json:"walletAddresses"`
	} `json:"result"`
}

type walletAddressRef struct {
	accountID       string
	walletAddressID string
}

func (p *InterledgerTestWallet) Run(ctx context.Context, session *Session) error {
	if err := session.Step(ctx, StepWaitForLogin, func(stepCtx context.Context) error {
		return session.Driver.WaitForLogin(stepCtx, session.SurfaceID)
	}); err != nil {
		return err
	}

	var ref walletAddressRef
	if err := session.Step(ctx, StepFindWalletAddress, func(stepCtx context.Context) error {
		found, err := p.findWalletAddress(stepCtx, session)
		ref = found
		return err
	}); err != nil {
		return err
	}

	return session.Step(ctx, StepUploadPublicKey, func(stepCtx context.Context) error {
		return p.uploadKey(stepCtx, session, ref)
	})
}

func (p *InterledgerTestWallet) findWalletAddress(ctx context.Context, session *Session) (walletAddressRef, error) {
	resp, err := session.Driver.Fetch(ctx, session.SurfaceID, core.PageRequest{
		Method:  http.MethodGet,
		URL:     p.apiURL + "/accounts?include=walletAddresses",
		Headers: map[string]string{"Accept": "application/json"},
	})
	if err != nil {
		return walletAddressRef{}, err
	}
	if err := statusError(resp); err != nil {
		return walletAddressRef{}, err
	}
	var envelope accountsEnvelope
	if err := json.Unmarshal(resp.Body, &envelope); err != nil {
		return walletAddressRef{}, fmt.Errorf("keyadd: decode accounts: %w", err)
	}
	target := comparableURL(session.Wallet.ID)
	for _, account := range envelope.Result {
		for _, address := range account.WalletAddresses {
			if comparableURL(address.URL) == target {
				return walletAddressRef{accountID: account.ID, walletAddressID: address.ID}, nil
			}
		}
	}
	return walletAddressRef{}, fmt.Errorf("keyadd: wallet address %s not found in the logged-in account", session.Wallet.ID)
}

func (p *InterledgerTestWallet) uploadKey(ctx context.Context, session *Session, ref walletAddressRef) error {
	jwk, err := json.Marshal(session.Key)
	if err != nil {
		return fmt.Errorf("keyadd: encode jwk: %w", err)
	}
	body, err := json.Marshal(map[string]string{
		"base64Key": base64.StdEncoding.EncodeToString(jwk),
		"nickname":  p.nickname(p.now()),
	})
	if err != nil {
		return fmt.Errorf("keyadd: encode upload body: %w", err)
	}
	resp, err := session.Driver.Fetch(ctx, session.SurfaceID, core.PageRequest{
		Method: http.MethodPost,
		URL: fmt.Sprintf("%s/accounts/%s/wallet-addresses/%s/upload-key",
			p.apiURL, ref.accountID, ref.walletAddressID),
		Headers: map[string]string{
			"Accept":       "application/json",
			"Content-Type": "application/json",
		},
		Body: body,
	})
	if err != nil {
		return err
	}
	return statusError(resp)
}

func statusError(resp core.PageResponse) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	message := strings.TrimSpace(string(resp.Body))
	var envelope struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(resp.Body, &envelope) == nil && envelope.Message != "" {
		message = envelope.Message
	}
	return &core.HTTPError{Status: resp.StatusCode, Message: message}
}

func comparableURL(raw string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(raw), "/")
	if strings.HasPrefix(trimmed, "$") {
		trimmed = "https://" + strings.TrimPrefix(trimmed, "$")
	}
	return strings.ToLower(trimmed)
}
