// Package wallet resolves wallet addresses and payment pointers into the
// wallet metadata grants are negotiated against.
package wallet

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-paygrants/core"
)

const (
	wellKnownPayPath = "/.well-known/pay"
	defaultMaxBytes  = 64 * 1024
)

type Option func(*Resolver)

func WithLogger(logger core.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(r *Resolver) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

type Resolver struct {
	transport core.TransportAdapter
	timeout   time.Duration
	logger    core.Logger
}

func NewResolver(transport core.TransportAdapter, opts ...Option) *Resolver {
	r := &Resolver{transport: transport, logger: glog.Nop()}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Normalize turns a wallet address or payment pointer into an https URL.
// "$host/path" becomes "https://host/path" and a bare host gets the
// well-known pay path.
func Normalize(input string) (string, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return "", &core.InvalidWalletAddressError{Input: input, Reason: "empty"}
	}
	pointer := strings.HasPrefix(raw, "$")
	if pointer {
		raw = "https://" + strings.TrimPrefix(raw, "$")
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return "", &core.InvalidWalletAddressError{Input: input, Reason: "not an absolute url"}
	}
	if parsed.Scheme != "https" {
		return "", &core.InvalidWalletAddressError{Input: input, Reason: "must use https"}
	}
	if parsed.User != nil || parsed.RawQuery != "" || parsed.Fragment != "" {
		return "", &core.InvalidWalletAddressError{Input: input, Reason: "must not carry credentials, query or fragment"}
	}
	path := strings.TrimRight(parsed.Path, "/")
	if pointer && path == "" {
		path = wellKnownPayPath
	}
	parsed.Path = path
	return parsed.String(), nil
}

type walletAddressDocument struct {
	ID             string `json:"id"`
	PublicName     string `json:"publicName"`
	AssetCode      string `json:"assetCode"`
	AssetScale     *int   `json:"assetScale"`
	AuthServer     string `json:"authServer"`
	ResourceServer string `json:"resourceServer"`
}

func (r *Resolver) Resolve(ctx context.Context, walletAddressURL string) (core.WalletAddress, error) {
	target, err := Normalize(walletAddressURL)
	if err != nil {
		return core.WalletAddress{}, err
	}
	if r.transport == nil {
		return core.WalletAddress{}, &core.NotImplementedError{Feature: "wallet address resolution", Host: "transport"}
	}

	resp, err := r.transport.Do(ctx, core.TransportRequest{
		Method:               http.MethodGet,
		URL:                  target,
		Headers:              map[string]string{"Accept": "application/json"},
		Timeout:              r.timeout,
		MaxResponseBodyBytes: defaultMaxBytes,
	})
	if err != nil {
		return core.WalletAddress{}, err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return core.WalletAddress{}, &core.InvalidWalletAddressError{Input: walletAddressURL, Reason: "wallet address not found"}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return core.WalletAddress{}, &core.HTTPError{Status: resp.StatusCode, Message: strings.TrimSpace(string(resp.Body))}
	}

	var doc walletAddressDocument
	if err := json.Unmarshal(resp.Body, &doc); err != nil {
		return core.WalletAddress{}, &core.InvalidWalletAddressError{Input: walletAddressURL, Reason: "response is not a wallet address document"}
	}
	wallet, err := doc.toWalletAddress(target)
	if err != nil {
		return core.WalletAddress{}, err
	}
	r.logger.WithContext(ctx).Debug("wallet address resolved",
		"wallet_address", wallet.ID,
		"auth_server", wallet.AuthServer,
		"asset_code", wallet.AssetCode,
	)
	return wallet, nil
}

func (d walletAddressDocument) toWalletAddress(requested string) (core.WalletAddress, error) {
	id := strings.TrimSpace(d.ID)
	if id == "" {
		id = requested
	}
	scale := -1
	if d.AssetScale != nil {
		scale = *d.AssetScale
	}
	wallet := core.WalletAddress{
		ID:             id,
		PublicName:     strings.TrimSpace(d.PublicName),
		AuthServer:     strings.TrimSpace(d.AuthServer),
		ResourceServer: strings.TrimSpace(d.ResourceServer),
		AssetCode:      strings.TrimSpace(d.AssetCode),
		AssetScale:     scale,
	}
	if err := wallet.Validate(); err != nil {
		return core.WalletAddress{}, &core.InvalidWalletAddressError{Input: requested, Reason: err.Error()}
	}
	for _, endpoint := range []string{wallet.AuthServer, wallet.ResourceServer} {
		if endpoint == "" {
			continue
		}
		parsed, err := url.Parse(endpoint)
		if err != nil || parsed.Scheme != "https" || parsed.Host == "" {
			return core.WalletAddress{}, &core.InvalidWalletAddressError{Input: endpoint, Reason: "server url must be absolute https"}
		}
	}
	if wallet.ResourceServer == "" {
		return core.WalletAddress{}, &core.InvalidWalletAddressError{Input: requested, Reason: "resource server is required"}
	}
	return wallet, nil
}

var _ core.WalletResolver = (*Resolver)(nil)
