// Package grant negotiates outgoing-payment grants with a wallet's
// authorization server. Every request goes out signed.
package grant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-paygrants/core"
	"github.com/goliatone/go-paygrants/signing"
	"github.com/google/uuid"
)

const authorizationScheme = "GNAP "

type Option func(*Negotiator)

func WithLogger(logger core.Logger) Option {
	return func(n *Negotiator) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithRedirectURL sets the interactive finish URI. The intent is appended
// as a query parameter.
func WithRedirectURL(redirectURL string) Option {
	return func(n *Negotiator) {
		n.redirectURL = strings.TrimSpace(redirectURL)
	}
}

func WithClock(now func() time.Time) Option {
	return func(n *Negotiator) {
		if now != nil {
			n.now = now
		}
	}
}

func WithNonceGenerator(nonce func() string) Option {
	return func(n *Negotiator) {
		if nonce != nil {
			n.nonce = nonce
		}
	}
}

// WithInteractionTimeout bounds the consent step in addition to any
// deadline already on the context.
func WithInteractionTimeout(timeout time.Duration) Option {
	return func(n *Negotiator) {
		if timeout > 0 {
			n.interactionTimeout = timeout
		}
	}
}

// WithAttemptObserver is called after every attempt state change.
func WithAttemptObserver(observer func(Attempt)) Option {
	return func(n *Negotiator) {
		n.observer = observer
	}
}

type Negotiator struct {
	base               core.TransportAdapter
	interactor         core.Interactor
	redirectURL        string
	interactionTimeout time.Duration
	logger             core.Logger
	now                func() time.Time
	nonce              func() string
	observer           func(Attempt)

	mu     sync.RWMutex
	client core.ClientIdentity
	signed core.TransportAdapter
}

func NewNegotiator(transport core.TransportAdapter, interactor core.Interactor, opts ...Option) (*Negotiator, error) {
	if transport == nil {
		return nil, fmt.Errorf("grant: transport is required")
	}
	if interactor == nil {
		return nil, fmt.Errorf("grant: interactor is required")
	}
	n := &Negotiator{
		base:       transport,
		interactor: interactor,
		logger:     glog.Nop(),
		now:        time.Now,
		nonce:      uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(n)
		}
	}
	if n.redirectURL != "" {
		if parsed, err := url.Parse(n.redirectURL); err != nil || parsed.Scheme == "" {
			return nil, fmt.Errorf("grant: redirect url %q must be absolute", n.redirectURL)
		}
	}
	return n, nil
}

// Initialize binds the client identity. It must be called before any grant
// operation and again whenever the key pair changes.
func (n *Negotiator) Initialize(client core.ClientIdentity) error {
	if strings.TrimSpace(client.WalletAddressID) == "" {
		return &core.SigningPreconditionError{Field: "client wallet address"}
	}
	signer, err := signing.NewSigner(client.Keys, signing.WithClock(n.now))
	if err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.client = client
	n.signed = signing.NewSignedTransport(n.base, signer)
	return nil
}

func (n *Negotiator) CreateOutgoingPaymentGrant(ctx context.Context, wallet core.WalletAddress, amount core.Amount, intent core.Intent) (core.Grant, error) {
	client, transport, err := n.session()
	if err != nil {
		return core.Grant{}, err
	}
	if err := wallet.Validate(); err != nil {
		return core.Grant{}, err
	}
	finishURI, err := n.finishURI(intent)
	if err != nil {
		return core.Grant{}, err
	}

	kind := core.GrantKindFor(strings.TrimSpace(amount.Interval) != "")
	attempt := NewAttempt(kind, intent, n.now())
	clientNonce := n.nonce()
	payload := grantRequest{
		AccessToken: accessTokenRequest{Access: []accessItem{
			{Type: accessTypeQuote, Actions: []string{"create", "read"}},
			{
				Type:       accessTypeOutgoingPayment,
				Actions:    []string{"create", "read"},
				Identifier: wallet.ID,
				Limits: &accessLimits{
					DebitAmount: &debitAmount{
						Value:      amount.Value,
						AssetCode:  wallet.AssetCode,
						AssetScale: wallet.AssetScale,
					},
					Interval: amount.Interval,
				},
			},
		}},
		Client: client.WalletAddressID,
		Interact: &interactRequest{
			Start: []string{interactRedirect},
			Finish: interactFinish{
				Method: interactRedirect,
				URI:    finishURI,
				Nonce:  clientNonce,
			},
		},
	}

	n.transition(attempt, StateRequested)
	var res grantResponse
	if err := n.send(ctx, transport, http.MethodPost, wallet.AuthServer, "", payload, &res); err != nil {
		n.abort(attempt, err)
		return core.Grant{}, err
	}
	if !res.interactive() {
		n.transition(attempt, StateNonInteractiveGranted)
		err := &core.UnexpectedGrantTypeError{Expected: "interactive", Got: "non-interactive"}
		if res.Continue != nil && strings.TrimSpace(res.Continue.URI) != "" {
			// the server issued a usable grant we will not track
			n.cancelQuietly(ctx, transport, res.continuation())
		}
		return core.Grant{}, err
	}
	n.transition(attempt, StatePendingInteraction)

	return core.Grant{
		Kind:          kind,
		Amount:        amount,
		Continue:      res.continuation(),
		RedirectURL:   res.Interact.Redirect,
		ClientNonce:   clientNonce,
		InteractNonce: res.Interact.Finish,
	}, nil
}

func (n *Negotiator) CompleteOutgoingPaymentGrant(
	ctx context.Context,
	amount core.Amount,
	wallet core.WalletAddress,
	pending core.Grant,
	intent core.Intent,
	onInteractionStart func(core.SurfaceID),
) (core.Grant, error) {
	_, transport, err := n.session()
	if err != nil {
		return core.Grant{}, err
	}
	if !pending.Pending() {
		return core.Grant{}, &core.UnexpectedGrantTypeError{Expected: "pending", Got: "active"}
	}
	if strings.TrimSpace(pending.Continue.URI) == "" {
		return core.Grant{}, fmt.Errorf("grant: pending grant has no continuation uri")
	}

	kind := pending.Kind
	if !kind.Valid() {
		kind = core.GrantKindFor(strings.TrimSpace(amount.Interval) != "")
	}
	attempt := ResumeAttempt(kind, intent, n.now())

	interactRef, err := n.interactor.ObtainInteractionReference(ctx, core.InteractionRequest{
		RedirectURL:   pending.RedirectURL,
		ClientNonce:   pending.ClientNonce,
		InteractNonce: pending.InteractNonce,
		GrantEndpoint: wallet.AuthServer,
		Timeout:       n.interactionTimeout,
	}, onInteractionStart)
	if err != nil {
		n.abort(attempt, err)
		return core.Grant{}, err
	}

	n.transition(attempt, StateContinuing)
	var res grantResponse
	err = n.send(ctx, transport, http.MethodPost, pending.Continue.URI, pending.Continue.AccessToken,
		continueRequest{InteractRef: interactRef}, &res)
	if err != nil {
		n.abort(attempt, err)
		return core.Grant{}, err
	}
	if res.AccessToken == nil || strings.TrimSpace(res.AccessToken.Value) == "" {
		err := &core.UnexpectedGrantTypeError{Expected: "access token", Got: "pending"}
		n.abort(attempt, err)
		return core.Grant{}, err
	}
	n.transition(attempt, StateGranted)

	granted := amount
	if value, ok := res.AccessToken.grantedAmount(); ok && strings.TrimSpace(value.Value) != "" {
		granted = value
	}
	continuation := pending.Continue
	if next := res.continuation(); strings.TrimSpace(next.URI) != "" {
		continuation = next
	}
	return core.Grant{
		Kind:        kind,
		Amount:      granted,
		AccessToken: res.AccessToken.Value,
		ManageURL:   res.AccessToken.Manage,
		Continue:    continuation,
	}, nil
}

// RotateToken exchanges the grant's access token for a new one through the
// management URL. The returned grant replaces the input; the old token and
// manage URL are no longer valid.
func (n *Negotiator) RotateToken(ctx context.Context, current core.Grant) (core.Grant, error) {
	_, transport, err := n.session()
	if err != nil {
		return core.Grant{}, err
	}
	if strings.TrimSpace(current.ManageURL) == "" || strings.TrimSpace(current.AccessToken) == "" {
		return core.Grant{}, fmt.Errorf("grant: rotation requires an active grant with a manage url")
	}

	var res grantResponse
	if err := n.send(ctx, transport, http.MethodPost, current.ManageURL, current.AccessToken, nil, &res); err != nil {
		return core.Grant{}, err
	}
	if res.AccessToken == nil || strings.TrimSpace(res.AccessToken.Value) == "" {
		return core.Grant{}, &core.UnexpectedGrantTypeError{Expected: "access token", Got: "empty"}
	}

	rotated := current
	rotated.AccessToken = res.AccessToken.Value
	if manage := strings.TrimSpace(res.AccessToken.Manage); manage != "" {
		rotated.ManageURL = manage
	}
	if value, ok := res.AccessToken.grantedAmount(); ok && strings.TrimSpace(value.Value) != "" {
		rotated.Amount = value
	}
	return rotated, nil
}

// CancelGrant revokes the grant behind a continuation. A grant the server no
// longer knows counts as cancelled. With force set, failures are logged and
// swallowed.
func (n *Negotiator) CancelGrant(ctx context.Context, continuation core.Continuation, force bool) error {
	_, transport, err := n.session()
	if err == nil {
		err = n.cancel(ctx, transport, continuation)
	}
	if err == nil {
		return nil
	}
	if !force {
		return err
	}
	n.logger.WithContext(ctx).Warn("grant cancellation failed",
		"continue_uri", continuation.URI,
		"error", err.Error(),
	)
	return nil
}

func (n *Negotiator) cancel(ctx context.Context, transport core.TransportAdapter, continuation core.Continuation) error {
	if strings.TrimSpace(continuation.URI) == "" {
		return fmt.Errorf("grant: continuation uri is required")
	}
	err := n.send(ctx, transport, http.MethodDelete, continuation.URI, continuation.AccessToken, nil, nil)
	var httpErr *core.HTTPError
	if errors.As(err, &httpErr) && httpErr.Status == http.StatusNotFound {
		return nil
	}
	return err
}

func (n *Negotiator) cancelQuietly(ctx context.Context, transport core.TransportAdapter, continuation core.Continuation) {
	if err := n.cancel(ctx, transport, continuation); err != nil {
		n.logger.WithContext(ctx).Warn("cancel unexpected non-interactive grant",
			"continue_uri", continuation.URI,
			"error", err.Error(),
		)
	}
}

func (n *Negotiator) session() (core.ClientIdentity, core.TransportAdapter, error) {
	if n == nil {
		return core.ClientIdentity{}, nil, &core.SigningPreconditionError{Field: "negotiator"}
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.signed == nil {
		return core.ClientIdentity{}, nil, &core.SigningPreconditionError{Field: "client identity"}
	}
	return n.client, n.signed, nil
}

func (n *Negotiator) finishURI(intent core.Intent) (string, error) {
	if n.redirectURL == "" {
		return "", fmt.Errorf("grant: redirect url is required for interactive grants")
	}
	parsed, err := url.Parse(n.redirectURL)
	if err != nil {
		return "", fmt.Errorf("grant: invalid redirect url: %w", err)
	}
	query := parsed.Query()
	query.Set("intent", string(intent))
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func (n *Negotiator) send(
	ctx context.Context,
	transport core.TransportAdapter,
	method string,
	target string,
	token string,
	payload any,
	out any,
) error {
	req := core.TransportRequest{
		Method:  method,
		URL:     target,
		Headers: map[string]string{"Accept": "application/json"},
	}
	if token = strings.TrimSpace(token); token != "" {
		req.Headers[signing.HeaderAuthorization] = authorizationScheme + token
	}
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("grant: encode request: %w", err)
		}
		req.Body = body
	}

	res, err := transport.Do(ctx, req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &core.TimeoutError{Operation: "grant request"}
		}
		return fmt.Errorf("grant: %s %s: %w", method, target, err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return responseError(res)
	}
	if out == nil || len(res.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(res.Body, out); err != nil {
		return fmt.Errorf("grant: decode response: %w", err)
	}
	return nil
}

// responseError maps a rejected response onto the error taxonomy. Only an
// invalid_client rejection becomes InvalidClientError, since that is what
// triggers key auto-add.
func responseError(res core.TransportResponse) error {
	detail := parseErrorBody(res.Body)
	if isInvalidClient(res.StatusCode, detail) {
		return &core.InvalidClientError{
			Status:      res.StatusCode,
			Code:        detail.Code,
			Description: detail.Description,
		}
	}
	message := strings.TrimSpace(detail.Description)
	if message == "" {
		message = http.StatusText(res.StatusCode)
	}
	return &core.HTTPError{Status: res.StatusCode, Code: detail.Code, Message: message}
}

func isInvalidClient(status int, detail errorDetail) bool {
	switch status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
	default:
		return false
	}
	if strings.EqualFold(strings.TrimSpace(detail.Code), errorCodeInvalidClient) {
		return true
	}
	if status == http.StatusBadRequest {
		return false
	}
	description := strings.ToLower(detail.Description)
	return strings.Contains(description, "unknown key") ||
		strings.Contains(description, "key not found") ||
		strings.Contains(description, "could not determine client")
}

func (n *Negotiator) transition(attempt *Attempt, state State) {
	if err := attempt.TransitionTo(state, n.now()); err != nil {
		n.logger.Error("grant attempt transition rejected", "error", err.Error())
		return
	}
	n.logger.Debug("grant attempt transition",
		"grant_kind", string(attempt.Kind),
		"intent", string(attempt.Intent),
		"state", string(attempt.State),
	)
	if n.observer != nil {
		n.observer(*attempt)
	}
}

func (n *Negotiator) abort(attempt *Attempt, cause error) {
	attempt.Abort(cause, n.now())
	n.logger.Debug("grant attempt ended",
		"grant_kind", string(attempt.Kind),
		"intent", string(attempt.Intent),
		"state", string(attempt.State),
	)
	if n.observer != nil {
		n.observer(*attempt)
	}
}

var _ core.Negotiator = (*Negotiator)(nil)
