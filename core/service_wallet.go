package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

type grantFlow struct {
	wallet  WalletAddress
	keys    KeyPair
	amount  Amount
	kind    GrantKind
	intent  Intent
	consent bool
}

func (s *Service) ConnectWallet(ctx context.Context, req ConnectWalletRequest) (resp Response, err error) {
	startedAt := s.now()
	kind := GrantKindFor(req.Recurring)
	fields := map[string]any{
		"wallet_address": strings.TrimSpace(req.WalletAddressURL),
		"grant_kind":     string(kind),
		"intent":         string(IntentConnect),
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "connect_wallet", err, fields)
	}()

	state, err := s.connectWallet(ctx, req, kind)
	return s.respond(state, err)
}

func (s *Service) connectWallet(ctx context.Context, req ConnectWalletRequest, kind GrantKind) (ConnectionState, error) {
	if strings.TrimSpace(req.WalletAddressURL) == "" {
		return ConnectionState{}, requiredInput("wallet_address_url")
	}
	if strings.TrimSpace(req.Amount) == "" {
		return ConnectionState{}, requiredInput("amount")
	}
	defer s.forgetSurfaces()

	if err := s.ensureLoaded(ctx); err != nil {
		return ConnectionState{}, err
	}
	keys, err := s.ensureKeys(ctx)
	if err != nil {
		return ConnectionState{}, err
	}
	wallet, err := s.walletResolver.Resolve(ctx, req.WalletAddressURL)
	if err != nil {
		return ConnectionState{}, err
	}
	if err := s.initializeNegotiator(wallet, keys); err != nil {
		return ConnectionState{}, err
	}
	amount, err := s.budget.ComputeAmount(req.Amount, req.Recurring, wallet.AssetScale)
	if err != nil {
		return ConnectionState{}, err
	}

	grant, err := s.negotiateWithKeyAdd(ctx, grantFlow{
		wallet:  wallet,
		keys:    keys,
		amount:  amount,
		kind:    kind,
		intent:  IntentConnect,
		consent: req.AutoKeyAddConsent,
	})
	if err != nil {
		return ConnectionState{}, err
	}

	// a fresh connection supersedes whatever was tracked before
	previous := s.currentSnapshot()
	patch := StatePatch{}
	for _, old := range trackedGrants(previous) {
		s.cancelSuperseded(ctx, old)
		if old.Kind != kind {
			patch.DropGrants = append(patch.DropGrants, old.Kind)
		}
	}

	s.budget.Reset()
	if _, err := s.budget.ApplyGrant(grant); err != nil {
		return ConnectionState{}, err
	}
	rate := req.RateOfPay
	if rate <= 0 {
		rate = s.config.Budget.DefaultRateOfPay
	}
	s.budget.SetRateOfPay(rate)
	budgetState := s.budget.State()

	connected := true
	flags := previous.Flags
	flags.KeyRevoked = false
	flags.OutOfFunds = false
	patch.Connected = &connected
	patch.WalletAddress = &wallet
	patch.Budget = &budgetState
	patch.Flags = &flags
	patch.SetGrant(grant)
	if err := s.commit(ctx, patch); err != nil {
		return ConnectionState{}, err
	}

	state := s.connectionState()
	s.publish(ctx, EventWalletConnected, state)
	s.publish(ctx, EventBudgetChanged, budgetState)
	return state, nil
}

func (s *Service) ReconnectWallet(ctx context.Context, req ReconnectWalletRequest) (resp Response, err error) {
	startedAt := s.now()
	fields := map[string]any{"intent": string(IntentReconnect)}
	defer func() {
		s.observeOperation(ctx, startedAt, "reconnect_wallet", err, fields)
	}()

	state, err := s.reconnectWallet(ctx, req)
	return s.respond(state, err)
}

func (s *Service) reconnectWallet(ctx context.Context, req ReconnectWalletRequest) (ConnectionState, error) {
	defer s.forgetSurfaces()

	snapshot, keys, err := s.connectedContext(ctx)
	if err != nil {
		return ConnectionState{}, err
	}
	wallet, err := s.walletResolver.Resolve(ctx, snapshot.WalletAddress.ID)
	if err != nil {
		return ConnectionState{}, err
	}
	if err := s.initializeNegotiator(wallet, keys); err != nil {
		return ConnectionState{}, err
	}
	grants := trackedGrants(snapshot)
	if len(grants) == 0 {
		return ConnectionState{}, fmt.Errorf("%w: no active grants", ErrNotConnected)
	}

	keyAdded := false
	for _, current := range grants {
		rotated, err := s.negotiator.RotateToken(ctx, current)
		if errors.Is(err, ErrInvalidClient) && req.AutoKeyAddConsent && !keyAdded {
			s.logWarn(ctx, "client key rejected on rotation, registering public key", map[string]any{
				"wallet_address": wallet.ID,
				"key_id":         keys.KeyID,
			})
			s.closeTrackedSurfaces(ctx)
			if addErr := s.addPublicKey(ctx, wallet, keys); addErr != nil {
				s.markKeyRevoked(ctx)
				return ConnectionState{}, &RecoveryError{Err: addErr, Cause: err}
			}
			keyAdded = true
			rotated, err = s.negotiator.RotateToken(ctx, current)
		}
		if err != nil {
			if errors.Is(err, ErrInvalidClient) {
				s.markKeyRevoked(ctx)
			}
			return ConnectionState{}, err
		}
		rotated.Kind = current.Kind
		// the previous token is dead once rotation succeeds, persist right away
		patch := StatePatch{}
		patch.SetGrant(rotated)
		stored, err := s.commitIf(ctx, patch, func(snapshot Snapshot) bool {
			return sameGrant(snapshot.Grant(current.Kind), current)
		})
		if err != nil {
			return ConnectionState{}, err
		}
		if !stored {
			s.logWarn(ctx, "grant replaced during rotation, rotated token dropped", map[string]any{
				"grant_kind": string(current.Kind),
			})
			continue
		}
		s.publish(ctx, EventGrantUpdated, rotated.Redacted())
	}

	flags := s.currentSnapshot().Flags
	flags.KeyRevoked = false
	if err := s.commit(ctx, StatePatch{WalletAddress: &wallet, Flags: &flags}); err != nil {
		return ConnectionState{}, err
	}
	return s.connectionState(), nil
}

func (s *Service) DisconnectWallet(ctx context.Context, req DisconnectWalletRequest) (resp Response, err error) {
	startedAt := s.now()
	fields := map[string]any{"force": req.Force}
	defer func() {
		s.observeOperation(ctx, startedAt, "disconnect_wallet", err, fields)
	}()

	err = s.disconnectWallet(ctx, req)
	return s.respond(nil, err)
}

func (s *Service) disconnectWallet(ctx context.Context, req DisconnectWalletRequest) error {
	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}
	snapshot := s.currentSnapshot()
	keys, hasKeys := s.currentKeys()
	grants := trackedGrants(snapshot)
	if len(grants) > 0 && hasKeys && snapshot.WalletAddress != nil {
		if err := s.initializeNegotiator(*snapshot.WalletAddress, keys); err != nil {
			return err
		}
		for _, grant := range grants {
			if strings.TrimSpace(grant.Continue.URI) == "" {
				continue
			}
			if err := s.negotiator.CancelGrant(ctx, grant.Continue, req.Force); err != nil {
				if !req.Force {
					return err
				}
				s.logWarn(ctx, "grant cancellation failed", map[string]any{
					"grant_kind": string(grant.Kind),
					"error":      err.Error(),
				})
			}
		}
	}

	if err := s.state.Clear(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.snapshot = Snapshot{}
	s.keys = KeyPair{}
	s.surfaces = nil
	s.loaded = true
	s.mu.Unlock()
	s.budget.Reset()

	s.publish(ctx, EventWalletDisconnected, nil)
	return nil
}

func (s *Service) AddFunds(ctx context.Context, req AddFundsRequest) (resp Response, err error) {
	startedAt := s.now()
	kind := GrantKindFor(req.Recurring)
	fields := map[string]any{"grant_kind": string(kind), "intent": string(IntentAddFunds)}
	defer func() {
		s.observeOperation(ctx, startedAt, "add_funds", err, fields)
	}()

	state, err := s.replaceGrant(ctx, IntentAddFunds, req.Amount, req.Recurring, 0)
	return s.respond(state, err)
}

func (s *Service) UpdateBudget(ctx context.Context, req UpdateBudgetRequest) (resp Response, err error) {
	startedAt := s.now()
	kind := GrantKindFor(req.Recurring)
	fields := map[string]any{"grant_kind": string(kind), "intent": string(IntentUpdateBudget)}
	defer func() {
		s.observeOperation(ctx, startedAt, "update_budget", err, fields)
	}()

	state, err := s.replaceGrant(ctx, IntentUpdateBudget, req.Amount, req.Recurring, req.RateOfPay)
	return s.respond(state, err)
}

// replaceGrant negotiates a grant of the requested kind and supersedes the
// previous grant of that kind. A budget update that switches kinds also
// supersedes the sole grant of the other kind; when both kinds are tracked
// the other one is left untouched.
func (s *Service) replaceGrant(ctx context.Context, intent Intent, value string, recurring bool, rateOfPay int64) (ConnectionState, error) {
	if strings.TrimSpace(value) == "" {
		return ConnectionState{}, requiredInput("amount")
	}
	defer s.forgetSurfaces()

	snapshot, keys, err := s.connectedContext(ctx)
	if err != nil {
		return ConnectionState{}, err
	}
	wallet := *snapshot.WalletAddress
	if err := s.initializeNegotiator(wallet, keys); err != nil {
		return ConnectionState{}, err
	}
	kind := GrantKindFor(recurring)
	amount, err := s.budget.ComputeAmount(value, recurring, wallet.AssetScale)
	if err != nil {
		return ConnectionState{}, err
	}
	grant, err := s.negotiateGrant(ctx, grantFlow{
		wallet: wallet,
		keys:   keys,
		amount: amount,
		kind:   kind,
		intent: intent,
	})
	if err != nil {
		return ConnectionState{}, err
	}

	patch := StatePatch{}
	sameKind := snapshot.Grant(kind)
	if sameKind != nil {
		s.cancelSuperseded(ctx, *sameKind)
	}
	otherKind := GrantKindRecurring
	if kind == GrantKindRecurring {
		otherKind = GrantKindOneTime
	}
	if other := snapshot.Grant(otherKind); intent == IntentUpdateBudget && sameKind == nil && other != nil {
		s.cancelSuperseded(ctx, *other)
		patch.DropGrants = append(patch.DropGrants, otherKind)
		state := s.budget.State()
		if otherKind == GrantKindRecurring {
			state.Recurring = GrantLedger{}
		} else {
			state.OneTime = GrantLedger{}
		}
		s.budget.Restore(state)
	}

	if _, err := s.budget.ApplyGrant(grant); err != nil {
		return ConnectionState{}, err
	}
	if rateOfPay > 0 {
		s.budget.SetRateOfPay(rateOfPay)
	}
	budgetState := s.budget.State()
	flags := snapshot.Flags
	flags.OutOfFunds = false
	patch.Budget = &budgetState
	patch.Flags = &flags
	patch.SetGrant(grant)
	if err := s.commit(ctx, patch); err != nil {
		return ConnectionState{}, err
	}

	s.publish(ctx, EventGrantUpdated, grant.Redacted())
	s.publish(ctx, EventBudgetChanged, budgetState)
	return s.connectionState(), nil
}

func (s *Service) negotiateWithKeyAdd(ctx context.Context, flow grantFlow) (Grant, error) {
	grant, err := s.negotiateGrant(ctx, flow)
	if err == nil || !errors.Is(err, ErrInvalidClient) || !flow.consent {
		return grant, err
	}

	s.logWarn(ctx, "client key rejected, registering public key", map[string]any{
		"wallet_address": flow.wallet.ID,
		"key_id":         flow.keys.KeyID,
	})
	s.closeTrackedSurfaces(ctx)
	if addErr := s.addPublicKey(ctx, flow.wallet, flow.keys); addErr != nil {
		return Grant{}, &RecoveryError{Err: addErr, Cause: err}
	}
	// a second rejection is returned as is
	return s.negotiateGrant(ctx, flow)
}

func (s *Service) negotiateGrant(ctx context.Context, flow grantFlow) (Grant, error) {
	pending, err := s.negotiator.CreateOutgoingPaymentGrant(ctx, flow.wallet, flow.amount, flow.intent)
	if err != nil {
		return Grant{}, err
	}
	pending.Kind = flow.kind

	interactCtx, cancel := withTimeout(ctx, s.config.Interaction.Timeout)
	defer cancel()

	var opened SurfaceID
	grant, err := s.negotiator.CompleteOutgoingPaymentGrant(
		interactCtx,
		flow.amount,
		flow.wallet,
		pending,
		flow.intent,
		func(id SurfaceID) {
			opened = id
			s.trackSurface(id)
		},
	)
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			s.showTimeoutScreen(ctx, err, opened)
		}
		return Grant{}, err
	}
	grant.Kind = flow.kind
	if grant.Amount.Value == "" {
		grant.Amount = flow.amount
	}
	return grant, nil
}

func (s *Service) addPublicKey(ctx context.Context, wallet WalletAddress, keys KeyPair) error {
	if s.keyAdder == nil {
		return &NotImplementedError{Feature: "key auto-add", Host: hostOf(wallet.AuthServer)}
	}
	addCtx, cancel := withTimeout(ctx, s.config.KeyAdd.Timeout)
	defer cancel()

	var tab SurfaceID
	err := s.keyAdder.AddPublicKeyToWallet(addCtx, wallet, keys.JWK(), func(id SurfaceID) {
		tab = id
		s.trackSurface(id)
	})
	if err != nil {
		// the key-add page stays open on timeout so the user can finish by hand
		if errors.Is(err, ErrTimeout) {
			s.logWarn(ctx, "public key registration timed out", map[string]any{
				"wallet_address": wallet.ID,
				"surface_id":     string(tab),
			})
		}
		return err
	}
	s.logInfo(ctx, "public key registered with wallet", map[string]any{
		"wallet_address": wallet.ID,
		"key_id":         keys.KeyID,
	})
	return nil
}

func (s *Service) cancelSuperseded(ctx context.Context, grant Grant) {
	if strings.TrimSpace(grant.Continue.URI) == "" {
		return
	}
	if err := s.negotiator.CancelGrant(ctx, grant.Continue, true); err != nil {
		s.logWarn(ctx, "superseded grant cancellation failed", map[string]any{
			"grant_kind": string(grant.Kind),
			"error":      err.Error(),
		})
	}
}

func (s *Service) markKeyRevoked(ctx context.Context) {
	if err := s.updateFlags(ctx, func(flags *StatusFlags) { flags.KeyRevoked = true }); err != nil {
		s.logError(ctx, "persist key revoked flag", map[string]any{"error": err.Error()})
	}
	s.publish(ctx, EventKeyRevoked, nil)
}

func (s *Service) initializeNegotiator(wallet WalletAddress, keys KeyPair) error {
	clientID := strings.TrimSpace(s.config.Client.WalletAddress)
	if clientID == "" {
		clientID = wallet.ID
	}
	return s.negotiator.Initialize(ClientIdentity{WalletAddressID: clientID, Keys: keys})
}

// sameGrant reports whether stored is still the grant current was read
// from. Continuation and manage URLs identify a grant across reads.
func sameGrant(stored *Grant, current Grant) bool {
	if stored == nil {
		return false
	}
	return stored.Continue.URI == current.Continue.URI &&
		stored.ManageURL == current.ManageURL &&
		stored.AccessToken == current.AccessToken
}

func trackedGrants(snapshot Snapshot) []Grant {
	grants := make([]Grant, 0, 2)
	if g := snapshot.RecurringGrant; g != nil {
		grant := *g
		grant.Kind = GrantKindRecurring
		grants = append(grants, grant)
	}
	if g := snapshot.OneTimeGrant; g != nil {
		grant := *g
		grant.Kind = GrantKindOneTime
		grants = append(grants, grant)
	}
	return grants
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
