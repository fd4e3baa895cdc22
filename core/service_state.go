package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

func (s *Service) ensureLoaded(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return nil
	}
	snapshot, err := s.state.Load(ctx)
	if err != nil {
		return err
	}
	keys, ok, err := s.state.LoadKeys(ctx)
	if err != nil {
		return err
	}
	if ok {
		s.keys = keys
	}
	s.snapshot = snapshot
	s.budget.Restore(snapshot.Budget)
	s.loaded = true
	return nil
}

func (s *Service) currentSnapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

func (s *Service) currentKeys() (KeyPair, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys, s.keys.Valid()
}

// ensureKeys returns the installation key pair, generating and persisting
// one on first use.
func (s *Service) ensureKeys(ctx context.Context) (KeyPair, error) {
	if keys, ok := s.currentKeys(); ok {
		return keys, nil
	}
	keys, err := s.keyGenerator.GenerateKeyPair()
	if err != nil {
		return KeyPair{}, err
	}
	if err := s.state.SaveKeys(ctx, keys); err != nil {
		return KeyPair{}, err
	}
	s.mu.Lock()
	s.keys = keys
	s.mu.Unlock()
	s.logInfo(ctx, "generated client key pair", map[string]any{"key_id": keys.KeyID})
	return keys, nil
}

func (s *Service) connectedContext(ctx context.Context) (Snapshot, KeyPair, error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return Snapshot{}, KeyPair{}, err
	}
	snapshot := s.currentSnapshot()
	if !snapshot.Connected || snapshot.WalletAddress == nil {
		return Snapshot{}, KeyPair{}, ErrNotConnected
	}
	keys, ok := s.currentKeys()
	if !ok {
		return Snapshot{}, KeyPair{}, fmt.Errorf("%w: key pair is missing", ErrNotConnected)
	}
	return snapshot, keys, nil
}

// commit persists the patch and then mirrors it into the in-memory copy.
func (s *Service) commit(ctx context.Context, patch StatePatch) error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	return s.applyPatch(ctx, patch)
}

// commitIf applies patch only while keep reports the stored snapshot is
// still the one the caller worked from.
func (s *Service) commitIf(ctx context.Context, patch StatePatch, keep func(Snapshot) bool) (bool, error) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	if !keep(s.currentSnapshot()) {
		return false, nil
	}
	if err := s.applyPatch(ctx, patch); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) applyPatch(ctx context.Context, patch StatePatch) error {
	if err := s.state.Apply(ctx, patch); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, kind := range patch.DropGrants {
		if kind == GrantKindRecurring {
			s.snapshot.RecurringGrant = nil
		} else {
			s.snapshot.OneTimeGrant = nil
		}
	}
	if patch.Connected != nil {
		s.snapshot.Connected = *patch.Connected
	}
	if patch.WalletAddress != nil {
		wallet := *patch.WalletAddress
		s.snapshot.WalletAddress = &wallet
	}
	if patch.RecurringGrant != nil {
		grant := *patch.RecurringGrant
		s.snapshot.RecurringGrant = &grant
	}
	if patch.OneTimeGrant != nil {
		grant := *patch.OneTimeGrant
		s.snapshot.OneTimeGrant = &grant
	}
	if patch.Budget != nil {
		s.snapshot.Budget = *patch.Budget
	}
	if patch.Flags != nil {
		s.snapshot.Flags = *patch.Flags
	}
	return nil
}

func (s *Service) updateFlags(ctx context.Context, mutate func(*StatusFlags)) error {
	flags := s.currentSnapshot().Flags
	mutate(&flags)
	return s.commit(ctx, StatePatch{Flags: &flags})
}

func (s *Service) connectionState() ConnectionState {
	s.mu.Lock()
	snapshot := s.snapshot
	keys := s.keys
	s.mu.Unlock()

	state := ConnectionState{
		Connected: snapshot.Connected,
		Budget:    s.budget.State(),
		Flags:     snapshot.Flags,
	}
	if snapshot.WalletAddress != nil {
		wallet := *snapshot.WalletAddress
		state.WalletAddress = &wallet
	}
	if keys.Valid() {
		jwk := keys.JWK()
		state.PublicKey = &jwk
	}
	if g := snapshot.RecurringGrant; g != nil {
		redacted := g.Redacted()
		state.RecurringGrant = &redacted
	}
	if g := snapshot.OneTimeGrant; g != nil {
		redacted := g.Redacted()
		state.OneTimeGrant = &redacted
	}
	return state
}

func (s *Service) trackSurface(id SurfaceID) {
	if strings.TrimSpace(string(id)) == "" {
		return
	}
	s.mu.Lock()
	s.surfaces = append(s.surfaces, id)
	s.mu.Unlock()
}

func (s *Service) forgetSurfaces() {
	s.mu.Lock()
	s.surfaces = nil
	s.mu.Unlock()
}

// closeTrackedSurfaces closes surfaces opened by earlier attempts of the
// current flow so a retry does not leave stray tabs behind.
func (s *Service) closeTrackedSurfaces(ctx context.Context) {
	s.mu.Lock()
	surfaces := s.surfaces
	s.surfaces = nil
	s.mu.Unlock()
	if s.surface == nil {
		return
	}
	for _, id := range surfaces {
		if err := s.surface.CloseSurface(ctx, id); err != nil {
			s.logWithLevel(ctx, "debug", "close stray surface", map[string]any{"surface_id": id, "error": err.Error()})
		}
	}
}

// showTimeoutScreen parks a timed-out surface on the terminal page, or closes
// it when no page is configured.
func (s *Service) showTimeoutScreen(ctx context.Context, err error, fallback SurfaceID) {
	if s.surface == nil {
		return
	}
	id := fallback
	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) && timeoutErr.SurfaceID != "" {
		id = timeoutErr.SurfaceID
	}
	if strings.TrimSpace(string(id)) == "" {
		return
	}
	var teardownErr error
	if page := strings.TrimSpace(s.config.Interaction.TimeoutPageURL); page != "" {
		teardownErr = s.surface.NavigateSurface(ctx, id, page)
	} else {
		teardownErr = s.surface.CloseSurface(ctx, id)
	}
	if teardownErr != nil {
		s.logWarn(ctx, "timed out surface teardown failed", map[string]any{"surface_id": id, "error": teardownErr.Error()})
	}
}
