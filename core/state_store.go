package core

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	StorageKeyWalletAddress      = "wallet_address"
	StorageKeyPrivateKey         = "private_key"
	StorageKeyPublicKey          = "public_key"
	StorageKeyKeyID              = "key_id"
	StorageKeyRecurringGrant     = "recurring_grant"
	StorageKeyOneTimeGrant       = "one_time_grant"
	StorageKeyRecurringSpent     = "recurring_grant_spent_amount"
	StorageKeyOneTimeSpent       = "one_time_grant_spent_amount"
	StorageKeyRateOfPay          = "rate_of_pay"
	StorageKeyContinuousPayments = "continuous_payments_enabled"
	StorageKeyConnected          = "connected"
	StorageKeyState              = "state"
)

var stateKeys = []string{
	StorageKeyWalletAddress,
	StorageKeyRecurringGrant,
	StorageKeyOneTimeGrant,
	StorageKeyRecurringSpent,
	StorageKeyOneTimeSpent,
	StorageKeyRateOfPay,
	StorageKeyContinuousPayments,
	StorageKeyConnected,
	StorageKeyState,
}

// Snapshot is the decoded persisted state, excluding key material.
type Snapshot struct {
	Connected      bool
	WalletAddress  *WalletAddress
	RecurringGrant *Grant
	OneTimeGrant   *Grant
	Budget         BudgetState
	Flags          StatusFlags
}

func (s Snapshot) Grant(kind GrantKind) *Grant {
	if kind == GrantKindRecurring {
		return s.RecurringGrant
	}
	return s.OneTimeGrant
}

// StatePatch writes only the fields that are set.
type StatePatch struct {
	Connected      *bool
	WalletAddress  *WalletAddress
	RecurringGrant *Grant
	OneTimeGrant   *Grant
	DropGrants     []GrantKind
	Budget         *BudgetState
	Flags          *StatusFlags
}

func (p *StatePatch) SetGrant(grant Grant) {
	g := grant
	if grant.Kind == GrantKindRecurring {
		p.RecurringGrant = &g
		return
	}
	p.OneTimeGrant = &g
}

// StateStore maps the wallet state onto the key-value Storage capability.
type StateStore struct {
	storage Storage
	secrets SecretProvider
}

func NewStateStore(storage Storage, secrets SecretProvider) *StateStore {
	return &StateStore{storage: storage, secrets: secrets}
}

func (s *StateStore) LoadKeys(ctx context.Context) (KeyPair, bool, error) {
	if s == nil || s.storage == nil {
		return KeyPair{}, false, fmt.Errorf("core: state store is not configured")
	}
	values, err := s.storage.Get(ctx, StorageKeyPrivateKey, StorageKeyPublicKey, StorageKeyKeyID)
	if err != nil {
		return KeyPair{}, false, err
	}
	rawPrivate, ok := values[StorageKeyPrivateKey]
	if !ok || len(values[StorageKeyKeyID]) == 0 {
		return KeyPair{}, false, nil
	}
	if s.secrets != nil {
		rawPrivate, err = s.secrets.Decrypt(ctx, rawPrivate)
		if err != nil {
			return KeyPair{}, false, fmt.Errorf("core: decrypt private key: %w", err)
		}
	}
	if len(rawPrivate) != ed25519.PrivateKeySize {
		return KeyPair{}, false, fmt.Errorf("core: stored private key has invalid length %d", len(rawPrivate))
	}
	private := ed25519.PrivateKey(append([]byte(nil), rawPrivate...))
	keys := KeyPair{
		KeyID:      strings.TrimSpace(string(values[StorageKeyKeyID])),
		PrivateKey: private,
		PublicKey:  private.Public().(ed25519.PublicKey),
	}
	return keys, true, nil
}

func (s *StateStore) SaveKeys(ctx context.Context, keys KeyPair) error {
	if s == nil || s.storage == nil {
		return fmt.Errorf("core: state store is not configured")
	}
	if !keys.Valid() {
		return fmt.Errorf("core: key pair is invalid")
	}
	private := []byte(keys.PrivateKey)
	if s.secrets != nil {
		sealed, err := s.secrets.Encrypt(ctx, private)
		if err != nil {
			return fmt.Errorf("core: encrypt private key: %w", err)
		}
		private = sealed
	}
	return s.storage.Set(ctx, map[string][]byte{
		StorageKeyPrivateKey: private,
		StorageKeyPublicKey:  append([]byte(nil), keys.PublicKey...),
		StorageKeyKeyID:      []byte(keys.KeyID),
	})
}

func (s *StateStore) Load(ctx context.Context) (Snapshot, error) {
	if s == nil || s.storage == nil {
		return Snapshot{}, fmt.Errorf("core: state store is not configured")
	}
	values, err := s.storage.Get(ctx, stateKeys...)
	if err != nil {
		return Snapshot{}, err
	}
	var snapshot Snapshot
	if err := decodeOptional(values, StorageKeyConnected, &snapshot.Connected); err != nil {
		return Snapshot{}, err
	}
	if raw, ok := values[StorageKeyWalletAddress]; ok {
		var wallet WalletAddress
		if err := json.Unmarshal(raw, &wallet); err != nil {
			return Snapshot{}, fmt.Errorf("core: decode %s: %w", StorageKeyWalletAddress, err)
		}
		snapshot.WalletAddress = &wallet
	}
	for _, item := range []struct {
		key    string
		target **Grant
	}{
		{StorageKeyRecurringGrant, &snapshot.RecurringGrant},
		{StorageKeyOneTimeGrant, &snapshot.OneTimeGrant},
	} {
		raw, ok := values[item.key]
		if !ok {
			continue
		}
		var grant Grant
		if err := json.Unmarshal(raw, &grant); err != nil {
			return Snapshot{}, fmt.Errorf("core: decode %s: %w", item.key, err)
		}
		*item.target = &grant
	}

	budget := BudgetState{}
	if err := decodeOptional(values, StorageKeyRecurringSpent, &budget.Recurring.Spent); err != nil {
		return Snapshot{}, err
	}
	if err := decodeOptional(values, StorageKeyOneTimeSpent, &budget.OneTime.Spent); err != nil {
		return Snapshot{}, err
	}
	if err := decodeOptional(values, StorageKeyRateOfPay, &budget.RateOfPay); err != nil {
		return Snapshot{}, err
	}
	if err := decodeOptional(values, StorageKeyContinuousPayments, &budget.ContinuousPaymentsEnabled); err != nil {
		return Snapshot{}, err
	}
	if err := decodeOptional(values, StorageKeyState, &snapshot.Flags); err != nil {
		return Snapshot{}, err
	}
	if g := snapshot.RecurringGrant; g != nil {
		budget.Recurring.Granted, _ = g.Amount.MinorUnits()
		budget.Recurring.Interval = g.Amount.Interval
	}
	if g := snapshot.OneTimeGrant; g != nil {
		budget.OneTime.Granted, _ = g.Amount.MinorUnits()
	}
	budget.OutOfFunds = snapshot.Flags.OutOfFunds
	snapshot.Budget = budget
	return snapshot, nil
}

func (s *StateStore) Apply(ctx context.Context, patch StatePatch) error {
	if s == nil || s.storage == nil {
		return fmt.Errorf("core: state store is not configured")
	}
	values := map[string][]byte{}
	put := func(key string, value any) error {
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("core: encode %s: %w", key, err)
		}
		values[key] = raw
		return nil
	}

	var drop []string
	for _, kind := range patch.DropGrants {
		if kind == GrantKindRecurring {
			drop = append(drop, StorageKeyRecurringGrant, StorageKeyRecurringSpent)
		} else {
			drop = append(drop, StorageKeyOneTimeGrant, StorageKeyOneTimeSpent)
		}
	}

	if patch.Connected != nil {
		if err := put(StorageKeyConnected, *patch.Connected); err != nil {
			return err
		}
	}
	if patch.WalletAddress != nil {
		if err := put(StorageKeyWalletAddress, patch.WalletAddress); err != nil {
			return err
		}
	}
	if patch.RecurringGrant != nil {
		if err := put(StorageKeyRecurringGrant, patch.RecurringGrant); err != nil {
			return err
		}
	}
	if patch.OneTimeGrant != nil {
		if err := put(StorageKeyOneTimeGrant, patch.OneTimeGrant); err != nil {
			return err
		}
	}
	if b := patch.Budget; b != nil {
		if err := put(StorageKeyRecurringSpent, b.Recurring.Spent); err != nil {
			return err
		}
		if err := put(StorageKeyOneTimeSpent, b.OneTime.Spent); err != nil {
			return err
		}
		if err := put(StorageKeyRateOfPay, b.RateOfPay); err != nil {
			return err
		}
		if err := put(StorageKeyContinuousPayments, b.ContinuousPaymentsEnabled); err != nil {
			return err
		}
	}
	if patch.Flags != nil {
		if err := put(StorageKeyState, patch.Flags); err != nil {
			return err
		}
	}
	// writes go first so a failed Set leaves storage untouched; a failed
	// Delete afterwards only leaves the dropped grant behind
	if len(values) > 0 {
		if err := s.storage.Set(ctx, values); err != nil {
			return err
		}
	}
	stale := drop[:0]
	for _, key := range drop {
		if _, ok := values[key]; !ok {
			stale = append(stale, key)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	return s.storage.Delete(ctx, stale...)
}

func (s *StateStore) Clear(ctx context.Context) error {
	if s == nil || s.storage == nil {
		return fmt.Errorf("core: state store is not configured")
	}
	return s.storage.Clear(ctx)
}

func decodeOptional(values map[string][]byte, key string, target any) error {
	raw, ok := values[key]
	if !ok || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("core: decode %s: %w", key, err)
	}
	return nil
}
