package core

import (
	"bytes"
	"context"
	"errors"
	"math"
	"testing"
)

// reversingSecrets is a toy SecretProvider that marks and reverses bytes.
type reversingSecrets struct{}

func (reversingSecrets) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	out := []byte("sealed:")
	for i := len(plaintext) - 1; i >= 0; i-- {
		out = append(out, plaintext[i])
	}
	return out, nil
}

func (reversingSecrets) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	body, ok := bytes.CutPrefix(ciphertext, []byte("sealed:"))
	if !ok {
		return nil, errors.New("not sealed")
	}
	out := make([]byte, 0, len(body))
	for i := len(body) - 1; i >= 0; i-- {
		out = append(out, body[i])
	}
	return out, nil
}

func TestStateStore_ApplyAndLoad(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	store := NewStateStore(storage, nil)

	connected := true
	wallet := WalletAddress{ID: "https://ilp.example/alice", AuthServer: "https://auth.example", AssetCode: "EUR", AssetScale: 2}
	budget := BudgetState{
		Recurring:                 GrantLedger{Spent: 40},
		OneTime:                   GrantLedger{Spent: 5},
		RateOfPay:                 75,
		ContinuousPaymentsEnabled: true,
	}
	flags := StatusFlags{OutOfFunds: true}
	patch := StatePatch{Connected: &connected, WalletAddress: &wallet, Budget: &budget, Flags: &flags}
	patch.SetGrant(Grant{Kind: GrantKindRecurring, Amount: Amount{Value: "1000", Interval: "R/2026-01-01T00:00:00Z/P1M"}, AccessToken: "r"})
	patch.SetGrant(Grant{Kind: GrantKindOneTime, Amount: Amount{Value: "50"}, AccessToken: "o"})
	if err := store.Apply(ctx, patch); err != nil {
		t.Fatalf("apply: %v", err)
	}

	snapshot, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !snapshot.Connected || snapshot.WalletAddress == nil || snapshot.WalletAddress.AssetCode != "EUR" {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}
	got := snapshot.Budget
	if got.Recurring.Granted != 1000 || got.Recurring.Spent != 40 || got.Recurring.Interval == "" {
		t.Fatalf("unexpected recurring ledger %+v", got.Recurring)
	}
	if got.OneTime.Granted != 50 || got.OneTime.Spent != 5 || got.Balance() != 1005 {
		t.Fatalf("unexpected one-time ledger %+v", got.OneTime)
	}
	if got.RateOfPay != 75 || !got.ContinuousPaymentsEnabled || !got.OutOfFunds {
		t.Fatalf("unexpected budget flags %+v", got)
	}
	if snapshot.Grant(GrantKindOneTime).AccessToken != "o" {
		t.Fatalf("expected persisted grant to keep its token")
	}

	if err := store.Apply(ctx, StatePatch{DropGrants: []GrantKind{GrantKindRecurring}}); err != nil {
		t.Fatalf("drop: %v", err)
	}
	values, err := storage.Get(ctx, StorageKeyRecurringGrant, StorageKeyRecurringSpent, StorageKeyOneTimeGrant)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(values) != 1 {
		t.Fatalf("expected only the one-time grant to remain, got %d keys", len(values))
	}
}

func TestStateStore_KeysAreSealedAtRest(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	store := NewStateStore(storage, reversingSecrets{})

	if _, ok, err := store.LoadKeys(ctx); err != nil || ok {
		t.Fatalf("expected no keys yet, ok=%v err=%v", ok, err)
	}
	keys, err := Ed25519KeyGenerator{}.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := store.SaveKeys(ctx, keys); err != nil {
		t.Fatalf("save keys: %v", err)
	}
	raw, err := storage.Get(ctx, StorageKeyPrivateKey)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.HasPrefix(raw[StorageKeyPrivateKey], []byte("sealed:")) {
		t.Fatalf("expected private key to go through the secret provider")
	}
	loaded, ok, err := store.LoadKeys(ctx)
	if err != nil || !ok {
		t.Fatalf("load keys: ok=%v err=%v", ok, err)
	}
	if loaded.KeyID != keys.KeyID || !bytes.Equal(loaded.PublicKey, keys.PublicKey) {
		t.Fatalf("unexpected loaded keys")
	}
	if err := store.SaveKeys(ctx, KeyPair{KeyID: "x"}); err == nil {
		t.Fatalf("expected invalid key pair to be rejected")
	}
}

func TestStateStore_ClearRemovesEverything(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	store := NewStateStore(storage, nil)
	connected := true
	if err := store.Apply(ctx, StatePatch{Connected: &connected}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if storage.Len() != 0 {
		t.Fatalf("expected empty storage, got %d keys", storage.Len())
	}
}

// failingSetStorage rejects every write and records deletes.
type failingSetStorage struct {
	*MemoryStorage
	deletes [][]string
}

func (s *failingSetStorage) Set(context.Context, map[string][]byte) error {
	return errors.New("disk full")
}

func (s *failingSetStorage) Delete(ctx context.Context, keys ...string) error {
	s.deletes = append(s.deletes, keys)
	return s.MemoryStorage.Delete(ctx, keys...)
}

func TestStateStore_FailedWriteKeepsDroppedGrant(t *testing.T) {
	ctx := context.Background()
	memory := NewMemoryStorage()
	seed := StatePatch{}
	seed.SetGrant(Grant{Kind: GrantKindOneTime, Amount: Amount{Value: "50"}, AccessToken: "o"})
	if err := NewStateStore(memory, nil).Apply(ctx, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	storage := &failingSetStorage{MemoryStorage: memory}
	store := NewStateStore(storage, nil)
	flags := StatusFlags{OutOfFunds: true}
	err := store.Apply(ctx, StatePatch{DropGrants: []GrantKind{GrantKindOneTime}, Flags: &flags})
	if err == nil {
		t.Fatalf("expected write error")
	}
	if len(storage.deletes) != 0 {
		t.Fatalf("expected no deletes after a failed write, got %v", storage.deletes)
	}
	values, err := memory.Get(ctx, StorageKeyOneTimeGrant)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, ok := values[StorageKeyOneTimeGrant]; !ok {
		t.Fatalf("expected dropped grant to survive the failed patch")
	}
}

func TestStateStore_DropKeepsKeysWrittenInSamePatch(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	store := NewStateStore(storage, nil)
	seed := StatePatch{}
	seed.SetGrant(Grant{Kind: GrantKindRecurring, Amount: Amount{Value: "100"}, AccessToken: "old"})
	if err := store.Apply(ctx, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	patch := StatePatch{DropGrants: []GrantKind{GrantKindRecurring}}
	patch.SetGrant(Grant{Kind: GrantKindRecurring, Amount: Amount{Value: "200"}, AccessToken: "new"})
	if err := store.Apply(ctx, patch); err != nil {
		t.Fatalf("apply: %v", err)
	}
	snapshot, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	grant := snapshot.Grant(GrantKindRecurring)
	if grant == nil || grant.AccessToken != "new" {
		t.Fatalf("expected replacement grant to be stored, got %+v", grant)
	}
}

func TestBudgetState_BalanceSaturates(t *testing.T) {
	budget := BudgetState{
		Recurring: GrantLedger{Granted: math.MaxInt64},
		OneTime:   GrantLedger{Granted: math.MaxInt64, Spent: 1},
	}
	if got := budget.Balance(); got != math.MaxInt64 {
		t.Fatalf("expected saturated balance, got %d", got)
	}
	budget.OneTime = GrantLedger{Granted: 10, Spent: 4}
	budget.Recurring = GrantLedger{Granted: 100, Spent: 30}
	if got := budget.Balance(); got != 76 {
		t.Fatalf("expected 76, got %d", got)
	}
}
