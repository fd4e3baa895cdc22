package keyadd

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-paygrants/core"
	"github.com/goliatone/go-paygrants/devkit"
)

const (
	testAccountsURL = "https://api.interledger-test.dev/accounts?include=walletAddresses"
	testUploadURL   = "https://api.interledger-test.dev/accounts/acc-1/wallet-addresses/wa-2/upload-key"
)

func testWallet() core.WalletAddress {
	return core.WalletAddress{
		ID:         "https://ilp.interledger-test.dev/alice",
		AuthServer: "https://auth.interledger-test.dev",
		AssetCode:  "USD",
		AssetScale: 2,
	}
}

func testKey() core.JWK {
	return core.JWK{Kty: "OKP", Crv: "Ed25519", X: "abc", Kid: "key-1", Alg: "EdDSA", Use: "sig"}
}

type progressRecorder struct {
	mu    sync.Mutex
	feeds [][]core.ProgressStep
}

func (r *progressRecorder) listen(steps []core.ProgressStep) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.feeds = append(r.feeds, steps)
}

func (r *progressRecorder) last() []core.ProgressStep {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.feeds) == 0 {
		return nil
	}
	return r.feeds[len(r.feeds)-1]
}

func (r *progressRecorder) maxActive() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	max := 0
	for _, feed := range r.feeds {
		active := 0
		for _, step := range feed {
			if step.Status == core.StepStatusActive {
				active++
			}
		}
		if active > max {
			max = active
		}
	}
	return max
}

func newTestAutomator(t *testing.T, surface *devkit.FakeSurface, driver *devkit.FakePageDriver, providers ...Provider) (*Automator, *progressRecorder) {
	t.Helper()
	registry := NewRegistry()
	for _, provider := range providers {
		if err := registry.Register(provider); err != nil {
			t.Fatalf("register provider: %v", err)
		}
	}
	recorder := &progressRecorder{}
	automator, err := NewAutomator(registry, surface, driver, WithProgressListener(recorder.listen))
	if err != nil {
		t.Fatalf("new automator: %v", err)
	}
	return automator, recorder
}

func scriptHappyPath(driver *devkit.FakePageDriver) {
	driver.Script(http.MethodGet, testAccountsURL, devkit.PageScript{Response: core.PageResponse{
		StatusCode: http.StatusOK,
		Body: []byte(`{"success":true,"result":[
			{"id":"acc-0","walletAddresses":[{"id":"wa-1","url":"https://ilp.interledger-test.dev/bob"}]},
			{"id":"acc-1","walletAddresses":[{"id":"wa-2","url":"https://ilp.interledger-test.dev/alice"}]}
		]}`),
	}})
	driver.Script(http.MethodPost, testUploadURL, devkit.PageScript{Response: core.PageResponse{StatusCode: http.StatusOK}})
}

func TestAddPublicKeyToWallet_InterledgerTestWallet(t *testing.T) {
	surface := devkit.NewFakeSurface("")
	driver := devkit.NewFakePageDriver()
	scriptHappyPath(driver)
	provider := NewInterledgerTestWallet(WithInterledgerClock(func() time.Time {
		return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	}))
	automator, recorder := newTestAutomator(t, surface, driver, provider)

	var opened core.SurfaceID
	if err := automator.AddPublicKeyToWallet(context.Background(), testWallet(), testKey(), func(id core.SurfaceID) {
		opened = id
	}); err != nil {
		t.Fatalf("add key: %v", err)
	}

	if opened == "" || surface.IsOpen(opened) {
		t.Fatalf("expected key page %q to be closed after success", opened)
	}
	if got := surface.Opened(); len(got) != 1 || got[0] != "https://wallet.interledger-test.dev/settings/developer-keys" {
		t.Fatalf("unexpected key page url %v", got)
	}
	for _, step := range recorder.last() {
		if step.Status != core.StepStatusSuccess {
			t.Fatalf("expected every step to succeed, got %+v", recorder.last())
		}
	}
	if recorder.maxActive() > 1 {
		t.Fatalf("expected at most one active step")
	}

	requests := driver.Requests()
	if len(requests) != 2 {
		t.Fatalf("expected two page fetches, got %d", len(requests))
	}
	var upload struct {
		Base64Key string `json:"base64Key"`
		Nickname  string `json:"nickname"`
	}
	if err := json.Unmarshal(requests[1].Body, &upload); err != nil {
		t.Fatalf("decode upload body: %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(upload.Base64Key)
	if err != nil {
		t.Fatalf("decode key: %v", err)
	}
	var jwk core.JWK
	if err := json.Unmarshal(raw, &jwk); err != nil || jwk.Kid != "key-1" {
		t.Fatalf("expected uploaded jwk for key-1, got %s (%v)", raw, err)
	}
	if upload.Nickname != "Web Monetization 2026-03-01" {
		t.Fatalf("unexpected nickname %q", upload.Nickname)
	}
}

func TestAddPublicKeyToWallet_UnknownHostIsNotImplemented(t *testing.T) {
	surface := devkit.NewFakeSurface("")
	automator, _ := newTestAutomator(t, surface, devkit.NewFakePageDriver(), NewInterledgerTestWallet())

	wallet := testWallet()
	wallet.ID = "https://wallet.other.example/alice"
	wallet.AuthServer = "https://auth.other.example"
	err := automator.AddPublicKeyToWallet(context.Background(), wallet, testKey(), nil)
	var notImplemented *core.NotImplementedError
	if !errors.As(err, &notImplemented) || notImplemented.Host != "auth.other.example" {
		t.Fatalf("expected not implemented for auth.other.example, got %v", err)
	}
	if len(surface.Opened()) != 0 {
		t.Fatalf("expected no surface to open for an unsupported wallet")
	}
}

func TestAddPublicKeyToWallet_WalletAddressMissing(t *testing.T) {
	surface := devkit.NewFakeSurface("")
	driver := devkit.NewFakePageDriver()
	driver.Script(http.MethodGet, testAccountsURL, devkit.PageScript{Response: core.PageResponse{
		StatusCode: http.StatusOK,
		Body:       []byte(`{"result":[{"id":"acc-0","walletAddresses":[]}]}`),
	}})
	automator, recorder := newTestAutomator(t, surface, driver, NewInterledgerTestWallet())

	err := automator.AddPublicKeyToWallet(context.Background(), testWallet(), testKey(), nil)
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected missing wallet address error, got %v", err)
	}
	steps := recorder.last()
	if steps[0].Status != core.StepStatusSuccess || steps[1].Status != core.StepStatusError || steps[2].Status != core.StepStatusSkipped {
		t.Fatalf("unexpected step feed %+v", steps)
	}
	if steps[1].Error == "" {
		t.Fatalf("expected failed step to carry its error")
	}
	if surface.IsOpen("surface-1") {
		t.Fatalf("expected key page to be closed after failure")
	}
}

func TestAddPublicKeyToWallet_UploadRejected(t *testing.T) {
	surface := devkit.NewFakeSurface("")
	driver := devkit.NewFakePageDriver()
	scriptHappyPath(driver)
	driver.Script(http.MethodPost, testUploadURL, devkit.PageScript{Response: core.PageResponse{
		StatusCode: http.StatusBadRequest,
		Body:       []byte(`{"message":"Key already exists"}`),
	}})
	automator, _ := newTestAutomator(t, surface, driver, NewInterledgerTestWallet())

	err := automator.AddPublicKeyToWallet(context.Background(), testWallet(), testKey(), nil)
	var httpErr *core.HTTPError
	if !errors.As(err, &httpErr) || httpErr.Status != http.StatusBadRequest || httpErr.Message != "Key already exists" {
		t.Fatalf("expected upload http error, got %v", err)
	}
}

type closingProvider struct {
	surface *devkit.FakeSurface
}

func (p closingProvider) ID() string      { return "closing" }
func (p closingProvider) Hosts() []string { return []string{"auth.interledger-test.dev"} }
func (p closingProvider) Steps() []StepDefinition {
	return []StepDefinition{{Name: "login"}, {Name: "upload"}}
}
func (p closingProvider) KeyPageURL(core.WalletAddress) string { return "https://wallet.example/keys" }
func (p closingProvider) Run(ctx context.Context, session *Session) error {
	return session.Step(ctx, "login", func(stepCtx context.Context) error {
		_ = p.surface.UserClose(session.SurfaceID)
		<-stepCtx.Done()
		return stepCtx.Err()
	})
}

func TestAddPublicKeyToWallet_TabClosed(t *testing.T) {
	surface := devkit.NewFakeSurface("")
	automator, recorder := newTestAutomator(t, surface, devkit.NewFakePageDriver(), closingProvider{surface: surface})

	err := automator.AddPublicKeyToWallet(context.Background(), testWallet(), testKey(), nil)
	var closed *core.TabClosedError
	if !errors.As(err, &closed) || closed.SurfaceID != "surface-1" {
		t.Fatalf("expected tab closed, got %v", err)
	}
	if steps := recorder.last(); steps[1].Status != core.StepStatusSkipped {
		t.Fatalf("expected unrun step to be skipped, got %+v", steps)
	}
}

func TestAddPublicKeyToWallet_StepOverrunIsTimeout(t *testing.T) {
	surface := devkit.NewFakeSurface("")
	driver := devkit.NewFakePageDriver()
	driver.BlockLogin = true
	provider := &shortStepProvider{InterledgerTestWallet: NewInterledgerTestWallet()}
	automator, _ := newTestAutomator(t, surface, driver, provider)

	err := automator.AddPublicKeyToWallet(context.Background(), testWallet(), testKey(), nil)
	var timeoutErr *core.TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected step timeout, got %v", err)
	}
	if timeoutErr.After != 20*time.Millisecond || timeoutErr.SurfaceID != "surface-1" {
		t.Fatalf("unexpected timeout detail %+v", timeoutErr)
	}
	if !surface.IsOpen("surface-1") {
		t.Fatalf("expected timed-out key page to stay open for the timeout screen")
	}
}

type shortStepProvider struct {
	*InterledgerTestWallet
}

func (p *shortStepProvider) Steps() []StepDefinition {
	steps := p.InterledgerTestWallet.Steps()
	steps[0].MaxDuration = 20 * time.Millisecond
	return steps
}

func TestTracker_RejectsOverlappingAndRepeatedSteps(t *testing.T) {
	tracker := NewTracker([]StepDefinition{{Name: "a"}, {Name: "b"}})

	err := tracker.Run(context.Background(), "s", "a", func(ctx context.Context) error {
		if nested := tracker.Run(ctx, "s", "b", func(context.Context) error { return nil }); !errors.Is(nested, ErrStepOutOfOrder) {
			t.Fatalf("expected nested step to be rejected, got %v", nested)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run step a: %v", err)
	}
	if err := tracker.Run(context.Background(), "s", "a", func(context.Context) error { return nil }); !errors.Is(err, ErrStepOutOfOrder) {
		t.Fatalf("expected repeated step to be rejected, got %v", err)
	}
	if err := tracker.Run(context.Background(), "s", "missing", func(context.Context) error { return nil }); !errors.Is(err, ErrStepOutOfOrder) {
		t.Fatalf("expected unknown step to be rejected, got %v", err)
	}
}

func TestRegistry_RejectsDuplicateHosts(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(NewInterledgerTestWallet()); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.Register(closingProvider{}); err == nil {
		t.Fatalf("expected host collision to fail")
	}
	provider, ok := registry.ForHost("ILP.interledger-test.dev.")
	if !ok || provider.ID() != InterledgerTestWalletID {
		t.Fatalf("expected host lookup to be case-insensitive")
	}
}
