package core

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

type GrantKind string

const (
	GrantKindRecurring GrantKind = "recurring"
	GrantKindOneTime   GrantKind = "oneTime"
)

func (k GrantKind) Valid() bool {
	return k == GrantKindRecurring || k == GrantKindOneTime
}

// GrantKindFor maps the recurring flag used by requests to a grant kind.
func GrantKindFor(recurring bool) GrantKind {
	if recurring {
		return GrantKindRecurring
	}
	return GrantKindOneTime
}

// Intent tags the use case that started a grant. It is carried in the
// interactive finish URI so the host can tell redirects apart.
type Intent string

const (
	IntentConnect      Intent = "connect"
	IntentReconnect    Intent = "reconnect"
	IntentAddFunds     Intent = "add_funds"
	IntentUpdateBudget Intent = "update_budget"
)

type WalletAddress struct {
	ID             string `json:"id"`
	PublicName     string `json:"publicName,omitempty"`
	AuthServer     string `json:"authServer"`
	ResourceServer string `json:"resourceServer"`
	AssetCode      string `json:"assetCode"`
	AssetScale     int    `json:"assetScale"`
}

func (w WalletAddress) Validate() error {
	if strings.TrimSpace(w.ID) == "" {
		return fmt.Errorf("core: wallet address id is required")
	}
	if strings.TrimSpace(w.AuthServer) == "" {
		return fmt.Errorf("core: wallet address auth server is required")
	}
	if strings.TrimSpace(w.AssetCode) == "" {
		return fmt.Errorf("core: wallet address asset code is required")
	}
	if w.AssetScale < 0 || w.AssetScale > 18 {
		return fmt.Errorf("core: wallet address asset scale %d is out of range", w.AssetScale)
	}
	return nil
}

// KeyPair holds the client signing key. PrivateKey is treated as read-only
// by every consumer.
type KeyPair struct {
	KeyID      string
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey
}

func (k KeyPair) Valid() bool {
	return strings.TrimSpace(k.KeyID) != "" &&
		len(k.PrivateKey) == ed25519.PrivateKeySize &&
		len(k.PublicKey) == ed25519.PublicKeySize
}

func (k KeyPair) JWK() JWK {
	return JWK{
		Kty: "OKP",
		Crv: "Ed25519",
		X:   base64.RawURLEncoding.EncodeToString(k.PublicKey),
		Kid: k.KeyID,
		Alg: "EdDSA",
		Use: "sig",
	}
}

type JWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Kid string `json:"kid"`
	Alg string `json:"alg,omitempty"`
	Use string `json:"use,omitempty"`
}

// Amount is a debit limit in minor units. Interval is an ISO-8601 repeating
// interval and is only set for recurring grants.
type Amount struct {
	Value    string `json:"value"`
	Interval string `json:"interval,omitempty"`
}

func (a Amount) MinorUnits() (int64, error) {
	value, err := strconv.ParseInt(strings.TrimSpace(a.Value), 10, 64)
	if err != nil {
		return 0, &InvalidAmountError{Value: a.Value, Reason: "not an integer amount"}
	}
	if value < 0 {
		return 0, &InvalidAmountError{Value: a.Value, Reason: "negative amount"}
	}
	return value, nil
}

type Continuation struct {
	URI         string `json:"uri"`
	AccessToken string `json:"accessToken"`
	Wait        int    `json:"wait,omitempty"`
}

type Grant struct {
	Kind          GrantKind    `json:"type"`
	Amount        Amount       `json:"amount"`
	AccessToken   string       `json:"accessToken,omitempty"`
	ManageURL     string       `json:"manageUrl,omitempty"`
	Continue      Continuation `json:"continue"`
	RedirectURL   string       `json:"redirectUrl,omitempty"`
	ClientNonce   string       `json:"clientNonce,omitempty"`
	InteractNonce string       `json:"interactNonce,omitempty"`
}

func (g Grant) Pending() bool {
	return strings.TrimSpace(g.AccessToken) == "" && strings.TrimSpace(g.RedirectURL) != ""
}

func (g Grant) Active() bool {
	return strings.TrimSpace(g.AccessToken) != ""
}

// ClientIdentity is what the negotiator needs to sign requests for a wallet.
type ClientIdentity struct {
	WalletAddressID string
	Keys            KeyPair
}

type SurfaceID string

type InteractionRequest struct {
	RedirectURL   string
	ClientNonce   string
	InteractNonce string
	GrantEndpoint string
	Timeout       time.Duration
}

type InteractionSession struct {
	ClientNonce   string
	InteractNonce string
	InteractRef   string
	ExpectedHash  string
	GrantEndpoint string
	ExpiresAt     time.Time
	SurfaceID     SurfaceID
}

type StepStatus string

const (
	StepStatusPending StepStatus = "pending"
	StepStatusActive  StepStatus = "active"
	StepStatusSuccess StepStatus = "success"
	StepStatusSkipped StepStatus = "skipped"
	StepStatusError   StepStatus = "error"
)

func (s StepStatus) Terminal() bool {
	return s == StepStatusSuccess || s == StepStatusSkipped || s == StepStatusError
}

type ProgressStep struct {
	Name        string        `json:"name"`
	Status      StepStatus    `json:"status"`
	MaxDuration time.Duration `json:"maxDuration"`
	Error       string        `json:"error,omitempty"`
}

type GrantLedger struct {
	Granted  int64  `json:"granted"`
	Spent    int64  `json:"spent"`
	Interval string `json:"interval,omitempty"`
}

func (l GrantLedger) Remaining() int64 {
	if l.Spent >= l.Granted {
		return 0
	}
	return l.Granted - l.Spent
}

type BudgetState struct {
	Recurring                 GrantLedger `json:"recurring"`
	OneTime                   GrantLedger `json:"oneTime"`
	RateOfPay                 int64       `json:"rateOfPay"`
	ContinuousPaymentsEnabled bool        `json:"continuousPaymentsEnabled"`
	OutOfFunds                bool        `json:"outOfFunds"`
}

// Balance is the spendable total across both grant kinds, in minor units.
// It saturates at math.MaxInt64.
func (s BudgetState) Balance() int64 {
	recurring, oneTime := s.Recurring.Remaining(), s.OneTime.Remaining()
	if recurring > math.MaxInt64-oneTime {
		return math.MaxInt64
	}
	return recurring + oneTime
}

func (s BudgetState) Ledger(kind GrantKind) GrantLedger {
	if kind == GrantKindRecurring {
		return s.Recurring
	}
	return s.OneTime
}

type StatusFlags struct {
	KeyRevoked             bool `json:"key_revoked"`
	OutOfFunds             bool `json:"out_of_funds"`
	MissingHostPermissions bool `json:"missing_host_permissions"`
}

type ConnectionState struct {
	Connected      bool           `json:"connected"`
	WalletAddress  *WalletAddress `json:"walletAddress,omitempty"`
	PublicKey      *JWK           `json:"publicKey,omitempty"`
	RecurringGrant *Grant         `json:"recurringGrant,omitempty"`
	OneTimeGrant   *Grant         `json:"oneTimeGrant,omitempty"`
	Budget         BudgetState    `json:"budget"`
	Flags          StatusFlags    `json:"flags"`
}
