package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type SecretProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// Storage is the persisted key-value capability. Values are opaque bytes.
type Storage interface {
	Get(ctx context.Context, keys ...string) (map[string][]byte, error)
	Set(ctx context.Context, values map[string][]byte) error
	Delete(ctx context.Context, keys ...string) error
	Clear(ctx context.Context) error
}

type TransportRequest struct {
	Method               string
	URL                  string
	Headers              map[string]string
	Query                map[string]string
	Body                 []byte
	Metadata             map[string]any
	Timeout              time.Duration
	MaxResponseBodyBytes int64
}

type TransportResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Metadata   map[string]any
}

type TransportAdapter interface {
	Kind() string
	Do(ctx context.Context, req TransportRequest) (TransportResponse, error)
}

// ConsentSurface is the narrow capability over the host's user-facing
// surfaces (browser tabs). Listener registrations return an unsubscribe func.
type ConsentSurface interface {
	OpenConsentSurface(ctx context.Context, url string) (SurfaceID, error)
	OnSurfaceNavigated(listener func(id SurfaceID, url string)) (unsubscribe func())
	OnSurfaceClosed(listener func(id SurfaceID)) (unsubscribe func())
	CloseSurface(ctx context.Context, id SurfaceID) error
	FocusSurface(ctx context.Context, id SurfaceID) error
	ActiveSurface(ctx context.Context) (SurfaceID, error)
	NavigateSurface(ctx context.Context, id SurfaceID, url string) error
}

// PageDriver automates a page already open in a surface. Fetch runs inside
// that page, so it carries the user's session with the wallet.
type PageDriver interface {
	WaitForLogin(ctx context.Context, id SurfaceID) error
	Fetch(ctx context.Context, id SurfaceID, req PageRequest) (PageResponse, error)
}

type PageRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

type PageResponse struct {
	StatusCode int
	Body       []byte
}

type WalletResolver interface {
	Resolve(ctx context.Context, walletAddressURL string) (WalletAddress, error)
}

type KeyGenerator interface {
	GenerateKeyPair() (KeyPair, error)
}

type Interactor interface {
	ObtainInteractionReference(
		ctx context.Context,
		req InteractionRequest,
		onSurfaceOpened func(SurfaceID),
	) (string, error)
}

type Negotiator interface {
	Initialize(client ClientIdentity) error
	CreateOutgoingPaymentGrant(ctx context.Context, wallet WalletAddress, amount Amount, intent Intent) (Grant, error)
	CompleteOutgoingPaymentGrant(
		ctx context.Context,
		amount Amount,
		wallet WalletAddress,
		pending Grant,
		intent Intent,
		onInteractionStart func(SurfaceID),
	) (Grant, error)
	RotateToken(ctx context.Context, grant Grant) (Grant, error)
	CancelGrant(ctx context.Context, continuation Continuation, force bool) error
}

type KeyAdder interface {
	AddPublicKeyToWallet(ctx context.Context, wallet WalletAddress, key JWK, onTabOpen func(SurfaceID)) error
}

type BudgetManager interface {
	ComputeAmount(value string, recurring bool, assetScale int) (Amount, error)
	ApplyGrant(grant Grant) (BudgetState, error)
	Debit(amount int64) (BudgetState, error)
	SetRateOfPay(rate int64) int64
	SetContinuousPayments(enabled bool) BudgetState
	Restore(state BudgetState)
	Reset() BudgetState
	State() BudgetState
}

type Event struct {
	Type       string
	OccurredAt time.Time
	Payload    any
}

type EventSink interface {
	Publish(ctx context.Context, event Event)
}

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

type ConnectWalletRequest struct {
	WalletAddressURL  string
	Amount            string
	Recurring         bool
	AutoKeyAddConsent bool
	RateOfPay         int64
}

type ReconnectWalletRequest struct {
	AutoKeyAddConsent bool
}

type DisconnectWalletRequest struct {
	Force bool
}

type AddFundsRequest struct {
	Amount    string
	Recurring bool
}

type UpdateBudgetRequest struct {
	Amount    string
	Recurring bool
	RateOfPay int64
}

type RecordPaymentRequest struct {
	Amount int64
}

// Response is what every use case hands back to the host. Failures carry a
// localizable key plus substitutions rather than display text.
type Response struct {
	Success       bool           `json:"success"`
	Payload       any            `json:"payload,omitempty"`
	Message       string         `json:"message,omitempty"`
	ErrorKey      string         `json:"errorKey,omitempty"`
	Substitutions map[string]any `json:"substitutions,omitempty"`
}

func SuccessResponse(payload any) Response {
	return Response{Success: true, Payload: payload}
}

func FailureResponse(err error) Response {
	mapped := ToServiceError(err)
	if mapped == nil {
		return Response{Success: false, ErrorKey: ServiceErrorInternal}
	}
	subs := ErrorSubstitutions(err)
	if len(subs) == 0 {
		subs = nil
	}
	return Response{
		Success:       false,
		Message:       mapped.Message,
		ErrorKey:      mapped.TextCode,
		Substitutions: subs,
	}
}
