package core

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

const JobIDTokenRotation = "paygrants.token.rotate"

// Service coordinates the wallet connection use cases. It owns the in-memory
// Grant and BudgetState copies and is the only writer to persisted state.
type Service struct {
	config          Config
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	errorMapper     ErrorMapper
	configProvider  ConfigProvider
	optionsResolver OptionsResolver
	state           *StateStore
	walletResolver  WalletResolver
	keyGenerator    KeyGenerator
	negotiator      Negotiator
	keyAdder        KeyAdder
	budget          BudgetManager
	surface         ConsentSurface
	eventSink       EventSink
	jobEnqueuer     JobEnqueuer
	now             func() time.Time

	// commitMu orders storage writes so a conditional commit sees the
	// snapshot it writes over.
	commitMu sync.Mutex
	mu       sync.Mutex
	loaded   bool
	keys     KeyPair
	snapshot Snapshot
	surfaces []SurfaceID
}

type ServiceDependencies struct {
	Logger          Logger
	LoggerProvider  LoggerProvider
	MetricsRecorder MetricsRecorder
	ErrorMapper     ErrorMapper
	ConfigProvider  ConfigProvider
	OptionsResolver OptionsResolver
	StateStore      *StateStore
	WalletResolver  WalletResolver
	KeyGenerator    KeyGenerator
	Negotiator      Negotiator
	KeyAdder        KeyAdder
	BudgetManager   BudgetManager
	ConsentSurface  ConsentSurface
	EventSink       EventSink
	JobEnqueuer     JobEnqueuer
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("paygrants", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("paygrants"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.storage == nil {
		builder.storage = NewMemoryStorage()
	}
	if builder.keyGenerator == nil {
		builder.keyGenerator = Ed25519KeyGenerator{}
	}
	if builder.eventSink == nil {
		builder.eventSink = NopEventSink{}
	}
	if builder.now == nil {
		builder.now = time.Now
	}

	if builder.negotiator == nil {
		return nil, mapBuildError(builder.errorMapper, fmt.Errorf("core: negotiator is required"))
	}
	if builder.budget == nil {
		return nil, mapBuildError(builder.errorMapper, fmt.Errorf("core: budget manager is required"))
	}
	if builder.walletResolver == nil {
		return nil, mapBuildError(builder.errorMapper, fmt.Errorf("core: wallet resolver is required"))
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	return &Service{
		config:          finalConfig,
		logger:          logger,
		loggerProvider:  provider,
		metricsRecorder: builder.metricsRecorder,
		errorMapper:     builder.errorMapper,
		configProvider:  builder.configProvider,
		optionsResolver: builder.optionsResolver,
		state:           NewStateStore(builder.storage, builder.secretProvider),
		walletResolver:  builder.walletResolver,
		keyGenerator:    builder.keyGenerator,
		negotiator:      builder.negotiator,
		keyAdder:        builder.keyAdder,
		budget:          builder.budget,
		surface:         builder.surface,
		eventSink:       builder.eventSink,
		jobEnqueuer:     builder.jobEnqueuer,
		now:             builder.now,
	}, nil
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:          s.logger,
		LoggerProvider:  s.loggerProvider,
		MetricsRecorder: s.metricsRecorder,
		ErrorMapper:     s.errorMapper,
		ConfigProvider:  s.configProvider,
		OptionsResolver: s.optionsResolver,
		StateStore:      s.state,
		WalletResolver:  s.walletResolver,
		KeyGenerator:    s.keyGenerator,
		Negotiator:      s.negotiator,
		KeyAdder:        s.keyAdder,
		BudgetManager:   s.budget,
		ConsentSurface:  s.surface,
		EventSink:       s.eventSink,
		JobEnqueuer:     s.jobEnqueuer,
	}
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	if mapped := mapper(err); mapped != nil {
		return mapped
	}
	return err
}

// respond builds the host-facing Response. The returned error keeps the
// typed error chain so callers can still match it with errors.Is.
func (s *Service) respond(payload any, err error) (Response, error) {
	if err != nil {
		return FailureResponse(err), err
	}
	return SuccessResponse(payload), nil
}

func hostOf(rawURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}

func requiredInput(field string) error {
	return goerrors.NewValidation("core: validation failed", goerrors.FieldError{
		Field:   field,
		Message: field + " is required",
	}).
		WithCode(400).
		WithTextCode(ServiceErrorBadInput).
		WithSeverity(goerrors.SeverityError)
}
