// Package paygrants wires the wallet connection core to its concrete
// collaborators and exposes a single message-driven facade to the host.
package paygrants

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-paygrants/budget"
	"github.com/goliatone/go-paygrants/core"
	"github.com/goliatone/go-paygrants/grant"
	"github.com/goliatone/go-paygrants/interaction"
	"github.com/goliatone/go-paygrants/keyadd"
	"github.com/goliatone/go-paygrants/ratelimit"
	"github.com/goliatone/go-paygrants/security"
	sqlstore "github.com/goliatone/go-paygrants/store/sql"
	"github.com/goliatone/go-paygrants/transport"
	"github.com/goliatone/go-paygrants/wallet"
)

type Config = core.Config

type Service = core.Service

type Response = core.Response

type ConnectionState = core.ConnectionState

func DefaultConfig() Config {
	return core.DefaultConfig()
}

type Option func(*options)

type options struct {
	surface         core.ConsentSurface
	pageDriver      core.PageDriver
	transport       core.TransportAdapter
	httpDoer        transport.HTTPDoer
	rateLimit       *ratelimit.AdaptivePolicy
	storage         core.Storage
	sqlConfig       *sqlstore.Config
	stateCache      repositorycache.CacheService
	appKey          string
	secretProvider  core.SecretProvider
	keyAddProviders []keyadd.Provider
	logger          core.Logger
	loggerProvider  core.LoggerProvider
	metrics         core.MetricsRecorder
	eventSink       core.EventSink
	jobEnqueuer     core.JobEnqueuer
	configProvider  core.ConfigProvider
	flowLocker      core.FlowLocker
	now             func() time.Time
	serviceOptions  []core.Option
}

// WithConsentSurface is required: every grant needs a user-facing surface.
func WithConsentSurface(surface core.ConsentSurface) Option {
	return func(o *options) { o.surface = surface }
}

// WithPageDriver enables key auto-add. Without it an unknown client key
// fails with the invalid client error.
func WithPageDriver(driver core.PageDriver) Option {
	return func(o *options) { o.pageDriver = driver }
}

func WithTransport(adapter core.TransportAdapter) Option {
	return func(o *options) { o.transport = adapter }
}

func WithHTTPClient(doer transport.HTTPDoer) Option {
	return func(o *options) { o.httpDoer = doer }
}

// WithRateLimitPolicy replaces the per-host throttle that guards every
// outbound request.
func WithRateLimitPolicy(policy *ratelimit.AdaptivePolicy) Option {
	return func(o *options) { o.rateLimit = policy }
}

func WithStorage(storage core.Storage) Option {
	return func(o *options) { o.storage = storage }
}

// WithSQLStorage persists state in a sqlite or postgres database. The
// schema is created on New.
func WithSQLStorage(cfg sqlstore.Config) Option {
	return func(o *options) { o.sqlConfig = &cfg }
}

// WithStateCache puts a read-through cache in front of the storage.
func WithStateCache(cache repositorycache.CacheService) Option {
	return func(o *options) { o.stateCache = cache }
}

// WithAppKey seals the private key at rest with the given application key.
func WithAppKey(key string) Option {
	return func(o *options) { o.appKey = strings.TrimSpace(key) }
}

func WithSecretProvider(provider core.SecretProvider) Option {
	return func(o *options) { o.secretProvider = provider }
}

func WithKeyAddProviders(providers ...keyadd.Provider) Option {
	return func(o *options) { o.keyAddProviders = append(o.keyAddProviders, providers...) }
}

func WithLogger(logger core.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(o *options) { o.loggerProvider = provider }
}

func WithMetricsRecorder(recorder core.MetricsRecorder) Option {
	return func(o *options) { o.metrics = recorder }
}

func WithEventSink(sink core.EventSink) Option {
	return func(o *options) { o.eventSink = sink }
}

func WithJobEnqueuer(enqueuer core.JobEnqueuer) Option {
	return func(o *options) { o.jobEnqueuer = enqueuer }
}

func WithConfigProvider(provider core.ConfigProvider) Option {
	return func(o *options) { o.configProvider = provider }
}

func WithFlowLocker(locker core.FlowLocker) Option {
	return func(o *options) { o.flowLocker = locker }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithServiceOptions passes extra options straight to core.NewService.
// They are applied last.
func WithServiceOptions(opts ...core.Option) Option {
	return func(o *options) { o.serviceOptions = append(o.serviceOptions, opts...) }
}

// Runtime is a wired service, its facade and whatever resources New opened.
type Runtime struct {
	Service *Service
	Facade  *Facade
	Events  core.EventSink
	// FlowLocker is the wallet flag the facade holds. Background workers
	// such as gojob.RotationHandler take it too.
	FlowLocker core.FlowLocker

	closers []func() error
}

// Close releases resources opened by New, in reverse order.
func (r *Runtime) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i]())
	}
	r.closers = nil
	return errors.Join(errs...)
}

// New resolves the configuration and builds every collaborator the core
// needs. ctx bounds configuration loading and schema creation.
func New(ctx context.Context, cfg Config, opts ...Option) (*Runtime, error) {
	o := options{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.surface == nil {
		return nil, fmt.Errorf("paygrants: consent surface is required")
	}

	resolved, err := resolveConfig(ctx, cfg, o.configProvider)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(resolved.Client.RedirectURL) == "" {
		return nil, fmt.Errorf("paygrants: client.redirect_url is required")
	}
	if o.now == nil {
		o.now = time.Now
	}
	logger := o.logger
	if o.loggerProvider != nil {
		logger = o.loggerProvider.GetLogger("paygrants")
	}
	if o.eventSink == nil {
		o.eventSink = core.NewMemoryEventBus()
	}

	if o.flowLocker == nil {
		o.flowLocker = core.NewMemoryFlowLocker()
	}

	runtime := &Runtime{Events: o.eventSink, FlowLocker: o.flowLocker}
	fail := func(err error) (*Runtime, error) {
		_ = runtime.Close()
		return nil, err
	}

	storage, err := buildStorage(ctx, &o, resolved.ServiceName, runtime)
	if err != nil {
		return fail(err)
	}
	secrets, err := buildSecretProvider(o)
	if err != nil {
		return fail(err)
	}

	httpTransport := o.transport
	if httpTransport == nil {
		if o.httpDoer != nil {
			httpTransport = transport.NewRESTAdapter(o.httpDoer)
		} else {
			httpTransport = transport.NewRESTAdapterFromConfig(resolved.HTTP)
		}
	}
	throttled, err := ratelimit.NewTransport(httpTransport, o.rateLimit,
		ratelimit.WithLogger(logger),
		ratelimit.WithRequestRate(resolved.HTTP.RequestsPerSecond, resolved.HTTP.Burst),
	)
	if err != nil {
		return fail(err)
	}
	httpTransport = throttled

	orchestrator, err := interaction.NewOrchestrator(o.surface,
		interaction.WithLogger(logger),
		interaction.WithCanonicalizer(interaction.CanonicalizerFor(resolved.Interaction.HashEndpoint)),
		interaction.WithDefaultTimeout(resolved.Interaction.Timeout),
		interaction.WithTimeoutPageURL(resolved.Interaction.TimeoutPageURL),
		interaction.WithClock(o.now),
	)
	if err != nil {
		return fail(err)
	}
	negotiator, err := grant.NewNegotiator(httpTransport, orchestrator,
		grant.WithLogger(logger),
		grant.WithRedirectURL(resolved.Client.RedirectURL),
		grant.WithInteractionTimeout(resolved.Interaction.Timeout),
		grant.WithClock(o.now),
	)
	if err != nil {
		return fail(err)
	}

	serviceOpts := []core.Option{
		core.WithLogger(o.logger),
		core.WithLoggerProvider(o.loggerProvider),
		core.WithStorage(storage),
		core.WithWalletResolver(wallet.NewResolver(httpTransport,
			wallet.WithLogger(logger),
			wallet.WithTimeout(resolved.HTTP.Timeout),
		)),
		core.WithNegotiator(negotiator),
		core.WithBudgetManager(budget.NewManager(
			budget.WithRateBounds(resolved.Budget.MinRateOfPay, resolved.Budget.MaxRateOfPay),
			budget.WithDefaultRateOfPay(resolved.Budget.DefaultRateOfPay),
			budget.WithClock(o.now),
		)),
		core.WithConsentSurface(o.surface),
		core.WithEventSink(o.eventSink),
		core.WithClock(o.now),
	}
	if o.configProvider != nil {
		serviceOpts = append(serviceOpts, core.WithConfigProvider(o.configProvider))
	}
	if secrets != nil {
		serviceOpts = append(serviceOpts, core.WithSecretProvider(secrets))
	}
	if o.metrics != nil {
		serviceOpts = append(serviceOpts, core.WithMetricsRecorder(o.metrics))
	}
	if o.jobEnqueuer != nil {
		serviceOpts = append(serviceOpts, core.WithJobEnqueuer(o.jobEnqueuer))
	}
	if o.pageDriver != nil {
		automator, err := buildKeyAdder(o, logger)
		if err != nil {
			return fail(err)
		}
		serviceOpts = append(serviceOpts, core.WithKeyAdder(automator))
	}
	serviceOpts = append(serviceOpts, o.serviceOptions...)

	service, err := core.NewService(resolved, serviceOpts...)
	if err != nil {
		return fail(err)
	}
	facade, err := NewFacade(service, WithGuard(NewInFlightGuard(o.flowLocker)))
	if err != nil {
		return fail(err)
	}
	runtime.Service = service
	runtime.Facade = facade
	return runtime, nil
}

func resolveConfig(ctx context.Context, runtime Config, provider core.ConfigProvider) (Config, error) {
	if provider == nil {
		provider = core.NewCfgxConfigProvider(nil)
	}
	defaults := core.DefaultConfig()
	loaded, err := provider.Load(ctx, defaults)
	if err != nil {
		return Config{}, fmt.Errorf("paygrants: load config: %w", err)
	}
	resolved, err := core.GoOptionsResolver{}.Resolve(defaults, loaded, runtime)
	if err != nil {
		return Config{}, fmt.Errorf("paygrants: resolve config: %w", err)
	}
	return resolved, nil
}

func buildStorage(ctx context.Context, o *options, namespace string, runtime *Runtime) (core.Storage, error) {
	storage := o.storage
	if storage == nil && o.sqlConfig != nil {
		cfg := *o.sqlConfig
		if strings.TrimSpace(cfg.Namespace) != "" {
			namespace = cfg.Namespace
		}
		client, err := sqlstore.NewClient(cfg)
		if err != nil {
			return nil, err
		}
		runtime.closers = append(runtime.closers, closeClient(client))
		sqlStorage, err := sqlstore.NewStorageFromPersistence(client, namespace)
		if err != nil {
			return nil, err
		}
		if err := sqlStorage.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		storage = sqlStorage
	}
	if storage == nil {
		storage = core.NewMemoryStorage()
	}
	if o.stateCache != nil {
		cached, err := sqlstore.NewCachedStorage(storage, o.stateCache, namespace)
		if err != nil {
			return nil, err
		}
		storage = cached
	}
	return storage, nil
}

func closeClient(client *persistence.Client) func() error {
	return func() error {
		return client.Close()
	}
}

func buildSecretProvider(o options) (core.SecretProvider, error) {
	if o.secretProvider != nil {
		return o.secretProvider, nil
	}
	if o.appKey == "" {
		return nil, nil
	}
	provider, err := security.NewAppKeySecretProviderFromString(o.appKey)
	if err != nil {
		return nil, fmt.Errorf("paygrants: app key: %w", err)
	}
	return provider, nil
}

func buildKeyAdder(o options, logger core.Logger) (*keyadd.Automator, error) {
	registry := keyadd.NewRegistry()
	providers := append([]keyadd.Provider{keyadd.NewInterledgerTestWallet(keyadd.WithInterledgerClock(o.now))}, o.keyAddProviders...)
	for _, provider := range providers {
		if err := registry.Register(provider); err != nil {
			return nil, err
		}
	}
	sink := o.eventSink
	return keyadd.NewAutomator(registry, o.surface, o.pageDriver,
		keyadd.WithLogger(logger),
		keyadd.WithClock(o.now),
		keyadd.WithProgressListener(func(steps []core.ProgressStep) {
			sink.Publish(context.Background(), core.Event{
				Type:       core.EventKeyAddProgress,
				OccurredAt: o.now(),
				Payload:    steps,
			})
		}),
	)
}
