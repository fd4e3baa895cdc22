package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type serviceBuilder struct {
	runtimeConfig   Config
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	errorMapper     ErrorMapper
	configProvider  ConfigProvider
	optionsResolver OptionsResolver
	secretProvider  SecretProvider
	storage         Storage
	walletResolver  WalletResolver
	keyGenerator    KeyGenerator
	negotiator      Negotiator
	keyAdder        KeyAdder
	budget          BudgetManager
	surface         ConsentSurface
	eventSink       EventSink
	jobEnqueuer     JobEnqueuer
	now             func() time.Time
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

// WithSecretProvider encrypts the private key before it reaches storage.
func WithSecretProvider(provider SecretProvider) Option {
	return func(b *serviceBuilder) {
		b.secretProvider = provider
	}
}

func WithStorage(storage Storage) Option {
	return func(b *serviceBuilder) {
		b.storage = storage
	}
}

func WithWalletResolver(resolver WalletResolver) Option {
	return func(b *serviceBuilder) {
		b.walletResolver = resolver
	}
}

func WithKeyGenerator(generator KeyGenerator) Option {
	return func(b *serviceBuilder) {
		b.keyGenerator = generator
	}
}

func WithNegotiator(negotiator Negotiator) Option {
	return func(b *serviceBuilder) {
		b.negotiator = negotiator
	}
}

func WithKeyAdder(adder KeyAdder) Option {
	return func(b *serviceBuilder) {
		b.keyAdder = adder
	}
}

func WithBudgetManager(manager BudgetManager) Option {
	return func(b *serviceBuilder) {
		b.budget = manager
	}
}

func WithConsentSurface(surface ConsentSurface) Option {
	return func(b *serviceBuilder) {
		b.surface = surface
	}
}

func WithEventSink(sink EventSink) Option {
	return func(b *serviceBuilder) {
		b.eventSink = sink
	}
}

func WithJobEnqueuer(enqueuer JobEnqueuer) Option {
	return func(b *serviceBuilder) {
		b.jobEnqueuer = enqueuer
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *serviceBuilder) {
		b.now = now
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("paygrants", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		eventSink:       NopEventSink{},
		now:             time.Now,
	}
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return serviceErrorMapper(err)
}

type StaticRawConfigLoader struct {
	Values map[string]any
}

func (l StaticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = StaticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// GoOptionsResolver layers defaults < loaded config < runtime config.
type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			configToLayerMap(loaded, false),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	setString := func(section map[string]any, key, value string) {
		if includeZero || strings.TrimSpace(value) != "" {
			section[key] = strings.TrimSpace(value)
		}
	}
	setDuration := func(section map[string]any, key string, value time.Duration) {
		if includeZero || value != 0 {
			section[key] = value
		}
	}
	setInt := func(section map[string]any, key string, value int64) {
		if includeZero || value != 0 {
			section[key] = value
		}
	}
	addSection := func(name string, section map[string]any) {
		if len(section) > 0 {
			layer[name] = section
		}
	}

	setString(layer, "service_name", cfg.ServiceName)

	client := map[string]any{}
	setString(client, "wallet_address", cfg.Client.WalletAddress)
	setString(client, "redirect_url", cfg.Client.RedirectURL)
	addSection("client", client)

	interaction := map[string]any{}
	setDuration(interaction, "timeout", cfg.Interaction.Timeout)
	setString(interaction, "timeout_page_url", cfg.Interaction.TimeoutPageURL)
	setString(interaction, "hash_endpoint", cfg.Interaction.HashEndpoint)
	addSection("interaction", interaction)

	keyAdd := map[string]any{}
	setDuration(keyAdd, "timeout", cfg.KeyAdd.Timeout)
	addSection("key_add", keyAdd)

	budget := map[string]any{}
	setInt(budget, "min_rate_of_pay", cfg.Budget.MinRateOfPay)
	setInt(budget, "max_rate_of_pay", cfg.Budget.MaxRateOfPay)
	setInt(budget, "default_rate_of_pay", cfg.Budget.DefaultRateOfPay)
	addSection("budget", budget)

	httpSection := map[string]any{}
	setDuration(httpSection, "timeout", cfg.HTTP.Timeout)
	setInt(httpSection, "max_response_bytes", cfg.HTTP.MaxResponseBytes)
	if includeZero || cfg.HTTP.RequestsPerSecond != 0 {
		httpSection["requests_per_second"] = cfg.HTTP.RequestsPerSecond
	}
	setInt(httpSection, "burst", int64(cfg.HTTP.Burst))
	addSection("http", httpSection)

	rotation := map[string]any{}
	setDuration(rotation, "interval", cfg.Rotation.Interval)
	addSection("rotation", rotation)

	return layer
}
