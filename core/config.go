package core

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	HashEndpointOrigin = "origin"
	HashEndpointURL    = "url"
)

type ClientConfig struct {
	WalletAddress string `koanf:"wallet_address" mapstructure:"wallet_address"`
	RedirectURL   string `koanf:"redirect_url" mapstructure:"redirect_url"`
}

type InteractionConfig struct {
	Timeout        time.Duration `koanf:"timeout" mapstructure:"timeout"`
	TimeoutPageURL string        `koanf:"timeout_page_url" mapstructure:"timeout_page_url"`
	HashEndpoint   string        `koanf:"hash_endpoint" mapstructure:"hash_endpoint"`
}

type KeyAddConfig struct {
	Timeout time.Duration `koanf:"timeout" mapstructure:"timeout"`
}

type BudgetConfig struct {
	MinRateOfPay     int64 `koanf:"min_rate_of_pay" mapstructure:"min_rate_of_pay"`
	MaxRateOfPay     int64 `koanf:"max_rate_of_pay" mapstructure:"max_rate_of_pay"`
	DefaultRateOfPay int64 `koanf:"default_rate_of_pay" mapstructure:"default_rate_of_pay"`
}

type HTTPConfig struct {
	Timeout          time.Duration `koanf:"timeout" mapstructure:"timeout"`
	MaxResponseBytes int64         `koanf:"max_response_bytes" mapstructure:"max_response_bytes"`
	// RequestsPerSecond paces outbound calls per host. Zero disables pacing.
	RequestsPerSecond float64 `koanf:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `koanf:"burst" mapstructure:"burst"`
}

type RotationConfig struct {
	Interval time.Duration `koanf:"interval" mapstructure:"interval"`
}

type Config struct {
	ServiceName string            `koanf:"service_name" mapstructure:"service_name"`
	Client      ClientConfig      `koanf:"client" mapstructure:"client"`
	Interaction InteractionConfig `koanf:"interaction" mapstructure:"interaction"`
	KeyAdd      KeyAddConfig      `koanf:"key_add" mapstructure:"key_add"`
	Budget      BudgetConfig      `koanf:"budget" mapstructure:"budget"`
	HTTP        HTTPConfig        `koanf:"http" mapstructure:"http"`
	Rotation    RotationConfig    `koanf:"rotation" mapstructure:"rotation"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "paygrants",
		Interaction: InteractionConfig{
			Timeout:      10 * time.Minute,
			HashEndpoint: HashEndpointOrigin,
		},
		KeyAdd: KeyAddConfig{
			Timeout: 10 * time.Minute,
		},
		Budget: BudgetConfig{
			MinRateOfPay:     1,
			MaxRateOfPay:     100_000,
			DefaultRateOfPay: 60,
		},
		HTTP: HTTPConfig{
			Timeout:          30 * time.Second,
			MaxResponseBytes: 1 << 20,
		},
		Rotation: RotationConfig{
			Interval: 24 * time.Hour,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if raw := strings.TrimSpace(c.Client.RedirectURL); raw != "" {
		parsed, err := url.Parse(raw)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("core: client.redirect_url must be an absolute url")
		}
	}
	switch strings.TrimSpace(c.Interaction.HashEndpoint) {
	case "", HashEndpointOrigin, HashEndpointURL:
	default:
		return fmt.Errorf("core: interaction.hash_endpoint %q is invalid", c.Interaction.HashEndpoint)
	}
	if c.Interaction.Timeout < 0 || c.KeyAdd.Timeout < 0 || c.HTTP.Timeout < 0 {
		return fmt.Errorf("core: timeouts must not be negative")
	}
	if c.HTTP.RequestsPerSecond < 0 || c.HTTP.Burst < 0 {
		return fmt.Errorf("core: http request pacing must not be negative")
	}
	if c.Budget.MinRateOfPay < 0 {
		return fmt.Errorf("core: budget.min_rate_of_pay must not be negative")
	}
	if c.Budget.MaxRateOfPay > 0 && c.Budget.MaxRateOfPay < c.Budget.MinRateOfPay {
		return fmt.Errorf("core: budget.max_rate_of_pay must be >= min_rate_of_pay")
	}
	return nil
}
