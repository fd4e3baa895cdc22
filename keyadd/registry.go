package keyadd

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-paygrants/core"
)

type StepDefinition struct {
	Name        string
	MaxDuration time.Duration
}

// Provider automates adding a public key for one wallet product.
type Provider interface {
	ID() string
	// Hosts lists the authorization-server hosts the provider serves.
	Hosts() []string
	Steps() []StepDefinition
	KeyPageURL(wallet core.WalletAddress) string
	Run(ctx context.Context, session *Session) error
}

type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	hosts     map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		hosts:     make(map[string]string),
	}
}

func (r *Registry) Register(provider Provider) error {
	if provider == nil {
		return fmt.Errorf("keyadd: provider is nil")
	}
	id := strings.TrimSpace(provider.ID())
	if id == "" {
		return fmt.Errorf("keyadd: provider id is required")
	}
	hosts := make([]string, 0, len(provider.Hosts()))
	for _, host := range provider.Hosts() {
		if normalized := normalizeHost(host); normalized != "" {
			hosts = append(hosts, normalized)
		}
	}
	if len(hosts) == 0 {
		return fmt.Errorf("keyadd: provider %s serves no hosts", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[id]; exists {
		return fmt.Errorf("keyadd: provider already registered: %s", id)
	}
	for _, host := range hosts {
		if owner, taken := r.hosts[host]; taken {
			return fmt.Errorf("keyadd: host %s already served by %s", host, owner)
		}
	}
	r.providers[id] = provider
	for _, host := range hosts {
		r.hosts[host] = id
	}
	return nil
}

func (r *Registry) ForHost(host string) (Provider, bool) {
	normalized := normalizeHost(host)
	if normalized == "" {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.hosts[normalized]
	if !ok {
		return nil, false
	}
	provider, ok := r.providers[id]
	return provider, ok
}

func (r *Registry) List() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	providers := make([]Provider, 0, len(ids))
	for _, id := range ids {
		providers = append(providers, r.providers[id])
	}
	return providers
}

func normalizeHost(host string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
}
