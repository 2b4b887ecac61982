package adapters

import (
	"slices"
	"strings"

	"github.com/smallbiznis/dairyroute/internal/payment/domain"
)

type Registry struct {
	gateways map[string]domain.Gateway
	fallback string
}

// NewRegistry indexes gateways by provider name. The first one registered is
// used when a caller does not name a provider.
func NewRegistry(gateways ...domain.Gateway) *Registry {
	registry := &Registry{gateways: map[string]domain.Gateway{}}
	for _, gateway := range gateways {
		if gateway == nil {
			continue
		}
		provider := strings.ToLower(strings.TrimSpace(gateway.Provider()))
		if provider == "" {
			continue
		}
		if registry.fallback == "" {
			registry.fallback = provider
		}
		registry.gateways[provider] = gateway
	}
	return registry
}

func (r *Registry) ProviderExists(provider string) bool {
	if r == nil {
		return false
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	_, ok := r.gateways[provider]
	return ok
}

func (r *Registry) Providers() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.gateways))
	for provider := range r.gateways {
		out = append(out, provider)
	}
	slices.Sort(out)
	return out
}

func (r *Registry) Gateway(provider string) (domain.Gateway, error) {
	if r == nil || len(r.gateways) == 0 {
		return nil, domain.ErrGatewayUnavailable
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		provider = r.fallback
	}
	gateway, ok := r.gateways[provider]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return gateway, nil
}
